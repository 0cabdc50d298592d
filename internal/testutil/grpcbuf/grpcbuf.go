// Package grpcbuf provides an in-memory bufconn gRPC harness for testing
// that payment metadata actually survives a real gRPC wire round trip,
// not just in-process context plumbing. Adapted from the teacher's
// internal/testutil/grpcbuf package, with the echo service renamed to a
// ping/health probe matching this repo's nuwa.health operation.
package grpcbuf

import (
	"context"
	"net"
	"sync/atomic"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/test/bufconn"
	"google.golang.org/protobuf/types/known/emptypb"
)

const bufSize = 1024 * 1024

// MetaCapture records the most recently observed incoming metadata on the
// server side, so a test can assert on what the client actually sent.
type MetaCapture struct {
	last atomic.Value // metadata.MD
}

// Interceptor records incoming metadata and forwards the call unchanged.
func (m *MetaCapture) Interceptor(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (interface{}, error) {
	if md, ok := metadata.FromIncomingContext(ctx); ok {
		m.last.Store(md)
	}
	return handler(ctx, req)
}

// Last returns the most recently captured metadata, or nil.
func (m *MetaCapture) Last() metadata.MD {
	if v := m.last.Load(); v != nil {
		return v.(metadata.MD)
	}
	return nil
}

// PingServer is the minimal service exercised over the bufconn transport.
type PingServer interface {
	Ping(context.Context, *emptypb.Empty) (*emptypb.Empty, error)
}

type pingServer struct{ fn func(context.Context) error }

func (s *pingServer) Ping(ctx context.Context, _ *emptypb.Empty) (*emptypb.Empty, error) {
	if s.fn != nil {
		if err := s.fn(ctx); err != nil {
			return nil, err
		}
	}
	return &emptypb.Empty{}, nil
}

func _Ping_Handler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(emptypb.Empty)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(PingServer).Ping(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/nuwa.testping/Ping"}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(PingServer).Ping(ctx, req.(*emptypb.Empty))
	}
	return interceptor(ctx, in, info, handler)
}

// PingServiceDesc describes the in-memory ping service.
var PingServiceDesc = grpc.ServiceDesc{
	ServiceName: "nuwa.testping",
	HandlerType: (*PingServer)(nil),
	Methods:     []grpc.MethodDesc{{MethodName: "Ping", Handler: _Ping_Handler}},
	Streams:     []grpc.StreamDesc{},
	Metadata:    "grpcbuf",
}

// StartServer spins up a bufconn-backed gRPC server whose Ping handler
// invokes fn with the server-side context (so a test can read incoming
// metadata or call a Kit operation), with metadata capture enabled.
func StartServer(fn func(context.Context) error) (*grpc.Server, *bufconn.Listener, *MetaCapture) {
	lis := bufconn.Listen(bufSize)
	capture := &MetaCapture{}
	srv := grpc.NewServer(grpc.UnaryInterceptor(capture.Interceptor))
	srv.RegisterService(&PingServiceDesc, &pingServer{fn: fn})
	go func() { _ = srv.Serve(lis) }()
	return srv, lis, capture
}

// Dial connects to lis using the standard gRPC client stack.
func Dial(ctx context.Context, lis *bufconn.Listener, opts ...grpc.DialOption) (*grpc.ClientConn, error) {
	dialer := func(context.Context, string) (net.Conn, error) { return lis.Dial() }
	base := []grpc.DialOption{
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithContextDialer(dialer),
	}
	base = append(base, opts...)
	return grpc.NewClient("passthrough://bufnet", base...)
}
