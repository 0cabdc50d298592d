package servicekit

import (
	"context"
	"testing"

	"google.golang.org/grpc/metadata"
	"google.golang.org/protobuf/types/known/emptypb"

	"github.com/nuwa-protocol/nuwa-go/internal/testutil/grpcbuf"
	"github.com/nuwa-protocol/nuwa-go/pkg/model"
	"github.com/nuwa-protocol/nuwa-go/pkg/payment"
)

// TestHealthOperationOverRealGRPCTransport exercises nuwa.health as a
// handler behind an actual bufconn gRPC server, confirming a clientTxRef
// attached via payment.AttachOutgoing survives a real wire round trip and
// is readable server-side via payment.ClientTxRefFromIncoming before the
// Kit is invoked.
func TestHealthOperationOverRealGRPCTransport(t *testing.T) {
	k, channels := newTestKit(t)
	ctx := context.Background()
	var channelID [32]byte
	_ = channels.SetChannel(ctx, model.Channel{ChannelID: channelID, Status: model.ChannelOpen})
	if err := k.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}

	var observedTxRef string
	var invokeErr error
	srv, lis, capture := grpcbuf.StartServer(func(serverCtx context.Context) error {
		clientTxRef, ok := payment.ClientTxRefFromIncoming(serverCtx)
		if !ok {
			t.Error("expected clientTxRef to be present in incoming metadata")
		}
		observedTxRef = clientTxRef
		_, invokeErr = k.Invoke(serverCtx, Request{
			Operation: "nuwa.health", ClientTxRef: clientTxRef, ChannelID: channelID, VMIDFragment: "f",
		})
		return invokeErr
	})
	defer srv.Stop()

	conn, err := grpcbuf.Dial(ctx, lis)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	outCtx := metadata.AppendToOutgoingContext(ctx, payment.HeaderClientTxRef, "wire-c1")
	if err := conn.Invoke(outCtx, "/nuwa.testping/Ping", &emptypb.Empty{}, &emptypb.Empty{}); err != nil {
		t.Fatalf("ping: %v", err)
	}

	if observedTxRef != "wire-c1" {
		t.Fatalf("expected clientTxRef to survive the wire, got %q", observedTxRef)
	}
	if invokeErr != nil {
		t.Fatalf("kit invoke over transport: %v", invokeErr)
	}
	if capture.Last() == nil {
		t.Fatal("expected interceptor to capture metadata")
	}
}
