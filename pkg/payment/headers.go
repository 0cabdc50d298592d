package payment

import (
	"context"
	"crypto/rand"
	"encoding/base32"
	"encoding/base64"
	"fmt"
	"time"

	"google.golang.org/grpc/metadata"

	"github.com/nuwa-protocol/nuwa-go/pkg/codec"
	"github.com/nuwa-protocol/nuwa-go/pkg/errs"
	"github.com/nuwa-protocol/nuwa-go/pkg/model"
)

// gRPC-metadata-style header keys, mirroring the teacher's GRPCMetadata
// idiom (pkg/payment/headers.go, paid_stategy.go's metadata.Pairs) for
// carrying payment state alongside a request independent of any one
// transport.
const (
	HeaderClientTxRef  = "nuwa-client-tx-ref"
	HeaderSignedSubRAV = "nuwa-signed-subrav"
	HeaderEnvelope     = "nuwa-payment-envelope"
)

// encodeSignedSubRAV renders a SignedSubRAV as codec.Encode's SubRAV bytes
// followed directly by the signature; decodeSignedSubRAV needs the
// expected signature length to split the two back apart.
func encodeSignedSubRAV(signed model.SignedSubRAV) []byte {
	return append(codec.Encode(signed.SubRAV), signed.Signature...)
}

func decodeSignedSubRAV(raw []byte, sigLen int) (model.SignedSubRAV, error) {
	if len(raw) < sigLen {
		return model.SignedSubRAV{}, errs.New(errs.CodecMalformed, "signed subrav header: truncated signature")
	}
	split := len(raw) - sigLen
	r, err := codec.Decode(raw[:split])
	if err != nil {
		return model.SignedSubRAV{}, err
	}
	return model.SignedSubRAV{SubRAV: r, Signature: append([]byte(nil), raw[split:]...)}, nil
}

// AttachOutgoing attaches the client tx ref and, when present, a
// base64-encoded signed SubRAV to ctx's outgoing gRPC metadata, following
// the teacher's paid_stategy.go attachMetadata shape.
func AttachOutgoing(ctx context.Context, clientTxRef string, signed *model.SignedSubRAV) context.Context {
	pairs := []string{HeaderClientTxRef, clientTxRef}
	if signed != nil {
		pairs = append(pairs, HeaderSignedSubRAV, base64.StdEncoding.EncodeToString(encodeSignedSubRAV(*signed)))
	}
	return metadata.NewOutgoingContext(ctx, metadata.Pairs(pairs...))
}

// SignedRAVFromIncoming decodes a signed SubRAV previously attached by
// AttachOutgoing from ctx's incoming gRPC metadata, if any. sigLen is the
// signature width of the key type the caller expects (64 for Ed25519, 65
// for secp256k1 recoverable signatures).
func SignedRAVFromIncoming(ctx context.Context, sigLen int) (*model.SignedSubRAV, bool) {
	md, ok := metadata.FromIncomingContext(ctx)
	if !ok {
		return nil, false
	}
	values := md.Get(HeaderSignedSubRAV)
	if len(values) == 0 {
		return nil, false
	}
	raw, err := base64.StdEncoding.DecodeString(values[0])
	if err != nil {
		return nil, false
	}
	signed, err := decodeSignedSubRAV(raw, sigLen)
	if err != nil {
		return nil, false
	}
	return &signed, true
}

// ClientTxRefFromIncoming reads the client tx ref header from ctx's
// incoming gRPC metadata, if any.
func ClientTxRefFromIncoming(ctx context.Context) (string, bool) {
	md, ok := metadata.FromIncomingContext(ctx)
	if !ok {
		return "", false
	}
	values := md.Get(HeaderClientTxRef)
	if len(values) == 0 {
		return "", false
	}
	return values[0], true
}

// NewServiceTxRef generates a server-side transaction reference of the
// form "srv-<epochMs>-<random9>" (spec §6).
func NewServiceTxRef(now time.Time) string {
	var buf [6]byte
	_, _ = rand.Read(buf[:])
	suffix := base32.StdEncoding.WithPadding(base32.NoPadding).EncodeToString(buf[:])
	if len(suffix) > 9 {
		suffix = suffix[:9]
	}
	return fmt.Sprintf("srv-%d-%s", now.UnixMilli(), suffix)
}
