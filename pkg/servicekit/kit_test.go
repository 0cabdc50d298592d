package servicekit

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"encoding/json"
	"math/big"
	"testing"
	"time"

	"github.com/nuwa-protocol/nuwa-go/pkg/billing"
	"github.com/nuwa-protocol/nuwa-go/pkg/config"
	"github.com/nuwa-protocol/nuwa-go/pkg/didcrypto"
	"github.com/nuwa-protocol/nuwa-go/pkg/model"
	"github.com/nuwa-protocol/nuwa-go/pkg/payment"
	"github.com/nuwa-protocol/nuwa-go/pkg/storage"
	"github.com/nuwa-protocol/nuwa-go/pkg/subrav"
)

type rawSigner struct{ priv []byte }

func (s rawSigner) Sign(payload []byte, _ string) ([]byte, error) {
	return didcrypto.Sign(payload, s.priv, model.Ed25519VerificationKey2020)
}

func testDocument(t *testing.T) (*model.Document, rawSigner) {
	t.Helper()
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	mb := didcrypto.EncodeMultibase(pub)
	did := "did:key:" + mb
	doc := &model.Document{
		ID: did,
		VerificationMethod: []model.VerificationMethod{
			{ID: did + "#" + mb, Type: model.Ed25519VerificationKey2020, PublicKeyMultibase: mb},
		},
	}
	return doc, rawSigner{priv: priv}
}

func newTestKit(t *testing.T, rules ...model.BillingRule) (*Kit, storage.ChannelRepo) {
	t.Helper()
	channels := storage.NewInMemoryChannelRepo()
	processor := &payment.Processor{
		Channels: channels,
		RAVs:     storage.NewInMemoryRAVRepo(),
		Pending:  storage.NewInMemoryPendingRAVRepo(),
		Matcher:  billing.New(rules...),
		Rates:    &storage.StaticRateProvider{Rate: big.NewInt(1)},
		ChainID:  4,
		Now:      func() time.Time { return time.Unix(1700000000, 0) },
	}
	env := &config.Environment{Network: config.NetworkDev, AdminDIDs: []string{"did:key:zAdmin"}}
	if err := env.Validate(); err != nil {
		t.Fatalf("validate env: %v", err)
	}
	k := New(env, processor, processor.Matcher, "svc-1", "did:rooch:service")
	return k, channels
}

func TestBuiltinDiscoveryIsFreeAndNeedsNoSignature(t *testing.T) {
	k, channels := newTestKit(t)
	ctx := context.Background()
	var channelID [32]byte
	_ = channels.SetChannel(ctx, model.Channel{ChannelID: channelID, Status: model.ChannelOpen})
	if err := k.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}

	resp, err := k.Invoke(ctx, Request{Operation: "nuwa.discovery", ClientTxRef: "c1", ChannelID: channelID, VMIDFragment: "f"})
	if err != nil {
		t.Fatalf("invoke: %v", err)
	}
	result, ok := resp.Result.(discoveryResult)
	if !ok {
		t.Fatalf("expected discoveryResult, got %T", resp.Result)
	}
	if result.ServiceDID != "did:rooch:service" {
		t.Fatalf("unexpected service did: %s", result.ServiceDID)
	}
	if resp.Envelope.Error != nil {
		t.Fatalf("expected no envelope error, got %+v", resp.Envelope.Error)
	}
}

func TestRegisterAfterStartIsRefused(t *testing.T) {
	k, _ := newTestKit(t)
	if err := k.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}
	err := k.Register(Operation{Name: "nuwa.custom", Handler: func(ctx context.Context, state *payment.RequestState, params json.RawMessage) (any, uint64, error) {
		return nil, 0, nil
	}})
	if err == nil {
		t.Fatal("expected registration after start to be refused")
	}
}

func TestAdminOperationRequiresAdminCaller(t *testing.T) {
	k, _ := newTestKit(t)
	if err := k.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}
	ctx := context.Background()
	var channelID [32]byte
	_, err := k.Invoke(ctx, Request{Operation: "nuwa.admin.status", ClientTxRef: "c1", ChannelID: channelID, VMIDFragment: "f", CallerDID: "did:key:zSomeoneElse"})
	if err == nil {
		t.Fatal("expected non-admin caller to be refused")
	}

	resp, err := k.Invoke(ctx, Request{Operation: "nuwa.admin.status", ClientTxRef: "c2", ChannelID: channelID, VMIDFragment: "f", CallerDID: "did:key:zAdmin"})
	if err != nil {
		t.Fatalf("admin invoke: %v", err)
	}
	if resp.Result == nil {
		t.Fatal("expected admin status result")
	}
}

func TestPaidOperationHandshakeThenRecovery(t *testing.T) {
	doc, signer := testDocument(t)
	fragment := doc.VerificationMethod[0].Fragment()
	var channelID [32]byte
	channelID[0] = 0x11

	k, channels := newTestKit(t, billing.FixedRule("chat.fixed", "nuwa.chat", big.NewInt(7)))
	ctx := context.Background()
	if err := channels.SetChannel(ctx, model.Channel{ChannelID: channelID, Status: model.ChannelOpen}); err != nil {
		t.Fatalf("seed channel: %v", err)
	}

	registered := k.Register(Operation{
		Name: "nuwa.chat",
		Handler: func(ctx context.Context, state *payment.RequestState, params json.RawMessage) (any, uint64, error) {
			return map[string]string{"reply": "hi"}, 0, nil
		},
	})
	if registered != nil {
		t.Fatalf("register: %v", registered)
	}
	if err := k.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}

	handshake := signRAV(t, doc, signer, model.SubRAV{ChannelID: channelID, VMIDFragment: fragment, Nonce: 0, AccumulatedAmount: big.NewInt(0)})
	resp, err := k.Invoke(ctx, Request{
		Operation: "nuwa.chat", ClientTxRef: "c1", ChannelID: channelID, VMIDFragment: fragment,
		PayerDocument: doc, SignedRAV: &handshake,
	})
	if err != nil {
		t.Fatalf("invoke chat: %v", err)
	}
	if resp.Envelope.SubRAV == nil || resp.Envelope.SubRAV.Nonce != 1 {
		t.Fatalf("expected next subrav at nonce 1, got %+v", resp.Envelope.SubRAV)
	}

	recResp, err := k.Invoke(ctx, Request{Operation: "nuwa.recovery", ClientTxRef: "c2", ChannelID: channelID, VMIDFragment: fragment})
	if err != nil {
		t.Fatalf("invoke recovery: %v", err)
	}
	snap, ok := recResp.Result.(ravSnapshot)
	if !ok {
		t.Fatalf("expected ravSnapshot, got %T", recResp.Result)
	}
	if !snap.Found || snap.Nonce != 1 {
		t.Fatalf("expected pending proposal at nonce 1, got %+v", snap)
	}
}

func TestSubravQueryReturnsLatestConfirmedRAVAndIsFree(t *testing.T) {
	doc, signer := testDocument(t)
	fragment := doc.VerificationMethod[0].Fragment()
	var channelID [32]byte
	channelID[0] = 0x22

	k, channels := newTestKit(t, billing.FixedRule("chat.fixed", "nuwa.chat", big.NewInt(7)))
	ctx := context.Background()
	if err := channels.SetChannel(ctx, model.Channel{ChannelID: channelID, Status: model.ChannelOpen}); err != nil {
		t.Fatalf("seed channel: %v", err)
	}
	if err := k.Register(Operation{
		Name: "nuwa.chat",
		Handler: func(ctx context.Context, state *payment.RequestState, params json.RawMessage) (any, uint64, error) {
			return map[string]string{"reply": "hi"}, 0, nil
		},
	}); err != nil {
		t.Fatalf("register: %v", err)
	}
	if err := k.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}

	handshake := signRAV(t, doc, signer, model.SubRAV{ChannelID: channelID, VMIDFragment: fragment, Nonce: 0, AccumulatedAmount: big.NewInt(0)})
	if _, err := k.Invoke(ctx, Request{
		Operation: "nuwa.chat", ClientTxRef: "c1", ChannelID: channelID, VMIDFragment: fragment,
		PayerDocument: doc, SignedRAV: &handshake,
	}); err != nil {
		t.Fatalf("invoke chat: %v", err)
	}

	// Query before any countersigned successor exists: the verified handshake is the latest signed RAV.
	emptyResp, err := k.Invoke(ctx, Request{Operation: "nuwa.subrav.query", ClientTxRef: "c2", ChannelID: channelID, VMIDFragment: fragment})
	if err != nil {
		t.Fatalf("invoke subrav.query (empty): %v", err)
	}
	if emptyResp.Envelope.Error != nil {
		t.Fatalf("expected nuwa.subrav.query to be free and unrestricted, got envelope error %+v", emptyResp.Envelope.Error)
	}
	emptySnap, ok := emptyResp.Result.(ravSnapshot)
	if !ok || !emptySnap.Found || emptySnap.Nonce != 0 {
		t.Fatalf("expected the handshake at nonce 0 as latest rav, got %+v", emptyResp.Result)
	}

	// Countersign the pending successor so it becomes the latest confirmed RAV.
	confirmed := signRAV(t, doc, signer, model.SubRAV{ChannelID: channelID, VMIDFragment: fragment, Nonce: 1, AccumulatedAmount: big.NewInt(7)})
	if _, err := k.Invoke(ctx, Request{
		Operation: "nuwa.commit", ClientTxRef: "c3", ChannelID: channelID, VMIDFragment: fragment,
		PayerDocument: doc, SignedRAV: &confirmed,
	}); err != nil {
		t.Fatalf("invoke commit: %v", err)
	}

	queryResp, err := k.Invoke(ctx, Request{Operation: "nuwa.subrav.query", ClientTxRef: "c4", ChannelID: channelID, VMIDFragment: fragment})
	if err != nil {
		t.Fatalf("invoke subrav.query: %v", err)
	}
	snap, ok := queryResp.Result.(ravSnapshot)
	if !ok {
		t.Fatalf("expected ravSnapshot, got %T", queryResp.Result)
	}
	if !snap.Found || snap.Nonce != 1 || snap.Amount != "7" {
		t.Fatalf("expected confirmed rav at nonce 1 amount 7, got %+v", snap)
	}
}

func signRAV(t *testing.T, doc *model.Document, signer rawSigner, r model.SubRAV) model.SignedSubRAV {
	t.Helper()
	fragment := doc.VerificationMethod[0].Fragment()
	signed, err := subrav.Sign(r, signer, fragment)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	return signed
}
