package payment

import (
	"context"
	"math/big"
	"testing"
	"time"

	"github.com/nuwa-protocol/nuwa-go/pkg/billing"
	"github.com/nuwa-protocol/nuwa-go/pkg/model"
	"github.com/nuwa-protocol/nuwa-go/pkg/storage"
)

func newTestProcessor(t *testing.T, rules ...model.BillingRule) (*Processor, storage.ChannelRepo) {
	t.Helper()
	channels := storage.NewInMemoryChannelRepo()
	p := &Processor{
		Channels: channels,
		RAVs:     storage.NewInMemoryRAVRepo(),
		Pending:  storage.NewInMemoryPendingRAVRepo(),
		Matcher:  billing.New(rules...),
		ChainID:  4,
		Now:      func() time.Time { return time.Unix(1700000000, 0) },
	}
	return p, channels
}

func TestProcessorHandshakeThenDeferredSettlement(t *testing.T) {
	doc, signer := testDocument(t)
	fragment := doc.VerificationMethod[0].Fragment()
	var channelID [32]byte
	channelID[0] = 0x42

	p, channels := newTestProcessor(t, billing.FixedRule("paid.op", "nuwa.paid", big.NewInt(5)))
	ctx := context.Background()
	if err := channels.SetChannel(ctx, model.Channel{ChannelID: channelID, Status: model.ChannelOpen}); err != nil {
		t.Fatalf("seed channel: %v", err)
	}

	// Request 1: handshake.
	handshake := sign(t, doc, signer, model.SubRAV{ChannelID: channelID, VMIDFragment: fragment, Nonce: 0, AccumulatedAmount: big.NewInt(0)})
	state1 := &RequestState{
		Operation: "nuwa.paid", ClientTxRef: "c1", ChannelID: channelID, VMIDFragment: fragment,
		PayerDocument: doc, SignedRAV: &handshake,
	}
	if err := p.PreProcess(ctx, state1); err != nil {
		t.Fatalf("preprocess 1: %v", err)
	}
	if state1.Outcome.Decision != DecisionAllow {
		t.Fatalf("expected ALLOW, got %s (%v)", state1.Outcome.Decision, state1.Outcome.Err)
	}
	if err := p.Settle(ctx, state1, 0); err != nil {
		t.Fatalf("settle 1: %v", err)
	}
	if state1.NextSubRAV == nil || state1.NextSubRAV.Nonce != 1 {
		t.Fatalf("expected next subrav at nonce 1, got %+v", state1.NextSubRAV)
	}
	if state1.NextSubRAV.AccumulatedAmount.Cmp(big.NewInt(5)) != 0 {
		t.Fatalf("expected accumulated amount 5, got %s", state1.NextSubRAV.AccumulatedAmount)
	}
	if err := p.Persist(ctx, state1); err != nil {
		t.Fatalf("persist 1: %v", err)
	}

	// Request 2: matches the pending proposal exactly.
	signed2 := sign(t, doc, signer, *state1.NextSubRAV)
	state2 := &RequestState{
		Operation: "nuwa.paid", ClientTxRef: "c2", ChannelID: channelID, VMIDFragment: fragment,
		PayerDocument: doc, SignedRAV: &signed2,
	}
	if err := p.PreProcess(ctx, state2); err != nil {
		t.Fatalf("preprocess 2: %v", err)
	}
	if state2.Outcome.Decision != DecisionAllow || !state2.Outcome.PendingMatched {
		t.Fatalf("expected ALLOW+pendingMatched, got %s pendingMatched=%v (%v)", state2.Outcome.Decision, state2.Outcome.PendingMatched, state2.Outcome.Err)
	}
	if err := p.Settle(ctx, state2, 0); err != nil {
		t.Fatalf("settle 2: %v", err)
	}
	if state2.NextSubRAV.Nonce != 2 {
		t.Fatalf("expected nonce 2, got %d", state2.NextSubRAV.Nonce)
	}
	if state2.NextSubRAV.AccumulatedAmount.Cmp(big.NewInt(10)) != 0 {
		t.Fatalf("expected accumulated amount 10, got %s", state2.NextSubRAV.AccumulatedAmount)
	}
}

func Test402WhenSignatureMissingOnPaidRule(t *testing.T) {
	doc, signer := testDocument(t)
	fragment := doc.VerificationMethod[0].Fragment()
	var channelID [32]byte
	channelID[1] = 0x7

	p, channels := newTestProcessor(t, billing.FixedRule("paid.op", "nuwa.paid", big.NewInt(5)))
	ctx := context.Background()
	_ = channels.SetChannel(ctx, model.Channel{ChannelID: channelID, Status: model.ChannelOpen})

	handshake := sign(t, doc, signer, model.SubRAV{ChannelID: channelID, VMIDFragment: fragment, Nonce: 0, AccumulatedAmount: big.NewInt(0)})
	state1 := &RequestState{Operation: "nuwa.paid", ClientTxRef: "c1", ChannelID: channelID, VMIDFragment: fragment, PayerDocument: doc, SignedRAV: &handshake}
	_ = p.PreProcess(ctx, state1)
	_ = p.Settle(ctx, state1, 0)
	_ = p.Persist(ctx, state1)

	state2 := &RequestState{Operation: "nuwa.paid", ClientTxRef: "c2", ChannelID: channelID, VMIDFragment: fragment, PayerDocument: doc}
	if err := p.PreProcess(ctx, state2); err != nil {
		t.Fatalf("preprocess: %v", err)
	}
	if state2.Outcome.Decision != DecisionRequireSignature402 {
		t.Fatalf("expected 402, got %s", state2.Outcome.Decision)
	}
	if err := p.Settle(ctx, state2, 0); err != nil {
		t.Fatalf("settle: %v", err)
	}
	if state2.Envelope.Error == nil || state2.Envelope.Error.Code != "PAYMENT_REQUIRED" {
		t.Fatalf("expected PAYMENT_REQUIRED envelope error, got %+v", state2.Envelope.Error)
	}
	if state2.Envelope.ClientTxRef != "c2" {
		t.Fatal("expected clientTxRef to be echoed even on error")
	}
}

func TestFreeRouteEmitsNoSubRAV(t *testing.T) {
	doc, _ := testDocument(t)
	var channelID [32]byte
	channelID[2] = 0x9

	p, channels := newTestProcessor(t)
	ctx := context.Background()
	_ = channels.SetChannel(ctx, model.Channel{ChannelID: channelID, Status: model.ChannelOpen})

	state := &RequestState{Operation: "nuwa.discovery", ClientTxRef: "c1", ChannelID: channelID, VMIDFragment: "f", PayerDocument: doc}
	if err := p.PreProcess(ctx, state); err != nil {
		t.Fatalf("preprocess: %v", err)
	}
	if err := p.Settle(ctx, state, 0); err != nil {
		t.Fatalf("settle: %v", err)
	}
	if state.Envelope.SubRAV != nil {
		t.Fatal("expected free route to emit no subrav")
	}
	if state.NextSubRAV != nil {
		t.Fatal("expected free route to persist nothing")
	}
}

func TestSettleRejectsMissingClientTxRef(t *testing.T) {
	p, _ := newTestProcessor(t)
	state := &RequestState{Operation: "nuwa.discovery"}
	if err := p.Settle(context.Background(), state, 0); err == nil {
		t.Fatal("expected missing clientTxRef to be rejected")
	}
}

func TestPreProcessUnknownChannel(t *testing.T) {
	p, _ := newTestProcessor(t)
	var channelID [32]byte
	state := &RequestState{Operation: "nuwa.paid", ClientTxRef: "c1", ChannelID: channelID, VMIDFragment: "f"}
	if err := p.PreProcess(context.Background(), state); err != nil {
		t.Fatalf("preprocess: %v", err)
	}
	if state.Outcome.Decision != DecisionChannelNotFound {
		t.Fatalf("expected CHANNEL_NOT_FOUND, got %s", state.Outcome.Decision)
	}
}
