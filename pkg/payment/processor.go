package payment

import (
	"context"
	"math/big"
	"time"

	"go.uber.org/zap"

	"github.com/nuwa-protocol/nuwa-go/pkg/billing"
	"github.com/nuwa-protocol/nuwa-go/pkg/errs"
	"github.com/nuwa-protocol/nuwa-go/pkg/model"
	"github.com/nuwa-protocol/nuwa-go/pkg/storage"
	"github.com/nuwa-protocol/nuwa-go/pkg/subrav"
)

// ClaimTrigger is the external hand-off invoked after a successful
// signed-RAV acceptance (spec §4.9); its failure is logged but never
// fails the request.
type ClaimTrigger interface {
	Trigger(ctx context.Context, channelID [32]byte, vmIDFragment string) error
}

// Processor implements the four-stage Payment Processor (C9).
type Processor struct {
	Channels     storage.ChannelRepo
	RAVs         storage.RAVRepo
	Pending      storage.PendingRAVRepo
	Rates        storage.RateProvider
	Matcher      *billing.Matcher
	ClaimTrigger ClaimTrigger
	ChainID      uint64
	MaxAmount    *big.Int // nil means unlimited
	Now          func() time.Time
}

func (p *Processor) now() time.Time {
	if p.Now != nil {
		return p.Now()
	}
	return time.Now()
}

// RequestState threads request-scoped fields through the four stages.
type RequestState struct {
	Operation     string
	ClientTxRef   string
	ServiceTxRef  string
	ChannelID     [32]byte
	VMIDFragment  string
	AssetID       string
	PayerDocument *model.Document
	SignedRAV     *model.SignedSubRAV

	Outcome VerifyOutcome
	Rate    *big.Int // pico-USD per asset base unit, nil if AssetID is unset
	Rule    model.BillingRule

	NextSubRAV *model.SubRAV
	Envelope   Envelope
}

// PreProcess verifies any supplied signed RAV against pending/history
// priority (§4.8), persists it on success, and prefetches the asset rate.
// Verification outcomes (conflicts, an unknown channel) are recorded in
// state.Outcome so Settle can emit a typed-error envelope; an operation
// whose rule is free proceeds without a known channel. Storage failures
// and a failed rate prefetch are returned as errors and are not recorded
// in state.
func (p *Processor) PreProcess(ctx context.Context, state *RequestState) error {
	channel, found, err := p.Channels.GetChannel(ctx, state.ChannelID)
	if err != nil {
		return errs.Wrap(errs.ChainUnreachable, "load channel", err)
	}
	if !found {
		if rule, ok := p.Matcher.Match(state.Operation); ok && !rule.PaymentRequired {
			state.Rule = rule
			state.Outcome = VerifyOutcome{Decision: DecisionAllow}
			return nil
		}
		state.Outcome = VerifyOutcome{Decision: DecisionChannelNotFound, Err: errs.New(errs.ChannelNotFound, "unknown channel")}
		return nil
	}

	subChannel, scFound, err := p.Channels.GetSubChannel(ctx, state.ChannelID, state.VMIDFragment)
	if err != nil {
		return errs.Wrap(errs.ChainUnreachable, "load sub-channel", err)
	}

	pending, pendingFound, err := p.Pending.FindLatestBySubChannel(ctx, state.ChannelID, state.VMIDFragment)
	if err != nil {
		return errs.Wrap(errs.ChainUnreachable, "load pending proposal", err)
	}
	latest, latestFound, err := p.RAVs.GetLatest(ctx, state.ChannelID, state.VMIDFragment)
	if err != nil {
		return errs.Wrap(errs.ChainUnreachable, "load latest signed rav", err)
	}

	rule, _ := p.Matcher.Match(state.Operation)

	in := VerifyInput{
		Channel:             &channel,
		RuleRequiresPayment: rule.PaymentRequired,
		PayerDocument:        state.PayerDocument,
		SignedRAV:            state.SignedRAV,
	}
	if scFound {
		in.SubChannel = &subChannel
	}
	if pendingFound {
		in.Pending = &pending
	}
	if latestFound {
		in.LatestSigned = &latest
	}

	state.Outcome = Verify(in)
	state.Rule = rule

	if state.Outcome.SignedVerified && state.SignedRAV != nil {
		if err := p.RAVs.SaveLatest(ctx, *state.SignedRAV); err != nil {
			return errs.Wrap(errs.ChainUnreachable, "persist signed rav", err)
		}
		if pendingFound {
			_ = p.Pending.Remove(ctx, state.ChannelID, state.VMIDFragment, pending.SubRAV.Nonce)
		}
		p.triggerClaim(ctx, state.ChannelID, state.VMIDFragment)
	}

	if state.AssetID != "" && p.Rates != nil {
		rate, err := p.Rates.RateFor(ctx, state.AssetID)
		if err != nil {
			return errs.Wrap(errs.RateNotAvailable, "prefetch rate for "+state.AssetID, err)
		}
		state.Rate = rate
	}

	return nil
}

func (p *Processor) triggerClaim(ctx context.Context, channelID [32]byte, vmIDFragment string) {
	if p.ClaimTrigger == nil {
		return
	}
	if err := p.ClaimTrigger.Trigger(ctx, channelID, vmIDFragment); err != nil {
		zap.L().Warn("claim trigger failed", zap.Error(err))
	}
}

// ClaimTriggerFor invokes the configured ClaimTrigger directly and
// propagates its error, for admin-initiated claim requests where the
// caller wants to observe the outcome rather than have it only logged.
func (p *Processor) ClaimTriggerFor(ctx context.Context, channelID [32]byte, vmIDFragment string) error {
	if p.ClaimTrigger == nil {
		return errs.New(errs.BillingConfigError, "no claim trigger configured")
	}
	return p.ClaimTrigger.Trigger(ctx, channelID, vmIDFragment)
}

// Settle prices the request and builds the envelope for the response.
// units is ignored for fixed-price and free rules.
func (p *Processor) Settle(_ context.Context, state *RequestState, units uint64) error {
	if state.ClientTxRef == "" {
		return errs.New(errs.ClientTxRefMissing, "request carries no clientTxRef")
	}
	state.ServiceTxRef = NewServiceTxRef(p.now())

	if state.Outcome.Decision != DecisionAllow {
		state.Envelope = Envelope{
			Version:      EnvelopeVersion,
			ClientTxRef:  state.ClientTxRef,
			ServiceTxRef: state.ServiceTxRef,
			Error:        envelopeErrorFrom(state.Outcome.Err),
		}
		return nil
	}

	cost, rule, err := p.Matcher.Evaluate(state.Operation, units)
	if err != nil {
		return p.settleError(state, err)
	}
	state.Rule = rule

	if !rule.PaymentRequired {
		if cost.USDCost.Sign() != 0 {
			return p.settleError(state, errs.New(errs.BillingConfigError, "free rule "+rule.ID+" produced nonzero cost"))
		}
		state.Envelope = Envelope{Version: EnvelopeVersion, ClientTxRef: state.ClientTxRef, ServiceTxRef: state.ServiceTxRef}
		return nil
	}

	assetCost := cost.USDCost
	if state.AssetID != "" {
		if state.Rate == nil || state.Rate.Sign() == 0 {
			return p.settleError(state, errs.New(errs.RateNotAvailable, "no rate available for "+state.AssetID))
		}
		assetCost = new(big.Int).Div(cost.USDCost, state.Rate)
		cost.AssetCost = assetCost
	}

	if p.MaxAmount != nil && assetCost.Cmp(p.MaxAmount) > 0 {
		return p.settleError(state, errs.New(errs.MaxAmountExceeded, "settled cost exceeds configured ceiling"))
	}

	next := p.buildSuccessor(state, assetCost)
	if err := subrav.CheckSuccessor(predecessorOf(state), next, assetCost); err != nil {
		return p.settleError(state, err)
	}
	state.NextSubRAV = &next

	state.Envelope = Envelope{
		Version:      EnvelopeVersion,
		ClientTxRef:  state.ClientTxRef,
		ServiceTxRef: state.ServiceTxRef,
		SubRAV:       &next,
		Cost:         assetCost.String(),
		CostUSD:      billing.FormatUSD(cost.USDCost),
	}
	return nil
}

// predecessorOf returns the SubRAV the next record succeeds: the
// just-verified signed RAV when present, otherwise a synthetic handshake
// at nonce/amount zero for a brand-new sub-channel.
func predecessorOf(state *RequestState) model.SubRAV {
	if state.SignedRAV != nil {
		return state.SignedRAV.SubRAV
	}
	return model.SubRAV{ChannelID: state.ChannelID, VMIDFragment: state.VMIDFragment, Nonce: 0, AccumulatedAmount: big.NewInt(0)}
}

func (p *Processor) buildSuccessor(state *RequestState, cost *big.Int) model.SubRAV {
	prev := predecessorOf(state)
	amount := new(big.Int).Add(prev.AccumulatedAmount, cost)
	return subrav.New(subrav.Opts{
		ChainID:           p.ChainID,
		ChannelID:         state.ChannelID,
		ChannelEpoch:      prev.ChannelEpoch,
		VMIDFragment:      state.VMIDFragment,
		AccumulatedAmount: amount,
		Nonce:             prev.Nonce + 1,
	})
}

// Persist saves the newly built unsigned SubRAV as the next pending
// proposal. A free route or a non-ALLOW decision has nothing to persist.
func (p *Processor) Persist(ctx context.Context, state *RequestState) error {
	if state.NextSubRAV == nil {
		return nil
	}
	proposal := model.PendingProposal{SubRAV: *state.NextSubRAV, CreatedAt: p.now()}
	if err := p.Pending.Save(ctx, proposal); err != nil {
		return errs.Wrap(errs.ChainUnreachable, "persist pending proposal", err)
	}
	return nil
}

// settleError builds an error envelope carrying the typed failure code and
// the echoed clientTxRef/serviceTxRef, so a billable-operation failure
// always surfaces through the normal envelope channel instead of an error
// return that would let a caller drop the clientTxRef (spec §7).
func (p *Processor) settleError(state *RequestState, err error) error {
	typed, _ := err.(*errs.E)
	state.Envelope = Envelope{
		Version:      EnvelopeVersion,
		ClientTxRef:  state.ClientTxRef,
		ServiceTxRef: state.ServiceTxRef,
		Error:        envelopeErrorFrom(typed),
	}
	return nil
}

func envelopeErrorFrom(e *errs.E) *EnvelopeError {
	if e == nil {
		return nil
	}
	return &EnvelopeError{Code: string(e.Code), Message: e.Message}
}
