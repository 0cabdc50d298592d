package payment

import (
	"math/big"

	"github.com/nuwa-protocol/nuwa-go/pkg/errs"
	"github.com/nuwa-protocol/nuwa-go/pkg/model"
	"github.com/nuwa-protocol/nuwa-go/pkg/subrav"
)

// Decision is the verifier's per-request outcome (spec §4.8).
type Decision string

const (
	DecisionAllow               Decision = "ALLOW"
	DecisionRequireSignature402 Decision = "REQUIRE_SIGNATURE_402"
	DecisionConflict            Decision = "CONFLICT"
	DecisionChannelNotFound     Decision = "CHANNEL_NOT_FOUND"
)

// VerifyInput bundles everything the verifier needs to reach a decision.
// Zero-value pointers mean "not present" (spec §4.8 input list).
type VerifyInput struct {
	Channel             *model.Channel
	SubChannel          *model.SubChannel
	RuleRequiresPayment bool
	PayerDocument       *model.Document
	SignedRAV           *model.SignedSubRAV
	Pending             *model.PendingProposal
	LatestSigned        *model.SignedSubRAV
}

// VerifyOutcome is the verifier's result.
type VerifyOutcome struct {
	Decision       Decision
	SignedVerified bool
	PendingMatched bool
	Err            *errs.E
}

// Verify runs the four-step decision algorithm of spec §4.8.
func Verify(in VerifyInput) VerifyOutcome {
	if in.Channel == nil {
		return VerifyOutcome{Decision: DecisionChannelNotFound, Err: errs.New(errs.ChannelNotFound, "unknown channel")}
	}

	// Step 1: a present signed RAV must verify against the payer document.
	signedVerified := false
	if in.SignedRAV != nil {
		if in.PayerDocument == nil {
			return VerifyOutcome{Decision: DecisionConflict, Err: errs.New(errs.InvalidSignature, "no payer document to verify against")}
		}
		if !subrav.Verify(*in.SignedRAV, subrav.Verifier{Document: in.PayerDocument}) {
			return VerifyOutcome{Decision: DecisionConflict, Err: errs.New(errs.InvalidSignature, "subrav signature verification failed")}
		}
		signedVerified = true
	}

	// Step 2: a pending proposal takes priority over signed-RAV history.
	if in.Pending != nil {
		if in.SignedRAV == nil {
			if in.RuleRequiresPayment {
				return VerifyOutcome{Decision: DecisionRequireSignature402, Err: errs.New(errs.PaymentRequired, "signature required for pending proposal")}
			}
			return VerifyOutcome{Decision: DecisionAllow, SignedVerified: signedVerified, PendingMatched: false}
		}

		pendingMatches := in.SignedRAV.ChannelID == in.Pending.SubRAV.ChannelID &&
			in.SignedRAV.VMIDFragment == in.Pending.SubRAV.VMIDFragment &&
			in.SignedRAV.Nonce == in.Pending.SubRAV.Nonce &&
			in.SignedRAV.AccumulatedAmount.Cmp(in.Pending.SubRAV.AccumulatedAmount) == 0
		if !pendingMatches {
			return VerifyOutcome{Decision: DecisionConflict, SignedVerified: signedVerified, Err: errs.New(errs.RavConflict, "signed rav does not match pending proposal")}
		}
		return VerifyOutcome{Decision: DecisionAllow, SignedVerified: signedVerified, PendingMatched: true}
	}

	// Step 3: no pending proposal, but a signed RAV is present.
	if in.SignedRAV != nil {
		if in.LatestSigned != nil {
			nonceOK := in.SignedRAV.Nonce > in.LatestSigned.Nonce
			amountCmp := in.SignedRAV.AccumulatedAmount.Cmp(in.LatestSigned.AccumulatedAmount)

			strictlyAhead := nonceOK && amountCmp > 0
			// Compensatory clause (spec §9 open question): a server-sent
			// in-band proposal that has not yet been persisted may arrive
			// back as nonce = prev+1 with an equal accumulated amount.
			compensatory := in.SignedRAV.Nonce == in.LatestSigned.Nonce+1 && amountCmp >= 0

			if !strictlyAhead && !compensatory {
				return VerifyOutcome{Decision: DecisionConflict, SignedVerified: signedVerified, Err: errs.New(errs.RavConflict, "signed rav does not exceed latest recorded rav")}
			}
			return VerifyOutcome{Decision: DecisionAllow, SignedVerified: signedVerified}
		}

		// A never-before-seen sub-channel defaults to (lastConfirmedNonce=0,
		// lastClaimedAmount=0). That floor alone would reject the handshake
		// record (nonce=0, amount=0), since nonce 0 can never exceed it, so
		// a handshake on an unknown sub-channel is admitted separately below.
		var lastConfirmedNonce uint64
		lastClaimedAmount := big.NewInt(0)
		if in.SubChannel != nil {
			lastConfirmedNonce = in.SubChannel.LastConfirmedNonce
			if in.SubChannel.LastClaimedAmount != nil {
				lastClaimedAmount = in.SubChannel.LastClaimedAmount
			}
		}
		if subrav.IsHandshake(*in.SignedRAV) && in.SubChannel == nil {
			return VerifyOutcome{Decision: DecisionAllow, SignedVerified: signedVerified}
		}
		nonceOK := in.SignedRAV.Nonce > lastConfirmedNonce
		amountOK := in.SignedRAV.AccumulatedAmount.Cmp(lastClaimedAmount) >= 0
		if !nonceOK || !amountOK {
			return VerifyOutcome{Decision: DecisionConflict, SignedVerified: signedVerified, Err: errs.New(errs.RavConflict, "signed rav does not exceed confirmed sub-channel state")}
		}
		return VerifyOutcome{Decision: DecisionAllow, SignedVerified: signedVerified}
	}

	// Step 4: nothing to check against.
	return VerifyOutcome{Decision: DecisionAllow}
}
