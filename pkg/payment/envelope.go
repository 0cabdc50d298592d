// Package payment implements the RAV Verifier (C8) and Payment Processor
// (C9): the per-request decision of whether a signed RAV allows access,
// and the four-stage pipeline that prices, settles and persists the
// resulting SubRAV successor.
package payment

import (
	"github.com/nuwa-protocol/nuwa-go/pkg/model"
)

// EnvelopeVersion is the only payment-envelope wire version this
// implementation produces.
const EnvelopeVersion = 1

// EnvelopeError is the typed-error shape carried inside a failed envelope.
type EnvelopeError struct {
	Code    string
	Message string
}

// Envelope is attached to every response of a billable operation (spec §6).
// Exactly one of (SubRAV set, Error set) should be populated for a settled
// request; a free route carries neither.
type Envelope struct {
	Version      int
	ClientTxRef  string
	ServiceTxRef string
	SubRAV       *model.SubRAV
	Cost         string
	CostUSD      string
	Error        *EnvelopeError
}
