// Package errs defines the typed error vocabulary shared by every core
// component. Callers distinguish failure modes by Code rather than by
// string matching, while Error() still produces a readable message for
// logs.
package errs

import "fmt"

// Code is a stable, machine-readable error classifier. Transports echo it
// verbatim in payment envelopes and JSON-RPC error bodies.
type Code string

const (
	MethodUnsupported  Code = "METHOD_UNSUPPORTED"
	NoSigner           Code = "NO_SIGNER"
	PermissionDenied   Code = "PERMISSION_DENIED"
	TxRejected         Code = "TX_REJECTED"
	ChainUnreachable   Code = "CHAIN_UNREACHABLE"
	EventUnparseable   Code = "EVENT_UNPARSEABLE"
	MultibaseInvalid   Code = "MULTIBASE_INVALID"
	CodecMalformed     Code = "CODEC_MALFORMED"
	InvalidSignature   Code = "INVALID_SIGNATURE"
	PaymentRequired    Code = "PAYMENT_REQUIRED"
	RavConflict        Code = "RAV_CONFLICT"
	ChannelNotFound    Code = "CHANNEL_NOT_FOUND"
	ClientTxRefMissing Code = "CLIENT_TX_REF_MISSING"
	MaxAmountExceeded  Code = "MAX_AMOUNT_EXCEEDED"
	RateNotAvailable   Code = "RATE_NOT_AVAILABLE"
	BillingConfigError Code = "BILLING_CONFIG_ERROR"
	Cancelled          Code = "CANCELLED"
	EventSchemaMismatch Code = "EVENT_SCHEMA_MISMATCH"
)

// E is the concrete error type carried across every component boundary.
type E struct {
	Code    Code
	Message string
	Cause   error
}

func (e *E) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *E) Unwrap() error { return e.Cause }

// New builds a typed error with no underlying cause.
func New(code Code, message string) *E {
	return &E{Code: code, Message: message}
}

// Wrap attaches a code and message to an underlying cause.
func Wrap(code Code, message string, cause error) *E {
	return &E{Code: code, Message: message, Cause: cause}
}

// CodeOf extracts the Code from err if it is (or wraps) an *E, otherwise
// returns the empty code.
func CodeOf(err error) Code {
	var e *E
	if asE(err, &e) {
		return e.Code
	}
	return ""
}

// asE is a tiny errors.As without importing errors for its single call
// site; kept explicit to match the package's minimal-dependency style.
func asE(err error, target **E) bool {
	for err != nil {
		if e, ok := err.(*E); ok {
			*target = e
			return true
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return false
}
