// Package didcrypto implements signature verify/sign over raw key material
// and the multibase key-encoding conversions used by DID Documents and
// SubRAV verification methods (spec §4.2).
package didcrypto

import (
	"github.com/mr-tron/base58"

	"github.com/nuwa-protocol/nuwa-go/pkg/errs"
)

// multibaseBase58BTCPrefix is the "z" multibase prefix for base58btc.
const multibaseBase58BTCPrefix = 'z'

// DecodeMultibase decodes a multibase string. Only the base58btc ("z…")
// encoding is supported, matching the identifiers this module produces and
// consumes (did:key public keys, on-chain publicKeyMultibase fields).
// Conversions never silently truncate: any malformed input fails fast with
// errs.MultibaseInvalid.
func DecodeMultibase(s string) ([]byte, error) {
	if len(s) < 2 || s[0] != multibaseBase58BTCPrefix {
		return nil, errs.New(errs.MultibaseInvalid, "unsupported or missing multibase prefix")
	}
	b, err := base58.Decode(s[1:])
	if err != nil {
		return nil, errs.Wrap(errs.MultibaseInvalid, "base58btc decode failed", err)
	}
	if len(b) == 0 {
		return nil, errs.New(errs.MultibaseInvalid, "empty multibase payload")
	}
	return b, nil
}

// EncodeMultibase encodes raw key bytes as a base58btc multibase string
// ("z…" prefix).
func EncodeMultibase(raw []byte) string {
	return string(multibaseBase58BTCPrefix) + base58.Encode(raw)
}
