// Package subrav implements the SubRAV Core (spec §4.7): construction,
// signing and verification of SubRAV records, and the monotonic
// progression laws enforced between a prior and next SubRAV.
package subrav

import (
	"math/big"

	"github.com/nuwa-protocol/nuwa-go/pkg/codec"
	"github.com/nuwa-protocol/nuwa-go/pkg/didcrypto"
	"github.com/nuwa-protocol/nuwa-go/pkg/errs"
	"github.com/nuwa-protocol/nuwa-go/pkg/model"
)

// Opts mirrors the fields of model.SubRAV that New fills directly; Version
// is always set to model.CurrentSubRAVVersion regardless of Opts.
type Opts struct {
	ChainID           uint64
	ChannelID         [32]byte
	ChannelEpoch      uint64
	VMIDFragment      string
	AccumulatedAmount *big.Int
	Nonce             uint64
}

// New constructs a SubRAV with the current supported version.
func New(opts Opts) model.SubRAV {
	amount := opts.AccumulatedAmount
	if amount == nil {
		amount = big.NewInt(0)
	}
	return model.SubRAV{
		Version:           model.CurrentSubRAVVersion,
		ChainID:           opts.ChainID,
		ChannelID:         opts.ChannelID,
		ChannelEpoch:      opts.ChannelEpoch,
		VMIDFragment:      opts.VMIDFragment,
		AccumulatedAmount: amount,
		Nonce:             opts.Nonce,
	}
}

// Signer produces a raw signature given the bytes to sign and a key id;
// it is deliberately narrower than chain.Signer since SubRAV signing never
// needs address derivation.
type Signer interface {
	Sign(payload []byte, keyID string) ([]byte, error)
}

// Sign produces a SignedSubRAV by signing the canonical encoding of r with
// signer under keyID.
func Sign(r model.SubRAV, signer Signer, keyID string) (model.SignedSubRAV, error) {
	sig, err := signer.Sign(codec.Encode(r), keyID)
	if err != nil {
		return model.SignedSubRAV{}, errs.Wrap(errs.InvalidSignature, "sign subrav", err)
	}
	return model.SignedSubRAV{SubRAV: r, Signature: sig}, nil
}

// Verifier is either a direct (publicKey, keyType) pair or a DID Document;
// exactly one of the two forms should be populated.
type Verifier struct {
	PublicKey []byte
	KeyType   model.KeyType
	Document  *model.Document
}

// Verify checks signed's signature. When verifier.Document is set, the
// verification method is located by concatenating the document id with
// "#" and signed.VMIDFragment, and its publicKeyMultibase is decoded to
// obtain the key. Any unknown key format, missing verification method, or
// decode failure returns false rather than an error — per spec §4.7,
// signatures are never valid by accident.
func Verify(signed model.SignedSubRAV, verifier Verifier) bool {
	publicKey, keyType, ok := resolveKey(signed, verifier)
	if !ok {
		return false
	}
	return didcrypto.Verify(codec.Encode(signed.SubRAV), signed.Signature, publicKey, keyType)
}

func resolveKey(signed model.SignedSubRAV, verifier Verifier) ([]byte, model.KeyType, bool) {
	if verifier.Document == nil {
		if verifier.PublicKey == nil {
			return nil, "", false
		}
		return verifier.PublicKey, verifier.KeyType, true
	}

	vmID := verifier.Document.ID + "#" + signed.VMIDFragment
	vm, ok := verifier.Document.FindVerificationMethod(vmID)
	if !ok {
		return nil, "", false
	}
	key, err := didcrypto.DecodeMultibase(vm.PublicKeyMultibase)
	if err != nil {
		return nil, "", false
	}
	return key, vm.Type, true
}

// CheckSuccessor enforces the three monotonicity laws of spec §4.7 between
// prev and next. cost is the USD (or asset) cost charged for the request
// that produced next; a zero cost relaxes the amount law from strict
// increase to non-decrease.
func CheckSuccessor(prev, next model.SubRAV, cost *big.Int) error {
	if next.Nonce != prev.Nonce+1 {
		return errs.New(errs.RavConflict, "nonce must increase by exactly 1")
	}
	if next.ChannelID != prev.ChannelID {
		return errs.New(errs.RavConflict, "channel id must not change")
	}
	if next.VMIDFragment != prev.VMIDFragment {
		return errs.New(errs.RavConflict, "vm id fragment must not change")
	}
	if next.ChannelEpoch != prev.ChannelEpoch {
		return errs.New(errs.RavConflict, "channel epoch must not change")
	}

	cmp := next.AccumulatedAmount.Cmp(prev.AccumulatedAmount)
	if cost != nil && cost.Sign() > 0 {
		if cmp <= 0 {
			return errs.New(errs.RavConflict, "accumulated amount must strictly increase for nonzero cost")
		}
	} else if cmp < 0 {
		return errs.New(errs.RavConflict, "accumulated amount must not decrease")
	}
	return nil
}

// IsHandshake reports whether r is the distinguished (nonce=0, amount=0)
// handshake record that opens a sub-channel.
func IsHandshake(r model.SubRAV) bool {
	return r.Nonce == 0 && r.AccumulatedAmount != nil && r.AccumulatedAmount.Sign() == 0
}
