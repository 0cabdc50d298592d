package didcrypto

import (
	stded25519 "crypto/ed25519"

	gethcrypto "github.com/ethereum/go-ethereum/crypto"

	"github.com/nuwa-protocol/nuwa-go/pkg/errs"
	"github.com/nuwa-protocol/nuwa-go/pkg/model"
)

// Verify checks signature over payload using publicKey, dispatching on
// keyType. Unknown key types and malformed keys return false with no error:
// per spec §4.7, signatures are never valid by accident and verification
// never raises across the boundary — callers that need to distinguish
// "bad input" from "bad signature" should validate publicKey shape
// up-front via DecodeMultibase.
func Verify(payload, signature, publicKey []byte, keyType model.KeyType) bool {
	switch keyType {
	case model.Ed25519VerificationKey2020:
		if len(publicKey) != stded25519.PublicKeySize {
			return false
		}
		return stded25519.Verify(publicKey, payload, signature)
	case model.EcdsaSecp256k1VerificationKey2019:
		return verifySecp256k1(payload, signature, publicKey)
	default:
		return false
	}
}

// Sign produces a signature over payload using privateKey, dispatching on
// keyType.
func Sign(payload, privateKey []byte, keyType model.KeyType) ([]byte, error) {
	switch keyType {
	case model.Ed25519VerificationKey2020:
		if len(privateKey) != stded25519.PrivateKeySize {
			return nil, errs.New(errs.InvalidSignature, "ed25519 private key has wrong size")
		}
		return stded25519.Sign(stded25519.PrivateKey(privateKey), payload), nil
	case model.EcdsaSecp256k1VerificationKey2019:
		return signSecp256k1(payload, privateKey)
	default:
		return nil, errs.New(errs.InvalidSignature, "unsupported key type")
	}
}

// verifySecp256k1 verifies a 64- or 65-byte (R||S[||V]) signature over the
// Keccak256 digest of payload against a 33-byte compressed or 65-byte
// uncompressed secp256k1 public key, following the teacher's
// crypto.Sign/crypto.Keccak256 idiom (pkg/blockchain/util.go GetSignature).
func verifySecp256k1(payload, signature, publicKey []byte) bool {
	if len(signature) < 64 {
		return false
	}
	digest := gethcrypto.Keccak256(payload)
	sig := signature
	if len(sig) == 65 {
		// Drop the recovery byte; VerifySignature expects 64 bytes.
		sig = sig[:64]
	}
	pub := publicKey
	if len(pub) != 33 && len(pub) != 65 {
		return false
	}
	return gethcrypto.VerifySignature(pub, digest, sig)
}

// signSecp256k1 signs the Keccak256 digest of payload with a 32-byte raw
// ECDSA private key, returning a 65-byte (R||S||V) signature.
func signSecp256k1(payload, privateKey []byte) ([]byte, error) {
	priv, err := gethcrypto.ToECDSA(privateKey)
	if err != nil {
		return nil, errs.Wrap(errs.InvalidSignature, "invalid secp256k1 private key", err)
	}
	digest := gethcrypto.Keccak256(payload)
	sig, err := gethcrypto.Sign(digest, priv)
	if err != nil {
		return nil, errs.Wrap(errs.InvalidSignature, "secp256k1 signing failed", err)
	}
	return sig, nil
}
