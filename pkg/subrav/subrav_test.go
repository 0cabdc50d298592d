package subrav

import (
	"math/big"
	"testing"

	"github.com/nuwa-protocol/nuwa-go/pkg/didcrypto"
	"github.com/nuwa-protocol/nuwa-go/pkg/model"
)

type rawSigner struct {
	privateKey []byte
	keyType    model.KeyType
}

func (s rawSigner) Sign(payload []byte, _ string) ([]byte, error) {
	return didcrypto.Sign(payload, s.privateKey, s.keyType)
}

func mustEd25519() ([]byte, []byte) {
	pub, priv := generateEd25519()
	return pub, priv
}

func TestSignAndVerifyDirectKey(t *testing.T) {
	pub, priv := mustEd25519()
	r := New(Opts{VMIDFragment: "key-1", Nonce: 1, AccumulatedAmount: big.NewInt(5)})

	signed, err := Sign(r, rawSigner{privateKey: priv, keyType: model.Ed25519VerificationKey2020}, "key-1")
	if err != nil {
		t.Fatalf("sign: %v", err)
	}

	if !Verify(signed, Verifier{PublicKey: pub, KeyType: model.Ed25519VerificationKey2020}) {
		t.Fatal("expected signature to verify")
	}
}

func TestVerifyViaDocument(t *testing.T) {
	pub, priv := mustEd25519()
	mb := didcrypto.EncodeMultibase(pub)
	doc := &model.Document{
		ID: "did:key:" + mb,
		VerificationMethod: []model.VerificationMethod{
			{ID: "did:key:" + mb + "#" + mb, Type: model.Ed25519VerificationKey2020, PublicKeyMultibase: mb},
		},
	}

	r := New(Opts{VMIDFragment: mb, Nonce: 1, AccumulatedAmount: big.NewInt(1)})
	signed, err := Sign(r, rawSigner{privateKey: priv, keyType: model.Ed25519VerificationKey2020}, mb)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}

	if !Verify(signed, Verifier{Document: doc}) {
		t.Fatal("expected document-based verification to succeed")
	}

	signed.VMIDFragment = "unknown-fragment"
	if Verify(signed, Verifier{Document: doc}) {
		t.Fatal("expected verification to fail for unknown fragment")
	}
}

func TestCheckSuccessorLaws(t *testing.T) {
	var cid [32]byte
	prev := model.SubRAV{ChannelID: cid, VMIDFragment: "f", ChannelEpoch: 1, Nonce: 1, AccumulatedAmount: big.NewInt(100)}

	ok := prev
	ok.Nonce = 2
	ok.AccumulatedAmount = big.NewInt(150)
	if err := CheckSuccessor(prev, ok, big.NewInt(50)); err != nil {
		t.Fatalf("expected valid successor, got %v", err)
	}

	free := prev
	free.Nonce = 2
	free.AccumulatedAmount = big.NewInt(100)
	if err := CheckSuccessor(prev, free, big.NewInt(0)); err != nil {
		t.Fatalf("expected valid zero-cost successor, got %v", err)
	}

	badNonce := prev
	badNonce.Nonce = 3
	badNonce.AccumulatedAmount = big.NewInt(150)
	if err := CheckSuccessor(prev, badNonce, big.NewInt(50)); err == nil {
		t.Fatal("expected nonce-skip to be rejected")
	}

	badAmount := prev
	badAmount.Nonce = 2
	badAmount.AccumulatedAmount = big.NewInt(100)
	if err := CheckSuccessor(prev, badAmount, big.NewInt(50)); err == nil {
		t.Fatal("expected non-increasing amount with nonzero cost to be rejected")
	}
}

func TestIsHandshake(t *testing.T) {
	h := model.SubRAV{Nonce: 0, AccumulatedAmount: big.NewInt(0)}
	if !IsHandshake(h) {
		t.Fatal("expected handshake record to be recognized")
	}
	nh := model.SubRAV{Nonce: 1, AccumulatedAmount: big.NewInt(0)}
	if IsHandshake(nh) {
		t.Fatal("non-zero nonce must not be a handshake")
	}
}
