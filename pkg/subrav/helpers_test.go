package subrav

import (
	"crypto/ed25519"
	"crypto/rand"
)

func generateEd25519() ([]byte, []byte) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		panic(err)
	}
	return pub, priv
}
