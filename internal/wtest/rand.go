package wtest

import (
	"crypto/sha256"
	"math/rand/v2"
	"testing"
)

// RandomPayload returns sz bytes of pseudorandom data,
// seeded from the test name so that
// each test sees stable data distinct from other tests'.
func RandomPayload(t *testing.T, sz int) []byte {
	// The chacha8 seed is 32 bytes,
	// which a sha256 of the test name provides exactly,
	// regardless of how long the name is.
	seed := sha256.Sum256([]byte(t.Name()))
	chacha := rand.NewChaCha8(seed)

	out := make([]byte, sz)
	if _, err := chacha.Read(out); err != nil {
		panic(err)
	}
	return out
}
