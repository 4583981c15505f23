package ftest

import (
	"crypto/sha256"
	"math/rand/v2"
	"testing"
)

// Payload returns a byte slice of size sz containing pseudorandom data,
// derived from a seed based on the test name,
// so that a given test always observes the same packet contents.
func Payload(t *testing.T, sz int) []byte {
	t.Helper()

	// Sha256 output happens to be the right size for the chacha8 seed,
	// and it means we are not limited by
	// the length of any particular test name.
	seed := sha256.Sum256([]byte(t.Name()))
	chacha := rand.NewChaCha8(seed)

	out := make([]byte, sz)
	if _, err := chacha.Read(out); err != nil {
		panic(err)
	}

	return out
}
