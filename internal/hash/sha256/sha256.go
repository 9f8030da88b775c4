// Package sha256 provides SHA-256 hashing of encoded dumps.
package sha256

import (
	"crypto/sha256"
	"encoding/hex"
)

// Prefix tags digests so manifests stay readable if the algorithm changes.
const Prefix = "sha256:"

// Hasher implements biodumpy.Hasher using SHA-256.
type Hasher struct{}

// New returns a SHA-256 hasher.
func New() *Hasher {
	return &Hasher{}
}

// Hash hashes the input and returns a prefixed hex digest.
func (h *Hasher) Hash(data []byte) (string, error) {
	sum := sha256.Sum256(data)
	return Prefix + hex.EncodeToString(sum[:]), nil
}
