// Package sha256 provides SHA-256 hashing for chapter fragment checksums.
package sha256

import (
	"crypto/sha256"
	"encoding/hex"
)

// Prefix tags digests with their scheme so the checksum format can evolve
// without rewriting the chapter index.
const Prefix = "sha256:"

// Hasher implements novel.Hasher using SHA-256.
type Hasher struct{}

// New returns a SHA-256 hasher.
func New() *Hasher {
	return &Hasher{}
}

// Hash hashes the input and returns a scheme-prefixed hex digest.
func (h *Hasher) Hash(data []byte) (string, error) {
	sum := sha256.Sum256(data)
	return Prefix + hex.EncodeToString(sum[:]), nil
}
