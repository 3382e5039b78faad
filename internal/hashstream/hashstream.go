// Package hashstream wraps a streaming SHA-256 digest used to integrity-check
// every message and file payload the protocol engine sends or receives.
//
// There is no ecosystem alternative wired in here: crypto/sha256 is the
// idiomatic and only widely used SHA-256 implementation in Go, and none of
// the example repos in the retrieval pack reach for a third-party
// replacement (golang.org/x/crypto provides sha3/blake2/ripemd160, not
// sha256). See DESIGN.md for the stdlib justification.
package hashstream

import (
	"crypto/sha256"
	"hash"
)

// Size is the digest length in bytes.
const Size = sha256.Size

// Digest is a 32-byte SHA-256 digest.
type Digest = [Size]byte

// Hasher streams bytes into a running SHA-256 digest.
type Hasher struct {
	h hash.Hash
}

// New starts a fresh streaming hasher.
func New() *Hasher {
	return &Hasher{h: sha256.New()}
}

// Update feeds more bytes into the digest. Never returns an error; present
// for symmetry with the spec's update/finalize vocabulary.
func (h *Hasher) Update(p []byte) {
	h.h.Write(p) //nolint:errcheck // hash.Hash.Write never fails
}

// Finalize returns the digest of all bytes written so far. Calling Finalize
// does not reset the hasher; callers construct a new Hasher per frame.
func (h *Hasher) Finalize() Digest {
	var d Digest
	h.h.Sum(d[:0])
	return d
}

// Sum256 is a convenience one-shot digest for callers that already have the
// full payload in memory (used by tests to compute expected digests).
func Sum256(p []byte) Digest {
	return sha256.Sum256(p)
}
