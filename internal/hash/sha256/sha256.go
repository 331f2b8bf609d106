// Package sha256 names archived API payloads by their SHA-256 digest.
package sha256

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// Hasher implements collector.Hasher. A positive length truncates the hex
// digest, which keeps archive object names short.
type Hasher struct {
	length int
}

// New returns a hasher producing full 64-character digests.
func New() *Hasher {
	return &Hasher{}
}

// NewTruncated returns a hasher producing the first length hex characters.
func NewTruncated(length int) (*Hasher, error) {
	if length <= 0 || length > sha256.Size*2 {
		return nil, fmt.Errorf("digest length must be between 1 and %d, got %d", sha256.Size*2, length)
	}
	return &Hasher{length: length}, nil
}

// Hash returns the hex digest of data.
func (h *Hasher) Hash(data []byte) (string, error) {
	sum := sha256.Sum256(data)
	digest := hex.EncodeToString(sum[:])
	if h.length > 0 {
		digest = digest[:h.length]
	}
	return digest, nil
}
