package hash

import (
	"crypto/sha256"
	"fmt"
)

type Hash struct {
	data []byte
}

func NewHash(data []byte) Hash {
	return Hash{data: data}
}

func (h Hash) ComputeHash() string {
	hash := sha256.Sum256(h.data)
	return fmt.Sprintf("%x", hash)
}

// Short returns the first n hex characters of the digest.
func (h Hash) Short(n int) string {
	full := h.ComputeHash()
	if n <= 0 || n >= len(full) {
		return full
	}
	return full[:n]
}
