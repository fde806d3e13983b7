package util

import (
	"crypto/rand"
	"encoding/hex"

	gonanoid "github.com/matoous/go-nanoid/v2"
)

// NewID returns a prefix_nanoid identifier. It falls back to random hex if the
// nanoid generator cannot read entropy.
func NewID(prefix string) string {
	id, err := gonanoid.New()
	if err != nil {
		id = RandomToken(16)
	}
	if prefix == "" {
		return id
	}
	return prefix + "_" + id
}

// RandomToken returns n random bytes hex-encoded. Used for invite, reset and
// verification tokens.
func RandomToken(n int) string {
	bytes := make([]byte, n)
	_, _ = rand.Read(bytes)
	return hex.EncodeToString(bytes)
}
