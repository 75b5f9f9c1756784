package security

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// NormalizeEmail trims surrounding whitespace and lowercases the address.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// Hasher produces the dedup fingerprint for an email. The pepper is optional
// and must stay stable for the life of the data set.
type Hasher struct {
	pepper []byte
}

// NewHasher returns a Hasher using the given pepper (may be empty).
func NewHasher(pepper string) *Hasher {
	return &Hasher{pepper: []byte(pepper)}
}

// HashEmail returns hex(sha256(pepper || normalized email)).
func (h *Hasher) HashEmail(email string) string {
	sum := sha256.New()
	sum.Write(h.pepper)
	sum.Write([]byte(NormalizeEmail(email)))
	return hex.EncodeToString(sum.Sum(nil))
}

// HashEmail hashes without a pepper.
func HashEmail(email string) string {
	return NewHasher("").HashEmail(email)
}
