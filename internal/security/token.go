package security

import (
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"
	"time"
)

const (
	verificationRandomBytes = 16
	unsubscribeRandomBytes  = 32

	// MaxClockSkew is how far in the future an embedded timestamp may be
	// before the token is treated as stale.
	MaxClockSkew = time.Minute

	// MaxTokenLength bounds tokens accepted from clients.
	MaxTokenLength = 128
)

// GenerateVerificationToken returns "{unix-millis}.{32 hex chars}".
//
// The timestamp is plaintext and not bound to the random part. It is a
// freshness hint; existence in the store is what makes a token valid.
func GenerateVerificationToken(now time.Time) string {
	b := make([]byte, verificationRandomBytes)
	mustRead(b)
	return strconv.FormatInt(now.UnixMilli(), 10) + "." + hex.EncodeToString(b)
}

// ParseVerificationToken checks the token shape and returns its embedded
// issue time.
func ParseVerificationToken(token string) (time.Time, error) {
	if token == "" || len(token) > MaxTokenLength {
		return time.Time{}, ErrMalformedToken
	}
	ts, random, ok := strings.Cut(token, ".")
	if !ok || ts == "" || len(random) != 2*verificationRandomBytes {
		return time.Time{}, ErrMalformedToken
	}
	if _, err := hex.DecodeString(random); err != nil {
		return time.Time{}, ErrMalformedToken
	}
	millis, err := strconv.ParseInt(ts, 10, 64)
	if err != nil || millis <= 0 {
		return time.Time{}, ErrMalformedToken
	}
	return time.UnixMilli(millis), nil
}

// VerificationTokenFresh reports whether the token's embedded timestamp is
// within ttl of now. The boundary is inclusive: age == ttl is still fresh,
// age > ttl is expired. Malformed tokens are never fresh.
func VerificationTokenFresh(token string, now time.Time, ttl time.Duration) bool {
	issued, err := ParseVerificationToken(token)
	if err != nil {
		return false
	}
	age := now.Sub(issued)
	if age < -MaxClockSkew {
		return false
	}
	return age <= ttl
}

// GenerateUnsubscribeToken returns 32 random bytes, base64url without
// padding. Issued once per entry and never rotated.
func GenerateUnsubscribeToken() string {
	b := make([]byte, unsubscribeRandomBytes)
	mustRead(b)
	return base64.RawURLEncoding.EncodeToString(b)
}

// ValidUnsubscribeToken is a cheap shape check before hitting the store.
func ValidUnsubscribeToken(token string) bool {
	if token == "" || len(token) > MaxTokenLength {
		return false
	}
	_, err := base64.RawURLEncoding.DecodeString(token)
	return err == nil
}

func mustRead(b []byte) {
	if _, err := rand.Read(b); err != nil {
		panic(fmt.Sprintf("security: crypto/rand failed: %v", err))
	}
}
