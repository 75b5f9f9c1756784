package security

import "errors"

var (
	// ErrDecrypt is returned for tampered, truncated, mis-encoded or
	// wrong-key ciphertext.
	ErrDecrypt = errors.New("security: ciphertext could not be decrypted")

	// ErrMalformedToken is returned when a verification token does not have
	// the "{millis}.{hex}" shape.
	ErrMalformedToken = errors.New("security: malformed verification token")

	// ErrNoKey is returned when no encryption key material was supplied.
	ErrNoKey = errors.New("security: encryption key is empty")
)
