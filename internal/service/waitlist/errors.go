package waitlist

import (
	"errors"
	"fmt"

	"github.com/ignite/waitlist-service/internal/ratelimit"
)

// Sentinel errors for the repository layer.
var (
	ErrNotFound  = errors.New("waitlist entry not found")
	ErrDuplicate = errors.New("waitlist entry already exists")

	// ErrLaunchInProgress is returned when another process holds the
	// launch broadcast lock.
	ErrLaunchInProgress = errors.New("launch broadcast already in progress")
)

// ValidationError is a client mistake (400). Message is safe to show.
type ValidationError struct {
	Message string
}

func (e *ValidationError) Error() string { return e.Message }

// NotFoundError means the token or email is unknown or expired (404).
type NotFoundError struct {
	Message string
}

func (e *NotFoundError) Error() string { return e.Message }

// RateLimitedError means the caller exhausted the category budget (429).
type RateLimitedError struct {
	Result ratelimit.Result
}

func (e *RateLimitedError) Error() string {
	return fmt.Sprintf("rate limited, retry after %ds", e.Result.RetryAfterSeconds)
}

// TransportError wraps a failure talking to the store, the limiter backend
// or an email provider (500).
type TransportError struct {
	Provider string
	Err      error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("%s: %v", e.Provider, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// DecryptionError means a stored address could not be decrypted (500).
type DecryptionError struct {
	Err error
}

func (e *DecryptionError) Error() string { return "decrypt email: " + e.Err.Error() }

func (e *DecryptionError) Unwrap() error { return e.Err }

func storeError(err error) error {
	return &TransportError{Provider: "store", Err: err}
}
