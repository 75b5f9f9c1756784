package waitlist

import (
	"context"
	"time"

	"github.com/ignite/waitlist-service/internal/domain"
)

// Repository defines the data access contract for waitlist entries.
// Implementations must be safe for concurrent use.
type Repository interface {
	// GetByHash returns the entry for an email hash, or ErrNotFound.
	GetByHash(ctx context.Context, emailHash string) (*domain.WaitlistEntry, error)

	// GetByVerificationToken returns the entry currently holding token, or ErrNotFound.
	GetByVerificationToken(ctx context.Context, token string) (*domain.WaitlistEntry, error)

	// GetByUnsubscribeToken returns the entry for an unsubscribe token, or ErrNotFound.
	GetByUnsubscribeToken(ctx context.Context, token string) (*domain.WaitlistEntry, error)

	// Create inserts a new entry. Returns ErrDuplicate if the hash exists.
	Create(ctx context.Context, e *domain.WaitlistEntry) error

	// MarkVerified flips verified for an entry that is neither verified nor
	// unsubscribed. Reports whether this call made the change.
	MarkVerified(ctx context.Context, id string, at time.Time) (bool, error)

	// MarkUnsubscribed flips unsubscribed if not already set. Reports
	// whether this call made the change.
	MarkUnsubscribed(ctx context.Context, id string, at time.Time) (bool, error)

	// UpdateVerificationToken rotates the token of an entry that is neither
	// verified nor unsubscribed. Returns ErrNotFound otherwise.
	UpdateVerificationToken(ctx context.Context, id, token string, sentAt time.Time) error

	// CountVerified counts verified entries that have not unsubscribed.
	CountVerified(ctx context.Context) (int, error)

	// ListVerified pages verified, subscribed entries ordered by ID,
	// starting after afterID ("" for the first page).
	ListVerified(ctx context.Context, afterID string, limit int) ([]domain.WaitlistEntry, error)

	// Ping checks store connectivity.
	Ping(ctx context.Context) error
}
