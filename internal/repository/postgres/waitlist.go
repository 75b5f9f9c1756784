package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/ignite/waitlist-service/internal/domain"
	"github.com/ignite/waitlist-service/internal/service/waitlist"
)

const uniqueViolation = "23505"

const zeroUUID = "00000000-0000-0000-0000-000000000000"

const entryColumns = `id, email_hash, email_encrypted, verification_token, unsubscribe_token,
	verified, unsubscribed, source, verification_sent_at, verified_at, unsubscribed_at, created_at`

// WaitlistRepo implements waitlist.Repository against PostgreSQL.
type WaitlistRepo struct{ db *sql.DB }

// NewWaitlistRepo creates a Postgres-backed waitlist repository.
func NewWaitlistRepo(db *sql.DB) *WaitlistRepo { return &WaitlistRepo{db: db} }

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEntry(row rowScanner) (*domain.WaitlistEntry, error) {
	var (
		e          domain.WaitlistEntry
		token      sql.NullString
		source     sql.NullString
		sentAt     sql.NullTime
		verifiedAt sql.NullTime
		unsubAt    sql.NullTime
	)
	err := row.Scan(&e.ID, &e.EmailHash, &e.EmailEncrypted, &token, &e.UnsubscribeToken,
		&e.Verified, &e.Unsubscribed, &source, &sentAt, &verifiedAt, &unsubAt, &e.CreatedAt)
	if err != nil {
		return nil, err
	}
	if token.Valid {
		e.VerificationToken = &token.String
	}
	e.Source = source.String
	e.VerificationSentAt = nullTime(sentAt)
	e.VerifiedAt = nullTime(verifiedAt)
	e.UnsubscribedAt = nullTime(unsubAt)
	return &e, nil
}

func nullTime(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	v := t.Time
	return &v
}

func (r *WaitlistRepo) getOne(ctx context.Context, where string, arg any) (*domain.WaitlistEntry, error) {
	e, err := scanEntry(r.db.QueryRowContext(ctx,
		`SELECT `+entryColumns+` FROM waitlist_entries WHERE `+where+` = $1`, arg))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, waitlist.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get waitlist entry by %s: %w", where, err)
	}
	return e, nil
}

func (r *WaitlistRepo) GetByHash(ctx context.Context, emailHash string) (*domain.WaitlistEntry, error) {
	return r.getOne(ctx, "email_hash", emailHash)
}

func (r *WaitlistRepo) GetByVerificationToken(ctx context.Context, token string) (*domain.WaitlistEntry, error) {
	return r.getOne(ctx, "verification_token", token)
}

func (r *WaitlistRepo) GetByUnsubscribeToken(ctx context.Context, token string) (*domain.WaitlistEntry, error) {
	return r.getOne(ctx, "unsubscribe_token", token)
}

func (r *WaitlistRepo) Create(ctx context.Context, e *domain.WaitlistEntry) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO waitlist_entries (id, email_hash, email_encrypted, verification_token,
			unsubscribe_token, verified, unsubscribed, source, verification_sent_at, created_at)
		VALUES ($1, $2, $3, $4, $5, false, false, $6, $7, $8)
	`, e.ID, e.EmailHash, e.EmailEncrypted, e.VerificationToken, e.UnsubscribeToken,
		e.Source, e.VerificationSentAt, e.CreatedAt)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == uniqueViolation {
			return waitlist.ErrDuplicate
		}
		return fmt.Errorf("create waitlist entry: %w", err)
	}
	return nil
}

func (r *WaitlistRepo) MarkVerified(ctx context.Context, id string, at time.Time) (bool, error) {
	res, err := r.db.ExecContext(ctx, `
		UPDATE waitlist_entries SET verified = true, verified_at = $2
		WHERE id = $1 AND verified = false AND unsubscribed = false
	`, id, at)
	if err != nil {
		return false, fmt.Errorf("mark verified: %w", err)
	}
	n, _ := res.RowsAffected()
	return n == 1, nil
}

func (r *WaitlistRepo) MarkUnsubscribed(ctx context.Context, id string, at time.Time) (bool, error) {
	res, err := r.db.ExecContext(ctx, `
		UPDATE waitlist_entries SET unsubscribed = true, unsubscribed_at = $2
		WHERE id = $1 AND unsubscribed = false
	`, id, at)
	if err != nil {
		return false, fmt.Errorf("mark unsubscribed: %w", err)
	}
	n, _ := res.RowsAffected()
	return n == 1, nil
}

func (r *WaitlistRepo) UpdateVerificationToken(ctx context.Context, id, token string, sentAt time.Time) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE waitlist_entries SET verification_token = $2, verification_sent_at = $3
		WHERE id = $1 AND verified = false AND unsubscribed = false
	`, id, token, sentAt)
	if err != nil {
		return fmt.Errorf("update verification token: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return waitlist.ErrNotFound
	}
	return nil
}

func (r *WaitlistRepo) CountVerified(ctx context.Context) (int, error) {
	var n int
	err := r.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM waitlist_entries WHERE verified = true AND unsubscribed = false`,
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count verified: %w", err)
	}
	return n, nil
}

func (r *WaitlistRepo) ListVerified(ctx context.Context, afterID string, limit int) ([]domain.WaitlistEntry, error) {
	if afterID == "" {
		afterID = zeroUUID
	}
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+entryColumns+`
		FROM waitlist_entries
		WHERE verified = true AND unsubscribed = false AND id > $1
		ORDER BY id
		LIMIT $2
	`, afterID, limit)
	if err != nil {
		return nil, fmt.Errorf("list verified: %w", err)
	}
	defer rows.Close()

	var out []domain.WaitlistEntry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("scan waitlist entry: %w", err)
		}
		out = append(out, *e)
	}
	return out, rows.Err()
}

func (r *WaitlistRepo) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}
