// Package memory provides in-process repository implementations for
// development and tests. Data does not survive a restart.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/ignite/waitlist-service/internal/domain"
	"github.com/ignite/waitlist-service/internal/service/waitlist"
)

// WaitlistRepo implements waitlist.Repository in memory.
type WaitlistRepo struct {
	mu      sync.RWMutex
	entries map[string]*domain.WaitlistEntry // keyed by ID
	byHash  map[string]string
}

// NewWaitlistRepo creates an empty in-memory repository.
func NewWaitlistRepo() *WaitlistRepo {
	return &WaitlistRepo{
		entries: make(map[string]*domain.WaitlistEntry),
		byHash:  make(map[string]string),
	}
}

// clone copies an entry so callers never share state with the store.
func clone(e *domain.WaitlistEntry) *domain.WaitlistEntry {
	c := *e
	if e.VerificationToken != nil {
		t := *e.VerificationToken
		c.VerificationToken = &t
	}
	return &c
}

func (r *WaitlistRepo) find(match func(*domain.WaitlistEntry) bool) (*domain.WaitlistEntry, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, e := range r.entries {
		if match(e) {
			return clone(e), nil
		}
	}
	return nil, waitlist.ErrNotFound
}

func (r *WaitlistRepo) GetByHash(_ context.Context, emailHash string) (*domain.WaitlistEntry, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	id, ok := r.byHash[emailHash]
	if !ok {
		return nil, waitlist.ErrNotFound
	}
	return clone(r.entries[id]), nil
}

func (r *WaitlistRepo) GetByVerificationToken(_ context.Context, token string) (*domain.WaitlistEntry, error) {
	return r.find(func(e *domain.WaitlistEntry) bool {
		return e.VerificationToken != nil && *e.VerificationToken == token
	})
}

func (r *WaitlistRepo) GetByUnsubscribeToken(_ context.Context, token string) (*domain.WaitlistEntry, error) {
	return r.find(func(e *domain.WaitlistEntry) bool { return e.UnsubscribeToken == token })
}

func (r *WaitlistRepo) Create(_ context.Context, e *domain.WaitlistEntry) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.byHash[e.EmailHash]; exists {
		return waitlist.ErrDuplicate
	}
	stored := clone(e)
	stored.Verified, stored.Unsubscribed = false, false
	r.entries[e.ID] = stored
	r.byHash[e.EmailHash] = e.ID
	return nil
}

func (r *WaitlistRepo) MarkVerified(_ context.Context, id string, at time.Time) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[id]
	if !ok || e.Verified || e.Unsubscribed {
		return false, nil
	}
	e.Verified = true
	e.VerifiedAt = &at
	return true, nil
}

func (r *WaitlistRepo) MarkUnsubscribed(_ context.Context, id string, at time.Time) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[id]
	if !ok || e.Unsubscribed {
		return false, nil
	}
	e.Unsubscribed = true
	e.UnsubscribedAt = &at
	return true, nil
}

func (r *WaitlistRepo) UpdateVerificationToken(_ context.Context, id, token string, sentAt time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[id]
	if !ok || e.Verified || e.Unsubscribed {
		return waitlist.ErrNotFound
	}
	e.VerificationToken = &token
	e.VerificationSentAt = &sentAt
	return nil
}

func (r *WaitlistRepo) CountVerified(_ context.Context) (int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	n := 0
	for _, e := range r.entries {
		if e.Verified && !e.Unsubscribed {
			n++
		}
	}
	return n, nil
}

func (r *WaitlistRepo) ListVerified(_ context.Context, afterID string, limit int) ([]domain.WaitlistEntry, error) {
	r.mu.RLock()
	var out []domain.WaitlistEntry
	for _, e := range r.entries {
		if e.Verified && !e.Unsubscribed && e.ID > afterID {
			out = append(out, *clone(e))
		}
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *WaitlistRepo) Ping(context.Context) error { return nil }
