package ratelimit

import (
	"context"
	"sync"
	"time"
)

// sweepInterval bounds how often Allow scans for expired windows.
const sweepInterval = time.Minute

type window struct {
	count   int
	resetAt time.Time
}

// MemoryLimiter is a single-process Limiter with the same fixed-window
// semantics as RedisLimiter.
type MemoryLimiter struct {
	mu        sync.Mutex
	windows   map[string]*window
	budgets   map[Category]Budget
	now       func() time.Time
	lastSweep time.Time
}

// NewMemoryLimiter builds an in-process limiter.
func NewMemoryLimiter(overrides map[Category]Budget) *MemoryLimiter {
	return &MemoryLimiter{
		windows: make(map[string]*window),
		budgets: budgets(overrides),
		now:     time.Now,
	}
}

// WithClock replaces the time source. Used by tests.
func (l *MemoryLimiter) WithClock(now func() time.Time) *MemoryLimiter {
	l.now = now
	return l
}

func (l *MemoryLimiter) Allow(_ context.Context, identity string, category Category, opts ...Option) (Result, error) {
	b, err := lookupBudget(l.budgets, category)
	if err != nil {
		return Result{}, err
	}
	if r, ok := bypassed(identity, category, b, applyOptions(opts)); ok {
		return r, nil
	}

	key := Key(category, identity)

	l.mu.Lock()
	now := l.now()
	if now.Sub(l.lastSweep) >= sweepInterval {
		l.sweep(now)
	}
	w, ok := l.windows[key]
	if !ok || !now.Before(w.resetAt) {
		w = &window{resetAt: now.Add(b.Window)}
		l.windows[key] = w
	}
	w.count++
	count, ttl := w.count, w.resetAt.Sub(now)
	l.mu.Unlock()

	return result(b, count, ttl), nil
}

// sweep drops expired windows. Caller holds mu.
func (l *MemoryLimiter) sweep(now time.Time) {
	l.lastSweep = now
	for k, w := range l.windows {
		if !now.Before(w.resetAt) {
			delete(l.windows, k)
		}
	}
}
