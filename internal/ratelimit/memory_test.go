package ratelimit

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

func TestMemoryLimiter_WindowSemantics(t *testing.T) {
	clock := &fakeClock{t: time.Unix(1_700_000_000, 0)}
	l := NewMemoryLimiter(map[Category]Budget{
		CategoryEmailVerification: {Limit: 5, Window: 15 * time.Minute},
	}).WithClock(clock.Now)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		r, err := l.Allow(ctx, "ip", CategoryEmailVerification)
		require.NoError(t, err)
		assert.True(t, r.Success)
	}

	clock.Advance(5 * time.Minute)
	r, err := l.Allow(ctx, "ip", CategoryEmailVerification)
	require.NoError(t, err)
	assert.False(t, r.Success)
	assert.Equal(t, 600, r.RetryAfterSeconds)

	clock.Advance(10 * time.Minute)
	r, err = l.Allow(ctx, "ip", CategoryEmailVerification)
	require.NoError(t, err)
	assert.True(t, r.Success)
	assert.Equal(t, 4, r.Remaining)
}

func TestMemoryLimiter_Concurrent(t *testing.T) {
	l := NewMemoryLimiter(map[Category]Budget{
		CategorySignup: {Limit: 10, Window: time.Hour},
	})

	var allowed int64
	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			r, _ := l.Allow(context.Background(), "ip", CategorySignup)
			if r.Success {
				atomic.AddInt64(&allowed, 1)
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, int64(10), allowed)
}

func TestMemoryLimiter_SweepsExpired(t *testing.T) {
	clock := &fakeClock{t: time.Unix(0, 0)}
	l := NewMemoryLimiter(nil).WithClock(clock.Now)
	for _, id := range []string{"a", "b", "c"} {
		_, err := l.Allow(context.Background(), id, CategoryGeneral)
		require.NoError(t, err)
	}
	clock.Advance(2 * time.Minute)
	_, err := l.Allow(context.Background(), "d", CategoryGeneral)
	require.NoError(t, err)
	assert.Len(t, l.windows, 1)
}

func TestMemoryLimiter_SweepIsPeriodic(t *testing.T) {
	clock := &fakeClock{t: time.Unix(0, 0)}
	l := NewMemoryLimiter(map[Category]Budget{
		CategoryGeneral: {Limit: 5, Window: 10 * time.Second},
	}).WithClock(clock.Now)
	ctx := context.Background()

	_, err := l.Allow(ctx, "a", CategoryGeneral)
	require.NoError(t, err)

	// Expired but inside the sweep interval: the stale window stays in
	// the map and is reset on its next use.
	clock.Advance(20 * time.Second)
	_, err = l.Allow(ctx, "b", CategoryGeneral)
	require.NoError(t, err)
	assert.Len(t, l.windows, 2)

	r, err := l.Allow(ctx, "a", CategoryGeneral)
	require.NoError(t, err)
	assert.Equal(t, 4, r.Remaining, "an expired window must start fresh")

	clock.Advance(sweepInterval)
	_, err = l.Allow(ctx, "c", CategoryGeneral)
	require.NoError(t, err)
	assert.Len(t, l.windows, 1)
}

func TestDefaultBudgets(t *testing.T) {
	assert.Equal(t, Budget{Limit: 5, Window: 15 * time.Minute}, DefaultBudgets[CategoryEmailVerification])
	assert.Equal(t, Budget{Limit: 10, Window: time.Hour}, DefaultBudgets[CategorySignup])
	assert.Equal(t, Budget{Limit: 60, Window: time.Minute}, DefaultBudgets[CategoryGeneral])
}
