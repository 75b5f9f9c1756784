package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// KeyPrefix namespaces limiter counters in a shared Redis.
const KeyPrefix = "waitlist:ratelimit"

// Atomic fixed-window increment. The window starts on the first hit.
// Returns {count, pttl_ms}.
const incrWindowLuaScript = `
local key = KEYS[1]
local windowMs = tonumber(ARGV[1])

local count = redis.call("INCR", key)
if count == 1 then
    redis.call("PEXPIRE", key, windowMs)
end

local ttl = redis.call("PTTL", key)
if ttl < 0 then
    redis.call("PEXPIRE", key, windowMs)
    ttl = windowMs
end

return {count, ttl}
`

// RedisLimiter is a Limiter shared across processes through Redis.
type RedisLimiter struct {
	client  redis.Scripter
	script  *redis.Script
	budgets map[Category]Budget
}

// NewRedisLimiter builds a limiter. Zero-value overrides fall back to
// DefaultBudgets.
func NewRedisLimiter(client redis.Scripter, overrides map[Category]Budget) *RedisLimiter {
	return &RedisLimiter{
		client:  client,
		script:  redis.NewScript(incrWindowLuaScript),
		budgets: budgets(overrides),
	}
}

// Key returns the Redis key for an identity and category.
func Key(category Category, identity string) string {
	return fmt.Sprintf("%s:%s:%s", KeyPrefix, category, identity)
}

// Allow increments the counter and reports whether the request fits the
// budget. Redis failures are returned, never treated as allowed.
func (l *RedisLimiter) Allow(ctx context.Context, identity string, category Category, opts ...Option) (Result, error) {
	b, err := lookupBudget(l.budgets, category)
	if err != nil {
		return Result{}, err
	}
	if r, ok := bypassed(identity, category, b, applyOptions(opts)); ok {
		return r, nil
	}

	vals, err := l.script.Run(ctx, l.client, []string{Key(category, identity)}, b.Window.Milliseconds()).Int64Slice()
	if err != nil {
		return Result{}, fmt.Errorf("ratelimit: redis: %w", err)
	}
	if len(vals) != 2 {
		return Result{}, fmt.Errorf("ratelimit: unexpected script result %v", vals)
	}
	return result(b, int(vals[0]), time.Duration(vals[1])*time.Millisecond), nil
}
