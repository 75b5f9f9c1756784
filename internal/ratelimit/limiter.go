// Package ratelimit throttles requests per (client identity, category) using
// fixed windows. The Redis limiter is the production backend; the in-process
// limiter serves development and tests.
package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/ignite/waitlist-service/internal/pkg/logger"
)

// Category selects an independent budget.
type Category string

const (
	CategoryEmailVerification Category = "email-verification"
	CategorySignup            Category = "signup"
	CategoryGeneral           Category = "general"
)

// Budget is a request allowance per fixed window.
type Budget struct {
	Limit  int           `yaml:"limit"`
	Window time.Duration `yaml:"window"`
}

// DefaultBudgets are used for any category not overridden in config.
var DefaultBudgets = map[Category]Budget{
	CategoryEmailVerification: {Limit: 5, Window: 15 * time.Minute},
	CategorySignup:            {Limit: 10, Window: time.Hour},
	CategoryGeneral:           {Limit: 60, Window: time.Minute},
}

// Result is the outcome of a single Allow call.
type Result struct {
	Success           bool `json:"success"`
	Limit             int  `json:"limit"`
	Remaining         int  `json:"remaining"`
	RetryAfterSeconds int  `json:"retryAfterSeconds,omitempty"`
}

// Limiter decides whether a request may proceed.
type Limiter interface {
	Allow(ctx context.Context, identity string, category Category, opts ...Option) (Result, error)
}

// ErrUnknownCategory is returned for a category with no budget.
var ErrUnknownCategory = errors.New("ratelimit: unknown category")

// Option tweaks a single Allow call.
type Option func(*allowOptions)

type allowOptions struct {
	bypassReason string
}

// WithBypass skips throttling for this call. The reason is logged; an empty
// reason is ignored.
func WithBypass(reason string) Option {
	return func(o *allowOptions) { o.bypassReason = reason }
}

func applyOptions(opts []Option) allowOptions {
	var o allowOptions
	for _, fn := range opts {
		fn(&o)
	}
	return o
}

// budgets merges overrides onto DefaultBudgets.
func budgets(overrides map[Category]Budget) map[Category]Budget {
	out := make(map[Category]Budget, len(DefaultBudgets))
	for c, b := range DefaultBudgets {
		out[c] = b
	}
	for c, b := range overrides {
		if b.Limit > 0 && b.Window > 0 {
			out[c] = b
		}
	}
	return out
}

func lookupBudget(all map[Category]Budget, category Category) (Budget, error) {
	b, ok := all[category]
	if !ok {
		return Budget{}, fmt.Errorf("%w: %s", ErrUnknownCategory, category)
	}
	return b, nil
}

func bypassed(identity string, category Category, b Budget, o allowOptions) (Result, bool) {
	if o.bypassReason == "" {
		return Result{}, false
	}
	logger.Info("rate limit bypassed", "identity", identity, "category", string(category), "reason", o.bypassReason)
	return Result{Success: true, Limit: b.Limit, Remaining: b.Limit}, true
}

// result builds a Result from a post-increment count and the time left in
// the window.
func result(b Budget, count int, ttl time.Duration) Result {
	if count <= b.Limit {
		return Result{Success: true, Limit: b.Limit, Remaining: b.Limit - count}
	}
	if ttl <= 0 {
		ttl = b.Window
	}
	return Result{
		Success:           false,
		Limit:             b.Limit,
		Remaining:         0,
		RetryAfterSeconds: int(math.Ceil(ttl.Seconds())),
	}
}
