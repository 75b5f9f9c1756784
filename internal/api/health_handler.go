package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/ignite/waitlist-service/internal/email"
	"github.com/ignite/waitlist-service/internal/pkg/httputil"
	"github.com/ignite/waitlist-service/internal/pkg/logger"
)

const (
	statusUp        = "up"
	statusDown      = "down"
	statusDegraded  = "degraded"
	healthHealthy   = "healthy"
	healthDegraded  = "degraded"
	healthUnhealthy = "unhealthy"

	// msgCheckFailed replaces the raw error in public health bodies.
	msgCheckFailed = "unavailable"
)

// HealthStatus is the body of GET /health.
type HealthStatus struct {
	Status string                    `json:"status"`
	Uptime string                    `json:"uptime"`
	Checks map[string]ComponentCheck `json:"checks"`
}

// ComponentCheck is the health of one dependency.
type ComponentCheck struct {
	Status  string `json:"status"`
	Latency string `json:"latency,omitempty"`
	Message string `json:"message,omitempty"`
}

// Pinger is satisfied by both waitlist repositories.
type Pinger interface {
	Ping(ctx context.Context) error
}

// HealthChecker checks the store, Redis and the email backend. Only the
// store is critical. A Redis-backed rate limiter is covered by the Redis
// ping.
type HealthChecker struct {
	store     Pinger
	redis     redis.UniversalClient
	sender    email.Sender
	startTime time.Time
}

// NewHealthChecker creates a HealthChecker. redisClient may be nil.
func NewHealthChecker(store Pinger, redisClient redis.UniversalClient, sender email.Sender) *HealthChecker {
	return &HealthChecker{
		store:     store,
		redis:     redisClient,
		sender:    sender,
		startTime: time.Now(),
	}
}

// HandleHealth always answers 200; the body carries the verdict.
//
//	GET /health
func (hc *HealthChecker) HandleHealth(w http.ResponseWriter, r *http.Request) {
	checks := hc.runAllChecks(r.Context())
	httputil.OK(w, HealthStatus{
		Status: overallStatus(checks),
		Uptime: time.Since(hc.startTime).Round(time.Second).String(),
		Checks: checks,
	})
}

// HandleLiveness answers 200 while the process runs.
//
//	GET /health/live
func (hc *HealthChecker) HandleLiveness(w http.ResponseWriter, r *http.Request) {
	httputil.OK(w, map[string]string{"status": "alive"})
}

// HandleReadiness answers 503 when a critical dependency is down.
//
//	GET /health/ready
func (hc *HealthChecker) HandleReadiness(w http.ResponseWriter, r *http.Request) {
	checks := hc.runAllChecks(r.Context())
	overall := overallStatus(checks)
	status := http.StatusOK
	if overall == healthUnhealthy {
		status = http.StatusServiceUnavailable
	}
	httputil.JSON(w, status, map[string]any{
		"ready":  overall != healthUnhealthy,
		"status": overall,
		"checks": checks,
	})
}

func (hc *HealthChecker) runAllChecks(ctx context.Context) map[string]ComponentCheck {
	type result struct {
		name  string
		check ComponentCheck
	}
	ch := make(chan result, 3)
	go func() { ch <- result{"store", hc.checkStore(ctx)} }()
	go func() { ch <- result{"redis", hc.checkRedis(ctx)} }()
	go func() { ch <- result{"email", hc.checkSender()} }()

	checks := make(map[string]ComponentCheck, 3)
	for i := 0; i < 3; i++ {
		r := <-ch
		checks[r.name] = r.check
	}
	return checks
}

// timed runs fn under timeout. Errors are logged, never returned in the
// body.
func timed(ctx context.Context, name string, timeout, slow time.Duration, fn func(context.Context) error) ComponentCheck {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := time.Now()
	err := fn(ctx)
	latency := time.Since(start)
	if err != nil {
		logger.Warn("health check failed", "check", name, "latency", latency.String(), "error", err.Error())
		return ComponentCheck{Status: statusDown, Latency: latency.String(), Message: msgCheckFailed}
	}
	if latency > slow {
		return ComponentCheck{Status: statusDegraded, Latency: latency.String(), Message: fmt.Sprintf("slow response (%s)", latency)}
	}
	return ComponentCheck{Status: statusUp, Latency: latency.String()}
}

func (hc *HealthChecker) checkStore(ctx context.Context) ComponentCheck {
	if hc.store == nil {
		return ComponentCheck{Status: statusDown, Message: "not configured"}
	}
	return timed(ctx, "store", 3*time.Second, time.Second, hc.store.Ping)
}

func (hc *HealthChecker) checkRedis(ctx context.Context) ComponentCheck {
	if hc.redis == nil {
		return ComponentCheck{Status: statusUp, Message: "not used"}
	}
	return timed(ctx, "redis", 2*time.Second, 500*time.Millisecond, func(ctx context.Context) error {
		return hc.redis.Ping(ctx).Err()
	})
}

func (hc *HealthChecker) checkSender() ComponentCheck {
	if hc.sender == nil || !hc.sender.IsConfigured() {
		return ComponentCheck{Status: statusDown, Message: "not configured"}
	}
	return ComponentCheck{Status: statusUp, Message: hc.sender.Name()}
}

// overallStatus is unhealthy when the store is down and degraded when any
// other check is not up.
func overallStatus(checks map[string]ComponentCheck) string {
	if checks["store"].Status == statusDown {
		return healthUnhealthy
	}
	for _, c := range checks {
		if c.Status != statusUp {
			return healthDegraded
		}
	}
	return healthHealthy
}
