package api

import (
	"context"
	"crypto/subtle"
	"net/http"

	"github.com/ignite/waitlist-service/internal/config"
	"github.com/ignite/waitlist-service/internal/pkg/httputil"
	"github.com/ignite/waitlist-service/internal/pkg/logger"
	"github.com/ignite/waitlist-service/internal/ratelimit"
	"github.com/ignite/waitlist-service/internal/service/waitlist"
)

// AdminKeyHeader carries the shared admin secret.
const AdminKeyHeader = "X-Admin-Key"

// Lifecycle is the waitlist behaviour the handlers drive.
type Lifecycle interface {
	Signup(ctx context.Context, c waitlist.Caller, email, source string) (waitlist.Outcome, error)
	ResendVerification(ctx context.Context, c waitlist.Caller, email string) (waitlist.Outcome, error)
	VerifyByToken(ctx context.Context, c waitlist.Caller, token string) (waitlist.Outcome, error)
	Unsubscribe(ctx context.Context, c waitlist.Caller, token string) (waitlist.Outcome, error)
	Stats(ctx context.Context, c waitlist.Caller) (waitlist.Stats, error)
	NotifyLaunch(ctx context.Context, c waitlist.Caller) (waitlist.LaunchReport, error)
}

// Handlers holds the waitlist HTTP handlers.
type Handlers struct {
	svc    Lifecycle
	config *config.Config
}

// NewHandlers creates the handler set.
func NewHandlers(svc Lifecycle, cfg *config.Config) *Handlers {
	return &Handlers{svc: svc, config: cfg}
}

// response is the body of every waitlist endpoint.
type response struct {
	Success             bool   `json:"success"`
	Message             string `json:"message"`
	Email               string `json:"email,omitempty"`
	AlreadyVerified     bool   `json:"alreadyVerified,omitempty"`
	AlreadyUnsubscribed bool   `json:"alreadyUnsubscribed,omitempty"`
	RetryAfterSeconds   int    `json:"retryAfterSeconds,omitempty"`
}

type signupRequest struct {
	Email  string `json:"email"`
	Source string `json:"source,omitempty"`
}

type emailRequest struct {
	Email string `json:"email"`
}

type tokenRequest struct {
	Token string `json:"token"`
}

func (h *Handlers) caller(r *http.Request) waitlist.Caller {
	return waitlist.Caller{Identity: ratelimit.ClientIdentity(r, h.config.Server.TrustedProxyHeader)}
}

// adminCaller skips the limiter; the admin key has already been checked.
func (h *Handlers) adminCaller(r *http.Request) waitlist.Caller {
	c := h.caller(r)
	c.Bypass = "admin key"
	return c
}

func (h *Handlers) isAdmin(r *http.Request) bool {
	want := h.config.Security.AdminKey
	got := r.Header.Get(AdminKeyHeader)
	if want == "" || got == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(got), []byte(want)) == 1
}

// requireAdmin rejects requests without a valid admin key.
func (h *Handlers) requireAdmin(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !h.isAdmin(r) {
			logger.Warn("admin endpoint rejected", "path", r.URL.Path, "identity", ratelimit.ClientIdentity(r, h.config.Server.TrustedProxyHeader))
			httputil.JSON(w, http.StatusUnauthorized, response{Message: msgUnauthorized})
			return
		}
		next(w, r)
	}
}

func writeOutcome(w http.ResponseWriter, out waitlist.Outcome) {
	ratelimit.WriteHeaders(w, out.RateLimit)
	httputil.OK(w, response{
		Success:             out.Success,
		Message:             out.Message,
		Email:               out.Email,
		AlreadyVerified:     out.AlreadyVerified,
		AlreadyUnsubscribed: out.AlreadyUnsubscribed,
	})
}

func writeFailure(w http.ResponseWriter, rl ratelimit.Result, err error) {
	ratelimit.WriteHeaders(w, rl)
	status, msg := classify(err)
	body := response{Message: msg}
	if status == http.StatusTooManyRequests {
		body.RetryAfterSeconds = rl.RetryAfterSeconds
	}
	httputil.JSON(w, status, body)
}

// Signup handles POST /waitlist/signup.
func (h *Handlers) Signup(w http.ResponseWriter, r *http.Request) {
	var req signupRequest
	if err := httputil.Decode(w, r, &req); err != nil {
		httputil.JSON(w, http.StatusBadRequest, response{Message: msgBadRequest})
		return
	}
	out, err := h.svc.Signup(r.Context(), h.caller(r), req.Email, req.Source)
	if err != nil {
		writeFailure(w, out.RateLimit, err)
		return
	}
	writeOutcome(w, out)
}

// ResendVerification handles POST /waitlist/resend-verification. It needs
// the admin key, or debug resend in development.
func (h *Handlers) ResendVerification(w http.ResponseWriter, r *http.Request) {
	c := h.caller(r)
	switch {
	case h.isAdmin(r):
		c = h.adminCaller(r)
	case h.config.IsDevelopment() && h.config.Waitlist.DebugResend:
		logger.Debug("resend allowed by debug mode", "identity", c.Identity)
	default:
		httputil.JSON(w, http.StatusUnauthorized, response{Message: msgUnauthorized})
		return
	}

	var req emailRequest
	if err := httputil.Decode(w, r, &req); err != nil {
		httputil.JSON(w, http.StatusBadRequest, response{Message: msgBadRequest})
		return
	}
	out, err := h.svc.ResendVerification(r.Context(), c, req.Email)
	if err != nil {
		writeFailure(w, out.RateLimit, err)
		return
	}
	writeOutcome(w, out)
}

// Verify handles POST /waitlist/verify.
func (h *Handlers) Verify(w http.ResponseWriter, r *http.Request) {
	var req tokenRequest
	if err := httputil.Decode(w, r, &req); err != nil {
		httputil.JSON(w, http.StatusBadRequest, response{Message: msgBadRequest})
		return
	}
	out, err := h.svc.VerifyByToken(r.Context(), h.caller(r), req.Token)
	if err != nil {
		writeFailure(w, out.RateLimit, err)
		return
	}
	writeOutcome(w, out)
}

// VerifyPage handles GET /waitlist/verify?token= for links in email.
func (h *Handlers) VerifyPage(w http.ResponseWriter, r *http.Request) {
	out, err := h.svc.VerifyByToken(r.Context(), h.caller(r), r.URL.Query().Get("token"))
	ratelimit.WriteHeaders(w, out.RateLimit)
	if err != nil {
		status, msg := classify(err)
		h.renderPage(w, status, page{Title: "Verification failed", Message: msg})
		return
	}
	title := "You're on the list"
	if out.AlreadyVerified {
		title = "Already verified"
	}
	h.renderPage(w, http.StatusOK, page{Title: title, Message: out.Message, Email: out.Email, Success: true})
}

// Unsubscribe handles POST /waitlist/unsubscribe.
func (h *Handlers) Unsubscribe(w http.ResponseWriter, r *http.Request) {
	var req tokenRequest
	if err := httputil.Decode(w, r, &req); err != nil {
		httputil.JSON(w, http.StatusBadRequest, response{Message: msgBadRequest})
		return
	}
	out, err := h.svc.Unsubscribe(r.Context(), h.caller(r), req.Token)
	if err != nil {
		writeFailure(w, out.RateLimit, err)
		return
	}
	writeOutcome(w, out)
}

// UnsubscribePage handles GET /waitlist/unsubscribe?token=.
func (h *Handlers) UnsubscribePage(w http.ResponseWriter, r *http.Request) {
	out, err := h.svc.Unsubscribe(r.Context(), h.caller(r), r.URL.Query().Get("token"))
	ratelimit.WriteHeaders(w, out.RateLimit)
	if err != nil {
		status, msg := classify(err)
		h.renderPage(w, status, page{Title: "Unsubscribe failed", Message: msg})
		return
	}
	h.renderPage(w, http.StatusOK, page{Title: "Unsubscribed", Message: out.Message, Email: out.Email, Success: true})
}

// Stats handles GET /waitlist/stats (admin).
func (h *Handlers) Stats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.svc.Stats(r.Context(), h.adminCaller(r))
	if err != nil {
		writeFailure(w, stats.RateLimit, err)
		return
	}
	ratelimit.WriteHeaders(w, stats.RateLimit)
	httputil.OK(w, map[string]any{"success": true, "verified": stats.Verified})
}

// Launch handles POST /waitlist/launch (admin). The broadcast runs to
// completion even if the client goes away.
func (h *Handlers) Launch(w http.ResponseWriter, r *http.Request) {
	report, err := h.svc.NotifyLaunch(context.WithoutCancel(r.Context()), h.adminCaller(r))
	if err != nil {
		writeFailure(w, report.RateLimit, err)
		return
	}
	ratelimit.WriteHeaders(w, report.RateLimit)
	httputil.OK(w, map[string]any{
		"success": true,
		"sent":    report.Sent,
		"failed":  report.Failed,
		"skipped": report.Skipped,
	})
}
