package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/ignite/waitlist-service/internal/pkg/logger"
)

const (
	corsMethods = "GET, POST, OPTIONS"
	corsHeaders = "Accept, Content-Type, " + AdminKeyHeader
)

// SetupRoutes builds the router for the waitlist service.
func SetupRoutes(h *Handlers, hc *HealthChecker) *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLog)
	r.Use(middleware.Recoverer)

	origins := h.config.Server.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:     origins,
		AllowedMethods:     []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders:     []string{"Accept", "Content-Type", AdminKeyHeader},
		ExposedHeaders:     []string{"X-RateLimit-Limit", "X-RateLimit-Remaining", "Retry-After"},
		OptionsPassthrough: true,
		MaxAge:             300,
	}))
	r.Use(preflight)

	r.Get("/health", hc.HandleHealth)
	r.Get("/health/live", hc.HandleLiveness)
	r.Get("/health/ready", hc.HandleReadiness)

	r.Route("/waitlist", func(r chi.Router) {
		r.Post("/signup", h.Signup)
		r.Post("/verify", h.Verify)
		r.Get("/verify", h.VerifyPage)
		r.Post("/unsubscribe", h.Unsubscribe)
		r.Get("/unsubscribe", h.UnsubscribePage)
		r.Post("/resend-verification", h.ResendVerification)
		r.Get("/stats", h.requireAdmin(h.Stats))
		r.Post("/launch", h.requireAdmin(h.Launch))
	})

	return r
}

// preflight answers every OPTIONS request with 204 and the static CORS
// method and header lists.
func preflight(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodOptions {
			next.ServeHTTP(w, r)
			return
		}
		hdr := w.Header()
		if hdr.Get("Access-Control-Allow-Origin") == "" {
			hdr.Set("Access-Control-Allow-Origin", "*")
		}
		hdr.Set("Access-Control-Allow-Methods", corsMethods)
		hdr.Set("Access-Control-Allow-Headers", corsHeaders)
		hdr.Set("Access-Control-Max-Age", "300")
		w.WriteHeader(http.StatusNoContent)
	})
}

// requestLog writes one access line per request through the service logger.
// Only the path is logged: verify and unsubscribe links carry their token
// in the query string.
func requestLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		logger.Info("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"bytes", ww.BytesWritten(),
			"duration_ms", time.Since(start).Milliseconds(),
			"request_id", middleware.GetReqID(r.Context()),
		)
	})
}
