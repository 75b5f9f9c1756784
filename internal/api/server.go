package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/ignite/waitlist-service/internal/config"
	"github.com/ignite/waitlist-service/internal/pkg/logger"
)

// Server is the waitlist HTTP server.
type Server struct {
	handler http.Handler
	server  *http.Server
}

// NewServer wires the handlers into a router.
func NewServer(cfg *config.Config, svc Lifecycle, hc *HealthChecker) *Server {
	handler := SetupRoutes(NewHandlers(svc, cfg), hc)
	return &Server{
		handler: handler,
		server: &http.Server{
			Addr:              cfg.Server.Addr(),
			Handler:           handler,
			ReadTimeout:       15 * time.Second,
			ReadHeaderTimeout: 5 * time.Second,
			WriteTimeout:      10 * time.Minute, // launch broadcasts answer when done
			IdleTimeout:       120 * time.Second,
		},
	}
}

// ListenAndServe blocks until the server stops. A graceful Shutdown is not
// reported as an error.
func (s *Server) ListenAndServe() error {
	logger.Info("http server listening", "addr", s.server.Addr)
	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

// Handler returns the router, for tests.
func (s *Server) Handler() http.Handler {
	return s.handler
}
