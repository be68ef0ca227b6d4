// Package server exposes an admission controller over HTTP.
//
// GET / accepts fields, page and page_size query parameters, charges the
// bucket through the controller and answers 200 with a JSON array of records
// or 429 with a plain-text explanation. Both carry the x-bucket-* headers.
package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"github.com/Sternrassler/leaky-pager/pkg/admission"
	"github.com/Sternrassler/leaky-pager/pkg/metrics"
	"github.com/Sternrassler/leaky-pager/pkg/query"
	"github.com/Sternrassler/leaky-pager/pkg/ratelimit"
)

// Admitter is the part of admission.Controller the server depends on.
type Admitter interface {
	Admit(ctx context.Context, q query.Query) (admission.Decision, error)
	Snapshot(ctx context.Context) (ratelimit.Snapshot, error)
}

// ReadinessCheck reports whether a dependency is usable.
type ReadinessCheck func(ctx context.Context) error

// Config holds HTTP server settings.
type Config struct {
	Addr            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
}

// DefaultConfig returns the reference listen address and conservative timeouts.
func DefaultConfig() Config {
	return Config{
		Addr:            "127.0.0.1:8080",
		ReadTimeout:     10 * time.Second,
		WriteTimeout:    30 * time.Second,
		ShutdownTimeout: 10 * time.Second,
	}
}

// Server is the HTTP front of an admission controller.
type Server struct {
	cfg      Config
	admitter Admitter
	logger   zerolog.Logger
	checks   map[string]ReadinessCheck
	router   chi.Router
}

// Option configures a Server.
type Option func(*Server)

// WithReadinessCheck adds a named dependency check to /ready.
func WithReadinessCheck(name string, check ReadinessCheck) Option {
	return func(s *Server) {
		s.checks[name] = check
	}
}

// New creates a Server.
func New(cfg Config, admitter Admitter, logger zerolog.Logger, opts ...Option) (*Server, error) {
	if admitter == nil {
		return nil, fmt.Errorf("admitter is required")
	}
	if cfg.Addr == "" {
		cfg.Addr = DefaultConfig().Addr
	}

	s := &Server{
		cfg:      cfg,
		admitter: admitter,
		logger:   logger,
		checks:   make(map[string]ReadinessCheck),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.router = s.routes()

	return s, nil
}

func (s *Server) routes() chi.Router {
	r := chi.NewRouter()
	r.Use(recoverer(s.logger))
	r.Use(chiMiddleware.RequestID)
	r.Use(requestLogger(s.logger))
	r.Use(metricsMiddleware())

	r.Get("/", s.handlePage)
	r.Get("/health", s.handleHealth)
	r.Get("/ready", s.handleReady)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	return r
}

// Handler returns the root HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Run listens on cfg.Addr until ctx is done, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", s.cfg.Addr, err)
	}
	return s.Serve(ctx, ln)
}

// Serve is Run on an existing listener.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:      s.router,
		ReadTimeout:  s.cfg.ReadTimeout,
		WriteTimeout: s.cfg.WriteTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info().Str("addr", ln.Addr().String()).Msg("Starting HTTP server")
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("serve http: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	s.logger.Info().Msg("Shutting down HTTP server")
	timeout := s.cfg.ShutdownTimeout
	if timeout <= 0 {
		timeout = DefaultConfig().ShutdownTimeout
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown http server: %w", err)
	}
	s.logger.Info().Msg("HTTP server stopped gracefully")
	return nil
}
