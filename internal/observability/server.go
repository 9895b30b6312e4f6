package observability

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/rafaeljc/norns/internal/config"
	"github.com/rafaeljc/norns/internal/validation"
)

// Server exposes probes and Prometheus metrics on a dedicated port,
// away from visitor traffic.
type Server struct {
	logger   *slog.Logger
	cfg      *config.ObservabilityConfig
	service  string
	version  string
	router   *chi.Mux
	server   *http.Server
	listener net.Listener
	checkers []Checker
}

// NewServer builds the observability server. Every checker is part of the readiness probe.
func NewServer(logger *slog.Logger, app *config.AppConfig, cfg *config.ObservabilityConfig, checkers ...Checker) *Server {
	validation.AssertNotNil(logger, "observability: logger")
	validation.AssertNotNil(app, "observability: app config")
	validation.AssertNotNil(cfg, "observability: config")

	s := &Server{
		logger:   logger,
		cfg:      cfg,
		service:  app.Name,
		version:  app.Version,
		router:   chi.NewRouter(),
		checkers: checkers,
	}

	s.router.Use(middleware.Recoverer, middleware.NoCache)
	s.router.Get(cfg.LivenessPath, s.liveness)
	s.router.Get(cfg.ReadinessPath, s.readiness)
	s.router.Method(http.MethodGet, cfg.MetricsPath, promhttp.Handler())

	return s
}

// Handler returns the router, for tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start binds the port and serves in a background goroutine.
// Binding errors, such as a port already in use, are returned immediately.
func (s *Server) Start() error {
	l, err := net.Listen("tcp", net.JoinHostPort("", s.cfg.Port))
	if err != nil {
		return fmt.Errorf("observability server: %w", err)
	}
	s.listener = l
	s.server = &http.Server{
		Handler:      s.router,
		ReadTimeout:  s.cfg.Timeout,
		WriteTimeout: s.cfg.Timeout,
		IdleTimeout:  3 * s.cfg.Timeout,
	}

	s.logger.Info("starting observability server",
		slog.String("addr", l.Addr().String()),
		slog.String("liveness_path", s.cfg.LivenessPath),
		slog.String("readiness_path", s.cfg.ReadinessPath),
		slog.String("metrics_path", s.cfg.MetricsPath),
	)
	go func() {
		if err := s.server.Serve(l); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("observability server failed", slog.String("error", err.Error()))
		}
	}()
	return nil
}

// Addr returns the bound address, or "" before Start.
func (s *Server) Addr() string {
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Shutdown gracefully stops the server. It is a no-op if Start was never called.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	s.logger.Info("stopping observability server")
	return s.server.Shutdown(ctx)
}
