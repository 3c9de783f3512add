// Copyright (c) 2025 Jeremy Hahn
// Copyright (c) 2025 Automate The Things, LLC
//
// This file is part of go-biokey.
//
// go-biokey is dual-licensed:
//
// 1. GNU Affero General Public License v3.0 (AGPL-3.0)
//    See LICENSE file or visit https://www.gnu.org/licenses/agpl-3.0.html
//
// 2. Commercial License
//    Contact licensing@automatethethings.com for commercial licensing options.

package rest

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/jeremyhahn/go-biokey/pkg/adapters/logger"
	"github.com/jeremyhahn/go-biokey/pkg/health"
	"github.com/jeremyhahn/go-biokey/pkg/metrics"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const (
	DefaultAddr        = "127.0.0.1:9464"
	DefaultMetricsPath = "/metrics"
)

var ErrServerStarted = errors.New("server already started")

// Server is the operations listener.
type Server struct {
	mu       sync.Mutex
	server   *http.Server
	listener net.Listener
	router   *chi.Mux
	checker  *health.Checker
	status   StatusFunc
	version  string
	logger   logger.Logger
}

// Config contains the operations listener configuration.
type Config struct {
	// Addr is the listen address. Defaults to DefaultAddr.
	Addr string

	// Checker runs the health probes. A checker with no registered checks
	// is created when nil.
	Checker *health.Checker

	// Status reports the session state. /api/v1/status answers 503 when nil.
	Status StatusFunc

	// MetricsPath is where Prometheus metrics are served. Metrics are not
	// served when DisableMetrics is set.
	MetricsPath    string
	DisableMetrics bool

	Version string
	Logger  logger.Logger

	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
}

// NewServer creates an operations listener. The socket is not opened until
// Start is called.
func NewServer(cfg *Config) (*Server, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is required")
	}
	if cfg.Addr == "" {
		cfg.Addr = DefaultAddr
	}
	if cfg.MetricsPath == "" {
		cfg.MetricsPath = DefaultMetricsPath
	}
	if cfg.Version == "" {
		cfg.Version = "dev"
	}
	if cfg.ReadTimeout == 0 {
		cfg.ReadTimeout = 15 * time.Second
	}
	if cfg.WriteTimeout == 0 {
		cfg.WriteTimeout = 15 * time.Second
	}
	if cfg.IdleTimeout == 0 {
		cfg.IdleTimeout = 60 * time.Second
	}

	checker := cfg.Checker
	if checker == nil {
		checker = health.NewChecker()
	}
	log := cfg.Logger
	if log == nil {
		log = logger.Discard()
	}

	s := &Server{
		checker: checker,
		status:  cfg.Status,
		version: cfg.Version,
		logger:  log.With(logger.String("component", "rest")),
	}
	s.router = s.setupRouter(cfg)
	s.server = &http.Server{
		Addr:         cfg.Addr,
		Handler:      s.router,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}
	return s, nil
}

func (s *Server) setupRouter(cfg *Config) *chi.Mux {
	r := chi.NewRouter()

	r.Use(s.RecoveryMiddleware())
	r.Use(s.CorrelationMiddleware()) // before logging so the ID is logged
	r.Use(s.LoggingMiddleware())
	r.Use(metrics.HTTPMiddleware)

	r.Get("/health", s.HealthHandler)
	r.Head("/health", s.HealthHandler)
	r.Get("/health/live", s.LivenessHandler)
	r.Get("/health/ready", s.ReadinessHandler)
	r.Get("/health/startup", s.StartupHandler)

	if !cfg.DisableMetrics {
		r.Handle(cfg.MetricsPath, promhttp.Handler())
	}

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/status", s.StatusHandler)
	})

	return r
}

// Handler returns the router, for embedding or testing.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start opens the listener and serves until Stop is called. It blocks.
func (s *Server) Start() error {
	s.mu.Lock()
	if s.listener != nil {
		s.mu.Unlock()
		return ErrServerStarted
	}
	ln, err := net.Listen("tcp", s.server.Addr)
	if err != nil {
		s.mu.Unlock()
		return fmt.Errorf("failed to listen on %s: %w", s.server.Addr, err)
	}
	s.listener = ln
	s.mu.Unlock()

	s.logger.Info("Starting HTTP server", logger.String("addr", ln.Addr().String()))
	if err := s.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("failed to start HTTP server: %w", err)
	}
	return nil
}

// Addr returns the bound address once Start has opened the listener, else
// the configured address.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return s.server.Addr
}

// Stop gracefully shuts down the server.
func (s *Server) Stop(ctx context.Context) error {
	s.logger.Info("Shutting down server")

	if err := s.server.Shutdown(ctx); err != nil {
		s.logger.Error("Failed to shutdown server", logger.Error(err))
		return fmt.Errorf("failed to shutdown server: %w", err)
	}

	s.logger.Info("Server stopped")
	return nil
}
