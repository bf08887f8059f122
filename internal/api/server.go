// Package api provides the HTTP API server for deployment logs.
package api

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/narvanalabs/deploylogs/internal/api/handlers"
	"github.com/narvanalabs/deploylogs/internal/api/health"
	"github.com/narvanalabs/deploylogs/internal/api/middleware"
	"github.com/narvanalabs/deploylogs/internal/archive"
	"github.com/narvanalabs/deploylogs/internal/auth"
	"github.com/narvanalabs/deploylogs/internal/logs"
	"github.com/narvanalabs/deploylogs/internal/store"
	"github.com/narvanalabs/deploylogs/pkg/config"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Version is the current version of the API server.
// This should be set at build time using ldflags.
var Version = "dev"

// Deps are the collaborators the server routes requests to.
type Deps struct {
	Store    store.LogStore
	Feed     store.ChangeFeed
	Auth     *auth.Service
	Metrics  *logs.Metrics
	Gatherer prometheus.Gatherer
	// Exporter is nil when archiving is not configured.
	Exporter *archive.Exporter
	Health   *health.Checker
}

// Server represents the HTTP API server.
type Server struct {
	router     chi.Router
	httpServer *http.Server
	deps       Deps
	config     *config.Config
	logger     *slog.Logger
	simulate   *handlers.SimulateHandler
	streams    *handlers.LogStreamHandler
}

// NewServer creates a new API server with the given dependencies.
func NewServer(cfg *config.Config, deps Deps, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	if deps.Health == nil {
		deps.Health = health.NewChecker(Version)
	}

	s := &Server{
		deps:   deps,
		config: cfg,
		logger: logger,
	}
	s.setupRouter()

	s.httpServer = &http.Server{
		Addr:        fmt.Sprintf("%s:%d", cfg.APIHost, cfg.APIPort),
		Handler:     s.router,
		ReadTimeout: 15 * time.Second,
		// No write timeout: log streams stay open for the life of a deployment.
		IdleTimeout: 120 * time.Second,
	}
	// Shutdown waits for active requests; open streams have to be told to end.
	s.httpServer.RegisterOnShutdown(s.streams.Close)
	return s
}

// setupRouter configures the router with middleware and routes.
func (s *Server) setupRouter() {
	r := chi.NewRouter()

	// Global middleware
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.RequestLogger(s.logger))
	r.Use(middleware.Recovery(s.logger))

	// Health check and metrics endpoints (no auth required)
	r.Get("/health", s.deps.Health.Handler())
	if s.deps.Gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(s.deps.Gatherer, promhttp.HandlerOpts{}))
	}

	logHandler := handlers.NewLogHandler(s.deps.Store, s.deps.Metrics, s.logger)
	s.streams = handlers.NewLogStreamHandler(s.deps.Store, s.deps.Feed, s.config.Stream.PollInterval, s.deps.Metrics, s.logger)
	archiveHandler := handlers.NewArchiveHandler(s.deps.Store, s.deps.Exporter, s.deps.Metrics, s.logger)
	s.simulate = handlers.NewSimulateHandler(s.deps.Store, s.logger,
		logs.WithDelayWindow(s.config.Narrator.MinDelay, s.config.Narrator.MaxDelay),
		logs.WithNarratorLogger(s.logger),
		logs.WithNarratorMetrics(s.deps.Metrics),
	)

	// API v1 routes
	r.Route("/v1", func(r chi.Router) {
		authMiddleware := middleware.NewAuthMiddleware(s.deps.Auth, s.logger)
		r.Use(authMiddleware.Authenticate)

		r.Route("/deployments/{deploymentID}", func(r chi.Router) {
			// Streams are long-lived and must not share the request timeout.
			r.Get("/logs/stream", s.streams.Stream)
			r.Get("/logs/ws", s.streams.WebSocket)

			r.Group(func(r chi.Router) {
				r.Use(chimiddleware.Timeout(60 * time.Second))
				r.Get("/logs", logHandler.List)
				r.Post("/logs", logHandler.Create)
				r.Post("/simulate", s.simulate.Start)
				r.Delete("/simulate", s.simulate.Cancel)
				r.Post("/archive", archiveHandler.Create)
			})
		})
	})

	s.router = r
}

// Start starts the HTTP server and blocks until ctx is done or the server fails.
func (s *Server) Start(ctx context.Context) error {
	s.logger.Info("starting API server", "addr", s.httpServer.Addr)

	errCh := make(chan error, 1)
	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err, ok := <-errCh:
		if !ok {
			return nil
		}
		return fmt.Errorf("server error: %w", err)
	case <-ctx.Done():
		return nil
	}
}

// Shutdown stops accepting requests and waits for in-flight ones.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down API server")
	return s.httpServer.Shutdown(ctx)
}

// Close stops any running simulations.
func (s *Server) Close() error {
	return s.simulate.Close()
}

// HTTPServer returns the underlying http.Server.
func (s *Server) HTTPServer() *http.Server {
	return s.httpServer
}

// Router returns the chi router for testing purposes.
func (s *Server) Router() chi.Router {
	return s.router
}
