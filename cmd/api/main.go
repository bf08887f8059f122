// Package main provides the entry point for the deployment log API server.
package main

import (
	"context"
	"os"

	"github.com/narvanalabs/deploylogs/internal/api"
	"github.com/narvanalabs/deploylogs/internal/api/health"
	"github.com/narvanalabs/deploylogs/internal/auth"
	"github.com/narvanalabs/deploylogs/internal/backend"
	"github.com/narvanalabs/deploylogs/internal/logs"
	"github.com/narvanalabs/deploylogs/internal/shutdown"
	"github.com/narvanalabs/deploylogs/pkg/config"
	"github.com/narvanalabs/deploylogs/pkg/logger"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

func main() {
	os.Exit(run())
}

func run() int {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		logger.FromConfig("info", "json").Error("failed to load configuration", "error", err)
		return 1
	}

	log := logger.FromConfig(cfg.LogLevel, cfg.LogFormat)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Open the log store and change feed
	be, err := backend.Open(cfg, log.Logger)
	if err != nil {
		log.Error("failed to open log backend", "error", err)
		return 1
	}

	exporter, err := backend.OpenExporter(ctx, cfg.Archive, log.Logger)
	if err != nil {
		log.Error("failed to open archive destination", "error", err)
		be.Close()
		return 1
	}

	// Initialize auth service
	authService := auth.NewService(&auth.Config{
		JWTSecret:   []byte(cfg.JWTSecret),
		TokenExpiry: cfg.JWTExpiry,
	}, log.Logger)

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	checker := health.NewChecker(api.Version)
	be.RegisterHealth(checker)

	server := api.NewServer(cfg, api.Deps{
		Store:    be.Store,
		Feed:     be.Feed,
		Auth:     authService,
		Metrics:  logs.NewMetrics(reg),
		Gatherer: reg,
		Exporter: exporter,
		Health:   checker,
	}, log.Logger)

	// Components shut down in reverse registration order: HTTP first, then
	// running simulations, then the feed and store.
	coord := shutdown.NewCoordinator(
		shutdown.WithTimeout(cfg.ShutdownTimeout),
		shutdown.WithLogger(log.Logger),
	)
	be.RegisterShutdown(coord)
	coord.Register(shutdown.NewCloserComponent("simulations", server))
	coord.Register(shutdown.NewHTTPServerComponent("http", server.HTTPServer()))

	serveErr := make(chan error, 1)
	go func() {
		if err := server.Start(ctx); err != nil {
			serveErr <- err
			cancel()
		}
	}()

	coord.WaitForSignal(ctx)
	if err := coord.Err(); err != nil {
		log.Error("shutdown finished with errors", "error", err)
	}

	select {
	case err := <-serveErr:
		log.Error("server error", "error", err)
		return 1
	default:
	}
	log.Info("server stopped")
	return coord.ExitCode()
}
