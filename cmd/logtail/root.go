package main

import (
	"errors"
	"log/slog"
	"os"

	"github.com/narvanalabs/deploylogs/internal/auth"
	"github.com/narvanalabs/deploylogs/internal/backend"
	"github.com/narvanalabs/deploylogs/pkg/config"
	"github.com/narvanalabs/deploylogs/pkg/logger"
	"github.com/spf13/cobra"
)

var errNoUser = errors.New("a user is required: pass --user or set DEPLOYLOGS_USER")

// app carries what every subcommand needs. Tests replace load and open to
// run commands against an in-memory backend.
type app struct {
	load   func() (*config.Config, error)
	open   func(cfg *config.Config, logger *slog.Logger) (*backend.Backend, error)
	logger *slog.Logger

	userID string
}

func newApp() *app {
	return &app{
		load: config.Load,
		open: backend.Open,
	}
}

// identity returns the principal the commands act for.
func (a *app) identity() (auth.StaticIdentity, error) {
	if a.userID == "" {
		return auth.StaticIdentity{}, errNoUser
	}
	return auth.StaticIdentity{P: auth.Principal{ID: a.userID}}, nil
}

// connect loads configuration and opens the backend it names.
func (a *app) connect() (*config.Config, *backend.Backend, error) {
	cfg, err := a.load()
	if err != nil {
		return nil, nil, err
	}
	if a.logger == nil {
		// Diagnostics go to stderr so log output on stdout stays clean.
		a.logger = logger.NewWithWriter(os.Stderr, logger.ParseLevel(cfg.LogLevel), false).Logger
	}
	be, err := a.open(cfg, a.logger)
	if err != nil {
		return nil, nil, err
	}
	return cfg, be, nil
}

func newRootCommand(a *app) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:           "logtail",
		Short:         "Deployment log client",
		Long:          "logtail reads, follows, narrates, and archives deployment logs using the backend named by the server configuration, and mints tokens for the API server.",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().StringVarP(&a.userID, "user", "u", os.Getenv("DEPLOYLOGS_USER"), "User whose logs are read and written")

	rootCmd.AddCommand(
		newTailCommand(a),
		newSimulateCommand(a),
		newArchiveCommand(a),
		newTokenCommand(a),
	)
	return rootCmd
}
