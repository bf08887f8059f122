// Package backend assembles the log store and change feed selected by
// configuration, shared by the API server and the CLI.
package backend

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/narvanalabs/deploylogs/internal/api/health"
	"github.com/narvanalabs/deploylogs/internal/archive"
	"github.com/narvanalabs/deploylogs/internal/events"
	"github.com/narvanalabs/deploylogs/internal/shutdown"
	"github.com/narvanalabs/deploylogs/internal/store"
	"github.com/narvanalabs/deploylogs/internal/store/memory"
	pgstore "github.com/narvanalabs/deploylogs/internal/store/postgres"
	"github.com/narvanalabs/deploylogs/pkg/config"
)

type closer struct {
	name string
	io.Closer
}

type pinger struct {
	name     string
	p        health.Pinger
	critical bool
}

// Backend is an opened store and change feed plus the resources behind them.
type Backend struct {
	// Store is the store every insert goes through, so inserts reach Feed.
	Store store.LogStore
	Feed  store.ChangeFeed

	closers []closer
	pingers []pinger
	logger  *slog.Logger
}

// Open connects the store and feed named by cfg.Stream.FeedDriver:
//
//   - postgres: PostgreSQL store, LISTEN/NOTIFY feed
//   - nats: PostgreSQL store publishing to NATS, NATS subscription feed
//   - memory: in-process store and broker
func Open(cfg *config.Config, logger *slog.Logger) (*Backend, error) {
	if logger == nil {
		logger = slog.Default()
	}
	b := &Backend{logger: logger}

	if err := b.open(cfg); err != nil {
		b.Close()
		return nil, err
	}

	logger.Info("log backend ready", "feed_driver", cfg.Stream.FeedDriver)
	return b, nil
}

func (b *Backend) open(cfg *config.Config) error {
	switch cfg.Stream.FeedDriver {
	case config.FeedMemory:
		broker := events.NewBroker(b.logger)
		b.addCloser("broker", broker)
		b.Store = events.NewPublishingStore(memory.NewLogStore(), broker, b.logger)
		b.Feed = broker
		return nil

	case config.FeedPostgres, config.FeedNATS:
		pg, err := pgstore.NewPostgresStore(pgstore.DefaultConfig(cfg.DatabaseDSN), b.logger)
		if err != nil {
			return fmt.Errorf("opening log store: %w", err)
		}
		b.addCloser("database", pg)
		b.addPinger("database", pg, true)

		if cfg.Stream.FeedDriver == config.FeedPostgres {
			feed, err := pgstore.NewNotifyFeed(cfg.DatabaseDSN, pg.Logs(), b.logger)
			if err != nil {
				return fmt.Errorf("opening notify feed: %w", err)
			}
			b.addCloser("notify_feed", feed)
			b.Store = pg.Logs()
			b.Feed = feed
			return nil
		}

		pub, err := events.NewNATSPublisher(cfg.Stream.NATSURL)
		if err != nil {
			return fmt.Errorf("opening NATS publisher: %w", err)
		}
		b.addCloser("nats_publisher", pub)

		feed, err := events.NewNATSFeed(cfg.Stream.NATSURL, b.logger)
		if err != nil {
			return fmt.Errorf("opening NATS feed: %w", err)
		}
		b.addCloser("nats_feed", feed)
		// The poll still converges while NATS is down.
		b.addPinger("feed", feed, false)

		b.Store = events.NewPublishingStore(pg.Logs(), pub, b.logger)
		b.Feed = feed
		return nil

	default:
		return fmt.Errorf("unknown feed driver %q", cfg.Stream.FeedDriver)
	}
}

func (b *Backend) addCloser(name string, c io.Closer) {
	b.closers = append(b.closers, closer{name: name, Closer: c})
}

func (b *Backend) addPinger(name string, p health.Pinger, critical bool) {
	b.pingers = append(b.pingers, pinger{name: name, p: p, critical: critical})
}

// RegisterHealth adds the backend's pingable resources to checker.
func (b *Backend) RegisterHealth(checker *health.Checker) {
	for _, p := range b.pingers {
		if p.critical {
			checker.Add(p.name, p.p)
		} else {
			checker.AddOptional(p.name, p.p)
		}
	}
}

// RegisterShutdown registers the backend's resources in opening order, so
// the coordinator closes the feed before the store it reads from.
func (b *Backend) RegisterShutdown(c *shutdown.Coordinator) {
	for _, cl := range b.closers {
		c.Register(shutdown.NewCloserComponent(cl.name, cl.Closer))
	}
}

// Close releases every resource, most recently opened first.
func (b *Backend) Close() error {
	var errs []error
	for i := len(b.closers) - 1; i >= 0; i-- {
		if err := b.closers[i].Close(); err != nil {
			errs = append(errs, fmt.Errorf("closing %s: %w", b.closers[i].name, err))
		}
	}
	b.closers = nil
	return errors.Join(errs...)
}

// OpenExporter returns the archive exporter configured by cfg, or nil when
// archiving is disabled.
func OpenExporter(ctx context.Context, cfg config.ArchiveConfig, logger *slog.Logger) (*archive.Exporter, error) {
	if !cfg.Enabled() {
		return nil, nil
	}
	dest, err := archive.NewS3Destination(ctx, cfg.Bucket, cfg.Region, cfg.Endpoint)
	if err != nil {
		return nil, fmt.Errorf("opening archive bucket: %w", err)
	}
	return archive.NewExporter(dest, cfg.Prefix, logger), nil
}
