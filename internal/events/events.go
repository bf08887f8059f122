package events

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/narvanalabs/deploylogs/internal/store"
)

// SubjectPrefix is the NATS subject prefix for log rows.
// Rows for a deployment are published on "<prefix>.<deployment_id>".
const SubjectPrefix = "deploylogs.logs"

// Publisher emits inserted log rows to a change feed.
type Publisher interface {
	PublishLog(ctx context.Context, row *store.LogRow) error
	Close() error
}

// NoopPublisher is a Publisher that does nothing (used when the feed is driven by the store itself).
type NoopPublisher struct{}

// PublishLog discards row.
func (n *NoopPublisher) PublishLog(ctx context.Context, row *store.LogRow) error {
	return nil
}

// Close is a no-op.
func (n *NoopPublisher) Close() error {
	return nil
}

// Subject returns the NATS subject carrying rows for deploymentID.
func Subject(deploymentID string) (string, error) {
	if deploymentID == "" || strings.ContainsAny(deploymentID, ". *>\t\r\n") {
		return "", fmt.Errorf("invalid deployment id for subject: %q", deploymentID)
	}
	return SubjectPrefix + "." + deploymentID, nil
}

// PublishingStore decorates a LogStore so every successful insert is
// published to a change feed. A publish failure is logged, not returned:
// the row is durable and the poll channel will deliver it.
type PublishingStore struct {
	store.LogStore
	publisher Publisher
	logger    *slog.Logger
}

// NewPublishingStore wraps st so inserts are published via pub.
func NewPublishingStore(st store.LogStore, pub Publisher, logger *slog.Logger) *PublishingStore {
	if logger == nil {
		logger = slog.Default()
	}
	return &PublishingStore{LogStore: st, publisher: pub, logger: logger}
}

// Insert inserts the row and publishes the stored copy.
func (s *PublishingStore) Insert(ctx context.Context, row *store.LogRow) (*store.LogRow, error) {
	stored, err := s.LogStore.Insert(ctx, row)
	if err != nil {
		return nil, err
	}
	if err := s.publisher.PublishLog(ctx, stored); err != nil {
		s.logger.Warn("failed to publish log row",
			"error", err,
			"deployment_id", stored.DeploymentID,
			"row_id", stored.ID,
		)
	}
	return stored, nil
}
