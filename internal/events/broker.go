// Package events fans inserted log rows out to change-feed subscribers,
// in process or over NATS.
package events

import (
	"context"
	"log/slog"
	"sync"
	"time"

	nanoid "github.com/matoous/go-nanoid/v2"
	"github.com/narvanalabs/deploylogs/internal/store"
)

// subscriberBuffer is the per-subscriber channel capacity. Rows that do not
// fit are dropped; the poll channel of a stream recovers them.
const subscriberBuffer = 100

// Subscriber is a single change-feed subscription.
type Subscriber struct {
	ID           string
	DeploymentID string
	Ch           chan *store.LogRow
	CreatedAt    time.Time
}

// Broker is an in-process change feed keyed by deployment.
type Broker struct {
	mu          sync.RWMutex
	subscribers map[string]*Subscriber
	logger      *slog.Logger
}

var _ store.ChangeFeed = (*Broker)(nil)

// NewBroker creates a new broker.
func NewBroker(logger *slog.Logger) *Broker {
	if logger == nil {
		logger = slog.Default()
	}
	return &Broker{
		subscribers: make(map[string]*Subscriber),
		logger:      logger,
	}
}

// Subscribe registers a subscriber for rows of deploymentID from every owner.
// The subscription ends when cancel is called or ctx is done, whichever
// comes first.
func (b *Broker) Subscribe(ctx context.Context, deploymentID string) (<-chan *store.LogRow, func(), error) {
	id, err := nanoid.New()
	if err != nil {
		return nil, nil, err
	}

	sub := &Subscriber{
		ID:           id,
		DeploymentID: deploymentID,
		Ch:           make(chan *store.LogRow, subscriberBuffer),
		CreatedAt:    time.Now(),
	}

	b.mu.Lock()
	b.subscribers[sub.ID] = sub
	b.mu.Unlock()

	b.logger.Debug("subscriber added",
		"subscriber_id", sub.ID,
		"deployment_id", deploymentID,
	)

	var once sync.Once
	unsubscribe := func() { once.Do(func() { b.unsubscribe(sub) }) }
	stop := context.AfterFunc(ctx, unsubscribe)
	cancel := func() {
		stop()
		unsubscribe()
	}

	return sub.Ch, cancel, nil
}

func (b *Broker) unsubscribe(sub *Subscriber) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, exists := b.subscribers[sub.ID]; exists {
		close(sub.Ch)
		delete(b.subscribers, sub.ID)
		b.logger.Debug("subscriber removed", "subscriber_id", sub.ID)
	}
}

// Publish sends a row to every subscriber of its deployment without blocking.
func (b *Broker) Publish(row *store.LogRow) {
	if row == nil {
		return
	}

	b.mu.RLock()
	defer b.mu.RUnlock()

	for _, sub := range b.subscribers {
		if sub.DeploymentID != row.DeploymentID {
			continue
		}
		select {
		case sub.Ch <- row:
		default:
			b.logger.Warn("subscriber channel full, dropping log row",
				"subscriber_id", sub.ID,
				"deployment_id", row.DeploymentID,
				"row_id", row.ID,
			)
		}
	}
}

// PublishLog implements Publisher.
func (b *Broker) PublishLog(_ context.Context, row *store.LogRow) error {
	b.Publish(row)
	return nil
}

// SubscriberCount returns the number of active subscribers.
func (b *Broker) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers)
}

// Close removes every subscriber and closes their channels.
func (b *Broker) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	for id, sub := range b.subscribers {
		close(sub.Ch)
		delete(b.subscribers, id)
	}
	return nil
}
