package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/narvanalabs/deploylogs/internal/store"
)

// NATSPublisher publishes log rows as JSON to per-deployment NATS subjects.
type NATSPublisher struct {
	conn *nats.Conn
}

// NewNATSPublisher connects a publisher to the NATS server at url.
func NewNATSPublisher(url string) (*NATSPublisher, error) {
	nc, err := nats.Connect(url)
	if err != nil {
		return nil, fmt.Errorf("connecting to NATS at %s: %w", url, err)
	}
	return &NATSPublisher{conn: nc}, nil
}

// PublishLog publishes row on its deployment's subject.
func (p *NATSPublisher) PublishLog(ctx context.Context, row *store.LogRow) error {
	subject, err := Subject(row.DeploymentID)
	if err != nil {
		return err
	}
	data, err := json.Marshal(row)
	if err != nil {
		return fmt.Errorf("marshaling log row: %w", err)
	}
	return p.conn.Publish(subject, data)
}

// Close closes the NATS connection.
func (p *NATSPublisher) Close() error {
	p.conn.Close()
	return nil
}

// NATSFeed is a store.ChangeFeed backed by NATS subscriptions.
type NATSFeed struct {
	conn   *nats.Conn
	logger *slog.Logger
}

var _ store.ChangeFeed = (*NATSFeed)(nil)

// NewNATSFeed connects to NATS with automatic reconnection support.
// Extra nats.Option values (e.g. disconnect/reconnect handlers) can be appended.
func NewNATSFeed(url string, logger *slog.Logger, opts ...nats.Option) (*NATSFeed, error) {
	if logger == nil {
		logger = slog.Default()
	}
	defaults := []nats.Option{
		nats.MaxReconnects(-1),
		nats.ReconnectWait(time.Second),
	}
	nc, err := nats.Connect(url, append(defaults, opts...)...)
	if err != nil {
		return nil, fmt.Errorf("connecting to NATS at %s: %w", url, err)
	}
	return &NATSFeed{conn: nc, logger: logger}, nil
}

// Subscribe delivers rows published for deploymentID, whoever owns them.
// Payloads that do not decode are dropped. The subscription ends on cancel or when ctx is done.
func (f *NATSFeed) Subscribe(ctx context.Context, deploymentID string) (<-chan *store.LogRow, func(), error) {
	subject, err := Subject(deploymentID)
	if err != nil {
		return nil, nil, err
	}

	ch := make(chan *store.LogRow, subscriberBuffer)

	var (
		mu     sync.Mutex
		closed bool
		once   sync.Once
	)

	sub, err := f.conn.Subscribe(subject, func(msg *nats.Msg) {
		var row store.LogRow
		if err := json.Unmarshal(msg.Data, &row); err != nil {
			f.logger.Warn("dropping undecodable log row", "subject", msg.Subject, "error", err)
			return
		}
		mu.Lock()
		defer mu.Unlock()
		if closed {
			return
		}
		select {
		case ch <- &row:
		default:
			// Drop rather than block the NATS client; polling recovers it.
			f.logger.Warn("subscriber channel full, dropping log row", "deployment_id", deploymentID)
		}
	})
	if err != nil {
		close(ch)
		return nil, nil, fmt.Errorf("subscribing to %s: %w", subject, err)
	}
	// Flush so the subscription is registered before rows are published elsewhere.
	if err := f.conn.Flush(); err != nil {
		_ = sub.Unsubscribe()
		close(ch)
		return nil, nil, fmt.Errorf("flushing subscription: %w", err)
	}

	unsubscribe := func() {
		once.Do(func() {
			_ = sub.Unsubscribe()
			mu.Lock()
			closed = true
			close(ch)
			mu.Unlock()
		})
	}
	stop := context.AfterFunc(ctx, unsubscribe)
	cancel := func() {
		stop()
		unsubscribe()
	}

	return ch, cancel, nil
}

// Ping reports whether the connection to the NATS server is up.
func (f *NATSFeed) Ping(ctx context.Context) error {
	if !f.conn.IsConnected() {
		return fmt.Errorf("nats connection %s", f.conn.Status())
	}
	return nil
}

// Close closes the NATS connection, ending every subscription.
func (f *NATSFeed) Close() error {
	f.conn.Close()
	return nil
}
