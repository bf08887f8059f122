package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/lib/pq"
	"github.com/narvanalabs/deploylogs/internal/events"
	"github.com/narvanalabs/deploylogs/internal/store"
)

// NotifyChannel is the LISTEN channel the deployment_logs trigger notifies on.
const NotifyChannel = "deployment_logs"

// notification is the payload written by the notify_deployment_log trigger.
// Only keys are sent; NOTIFY payloads are capped at 8000 bytes.
type notification struct {
	ID           string `json:"id"`
	DeploymentID string `json:"deployment_id"`
}

// NotifyFeed is a store.ChangeFeed driven by PostgreSQL LISTEN/NOTIFY.
// Each notification is resolved to its row and fanned out through a broker.
type NotifyFeed struct {
	logs     *LogStore
	broker   *events.Broker
	notifies <-chan *pq.Notification
	closer   func() error
	logger   *slog.Logger

	stop      chan struct{}
	done      chan struct{}
	closeOnce sync.Once
}

var _ store.ChangeFeed = (*NotifyFeed)(nil)

// NewNotifyFeed opens a dedicated listener connection to dsn and starts
// dispatching notifications for rows inserted into deployment_logs.
func NewNotifyFeed(dsn string, logs *LogStore, logger *slog.Logger) (*NotifyFeed, error) {
	if logger == nil {
		logger = slog.Default()
	}

	listener := pq.NewListener(dsn, 500*time.Millisecond, 30*time.Second,
		func(ev pq.ListenerEventType, err error) {
			switch ev {
			case pq.ListenerEventDisconnected:
				logger.Warn("log listener disconnected", "error", err)
			case pq.ListenerEventReconnected:
				logger.Info("log listener reconnected")
			case pq.ListenerEventConnectionAttemptFailed:
				logger.Warn("log listener connection attempt failed", "error", err)
			}
		})

	if err := listener.Listen(NotifyChannel); err != nil {
		listener.Close()
		return nil, fmt.Errorf("listening on %s: %w", NotifyChannel, err)
	}

	return newNotifyFeed(logs, events.NewBroker(logger), listener.Notify, listener.Close, logger), nil
}

func newNotifyFeed(logs *LogStore, broker *events.Broker, notifies <-chan *pq.Notification, closer func() error, logger *slog.Logger) *NotifyFeed {
	if logger == nil {
		logger = slog.Default()
	}
	f := &NotifyFeed{
		logs:     logs,
		broker:   broker,
		notifies: notifies,
		closer:   closer,
		logger:   logger,
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
	go f.run()
	return f
}

// Subscribe implements store.ChangeFeed.
func (f *NotifyFeed) Subscribe(ctx context.Context, deploymentID string) (<-chan *store.LogRow, func(), error) {
	return f.broker.Subscribe(ctx, deploymentID)
}

func (f *NotifyFeed) run() {
	defer close(f.done)
	for {
		select {
		case <-f.stop:
			return
		case n, ok := <-f.notifies:
			if !ok {
				return
			}
			// A nil notification signals a reconnect; rows inserted while
			// disconnected are picked up by stream polling.
			if n == nil {
				continue
			}
			f.dispatch(n)
		}
	}
}

func (f *NotifyFeed) dispatch(n *pq.Notification) {
	var note notification
	if err := json.Unmarshal([]byte(n.Extra), &note); err != nil {
		f.logger.Warn("ignoring malformed log notification", "payload", n.Extra, "error", err)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	row, err := f.logs.Get(ctx, note.ID)
	if err != nil {
		f.logger.Warn("failed to load notified log row",
			"row_id", note.ID,
			"deployment_id", note.DeploymentID,
			"error", err,
		)
		return
	}
	f.broker.Publish(row)
}

// Close stops dispatching, closes the listener and ends every subscription.
func (f *NotifyFeed) Close() error {
	var err error
	f.closeOnce.Do(func() {
		close(f.stop)
		<-f.done
		if f.closer != nil {
			err = f.closer()
		}
		f.broker.Close()
	})
	return err
}
