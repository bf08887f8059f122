package logs

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/narvanalabs/deploylogs/internal/store"
)

// session is one start/stop cycle of a deployment tail. It owns the push
// subscription and the poll ticker and releases both exactly once.
type session struct {
	deploymentID string
	userID       string
	generation   uint64

	ctx    context.Context
	cancel context.CancelFunc

	feed        <-chan *store.LogRow
	unsubscribe func()
	ticker      *time.Ticker

	done      chan struct{}
	exited    chan struct{}
	started   bool
	polling   atomic.Bool
	closeOnce sync.Once
}

func newSession(deploymentID, userID string, pollInterval time.Duration) *session {
	ctx, cancel := context.WithCancel(context.Background())
	return &session{
		deploymentID: deploymentID,
		userID:       userID,
		ctx:          ctx,
		cancel:       cancel,
		ticker:       time.NewTicker(pollInterval),
		done:         make(chan struct{}),
		exited:       make(chan struct{}),
	}
}

// close releases the subscription and the timer and waits for the pump to
// exit. Safe to call more than once.
func (s *session) close() {
	s.closeOnce.Do(func() {
		close(s.done)
		s.cancel()
		if s.unsubscribe != nil {
			s.unsubscribe()
		}
		s.ticker.Stop()
		if s.started {
			<-s.exited
		}
	})
}
