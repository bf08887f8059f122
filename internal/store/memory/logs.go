// Package memory provides an in-process implementation of store.LogStore.
package memory

import (
	"context"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/narvanalabs/deploylogs/internal/store"
)

// LogStore keeps log rows in memory, grouped by deployment.
type LogStore struct {
	mu   sync.RWMutex
	rows map[string][]*store.LogRow
	now  func() time.Time
}

var _ store.LogStore = (*LogStore)(nil)

// NewLogStore creates an empty store.
func NewLogStore() *LogStore {
	return &LogStore{
		rows: make(map[string][]*store.LogRow),
		now:  func() time.Time { return time.Now().UTC() },
	}
}

// WithClock replaces the clock used to stamp rows inserted without a CreatedAt.
func (s *LogStore) WithClock(now func() time.Time) *LogStore {
	s.now = now
	return s
}

// List returns copies of the deployment's rows owned by userID, oldest first.
func (s *LogStore) List(ctx context.Context, userID, deploymentID string) ([]*store.LogRow, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*store.LogRow
	for _, row := range s.rows[deploymentID] {
		if row.UserID != userID {
			continue
		}
		out = append(out, cloneRow(row))
	}
	slices.SortStableFunc(out, func(a, b *store.LogRow) int {
		if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
			return c
		}
		return strings.Compare(a.ID, b.ID)
	})
	return out, nil
}

// Insert stores a copy of row, assigning ID and CreatedAt when absent.
func (s *LogStore) Insert(ctx context.Context, row *store.LogRow) (*store.LogRow, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	stored := cloneRow(row)
	if stored.ID == "" {
		stored.ID = uuid.NewString()
	}
	if stored.CreatedAt.IsZero() {
		stored.CreatedAt = s.now()
	}

	s.mu.Lock()
	s.rows[stored.DeploymentID] = append(s.rows[stored.DeploymentID], stored)
	s.mu.Unlock()

	return cloneRow(stored), nil
}

// Len returns the number of rows stored for a deployment.
func (s *LogStore) Len(deploymentID string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.rows[deploymentID])
}

func cloneRow(row *store.LogRow) *store.LogRow {
	c := *row
	if row.Source != nil {
		src := *row.Source
		c.Source = &src
	}
	if row.Metadata != nil {
		c.Metadata = slices.Clone(row.Metadata)
	}
	return &c
}
