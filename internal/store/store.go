// Package store provides the durable log store contract and its implementations.
package store

import (
	"context"
	"encoding/json"
	"time"
)

// LogRow is a log entry as persisted by the store.
// The level column is named log_level and created_at is the store's timestamp.
type LogRow struct {
	ID           string          `json:"id"`
	DeploymentID string          `json:"deployment_id"`
	ProjectID    string          `json:"project_id"`
	UserID       string          `json:"user_id"`
	LogLevel     string          `json:"log_level"`
	Message      string          `json:"message"`
	Source       *string         `json:"source,omitempty"`
	CreatedAt    time.Time       `json:"created_at"`
	Metadata     json.RawMessage `json:"metadata,omitempty"`
}

// LogStore is the durable, append-only log store.
type LogStore interface {
	// List returns every row of a deployment owned by userID,
	// ordered by created_at ascending then id.
	List(ctx context.Context, userID, deploymentID string) ([]*LogRow, error)
	// Insert appends a row and returns it as stored. The store assigns
	// ID and CreatedAt when they are empty.
	Insert(ctx context.Context, row *LogRow) (*LogRow, error)
}

// ChangeFeed delivers rows as they are inserted.
type ChangeFeed interface {
	// Subscribe delivers rows inserted for deploymentID on the returned channel.
	// Rows of every owner are delivered; consumers keep only their own.
	// Call the returned cancel function to unsubscribe and close the channel.
	// Cancel is safe to call more than once.
	Subscribe(ctx context.Context, deploymentID string) (<-chan *LogRow, func(), error)
}
