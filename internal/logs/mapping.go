package logs

import (
	"encoding/json"
	"strings"

	"github.com/narvanalabs/deploylogs/internal/models"
	"github.com/narvanalabs/deploylogs/internal/store"
)

// RowToEntry converts a stored row into a LogEntry.
// A missing source becomes models.DefaultLogSource.
func RowToEntry(row *store.LogRow) (*models.LogEntry, error) {
	if row == nil {
		return nil, &MappingError{Field: "row", Reason: "nil row"}
	}
	if row.ID == "" {
		return nil, &MappingError{Field: "id", Reason: "empty"}
	}
	if row.DeploymentID == "" {
		return nil, &MappingError{RowID: row.ID, Field: "deployment_id", Reason: "empty"}
	}
	if strings.TrimSpace(row.Message) == "" {
		return nil, &MappingError{RowID: row.ID, Field: "message", Reason: "empty"}
	}
	if row.CreatedAt.IsZero() {
		return nil, &MappingError{RowID: row.ID, Field: "created_at", Reason: "missing"}
	}
	level, err := models.ParseLogLevel(row.LogLevel)
	if err != nil {
		return nil, &MappingError{RowID: row.ID, Field: "log_level", Reason: err.Error()}
	}

	var metadata map[string]any
	if len(row.Metadata) > 0 && string(row.Metadata) != "null" {
		if err := json.Unmarshal(row.Metadata, &metadata); err != nil {
			return nil, &MappingError{RowID: row.ID, Field: "metadata", Reason: err.Error()}
		}
	}

	source := models.DefaultLogSource
	if row.Source != nil && *row.Source != "" {
		source = *row.Source
	}

	return &models.LogEntry{
		ID:           row.ID,
		DeploymentID: row.DeploymentID,
		ProjectID:    row.ProjectID,
		Level:        level,
		Message:      row.Message,
		Source:       source,
		Timestamp:    row.CreatedAt,
		Metadata:     metadata,
	}, nil
}

// EntryToRow converts an entry into the row shape owned by userID.
// ID and Timestamp may be empty; the store assigns them.
func EntryToRow(e *models.LogEntry, userID string) (*store.LogRow, error) {
	if e == nil {
		return nil, &MappingError{Field: "entry", Reason: "nil entry"}
	}
	if e.DeploymentID == "" {
		return nil, &MappingError{RowID: e.ID, Field: "deployment_id", Reason: "empty"}
	}
	if strings.TrimSpace(e.Message) == "" {
		return nil, &MappingError{RowID: e.ID, Field: "message", Reason: "empty"}
	}
	level := e.Level
	if level == "" {
		level = models.LogLevelInfo
	}
	if !level.Valid() {
		return nil, &MappingError{RowID: e.ID, Field: "level", Reason: "unknown level " + string(level)}
	}

	var metadata json.RawMessage
	if len(e.Metadata) > 0 {
		b, err := json.Marshal(e.Metadata)
		if err != nil {
			return nil, &MappingError{RowID: e.ID, Field: "metadata", Reason: err.Error()}
		}
		metadata = b
	}

	source := e.Source
	if source == "" {
		source = models.DefaultLogSource
	}

	return &store.LogRow{
		ID:           e.ID,
		DeploymentID: e.DeploymentID,
		ProjectID:    e.ProjectID,
		UserID:       userID,
		LogLevel:     string(level),
		Message:      e.Message,
		Source:       &source,
		CreatedAt:    e.Timestamp,
		Metadata:     metadata,
	}, nil
}
