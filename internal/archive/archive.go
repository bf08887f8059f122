// Package archive exports a deployment's log sequence as JSONL to object storage.
package archive

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path"
	"time"

	"github.com/narvanalabs/deploylogs/internal/models"
)

// ContentType is the media type of an archive.
const ContentType = "application/x-ndjson"

// ErrNoDeployment is returned when Export is called without a deployment ID.
var ErrNoDeployment = errors.New("deployment id is required")

// Destination stores archive objects.
type Destination interface {
	Put(ctx context.Context, key string, data []byte) error
}

// header is the first JSONL record of an archive.
type header struct {
	Version      string    `json:"version"`
	Type         string    `json:"type"`
	DeploymentID string    `json:"deployment_id"`
	Timestamp    time.Time `json:"timestamp"`
	EntryCount   int       `json:"entry_count"`
}

// record wraps one log entry line.
type record struct {
	Type string           `json:"type"`
	Data *models.LogEntry `json:"data"`
}

// WriteJSONL writes a header line followed by one line per entry, in the
// order given.
func WriteJSONL(w io.Writer, deploymentID string, entries []*models.LogEntry, now time.Time) error {
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)

	if err := enc.Encode(header{
		Version:      "1",
		Type:         "header",
		DeploymentID: deploymentID,
		Timestamp:    now.UTC(),
		EntryCount:   len(entries),
	}); err != nil {
		return fmt.Errorf("encode header: %w", err)
	}

	for _, e := range entries {
		if err := enc.Encode(record{Type: "log", Data: e}); err != nil {
			return fmt.Errorf("encode log %s: %w", e.ID, err)
		}
	}
	return nil
}

// ObjectKey returns the object key of a deployment's archive.
func ObjectKey(prefix, deploymentID string) string {
	return path.Join(prefix, deploymentID+".jsonl")
}

// Exporter writes deployment archives to a Destination.
type Exporter struct {
	dest   Destination
	prefix string
	now    func() time.Time
	logger *slog.Logger
}

// NewExporter creates an exporter writing under prefix.
func NewExporter(dest Destination, prefix string, logger *slog.Logger) *Exporter {
	if logger == nil {
		logger = slog.Default()
	}
	return &Exporter{
		dest:   dest,
		prefix: prefix,
		now:    time.Now,
		logger: logger,
	}
}

// Export archives entries for deploymentID and returns the object key.
func (e *Exporter) Export(ctx context.Context, deploymentID string, entries []*models.LogEntry) (string, error) {
	if deploymentID == "" {
		return "", ErrNoDeployment
	}

	var buf bytes.Buffer
	if err := WriteJSONL(&buf, deploymentID, entries, e.now()); err != nil {
		return "", err
	}

	key := ObjectKey(e.prefix, deploymentID)
	if err := e.dest.Put(ctx, key, buf.Bytes()); err != nil {
		return "", fmt.Errorf("writing archive for deployment %s: %w", deploymentID, err)
	}

	e.logger.Info("deployment logs archived",
		"deployment_id", deploymentID,
		"key", key,
		"entries", len(entries),
		"bytes", buf.Len(),
	)
	return key, nil
}
