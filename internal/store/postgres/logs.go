package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/narvanalabs/deploylogs/internal/store"
)

const logColumns = `id, deployment_id, project_id, user_id, log_level, message, source, created_at, metadata`

// LogStore implements store.LogStore using PostgreSQL.
type LogStore struct {
	db     queryable
	logger *slog.Logger
}

var _ store.LogStore = (*LogStore)(nil)

// NewLogStore creates a log store over db.
func NewLogStore(db queryable, logger *slog.Logger) *LogStore {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogStore{db: db, logger: logger}
}

// Insert appends a log row, assigning id and created_at when absent.
func (s *LogStore) Insert(ctx context.Context, row *store.LogRow) (*store.LogRow, error) {
	query := `
		INSERT INTO deployment_logs (` + logColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING id, created_at`

	stored := *row
	if stored.ID == "" {
		stored.ID = uuid.NewString()
	}
	if stored.CreatedAt.IsZero() {
		stored.CreatedAt = time.Now().UTC()
	}

	err := s.db.QueryRowContext(ctx, query,
		stored.ID,
		stored.DeploymentID,
		stored.ProjectID,
		stored.UserID,
		stored.LogLevel,
		stored.Message,
		nullString(stored.Source),
		stored.CreatedAt,
		jsonbBytes(stored.Metadata),
	).Scan(&stored.ID, &stored.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, ErrDuplicateKey
		}
		return nil, fmt.Errorf("inserting log row: %w", err)
	}

	return &stored, nil
}

// List retrieves a deployment's rows owned by userID in ascending order.
func (s *LogStore) List(ctx context.Context, userID, deploymentID string) ([]*store.LogRow, error) {
	query := `
		SELECT ` + logColumns + `
		FROM deployment_logs
		WHERE deployment_id = $1 AND user_id = $2
		ORDER BY created_at ASC, id ASC`

	rows, err := s.db.QueryContext(ctx, query, deploymentID, userID)
	if err != nil {
		return nil, fmt.Errorf("querying logs: %w", err)
	}
	defer rows.Close()

	return s.scanLogs(rows)
}

// Get retrieves a single row by id.
func (s *LogStore) Get(ctx context.Context, id string) (*store.LogRow, error) {
	query := `SELECT ` + logColumns + ` FROM deployment_logs WHERE id = $1`

	row, err := scanLog(s.db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying log row: %w", err)
	}
	return row, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanLog(sc scanner) (*store.LogRow, error) {
	var (
		row      store.LogRow
		source   sql.NullString
		metadata []byte
	)
	err := sc.Scan(
		&row.ID,
		&row.DeploymentID,
		&row.ProjectID,
		&row.UserID,
		&row.LogLevel,
		&row.Message,
		&source,
		&row.CreatedAt,
		&metadata,
	)
	if err != nil {
		return nil, err
	}
	if source.Valid {
		row.Source = &source.String
	}
	if len(metadata) > 0 {
		row.Metadata = json.RawMessage(metadata)
	}
	return &row, nil
}

// scanLogs scans multiple log rows.
func (s *LogStore) scanLogs(rows *sql.Rows) ([]*store.LogRow, error) {
	var out []*store.LogRow

	for rows.Next() {
		row, err := scanLog(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning log row: %w", err)
		}
		out = append(out, row)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating log rows: %w", err)
	}

	return out, nil
}

func nullString(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}

func jsonbBytes(m json.RawMessage) []byte {
	if len(m) == 0 {
		return nil
	}
	return []byte(m)
}
