// Package handlers implements the HTTP handlers for the deployment log API.
package handlers

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/narvanalabs/deploylogs/internal/logs"
	"github.com/narvanalabs/deploylogs/internal/models"
	"github.com/narvanalabs/deploylogs/internal/store"
)

const maxLogLimit = 1000

// LogHandler handles log-related HTTP requests.
type LogHandler struct {
	store   store.LogStore
	metrics *logs.Metrics
	logger  *slog.Logger
}

// NewLogHandler creates a new log handler.
func NewLogHandler(st store.LogStore, metrics *logs.Metrics, logger *slog.Logger) *LogHandler {
	return &LogHandler{
		store:   st,
		metrics: metrics,
		logger:  logger,
	}
}

// LogListResponse is the body of a log listing.
type LogListResponse struct {
	DeploymentID string             `json:"deployment_id"`
	Logs         []*models.LogEntry `json:"logs"`
	Count        int                `json:"count"`
}

// CreateLogRequest is the body of a log insert.
type CreateLogRequest struct {
	ProjectID string         `json:"project_id"`
	Level     string         `json:"level"`
	Message   string         `json:"message"`
	Source    string         `json:"source"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

// List handles GET /v1/deployments/{deploymentID}/logs - returns the ordered
// log sequence, narrowed by the optional q, level and limit parameters.
func (h *LogHandler) List(w http.ResponseWriter, r *http.Request) {
	deploymentID := chi.URLParam(r, "deploymentID")
	if deploymentID == "" {
		WriteBadRequest(w, "Deployment ID is required")
		return
	}

	query := r.URL.Query()
	level := query.Get("level")
	if level != "" && !strings.EqualFold(level, logs.LevelAll) {
		if _, err := models.ParseLogLevel(level); err != nil {
			WriteBadRequest(w, "Unknown log level: "+level)
			return
		}
	}

	limit := 0
	if limitStr := query.Get("limit"); limitStr != "" {
		l, err := strconv.Atoi(limitStr)
		if err != nil || l <= 0 || l > maxLogLimit {
			WriteBadRequest(w, "limit must be between 1 and "+strconv.Itoa(maxLogLimit))
			return
		}
		limit = l
	}

	entries, err := loadDeploymentLogs(r.Context(), h.store, deploymentID, h.metrics, h.logger)
	if err != nil {
		h.logger.Error("failed to get logs", "error", err, "deployment_id", deploymentID)
		WriteLogError(w, err)
		return
	}

	entries = logs.FilterByLevel(logs.Search(entries, query.Get("q")), level)
	if limit > 0 && len(entries) > limit {
		entries = entries[len(entries)-limit:]
	}
	if entries == nil {
		entries = []*models.LogEntry{}
	}

	WriteJSON(w, http.StatusOK, LogListResponse{
		DeploymentID: deploymentID,
		Logs:         entries,
		Count:        len(entries),
	})
}

// Create handles POST /v1/deployments/{deploymentID}/logs - appends a log entry.
func (h *LogHandler) Create(w http.ResponseWriter, r *http.Request) {
	deploymentID := chi.URLParam(r, "deploymentID")
	if deploymentID == "" {
		WriteBadRequest(w, "Deployment ID is required")
		return
	}

	var req CreateLogRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteBadRequest(w, "Invalid request body")
		return
	}
	if strings.TrimSpace(req.Message) == "" {
		WriteBadRequest(w, "Message is required")
		return
	}

	var level models.LogLevel
	if req.Level != "" {
		l, err := models.ParseLogLevel(req.Level)
		if err != nil {
			WriteBadRequest(w, "Unknown log level: "+req.Level)
			return
		}
		level = l
	}

	ctrl := logs.NewController(h.store, nil, nil,
		logs.WithLogger(h.logger),
		logs.WithMetrics(h.metrics),
	)
	defer ctrl.Close()

	entry, err := ctrl.AddLog(r.Context(), models.LogEntry{
		DeploymentID: deploymentID,
		ProjectID:    req.ProjectID,
		Level:        level,
		Message:      req.Message,
		Source:       req.Source,
		Metadata:     req.Metadata,
	})
	if err != nil {
		WriteLogError(w, err)
		return
	}
	if entry == nil {
		WriteLogError(w, logs.ErrNoPrincipal)
		return
	}

	WriteJSON(w, http.StatusCreated, entry)
}

// loadDeploymentLogs reads a deployment's full ordered sequence on behalf of
// the principal in ctx.
func loadDeploymentLogs(ctx context.Context, st store.LogStore, deploymentID string, metrics *logs.Metrics, logger *slog.Logger) ([]*models.LogEntry, error) {
	ctrl := logs.NewController(st, nil, nil,
		logs.WithLogger(logger),
		logs.WithMetrics(metrics),
	)
	defer ctrl.Close()

	if err := ctrl.FetchAll(ctx, deploymentID); err != nil {
		return nil, err
	}
	return ctrl.Logs(), nil
}
