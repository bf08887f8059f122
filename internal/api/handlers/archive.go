package handlers

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/narvanalabs/deploylogs/internal/archive"
	"github.com/narvanalabs/deploylogs/internal/logs"
	"github.com/narvanalabs/deploylogs/internal/store"
)

// ArchiveResponse reports where a deployment's logs were written.
type ArchiveResponse struct {
	DeploymentID string `json:"deployment_id"`
	Key          string `json:"key"`
	Count        int    `json:"count"`
}

// ArchiveHandler exports deployment logs to object storage.
type ArchiveHandler struct {
	store    store.LogStore
	exporter *archive.Exporter
	metrics  *logs.Metrics
	logger   *slog.Logger
}

// NewArchiveHandler creates a new archive handler. A nil exporter disables archiving.
func NewArchiveHandler(st store.LogStore, exporter *archive.Exporter, metrics *logs.Metrics, logger *slog.Logger) *ArchiveHandler {
	return &ArchiveHandler{
		store:    st,
		exporter: exporter,
		metrics:  metrics,
		logger:   logger,
	}
}

// Create handles POST /v1/deployments/{deploymentID}/archive - writes the
// deployment's ordered log sequence as JSONL.
func (h *ArchiveHandler) Create(w http.ResponseWriter, r *http.Request) {
	if h.exporter == nil {
		WriteUnavailable(w, "Log archive is not configured")
		return
	}

	deploymentID := chi.URLParam(r, "deploymentID")
	if deploymentID == "" {
		WriteBadRequest(w, "Deployment ID is required")
		return
	}

	entries, err := loadDeploymentLogs(r.Context(), h.store, deploymentID, h.metrics, h.logger)
	if err != nil {
		h.logger.Error("failed to load logs for archive", "error", err, "deployment_id", deploymentID)
		WriteLogError(w, err)
		return
	}

	key, err := h.exporter.Export(r.Context(), deploymentID, entries)
	if err != nil {
		h.logger.Error("failed to archive logs", "error", err, "deployment_id", deploymentID)
		WriteInternalError(w, "Failed to archive logs")
		return
	}

	WriteJSON(w, http.StatusOK, ArchiveResponse{
		DeploymentID: deploymentID,
		Key:          key,
		Count:        len(entries),
	})
}
