package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"sync"

	"github.com/go-chi/chi/v5"
	"github.com/narvanalabs/deploylogs/internal/auth"
	"github.com/narvanalabs/deploylogs/internal/logs"
	"github.com/narvanalabs/deploylogs/internal/store"
)

// SimulateRequest is the optional body of a simulation start.
type SimulateRequest struct {
	ProjectID string `json:"project_id"`
}

// SimulateResponse acknowledges a started simulation.
type SimulateResponse struct {
	DeploymentID string `json:"deployment_id"`
	Steps        int    `json:"steps"`
	Status       string `json:"status"`
}

type narration struct {
	cancel context.CancelFunc
}

// runKey identifies a simulation by the principal that started it and its
// deployment.
type runKey struct {
	userID       string
	deploymentID string
}

// SimulateHandler runs the deployment narrator in the background, at most
// once per principal and deployment at a time.
type SimulateHandler struct {
	store   store.LogStore
	opts    []logs.NarratorOption
	logger  *slog.Logger
	mu      sync.Mutex
	running map[runKey]*narration
	closed  bool
	wg      sync.WaitGroup
}

// NewSimulateHandler creates a new simulate handler. opts configure every
// narrator it starts.
func NewSimulateHandler(st store.LogStore, logger *slog.Logger, opts ...logs.NarratorOption) *SimulateHandler {
	return &SimulateHandler{
		store:   st,
		opts:    opts,
		logger:  logger,
		running: make(map[runKey]*narration),
	}
}

// Start handles POST /v1/deployments/{deploymentID}/simulate - starts narrating
// a deployment on behalf of the caller.
func (h *SimulateHandler) Start(w http.ResponseWriter, r *http.Request) {
	deploymentID := chi.URLParam(r, "deploymentID")
	if deploymentID == "" {
		WriteBadRequest(w, "Deployment ID is required")
		return
	}

	p, ok := auth.PrincipalFromContext(r.Context())
	if !ok {
		WriteUnauthorized(w, "Authentication required")
		return
	}

	var req SimulateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		WriteBadRequest(w, "Invalid request body")
		return
	}

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		WriteUnavailable(w, "Server is shutting down")
		return
	}
	key := runKey{userID: p.ID, deploymentID: deploymentID}
	if _, busy := h.running[key]; busy {
		h.mu.Unlock()
		WriteConflict(w, "A simulation is already running for this deployment")
		return
	}
	ctx, cancel := context.WithCancel(context.WithoutCancel(r.Context()))
	run := &narration{cancel: cancel}
	h.running[key] = run
	h.wg.Add(1)
	h.mu.Unlock()

	narrator := logs.NewNarrator(logs.StoreInserter{Store: h.store, UserID: p.ID}, h.opts...)
	go func() {
		defer h.wg.Done()
		defer h.finish(key, run)

		n, err := narrator.Run(ctx, deploymentID, req.ProjectID)
		if err != nil {
			h.logger.Error("simulation failed",
				"deployment_id", deploymentID,
				"inserted", n,
				"error", err,
			)
		}
	}()

	h.logger.Info("simulation started", "deployment_id", deploymentID, "user_id", p.ID)
	WriteJSON(w, http.StatusAccepted, SimulateResponse{
		DeploymentID: deploymentID,
		Steps:        len(logs.DeploymentScript()),
		Status:       "running",
	})
}

// Cancel handles DELETE /v1/deployments/{deploymentID}/simulate - stops the
// caller's running simulation. Entries already inserted stay.
func (h *SimulateHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	deploymentID := chi.URLParam(r, "deploymentID")

	p, ok := auth.PrincipalFromContext(r.Context())
	if !ok {
		WriteUnauthorized(w, "Authentication required")
		return
	}

	h.mu.Lock()
	run, ok := h.running[runKey{userID: p.ID, deploymentID: deploymentID}]
	h.mu.Unlock()
	if !ok {
		WriteNotFound(w, "No simulation is running for this deployment")
		return
	}

	run.cancel()
	h.logger.Info("simulation cancelled", "deployment_id", deploymentID, "user_id", p.ID)
	w.WriteHeader(http.StatusNoContent)
}

// Running reports whether userID has a simulation in progress for
// deploymentID.
func (h *SimulateHandler) Running(userID, deploymentID string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	_, ok := h.running[runKey{userID: userID, deploymentID: deploymentID}]
	return ok
}

func (h *SimulateHandler) finish(key runKey, run *narration) {
	run.cancel()
	h.mu.Lock()
	if h.running[key] == run {
		delete(h.running, key)
	}
	h.mu.Unlock()
}

// Close cancels every running simulation and waits for them to stop.
func (h *SimulateHandler) Close() error {
	h.mu.Lock()
	h.closed = true
	for _, run := range h.running {
		run.cancel()
	}
	h.mu.Unlock()

	h.wg.Wait()
	return nil
}
