package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/narvanalabs/deploylogs/internal/logs"
	"github.com/narvanalabs/deploylogs/internal/models"
	"github.com/narvanalabs/deploylogs/internal/store"
)

// Stream event names shared by the SSE and WebSocket endpoints.
const (
	EventConnected = "connected"
	EventLog       = "log"
	EventError     = "error"
	EventPing      = "ping"
)

const defaultPingInterval = 5 * time.Second

// StreamedEntry is the payload of a log event. Index is the entry's position
// in the (timestamp, id) ordered sequence when it was sent; an entry that
// arrives late is sent after newer ones and placed by its index.
type StreamedEntry struct {
	*models.LogEntry
	Index int `json:"index"`
}

// eventSink writes one named event to a client.
type eventSink func(event string, data any) error

// LogStreamHandler handles real-time log streaming via Server-Sent Events
// and WebSocket. Every connection runs its own stream controller.
type LogStreamHandler struct {
	store        store.LogStore
	feed         store.ChangeFeed
	pollInterval time.Duration
	pingInterval time.Duration
	metrics      *logs.Metrics
	logger       *slog.Logger

	closing   chan struct{}
	closeOnce sync.Once
}

// NewLogStreamHandler creates a new log stream handler.
func NewLogStreamHandler(st store.LogStore, feed store.ChangeFeed, pollInterval time.Duration, metrics *logs.Metrics, logger *slog.Logger) *LogStreamHandler {
	return &LogStreamHandler{
		store:        st,
		feed:         feed,
		pollInterval: pollInterval,
		pingInterval: defaultPingInterval,
		metrics:      metrics,
		logger:       logger,
		closing:      make(chan struct{}),
	}
}

// Close ends every open stream. New streams end as soon as they start.
func (h *LogStreamHandler) Close() {
	h.closeOnce.Do(func() {
		close(h.closing)
	})
}

// SetPingInterval sets how often idle streams are pinged.
func (h *LogStreamHandler) SetPingInterval(d time.Duration) {
	if d > 0 {
		h.pingInterval = d
	}
}

// Stream handles GET /v1/deployments/{deploymentID}/logs/stream - streams logs in real-time via SSE.
func (h *LogStreamHandler) Stream(w http.ResponseWriter, r *http.Request) {
	deploymentID := chi.URLParam(r, "deploymentID")
	if deploymentID == "" {
		WriteBadRequest(w, "Deployment ID is required")
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		WriteInternalError(w, "Streaming not supported")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("X-Accel-Buffering", "no") // Disable nginx buffering
	flusher.Flush()

	h.logger.Info("log stream started", "deployment_id", deploymentID, "transport", "sse")
	h.tail(r.Context(), deploymentID, func(event string, data any) error {
		return writeSSE(w, flusher, event, data)
	})
	h.logger.Info("log stream closed by client", "deployment_id", deploymentID, "transport", "sse")
}

// tail runs a stream controller for deploymentID and forwards each newly held
// entry, error state changes and periodic pings to emit. It returns when ctx
// ends, the handler closes or emit fails. Entries are sent once each, in held
// order within a batch, with their position in the held sequence.
func (h *LogStreamHandler) tail(ctx context.Context, deploymentID string, emit eventSink) {
	ctrl := logs.NewController(h.store, h.feed, nil,
		logs.WithPollInterval(h.pollInterval),
		logs.WithLogger(h.logger),
		logs.WithMetrics(h.metrics),
	)
	defer ctrl.Close()

	changes, unsubscribe := ctrl.Subscribe()
	defer unsubscribe()

	if err := emit(EventConnected, map[string]string{"deployment_id": deploymentID}); err != nil {
		return
	}

	// A failed seed leaves the session open; the error reaches the client
	// through the flush below.
	_ = ctrl.Start(ctx, deploymentID)

	sent := make(map[string]struct{})
	var lastErr error
	flush := func() error {
		for i, e := range ctrl.Logs() {
			if _, ok := sent[e.ID]; ok {
				continue
			}
			sent[e.ID] = struct{}{}
			if err := emit(EventLog, StreamedEntry{LogEntry: e, Index: i}); err != nil {
				return err
			}
		}

		err := ctrl.Err()
		if err != nil && err != lastErr {
			if werr := emit(EventError, map[string]string{"message": err.Error()}); werr != nil {
				return werr
			}
		}
		lastErr = err
		return nil
	}
	if err := flush(); err != nil {
		return
	}

	ping := time.NewTicker(h.pingInterval)
	defer ping.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-h.closing:
			return
		case _, ok := <-changes:
			if !ok {
				return
			}
			if err := flush(); err != nil {
				return
			}
		case <-ping.C:
			if err := emit(EventPing, map[string]int64{"time": time.Now().Unix()}); err != nil {
				return
			}
		}
	}
}

func writeSSE(w http.ResponseWriter, flusher http.Flusher, event string, data any) error {
	payload, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("marshaling %s event: %w", event, err)
	}
	if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, payload); err != nil {
		return err
	}
	flusher.Flush()
	return nil
}
