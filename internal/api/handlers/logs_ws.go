package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
)

const wsWriteWait = 10 * time.Second

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // Allow all origins for now
	},
}

// StreamFrame is one event sent over the WebSocket tail.
type StreamFrame struct {
	Event string `json:"event"`
	Data  any    `json:"data"`
}

// WebSocket handles GET /v1/deployments/{deploymentID}/logs/ws - streams the
// same events as Stream as JSON frames.
func (h *LogStreamHandler) WebSocket(w http.ResponseWriter, r *http.Request) {
	deploymentID := chi.URLParam(r, "deploymentID")
	if deploymentID == "" {
		WriteBadRequest(w, "Deployment ID is required")
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error("websocket upgrade failed", "error", err, "deployment_id", deploymentID)
		return
	}
	defer conn.Close()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	// The client sends nothing; reading only detects the close.
	go func() {
		defer cancel()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	h.logger.Info("log stream started", "deployment_id", deploymentID, "transport", "websocket")
	h.tail(ctx, deploymentID, func(event string, data any) error {
		conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
		return conn.WriteJSON(StreamFrame{Event: event, Data: data})
	})

	conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(wsWriteWait),
	)
	h.logger.Info("log stream closed", "deployment_id", deploymentID, "transport", "websocket")
}
