package handlers

import (
	"net/http"
	"time"

	"github.com/agentstation/reqsync/internal/server/response"
)

// HandleHealth handles GET /health (liveness check).
func (h *Handlers) HandleHealth(w http.ResponseWriter, _ *http.Request) {
	response.OK(w, map[string]any{
		"status":  "healthy",
		"service": "reqsync-dev-server",
	})
}

// HandleReady handles GET /ready.
func (h *Handlers) HandleReady(w http.ResponseWriter, _ *http.Request) {
	response.OK(w, map[string]any{
		"status":            "ready",
		"uptime_seconds":    int64(time.Since(h.startTime).Seconds()),
		"purchase_requests": h.store.Len(),
		"websocket_clients": h.wsHub.ClientCount(),
		"sse_clients":       h.sseBroadcaster.ClientCount(),
	})
}
