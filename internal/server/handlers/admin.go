package handlers

import (
	"net/http"
	"runtime"
	"strconv"
	"time"

	"github.com/agentstation/reqsync/internal/server/response"
)

// HandleStats handles GET /api/stats.
func (h *Handlers) HandleStats(w http.ResponseWriter, _ *http.Request) {
	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)

	response.OK(w, map[string]any{
		"runtime": map[string]any{
			"uptime_seconds": int64(time.Since(h.startTime).Seconds()),
			"goroutines":     runtime.NumGoroutine(),
			"memory_mb":      memStats.Alloc / 1024 / 1024,
		},
		"store": map[string]any{
			"purchase_requests": h.store.Len(),
			"revision":          h.store.Revision(),
		},
		"events": h.broker.Stats(),
		"realtime": map[string]any{
			"websocket_clients": h.wsHub.ClientCount(),
			"websocket_dropped": h.wsHub.Dropped(),
			"sse_clients":       h.sseBroadcaster.ClientCount(),
		},
		"cache": h.cache.GetStats(),
	})
}

// HandleDisconnect handles POST /api/admin/disconnect. It drops every
// WebSocket client so reconnect handling can be exercised.
func (h *Handlers) HandleDisconnect(w http.ResponseWriter, _ *http.Request) {
	n := h.wsHub.DisconnectAll()
	h.logger.Info().Int("clients", n).Msg("Disconnected WebSocket clients")
	response.OK(w, map[string]any{"disconnected": n})
}

// HandleStep handles POST /api/admin/step?n=N. It runs N generator steps.
func (h *Handlers) HandleStep(w http.ResponseWriter, r *http.Request) {
	if h.generator == nil {
		response.ServiceUnavailable(w, "mock generator is not enabled")
		return
	}
	n := 1
	if s := r.URL.Query().Get("n"); s != "" {
		v, err := strconv.Atoi(s)
		if err != nil || v < 1 || v > 1000 {
			response.BadRequest(w, "n must be between 1 and 1000", "")
			return
		}
		n = v
	}

	steps := make([]map[string]string, 0, n)
	for range n {
		action, id, err := h.generator.Step()
		if err != nil {
			response.ErrorFromType(w, err)
			return
		}
		steps = append(steps, map[string]string{"action": string(action), "id": id})
	}
	response.OK(w, steps)
}
