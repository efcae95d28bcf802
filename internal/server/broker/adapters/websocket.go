// Package adapters provides transport-specific implementations of the
// broker.Subscriber interface.
package adapters

import (
	"encoding/json"

	ws "github.com/agentstation/reqsync/internal/server/websocket"
	"github.com/agentstation/reqsync/pkg/errors"
	"github.com/agentstation/reqsync/pkg/events"
)

// WebSocketSubscriber adapts the WebSocket hub to the Subscriber interface.
// Each envelope is sent as one JSON text frame.
type WebSocketSubscriber struct {
	hub *ws.Hub
}

// NewWebSocketSubscriber creates a new WebSocket subscriber.
func NewWebSocketSubscriber(hub *ws.Hub) *WebSocketSubscriber {
	return &WebSocketSubscriber{hub: hub}
}

// Send delivers an envelope to all WebSocket clients.
func (w *WebSocketSubscriber) Send(env events.Envelope) error {
	frame, err := json.Marshal(env)
	if err != nil {
		return errors.WrapResource("encode", "envelope", env.EntityID, err)
	}
	if !w.hub.Broadcast(frame) {
		return errors.NewResourceError("broadcast", "envelope", env.EntityID, errors.New("hub queue full"))
	}
	return nil
}

// Close is a no-op for WebSocket (hub manages its own lifecycle).
func (w *WebSocketSubscriber) Close() error {
	return nil
}
