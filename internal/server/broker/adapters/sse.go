package adapters

import (
	"strconv"

	"github.com/agentstation/reqsync/internal/server/sse"
	"github.com/agentstation/reqsync/pkg/events"
)

// SSESubscriber adapts the SSE broadcaster to the Subscriber interface.
type SSESubscriber struct {
	broadcaster *sse.Broadcaster
}

// NewSSESubscriber creates a new SSE subscriber.
func NewSSESubscriber(broadcaster *sse.Broadcaster) *SSESubscriber {
	return &SSESubscriber{broadcaster: broadcaster}
}

// Send delivers an envelope to all SSE clients. The SSE event name is the
// event kind and the id is entity id plus sequence.
func (s *SSESubscriber) Send(env events.Envelope) error {
	id := env.EntityID
	if env.Sequence != nil {
		id += ":" + strconv.FormatInt(*env.Sequence, 10)
	}
	s.broadcaster.Broadcast(sse.Event{
		Event:   string(env.Event),
		ID:      id,
		Channel: env.Channel,
		Data:    env,
	})
	return nil
}

// Close is a no-op for SSE (broadcaster manages its own lifecycle).
func (s *SSESubscriber) Close() error {
	return nil
}
