// Package sse streams purchase-request events to browsers over Server-Sent
// Events. It mirrors the WebSocket feed for clients that cannot hold a
// socket open.
package sse

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/agentstation/reqsync/pkg/constants"
)

// client is one connected stream, optionally filtered to a channel.
type client struct {
	events  chan Event
	channel string
}

// Broadcaster manages Server-Sent Events connections.
type Broadcaster struct {
	clients    map[*client]struct{}
	newClients chan *client
	closed     chan *client
	events     chan Event
	done       chan struct{}
	mu         sync.RWMutex
	logger     *zerolog.Logger
}

// NewBroadcaster creates a new SSE broadcaster.
func NewBroadcaster(logger *zerolog.Logger) *Broadcaster {
	return &Broadcaster{
		clients:    make(map[*client]struct{}),
		newClients: make(chan *client, 10), // Buffered so clients may connect before Run() starts
		closed:     make(chan *client, 10),
		events:     make(chan Event, constants.BroadcastBufferSize),
		done:       make(chan struct{}),
		logger:     logger,
	}
}

// Run starts the broadcaster's main loop until ctx is cancelled. Should be
// called in a goroutine.
func (b *Broadcaster) Run(ctx context.Context) {
	defer close(b.done)
	for {
		select {
		case <-ctx.Done():
			b.mu.Lock()
			for c := range b.clients {
				close(c.events)
			}
			b.clients = make(map[*client]struct{})
			b.mu.Unlock()
			b.logger.Info().Msg("SSE broadcaster shut down")
			return

		case c := <-b.newClients:
			b.mu.Lock()
			b.clients[c] = struct{}{}
			total := len(b.clients)
			b.mu.Unlock()
			b.logger.Info().
				Str("channel", c.channel).
				Int("total_clients", total).
				Msg("SSE client connected")

		case c := <-b.closed:
			b.mu.Lock()
			if _, ok := b.clients[c]; ok {
				delete(b.clients, c)
				close(c.events)
			}
			total := len(b.clients)
			b.mu.Unlock()
			b.logger.Info().
				Int("total_clients", total).
				Msg("SSE client disconnected")

		case event := <-b.events:
			b.mu.RLock()
			for c := range b.clients {
				if c.channel != "" && event.Channel != "" && c.channel != event.Channel {
					continue
				}
				select {
				case c.events <- event:
				default:
					// Client buffer full, skip this event for this client
					b.logger.Warn().Msg("SSE client buffer full, event skipped")
				}
			}
			b.mu.RUnlock()
		}
	}
}

// Broadcast sends an event to all connected SSE clients.
func (b *Broadcaster) Broadcast(event Event) {
	select {
	case b.events <- event:
	default:
		b.logger.Warn().Msg("SSE broadcast channel full, event dropped")
	}
}

// ClientCount returns the number of connected SSE clients.
func (b *Broadcaster) ClientCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.clients)
}

// ServeHTTP handles SSE connections. The optional channel query parameter
// restricts the stream to one channel.
func (b *Broadcaster) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "Streaming not supported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	c := &client{
		events:  make(chan Event, constants.ClientSendBufferSize),
		channel: r.URL.Query().Get("channel"),
	}
	select {
	case b.newClients <- c:
	case <-b.done:
		http.Error(w, "Server shutting down", http.StatusServiceUnavailable)
		return
	}
	defer func() {
		select {
		case b.closed <- c:
		case <-b.done:
		}
	}()

	b.writeEvent(w, flusher, Event{
		Event: "connected",
		Data: map[string]any{
			"message":   "Connected to purchase request updates",
			"channel":   c.channel,
			"timestamp": time.Now().UTC(),
		},
	})

	for {
		select {
		case event, ok := <-c.events:
			if !ok {
				return
			}
			b.writeEvent(w, flusher, event)

		case <-r.Context().Done():
			return
		}
	}
}

// writeEvent writes an SSE event to the response writer.
func (b *Broadcaster) writeEvent(w http.ResponseWriter, flusher http.Flusher, event Event) {
	if event.Event != "" {
		_, _ = fmt.Fprintf(w, "event: %s\n", event.Event)
	}
	if event.ID != "" {
		_, _ = fmt.Fprintf(w, "id: %s\n", event.ID)
	}

	data, err := json.Marshal(event.Data)
	if err != nil {
		b.logger.Error().Err(err).Msg("Failed to marshal SSE event data")
		return
	}
	_, _ = fmt.Fprintf(w, "data: %s\n\n", data)
	flusher.Flush()
}

// Event represents an SSE event.
type Event struct {
	Event   string `json:"event,omitempty"` // Event type (optional)
	ID      string `json:"id,omitempty"`    // Event ID (optional)
	Channel string `json:"-"`               // Source channel used for filtering
	Data    any    `json:"data"`            // Event data
}
