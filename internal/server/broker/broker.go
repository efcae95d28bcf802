// Package broker distributes purchase-request events from the development
// store to the server's transports.
//
// The store publishes envelopes in version order; the broker hands each one
// to every subscriber (WebSocket, SSE) sequentially so that every transport
// observes the same order.
package broker

import (
	"context"
	"slices"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog"

	"github.com/agentstation/reqsync/pkg/constants"
	"github.com/agentstation/reqsync/pkg/events"
)

// Subscriber is an event consumer. Implementations adapt the envelope stream
// to a specific transport mechanism.
type Subscriber interface {
	// Send delivers an envelope to the subscriber.
	// Implementations should be non-blocking and handle errors gracefully.
	Send(events.Envelope) error

	// Close cleanly shuts down the subscriber.
	Close() error
}

// Broker manages envelope distribution to multiple subscribers.
type Broker struct {
	subscribers []Subscriber
	events      chan events.Envelope
	mu          sync.RWMutex
	published   atomic.Int64
	dropped     atomic.Int64
	logger      *zerolog.Logger
}

// NewBroker creates a new event broker.
func NewBroker(logger *zerolog.Logger) *Broker {
	return &Broker{
		events: make(chan events.Envelope, constants.BroadcastBufferSize),
		logger: logger,
	}
}

// Run starts the broker's event loop until ctx is cancelled. Should be called
// in a goroutine.
func (b *Broker) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			b.mu.Lock()
			for _, sub := range b.subscribers {
				_ = sub.Close()
			}
			b.subscribers = nil
			b.mu.Unlock()
			b.logger.Info().Msg("Event broker shut down")
			return

		case env := <-b.events:
			b.mu.RLock()
			subs := slices.Clone(b.subscribers)
			b.mu.RUnlock()

			for _, sub := range subs {
				if err := sub.Send(env); err != nil {
					b.logger.Warn().
						Err(err).
						Str("channel", env.Channel).
						Str("event", string(env.Event)).
						Msg("Failed to send event to subscriber")
				}
			}

			b.logger.Debug().
				Str("channel", env.Channel).
				Str("event", string(env.Event)).
				Str("entity_id", env.EntityID).
				Int("subscribers", len(subs)).
				Msg("Event broadcasted")
		}
	}
}

// Publish queues an envelope for all subscribers. It never blocks; when the
// queue is full the envelope is dropped and clients recover through polling.
func (b *Broker) Publish(env events.Envelope) {
	select {
	case b.events <- env:
		b.published.Add(1)
	default:
		b.dropped.Add(1)
		b.logger.Warn().
			Str("channel", env.Channel).
			Str("event", string(env.Event)).
			Msg("Event channel full, event dropped")
	}
}

// Subscribe registers a new subscriber. It is safe to call before Run.
func (b *Broker) Subscribe(sub Subscriber) {
	b.mu.Lock()
	b.subscribers = append(b.subscribers, sub)
	total := len(b.subscribers)
	b.mu.Unlock()
	b.logger.Debug().Int("total_subscribers", total).Msg("Subscriber registered")
}

// Unsubscribe removes and closes a subscriber.
func (b *Broker) Unsubscribe(sub Subscriber) {
	b.mu.Lock()
	before := len(b.subscribers)
	b.subscribers = slices.DeleteFunc(b.subscribers, func(s Subscriber) bool { return s == sub })
	removed := len(b.subscribers) < before
	b.mu.Unlock()
	if removed {
		_ = sub.Close()
	}
}

// SubscriberCount returns the current number of subscribers.
func (b *Broker) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers)
}

// Stats holds broker counters.
type Stats struct {
	Published   int64 `json:"published"`
	Dropped     int64 `json:"dropped"`
	Subscribers int   `json:"subscribers"`
}

// Stats returns the broker counters.
func (b *Broker) Stats() Stats {
	return Stats{
		Published:   b.published.Load(),
		Dropped:     b.dropped.Load(),
		Subscribers: b.SubscriberCount(),
	}
}
