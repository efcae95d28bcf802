// Package subscription binds a caller-declared slice of the event stream to
// an update manager: one channel, a fixed set of kinds, forwarded verbatim.
package subscription

import (
	"sync"

	"github.com/rs/zerolog"

	"github.com/agentstation/reqsync"
	"github.com/agentstation/reqsync/internal/realtime"
	"github.com/agentstation/reqsync/pkg/events"
	"github.com/agentstation/reqsync/pkg/logging"
)

// Source is the raw event stream, satisfied by *realtime.Transport.
type Source interface {
	Subscribe(channel string, fn realtime.Handler) (unsubscribe func())
}

// Sink consumes forwarded envelopes, satisfied by *reqsync.Manager. Sinks
// are compared by identity, so implementations must be comparable.
type Sink interface {
	Process(env events.Envelope) reqsync.Outcome
}

// Binding forwards matching envelopes from a Source to a Sink.
type Binding struct {
	source Source
	kinds  map[events.Kind]struct{}
	logger *zerolog.Logger

	mu          sync.Mutex
	channel     string
	sink        Sink
	unsubscribe func()
	closed      bool
}

// New subscribes to channel and forwards envelopes whose kind is in kinds.
// With no kinds every known kind is forwarded.
func New(source Source, channel string, sink Sink, kinds ...events.Kind) *Binding {
	if len(kinds) == 0 {
		kinds = events.Kinds()
	}
	b := &Binding{
		source: source,
		kinds:  make(map[events.Kind]struct{}, len(kinds)),
		logger: logging.Component("subscription"),
	}
	for _, k := range kinds {
		b.kinds[k] = struct{}{}
	}
	b.mu.Lock()
	b.subscribeLocked(channel, sink)
	b.mu.Unlock()
	return b
}

// Update rebinds to channel and sink. It re-subscribes only when either
// changed, so repeated calls with the same arguments are free.
func (b *Binding) Update(channel string, sink Sink) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed || (channel == b.channel && sink == b.sink) {
		return
	}
	b.unsubscribeLocked()
	b.subscribeLocked(channel, sink)
}

// Close releases the subscription. It is idempotent.
func (b *Binding) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	b.unsubscribeLocked()
}

// Channel returns the bound channel.
func (b *Binding) Channel() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.channel
}

func (b *Binding) subscribeLocked(channel string, sink Sink) {
	b.channel = channel
	b.sink = sink
	b.unsubscribe = b.source.Subscribe(channel, func(env events.Envelope) {
		b.forward(channel, sink, env)
	})
	b.logger.Debug().Str("channel", channel).Msg("Bound subscription")
}

func (b *Binding) unsubscribeLocked() {
	if b.unsubscribe != nil {
		b.unsubscribe()
		b.unsubscribe = nil
	}
}

func (b *Binding) forward(channel string, sink Sink, env events.Envelope) {
	if env.Channel != channel {
		return
	}
	if _, ok := b.kinds[env.Event]; !ok {
		return
	}
	sink.Process(env)
}
