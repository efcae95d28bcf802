package realtime

import (
	"slices"
	"sync"
	"sync/atomic"

	"github.com/agentstation/reqsync/pkg/events"
	"github.com/agentstation/reqsync/pkg/health"
)

// Handler receives envelopes for one channel.
type Handler func(events.Envelope)

type subscription struct {
	channel string
	fn      Handler
	active  atomic.Bool
}

// registry maps channels to their subscribers and health listeners.
type registry struct {
	mu       sync.RWMutex
	channels map[string][]*subscription
	health   []*healthListener
}

type healthListener struct {
	fn     func(health.Health)
	active atomic.Bool
}

func newRegistry() *registry {
	return &registry{channels: make(map[string][]*subscription)}
}

func (r *registry) add(channel string, fn Handler) *subscription {
	s := &subscription{channel: channel, fn: fn}
	s.active.Store(true)
	r.mu.Lock()
	r.channels[channel] = append(r.channels[channel], s)
	r.mu.Unlock()
	return s
}

func (r *registry) remove(s *subscription) {
	s.active.Store(false)
	r.mu.Lock()
	defer r.mu.Unlock()
	subs := slices.DeleteFunc(r.channels[s.channel], func(x *subscription) bool { return x == s })
	if len(subs) == 0 {
		delete(r.channels, s.channel)
		return
	}
	r.channels[s.channel] = subs
}

// subscribers returns a copy of the channel's subscriber list.
func (r *registry) subscribers(channel string) []*subscription {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return slices.Clone(r.channels[channel])
}

func (r *registry) count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	n := 0
	for _, subs := range r.channels {
		n += len(subs)
	}
	return n
}

func (r *registry) addHealth(fn func(health.Health)) *healthListener {
	l := &healthListener{fn: fn}
	l.active.Store(true)
	r.mu.Lock()
	r.health = append(r.health, l)
	r.mu.Unlock()
	return l
}

func (r *registry) removeHealth(l *healthListener) {
	l.active.Store(false)
	r.mu.Lock()
	defer r.mu.Unlock()
	r.health = slices.DeleteFunc(r.health, func(x *healthListener) bool { return x == l })
}

func (r *registry) healthListeners() []*healthListener {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return slices.Clone(r.health)
}
