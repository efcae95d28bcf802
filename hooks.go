package reqsync

import (
	"slices"
	"sync"

	"github.com/agentstation/reqsync/pkg/events"
)

// ChangeKind classifies a cache change.
type ChangeKind string

// Change kinds.
const (
	ChangeAdded   ChangeKind = "added"
	ChangeUpdated ChangeKind = "updated"
	ChangeDeleted ChangeKind = "deleted"
	ChangeEvicted ChangeKind = "evicted"
)

// Source identifies where an applied change came from.
type Source string

// Change sources.
const (
	SourcePush Source = "push"
	SourcePoll Source = "poll"
	SourceView Source = "view"
)

// Change describes one applied cache mutation. Old is nil when the id was
// unknown before.
type Change struct {
	ID     string
	Kind   ChangeKind
	Source Source
	Event  events.Kind
	Old    *Entry
	New    Entry
}

// Hook function types for manager events
type (
	// ChangeHook is called after a change has been committed to the cache
	ChangeHook func(Change)

	// FallbackHook is called when fallback polling is switched on or off
	FallbackHook func(active bool)
)

// hooks manages callbacks for cache and mode changes
type hooks struct {
	mu         sync.RWMutex
	next       int
	onChange   map[int]ChangeHook
	onFallback map[int]FallbackHook
}

// newHooks creates a new hooks instance
func newHooks() *hooks {
	return &hooks{
		onChange:   make(map[int]ChangeHook),
		onFallback: make(map[int]FallbackHook),
	}
}

// addChange registers fn and returns its idempotent cancel function
func (h *hooks) addChange(fn ChangeHook) func() {
	h.mu.Lock()
	defer h.mu.Unlock()
	id := h.next
	h.next++
	h.onChange[id] = fn
	return h.remover(func() { delete(h.onChange, id) })
}

// addFallback registers fn and returns its idempotent cancel function
func (h *hooks) addFallback(fn FallbackHook) func() {
	h.mu.Lock()
	defer h.mu.Unlock()
	id := h.next
	h.next++
	h.onFallback[id] = fn
	return h.remover(func() { delete(h.onFallback, id) })
}

func (h *hooks) remover(del func()) func() {
	var once sync.Once
	return func() {
		once.Do(func() {
			h.mu.Lock()
			defer h.mu.Unlock()
			del()
		})
	}
}

// triggerChange calls every change hook in registration order
func (h *hooks) triggerChange(c Change) {
	for _, fn := range snapshotHooks(h, h.onChange) {
		fn(c)
	}
}

// triggerFallback calls every fallback hook in registration order
func (h *hooks) triggerFallback(active bool) {
	for _, fn := range snapshotHooks(h, h.onFallback) {
		fn(active)
	}
}

// snapshotHooks copies the registered hooks so they run without the lock
// held and may cancel themselves.
func snapshotHooks[F any](h *hooks, m map[int]F) []F {
	h.mu.RLock()
	defer h.mu.RUnlock()
	ids := make([]int, 0, len(m))
	for id := range m {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	out := make([]F, len(ids))
	for i, id := range ids {
		out[i] = m[id]
	}
	return out
}

func (h *hooks) clear() {
	h.mu.Lock()
	defer h.mu.Unlock()
	clear(h.onChange)
	clear(h.onFallback)
}
