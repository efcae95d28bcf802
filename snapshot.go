package reqsync

import (
	"github.com/agentstation/reqsync/internal/cache"
	"github.com/agentstation/reqsync/pkg/requisition"
)

// Entry is a read-only copy of a cached purchase request.
type Entry struct {
	Request requisition.PurchaseRequest `json:"request" yaml:"request"`
	Version requisition.Version         `json:"version" yaml:"version"`
	Partial bool                        `json:"partial,omitempty" yaml:"partial,omitempty"`
	Dirty   bool                        `json:"dirty,omitempty" yaml:"dirty,omitempty"`
}

// ID returns the request id.
func (e Entry) ID() string { return e.Request.ID }

func fromCache(e cache.Entry) Entry {
	c := e.Clone()
	return Entry{
		Request: c.Request,
		Version: c.Version,
		Partial: c.Partial,
		Dirty:   c.Dirty,
	}
}

// Get returns a copy of the cached request. Deleted requests are not found.
func (m *Manager) Get(id string) (Entry, bool) {
	e, ok := m.store.Get(id)
	if !ok || e.Deleted {
		return Entry{}, false
	}
	return fromCache(e), true
}

// Snapshot returns copies of all live entries sorted by id.
func (m *Manager) Snapshot() []Entry {
	entries := m.store.Entries()
	out := make([]Entry, len(entries))
	for i, e := range entries {
		out[i] = fromCache(e)
	}
	return out
}

// Dirty returns the ids changed since they were last marked clean.
func (m *Manager) Dirty() []string {
	var ids []string
	for _, e := range m.store.Entries() {
		if e.Dirty {
			ids = append(ids, e.ID)
		}
	}
	return ids
}

// MarkClean acknowledges changes to ids.
func (m *Manager) MarkClean(ids ...string) {
	for _, id := range ids {
		m.store.MarkClean(id)
	}
}

// MarkSeen acknowledges entries as read from Snapshot or Get. An id that
// changed after its entry was read stays dirty.
func (m *Manager) MarkSeen(entries ...Entry) {
	for _, e := range entries {
		if e.Dirty {
			m.store.MarkCleanAt(e.ID(), e.Version)
		}
	}
}

// Evict removes id from the cache, tombstone included, and stops tracking
// it. It is the owning view's explicit removal and reports whether anything
// was removed.
func (m *Manager) Evict(id string) bool {
	unlock := m.store.Lock(id)
	prev, ok := m.store.Get(id)
	if ok {
		m.store.Evict(id)
	}
	unlock()

	m.Untrack(id)
	if !ok {
		return false
	}
	if !prev.Deleted {
		old := fromCache(prev)
		m.notify(Change{ID: id, Kind: ChangeEvicted, Source: SourceView, Old: &old, New: old})
	}
	return true
}
