// Package cache holds the coordinator's versioned view of purchase requests.
// It wraps patrickmn/go-cache with entries that never expire on their own:
// an entry leaves only through a delete tombstone or an explicit Evict.
package cache

import (
	"sort"

	gocache "github.com/patrickmn/go-cache"

	"github.com/agentstation/reqsync/pkg/requisition"
)

// Entry is the cached state of one purchase request.
type Entry struct {
	ID      string                      `json:"id"`
	Request requisition.PurchaseRequest `json:"request"`
	Version requisition.Version         `json:"version"`
	// Partial is set when the entry was built from an update for an id that
	// had no full representation yet.
	Partial bool `json:"partial,omitempty"`
	// Deleted marks a tombstone. Tombstones keep the deletion version so late
	// events cannot resurrect the request.
	Deleted bool `json:"deleted,omitempty"`
	// Dirty is set on every applied change until consumers acknowledge it.
	Dirty bool `json:"dirty,omitempty"`
}

// Clone returns a deep copy of e.
func (e Entry) Clone() Entry {
	out := e
	out.Request = e.Request.Clone()
	return out
}

// Store is a concurrency-safe map of entries keyed by request id.
type Store struct {
	items *gocache.Cache
	locks *KeyedMutex
}

// New creates an empty store.
func New() *Store {
	return &Store{
		items: gocache.New(gocache.NoExpiration, 0),
		locks: NewKeyedMutex(),
	}
}

// Lock serializes writers of id and returns the matching unlock.
func (s *Store) Lock(id string) (unlock func()) {
	return s.locks.Lock(id)
}

// Get returns a copy of the entry for id, tombstones included.
func (s *Store) Get(id string) (Entry, bool) {
	v, ok := s.items.Get(id)
	if !ok {
		return Entry{}, false
	}
	return v.(Entry).Clone(), true
}

// Put stores e under e.ID.
func (s *Store) Put(e Entry) {
	s.items.Set(e.ID, e.Clone(), gocache.NoExpiration)
}

// Evict removes id entirely, tombstone included. It reports whether an entry
// was present.
func (s *Store) Evict(id string) bool {
	_, ok := s.items.Get(id)
	s.items.Delete(id)
	return ok
}

// MarkClean clears the dirty flag of id.
func (s *Store) MarkClean(id string) {
	unlock := s.Lock(id)
	defer unlock()
	if e, ok := s.Get(id); ok && e.Dirty {
		e.Dirty = false
		s.Put(e)
	}
}

// MarkCleanAt clears the dirty flag of id if the entry is still at version
// v. A newer entry stays dirty.
func (s *Store) MarkCleanAt(id string, v requisition.Version) {
	unlock := s.Lock(id)
	defer unlock()
	e, ok := s.Get(id)
	if !ok || !e.Dirty {
		return
	}
	if e.Version.Seq == v.Seq && e.Version.At.Equal(v.At) {
		e.Dirty = false
		s.Put(e)
	}
}

// Entries returns copies of every live entry sorted by id.
func (s *Store) Entries() []Entry {
	out := make([]Entry, 0, s.items.ItemCount())
	for _, item := range s.items.Items() {
		e := item.Object.(Entry)
		if e.Deleted {
			continue
		}
		out = append(out, e.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// IDs returns the ids of live entries, sorted.
func (s *Store) IDs() []string {
	entries := s.Entries()
	ids := make([]string, len(entries))
	for i, e := range entries {
		ids[i] = e.ID
	}
	return ids
}

// Stats describes the store contents.
type Stats struct {
	Live       int `json:"live"`
	Partial    int `json:"partial"`
	Dirty      int `json:"dirty"`
	Tombstones int `json:"tombstones"`
}

// Stats counts entries by state.
func (s *Store) Stats() Stats {
	var st Stats
	for _, item := range s.items.Items() {
		e := item.Object.(Entry)
		if e.Deleted {
			st.Tombstones++
			continue
		}
		st.Live++
		if e.Partial {
			st.Partial++
		}
		if e.Dirty {
			st.Dirty++
		}
	}
	return st
}

// Clear drops every entry.
func (s *Store) Clear() {
	s.items.Flush()
}
