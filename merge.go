package reqsync

import (
	"github.com/agentstation/reqsync/internal/cache"
	"github.com/agentstation/reqsync/pkg/events"
	"github.com/agentstation/reqsync/pkg/requisition"
)

// mutation is one candidate update for an entity, from a push event or a
// poll result. Exactly one of request, patch or delete is set.
type mutation struct {
	id      string
	version requisition.Version
	source  Source
	event   events.Kind

	request *requisition.PurchaseRequest
	patch   func(*requisition.PurchaseRequest)
	delete  bool
}

func setPhase(p events.PhaseChanged) func(*requisition.PurchaseRequest) {
	return func(pr *requisition.PurchaseRequest) { pr.Phase = p.To }
}

// merge is the only writer of the cache. It applies mut when its version
// strictly supersedes the cached one, holding the per-id lock so a push and
// a poll result for the same id never interleave.
func (m *Manager) merge(mut mutation) Outcome {
	unlock := m.store.Lock(mut.id)
	if m.closed.Load() {
		unlock()
		return OutcomeDisposed
	}

	cached, known := m.store.Get(mut.id)
	if known {
		if !mut.version.Newer(cached.Version) {
			unlock()
			return OutcomeStale
		}
		// Only a full representation brings a deleted request back.
		if cached.Deleted && mut.request == nil {
			unlock()
			return OutcomeStale
		}
	}

	next := cached
	if !known {
		next = cache.Entry{ID: mut.id, Request: requisition.PurchaseRequest{ID: mut.id}}
	}

	switch {
	case mut.delete:
		next.Deleted = true
	case mut.request != nil:
		next.Request = mut.request.Clone()
		next.Request.ID = mut.id
		next.Partial = false
		next.Deleted = false
	default:
		if !known {
			next.Partial = true
		}
		mut.patch(&next.Request)
	}

	if known {
		next.Version = cached.Version.Max(mut.version)
	} else {
		next.Version = mut.version
	}
	if next.Version.Seq != 0 {
		next.Request.Version = next.Version.Seq
	}
	if !next.Version.At.IsZero() {
		next.Request.UpdatedAt = next.Version.At
	}
	next.Dirty = true
	m.store.Put(next)
	unlock()

	visible := known && !cached.Deleted
	if mut.delete && !visible {
		return OutcomeApplied
	}

	change := Change{
		ID:     mut.id,
		Kind:   ChangeUpdated,
		Source: mut.source,
		Event:  mut.event,
		New:    fromCache(next),
	}
	switch {
	case mut.delete:
		change.Kind = ChangeDeleted
	case !visible:
		change.Kind = ChangeAdded
	}
	if visible {
		old := fromCache(cached)
		change.Old = &old
	}
	m.notify(change)
	return OutcomeApplied
}

// notify runs the change hooks. A panicking hook is logged and does not
// reach the caller of Process or the poll loop.
func (m *Manager) notify(c Change) {
	defer func() {
		if r := recover(); r != nil {
			m.logger.Error().
				Interface("panic", r).
				Str("entity_id", c.ID).
				Msg("Change hook panicked")
		}
	}()
	m.hooks.triggerChange(c)
}
