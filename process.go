package reqsync

import (
	"github.com/agentstation/reqsync/pkg/errors"
	"github.com/agentstation/reqsync/pkg/events"
)

// Outcome reports what Process did with an event.
type Outcome int

// Outcomes.
const (
	// OutcomeApplied means the event superseded the cached version.
	OutcomeApplied Outcome = iota
	// OutcomeStale means the cached version was equal or newer.
	OutcomeStale
	// OutcomeMalformed means the event failed shape validation.
	OutcomeMalformed
	// OutcomeIrrelevant means the channel or kind is not accepted.
	OutcomeIrrelevant
	// OutcomeDisposed means the manager was already disposed.
	OutcomeDisposed
)

func (o Outcome) String() string {
	switch o {
	case OutcomeApplied:
		return "applied"
	case OutcomeStale:
		return "stale"
	case OutcomeMalformed:
		return "malformed"
	case OutcomeIrrelevant:
		return "irrelevant"
	case OutcomeDisposed:
		return "disposed"
	}
	return "unknown"
}

// Process validates, filters and decodes env, then merges it into the cache.
// Malformed input is logged and dropped; Process never fails.
func (m *Manager) Process(env events.Envelope) Outcome {
	if m.closed.Load() {
		return OutcomeDisposed
	}
	if err := env.Validate(); err != nil {
		return m.reject(err)
	}
	if !m.relevant(env.Channel, env.Event) {
		return m.count(OutcomeIrrelevant)
	}
	ev, err := events.Decode(env)
	if err != nil {
		return m.reject(err)
	}
	return m.apply(ev)
}

// ProcessEvent merges an already decoded event. Its shape is validated again.
func (m *Manager) ProcessEvent(ev events.Event) Outcome {
	if m.closed.Load() {
		return OutcomeDisposed
	}
	if err := validateEvent(ev); err != nil {
		return m.reject(err)
	}
	if !m.relevant(ev.Channel, ev.Kind) {
		return m.count(OutcomeIrrelevant)
	}
	return m.apply(ev)
}

func validateEvent(ev events.Event) error {
	ch, kind := ev.Channel, string(ev.Kind)
	switch {
	case ev.Channel == "":
		return errors.NewMalformedEventError(ch, kind, "channel", "is required")
	case ev.Kind == "":
		return errors.NewMalformedEventError(ch, kind, "event", "is required")
	case ev.EntityID == "":
		return errors.NewMalformedEventError(ch, kind, "entityId", "is required")
	case ev.Payload == nil:
		return errors.NewMalformedEventError(ch, kind, "payload", "is required")
	case ev.Payload.EventKind() != ev.Kind:
		return errors.NewMalformedEventError(ch, kind, "payload", "does not match event kind "+string(ev.Payload.EventKind()))
	}
	if c, ok := ev.Payload.(events.Created); ok && c.Request.ID != "" && c.Request.ID != ev.EntityID {
		return errors.NewMalformedEventError(ch, kind, "entityId", "does not match payload id "+c.Request.ID)
	}
	return nil
}

func (m *Manager) relevant(channel string, kind events.Kind) bool {
	if channel != m.cfg.channel {
		return false
	}
	_, ok := m.cfg.kinds[kind]
	return ok
}

func (m *Manager) apply(ev events.Event) Outcome {
	mut := mutation{
		id:      ev.EntityID,
		version: ev.Version,
		source:  SourcePush,
		event:   ev.Kind,
	}
	switch p := ev.Payload.(type) {
	case events.Created:
		req := p.Request
		mut.request = &req
	case events.Updated:
		mut.patch = p.Patch.Apply
	case events.PhaseChanged:
		mut.patch = setPhase(p)
	case events.Deleted:
		mut.delete = true
	default:
		return m.count(OutcomeIrrelevant)
	}

	out := m.merge(mut)
	m.logger.Debug().
		Str("entity_id", ev.EntityID).
		Str("event", string(ev.Kind)).
		Int64("seq", ev.Version.Seq).
		Stringer("outcome", out).
		Msg("Processed event")
	return m.count(out)
}

func (m *Manager) reject(err error) Outcome {
	m.logger.Warn().Err(err).Msg("Discarding malformed event")
	return m.count(OutcomeMalformed)
}

func (m *Manager) count(o Outcome) Outcome {
	switch o {
	case OutcomeApplied:
		m.applied.Add(1)
	case OutcomeStale:
		m.stale.Add(1)
	case OutcomeMalformed:
		m.malformed.Add(1)
	case OutcomeIrrelevant:
		m.irrelevant.Add(1)
	}
	return o
}
