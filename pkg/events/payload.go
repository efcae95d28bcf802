package events

import (
	"encoding/json"
	"time"

	"github.com/agentstation/reqsync/pkg/errors"
	"github.com/agentstation/reqsync/pkg/requisition"
)

// Event is a decoded notification about one purchase request.
type Event struct {
	Channel  string
	Kind     Kind
	EntityID string
	Version  requisition.Version
	Payload  Payload
}

// Payload is implemented by the concrete payload of every kind.
type Payload interface {
	EventKind() Kind
}

// Created carries the full representation of a new request.
type Created struct {
	Request requisition.PurchaseRequest
}

// Updated carries a partial field update.
type Updated struct {
	Patch requisition.Patch
}

// PhaseChanged records a workflow transition.
type PhaseChanged struct {
	From    requisition.Phase `json:"from,omitempty"`
	To      requisition.Phase `json:"to"`
	Actor   string            `json:"actor,omitempty"`
	Comment string            `json:"comment,omitempty"`
}

// Deleted marks the request as removed.
type Deleted struct {
	Reason string `json:"reason,omitempty"`
}

// Unrecognized holds the raw payload of a kind the decoder does not know.
type Unrecognized struct {
	Kind Kind
	Raw  json.RawMessage
}

func (Created) EventKind() Kind        { return KindCreated }
func (Updated) EventKind() Kind        { return KindUpdated }
func (PhaseChanged) EventKind() Kind   { return KindPhaseChanged }
func (Deleted) EventKind() Kind        { return KindDeleted }
func (u Unrecognized) EventKind() Kind { return u.Kind }

// Decode validates env and decodes its payload according to its kind.
// Failures are *errors.MalformedEventError.
func Decode(env Envelope) (Event, error) {
	if err := env.Validate(); err != nil {
		return Event{}, err
	}

	ev := Event{
		Channel:  env.Channel,
		Kind:     env.Event,
		EntityID: env.EntityID,
		Version:  env.Version(),
	}
	ch, kind := env.Channel, string(env.Event)

	switch env.Event {
	case KindCreated:
		var pr requisition.PurchaseRequest
		if err := unmarshal(env.Payload, &pr, true); err != nil {
			return Event{}, wrapJSON(ch, kind, "payload", err)
		}
		switch {
		case ev.EntityID == "":
			ev.EntityID = pr.ID
		case pr.ID == "":
			pr.ID = ev.EntityID
		case pr.ID != ev.EntityID:
			return Event{}, errors.NewMalformedEventError(ch, kind, "entityId", "does not match payload id "+pr.ID)
		}
		ev.Payload = Created{Request: pr}

	case KindUpdated:
		var p requisition.Patch
		if err := unmarshal(env.Payload, &p, false); err != nil {
			return Event{}, wrapJSON(ch, kind, "payload", err)
		}
		if p.Phase != nil && !p.Phase.Valid() {
			return Event{}, errors.NewMalformedEventError(ch, kind, "payload.phase", "unknown phase "+string(*p.Phase))
		}
		ev.Payload = Updated{Patch: p}

	case KindPhaseChanged:
		var pc PhaseChanged
		if err := unmarshal(env.Payload, &pc, true); err != nil {
			return Event{}, wrapJSON(ch, kind, "payload", err)
		}
		if !pc.To.Valid() {
			return Event{}, errors.NewMalformedEventError(ch, kind, "payload.to", "unknown phase "+string(pc.To))
		}
		ev.Payload = pc

	case KindDeleted:
		var d Deleted
		if err := unmarshal(env.Payload, &d, false); err != nil {
			return Event{}, wrapJSON(ch, kind, "payload", err)
		}
		ev.Payload = d

	default:
		ev.Payload = Unrecognized{Kind: env.Event, Raw: env.Payload}
	}

	if ev.EntityID == "" {
		return Event{}, errors.NewMalformedEventError(ch, kind, "entityId", "is required")
	}
	return ev, nil
}

// Encode builds the wire envelope for ev.
func Encode(ev Event) (Envelope, error) {
	env := Envelope{
		Channel:   ev.Channel,
		Event:     ev.Kind,
		EntityID:  ev.EntityID,
		Timestamp: ev.Version.At,
	}
	if ev.Version.Seq != 0 {
		seq := ev.Version.Seq
		env.Sequence = &seq
	}

	var body any
	switch p := ev.Payload.(type) {
	case Created:
		body = p.Request
	case Updated:
		body = p.Patch
	case Unrecognized:
		env.Payload = p.Raw
	case nil:
	default:
		body = p
	}
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return Envelope{}, errors.WrapValidation("payload", err)
		}
		env.Payload = raw
	}
	if env.Event == "" && ev.Payload != nil {
		env.Event = ev.Payload.EventKind()
	}
	return env, env.Validate()
}

// New builds an event for entity id with the given marker.
func New(channel, id string, seq int64, at time.Time, p Payload) Event {
	return Event{
		Channel:  channel,
		Kind:     p.EventKind(),
		EntityID: id,
		Version:  requisition.Version{Seq: seq, At: at},
		Payload:  p,
	}
}

func unmarshal(raw json.RawMessage, v any, required bool) error {
	if len(raw) == 0 || string(raw) == "null" {
		if required {
			return errors.ErrInvalidInput
		}
		return nil
	}
	return json.Unmarshal(raw, v)
}
