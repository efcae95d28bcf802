// Package events defines the wire envelope of realtime notifications and the
// typed event union decoded from it.
//
// An Envelope is what arrives on the socket. Decode turns it into an Event
// whose Payload is one concrete type per Kind, so consumers switch on the
// payload type instead of probing untyped JSON.
package events

import (
	"bytes"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"time"

	"github.com/agentstation/reqsync/pkg/errors"
	"github.com/agentstation/reqsync/pkg/requisition"
)

// Kind is the event discriminator carried in the "event" field.
type Kind string

// Known event kinds.
const (
	KindCreated      Kind = "created"
	KindUpdated      Kind = "updated"
	KindPhaseChanged Kind = "phase_changed"
	KindDeleted      Kind = "deleted"
)

// Kinds returns every kind the decoder understands.
func Kinds() []Kind {
	return []Kind{KindCreated, KindUpdated, KindPhaseChanged, KindDeleted}
}

// Known reports whether k is one of Kinds.
func (k Kind) Known() bool {
	switch k {
	case KindCreated, KindUpdated, KindPhaseChanged, KindDeleted:
		return true
	}
	return false
}

func (k Kind) String() string { return string(k) }

// Envelope is the inbound notification as sent by the server.
type Envelope struct {
	Channel   string          `json:"channel"`
	Event     Kind            `json:"event"`
	EntityID  string          `json:"entityId,omitempty"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	Sequence  *int64          `json:"sequence,omitempty"`
	Timestamp time.Time       `json:"timestamp,omitzero"`
}

// UnmarshalJSON accepts a numeric entityId as well as a string one.
func (e *Envelope) UnmarshalJSON(data []byte) error {
	type plain Envelope
	aux := struct {
		*plain
		EntityID requisition.FlexID `json:"entityId,omitempty"`
	}{plain: (*plain)(e)}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	e.EntityID = string(aux.EntityID)
	return nil
}

// Validate checks the envelope shape. Objects without a channel or event name
// are malformed.
func (e Envelope) Validate() error {
	if e.Channel == "" {
		return errors.NewMalformedEventError(e.Channel, string(e.Event), "channel", "is required")
	}
	if e.Event == "" {
		return errors.NewMalformedEventError(e.Channel, string(e.Event), "event", "is required")
	}
	return nil
}

// Version returns the marker carried by the envelope.
func (e Envelope) Version() requisition.Version {
	v := requisition.Version{At: e.Timestamp}
	if e.Sequence != nil {
		v.Seq = *e.Sequence
	}
	return v
}

// ParseFrame decodes one socket frame. A frame holds either a single
// envelope object or an array of them. Array elements decode independently:
// the valid ones are returned alongside an error naming the ones dropped.
func ParseFrame(data []byte) ([]Envelope, error) {
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return nil, errors.NewMalformedEventError("", "", "frame", "is empty")
	}
	if data[0] == '[' {
		var raw []json.RawMessage
		if err := json.Unmarshal(data, &raw); err != nil {
			return nil, wrapJSON("", "", "frame", err)
		}
		batch := make([]Envelope, 0, len(raw))
		var errs []error
		for i, elem := range raw {
			var env Envelope
			if err := json.Unmarshal(elem, &env); err != nil {
				errs = append(errs, wrapJSON("", "", fmt.Sprintf("frame[%d]", i), err))
				continue
			}
			batch = append(batch, env)
		}
		return batch, stderrors.Join(errs...)
	}
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, wrapJSON("", "", "frame", err)
	}
	return []Envelope{env}, nil
}

func wrapJSON(channel, event, field string, err error) error {
	msg := "invalid JSON: " + err.Error()
	if err == errors.ErrInvalidInput {
		msg = "is required"
	}
	return &errors.MalformedEventError{
		Channel: channel,
		Event:   event,
		Field:   field,
		Message: msg,
		Err:     err,
	}
}
