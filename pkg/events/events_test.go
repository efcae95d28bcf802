package events

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentstation/reqsync/pkg/errors"
	"github.com/agentstation/reqsync/pkg/requisition"
)

func seq(n int64) *int64 { return &n }

func TestValidate(t *testing.T) {
	tests := []struct {
		name  string
		env   Envelope
		field string
	}{
		{"missing channel", Envelope{Event: KindCreated}, "channel"},
		{"missing event", Envelope{Channel: "purchase-requests"}, "event"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.env.Validate()
			require.Error(t, err)
			assert.True(t, errors.IsMalformed(err))

			var me *errors.MalformedEventError
			require.ErrorAs(t, err, &me)
			assert.Equal(t, tt.field, me.Field)
		})
	}

	assert.NoError(t, Envelope{Channel: "c", Event: "x"}.Validate())
}

func TestParseFrame(t *testing.T) {
	single := `{"channel":"purchase-requests","event":"deleted","entityId":"7","sequence":3}`
	envs, err := ParseFrame([]byte(single))
	require.NoError(t, err)
	require.Len(t, envs, 1)
	assert.Equal(t, "7", envs[0].EntityID)
	assert.Equal(t, int64(3), envs[0].Version().Seq)

	batch := `[{"channel":"a","event":"created"},{"channel":"b","event":"updated"}]`
	envs, err = ParseFrame([]byte(batch))
	require.NoError(t, err)
	require.Len(t, envs, 2)
	assert.Equal(t, "b", envs[1].Channel)

	_, err = ParseFrame([]byte("  "))
	assert.True(t, errors.IsMalformed(err))
	_, err = ParseFrame([]byte("{not json"))
	assert.True(t, errors.IsMalformed(err))
}

func TestParseFrameNumericEntityID(t *testing.T) {
	envs, err := ParseFrame([]byte(`{"channel":"purchase-requests","event":"deleted","entityId":42,"sequence":7}`))
	require.NoError(t, err)
	require.Len(t, envs, 1)
	assert.Equal(t, "42", envs[0].EntityID)
	assert.Equal(t, int64(7), envs[0].Version().Seq)

	ev, err := Decode(envs[0])
	require.NoError(t, err)
	assert.Equal(t, "42", ev.EntityID)
}

func TestParseFrameKeepsValidBatchElements(t *testing.T) {
	batch := `[{"channel":"a","event":"deleted","entityId":1},{"channel":"a","event":"deleted","entityId":true},{"channel":"a","event":"updated","entityId":"3"}]`
	envs, err := ParseFrame([]byte(batch))
	assert.True(t, errors.IsMalformed(err))
	assert.Contains(t, err.Error(), "frame[1]")
	require.Len(t, envs, 2)
	assert.Equal(t, "1", envs[0].EntityID)
	assert.Equal(t, "3", envs[1].EntityID)
}

func TestDecodeCreatedNumericPayloadID(t *testing.T) {
	env := Envelope{
		Channel:  "purchase-requests",
		Event:    KindCreated,
		EntityID: "42",
		Payload:  json.RawMessage(`{"id":42,"title":"Chairs"}`),
		Sequence: seq(1),
	}
	ev, err := Decode(env)
	require.NoError(t, err)
	created, ok := ev.Payload.(Created)
	require.True(t, ok)
	assert.Equal(t, "42", created.Request.ID)
}

func TestDecodeCreated(t *testing.T) {
	at := time.Date(2025, 4, 1, 9, 0, 0, 0, time.UTC)
	env := Envelope{
		Channel:   "purchase-requests",
		Event:     KindCreated,
		Payload:   json.RawMessage(`{"id":"42","title":"Chairs","phase":"solicitation","amount":{"cents":5000,"currency":"USD"}}`),
		Sequence:  seq(1),
		Timestamp: at,
	}

	ev, err := Decode(env)
	require.NoError(t, err)
	assert.Equal(t, "42", ev.EntityID, "entity id taken from payload")
	assert.Equal(t, requisition.Version{Seq: 1, At: at}, ev.Version)

	created, ok := ev.Payload.(Created)
	require.True(t, ok)
	assert.Equal(t, "Chairs", created.Request.Title)
	assert.Equal(t, int64(5000), created.Request.Amount.Cents)
}

func TestDecodeCreatedIDMismatch(t *testing.T) {
	_, err := Decode(Envelope{
		Channel:  "purchase-requests",
		Event:    KindCreated,
		EntityID: "1",
		Payload:  json.RawMessage(`{"id":"2"}`),
	})
	assert.True(t, errors.IsMalformed(err))
}

func TestDecodeUpdated(t *testing.T) {
	ev, err := Decode(Envelope{
		Channel:  "purchase-requests",
		Event:    KindUpdated,
		EntityID: "9",
		Payload:  json.RawMessage(`{"title":"New title"}`),
		Sequence: seq(4),
	})
	require.NoError(t, err)
	up, ok := ev.Payload.(Updated)
	require.True(t, ok)
	require.NotNil(t, up.Patch.Title)
	assert.Equal(t, "New title", *up.Patch.Title)
	assert.Nil(t, up.Patch.Phase)

	_, err = Decode(Envelope{
		Channel:  "purchase-requests",
		Event:    KindUpdated,
		EntityID: "9",
		Payload:  json.RawMessage(`{"phase":"shipping"}`),
	})
	assert.True(t, errors.IsMalformed(err))
}

func TestDecodePhaseChanged(t *testing.T) {
	ev, err := Decode(Envelope{
		Channel:  "approvals",
		Event:    KindPhaseChanged,
		EntityID: "3",
		Payload:  json.RawMessage(`{"from":"a1_approval","to":"a2_approval","actor":"dana"}`),
	})
	require.NoError(t, err)
	pc := ev.Payload.(PhaseChanged)
	assert.Equal(t, requisition.PhaseA2Approval, pc.To)
	assert.Equal(t, "dana", pc.Actor)

	_, err = Decode(Envelope{Channel: "approvals", Event: KindPhaseChanged, EntityID: "3"})
	var me *errors.MalformedEventError
	require.ErrorAs(t, err, &me)
	assert.Equal(t, "payload", me.Field)
}

func TestDecodeDeletedWithoutPayload(t *testing.T) {
	ev, err := Decode(Envelope{Channel: "purchase-requests", Event: KindDeleted, EntityID: "5"})
	require.NoError(t, err)
	assert.Equal(t, Deleted{}, ev.Payload)
}

func TestDecodeRequiresEntityID(t *testing.T) {
	_, err := Decode(Envelope{Channel: "purchase-requests", Event: KindDeleted})
	var me *errors.MalformedEventError
	require.ErrorAs(t, err, &me)
	assert.Equal(t, "entityId", me.Field)
}

func TestDecodeUnknownKind(t *testing.T) {
	ev, err := Decode(Envelope{
		Channel:  "purchase-requests",
		Event:    "approvals_update",
		EntityID: "5",
		Payload:  json.RawMessage(`{"x":1}`),
	})
	require.NoError(t, err)
	u, ok := ev.Payload.(Unrecognized)
	require.True(t, ok)
	assert.Equal(t, Kind("approvals_update"), u.EventKind())
	assert.False(t, ev.Kind.Known())
}

func TestEncodeDecode(t *testing.T) {
	at := time.Date(2025, 4, 2, 0, 0, 0, 0, time.UTC)
	ev := New("approvals", "11", 8, at, PhaseChanged{From: requisition.PhaseQuotation, To: requisition.PhasePurchaseOrder})

	env, err := Encode(ev)
	require.NoError(t, err)
	assert.Equal(t, KindPhaseChanged, env.Event)
	require.NotNil(t, env.Sequence)
	assert.Equal(t, int64(8), *env.Sequence)

	raw, err := json.Marshal(env)
	require.NoError(t, err)
	envs, err := ParseFrame(raw)
	require.NoError(t, err)

	back, err := Decode(envs[0])
	require.NoError(t, err)
	assert.Equal(t, ev.EntityID, back.EntityID)
	assert.Equal(t, ev.Payload, back.Payload)
	assert.True(t, ev.Version.At.Equal(back.Version.At))
}
