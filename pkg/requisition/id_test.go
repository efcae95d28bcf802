package requisition

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFlexID(t *testing.T) {
	tests := []struct {
		in      string
		want    FlexID
		wantErr bool
	}{
		{in: `"PR-1"`, want: "PR-1"},
		{in: `42`, want: "42"},
		{in: `null`, want: ""},
		{in: `true`, wantErr: true},
		{in: `{"id":1}`, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			var id FlexID
			err := json.Unmarshal([]byte(tt.in), &id)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, id)
		})
	}
}

func TestPurchaseRequestNumericID(t *testing.T) {
	var pr PurchaseRequest
	require.NoError(t, json.Unmarshal([]byte(`{"id":42,"title":"Desks","phase":"a1_approval","version":7}`), &pr))
	assert.Equal(t, "42", pr.ID)
	assert.Equal(t, "Desks", pr.Title)
	assert.Equal(t, PhaseA1Approval, pr.Phase)
	assert.Equal(t, int64(7), pr.Version)

	out, err := json.Marshal(pr)
	require.NoError(t, err)
	assert.Contains(t, string(out), `"id":"42"`)
}
