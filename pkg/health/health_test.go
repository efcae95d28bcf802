package health

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestString(t *testing.T) {
	assert.Equal(t, "connected", Connected.String())
	assert.Equal(t, "reconnecting", Reconnecting.String())
	assert.Equal(t, "offline", Offline.String())
	assert.Equal(t, "health(9)", Health(9).String())
}

func TestDegraded(t *testing.T) {
	assert.False(t, Connected.Degraded())
	assert.True(t, Reconnecting.Degraded())
	assert.True(t, Offline.Degraded())
}

func TestJSON(t *testing.T) {
	b, err := json.Marshal(map[string]Health{"h": Reconnecting})
	require.NoError(t, err)
	assert.JSONEq(t, `{"h":"reconnecting"}`, string(b))

	var out map[string]Health
	require.NoError(t, json.Unmarshal([]byte(`{"h":"online"}`), &out))
	assert.Equal(t, Connected, out["h"])

	assert.Error(t, json.Unmarshal([]byte(`{"h":"bogus"}`), &out))
}
