package app

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentstation/reqsync/pkg/constants"
)

func isolate(t *testing.T) {
	t.Helper()
	t.Setenv("HOME", t.TempDir())
	t.Chdir(t.TempDir())
}

// TestLoadConfig verifies defaults.
func TestLoadConfig(t *testing.T) {
	isolate(t)
	config, err := LoadConfig()
	require.NoError(t, err)

	assert.Equal(t, DefaultServerURL, config.ServerURL)
	assert.Equal(t, "bearer", config.Auth)
	assert.Equal(t, constants.PurchaseRequestsChannel, config.Channel)
	assert.Equal(t, constants.DefaultPollInterval, config.PollInterval)
	assert.Equal(t, constants.MaxReconnectAttempts, config.MaxReconnectAttempts)
	assert.Equal(t, "auto", config.LogFormat)
	assert.Empty(t, config.ConfigFile)
}

// TestConfig_EnvironmentVariables verifies REQSYNC_* loading.
func TestConfig_EnvironmentVariables(t *testing.T) {
	isolate(t)
	t.Setenv("REQSYNC_SERVER_URL", "https://pr.example.com")
	t.Setenv("REQSYNC_TOKEN", "abc")
	t.Setenv("REQSYNC_POLL_INTERVAL", "45s")
	t.Setenv("REQSYNC_FORMAT", "yaml")
	t.Setenv("REQSYNC_VERBOSE", "true")

	config, err := LoadConfig()
	require.NoError(t, err)
	assert.Equal(t, "https://pr.example.com", config.ServerURL)
	assert.Equal(t, "abc", config.Token)
	assert.Equal(t, 45*time.Second, config.PollInterval)
	assert.Equal(t, "yaml", config.Format)
	assert.True(t, config.Verbose)
}

// TestConfig_File verifies the YAML config file and env precedence over it.
func TestConfig_File(t *testing.T) {
	isolate(t)
	path := filepath.Join(t.TempDir(), "reqsync.yaml")
	require.NoError(t, os.WriteFile(path, []byte("server_url: http://file:9000\nchannel: custom\nmax_reconnect_attempts: 3\n"), 0o600))
	t.Setenv("REQSYNC_CHANNEL", "from-env")

	config, err := loadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, "http://file:9000", config.ServerURL)
	assert.Equal(t, "from-env", config.Channel)
	assert.Equal(t, 3, config.MaxReconnectAttempts)
	assert.Equal(t, path, config.ConfigFile)
}

func TestConfig_MissingExplicitFile(t *testing.T) {
	isolate(t)
	_, err := loadConfig(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestConfig_DotEnv(t *testing.T) {
	isolate(t)
	require.NoError(t, os.WriteFile(".env", []byte("REQSYNC_TOKEN=from-dotenv\n"), 0o600))
	t.Cleanup(func() { _ = os.Unsetenv("REQSYNC_TOKEN") })

	config, err := LoadConfig()
	require.NoError(t, err)
	assert.Equal(t, "from-dotenv", config.Token)
}

func TestUpdateFromFlags(t *testing.T) {
	c := &Config{Format: "json", LogLevel: "warn"}
	c.UpdateFromFlags(true, false, true, "", "")
	assert.True(t, c.Verbose)
	assert.True(t, c.NoColor)
	assert.Equal(t, "json", c.Format, "empty flag keeps the loaded value")
	assert.Equal(t, "warn", c.LogLevel)

	c.UpdateFromFlags(false, false, false, "yaml", "debug")
	assert.Equal(t, "yaml", c.Format)
	assert.Equal(t, "debug", c.LogLevel)
}
