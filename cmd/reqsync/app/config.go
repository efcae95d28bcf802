package app

import (
	stderrors "errors"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/agentstation/reqsync/pkg/constants"
)

// EnvPrefix prefixes every environment variable read by the CLI.
const EnvPrefix = "REQSYNC"

// DefaultServerURL is the dev server started by `reqsync serve`.
const DefaultServerURL = "http://localhost:8080"

// Config holds the application configuration loaded from various sources
// including config files, environment variables, and .env files.
type Config struct {
	// Global flags
	Verbose bool
	Quiet   bool
	NoColor bool
	Format  string

	// Config file
	ConfigFile string

	// Connection
	ServerURL string
	WSURL     string
	Token     string
	Auth      string
	Channel   string

	// Polling
	PollInterval time.Duration
	PollTimeout  time.Duration

	// Reconnect
	ReconnectBaseDelay   time.Duration
	ReconnectMaxDelay    time.Duration
	MaxReconnectAttempts int

	// Logging configuration
	LogLevel  string
	LogFormat string
	LogOutput string
}

// LoadConfig loads configuration from all sources in order of precedence:
//  1. Command-line flags (handled by cobra)
//  2. Environment variables (REQSYNC_*)
//  3. .env files
//  4. Config file (~/.reqsync.yaml)
//  5. Defaults
func LoadConfig() (*Config, error) {
	return loadConfig(os.Getenv(EnvPrefix + "_CONFIG"))
}

func loadConfig(configFile string) (*Config, error) {
	// Load .env files first (before Viper env binding)
	loadEnvFiles()

	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()
	setDefaults(v)

	if configFile != "" {
		v.SetConfigFile(configFile)
	} else {
		if home, err := os.UserHomeDir(); err == nil {
			v.AddConfigPath(home)
		}
		v.AddConfigPath(".")
		v.SetConfigType("yaml")
		v.SetConfigName(".reqsync")
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		// An explicit file that cannot be read is an error; a missing
		// default file is not.
		if configFile != "" || !stderrors.As(err, &notFound) {
			return nil, err
		}
	}

	return &Config{
		Verbose: v.GetBool("verbose"),
		Quiet:   v.GetBool("quiet"),
		NoColor: v.GetBool("no_color"),
		Format:  v.GetString("format"),

		ConfigFile: v.ConfigFileUsed(),

		ServerURL: v.GetString("server_url"),
		WSURL:     v.GetString("ws_url"),
		Token:     v.GetString("token"),
		Auth:      v.GetString("auth"),
		Channel:   v.GetString("channel"),

		PollInterval: v.GetDuration("poll_interval"),
		PollTimeout:  v.GetDuration("poll_timeout"),

		ReconnectBaseDelay:   v.GetDuration("reconnect_base_delay"),
		ReconnectMaxDelay:    v.GetDuration("reconnect_max_delay"),
		MaxReconnectAttempts: v.GetInt("max_reconnect_attempts"),

		LogLevel:  getEnvOrDefault("LOG_LEVEL", ""),
		LogFormat: getEnvOrDefault("LOG_FORMAT", "auto"),
		LogOutput: getEnvOrDefault("LOG_OUTPUT", "stderr"),
	}, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server_url", DefaultServerURL)
	v.SetDefault("auth", "bearer")
	v.SetDefault("channel", constants.PurchaseRequestsChannel)
	v.SetDefault("poll_interval", constants.DefaultPollInterval)
	v.SetDefault("poll_timeout", constants.DefaultPollTimeout)
	v.SetDefault("reconnect_base_delay", constants.ReconnectBaseDelay)
	v.SetDefault("reconnect_max_delay", constants.ReconnectMaxDelay)
	v.SetDefault("max_reconnect_attempts", constants.MaxReconnectAttempts)
}

// UpdateFromFlags updates config values from parsed command flags.
// This should be called after cobra parses flags to ensure flag
// values take precedence over config file and env vars.
func (c *Config) UpdateFromFlags(verbose, quiet, noColor bool, format, logLevel string) {
	c.Verbose = verbose
	c.Quiet = quiet
	c.NoColor = noColor
	if format != "" {
		c.Format = format
	}
	if logLevel != "" {
		c.LogLevel = logLevel
	}
}

// loadEnvFiles loads environment variables from .env files. Values already
// in the environment win.
func loadEnvFiles() {
	for _, envFile := range []string{".env.local", ".env"} {
		_ = godotenv.Load(envFile)
	}
}

// getEnvOrDefault returns the environment variable value or the default if not set.
func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
