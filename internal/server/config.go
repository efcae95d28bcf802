package server

import (
	"net"
	"strconv"
	"time"

	"github.com/agentstation/reqsync/pkg/constants"
)

// Config holds server configuration.
type Config struct {
	// Server settings
	Host string
	Port int

	// API settings
	PathPrefix string

	// Event channels. An empty ApprovalsChannel disables the approvals
	// mirror.
	Channel          string
	ApprovalsChannel string

	// CORS settings
	CORSEnabled bool
	CORSOrigins []string

	// Authentication settings
	AuthEnabled bool
	AuthToken   string
	AuthHeader  string

	// Performance settings
	RateLimit int // Requests per minute per IP (0 to disable)
	CacheTTL  time.Duration

	// HTTP timeouts. WriteTimeout also bounds SSE streams, so it defaults
	// to zero.
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration

	// Mock traffic
	SeedCount        int
	Seed             uint64
	GenerateInterval time.Duration // 0 disables the background generator
	MaxOpen          int
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		Host:             "localhost",
		Port:             8080,
		PathPrefix:       "/api",
		Channel:          constants.PurchaseRequestsChannel,
		ApprovalsChannel: constants.ApprovalsChannel,
		CORSEnabled:      false,
		CORSOrigins:      []string{},
		AuthEnabled:      false,
		AuthHeader:       "X-API-Key",
		RateLimit:        0,
		CacheTTL:         5 * time.Minute,
		ReadTimeout:      10 * time.Second,
		IdleTimeout:      120 * time.Second,
		SeedCount:        5,
		GenerateInterval: 2 * time.Second,
		MaxOpen:          25,
	}
}

// Addr returns the listen address.
func (c Config) Addr() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}
