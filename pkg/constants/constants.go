// Package constants provides shared constants used throughout the reqsync codebase.
// This includes the default channel name, realtime timing, polling cadence,
// and file permissions that should be consistent across the application.
package constants

import "time"

// Channel constants
const (
	// PurchaseRequestsChannel is the event channel carrying purchase-request mutations
	PurchaseRequestsChannel = "purchase-requests"

	// ApprovalsChannel carries approvals_update-class events used by push notifications
	ApprovalsChannel = "approvals"
)

// Realtime transport constants
const (
	// ReconnectBaseDelay is the first backoff delay after a dropped connection
	ReconnectBaseDelay = 1 * time.Second

	// ReconnectMaxDelay caps the exponential backoff between dial attempts
	ReconnectMaxDelay = 30 * time.Second

	// MaxReconnectAttempts is the number of consecutive dial failures before reporting offline
	MaxReconnectAttempts = 5

	// WriteTimeout is the time allowed to write a frame to the peer
	WriteTimeout = 10 * time.Second

	// PongTimeout is the time allowed to read the next pong or frame from the peer
	PongTimeout = 60 * time.Second

	// PingInterval is how often pings are sent. Must be less than PongTimeout.
	PingInterval = (PongTimeout * 9) / 10

	// MaxFrameSize is the maximum inbound frame size in bytes
	MaxFrameSize = 1 << 20

	// HandshakeTimeout bounds the WebSocket opening handshake
	HandshakeTimeout = 10 * time.Second
)

// Fallback polling constants
const (
	// DefaultPollInterval is the interval between fallback polls while push delivery is degraded
	DefaultPollInterval = 15 * time.Second

	// DefaultPollTimeout bounds a single fallback poll request
	DefaultPollTimeout = 10 * time.Second

	// MaxPollBackoff caps the poll interval growth after consecutive failures
	MaxPollBackoff = 2 * time.Minute

	// PollRequestsPerSecond paces outbound poll requests from the HTTP fetcher
	PollRequestsPerSecond = 2

	// MaxIDsPerPoll is the largest id batch sent in one poll request
	MaxIDsPerPoll = 200
)

// Timeout constants
const (
	// DefaultHTTPTimeout is the standard timeout for HTTP requests
	DefaultHTTPTimeout = 30 * time.Second

	// ShutdownTimeout bounds graceful shutdown of long-running commands
	ShutdownTimeout = 5 * time.Second
)

// File permission constants define standard Unix file permissions
const (
	// DirPermissions is the default permission for created directories (rwxr-xr-x)
	DirPermissions = 0755

	// FilePermissions is the default permission for created files (rw-r--r--)
	FilePermissions = 0644
)

// Buffer constants
const (
	// BroadcastBufferSize is the dev server's broadcast queue depth
	BroadcastBufferSize = 256

	// ClientSendBufferSize is the per-client outbound queue depth on the dev server
	ClientSendBufferSize = 256
)
