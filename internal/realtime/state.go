package realtime

import "github.com/agentstation/reqsync/pkg/health"

// State is the connection state machine:
// Connecting → Connected → {Reconnecting → Connected | Offline}, and Closed
// once the transport stops.
type State int

// States.
const (
	StateConnecting State = iota
	StateConnected
	StateReconnecting
	StateOffline
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateReconnecting:
		return "reconnecting"
	case StateOffline:
		return "offline"
	case StateClosed:
		return "closed"
	}
	return "unknown"
}

// Health maps the state to the coarse signal consumers act on.
func (s State) Health() health.Health {
	switch s {
	case StateConnected:
		return health.Connected
	case StateConnecting, StateReconnecting:
		return health.Reconnecting
	}
	return health.Offline
}
