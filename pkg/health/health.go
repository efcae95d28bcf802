// Package health defines the connection health signal shared by the realtime
// transport and the update manager.
package health

import "fmt"

// Health is the coarse connection state reported to consumers.
type Health int

// Health values.
const (
	Connected Health = iota
	Reconnecting
	Offline
)

func (h Health) String() string {
	switch h {
	case Connected:
		return "connected"
	case Reconnecting:
		return "reconnecting"
	case Offline:
		return "offline"
	}
	return fmt.Sprintf("health(%d)", int(h))
}

// Degraded reports whether push delivery should not be trusted.
func (h Health) Degraded() bool {
	return h != Connected
}

// MarshalText renders the health name.
func (h Health) MarshalText() ([]byte, error) {
	return []byte(h.String()), nil
}

// UnmarshalText parses a health name.
func (h *Health) UnmarshalText(b []byte) error {
	p, err := Parse(string(b))
	if err != nil {
		return err
	}
	*h = p
	return nil
}

// Parse parses a health name.
func Parse(s string) (Health, error) {
	switch s {
	case "connected", "online":
		return Connected, nil
	case "reconnecting":
		return Reconnecting, nil
	case "offline":
		return Offline, nil
	}
	return 0, fmt.Errorf("unknown health %q", s)
}

// Source is anything that reports connection health.
type Source interface {
	Health() Health
	OnHealth(fn func(Health)) (cancel func())
}
