package reqsync

import (
	"time"

	"github.com/rs/zerolog"

	"github.com/agentstation/reqsync/internal/clock"
	"github.com/agentstation/reqsync/pkg/constants"
	"github.com/agentstation/reqsync/pkg/errors"
	"github.com/agentstation/reqsync/pkg/events"
	"github.com/agentstation/reqsync/pkg/logging"
)

// Option is a function that configures a Manager.
type Option func(*config) error

// config holds the Manager settings resolved from options.
type config struct {
	channel         string
	kinds           map[events.Kind]struct{}
	pollInterval    time.Duration
	pollTimeout     time.Duration
	maxPollBackoff  time.Duration
	maxIDsPerPoll   int
	initialFallback bool
	tracked         []string
	clock           clock.Clock
	logger          *zerolog.Logger
}

// defaults returns the default configuration.
func defaults() *config {
	c := &config{
		channel:        constants.PurchaseRequestsChannel,
		kinds:          make(map[events.Kind]struct{}),
		pollInterval:   constants.DefaultPollInterval,
		pollTimeout:    constants.DefaultPollTimeout,
		maxPollBackoff: constants.MaxPollBackoff,
		maxIDsPerPoll:  constants.MaxIDsPerPoll,
		clock:          clock.Real(),
	}
	for _, k := range events.Kinds() {
		c.kinds[k] = struct{}{}
	}
	return c
}

// apply applies the given options and validates the result.
func (c *config) apply(opts ...Option) error {
	for _, opt := range opts {
		if err := opt(c); err != nil {
			return err
		}
	}
	if c.maxPollBackoff < c.pollInterval {
		c.maxPollBackoff = c.pollInterval
	}
	if c.logger == nil {
		c.logger = logging.Component("reqsync")
	}
	return nil
}

// WithChannel sets the channel whose events the manager accepts.
func WithChannel(channel string) Option {
	return func(c *config) error {
		if channel == "" {
			return errors.NewValidationError("channel", channel, "channel must not be empty")
		}
		c.channel = channel
		return nil
	}
}

// WithKinds restricts the accepted event kinds. Unknown kinds are rejected.
func WithKinds(kinds ...events.Kind) Option {
	return func(c *config) error {
		if len(kinds) == 0 {
			return errors.NewValidationError("kinds", kinds, "at least one kind is required")
		}
		set := make(map[events.Kind]struct{}, len(kinds))
		for _, k := range kinds {
			if !k.Known() {
				return errors.NewValidationError("kinds", k, "unknown event kind")
			}
			set[k] = struct{}{}
		}
		c.kinds = set
		return nil
	}
}

// WithPollInterval sets the fallback poll interval.
func WithPollInterval(interval time.Duration) Option {
	return func(c *config) error {
		if interval <= 0 {
			return errors.NewValidationError("pollInterval", interval, "poll interval must be positive")
		}
		c.pollInterval = interval
		return nil
	}
}

// WithPollTimeout bounds each fetch of a poll cycle. A fetch that exceeds it
// counts as a poll failure.
func WithPollTimeout(timeout time.Duration) Option {
	return func(c *config) error {
		if timeout <= 0 {
			return errors.NewValidationError("pollTimeout", timeout, "poll timeout must be positive")
		}
		c.pollTimeout = timeout
		return nil
	}
}

// WithMaxPollBackoff caps the poll delay after consecutive failures.
func WithMaxPollBackoff(limit time.Duration) Option {
	return func(c *config) error {
		if limit <= 0 {
			return errors.NewValidationError("maxPollBackoff", limit, "backoff limit must be positive")
		}
		c.maxPollBackoff = limit
		return nil
	}
}

// WithMaxIDsPerPoll splits poll cycles into fetches of at most n ids.
func WithMaxIDsPerPoll(n int) Option {
	return func(c *config) error {
		if n <= 0 {
			return errors.NewValidationError("maxIDsPerPoll", n, "batch size must be positive")
		}
		c.maxIDsPerPoll = n
		return nil
	}
}

// WithFallback sets the fallback mode the manager starts in.
func WithFallback(active bool) Option {
	return func(c *config) error {
		c.initialFallback = active
		return nil
	}
}

// WithTrackedIDs adds ids to poll even before any event mentions them.
func WithTrackedIDs(ids ...string) Option {
	return func(c *config) error {
		c.tracked = append(c.tracked, ids...)
		return nil
	}
}

// WithClock replaces the wall clock, mainly for tests.
func WithClock(clk clock.Clock) Option {
	return func(c *config) error {
		if clk == nil {
			return errors.NewValidationError("clock", nil, "clock must not be nil")
		}
		c.clock = clk
		return nil
	}
}

// WithLogger sets the logger.
func WithLogger(logger *zerolog.Logger) Option {
	return func(c *config) error {
		c.logger = logger
		return nil
	}
}
