// Package realtime maintains the WebSocket connection to the server's event
// channel. It fans envelopes out to per-channel subscribers, reconnects with
// jittered exponential backoff, and reports connection health.
//
// Delivery is best effort: envelopes from one connection reach subscribers
// synchronously and in receipt order, and anything sent while disconnected is
// lost. Consumers reconcile gaps by polling while health is degraded.
package realtime

import (
	"context"
	stderrors "errors"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/agentstation/reqsync/internal/clock"
	"github.com/agentstation/reqsync/pkg/constants"
	"github.com/agentstation/reqsync/pkg/errors"
	"github.com/agentstation/reqsync/pkg/events"
	"github.com/agentstation/reqsync/pkg/health"
	"github.com/agentstation/reqsync/pkg/logging"
)

// ErrRunning is returned by Run when the transport is already running.
var ErrRunning = stderrors.New("realtime: transport already running")

// Config holds the connection parameters. Zero durations take the defaults
// from pkg/constants.
type Config struct {
	URL   string
	Token string

	BaseDelay   time.Duration
	MaxDelay    time.Duration
	MaxAttempts int

	PingInterval     time.Duration
	PongTimeout      time.Duration
	// StableAfter is how long a connection must stay up before its close
	// stops counting toward the backoff. Defaults to PingInterval.
	StableAfter      time.Duration
	WriteTimeout     time.Duration
	HandshakeTimeout time.Duration
	MaxFrameSize     int64
}

func (c *Config) setDefaults() {
	if c.BaseDelay <= 0 {
		c.BaseDelay = constants.ReconnectBaseDelay
	}
	if c.MaxDelay <= 0 {
		c.MaxDelay = constants.ReconnectMaxDelay
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = constants.MaxReconnectAttempts
	}
	if c.PongTimeout <= 0 {
		c.PongTimeout = constants.PongTimeout
	}
	if c.PingInterval <= 0 || c.PingInterval >= c.PongTimeout {
		c.PingInterval = c.PongTimeout * 9 / 10
	}
	if c.StableAfter <= 0 {
		c.StableAfter = c.PingInterval
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = constants.WriteTimeout
	}
	if c.HandshakeTimeout <= 0 {
		c.HandshakeTimeout = constants.HandshakeTimeout
	}
	if c.MaxFrameSize <= 0 {
		c.MaxFrameSize = constants.MaxFrameSize
	}
}

// Option configures a Transport.
type Option func(*Transport)

// WithLogger sets the logger.
func WithLogger(logger *zerolog.Logger) Option {
	return func(t *Transport) { t.logger = logger }
}

// WithClock sets the clock used for backoff waits.
func WithClock(c clock.Clock) Option {
	return func(t *Transport) { t.clock = c }
}

// WithDialer replaces the WebSocket dialer.
func WithDialer(d *websocket.Dialer) Option {
	return func(t *Transport) { t.dialer = d }
}

// WithJitter replaces the random part of the backoff.
func WithJitter(fn func(limit time.Duration) time.Duration) Option {
	return func(t *Transport) { t.backoff.Jitter = fn }
}

// Transport is one logical event stream over a reconnecting WebSocket.
type Transport struct {
	cfg     Config
	dialer  *websocket.Dialer
	backoff Backoff
	clock   clock.Clock
	logger  *zerolog.Logger
	reg     *registry

	mu       sync.Mutex
	state    State
	cancel   context.CancelFunc
	running  bool
	closed   bool
	done     chan struct{}
	doneOnce sync.Once
	lastErr  error
	upSince  time.Time

	// writeMu serializes control frame writes on the live connection.
	writeMu sync.Mutex

	connects     atomic.Int64
	dialFailures atomic.Int64
	frames       atomic.Int64
	delivered    atomic.Int64
	malformed    atomic.Int64
	dropped      atomic.Int64
}

// Compile-time check that a Transport can drive fallback mode.
var _ health.Source = (*Transport)(nil)

// New creates a Transport. It does not connect until Run is called.
func New(cfg Config, opts ...Option) *Transport {
	cfg.setDefaults()
	t := &Transport{
		cfg:     cfg,
		backoff: Backoff{Base: cfg.BaseDelay, Max: cfg.MaxDelay},
		clock:   clock.Real(),
		reg:     newRegistry(),
		state:   StateConnecting,
		done:    make(chan struct{}),
	}
	for _, opt := range opts {
		opt(t)
	}
	if t.logger == nil {
		t.logger = logging.Component("realtime")
	}
	if t.dialer == nil {
		t.dialer = &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: cfg.HandshakeTimeout,
		}
	}
	return t
}

// Subscribe registers fn for every envelope on channel. The returned function
// unsubscribes; it is idempotent, and once it returns fn is not called again,
// not even for the remaining envelopes of a frame being delivered.
func (t *Transport) Subscribe(channel string, fn Handler) (unsubscribe func()) {
	s := t.reg.add(channel, fn)
	var once sync.Once
	return func() { once.Do(func() { t.reg.remove(s) }) }
}

// OnHealth registers fn for health transitions and returns its cancel.
func (t *Transport) OnHealth(fn func(health.Health)) (cancel func()) {
	l := t.reg.addHealth(fn)
	var once sync.Once
	return func() { once.Do(func() { t.reg.removeHealth(l) }) }
}

// Health reports the current connection health.
func (t *Transport) Health() health.Health {
	return t.State().Health()
}

// State reports the current connection state.
func (t *Transport) State() State {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

// Run connects and keeps the connection alive until ctx is cancelled or Close
// is called. Connection failures are retried forever; they surface only as
// health transitions.
func (t *Transport) Run(ctx context.Context) error {
	t.mu.Lock()
	switch {
	case t.closed:
		t.mu.Unlock()
		return errors.ErrClosed
	case t.running:
		t.mu.Unlock()
		return ErrRunning
	}
	ctx, cancel := context.WithCancel(ctx)
	t.running = true
	t.cancel = cancel
	t.mu.Unlock()

	defer func() {
		cancel()
		t.mu.Lock()
		t.closed = true
		t.mu.Unlock()
		t.setState(StateClosed)
		t.closeDone()
	}()

	// failures counts dial errors and connections that closed before
	// StableAfter; only a stable connection resets it.
	failures := 0
	for ctx.Err() == nil {
		conn, err := t.dial(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			failures++
			t.dialFailures.Add(1)
			t.fail(errors.WrapTransport("dial", t.cfg.URL, failures, err))
			if !t.retry(ctx, failures) {
				return nil
			}
			continue
		}

		t.connects.Add(1)
		up := t.clock.Now()
		t.mu.Lock()
		t.upSince = up
		t.mu.Unlock()
		t.setState(StateConnected)

		err = t.serve(ctx, conn)
		if ctx.Err() != nil {
			return nil
		}
		if t.clock.Now().Sub(up) >= t.cfg.StableAfter {
			failures = 0
		}
		failures++
		t.fail(errors.WrapTransport("read", t.cfg.URL, failures, err))
		if !t.retry(ctx, failures) {
			return nil
		}
	}
	return nil
}

// retry reports the degraded state for the given failure streak and waits
// out its backoff. It reports false if ctx ended first.
func (t *Transport) retry(ctx context.Context, failures int) bool {
	if failures >= t.cfg.MaxAttempts {
		t.setState(StateOffline)
	} else {
		t.setState(StateReconnecting)
	}
	return t.wait(ctx, t.backoff.Delay(failures-1))
}

func (t *Transport) closeDone() {
	t.doneOnce.Do(func() { close(t.done) })
}

// Close stops the transport and waits for Run to return. It is safe to call
// more than once and before Run.
func (t *Transport) Close() error {
	t.mu.Lock()
	if t.closed && !t.running {
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	cancel, running := t.cancel, t.running
	t.mu.Unlock()

	if !running {
		t.setState(StateClosed)
		t.closeDone()
		return nil
	}
	cancel()
	<-t.done
	return nil
}

// Done is closed when Run returns, or by Close when Run never started.
func (t *Transport) Done() <-chan struct{} {
	return t.done
}

func (t *Transport) dial(ctx context.Context) (*websocket.Conn, error) {
	header := http.Header{}
	if t.cfg.Token != "" {
		header.Set("Authorization", "Bearer "+t.cfg.Token)
	}
	conn, resp, err := t.dialer.DialContext(ctx, t.cfg.URL, header)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		if resp != nil {
			return nil, errors.NewAPIError(t.cfg.URL, resp.StatusCode, err.Error())
		}
		return nil, err
	}
	conn.SetReadLimit(t.cfg.MaxFrameSize)
	return conn, nil
}

// wait sleeps for d on the transport clock. It reports false if ctx ended
// first.
func (t *Transport) wait(ctx context.Context, d time.Duration) bool {
	t.logger.Debug().Dur("delay", d).Msg("Waiting before reconnect")
	select {
	case <-ctx.Done():
		return false
	case <-t.clock.After(d):
		return true
	}
}

func (t *Transport) fail(err error) {
	t.mu.Lock()
	t.lastErr = err
	t.mu.Unlock()
	t.logger.Warn().Err(err).Msg("Realtime connection problem")
}

// setState records s and notifies health listeners when the coarse health
// changes. Listeners run on the calling goroutine.
func (t *Transport) setState(s State) {
	t.mu.Lock()
	prev := t.state
	if prev == s || prev == StateClosed {
		t.mu.Unlock()
		return
	}
	t.state = s
	t.mu.Unlock()

	t.logger.Debug().Stringer("from", prev).Stringer("to", s).Msg("Realtime state changed")
	if prev.Health() == s.Health() {
		return
	}
	h := s.Health()
	for _, l := range t.reg.healthListeners() {
		if l.active.Load() {
			l.fn(h)
		}
	}
}

// deliver fans one frame out to subscribers in envelope order.
func (t *Transport) deliver(data []byte) {
	t.frames.Add(1)
	batch, err := events.ParseFrame(data)
	if err != nil {
		t.malformed.Add(1)
		t.logger.Debug().Err(err).Int("kept", len(batch)).Msg("Dropping malformed envelopes")
	}
	for _, env := range batch {
		subs := t.reg.subscribers(env.Channel)
		if len(subs) == 0 {
			t.dropped.Add(1)
			continue
		}
		for _, s := range subs {
			if s.active.Load() {
				t.call(s, env)
			}
		}
	}
}

func (t *Transport) call(s *subscription, env events.Envelope) {
	defer func() {
		if r := recover(); r != nil {
			t.logger.Error().Interface("panic", r).Str("channel", env.Channel).Msg("Subscriber panicked")
		}
	}()
	t.delivered.Add(1)
	s.fn(env)
}

// Stats describes transport activity.
type Stats struct {
	State        string    `json:"state"`
	Health       string    `json:"health"`
	Connects     int64     `json:"connects"`
	Reconnects   int64     `json:"reconnects"`
	DialFailures int64     `json:"dial_failures"`
	Frames       int64     `json:"frames"`
	Delivered    int64     `json:"delivered"`
	Malformed    int64     `json:"malformed"`
	Dropped      int64     `json:"dropped"`
	Subscribers  int       `json:"subscribers"`
	ConnectedAt  time.Time `json:"connected_at,omitzero"`
	LastError    string    `json:"last_error,omitempty"`
}

// Stats returns current counters.
func (t *Transport) Stats() Stats {
	t.mu.Lock()
	st := Stats{
		State:       t.state.String(),
		Health:      t.state.Health().String(),
		ConnectedAt: t.upSince,
	}
	if t.lastErr != nil {
		st.LastError = t.lastErr.Error()
	}
	t.mu.Unlock()

	st.Connects = t.connects.Load()
	st.Reconnects = max(st.Connects-1, 0)
	st.DialFailures = t.dialFailures.Load()
	st.Frames = t.frames.Load()
	st.Delivered = t.delivered.Load()
	st.Malformed = t.malformed.Load()
	st.Dropped = t.dropped.Load()
	st.Subscribers = t.reg.count()
	return st
}
