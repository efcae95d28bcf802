// Package reqsync provides the client-side realtime update coordinator for
// purchase requests. A Manager keeps a versioned local cache of requests,
// reconciles push events received over a realtime transport, and falls back
// to polling an authoritative fetch function whenever push delivery is
// degraded.
//
// The Manager applies every update, pushed or polled, through one merge
// function that enforces the version-supersede rule: an update is applied
// only when its version is strictly newer than the cached one, so replays
// and late deliveries are harmless.
//
// Example usage:
//
//	fetch := func(ctx context.Context, ids []string) ([]requisition.PurchaseRequest, error) {
//	    return api.PurchaseRequests(ctx, ids)
//	}
//	m, err := reqsync.New(fetch, reqsync.WithPollInterval(10*time.Second))
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer m.Dispose()
//
//	// Feed push events and let connection health drive fallback polling
//	stop := stream.Subscribe("purchase-requests", func(env events.Envelope) {
//	    m.Process(env)
//	})
//	defer stop()
//	m.BindHealth(stream)
//	m.Start()
//
//	m.OnChange(func(c reqsync.Change) {
//	    fmt.Printf("%s %s v%d\n", c.Kind, c.ID, c.New.Version.Seq)
//	})
package reqsync

import (
	"context"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/agentstation/reqsync/internal/cache"
	"github.com/agentstation/reqsync/internal/clock"
	"github.com/agentstation/reqsync/pkg/errors"
	"github.com/agentstation/reqsync/pkg/events"
	"github.com/agentstation/reqsync/pkg/health"
	"github.com/agentstation/reqsync/pkg/requisition"
)

// Compile-time interface check to ensure proper implementation.
var _ Coordinator = (*Manager)(nil)

// FetchFunc returns the authoritative current state of the given ids. Ids
// missing from the result are left untouched.
type FetchFunc func(ctx context.Context, ids []string) ([]requisition.PurchaseRequest, error)

// Processor accepts inbound events.
type Processor interface {
	Process(env events.Envelope) Outcome
	ProcessEvent(ev events.Event) Outcome
}

// FallbackController toggles polling mode.
type FallbackController interface {
	SetFallback(active bool)
	Fallback() bool
}

// Reader provides read-only access to the cache.
type Reader interface {
	Get(id string) (Entry, bool)
	Snapshot() []Entry
}

// Coordinator is the full Manager contract.
type Coordinator interface {
	Processor
	FallbackController
	Reader

	Start()
	Dispose()
}

// Manager is the single authoritative reducer over purchase-request events.
type Manager struct {
	cfg    *config
	fetch  FetchFunc
	store  *cache.Store
	hooks  *hooks
	clock  clock.Clock
	logger *zerolog.Logger

	// ctx lives until Dispose. In-flight polls run under it so switching
	// fallback off never cancels a result in transit.
	ctx    context.Context
	cancel context.CancelFunc
	closed atomic.Bool
	wg     sync.WaitGroup

	mu       sync.Mutex
	started  bool
	disposed bool
	fallback bool
	tracked  map[string]struct{}
	bindings []func()

	// poll scheduling, guarded by mu
	timer    *clock.Timer
	timerGen uint64
	polling  bool
	again    bool
	failures int
	polls    int64
	failed   int64
	lastPoll time.Time
	lastErr  error

	// pollMu admits one fetch-and-merge cycle at a time
	pollMu sync.Mutex

	applied    atomic.Int64
	stale      atomic.Int64
	malformed  atomic.Int64
	irrelevant atomic.Int64
}

// New creates a Manager that polls fetch while in fallback mode.
func New(fetch FetchFunc, opts ...Option) (*Manager, error) {
	if fetch == nil {
		return nil, errors.NewValidationError("fetch", nil, "fetch function is required")
	}
	cfg := defaults()
	if err := cfg.apply(opts...); err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(context.Background())
	m := &Manager{
		cfg:      cfg,
		fetch:    fetch,
		store:    cache.New(),
		hooks:    newHooks(),
		clock:    cfg.clock,
		logger:   cfg.logger,
		ctx:      ctx,
		cancel:   cancel,
		fallback: cfg.initialFallback,
		tracked:  make(map[string]struct{}),
	}
	for _, id := range cfg.tracked {
		if id != "" {
			m.tracked[id] = struct{}{}
		}
	}
	return m, nil
}

// Start enables the poll schedule. It is idempotent: only the first call has
// an effect, so repeated calls never add timers. If fallback mode is already
// active a poll runs immediately.
func (m *Manager) Start() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.started || m.disposed {
		return
	}
	m.started = true
	m.logger.Debug().
		Str("channel", m.cfg.channel).
		Bool("fallback", m.fallback).
		Msg("Update manager started")
	if m.fallback {
		m.triggerLocked()
	}
}

// Dispose stops polling, releases health bindings and waits for an in-flight
// poll to return. Later calls are no-ops. Dispose must not be called from a
// change hook.
func (m *Manager) Dispose() {
	m.mu.Lock()
	if m.disposed {
		m.mu.Unlock()
		return
	}
	m.disposed = true
	m.closed.Store(true)
	m.stopTimerLocked()
	bindings := m.bindings
	m.bindings = nil
	m.mu.Unlock()

	for _, cancel := range bindings {
		cancel()
	}
	m.cancel()
	m.wg.Wait()
	m.hooks.clear()
	m.logger.Debug().Msg("Update manager disposed")
}

// Channel returns the channel this manager accepts events for.
func (m *Manager) Channel() string {
	return m.cfg.channel
}

// Track adds ids to every poll cycle.
func (m *Manager) Track(ids ...string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, id := range ids {
		if id != "" {
			m.tracked[id] = struct{}{}
		}
	}
}

// Untrack stops polling ids that were added with Track. Ids present in the
// cache are still polled until evicted.
func (m *Manager) Untrack(ids ...string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, id := range ids {
		delete(m.tracked, id)
	}
}

// trackedIDs returns the sorted union of cached and explicitly tracked ids.
func (m *Manager) trackedIDs() []string {
	ids := m.store.IDs()
	m.mu.Lock()
	for id := range m.tracked {
		ids = append(ids, id)
	}
	m.mu.Unlock()
	slices.Sort(ids)
	return slices.Compact(ids)
}

// OnChange registers fn for every committed change and returns a function
// that cancels it. Hooks run synchronously on the goroutine that applied the
// change.
func (m *Manager) OnChange(fn ChangeHook) (cancel func()) {
	return m.hooks.addChange(fn)
}

// OnFallback registers fn for fallback mode transitions.
func (m *Manager) OnFallback(fn FallbackHook) (cancel func()) {
	return m.hooks.addFallback(fn)
}

// BindHealth drives fallback mode from src: fallback is active whenever the
// reported health is not Connected. The current health is applied at once.
// The binding is released by the returned cancel or by Dispose.
func (m *Manager) BindHealth(src health.Source) (cancel func()) {
	stop := src.OnHealth(func(h health.Health) {
		m.SetFallback(h.Degraded())
	})
	m.SetFallback(src.Health().Degraded())

	var once sync.Once
	cancel = func() { once.Do(stop) }

	m.mu.Lock()
	if m.disposed {
		m.mu.Unlock()
		cancel()
		return cancel
	}
	m.bindings = append(m.bindings, cancel)
	m.mu.Unlock()
	return cancel
}

// Stats is a point-in-time view of the manager.
type Stats struct {
	cache.Stats

	Tracked             int           `json:"tracked"`
	Fallback            bool          `json:"fallback"`
	Polling             bool          `json:"polling"`
	Polls               int64         `json:"polls"`
	PollFailures        int64         `json:"poll_failures"`
	ConsecutiveFailures int           `json:"consecutive_failures"`
	NextPollDelay       time.Duration `json:"next_poll_delay"`
	LastPoll            time.Time     `json:"last_poll,omitzero"`
	LastError           string        `json:"last_error,omitempty"`

	Applied    int64 `json:"applied"`
	Stale      int64 `json:"stale"`
	Malformed  int64 `json:"malformed"`
	Irrelevant int64 `json:"irrelevant"`
}

// Stats returns current counters.
func (m *Manager) Stats() Stats {
	tracked := len(m.trackedIDs())

	m.mu.Lock()
	st := Stats{
		Stats:               m.store.Stats(),
		Tracked:             tracked,
		Fallback:            m.fallback,
		Polling:             m.polling,
		Polls:               m.polls,
		PollFailures:        m.failed,
		ConsecutiveFailures: m.failures,
		NextPollDelay:       m.nextDelayLocked(),
		LastPoll:            m.lastPoll,
	}
	if m.lastErr != nil {
		st.LastError = m.lastErr.Error()
	}
	m.mu.Unlock()

	st.Applied = m.applied.Load()
	st.Stale = m.stale.Load()
	st.Malformed = m.malformed.Load()
	st.Irrelevant = m.irrelevant.Load()
	return st
}
