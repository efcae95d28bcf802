package realtime

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentstation/reqsync/pkg/errors"
	"github.com/agentstation/reqsync/pkg/events"
	"github.com/agentstation/reqsync/pkg/health"
)

// wsServer is a minimal event server for exercising the client.
type wsServer struct {
	*httptest.Server
	upgrader websocket.Upgrader
	reject   atomic.Bool
	drop     atomic.Bool
	conns    chan *websocket.Conn
	headers  chan http.Header
}

func newWSServer(t *testing.T) *wsServer {
	t.Helper()
	s := &wsServer{
		conns:   make(chan *websocket.Conn, 16),
		headers: make(chan http.Header, 16),
	}
	s.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.reject.Load() {
			http.Error(w, "unavailable", http.StatusServiceUnavailable)
			return
		}
		c, err := s.upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		if s.drop.Load() {
			_ = c.Close()
			return
		}
		s.headers <- r.Header.Clone()
		s.conns <- c
	}))
	t.Cleanup(s.Close)
	return s
}

func (s *wsServer) wsURL() string {
	return "ws" + strings.TrimPrefix(s.URL, "http")
}

// accept returns the next server-side connection with a reader draining it
// so pings are answered.
func (s *wsServer) accept(t *testing.T) *websocket.Conn {
	t.Helper()
	select {
	case c := <-s.conns:
		go func() {
			for {
				if _, _, err := c.ReadMessage(); err != nil {
					return
				}
			}
		}()
		return c
	case <-time.After(2 * time.Second):
		require.FailNow(t, "client did not connect")
		return nil
	}
}

func fastConfig(url string) Config {
	return Config{
		URL:         url,
		BaseDelay:   5 * time.Millisecond,
		MaxDelay:    20 * time.Millisecond,
		MaxAttempts: 3,
		PongTimeout: 2 * time.Second,
	}
}

func startTransport(t *testing.T, cfg Config, opts ...Option) *Transport {
	t.Helper()
	logger := zerolog.Nop()
	tr := New(cfg, append([]Option{WithLogger(&logger)}, opts...)...)
	go func() { _ = tr.Run(context.Background()) }()
	t.Cleanup(func() { _ = tr.Close() })
	return tr
}

// recorder collects envelopes delivered to a handler.
type recorder struct {
	mu   sync.Mutex
	envs []events.Envelope
}

func (r *recorder) handle(env events.Envelope) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.envs = append(r.envs, env)
}

func (r *recorder) ids() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.envs))
	for i, e := range r.envs {
		out[i] = e.EntityID
	}
	return out
}

func TestBackoffDelay(t *testing.T) {
	none := Backoff{Base: time.Second, Max: 30 * time.Second, Jitter: func(time.Duration) time.Duration { return 0 }}
	full := Backoff{Base: time.Second, Max: 30 * time.Second, Jitter: func(l time.Duration) time.Duration { return l }}

	assert.Equal(t, 500*time.Millisecond, none.Delay(0))
	assert.Equal(t, time.Second, full.Delay(0))
	assert.Equal(t, 4*time.Second, none.Delay(3))
	assert.Equal(t, 8*time.Second, full.Delay(3))
	assert.Equal(t, 30*time.Second, full.Delay(10), "capped")
	assert.Equal(t, 30*time.Second, full.Delay(500), "no overflow")

	random := Backoff{Base: time.Second, Max: 30 * time.Second}
	for attempt := range 8 {
		d := random.Delay(attempt)
		assert.GreaterOrEqual(t, d, none.Delay(attempt))
		assert.LessOrEqual(t, d, full.Delay(attempt))
	}
}

func TestStateHealth(t *testing.T) {
	assert.Equal(t, health.Reconnecting, StateConnecting.Health())
	assert.Equal(t, health.Connected, StateConnected.Health())
	assert.Equal(t, health.Reconnecting, StateReconnecting.Health())
	assert.Equal(t, health.Offline, StateOffline.Health())
	assert.Equal(t, health.Offline, StateClosed.Health())
	assert.Equal(t, "reconnecting", StateReconnecting.String())
}

func TestDeliversInReceiptOrder(t *testing.T) {
	srv := newWSServer(t)
	var rec recorder
	tr := New(fastConfig(srv.wsURL()))
	tr.Subscribe("purchase-requests", rec.handle)
	go func() { _ = tr.Run(context.Background()) }()
	t.Cleanup(func() { _ = tr.Close() })

	c := srv.accept(t)
	require.NoError(t, c.WriteMessage(websocket.TextMessage, []byte(
		`[{"channel":"purchase-requests","event":"created","entityId":"1"},{"channel":"purchase-requests","event":"updated","entityId":"2"}]`)))
	require.NoError(t, c.WriteMessage(websocket.TextMessage, []byte(
		`{"channel":"approvals","event":"approvals_update","entityId":"x"}`)))
	require.NoError(t, c.WriteMessage(websocket.TextMessage, []byte(
		`{"channel":"purchase-requests","event":"deleted","entityId":"3"}`)))

	require.Eventually(t, func() bool { return len(rec.ids()) == 3 }, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, []string{"1", "2", "3"}, rec.ids())

	st := tr.Stats()
	assert.Equal(t, int64(3), st.Frames)
	assert.Equal(t, int64(1), st.Dropped, "no subscriber for approvals")
	assert.Equal(t, health.Connected, tr.Health())
}

func TestUnsubscribeStopsDeliveryWithinBatch(t *testing.T) {
	srv := newWSServer(t)
	tr := New(fastConfig(srv.wsURL()))

	var calls atomic.Int32
	var unsubscribe func()
	unsubscribe = tr.Subscribe("c", func(events.Envelope) {
		calls.Add(1)
		unsubscribe()
	})
	var other recorder
	tr.Subscribe("c", other.handle)

	go func() { _ = tr.Run(context.Background()) }()
	t.Cleanup(func() { _ = tr.Close() })

	c := srv.accept(t)
	require.NoError(t, c.WriteMessage(websocket.TextMessage, []byte(
		`[{"channel":"c","event":"e","entityId":"1"},{"channel":"c","event":"e","entityId":"2"},{"channel":"c","event":"e","entityId":"3"}]`)))
	require.NoError(t, c.WriteMessage(websocket.TextMessage, []byte(`{"channel":"c","event":"e","entityId":"4"}`)))

	require.Eventually(t, func() bool { return len(other.ids()) == 4 }, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, int32(1), calls.Load())
	assert.Equal(t, 1, tr.Stats().Subscribers)
}

func TestUnsubscribeIsIdempotent(t *testing.T) {
	tr := New(Config{URL: "ws://127.0.0.1:1"})
	a := tr.Subscribe("c", func(events.Envelope) {})
	b := tr.Subscribe("c", func(events.Envelope) {})
	assert.Equal(t, 2, tr.Stats().Subscribers)

	a()
	a()
	assert.Equal(t, 1, tr.Stats().Subscribers)
	b()
	assert.Zero(t, tr.Stats().Subscribers)
}

func TestMalformedFramesAreCounted(t *testing.T) {
	srv := newWSServer(t)
	var rec recorder
	tr := New(fastConfig(srv.wsURL()))
	tr.Subscribe("c", rec.handle)
	go func() { _ = tr.Run(context.Background()) }()
	t.Cleanup(func() { _ = tr.Close() })

	c := srv.accept(t)
	require.NoError(t, c.WriteMessage(websocket.TextMessage, []byte(`not json`)))
	require.NoError(t, c.WriteMessage(websocket.TextMessage, []byte(`{"channel":"c","event":"e","entityId":"1"}`)))

	require.Eventually(t, func() bool { return len(rec.ids()) == 1 }, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, int64(1), tr.Stats().Malformed)
}

func TestBatchWithBadElementDeliversTheRest(t *testing.T) {
	srv := newWSServer(t)
	var rec recorder
	tr := New(fastConfig(srv.wsURL()))
	tr.Subscribe("c", rec.handle)
	go func() { _ = tr.Run(context.Background()) }()
	t.Cleanup(func() { _ = tr.Close() })

	c := srv.accept(t)
	require.NoError(t, c.WriteMessage(websocket.TextMessage, []byte(
		`[{"channel":"c","event":"e","entityId":42},{"channel":"c","event":"e","entityId":[1]},{"channel":"c","event":"e","entityId":"43"}]`)))

	require.Eventually(t, func() bool { return len(rec.ids()) == 2 }, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, []string{"42", "43"}, rec.ids())
	assert.Equal(t, int64(1), tr.Stats().Malformed)
}

func TestReconnectsAfterServerClose(t *testing.T) {
	srv := newWSServer(t)
	var healths []health.Health
	var mu sync.Mutex
	tr := New(fastConfig(srv.wsURL()))
	tr.OnHealth(func(h health.Health) {
		mu.Lock()
		healths = append(healths, h)
		mu.Unlock()
	})
	go func() { _ = tr.Run(context.Background()) }()
	t.Cleanup(func() { _ = tr.Close() })

	first := srv.accept(t)
	require.Eventually(t, func() bool { return tr.State() == StateConnected }, 2*time.Second, 5*time.Millisecond)
	_ = first.Close()

	srv.accept(t)
	require.Eventually(t, func() bool { return tr.Stats().Connects == 2 }, 2*time.Second, 5*time.Millisecond)
	require.Eventually(t, func() bool { return tr.State() == StateConnected }, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, int64(1), tr.Stats().Reconnects)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []health.Health{health.Connected, health.Reconnecting, health.Connected}, healths)
}

func TestOfflineAfterMaxAttemptsThenRecovers(t *testing.T) {
	srv := newWSServer(t)
	srv.reject.Store(true)

	tr := startTransport(t, fastConfig(srv.wsURL()))
	require.Eventually(t, func() bool { return tr.State() == StateOffline }, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, health.Offline, tr.Health())

	st := tr.Stats()
	assert.GreaterOrEqual(t, st.DialFailures, int64(3))
	assert.Contains(t, st.LastError, "transport dial")

	srv.reject.Store(false)
	srv.accept(t)
	require.Eventually(t, func() bool { return tr.State() == StateConnected }, 2*time.Second, 5*time.Millisecond)
}

func TestFlappingConnectionBacksOff(t *testing.T) {
	srv := newWSServer(t)
	srv.drop.Store(true)

	cfg := fastConfig(srv.wsURL())
	cfg.BaseDelay = 10 * time.Millisecond
	cfg.MaxDelay = 2 * time.Second
	full := func(limit time.Duration) time.Duration { return limit }
	tr := startTransport(t, cfg, WithJitter(full))

	require.Eventually(t, func() bool { return tr.State() == StateOffline }, 2*time.Second, 5*time.Millisecond)

	// Delays double from 10ms, so one second holds well under a dozen tries.
	time.Sleep(time.Second)
	st := tr.Stats()
	assert.Less(t, st.Connects, int64(12))
	assert.Zero(t, st.DialFailures, "every dial succeeded")
	assert.Contains(t, st.LastError, "transport read")

	srv.drop.Store(false)
	srv.accept(t)
	require.Eventually(t, func() bool { return tr.State() == StateConnected }, 3*time.Second, 5*time.Millisecond)
}

func TestStableConnectionResetsBackoff(t *testing.T) {
	srv := newWSServer(t)
	cfg := fastConfig(srv.wsURL())
	cfg.StableAfter = 20 * time.Millisecond
	tr := startTransport(t, cfg)
	var offline atomic.Bool
	tr.OnHealth(func(h health.Health) {
		if h == health.Offline {
			offline.Store(true)
		}
	})

	// More closes than MaxAttempts, each after a stable period.
	for i := range 4 {
		c := srv.accept(t)
		require.Eventually(t, func() bool { return tr.Stats().Connects == int64(i+1) }, 2*time.Second, 5*time.Millisecond)
		time.Sleep(40 * time.Millisecond)
		_ = c.Close()
	}
	srv.accept(t)
	require.Eventually(t, func() bool { return tr.State() == StateConnected }, 2*time.Second, 5*time.Millisecond)
	assert.False(t, offline.Load())
}

func TestMissingPongForcesReconnect(t *testing.T) {
	srv := newWSServer(t)
	cfg := fastConfig(srv.wsURL())
	cfg.PongTimeout = 150 * time.Millisecond
	cfg.PingInterval = 50 * time.Millisecond
	tr := startTransport(t, cfg)

	// Hold the first connection open without reading, so pings go unanswered.
	select {
	case <-srv.conns:
	case <-time.After(2 * time.Second):
		require.FailNow(t, "client did not connect")
	}

	srv.accept(t)
	require.Eventually(t, func() bool { return tr.Stats().Connects >= 2 }, 3*time.Second, 10*time.Millisecond)
}

func TestBearerToken(t *testing.T) {
	srv := newWSServer(t)
	cfg := fastConfig(srv.wsURL())
	cfg.Token = "s3cret"
	startTransport(t, cfg)

	srv.accept(t)
	h := <-srv.headers
	assert.Equal(t, "Bearer s3cret", h.Get("Authorization"))
}

func TestCloseStopsRun(t *testing.T) {
	srv := newWSServer(t)
	logger := zerolog.Nop()
	tr := New(fastConfig(srv.wsURL()), WithLogger(&logger))

	errc := make(chan error, 1)
	go func() { errc <- tr.Run(context.Background()) }()
	srv.accept(t)
	require.Eventually(t, func() bool { return tr.State() == StateConnected }, 2*time.Second, 5*time.Millisecond)

	assert.ErrorIs(t, tr.Run(context.Background()), ErrRunning)

	require.NoError(t, tr.Close())
	require.NoError(t, <-errc)
	assert.Equal(t, StateClosed, tr.State())
	require.NoError(t, tr.Close())

	assert.ErrorIs(t, tr.Run(context.Background()), errors.ErrClosed)
}

func TestContextCancelStopsRun(t *testing.T) {
	srv := newWSServer(t)
	srv.reject.Store(true)
	tr := New(fastConfig(srv.wsURL()))

	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() { errc <- tr.Run(ctx) }()

	require.Eventually(t, func() bool { return tr.Stats().DialFailures > 0 }, 2*time.Second, 5*time.Millisecond)
	cancel()

	select {
	case err := <-errc:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		require.Fail(t, "Run did not return")
	}
	<-tr.Done()
	assert.Equal(t, StateClosed, tr.State())
}

func TestCloseBeforeRun(t *testing.T) {
	tr := New(Config{URL: "ws://127.0.0.1:1"})
	require.NoError(t, tr.Close())
	assert.Equal(t, StateClosed, tr.State())
	select {
	case <-tr.Done():
	case <-time.After(time.Second):
		require.Fail(t, "Done not closed")
	}
	assert.ErrorIs(t, tr.Run(context.Background()), errors.ErrClosed)
	require.NoError(t, tr.Close())
}
