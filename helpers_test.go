package reqsync

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/agentstation/reqsync/internal/clock"
	"github.com/agentstation/reqsync/pkg/constants"
	"github.com/agentstation/reqsync/pkg/events"
	"github.com/agentstation/reqsync/pkg/health"
	"github.com/agentstation/reqsync/pkg/requisition"
)

var epoch = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

// fakeFetcher serves poll requests from an in-memory map.
type fakeFetcher struct {
	mu       sync.Mutex
	state    map[string]requisition.PurchaseRequest
	err      error
	calls    [][]string
	inFlight int
	maxSeen  int

	// block, when set, holds every fetch until it is closed or ctx ends.
	block   chan struct{}
	started chan []string
}

func newFakeFetcher() *fakeFetcher {
	return &fakeFetcher{
		state:   make(map[string]requisition.PurchaseRequest),
		started: make(chan []string, 64),
	}
}

func (f *fakeFetcher) set(prs ...requisition.PurchaseRequest) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, pr := range prs {
		f.state[pr.ID] = pr
	}
}

func (f *fakeFetcher) fail(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.err = err
}

func (f *fakeFetcher) hold() chan struct{} {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.block = make(chan struct{})
	return f.block
}

func (f *fakeFetcher) Fetch(ctx context.Context, ids []string) ([]requisition.PurchaseRequest, error) {
	f.mu.Lock()
	f.calls = append(f.calls, append([]string(nil), ids...))
	f.inFlight++
	f.maxSeen = max(f.maxSeen, f.inFlight)
	block := f.block
	f.mu.Unlock()

	defer func() {
		f.mu.Lock()
		f.inFlight--
		f.mu.Unlock()
	}()

	f.started <- ids

	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	var out []requisition.PurchaseRequest
	for _, id := range ids {
		if pr, ok := f.state[id]; ok {
			out = append(out, pr)
		}
	}
	return out, nil
}

func (f *fakeFetcher) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func (f *fakeFetcher) maxConcurrent() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.maxSeen
}

// fakeHealth is a manually driven health.Source.
type fakeHealth struct {
	mu   sync.Mutex
	h    health.Health
	next int
	fns  map[int]func(health.Health)
}

func newFakeHealth(h health.Health) *fakeHealth {
	return &fakeHealth{h: h, fns: make(map[int]func(health.Health))}
}

func (s *fakeHealth) Health() health.Health {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.h
}

func (s *fakeHealth) OnHealth(fn func(health.Health)) func() {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := s.next
	s.next++
	s.fns[id] = fn
	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		delete(s.fns, id)
	}
}

func (s *fakeHealth) report(h health.Health) {
	s.mu.Lock()
	s.h = h
	fns := make([]func(health.Health), 0, len(s.fns))
	for _, fn := range s.fns {
		fns = append(fns, fn)
	}
	s.mu.Unlock()
	for _, fn := range fns {
		fn(h)
	}
}

func (s *fakeHealth) listeners() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.fns)
}

func newTestManager(t *testing.T, f *fakeFetcher, opts ...Option) (*Manager, *clock.Fake) {
	t.Helper()
	clk := clock.NewFake(epoch)
	logger := zerolog.Nop()
	base := []Option{WithClock(clk), WithLogger(&logger), WithPollInterval(10 * time.Second)}
	m, err := New(f.Fetch, append(base, opts...)...)
	require.NoError(t, err)
	t.Cleanup(m.Dispose)
	return m, clk
}

func envelope(t *testing.T, id string, seq int64, p events.Payload) events.Envelope {
	t.Helper()
	env, err := events.Encode(events.New(constants.PurchaseRequestsChannel, id, seq, time.Time{}, p))
	require.NoError(t, err)
	return env
}

func created(id, title string) events.Created {
	return events.Created{Request: requisition.PurchaseRequest{
		ID:     id,
		Title:  title,
		Phase:  requisition.PhaseSolicitation,
		Amount: requisition.Money{Cents: 10000, Currency: "USD"},
	}}
}

func retitled(title string) events.Updated {
	return events.Updated{Patch: requisition.Patch{Title: &title}}
}

func request(id string, version int64, title string) requisition.PurchaseRequest {
	return requisition.PurchaseRequest{ID: id, Version: version, Title: title, Phase: requisition.PhaseA1Approval}
}

// waitIdle blocks until no poll cycle is running.
func waitIdle(t *testing.T, m *Manager) {
	t.Helper()
	require.Eventually(t, func() bool { return !m.Stats().Polling }, time.Second, time.Millisecond)
}
