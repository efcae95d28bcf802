package broker

import (
	"context"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/agentstation/reqsync/pkg/events"
)

// mockSubscriber is a mock subscriber for testing.
type mockSubscriber struct {
	mu     sync.Mutex
	events []events.Envelope
	closed bool
}

func (m *mockSubscriber) Send(env events.Envelope) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, env)
	return nil
}

func (m *mockSubscriber) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

func (m *mockSubscriber) snapshot() ([]events.Envelope, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]events.Envelope(nil), m.events...), m.closed
}

func waitUntil(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("condition not met before deadline")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func envelope(id string, seq int64) events.Envelope {
	return events.Envelope{Channel: "purchase-requests", Event: events.KindUpdated, EntityID: id, Sequence: &seq}
}

// TestBroker_PreservesOrder tests that every subscriber sees envelopes in
// publication order.
func TestBroker_PreservesOrder(t *testing.T) {
	logger := zerolog.Nop()
	b := NewBroker(&logger)

	sub1, sub2 := &mockSubscriber{}, &mockSubscriber{}
	b.Subscribe(sub1) // before Run must not block
	b.Subscribe(sub2)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go b.Run(ctx)

	for i := range 50 {
		b.Publish(envelope(strconv.Itoa(i%3), int64(i)))
	}

	for _, sub := range []*mockSubscriber{sub1, sub2} {
		waitUntil(t, func() bool { got, _ := sub.snapshot(); return len(got) == 50 })
		got, _ := sub.snapshot()
		for i, env := range got {
			if *env.Sequence != int64(i) {
				t.Fatalf("envelope %d out of order: sequence %d", i, *env.Sequence)
			}
		}
	}

	if stats := b.Stats(); stats.Published != 50 || stats.Dropped != 0 || stats.Subscribers != 2 {
		t.Errorf("unexpected stats %+v", stats)
	}
}

// TestBroker_Unsubscribe tests that an unsubscribed subscriber is closed and
// receives nothing further.
func TestBroker_Unsubscribe(t *testing.T) {
	logger := zerolog.Nop()
	b := NewBroker(&logger)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go b.Run(ctx)

	sub := &mockSubscriber{}
	b.Subscribe(sub)
	b.Unsubscribe(sub)
	b.Unsubscribe(sub) // idempotent

	if b.SubscriberCount() != 0 {
		t.Fatalf("expected 0 subscribers, got %d", b.SubscriberCount())
	}
	b.Publish(envelope("1", 1))
	time.Sleep(20 * time.Millisecond)

	got, closed := sub.snapshot()
	if len(got) != 0 {
		t.Errorf("unsubscribed subscriber received %d envelopes", len(got))
	}
	if !closed {
		t.Error("expected subscriber to be closed")
	}
}

// TestBroker_Shutdown tests that Run closes subscribers on cancellation.
func TestBroker_Shutdown(t *testing.T) {
	logger := zerolog.Nop()
	b := NewBroker(&logger)
	sub := &mockSubscriber{}
	b.Subscribe(sub)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		b.Run(ctx)
		close(done)
	}()
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not return after cancel")
	}
	if _, closed := sub.snapshot(); !closed {
		t.Error("expected subscriber to be closed on shutdown")
	}
	if b.SubscriberCount() != 0 {
		t.Error("expected subscribers cleared on shutdown")
	}
}

// TestBroker_PublishDropsWhenFull tests the non-blocking publish path.
func TestBroker_PublishDropsWhenFull(t *testing.T) {
	logger := zerolog.Nop()
	b := NewBroker(&logger) // not running

	for i := range cap(b.events) + 3 {
		b.Publish(envelope("1", int64(i)))
	}
	if stats := b.Stats(); stats.Dropped != 3 {
		t.Errorf("expected 3 dropped, got %d", stats.Dropped)
	}
}
