// Package store holds the development server's authoritative purchase
// requests. Every mutation bumps the request's version and publishes the
// matching event envelope while the store lock is held, so envelopes for one
// request leave the store in version order.
package store

import (
	"fmt"
	"slices"
	"strings"
	"sync"

	"github.com/rs/zerolog"

	"github.com/agentstation/reqsync/internal/clock"
	"github.com/agentstation/reqsync/pkg/constants"
	"github.com/agentstation/reqsync/pkg/errors"
	"github.com/agentstation/reqsync/pkg/events"
	"github.com/agentstation/reqsync/pkg/logging"
	"github.com/agentstation/reqsync/pkg/requisition"
)

// Publisher receives every envelope the store emits.
type Publisher interface {
	Publish(events.Envelope)
}

// PublisherFunc adapts a function to Publisher.
type PublisherFunc func(events.Envelope)

// Publish calls f(env).
func (f PublisherFunc) Publish(env events.Envelope) { f(env) }

// Store is an in-memory purchase-request table.
type Store struct {
	mu        sync.RWMutex
	items     map[string]requisition.PurchaseRequest
	nextID    int
	revision  uint64
	channel   string
	approvals string
	clock     clock.Clock
	pub       Publisher
	logger    *zerolog.Logger
}

// Option configures a Store.
type Option func(*Store)

// WithChannel sets the channel purchase-request events are published on.
func WithChannel(channel string) Option {
	return func(s *Store) { s.channel = channel }
}

// WithApprovalsChannel sets the channel approval transitions are mirrored
// on. An empty name disables the mirror.
func WithApprovalsChannel(channel string) Option {
	return func(s *Store) { s.approvals = channel }
}

// WithClock sets the clock used for UpdatedAt stamps.
func WithClock(c clock.Clock) Option {
	return func(s *Store) { s.clock = c }
}

// WithLogger sets the logger.
func WithLogger(logger *zerolog.Logger) Option {
	return func(s *Store) { s.logger = logger }
}

// New creates an empty store publishing to pub. A nil pub discards events.
func New(pub Publisher, opts ...Option) *Store {
	s := &Store{
		items:     make(map[string]requisition.PurchaseRequest),
		channel:   constants.PurchaseRequestsChannel,
		approvals: constants.ApprovalsChannel,
		clock:     clock.Real(),
		pub:       pub,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.pub == nil {
		s.pub = PublisherFunc(func(events.Envelope) {})
	}
	if s.logger == nil {
		s.logger = logging.Component("store")
	}
	return s
}

// Channel returns the channel events are published on.
func (s *Store) Channel() string { return s.channel }

// Create adds a request. Missing ID, number, phase and currency are filled
// in; the amount defaults to the sum of the line items.
func (s *Store) Create(pr requisition.PurchaseRequest) (requisition.PurchaseRequest, error) {
	if strings.TrimSpace(pr.Title) == "" {
		return requisition.PurchaseRequest{}, errors.NewValidationError("title", pr.Title, "is required")
	}
	if pr.Phase == "" {
		pr.Phase = requisition.PhaseSolicitation
	}
	if !pr.Phase.Valid() {
		return requisition.PurchaseRequest{}, errors.NewValidationError("phase", pr.Phase, "unknown phase")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.nextID++
	if pr.ID == "" {
		pr.ID = fmt.Sprintf("PR-%04d", s.nextID)
	}
	if _, exists := s.items[pr.ID]; exists {
		return requisition.PurchaseRequest{}, errors.NewValidationError("id", pr.ID, "already exists")
	}
	now := s.clock.Now().UTC()
	if pr.Number == "" {
		pr.Number = fmt.Sprintf("%d-%04d", now.Year(), s.nextID)
	}
	if pr.Amount.Cents == 0 && len(pr.Items) > 0 {
		pr.Amount = total(pr.Items)
	}
	if pr.Amount.Currency == "" {
		pr.Amount.Currency = requisition.DefaultCurrency
	}
	pr.Version = 1
	pr.UpdatedAt = now
	pr = pr.Clone()
	s.items[pr.ID] = pr

	s.emitLocked(s.channel, pr, events.Created{Request: pr.Clone()})
	return pr.Clone(), nil
}

// Update applies a field patch. Phase changes go through Transition.
func (s *Store) Update(id string, patch requisition.Patch) (requisition.PurchaseRequest, error) {
	if patch.Phase != nil {
		return requisition.PurchaseRequest{}, errors.NewValidationError("phase", *patch.Phase, "use a transition to change the phase")
	}
	if patch.Empty() {
		return requisition.PurchaseRequest{}, errors.NewValidationError("patch", nil, "changes nothing")
	}
	if patch.Title != nil && strings.TrimSpace(*patch.Title) == "" {
		return requisition.PurchaseRequest{}, errors.NewValidationError("title", "", "is required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	pr, ok := s.items[id]
	if !ok {
		return requisition.PurchaseRequest{}, errors.NewNotFoundError("purchase request", id)
	}
	if pr.Phase.Terminal() {
		return requisition.PurchaseRequest{}, errors.NewValidationError("phase", pr.Phase, "request is closed")
	}
	patch.Apply(&pr)
	if patch.Items != nil && patch.Amount == nil {
		pr.Amount = total(pr.Items)
		amount := pr.Amount
		patch.Amount = &amount
	}
	s.bumpLocked(&pr)

	s.emitLocked(s.channel, pr, events.Updated{Patch: patch})
	return pr.Clone(), nil
}

// Transition moves a request to phase to. Allowed moves are the next
// workflow phase, or rejected and cancelled from any open phase.
func (s *Store) Transition(id string, to requisition.Phase, actor, comment string) (requisition.PurchaseRequest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	pr, ok := s.items[id]
	if !ok {
		return requisition.PurchaseRequest{}, errors.NewNotFoundError("purchase request", id)
	}
	from := pr.Phase
	if err := checkTransition(from, to); err != nil {
		return requisition.PurchaseRequest{}, err
	}
	pr.Phase = to
	s.bumpLocked(&pr)

	payload := events.PhaseChanged{From: from, To: to, Actor: actor, Comment: comment}
	s.emitLocked(s.channel, pr, payload)
	if s.approvals != "" && (to == requisition.PhaseA1Approval || to == requisition.PhaseA2Approval) {
		s.emitLocked(s.approvals, pr, payload)
	}
	return pr.Clone(), nil
}

// Advance moves a request to the next workflow phase.
func (s *Store) Advance(id, actor, comment string) (requisition.PurchaseRequest, error) {
	pr, ok := s.Get(id)
	if !ok {
		return requisition.PurchaseRequest{}, errors.NewNotFoundError("purchase request", id)
	}
	next, err := pr.Phase.Next()
	if err != nil {
		return requisition.PurchaseRequest{}, errors.NewValidationError("phase", pr.Phase, err.Error())
	}
	return s.Transition(id, next, actor, comment)
}

func checkTransition(from, to requisition.Phase) error {
	if !to.Valid() {
		return errors.NewValidationError("phase", to, "unknown phase")
	}
	if from.Terminal() {
		return errors.NewValidationError("phase", from, "request is closed")
	}
	if to == requisition.PhaseRejected || to == requisition.PhaseCancelled {
		return nil
	}
	if next, _ := from.Next(); next != to {
		return errors.NewValidationError("phase", to, fmt.Sprintf("cannot move from %s to %s", from, to))
	}
	return nil
}

// Delete removes a request and publishes a deleted event with the next
// version.
func (s *Store) Delete(id, reason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	pr, ok := s.items[id]
	if !ok {
		return errors.NewNotFoundError("purchase request", id)
	}
	delete(s.items, id)
	s.bumpLocked(&pr)

	s.emitLocked(s.channel, pr, events.Deleted{Reason: reason})
	return nil
}

// Get returns a copy of the request with id.
func (s *Store) Get(id string) (requisition.PurchaseRequest, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	pr, ok := s.items[id]
	if !ok {
		return requisition.PurchaseRequest{}, false
	}
	return pr.Clone(), true
}

// List returns copies of the requested ids, skipping unknown ones, or every
// request when no ids are given. Results are sorted by ID.
func (s *Store) List(ids ...string) []requisition.PurchaseRequest {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []requisition.PurchaseRequest
	if len(ids) == 0 {
		out = make([]requisition.PurchaseRequest, 0, len(s.items))
		for _, pr := range s.items {
			out = append(out, pr.Clone())
		}
	} else {
		seen := make(map[string]bool, len(ids))
		for _, id := range ids {
			if seen[id] {
				continue
			}
			seen[id] = true
			if pr, ok := s.items[id]; ok {
				out = append(out, pr.Clone())
			}
		}
	}
	slices.SortFunc(out, func(a, b requisition.PurchaseRequest) int { return strings.Compare(a.ID, b.ID) })
	return out
}

// IDs returns the ids of every request, sorted.
func (s *Store) IDs() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := make([]string, 0, len(s.items))
	for id := range s.items {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}

// Len returns the number of requests.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.items)
}

func (s *Store) bumpLocked(pr *requisition.PurchaseRequest) {
	pr.Version++
	pr.UpdatedAt = s.clock.Now().UTC()
	if _, ok := s.items[pr.ID]; ok {
		s.items[pr.ID] = *pr
	}
}

// Revision returns a counter bumped by every mutation.
func (s *Store) Revision() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.revision
}

func (s *Store) emitLocked(channel string, pr requisition.PurchaseRequest, p events.Payload) {
	if channel == s.channel {
		s.revision++
	}
	env, err := events.Encode(events.New(channel, pr.ID, pr.Version, pr.UpdatedAt, p))
	if err != nil {
		s.logger.Error().Err(err).Str("entity_id", pr.ID).Msg("Failed to encode event")
		return
	}
	s.logger.Debug().
		Str("channel", channel).
		Str("event", string(env.Event)).
		Str("entity_id", pr.ID).
		Int64("version", pr.Version).
		Msg("Event emitted")
	s.pub.Publish(env)
}

func total(items []requisition.LineItem) requisition.Money {
	m := requisition.Money{Currency: requisition.DefaultCurrency}
	for i, li := range items {
		t := li.Total()
		if i == 0 && t.Currency != "" {
			m.Currency = t.Currency
		}
		m.Cents += t.Cents
	}
	return m
}
