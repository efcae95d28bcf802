// Package mock drives synthetic purchase-request activity against the
// development store so a connected client sees a steady stream of events.
package mock

import (
	"context"
	"fmt"
	"math/rand/v2"
	"time"

	"github.com/rs/zerolog"

	"github.com/agentstation/reqsync/internal/clock"
	"github.com/agentstation/reqsync/internal/server/store"
	"github.com/agentstation/reqsync/pkg/logging"
	"github.com/agentstation/reqsync/pkg/requisition"
)

var (
	departments = []string{"Engineering", "Finance", "Facilities", "Marketing", "Operations"}
	requesters  = []string{"a.moreno", "j.okafor", "l.chen", "m.schulz", "r.patel", "s.nakamura"}
	approvers   = []string{"cfo", "dept-head", "procurement"}
	catalog     = []requisition.LineItem{
		{Description: "Laptop", UnitPrice: requisition.Money{Cents: 145000, Currency: "USD"}},
		{Description: "27in monitor", UnitPrice: requisition.Money{Cents: 32900, Currency: "USD"}},
		{Description: "Standing desk", UnitPrice: requisition.Money{Cents: 61000, Currency: "USD"}},
		{Description: "Ergonomic chair", UnitPrice: requisition.Money{Cents: 48900, Currency: "USD"}},
		{Description: "Toner cartridge", UnitPrice: requisition.Money{Cents: 8900, Currency: "USD"}},
		{Description: "Conference headset", UnitPrice: requisition.Money{Cents: 17500, Currency: "USD"}},
	}
)

// Action names the mutation a Step performed.
type Action string

// Generator actions.
const (
	ActionCreate  Action = "create"
	ActionAdvance Action = "advance"
	ActionReject  Action = "reject"
	ActionUpdate  Action = "update"
	ActionDelete  Action = "delete"
	ActionIdle    Action = "idle"
)

// Generator mutates a store at random.
type Generator struct {
	store  *store.Store
	rng    *rand.Rand
	clock  clock.Clock
	max    int
	logger *zerolog.Logger
}

// Option configures a Generator.
type Option func(*Generator)

// WithSeed makes the activity sequence reproducible.
func WithSeed(seed uint64) Option {
	return func(g *Generator) { g.rng = rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15)) }
}

// WithClock sets the clock driving Run.
func WithClock(c clock.Clock) Option {
	return func(g *Generator) { g.clock = c }
}

// WithMaxOpen bounds how many requests the generator keeps around before it
// prefers deleting closed ones.
func WithMaxOpen(n int) Option {
	return func(g *Generator) { g.max = n }
}

// WithLogger sets the logger.
func WithLogger(logger *zerolog.Logger) Option {
	return func(g *Generator) { g.logger = logger }
}

// NewGenerator creates a generator for s.
func NewGenerator(s *store.Store, opts ...Option) *Generator {
	g := &Generator{
		store: s,
		rng:   rand.New(rand.NewPCG(uint64(time.Now().UnixNano()), 0)),
		clock: clock.Real(),
		max:   25,
	}
	for _, opt := range opts {
		opt(g)
	}
	if g.logger == nil {
		g.logger = logging.Component("mock")
	}
	return g
}

// Seed creates n requests spread across the workflow.
func (g *Generator) Seed(n int) error {
	for range n {
		pr, err := g.store.Create(g.newRequest())
		if err != nil {
			return err
		}
		for range g.rng.IntN(3) {
			if pr, err = g.store.Advance(pr.ID, g.pick(approvers), ""); err != nil {
				return err
			}
		}
	}
	return nil
}

// Run performs one Step per interval until ctx is cancelled.
func (g *Generator) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		return
	}
	for {
		select {
		case <-ctx.Done():
			return
		case <-g.clock.After(interval):
			action, id, err := g.Step()
			if err != nil {
				g.logger.Warn().Err(err).Str("action", string(action)).Str("entity_id", id).Msg("Mock step failed")
				continue
			}
			g.logger.Debug().Str("action", string(action)).Str("entity_id", id).Msg("Mock step")
		}
	}
}

// Step performs one random mutation and reports what it did.
func (g *Generator) Step() (Action, string, error) {
	var open, closed []requisition.PurchaseRequest
	for _, pr := range g.store.List() {
		if pr.Phase.Terminal() {
			closed = append(closed, pr)
		} else {
			open = append(open, pr)
		}
	}

	full := len(open)+len(closed) >= g.max
	if full && len(closed) > 0 {
		pr := closed[g.rng.IntN(len(closed))]
		return ActionDelete, pr.ID, g.store.Delete(pr.ID, "archived")
	}
	if len(open) == 0 {
		pr, err := g.store.Create(g.newRequest())
		return ActionCreate, pr.ID, err
	}

	pr := open[g.rng.IntN(len(open))]
	switch roll := g.rng.IntN(100); {
	case roll < 20 && !full:
		created, err := g.store.Create(g.newRequest())
		return ActionCreate, created.ID, err
	case roll < 65:
		_, err := g.store.Advance(pr.ID, g.pick(approvers), "")
		return ActionAdvance, pr.ID, err
	case roll < 72:
		_, err := g.store.Transition(pr.ID, requisition.PhaseRejected, g.pick(approvers), "over budget")
		return ActionReject, pr.ID, err
	case roll < 95:
		items := append(pr.Items, g.lineItem())
		_, err := g.store.Update(pr.ID, requisition.Patch{Items: &items})
		return ActionUpdate, pr.ID, err
	default:
		return ActionIdle, "", nil
	}
}

func (g *Generator) newRequest() requisition.PurchaseRequest {
	items := make([]requisition.LineItem, 1+g.rng.IntN(3))
	for i := range items {
		items[i] = g.lineItem()
	}
	dept := g.pick(departments)
	return requisition.PurchaseRequest{
		Title:      fmt.Sprintf("%s: %s", dept, items[0].Description),
		Requester:  g.pick(requesters),
		Department: dept,
		Items:      items,
	}
}

func (g *Generator) lineItem() requisition.LineItem {
	li := catalog[g.rng.IntN(len(catalog))]
	li.Quantity = 1 + g.rng.IntN(5)
	return li
}

func (g *Generator) pick(from []string) string {
	return from[g.rng.IntN(len(from))]
}
