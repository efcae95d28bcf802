package requisition

import (
	"fmt"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// Phase is a stage of the approval workflow.
type Phase string

// Workflow phases in order, followed by the terminal outcomes.
const (
	PhaseSolicitation  Phase = "solicitation"
	PhaseA1Approval    Phase = "a1_approval"
	PhaseA2Approval    Phase = "a2_approval"
	PhaseQuotation     Phase = "quotation"
	PhasePurchaseOrder Phase = "purchase_order"

	PhaseRejected  Phase = "rejected"
	PhaseCancelled Phase = "cancelled"
)

// workflow is the approval order. Terminal outcomes are not part of it.
var workflow = []Phase{
	PhaseSolicitation,
	PhaseA1Approval,
	PhaseA2Approval,
	PhaseQuotation,
	PhasePurchaseOrder,
}

// Phases returns the approval workflow phases in order.
func Phases() []Phase {
	out := make([]Phase, len(workflow))
	copy(out, workflow)
	return out
}

// Valid reports whether p is a known phase.
func (p Phase) Valid() bool {
	switch p {
	case PhaseRejected, PhaseCancelled:
		return true
	}
	return p.index() >= 0
}

// Terminal reports whether no further transition is possible.
func (p Phase) Terminal() bool {
	return p == PhasePurchaseOrder || p == PhaseRejected || p == PhaseCancelled
}

// Next returns the phase that follows p on approval.
func (p Phase) Next() (Phase, error) {
	i := p.index()
	if i < 0 || p.Terminal() {
		return "", fmt.Errorf("phase %q has no successor", p)
	}
	return workflow[i+1], nil
}

func (p Phase) index() int {
	for i, w := range workflow {
		if w == p {
			return i
		}
	}
	return -1
}

// Title renders the phase for display, e.g. "A1 Approval".
func (p Phase) Title() string {
	switch p {
	case PhaseA1Approval:
		return "A1 Approval"
	case PhaseA2Approval:
		return "A2 Approval"
	case PhaseQuotation:
		return "Quotation (RFQ)"
	}
	return cases.Title(language.English).String(strings.ReplaceAll(string(p), "_", " "))
}

// ParsePhase parses a phase name, accepting display spellings.
func ParsePhase(s string) (Phase, error) {
	p := Phase(strings.ReplaceAll(strings.ToLower(strings.TrimSpace(s)), " ", "_"))
	if !p.Valid() {
		return "", fmt.Errorf("unknown phase %q", s)
	}
	return p, nil
}
