// Package filter provides query parameter parsing and filtering for the
// development server's purchase-request endpoints.
package filter

import (
	"cmp"
	"net/http"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/agentstation/reqsync/pkg/requisition"
)

// RequestFilter contains all possible filter criteria for purchase requests.
type RequestFilter struct {
	// Identity filters
	IDs []string

	// Workflow filters
	Phases   []requisition.Phase
	OpenOnly bool

	// Ownership filters
	Department    string
	Requester     string
	TitleContains string

	// Amount range filters, in cents
	MinAmount int64
	MaxAmount int64

	// Date filters
	UpdatedAfter *time.Time

	// Ordering and pagination
	Sort   string
	Order  string
	Limit  int
	Offset int
}

// ParseRequestFilter extracts filter parameters from the request query.
// Unparseable values are ignored.
func ParseRequestFilter(r *http.Request) RequestFilter {
	q := r.URL.Query()

	filter := RequestFilter{
		IDs:           splitList(q.Get("ids")),
		Department:    q.Get("department"),
		Requester:     q.Get("requester"),
		TitleContains: q.Get("title_contains"),
		Sort:          q.Get("sort"),
		Order:         q.Get("order"),
		Limit:         parseIntOrDefault(q.Get("limit"), 0),
		Offset:        parseIntOrDefault(q.Get("offset"), 0),
	}

	for _, p := range splitList(q.Get("phase")) {
		if phase, err := requisition.ParsePhase(p); err == nil {
			filter.Phases = append(filter.Phases, phase)
		}
	}
	if open := q.Get("open"); open != "" {
		if b, err := strconv.ParseBool(open); err == nil {
			filter.OpenOnly = b
		}
	}

	if minAmt := q.Get("min_amount"); minAmt != "" {
		if i, err := strconv.ParseInt(minAmt, 10, 64); err == nil {
			filter.MinAmount = i
		}
	}
	if maxAmt := q.Get("max_amount"); maxAmt != "" {
		if i, err := strconv.ParseInt(maxAmt, 10, 64); err == nil {
			filter.MaxAmount = i
		}
	}

	if after := q.Get("updated_after"); after != "" {
		if t, err := time.Parse(time.RFC3339, after); err == nil {
			filter.UpdatedAfter = &t
		}
	}

	return filter
}

// Apply filters, sorts and paginates prs.
func (f RequestFilter) Apply(prs []requisition.PurchaseRequest) []requisition.PurchaseRequest {
	var results []requisition.PurchaseRequest
	for _, pr := range prs {
		if f.matches(pr) {
			results = append(results, pr)
		}
	}

	if f.Sort != "" {
		f.sort(results)
	}
	return f.page(results)
}

// matches checks if a request matches the filter criteria.
func (f RequestFilter) matches(pr requisition.PurchaseRequest) bool {
	return f.matchesIdentity(pr) &&
		f.matchesWorkflow(pr) &&
		f.matchesOwnership(pr) &&
		f.matchesAmount(pr) &&
		f.matchesDate(pr)
}

func (f RequestFilter) matchesIdentity(pr requisition.PurchaseRequest) bool {
	return len(f.IDs) == 0 || slices.Contains(f.IDs, pr.ID)
}

func (f RequestFilter) matchesWorkflow(pr requisition.PurchaseRequest) bool {
	if f.OpenOnly && pr.Phase.Terminal() {
		return false
	}
	return len(f.Phases) == 0 || slices.Contains(f.Phases, pr.Phase)
}

func (f RequestFilter) matchesOwnership(pr requisition.PurchaseRequest) bool {
	if f.Department != "" && !strings.EqualFold(pr.Department, f.Department) {
		return false
	}
	if f.Requester != "" && !strings.EqualFold(pr.Requester, f.Requester) {
		return false
	}
	if f.TitleContains != "" && !strings.Contains(strings.ToLower(pr.Title), strings.ToLower(f.TitleContains)) {
		return false
	}
	return true
}

func (f RequestFilter) matchesAmount(pr requisition.PurchaseRequest) bool {
	if f.MinAmount > 0 && pr.Amount.Cents < f.MinAmount {
		return false
	}
	if f.MaxAmount > 0 && pr.Amount.Cents > f.MaxAmount {
		return false
	}
	return true
}

func (f RequestFilter) matchesDate(pr requisition.PurchaseRequest) bool {
	return f.UpdatedAfter == nil || pr.UpdatedAt.After(*f.UpdatedAfter)
}

// sort orders prs in place by the sort field. Ties break on ID.
func (f RequestFilter) sort(prs []requisition.PurchaseRequest) {
	var key func(a, b requisition.PurchaseRequest) int
	switch strings.ToLower(f.Sort) {
	case "number":
		key = func(a, b requisition.PurchaseRequest) int { return strings.Compare(a.Number, b.Number) }
	case "title":
		key = func(a, b requisition.PurchaseRequest) int { return strings.Compare(a.Title, b.Title) }
	case "amount":
		key = func(a, b requisition.PurchaseRequest) int { return cmp.Compare(a.Amount.Cents, b.Amount.Cents) }
	case "updated", "updated_at":
		key = func(a, b requisition.PurchaseRequest) int { return a.UpdatedAt.Compare(b.UpdatedAt) }
	case "phase":
		key = func(a, b requisition.PurchaseRequest) int { return cmp.Compare(phaseRank(a.Phase), phaseRank(b.Phase)) }
	default:
		key = func(a, b requisition.PurchaseRequest) int { return 0 }
	}
	desc := strings.EqualFold(f.Order, "desc")
	slices.SortStableFunc(prs, func(a, b requisition.PurchaseRequest) int {
		c := key(a, b)
		if desc {
			c = -c
		}
		if c != 0 {
			return c
		}
		return strings.Compare(a.ID, b.ID)
	})
}

func (f RequestFilter) page(prs []requisition.PurchaseRequest) []requisition.PurchaseRequest {
	if f.Offset > 0 {
		if f.Offset >= len(prs) {
			return nil
		}
		prs = prs[f.Offset:]
	}
	if f.Limit > 0 && f.Limit < len(prs) {
		prs = prs[:f.Limit]
	}
	return prs
}

func phaseRank(p requisition.Phase) int {
	if i := slices.Index(requisition.Phases(), p); i >= 0 {
		return i
	}
	return len(requisition.Phases())
}

// splitList splits a comma separated list, dropping empty entries.
func splitList(s string) []string {
	if s == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// parseIntOrDefault parses an integer or returns default.
func parseIntOrDefault(s string, def int) int {
	if s == "" {
		return def
	}
	if i, err := strconv.Atoi(s); err == nil && i >= 0 {
		return i
	}
	return def
}
