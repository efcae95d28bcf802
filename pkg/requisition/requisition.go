// Package requisition defines the purchase-request domain model that the
// realtime coordinator caches: requests, their approval phase, money amounts
// and the version marker used to order updates.
package requisition

import (
	"slices"
	"time"
)

// PurchaseRequest is the client-side representation of a purchase request.
type PurchaseRequest struct {
	ID         string     `json:"id" yaml:"id"`
	Number     string     `json:"number,omitempty" yaml:"number,omitempty"`
	Title      string     `json:"title,omitempty" yaml:"title,omitempty"`
	Requester  string     `json:"requester,omitempty" yaml:"requester,omitempty"`
	Department string     `json:"department,omitempty" yaml:"department,omitempty"`
	Phase      Phase      `json:"phase,omitempty" yaml:"phase,omitempty"`
	Amount     Money      `json:"amount" yaml:"amount"`
	Items      []LineItem `json:"items,omitempty" yaml:"items,omitempty"`
	Version    int64      `json:"version,omitempty" yaml:"version,omitempty"`
	UpdatedAt  time.Time  `json:"updatedAt,omitzero" yaml:"updated_at,omitempty"`
}

// LineItem is a single requested article.
type LineItem struct {
	Description string `json:"description" yaml:"description"`
	Quantity    int    `json:"quantity" yaml:"quantity"`
	UnitPrice   Money  `json:"unitPrice" yaml:"unit_price"`
}

// Total returns quantity times unit price.
func (li LineItem) Total() Money {
	return Money{Cents: li.UnitPrice.Cents * int64(li.Quantity), Currency: li.UnitPrice.Currency}
}

// Marker returns the version marker carried by the representation itself,
// as returned by an authoritative poll.
func (pr PurchaseRequest) Marker() Version {
	return Version{Seq: pr.Version, At: pr.UpdatedAt}
}

// Clone returns a deep copy so callers never share the cached slices.
func (pr PurchaseRequest) Clone() PurchaseRequest {
	out := pr
	out.Items = slices.Clone(pr.Items)
	return out
}

// Patch carries the fields of an "updated" event. Nil fields are untouched.
type Patch struct {
	Number     *string     `json:"number,omitempty"`
	Title      *string     `json:"title,omitempty"`
	Requester  *string     `json:"requester,omitempty"`
	Department *string     `json:"department,omitempty"`
	Phase      *Phase      `json:"phase,omitempty"`
	Amount     *Money      `json:"amount,omitempty"`
	Items      *[]LineItem `json:"items,omitempty"`
}

// Empty reports whether the patch changes nothing.
func (p Patch) Empty() bool {
	return p.Number == nil && p.Title == nil && p.Requester == nil &&
		p.Department == nil && p.Phase == nil && p.Amount == nil && p.Items == nil
}

// Apply writes the non-nil fields of p into pr.
func (p Patch) Apply(pr *PurchaseRequest) {
	if p.Number != nil {
		pr.Number = *p.Number
	}
	if p.Title != nil {
		pr.Title = *p.Title
	}
	if p.Requester != nil {
		pr.Requester = *p.Requester
	}
	if p.Department != nil {
		pr.Department = *p.Department
	}
	if p.Phase != nil {
		pr.Phase = *p.Phase
	}
	if p.Amount != nil {
		pr.Amount = *p.Amount
	}
	if p.Items != nil {
		pr.Items = slices.Clone(*p.Items)
	}
}
