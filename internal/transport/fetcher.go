package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"net/url"
	"strings"

	"github.com/agentstation/reqsync/pkg/errors"
	"github.com/agentstation/reqsync/pkg/requisition"
)

// PurchaseRequestsPath is the poll endpoint relative to the base URL.
const PurchaseRequestsPath = "/api/purchase-requests"

// Fetcher polls the authoritative state of purchase requests over HTTP. Its
// Fetch method satisfies reqsync.FetchFunc.
type Fetcher struct {
	client *Client
	base   string
}

// NewFetcher creates a Fetcher for the server at baseURL.
func NewFetcher(baseURL string, opts ...Option) (*Fetcher, error) {
	u, err := url.Parse(baseURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, errors.NewValidationError("baseURL", baseURL, "must be an absolute URL")
	}
	return &Fetcher{
		client: New(opts...),
		base:   strings.TrimRight(baseURL, "/"),
	}, nil
}

// listResponse is the envelope some servers wrap the result list in.
type listResponse struct {
	Data []requisition.PurchaseRequest `json:"data"`
}

// rawList accepts either a bare JSON array or {"data": [...]}.
type rawList []requisition.PurchaseRequest

func (l *rawList) UnmarshalJSON(b []byte) error {
	if t := bytes.TrimSpace(b); len(t) > 0 && t[0] == '[' {
		return json.Unmarshal(t, (*[]requisition.PurchaseRequest)(l))
	}
	var wrapped listResponse
	if err := json.Unmarshal(b, &wrapped); err != nil {
		return err
	}
	*l = wrapped.Data
	return nil
}

// Fetch returns the current state of ids. Ids the server does not know are
// simply absent from the result.
func (f *Fetcher) Fetch(ctx context.Context, ids []string) ([]requisition.PurchaseRequest, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	q := url.Values{}
	q.Set("ids", strings.Join(ids, ","))
	endpoint := f.base + PurchaseRequestsPath + "?" + q.Encode()

	resp, err := f.client.Get(ctx, endpoint)
	if err != nil {
		return nil, err
	}
	var list rawList
	if err := f.client.DecodeResponse(resp, &list); err != nil {
		return nil, err
	}
	return list, nil
}
