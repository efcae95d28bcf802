package handlers

import (
	"encoding/json"
	"io"
	"net/http"

	"github.com/agentstation/reqsync/internal/server/cache"
	"github.com/agentstation/reqsync/internal/server/filter"
	"github.com/agentstation/reqsync/internal/server/response"
	"github.com/agentstation/reqsync/pkg/errors"
	"github.com/agentstation/reqsync/pkg/logging"
	"github.com/agentstation/reqsync/pkg/requisition"
)

// maxBodySize bounds request bodies.
const maxBodySize = 1 << 20

// HandleListRequests handles GET /api/purchase-requests. With ids it answers
// the poll contract: the current state of each known id, unknown ids
// omitted. Other query parameters filter, sort and paginate.
func (h *Handlers) HandleListRequests(w http.ResponseWriter, r *http.Request) {
	key := cache.Key(h.store.Revision(), r.URL.Path, r.URL.RawQuery)
	if cached, found := h.cache.Get(key); found {
		response.Raw(w, cached.([]byte))
		return
	}

	f := filter.ParseRequestFilter(r)
	results := f.Apply(h.store.List(f.IDs...))
	if results == nil {
		results = []requisition.PurchaseRequest{}
	}

	body, err := json.Marshal(response.Success(results))
	if err != nil {
		response.InternalError(w, err)
		return
	}
	h.cache.Set(key, body)
	response.Raw(w, body)
}

// HandleGetRequest handles GET /api/purchase-requests/{id}.
func (h *Handlers) HandleGetRequest(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	pr, ok := h.store.Get(id)
	if !ok {
		response.ErrorFromType(w, errors.NewNotFoundError("purchase request", id))
		return
	}
	response.OK(w, pr)
}

// HandleCreateRequest handles POST /api/purchase-requests.
func (h *Handlers) HandleCreateRequest(w http.ResponseWriter, r *http.Request) {
	var body createBody
	if !h.decodeBody(w, r, &body) {
		return
	}
	pr := requisition.PurchaseRequest(body)
	if pr.Version != 0 || !pr.UpdatedAt.IsZero() {
		response.BadRequest(w, "version and updatedAt are assigned by the server", "")
		return
	}
	created, err := h.store.Create(pr)
	if err != nil {
		response.ErrorFromType(w, err)
		return
	}
	response.Created(w, created)
}

// createBody decodes a new request field by field, so unknown fields are
// rejected. PurchaseRequest's own decoder would accept them.
type createBody requisition.PurchaseRequest

// HandlePatchRequest handles PATCH /api/purchase-requests/{id}.
func (h *Handlers) HandlePatchRequest(w http.ResponseWriter, r *http.Request) {
	var patch requisition.Patch
	if !h.decodeBody(w, r, &patch) {
		return
	}
	updated, err := h.store.Update(r.PathValue("id"), patch)
	if err != nil {
		response.ErrorFromType(w, err)
		return
	}
	response.OK(w, updated)
}

// transitionRequest is the body of a transition call.
type transitionRequest struct {
	To      requisition.Phase `json:"to"`
	Actor   string            `json:"actor,omitempty"`
	Comment string            `json:"comment,omitempty"`
}

// HandleTransition handles POST /api/purchase-requests/{id}/transition.
func (h *Handlers) HandleTransition(w http.ResponseWriter, r *http.Request) {
	var body transitionRequest
	if !h.decodeBody(w, r, &body) {
		return
	}
	id := r.PathValue("id")
	updated, err := h.store.Transition(id, body.To, body.Actor, body.Comment)
	if err != nil {
		logging.FromContext(logging.WithEntity(r.Context(), id)).Debug().
			Err(err).
			Str("to", string(body.To)).
			Msg("Transition rejected")
		response.ErrorFromType(w, err)
		return
	}
	response.OK(w, updated)
}

// HandleAdvance handles POST /api/purchase-requests/{id}/advance. The body
// is optional and only carries actor and comment.
func (h *Handlers) HandleAdvance(w http.ResponseWriter, r *http.Request) {
	var body transitionRequest
	if r.ContentLength != 0 && !h.decodeBody(w, r, &body) {
		return
	}
	updated, err := h.store.Advance(r.PathValue("id"), body.Actor, body.Comment)
	if err != nil {
		response.ErrorFromType(w, err)
		return
	}
	response.OK(w, updated)
}

// HandleDeleteRequest handles DELETE /api/purchase-requests/{id}.
func (h *Handlers) HandleDeleteRequest(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := h.store.Delete(id, r.URL.Query().Get("reason")); err != nil {
		response.ErrorFromType(w, err)
		return
	}
	response.OK(w, map[string]any{"id": id, "deleted": true})
}

func (h *Handlers) decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodySize))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		response.BadRequest(w, "Invalid JSON body", err.Error())
		return false
	}
	return true
}
