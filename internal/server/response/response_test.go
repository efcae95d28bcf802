package response

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/agentstation/reqsync/pkg/errors"
)

func decode(t *testing.T, w *httptest.ResponseRecorder) Response {
	t.Helper()
	var resp Response
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	return resp
}

// TestFail tests the Fail helper function.
func TestFail(t *testing.T) {
	resp := Fail("TEST_ERROR", "Test error message", "Additional details")

	if resp.Data != nil {
		t.Error("expected Data to be nil")
	}
	if resp.Error == nil {
		t.Fatal("expected Error to be set")
	}
	if resp.Error.Code != "TEST_ERROR" || resp.Error.Message != "Test error message" || resp.Error.Details != "Additional details" {
		t.Errorf("unexpected error body %+v", resp.Error)
	}
}

// TestOK tests the wire shape of a success response.
func TestOK(t *testing.T) {
	w := httptest.NewRecorder()
	OK(w, map[string]string{"id": "PR-1"})

	if w.Code != http.StatusOK {
		t.Errorf("expected status 200, got %d", w.Code)
	}
	if ct := w.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("expected Content-Type=application/json, got %s", ct)
	}

	var raw map[string]json.RawMessage
	if err := json.Unmarshal(w.Body.Bytes(), &raw); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}
	if string(raw["error"]) != "null" {
		t.Errorf("expected error to be null, got %s", raw["error"])
	}
	if string(raw["data"]) != `{"id":"PR-1"}` {
		t.Errorf("unexpected data %s", raw["data"])
	}
}

// TestRaw tests pass-through bodies.
func TestRaw(t *testing.T) {
	w := httptest.NewRecorder()
	Raw(w, []byte(`{"data":[],"error":null}`))
	if w.Code != http.StatusOK || w.Body.String() != `{"data":[],"error":null}` {
		t.Errorf("unexpected raw response %d %s", w.Code, w.Body.String())
	}
}

// TestErrorHelpers tests the status and code of every helper.
func TestErrorHelpers(t *testing.T) {
	tests := []struct {
		name   string
		write  func(http.ResponseWriter)
		status int
		code   string
	}{
		{"BadRequest", func(w http.ResponseWriter) { BadRequest(w, "bad", "") }, http.StatusBadRequest, "BAD_REQUEST"},
		{"Unauthorized", func(w http.ResponseWriter) { Unauthorized(w, "no", "") }, http.StatusUnauthorized, "UNAUTHORIZED"},
		{"NotFound", func(w http.ResponseWriter) { NotFound(w, "missing", "") }, http.StatusNotFound, "NOT_FOUND"},
		{"RateLimited", func(w http.ResponseWriter) { RateLimited(w, "slow down") }, http.StatusTooManyRequests, "RATE_LIMITED"},
		{"InternalError", func(w http.ResponseWriter) { InternalError(w, fmt.Errorf("secret")) }, http.StatusInternalServerError, "INTERNAL_ERROR"},
		{"ServiceUnavailable", func(w http.ResponseWriter) { ServiceUnavailable(w, "down") }, http.StatusServiceUnavailable, "SERVICE_UNAVAILABLE"},
		{"GatewayTimeout", func(w http.ResponseWriter) { GatewayTimeout(w, "slow") }, http.StatusGatewayTimeout, "TIMEOUT"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			tt.write(w)
			if w.Code != tt.status {
				t.Errorf("expected status %d, got %d", tt.status, w.Code)
			}
			resp := decode(t, w)
			if resp.Error == nil || resp.Error.Code != tt.code {
				t.Errorf("expected code %s, got %+v", tt.code, resp.Error)
			}
		})
	}
}

// TestErrorFromType tests mapping typed and wrapped errors.
func TestErrorFromType(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		status int
	}{
		{"not found", errors.NewNotFoundError("purchase request", "PR-1"), http.StatusNotFound},
		{"wrapped not found", fmt.Errorf("lookup: %w", errors.NewNotFoundError("purchase request", "PR-1")), http.StatusNotFound},
		{"validation", errors.NewValidationError("title", "", "is required"), http.StatusBadRequest},
		{"malformed", errors.NewMalformedEventError("c", "created", "payload", "bad"), http.StatusBadRequest},
		{"api 429", errors.NewAPIError("/x", 429, "slow"), http.StatusTooManyRequests},
		{"api 502", errors.NewAPIError("/x", 502, "upstream"), http.StatusServiceUnavailable},
		{"api 404", errors.NewAPIError("/x", 404, "gone"), http.StatusBadRequest},
		{"timeout", errors.NewTimeoutError("poll", time.Second, nil), http.StatusGatewayTimeout},
		{"unknown", fmt.Errorf("boom"), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			ErrorFromType(w, tt.err)
			if w.Code != tt.status {
				t.Errorf("expected status %d, got %d", tt.status, w.Code)
			}
		})
	}
}
