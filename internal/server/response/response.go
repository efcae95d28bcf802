// Package response provides standardized HTTP response structures and helpers
// for the development server. All API responses follow a consistent format
// with a data field for successful responses and an error field for failures.
package response

import (
	"encoding/json"
	stderrors "errors"
	"net/http"

	"github.com/agentstation/reqsync/pkg/errors"
)

// Response represents the standardized API response structure.
type Response struct {
	Data  any    `json:"data"`
	Error *Error `json:"error"`
}

// Error represents an API error with code, message, and optional details.
type Error struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details string `json:"details,omitempty"`
}

// Success creates a successful response with data.
func Success(data any) Response {
	return Response{Data: data}
}

// Fail creates an error response.
func Fail(code, message, details string) Response {
	return Response{
		Error: &Error{
			Code:    code,
			Message: message,
			Details: details,
		},
	}
}

// JSON writes a JSON response with the given status code.
func JSON(w http.ResponseWriter, status int, resp Response) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	// Encoding errors are ignored as headers are already sent (best effort)
	_ = json.NewEncoder(w).Encode(resp)
}

// Raw writes an already encoded JSON body with 200 status.
func Raw(w http.ResponseWriter, body []byte) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(body)
}

// OK writes a successful response with 200 status.
func OK(w http.ResponseWriter, data any) {
	JSON(w, http.StatusOK, Success(data))
}

// Created writes a successful response with 201 status.
func Created(w http.ResponseWriter, data any) {
	JSON(w, http.StatusCreated, Success(data))
}

// errorCodes maps the statuses this server fails with to error codes.
var errorCodes = map[int]string{
	http.StatusBadRequest:          "BAD_REQUEST",
	http.StatusUnauthorized:        "UNAUTHORIZED",
	http.StatusNotFound:            "NOT_FOUND",
	http.StatusTooManyRequests:     "RATE_LIMITED",
	http.StatusInternalServerError: "INTERNAL_ERROR",
	http.StatusServiceUnavailable:  "SERVICE_UNAVAILABLE",
	http.StatusGatewayTimeout:      "TIMEOUT",
}

func fail(w http.ResponseWriter, status int, message, details string) {
	JSON(w, status, Fail(errorCodes[status], message, details))
}

// BadRequest writes a 400 error response.
func BadRequest(w http.ResponseWriter, message, details string) {
	fail(w, http.StatusBadRequest, message, details)
}

// Unauthorized writes a 401 error response.
func Unauthorized(w http.ResponseWriter, message, details string) {
	fail(w, http.StatusUnauthorized, message, details)
}

// NotFound writes a 404 error response.
func NotFound(w http.ResponseWriter, message, details string) {
	fail(w, http.StatusNotFound, message, details)
}

// RateLimited writes a 429 error response.
func RateLimited(w http.ResponseWriter, details string) {
	fail(w, http.StatusTooManyRequests, "Rate limit exceeded", details)
}

// InternalError writes a 500 error response. The error itself is not exposed
// to the client.
func InternalError(w http.ResponseWriter, _ error) {
	fail(w, http.StatusInternalServerError, "Internal server error", "An unexpected error occurred")
}

// ServiceUnavailable writes a 503 error response.
func ServiceUnavailable(w http.ResponseWriter, details string) {
	fail(w, http.StatusServiceUnavailable, "Service unavailable", details)
}

// GatewayTimeout writes a 504 error response.
func GatewayTimeout(w http.ResponseWriter, details string) {
	fail(w, http.StatusGatewayTimeout, "Operation timed out", details)
}

// ErrorFromType maps typed errors, including wrapped ones, to HTTP
// responses.
func ErrorFromType(w http.ResponseWriter, err error) {
	var (
		notFound   *errors.NotFoundError
		validation *errors.ValidationError
		malformed  *errors.MalformedEventError
		apiErr     *errors.APIError
	)
	switch {
	case stderrors.As(err, &notFound):
		NotFound(w, notFound.Error(), "")
	case stderrors.As(err, &validation):
		BadRequest(w, validation.Error(), "")
	case stderrors.As(err, &malformed):
		BadRequest(w, malformed.Error(), "")
	case stderrors.As(err, &apiErr):
		switch {
		case apiErr.StatusCode == http.StatusTooManyRequests:
			RateLimited(w, apiErr.Message)
		case apiErr.StatusCode >= 500:
			ServiceUnavailable(w, apiErr.Message)
		default:
			BadRequest(w, apiErr.Error(), "")
		}
	case errors.IsTimeout(err):
		GatewayTimeout(w, err.Error())
	default:
		InternalError(w, err)
	}
}
