// Package errors provides custom error types for the reqsync system.
// The realtime coordinator never fails hard on these: transport and poll
// errors feed retry and backoff, malformed events are logged and dropped.
// The types exist so callers and logs can tell the failure classes apart.
package errors

import (
	"errors"
	"fmt"
	"time"
)

// New returns an error that formats as the given text.
// It's an alias for the standard library errors.New for convenience.
var New = errors.New

// Common sentinel errors for the reqsync system
var (
	// ErrNotFound indicates that a requested resource was not found
	ErrNotFound = errors.New("not found")

	// ErrInvalidInput indicates that provided input was invalid
	ErrInvalidInput = errors.New("invalid input")

	// ErrTransport indicates a connect, send or receive failure on the event channel
	ErrTransport = errors.New("transport failure")

	// ErrMalformedEvent indicates an inbound event that violates the event schema
	ErrMalformedEvent = errors.New("malformed event")

	// ErrPollFailure indicates a fallback poll that timed out or was rejected
	ErrPollFailure = errors.New("poll failure")

	// ErrStale labels an event that did not supersede the cached version.
	// It is never returned as an error; it names the outcome in logs.
	ErrStale = errors.New("stale event")

	// ErrServerUnavailable indicates the backend answered with a 5xx status
	ErrServerUnavailable = errors.New("server unavailable")

	// ErrRateLimited indicates that the backend rate limit has been exceeded
	ErrRateLimited = errors.New("rate limited")

	// ErrTimeout indicates that an operation timed out
	ErrTimeout = errors.New("operation timed out")

	// ErrClosed indicates use of a component after it was disposed
	ErrClosed = errors.New("closed")
)

// NotFoundError represents an error when a resource is not found
type NotFoundError struct {
	Resource string
	ID       string
}

// Error implements the error interface
func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s with ID %s not found", e.Resource, e.ID)
}

// Is implements errors.Is support
func (e *NotFoundError) Is(target error) bool {
	return target == ErrNotFound
}

// NewNotFoundError creates a new NotFoundError
func NewNotFoundError(resource, id string) *NotFoundError {
	return &NotFoundError{Resource: resource, ID: id}
}

// ValidationError represents a validation failure
type ValidationError struct {
	Field   string
	Value   any
	Message string
}

// Error implements the error interface
func (e *ValidationError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("validation failed for field %s: %s", e.Field, e.Message)
	}
	return fmt.Sprintf("validation failed: %s", e.Message)
}

// Is implements errors.Is support
func (e *ValidationError) Is(target error) bool {
	return target == ErrInvalidInput
}

// NewValidationError creates a new ValidationError
func NewValidationError(field string, value any, message string) *ValidationError {
	return &ValidationError{Field: field, Value: value, Message: message}
}

// MalformedEventError is raised when an inbound event cannot be decoded or
// is missing required fields. Field names the offending field when known.
type MalformedEventError struct {
	Channel string
	Event   string
	Field   string
	Message string
	Err     error
}

// Error implements the error interface
func (e *MalformedEventError) Error() string {
	where := e.Event
	if e.Channel != "" {
		where = e.Channel + "/" + e.Event
	}
	if where == "" {
		where = "<unknown>"
	}
	if e.Field != "" {
		return fmt.Sprintf("malformed event %s: field %s: %s", where, e.Field, e.Message)
	}
	return fmt.Sprintf("malformed event %s: %s", where, e.Message)
}

// Unwrap implements errors.Unwrap
func (e *MalformedEventError) Unwrap() error {
	return e.Err
}

// Is implements errors.Is support
func (e *MalformedEventError) Is(target error) bool {
	return target == ErrMalformedEvent || target == ErrInvalidInput
}

// NewMalformedEventError creates a new MalformedEventError
func NewMalformedEventError(channel, event, field, message string) *MalformedEventError {
	return &MalformedEventError{
		Channel: channel,
		Event:   event,
		Field:   field,
		Message: message,
	}
}

// TransportError represents a failure of the realtime connection.
type TransportError struct {
	Operation string // "dial", "read", "write", "ping"
	URL       string
	Attempt   int
	Err       error
}

// Error implements the error interface
func (e *TransportError) Error() string {
	if e.Attempt > 0 {
		return fmt.Sprintf("transport %s %s (attempt %d): %v", e.Operation, e.URL, e.Attempt, e.Err)
	}
	return fmt.Sprintf("transport %s %s: %v", e.Operation, e.URL, e.Err)
}

// Unwrap implements errors.Unwrap
func (e *TransportError) Unwrap() error {
	return e.Err
}

// Is implements errors.Is support
func (e *TransportError) Is(target error) bool {
	return target == ErrTransport
}

// PollFailureError represents a failed fallback poll cycle.
type PollFailureError struct {
	IDs      []string
	Failures int // consecutive failures including this one
	Err      error
}

// Error implements the error interface
func (e *PollFailureError) Error() string {
	return fmt.Sprintf("poll of %d entities failed (consecutive failures: %d): %v", len(e.IDs), e.Failures, e.Err)
}

// Unwrap implements errors.Unwrap
func (e *PollFailureError) Unwrap() error {
	return e.Err
}

// Is implements errors.Is support
func (e *PollFailureError) Is(target error) bool {
	return target == ErrPollFailure
}

// APIError represents a non-success response from the backend
type APIError struct {
	Endpoint   string
	StatusCode int
	Message    string
	Err        error
}

// Error implements the error interface
func (e *APIError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("API error from %s (status %d): %s", e.Endpoint, e.StatusCode, e.Message)
	}
	return fmt.Sprintf("API error from %s: %s", e.Endpoint, e.Message)
}

// Unwrap implements errors.Unwrap
func (e *APIError) Unwrap() error {
	return e.Err
}

// Is implements errors.Is support
func (e *APIError) Is(target error) bool {
	if e.StatusCode == 429 {
		return target == ErrRateLimited
	}
	if e.StatusCode >= 500 {
		return target == ErrServerUnavailable
	}
	return false
}

// NewAPIError creates a new APIError
func NewAPIError(endpoint string, statusCode int, message string) *APIError {
	return &APIError{
		Endpoint:   endpoint,
		StatusCode: statusCode,
		Message:    message,
	}
}

// TimeoutError represents an operation timeout
type TimeoutError struct {
	Operation string
	Duration  time.Duration
	Err       error
}

// Error implements the error interface
func (e *TimeoutError) Error() string {
	if e.Duration > 0 {
		return fmt.Sprintf("operation %s timed out after %s", e.Operation, e.Duration)
	}
	return fmt.Sprintf("operation %s timed out", e.Operation)
}

// Unwrap implements errors.Unwrap
func (e *TimeoutError) Unwrap() error {
	return e.Err
}

// Is implements errors.Is support
func (e *TimeoutError) Is(target error) bool {
	return target == ErrTimeout
}

// NewTimeoutError creates a new TimeoutError
func NewTimeoutError(operation string, duration time.Duration, err error) *TimeoutError {
	return &TimeoutError{
		Operation: operation,
		Duration:  duration,
		Err:       err,
	}
}

// ConfigError represents a configuration error
type ConfigError struct {
	Component string
	Message   string
	Err       error
}

// Error implements the error interface
func (e *ConfigError) Error() string {
	if e.Component != "" {
		return fmt.Sprintf("configuration error in %s: %s", e.Component, e.Message)
	}
	return fmt.Sprintf("configuration error: %s", e.Message)
}

// Unwrap implements errors.Unwrap
func (e *ConfigError) Unwrap() error {
	return e.Err
}

// NewConfigError creates a new ConfigError
func NewConfigError(component, message string, err error) *ConfigError {
	return &ConfigError{
		Component: component,
		Message:   message,
		Err:       err,
	}
}

// ResourceError represents an error during resource operations
type ResourceError struct {
	Operation string // "create", "start", "fetch", "decode"
	Resource  string // "manager", "transport", "request"
	ID        string
	Message   string
	Err       error
}

// Error implements the error interface
func (e *ResourceError) Error() string {
	if e.ID != "" {
		return fmt.Sprintf("failed to %s %s %s: %s", e.Operation, e.Resource, e.ID, e.Message)
	}
	return fmt.Sprintf("failed to %s %s: %s", e.Operation, e.Resource, e.Message)
}

// Unwrap implements errors.Unwrap
func (e *ResourceError) Unwrap() error {
	return e.Err
}

// NewResourceError creates a new ResourceError
func NewResourceError(operation, resource, id string, err error) *ResourceError {
	message := ""
	if err != nil {
		message = err.Error()
	}
	return &ResourceError{
		Operation: operation,
		Resource:  resource,
		ID:        id,
		Message:   message,
		Err:       err,
	}
}

// Helper functions for error checking

// IsNotFound checks if an error is a not found error
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsValidationError checks if an error is a validation error
func IsValidationError(err error) bool {
	return errors.Is(err, ErrInvalidInput)
}

// IsMalformed checks if an error is a malformed event error
func IsMalformed(err error) bool {
	return errors.Is(err, ErrMalformedEvent)
}

// IsTransport checks if an error is a transport error
func IsTransport(err error) bool {
	return errors.Is(err, ErrTransport)
}

// IsPollFailure checks if an error is a poll failure
func IsPollFailure(err error) bool {
	return errors.Is(err, ErrPollFailure)
}

// IsTimeout checks if an error is a timeout error
func IsTimeout(err error) bool {
	return errors.Is(err, ErrTimeout)
}

// Helper wrapping functions for common patterns

// WrapTransport wraps an error as a TransportError
func WrapTransport(operation, url string, attempt int, err error) error {
	if err == nil {
		return nil
	}
	return &TransportError{Operation: operation, URL: url, Attempt: attempt, Err: err}
}

// WrapPoll wraps an error as a PollFailureError
func WrapPoll(ids []string, failures int, err error) error {
	if err == nil {
		return nil
	}
	return &PollFailureError{IDs: ids, Failures: failures, Err: err}
}

// WrapResource wraps an error as a ResourceError
func WrapResource(operation, resource, id string, err error) error {
	if err == nil {
		return nil
	}
	return NewResourceError(operation, resource, id, err)
}

// WrapValidation wraps an error as a ValidationError
func WrapValidation(field string, err error) error {
	if err == nil {
		return nil
	}
	return &ValidationError{Field: field, Message: err.Error()}
}
