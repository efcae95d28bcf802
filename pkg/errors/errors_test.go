package errors_test

import (
	"context"
	"errors"
	"testing"
	"time"

	pkgerrors "github.com/agentstation/reqsync/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew(t *testing.T) {
	err := pkgerrors.New("test error")
	assert.NotNil(t, err)
	assert.Equal(t, "test error", err.Error())
}

func TestNotFoundError(t *testing.T) {
	err := pkgerrors.NewNotFoundError("purchase request", "42")
	assert.Equal(t, "purchase request with ID 42 not found", err.Error())
	assert.True(t, pkgerrors.IsNotFound(err))

	wrapped := errors.Join(errors.New("lookup failed"), err)
	assert.True(t, pkgerrors.IsNotFound(wrapped))
}

func TestValidationError(t *testing.T) {
	t.Run("with field", func(t *testing.T) {
		err := pkgerrors.NewValidationError("poll_interval", -1, "must be positive")
		assert.Equal(t, "validation failed for field poll_interval: must be positive", err.Error())
		assert.True(t, pkgerrors.IsValidationError(err))
	})

	t.Run("without field", func(t *testing.T) {
		err := &pkgerrors.ValidationError{Message: "channel required"}
		assert.Equal(t, "validation failed: channel required", err.Error())
	})

	t.Run("wrap nil", func(t *testing.T) {
		assert.NoError(t, pkgerrors.WrapValidation("x", nil))
	})
}

func TestMalformedEventError(t *testing.T) {
	t.Run("with field", func(t *testing.T) {
		err := pkgerrors.NewMalformedEventError("purchase-requests", "updated", "payload", "not an object")
		assert.Equal(t, "malformed event purchase-requests/updated: field payload: not an object", err.Error())
		assert.True(t, pkgerrors.IsMalformed(err))
		assert.True(t, errors.Is(err, pkgerrors.ErrInvalidInput))
	})

	t.Run("unknown event", func(t *testing.T) {
		err := pkgerrors.NewMalformedEventError("", "", "", "missing event")
		assert.Equal(t, "malformed event <unknown>: missing event", err.Error())
	})

	t.Run("unwrap", func(t *testing.T) {
		base := errors.New("unexpected end of JSON input")
		err := &pkgerrors.MalformedEventError{Event: "created", Message: "decode", Err: base}
		assert.ErrorIs(t, err, base)
	})
}

func TestTransportError(t *testing.T) {
	base := errors.New("connection refused")
	err := pkgerrors.WrapTransport("dial", "ws://localhost/ws", 3, base)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "attempt 3")
	assert.True(t, pkgerrors.IsTransport(err))
	assert.ErrorIs(t, err, base)
	assert.NoError(t, pkgerrors.WrapTransport("dial", "", 0, nil))
}

func TestPollFailureError(t *testing.T) {
	timeout := pkgerrors.NewTimeoutError("poll", 2*time.Second, context.DeadlineExceeded)
	err := pkgerrors.WrapPoll([]string{"1", "2"}, 2, timeout)

	assert.True(t, pkgerrors.IsPollFailure(err))
	assert.True(t, pkgerrors.IsTimeout(err))
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, "poll of 2 entities failed (consecutive failures: 2): operation poll timed out after 2s", err.Error())
}

func TestAPIError(t *testing.T) {
	tests := []struct {
		name        string
		status      int
		rateLimited bool
		unavailable bool
	}{
		{name: "rate limited", status: 429, rateLimited: true},
		{name: "server error", status: 503, unavailable: true},
		{name: "client error", status: 404},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := pkgerrors.NewAPIError("/api/purchase-requests", tt.status, "boom")
			assert.Equal(t, tt.rateLimited, errors.Is(err, pkgerrors.ErrRateLimited))
			assert.Equal(t, tt.unavailable, errors.Is(err, pkgerrors.ErrServerUnavailable))
			assert.Contains(t, err.Error(), "/api/purchase-requests")
		})
	}
}

func TestResourceError(t *testing.T) {
	base := errors.New("bad url")
	err := pkgerrors.WrapResource("create", "transport", "ws://x", base)
	assert.Equal(t, "failed to create transport ws://x: bad url", err.Error())
	assert.ErrorIs(t, err, base)

	var re *pkgerrors.ResourceError
	require.True(t, errors.As(err, &re))
	assert.Equal(t, "transport", re.Resource)
}

func TestConfigError(t *testing.T) {
	err := pkgerrors.NewConfigError("realtime", "url is required", nil)
	assert.Equal(t, "configuration error in realtime: url is required", err.Error())
	assert.Nil(t, errors.Unwrap(err))
}
