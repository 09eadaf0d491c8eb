package errkind

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIs(t *testing.T) {
	err := New(Unavailable, "store offline")
	assert.True(t, Is(err, Unavailable))
	assert.False(t, Is(err, NotFound))
}

func TestIsThroughWrap(t *testing.T) {
	cause := errors.New("connection refused")
	err := Wrap(Unavailable, "appending entry", cause)
	assert.True(t, Is(err, Unavailable))
	assert.ErrorIs(t, err, cause)
}

func TestIsThroughFmtWrap(t *testing.T) {
	base := New(PathEscape, "outside root")
	wrapped := fmt.Errorf("resolving section: %w", base)
	assert.True(t, Is(wrapped, PathEscape))
}

func TestFieldError(t *testing.T) {
	err := FieldError("ticket_id", "must match id grammar")
	require.Equal(t, Malformed, err.Kind)
	assert.Equal(t, "ticket_id", err.Field)
	assert.Contains(t, err.Error(), "ticket_id")
}

func TestWrapIOClassifiesByContextState(t *testing.T) {
	cause := errors.New("write refused")

	err := WrapIO(context.Background(), "storing packet", cause)
	assert.Equal(t, Unavailable, err.Kind)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err = WrapIO(ctx, "storing packet", cause)
	assert.Equal(t, Cancelled, err.Kind)
	assert.ErrorIs(t, err, cause)
}

func TestRecoverable(t *testing.T) {
	assert.True(t, Recoverable(Unavailable))
	assert.True(t, Recoverable(HandoffRequired))
	assert.False(t, Recoverable(Malformed))
	assert.False(t, Recoverable(Unauthorized))
}
