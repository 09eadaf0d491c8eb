package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codeready-toolchain/sessionctl/pkg/errkind"
)

func quickPolicy() Policy {
	return Policy{BaseDelay: time.Millisecond, MaxDelay: 5 * time.Millisecond, MaxAttempts: 4}
}

func TestDoReturnsImmediatelyOnSuccess(t *testing.T) {
	calls := 0
	err := quickPolicy().Do(context.Background(), func() error {
		calls++
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 1, calls)
}

func TestDoRetriesOnlyUnavailable(t *testing.T) {
	calls := 0
	err := quickPolicy().Do(context.Background(), func() error {
		calls++
		if calls < 3 {
			return errkind.New(errkind.Unavailable, "still down")
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestDoDoesNotRetryOtherKinds(t *testing.T) {
	calls := 0
	sentinel := errkind.New(errkind.Malformed, "bad field")
	err := quickPolicy().Do(context.Background(), func() error {
		calls++
		return sentinel
	})
	require.Error(t, err)
	assert.Equal(t, 1, calls, "non-Unavailable errors must not be retried")
}

func TestDoDoesNotRetryPlainErrors(t *testing.T) {
	calls := 0
	plain := errors.New("boom")
	err := quickPolicy().Do(context.Background(), func() error {
		calls++
		return plain
	})
	require.ErrorIs(t, err, plain)
	assert.Equal(t, 1, calls)
}

func TestDoGivesUpAfterMaxAttempts(t *testing.T) {
	calls := 0
	p := quickPolicy()
	err := p.Do(context.Background(), func() error {
		calls++
		return errkind.New(errkind.Unavailable, "never recovers")
	})
	require.Error(t, err)
	assert.Equal(t, p.MaxAttempts, calls)
}

func TestDoAbortsOnContextCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	p := Policy{BaseDelay: 50 * time.Millisecond, MaxDelay: time.Second, MaxAttempts: 10}

	calls := 0
	go func() {
		time.Sleep(5 * time.Millisecond)
		cancel()
	}()

	err := p.Do(ctx, func() error {
		calls++
		return errkind.New(errkind.Unavailable, "down")
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Less(t, calls, p.MaxAttempts)
}
