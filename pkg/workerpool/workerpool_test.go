package workerpool

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/codeready-toolchain/sessionctl/pkg/errkind"
	"github.com/codeready-toolchain/sessionctl/pkg/retry"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func quickPolicy() retry.Policy {
	return retry.Policy{BaseDelay: time.Millisecond, MaxDelay: 5 * time.Millisecond, MaxAttempts: 2}
}

func TestSubmitRunsJob(t *testing.T) {
	p := New(4, quickPolicy())
	p.Start(context.Background(), 2)
	defer p.Stop()

	done := make(chan struct{})
	err := p.Submit("job1", func(ctx context.Context) error {
		close(done)
		return nil
	})
	require.NoError(t, err)

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("job never ran")
	}
}

func TestSubmitRejectsWhenQueueFull(t *testing.T) {
	p := New(1, quickPolicy())
	// Do not Start: nothing drains the queue, so the second Submit must
	// see it full.
	require.NoError(t, p.Submit("job1", func(ctx context.Context) error { return nil }))
	err := p.Submit("job2", func(ctx context.Context) error { return nil })
	require.Error(t, err)
	assert.True(t, errkind.Is(err, errkind.Unavailable))
}

func TestSubmitAfterStopIsRejected(t *testing.T) {
	p := New(4, quickPolicy())
	p.Start(context.Background(), 1)
	p.Stop()

	err := p.Submit("job1", func(ctx context.Context) error { return nil })
	require.Error(t, err)
	assert.True(t, errkind.Is(err, errkind.Unavailable))
}

func TestStopIsIdempotent(t *testing.T) {
	p := New(4, quickPolicy())
	p.Start(context.Background(), 1)
	p.Stop()
	assert.NotPanics(t, func() { p.Stop() })
}

func TestStartIsIdempotent(t *testing.T) {
	p := New(4, quickPolicy())
	ctx := context.Background()
	p.Start(ctx, 2)
	p.Start(ctx, 2) // second call is a no-op, not another set of workers
	p.Stop()
}

func TestJobRetriesOnUnavailable(t *testing.T) {
	p := New(4, quickPolicy())
	p.Start(context.Background(), 1)
	defer p.Stop()

	var attempts int32
	done := make(chan struct{})
	err := p.Submit("flaky", func(ctx context.Context) error {
		n := atomic.AddInt32(&attempts, 1)
		if n < 2 {
			return errkind.New(errkind.Unavailable, "transient")
		}
		close(done)
		return nil
	})
	require.NoError(t, err)

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("job never succeeded after retry")
	}
	assert.Equal(t, int32(2), atomic.LoadInt32(&attempts))
}

func TestGroupFailsFastOnAnyError(t *testing.T) {
	boom := errors.New("boom")
	var ran int32
	err := Group(context.Background(),
		func(ctx context.Context) error { atomic.AddInt32(&ran, 1); return nil },
		func(ctx context.Context) error { return boom },
	)
	require.Error(t, err)
	assert.ErrorIs(t, err, boom)
}

func TestGroupRunsAllOnSuccess(t *testing.T) {
	var wg sync.WaitGroup
	wg.Add(3)
	err := Group(context.Background(),
		func(ctx context.Context) error { wg.Done(); return nil },
		func(ctx context.Context) error { wg.Done(); return nil },
		func(ctx context.Context) error { wg.Done(); return nil },
	)
	require.NoError(t, err)
	wg.Wait()
}
