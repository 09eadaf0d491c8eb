package opslog

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/codeready-toolchain/sessionctl/pkg/errkind"
	"github.com/codeready-toolchain/sessionctl/pkg/store"
	"github.com/codeready-toolchain/sessionctl/pkg/store/memory"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func newLog() *Log {
	return New(memory.NewOpsLogStore(), time.Hour, nil)
}

func TestAppendAssignsMonotonicSequence(t *testing.T) {
	l := newLog()
	ctx := context.Background()

	seq1, err := l.Append(ctx, "agent-a", "T1", "did a thing", KindActivity)
	require.NoError(t, err)
	seq2, err := l.Append(ctx, "agent-a", "T1", "did another thing", KindActivity)
	require.NoError(t, err)

	assert.Equal(t, int64(1), seq1)
	assert.Equal(t, int64(2), seq2)
}

func TestReadIsGaplessAndOrdered(t *testing.T) {
	l := newLog()
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		_, err := l.Append(ctx, "agent-a", "T1", "step", KindActivity)
		require.NoError(t, err)
	}

	entries, err := l.Read(ctx, 0, 0)
	require.NoError(t, err)
	require.Len(t, entries, 5)
	for i, e := range entries {
		assert.Equal(t, int64(i+1), e.Sequence)
	}
}

func TestDirectiveStartsCleared(t *testing.T) {
	l := newLog()
	d, err := l.CurrentDirective(context.Background())
	require.NoError(t, err)
	assert.Equal(t, Cleared, d.Status)
}

func TestRebuildStartHoldsAdmission(t *testing.T) {
	l := newLog()
	ctx := context.Background()

	seq, err := l.Append(ctx, "ops", "", "starting rebuild", KindRebuildStart)
	require.NoError(t, err)

	d, err := l.CurrentDirective(ctx)
	require.NoError(t, err)
	assert.Equal(t, Rebuild, d.Status)
	assert.Equal(t, seq, d.SinceSequence)

	admit, err := l.Admit(ctx, "agent-a", "T1")
	require.NoError(t, err)
	assert.False(t, admit.Permit)
	assert.Equal(t, seq, admit.SinceSequence)
}

func TestRebuildEndClearsDirective(t *testing.T) {
	l := newLog()
	ctx := context.Background()

	_, err := l.Append(ctx, "ops", "", "starting rebuild", KindRebuildStart)
	require.NoError(t, err)
	_, err = l.Append(ctx, "ops", "", "rebuild done", KindRebuildEnd)
	require.NoError(t, err)

	admit, err := l.Admit(ctx, "agent-a", "T1")
	require.NoError(t, err)
	assert.True(t, admit.Permit)
}

func TestClearanceChangeToHoldDeniesAdmission(t *testing.T) {
	l := newLog()
	ctx := context.Background()

	_, err := l.Append(ctx, "ops", "", "HOLD", KindClearanceChange)
	require.NoError(t, err)

	admit, err := l.Admit(ctx, "agent-a", "T1")
	require.NoError(t, err)
	assert.False(t, admit.Permit)

	_, err = l.Append(ctx, "ops", "", "CLEARED", KindClearanceChange)
	require.NoError(t, err)

	admit, err = l.Admit(ctx, "agent-a", "T1")
	require.NoError(t, err)
	assert.True(t, admit.Permit)
}

func TestIllegalTransitionLeavesDirectiveUnchanged(t *testing.T) {
	l := newLog()
	ctx := context.Background()

	// rebuild_end while CLEARED is not a legal edge; directive stays CLEARED.
	_, err := l.Append(ctx, "ops", "", "spurious rebuild end", KindRebuildEnd)
	require.NoError(t, err)

	d, err := l.CurrentDirective(ctx)
	require.NoError(t, err)
	assert.Equal(t, Cleared, d.Status)
}

func TestConcurrentAppendsAreLinearized(t *testing.T) {
	l := newLog()
	ctx := context.Background()

	const n = 8
	var wg sync.WaitGroup
	seqs := make([]int64, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			seq, err := l.Append(ctx, "agent", "T1", "concurrent", KindActivity)
			require.NoError(t, err)
			seqs[i] = seq
		}(i)
	}
	wg.Wait()

	seen := make(map[int64]bool, n)
	for _, s := range seqs {
		assert.False(t, seen[s], "sequence %d assigned twice", s)
		seen[s] = true
	}
	for i := int64(1); i <= n; i++ {
		assert.True(t, seen[i], "sequence %d missing", i)
	}
}

type failingBacking struct {
	*memory.OpsLogStore
}

func (failingBacking) Append(context.Context, store.OpsLogRecord) (int64, error) {
	return 0, errors.New("backing store down")
}

func TestAppendFailureIsUnavailable(t *testing.T) {
	l := New(failingBacking{memory.NewOpsLogStore()}, time.Hour, nil)

	_, err := l.Append(context.Background(), "agent-a", "T1", "step", KindActivity)
	require.Error(t, err)
	assert.True(t, errkind.Is(err, errkind.Unavailable))
}

func TestAppendPastDeadlineIsCancelled(t *testing.T) {
	l := New(failingBacking{memory.NewOpsLogStore()}, time.Hour, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := l.Append(ctx, "agent-a", "T1", "step", KindActivity)
	require.Error(t, err)
	assert.True(t, errkind.Is(err, errkind.Cancelled))
}

func TestCheckActiveAgentsDedupesToLatestAction(t *testing.T) {
	l := newLog()
	ctx := context.Background()

	_, err := l.Append(ctx, "agent-a", "T1", "first", KindActivity)
	require.NoError(t, err)
	_, err = l.Append(ctx, "agent-a", "T1", "second", KindActivity)
	require.NoError(t, err)
	_, err = l.Append(ctx, "agent-b", "T2", "only", KindActivity)
	require.NoError(t, err)

	agents, err := l.CheckActiveAgents(ctx)
	require.NoError(t, err)
	require.Len(t, agents, 2)

	byID := make(map[string]ActiveAgent, len(agents))
	for _, a := range agents {
		byID[a.AgentID] = a
	}
	assert.Equal(t, "second", byID["agent-a"].CurrentAction)
	assert.Equal(t, "only", byID["agent-b"].CurrentAction)
}
