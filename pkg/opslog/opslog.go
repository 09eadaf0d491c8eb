// Package opslog implements the append-only activity log and its
// derived clearance directive: the serialization point that lets
// multiple agents share a workspace without stepping on each other.
package opslog

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/codeready-toolchain/sessionctl/pkg/errkind"
	"github.com/codeready-toolchain/sessionctl/pkg/metrics"
	"github.com/codeready-toolchain/sessionctl/pkg/store"
)

// Kind is the category of an OpsLogEntry.
type Kind string

const (
	KindActivity        Kind = "activity"
	KindClearanceChange Kind = "clearance_change"
	KindRebuildStart    Kind = "rebuild_start"
	KindRebuildEnd      Kind = "rebuild_end"
)

// Status is one of the three directive states.
type Status string

const (
	Cleared Status = "cleared"
	Hold    Status = "hold"
	Rebuild Status = "rebuild"
)

// Entry is a single append-only log record.
type Entry struct {
	Sequence  int64
	Actor     string
	TicketID  string
	Action    string
	Kind      Kind
	Timestamp time.Time
}

// Directive is the derived workspace-wide state.
type Directive struct {
	Status        Status
	Reason        string
	SinceSequence int64
}

// AdmitResult is the outcome of an admission check.
type AdmitResult struct {
	Permit        bool
	Reason        string
	SinceSequence int64
}

// ActiveAgent summarizes an agent's most recent log activity.
type ActiveAgent struct {
	AgentID       string
	LastSeen      time.Time
	CurrentAction string
}

// Log owns the backing store and the incrementally-folded directive
// cache.
type Log struct {
	mu           sync.Mutex
	backing      store.OpsLogStore
	activeWindow time.Duration
	metrics      metrics.OpsLogRecorder

	directive  Directive
	foldedUpTo int64
}

// New constructs a Log. activeWindow bounds check_active_agents.
// metricsRecorder may be nil.
func New(backing store.OpsLogStore, activeWindow time.Duration, metricsRecorder metrics.OpsLogRecorder) *Log {
	if metricsRecorder == nil {
		metricsRecorder = metrics.NoopOpsLogRecorder{}
	}
	return &Log{
		backing:      backing,
		activeWindow: activeWindow,
		metrics:      metricsRecorder,
		directive:    Directive{Status: Cleared},
	}
}

// Append assigns the next monotonic sequence and persists entry
// atomically. On persistence failure it returns errkind.Unavailable
// (or errkind.Cancelled when the caller's deadline expired first); the
// caller must retry or abort, never assume the entry landed.
func (l *Log) Append(ctx context.Context, actor, ticketID, action string, kind Kind) (int64, error) {
	seq, err := l.backing.Append(ctx, store.OpsLogRecord{
		Actor:     actor,
		TicketID:  ticketID,
		Action:    action,
		Kind:      string(kind),
		Timestamp: time.Now(),
	})
	if err != nil {
		return 0, errkind.WrapIO(ctx, "appending ops log entry", err)
	}
	l.metrics.ObserveAppend()
	slog.Info("ops log entry appended", "sequence", seq, "actor", actor, "ticket_id", ticketID, "kind", kind)
	return seq, nil
}

// Read returns entries after sinceSequence, in sequence order,
// gapless by construction of the backing store's atomic sequence
// assignment.
func (l *Log) Read(ctx context.Context, sinceSequence int64, limit int) ([]Entry, error) {
	recs, err := l.backing.Read(ctx, sinceSequence, limit)
	if err != nil {
		return nil, errkind.WrapIO(ctx, "reading ops log", err)
	}
	out := make([]Entry, len(recs))
	for i, r := range recs {
		out[i] = fromRecord(r)
	}
	return out, nil
}

// CurrentDirective returns the latest derived directive, folding in
// any entries appended since the last call.
func (l *Log) CurrentDirective(ctx context.Context) (Directive, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	recs, err := l.backing.Read(ctx, l.foldedUpTo, 0)
	if err != nil {
		return Directive{}, errkind.WrapIO(ctx, "reading ops log", err)
	}
	for _, r := range recs {
		before := l.directive.Status
		l.directive = applyTransition(l.directive, r)
		l.foldedUpTo = r.Sequence
		if l.directive.Status != before {
			slog.Info("ops log directive transitioned", "from", before, "to", l.directive.Status, "since_sequence", l.directive.SinceSequence, "reason", l.directive.Reason)
		}
	}
	return l.directive, nil
}

// applyTransition folds a single entry into the directive state
// machine. Entries that don't match a legal transition for the
// current state leave the directive unchanged; the entry is still
// recorded, it just doesn't move the derived state.
func applyTransition(cur Directive, e store.OpsLogRecord) Directive {
	switch Kind(e.Kind) {
	case KindRebuildStart:
		if cur.Status == Cleared {
			return Directive{Status: Rebuild, Reason: e.Action, SinceSequence: e.Sequence}
		}
	case KindRebuildEnd:
		if cur.Status == Rebuild {
			return Directive{Status: Cleared, SinceSequence: e.Sequence}
		}
	case KindClearanceChange:
		target := Status(strings.ToLower(strings.TrimSpace(e.Action)))
		if cur.Status == Cleared && target == Hold {
			return Directive{Status: Hold, Reason: e.Action, SinceSequence: e.Sequence}
		}
		if cur.Status == Hold && target == Cleared {
			return Directive{Status: Cleared, SinceSequence: e.Sequence}
		}
	}
	return cur
}

// Admit checks whether agentID may begin mutating work. Permits iff
// the current directive is CLEARED.
func (l *Log) Admit(ctx context.Context, agentID, ticketID string) (AdmitResult, error) {
	d, err := l.CurrentDirective(ctx)
	if err != nil {
		return AdmitResult{}, err
	}
	if d.Status == Cleared {
		l.metrics.ObserveAdmitDecision("permit")
		return AdmitResult{Permit: true}, nil
	}
	l.metrics.ObserveAdmitDecision("deny")
	return AdmitResult{
		Permit:        false,
		Reason:        fmt.Sprintf("directive %s since sequence %d: %s", d.Status, d.SinceSequence, d.Reason),
		SinceSequence: d.SinceSequence,
	}, nil
}

// CheckActiveAgents summarizes agents seen within the configured
// active window, most recent action per agent.
func (l *Log) CheckActiveAgents(ctx context.Context) ([]ActiveAgent, error) {
	since := time.Now().Add(-l.activeWindow)
	recs, err := l.backing.Tail(ctx, since)
	if err != nil {
		return nil, errkind.WrapIO(ctx, "reading ops log tail", err)
	}

	latest := make(map[string]ActiveAgent)
	for _, r := range recs {
		latest[r.Actor] = ActiveAgent{AgentID: r.Actor, LastSeen: r.Timestamp, CurrentAction: r.Action}
	}

	out := make([]ActiveAgent, 0, len(latest))
	for _, a := range latest {
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].AgentID < out[j].AgentID })
	return out, nil
}

func fromRecord(r store.OpsLogRecord) Entry {
	return Entry{
		Sequence:  r.Sequence,
		Actor:     r.Actor,
		TicketID:  r.TicketID,
		Action:    r.Action,
		Kind:      Kind(r.Kind),
		Timestamp: r.Timestamp,
	}
}
