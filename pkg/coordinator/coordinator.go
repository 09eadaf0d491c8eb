// Package coordinator implements the Session Coordinator: the thin
// per-session facade that wires the Token Meter, Tier Store, Budget
// Manager, Handoff Manager and Ops Log together behind
// begin/ingest/resume/end.
package coordinator

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/codeready-toolchain/sessionctl/pkg/budget"
	"github.com/codeready-toolchain/sessionctl/pkg/config"
	"github.com/codeready-toolchain/sessionctl/pkg/errkind"
	"github.com/codeready-toolchain/sessionctl/pkg/handoff"
	"github.com/codeready-toolchain/sessionctl/pkg/opslog"
	"github.com/codeready-toolchain/sessionctl/pkg/tier"
	"github.com/codeready-toolchain/sessionctl/pkg/tokenmeter"
	"github.com/codeready-toolchain/sessionctl/pkg/workerpool"

	"github.com/google/uuid"
)

// Ticket carries the flags a ticket owner supplies at session start.
type Ticket struct {
	ID    string
	Tags  []string
	Flags TicketFlags
}

// TicketFlags captures the two signals that affect the session's
// starting budget tier.
type TicketFlags struct {
	Complexity bool
	Override   bool
}

// Handle is the live handle a ticket owner holds for the duration of a
// session. It is not safe to share across goroutines beyond the
// ordering the Coordinator itself guarantees (ingest/end totally
// ordered within a session).
type Handle struct {
	SessionID string
	AgentID   string
	TicketID  string

	mu      sync.Mutex
	ended   bool
	stopped bool // set once CRITICAL has been returned; ingest refuses further calls
}

// Coordinator glues every component behind the per-session facade.
type Coordinator struct {
	cfg config.Config

	meter    *tokenmeter.Meter
	tiers    *tier.Store
	budgets  *budget.Manager
	bibles   BibleLoader
	handoffs *handoff.Manager
	ops      *opslog.Log
	bg       *workerpool.Pool
}

// BibleLoader is the subset of *bible.Loader the coordinator needs,
// kept as an interface so tests can substitute a stub without a real
// filesystem root.
type BibleLoader interface {
	Bootstrap() (string, int, error)
}

// New constructs a Coordinator from its already-built components. All
// of tiers/budgets/handoffs/ops must share the same backing config and
// stores a caller wired up front; Coordinator does not own their
// lifecycle beyond End/Close calls it makes on session boundaries.
func New(cfg config.Config, meter *tokenmeter.Meter, tiers *tier.Store, budgets *budget.Manager, bibles BibleLoader, handoffs *handoff.Manager, ops *opslog.Log, bg *workerpool.Pool) *Coordinator {
	return &Coordinator{
		cfg: cfg, meter: meter, tiers: tiers, budgets: budgets,
		bibles: bibles, handoffs: handoffs, ops: ops, bg: bg,
	}
}

// Begin consults the Ops Log for admission and, on permit, initializes
// the Budget Manager and the session's HOT cap.
func (c *Coordinator) Begin(ctx context.Context, agentID string, ticket Ticket) (*Handle, error) {
	admit, err := c.ops.Admit(ctx, agentID, ticket.ID)
	if err != nil {
		return nil, err
	}
	if !admit.Permit {
		return nil, errkind.New(errkind.Denied, admit.Reason)
	}

	sessionID := fmt.Sprintf("%s-%s-%s", ticket.ID, agentID, uuid.NewString())
	state := c.budgets.Begin(sessionID, budget.StartOptions{
		Complexity: ticket.Flags.Complexity,
		Override:   ticket.Flags.Override,
	})
	c.tiers.SetSessionHOTCap(sessionID, state.Cap)

	c.stageBibleBootstrap(sessionID)

	if _, err := c.ops.Append(ctx, agentID, ticket.ID, "session begin", opslog.KindActivity); err != nil {
		slog.Warn("session begin: ops log append failed", "session_id", sessionID, "error", err)
	}

	slog.Info("session begun", "session_id", sessionID, "agent_id", agentID, "ticket_id", ticket.ID, "tier", state.Tier)
	return &Handle{SessionID: sessionID, AgentID: agentID, TicketID: ticket.ID}, nil
}

// stageBibleBootstrap loads the bible's bootstrap digest into the new
// session's HOT working set, so the agent starts with the section
// index rather than full section bodies. Best effort: a session
// without bible content is degraded, not broken.
func (c *Coordinator) stageBibleBootstrap(sessionID string) {
	if c.bibles == nil {
		return
	}
	summary, tokens, err := c.bibles.Bootstrap()
	if err != nil {
		slog.Warn("session begin: bible bootstrap failed", "session_id", sessionID, "error", err)
		return
	}
	if summary == "" {
		return
	}
	if err := c.tiers.Put(sessionID+":bible-bootstrap", summary, tier.HOT, tokens, tier.OriginBibleSection, sessionID); err != nil {
		slog.Warn("session begin: staging bible bootstrap failed", "session_id", sessionID, "error", err)
		return
	}
	if _, err := c.budgets.OnInsert(sessionID, tokens); err != nil {
		slog.Warn("session begin: recording bible bootstrap usage failed", "session_id", sessionID, "error", err)
	}
}

// IngestResult is the outcome of Ingest.
type IngestResult string

const (
	IngestOK              IngestResult = "ok"
	IngestHandoffRequired IngestResult = "handoff_required"
)

// Ingest sizes payload, inserts it into HOT, and updates the session's
// budget. At WARN it schedules a background prepare (best-effort,
// never blocks this call); at CRITICAL it returns handoff_required
// and the handle stops accepting further ingest.
func (c *Coordinator) Ingest(ctx context.Context, h *Handle, key string, payload interface{}, origin tier.Origin) (IngestResult, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.stopped {
		return IngestHandoffRequired, errkind.New(errkind.HandoffRequired, "session already at critical, awaiting handoff")
	}
	if h.ended {
		return "", errkind.New(errkind.Conflict, "session already ended")
	}

	tokens := c.meter.Size(payload)

	prevHOT := c.tiers.SessionHOTUsage(h.SessionID)
	if err := c.tiers.Put(key, payload, tier.HOT, tokens, origin, h.SessionID); err != nil {
		return "", err
	}

	// Anything the insert evicted out of HOT (or replaced in place) is
	// no longer live working memory; tell the budget before crediting
	// the insert so used tracks what is actually resident.
	if evicted := prevHOT + tokens - c.tiers.SessionHOTUsage(h.SessionID); evicted > 0 {
		if _, rerr := c.budgets.OnRemove(h.SessionID, evicted); rerr != nil {
			slog.Warn("ingest: recording evicted tokens failed", "session_id", h.SessionID, "error", rerr)
		}
	}

	transition, err := c.budgets.OnInsert(h.SessionID, tokens)
	if err != nil {
		return "", err
	}

	switch transition {
	case budget.TransitionEscalated:
		c.syncCapAfterEscalation(h.SessionID)
	case budget.TransitionWarn:
		c.scheduleBackgroundPrepare(h)
	case budget.TransitionCritical:
		h.stopped = true
		if _, err := c.ops.Append(ctx, h.AgentID, h.TicketID, "budget critical", opslog.KindActivity); err != nil {
			slog.Warn("ingest: ops log append failed", "session_id", h.SessionID, "error", err)
		}
		return IngestHandoffRequired, nil
	}

	return IngestOK, nil
}

// syncCapAfterEscalation pushes the session's raised budget cap into
// the tier store so HOT headroom grows with the escalation.
func (c *Coordinator) syncCapAfterEscalation(sessionID string) {
	st, err := c.budgets.Get(sessionID)
	if err != nil {
		return
	}
	c.tiers.SetSessionHOTCap(sessionID, st.Cap)
}

// ReportFileModified records one modified file against the session's
// budget state; five modified files at MINIMAL escalate the budget
// tier.
func (c *Coordinator) ReportFileModified(h *Handle) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.ended {
		return errkind.New(errkind.Conflict, "session already ended")
	}
	tr, err := c.budgets.RecordFileModified(h.SessionID)
	if err != nil {
		return err
	}
	if tr == budget.TransitionEscalated {
		c.syncCapAfterEscalation(h.SessionID)
	}
	return nil
}

// ReportRetry records a retry against the session's budget state;
// three retries at STANDARD or above escalate one tier.
func (c *Coordinator) ReportRetry(h *Handle) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.ended {
		return errkind.New(errkind.Conflict, "session already ended")
	}
	tr, err := c.budgets.RecordRetry(h.SessionID)
	if err != nil {
		return err
	}
	if tr == budget.TransitionEscalated {
		c.syncCapAfterEscalation(h.SessionID)
	}
	return nil
}

// scheduleBackgroundPrepare enqueues a best-effort handoff prepare job.
// A full queue or stopped pool is not an error the caller should see:
// CRITICAL still returns handoff_required to the caller whether or not
// this background attempt lands.
func (c *Coordinator) scheduleBackgroundPrepare(h *Handle) {
	if c.bg == nil {
		return
	}
	err := c.bg.Submit(fmt.Sprintf("prepare:%s", h.SessionID), func(ctx context.Context) error {
		draft := handoff.PacketDraft{
			SourceAgent:   h.AgentID,
			SourceSession: h.SessionID,
			TicketID:      h.TicketID,
		}
		sanitized, err := c.handoffs.Sanitize(c.handoffs.Prepare(draft))
		if err != nil {
			return err
		}
		_, err = c.handoffs.Store(ctx, sanitized)
		return err
	})
	if err != nil {
		slog.Warn("background prepare not scheduled", "session_id", h.SessionID, "error", err)
	}
}

// Resume accepts a handoff packet and rehydrates HOT from its
// hot_context. WARM rehydration from warm_references is left to the
// caller to fetch lazily via Bible/tier lookups keyed off the
// returned packet's WarmReferences.
func (c *Coordinator) Resume(ctx context.Context, packetID, presentedToken, agentID string) (*Handle, *handoff.Packet, error) {
	packet, err := c.handoffs.Accept(ctx, packetID, agentID, presentedToken)
	if err != nil {
		return nil, nil, err
	}

	sessionID := fmt.Sprintf("%s-resume-%s", packet.TicketID, uuid.NewString())
	state := c.budgets.Begin(sessionID, budget.StartOptions{})
	if err := c.budgets.RestoreUsage(sessionID, packet.BudgetUsed, packet.BudgetPeak, packet.ExpansionCount); err != nil {
		slog.Warn("resume: restoring budget usage failed", "session_id", sessionID, "error", err)
	}
	c.tiers.SetSessionHOTCap(sessionID, state.Cap)

	if packet.HotContext != "" {
		tokens := c.meter.Size(packet.HotContext)
		if err := c.tiers.Put(sessionID+":rehydrated", packet.HotContext, tier.HOT, tokens, tier.OriginHandoffRehydrate, sessionID); err != nil {
			slog.Warn("resume: rehydration insert failed", "session_id", sessionID, "error", err)
		}
	}

	if _, err := c.ops.Append(ctx, agentID, packet.TicketID, "session resume from "+packetID, opslog.KindActivity); err != nil {
		slog.Warn("resume: ops log append failed", "session_id", sessionID, "error", err)
	}

	slog.Info("session resumed", "session_id", sessionID, "packet_id", packetID, "agent_id", agentID)
	return &Handle{SessionID: sessionID, AgentID: agentID, TicketID: packet.TicketID}, packet, nil
}

// End closes the session: drains its WARM entries via the Tier Store,
// removes its budget state, and appends an activity entry to the Ops
// Log.
func (c *Coordinator) End(ctx context.Context, h *Handle, reason string) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.ended {
		return nil
	}
	h.ended = true

	c.tiers.CloseSession(h.SessionID)
	c.budgets.End(h.SessionID)

	if _, err := c.ops.Append(ctx, h.AgentID, h.TicketID, "session end: "+reason, opslog.KindActivity); err != nil {
		slog.Warn("end: ops log append failed", "session_id", h.SessionID, "error", err)
	}

	slog.Info("session ended", "session_id", h.SessionID, "reason", reason)
	return nil
}
