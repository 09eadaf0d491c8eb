// Package handoff builds, sanitizes, signs, stores, lists, and
// accepts the pre-emptive context-transfer packets that let a second
// agent resume a session without a hard context overflow. Signature
// verification and token comparison both run through crypto/hmac's
// constant-time Equal.
package handoff

import (
	"context"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/codeready-toolchain/sessionctl/pkg/errkind"
	"github.com/codeready-toolchain/sessionctl/pkg/masking"
	"github.com/codeready-toolchain/sessionctl/pkg/metrics"
	"github.com/codeready-toolchain/sessionctl/pkg/store"
)

const (
	maxIDLen            = 128
	maxSummaryLen       = 2_000
	maxTaskLen          = 500
	maxHotContextLen    = 20_000
	maxListItems        = 200
	maxKeyDecisionItems = 100
	maxSerializedBytes  = 200_000
)

// Manager owns the signing key and backing PacketStore for a
// workspace.
type Manager struct {
	signingKey []byte
	retention  time.Duration
	sanitizer  *masking.Sanitizer
	packets    store.PacketStore
	sf         singleflight.Group
	metrics    metrics.HandoffRecorder
}

// New constructs a Manager. signingKey must be non-empty (checked by
// config.Config.Validate upstream). metricsRecorder may be nil.
func New(signingKey []byte, retention time.Duration, packets store.PacketStore, metricsRecorder metrics.HandoffRecorder) *Manager {
	if metricsRecorder == nil {
		metricsRecorder = metrics.NoopHandoffRecorder{}
	}
	return &Manager{
		signingKey: signingKey,
		retention:  retention,
		sanitizer:  masking.New(),
		packets:    packets,
		metrics:    metricsRecorder,
	}
}

// Prepare assembles a draft from the caller-supplied snapshot without
// storing anything. It is deliberately side-effect-free so the
// coordinator can call it speculatively at WARN without committing to
// a handoff.
func (m *Manager) Prepare(draft PacketDraft) *PacketDraft {
	d := draft
	d.CompletedTasks = append([]string(nil), draft.CompletedTasks...)
	d.PendingTasks = append([]string(nil), draft.PendingTasks...)
	d.FilesModified = append([]string(nil), draft.FilesModified...)
	d.KeyDecisions = append([]KeyDecision(nil), draft.KeyDecisions...)
	d.WarmReferences = append([]string(nil), draft.WarmReferences...)
	return &d
}

// Sanitize enforces the field-level rules: maximum
// string length, control-character removal (newline/tab excepted), id
// grammar conformance, bounded list lengths, and a hard cap on total
// serialized size. Every failure returns errkind.Malformed naming the
// offending field.
func (m *Manager) Sanitize(draft *PacketDraft) (*PacketDraft, error) {
	d := *draft
	d.CompletedTasks = append([]string(nil), draft.CompletedTasks...)
	d.PendingTasks = append([]string(nil), draft.PendingTasks...)
	d.FilesModified = append([]string(nil), draft.FilesModified...)
	d.KeyDecisions = append([]KeyDecision(nil), draft.KeyDecisions...)
	d.WarmReferences = append([]string(nil), draft.WarmReferences...)

	d.SourceAgent = m.sanitizer.StripControl(d.SourceAgent)
	d.SourceSession = m.sanitizer.StripControl(d.SourceSession)
	d.TargetAgent = m.sanitizer.StripControl(d.TargetAgent)
	d.TicketID = m.sanitizer.StripControl(d.TicketID)
	d.TicketSummary = m.sanitizer.StripControl(d.TicketSummary)
	d.CurrentTask = m.sanitizer.StripControl(d.CurrentTask)
	d.HotContext = m.sanitizer.StripControl(d.HotContext)

	if !m.sanitizer.ValidID(d.SourceAgent) {
		return nil, errkind.FieldError("source_agent", "does not match the id grammar")
	}
	if !m.sanitizer.ValidID(d.SourceSession) {
		return nil, errkind.FieldError("source_session", "does not match the id grammar")
	}
	if !m.sanitizer.ValidID(d.TicketID) {
		return nil, errkind.FieldError("ticket_id", "does not match the id grammar")
	}
	if d.TargetAgent != "" && !m.sanitizer.ValidID(d.TargetAgent) {
		return nil, errkind.FieldError("target_agent", "does not match the id grammar")
	}

	if len(d.TicketSummary) > maxSummaryLen {
		return nil, errkind.FieldError("ticket_summary", "exceeds maximum length")
	}
	if len(d.CurrentTask) > maxTaskLen {
		return nil, errkind.FieldError("current_task", "exceeds maximum length")
	}
	if len(d.HotContext) > maxHotContextLen {
		return nil, errkind.FieldError("hot_context", "exceeds maximum length")
	}

	if len(d.CompletedTasks) > maxListItems {
		return nil, errkind.FieldError("completed_tasks", "exceeds maximum list length")
	}
	if len(d.PendingTasks) > maxListItems {
		return nil, errkind.FieldError("pending_tasks", "exceeds maximum list length")
	}
	if len(d.FilesModified) > maxListItems {
		return nil, errkind.FieldError("files_modified", "exceeds maximum list length")
	}
	if len(d.WarmReferences) > maxListItems {
		return nil, errkind.FieldError("warm_references", "exceeds maximum list length")
	}
	if len(d.KeyDecisions) > maxKeyDecisionItems {
		return nil, errkind.FieldError("key_decisions", "exceeds maximum list length")
	}

	for i, t := range d.CompletedTasks {
		t = m.sanitizer.StripControl(t)
		if len(t) > maxTaskLen {
			return nil, errkind.FieldError("completed_tasks", "entry exceeds maximum length")
		}
		d.CompletedTasks[i] = t
	}
	for i, t := range d.PendingTasks {
		t = m.sanitizer.StripControl(t)
		if len(t) > maxTaskLen {
			return nil, errkind.FieldError("pending_tasks", "entry exceeds maximum length")
		}
		d.PendingTasks[i] = t
	}
	for i, f := range d.FilesModified {
		f = m.sanitizer.StripControl(f)
		if len(f) > maxIDLen*4 {
			return nil, errkind.FieldError("files_modified", "entry exceeds maximum length")
		}
		d.FilesModified[i] = f
	}
	for i, r := range d.WarmReferences {
		r = m.sanitizer.StripControl(r)
		if len(r) > maxIDLen*4 {
			return nil, errkind.FieldError("warm_references", "entry exceeds maximum length")
		}
		d.WarmReferences[i] = r
	}
	for i, kd := range d.KeyDecisions {
		kd.What = m.sanitizer.StripControl(kd.What)
		kd.Why = m.sanitizer.StripControl(kd.Why)
		if len(kd.What) > maxTaskLen || len(kd.Why) > maxTaskLen {
			return nil, errkind.FieldError("key_decisions", "entry exceeds maximum length")
		}
		d.KeyDecisions[i] = kd
	}

	approxSize := len(canonicalize("", "", d, time.Time{}, time.Time{}))
	if approxSize > maxSerializedBytes {
		return nil, errkind.FieldError("_packet", "serialized size exceeds the hard cap")
	}

	return &d, nil
}

// Store assigns packet_id and access_token, signs the canonical
// serialization, and persists the packet atomically.
func (m *Manager) Store(ctx context.Context, draft *PacketDraft) (*Packet, error) {
	packetID, err := randomHex(16)
	if err != nil {
		return nil, errkind.Wrap(errkind.Unavailable, "generating packet id", err)
	}
	accessToken, err := randomHex(32)
	if err != nil {
		return nil, errkind.Wrap(errkind.Unavailable, "generating access token", err)
	}

	now := time.Now()
	expiresAt := now.Add(m.retention)
	sig := m.sign(packetID, accessToken, *draft, now, expiresAt)

	rec := store.PacketRecord{
		PacketID:       packetID,
		SourceAgent:    draft.SourceAgent,
		SourceSession:  draft.SourceSession,
		TargetAgent:    draft.TargetAgent,
		AccessToken:    []byte(accessToken),
		Signature:      sig,
		TicketID:       draft.TicketID,
		TicketSummary:  draft.TicketSummary,
		CompletedTasks: draft.CompletedTasks,
		PendingTasks:   draft.PendingTasks,
		CurrentTask:    draft.CurrentTask,
		FilesModified:  draft.FilesModified,
		KeyDecisions:   toKeyDecisionRecords(draft.KeyDecisions),
		HotContext:     draft.HotContext,
		WarmReferences: draft.WarmReferences,
		BudgetUsed:     draft.BudgetUsed,
		BudgetPeak:     draft.BudgetPeak,
		ExpansionCount: draft.ExpansionCount,
		CreatedAt:      now,
		ExpiresAt:      expiresAt,
	}

	if err := m.packets.Insert(ctx, rec); err != nil {
		return nil, errkind.WrapIO(ctx, "storing handoff packet", err)
	}

	m.metrics.ObservePrepared()
	slog.Info("handoff packet stored", "packet_id", packetID, "ticket_id", draft.TicketID, "source_agent", draft.SourceAgent, "target_agent", draft.TargetAgent)

	return &Packet{
		PacketID:    packetID,
		AccessToken: accessToken,
		Signature:   sig,
		PacketDraft: *draft,
		CreatedAt:   now,
		ExpiresAt:   expiresAt,
	}, nil
}

// List returns metadata for stored packets, optionally filtered by
// ticket id. Never discloses AccessToken.
func (m *Manager) List(ctx context.Context, ticketID string) ([]PacketMeta, error) {
	var recs []store.PacketRecord
	var err error
	if ticketID != "" {
		recs, err = m.packets.ListByTicket(ctx, ticketID)
	} else {
		recs, err = m.packets.ListAll(ctx)
	}
	if err != nil {
		return nil, errkind.WrapIO(ctx, "listing handoff packets", err)
	}

	out := make([]PacketMeta, 0, len(recs))
	for _, r := range recs {
		out = append(out, PacketMeta{
			PacketID:    r.PacketID,
			SourceAgent: r.SourceAgent,
			TargetAgent: r.TargetAgent,
			TicketID:    r.TicketID,
			CreatedAt:   r.CreatedAt,
			ExpiresAt:   r.ExpiresAt,
		})
	}
	return out, nil
}

// Accept verifies and consumes a packet. Concurrent accept attempts
// for the same packet_id are coalesced through a singleflight group so
// only one does the verify-then-delete work; the callers that joined
// it share its error, and when it succeeds they get errkind.NotFound,
// exactly as a later second accept would. The store's Delete returning
// false is the ownership-transfer guard for attempts that do not
// overlap in the group.
func (m *Manager) Accept(ctx context.Context, packetID, targetAgent, presentedToken string) (*Packet, error) {
	ran := false
	v, err, _ := m.sf.Do(packetID, func() (interface{}, error) {
		ran = true
		return m.acceptOnce(ctx, packetID, targetAgent, presentedToken)
	})
	if err != nil {
		return nil, err
	}
	if !ran {
		return nil, errkind.New(errkind.NotFound, "packet not found")
	}
	return v.(*Packet), nil
}

func (m *Manager) acceptOnce(ctx context.Context, packetID, targetAgent, presentedToken string) (*Packet, error) {
	rec, ok, err := m.packets.Get(ctx, packetID)
	if err != nil {
		return nil, errkind.WrapIO(ctx, "loading handoff packet", err)
	}
	if !ok {
		return nil, errkind.New(errkind.NotFound, "packet not found")
	}

	draft := fromRecord(rec)
	expectedSig := m.sign(rec.PacketID, string(rec.AccessToken), draft, rec.CreatedAt, rec.ExpiresAt)

	sigOK := hmac.Equal(expectedSig, rec.Signature)
	targetOK := rec.TargetAgent == "" || hmac.Equal([]byte(rec.TargetAgent), []byte(targetAgent))
	tokenOK := hmac.Equal(rec.AccessToken, []byte(presentedToken))

	// All three checks surface the same error so a caller gains no
	// oracle about which one failed.
	if !sigOK || !targetOK || !tokenOK {
		slog.Warn("handoff packet accept rejected", "packet_id", packetID, "target_agent", targetAgent)
		return nil, errkind.New(errkind.Unauthorized, "signature, token, or target mismatch")
	}

	if time.Now().After(rec.ExpiresAt) {
		_, _ = m.packets.Delete(ctx, packetID)
		m.metrics.ObserveExpired()
		slog.Warn("handoff packet expired at accept", "packet_id", packetID)
		return nil, errkind.New(errkind.Expired, "packet expired")
	}

	deleted, err := m.packets.Delete(ctx, packetID)
	if err != nil {
		return nil, errkind.WrapIO(ctx, "deleting handoff packet", err)
	}
	if !deleted {
		return nil, errkind.New(errkind.Conflict, "packet already accepted")
	}

	m.metrics.ObserveAccepted()
	slog.Info("handoff packet accepted", "packet_id", packetID, "target_agent", targetAgent)

	return &Packet{
		PacketID:    rec.PacketID,
		AccessToken: string(rec.AccessToken),
		Signature:   rec.Signature,
		PacketDraft: draft,
		CreatedAt:   rec.CreatedAt,
		ExpiresAt:   rec.ExpiresAt,
	}, nil
}

// Sweep removes expired packets. Idempotent: a packet already removed
// by a previous sweep or by Accept is simply absent from the listing.
func (m *Manager) Sweep(ctx context.Context) (int, error) {
	ids, err := m.packets.ListExpired(ctx, time.Now())
	if err != nil {
		return 0, errkind.WrapIO(ctx, "listing expired handoff packets", err)
	}

	swept := 0
	for _, id := range ids {
		ok, err := m.packets.Delete(ctx, id)
		if err != nil {
			return swept, errkind.WrapIO(ctx, "deleting expired handoff packet", err)
		}
		if ok {
			swept++
		}
	}
	m.metrics.ObserveSwept(swept)
	if swept > 0 {
		slog.Info("handoff packets swept", "count", swept)
	}
	return swept, nil
}

func (m *Manager) sign(packetID, accessToken string, d PacketDraft, createdAt, expiresAt time.Time) []byte {
	mac := hmac.New(sha256.New, m.signingKey)
	mac.Write(canonicalize(packetID, accessToken, d, createdAt, expiresAt))
	return mac.Sum(nil)
}

func randomHex(n int) (string, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("reading random bytes: %w", err)
	}
	return hex.EncodeToString(b), nil
}

func toKeyDecisionRecords(ds []KeyDecision) []store.KeyDecisionRecord {
	out := make([]store.KeyDecisionRecord, len(ds))
	for i, d := range ds {
		out[i] = store.KeyDecisionRecord{When: d.When, What: d.What, Why: d.Why}
	}
	return out
}

func fromRecord(rec store.PacketRecord) PacketDraft {
	decisions := make([]KeyDecision, len(rec.KeyDecisions))
	for i, d := range rec.KeyDecisions {
		decisions[i] = KeyDecision{When: d.When, What: d.What, Why: d.Why}
	}
	return PacketDraft{
		SourceAgent:    rec.SourceAgent,
		SourceSession:  rec.SourceSession,
		TargetAgent:    rec.TargetAgent,
		TicketID:       rec.TicketID,
		TicketSummary:  rec.TicketSummary,
		CompletedTasks: rec.CompletedTasks,
		PendingTasks:   rec.PendingTasks,
		CurrentTask:    rec.CurrentTask,
		FilesModified:  rec.FilesModified,
		KeyDecisions:   decisions,
		HotContext:     rec.HotContext,
		WarmReferences: rec.WarmReferences,
		BudgetUsed:     rec.BudgetUsed,
		BudgetPeak:     rec.BudgetPeak,
		ExpansionCount: rec.ExpansionCount,
	}
}
