// Package store defines the persistence interfaces the handoff and
// ops-log components depend on, and the write-behind mirror the tier
// store can attach. Two implementations are provided: an
// in-memory one (pkg/store/memory) suitable for tests and single-process
// deployments, and a Postgres one (pkg/store/postgres) for durable,
// multi-process workspaces. The interfaces live here, the concrete
// drivers in the leaf subpackages.
package store

import (
	"context"
	"time"
)

// PacketRecord is the durable representation of a handoff packet.
// AccessToken and Signature are raw secret bytes; callers are
// responsible for comparing them in constant time.
type PacketRecord struct {
	PacketID       string
	SourceAgent    string
	SourceSession  string
	TargetAgent    string
	AccessToken    []byte
	Signature      []byte
	TicketID       string
	TicketSummary  string
	CompletedTasks []string
	PendingTasks   []string
	CurrentTask    string
	FilesModified  []string
	KeyDecisions   []KeyDecisionRecord
	HotContext     string
	WarmReferences []string
	BudgetUsed     int
	BudgetPeak     int
	ExpansionCount int
	CreatedAt      time.Time
	ExpiresAt      time.Time
}

// KeyDecisionRecord is the durable shape of a PacketDraft key decision.
type KeyDecisionRecord struct {
	When time.Time
	What string
	Why  string
}

// PacketStore persists handoff packets. Insert must be atomic: either
// the full record lands or none of it does. Delete must be safe to
// call on an already-absent id (accept and sweep both race to remove
// the same packet; exactly one should observe it present).
type PacketStore interface {
	Insert(ctx context.Context, rec PacketRecord) error
	Get(ctx context.Context, packetID string) (PacketRecord, bool, error)
	// Delete removes packetID if present and reports whether it was
	// present, so callers can distinguish "I deleted it" from "someone
	// already had".
	Delete(ctx context.Context, packetID string) (bool, error)
	ListByTicket(ctx context.Context, ticketID string) ([]PacketRecord, error)
	ListAll(ctx context.Context) ([]PacketRecord, error)
	ListExpired(ctx context.Context, now time.Time) ([]string, error)
}

// OpsLogRecord is a single durable ops-log entry.
type OpsLogRecord struct {
	Sequence  int64
	Actor     string
	TicketID  string
	Action    string
	Kind      string
	Timestamp time.Time
}

// OpsLogStore persists the append-only activity log. Append must
// assign Sequence atomically with the insert; concurrent appends are
// linearized by the store, not by the caller.
type OpsLogStore interface {
	Append(ctx context.Context, rec OpsLogRecord) (int64, error)
	Read(ctx context.Context, sinceSequence int64, limit int) ([]OpsLogRecord, error)
	Tail(ctx context.Context, since time.Time) ([]OpsLogRecord, error)
	Latest(ctx context.Context) (OpsLogRecord, bool, error)
}

// TierEntryRecord is the durable mirror of a single tier entry.
// PayloadJSON is the entry's Payload marshaled to JSON; entries whose
// Payload cannot be marshaled are never handed to a TierStore at all
// (the in-memory tier keeps serving them, only the durability mirror
// is skipped).
type TierEntryRecord struct {
	Key          string
	Tier         string
	PayloadJSON  []byte
	TokenCost    int
	Origin       string
	SessionID    string
	CreatedAt    time.Time
	LastAccessAt time.Time
	AccessCount  int
}

// TierStore persists a write-behind mirror of the tier store's live
// entries. It is a durability aid for replaying the working set after
// a restart, never the read path: a Put/Delete failure is logged by
// the caller and otherwise ignored, never surfaced to the in-memory
// tier's own callers.
type TierStore interface {
	Put(ctx context.Context, rec TierEntryRecord) error
	Delete(ctx context.Context, key string) error
	DeleteBySession(ctx context.Context, sessionID string) error
	ListAll(ctx context.Context) ([]TierEntryRecord, error)
}
