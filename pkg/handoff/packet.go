package handoff

import "time"

// KeyDecision records a single consequential choice made during a
// session, surfaced to the next agent so it isn't re-derived from
// scratch.
type KeyDecision struct {
	When time.Time
	What string
	Why  string
}

// PacketDraft is the mutable, not-yet-stored form of a handoff packet
// built by Prepare and cleaned by Sanitize.
type PacketDraft struct {
	SourceAgent   string
	SourceSession string
	TargetAgent   string

	TicketID      string
	TicketSummary string

	CompletedTasks []string
	PendingTasks   []string
	CurrentTask    string

	FilesModified []string
	KeyDecisions  []KeyDecision

	HotContext     string
	WarmReferences []string

	BudgetUsed     int
	BudgetPeak     int
	ExpansionCount int
}

// Packet is an immutable, stored handoff packet. AccessToken is only
// ever populated on the return values of Store and of a successful
// Accept; List and any other read path must never surface it.
type Packet struct {
	PacketID    string
	AccessToken string
	Signature   []byte

	PacketDraft

	CreatedAt time.Time
	ExpiresAt time.Time
}

// PacketMeta is the metadata-only view List returns: never discloses
// AccessToken.
type PacketMeta struct {
	PacketID    string
	SourceAgent string
	TargetAgent string
	TicketID    string
	CreatedAt   time.Time
	ExpiresAt   time.Time
}
