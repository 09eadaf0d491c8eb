// Package tier implements the five-level memory store (HOT, WARM,
// COOL, COLD, FROZEN): bounded regions with their own size limits and
// eviction policy, glued together by promotion and demotion rules.
package tier

import "time"

// Tier is one of the five levels an Entry can occupy.
type Tier string

const (
	HOT    Tier = "hot"
	WARM   Tier = "warm"
	COOL   Tier = "cool"
	COLD   Tier = "cold"
	FROZEN Tier = "frozen"
)

// Origin records who created an Entry. The store never inspects
// Payload or Origin beyond using Origin for bookkeeping: tool and
// provider plumbing lives outside this store, so origins are opaque
// tags, not dispatch targets.
type Origin string

const (
	OriginTicket           Origin = "ticket"
	OriginDiscovery        Origin = "discovery"
	OriginBibleSection     Origin = "bible_section"
	OriginHandoffRehydrate Origin = "handoff_rehydrate"
	OriginExternal         Origin = "external"
)

// Entry is the atomic unit held in the store. An entry exists in
// exactly one tier at a time; TokenCost is set once at insert and
// never mutated; moving tiers preserves Key, Payload and TokenCost.
type Entry struct {
	Key          string
	Payload      interface{}
	TokenCost    int
	Tier         Tier
	Origin       Origin
	CreatedAt    time.Time
	LastAccessAt time.Time
	AccessCount  int
	// SessionID scopes HOT and WARM entries to the session that
	// ingested them. COOL/COLD/FROZEN are workspace-wide: an entry
	// demoted into them keeps its SessionID, but no bound or lookup in
	// those tiers is scoped by it.
	SessionID string
}

// clone returns a shallow copy safe to hand to a caller without
// exposing the store's internal pointer.
func (e *Entry) clone() *Entry {
	c := *e
	return &c
}
