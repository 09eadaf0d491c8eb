// Package config holds the construction-time configuration structs for
// every component of the session control plane. None of this is
// loaded from environment variables or CLI flags inside the core:
// callers build a Config (by hand, from their own flags, from a file,
// however they like) and pass it to constructors once. Each struct
// carries a Validate method checking internal consistency.
package config

import (
	"fmt"
	"time"
)

// BudgetTier is one of the four working-memory tiers a session's
// budget can occupy. Escalation only ever moves forward through this
// list.
type BudgetTier string

const (
	Minimal  BudgetTier = "minimal"
	Standard BudgetTier = "standard"
	Expanded BudgetTier = "expanded"
	Maximum  BudgetTier = "maximum"
)

// Ordinal returns the escalation order of a BudgetTier, used to
// enforce monotone escalation (never demotes).
func (t BudgetTier) Ordinal() int {
	switch t {
	case Minimal:
		return 0
	case Standard:
		return 1
	case Expanded:
		return 2
	case Maximum:
		return 3
	default:
		return -1
	}
}

// Next returns the tier one step above t, or t itself if already at
// Maximum.
func (t BudgetTier) Next() BudgetTier {
	switch t {
	case Minimal:
		return Standard
	case Standard:
		return Expanded
	case Expanded:
		return Maximum
	default:
		return Maximum
	}
}

// Config is the complete construction-time configuration for a
// Session Coordinator and everything it owns.
type Config struct {
	// WorkingMemoryDefault is the initial HOT cap for a session
	// starting at BudgetTier Minimal. Default 20,000.
	WorkingMemoryDefault int
	// WorkingMemoryMax is the HOT cap at BudgetTier Maximum. Default
	// 80,000.
	WorkingMemoryMax int
	// HandoffWarnPct / HandoffCriticalPct are the usage thresholds (as
	// whole-number percentages) that fire WARN / CRITICAL. Defaults 60
	// and 80.
	HandoffWarnPct     int
	HandoffCriticalPct int
	// AutoExpandEnabled toggles whether escalation triggers fire at
	// all. Default true.
	AutoExpandEnabled bool

	CoolMaxItems  int
	CoolMaxTokens int
	ColdMaxItems  int
	ColdMaxTokens int

	// HandoffRetention is how long a stored handoff packet remains
	// acceptable before sweep() removes it. Default 48h.
	HandoffRetention time.Duration
	// BibleRoot is the filesystem root FROZEN sections must resolve
	// within.
	BibleRoot string
	// BibleSummaryTokens bounds the bootstrap summary returned before
	// a full section is loaded on demand. Default 1,000.
	BibleSummaryTokens int
	// SigningKey is the workspace-scoped keyed-MAC key used to sign
	// handoff packets. Required; must be non-empty.
	SigningKey []byte
}

// Defaults returns the baseline Config. Callers typically start from
// Defaults() and override individual fields, then call Validate.
func Defaults() Config {
	return Config{
		WorkingMemoryDefault: 20_000,
		WorkingMemoryMax:     80_000,
		HandoffWarnPct:       60,
		HandoffCriticalPct:   80,
		AutoExpandEnabled:    true,
		CoolMaxItems:         100,
		CoolMaxTokens:        50_000,
		ColdMaxItems:         500,
		ColdMaxTokens:        200_000,
		HandoffRetention:     48 * time.Hour,
		BibleSummaryTokens:   1_000,
	}
}

// TierCap returns the HOT cap in tokens for the given BudgetTier,
// interpolating MINIMAL/STANDARD/EXPANDED/MAXIMUM against
// WorkingMemoryDefault and WorkingMemoryMax: MINIMAL = default,
// MAXIMUM = max, STANDARD/EXPANDED are the even thirds between them.
func (c Config) TierCap(tier BudgetTier) int {
	lo, hi := c.WorkingMemoryDefault, c.WorkingMemoryMax
	span := hi - lo
	switch tier {
	case Minimal:
		return lo
	case Standard:
		return lo + span/3
	case Expanded:
		return lo + (span*2)/3
	case Maximum:
		return hi
	default:
		return lo
	}
}

// Validate checks the configuration for internal consistency. It does
// not touch the filesystem or network.
func (c Config) Validate() error {
	if c.WorkingMemoryDefault <= 0 {
		return fmt.Errorf("working_memory_default must be positive, got %d", c.WorkingMemoryDefault)
	}
	if c.WorkingMemoryMax < c.WorkingMemoryDefault {
		return fmt.Errorf("working_memory_max (%d) cannot be less than working_memory_default (%d)",
			c.WorkingMemoryMax, c.WorkingMemoryDefault)
	}
	if c.HandoffWarnPct <= 0 || c.HandoffWarnPct >= 100 {
		return fmt.Errorf("handoff_warn_pct must be in (0, 100), got %d", c.HandoffWarnPct)
	}
	if c.HandoffCriticalPct <= c.HandoffWarnPct || c.HandoffCriticalPct > 100 {
		return fmt.Errorf("handoff_critical_pct (%d) must be greater than handoff_warn_pct (%d) and at most 100",
			c.HandoffCriticalPct, c.HandoffWarnPct)
	}
	if c.CoolMaxItems <= 0 || c.CoolMaxTokens <= 0 {
		return fmt.Errorf("cool_max_items and cool_max_tokens must be positive")
	}
	if c.ColdMaxItems <= 0 || c.ColdMaxTokens <= 0 {
		return fmt.Errorf("cold_max_items and cold_max_tokens must be positive")
	}
	if c.HandoffRetention <= 0 {
		return fmt.Errorf("handoff_retention must be positive")
	}
	if c.BibleSummaryTokens <= 0 {
		return fmt.Errorf("bible_summary_tokens must be positive")
	}
	if len(c.SigningKey) == 0 {
		return fmt.Errorf("signing_key is required")
	}
	return nil
}
