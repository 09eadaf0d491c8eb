// Package budget tracks each session's working-memory usage against a
// budget tier and emits the warn/critical/escalation signals the
// Session Coordinator drives handoff from. State is a mutex-guarded
// map of per-session records evaluated under the lock, not a
// goroutine per session.
package budget

import (
	"log/slog"
	"sync"

	"github.com/codeready-toolchain/sessionctl/pkg/config"
	"github.com/codeready-toolchain/sessionctl/pkg/errkind"
	"github.com/codeready-toolchain/sessionctl/pkg/metrics"
)

// Transition is the edge event returned by OnInsert/OnRemove/record
// calls so the caller can react without re-deriving state.
type Transition string

const (
	TransitionNone      Transition = "none"
	TransitionWarn      Transition = "warn"
	TransitionCritical  Transition = "critical"
	TransitionEscalated Transition = "escalated"
)

// StartOptions carries the ticket flags consulted at session start to
// pick the initial tier.
type StartOptions struct {
	// Complexity is true when the ticket carries one of the
	// complex|refactor|architecture|migration tags.
	Complexity bool
	// Override is true when the ticket carries an explicit budget
	// override, starting the session at MAXIMUM outright.
	Override bool
}

// State is the per-session budget snapshot.
type State struct {
	SessionID      string
	Tier           config.BudgetTier
	Cap            int
	Used           int
	Peak           int
	ExpansionCount int
	WarnFired      bool
	CriticalFired  bool

	FilesModified int
	RetryCount    int

	// retryEscalatedAt is the RetryCount value at the last
	// retry-triggered escalation, so a retry count that stays at or
	// above 3 does not re-escalate on every subsequent call; only a
	// further increase past that point re-arms the rule.
	retryEscalatedAt int
}

// Snapshot returns a copy of the state safe to hand to a caller.
func (s *State) Snapshot() State {
	return *s
}

// Manager owns the per-session budget state for a workspace.
type Manager struct {
	mu       sync.Mutex
	cfg      config.Config
	sessions map[string]*State
	metrics  metrics.BudgetRecorder
}

// New constructs a Manager. metricsRecorder may be nil.
func New(cfg config.Config, metricsRecorder metrics.BudgetRecorder) *Manager {
	if metricsRecorder == nil {
		metricsRecorder = metrics.NoopBudgetRecorder{}
	}
	return &Manager{
		cfg:      cfg,
		sessions: make(map[string]*State),
		metrics:  metricsRecorder,
	}
}

// Begin initializes budget tracking for a new session, picking the
// starting tier from opts: an explicit override wins outright
// (MAXIMUM); otherwise a complexity tag starts at EXPANDED; otherwise
// sessions start at MINIMAL.
func (m *Manager) Begin(sessionID string, opts StartOptions) *State {
	m.mu.Lock()
	defer m.mu.Unlock()

	tier := config.Minimal
	switch {
	case opts.Override:
		tier = config.Maximum
	case opts.Complexity:
		tier = config.Expanded
	}

	s := &State{
		SessionID: sessionID,
		Tier:      tier,
		Cap:       m.cfg.TierCap(tier),
	}
	m.sessions[sessionID] = s
	return s
}

// End removes a session's tracked budget state. Safe to call even if
// the session was never begun.
func (m *Manager) End(sessionID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.sessions, sessionID)
}

// Get returns a snapshot of a session's current budget state.
func (m *Manager) Get(sessionID string) (State, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[sessionID]
	if !ok {
		return State{}, errkind.New(errkind.NotFound, "session not begun")
	}
	return s.Snapshot(), nil
}

// RestoreUsage overwrites a freshly-begun session's usage counters from
// a resumed handoff packet. It exists so callers never reach past the
// Manager's lock to mutate a *State directly; every field update to a
// session's budget state goes through a guarded method.
func (m *Manager) RestoreUsage(sessionID string, used, peak, expansionCount int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[sessionID]
	if !ok {
		return errkind.New(errkind.NotFound, "session not begun")
	}
	s.Used = used
	s.Peak = peak
	s.ExpansionCount = expansionCount
	return nil
}

// OnInsert records tokens added to HOT for sessionID and returns the
// highest-priority transition triggered: escalation takes precedence
// over warn/critical, since an escalation clears both flags and
// changes the thresholds they're measured against.
func (m *Manager) OnInsert(sessionID string, tokens int) (Transition, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[sessionID]
	if !ok {
		return TransitionNone, errkind.New(errkind.NotFound, "session not begun")
	}

	s.Used += tokens
	if s.Used < 0 {
		s.Used = 0
	}
	if s.Used > s.Peak {
		s.Peak = s.Used
	}

	return m.evaluateLocked(s), nil
}

// OnRemove records tokens removed from HOT for sessionID (eviction or
// demotion out of HOT) and returns any resulting transition.
func (m *Manager) OnRemove(sessionID string, tokens int) (Transition, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[sessionID]
	if !ok {
		return TransitionNone, errkind.New(errkind.NotFound, "session not begun")
	}

	s.Used -= tokens
	if s.Used < 0 {
		s.Used = 0
	}

	return m.evaluateLocked(s), nil
}

// RecordFileModified increments the session's modified-file count and
// re-evaluates escalation. Files-modified count reaching 5 while still
// at MINIMAL escalates to STANDARD.
func (m *Manager) RecordFileModified(sessionID string) (Transition, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[sessionID]
	if !ok {
		return TransitionNone, errkind.New(errkind.NotFound, "session not begun")
	}
	s.FilesModified++
	return m.evaluateLocked(s), nil
}

// RecordRetry increments the session's retry count and re-evaluates
// escalation. A retry count reaching 3 at STANDARD or above escalates
// one tier.
func (m *Manager) RecordRetry(sessionID string) (Transition, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[sessionID]
	if !ok {
		return TransitionNone, errkind.New(errkind.NotFound, "session not begun")
	}
	s.RetryCount++
	return m.evaluateLocked(s), nil
}

// evaluateLocked checks escalation rules first (an escalation
// supersedes any warn/critical reading taken against the old cap),
// then falls back to a threshold check against the current cap.
// Caller holds m.mu.
func (m *Manager) evaluateLocked(s *State) Transition {
	if m.cfg.AutoExpandEnabled && m.checkEscalationLocked(s) {
		return TransitionEscalated
	}
	return m.thresholdTransitionLocked(s)
}

func (m *Manager) checkEscalationLocked(s *State) bool {
	if s.Tier == config.Minimal && s.FilesModified >= 5 {
		m.escalateLocked(s)
		return true
	}
	if s.Tier.Ordinal() >= config.Standard.Ordinal() &&
		s.RetryCount >= 3 && s.RetryCount > s.retryEscalatedAt {
		s.retryEscalatedAt = s.RetryCount
		m.escalateLocked(s)
		return true
	}
	return false
}

// escalateLocked raises s.Tier one step, recomputes its cap, and
// clears warn/critical flags so the new headroom is fully usable. A
// session already at MAXIMUM is left unchanged.
func (m *Manager) escalateLocked(s *State) {
	next := s.Tier.Next()
	if next == s.Tier {
		return
	}
	prev := s.Tier
	s.Tier = next
	s.Cap = m.cfg.TierCap(next)
	s.ExpansionCount++
	s.WarnFired = false
	s.CriticalFired = false
	m.metrics.ObserveEscalation(string(next))
	slog.Info("budget tier escalated", "session_id", s.SessionID, "from", prev, "to", next, "cap", s.Cap)
}

// thresholdTransitionLocked evaluates used/cap against the configured
// WARN and CRITICAL percentages, firing each at most once per tier
// level. Caller holds m.mu.
func (m *Manager) thresholdTransitionLocked(s *State) Transition {
	ratio := 0.0
	if s.Cap > 0 {
		ratio = float64(s.Used) / float64(s.Cap)
	}
	m.metrics.ObserveUsageRatio(s.SessionID, ratio)

	warnRatio := float64(m.cfg.HandoffWarnPct) / 100.0
	criticalRatio := float64(m.cfg.HandoffCriticalPct) / 100.0

	switch {
	case ratio >= criticalRatio && !s.CriticalFired:
		s.CriticalFired = true
		m.metrics.ObserveCriticalFired()
		slog.Warn("budget critical threshold crossed", "session_id", s.SessionID, "used", s.Used, "cap", s.Cap, "ratio", ratio)
		return TransitionCritical
	case ratio >= warnRatio && !s.WarnFired:
		s.WarnFired = true
		m.metrics.ObserveWarnFired()
		slog.Warn("budget warn threshold crossed", "session_id", s.SessionID, "used", s.Used, "cap", s.Cap, "ratio", ratio)
		return TransitionWarn
	default:
		return TransitionNone
	}
}
