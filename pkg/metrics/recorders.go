package metrics

// TierRecorder is the narrow view of Registry the tier package depends
// on, so it can be tested against a no-op without pulling prometheus
// into every test.
type TierRecorder interface {
	ObservePut(tier string, tokenCost int)
	ObserveEvict(tier string)
	ObserveTooLarge(tier string)
	ObserveHit(tier string)
	ObserveMiss()
	ObservePromote()
	ObserveSessionClosed(sessionID string, warmEntriesDrained int)
}

// BudgetRecorder is the narrow view of Registry the budget package
// depends on.
type BudgetRecorder interface {
	ObserveEscalation(toTier string)
	ObserveUsageRatio(sessionID string, ratio float64)
	ObserveWarnFired()
	ObserveCriticalFired()
}

// HandoffRecorder is the narrow view of Registry the handoff package
// depends on.
type HandoffRecorder interface {
	ObservePrepared()
	ObserveAccepted()
	ObserveExpired()
	ObserveSwept(count int)
}

// OpsLogRecorder is the narrow view of Registry the opslog package
// depends on.
type OpsLogRecorder interface {
	ObserveAppend()
	ObserveAdmitDecision(outcome string)
}

func (r *Registry) ObservePut(tier string, tokenCost int) { r.tierPuts.WithLabelValues(tier).Inc() }
func (r *Registry) ObserveEvict(tier string)              { r.tierEvictions.WithLabelValues(tier).Inc() }
func (r *Registry) ObserveTooLarge(tier string)           { r.tierTooLarge.WithLabelValues(tier).Inc() }
func (r *Registry) ObserveHit(tier string)                { r.tierHits.WithLabelValues(tier).Inc() }
func (r *Registry) ObserveMiss()                          { r.tierMisses.Inc() }
func (r *Registry) ObservePromote()                       { r.tierPromotes.Inc() }
func (r *Registry) ObserveSessionClosed(_ string, _ int)  {}

func (r *Registry) ObserveEscalation(toTier string) {
	r.budgetEscalations.WithLabelValues(toTier).Inc()
}
func (r *Registry) ObserveUsageRatio(sessionID string, ratio float64) {
	r.budgetUsageRatio.WithLabelValues(sessionID).Set(ratio)
}
func (r *Registry) ObserveWarnFired()     { r.budgetWarnFired.Inc() }
func (r *Registry) ObserveCriticalFired() { r.budgetCriticalFired.Inc() }

func (r *Registry) ObservePrepared()   { r.handoffsPrepared.Inc() }
func (r *Registry) ObserveAccepted()   { r.handoffsAccepted.Inc() }
func (r *Registry) ObserveExpired()    { r.handoffsExpired.Inc() }
func (r *Registry) ObserveSwept(n int) { r.handoffsSwept.Add(float64(n)) }

func (r *Registry) ObserveAppend() { r.opsLogAppends.Inc() }
func (r *Registry) ObserveAdmitDecision(outcome string) {
	r.opsLogAdmitted.WithLabelValues(outcome).Inc()
}

// NoopTierRecorder discards every observation. Used as the zero value
// for components constructed without a Registry.
type NoopTierRecorder struct{}

func (NoopTierRecorder) ObservePut(string, int)           {}
func (NoopTierRecorder) ObserveEvict(string)              {}
func (NoopTierRecorder) ObserveTooLarge(string)           {}
func (NoopTierRecorder) ObserveHit(string)                {}
func (NoopTierRecorder) ObserveMiss()                     {}
func (NoopTierRecorder) ObservePromote()                  {}
func (NoopTierRecorder) ObserveSessionClosed(string, int) {}

// NoopBudgetRecorder discards every observation.
type NoopBudgetRecorder struct{}

func (NoopBudgetRecorder) ObserveEscalation(string)          {}
func (NoopBudgetRecorder) ObserveUsageRatio(string, float64) {}
func (NoopBudgetRecorder) ObserveWarnFired()                 {}
func (NoopBudgetRecorder) ObserveCriticalFired()             {}

// NoopHandoffRecorder discards every observation.
type NoopHandoffRecorder struct{}

func (NoopHandoffRecorder) ObservePrepared() {}
func (NoopHandoffRecorder) ObserveAccepted() {}
func (NoopHandoffRecorder) ObserveExpired()  {}
func (NoopHandoffRecorder) ObserveSwept(int) {}

// NoopOpsLogRecorder discards every observation.
type NoopOpsLogRecorder struct{}

func (NoopOpsLogRecorder) ObserveAppend()              {}
func (NoopOpsLogRecorder) ObserveAdmitDecision(string) {}
