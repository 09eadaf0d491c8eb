// Package metrics holds in-process Prometheus collectors for the
// control plane, registered on a dedicated prometheus.Registry rather
// than the global default so embedding processes never collide with
// it. There is deliberately no HTTP server here: exposing /metrics is
// an outer-surface concern the caller wires up itself (or doesn't);
// this package only owns the collectors and the recorder interfaces
// components use to update them.
//
// Metric naming convention: sessionctl_<subsystem>_<name>_<unit>.
package metrics

import "github.com/prometheus/client_golang/prometheus"

// Registry bundles every collector the control plane exposes. Callers
// that want an HTTP /metrics endpoint wrap Prometheus() with
// promhttp.HandlerFor themselves.
type Registry struct {
	registry *prometheus.Registry

	tierPuts      *prometheus.CounterVec
	tierEvictions *prometheus.CounterVec
	tierTooLarge  *prometheus.CounterVec
	tierHits      *prometheus.CounterVec
	tierMisses    prometheus.Counter
	tierPromotes  prometheus.Counter

	budgetEscalations   *prometheus.CounterVec
	budgetUsageRatio    *prometheus.GaugeVec
	budgetWarnFired     prometheus.Counter
	budgetCriticalFired prometheus.Counter

	handoffsPrepared prometheus.Counter
	handoffsAccepted prometheus.Counter
	handoffsExpired  prometheus.Counter
	handoffsSwept    prometheus.Counter

	opsLogAppends  prometheus.Counter
	opsLogAdmitted *prometheus.CounterVec
}

// New creates and registers every collector on a fresh registry.
func New() *Registry {
	reg := prometheus.NewRegistry()

	r := &Registry{
		registry: reg,

		tierPuts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "sessionctl",
			Subsystem: "tier",
			Name:      "puts_total",
			Help:      "Total entries inserted, by tier.",
		}, []string{"tier"}),

		tierEvictions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "sessionctl",
			Subsystem: "tier",
			Name:      "evictions_total",
			Help:      "Total entries evicted, by source tier.",
		}, []string{"tier"}),

		tierTooLarge: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "sessionctl",
			Subsystem: "tier",
			Name:      "too_large_total",
			Help:      "Total puts rejected because token_cost exceeded the tier cap outright.",
		}, []string{"tier"}),

		tierHits: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "sessionctl",
			Subsystem: "tier",
			Name:      "hits_total",
			Help:      "Total successful gets, by tier.",
		}, []string{"tier"}),

		tierMisses: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "sessionctl",
			Subsystem: "tier",
			Name:      "misses_total",
			Help:      "Total gets for keys not present in any tier.",
		}),

		tierPromotes: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "sessionctl",
			Subsystem: "tier",
			Name:      "promotes_total",
			Help:      "Total WARM-to-HOT promotions.",
		}),

		budgetEscalations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "sessionctl",
			Subsystem: "budget",
			Name:      "escalations_total",
			Help:      "Total budget tier escalations, by target tier.",
		}, []string{"to_tier"}),

		budgetUsageRatio: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "sessionctl",
			Subsystem: "budget",
			Name:      "usage_ratio",
			Help:      "Current HOT usage as a fraction of the session's tier cap.",
		}, []string{"session_id"}),

		budgetWarnFired: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "sessionctl",
			Subsystem: "budget",
			Name:      "warn_fired_total",
			Help:      "Total WARN threshold crossings.",
		}),

		budgetCriticalFired: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "sessionctl",
			Subsystem: "budget",
			Name:      "critical_fired_total",
			Help:      "Total CRITICAL threshold crossings.",
		}),

		handoffsPrepared: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "sessionctl",
			Subsystem: "handoff",
			Name:      "prepared_total",
			Help:      "Total handoff packets prepared.",
		}),

		handoffsAccepted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "sessionctl",
			Subsystem: "handoff",
			Name:      "accepted_total",
			Help:      "Total handoff packets accepted (consumed single-use).",
		}),

		handoffsExpired: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "sessionctl",
			Subsystem: "handoff",
			Name:      "expired_total",
			Help:      "Total handoff accept attempts rejected because the packet had expired.",
		}),

		handoffsSwept: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "sessionctl",
			Subsystem: "handoff",
			Name:      "swept_total",
			Help:      "Total handoff packets removed by sweep before being accepted.",
		}),

		opsLogAppends: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "sessionctl",
			Subsystem: "opslog",
			Name:      "appends_total",
			Help:      "Total ops log entries appended.",
		}),

		opsLogAdmitted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "sessionctl",
			Subsystem: "opslog",
			Name:      "admit_decisions_total",
			Help:      "Total admission checks, by outcome.",
		}, []string{"outcome"}),
	}

	reg.MustRegister(
		r.tierPuts, r.tierEvictions, r.tierTooLarge, r.tierHits, r.tierMisses, r.tierPromotes,
		r.budgetEscalations, r.budgetUsageRatio, r.budgetWarnFired, r.budgetCriticalFired,
		r.handoffsPrepared, r.handoffsAccepted, r.handoffsExpired, r.handoffsSwept,
		r.opsLogAppends, r.opsLogAdmitted,
	)

	return r
}

// Prometheus exposes the underlying registry so a caller that wants an
// HTTP surface can hand it to promhttp itself.
func (r *Registry) Prometheus() *prometheus.Registry { return r.registry }
