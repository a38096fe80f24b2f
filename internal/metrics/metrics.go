// Package metrics exposes Prometheus counters and histograms for webhook
// delivery, dispatch, and closure-gate outcomes, generalizing the teacher's
// in-memory per-endpoint request counter (spec.md §7, observability carried
// as an ambient concern regardless of the spec's non-goals).
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Registry bundles every metric the service emits.
type Registry struct {
	WebhookDeliveries  *prometheus.CounterVec
	DispatchOutcomes   *prometheus.CounterVec
	DispatchDuration   *prometheus.HistogramVec
	ClosureGateResults *prometheus.CounterVec
}

// NewRegistry constructs and registers every metric against reg.
func NewRegistry(reg prometheus.Registerer) *Registry {
	m := &Registry{
		WebhookDeliveries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "issue_dispatcher",
			Name:      "webhook_deliveries_total",
			Help:      "Inbound webhook deliveries by event, action, and outcome.",
		}, []string{"event", "action", "outcome"}),

		DispatchOutcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "issue_dispatcher",
			Name:      "dispatch_outcomes_total",
			Help:      "Bridge dispatch invocations by task kind and outcome.",
		}, []string{"task_kind", "outcome"}),

		DispatchDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "issue_dispatcher",
			Name:      "dispatch_duration_seconds",
			Help:      "Wall-clock duration of bridge dispatch invocations.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"task_kind"}),

		ClosureGateResults: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "issue_dispatcher",
			Name:      "closure_gate_results_total",
			Help:      "Follow-up closure-gate evaluations by outcome.",
		}, []string{"closed"}),
	}

	reg.MustRegister(m.WebhookDeliveries, m.DispatchOutcomes, m.DispatchDuration, m.ClosureGateResults)
	return m
}
