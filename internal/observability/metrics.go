package observability

import "github.com/prometheus/client_golang/prometheus"

// Workflow metrics. Labels are drawn from closed sets (kind, action, outcome,
// status) so cardinality stays bounded.
var (
	// transitions counts workflow operations by aggregate kind, action and
	// outcome ("ok", "stale", "invalid", "not_found", "error").
	transitions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ncr_transitions_total",
			Help: "Workflow operations by kind, action and outcome.",
		},
		[]string{"kind", "action", "outcome"},
	)

	// staleTickets is refreshed by the scheduler: open tickets per status whose
	// last update is older than the configured threshold.
	staleTickets = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "ncr_stale_tickets",
			Help: "Open tickets not updated within the stale threshold, by status.",
		},
		[]string{"status"},
	)
)

func init() {
	prometheus.MustRegister(transitions, staleTickets)
}

// RecordTransition counts one workflow operation.
func RecordTransition(kind, action, outcome string) {
	transitions.WithLabelValues(kind, action, outcome).Inc()
}

// SetStaleTickets replaces the stale gauge with counts.
func SetStaleTickets(counts map[string]int64) {
	staleTickets.Reset()
	for status, n := range counts {
		staleTickets.WithLabelValues(status).Set(float64(n))
	}
}
