package match

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics counts match lifecycle events. A nil *Metrics is a no-op.
type Metrics struct {
	transitions *prometheus.CounterVec
	orphans     prometheus.Counter
}

// NewMetrics registers match collectors with reg
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		transitions: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "travelmate",
			Subsystem: "match",
			Name:      "transitions_total",
			Help:      "Match state transitions by target status and refund outcome.",
		}, []string{"status", "refund"}),
		orphans: f.NewCounter(prometheus.CounterOpts{
			Namespace: "travelmate",
			Subsystem: "match",
			Name:      "orphaned_payments_total",
			Help:      "Captured payments whose match could not be created and were refunded.",
		}),
	}
}

func (m *Metrics) transition(status Status, refund string) {
	if m == nil {
		return
	}
	m.transitions.WithLabelValues(string(status), refund).Inc()
}

func (m *Metrics) orphaned() {
	if m == nil {
		return
	}
	m.orphans.Inc()
}
