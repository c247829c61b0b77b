package settlement

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics records settlement engine runs. A nil *Metrics is a no-op.
type Metrics struct {
	runs         *prometheus.CounterVec
	duration     prometheus.Histogram
	transactions prometheus.Counter
}

// NewMetrics registers settlement collectors with reg
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		runs: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "travelmate",
			Subsystem: "settlement",
			Name:      "calculations_total",
			Help:      "Settlement engine runs by outcome (batch, settled, empty, in_progress, error).",
		}, []string{"outcome"}),
		duration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: "travelmate",
			Subsystem: "settlement",
			Name:      "calculation_duration_seconds",
			Help:      "Time spent computing and persisting one settlement batch.",
			Buckets:   prometheus.DefBuckets,
		}),
		transactions: f.NewCounter(prometheus.CounterOpts{
			Namespace: "travelmate",
			Subsystem: "settlement",
			Name:      "transactions_generated_total",
			Help:      "Settlement transactions written by the engine.",
		}),
	}
}

func (m *Metrics) run(outcome string, start time.Time, generated int) {
	if m == nil {
		return
	}
	m.runs.WithLabelValues(outcome).Inc()
	m.duration.Observe(time.Since(start).Seconds())
	m.transactions.Add(float64(generated))
}
