package payment

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/fkhayef/travelmate/pkg/apperr"
)

// Metrics records payment gateway and refund activity. A nil *Metrics is a no-op.
type Metrics struct {
	gatewayRequests *prometheus.CounterVec
	gatewayLatency  *prometheus.HistogramVec
	refundAttempts  *prometheus.CounterVec
	approvals       *prometheus.CounterVec
}

// NewMetrics registers payment collectors with reg
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		gatewayRequests: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "travelmate",
			Subsystem: "payment",
			Name:      "gateway_requests_total",
			Help:      "Payment gateway calls by operation and outcome.",
		}, []string{"op", "outcome"}),
		gatewayLatency: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "travelmate",
			Subsystem: "payment",
			Name:      "gateway_request_duration_seconds",
			Help:      "Payment gateway call latency.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"op"}),
		refundAttempts: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "travelmate",
			Subsystem: "payment",
			Name:      "refund_attempts_total",
			Help:      "Refund attempts by outcome (completed, retry, failed).",
		}, []string{"outcome"}),
		approvals: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "travelmate",
			Subsystem: "payment",
			Name:      "approvals_total",
			Help:      "Approve calls by result (captured, replayed).",
		}, []string{"result"}),
	}
}

func (m *Metrics) observeGateway(op string, start time.Time, err error) {
	if m == nil {
		return
	}
	outcome := "ok"
	if err != nil {
		outcome = "error"
		if apperr.KindOf(err) == apperr.KindTimeout {
			outcome = "timeout"
		}
	}
	m.gatewayRequests.WithLabelValues(op, outcome).Inc()
	m.gatewayLatency.WithLabelValues(op).Observe(time.Since(start).Seconds())
}

func (m *Metrics) refundAttempt(outcome string) {
	if m == nil {
		return
	}
	m.refundAttempts.WithLabelValues(outcome).Inc()
}

func (m *Metrics) approval(result string) {
	if m == nil {
		return
	}
	m.approvals.WithLabelValues(result).Inc()
}
