package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics provides observability for the encounter gateway.
type Metrics struct {
	Requests      *prometheus.CounterVec
	AuditDegraded *prometheus.CounterVec
	Duration      *prometheus.HistogramVec
}

// New registers gateway metrics with reg.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		Requests: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "phigate_gateway_requests_total",
			Help: "Total number of gateway calls, by operation and audited outcome",
		}, []string{"operation", "outcome"}),
		AuditDegraded: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "phigate_gateway_audit_degraded_total",
			Help: "Gateway calls whose audit append degraded, by operation",
		}, []string{"operation"}),
		Duration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "phigate_gateway_duration_seconds",
			Help:    "Duration of gateway calls including the audit append",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
		}, []string{"operation"}),
	}
}

// IncrementRequest records one audited gateway call.
func (m *Metrics) IncrementRequest(operation, outcome string) {
	m.Requests.WithLabelValues(operation, outcome).Inc()
}

func (m *Metrics) IncrementAuditDegraded(operation string) {
	m.AuditDegraded.WithLabelValues(operation).Inc()
}

// ObserveDuration records a call duration. Call with time.Now() at the
// start of the operation.
func (m *Metrics) ObserveDuration(operation string, start time.Time) {
	m.Duration.WithLabelValues(operation).Observe(time.Since(start).Seconds())
}
