package audit

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds Prometheus metrics for the audit log.
type Metrics struct {
	Appended            *prometheus.CounterVec
	AttemptFailures     prometheus.Counter
	Retries             prometheus.Counter
	Degraded            prometheus.Counter
	Replayed            prometheus.Counter
	AppendDuration      prometheus.Histogram
	CircuitBreakerState prometheus.Gauge
}

// NewMetrics registers audit metrics with reg. Pass prometheus.NewRegistry()
// in tests to avoid duplicate registration.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		Appended: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "phigate_audit_events_appended_total",
			Help: "Total number of audit events persisted, by event type and outcome",
		}, []string{"event_type", "outcome"}),
		AttemptFailures: factory.NewCounter(prometheus.CounterOpts{
			Name: "phigate_audit_append_attempt_failures_total",
			Help: "Total number of failed audit store write attempts",
		}),
		Retries: factory.NewCounter(prometheus.CounterOpts{
			Name: "phigate_audit_append_retries_total",
			Help: "Total number of audit append retries",
		}),
		Degraded: factory.NewCounter(prometheus.CounterOpts{
			Name: "phigate_audit_degraded_total",
			Help: "Total number of audit appends that exhausted retries and were dead-lettered",
		}),
		Replayed: factory.NewCounter(prometheus.CounterOpts{
			Name: "phigate_audit_replayed_total",
			Help: "Total number of dead-lettered audit events persisted by replay",
		}),
		AppendDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "phigate_audit_append_duration_seconds",
			Help:    "Time spent appending an audit event, retries included",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
		}),
		CircuitBreakerState: factory.NewGauge(prometheus.GaugeOpts{
			Name: "phigate_audit_circuit_breaker_state",
			Help: "Current circuit breaker state (0=closed/healthy, 1=open/unhealthy)",
		}),
	}
}

func (m *Metrics) IncAppended(eventType EventType, outcome Outcome) {
	m.Appended.WithLabelValues(string(eventType), string(outcome)).Inc()
}

func (m *Metrics) IncAttemptFailures() { m.AttemptFailures.Inc() }

func (m *Metrics) IncRetries() { m.Retries.Inc() }

func (m *Metrics) IncDegraded() { m.Degraded.Inc() }

func (m *Metrics) AddReplayed(n int) { m.Replayed.Add(float64(n)) }

func (m *Metrics) ObserveAppendDuration(seconds float64) {
	m.AppendDuration.Observe(seconds)
}

// SetCircuitBreakerState sets the circuit breaker state gauge.
func (m *Metrics) SetCircuitBreakerState(open bool) {
	if open {
		m.CircuitBreakerState.Set(1)
	} else {
		m.CircuitBreakerState.Set(0)
	}
}
