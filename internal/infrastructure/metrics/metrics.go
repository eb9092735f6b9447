// Package metrics provides Prometheus instrumentation for the device ledger.
//
// All collectors are registered on a caller-supplied registerer so that
// tests can build isolated instances. Methods are nil-safe: a nil *Ledger
// records nothing.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Outcome labels.
const (
	OutcomeOK       = "ok"
	OutcomeRejected = "rejected"
	OutcomeError    = "error"
)

// Ledger holds the collectors for registry operations and event delivery.
type Ledger struct {
	Operations       *prometheus.CounterVec
	OperationLatency *prometheus.HistogramVec
	Registrations    prometheus.Counter
	EventsEmitted    prometheus.Counter
	SinkFailures     *prometheus.CounterVec
}

// New creates the ledger collectors and registers them on reg.
func New(reg prometheus.Registerer) *Ledger {
	factory := promauto.With(reg)
	return &Ledger{
		Operations: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "devledger_operations_total",
			Help: "Registry operations by name and outcome",
		}, []string{"operation", "outcome"}),

		OperationLatency: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "devledger_operation_duration_seconds",
			Help:    "Duration of registry operations including storage",
			Buckets: []float64{0.0005, 0.001, 0.0025, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25},
		}, []string{"operation"}),

		Registrations: factory.NewCounter(prometheus.CounterOpts{
			Name: "devledger_registrations_total",
			Help: "Devices successfully registered",
		}),

		EventsEmitted: factory.NewCounter(prometheus.CounterOpts{
			Name: "devledger_state_change_events_total",
			Help: "StateChange events emitted",
		}),

		SinkFailures: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "devledger_event_sink_failures_total",
			Help: "Failed event deliveries by sink",
		}, []string{"sink"}),
	}
}

// ObserveOperation records one operation outcome and its duration.
func (m *Ledger) ObserveOperation(operation, outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.Operations.WithLabelValues(operation, outcome).Inc()
	m.OperationLatency.WithLabelValues(operation).Observe(d.Seconds())
}

// IncRegistrations counts a successful registration.
func (m *Ledger) IncRegistrations() {
	if m != nil {
		m.Registrations.Inc()
	}
}

// IncEvents counts an emitted StateChange.
func (m *Ledger) IncEvents() {
	if m != nil {
		m.EventsEmitted.Inc()
	}
}

// IncSinkFailure counts a failed delivery to the named sink.
func (m *Ledger) IncSinkFailure(sink string) {
	if m != nil {
		m.SinkFailures.WithLabelValues(sink).Inc()
	}
}
