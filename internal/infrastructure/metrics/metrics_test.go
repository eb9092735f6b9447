package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestLedger_Records(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	m.ObserveOperation("change_state", OutcomeOK, 2*time.Millisecond)
	m.ObserveOperation("change_state", OutcomeOK, time.Millisecond)
	m.ObserveOperation("change_state", OutcomeRejected, time.Millisecond)
	m.IncRegistrations()
	m.IncEvents()
	m.IncEvents()
	m.IncSinkFailure("mqtt")

	if got := testutil.ToFloat64(m.Operations.WithLabelValues("change_state", OutcomeOK)); got != 2 {
		t.Errorf("ok operations = %v, want 2", got)
	}
	if got := testutil.ToFloat64(m.Operations.WithLabelValues("change_state", OutcomeRejected)); got != 1 {
		t.Errorf("rejected operations = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.Registrations); got != 1 {
		t.Errorf("registrations = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.EventsEmitted); got != 2 {
		t.Errorf("events = %v, want 2", got)
	}
	if got := testutil.ToFloat64(m.SinkFailures.WithLabelValues("mqtt")); got != 1 {
		t.Errorf("sink failures = %v, want 1", got)
	}
	if got := testutil.CollectAndCount(m.OperationLatency); got != 1 {
		t.Errorf("latency series = %d, want 1", got)
	}
}

func TestLedger_NilSafe(t *testing.T) {
	var m *Ledger

	m.ObserveOperation("get_state", OutcomeOK, time.Millisecond)
	m.IncRegistrations()
	m.IncEvents()
	m.IncSinkFailure("websocket")
}

func TestNew_DuplicateRegistrationPanics(t *testing.T) {
	reg := prometheus.NewRegistry()
	New(reg)

	defer func() {
		if recover() == nil {
			t.Error("second New on the same registry should panic")
		}
	}()
	New(reg)
}
