package notify

import (
	"context"
	"time"

	"github.com/nerrad567/device-ledger/internal/ledger"
)

// StateWriter is the subset of *influxdb.Client the recorder needs.
type StateWriter interface {
	WriteStateChange(deviceID string, state bool, seq int64, at time.Time)
}

// InfluxRecorder is an EventSink that writes state changes as time-series
// points. The InfluxDB write API batches in the background, so it does not
// block the registry.
type InfluxRecorder struct {
	w StateWriter
}

// NewInfluxRecorder creates a recorder writing through w.
func NewInfluxRecorder(w StateWriter) *InfluxRecorder {
	return &InfluxRecorder{w: w}
}

// Name implements ledger.EventSink.
func (r *InfluxRecorder) Name() string {
	return "influxdb"
}

// PublishStateChange implements ledger.EventSink.
func (r *InfluxRecorder) PublishStateChange(_ context.Context, ev ledger.StateChange) error {
	r.w.WriteStateChange(ev.Device.String(), ev.NewState, ev.Seq, ev.RecordedAt)
	return nil
}
