package influxdb

import (
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"
)

// MeasurementStateChange holds one point per committed device state change.
const MeasurementStateChange = "device_state"

// WriteStateChange records a device state change.
//
// The device is a tag so that per-device series can be graphed; the state
// (0 or 1) and journal sequence are fields. The write is non-blocking.
//
// Example:
//
//	client.WriteStateChange("5Grw...", true, 42, time.Now())
func (c *Client) WriteStateChange(deviceID string, state bool, seq int64, at time.Time) {
	if !c.IsConnected() {
		return
	}
	c.writeAPI.WritePoint(stateChangePoint(deviceID, state, seq, at))
}

func stateChangePoint(deviceID string, state bool, seq int64, at time.Time) *write.Point {
	value := 0
	if state {
		value = 1
	}
	return write.NewPoint(
		MeasurementStateChange,
		map[string]string{"device_id": deviceID},
		map[string]interface{}{
			"state": value,
			"seq":   seq,
		},
		at,
	)
}
