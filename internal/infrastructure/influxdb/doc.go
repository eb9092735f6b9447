// Package influxdb records device state history in InfluxDB.
//
// Each committed state change becomes one point in the device_state
// measurement, tagged by device and carrying the new state and its journal
// sequence number. The SQLite journal remains the source of truth; InfluxDB
// is for dashboards and retention-managed history.
//
//	client, err := influxdb.Connect(ctx, cfg.InfluxDB)
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	client.SetOnError(func(err error) { log.Warn("influx write failed", "error", err) })
//	client.WriteStateChange(deviceID, true, seq, recordedAt)
package influxdb
