// Package notify delivers committed ledger events to external systems.
//
// Each type here implements ledger.EventSink:
//
//   - MQTTPublisher publishes the device's retained state topic and the
//     state_change event topic. Publishing happens on a single worker
//     goroutine fed by a bounded queue, so the registry never waits on the
//     broker and per-device ordering is preserved.
//   - InfluxRecorder writes one time-series point per state change.
//
// Usage:
//
//	pub := notify.NewMQTTPublisher(mqttClient, mqttClient.QoS(), notify.DefaultQueueSize)
//	pub.SetLogger(log)
//	defer pub.Close()
//	registry.AddSink(pub)
//	registry.AddSink(notify.NewInfluxRecorder(influxClient))
package notify
