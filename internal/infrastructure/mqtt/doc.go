// Package mqtt connects the device ledger to an MQTT broker.
//
// The ledger publishes rather than consumes: every committed state change
// goes out on a retained per-device state topic and on an event topic, and
// the process announces itself on a retained status topic with a last will
// for unexpected disconnects.
//
//	devledger/core/device/{id}/state      retained, latest state
//	devledger/core/event/state_change     every StateChange, in commit order
//	devledger/system/status               online / offline
//
// Principals are escaped before use as a topic level, so '/', '+' and '#'
// in an identity cannot widen a subscription.
//
// # Usage
//
//	client, err := mqtt.Connect(ctx, cfg.MQTT)
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	err = client.Publish(ctx, mqtt.Topics{}.DeviceState(id), payload, client.QoS(), true)
package mqtt
