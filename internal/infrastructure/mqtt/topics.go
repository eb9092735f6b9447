package mqtt

import "strings"

// Topic prefixes for the device ledger.
const (
	// TopicPrefixCore is the base for ledger events and device state.
	TopicPrefixCore = "devledger/core"

	// TopicPrefixSystem is the base for process status.
	TopicPrefixSystem = "devledger/system"
)

// EventStateChange is the event type published for every committed state change.
const EventStateChange = "state_change"

// topicEscaper keeps principals from introducing extra levels or wildcards.
var topicEscaper = strings.NewReplacer("%", "%25", "/", "%2F", "+", "%2B", "#", "%23")

// Topics builds the ledger's MQTT topic names.
//
//	mqtt.Topics{}.DeviceState("5Grw...")
//	// devledger/core/device/5Grw.../state
type Topics struct{}

// DeviceState is the retained topic holding a device's latest state.
func (Topics) DeviceState(deviceID string) string {
	return TopicPrefixCore + "/device/" + EscapeTopicLevel(deviceID) + "/state"
}

// Event is the topic for a stream of ledger events of one type.
func (Topics) Event(eventType string) string {
	return TopicPrefixCore + "/event/" + EscapeTopicLevel(eventType)
}

// SystemStatus carries online/offline status and the last will.
func (Topics) SystemStatus() string {
	return TopicPrefixSystem + "/status"
}

// AllDeviceStates matches every DeviceState topic.
func (Topics) AllDeviceStates() string {
	return TopicPrefixCore + "/device/+/state"
}

// EscapeTopicLevel percent-encodes the characters that are structural in MQTT
// topic names, so any principal maps to exactly one topic level.
func EscapeTopicLevel(s string) string {
	return topicEscaper.Replace(s)
}
