package mqtt

import "fmt"

// Topic prefixes for all warden MQTT traffic.
//
// The scheme is flat: warden/{category}/{app_id}. Event topics carry
// journal entries outward; command topics carry lifecycle requests
// inward.
const (
	// TopicPrefix is the base for all warden topics.
	TopicPrefix = "warden"
)

// Topics provides builders for warden MQTT topics.
// Using these helpers ensures consistent topic naming across the codebase.
//
//	topics := mqtt.Topics{}
//	eventTopic := topics.AppEvent("dashboard")
//	// Returns: "warden/event/dashboard"
type Topics struct{}

// AppEvent returns the topic lifecycle events for one app are
// published on.
//
// Example: warden/event/dashboard
func (Topics) AppEvent(appID string) string {
	return fmt.Sprintf("%s/event/%s", TopicPrefix, appID)
}

// AppCommand returns the topic lifecycle commands for one app are
// received on.
//
// Example: warden/command/dashboard
func (Topics) AppCommand(appID string) string {
	return fmt.Sprintf("%s/command/%s", TopicPrefix, appID)
}

// AllAppCommands returns a pattern matching every app command topic.
//
// Pattern: warden/command/+
func (Topics) AllAppCommands() string {
	return fmt.Sprintf("%s/command/+", TopicPrefix)
}

// Status returns the supervisor online/offline status topic. The
// broker publishes the offline LWT here if warden dies without a
// graceful disconnect.
//
// Example: warden/status
func (Topics) Status() string {
	return fmt.Sprintf("%s/status", TopicPrefix)
}
