package mqtt

import "fmt"

// Topic prefix for the gateway's northbound bridge. All topics live under
// this flat scheme: knx/{category}/{ga}.
const TopicPrefix = "knx"

// Topics provides builders for the gateway's MQTT topics.
type Topics struct{}

// State returns the retained topic a group address's observed value is
// mirrored to.
//
// Example: knx/state/1/2/3
func (Topics) State(ga string) string {
	return fmt.Sprintf("%s/state/%s", TopicPrefix, ga)
}

// Command returns the topic commands for a group address are accepted on.
//
// Example: knx/command/1/2/3
func (Topics) Command(ga string) string {
	return fmt.Sprintf("%s/command/%s", TopicPrefix, ga)
}

// Health returns the topic the gateway's own health status is published to.
//
// Example: knx/health
func (Topics) Health() string {
	return fmt.Sprintf("%s/health", TopicPrefix)
}

// SystemStatus returns the topic the LWT online/offline status is
// published to.
//
// Example: knx/system/status
func (Topics) SystemStatus() string {
	return fmt.Sprintf("%s/system/status", TopicPrefix)
}

// AllCommands returns a wildcard pattern matching every command topic.
//
// Pattern: knx/command/#
func (Topics) AllCommands() string {
	return fmt.Sprintf("%s/command/#", TopicPrefix)
}
