package mqtt

import "fmt"

// DefaultTopicPrefix is the base for all topics when no prefix is configured.
//
// All bridge topics use the flat scheme: {prefix}/{category}/{protocol}/{address}
const DefaultTopicPrefix = "graylogic"

// Topics provides builders for bridge MQTT topics.
// Using these helpers ensures consistent topic naming across the codebase.
//
//	topics := mqtt.Topics{Prefix: "home"}
//	stateTopic := topics.BridgeState("fah", "light/ABB2000ABCDE%2Fch0003")
//	// Returns: "home/state/fah/light/ABB2000ABCDE%2Fch0003"
type Topics struct {
	// Prefix replaces DefaultTopicPrefix when set.
	Prefix string
}

func (t Topics) prefix() string {
	if t.Prefix == "" {
		return DefaultTopicPrefix
	}
	return t.Prefix
}

// =============================================================================
// Bridge Topics
// =============================================================================

// BridgeState returns the topic for device state updates from a bridge.
//
// Example: graylogic/state/fah/light/ABB2000ABCDE%2Fch0003
func (t Topics) BridgeState(protocol, address string) string {
	return fmt.Sprintf("%s/state/%s/%s", t.prefix(), protocol, address)
}

// BridgeCommand returns the topic for commands to a bridge.
//
// Example: graylogic/command/fah/light/ABB2000ABCDE%2Fch0003
func (t Topics) BridgeCommand(protocol, address string) string {
	return fmt.Sprintf("%s/command/%s/%s", t.prefix(), protocol, address)
}

// BridgeAck returns the topic for command acknowledgements from a bridge.
//
// Example: graylogic/ack/fah/light/ABB2000ABCDE%2Fch0003
func (t Topics) BridgeAck(protocol, address string) string {
	return fmt.Sprintf("%s/ack/%s/%s", t.prefix(), protocol, address)
}

// BridgeResponse returns the topic for request responses from a bridge.
//
// Example: graylogic/response/fah/req-abc123
func (t Topics) BridgeResponse(protocol, requestID string) string {
	return fmt.Sprintf("%s/response/%s/%s", t.prefix(), protocol, requestID)
}

// BridgeHealth returns the topic for bridge health status.
//
// Example: graylogic/health/fah
func (t Topics) BridgeHealth(protocol string) string {
	return fmt.Sprintf("%s/health/%s", t.prefix(), protocol)
}

// BridgeDiscovery returns the topic for device discovery from a bridge.
//
// Example: graylogic/discovery/fah
func (t Topics) BridgeDiscovery(protocol string) string {
	return fmt.Sprintf("%s/discovery/%s", t.prefix(), protocol)
}

// =============================================================================
// System Topics
// =============================================================================

// SystemStatus returns the client status topic used for online, offline
// and LWT messages.
//
// Example: graylogic/system/status
func (t Topics) SystemStatus() string {
	return fmt.Sprintf("%s/system/status", t.prefix())
}

// =============================================================================
// Wildcard Patterns for Subscriptions
// =============================================================================

// BridgeCommands returns a pattern matching every command to one bridge,
// whatever the depth of its addresses.
//
// Pattern: graylogic/command/fah/#
func (t Topics) BridgeCommands(protocol string) string {
	return fmt.Sprintf("%s/command/%s/#", t.prefix(), protocol)
}

// BridgeRequests returns a pattern matching every request to one bridge.
//
// Pattern: graylogic/request/fah/#
func (t Topics) BridgeRequests(protocol string) string {
	return fmt.Sprintf("%s/request/%s/#", t.prefix(), protocol)
}

// AllBridgeHealth returns a pattern matching all bridge health updates.
//
// Pattern: graylogic/health/+
func (t Topics) AllBridgeHealth() string {
	return fmt.Sprintf("%s/health/+", t.prefix())
}

// AllTopics returns a pattern matching every topic under the prefix.
// Use with caution - this receives ALL traffic.
//
// Pattern: graylogic/#
func (t Topics) AllTopics() string {
	return t.prefix() + "/#"
}
