package fah

import (
	"fmt"
	"strings"

	"github.com/nerrad567/gray-logic-fah/internal/device"
	"github.com/nerrad567/gray-logic-fah/internal/infrastructure/mqtt"
)

// Topics builds the bridge's MQTT topics under one prefix.
type Topics struct {
	base mqtt.Topics
}

// NewTopics returns topic builders rooted at prefix.
func NewTopics(prefix string) Topics {
	return Topics{base: mqtt.Topics{Prefix: prefix}}
}

// State returns the retained state topic of a device.
func (t Topics) State(kind device.Kind, key string) string {
	return t.base.BridgeState(Protocol, DeviceAddress(kind, key))
}

// Command returns the command topic of a device.
func (t Topics) Command(kind device.Kind, key string) string {
	return t.base.BridgeCommand(Protocol, DeviceAddress(kind, key))
}

// Ack returns the acknowledgment topic for a device address.
func (t Topics) Ack(address string) string {
	return t.base.BridgeAck(Protocol, address)
}

// Health returns the bridge health topic.
func (t Topics) Health() string {
	return t.base.BridgeHealth(Protocol)
}

// Discovery returns the retained discovery topic.
func (t Topics) Discovery() string {
	return t.base.BridgeDiscovery(Protocol)
}

// Response returns the response topic for a request.
func (t Topics) Response(requestID string) string {
	return t.base.BridgeResponse(Protocol, requestID)
}

// Commands is the subscription pattern for all device commands.
func (t Topics) Commands() string {
	return t.base.BridgeCommands(Protocol)
}

// Requests is the subscription pattern for all requests.
func (t Topics) Requests() string {
	return t.base.BridgeRequests(Protocol)
}

// Route splits a received topic into its category ("command" or
// "request") and the remainder after the protocol level.
//
//	graylogic/command/fah/light/ABB5000DIM%2Fch0000 → "command", "light/ABB5000DIM%2Fch0000"
func (t Topics) Route(topic string) (category, rest string, err error) {
	prefix := t.base.AllTopics()
	prefix = prefix[:len(prefix)-1] // drop "#", keep the trailing slash

	tail, ok := strings.CutPrefix(topic, prefix)
	if !ok {
		return "", "", fmt.Errorf("%w: %q outside prefix", ErrInvalidTopic, topic)
	}
	parts := strings.SplitN(tail, "/", 3)
	if len(parts) < 3 || parts[1] != Protocol || parts[2] == "" {
		return "", "", fmt.Errorf("%w: %q", ErrInvalidTopic, topic)
	}
	return parts[0], parts[2], nil
}

// DeviceAddress returns the topic address of a device, {kind}/{encoded key}.
func DeviceAddress(kind device.Kind, key string) string {
	return string(kind) + "/" + EncodeTopicAddress(key)
}

// ParseDeviceAddress splits an address from DeviceAddress back into the
// kind and the decoded key. The kind must be known.
func ParseDeviceAddress(address string) (device.Kind, string, error) {
	kindName, encoded, ok := strings.Cut(address, "/")
	if !ok || encoded == "" {
		return "", "", fmt.Errorf("%w: %q", ErrInvalidAddress, address)
	}
	kind, err := device.ParseKind(kindName)
	if err != nil {
		return "", "", fmt.Errorf("%w: %w", ErrInvalidAddress, err)
	}
	if strings.Contains(encoded, "/") {
		return "", "", fmt.Errorf("%w: %q has unencoded '/'", ErrInvalidAddress, address)
	}
	return kind, DecodeTopicAddress(encoded), nil
}

// EncodeTopicAddress makes a device key safe for use as one MQTT topic level.
// Example: "ABB700D12345/ch0003" → "ABB700D12345%2Fch0003"
func EncodeTopicAddress(key string) string {
	return strings.ReplaceAll(key, "/", "%2F")
}

// DecodeTopicAddress reverses EncodeTopicAddress.
// Example: "ABB700D12345%2Fch0003" → "ABB700D12345/ch0003"
func DecodeTopicAddress(encoded string) string {
	return strings.ReplaceAll(encoded, "%2F", "/")
}
