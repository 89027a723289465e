package fah

import (
	"time"

	"github.com/nerrad567/gray-logic-fah/internal/device"
	fahsession "github.com/nerrad567/gray-logic-fah/internal/fah"
)

// Protocol is the protocol identifier carried in messages and topics.
const Protocol = "fah"

// Manufacturer is reported for every discovered device.
const Manufacturer = "Busch-Jaeger"

// Payloads exchanged on the bridge topics. All are JSON; timestamps are
// RFC 3339 in UTC. Device addresses have the form {kind}/{key}, see
// DeviceAddress.
//
//	command    CommandMessage    in
//	ack        AckMessage        out
//	state      StateMessage      out, retained
//	health     HealthMessage     out, retained
//	request    RequestMessage    in
//	response   ResponseMessage   out
//	discovery  DiscoveryMessage  out, retained

// CommandMessage asks the bridge to act on one device.
type CommandMessage struct {
	ID         string         `json:"id"`
	Timestamp  time.Time      `json:"timestamp"`
	DeviceID   string         `json:"device_id"` // caller's id, echoed in the ack
	Command    string         `json:"command"`   // one of the Cmd* constants
	Parameters map[string]any `json:"parameters,omitempty"`
	Source     string         `json:"source"`
}

// AckStatus is the outcome of a command.
type AckStatus string

const (
	AckAccepted AckStatus = "accepted" // the SysAP took every datapoint write
	AckFailed   AckStatus = "failed"
	AckTimeout  AckStatus = "timeout" // the SysAP did not answer in time
)

// AckMessage answers a CommandMessage.
type AckMessage struct {
	CommandID string    `json:"command_id"`
	Timestamp time.Time `json:"timestamp"`
	DeviceID  string    `json:"device_id"`
	Status    AckStatus `json:"status"`
	Protocol  string    `json:"protocol"`
	Address   string    `json:"address"`
	Error     *AckError `json:"error,omitempty"`
}

// AckError describes a failed or timed out command.
type AckError struct {
	Code    string `json:"code"` // one of the ErrCode* constants
	Message string `json:"message"`
}

// Error codes shared by acks and responses.
const (
	ErrCodeDeviceUnreachable = "DEVICE_UNREACHABLE"
	ErrCodeInvalidCommand    = "INVALID_COMMAND"
	ErrCodeInvalidParameters = "INVALID_PARAMETERS"
	ErrCodeProtocolError     = "PROTOCOL_ERROR"
	ErrCodeTimeout           = "TIMEOUT"
	ErrCodeNotConfigured     = "NOT_CONFIGURED"
	ErrCodeBridgeError       = "BRIDGE_ERROR"
)

// StateMessage carries a device's state snapshot, for instance
// {"on": true, "brightness": 50} for a dimmer or
// {"type": "temperature", "value": 21.5} for a sensor.
type StateMessage struct {
	DeviceID  string         `json:"device_id"` // device key, serial/channel
	Timestamp time.Time      `json:"timestamp"`
	Kind      string         `json:"kind"`
	Name      string         `json:"name,omitempty"`
	State     map[string]any `json:"state"`
	Protocol  string         `json:"protocol"`
	Address   string         `json:"address"`
}

// HealthStatus is the bridge's overall condition.
type HealthStatus string

const (
	HealthHealthy   HealthStatus = "healthy"
	HealthDegraded  HealthStatus = "degraded"  // running, something needs attention
	HealthUnhealthy HealthStatus = "unhealthy" // the SysAP session cannot recover by itself
	HealthOffline   HealthStatus = "offline"   // Last Will
	HealthStarting  HealthStatus = "starting"
	HealthStopping  HealthStatus = "stopping"
)

// HealthMessage is the bridge's periodic status report.
type HealthMessage struct {
	Bridge         string            `json:"bridge"`
	Timestamp      time.Time         `json:"timestamp"`
	Status         HealthStatus      `json:"status"`
	Version        string            `json:"version"`
	UptimeSeconds  int64             `json:"uptime_seconds"`
	Connection     *ConnectionStatus `json:"connection,omitempty"`
	Statistics     *BridgeStatistics `json:"statistics,omitempty"`
	DevicesManaged int               `json:"devices_managed"`
	Reason         string            `json:"reason,omitempty"`
}

// ConnectionStatus describes the SysAP session.
type ConnectionStatus struct {
	Status          string     `json:"status"` // session state name, e.g. "connected"
	Address         string     `json:"address"`
	Encrypted       bool       `json:"encrypted"`
	ProtocolVersion uint32     `json:"protocol_version,omitempty"`
	LastUpdate      *time.Time `json:"last_update,omitempty"`
	Reconnects      uint64     `json:"reconnects"`
}

// BridgeStatistics are counters since start. Errors adds dropped updates
// to failed commands.
type BridgeStatistics struct {
	MessagesReceived uint64 `json:"messages_received"`
	MessagesSent     uint64 `json:"messages_sent"`
	Errors           uint64 `json:"errors"`
}

// RequestMessage asks the bridge a question. Action is read_state (with
// DeviceID set to a device address), read_all or discover.
type RequestMessage struct {
	RequestID  string         `json:"request_id"`
	Timestamp  time.Time      `json:"timestamp"`
	Action     string         `json:"action"`
	DeviceID   string         `json:"device_id,omitempty"`
	Parameters map[string]any `json:"parameters,omitempty"`
}

// ResponseMessage answers a RequestMessage. Exactly one of Data and Error
// is set.
type ResponseMessage struct {
	RequestID string         `json:"request_id"`
	Timestamp time.Time      `json:"timestamp"`
	Success   bool           `json:"success"`
	Data      map[string]any `json:"data,omitempty"`
	Error     *ResponseError `json:"error,omitempty"`
}

// ResponseError describes a failed request.
type ResponseError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// DiscoveryMessage lists every device in the SysAP configuration.
type DiscoveryMessage struct {
	Timestamp time.Time          `json:"timestamp"`
	Bridge    string             `json:"bridge"`
	Devices   []DiscoveredDevice `json:"devices"`
}

// DiscoveredDevice is one entry of a DiscoveryMessage.
type DiscoveredDevice struct {
	Protocol         string   `json:"protocol"`
	Address          string   `json:"address"`
	Type             string   `json:"type"`         // device kind
	Capabilities     []string `json:"capabilities"` // see Capabilities
	Manufacturer     string   `json:"manufacturer,omitempty"`
	Product          string   `json:"product,omitempty"`
	SuggestedName    string   `json:"suggested_name,omitempty"`
	Identifiers      []string `json:"identifiers,omitempty"`
	ConfigurationURL string   `json:"configuration_url,omitempty"`
}

func now() time.Time { return time.Now().UTC() }

// NewAckMessage acknowledges cmd for the device at address.
func NewAckMessage(cmd CommandMessage, status AckStatus, address string) AckMessage {
	return AckMessage{
		CommandID: cmd.ID,
		Timestamp: now(),
		DeviceID:  cmd.DeviceID,
		Status:    status,
		Protocol:  Protocol,
		Address:   address,
	}
}

// NewAckError is a failed ack, or a timeout ack when code is ErrCodeTimeout.
func NewAckError(cmd CommandMessage, address, code, message string) AckMessage {
	status := AckFailed
	if code == ErrCodeTimeout {
		status = AckTimeout
	}
	ack := NewAckMessage(cmd, status, address)
	ack.Error = &AckError{Code: code, Message: message}
	return ack
}

// NewStateMessage snapshots d.
func NewStateMessage(d device.Device) StateMessage {
	return StateMessage{
		DeviceID:  d.Key(),
		Timestamp: now(),
		Kind:      string(d.Kind()),
		Name:      d.Name(),
		State:     d.State(),
		Protocol:  Protocol,
		Address:   DeviceAddress(d.Kind(), d.Key()),
	}
}

// NewHealthMessage builds a health report around the session statistics.
func NewHealthMessage(bridgeID, version, host string, status HealthStatus, stats fahsession.Stats,
	deviceCount int, startTime time.Time) HealthMessage {
	conn := &ConnectionStatus{
		Status:          stats.State,
		Address:         host,
		Encrypted:       stats.Encrypted,
		ProtocolVersion: stats.ProtocolVersion,
		Reconnects:      stats.Reconnects,
	}
	if !stats.LastUpdate.IsZero() {
		last := stats.LastUpdate.UTC()
		conn.LastUpdate = &last
	}

	return HealthMessage{
		Bridge:         bridgeID,
		Timestamp:      now(),
		Status:         status,
		Version:        version,
		UptimeSeconds:  int64(time.Since(startTime).Seconds()),
		Connection:     conn,
		DevicesManaged: deviceCount,
	}
}

// NewLWTMessage is the offline report the broker publishes for a bridge
// that vanished without closing its connection.
func NewLWTMessage(bridgeID string) HealthMessage {
	return HealthMessage{
		Bridge:    bridgeID,
		Timestamp: now(),
		Status:    HealthOffline,
		Reason:    "unexpected_disconnect",
	}
}

// NewDiscoveryMessage describes devices in registry order.
func NewDiscoveryMessage(bridgeID string, devices []device.Device) DiscoveryMessage {
	found := make([]DiscoveredDevice, 0, len(devices))
	for _, d := range devices {
		info := d.Info()
		found = append(found, DiscoveredDevice{
			Protocol:         Protocol,
			Address:          DeviceAddress(d.Kind(), d.Key()),
			Type:             string(d.Kind()),
			Capabilities:     Capabilities(d),
			Manufacturer:     Manufacturer,
			Product:          info.Model,
			SuggestedName:    d.Name(),
			Identifiers:      info.Identifiers,
			ConfigurationURL: info.ConfigurationURL,
		})
	}
	return DiscoveryMessage{Timestamp: now(), Bridge: bridgeID, Devices: found}
}
