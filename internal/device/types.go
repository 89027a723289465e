package device

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"sync"
)

// Kind is the closed set of device kinds a channel can be classified as.
type Kind string

// Device kinds.
const (
	KindLight        Kind = "light"
	KindCover        Kind = "cover"
	KindBinarySensor Kind = "binary_sensor"
	KindSensor       Kind = "sensor"
	KindThermostat   Kind = "thermostat"
	KindScene        Kind = "scene"
	KindLock         Kind = "lock"
)

// AllKinds lists every kind in classification order.
var AllKinds = []Kind{
	KindLight, KindCover, KindBinarySensor, KindThermostat, KindScene, KindSensor, KindLock,
}

// ParseKind returns the Kind named s.
func ParseKind(s string) (Kind, error) {
	for _, k := range AllKinds {
		if string(k) == s {
			return k, nil
		}
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownKind, s)
}

// Info describes the physical device a channel belongs to.
type Info struct {
	Name             string   `json:"name"`
	Model            string   `json:"model"`
	SWVersion        string   `json:"sw_version"`
	ConfigurationURL string   `json:"configuration_url"`
	Identifiers      []string `json:"identifiers"`
}

// State is a point-in-time snapshot of a device's observable values.
// Values are bool, int, float64 or string.
type State map[string]any

// Writer sends datapoint and parameter writes to the hub.
type Writer interface {
	SetDatapoint(ctx context.Context, serial, channel, datapoint, value string) error
}

// Logger defines the logging interface used by the Registry and devices.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Device is one classified channel function.
//
// The set of implementations is closed: *Light, *Cover, *BinarySensor,
// *Sensor, *Thermostat, *Scene and *Lock.
type Device interface {
	Key() string
	Kind() Kind
	Name() string
	Serial() string
	Channel() string
	FunctionID() FunctionID
	Info() Info
	Datapoint(pid PairingID) (string, bool)
	State() State
	OnChange(fn func(Device))

	base() *Base
	applyDatapoint(id, value string) bool
	applyParameter(id, value string) bool
}

// PairingSet lists the pairing ids a kind claims for a function id.
type PairingSet struct {
	Inputs  []PairingID
	Outputs []PairingID
}

// Base carries what every kind has in common: identity, resolved
// datapoint and parameter addresses, and change callbacks.
type Base struct {
	mu sync.RWMutex

	kind       Kind
	serial     string
	channel    string
	functionID FunctionID
	name       string
	info       Info
	keySuffix  string

	datapoints  map[PairingID]string
	parameters  map[ParameterID]string
	paramValues map[ParameterID]string

	writer    Writer
	logger    Logger
	callbacks []func(Device)
}

// Key returns serial/channel, suffixed with the datapoint for devices
// that share a channel with other facets.
func (b *Base) Key() string {
	key := b.serial + "/" + b.channel
	if b.keySuffix != "" {
		key += "/" + b.keySuffix
	}
	return key
}

func (b *Base) Kind() Kind             { return b.kind }
func (b *Base) Name() string           { return b.name }
func (b *Base) Serial() string         { return b.serial }
func (b *Base) Channel() string        { return b.channel }
func (b *Base) FunctionID() FunctionID { return b.functionID }

// Info returns a copy of the physical device description.
func (b *Base) Info() Info {
	info := b.info
	info.Identifiers = append([]string(nil), b.info.Identifiers...)
	return info
}

// Datapoint returns the datapoint id resolved for pid.
func (b *Base) Datapoint(pid PairingID) (string, bool) {
	dp, ok := b.datapoints[pid]
	return dp, ok
}

// Datapoints returns a copy of the pairing id to datapoint map.
func (b *Base) Datapoints() map[PairingID]string {
	return maps.Clone(b.datapoints)
}

// Parameter returns the last known value of a parameter.
func (b *Base) Parameter(id ParameterID) (string, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	v, ok := b.paramValues[id]
	return v, ok
}

// OnChange registers fn to run after an update message touched the device.
func (b *Base) OnChange(fn func(Device)) {
	b.mu.Lock()
	b.callbacks = append(b.callbacks, fn)
	b.mu.Unlock()
}

func (b *Base) base() *Base { return b }

func (b *Base) changeCallbacks() []func(Device) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return slices.Clone(b.callbacks)
}

// has reports whether pid was resolved at discovery.
func (b *Base) has(pid PairingID) bool {
	_, ok := b.datapoints[pid]
	return ok
}

// is reports whether datapoint id is the one resolved for pid.
func (b *Base) is(pid PairingID, id string) bool {
	dp, ok := b.datapoints[pid]
	return ok && dp == id
}

// write sends value to the datapoint resolved for pid.
func (b *Base) write(ctx context.Context, pid PairingID, value string) error {
	dp, ok := b.datapoints[pid]
	if !ok {
		return fmt.Errorf("%w: %s %s has no datapoint for pairing id %s", ErrUnsupported, b.kind, b.Key(), pid)
	}
	if b.writer == nil {
		return fmt.Errorf("%w: %s", ErrNoWriter, b.Key())
	}
	if err := b.writer.SetDatapoint(ctx, b.serial, b.channel, dp, value); err != nil {
		return fmt.Errorf("writing %s/%s/%s: %w", b.serial, b.channel, dp, err)
	}
	return nil
}

// applyParameter stores a parameter value. Kinds that derive state from
// parameters wrap it.
func (b *Base) applyParameter(id, value string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	for pid, addr := range b.parameters {
		if addr == id {
			if b.paramValues[pid] == value {
				return false
			}
			b.paramValues[pid] = value
			return true
		}
	}
	return false
}

func (b *Base) logUnknown(id, value string) {
	b.logger.Debug("unknown datapoint", "kind", b.kind, "device", b.Key(), "datapoint", id, "value", value)
}
