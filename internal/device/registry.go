package device

import (
	"fmt"
	"slices"
	"strconv"
	"sync"
)

// classifier pairs a kind with the functions that decide whether it
// claims a channel.
type classifier struct {
	kind       Kind
	pairings   func(FunctionID) (PairingSet, bool)
	parameters func(FunctionID) []ParameterID
}

// classifiers are asked in order for every channel. A channel can yield
// devices of several kinds.
var classifiers = []classifier{
	{kind: KindLight, pairings: lightPairingIDs, parameters: lightParameterIDs},
	{kind: KindCover, pairings: coverPairingIDs},
	{kind: KindBinarySensor, pairings: binarySensorPairingIDs},
	{kind: KindThermostat, pairings: thermostatPairingIDs, parameters: thermostatParameterIDs},
	{kind: KindScene, pairings: scenePairingIDs},
	{kind: KindSensor, pairings: sensorPairingIDs},
	{kind: KindLock, pairings: lockPairingIDs},
}

// RegistryOption configures a Registry.
type RegistryOption func(*Registry)

// WithHost sets the SysAP host used for the configuration URL of
// discovered devices.
func WithHost(host string) RegistryOption {
	return func(r *Registry) { r.host = host }
}

// WithRoomNames appends the room name to device names.
func WithRoomNames(enabled bool) RegistryOption {
	return func(r *Registry) { r.useRoomNames = enabled }
}

// WithLogger sets the logger for the registry and its devices.
func WithLogger(l Logger) RegistryOption {
	return func(r *Registry) {
		if l != nil {
			r.logger = l
		}
	}
}

// Registry holds the devices discovered from one SysAP configuration and
// routes update messages to them.
//
// Every output datapoint and parameter address (serial/channel/id) of a
// device is indexed, so an update is routed with one map lookup per
// datapoint. A datapoint address is monitored by at most one device.
//
// All public methods are thread-safe.
type Registry struct {
	mu         sync.RWMutex
	devices    []Device
	byKind     map[Kind]map[string]Device
	monitored  map[string]Device
	parameters map[string]Device
	callbacks  []func(Device)

	writer       Writer
	logger       Logger
	host         string
	useRoomNames bool
}

// NewRegistry creates an empty registry. Device commands are sent
// through w.
func NewRegistry(w Writer, opts ...RegistryOption) *Registry {
	r := &Registry{
		byKind:     make(map[Kind]map[string]Device),
		monitored:  make(map[string]Device),
		parameters: make(map[string]Device),
		writer:     w,
		logger:     noopLogger{},
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// SetLogger sets the logger for the registry.
func (r *Registry) SetLogger(logger Logger) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if logger != nil {
		r.logger = logger
	}
}

// OnChange registers fn to run once for every device an update message
// touched, after the device's own callbacks.
func (r *Registry) OnChange(fn func(Device)) {
	r.mu.Lock()
	r.callbacks = append(r.callbacks, fn)
	r.mu.Unlock()
}

// Discover replaces the device set with the devices found in the full
// configuration XML and seeds their state from the same document.
//
// Devices and channels that cannot be interpreted are logged and
// skipped. Only a document that is not XML at all returns an error.
func (r *Registry) Discover(config string) (int, error) {
	doc, err := parseConfig(config)
	if err != nil {
		return 0, err
	}

	r.mu.RLock()
	logger := r.logger
	r.mu.RUnlock()

	d := discovery{
		registry:  r,
		logger:    logger,
		rooms:     doc.roomNames(),
		names:     doc.names(),
		byKind:    make(map[Kind]map[string]Device),
		monitored: make(map[string]Device),
		params:    make(map[string]Device),
	}
	for i := range doc.Devices {
		if err := d.device(&doc.Devices[i]); err != nil {
			logger.Warn("skipping device", "serial", doc.Devices[i].Serial, "error", err)
		}
	}

	r.mu.Lock()
	r.devices = d.devices
	r.byKind = d.byKind
	r.monitored = d.monitored
	r.parameters = d.params
	r.mu.Unlock()

	logger.Info("devices discovered", "count", len(d.devices), "monitored_datapoints", len(d.monitored))

	r.dispatch(doc, true)
	return len(d.devices), nil
}

// Update applies an update message. Every device that received one of
// its datapoints is notified exactly once, after the whole message is
// applied.
func (r *Registry) Update(message string) error {
	doc, err := parseConfig(message)
	if err != nil {
		return err
	}
	r.dispatch(doc, false)
	return nil
}

func (r *Registry) dispatch(doc *configDocument, seeding bool) {
	r.mu.RLock()
	logger := r.logger
	var changed []Device
	for di := range doc.Devices {
		dev := &doc.Devices[di]
		if dev.Channels == nil {
			continue
		}
		for ci := range dev.Channels.Channels {
			ch := &dev.Channels.Channels[ci]
			mask := ch.datapointFilterMask()
			prefix := dev.Serial + "/" + ch.I + "/"

			for _, dp := range slices.Concat(ch.Inputs, ch.Outputs) {
				if dp.MatchCode != "" {
					if code, err := parseHex(dp.MatchCode); err == nil && code&mask == 0 {
						continue
					}
				}
				if dp.Value == nil {
					continue
				}
				if !seeding {
					logger.Debug("received datapoint", "address", prefix+dp.I, "value", dp.Value.Text)
				}
				target, ok := r.monitored[prefix+dp.I]
				if !ok {
					continue
				}
				if target.applyDatapoint(dp.I, dp.Value.Text) && !seeding {
					logger.Debug("datapoint changed", "kind", target.Kind(), "device", target.Key(), "datapoint", dp.I)
				}
				if !slices.Contains(changed, target) {
					changed = append(changed, target)
				}
			}

			for _, p := range ch.Parameters {
				if p.Value == nil {
					continue
				}
				target, ok := r.parameters[prefix+p.I]
				if !ok {
					continue
				}
				if target.applyParameter(p.I, p.Value.Text) && !seeding {
					logger.Debug("parameter changed", "kind", target.Kind(), "device", target.Key(), "parameter", p.I)
				}
				if !slices.Contains(changed, target) {
					changed = append(changed, target)
				}
			}
		}
	}
	callbacks := slices.Clone(r.callbacks)
	r.mu.RUnlock()

	for _, d := range changed {
		if !seeding {
			logger.Debug("device updated", "kind", d.Kind(), "device", d.Key(), "state", d.State())
		}
		for _, fn := range d.base().changeCallbacks() {
			fn(d)
		}
		for _, fn := range callbacks {
			fn(d)
		}
	}
}

// Devices returns the devices of kind, or every device when kind is
// empty, in discovery order.
func (r *Registry) Devices(kind Kind) []Device {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if kind == "" {
		return slices.Clone(r.devices)
	}
	var out []Device
	for _, d := range r.devices {
		if d.Kind() == kind {
			out = append(out, d)
		}
	}
	return out
}

// Device returns the device of kind with key.
func (r *Registry) Device(kind Kind, key string) (Device, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.byKind[kind][key]
	if !ok {
		return nil, fmt.Errorf("%w: %s %s", ErrDeviceNotFound, kind, key)
	}
	return d, nil
}

// Lookup returns the device monitoring the datapoint address
// serial/channel/datapoint.
func (r *Registry) Lookup(address string) (Device, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.monitored[address]
	return d, ok
}

// Len returns the number of devices.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.devices)
}

// discovery holds the state of one Discover pass.
type discovery struct {
	registry *Registry
	logger   Logger
	rooms    map[string]map[string]string
	names    map[string]string

	devices   []Device
	byKind    map[Kind]map[string]Device
	monitored map[string]Device
	params    map[string]Device
}

func (d *discovery) device(dev *xmlDevice) error {
	if dev.IsExternal == "true" {
		d.logger.Debug("ignoring external device", "serial", dev.Serial)
		return nil
	}
	if dev.CommissioningState != "ready" {
		d.logger.Debug("ignoring device not ready", "serial", dev.Serial, "state", dev.CommissioningState)
		return nil
	}
	if dev.Channels == nil {
		d.logger.Debug("ignoring device without channels", "serial", dev.Serial)
		return nil
	}

	filter, err := dev.channelFilterMask()
	if err != nil {
		return err
	}

	displayName := attribute(dev.Attributes, "displayName")
	model := d.names[dev.NameID]
	name := displayName
	if name == "" {
		name = model
	}
	info := Info{
		Name:        name + " (" + dev.Serial + ")",
		Model:       model,
		SWVersion:   dev.SoftwareVersion,
		Identifiers: []string{dev.Serial},
	}
	if d.registry.host != "" {
		info.ConfigurationURL = "http://" + d.registry.host + "/"
	}

	loc := location{
		floor:       attribute(dev.Attributes, "floor"),
		room:        attribute(dev.Attributes, "room"),
		displayName: displayName,
	}
	for i := range dev.Channels.Channels {
		if err := d.channel(dev, &dev.Channels.Channels[i], filter, loc, info); err != nil {
			d.logger.Warn("skipping channel", "serial", dev.Serial, "channel", dev.Channels.Channels[i].I, "error", err)
		}
	}
	return nil
}

type location struct {
	floor       string
	room        string
	displayName string
}

func (d *discovery) channel(dev *xmlDevice, ch *xmlChannel, filter uint32, devLoc location, info Info) error {
	mask := uint32(allMask)
	if ch.Mask != "" {
		m, err := parseHex(ch.Mask)
		if err != nil {
			return fmt.Errorf("%w: channel mask %q: %w", ErrConfigParse, ch.Mask, err)
		}
		mask = m
	}
	if mask&filter == 0 {
		d.logger.Debug("ignoring channel outside selected mode", "serial", dev.Serial, "channel", ch.I,
			"mask", fmt.Sprintf("%08x", mask), "filter", fmt.Sprintf("%08x", filter))
		return nil
	}

	rawFunction := attribute(ch.Attributes, "functionId")
	if rawFunction == "" {
		return nil
	}
	fid, err := parseHex(rawFunction)
	if err != nil {
		return fmt.Errorf("%w: function id %q: %w", ErrConfigParse, rawFunction, err)
	}
	function := FunctionID(fid) //nolint:gosec // function ids are 16 bit

	floor, room := attribute(ch.Attributes, "floor"), attribute(ch.Attributes, "room")
	if floor == "" || ch.SameLocation == "true" {
		floor, room = devLoc.floor, devLoc.room
	}
	if room == "" {
		d.logger.Debug("ignoring channel without room", "serial", dev.Serial, "channel", ch.I, "function", function)
		return nil
	}

	name := attribute(ch.Attributes, "displayName")
	if name == "" {
		name = devLoc.displayName
	}
	if name == "" {
		name = dev.Serial + "/" + ch.I
	}
	if nameID, err := strconv.ParseUint(ch.NameID, 16, 32); err == nil {
		name += positionSuffixes[uint32(nameID)]
	}
	if d.registry.useRoomNames && floor != "" {
		if roomName, ok := d.rooms[floor][room]; ok {
			name += " (" + roomName + ")"
		}
	}

	for _, c := range classifiers {
		set, ok := c.pairings(function)
		if !ok {
			continue
		}
		datapoints := ch.resolve(set)
		if len(datapoints) == 0 {
			continue
		}
		var parameters map[ParameterID]string
		if c.parameters != nil {
			parameters = ch.resolveParameters(c.parameters(function))
		}

		if c.kind == KindSensor && functionIn(function, FunctionIDsAirQualitySensor) {
			for _, pid := range airQualityPIDs {
				dp, ok := datapoints[pid]
				if !ok {
					continue
				}
				d.add(d.newDevice(c.kind, dev.Serial, ch.I, function, name, info,
					map[PairingID]string{pid: dp}, parameters, dp))
			}
			continue
		}
		d.add(d.newDevice(c.kind, dev.Serial, ch.I, function, name, info, datapoints, parameters, ""))
	}
	return nil
}

func (d *discovery) newDevice(kind Kind, serial, channel string, function FunctionID, name string, info Info,
	datapoints map[PairingID]string, parameters map[ParameterID]string, keySuffix string,
) Device {
	if parameters == nil {
		parameters = make(map[ParameterID]string)
	}
	b := &Base{
		kind:        kind,
		serial:      serial,
		channel:     channel,
		functionID:  function,
		name:        name,
		info:        info,
		keySuffix:   keySuffix,
		datapoints:  datapoints,
		parameters:  parameters,
		paramValues: make(map[ParameterID]string),
		writer:      d.registry.writer,
		logger:      d.logger,
	}

	switch kind {
	case KindLight:
		return &Light{Base: b}
	case KindCover:
		return &Cover{Base: b}
	case KindBinarySensor:
		return &BinarySensor{Base: b}
	case KindThermostat:
		return &Thermostat{Base: b}
	case KindScene:
		return &Scene{Base: b}
	case KindSensor:
		s := &Sensor{Base: b, sensorType: sensorTypeOf(datapoints)}
		if s.sensorType != "" {
			b.name += "_" + s.sensorType
		}
		return s
	default:
		return &Lock{Base: b}
	}
}

// add registers dev and indexes its output datapoints and parameters.
// Input datapoints are not monitored; the hub publishes state only
// through outputs.
func (d *discovery) add(dev Device) {
	key := dev.Key()
	if d.byKind[dev.Kind()] == nil {
		d.byKind[dev.Kind()] = make(map[string]Device)
	}
	if _, dup := d.byKind[dev.Kind()][key]; dup {
		d.logger.Warn("duplicate device", "kind", dev.Kind(), "device", key)
		return
	}
	d.byKind[dev.Kind()][key] = dev
	d.devices = append(d.devices, dev)

	b := dev.base()
	prefix := b.serial + "/" + b.channel + "/"
	for _, dp := range b.datapoints {
		if dp == "" || dp[0] == 'i' {
			continue
		}
		d.monitor(d.monitored, prefix+dp, dev)
	}
	for _, p := range b.parameters {
		if p == "" || p[0] == 'i' {
			continue
		}
		d.monitor(d.params, prefix+p, dev)
	}

	d.logger.Info("device added", "kind", dev.Kind(), "device", key, "name", dev.Name(), "function", dev.FunctionID())
}

func (d *discovery) monitor(index map[string]Device, address string, dev Device) {
	if owner, taken := index[address]; taken {
		d.logger.Warn("datapoint already monitored", "address", address,
			"owner", owner.Kind(), "device", dev.Kind())
		return
	}
	index[address] = dev
}
