package device

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
)

type writeCall struct {
	serial, channel, datapoint, value string
}

// recordingWriter is a test implementation of Writer.
type recordingWriter struct {
	mu    sync.Mutex
	calls []writeCall
	err   error
}

func (w *recordingWriter) SetDatapoint(_ context.Context, serial, channel, datapoint, value string) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.err != nil {
		return w.err
	}
	w.calls = append(w.calls, writeCall{serial, channel, datapoint, value})
	return nil
}

func (w *recordingWriter) take() []writeCall {
	w.mu.Lock()
	defer w.mu.Unlock()
	calls := w.calls
	w.calls = nil
	return calls
}

func loadFixture(t *testing.T, name string) string {
	t.Helper()
	b, err := os.ReadFile(filepath.Join("testdata", name))
	if err != nil {
		t.Fatalf("reading fixture: %v", err)
	}
	return string(b)
}

func discover(t *testing.T, config string, opts ...RegistryOption) (*Registry, *recordingWriter) {
	t.Helper()
	w := &recordingWriter{}
	r := NewRegistry(w, opts...)
	if _, err := r.Discover(config); err != nil {
		t.Fatalf("Discover() error = %v", err)
	}
	return r, w
}

func mustDevice[T Device](t *testing.T, r *Registry, kind Kind, key string) T {
	t.Helper()
	d, err := r.Device(kind, key)
	if err != nil {
		t.Fatalf("Device(%s, %s) error = %v", kind, key, err)
	}
	typed, ok := d.(T)
	if !ok {
		t.Fatalf("Device(%s, %s) is %T", kind, key, d)
	}
	return typed
}

func update(t *testing.T, r *Registry, fixture string) {
	t.Helper()
	if err := r.Update(loadFixture(t, fixture)); err != nil {
		t.Fatalf("Update(%s) error = %v", fixture, err)
	}
}

func expectCalls(t *testing.T, w *recordingWriter, want ...writeCall) {
	t.Helper()
	got := w.take()
	if len(got) != len(want) {
		t.Fatalf("writes = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("write %d = %v, want %v", i, got[i], want[i])
		}
	}
}

func TestCoverScenario(t *testing.T) {
	r, w := discover(t, loadFixture(t, "blind_actuator_1gang.xml"), WithRoomNames(true), WithHost("sysap.local"))

	if n := len(r.Devices(KindCover)); n != 1 {
		t.Fatalf("got %d covers, want 1", n)
	}
	c := mustDevice[*Cover](t, r, KindCover, "ABB700D12345/ch0003")

	if c.Name() != "Gäste-WC (room1)" {
		t.Errorf("Name() = %q", c.Name())
	}
	info := c.Info()
	if info.Name != "Sensor/ Jalousieaktor 1/1-fach (ABB700D12345)" {
		t.Errorf("Info.Name = %q", info.Name)
	}
	if info.Model != "Sensor/ Jalousieaktor 1/1-fach" || info.SWVersion != "2.1366" {
		t.Errorf("Info = %+v", info)
	}
	if info.ConfigurationURL != "http://sysap.local/" {
		t.Errorf("Info.ConfigurationURL = %q", info.ConfigurationURL)
	}

	if !c.SupportsPosition() || c.SupportsTilt() || !c.SupportsForcedPosition() {
		t.Errorf("supports position=%v tilt=%v forced=%v", c.SupportsPosition(), c.SupportsTilt(), c.SupportsForcedPosition())
	}
	if p, ok := c.Position(); !ok || p != 27 {
		t.Errorf("Position() = %d, %v, want 27", p, ok)
	}
	if f, _ := c.ForcedPosition(); f != ForcedNone {
		t.Errorf("ForcedPosition() = %q, want none", f)
	}
	if c.IsClosed() || c.IsOpening() || c.IsClosing() {
		t.Error("cover should be open and idle")
	}

	ctx := context.Background()
	const serial, ch = "ABB700D12345", "ch0003"

	if err := c.Open(ctx); err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	expectCalls(t, w, writeCall{serial, ch, "idp0000", "0"})

	if err := c.Close(ctx); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	expectCalls(t, w, writeCall{serial, ch, "idp0000", "1"})

	if err := c.Stop(ctx); err != nil {
		t.Fatalf("Stop() error = %v", err)
	}
	expectCalls(t, w)

	if err := c.SetPosition(ctx, 41); err != nil {
		t.Fatalf("SetPosition() error = %v", err)
	}
	expectCalls(t, w, writeCall{serial, ch, "idp0002", "59"})

	if err := c.SetForcedPosition(ctx, ForcedNone); err != nil {
		t.Fatalf("SetForcedPosition() error = %v", err)
	}
	expectCalls(t, w, writeCall{serial, ch, "idp0004", "1"})

	if err := c.SetTilt(ctx, 10); !errors.Is(err, ErrUnsupported) {
		t.Errorf("SetTilt() error = %v, want ErrUnsupported", err)
	}

	update(t, r, "blind_update_closing.xml")
	if c.IsOpening() || !c.IsClosing() {
		t.Error("cover should be closing")
	}
	if err := c.Stop(ctx); err != nil {
		t.Fatalf("Stop() error = %v", err)
	}
	expectCalls(t, w, writeCall{serial, ch, "idp0001", "1"})

	update(t, r, "blind_update_closed.xml")
	if c.IsOpening() || c.IsClosing() || !c.IsClosed() {
		t.Error("cover should be closed and idle")
	}
	if p, _ := c.Position(); p != 0 {
		t.Errorf("Position() = %d, want 0", p)
	}

	update(t, r, "blind_update_opening.xml")
	if !c.IsOpening() || c.IsClosing() {
		t.Error("cover should be opening")
	}

	update(t, r, "blind_update_open.xml")
	if c.IsOpening() || c.IsClosing() || c.IsClosed() {
		t.Error("cover should be open and idle")
	}
	if p, _ := c.Position(); p != 64 {
		t.Errorf("Position() = %d, want 64", p)
	}

	update(t, r, "blind_update_force_opening.xml")
	if !c.IsOpening() {
		t.Error("cover should be opening")
	}
	if f, _ := c.ForcedPosition(); f != ForcedOpen {
		t.Errorf("ForcedPosition() = %q, want open", f)
	}
}

func TestCoverNameWithoutRoom(t *testing.T) {
	r, _ := discover(t, loadFixture(t, "blind_actuator_1gang.xml"))
	c := mustDevice[*Cover](t, r, KindCover, "ABB700D12345/ch0003")
	if c.Name() != "Gäste-WC" {
		t.Errorf("Name() = %q, want Gäste-WC", c.Name())
	}
}

func TestLightScenario(t *testing.T) {
	r, w := discover(t, loadFixture(t, "switch_actuator.xml"))
	l := mustDevice[*Light](t, r, KindLight, "ABB2000ABCDE/ch0003")

	if l.Name() != "Ceiling" {
		t.Errorf("Name() = %q", l.Name())
	}
	if l.IsDimmer() || l.IsColorTemperature() || l.IsRGB() {
		t.Error("switch actuator should only switch")
	}
	if on, ok := l.IsOn(); !ok || !on {
		t.Fatalf("IsOn() = %v, %v, want true", on, ok)
	}

	var notified int
	l.OnChange(func(Device) { notified++ })

	if err := l.TurnOff(context.Background()); err != nil {
		t.Fatalf("TurnOff() error = %v", err)
	}
	expectCalls(t, w, writeCall{"ABB2000ABCDE", "ch0003", "idp0000", "0"})

	update(t, r, "switch_update_off.xml")
	if on, ok := l.IsOn(); !ok || on {
		t.Errorf("IsOn() = %v, %v, want false", on, ok)
	}
	if notified != 1 {
		t.Errorf("notified %d times, want 1", notified)
	}
	if err := l.SetBrightness(context.Background(), 50); !errors.Is(err, ErrUnsupported) {
		t.Errorf("SetBrightness() error = %v, want ErrUnsupported", err)
	}
}

func TestDiscoverHouse(t *testing.T) {
	r, _ := discover(t, loadFixture(t, "house.xml"))

	tests := []struct {
		kind Kind
		keys []string
	}{
		{KindLight, []string{"ABB5000DIM/ch0000"}},
		{KindCover, nil},
		{KindBinarySensor, []string{"ABB7000WEATHER/ch0000"}},
		{KindThermostat, []string{"ABB3000THERM/ch0000"}},
		{KindScene, []string{"SCENE/ch0000"}},
		{KindSensor, []string{
			"ABB4000AIRQ/ch0000/odp0000",
			"ABB4000AIRQ/ch0000/odp0001",
			"ABB4000AIRQ/ch0000/odp0002",
			"ABB7000WEATHER/ch0000",
		}},
		{KindLock, []string{"ABB6000DOOR/ch0000"}},
	}
	total := 0
	for _, tt := range tests {
		t.Run(string(tt.kind), func(t *testing.T) {
			devices := r.Devices(tt.kind)
			if len(devices) != len(tt.keys) {
				t.Fatalf("got %d devices, want %d", len(devices), len(tt.keys))
			}
			for i, d := range devices {
				if d.Key() != tt.keys[i] {
					t.Errorf("device %d key = %q, want %q", i, d.Key(), tt.keys[i])
				}
			}
		})
		total += len(tt.keys)
	}
	if r.Len() != total {
		t.Errorf("Len() = %d, want %d", r.Len(), total)
	}
}

func TestDiscoverSkips(t *testing.T) {
	r, _ := discover(t, loadFixture(t, "house.xml"))

	tests := []struct {
		name    string
		kind    Kind
		key     string
		address string
	}{
		{"external device", KindLight, "HUE000001/ch0000", "HUE000001/ch0000/odp0000"},
		{"not commissioned", KindLight, "ABB8000NEW/ch0000", "ABB8000NEW/ch0000/odp0000"},
		{"no room", KindLight, "ABB5000DIM/ch0001", ""},
		{"no matching datapoint", KindLight, "ABB6000DOOR/ch0002", "ABB6000DOOR/ch0002/odp0000"},
		{"bad function id", KindLight, "ABB6000DOOR/ch0001", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := r.Device(tt.kind, tt.key); !errors.Is(err, ErrDeviceNotFound) {
				t.Errorf("Device() error = %v, want ErrDeviceNotFound", err)
			}
			if tt.address == "" {
				return
			}
			if _, ok := r.Lookup(tt.address); ok {
				t.Errorf("Lookup(%s) found a device", tt.address)
			}
		})
	}
}

func TestChannelSelector(t *testing.T) {
	config := loadFixture(t, "blind_actuator_1gang.xml")

	tests := []struct {
		name    string
		config  string
		present []string
		absent  []string
	}{
		{
			name:    "rocker mode",
			config:  config,
			present: []string{"ABB700D12345/ch0000"},
			absent:  []string{"ABB700D12345/ch0001", "ABB700D12345/ch0002"},
		},
		{
			name:    "push button mode",
			config:  strings.Replace(config, `<option key="1" mask="00000001"/>`, `<option key="1" mask="00000002"/>`, 1),
			present: []string{"ABB700D12345/ch0001", "ABB700D12345/ch0002"},
			absent:  []string{"ABB700D12345/ch0000"},
		},
		{
			name:    "selector not applicable",
			config:  strings.Replace(config, `<value>00000001</value>`, `<value>00000004</value>`, 1),
			present: []string{"ABB700D12345/ch0000", "ABB700D12345/ch0001", "ABB700D12345/ch0002"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r, _ := discover(t, tt.config)
			for _, key := range tt.present {
				if _, err := r.Device(KindBinarySensor, key); err != nil {
					t.Errorf("Device(%s) error = %v", key, err)
				}
			}
			for _, key := range tt.absent {
				if _, err := r.Device(KindBinarySensor, key); !errors.Is(err, ErrDeviceNotFound) {
					t.Errorf("Device(%s) error = %v, want ErrDeviceNotFound", key, err)
				}
			}
			if _, err := r.Device(KindCover, "ABB700D12345/ch0003"); err != nil {
				t.Errorf("cover missing: %v", err)
			}
		})
	}
}

func TestPositionSuffix(t *testing.T) {
	config := strings.Replace(loadFixture(t, "blind_actuator_1gang.xml"),
		`<option key="1" mask="00000001"/>`, `<option key="1" mask="00000002"/>`, 1)
	r, _ := discover(t, config)

	top := mustDevice[*BinarySensor](t, r, KindBinarySensor, "ABB700D12345/ch0001")
	if top.Name() != "ABB700D12345/ch0001 T" {
		t.Errorf("Name() = %q", top.Name())
	}
	bottom := mustDevice[*BinarySensor](t, r, KindBinarySensor, "ABB700D12345/ch0002")
	if bottom.Name() != "ABB700D12345/ch0002 B" {
		t.Errorf("Name() = %q", bottom.Name())
	}
}

func TestMonitoredIndex(t *testing.T) {
	r, _ := discover(t, loadFixture(t, "blind_actuator_1gang.xml"))

	for _, addr := range []string{"ABB700D12345/ch0003/odp0000", "ABB700D12345/ch0003/odp0001", "ABB700D12345/ch0003/odp0002"} {
		d, ok := r.Lookup(addr)
		if !ok || d.Kind() != KindCover {
			t.Errorf("Lookup(%s) = %v, %v", addr, d, ok)
		}
	}
	if _, ok := r.Lookup("ABB700D12345/ch0003/idp0000"); ok {
		t.Error("input datapoints must not be monitored")
	}
}

func TestUpdateNotifiesOncePerMessage(t *testing.T) {
	r, _ := discover(t, loadFixture(t, "blind_actuator_1gang.xml"))
	c := mustDevice[*Cover](t, r, KindCover, "ABB700D12345/ch0003")

	var deviceCalls, registryCalls int
	c.OnChange(func(Device) { deviceCalls++ })
	r.OnChange(func(d Device) {
		if d.Key() == c.Key() {
			registryCalls++
		}
	})

	// odp0000 and odp0001 change in the same message.
	update(t, r, "blind_update_closed.xml")
	if deviceCalls != 1 || registryCalls != 1 {
		t.Errorf("callbacks device=%d registry=%d, want 1 each", deviceCalls, registryCalls)
	}
}

func TestUpdateDuplicateNames(t *testing.T) {
	r, _ := discover(t, loadFixture(t, "switch_actuator.xml"))
	l := mustDevice[*Light](t, r, KindLight, "ABB2000ABCDE/ch0003")

	msg := `<project><devices><device serialNumber="ABB2000ABCDE" name="a" deviceId="B002" name="b">` +
		`<channels><channel i="ch0003"><outputs><dataPoint i="odp0000"><value>0</value></dataPoint>` +
		`</outputs></channel></channels></device></devices></project>`
	if err := r.Update(msg); err != nil {
		t.Fatalf("Update() error = %v", err)
	}
	if on, _ := l.IsOn(); on {
		t.Error("light should be off")
	}
}

func TestUpdateMatchCodeFilter(t *testing.T) {
	r, _ := discover(t, loadFixture(t, "house.xml"))
	s := mustDevice[*Sensor](t, r, KindSensor, "ABB7000WEATHER/ch0000")

	if v, _ := s.Value(); v != "1500" {
		t.Fatalf("Value() = %q, want 1500", v)
	}

	msg := `<project><devices><device serialNumber="ABB7000WEATHER"><channels><channel i="ch0000">` +
		`<attribute name="functionId">0041</attribute>` +
		`<functions><function functionId="0041" sensorMatchCode="00000001" actuatorMatchCode="00000000"/></functions>` +
		`<outputs><dataPoint i="odp0001" matchCode="00000002"><value>7</value></dataPoint></outputs>` +
		`</channel></channels></device></devices></project>`
	if err := r.Update(msg); err != nil {
		t.Fatalf("Update() error = %v", err)
	}
	if v, _ := s.Value(); v != "1500" {
		t.Errorf("Value() = %q, datapoint outside the function mask was applied", v)
	}
}

func TestUpdateInvalidXML(t *testing.T) {
	r := NewRegistry(nil)
	if err := r.Update("<project><devices>"); !errors.Is(err, ErrConfigParse) {
		t.Errorf("Update() error = %v, want ErrConfigParse", err)
	}
	if _, err := r.Discover("not xml"); !errors.Is(err, ErrConfigParse) {
		t.Errorf("Discover() error = %v, want ErrConfigParse", err)
	}
}

func TestDiscoverReplacesDevices(t *testing.T) {
	r, _ := discover(t, loadFixture(t, "house.xml"))
	if _, err := r.Discover(loadFixture(t, "switch_actuator.xml")); err != nil {
		t.Fatalf("Discover() error = %v", err)
	}
	if r.Len() != 1 {
		t.Errorf("Len() = %d, want 1", r.Len())
	}
	if _, ok := r.Lookup("ABB3000THERM/ch0000/odp0006"); ok {
		t.Error("index still holds devices of the previous discovery")
	}
}

func TestCommandWithoutWriter(t *testing.T) {
	r := NewRegistry(nil)
	if _, err := r.Discover(loadFixture(t, "switch_actuator.xml")); err != nil {
		t.Fatalf("Discover() error = %v", err)
	}
	l := mustDevice[*Light](t, r, KindLight, "ABB2000ABCDE/ch0003")
	if err := l.TurnOn(context.Background()); !errors.Is(err, ErrNoWriter) {
		t.Errorf("TurnOn() error = %v, want ErrNoWriter", err)
	}
}

func TestWriterError(t *testing.T) {
	r, w := discover(t, loadFixture(t, "switch_actuator.xml"))
	w.err = errors.New("rpc down")
	l := mustDevice[*Light](t, r, KindLight, "ABB2000ABCDE/ch0003")
	if err := l.TurnOn(context.Background()); !errors.Is(err, w.err) {
		t.Errorf("TurnOn() error = %v, want wrapped writer error", err)
	}
}

func TestStripDuplicateNames(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{`<floor uid="01" name="a" name="b">`, `<floor uid="01" >`},
		{`<room uid="01" name="a"/>`, `<room uid="01" name="a"/>`},
		{`<x name="a" k="v" name="b"/>`, `<x k="v" />`},
	}
	for _, tt := range tests {
		if got := StripDuplicateNames(tt.in); got != tt.want {
			t.Errorf("StripDuplicateNames(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
