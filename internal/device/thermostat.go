package device

import (
	"context"
	"fmt"
	"strconv"
)

// ecoStatusBit is set in the status indication while eco mode is active.
const ecoStatusBit = 0x04

// Thermostat is a room temperature controller channel.
type Thermostat struct {
	*Base

	on            *bool
	eco           bool
	target        string
	current       string
	heatingDemand string
}

func thermostatPairingIDs(f FunctionID) (PairingSet, bool) {
	if !functionIn(f, FunctionIDsRoomTemperatureController) {
		return PairingSet{}, false
	}
	return PairingSet{
		Inputs: []PairingID{
			PIDEcoModeOnOffRequest, PIDControllerOnOffRequest, PIDAbsoluteSetpointTemperature,
		},
		Outputs: []PairingID{
			PIDSetValueTemperature, PIDControllerOnOff, PIDStatusIndication,
			PIDMeasuredTemperature, PIDHeatingDemand,
		},
	}, true
}

func thermostatParameterIDs(f FunctionID) []ParameterID {
	if functionIn(f, FunctionIDsRoomTemperatureController) {
		return []ParameterID{ParamTemperatureCorrection}
	}
	return nil
}

// IsOn reports whether the controller is on.
func (t *Thermostat) IsOn() (on, ok bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if t.on == nil {
		return false, false
	}
	return *t.on, true
}

// IsEco reports whether eco mode is active.
func (t *Thermostat) IsEco() bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.eco
}

// TargetTemperature returns the setpoint as reported by the hub.
func (t *Thermostat) TargetTemperature() string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.target
}

// CurrentTemperature returns the measured temperature as reported.
func (t *Thermostat) CurrentTemperature() string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.current
}

// HeatingDemand returns the actuator demand in percent as reported.
func (t *Thermostat) HeatingDemand() string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.heatingDemand
}

// TemperatureCorrection returns the configured correction offset.
func (t *Thermostat) TemperatureCorrection() (string, bool) {
	return t.Parameter(ParamTemperatureCorrection)
}

// TurnOn leaves eco mode and switches the controller on.
func (t *Thermostat) TurnOn(ctx context.Context) error {
	if err := t.write(ctx, PIDEcoModeOnOffRequest, "0"); err != nil {
		return err
	}
	return t.write(ctx, PIDControllerOnOffRequest, "1")
}

// TurnOff switches the controller off.
func (t *Thermostat) TurnOff(ctx context.Context) error {
	return t.write(ctx, PIDControllerOnOffRequest, "0")
}

// EcoMode switches the controller to eco mode.
func (t *Thermostat) EcoMode(ctx context.Context) error {
	return t.write(ctx, PIDEcoModeOnOffRequest, "1")
}

// SetTargetTemperature sets the absolute setpoint in °C.
func (t *Thermostat) SetTargetTemperature(ctx context.Context, celsius float64) error {
	return t.write(ctx, PIDAbsoluteSetpointTemperature, fmt.Sprintf("%.2f", celsius))
}

func (t *Thermostat) applyDatapoint(id, value string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	switch {
	case t.is(PIDSetValueTemperature, id):
		return setString(&t.target, value)
	case t.is(PIDControllerOnOff, id):
		on := value == "1"
		changed := t.on == nil || *t.on != on
		t.on = &on
		return changed
	case t.is(PIDStatusIndication, id):
		n, err := strconv.Atoi(value)
		if err != nil {
			return false
		}
		eco := n&ecoStatusBit == ecoStatusBit
		changed := t.eco != eco
		t.eco = eco
		return changed
	case t.is(PIDMeasuredTemperature, id):
		return setString(&t.current, value)
	case t.is(PIDHeatingDemand, id):
		return setString(&t.heatingDemand, value)
	}
	t.logUnknown(id, value)
	return false
}

func setString(dst *string, value string) bool {
	changed := *dst != value
	*dst = value
	return changed
}

// State returns on, eco, temperatures and heating demand.
func (t *Thermostat) State() State {
	s := State{"eco": t.IsEco()}
	if on, ok := t.IsOn(); ok {
		s["on"] = on
	}
	putNumber(s, "target_temperature", t.TargetTemperature())
	putNumber(s, "current_temperature", t.CurrentTemperature())
	putNumber(s, "heating_demand", t.HeatingDemand())
	if c, ok := t.TemperatureCorrection(); ok {
		putNumber(s, "temperature_correction", c)
	}
	return s
}

func putNumber(s State, key, value string) {
	if value == "" {
		return
	}
	if f, err := strconv.ParseFloat(value, 64); err == nil {
		s[key] = f
		return
	}
	s[key] = value
}
