package device

// BinarySensor is a sensor, alarm or push-button channel with an on/off
// state.
type BinarySensor struct {
	*Base

	state          string
	windowPosition string
}

func binarySensorPairingIDs(f FunctionID) (PairingSet, bool) {
	switch {
	case functionIn(f, FunctionIDsBinarySensor):
		return PairingSet{Outputs: []PairingID{
			PIDSwitchOnOff,
			PIDTimedStartStop,
			PIDForcePosition,
			PIDRelativeSetValue,
			PIDMoveUpDown,
			PIDAdjustUpDown,
			PIDWindAlarm,
			PIDFrostAlarm,
			PIDRainAlarm,
			PIDBrightnessAlarm,
			PIDForcePositionBlind,
			PIDWindowDoor,
			PIDWindowDoorPosition,
			PIDSwitchoverHeatingCooling,
			PIDMovementUnderBrightness,
			PIDPresence,
			PIDFireAlarmActive,
			PIDCOAlarmActive,
		}}, true
	case functionIn(f, FunctionIDsWeatherStation):
		return PairingSet{Outputs: []PairingID{PIDWindAlarm, PIDFrostAlarm, PIDBrightnessAlarm}}, true
	case functionIn(f, FunctionIDsDoorbellSensor):
		return PairingSet{Outputs: []PairingID{PIDTimedStartStop}}, true
	}
	return PairingSet{}, false
}

// IsOn reports whether the sensor is active. ok is false until the hub
// reported a state.
func (s *BinarySensor) IsOn() (on, ok bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.state == "" {
		return false, false
	}
	return s.state == "1", true
}

// WindowPosition returns the raw window position, if the channel has one.
func (s *BinarySensor) WindowPosition() (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.windowPosition, s.windowPosition != ""
}

// IsFireSensor reports whether the channel is a smoke detector.
func (s *BinarySensor) IsFireSensor() bool { return s.has(PIDFireAlarmActive) }

// IsCOSensor reports whether the channel is a carbon monoxide detector.
func (s *BinarySensor) IsCOSensor() bool { return s.has(PIDCOAlarmActive) }

// IsDoorbell reports whether the channel is a door ringing sensor.
func (s *BinarySensor) IsDoorbell() bool {
	return functionIn(s.functionID, FunctionIDsDoorbellSensor)
}

func (s *BinarySensor) applyDatapoint(id, value string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.is(PIDWindowDoorPosition, id) {
		changed := s.windowPosition != value
		s.windowPosition = value
		return changed
	}
	state := "1"
	if value == "0" {
		state = "0"
	}
	changed := s.state != state
	s.state = state
	return changed
}

// State returns on, and window_position for window sensors.
func (s *BinarySensor) State() State {
	st := State{}
	if on, ok := s.IsOn(); ok {
		st["on"] = on
	}
	if p, ok := s.WindowPosition(); ok {
		st["window_position"] = p
	}
	switch {
	case s.IsFireSensor():
		st["device_class"] = "smoke"
	case s.IsCOSensor():
		st["device_class"] = "carbon_monoxide"
	case s.IsDoorbell():
		st["device_class"] = "doorbell"
	}
	return st
}
