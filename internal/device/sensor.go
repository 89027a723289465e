package device

import "strconv"

// Sensor is a measuring channel: brightness, weather station values or
// one facet of an air quality sensor.
type Sensor struct {
	*Base

	sensorType string
	value      string
}

// sensorTypes names the measured quantity of each sensor pairing id, in
// the order they are checked.
var sensorTypes = []struct {
	pid  PairingID
	name string
}{
	{PIDMeasuredBrightness, "lux"},
	{PIDRainAlarm, "rain"},
	{PIDOutdoorTemperature, "temperature"},
	{PIDWindSpeed, "windstrength"},
	{PIDMeasuredHumidity, "humidity"},
	{PIDMeasuredVOC, "voc"},
	{PIDMeasuredCO2, "co2"},
}

var airQualityPIDs = []PairingID{PIDMeasuredHumidity, PIDMeasuredVOC, PIDMeasuredCO2}

func sensorPairingIDs(f FunctionID) (PairingSet, bool) {
	switch {
	case functionIn(f, FunctionIDsMovementDetector):
		return PairingSet{Outputs: []PairingID{PIDMeasuredBrightness}}, true
	case functionIn(f, FunctionIDsWeatherStation):
		return PairingSet{Outputs: []PairingID{
			PIDOutdoorTemperature, PIDMeasuredBrightness, PIDWindSpeed, PIDRainAlarm,
		}}, true
	case functionIn(f, FunctionIDsAirQualitySensor):
		return PairingSet{Outputs: airQualityPIDs}, true
	}
	return PairingSet{}, false
}

func sensorTypeOf(datapoints map[PairingID]string) string {
	for _, t := range sensorTypes {
		if _, ok := datapoints[t.pid]; ok {
			return t.name
		}
	}
	return ""
}

// Type returns the measured quantity, e.g. "lux" or "co2".
func (s *Sensor) Type() string { return s.sensorType }

// Value returns the last reported value.
func (s *Sensor) Value() (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.value, s.value != ""
}

func (s *Sensor) applyDatapoint(id, value string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, t := range sensorTypes {
		if s.is(t.pid, id) {
			changed := s.value != value
			s.value = value
			return changed
		}
	}
	s.logUnknown(id, value)
	return false
}

// State returns the value, numeric when it parses as one.
func (s *Sensor) State() State {
	st := State{"type": s.sensorType}
	if v, ok := s.Value(); ok {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			st["value"] = f
		} else {
			st["value"] = v
		}
	}
	return st
}
