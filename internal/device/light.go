package device

import (
	"context"
	"fmt"
	"strconv"
)

// Light is a switching, dimming, tunable-white or colour actuator channel.
type Light struct {
	*Base

	on         *bool
	brightness int // 0-100
	colorTemp  int // 0-100 between the minimum and maximum colour temperature
	rgb        int // 0xRRGGBB
	haveColor  bool
	haveRGB    bool
}

func lightPairingIDs(f FunctionID) (PairingSet, bool) {
	switch {
	case functionIn(f, FunctionIDsColorActuator):
		return PairingSet{
			Inputs:  []PairingID{PIDSwitchOnOff, PIDAbsoluteSetValue, PIDRGB},
			Outputs: []PairingID{PIDInfoOnOff, PIDInfoActualDimmingValue, PIDInfoRGB},
		}, true
	case functionIn(f, FunctionIDsColorTemperatureActuator):
		return PairingSet{
			Inputs:  []PairingID{PIDSwitchOnOff, PIDAbsoluteSetValue, PIDColorTemperature},
			Outputs: []PairingID{PIDInfoOnOff, PIDInfoActualDimmingValue, PIDInfoColorTemperature},
		}, true
	case functionIn(f, FunctionIDsDimmingActuator):
		return PairingSet{
			Inputs:  []PairingID{PIDSwitchOnOff, PIDAbsoluteSetValue},
			Outputs: []PairingID{PIDInfoOnOff, PIDInfoActualDimmingValue},
		}, true
	case functionIn(f, FunctionIDsSwitchingActuator):
		return PairingSet{
			Inputs:  []PairingID{PIDSwitchOnOff},
			Outputs: []PairingID{PIDInfoOnOff},
		}, true
	}
	return PairingSet{}, false
}

func lightParameterIDs(f FunctionID) []ParameterID {
	if functionIn(f, FunctionIDsColorTemperatureActuator) {
		return []ParameterID{ParamMaximumColorTemperature, ParamMinimumColorTemperature}
	}
	return nil
}

// IsOn reports the last known on/off state. ok is false until the hub
// reported one.
func (l *Light) IsOn() (on, ok bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if l.on == nil {
		return false, false
	}
	return *l.on, true
}

// IsDimmer reports whether brightness can be set.
func (l *Light) IsDimmer() bool { return l.has(PIDAbsoluteSetValue) }

// IsColorTemperature reports whether colour temperature can be set.
func (l *Light) IsColorTemperature() bool { return l.has(PIDColorTemperature) }

// IsRGB reports whether colour can be set.
func (l *Light) IsRGB() bool { return l.has(PIDRGB) }

// Brightness returns the last known brightness, 0-100.
func (l *Light) Brightness() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.brightness
}

// ColorTemperatureRange returns the minimum and maximum colour temperature
// in Kelvin from the channel parameters.
func (l *Light) ColorTemperatureRange() (lo, hi int, ok bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.kelvinRange()
}

func (l *Light) kelvinRange() (lo, hi int, ok bool) {
	minV, ok1 := l.paramValues[ParamMinimumColorTemperature]
	maxV, ok2 := l.paramValues[ParamMaximumColorTemperature]
	if !ok1 || !ok2 {
		return 0, 0, false
	}
	lo, err1 := strconv.Atoi(minV)
	hi, err2 := strconv.Atoi(maxV)
	if err1 != nil || err2 != nil || hi <= lo {
		return 0, 0, false
	}
	return lo, hi, true
}

// ColorTemperature returns the colour temperature in Kelvin.
func (l *Light) ColorTemperature() (int, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	lo, hi, ok := l.kelvinRange()
	if !ok || !l.haveColor {
		return 0, false
	}
	return lo + l.colorTemp*(hi-lo)/100, true
}

// RGB returns the last known colour.
func (l *Light) RGB() (r, g, b uint8, ok bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if !l.haveRGB {
		return 0, 0, 0, false
	}
	return uint8(l.rgb >> 16), uint8(l.rgb >> 8), uint8(l.rgb), true //nolint:gosec // masked by the conversion
}

// TurnOn switches the light on and restores brightness, colour
// temperature and colour where the channel supports them.
func (l *Light) TurnOn(ctx context.Context) error {
	l.mu.RLock()
	brightness, colorTemp, rgb := l.brightness, l.colorTemp, l.rgb
	haveColor, haveRGB := l.haveColor, l.haveRGB
	l.mu.RUnlock()

	if err := l.write(ctx, PIDSwitchOnOff, "1"); err != nil {
		return err
	}
	l.setOn(true)

	if l.IsDimmer() && brightness > 0 {
		if err := l.write(ctx, PIDAbsoluteSetValue, strconv.Itoa(brightness)); err != nil {
			return err
		}
	}
	if l.IsColorTemperature() && haveColor {
		if err := l.write(ctx, PIDColorTemperature, strconv.Itoa(colorTemp)); err != nil {
			return err
		}
	}
	if l.IsRGB() && haveRGB {
		if err := l.write(ctx, PIDRGB, strconv.Itoa(rgb)); err != nil {
			return err
		}
	}
	return nil
}

// TurnOff switches the light off.
func (l *Light) TurnOff(ctx context.Context) error {
	if err := l.write(ctx, PIDSwitchOnOff, "0"); err != nil {
		return err
	}
	l.setOn(false)
	return nil
}

// SetBrightness turns the light on at level percent.
func (l *Light) SetBrightness(ctx context.Context, level int) error {
	if !l.IsDimmer() {
		return fmt.Errorf("%w: %s is not dimmable", ErrUnsupported, l.Key())
	}
	if level < 0 || level > 100 {
		return fmt.Errorf("%w: brightness %d", ErrInvalidValue, level)
	}
	l.mu.Lock()
	l.brightness = level
	l.mu.Unlock()
	return l.TurnOn(ctx)
}

// SetColorTemperature turns the light on at kelvin, clamped to the
// channel's range.
func (l *Light) SetColorTemperature(ctx context.Context, kelvin int) error {
	if !l.IsColorTemperature() {
		return fmt.Errorf("%w: %s has no colour temperature", ErrUnsupported, l.Key())
	}
	l.mu.Lock()
	lo, hi, ok := l.kelvinRange()
	if !ok {
		l.mu.Unlock()
		return fmt.Errorf("%w: %s has no colour temperature range", ErrUnsupported, l.Key())
	}
	kelvin = max(lo, min(hi, kelvin))
	l.colorTemp = (kelvin - lo) * 100 / (hi - lo)
	l.haveColor = true
	l.mu.Unlock()
	return l.TurnOn(ctx)
}

// SetRGB turns the light on in the given colour.
func (l *Light) SetRGB(ctx context.Context, r, g, b uint8) error {
	if !l.IsRGB() {
		return fmt.Errorf("%w: %s has no colour", ErrUnsupported, l.Key())
	}
	l.mu.Lock()
	l.rgb = int(r)<<16 | int(g)<<8 | int(b)
	l.haveRGB = true
	l.mu.Unlock()
	return l.TurnOn(ctx)
}

func (l *Light) setOn(on bool) {
	l.mu.Lock()
	l.on = &on
	l.mu.Unlock()
}

func (l *Light) applyDatapoint(id, value string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	switch {
	case l.is(PIDInfoOnOff, id):
		on := value == "1"
		changed := l.on == nil || *l.on != on
		l.on = &on
		return changed
	case l.is(PIDInfoActualDimmingValue, id):
		n, err := parseInt(value)
		if err != nil {
			return false
		}
		changed := l.brightness != n
		l.brightness = n
		return changed
	case l.is(PIDInfoColorTemperature, id):
		n, err := parseInt(value)
		if err != nil {
			return false
		}
		changed := !l.haveColor || l.colorTemp != n
		l.colorTemp, l.haveColor = n, true
		return changed
	case l.is(PIDInfoRGB, id):
		n, err := parseInt(value)
		if err != nil {
			return false
		}
		changed := !l.haveRGB || l.rgb != n
		l.rgb, l.haveRGB = n, true
		return changed
	}
	l.logUnknown(id, value)
	return false
}

// State returns on, brightness, color_temp and rgb as applicable.
func (l *Light) State() State {
	s := State{}
	if on, ok := l.IsOn(); ok {
		s["on"] = on
	}
	if l.IsDimmer() {
		s["brightness"] = l.Brightness()
	}
	if k, ok := l.ColorTemperature(); ok {
		s["color_temp"] = k
	}
	if r, g, b, ok := l.RGB(); ok {
		s["rgb"] = fmt.Sprintf("#%02x%02x%02x", r, g, b)
	}
	return s
}

// parseInt accepts integers and decimals ("73", "73.0").
func parseInt(s string) (int, error) {
	if n, err := strconv.Atoi(s); err == nil {
		return n, nil
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: %q is not a number", ErrInvalidValue, s)
	}
	return int(f), nil
}
