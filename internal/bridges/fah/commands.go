package fah

import (
	"context"
	"fmt"

	"github.com/nerrad567/gray-logic-fah/internal/device"
)

// Command names accepted on the command topics.
const (
	CmdOn             = "on"
	CmdOff            = "off"
	CmdDim            = "dim"
	CmdColorTemp      = "color_temp"
	CmdRGB            = "rgb"
	CmdOpen           = "open"
	CmdClose          = "close"
	CmdStop           = "stop"
	CmdSetPosition    = "set_position"
	CmdSetTilt        = "set_tilt"
	CmdForcePosition  = "force_position"
	CmdSetTemperature = "set_temperature"
	CmdEco            = "eco"
	CmdActivate       = "activate"
	CmdLock           = "lock"
	CmdUnlock         = "unlock"
)

// executeCommand runs cmd against d. Parameter errors wrap
// ErrInvalidParameters and unknown commands wrap ErrUnknownCommand; errors
// from the device and the session pass through.
func executeCommand(ctx context.Context, d device.Device, cmd CommandMessage) error {
	switch dev := d.(type) {
	case *device.Light:
		return lightCommand(ctx, dev, cmd)
	case *device.Cover:
		return coverCommand(ctx, dev, cmd)
	case *device.Thermostat:
		return thermostatCommand(ctx, dev, cmd)
	case *device.Scene:
		if cmd.Command == CmdActivate {
			return dev.Activate(ctx)
		}
	case *device.Lock:
		switch cmd.Command {
		case CmdLock:
			return dev.Lock(ctx)
		case CmdUnlock:
			return dev.Unlock(ctx)
		}
	}
	return unknownCommand(d, cmd)
}

func lightCommand(ctx context.Context, l *device.Light, cmd CommandMessage) error {
	switch cmd.Command {
	case CmdOn:
		return l.TurnOn(ctx)
	case CmdOff:
		return l.TurnOff(ctx)
	case CmdDim:
		level, err := intParam(cmd.Parameters, "level", 0, 100)
		if err != nil {
			return err
		}
		return l.SetBrightness(ctx, level)
	case CmdColorTemp:
		kelvin, err := intParam(cmd.Parameters, "kelvin", 1, 20000)
		if err != nil {
			return err
		}
		return l.SetColorTemperature(ctx, kelvin)
	case CmdRGB:
		var rgb [3]uint8
		for i, name := range []string{"r", "g", "b"} {
			v, err := intParam(cmd.Parameters, name, 0, 255)
			if err != nil {
				return err
			}
			rgb[i] = uint8(v) //nolint:gosec // range checked above
		}
		return l.SetRGB(ctx, rgb[0], rgb[1], rgb[2])
	}
	return unknownCommand(l, cmd)
}

func coverCommand(ctx context.Context, c *device.Cover, cmd CommandMessage) error {
	switch cmd.Command {
	case CmdOpen:
		return c.Open(ctx)
	case CmdClose:
		return c.Close(ctx)
	case CmdStop:
		return c.Stop(ctx)
	case CmdSetPosition:
		position, err := intParam(cmd.Parameters, "position", 0, 100)
		if err != nil {
			return err
		}
		return c.SetPosition(ctx, position)
	case CmdSetTilt:
		tilt, err := intParam(cmd.Parameters, "tilt", 0, 100)
		if err != nil {
			return err
		}
		return c.SetTilt(ctx, tilt)
	case CmdForcePosition:
		position, err := stringParam(cmd.Parameters, "position")
		if err != nil {
			return err
		}
		return c.SetForcedPosition(ctx, device.ForcedPosition(position))
	}
	return unknownCommand(c, cmd)
}

func thermostatCommand(ctx context.Context, t *device.Thermostat, cmd CommandMessage) error {
	switch cmd.Command {
	case CmdOn:
		return t.TurnOn(ctx)
	case CmdOff:
		return t.TurnOff(ctx)
	case CmdEco:
		return t.EcoMode(ctx)
	case CmdSetTemperature:
		celsius, err := floatParam(cmd.Parameters, "temperature")
		if err != nil {
			return err
		}
		return t.SetTargetTemperature(ctx, celsius)
	}
	return unknownCommand(t, cmd)
}

func unknownCommand(d device.Device, cmd CommandMessage) error {
	return fmt.Errorf("%w: %q for %s", ErrUnknownCommand, cmd.Command, d.Kind())
}

// Capabilities lists what a device accepts or reports, for discovery.
func Capabilities(d device.Device) []string {
	switch dev := d.(type) {
	case *device.Light:
		caps := []string{"on_off"}
		if dev.IsDimmer() {
			caps = append(caps, CmdDim)
		}
		if dev.IsColorTemperature() {
			caps = append(caps, CmdColorTemp)
		}
		if dev.IsRGB() {
			caps = append(caps, CmdRGB)
		}
		return caps
	case *device.Cover:
		caps := []string{"open_close"}
		if dev.SupportsStop() {
			caps = append(caps, CmdStop)
		}
		if dev.SupportsPosition() {
			caps = append(caps, CmdSetPosition)
		}
		if dev.SupportsTilt() {
			caps = append(caps, CmdSetTilt)
		}
		if dev.SupportsForcedPosition() {
			caps = append(caps, CmdForcePosition)
		}
		return caps
	case *device.Thermostat:
		return []string{"on_off", CmdEco, CmdSetTemperature}
	case *device.Scene:
		return []string{CmdActivate}
	case *device.Lock:
		return []string{"lock_unlock"}
	case *device.Sensor:
		return []string{"read_" + dev.Type()}
	default:
		return []string{"read_state"}
	}
}

// Parameter helpers. JSON numbers arrive as float64.

func intParam(params map[string]any, name string, lo, hi int) (int, error) {
	f, err := floatParam(params, name)
	if err != nil {
		return 0, err
	}
	if f != float64(int(f)) {
		return 0, fmt.Errorf("%w: %s must be a whole number", ErrInvalidParameters, name)
	}
	n := int(f)
	if n < lo || n > hi {
		return 0, fmt.Errorf("%w: %s must be %d-%d", ErrInvalidParameters, name, lo, hi)
	}
	return n, nil
}

func floatParam(params map[string]any, name string) (float64, error) {
	raw, ok := params[name]
	if !ok {
		return 0, fmt.Errorf("%w: %s is required", ErrInvalidParameters, name)
	}
	f, ok := raw.(float64)
	if !ok {
		return 0, fmt.Errorf("%w: %s must be a number", ErrInvalidParameters, name)
	}
	return f, nil
}

func stringParam(params map[string]any, name string) (string, error) {
	raw, ok := params[name]
	if !ok {
		return "", fmt.Errorf("%w: %s is required", ErrInvalidParameters, name)
	}
	s, ok := raw.(string)
	if !ok || s == "" {
		return "", fmt.Errorf("%w: %s must be a non-empty string", ErrInvalidParameters, name)
	}
	return s, nil
}
