package device

import (
	"context"
	"fmt"
	"strconv"
)

// Movement states reported on the info move up/down datapoint.
const (
	coverOpening = "2"
	coverClosing = "3"
)

// ForcedPosition is the forced (locked) position of a cover.
type ForcedPosition string

// Forced positions.
const (
	ForcedNone   ForcedPosition = "none"
	ForcedOpen   ForcedPosition = "open"
	ForcedClosed ForcedPosition = "closed"
)

var forcedPositionCommands = map[ForcedPosition]string{
	ForcedNone:   "1",
	ForcedOpen:   "2",
	ForcedClosed: "3",
}

var forcedPositionStates = map[string]ForcedPosition{
	"0": ForcedNone,
	"2": ForcedOpen,
	"3": ForcedClosed,
}

// Cover is a blind, shutter, awning or attic window actuator channel.
//
// The hub reports 100 for fully closed. Positions here follow the
// opposite convention, 100 is fully open, and are inverted on the way in
// and out.
type Cover struct {
	*Base

	state    string
	position *int
	tilt     *int
	forced   string
}

func coverPairingIDs(f FunctionID) (PairingSet, bool) {
	switch {
	case functionIn(f, FunctionIDsBlindActuator, FunctionIDsAtticWindowActuator, FunctionIDsAwningActuator):
		return PairingSet{
			Inputs: []PairingID{
				PIDMoveUpDown, PIDAdjustUpDown, PIDSetAbsolutePositionBlinds, PIDForcePositionBlind,
			},
			Outputs: []PairingID{
				PIDInfoMoveUpDown, PIDCurrentPositionBlinds, PIDForcePositionInfo,
			},
		}, true
	case functionIn(f, FunctionIDsShutterActuator):
		return PairingSet{
			Inputs: []PairingID{
				PIDMoveUpDown, PIDAdjustUpDown, PIDSetAbsolutePositionBlinds,
				PIDSetAbsolutePositionSlats, PIDForcePositionBlind,
			},
			Outputs: []PairingID{
				PIDInfoMoveUpDown, PIDCurrentPositionBlinds, PIDCurrentPositionSlats, PIDForcePositionInfo,
			},
		}, true
	}
	return PairingSet{}, false
}

// invert maps between the hub's and the outward position convention.
func invert(v int) int {
	if v > 100 {
		return v - 100
	}
	return 100 - v
}

// SupportsPosition reports whether an absolute position can be set.
func (c *Cover) SupportsPosition() bool { return c.has(PIDSetAbsolutePositionBlinds) }

// SupportsTilt reports whether the slat position can be set.
func (c *Cover) SupportsTilt() bool { return c.has(PIDSetAbsolutePositionSlats) }

// SupportsStop reports whether movement can be stopped.
func (c *Cover) SupportsStop() bool { return c.has(PIDAdjustUpDown) }

// SupportsForcedPosition reports whether the cover can be forced.
func (c *Cover) SupportsForcedPosition() bool { return c.has(PIDForcePositionBlind) }

// DeviceClass returns window, awning or shutter, or "" for plain blinds.
func (c *Cover) DeviceClass() string {
	switch {
	case functionIn(c.functionID, FunctionIDsAtticWindowActuator):
		return "window"
	case functionIn(c.functionID, FunctionIDsAwningActuator):
		return "awning"
	case functionIn(c.functionID, FunctionIDsShutterActuator):
		return "shutter"
	}
	return ""
}

// Position returns the position, 100 fully open.
func (c *Cover) Position() (int, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if !c.SupportsPosition() || c.position == nil {
		return 0, false
	}
	return *c.position, true
}

// Tilt returns the slat position, 100 fully open.
func (c *Cover) Tilt() (int, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if !c.SupportsTilt() || c.tilt == nil {
		return 0, false
	}
	return *c.tilt, true
}

// ForcedPosition returns the forced position, if the hub reported one.
func (c *Cover) ForcedPosition() (ForcedPosition, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if !c.SupportsForcedPosition() {
		return "", false
	}
	p, ok := forcedPositionStates[c.forced]
	return p, ok
}

// IsClosed reports whether the cover is fully closed. It is only known
// for covers with a position.
func (c *Cover) IsClosed() bool {
	p, ok := c.Position()
	return ok && p == 0
}

// IsOpening reports whether the cover is moving up.
func (c *Cover) IsOpening() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state == coverOpening
}

// IsClosing reports whether the cover is moving down.
func (c *Cover) IsClosing() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state == coverClosing
}

// Open moves the cover up.
func (c *Cover) Open(ctx context.Context) error {
	return c.write(ctx, PIDMoveUpDown, "0")
}

// Close moves the cover down.
func (c *Cover) Close(ctx context.Context) error {
	return c.write(ctx, PIDMoveUpDown, "1")
}

// Stop halts the cover. Nothing is sent unless it is moving.
func (c *Cover) Stop(ctx context.Context) error {
	if !c.SupportsStop() {
		return fmt.Errorf("%w: %s cannot stop", ErrUnsupported, c.Key())
	}
	if !c.IsOpening() && !c.IsClosing() {
		return nil
	}
	return c.write(ctx, PIDAdjustUpDown, "1")
}

// SetPosition moves the cover to position, 100 fully open.
func (c *Cover) SetPosition(ctx context.Context, position int) error {
	if position < 0 || position > 100 {
		return fmt.Errorf("%w: position %d", ErrInvalidValue, position)
	}
	return c.write(ctx, PIDSetAbsolutePositionBlinds, strconv.Itoa(invert(position)))
}

// SetTilt moves the slats to tilt, 100 fully open.
func (c *Cover) SetTilt(ctx context.Context, tilt int) error {
	if tilt < 0 || tilt > 100 {
		return fmt.Errorf("%w: tilt %d", ErrInvalidValue, tilt)
	}
	return c.write(ctx, PIDSetAbsolutePositionSlats, strconv.Itoa(invert(tilt)))
}

// SetForcedPosition forces the cover open or closed, or releases it.
func (c *Cover) SetForcedPosition(ctx context.Context, p ForcedPosition) error {
	v, ok := forcedPositionCommands[p]
	if !ok {
		return fmt.Errorf("%w: forced position %q", ErrInvalidValue, p)
	}
	return c.write(ctx, PIDForcePositionBlind, v)
}

func (c *Cover) applyDatapoint(id, value string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch {
	case c.is(PIDInfoMoveUpDown, id):
		changed := c.state != value
		c.state = value
		return changed
	case c.is(PIDCurrentPositionBlinds, id):
		return setInverted(&c.position, value)
	case c.is(PIDCurrentPositionSlats, id):
		return setInverted(&c.tilt, value)
	case c.is(PIDForcePositionInfo, id):
		changed := c.forced != value
		c.forced = value
		return changed
	}
	c.logUnknown(id, value)
	return false
}

func setInverted(dst **int, value string) bool {
	n, err := parseInt(value)
	if err != nil {
		return false
	}
	v := invert(n)
	changed := *dst == nil || **dst != v
	*dst = &v
	return changed
}

// State returns position, tilt, moving state and forced position.
func (c *Cover) State() State {
	s := State{
		"opening": c.IsOpening(),
		"closing": c.IsClosing(),
	}
	if p, ok := c.Position(); ok {
		s["position"] = p
		s["closed"] = p == 0
	}
	if t, ok := c.Tilt(); ok {
		s["tilt"] = t
	}
	if f, ok := c.ForcedPosition(); ok {
		s["forced_position"] = string(f)
	}
	if class := c.DeviceClass(); class != "" {
		s["device_class"] = class
	}
	return s
}
