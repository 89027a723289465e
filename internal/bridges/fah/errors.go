package fah

import "errors"

// Domain errors for the free@home bridge package.
var (
	// ErrInvalidTopic is returned for a topic the bridge does not route.
	ErrInvalidTopic = errors.New("fah bridge: invalid topic")

	// ErrInvalidAddress is returned when a device address cannot be parsed.
	ErrInvalidAddress = errors.New("fah bridge: invalid device address")

	// ErrUnknownCommand is returned for a command the device kind does not accept.
	ErrUnknownCommand = errors.New("fah bridge: unknown command")

	// ErrInvalidParameters is returned when command parameters are missing
	// or out of range.
	ErrInvalidParameters = errors.New("fah bridge: invalid parameters")

	// ErrUnknownAction is returned for an unsupported request action.
	ErrUnknownAction = errors.New("fah bridge: unknown request action")
)
