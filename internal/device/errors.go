package device

import "errors"

// Domain errors for the device package.
//
// These errors can be checked using errors.Is() for error handling:
//
//	if errors.Is(err, device.ErrUnsupported) {
//	    // the device lacks the datapoint for this command
//	}
var (
	// ErrConfigParse is returned when the configuration XML, or one device
	// or channel within it, cannot be interpreted.
	ErrConfigParse = errors.New("device: configuration parse error")

	// ErrUnsupported is returned when a command needs a datapoint that was
	// not resolved for the device at discovery.
	ErrUnsupported = errors.New("device: command not supported")

	// ErrNoWriter is returned when a device has no path to the hub.
	ErrNoWriter = errors.New("device: no datapoint writer")

	// ErrDeviceNotFound is returned when no device has the requested key.
	ErrDeviceNotFound = errors.New("device: not found")

	// ErrUnknownKind is returned when a kind name is not recognised.
	ErrUnknownKind = errors.New("device: unknown kind")

	// ErrInvalidValue is returned when a command argument is out of range.
	ErrInvalidValue = errors.New("device: invalid value")
)
