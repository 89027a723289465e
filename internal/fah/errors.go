package fah

import "errors"

// Session errors.
//
// These errors can be checked using errors.Is():
//
//	if errors.Is(err, fah.ErrAuthFailed) {
//	    // wrong username or password, retrying will not help
//	}
var (
	// ErrAuthFailed is returned when the SysAP rejected the credentials,
	// either in stream SASL or in the encrypted handshake.
	ErrAuthFailed = errors.New("fah: authentication failed")

	// ErrConnectFailed is returned when a connection attempt failed or the
	// connection was lost before it completed.
	ErrConnectFailed = errors.New("fah: connect failed")

	// ErrDisconnected is returned when the session is not connected.
	ErrDisconnected = errors.New("fah: not connected")

	// ErrClosed is returned after Disconnect.
	ErrClosed = errors.New("fah: session closed")

	// ErrInvalidConfig is returned by New for incomplete configuration.
	ErrInvalidConfig = errors.New("fah: invalid config")

	// ErrAlreadyStarted is returned when Connect is called twice.
	ErrAlreadyStarted = errors.New("fah: session already started")

	// ErrUpdateDecode is returned when an encrypted update cannot be
	// unpacked.
	ErrUpdateDecode = errors.New("fah: update decode failed")
)
