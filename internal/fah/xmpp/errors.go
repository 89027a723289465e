package xmpp

import "errors"

// Transport errors.
var (
	// ErrNotConnected is returned when a stanza is sent on a stream that
	// has not finished negotiation.
	ErrNotConnected = errors.New("xmpp: not connected")

	// ErrClosed is returned to pending requests when the stream ends.
	ErrClosed = errors.New("xmpp: stream closed")

	// ErrTimeout is returned when a request or negotiation step times out.
	ErrTimeout = errors.New("xmpp: timed out")

	// ErrAuthFailed is returned when stream SASL authentication is refused.
	ErrAuthFailed = errors.New("xmpp: authentication failed")

	// ErrStream is returned when the server violates the stream protocol.
	ErrStream = errors.New("xmpp: stream error")

	// ErrIQ is returned when an IQ request receives an error response.
	ErrIQ = errors.New("xmpp: iq error")
)
