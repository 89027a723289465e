package handshake

import (
	"fmt"

	"github.com/nerrad567/gray-logic-fah/internal/fah/secure"
	"github.com/nerrad567/gray-logic-fah/internal/fah/wire"
)

// NewSessionPayload builds the plaintext new-session request:
// msg id, protocol version, auth type, session identifier.
func NewSessionPayload(sessionID string) ([]byte, error) {
	return wire.NewWriter().
		WriteUint8(uint8(secure.MsgNewSession)).
		WriteUint32(secure.ProtocolVersion).
		WriteUint8(secure.AuthTypeUser).
		WriteString(sessionID).
		Bytes()
}

// LoginSASLPayload builds the login message carrying the SCRAM client-first.
func LoginSASLPayload(clientFirst string) ([]byte, error) {
	return wire.NewWriter().
		WriteUint8(uint8(secure.MsgLoginSASL)).
		WriteString(secure.ScramMechanism).
		WriteString(clientFirst).
		Bytes()
}

// SASLResponsePayload builds the message carrying the SCRAM client-final.
func SASLResponsePayload(clientFinal string) ([]byte, error) {
	return wire.NewWriter().
		WriteUint8(uint8(secure.MsgSASLResponse)).
		WriteString(clientFinal).
		Bytes()
}

// readMessage checks the message id at the reader position and returns
// the string payload that follows it.
func readMessage(r *wire.Reader, want secure.MsgID) (string, error) {
	id, err := r.ReadUint8()
	if err != nil {
		return "", err
	}
	if got := secure.MsgID(id); got != want {
		return "", fmt.Errorf("%w: got %s (0x%02x), want %s", ErrUnexpectedMessage, got, id, want)
	}
	return r.ReadString()
}
