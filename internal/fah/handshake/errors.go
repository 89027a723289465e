package handshake

import (
	"errors"

	"github.com/nerrad567/gray-logic-fah/internal/fah/secure"
)

// Handshake errors.
var (
	// ErrFailed wraps every error that moved the machine to StateFailed.
	ErrFailed = errors.New("handshake: failed")

	// ErrUnexpectedMessage is returned when a reply carries a message id
	// other than the one the current step expects.
	ErrUnexpectedMessage = errors.New("handshake: unexpected message")

	// ErrState is returned when Run is called on a machine that already ran.
	ErrState = errors.New("handshake: machine not in disconnected state")
)

// IsCredentialFailure reports whether err indicates wrong credentials
// rather than a malformed exchange or a transport problem.
func IsCredentialFailure(err error) bool {
	return errors.Is(err, secure.ErrAuthenticator) ||
		errors.Is(err, secure.ErrServerSignature) ||
		errors.Is(err, secure.ErrInvalidChallenge)
}
