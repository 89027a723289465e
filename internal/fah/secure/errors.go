package secure

import "errors"

// Crypto and protocol errors raised while establishing or using an
// encrypted session.
var (
	// ErrInvalidChallenge is returned when a salt or iteration count
	// supplied by the hub falls outside the accepted bounds.
	ErrInvalidChallenge = errors.New("secure: invalid key derivation parameters")

	// ErrInvalidKeyExchange is returned when the key-exchange response is
	// malformed or reports an unacceptable result.
	ErrInvalidKeyExchange = errors.New("secure: invalid key exchange response")

	// ErrAuthenticator is returned when the key-exchange authenticator
	// does not verify against the locally derived shared key.
	ErrAuthenticator = errors.New("secure: key exchange authenticator mismatch")

	// ErrNoSession is returned when encryption is attempted before the
	// key exchange and new-session steps completed.
	ErrNoSession = errors.New("secure: no session established")

	// ErrPayloadTooLarge is returned when a plaintext exceeds the 10 MiB limit.
	ErrPayloadTooLarge = errors.New("secure: payload too large")

	// ErrCounterExhausted is returned when the message counter would leave
	// its 32-bit range.
	ErrCounterExhausted = errors.New("secure: message counter exhausted")

	// ErrDecrypt is returned when no key opens a ciphertext.
	ErrDecrypt = errors.New("secure: decryption failed")

	// ErrNoSymmetricKey is returned when a pub-sub payload arrives before
	// the hub delivered the symmetric key.
	ErrNoSymmetricKey = errors.New("secure: symmetric key not received")

	// ErrSequence is returned when a pub-sub sequence number is older than
	// the stream counter and not in the skipped set.
	ErrSequence = errors.New("secure: unexpected sequence number")

	// ErrServerSignature is returned when the SCRAM server-final signature
	// does not match, usually because the password is wrong.
	ErrServerSignature = errors.New("secure: server signature verification failed")

	// ErrNewSession is returned when the hub rejects the new-session request.
	ErrNewSession = errors.New("secure: failed to establish session")
)
