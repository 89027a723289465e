package secure

import (
	"crypto/sha256"
	"fmt"

	"golang.org/x/crypto/blake2b"
	"golang.org/x/crypto/nacl/box"
	"golang.org/x/crypto/pbkdf2"
	"golang.org/x/crypto/poly1305"
)

// Sizes and limits of the encrypted transport.
const (
	KeySize          = 32
	NonceSize        = 24
	MACSize          = 16
	KeyBufferSize    = 16
	LocalKeySize     = KeySize + KeyBufferSize + MACSize
	SessionTokenSize = 8

	MinSaltLength = 32
	MinIterations = 4096
	MaxIterations = 600000

	MaxPayloadSize = 10485760
)

// ValidateKeyFactors checks a salt and iteration count supplied by the hub.
func ValidateKeyFactors(salt []byte, iterations int) error {
	if len(salt) < MinSaltLength {
		return fmt.Errorf("%w: salt is %d bytes, need at least %d", ErrInvalidChallenge, len(salt), MinSaltLength)
	}
	if iterations < MinIterations || iterations > MaxIterations {
		return fmt.Errorf("%w: iteration count %d outside [%d, %d]",
			ErrInvalidChallenge, iterations, MinIterations, MaxIterations)
	}
	return nil
}

// DeriveSharedKey runs PBKDF2-HMAC-SHA256 over the password.
func DeriveSharedKey(password string, salt []byte, iterations int) ([]byte, error) {
	if err := ValidateKeyFactors(salt, iterations); err != nil {
		return nil, err
	}
	return pbkdf2.Key([]byte(password), salt, iterations, KeySize, sha256.New), nil
}

// genericHash is the keyed 32-byte BLAKE2b hash of data.
func genericHash(data, key []byte) (*[32]byte, error) {
	h, err := blake2b.New(32, key)
	if err != nil {
		return nil, fmt.Errorf("blake2b: %w", err)
	}
	h.Write(data) //nolint:errcheck // hash.Hash writes never fail
	var out [32]byte
	copy(out[:], h.Sum(nil))
	return &out, nil
}

// MakeLocalKey builds the 64-byte value that opens a key exchange:
// publicKey || keyBuffer || poly1305(publicKey) keyed by
// BLAKE2b(sharedKey, key=keyBuffer).
func MakeLocalKey(sharedKey []byte, publicKey *[KeySize]byte, keyBuffer []byte) ([]byte, error) {
	if len(keyBuffer) != KeyBufferSize {
		return nil, fmt.Errorf("secure: key buffer must be %d bytes", KeyBufferSize)
	}
	authKey, err := genericHash(sharedKey, keyBuffer)
	if err != nil {
		return nil, err
	}
	var tag [MACSize]byte
	poly1305.Sum(&tag, publicKey[:], authKey)

	out := make([]byte, 0, LocalKeySize)
	out = append(out, publicKey[:]...)
	out = append(out, keyBuffer...)
	out = append(out, tag[:]...)
	return out, nil
}

// VerifyAuthenticator checks a tag produced by the hub over message, keyed
// by BLAKE2b(sharedKey, key=keyBuffer).
func VerifyAuthenticator(sharedKey, keyBuffer, tag, message []byte) (bool, error) {
	if len(tag) != MACSize {
		return false, nil
	}
	authKey, err := genericHash(sharedKey, keyBuffer)
	if err != nil {
		return false, err
	}
	var mac [MACSize]byte
	copy(mac[:], tag)
	return poly1305.Verify(&mac, message, authKey), nil
}

// precompute derives the box shared secret for a peer.
func precompute(peer, private *[KeySize]byte) *[KeySize]byte {
	var shared [KeySize]byte
	box.Precompute(&shared, peer, private)
	return &shared
}
