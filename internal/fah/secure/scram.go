package secure

import (
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/xdg-go/scram"
)

// ScramMechanism is the in-band login mechanism name.
const ScramMechanism = "SCRAM-SHA-256"

const scramNonceSize = 32

// ScramLogin runs the client side of the in-band SCRAM-SHA-256 login.
//
// It is a thin layer over github.com/xdg-go/scram that pins the nonce
// format used by the hub and validates the server-first parameters before
// any key derivation happens.
type ScramLogin struct {
	conv     *scram.ClientConversation
	nonceErr error
}

// NewScramLogin prepares a login for jid. Nonces are drawn from rand.
func NewScramLogin(jid, password string, rand io.Reader) (*ScramLogin, error) {
	client, err := scram.SHA256.NewClient(jid, password, "")
	if err != nil {
		return nil, fmt.Errorf("scram client: %w", err)
	}
	s := &ScramLogin{}
	client = client.
		WithMinIterations(MinIterations).
		WithNonceGenerator(func() string {
			buf := make([]byte, scramNonceSize)
			if _, err := io.ReadFull(rand, buf); err != nil {
				s.nonceErr = err
			}
			return base64.StdEncoding.EncodeToString(buf)
		})
	s.conv = client.NewConversation()
	return s, nil
}

// ClientFirst returns "n,,n=<jid>,r=<nonce>".
func (s *ScramLogin) ClientFirst() (string, error) {
	msg, err := s.conv.Step("")
	if err != nil {
		return "", fmt.Errorf("scram client-first: %w", err)
	}
	if s.nonceErr != nil {
		return "", fmt.Errorf("scram nonce: %w", s.nonceErr)
	}
	return msg, nil
}

// ClientFinal validates the server-first message and returns the
// client-final message carrying the proof.
func (s *ScramLogin) ClientFinal(serverFirst string) (string, error) {
	if err := validateServerFirst(serverFirst); err != nil {
		return "", err
	}
	msg, err := s.conv.Step(serverFirst)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidChallenge, err)
	}
	return msg, nil
}

// VerifyServerFinal checks the server signature.
func (s *ScramLogin) VerifyServerFinal(serverFinal string) error {
	if scramAttr(serverFinal, 'v') == "" {
		return fmt.Errorf("%w: missing v parameter", ErrServerSignature)
	}
	if _, err := s.conv.Step(serverFinal); err != nil {
		return fmt.Errorf("%w: %v", ErrServerSignature, err)
	}
	if !s.conv.Valid() {
		return ErrServerSignature
	}
	return nil
}

func validateServerFirst(msg string) error {
	nonce := scramAttr(msg, 'r')
	saltB64 := scramAttr(msg, 's')
	iter := scramAttr(msg, 'i')
	if nonce == "" || saltB64 == "" || iter == "" {
		return fmt.Errorf("%w: missing parameter in SCRAM challenge", ErrInvalidChallenge)
	}
	salt, err := base64.StdEncoding.DecodeString(saltB64)
	if err != nil {
		return fmt.Errorf("%w: salt: %v", ErrInvalidChallenge, err)
	}
	iterations, err := strconv.Atoi(iter)
	if err != nil {
		return fmt.Errorf("%w: iteration count %q", ErrInvalidChallenge, iter)
	}
	return ValidateKeyFactors(salt, iterations)
}

// scramAttr returns the value of a single-letter attribute in a SCRAM message.
func scramAttr(msg string, name byte) string {
	for _, part := range strings.Split(msg, ",") {
		if len(part) >= 2 && part[0] == name && part[1] == '=' {
			return part[2:]
		}
	}
	return ""
}

// IsScramFailure reports whether err came from SCRAM validation.
func IsScramFailure(err error) bool {
	return errors.Is(err, ErrServerSignature) || errors.Is(err, ErrInvalidChallenge)
}
