package handshake

import (
	"context"
	"crypto/rand"
	"fmt"
	"io"
	"sync"

	"github.com/nerrad567/gray-logic-fah/internal/fah/secure"
)

// State is a step of the handshake.
type State int

// Handshake states in the order they are entered.
const (
	StateDisconnected State = iota
	StateKeyExchangeInFlight
	StateSessionEstablishing
	StateSaslChallenging
	StateSaslFinalizing
	StateAuthenticated
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateKeyExchangeInFlight:
		return "key_exchange_in_flight"
	case StateSessionEstablishing:
		return "session_establishing"
	case StateSaslChallenging:
		return "sasl_challenging"
	case StateSaslFinalizing:
		return "sasl_finalizing"
	case StateAuthenticated:
		return "authenticated"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Caller sends the two remote methods the handshake uses. *rpc.Client
// satisfies it.
type Caller interface {
	ExchangeLocalKeys(ctx context.Context, jid string, localKey []byte, mechanism string) ([]byte, error)
	CryptMessage(ctx context.Context, payload []byte) ([]byte, error)
}

// Logger interface for optional logging.
type Logger interface {
	Debug(msg string, keysAndValues ...any)
	Info(msg string, keysAndValues ...any)
	Warn(msg string, keysAndValues ...any)
	Error(msg string, keysAndValues ...any)
}

// Option configures a Machine.
type Option func(*Machine)

// WithRand replaces the randomness source for keys, nonces and SCRAM.
func WithRand(r io.Reader) Option {
	return func(m *Machine) { m.rand = r }
}

// WithLogger sets the logger.
func WithLogger(l Logger) Option {
	return func(m *Machine) { m.logger = l }
}

// WithTransitionHook registers fn to be called on every state change.
func WithTransitionHook(fn func(from, to State)) Option {
	return func(m *Machine) { m.onTransition = fn }
}

// Machine runs the encrypted login against the hub:
//
//	Disconnected → KeyExchangeInFlight → SessionEstablishing
//	  → SaslChallenging → SaslFinalizing → Authenticated
//
// Any failed step moves it to Failed. A Machine runs once; reconnecting
// requires a new Machine, which also means fresh key material.
type Machine struct {
	mu    sync.Mutex
	state State
	err   error

	creds   secure.Credentials
	caller  Caller
	engine  *secure.Engine
	scram   *secure.ScramLogin
	version uint32

	sessionID   string
	serverFirst string

	rand         io.Reader
	logger       Logger
	onTransition func(from, to State)
}

// New prepares a handshake for creds. Key material is generated here.
func New(creds secure.Credentials, caller Caller, opts ...Option) (*Machine, error) {
	m := &Machine{creds: creds, caller: caller, rand: rand.Reader}
	for _, opt := range opts {
		opt(m)
	}

	engine, err := secure.NewEngine(creds, secure.WithRand(m.rand))
	if err != nil {
		return nil, err
	}
	login, err := secure.NewScramLogin(creds.JID, creds.Password, m.rand)
	if err != nil {
		return nil, err
	}
	m.engine = engine
	m.scram = login
	return m, nil
}

// Engine returns the crypto engine. After Authenticated it holds the
// session keys and the pub-sub symmetric key.
func (m *Machine) Engine() *secure.Engine {
	return m.engine
}

// State returns the current state.
func (m *Machine) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Err returns the error that moved the machine to Failed.
func (m *Machine) Err() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.err
}

// ProtocolVersion returns the version reported in the new-session result.
func (m *Machine) ProtocolVersion() uint32 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.version
}

// Run drives the handshake to Authenticated or Failed. Each step sends
// one RPC and must succeed before the next begins.
func (m *Machine) Run(ctx context.Context) error {
	m.mu.Lock()
	if m.state != StateDisconnected {
		m.mu.Unlock()
		return ErrState
	}
	m.mu.Unlock()

	steps := []struct {
		state State
		run   func(context.Context) error
	}{
		{StateKeyExchangeInFlight, m.keyExchange},
		{StateSessionEstablishing, m.newSession},
		{StateSaslChallenging, m.saslChallenge},
		{StateSaslFinalizing, m.saslFinal},
	}

	var sessionErr error
	for _, step := range steps {
		m.transition(step.state)
		if err := step.run(ctx); err != nil {
			sessionErr = err
			break
		}
	}
	if sessionErr != nil {
		m.mu.Lock()
		m.err = fmt.Errorf("%w in %s: %w", ErrFailed, m.state, sessionErr)
		err := m.err
		m.mu.Unlock()
		m.transition(StateFailed)
		m.logWarn("handshake failed", "error", sessionErr)
		return err
	}

	m.transition(StateAuthenticated)
	m.logInfo("handshake complete", "protocol_version", m.ProtocolVersion())
	return nil
}

func (m *Machine) keyExchange(ctx context.Context) error {
	localKey, err := m.engine.LocalKey()
	if err != nil {
		return err
	}
	resp, err := m.caller.ExchangeLocalKeys(ctx, m.creds.JID, localKey, secure.ScramMechanism)
	if err != nil {
		return err
	}
	sid, err := m.engine.CompleteKeyExchange(resp)
	if err != nil {
		return err
	}
	m.mu.Lock()
	m.sessionID = sid
	m.mu.Unlock()
	return nil
}

func (m *Machine) newSession(ctx context.Context) error {
	m.mu.Lock()
	sid := m.sessionID
	m.mu.Unlock()

	payload, err := NewSessionPayload(sid)
	if err != nil {
		return err
	}
	resp, err := m.caller.CryptMessage(ctx, payload)
	if err != nil {
		return err
	}
	version, err := m.engine.DecodeNewSessionResult(resp)
	if err != nil {
		return err
	}
	m.mu.Lock()
	m.version = version
	m.mu.Unlock()
	return nil
}

func (m *Machine) saslChallenge(ctx context.Context) error {
	first, err := m.scram.ClientFirst()
	if err != nil {
		return err
	}
	payload, err := LoginSASLPayload(first)
	if err != nil {
		return err
	}
	serverFirst, err := m.exchange(ctx, payload, secure.MsgSASLChallenge)
	if err != nil {
		return err
	}
	m.mu.Lock()
	m.serverFirst = serverFirst
	m.mu.Unlock()
	return nil
}

func (m *Machine) saslFinal(ctx context.Context) error {
	m.mu.Lock()
	serverFirst := m.serverFirst
	m.mu.Unlock()

	final, err := m.scram.ClientFinal(serverFirst)
	if err != nil {
		return err
	}
	payload, err := SASLResponsePayload(final)
	if err != nil {
		return err
	}
	serverFinal, err := m.exchange(ctx, payload, secure.MsgSASLLoginSuccess)
	if err != nil {
		return err
	}
	return m.scram.VerifyServerFinal(serverFinal)
}

// exchange encrypts payload, sends it and returns the string carried by
// the expected reply message.
func (m *Machine) exchange(ctx context.Context, payload []byte, want secure.MsgID) (string, error) {
	container, err := m.engine.Encrypt(payload)
	if err != nil {
		return "", err
	}
	resp, err := m.caller.CryptMessage(ctx, container)
	if err != nil {
		return "", err
	}
	r, err := m.engine.Decrypt(resp)
	if err != nil {
		return "", err
	}
	return readMessage(r, want)
}

func (m *Machine) transition(to State) {
	m.mu.Lock()
	from := m.state
	m.state = to
	hook := m.onTransition
	m.mu.Unlock()

	m.logDebug("handshake state", "from", from.String(), "to", to.String())
	if hook != nil {
		hook(from, to)
	}
}

func (m *Machine) logDebug(msg string, keysAndValues ...any) {
	if m.logger != nil {
		m.logger.Debug(msg, keysAndValues...)
	}
}

func (m *Machine) logInfo(msg string, keysAndValues ...any) {
	if m.logger != nil {
		m.logger.Info(msg, keysAndValues...)
	}
}

func (m *Machine) logWarn(msg string, keysAndValues ...any) {
	if m.logger != nil {
		m.logger.Warn(msg, keysAndValues...)
	}
}
