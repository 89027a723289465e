package handshake_test

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/nerrad567/gray-logic-fah/internal/fah/fahtest"
	"github.com/nerrad567/gray-logic-fah/internal/fah/handshake"
	"github.com/nerrad567/gray-logic-fah/internal/fah/secure"
)

// hubCaller answers the handshake RPCs directly from a fahtest.Hub.
type hubCaller struct {
	hub *fahtest.Hub

	// tamper flips the last byte of the key exchange response.
	tamper bool
	// failOn makes the named method return errCaller.
	failOn string

	mu    sync.Mutex
	calls []string
}

var errCaller = errors.New("transport down")

func (c *hubCaller) record(method string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls = append(c.calls, method)
	if c.failOn == method {
		return errCaller
	}
	return nil
}

func (c *hubCaller) ExchangeLocalKeys(ctx context.Context, jid string, localKey []byte, mechanism string) ([]byte, error) {
	if err := c.record("exchangeLocalKeys"); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if mechanism != secure.ScramMechanism {
		return nil, errors.New("unexpected mechanism " + mechanism)
	}
	resp, err := c.hub.KeyExchange(localKey)
	if err != nil {
		return nil, err
	}
	if c.tamper {
		resp[len(resp)-1] ^= 0xFF
	}
	return resp, nil
}

func (c *hubCaller) CryptMessage(ctx context.Context, payload []byte) ([]byte, error) {
	if err := c.record("cryptMessage"); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if len(payload) > 0 && secure.MsgID(payload[0]) == secure.MsgNewSession {
		return c.hub.NewSession(payload)
	}
	return c.hub.Exchange(payload)
}

func newHub(t *testing.T) *fahtest.Hub {
	t.Helper()
	hub, err := fahtest.NewHub()
	if err != nil {
		t.Fatalf("NewHub() error = %v", err)
	}
	return hub
}

func TestRunAuthenticates(t *testing.T) {
	hub := newHub(t)
	caller := &hubCaller{hub: hub}

	var mu sync.Mutex
	var seen []handshake.State
	m, err := handshake.New(hub.Credentials(), caller, handshake.WithTransitionHook(func(_, to handshake.State) {
		mu.Lock()
		seen = append(seen, to)
		mu.Unlock()
	}))
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if m.State() != handshake.StateDisconnected {
		t.Fatalf("initial state = %s", m.State())
	}

	if err := m.Run(context.Background()); err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	want := []handshake.State{
		handshake.StateKeyExchangeInFlight,
		handshake.StateSessionEstablishing,
		handshake.StateSaslChallenging,
		handshake.StateSaslFinalizing,
		handshake.StateAuthenticated,
	}
	mu.Lock()
	defer mu.Unlock()
	if len(seen) != len(want) {
		t.Fatalf("transitions = %v, want %v", seen, want)
	}
	for i := range want {
		if seen[i] != want[i] {
			t.Errorf("transition %d = %s, want %s", i, seen[i], want[i])
		}
	}

	if m.ProtocolVersion() != secure.ProtocolVersion {
		t.Errorf("ProtocolVersion() = %d, want %d", m.ProtocolVersion(), secure.ProtocolVersion)
	}
	if !m.Engine().KeyReceived() {
		t.Error("symmetric key was not received during login")
	}
	if m.Err() != nil {
		t.Errorf("Err() = %v after success", m.Err())
	}
	if got := len(caller.calls); got != 4 {
		t.Errorf("made %d calls, want 4", got)
	}
}

func TestRunFailures(t *testing.T) {
	tests := []struct {
		name       string
		setup      func(hub *fahtest.Hub, caller *hubCaller, creds *secure.Credentials)
		wantErr    error
		credential bool
	}{
		{
			name:       "server signature mismatch",
			setup:      func(hub *fahtest.Hub, _ *hubCaller, _ *secure.Credentials) { hub.ScramPassword = "other" },
			wantErr:    secure.ErrServerSignature,
			credential: true,
		},
		{
			name:       "tampered key exchange",
			setup:      func(_ *fahtest.Hub, c *hubCaller, _ *secure.Credentials) { c.tamper = true },
			wantErr:    secure.ErrAuthenticator,
			credential: true,
		},
		{
			name:    "transport error on key exchange",
			setup:   func(_ *fahtest.Hub, c *hubCaller, _ *secure.Credentials) { c.failOn = "exchangeLocalKeys" },
			wantErr: errCaller,
		},
		{
			name:    "transport error on crypt message",
			setup:   func(_ *fahtest.Hub, c *hubCaller, _ *secure.Credentials) { c.failOn = "cryptMessage" },
			wantErr: errCaller,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			hub := newHub(t)
			caller := &hubCaller{hub: hub}
			creds := hub.Credentials()
			tt.setup(hub, caller, &creds)

			m, err := handshake.New(creds, caller)
			if err != nil {
				t.Fatalf("New() error = %v", err)
			}
			err = m.Run(context.Background())
			if !errors.Is(err, handshake.ErrFailed) {
				t.Errorf("Run() error = %v, want ErrFailed", err)
			}
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("Run() error = %v, want %v", err, tt.wantErr)
			}
			if got := handshake.IsCredentialFailure(err); got != tt.credential {
				t.Errorf("IsCredentialFailure() = %v, want %v", got, tt.credential)
			}
			if m.State() != handshake.StateFailed {
				t.Errorf("State() = %s, want failed", m.State())
			}
			if !errors.Is(m.Err(), tt.wantErr) {
				t.Errorf("Err() = %v", m.Err())
			}
		})
	}
}

func TestRunWrongPassword(t *testing.T) {
	hub := newHub(t)
	creds := hub.Credentials()
	creds.Password = "wrong"

	m, err := handshake.New(creds, &hubCaller{hub: hub})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if err := m.Run(context.Background()); err == nil {
		t.Fatal("Run() succeeded with the wrong password")
	}
	if m.State() != handshake.StateFailed {
		t.Errorf("State() = %s, want failed", m.State())
	}
}

func TestRunCancelledContext(t *testing.T) {
	hub := newHub(t)
	m, err := handshake.New(hub.Credentials(), &hubCaller{hub: hub})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if err := m.Run(ctx); !errors.Is(err, context.Canceled) {
		t.Errorf("Run() error = %v, want context.Canceled", err)
	}
}

func TestRunTwice(t *testing.T) {
	hub := newHub(t)
	m, err := handshake.New(hub.Credentials(), &hubCaller{hub: hub})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if err := m.Run(context.Background()); err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if err := m.Run(context.Background()); !errors.Is(err, handshake.ErrState) {
		t.Errorf("second Run() error = %v, want ErrState", err)
	}
}

func TestNewRejectsWeakKeyFactors(t *testing.T) {
	hub := newHub(t)
	creds := hub.Credentials()
	creds.Iterations = 1

	if _, err := handshake.New(creds, &hubCaller{hub: hub}); !errors.Is(err, secure.ErrInvalidChallenge) {
		t.Errorf("New() error = %v, want ErrInvalidChallenge", err)
	}
}

func TestStateString(t *testing.T) {
	tests := []struct {
		state handshake.State
		want  string
	}{
		{handshake.StateDisconnected, "disconnected"},
		{handshake.StateSaslChallenging, "sasl_challenging"},
		{handshake.StateAuthenticated, "authenticated"},
		{handshake.State(99), "unknown"},
	}
	for _, tt := range tests {
		if got := tt.state.String(); got != tt.want {
			t.Errorf("State(%d).String() = %q, want %q", tt.state, got, tt.want)
		}
	}
}
