package secure

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"io"
	"math"
	"strings"
	"sync"

	"golang.org/x/crypto/nacl/box"
	"golang.org/x/crypto/nacl/secretbox"

	"github.com/nerrad567/gray-logic-fah/internal/fah/wire"
)

// pendingNonceCap bounds the number of outbound nonces awaiting a reply.
const pendingNonceCap = 32

// Credentials are the inputs needed to derive the shared key.
type Credentials struct {
	JID        string
	Password   string
	Salt       []byte
	Iterations int
}

// Engine holds the key material of one encrypted session.
//
// A fresh Engine is required for every connection attempt; keys are
// never reused across reconnects. All methods are safe for concurrent use.
type Engine struct {
	mu sync.Mutex

	creds      Credentials
	rand       io.Reader
	publicKey  *[KeySize]byte
	privateKey *[KeySize]byte
	sharedBox  *[KeySize]byte

	sessionID    string
	sessionToken []byte
	counter      uint64

	pending [][NonceSize]byte

	symmetricKey *[KeySize]byte
	keyReceived  bool
	streams      map[string]*sequenceWindow
}

// Option configures an Engine.
type Option func(*Engine)

// WithRand replaces the randomness source. Tests use it for determinism.
func WithRand(r io.Reader) Option {
	return func(e *Engine) { e.rand = r }
}

// NewEngine validates the key factors and generates a fresh keypair.
func NewEngine(creds Credentials, opts ...Option) (*Engine, error) {
	if err := ValidateKeyFactors(creds.Salt, creds.Iterations); err != nil {
		return nil, err
	}
	e := &Engine{
		creds:   creds,
		rand:    rand.Reader,
		counter: 1,
		streams: make(map[string]*sequenceWindow),
	}
	for _, opt := range opts {
		opt(e)
	}
	pub, priv, err := box.GenerateKey(e.rand)
	if err != nil {
		return nil, fmt.Errorf("generating keypair: %w", err)
	}
	e.publicKey, e.privateKey = pub, priv
	return e, nil
}

// JID returns the user JID the engine authenticates as.
func (e *Engine) JID() string {
	return e.creds.JID
}

// PublicKey returns the engine's public key.
func (e *Engine) PublicKey() [KeySize]byte {
	return *e.publicKey
}

// LocalKey builds the value that opens the key exchange.
func (e *Engine) LocalKey() ([]byte, error) {
	shared, err := DeriveSharedKey(e.creds.Password, e.creds.Salt, e.creds.Iterations)
	if err != nil {
		return nil, err
	}
	buf := make([]byte, KeyBufferSize)
	if _, err := io.ReadFull(e.rand, buf); err != nil {
		return nil, fmt.Errorf("reading key buffer: %w", err)
	}
	return MakeLocalKey(shared, e.publicKey, buf)
}

// CompleteKeyExchange validates the hub's key-exchange response, stores
// the box shared secret and returns the session identifier.
//
// Layout: version u32, error code u32, key buffer [16], tag [16], then
// the authenticated part: session id string, flags string, public key [32].
func (e *Engine) CompleteKeyExchange(data []byte) (string, error) {
	r := wire.NewReader(data)

	version, err := r.ReadUint32()
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidKeyExchange, err)
	}
	if version != KeyExchangeVersion {
		return "", fmt.Errorf("%w: unexpected version %d", ErrInvalidKeyExchange, version)
	}
	code, err := r.ReadUint32()
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidKeyExchange, err)
	}
	if code != ResultOK && code != ErrorAlreadyPaired {
		return "", fmt.Errorf("%w: error code %d", ErrInvalidKeyExchange, code)
	}
	keyBuffer, err := r.ReadBlob(KeyBufferSize)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidKeyExchange, err)
	}
	tag, err := r.ReadBlob(MACSize)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidKeyExchange, err)
	}

	shared, err := DeriveSharedKey(e.creds.Password, e.creds.Salt, e.creds.Iterations)
	if err != nil {
		return "", err
	}
	ok, err := VerifyAuthenticator(shared, keyBuffer, tag, r.Rest())
	if err != nil {
		return "", err
	}
	if !ok {
		return "", ErrAuthenticator
	}

	sessionID, err := r.ReadString()
	if err != nil {
		return "", fmt.Errorf("%w: session id: %v", ErrInvalidKeyExchange, err)
	}
	if sessionID == "" {
		return "", fmt.Errorf("%w: empty session id", ErrInvalidKeyExchange)
	}
	if _, err := r.ReadString(); err != nil {
		return "", fmt.Errorf("%w: flags: %v", ErrInvalidKeyExchange, err)
	}
	peer, err := r.ReadBlob(KeySize)
	if err != nil {
		return "", fmt.Errorf("%w: public key: %v", ErrInvalidKeyExchange, err)
	}

	var peerKey [KeySize]byte
	copy(peerKey[:], peer)

	e.mu.Lock()
	e.sharedBox = precompute(&peerKey, e.privateKey)
	e.mu.Unlock()
	return sessionID, nil
}

// DecodeNewSessionResult reads the hub's answer to a new-session request
// and returns the firmware protocol version it reported.
func (e *Engine) DecodeNewSessionResult(data []byte) (uint32, error) {
	r := wire.NewReader(data)
	if _, err := r.ReadUint8(); err != nil {
		return 0, fmt.Errorf("%w: %v", ErrNewSession, err)
	}
	result, err := r.ReadUint32()
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrNewSession, err)
	}
	if result != ResultOK {
		return 0, fmt.Errorf("%w: result code %d", ErrNewSession, result)
	}
	version, err := r.ReadUint32()
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrNewSession, err)
	}
	sessionID, err := r.ReadString()
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrNewSession, err)
	}
	token, err := r.ReadBlob(SessionTokenSize)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrNewSession, err)
	}

	e.mu.Lock()
	e.sessionID = sessionID
	e.sessionToken = token
	e.mu.Unlock()
	return version, nil
}

// nextNonce returns token || counter || 0 || random[8] and advances the counter.
func (e *Engine) nextNonce() ([NonceSize]byte, error) {
	var nonce [NonceSize]byte
	if e.counter > math.MaxUint32 {
		return nonce, ErrCounterExhausted
	}
	tail := make([]byte, 8)
	if _, err := io.ReadFull(e.rand, tail); err != nil {
		return nonce, fmt.Errorf("reading nonce: %w", err)
	}
	b, err := wire.NewWriter().
		WriteBlob(e.sessionToken).
		WriteUint32(uint32(e.counter)).
		WriteUint32(0).
		WriteBlob(tail).
		Bytes()
	if err != nil {
		return nonce, err
	}
	e.counter++
	copy(nonce[:], b)
	return nonce, nil
}

// Encrypt seals data into a container addressed to the hub.
//
// A random 24-byte prefix is sealed together with data and remembered;
// the hub uses it as the nonce of its reply.
func (e *Engine) Encrypt(data []byte) ([]byte, error) {
	if len(data) > MaxPayloadSize {
		return nil, fmt.Errorf("%w: %d bytes", ErrPayloadTooLarge, len(data))
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.sharedBox == nil || len(e.sessionToken) != SessionTokenSize {
		return nil, ErrNoSession
	}

	var flags uint8
	if !e.keyReceived {
		flags |= flagKeyMaterial
	}

	nonce, err := e.nextNonce()
	if err != nil {
		return nil, err
	}

	var prefix [NonceSize]byte
	if _, err := io.ReadFull(e.rand, prefix[:]); err != nil {
		return nil, fmt.Errorf("reading reply nonce: %w", err)
	}

	plain := make([]byte, 0, NonceSize+len(data))
	plain = append(plain, prefix[:]...)
	plain = append(plain, data...)
	sealed := box.SealAfterPrecomputation(nil, plain, &nonce, e.sharedBox)

	want := NonceSize + MACSize + len(data)
	if len(sealed) != want {
		return nil, fmt.Errorf("secure: sealed %d bytes, expected %d", len(sealed), want)
	}

	e.pending = append(e.pending, prefix)
	if len(e.pending) > pendingNonceCap {
		e.pending = e.pending[len(e.pending)-pendingNonceCap:]
	}

	return wire.NewWriter().
		WriteUint8(uint8(MsgCryptedContainerToServer)).
		WriteUint8(flags).
		WriteString(e.sessionID).
		WriteBlob(nonce[:]).
		WriteUint32(uint32(want)). //nolint:gosec // bounded by MaxPayloadSize
		WriteBlob(sealed).
		Bytes()
}

// Decrypt opens a container from the hub. The returned reader is
// positioned at the message id. Key material carried in the container is
// stored before the reader is returned.
func (e *Engine) Decrypt(container []byte) (*wire.Reader, error) {
	r := wire.NewReader(container)
	if _, err := r.ReadUint8(); err != nil {
		return nil, err
	}
	flags, err := r.ReadUint8()
	if err != nil {
		return nil, err
	}
	length, err := r.ReadUint32()
	if err != nil {
		return nil, err
	}
	body := r.Rest()
	if uint64(len(body)) != uint64(length) {
		return nil, fmt.Errorf("%w: container length %d, have %d", ErrDecrypt, length, len(body))
	}
	if length < MACSize {
		return nil, fmt.Errorf("%w: container length %d", ErrDecrypt, length)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.sharedBox == nil {
		return nil, ErrNoSession
	}

	var plain []byte
	for i := range e.pending {
		out, ok := box.OpenAfterPrecomputation(nil, body, &e.pending[i], e.sharedBox)
		if ok {
			plain = out
			e.pending = append(e.pending[:i], e.pending[i+1:]...)
			break
		}
	}
	if plain == nil {
		return nil, ErrDecrypt
	}

	pr := wire.NewReader(plain)
	if flags&flagKeyMaterial != 0 {
		if err := e.readKeyMaterial(pr); err != nil {
			return nil, err
		}
	}
	return pr, nil
}

// readKeyMaterial stores the symmetric key and per-stream baselines.
// Caller holds e.mu.
func (e *Engine) readKeyMaterial(r *wire.Reader) error {
	key, err := r.ReadBlob(KeySize)
	if err != nil {
		return fmt.Errorf("symmetric key: %w", err)
	}
	count, err := r.ReadUint16()
	if err != nil {
		return fmt.Errorf("stream count: %w", err)
	}
	for range count {
		path, err := r.ReadString()
		if err != nil {
			return fmt.Errorf("stream name: %w", err)
		}
		idx := strings.LastIndex(path, "/")
		if idx < 0 {
			continue
		}
		name := strings.TrimSuffix(path[idx+1:], encryptedNameSuffix)
		baseline, err := r.ReadUint64()
		if err != nil {
			return fmt.Errorf("stream %q baseline: %w", name, err)
		}
		e.streams[name] = newSequenceWindow(baseline)
	}

	var k [KeySize]byte
	copy(k[:], key)
	e.symmetricKey = &k
	e.keyReceived = true
	return nil
}

// KeyReceived reports whether the hub delivered the symmetric key.
func (e *Engine) KeyReceived() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.keyReceived
}

// DecryptPubSub opens a base64 pub-sub payload on the update stream.
//
// The first 24 bytes are the nonce; bytes 16 to 24 carry the sequence
// number, which is checked against the stream's skip window before the
// secretbox is opened. The window only moves once the box opens.
func (e *Engine) DecryptPubSub(payload string) ([]byte, error) {
	data, err := base64.StdEncoding.DecodeString(strings.TrimSpace(payload))
	if err != nil {
		return nil, fmt.Errorf("%w: base64: %v", ErrDecrypt, err)
	}
	if len(data) < NonceSize+secretbox.Overhead {
		return nil, fmt.Errorf("%w: pub-sub payload of %d bytes", ErrDecrypt, len(data))
	}

	seq, err := wire.NewReader(data[16:NonceSize]).ReadUint64()
	if err != nil {
		return nil, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.symmetricKey == nil {
		return nil, ErrNoSymmetricKey
	}
	stream, ok := e.streams[defaultStreamName]
	if !ok {
		stream = newSequenceWindow(0)
		e.streams[defaultStreamName] = stream
	}
	if err := stream.check(seq); err != nil {
		return nil, err
	}

	var nonce [NonceSize]byte
	copy(nonce[:], data[:NonceSize])
	plain, ok := secretbox.Open(nil, data[NonceSize:], &nonce, e.symmetricKey)
	if !ok {
		return nil, ErrDecrypt
	}
	stream.commit(seq)
	return plain, nil
}

// PendingNonces returns the number of outbound nonces awaiting a reply.
func (e *Engine) PendingNonces() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.pending)
}
