// Package fahtest provides an in-process stand-in for the SysAP side of
// the encrypted transport. It is used by tests across the fah packages.
package fahtest

import (
	"bytes"
	"crypto/rand"
	"encoding/base64"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/klauspost/compress/zlib"
	"github.com/xdg-go/scram"
	"golang.org/x/crypto/blake2b"
	"golang.org/x/crypto/nacl/box"
	"golang.org/x/crypto/nacl/secretbox"
	"golang.org/x/crypto/poly1305"

	"github.com/nerrad567/gray-logic-fah/internal/fah/secure"
	"github.com/nerrad567/gray-logic-fah/internal/fah/wire"
)

// Default test credentials.
const (
	DefaultJID        = "5e1e7d8a-0d6d-4c2f-8d0c-5f0f7e1b2a33@busch-jaeger.de"
	DefaultUser       = "installer"
	DefaultPassword   = "s3cret-p4ss"
	DefaultIterations = secure.MinIterations
	DefaultSessionID  = "0123456789abcdef"
)

// DefaultSalt is a fixed 32-byte salt.
var DefaultSalt = bytes.Repeat([]byte{0x5A}, 32)

// Hub plays the hub side of key exchange, session setup, SASL and pub-sub.
type Hub struct {
	mu sync.Mutex

	JID        string
	Password   string
	Salt       []byte
	Iterations int
	SessionID  string
	Token      [secure.SessionTokenSize]byte

	// SymmetricKey is delivered to the client inside the first reply.
	SymmetricKey [secure.KeySize]byte

	// UpdateBaseline is the sequence baseline announced for the update stream.
	UpdateBaseline uint64

	// ScramPassword, when set, is used for the SCRAM credentials instead
	// of Password. It simulates a client with the wrong password.
	ScramPassword string

	// Exchanges counts encrypted containers received.
	Exchanges int

	pub, priv *[secure.KeySize]byte
	shared    *[secure.KeySize]byte
	scramConv *scram.ServerConversation
	keySent   bool
	seq       uint64
}

// NewHub returns a Hub with default credentials and fresh keys.
func NewHub() (*Hub, error) {
	pub, priv, err := box.GenerateKey(rand.Reader)
	if err != nil {
		return nil, err
	}
	h := &Hub{
		JID:        DefaultJID,
		Password:   DefaultPassword,
		Salt:       DefaultSalt,
		Iterations: DefaultIterations,
		SessionID:  DefaultSessionID,
		pub:        pub,
		priv:       priv,
	}
	if _, err := io.ReadFull(rand.Reader, h.Token[:]); err != nil {
		return nil, err
	}
	if _, err := io.ReadFull(rand.Reader, h.SymmetricKey[:]); err != nil {
		return nil, err
	}
	return h, nil
}

// Credentials returns the client credentials matching the hub.
func (h *Hub) Credentials() secure.Credentials {
	return secure.Credentials{
		JID:        h.JID,
		Password:   h.Password,
		Salt:       h.Salt,
		Iterations: h.Iterations,
	}
}

// Reset forgets per-connection state so the hub can serve a reconnect.
func (h *Hub) Reset() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.shared = nil
	h.scramConv = nil
	h.keySent = false
}

// KeyExchange verifies a client local key and returns the response.
func (h *Hub) KeyExchange(localKey []byte) ([]byte, error) {
	if len(localKey) != secure.LocalKeySize {
		return nil, fmt.Errorf("local key is %d bytes", len(localKey))
	}
	sharedKey, err := secure.DeriveSharedKey(h.Password, h.Salt, h.Iterations)
	if err != nil {
		return nil, err
	}
	clientPub := localKey[:secure.KeySize]
	keyBuf := localKey[secure.KeySize : secure.KeySize+secure.KeyBufferSize]
	tag := localKey[secure.KeySize+secure.KeyBufferSize:]
	ok, err := secure.VerifyAuthenticator(sharedKey, keyBuf, tag, clientPub)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, errors.New("client authenticator mismatch")
	}

	var peer [secure.KeySize]byte
	copy(peer[:], clientPub)
	var shared [secure.KeySize]byte
	box.Precompute(&shared, &peer, h.priv)

	h.mu.Lock()
	h.shared = &shared
	h.mu.Unlock()

	body, err := wire.NewWriter().
		WriteString(h.SessionID).
		WriteString("0").
		WriteBlob(h.pub[:]).
		Bytes()
	if err != nil {
		return nil, err
	}
	return h.signedKeyExchange(sharedKey, body)
}

func (h *Hub) signedKeyExchange(sharedKey, body []byte) ([]byte, error) {
	ourBuf := make([]byte, secure.KeyBufferSize)
	if _, err := io.ReadFull(rand.Reader, ourBuf); err != nil {
		return nil, err
	}
	tag, err := authenticate(sharedKey, ourBuf, body)
	if err != nil {
		return nil, err
	}
	return wire.NewWriter().
		WriteUint32(secure.KeyExchangeVersion).
		WriteUint32(secure.ResultOK).
		WriteBlob(ourBuf).
		WriteBlob(tag).
		WriteBlob(body).
		Bytes()
}

// NewSession answers a plaintext new-session request.
func (h *Hub) NewSession(payload []byte) ([]byte, error) {
	r := wire.NewReader(payload)
	id, err := r.ReadUint8()
	if err != nil {
		return nil, err
	}
	if secure.MsgID(id) != secure.MsgNewSession {
		return nil, fmt.Errorf("unexpected message %d", id)
	}
	if _, err := r.ReadUint32(); err != nil {
		return nil, err
	}
	if _, err := r.ReadUint8(); err != nil {
		return nil, err
	}
	sid, err := r.ReadString()
	if err != nil {
		return nil, err
	}
	if sid != h.SessionID {
		return nil, fmt.Errorf("unknown session %q", sid)
	}
	return wire.NewWriter().
		WriteUint8(uint8(secure.MsgNewSessionResult)).
		WriteUint32(secure.ResultOK).
		WriteUint32(secure.ProtocolVersion).
		WriteString(h.SessionID).
		WriteBlob(h.Token[:]).
		Bytes()
}

// Exchange opens a client container, runs the SASL step it carries and
// returns the encrypted reply container.
func (h *Hub) Exchange(container []byte) ([]byte, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.Exchanges++

	if h.shared == nil {
		return nil, errors.New("no key exchange")
	}
	r := wire.NewReader(container)
	if _, err := r.ReadUint8(); err != nil {
		return nil, err
	}
	flags, err := r.ReadUint8()
	if err != nil {
		return nil, err
	}
	if _, err := r.ReadString(); err != nil {
		return nil, err
	}
	nonceBytes, err := r.ReadBlob(secure.NonceSize)
	if err != nil {
		return nil, err
	}
	n, err := r.ReadUint32()
	if err != nil {
		return nil, err
	}
	sealed, err := r.ReadBlob(int(n))
	if err != nil {
		return nil, err
	}
	var nonce [secure.NonceSize]byte
	copy(nonce[:], nonceBytes)
	plain, ok := box.OpenAfterPrecomputation(nil, sealed, &nonce, h.shared)
	if !ok {
		return nil, errors.New("cannot open client container")
	}
	var replyNonce [secure.NonceSize]byte
	copy(replyNonce[:], plain[:secure.NonceSize])

	reply, err := h.handleMessage(wire.NewReader(plain[secure.NonceSize:]))
	if err != nil {
		return nil, err
	}

	var outFlags uint8
	var body bytes.Buffer
	if flags&0x02 != 0 && !h.keySent {
		outFlags = 0x02
		body.Write(h.SymmetricKey[:])
		_ = binary.Write(&body, binary.LittleEndian, uint16(2))
		writeString(&body, "http://abb.com/protocol/update_encrypted")
		_ = binary.Write(&body, binary.LittleEndian, h.UpdateBaseline)
		writeString(&body, "http://abb.com/protocol/log_encrypted")
		_ = binary.Write(&body, binary.LittleEndian, uint64(0))
		h.keySent = true
	}
	body.Write(reply)

	out := box.SealAfterPrecomputation(nil, body.Bytes(), &replyNonce, h.shared)
	return wire.NewWriter().
		WriteUint8(uint8(secure.MsgCryptedContainerToClient)).
		WriteUint8(outFlags).
		WriteUint32(uint32(len(out))).
		WriteBlob(out).
		Bytes()
}

func (h *Hub) handleMessage(r *wire.Reader) ([]byte, error) {
	id, err := r.ReadUint8()
	if err != nil {
		return nil, err
	}
	switch secure.MsgID(id) {
	case secure.MsgLoginSASL:
		mech, err := r.ReadString()
		if err != nil {
			return nil, err
		}
		if mech != secure.ScramMechanism {
			return nil, fmt.Errorf("unexpected mechanism %q", mech)
		}
		clientFirst, err := r.ReadString()
		if err != nil {
			return nil, err
		}
		conv, err := h.newScramConversation()
		if err != nil {
			return nil, err
		}
		h.scramConv = conv
		serverFirst, err := conv.Step(clientFirst)
		if err != nil {
			return nil, err
		}
		return wire.NewWriter().WriteUint8(uint8(secure.MsgSASLChallenge)).WriteString(serverFirst).Bytes()

	case secure.MsgSASLResponse:
		clientFinal, err := r.ReadString()
		if err != nil {
			return nil, err
		}
		if h.scramConv == nil {
			return nil, errors.New("no SASL conversation")
		}
		serverFinal, _ := h.scramConv.Step(clientFinal) //nolint:errcheck // failure is reported in serverFinal
		return wire.NewWriter().WriteUint8(uint8(secure.MsgSASLLoginSuccess)).WriteString(serverFinal).Bytes()

	default:
		return nil, fmt.Errorf("unexpected message %d", id)
	}
}

func (h *Hub) newScramConversation() (*scram.ServerConversation, error) {
	password := h.Password
	if h.ScramPassword != "" {
		password = h.ScramPassword
	}
	client, err := scram.SHA256.NewClient(h.JID, password, "")
	if err != nil {
		return nil, err
	}
	creds := client.GetStoredCredentials(scram.KeyFactors{Salt: string(h.Salt), Iters: h.Iterations})
	server, err := scram.SHA256.NewServer(func(string) (scram.StoredCredentials, error) {
		return creds, nil
	})
	if err != nil {
		return nil, err
	}
	return server.NewConversation(), nil
}

// SealPubSub encrypts plain with the symmetric key at sequence number seq
// and returns the base64 payload.
func (h *Hub) SealPubSub(seq uint64, plain []byte) string {
	var nonce [secure.NonceSize]byte
	_, _ = io.ReadFull(rand.Reader, nonce[:16])
	binary.LittleEndian.PutUint32(nonce[16:20], uint32(seq))
	out := secretbox.Seal(nonce[:], plain, &nonce, &h.SymmetricKey)
	return base64.StdEncoding.EncodeToString(out)
}

// EncryptedUpdate frames xml as the hub does for the encrypted update node:
// u32 big-endian length, zlib stream, secretbox.
func (h *Hub) EncryptedUpdate(xml string) (string, error) {
	var buf bytes.Buffer
	_ = binary.Write(&buf, binary.BigEndian, uint32(len(xml)))
	zw := zlib.NewWriter(&buf)
	if _, err := zw.Write([]byte(xml)); err != nil {
		return "", err
	}
	if err := zw.Close(); err != nil {
		return "", err
	}
	h.mu.Lock()
	h.seq++
	seq := h.UpdateBaseline + h.seq
	h.mu.Unlock()
	return h.SealPubSub(seq, buf.Bytes()), nil
}

func authenticate(sharedKey, keyBuf, msg []byte) ([]byte, error) {
	key, err := blakeKey(sharedKey, keyBuf)
	if err != nil {
		return nil, err
	}
	var tag [secure.MACSize]byte
	poly1305.Sum(&tag, msg, key)
	return tag[:], nil
}

func blakeKey(data, key []byte) (*[32]byte, error) {
	hash, err := blake2b.New(32, key)
	if err != nil {
		return nil, err
	}
	hash.Write(data)
	var out [32]byte
	copy(out[:], hash.Sum(nil))
	return &out, nil
}

func writeString(buf *bytes.Buffer, s string) {
	_ = binary.Write(buf, binary.LittleEndian, uint32(len(s)))
	buf.WriteString(s)
}
