package fah

import (
	"context"
	"crypto/rand"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nerrad567/gray-logic-fah/internal/device"
	"github.com/nerrad567/gray-logic-fah/internal/fah/handshake"
	"github.com/nerrad567/gray-logic-fah/internal/fah/rpc"
	"github.com/nerrad567/gray-logic-fah/internal/fah/secure"
	"github.com/nerrad567/gray-logic-fah/internal/fah/settings"
	"github.com/nerrad567/gray-logic-fah/internal/fah/xmpp"
)

const (
	// DefaultReconnectInterval is the fixed delay between connection attempts.
	DefaultReconnectInterval = 2 * time.Second

	// DefaultPingInterval is the keepalive period while connected.
	DefaultPingInterval = 60 * time.Second

	// DefaultConnectTimeout bounds one attempt: stream negotiation,
	// handshake, presence and roster.
	DefaultConnectTimeout = 30 * time.Second
)

// Pub-sub nodes the hub publishes updates on.
const (
	NodeUpdate          = "http://abb.com/protocol/update"
	NodeUpdateEncrypted = "http://abb.com/protocol/update_encrypted"
)

const (
	capsNode     = "http://gonicus.de/caps"
	protocolBase = "http://abb.com/protocol/"
)

// State is the connection state of a Session.
type State int

// Session states.
const (
	StateDisconnected State = iota // Connect not called yet
	StateConnecting
	StateConnected
	StateFailed // last attempt failed or the connection was lost
	StateAuthFailed
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateFailed:
		return "failed"
	case StateAuthFailed:
		return "auth_failed"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Config holds the SysAP connection settings.
type Config struct {
	// Host is the SysAP address. Port defaults to 5222.
	Host string
	Port int

	// Username is the SysAP user name as listed in settings.json, not the JID.
	Username string
	Password string

	// UseRoomNames appends the room name to device names.
	UseRoomNames bool

	// DisableReconnect stops the session after the first failed attempt
	// or lost connection.
	DisableReconnect  bool
	ReconnectInterval time.Duration

	StartTLS  bool
	TLSConfig *tls.Config

	ConnectTimeout time.Duration
	RPCTimeout     time.Duration
	PingInterval   time.Duration

	// SettingsHost serves settings.json when it differs from Host,
	// e.g. "sysap.local:8080".
	SettingsHost string
	HTTPClient   *http.Client
}

// Stats holds session statistics.
type Stats struct {
	State           string
	Connects        uint64
	Reconnects      uint64
	UpdatesReceived uint64
	UpdatesDropped  uint64
	LastUpdate      time.Time
	ProtocolVersion uint32
	Encrypted       bool
	Stream          xmpp.Stats
}

// Logger interface for optional logging.
type Logger interface {
	Debug(msg string, keysAndValues ...any)
	Info(msg string, keysAndValues ...any)
	Warn(msg string, keysAndValues ...any)
	Error(msg string, keysAndValues ...any)
}

// Option configures a Session.
type Option func(*Session)

// WithLogger sets the logger for the session and everything it owns.
func WithLogger(l Logger) Option {
	return func(s *Session) { s.logger = l }
}

// WithSettings supplies a settings document so Connect does not fetch one.
func WithSettings(doc *settings.Document) Option {
	return func(s *Session) { s.settings = doc }
}

// WithRand replaces the randomness source for handshake key material.
func WithRand(r io.Reader) Option {
	return func(s *Session) { s.rand = r }
}

// closeOnce wraps a channel that is closed exactly once.
type closeOnce struct {
	ch   chan struct{}
	once sync.Once
}

func newCloseOnce() *closeOnce {
	return &closeOnce{ch: make(chan struct{})}
}

func (c *closeOnce) Close() {
	c.once.Do(func() { close(c.ch) })
}

func (c *closeOnce) Done() <-chan struct{} {
	return c.ch
}

// Session is the connection to one SysAP.
//
// Connect resolves the user's JID and SCRAM parameters from settings.json
// and starts a supervisor goroutine. Each attempt dials the stream, runs
// the encrypted handshake on firmware that requires it, announces
// capabilities and presence, and fetches the roster; the roster result
// marks the session connected. When the stream ends the supervisor waits
// ReconnectInterval and starts over with fresh key material until
// Disconnect is called.
//
// Thread Safety:
//   - All methods are safe for concurrent use.
//   - Update handlers and device callbacks run on the stream's event
//     goroutine, one message at a time.
type Session struct {
	cfg      Config
	registry *device.Registry
	settings *settings.Document
	rand     io.Reader

	mu        sync.Mutex
	state     State
	err       error
	changed   chan struct{} // closed and replaced on every state change
	creds     secure.Credentials
	encrypted bool
	conn      *xmpp.Conn
	client    *rpc.Client
	engine    *secure.Engine
	version   uint32

	handlers   []func(string)
	handlersMu sync.RWMutex

	started atomic.Bool
	ctx     context.Context
	cancel  context.CancelFunc
	done    *closeOnce
	wg      sync.WaitGroup

	logger   Logger
	loggerMu sync.RWMutex

	connects        atomic.Uint64
	reconnects      atomic.Uint64
	updatesReceived atomic.Uint64
	updatesDropped  atomic.Uint64
	lastUpdate      atomic.Int64

	now func() time.Time
}

// New creates a Session. No connection is made until Connect.
func New(cfg Config, opts ...Option) (*Session, error) {
	if cfg.Host == "" {
		return nil, fmt.Errorf("%w: host is required", ErrInvalidConfig)
	}
	if cfg.Username == "" {
		return nil, fmt.Errorf("%w: username is required", ErrInvalidConfig)
	}
	if cfg.Port == 0 {
		cfg.Port = xmpp.DefaultPort
	}
	if cfg.ReconnectInterval == 0 {
		cfg.ReconnectInterval = DefaultReconnectInterval
	}
	if cfg.ConnectTimeout == 0 {
		cfg.ConnectTimeout = DefaultConnectTimeout
	}
	if cfg.RPCTimeout == 0 {
		cfg.RPCTimeout = rpc.DefaultTimeout
	}
	if cfg.PingInterval == 0 {
		cfg.PingInterval = DefaultPingInterval
	}
	if cfg.SettingsHost == "" {
		cfg.SettingsHost = cfg.Host
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &Session{
		cfg:     cfg,
		rand:    rand.Reader,
		changed: make(chan struct{}),
		ctx:     ctx,
		cancel:  cancel,
		done:    newCloseOnce(),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.registry = device.NewRegistry(s,
		device.WithHost(cfg.Host),
		device.WithRoomNames(cfg.UseRoomNames),
		device.WithLogger(s.deviceLogger()),
	)
	return s, nil
}

// SetLogger replaces the logger. It applies to streams opened afterwards.
func (s *Session) SetLogger(logger Logger) {
	s.loggerMu.Lock()
	s.logger = logger
	s.loggerMu.Unlock()
	s.registry.SetLogger(s.deviceLogger())
}

// Host returns the SysAP host.
func (s *Session) Host() string {
	return s.cfg.Host
}

// Registry returns the device registry fed by this session.
func (s *Session) Registry() *device.Registry {
	return s.registry
}

// Connect resolves the login parameters and starts connecting in the
// background. Use WaitForConnection to learn the outcome.
//
// Parameters:
//   - ctx: Context for the settings.json request
//
// Returns:
//   - error: settings.ErrUnreachable, settings.ErrUserNotFound, ErrClosed
//     or ErrAlreadyStarted
func (s *Session) Connect(ctx context.Context) error {
	if s.isClosed() {
		return ErrClosed
	}
	if !s.started.CompareAndSwap(false, true) {
		return ErrAlreadyStarted
	}

	creds, encrypted, version, err := s.resolveLogin(ctx)
	if err != nil {
		s.started.Store(false)
		return err
	}

	s.mu.Lock()
	s.creds = creds
	s.encrypted = encrypted
	s.mu.Unlock()

	s.logInfo("connecting to sysap",
		"host", s.cfg.Host,
		"jid", creds.JID,
		"version", version.String(),
		"encrypted", encrypted,
	)
	s.setState(StateConnecting, nil)

	s.wg.Add(1)
	go s.supervise()
	return nil
}

func (s *Session) resolveLogin(ctx context.Context) (secure.Credentials, bool, settings.Version, error) {
	doc := s.settings
	if doc == nil {
		var err error
		doc, err = settings.Fetch(ctx, s.cfg.HTTPClient, s.cfg.SettingsHost)
		if err != nil {
			return secure.Credentials{}, false, nil, err
		}
	}

	jid, err := doc.JID(s.cfg.Username)
	if err != nil {
		return secure.Credentials{}, false, nil, err
	}
	version, err := doc.Version()
	if err != nil {
		return secure.Credentials{}, false, nil, err
	}
	creds := secure.Credentials{JID: jid, Password: s.cfg.Password}

	encrypted := !version.Less(settings.HandshakeVersion)
	if encrypted {
		iterations, salt, err := doc.ScramSettings(s.cfg.Username, secure.ScramMechanism)
		if err != nil {
			return secure.Credentials{}, false, nil, err
		}
		creds.Salt = salt
		creds.Iterations = iterations
	}
	return creds, encrypted, version, nil
}

// supervise runs connection attempts until Disconnect, or until the first
// failure when reconnecting is disabled.
func (s *Session) supervise() {
	defer s.wg.Done()

	for {
		conn, err := s.connectOnce()
		switch {
		case err == nil:
			s.connects.Add(1)
			select {
			case <-s.done.Done():
				return
			case <-conn.Done():
			}
			cause := conn.Err()
			s.logWarn("connection with sysap lost", "error", cause)
			s.dropConn(conn)
			s.setState(StateFailed, fmt.Errorf("%w: %w", ErrDisconnected, cause))
		case s.isClosed():
			return
		case errors.Is(err, ErrAuthFailed):
			s.logError("authentication failed, probably wrong password", "error", err)
			s.setState(StateAuthFailed, err)
		default:
			s.logError("connect failed", "error", err)
			s.setState(StateFailed, err)
		}

		if s.cfg.DisableReconnect {
			return
		}
		select {
		case <-s.done.Done():
			return
		case <-time.After(s.cfg.ReconnectInterval):
		}
		s.reconnects.Add(1)
		s.logInfo("reconnecting to sysap", "attempt", s.reconnects.Load())
	}
}

// connectOnce performs one full connection attempt.
func (s *Session) connectOnce() (*xmpp.Conn, error) {
	ctx, cancel := context.WithTimeout(s.ctx, s.cfg.ConnectTimeout)
	defer cancel()

	s.mu.Lock()
	creds, encrypted := s.creds, s.encrypted
	s.mu.Unlock()
	s.setState(StateConnecting, nil)

	logger := s.getLogger()
	conn, err := xmpp.Dial(ctx, xmpp.Config{
		Host:           s.cfg.Host,
		Port:           s.cfg.Port,
		JID:            creds.JID,
		Password:       creds.Password,
		StartTLS:       s.cfg.StartTLS,
		TLSConfig:      s.cfg.TLSConfig,
		ConnectTimeout: s.cfg.ConnectTimeout,
		PingInterval:   s.cfg.PingInterval,
		Caps:           capabilities(encrypted),
	})
	if err != nil {
		if errors.Is(err, xmpp.ErrAuthFailed) {
			return nil, fmt.Errorf("%w: %w", ErrAuthFailed, err)
		}
		return nil, fmt.Errorf("%w: %w", ErrConnectFailed, err)
	}
	if logger != nil {
		conn.SetLogger(logger)
	}
	conn.SetOnPubSub(s.handlePubSub)

	client := rpc.NewClient(conn, s.cfg.RPCTimeout)
	if logger != nil {
		client.SetLogger(logger)
	}

	var (
		engine  *secure.Engine
		version uint32
	)
	if encrypted {
		engine, version, err = s.runHandshake(ctx, creds, client)
		if err != nil {
			conn.Close()
			return nil, err
		}
	}
	s.mu.Lock()
	s.engine = engine
	s.version = version
	s.mu.Unlock()

	if err := announce(ctx, conn); err != nil {
		conn.Close()
		return nil, fmt.Errorf("%w: %w", ErrConnectFailed, err)
	}

	s.mu.Lock()
	s.conn = conn
	s.client = client
	s.mu.Unlock()

	s.setState(StateConnected, nil)
	s.logInfo("connected to sysap", "jid", conn.JID(), "protocol_version", version)
	return conn, nil
}

// runHandshake runs a fresh handshake machine over client.
func (s *Session) runHandshake(ctx context.Context, creds secure.Credentials, client *rpc.Client) (*secure.Engine, uint32, error) {
	opts := []handshake.Option{handshake.WithRand(s.rand)}
	if logger := s.getLogger(); logger != nil {
		opts = append(opts, handshake.WithLogger(logger))
	}
	m, err := handshake.New(creds, client, opts...)
	if err != nil {
		return nil, 0, fmt.Errorf("%w: %w", ErrConnectFailed, err)
	}
	if err := m.Run(ctx); err != nil {
		if handshake.IsCredentialFailure(err) {
			return nil, 0, fmt.Errorf("%w: %w", ErrAuthFailed, err)
		}
		return nil, 0, fmt.Errorf("%w: %w", ErrConnectFailed, err)
	}
	return m.Engine(), m.ProtocolVersion(), nil
}

// announce sends presence, subscribes to the RPC actor, announces
// capabilities and fetches the roster.
func announce(ctx context.Context, conn *xmpp.Conn) error {
	if err := conn.SendPresence(); err != nil {
		return err
	}
	if err := conn.Subscribe(rpc.ActorJID); err != nil {
		return err
	}
	if err := conn.SendCapsPresence(); err != nil {
		return err
	}
	_, err := conn.GetRoster(ctx)
	return err
}

// capabilities returns what the client announces for the given firmware
// generation.
func capabilities(encrypted bool) xmpp.Capabilities {
	caps := xmpp.Capabilities{
		Node:     capsNode,
		Ver:      "1.0",
		Identity: xmpp.Identity{Category: "client", Type: "pc", Name: "QxXmpp/JSJaC client"},
		Features: []string{"http://jabber.org/protocol/caps", "http://jabber.org/protocol/disco#info"},
	}
	streams := []string{"update", "log"}
	if encrypted {
		caps.Ver = "1.1"
		streams = []string{"update_encrypted", "log_encrypted"}
	}
	for _, name := range streams {
		caps.Features = append(caps.Features, protocolBase+name, protocolBase+name+"+notify")
	}
	return caps
}

func (s *Session) dropConn(conn *xmpp.Conn) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conn == conn {
		s.conn = nil
		s.client = nil
		s.engine = nil
	}
}

func (s *Session) setState(state State, err error) {
	s.mu.Lock()
	if s.state == StateClosed {
		s.mu.Unlock()
		return
	}
	from := s.state
	s.state = state
	if err != nil || state == StateConnected {
		s.err = err
	}
	close(s.changed)
	s.changed = make(chan struct{})
	s.mu.Unlock()

	if from != state {
		s.logDebug("session state", "from", from.String(), "to", state.String())
	}
}

// State returns the current connection state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// IsConnected reports whether the session is connected.
func (s *Session) IsConnected() bool {
	return s.State() == StateConnected
}

// WaitForConnection blocks until the current attempt completes.
//
// Returns:
//   - nil when connected
//   - ErrAuthFailed when the SysAP rejected the credentials
//   - ErrConnectFailed when the attempt failed, the connection dropped or
//     ctx ended first
//   - ErrClosed after Disconnect, ErrDisconnected before Connect
func (s *Session) WaitForConnection(ctx context.Context) error {
	for {
		s.mu.Lock()
		state, err, changed := s.state, s.err, s.changed
		s.mu.Unlock()

		switch state {
		case StateConnected:
			return nil
		case StateAuthFailed:
			return err
		case StateFailed:
			if errors.Is(err, ErrConnectFailed) {
				return err
			}
			return fmt.Errorf("%w: %w", ErrConnectFailed, err)
		case StateClosed:
			return ErrClosed
		case StateDisconnected:
			return ErrDisconnected
		}

		select {
		case <-changed:
		case <-ctx.Done():
			return fmt.Errorf("%w: %w", ErrConnectFailed, ctx.Err())
		}
	}
}

// Disconnect stops reconnecting and closes the connection.
func (s *Session) Disconnect() error {
	s.done.Close()
	s.cancel()
	s.wg.Wait()

	s.mu.Lock()
	conn := s.conn
	s.conn = nil
	s.client = nil
	s.engine = nil
	s.mu.Unlock()

	var err error
	if conn != nil {
		err = conn.Close()
	}
	s.setState(StateClosed, nil)
	s.logInfo("disconnected from sysap", "host", s.cfg.Host)
	return err
}

func (s *Session) isClosed() bool {
	select {
	case <-s.done.Done():
		return true
	default:
		return false
	}
}

// HealthCheck pings the SysAP.
func (s *Session) HealthCheck(ctx context.Context) error {
	s.mu.Lock()
	conn := s.conn
	s.mu.Unlock()
	if conn == nil {
		return ErrDisconnected
	}
	return conn.Ping(ctx)
}

// Stats returns session statistics.
func (s *Session) Stats() Stats {
	s.mu.Lock()
	st := Stats{
		State:           s.state.String(),
		ProtocolVersion: s.version,
		Encrypted:       s.encrypted,
	}
	conn := s.conn
	s.mu.Unlock()

	st.Connects = s.connects.Load()
	st.Reconnects = s.reconnects.Load()
	st.UpdatesReceived = s.updatesReceived.Load()
	st.UpdatesDropped = s.updatesDropped.Load()
	if ts := s.lastUpdate.Load(); ts > 0 {
		st.LastUpdate = time.Unix(0, ts)
	}
	if conn != nil {
		st.Stream = conn.Stats()
	}
	return st
}

func (s *Session) rpcClient() (*rpc.Client, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.client == nil {
		return nil, ErrDisconnected
	}
	return s.client, nil
}

// SetDatapoint writes value to the datapoint serial/channel/datapoint.
// It implements device.Writer.
func (s *Session) SetDatapoint(ctx context.Context, serial, channel, datapoint, value string) error {
	client, err := s.rpcClient()
	if err != nil {
		return err
	}
	address := serial + "/" + channel + "/" + datapoint
	s.logDebug("set datapoint", "address", address, "value", value)
	result, err := client.SetDatapoint(ctx, address, value)
	if err != nil {
		return fmt.Errorf("set datapoint %s: %w", address, err)
	}
	s.logDebug("set datapoint result", "address", address, "result", result)
	return nil
}

// SetParameter writes value to the parameter serial/channel/parameter.
func (s *Session) SetParameter(ctx context.Context, serial, channel, parameter, value string) error {
	client, err := s.rpcClient()
	if err != nil {
		return err
	}
	address := serial + "/" + channel + "/" + parameter
	s.logDebug("set parameter", "address", address, "value", value)
	result, err := client.SetParameter(ctx, address, value)
	if err != nil {
		return fmt.Errorf("set parameter %s: %w", address, err)
	}
	s.logDebug("set parameter result", "address", address, "result", result)
	return nil
}

// GetConfig fetches the full configuration XML as the SysAP returns it.
func (s *Session) GetConfig(ctx context.Context, pretty bool) (string, error) {
	client, err := s.rpcClient()
	if err != nil {
		return "", err
	}
	return client.GetAll(ctx, pretty)
}

// GetAllXML fetches the configuration with duplicate name attributes
// removed, so that it parses as XML.
func (s *Session) GetAllXML(ctx context.Context) (string, error) {
	config, err := s.GetConfig(ctx, false)
	if err != nil {
		return "", err
	}
	return device.StripDuplicateNames(config), nil
}

// FindDevices fetches the configuration and rebuilds the device registry
// from it. It returns the number of devices found.
func (s *Session) FindDevices(ctx context.Context) (int, error) {
	config, err := s.GetConfig(ctx, false)
	if err != nil {
		return 0, err
	}
	return s.registry.Discover(config)
}

// Devices returns the discovered devices of kind, or all devices when
// kind is empty.
func (s *Session) Devices(kind device.Kind) []device.Device {
	return s.registry.Devices(kind)
}

// AddUpdateHandler registers fn to receive every update message as XML,
// before it is applied to the devices.
func (s *Session) AddUpdateHandler(fn func(message string)) {
	s.handlersMu.Lock()
	s.handlers = append(s.handlers, fn)
	s.handlersMu.Unlock()
}

// ClearUpdateHandlers removes all update handlers.
func (s *Session) ClearUpdateHandlers() {
	s.handlersMu.Lock()
	s.handlers = nil
	s.handlersMu.Unlock()
}

func (s *Session) getLogger() Logger {
	s.loggerMu.RLock()
	defer s.loggerMu.RUnlock()
	return s.logger
}

// deviceLogger adapts the session logger for the registry.
func (s *Session) deviceLogger() device.Logger {
	if l := s.getLogger(); l != nil {
		return l
	}
	return nil
}

func (s *Session) logDebug(msg string, keysAndValues ...any) {
	if l := s.getLogger(); l != nil {
		l.Debug(msg, keysAndValues...)
	}
}

func (s *Session) logInfo(msg string, keysAndValues ...any) {
	if l := s.getLogger(); l != nil {
		l.Info(msg, keysAndValues...)
	}
}

func (s *Session) logWarn(msg string, keysAndValues ...any) {
	if l := s.getLogger(); l != nil {
		l.Warn(msg, keysAndValues...)
	}
}

func (s *Session) logError(msg string, keysAndValues ...any) {
	if l := s.getLogger(); l != nil {
		l.Error(msg, keysAndValues...)
	}
}
