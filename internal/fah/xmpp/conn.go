package xmpp

import (
	"context"
	"crypto/rand"
	"crypto/tls"
	"encoding/hex"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"net"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// closeOnce wraps a channel with sync.Once to prevent double-close panics.
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

// Default timeouts and sizes for the stream.
const (
	// DefaultPort is the SysAP client port.
	DefaultPort = 5222

	// DefaultDomain is the XMPP domain served by every SysAP.
	DefaultDomain = "busch-jaeger.de"

	// defaultConnectTimeout bounds TCP connect plus stream negotiation.
	defaultConnectTimeout = 15 * time.Second

	// defaultWriteTimeout is the timeout for a single stanza write.
	defaultWriteTimeout = 10 * time.Second

	// eventQueueSize is the buffer size for the pub-sub event queue.
	eventQueueSize = 64
)

// Config holds stream connection configuration.
type Config struct {
	// Host and Port of the SysAP. Port defaults to 5222.
	Host string
	Port int

	// JID is the bare JID to log in as ("user@busch-jaeger.de").
	JID string

	// Password for stream SASL.
	Password string

	// Resource to bind. A random 8 hex digit resource is used when empty.
	Resource string

	// StartTLS upgrades the stream when the server offers it.
	StartTLS  bool
	TLSConfig *tls.Config

	// ConnectTimeout bounds connect and negotiation.
	// Default: 15 seconds.
	ConnectTimeout time.Duration

	// WriteTimeout bounds a single stanza write.
	// Default: 10 seconds.
	WriteTimeout time.Duration

	// PingInterval enables XEP-0199 keepalive pings when positive.
	PingInterval time.Duration

	// Caps is announced in caps presence and answered on disco#info.
	Caps Capabilities
}

// Stats holds operational statistics.
type Stats struct {
	StanzasTx     uint64
	StanzasRx     uint64
	EventsDropped uint64 // Pub-sub events dropped due to a full queue
	ErrorsTotal   uint64
	LastActivity  time.Time
	Connected     bool
}

// Logger interface for optional logging.
type Logger interface {
	Debug(msg string, keysAndValues ...any)
	Info(msg string, keysAndValues ...any)
	Warn(msg string, keysAndValues ...any)
	Error(msg string, keysAndValues ...any)
}

// RosterItem is one roster entry.
type RosterItem struct {
	JID          string `xml:"jid,attr"`
	Name         string `xml:"name,attr"`
	Subscription string `xml:"subscription,attr"`
}

// Conn is a negotiated client stream to the SysAP.
//
// Thread Safety:
//   - All methods are safe for concurrent use.
//   - IQ responses are routed by stanza id, so calls may overlap.
//   - Pub-sub callbacks run one at a time on a dedicated goroutine and
//     never block the read loop.
//
// A Conn is not reusable. When the stream ends it reports the cause once
// through the disconnect callback; the owner dials a new Conn to resume.
type Conn struct {
	cfg      Config
	conn     net.Conn
	dec      *xml.Decoder
	boundJID string

	writeMu sync.Mutex

	pending   map[string]chan IQ
	pendingMu sync.Mutex

	connected atomic.Bool
	closing   atomic.Bool
	errMu     sync.Mutex
	err       error

	onPubSub     func([]PubSubItem)
	onDisconnect func(error)
	callbackMu   sync.RWMutex
	eventQueue   chan []PubSubItem

	done *closeOnce
	wg   sync.WaitGroup

	logger   Logger
	loggerMu sync.RWMutex

	stanzasTx     atomic.Uint64
	stanzasRx     atomic.Uint64
	eventsDropped atomic.Uint64
	errorsTotal   atomic.Uint64
	lastActivity  atomic.Int64
}

// Dial connects to the SysAP, negotiates the stream and binds a resource.
//
// Parameters:
//   - ctx: Context for cancellation of connect and negotiation
//   - cfg: Stream configuration
//
// Returns:
//   - *Conn: Bound stream with its read loop running
//   - error: If connecting, authentication or binding fails
func Dial(ctx context.Context, cfg Config) (*Conn, error) {
	if cfg.Port == 0 {
		cfg.Port = DefaultPort
	}
	if cfg.ConnectTimeout == 0 {
		cfg.ConnectTimeout = defaultConnectTimeout
	}
	if cfg.WriteTimeout == 0 {
		cfg.WriteTimeout = defaultWriteTimeout
	}
	if cfg.Resource == "" {
		res, err := randomResource()
		if err != nil {
			return nil, err
		}
		cfg.Resource = res
	}

	ctx, cancel := context.WithTimeout(ctx, cfg.ConnectTimeout)
	defer cancel()

	var dialer net.Dialer
	nc, err := dialer.DialContext(ctx, "tcp", net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port)))
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", cfg.Host, err)
	}

	return newConn(ctx, nc, cfg)
}

// newConn negotiates on an established transport.
func newConn(ctx context.Context, nc net.Conn, cfg Config) (*Conn, error) {
	c := &Conn{
		cfg:        cfg,
		conn:       nc,
		pending:    make(map[string]chan IQ),
		eventQueue: make(chan []PubSubItem, eventQueueSize),
		done:       newCloseOnce(),
	}
	c.lastActivity.Store(time.Now().Unix())

	if deadline, ok := ctx.Deadline(); ok {
		_ = nc.SetDeadline(deadline)
	}
	stop := context.AfterFunc(ctx, func() { _ = nc.SetDeadline(time.Now()) })
	err := c.negotiate()
	stop()
	if err != nil {
		nc.Close()
		if ctx.Err() != nil {
			return nil, fmt.Errorf("%w: negotiation: %w", ErrTimeout, err)
		}
		return nil, err
	}
	_ = c.conn.SetDeadline(time.Time{})
	c.connected.Store(true)

	c.wg.Add(2)
	go c.readLoop()
	go c.eventWorker()
	if cfg.PingInterval > 0 {
		c.wg.Add(1)
		go c.keepalive(cfg.PingInterval)
	}
	return c, nil
}

func randomResource() (string, error) {
	b := make([]byte, 4)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("resource: %w", err)
	}
	return hex.EncodeToString(b), nil
}

// negotiate runs stream setup: optional STARTTLS, SASL, bind and session.
func (c *Conn) negotiate() error {
	f, err := c.openStream()
	if err != nil {
		return err
	}

	if f.StartTLS != nil && c.cfg.StartTLS {
		if err := c.startTLS(); err != nil {
			return err
		}
		if f, err = c.openStream(); err != nil {
			return err
		}
	}

	if err := c.authenticate(f); err != nil {
		return err
	}

	if f, err = c.openStream(); err != nil {
		return err
	}
	if f.Bind == nil {
		return fmt.Errorf("%w: server does not offer resource binding", ErrStream)
	}
	if err := c.bind(); err != nil {
		return err
	}
	if f.Session != nil {
		if _, err := c.syncIQ(IQSet, []byte(`<session xmlns="`+NSSession+`"/>`)); err != nil {
			return fmt.Errorf("session: %w", err)
		}
	}
	return nil
}

// openStream sends a stream header and reads the server's features.
func (c *Conn) openStream() (*streamFeatures, error) {
	header := fmt.Sprintf(`<?xml version="1.0"?><stream:stream to=%q xmlns=%q xmlns:stream=%q version="1.0">`,
		domainpart(c.cfg.JID), NSClient, NSStream)
	if err := c.write([]byte(header)); err != nil {
		return nil, err
	}

	c.dec = xml.NewDecoder(c.conn)
	for {
		tok, err := c.dec.Token()
		if err != nil {
			return nil, fmt.Errorf("%w: stream header: %w", ErrStream, err)
		}
		if start, ok := tok.(xml.StartElement); ok {
			if start.Name.Space != NSStream || start.Name.Local != "stream" {
				return nil, fmt.Errorf("%w: expected stream header, got <%s>", ErrStream, start.Name.Local)
			}
			break
		}
	}

	start, err := c.nextElement()
	if err != nil {
		return nil, err
	}
	if start.Name.Space != NSStream || start.Name.Local != "features" {
		return nil, fmt.Errorf("%w: expected features, got <%s>", ErrStream, start.Name.Local)
	}
	var f streamFeatures
	if err := c.dec.DecodeElement(&f, &start); err != nil {
		return nil, fmt.Errorf("%w: features: %w", ErrStream, err)
	}
	return &f, nil
}

func (c *Conn) startTLS() error {
	if err := c.write([]byte(`<starttls xmlns="` + NSTLS + `"/>`)); err != nil {
		return err
	}
	start, err := c.nextElement()
	if err != nil {
		return err
	}
	if err := c.dec.Skip(); err != nil {
		return fmt.Errorf("%w: %w", ErrStream, err)
	}
	if start.Name.Local != "proceed" {
		return fmt.Errorf("%w: starttls refused", ErrStream)
	}

	tlsCfg := c.cfg.TLSConfig
	if tlsCfg == nil {
		tlsCfg = &tls.Config{ServerName: c.cfg.Host, MinVersion: tls.VersionTLS12}
	}
	tc := tls.Client(c.conn, tlsCfg)
	if err := tc.Handshake(); err != nil {
		return fmt.Errorf("tls handshake: %w", err)
	}
	c.conn = tc
	return nil
}

func (c *Conn) bind() error {
	payload, err := xml.Marshal(struct {
		XMLName  xml.Name `xml:"urn:ietf:params:xml:ns:xmpp-bind bind"`
		Resource string   `xml:"resource"`
	}{Resource: c.cfg.Resource})
	if err != nil {
		return err
	}
	resp, err := c.syncIQ(IQSet, payload)
	if err != nil {
		return fmt.Errorf("bind: %w", err)
	}
	var br bindResult
	if err := xml.Unmarshal(resp.Inner, &br); err != nil || br.JID == "" {
		c.boundJID = c.cfg.JID + "/" + c.cfg.Resource
		return nil //nolint:nilerr // servers may omit the bound jid
	}
	c.boundJID = br.JID
	return nil
}

// syncIQ sends an IQ and reads its result inline. Only used before the
// read loop starts.
func (c *Conn) syncIQ(typ string, payload []byte) (*iqIn, error) {
	id := uuid.NewString()
	if err := c.writeElement(iqOut{ID: id, Type: typ, Inner: payload}); err != nil {
		return nil, err
	}
	for {
		start, err := c.nextElement()
		if err != nil {
			return nil, err
		}
		if start.Name.Local != "iq" {
			if err := c.dec.Skip(); err != nil {
				return nil, fmt.Errorf("%w: %w", ErrStream, err)
			}
			continue
		}
		var iq iqIn
		if err := c.dec.DecodeElement(&iq, &start); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrStream, err)
		}
		if iq.ID != id {
			continue
		}
		if iq.Type == IQError {
			return nil, fmt.Errorf("%w: %v", ErrIQ, stanzaError(iq.Error))
		}
		return &iq, nil
	}
}

// nextElement returns the next top-level start element. A closing
// </stream:stream> is reported as ErrClosed.
func (c *Conn) nextElement() (xml.StartElement, error) {
	for {
		tok, err := c.dec.Token()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return xml.StartElement{}, ErrClosed
			}
			return xml.StartElement{}, err
		}
		switch t := tok.(type) {
		case xml.StartElement:
			if t.Name.Space == NSStream && t.Name.Local == "error" {
				var se saslReply
				_ = c.dec.DecodeElement(&se, &t)
				return xml.StartElement{}, fmt.Errorf("%w: %s", ErrStream, se.condition())
			}
			return t, nil
		case xml.EndElement:
			return xml.StartElement{}, ErrClosed
		}
	}
}

func (c *Conn) write(b []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if err := c.conn.SetWriteDeadline(time.Now().Add(c.cfg.WriteTimeout)); err != nil {
		return fmt.Errorf("set write deadline: %w", err)
	}
	if _, err := c.conn.Write(b); err != nil {
		c.errorsTotal.Add(1)
		return fmt.Errorf("write: %w", err)
	}
	c.stanzasTx.Add(1)
	c.lastActivity.Store(time.Now().Unix())
	return nil
}

func (c *Conn) writeElement(v any) error {
	b, err := xml.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal: %w", err)
	}
	return c.write(b)
}

// readLoop dispatches stanzas until the stream ends.
func (c *Conn) readLoop() {
	defer c.wg.Done()

	for {
		start, err := c.nextElement()
		if err != nil {
			c.fail(err)
			return
		}
		c.stanzasRx.Add(1)
		c.lastActivity.Store(time.Now().Unix())

		switch start.Name.Local {
		case "iq":
			var iq iqIn
			if err := c.dec.DecodeElement(&iq, &start); err != nil {
				c.fail(fmt.Errorf("%w: %w", ErrStream, err))
				return
			}
			c.handleIQ(&iq)
		case "presence":
			var p presenceIn
			if err := c.dec.DecodeElement(&p, &start); err != nil {
				c.fail(fmt.Errorf("%w: %w", ErrStream, err))
				return
			}
			c.handlePresence(&p)
		case "message":
			var m messageIn
			if err := c.dec.DecodeElement(&m, &start); err != nil {
				c.fail(fmt.Errorf("%w: %w", ErrStream, err))
				return
			}
			c.handleMessage(&m)
		default:
			if err := c.dec.Skip(); err != nil {
				c.fail(fmt.Errorf("%w: %w", ErrStream, err))
				return
			}
		}
	}
}

func (c *Conn) handleIQ(iq *iqIn) {
	switch iq.Type {
	case IQResult, IQError:
		c.pendingMu.Lock()
		ch, ok := c.pending[iq.ID]
		delete(c.pending, iq.ID)
		c.pendingMu.Unlock()
		if !ok {
			c.logDebug("unmatched iq response", "id", iq.ID)
			return
		}
		ch <- IQ{ID: iq.ID, Type: iq.Type, From: iq.From, To: iq.To, Payload: iq.Inner, Error: iq.Error}

	case IQGet:
		switch {
		case iq.Ping != nil:
			c.reply(iq, nil)
		case iq.Disco != nil:
			payload, err := xml.Marshal(c.cfg.Caps.discoInfo(iq.Disco.Node))
			if err != nil {
				c.logError("marshal disco info", err)
				return
			}
			c.reply(iq, payload)
		default:
			c.replyError(iq, "service-unavailable")
		}

	case IQSet:
		if iq.Roster != nil {
			c.reply(iq, nil)
			return
		}
		c.replyError(iq, "feature-not-implemented")
	}
}

func (c *Conn) reply(iq *iqIn, payload []byte) {
	if err := c.writeElement(iqOut{ID: iq.ID, Type: IQResult, To: iq.From, Inner: payload}); err != nil {
		c.logError("iq reply", err)
	}
}

func (c *Conn) replyError(iq *iqIn, condition string) {
	payload := []byte(`<error type="cancel"><` + condition + ` xmlns="` + NSStanzas + `"/></error>`)
	if err := c.writeElement(iqOut{ID: iq.ID, Type: IQError, To: iq.From, Inner: payload}); err != nil {
		c.logError("iq error reply", err)
	}
}

func (c *Conn) handlePresence(p *presenceIn) {
	if p.Type != "subscribe" {
		return
	}
	if err := c.writeElement(presenceOut{To: p.From, Type: "subscribed"}); err != nil {
		c.logError("presence subscribed", err)
	}
}

func (c *Conn) handleMessage(m *messageIn) {
	items := m.items()
	if len(items) == 0 {
		return
	}

	c.callbackMu.RLock()
	hasCallback := c.onPubSub != nil
	c.callbackMu.RUnlock()
	if !hasCallback {
		return
	}

	select {
	case c.eventQueue <- items:
	default:
		c.logError("event queue full, dropping pub-sub event", nil)
		c.eventsDropped.Add(1)
		c.errorsTotal.Add(1)
	}
}

// eventWorker runs pub-sub callbacks one at a time.
func (c *Conn) eventWorker() {
	defer c.wg.Done()

	for {
		select {
		case <-c.done.Done():
			return
		case items := <-c.eventQueue:
			c.callbackMu.RLock()
			callback := c.onPubSub
			c.callbackMu.RUnlock()
			if callback == nil {
				continue
			}
			func() {
				defer func() {
					if r := recover(); r != nil {
						c.logError("pub-sub callback panic", fmt.Errorf("%v", r))
					}
				}()
				callback(items)
			}()
		}
	}
}

// keepalive pings the server and fails the stream when a ping goes unanswered.
func (c *Conn) keepalive(interval time.Duration) {
	defer c.wg.Done()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-c.done.Done():
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), interval)
			err := c.Ping(ctx)
			cancel()
			if err != nil && !errors.Is(err, ErrClosed) {
				c.logError("keepalive ping failed", err)
				c.fail(fmt.Errorf("keepalive: %w", err))
				return
			}
		}
	}
}

// fail ends the stream after an error and reports it once.
func (c *Conn) fail(err error) {
	c.errMu.Lock()
	if c.err != nil {
		c.errMu.Unlock()
		return
	}
	c.err = err
	c.errMu.Unlock()

	c.connected.Store(false)
	c.done.Close()
	c.conn.Close()

	if c.closing.Load() {
		return
	}
	c.errorsTotal.Add(1)
	c.logInfo("stream ended", "error", err)

	c.callbackMu.RLock()
	callback := c.onDisconnect
	c.callbackMu.RUnlock()
	if callback != nil {
		go callback(err)
	}
}

// SendIQ sends iq and waits for the matching result or error.
//
// An id is generated when iq.ID is empty. An error response is returned
// together with an error wrapping ErrIQ.
func (c *Conn) SendIQ(ctx context.Context, iq IQ) (IQ, error) {
	if !c.connected.Load() {
		return IQ{}, ErrNotConnected
	}
	if iq.ID == "" {
		iq.ID = uuid.NewString()
	}

	ch := make(chan IQ, 1)
	c.pendingMu.Lock()
	c.pending[iq.ID] = ch
	c.pendingMu.Unlock()
	defer func() {
		c.pendingMu.Lock()
		delete(c.pending, iq.ID)
		c.pendingMu.Unlock()
	}()

	if err := c.writeElement(iqOut{ID: iq.ID, Type: iq.Type, To: iq.To, Inner: iq.Payload}); err != nil {
		return IQ{}, err
	}

	select {
	case resp := <-ch:
		if resp.Type == IQError {
			return resp, fmt.Errorf("%w: %v", ErrIQ, stanzaError(resp.Error))
		}
		return resp, nil
	case <-ctx.Done():
		return IQ{}, fmt.Errorf("%w: iq %s: %w", ErrTimeout, iq.ID, ctx.Err())
	case <-c.done.Done():
		return IQ{}, ErrClosed
	}
}

func stanzaError(e *StanzaError) *StanzaError {
	if e == nil {
		return &StanzaError{Type: "cancel", Condition: "undefined-condition"}
	}
	return e
}

type presenceOut struct {
	XMLName xml.Name `xml:"presence"`
	To      string   `xml:"to,attr,omitempty"`
	From    string   `xml:"from,attr,omitempty"`
	Type    string   `xml:"type,attr,omitempty"`
}

// SendPresence broadcasts initial available presence.
func (c *Conn) SendPresence() error {
	return c.writeElement(presenceOut{})
}

// Subscribe requests a presence subscription to jid.
func (c *Conn) Subscribe(jid string) error {
	return c.writeElement(presenceOut{To: jid, From: c.boundJID, Type: "subscribe"})
}

// SendCapsPresence announces the configured entity capabilities.
func (c *Conn) SendCapsPresence() error {
	var p capsPresence
	p.C.Ver = c.cfg.Caps.Ver
	p.C.Node = c.cfg.Caps.Node
	return c.writeElement(p)
}

// GetRoster requests the roster.
func (c *Conn) GetRoster(ctx context.Context) ([]RosterItem, error) {
	resp, err := c.SendIQ(ctx, IQ{Type: IQGet, Payload: []byte(`<query xmlns="` + NSRoster + `"/>`)})
	if err != nil {
		return nil, fmt.Errorf("roster: %w", err)
	}
	var q struct {
		XMLName xml.Name     `xml:"jabber:iq:roster query"`
		Items   []RosterItem `xml:"item"`
	}
	if len(resp.Payload) == 0 {
		return nil, nil
	}
	if err := xml.Unmarshal(resp.Payload, &q); err != nil {
		return nil, fmt.Errorf("%w: roster: %w", ErrStream, err)
	}
	return q.Items, nil
}

// Ping sends a XEP-0199 ping to the server.
func (c *Conn) Ping(ctx context.Context) error {
	_, err := c.SendIQ(ctx, IQ{
		Type:    IQGet,
		To:      domainpart(c.cfg.JID),
		Payload: []byte(`<ping xmlns="` + NSPing + `"/>`),
	})
	return err
}

// SetOnPubSub sets the callback for pub-sub events.
//
// The callback runs on a single worker goroutine. Panics in the callback
// are recovered and logged.
func (c *Conn) SetOnPubSub(callback func([]PubSubItem)) {
	c.callbackMu.Lock()
	c.onPubSub = callback
	c.callbackMu.Unlock()
}

// SetOnDisconnect sets the callback invoked once, in its own goroutine,
// when the stream ends for any reason other than Close.
func (c *Conn) SetOnDisconnect(callback func(error)) {
	c.callbackMu.Lock()
	c.onDisconnect = callback
	c.callbackMu.Unlock()
}

// SetLogger sets the logger for this connection.
func (c *Conn) SetLogger(logger Logger) {
	c.loggerMu.Lock()
	c.logger = logger
	c.loggerMu.Unlock()
}

// JID returns the full bound JID.
func (c *Conn) JID() string {
	return c.boundJID
}

// IsConnected returns true while the stream is up.
func (c *Conn) IsConnected() bool {
	return c.connected.Load()
}

// Done is closed when the stream has ended.
func (c *Conn) Done() <-chan struct{} {
	return c.done.Done()
}

// Err returns the error that ended the stream, if any.
func (c *Conn) Err() error {
	c.errMu.Lock()
	defer c.errMu.Unlock()
	return c.err
}

// Stats returns current operational statistics.
func (c *Conn) Stats() Stats {
	return Stats{
		StanzasTx:     c.stanzasTx.Load(),
		StanzasRx:     c.stanzasRx.Load(),
		EventsDropped: c.eventsDropped.Load(),
		ErrorsTotal:   c.errorsTotal.Load(),
		LastActivity:  time.Unix(c.lastActivity.Load(), 0),
		Connected:     c.IsConnected(),
	}
}

// Close ends the stream. The disconnect callback is not invoked.
// Safe to call multiple times.
func (c *Conn) Close() error {
	if c.closing.Swap(true) {
		c.wg.Wait()
		return nil
	}
	if c.connected.Load() {
		_ = c.write([]byte(`</stream:stream>`))
	}
	c.fail(ErrClosed)
	c.wg.Wait()
	c.logInfo("stream closed")
	return nil
}

func (c *Conn) logDebug(msg string, keysAndValues ...any) {
	c.loggerMu.RLock()
	logger := c.logger
	c.loggerMu.RUnlock()

	if logger != nil {
		logger.Debug(msg, keysAndValues...)
	}
}

func (c *Conn) logInfo(msg string, keysAndValues ...any) {
	c.loggerMu.RLock()
	logger := c.logger
	c.loggerMu.RUnlock()

	if logger != nil {
		logger.Info(msg, keysAndValues...)
	}
}

func (c *Conn) logError(msg string, err error) {
	c.loggerMu.RLock()
	logger := c.logger
	c.loggerMu.RUnlock()

	if logger != nil {
		logger.Error(msg, "error", err)
	}
}
