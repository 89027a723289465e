package fahtest

import (
	"bufio"
	"context"
	"encoding/base64"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"net"
	"strconv"
	"strings"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/xdg-go/scram"

	"github.com/nerrad567/gray-logic-fah/internal/fah/rpc"
	"github.com/nerrad567/gray-logic-fah/internal/fah/secure"
)

// Node and namespace of the hub's update streams.
const (
	NodeUpdate          = "http://abb.com/protocol/update"
	NodeUpdateEncrypted = "http://abb.com/protocol/update_encrypted"
)

// RPCHandler answers one remote method. Returning a *rpc.Fault sends a
// fault response; any other error is sent as fault 1.
type RPCHandler func(args []rpc.Value) ([]any, error)

// Call is a recorded RPC request.
type Call struct {
	Method string
	Args   []rpc.Value
}

// Server is a loopback XMPP server speaking enough of the SysAP stream and
// RPC surface for client tests. The default handlers route key exchange
// and crypted messages to Hub.
type Server struct {
	Hub *Hub

	// User and Password accepted by stream SASL.
	User     string
	Password string

	// Config is returned by getAll.
	Config string

	ln         net.Listener
	mechanisms []string

	mu          sync.Mutex
	handlers    map[string]RPCHandler
	calls       []Call
	presences   []string
	conns       map[*serverConn]struct{}
	connects    int
	connectedCh chan struct{}

	wg sync.WaitGroup
}

// ServerOption configures a Server before it starts accepting.
type ServerOption func(*Server)

// WithMechanisms sets the SASL mechanisms offered in stream features.
func WithMechanisms(mechanisms ...string) ServerOption {
	return func(s *Server) { s.mechanisms = mechanisms }
}

// NewServer starts a Server on a loopback port. It is closed when the test ends.
func NewServer(t testing.TB, hub *Hub, opts ...ServerOption) *Server {
	t.Helper()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	s := &Server{
		Hub:         hub,
		User:        localpart(hub.JID),
		Password:    hub.Password,
		ln:          ln,
		mechanisms:  []string{"SCRAM-SHA-1", "PLAIN"},
		handlers:    make(map[string]RPCHandler),
		conns:       make(map[*serverConn]struct{}),
		connectedCh: make(chan struct{}, 16),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.installDefaults()

	s.wg.Add(1)
	go s.acceptLoop()
	t.Cleanup(s.Close)
	return s
}

// Host returns the listener host.
func (s *Server) Host() string {
	host, _, _ := net.SplitHostPort(s.ln.Addr().String())
	return host
}

// Port returns the listener port.
func (s *Server) Port() int {
	_, port, _ := net.SplitHostPort(s.ln.Addr().String())
	n, _ := strconv.Atoi(port)
	return n
}

// Handle replaces the handler for method.
func (s *Server) Handle(method string, h RPCHandler) {
	s.mu.Lock()
	s.handlers[method] = h
	s.mu.Unlock()
}

// Calls returns the recorded RPC calls to method, or all calls when
// method is empty.
func (s *Server) Calls(method string) []Call {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Call
	for _, c := range s.calls {
		if method == "" || c.Method == method {
			out = append(out, c)
		}
	}
	return out
}

// Presences returns the raw presence stanzas received.
func (s *Server) Presences() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.presences...)
}

// Connects returns the number of streams that completed binding.
func (s *Server) Connects() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.connects
}

// WaitBound blocks until a client binds a resource or ctx ends.
func (s *Server) WaitBound(ctx context.Context) error {
	select {
	case <-s.connectedCh:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Publish sends a pub-sub event with one item to every bound client.
func (s *Server) Publish(node string, data ...string) error {
	var b strings.Builder
	fmt.Fprintf(&b, `<message from="mrha@busch-jaeger.de"><event xmlns="http://jabber.org/protocol/pubsub#event">`+
		`<items node=%q><item id=%q><update xmlns=%q>`, node, uuid.NewString(), node)
	for _, d := range data {
		b.WriteString("<data>")
		_ = xml.EscapeText(&b, []byte(d))
		b.WriteString("</data>")
	}
	b.WriteString(`</update></item></items></event></message>`)

	for _, c := range s.bound() {
		if err := c.write(b.String()); err != nil {
			return err
		}
	}
	return nil
}

// Query sends an IQ get with payload to the first bound client and returns
// the raw reply stanza.
func (s *Server) Query(ctx context.Context, payload string) (string, error) {
	conns := s.bound()
	if len(conns) == 0 {
		return "", errors.New("no bound client")
	}
	return conns[0].query(ctx, payload)
}

// Kick drops every client connection.
func (s *Server) Kick() {
	s.mu.Lock()
	conns := make([]*serverConn, 0, len(s.conns))
	for c := range s.conns {
		conns = append(conns, c)
	}
	s.mu.Unlock()
	for _, c := range conns {
		c.nc.Close()
	}
}

// Close stops the listener and drops all connections.
func (s *Server) Close() {
	s.ln.Close()
	s.Kick()
	s.wg.Wait()
}

func (s *Server) bound() []*serverConn {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*serverConn
	for c := range s.conns {
		if c.jid != "" {
			out = append(out, c)
		}
	}
	return out
}

func (s *Server) installDefaults() {
	s.handlers[rpc.MethodExchangeLocalKeys] = func(args []rpc.Value) ([]any, error) {
		if len(args) < 2 {
			return nil, &rpc.Fault{Code: 1, String: "missing arguments"}
		}
		resp, err := s.Hub.KeyExchange(args[1].Bytes)
		if err != nil {
			return nil, &rpc.Fault{Code: 2, String: err.Error()}
		}
		return []any{rpc.Base64(resp)}, nil
	}
	s.handlers[rpc.MethodCryptMessage] = func(args []rpc.Value) ([]any, error) {
		if len(args) < 1 || len(args[0].Bytes) == 0 {
			return nil, &rpc.Fault{Code: 1, String: "missing payload"}
		}
		payload := args[0].Bytes
		var (
			resp []byte
			err  error
		)
		if secure.MsgID(payload[0]) == secure.MsgNewSession {
			resp, err = s.Hub.NewSession(payload)
		} else {
			resp, err = s.Hub.Exchange(payload)
		}
		if err != nil {
			return nil, &rpc.Fault{Code: 2, String: err.Error()}
		}
		return []any{rpc.Base64(resp)}, nil
	}
	s.handlers[rpc.MethodGetAll] = func([]rpc.Value) ([]any, error) {
		s.mu.Lock()
		defer s.mu.Unlock()
		return []any{s.Config}, nil
	}
	ok := func([]rpc.Value) ([]any, error) { return []any{"OK"}, nil }
	s.handlers[rpc.MethodSetDatapoint] = ok
	s.handlers[rpc.MethodSetParameter] = ok
}

func (s *Server) acceptLoop() {
	defer s.wg.Done()
	for {
		nc, err := s.ln.Accept()
		if err != nil {
			return
		}
		c := &serverConn{srv: s, nc: nc, r: bufio.NewReader(nc), pending: make(map[string]chan string)}
		s.mu.Lock()
		s.conns[c] = struct{}{}
		s.mu.Unlock()
		// A new stream means fresh transport keys.
		if s.Hub != nil {
			s.Hub.Reset()
		}

		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			c.serve()
			nc.Close()
			s.mu.Lock()
			delete(s.conns, c)
			s.mu.Unlock()
		}()
	}
}

type serverConn struct {
	srv *Server
	nc  net.Conn
	r   *bufio.Reader
	dec *xml.Decoder
	jid string

	writeMu   sync.Mutex
	pendingMu sync.Mutex
	pending   map[string]chan string
}

func (c *serverConn) write(s string) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_, err := io.WriteString(c.nc, s)
	return err
}

func (c *serverConn) serve() {
	if err := c.openStream(c.mechanismFeatures()); err != nil {
		return
	}
	if !c.authenticate() {
		return
	}
	if err := c.openStream(`<bind xmlns="urn:ietf:params:xml:ns:xmpp-bind"/>` +
		`<session xmlns="urn:ietf:params:xml:ns:xmpp-session"/>`); err != nil {
		return
	}
	c.stanzaLoop()
}

func (c *serverConn) mechanismFeatures() string {
	var b strings.Builder
	b.WriteString(`<mechanisms xmlns="urn:ietf:params:xml:ns:xmpp-sasl">`)
	for _, m := range c.srv.mechanisms {
		fmt.Fprintf(&b, "<mechanism>%s</mechanism>", m)
	}
	b.WriteString(`</mechanisms>`)
	return b.String()
}

// openStream reads the client's stream header and answers with features.
func (c *serverConn) openStream(features string) error {
	c.dec = xml.NewDecoder(c.r)
	for {
		tok, err := c.dec.Token()
		if err != nil {
			return err
		}
		if start, ok := tok.(xml.StartElement); ok && start.Name.Local == "stream" {
			break
		}
	}
	return c.write(`<?xml version="1.0"?><stream:stream xmlns="jabber:client" ` +
		`xmlns:stream="http://etherx.jabber.org/streams" id="` + uuid.NewString() +
		`" from="busch-jaeger.de" version="1.0"><stream:features>` + features + `</stream:features>`)
}

func (c *serverConn) next() (xml.StartElement, error) {
	for {
		tok, err := c.dec.Token()
		if err != nil {
			return xml.StartElement{}, err
		}
		switch t := tok.(type) {
		case xml.StartElement:
			return t, nil
		case xml.EndElement:
			return xml.StartElement{}, io.EOF
		}
	}
}

type saslIn struct {
	XMLName   xml.Name
	Mechanism string `xml:"mechanism,attr"`
	Body      string `xml:",chardata"`
}

func (c *serverConn) readSASL() (*saslIn, []byte, error) {
	start, err := c.next()
	if err != nil {
		return nil, nil, err
	}
	var in saslIn
	if err := c.dec.DecodeElement(&in, &start); err != nil {
		return nil, nil, err
	}
	data, err := base64.StdEncoding.DecodeString(strings.TrimSpace(in.Body))
	if err != nil {
		return nil, nil, err
	}
	return &in, data, nil
}

func (c *serverConn) saslFailure() bool {
	_ = c.write(`<failure xmlns="urn:ietf:params:xml:ns:xmpp-sasl"><not-authorized/></failure>`)
	return false
}

func (c *serverConn) authenticate() bool {
	in, data, err := c.readSASL()
	if err != nil || in.XMLName.Local != "auth" {
		return false
	}

	switch in.Mechanism {
	case "PLAIN":
		parts := strings.Split(string(data), "\x00")
		if len(parts) != 3 || parts[1] != c.srv.User || parts[2] != c.srv.Password {
			return c.saslFailure()
		}
		return c.write(`<success xmlns="urn:ietf:params:xml:ns:xmpp-sasl"/>`) == nil

	case "SCRAM-SHA-1":
		client, err := scram.SHA1.NewClient(c.srv.User, c.srv.Password, "")
		if err != nil {
			return c.saslFailure()
		}
		creds := client.GetStoredCredentials(scram.KeyFactors{Salt: "fahtest-salt", Iters: 4096})
		server, err := scram.SHA1.NewServer(func(user string) (scram.StoredCredentials, error) {
			if user != c.srv.User {
				return scram.StoredCredentials{}, errors.New("unknown user")
			}
			return creds, nil
		})
		if err != nil {
			return c.saslFailure()
		}
		conv := server.NewConversation()
		msg := string(data)
		for {
			out, err := conv.Step(msg)
			if err != nil {
				return c.saslFailure()
			}
			if conv.Done() {
				if !conv.Valid() {
					return c.saslFailure()
				}
				return c.write(`<success xmlns="urn:ietf:params:xml:ns:xmpp-sasl">`+
					base64.StdEncoding.EncodeToString([]byte(out))+`</success>`) == nil
			}
			if err := c.write(`<challenge xmlns="urn:ietf:params:xml:ns:xmpp-sasl">` +
				base64.StdEncoding.EncodeToString([]byte(out)) + `</challenge>`); err != nil {
				return false
			}
			_, data, err := c.readSASL()
			if err != nil {
				return false
			}
			msg = string(data)
		}

	default:
		return c.saslFailure()
	}
}

type serverIQ struct {
	XMLName xml.Name `xml:"iq"`
	ID      string   `xml:"id,attr"`
	Type    string   `xml:"type,attr"`
	To      string   `xml:"to,attr"`
	Inner   string   `xml:",innerxml"`
	Bind    *struct {
		Resource string `xml:"resource"`
	} `xml:"urn:ietf:params:xml:ns:xmpp-bind bind"`
	Session *struct{} `xml:"urn:ietf:params:xml:ns:xmpp-session session"`
	Roster  *struct{} `xml:"jabber:iq:roster query"`
	Ping    *struct{} `xml:"urn:xmpp:ping ping"`
	RPC     *struct{} `xml:"jabber:iq:rpc query"`
}

func (c *serverConn) stanzaLoop() {
	for {
		start, err := c.next()
		if err != nil {
			return
		}
		switch start.Name.Local {
		case "iq":
			var iq serverIQ
			if err := c.dec.DecodeElement(&iq, &start); err != nil {
				return
			}
			if !c.handleIQ(&iq) {
				return
			}
		case "presence":
			var raw struct {
				Inner string `xml:",innerxml"`
				To    string `xml:"to,attr"`
				Type  string `xml:"type,attr"`
			}
			if err := c.dec.DecodeElement(&raw, &start); err != nil {
				return
			}
			c.srv.mu.Lock()
			c.srv.presences = append(c.srv.presences,
				fmt.Sprintf("to=%s type=%s %s", raw.To, raw.Type, raw.Inner))
			c.srv.mu.Unlock()
		default:
			if err := c.dec.Skip(); err != nil {
				return
			}
		}
	}
}

func (c *serverConn) result(id, inner string) bool {
	return c.write(`<iq type="result" id="`+id+`">`+inner+`</iq>`) == nil
}

func (c *serverConn) handleIQ(iq *serverIQ) bool {
	switch iq.Type {
	case "result", "error":
		c.pendingMu.Lock()
		ch, ok := c.pending[iq.ID]
		delete(c.pending, iq.ID)
		c.pendingMu.Unlock()
		if ok {
			ch <- iq.Type + ":" + iq.Inner
		}
		return true
	}

	switch {
	case iq.Bind != nil:
		res := iq.Bind.Resource
		if res == "" {
			res = "fahtest"
		}
		c.jid = c.srv.Hub.JID + "/" + res
		ok := c.result(iq.ID, `<bind xmlns="urn:ietf:params:xml:ns:xmpp-bind"><jid>`+c.jid+`</jid></bind>`)
		c.srv.mu.Lock()
		c.srv.connects++
		c.srv.mu.Unlock()
		select {
		case c.srv.connectedCh <- struct{}{}:
		default:
		}
		return ok
	case iq.Session != nil, iq.Ping != nil:
		return c.result(iq.ID, "")
	case iq.Roster != nil:
		return c.result(iq.ID, `<query xmlns="jabber:iq:roster">`+
			`<item jid="mrha@busch-jaeger.de/rpc" name="rpc" subscription="both"/></query>`)
	case iq.RPC != nil:
		return c.result(iq.ID, c.srv.dispatch([]byte(iq.Inner)))
	default:
		return c.write(`<iq type="error" id="` + iq.ID + `"><error type="cancel">` +
			`<service-unavailable xmlns="urn:ietf:params:xml:ns:xmpp-stanzas"/></error></iq>`) == nil
	}
}

func (s *Server) dispatch(payload []byte) string {
	method, args, err := rpc.DecodeCall(payload)
	if err != nil {
		out, _ := rpc.EncodeFault(1, err.Error())
		return string(out)
	}

	s.mu.Lock()
	s.calls = append(s.calls, Call{Method: method, Args: args})
	h := s.handlers[method]
	s.mu.Unlock()

	if h == nil {
		out, _ := rpc.EncodeFault(1, "unknown method "+method)
		return string(out)
	}
	values, err := h(args)
	if err != nil {
		var f *rpc.Fault
		if !errors.As(err, &f) {
			f = &rpc.Fault{Code: 1, String: err.Error()}
		}
		out, _ := rpc.EncodeFault(int(f.Code), f.String)
		return string(out)
	}
	out, err := rpc.EncodeResponse(values...)
	if err != nil {
		out, _ = rpc.EncodeFault(1, err.Error())
	}
	return string(out)
}

func (c *serverConn) query(ctx context.Context, payload string) (string, error) {
	id := uuid.NewString()
	ch := make(chan string, 1)
	c.pendingMu.Lock()
	c.pending[id] = ch
	c.pendingMu.Unlock()

	if err := c.write(`<iq type="get" id="` + id + `" to="` + c.jid + `">` + payload + `</iq>`); err != nil {
		return "", err
	}
	select {
	case reply := <-ch:
		return reply, nil
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

func localpart(jid string) string {
	if i := strings.IndexByte(jid, '@'); i >= 0 {
		return jid[:i]
	}
	return jid
}
