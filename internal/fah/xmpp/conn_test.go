package xmpp_test

import (
	"context"
	"errors"
	"regexp"
	"strings"
	"testing"
	"time"

	"github.com/nerrad567/gray-logic-fah/internal/fah/fahtest"
	"github.com/nerrad567/gray-logic-fah/internal/fah/rpc"
	"github.com/nerrad567/gray-logic-fah/internal/fah/xmpp"
)

func newServer(t *testing.T, opts ...fahtest.ServerOption) *fahtest.Server {
	t.Helper()
	hub, err := fahtest.NewHub()
	if err != nil {
		t.Fatalf("NewHub() error = %v", err)
	}
	return fahtest.NewServer(t, hub, opts...)
}

func testConfig(srv *fahtest.Server) xmpp.Config {
	return xmpp.Config{
		Host:           srv.Host(),
		Port:           srv.Port(),
		JID:            srv.Hub.JID,
		Password:       srv.Password,
		ConnectTimeout: 5 * time.Second,
		Caps: xmpp.Capabilities{
			Node:     "http://gonicus.de/caps",
			Ver:      "1.1",
			Identity: xmpp.Identity{Category: "client", Type: "pc", Name: "QxXmpp/JSJaC client"},
			Features: []string{"http://jabber.org/protocol/caps", "http://abb.com/protocol/update_encrypted"},
		},
	}
}

func dial(t *testing.T, cfg xmpp.Config) *xmpp.Conn {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	conn, err := xmpp.Dial(ctx, cfg)
	if err != nil {
		t.Fatalf("Dial() error = %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func TestDialBindsRandomResource(t *testing.T) {
	srv := newServer(t)
	conn := dial(t, testConfig(srv))

	if !conn.IsConnected() {
		t.Fatal("IsConnected() = false after Dial")
	}
	re := regexp.MustCompile(`^` + regexp.QuoteMeta(srv.Hub.JID) + `/[0-9a-f]{8}$`)
	if !re.MatchString(conn.JID()) {
		t.Errorf("JID() = %q, want bare jid with 8 hex digit resource", conn.JID())
	}
	if srv.Connects() != 1 {
		t.Errorf("server connects = %d, want 1", srv.Connects())
	}
}

func TestDialMechanisms(t *testing.T) {
	tests := []struct {
		name       string
		mechanisms []string
		password   string
		wantErr    error
	}{
		{name: "scram", mechanisms: []string{"SCRAM-SHA-1", "PLAIN"}},
		{name: "plain fallback", mechanisms: []string{"PLAIN"}},
		{name: "scram wrong password", mechanisms: []string{"SCRAM-SHA-1"}, password: "nope", wantErr: xmpp.ErrAuthFailed},
		{name: "plain wrong password", mechanisms: []string{"PLAIN"}, password: "nope", wantErr: xmpp.ErrAuthFailed},
		{name: "no common mechanism", mechanisms: []string{"DIGEST-MD5"}, wantErr: xmpp.ErrAuthFailed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := newServer(t, fahtest.WithMechanisms(tt.mechanisms...))
			cfg := testConfig(srv)
			if tt.password != "" {
				cfg.Password = tt.password
			}

			conn, err := xmpp.Dial(context.Background(), cfg)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("Dial() error = %v, want %v", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("Dial() error = %v", err)
			}
			conn.Close()
		})
	}
}

func TestDialRefused(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_, err := xmpp.Dial(ctx, xmpp.Config{Host: "127.0.0.1", Port: 1, JID: "a@busch-jaeger.de"})
	if err == nil {
		t.Fatal("Dial() to closed port succeeded")
	}
}

func TestGetRoster(t *testing.T) {
	srv := newServer(t)
	conn := dial(t, testConfig(srv))

	items, err := conn.GetRoster(context.Background())
	if err != nil {
		t.Fatalf("GetRoster() error = %v", err)
	}
	if len(items) != 1 || items[0].JID != "mrha@busch-jaeger.de/rpc" {
		t.Errorf("GetRoster() = %+v, want the rpc actor", items)
	}
}

func TestPing(t *testing.T) {
	srv := newServer(t)
	conn := dial(t, testConfig(srv))

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := conn.Ping(ctx); err != nil {
		t.Errorf("Ping() error = %v", err)
	}
}

func TestSendIQErrorResponse(t *testing.T) {
	srv := newServer(t)
	conn := dial(t, testConfig(srv))

	resp, err := conn.SendIQ(context.Background(), xmpp.IQ{
		Type:    xmpp.IQGet,
		Payload: []byte(`<query xmlns="urn:example:unknown"/>`),
	})
	if !errors.Is(err, xmpp.ErrIQ) {
		t.Fatalf("SendIQ() error = %v, want ErrIQ", err)
	}
	if resp.Error == nil || resp.Error.Condition != "service-unavailable" {
		t.Errorf("resp.Error = %+v, want service-unavailable", resp.Error)
	}
}

func TestSendIQTimeout(t *testing.T) {
	srv := newServer(t)
	release := make(chan struct{})
	t.Cleanup(func() { close(release) })
	srv.Handle("Test.block", func([]rpc.Value) ([]any, error) {
		<-release
		return nil, nil
	})
	conn := dial(t, testConfig(srv))

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	_, err := conn.SendIQ(ctx, xmpp.IQ{
		Type: xmpp.IQSet,
		Payload: []byte(`<query xmlns="jabber:iq:rpc"><methodCall>` +
			`<methodName>Test.block</methodName></methodCall></query>`),
	})
	if !errors.Is(err, xmpp.ErrTimeout) {
		t.Errorf("SendIQ() error = %v, want ErrTimeout", err)
	}
}

func TestAnswersServerQueries(t *testing.T) {
	srv := newServer(t)
	dial(t, testConfig(srv))

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	tests := []struct {
		name     string
		payload  string
		wantType string
		contains []string
	}{
		{
			name:     "ping",
			payload:  `<ping xmlns="urn:xmpp:ping"/>`,
			wantType: "result",
		},
		{
			name:     "disco info",
			payload:  `<query xmlns="http://jabber.org/protocol/disco#info" node="http://gonicus.de/caps#1.1"/>`,
			wantType: "result",
			contains: []string{`category="client"`, `name="QxXmpp/JSJaC client"`, `var="http://abb.com/protocol/update_encrypted"`},
		},
		{
			name:     "unknown",
			payload:  `<query xmlns="urn:example:unknown"/>`,
			wantType: "error",
			contains: []string{"service-unavailable"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			reply, err := srv.Query(ctx, tt.payload)
			if err != nil {
				t.Fatalf("Query() error = %v", err)
			}
			if !strings.HasPrefix(reply, tt.wantType+":") {
				t.Errorf("reply = %q, want type %s", reply, tt.wantType)
			}
			for _, s := range tt.contains {
				if !strings.Contains(reply, s) {
					t.Errorf("reply %q does not contain %q", reply, s)
				}
			}
		})
	}
}

func TestPresence(t *testing.T) {
	srv := newServer(t)
	conn := dial(t, testConfig(srv))

	if err := conn.SendPresence(); err != nil {
		t.Fatalf("SendPresence() error = %v", err)
	}
	if err := conn.Subscribe("mrha@busch-jaeger.de/rpc"); err != nil {
		t.Fatalf("Subscribe() error = %v", err)
	}
	if err := conn.SendCapsPresence(); err != nil {
		t.Fatalf("SendCapsPresence() error = %v", err)
	}

	// A roster round trip orders the presences before it on the server.
	if _, err := conn.GetRoster(context.Background()); err != nil {
		t.Fatalf("GetRoster() error = %v", err)
	}

	got := srv.Presences()
	if len(got) != 3 {
		t.Fatalf("server saw %d presences, want 3: %q", len(got), got)
	}
	if !strings.Contains(got[1], "to=mrha@busch-jaeger.de/rpc type=subscribe") {
		t.Errorf("subscription presence = %q", got[1])
	}
	if !strings.Contains(got[2], `ver="1.1"`) || !strings.Contains(got[2], `node="http://gonicus.de/caps"`) {
		t.Errorf("caps presence = %q", got[2])
	}
}

func TestPubSubDelivery(t *testing.T) {
	srv := newServer(t)
	conn := dial(t, testConfig(srv))

	got := make(chan []xmpp.PubSubItem, 1)
	conn.SetOnPubSub(func(items []xmpp.PubSubItem) { got <- items })

	if err := srv.Publish(fahtest.NodeUpdate, `<project><devices/></project>`); err != nil {
		t.Fatalf("Publish() error = %v", err)
	}

	select {
	case items := <-got:
		if len(items) != 1 {
			t.Fatalf("got %d items, want 1", len(items))
		}
		it := items[0]
		if it.Node != fahtest.NodeUpdate || it.Namespace != fahtest.NodeUpdate {
			t.Errorf("item node/namespace = %q/%q", it.Node, it.Namespace)
		}
		if len(it.Data) != 1 || it.Data[0] != `<project><devices/></project>` {
			t.Errorf("item data = %q", it.Data)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("pub-sub event not delivered")
	}
}

func TestPubSubCallbackPanicIsRecovered(t *testing.T) {
	srv := newServer(t)
	conn := dial(t, testConfig(srv))

	calls := make(chan struct{}, 2)
	conn.SetOnPubSub(func([]xmpp.PubSubItem) {
		calls <- struct{}{}
		panic("handler bug")
	})

	for range 2 {
		if err := srv.Publish(fahtest.NodeUpdate, "x"); err != nil {
			t.Fatalf("Publish() error = %v", err)
		}
	}
	for i := range 2 {
		select {
		case <-calls:
		case <-time.After(2 * time.Second):
			t.Fatalf("callback %d not invoked", i)
		}
	}
	if !conn.IsConnected() {
		t.Error("connection dropped after callback panic")
	}
}

func TestDisconnectCallback(t *testing.T) {
	srv := newServer(t)
	conn := dial(t, testConfig(srv))

	lost := make(chan error, 1)
	conn.SetOnDisconnect(func(err error) { lost <- err })

	srv.Kick()

	select {
	case err := <-lost:
		if err == nil {
			t.Error("disconnect callback got nil error")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("disconnect callback not invoked")
	}

	<-conn.Done()
	if conn.IsConnected() {
		t.Error("IsConnected() = true after disconnect")
	}
	if _, err := conn.SendIQ(context.Background(), xmpp.IQ{Type: xmpp.IQGet}); !errors.Is(err, xmpp.ErrNotConnected) {
		t.Errorf("SendIQ() after disconnect error = %v, want ErrNotConnected", err)
	}
}

func TestCloseDoesNotReportDisconnect(t *testing.T) {
	srv := newServer(t)
	conn := dial(t, testConfig(srv))

	lost := make(chan error, 1)
	conn.SetOnDisconnect(func(err error) { lost <- err })

	if err := conn.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if err := conn.Close(); err != nil {
		t.Fatalf("second Close() error = %v", err)
	}

	select {
	case err := <-lost:
		t.Errorf("disconnect callback invoked after Close: %v", err)
	case <-time.After(100 * time.Millisecond):
	}
	if !errors.Is(conn.Err(), xmpp.ErrClosed) {
		t.Errorf("Err() = %v, want ErrClosed", conn.Err())
	}
}

func TestStats(t *testing.T) {
	srv := newServer(t)
	conn := dial(t, testConfig(srv))

	if err := conn.Ping(context.Background()); err != nil {
		t.Fatalf("Ping() error = %v", err)
	}
	stats := conn.Stats()
	if !stats.Connected {
		t.Error("Stats().Connected = false")
	}
	if stats.StanzasTx == 0 || stats.StanzasRx == 0 {
		t.Errorf("Stats() = %+v, want traffic counted", stats)
	}
}
