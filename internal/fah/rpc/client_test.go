package rpc_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/nerrad567/gray-logic-fah/internal/fah/fahtest"
	"github.com/nerrad567/gray-logic-fah/internal/fah/rpc"
	"github.com/nerrad567/gray-logic-fah/internal/fah/xmpp"
)

// mockTransport answers calls with a canned response.
type mockTransport struct {
	mu       sync.Mutex
	sent     []xmpp.IQ
	response []byte
	err      error
	deadline bool
}

func (m *mockTransport) SendIQ(ctx context.Context, iq xmpp.IQ) (xmpp.IQ, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sent = append(m.sent, iq)
	_, m.deadline = ctx.Deadline()
	if m.err != nil {
		return xmpp.IQ{}, m.err
	}
	return xmpp.IQ{Type: xmpp.IQResult, Payload: m.response}, nil
}

func respond(t *testing.T, args ...any) []byte {
	t.Helper()
	out, err := rpc.EncodeResponse(args...)
	if err != nil {
		t.Fatalf("EncodeResponse() error = %v", err)
	}
	return out
}

func TestCallAddressesActor(t *testing.T) {
	tr := &mockTransport{response: respond(t, "OK")}
	c := rpc.NewClient(tr, 0)

	got, err := c.SetDatapoint(context.Background(), "ABB700D12345/ch0003/idp0000", "1")
	if err != nil {
		t.Fatalf("SetDatapoint() error = %v", err)
	}
	if got != "OK" {
		t.Errorf("SetDatapoint() = %q, want OK", got)
	}
	if len(tr.sent) != 1 {
		t.Fatalf("sent %d IQs, want 1", len(tr.sent))
	}
	iq := tr.sent[0]
	if iq.To != rpc.ActorJID || iq.Type != xmpp.IQSet {
		t.Errorf("iq to/type = %q/%q", iq.To, iq.Type)
	}
	if !tr.deadline {
		t.Error("call without deadline was not bounded by the default timeout")
	}

	method, args, err := rpc.DecodeCall(iq.Payload)
	if err != nil {
		t.Fatalf("DecodeCall() error = %v", err)
	}
	if method != rpc.MethodSetDatapoint || len(args) != 2 || args[0].String != "ABB700D12345/ch0003/idp0000" {
		t.Errorf("call = %s %+v", method, args)
	}
}

func TestCallKeepsCallerDeadline(t *testing.T) {
	tr := &mockTransport{response: respond(t, "OK")}
	c := rpc.NewClient(tr, time.Hour)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if _, err := c.SetParameter(ctx, "ABB700D12345/ch0000/par0001", "5"); err != nil {
		t.Fatalf("SetParameter() error = %v", err)
	}
	method, _, _ := rpc.DecodeCall(tr.sent[0].Payload)
	if method != rpc.MethodSetParameter {
		t.Errorf("method = %q, want %q", method, rpc.MethodSetParameter)
	}
}

func TestCallErrors(t *testing.T) {
	fault, err := rpc.EncodeFault(7, "bad address")
	if err != nil {
		t.Fatalf("EncodeFault() error = %v", err)
	}

	tests := []struct {
		name    string
		tr      *mockTransport
		wantErr error
	}{
		{name: "transport", tr: &mockTransport{err: xmpp.ErrNotConnected}, wantErr: xmpp.ErrNotConnected},
		{name: "fault", tr: &mockTransport{response: fault}, wantErr: rpc.ErrFault},
		{name: "malformed", tr: &mockTransport{response: []byte("junk")}, wantErr: rpc.ErrMalformed},
		{name: "empty", tr: &mockTransport{response: respond(t)}, wantErr: rpc.ErrEmptyResponse},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := rpc.NewClient(tt.tr, 0)
			_, err := c.CryptMessage(context.Background(), []byte{1})
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("CryptMessage() error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestExchangeLocalKeysArguments(t *testing.T) {
	tr := &mockTransport{response: respond(t, rpc.Base64("reply"))}
	c := rpc.NewClient(tr, 0)

	got, err := c.ExchangeLocalKeys(context.Background(), "jid@busch-jaeger.de", []byte{1, 2, 3}, "SCRAM-SHA-256")
	if err != nil {
		t.Fatalf("ExchangeLocalKeys() error = %v", err)
	}
	if string(got) != "reply" {
		t.Errorf("ExchangeLocalKeys() = %q", got)
	}

	method, args, err := rpc.DecodeCall(tr.sent[0].Payload)
	if err != nil {
		t.Fatalf("DecodeCall() error = %v", err)
	}
	if method != rpc.MethodExchangeLocalKeys || len(args) != 4 {
		t.Fatalf("call = %s %+v", method, args)
	}
	if args[0].String != "jid@busch-jaeger.de" || args[1].Kind != rpc.KindBase64 ||
		string(args[1].Bytes) != "\x01\x02\x03" || args[2].String != "SCRAM-SHA-256" || args[3].Int != 0 {
		t.Errorf("args = %+v", args)
	}
}

func TestGetAllOverStream(t *testing.T) {
	hub, err := fahtest.NewHub()
	if err != nil {
		t.Fatalf("NewHub() error = %v", err)
	}
	srv := fahtest.NewServer(t, hub)
	srv.Config = `<project><devices/></project>`

	conn, err := xmpp.Dial(context.Background(), xmpp.Config{
		Host:     srv.Host(),
		Port:     srv.Port(),
		JID:      hub.JID,
		Password: srv.Password,
	})
	if err != nil {
		t.Fatalf("Dial() error = %v", err)
	}
	defer conn.Close()

	c := rpc.NewClient(conn, 5*time.Second)
	got, err := c.GetAll(context.Background(), true)
	if err != nil {
		t.Fatalf("GetAll() error = %v", err)
	}
	if got != srv.Config {
		t.Errorf("GetAll() = %q, want %q", got, srv.Config)
	}

	calls := srv.Calls(rpc.MethodGetAll)
	if len(calls) != 1 {
		t.Fatalf("server saw %d getAll calls, want 1", len(calls))
	}
	args := calls[0].Args
	if len(args) != 4 || args[0].String != "de" || args[1].Int != 2 || args[2].Int != 1 || args[3].Int != 0 {
		t.Errorf("getAll args = %+v", args)
	}
}

func TestConcurrentCallsOverStream(t *testing.T) {
	hub, err := fahtest.NewHub()
	if err != nil {
		t.Fatalf("NewHub() error = %v", err)
	}
	srv := fahtest.NewServer(t, hub)
	srv.Handle(rpc.MethodSetDatapoint, func(args []rpc.Value) ([]any, error) {
		return []any{args[1].String}, nil
	})

	conn, err := xmpp.Dial(context.Background(), xmpp.Config{
		Host: srv.Host(), Port: srv.Port(), JID: hub.JID, Password: srv.Password,
	})
	if err != nil {
		t.Fatalf("Dial() error = %v", err)
	}
	defer conn.Close()
	c := rpc.NewClient(conn, 5*time.Second)

	values := []string{"0", "1", "2", "3", "4", "5", "6", "7"}
	var wg sync.WaitGroup
	errs := make(chan error, len(values))
	for _, v := range values {
		wg.Add(1)
		go func() {
			defer wg.Done()
			got, err := c.SetDatapoint(context.Background(), "ABB700D12345/ch0000/idp0000", v)
			if err != nil {
				errs <- err
				return
			}
			if got != v {
				errs <- errors.New("response for " + v + " was " + got)
			}
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Error(err)
	}
}
