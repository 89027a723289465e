package rpc

import (
	"errors"
	"strings"
	"testing"
)

func TestEncodeCall(t *testing.T) {
	payload, err := EncodeCall("RemoteInterface.setDatapoint", "ABB700D12345/ch0003/idp0000", "1")
	if err != nil {
		t.Fatalf("EncodeCall() error = %v", err)
	}
	want := `<query xmlns="jabber:iq:rpc"><methodCall><methodName>RemoteInterface.setDatapoint</methodName>` +
		`<params><param><value><string>ABB700D12345/ch0003/idp0000</string></value></param>` +
		`<param><value><string>1</string></value></param></params></methodCall></query>`
	if string(payload) != want {
		t.Errorf("EncodeCall() =\n%s\nwant\n%s", payload, want)
	}
}

func TestEncodeCallArgumentTypes(t *testing.T) {
	payload, err := EncodeCall("m", 7, int64(-2), uint32(9), true, 1.5, Base64{0xde, 0xad})
	if err != nil {
		t.Fatalf("EncodeCall() error = %v", err)
	}
	for _, want := range []string{
		"<i4>7</i4>", "<i4>-2</i4>", "<i4>9</i4>", "<boolean>1</boolean>",
		"<double>1.5</double>", "<base64>3q0=</base64>",
	} {
		if !strings.Contains(string(payload), want) {
			t.Errorf("payload %s does not contain %s", payload, want)
		}
	}

	if _, err := EncodeCall("m", struct{}{}); !errors.Is(err, ErrMalformed) {
		t.Errorf("EncodeCall(struct) error = %v, want ErrMalformed", err)
	}
}

func TestDecodeCallRoundTrip(t *testing.T) {
	payload, err := EncodeCall("RemoteInterface.cryptExchangeLocalKeys2",
		"jid@busch-jaeger.de", Base64("key"), "SCRAM-SHA-256", 0)
	if err != nil {
		t.Fatalf("EncodeCall() error = %v", err)
	}
	method, args, err := DecodeCall(payload)
	if err != nil {
		t.Fatalf("DecodeCall() error = %v", err)
	}
	if method != "RemoteInterface.cryptExchangeLocalKeys2" {
		t.Errorf("method = %q", method)
	}
	if len(args) != 4 {
		t.Fatalf("got %d args, want 4", len(args))
	}
	if args[0].String != "jid@busch-jaeger.de" || string(args[1].Bytes) != "key" ||
		args[2].String != "SCRAM-SHA-256" || args[3].Int != 0 || args[3].Kind != KindInt {
		t.Errorf("args = %+v", args)
	}
}

func TestDecodeResponse(t *testing.T) {
	tests := []struct {
		name    string
		payload string
		want    Value
	}{
		{
			name:    "string",
			payload: `<query xmlns="jabber:iq:rpc"><methodResponse><params><param><value><string>OK</string></value></param></params></methodResponse></query>`,
			want:    Value{Kind: KindString, String: "OK"},
		},
		{
			name:    "untyped is string",
			payload: `<query xmlns="jabber:iq:rpc"><methodResponse><params><param><value>raw</value></param></params></methodResponse></query>`,
			want:    Value{Kind: KindString, String: "raw"},
		},
		{
			name:    "int",
			payload: `<query xmlns="jabber:iq:rpc"><methodResponse><params><param><value><int> 42 </int></value></param></params></methodResponse></query>`,
			want:    Value{Kind: KindInt, Int: 42},
		},
		{
			name:    "boolean",
			payload: `<query xmlns="jabber:iq:rpc"><methodResponse><params><param><value><boolean>1</boolean></value></param></params></methodResponse></query>`,
			want:    Value{Kind: KindBool, Bool: true},
		},
		{
			name:    "wrapped base64",
			payload: "<query xmlns=\"jabber:iq:rpc\"><methodResponse><params><param><value><base64>aGVs\nbG8=</base64></value></param></params></methodResponse></query>",
			want:    Value{Kind: KindBase64, Bytes: []byte("hello")},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			values, err := DecodeResponse([]byte(tt.payload))
			if err != nil {
				t.Fatalf("DecodeResponse() error = %v", err)
			}
			if len(values) != 1 {
				t.Fatalf("got %d values, want 1", len(values))
			}
			got := values[0]
			if got.Kind != tt.want.Kind || got.String != tt.want.String || got.Int != tt.want.Int ||
				got.Bool != tt.want.Bool || string(got.Bytes) != string(tt.want.Bytes) {
				t.Errorf("value = %+v, want %+v", got, tt.want)
			}
		})
	}
}

func TestDecodeResponseFault(t *testing.T) {
	payload, err := EncodeFault(25, "already paired")
	if err != nil {
		t.Fatalf("EncodeFault() error = %v", err)
	}
	_, err = DecodeResponse(payload)
	if !errors.Is(err, ErrFault) {
		t.Fatalf("DecodeResponse() error = %v, want ErrFault", err)
	}
	var f *Fault
	if !errors.As(err, &f) {
		t.Fatalf("error %T is not *Fault", err)
	}
	if f.Code != 25 || f.String != "already paired" {
		t.Errorf("fault = %+v", f)
	}
}

func TestDecodeResponseMalformed(t *testing.T) {
	tests := []struct {
		name    string
		payload string
	}{
		{"not xml", "<<<"},
		{"no response", `<query xmlns="jabber:iq:rpc"/>`},
		{"bad int", `<query xmlns="jabber:iq:rpc"><methodResponse><params><param><value><int>x</int></value></param></params></methodResponse></query>`},
		{"bad base64", `<query xmlns="jabber:iq:rpc"><methodResponse><params><param><value><base64>!!</base64></value></param></params></methodResponse></query>`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := DecodeResponse([]byte(tt.payload)); !errors.Is(err, ErrMalformed) {
				t.Errorf("DecodeResponse() error = %v, want ErrMalformed", err)
			}
		})
	}
}

func TestValueText(t *testing.T) {
	tests := []struct {
		v    Value
		want string
	}{
		{Value{Kind: KindString, String: "a"}, "a"},
		{Value{Kind: KindInt, Int: -3}, "-3"},
		{Value{Kind: KindBool, Bool: true}, "1"},
		{Value{Kind: KindBool}, "0"},
		{Value{Kind: KindDouble, Double: 21.5}, "21.5"},
		{Value{Kind: KindBase64, Bytes: []byte("<x/>")}, "<x/>"},
	}
	for _, tt := range tests {
		if got := tt.v.Text(); got != tt.want {
			t.Errorf("Text(%+v) = %q, want %q", tt.v, got, tt.want)
		}
	}
}
