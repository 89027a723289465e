package settings

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

const testDocument = `{
  "flags": {"version": "2.6.0", "serialNumber": "ABB123456789", "hasAP": true, "build": 17},
  "users": [
    {"name": "installer", "jid": "5e1e7d8a@busch-jaeger.de",
     "authmethods": {"SCRAM-SHA-256": {"iterations": 4096, "salt": "WlpaWlpaWlpaWlpaWlpaWlpaWlpaWlpaWlpaWlpaWlo="}}},
    {"name": "legacy", "jid": "0badc0de@busch-jaeger.de", "authmethods": {}}
  ]
}`

func parseTest(t *testing.T) *Document {
	t.Helper()
	doc, err := Parse(strings.NewReader(testDocument))
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	return doc
}

func TestJID(t *testing.T) {
	doc := parseTest(t)

	jid, err := doc.JID("installer")
	if err != nil {
		t.Fatalf("JID() error = %v", err)
	}
	if jid != "5e1e7d8a@busch-jaeger.de" {
		t.Errorf("JID() = %q", jid)
	}

	if _, err := doc.JID("nobody"); !errors.Is(err, ErrUserNotFound) {
		t.Errorf("JID(unknown) error = %v, want ErrUserNotFound", err)
	}
}

func TestFlag(t *testing.T) {
	doc := parseTest(t)

	tests := []struct {
		name    string
		want    string
		wantErr error
	}{
		{name: "version", want: "2.6.0"},
		{name: "serialNumber", want: "ABB123456789"},
		{name: "hasAP", want: "true"},
		{name: "build", want: "17"},
		{name: "missing", wantErr: ErrFlagNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := doc.Flag(tt.name)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Errorf("Flag() error = %v, want %v", err, tt.wantErr)
				}
				return
			}
			if err != nil || got != tt.want {
				t.Errorf("Flag() = %q, %v, want %q", got, err, tt.want)
			}
		})
	}
}

func TestScramSettings(t *testing.T) {
	doc := parseTest(t)

	iters, salt, err := doc.ScramSettings("installer", "SCRAM-SHA-256")
	if err != nil {
		t.Fatalf("ScramSettings() error = %v", err)
	}
	if iters != 4096 {
		t.Errorf("iterations = %d, want 4096", iters)
	}
	if !bytes.Equal(salt, bytes.Repeat([]byte{0x5A}, 32)) {
		t.Errorf("salt = %x", salt)
	}

	if _, _, err := doc.ScramSettings("legacy", "SCRAM-SHA-256"); !errors.Is(err, ErrNoAuthMethod) {
		t.Errorf("ScramSettings(legacy) error = %v, want ErrNoAuthMethod", err)
	}
	if _, _, err := doc.ScramSettings("nobody", "SCRAM-SHA-256"); !errors.Is(err, ErrUserNotFound) {
		t.Errorf("ScramSettings(unknown) error = %v, want ErrUserNotFound", err)
	}
}

func TestParseVersion(t *testing.T) {
	tests := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{in: "2.6.0", want: "2.6.0"},
		{in: "v2.3", want: "2.3"},
		{in: "2.3.1-rc2", want: "2.3.1"},
		{in: " 1.10.4 ", want: "1.10.4"},
		{in: "", wantErr: true},
		{in: "beta", wantErr: true},
		{in: "2..1", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			v, err := ParseVersion(tt.in)
			if tt.wantErr {
				if err == nil {
					t.Errorf("ParseVersion(%q) = %v, want error", tt.in, v)
				}
				return
			}
			if err != nil || v.String() != tt.want {
				t.Errorf("ParseVersion(%q) = %v, %v, want %s", tt.in, v, err, tt.want)
			}
		})
	}
}

func TestVersionLess(t *testing.T) {
	tests := []struct {
		a, b string
		want bool
	}{
		{"2.2.9", "2.3.0", true},
		{"2.3.0", "2.3.0", false},
		{"2.3", "2.3.0", false},
		{"2.10.0", "2.3.0", false},
		{"1.99", "2.0", true},
	}
	for _, tt := range tests {
		a, _ := ParseVersion(tt.a)
		b, _ := ParseVersion(tt.b)
		if got := a.Less(b); got != tt.want {
			t.Errorf("%s < %s = %v, want %v", tt.a, tt.b, got, tt.want)
		}
	}
}

func TestRequiresHandshake(t *testing.T) {
	tests := []struct {
		version string
		want    bool
	}{
		{"2.2.4", false},
		{"2.3.0", true},
		{"2.6.0", true},
	}
	for _, tt := range tests {
		doc := &Document{Flags: map[string]any{"version": tt.version}}
		got, err := doc.RequiresHandshake()
		if err != nil {
			t.Fatalf("RequiresHandshake() error = %v", err)
		}
		if got != tt.want {
			t.Errorf("RequiresHandshake(%s) = %v, want %v", tt.version, got, tt.want)
		}
	}

	if _, err := (&Document{}).RequiresHandshake(); !errors.Is(err, ErrFlagNotFound) {
		t.Errorf("RequiresHandshake() without version error = %v, want ErrFlagNotFound", err)
	}
}

func TestFetch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/settings.json" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(testDocument))
	}))
	defer srv.Close()

	host := strings.TrimPrefix(srv.URL, "http://")
	doc, err := Fetch(context.Background(), srv.Client(), host)
	if err != nil {
		t.Fatalf("Fetch() error = %v", err)
	}
	if len(doc.Users) != 2 {
		t.Errorf("got %d users, want 2", len(doc.Users))
	}
}

func TestFetchErrors(t *testing.T) {
	tests := []struct {
		name    string
		handler http.HandlerFunc
		wantErr error
	}{
		{
			name:    "not found",
			handler: func(w http.ResponseWriter, r *http.Request) { http.NotFound(w, r) },
			wantErr: ErrUnreachable,
		},
		{
			name:    "not json",
			handler: func(w http.ResponseWriter, _ *http.Request) { _, _ = w.Write([]byte("<html/>")) },
			wantErr: ErrInvalidDocument,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(tt.handler)
			defer srv.Close()

			_, err := Fetch(context.Background(), srv.Client(), strings.TrimPrefix(srv.URL, "http://"))
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("Fetch() error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "settings.json")
	if err := os.WriteFile(path, []byte(testDocument), 0o600); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}
	doc, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if v, _ := doc.Version(); v.String() != "2.6.0" {
		t.Errorf("Version() = %v", v)
	}
}
