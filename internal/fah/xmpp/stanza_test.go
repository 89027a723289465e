package xmpp

import (
	"encoding/xml"
	"testing"
)

func TestStanzaErrorUnmarshal(t *testing.T) {
	tests := []struct {
		name          string
		raw           string
		wantType      string
		wantCondition string
		wantText      string
	}{
		{
			name:          "condition only",
			raw:           `<error type="cancel"><item-not-found xmlns="urn:ietf:params:xml:ns:xmpp-stanzas"/></error>`,
			wantType:      "cancel",
			wantCondition: "item-not-found",
		},
		{
			name: "condition and text",
			raw: `<error type="auth" code="401"><not-authorized xmlns="urn:ietf:params:xml:ns:xmpp-stanzas"/>` +
				`<text xmlns="urn:ietf:params:xml:ns:xmpp-stanzas">login first</text></error>`,
			wantType:      "auth",
			wantCondition: "not-authorized",
			wantText:      "login first",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var e StanzaError
			if err := xml.Unmarshal([]byte(tt.raw), &e); err != nil {
				t.Fatalf("Unmarshal() error = %v", err)
			}
			if e.Type != tt.wantType || e.Condition != tt.wantCondition || e.Text != tt.wantText {
				t.Errorf("got %+v", e)
			}
			if e.Error() == "" {
				t.Error("Error() is empty")
			}
		})
	}
}

func TestMessageItems(t *testing.T) {
	raw := `<message from="mrha@busch-jaeger.de">
<event xmlns="http://jabber.org/protocol/pubsub#event">
 <items node="http://abb.com/protocol/update_encrypted">
  <item id="1"><update xmlns="http://abb.com/protocol/update_encrypted"><data>AAA=</data><data>BBB=</data></update></item>
  <item id="2"><update xmlns="http://abb.com/protocol/update_encrypted"><data>CCC=</data></update></item>
 </items>
</event></message>`

	var m messageIn
	if err := xml.Unmarshal([]byte(raw), &m); err != nil {
		t.Fatalf("Unmarshal() error = %v", err)
	}
	items := m.items()
	if len(items) != 2 {
		t.Fatalf("items() returned %d items, want 2", len(items))
	}
	if items[0].Node != "http://abb.com/protocol/update_encrypted" {
		t.Errorf("Node = %q", items[0].Node)
	}
	if items[0].Namespace != "http://abb.com/protocol/update_encrypted" {
		t.Errorf("Namespace = %q", items[0].Namespace)
	}
	if len(items[0].Data) != 2 || items[0].Data[1] != "BBB=" {
		t.Errorf("Data = %q", items[0].Data)
	}
	if items[1].ID != "2" || items[1].Data[0] != "CCC=" {
		t.Errorf("second item = %+v", items[1])
	}
}

func TestMessageWithoutEvent(t *testing.T) {
	var m messageIn
	if err := xml.Unmarshal([]byte(`<message><body>hi</body></message>`), &m); err != nil {
		t.Fatalf("Unmarshal() error = %v", err)
	}
	if items := m.items(); items != nil {
		t.Errorf("items() = %+v, want nil", items)
	}
}

func TestJIDParts(t *testing.T) {
	tests := []struct {
		jid, local, domain string
	}{
		{"user@busch-jaeger.de", "user", "busch-jaeger.de"},
		{"user@busch-jaeger.de/abcd", "user", "busch-jaeger.de"},
		{"busch-jaeger.de", "busch-jaeger.de", "busch-jaeger.de"},
	}
	for _, tt := range tests {
		if got := localpart(tt.jid); got != tt.local {
			t.Errorf("localpart(%q) = %q, want %q", tt.jid, got, tt.local)
		}
		if got := domainpart(tt.jid); got != tt.domain {
			t.Errorf("domainpart(%q) = %q, want %q", tt.jid, got, tt.domain)
		}
	}
}

func TestDiscoInfo(t *testing.T) {
	caps := Capabilities{
		Node:     "http://gonicus.de/caps",
		Ver:      "1.0",
		Identity: Identity{Category: "client", Type: "pc"},
		Features: []string{"a", "b"},
	}
	q := caps.discoInfo("http://gonicus.de/caps#1.0")
	if q.Node != "http://gonicus.de/caps#1.0" || len(q.Identities) != 1 || len(q.Features) != 2 {
		t.Errorf("discoInfo() = %+v", q)
	}
	if q := (Capabilities{}).discoInfo(""); len(q.Identities) != 0 {
		t.Errorf("empty capabilities announced identity %+v", q.Identities)
	}
}
