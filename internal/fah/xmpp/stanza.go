package xmpp

import (
	"encoding/xml"
	"fmt"
)

// XML namespaces used on the stream.
const (
	NSClient    = "jabber:client"
	NSStream    = "http://etherx.jabber.org/streams"
	NSTLS       = "urn:ietf:params:xml:ns:xmpp-tls"
	NSSASL      = "urn:ietf:params:xml:ns:xmpp-sasl"
	NSBind      = "urn:ietf:params:xml:ns:xmpp-bind"
	NSSession   = "urn:ietf:params:xml:ns:xmpp-session"
	NSRoster    = "jabber:iq:roster"
	NSPing      = "urn:xmpp:ping"
	NSDiscoInfo = "http://jabber.org/protocol/disco#info"
	NSCaps      = "http://jabber.org/protocol/caps"
	NSPubSubEvt = "http://jabber.org/protocol/pubsub#event"
	NSStanzas   = "urn:ietf:params:xml:ns:xmpp-stanzas"
)

// IQ types.
const (
	IQGet    = "get"
	IQSet    = "set"
	IQResult = "result"
	IQError  = "error"
)

// IQ is an info/query stanza. Payload holds the raw child XML.
type IQ struct {
	ID      string
	Type    string
	From    string
	To      string
	Payload []byte
	Error   *StanzaError
}

// StanzaError is the <error/> child of an IQ of type error.
type StanzaError struct {
	Type      string `xml:"type,attr"`
	Code      string `xml:"code,attr"`
	Condition string
	Text      string
}

func (e *StanzaError) Error() string {
	if e.Text != "" {
		return fmt.Sprintf("%s (%s): %s", e.Condition, e.Type, e.Text)
	}
	return fmt.Sprintf("%s (%s)", e.Condition, e.Type)
}

// UnmarshalXML picks the defined-condition element out of <error/>.
func (e *StanzaError) UnmarshalXML(d *xml.Decoder, start xml.StartElement) error {
	for _, a := range start.Attr {
		switch a.Name.Local {
		case "type":
			e.Type = a.Value
		case "code":
			e.Code = a.Value
		}
	}
	for {
		tok, err := d.Token()
		if err != nil {
			return err
		}
		switch t := tok.(type) {
		case xml.StartElement:
			if t.Name.Local == "text" {
				var s string
				if err := d.DecodeElement(&s, &t); err != nil {
					return err
				}
				e.Text = s
				continue
			}
			if e.Condition == "" {
				e.Condition = t.Name.Local
			}
			if err := d.Skip(); err != nil {
				return err
			}
		case xml.EndElement:
			return nil
		}
	}
}

// PubSubItem is one published item of a pub-sub event.
type PubSubItem struct {
	Node      string
	ID        string
	Namespace string   // namespace of the <update/> element
	Data      []string // text of each <data/> child
}

// wire forms

type iqOut struct {
	XMLName xml.Name `xml:"iq"`
	ID      string   `xml:"id,attr"`
	Type    string   `xml:"type,attr"`
	To      string   `xml:"to,attr,omitempty"`
	From    string   `xml:"from,attr,omitempty"`
	Inner   []byte   `xml:",innerxml"`
}

type iqIn struct {
	XMLName xml.Name     `xml:"iq"`
	ID      string       `xml:"id,attr"`
	Type    string       `xml:"type,attr"`
	To      string       `xml:"to,attr"`
	From    string       `xml:"from,attr"`
	Inner   []byte       `xml:",innerxml"`
	Error   *StanzaError `xml:"error"`
	Ping    *struct{}    `xml:"urn:xmpp:ping ping"`
	Disco   *discoQuery  `xml:"http://jabber.org/protocol/disco#info query"`
	Roster  *struct{}    `xml:"jabber:iq:roster query"`
}

type presenceIn struct {
	XMLName xml.Name `xml:"presence"`
	From    string   `xml:"from,attr"`
	Type    string   `xml:"type,attr"`
}

type messageIn struct {
	XMLName xml.Name     `xml:"message"`
	From    string       `xml:"from,attr"`
	Event   *pubsubEvent `xml:"http://jabber.org/protocol/pubsub#event event"`
}

type pubsubEvent struct {
	Items []pubsubItems `xml:"items"`
}

type pubsubItems struct {
	Node  string       `xml:"node,attr"`
	Items []pubsubItem `xml:"item"`
}

type pubsubItem struct {
	ID      string          `xml:"id,attr"`
	Updates []updateElement `xml:"update"`
}

type updateElement struct {
	XMLName xml.Name
	Data    []string `xml:"data"`
}

func (m *messageIn) items() []PubSubItem {
	if m.Event == nil {
		return nil
	}
	var out []PubSubItem
	for _, items := range m.Event.Items {
		for _, it := range items.Items {
			for _, u := range it.Updates {
				out = append(out, PubSubItem{
					Node:      items.Node,
					ID:        it.ID,
					Namespace: u.XMLName.Space,
					Data:      u.Data,
				})
			}
		}
	}
	return out
}

type streamFeatures struct {
	XMLName    xml.Name `xml:"http://etherx.jabber.org/streams features"`
	StartTLS   *struct{} `xml:"urn:ietf:params:xml:ns:xmpp-tls starttls"`
	Mechanisms *struct {
		Mechanism []string `xml:"mechanism"`
	} `xml:"urn:ietf:params:xml:ns:xmpp-sasl mechanisms"`
	Bind    *struct{} `xml:"urn:ietf:params:xml:ns:xmpp-bind bind"`
	Session *struct{} `xml:"urn:ietf:params:xml:ns:xmpp-session session"`
}

func (f *streamFeatures) hasMechanism(name string) bool {
	if f.Mechanisms == nil {
		return false
	}
	for _, m := range f.Mechanisms.Mechanism {
		if m == name {
			return true
		}
	}
	return false
}

type bindResult struct {
	XMLName xml.Name `xml:"urn:ietf:params:xml:ns:xmpp-bind bind"`
	JID     string   `xml:"jid"`
}
