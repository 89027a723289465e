package xmpp

import (
	"encoding/base64"
	"encoding/xml"
	"fmt"
	"strings"

	"github.com/xdg-go/scram"
)

// Stream SASL mechanisms in preference order.
const (
	MechanismScramSHA1 = "SCRAM-SHA-1"
	MechanismPlain     = "PLAIN"
)

type saslAuth struct {
	XMLName   xml.Name `xml:"urn:ietf:params:xml:ns:xmpp-sasl auth"`
	Mechanism string   `xml:"mechanism,attr"`
	Body      string   `xml:",chardata"`
}

type saslResponse struct {
	XMLName xml.Name `xml:"urn:ietf:params:xml:ns:xmpp-sasl response"`
	Body    string   `xml:",chardata"`
}

// saslReply is a challenge, success or failure element.
type saslReply struct {
	XMLName    xml.Name
	Body       string `xml:",chardata"`
	Conditions []struct {
		XMLName xml.Name
	} `xml:",any"`
}

func (r *saslReply) condition() string {
	if len(r.Conditions) == 0 {
		return "unknown"
	}
	return r.Conditions[0].XMLName.Local
}

// localpart returns the node of a JID ("user" of "user@domain/res").
func localpart(jid string) string {
	if i := strings.IndexByte(jid, '@'); i >= 0 {
		return jid[:i]
	}
	return jid
}

// domainpart returns the domain of a JID.
func domainpart(jid string) string {
	if i := strings.IndexByte(jid, '@'); i >= 0 {
		jid = jid[i+1:]
	}
	if i := strings.IndexByte(jid, '/'); i >= 0 {
		jid = jid[:i]
	}
	return jid
}

// authenticate runs stream SASL with the best mechanism both sides support.
func (c *Conn) authenticate(f *streamFeatures) error {
	switch {
	case f.hasMechanism(MechanismScramSHA1):
		return c.authScram()
	case f.hasMechanism(MechanismPlain):
		return c.authPlain()
	default:
		return fmt.Errorf("%w: no supported mechanism", ErrAuthFailed)
	}
}

func (c *Conn) authScram() error {
	client, err := scram.SHA1.NewClient(localpart(c.cfg.JID), c.cfg.Password, "")
	if err != nil {
		return fmt.Errorf("%w: %w", ErrAuthFailed, err)
	}
	conv := client.NewConversation()
	first, err := conv.Step("")
	if err != nil {
		return fmt.Errorf("%w: %w", ErrAuthFailed, err)
	}
	if err := c.writeElement(saslAuth{
		Mechanism: MechanismScramSHA1,
		Body:      base64.StdEncoding.EncodeToString([]byte(first)),
	}); err != nil {
		return err
	}

	for {
		reply, err := c.readSASLReply()
		if err != nil {
			return err
		}
		data, err := base64.StdEncoding.DecodeString(strings.TrimSpace(reply.Body))
		if err != nil {
			return fmt.Errorf("%w: bad base64 in %s", ErrAuthFailed, reply.XMLName.Local)
		}

		switch reply.XMLName.Local {
		case "challenge":
			resp, err := conv.Step(string(data))
			if err != nil {
				return fmt.Errorf("%w: %w", ErrAuthFailed, err)
			}
			if err := c.writeElement(saslResponse{
				Body: base64.StdEncoding.EncodeToString([]byte(resp)),
			}); err != nil {
				return err
			}
		case "success":
			// Additional data with success carries the server signature.
			if !conv.Done() && len(data) > 0 {
				if _, err := conv.Step(string(data)); err != nil {
					return fmt.Errorf("%w: server signature: %w", ErrAuthFailed, err)
				}
			}
			if !conv.Valid() {
				return fmt.Errorf("%w: server signature not verified", ErrAuthFailed)
			}
			return nil
		case "failure":
			return fmt.Errorf("%w: %s", ErrAuthFailed, reply.condition())
		default:
			return fmt.Errorf("%w: unexpected <%s>", ErrStream, reply.XMLName.Local)
		}
	}
}

func (c *Conn) authPlain() error {
	msg := "\x00" + localpart(c.cfg.JID) + "\x00" + c.cfg.Password
	if err := c.writeElement(saslAuth{
		Mechanism: MechanismPlain,
		Body:      base64.StdEncoding.EncodeToString([]byte(msg)),
	}); err != nil {
		return err
	}
	reply, err := c.readSASLReply()
	if err != nil {
		return err
	}
	switch reply.XMLName.Local {
	case "success":
		return nil
	case "failure":
		return fmt.Errorf("%w: %s", ErrAuthFailed, reply.condition())
	default:
		return fmt.Errorf("%w: unexpected <%s>", ErrStream, reply.XMLName.Local)
	}
}

func (c *Conn) readSASLReply() (*saslReply, error) {
	start, err := c.nextElement()
	if err != nil {
		return nil, err
	}
	if start.Name.Space != NSSASL {
		return nil, fmt.Errorf("%w: unexpected <%s> during auth", ErrStream, start.Name.Local)
	}
	var reply saslReply
	if err := c.dec.DecodeElement(&reply, &start); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrStream, err)
	}
	return &reply, nil
}
