package xmpp

import "encoding/xml"

// Identity is a XEP-0030 service discovery identity.
type Identity struct {
	Category string `xml:"category,attr"`
	Type     string `xml:"type,attr"`
	Name     string `xml:"name,attr,omitempty"`
}

// Capabilities describes what this client announces through XEP-0115
// entity capabilities and answers to disco#info queries.
type Capabilities struct {
	Node     string // e.g. "http://gonicus.de/caps"
	Ver      string // e.g. "1.1"
	Identity Identity
	Features []string
}

type discoQuery struct {
	XMLName    xml.Name       `xml:"http://jabber.org/protocol/disco#info query"`
	Node       string         `xml:"node,attr,omitempty"`
	Identities []Identity     `xml:"identity"`
	Features   []discoFeature `xml:"feature"`
}

type discoFeature struct {
	Var string `xml:"var,attr"`
}

type capsPresence struct {
	XMLName xml.Name `xml:"presence"`
	C       struct {
		XMLName xml.Name `xml:"http://jabber.org/protocol/caps c"`
		Ver     string   `xml:"ver,attr"`
		Node    string   `xml:"node,attr"`
	}
}

// discoInfo builds the disco#info answer for node.
func (caps Capabilities) discoInfo(node string) discoQuery {
	q := discoQuery{Node: node}
	if caps.Identity.Category != "" {
		q.Identities = []Identity{caps.Identity}
	}
	for _, f := range caps.Features {
		q.Features = append(q.Features, discoFeature{Var: f})
	}
	return q
}
