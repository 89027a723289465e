package device

import (
	"encoding/xml"
	"fmt"
	"regexp"
	"strings"
)

// allMask is the filter used when a device or channel carries no mask.
const allMask = 0xFFFFFFFF

// duplicateNames matches elements that carry two name attributes. Some
// SysAP firmwares emit them, which is not well-formed XML.
var duplicateNames = regexp.MustCompile(`name="[^"]*" ([^>]*)name="[^"]*"`)

// StripDuplicateNames removes both name attributes from every element
// that carries two of them.
func StripDuplicateNames(s string) string {
	return duplicateNames.ReplaceAllString(s, "${1}")
}

// configDocument is the subset of the getAll configuration, and of the
// update messages, that discovery and dispatch read. Both share the
// <devices> subtree.
type configDocument struct {
	Strings []xmlString `xml:"strings>string"`
	Floors  []xmlFloor  `xml:"floorplan>floor"`
	Devices []xmlDevice `xml:"devices>device"`
}

type xmlString struct {
	NameID string `xml:"nameId,attr"`
	Text   string `xml:",chardata"`
}

type xmlFloor struct {
	UID   string    `xml:"uid,attr"`
	Name  string    `xml:"name,attr"`
	Rooms []xmlRoom `xml:"room"`
}

type xmlRoom struct {
	UID  string `xml:"uid,attr"`
	Name string `xml:"name,attr"`
}

type xmlAttribute struct {
	Name  string `xml:"name,attr"`
	Value string `xml:",chardata"`
}

type xmlValue struct {
	Text string `xml:",chardata"`
}

type xmlOption struct {
	Key  string `xml:"key,attr"`
	Mask string `xml:"mask,attr"`
}

type xmlParameter struct {
	I                     string      `xml:"i,attr"`
	ParameterID           string      `xml:"parameterId,attr"`
	MatchCode             string      `xml:"matchCode,attr"`
	ChannelSelector       string      `xml:"channelSelector,attr"`
	DeviceChannelSelector string      `xml:"deviceChannelSelector,attr"`
	Value                 *xmlValue   `xml:"value"`
	Options               []xmlOption `xml:"valueEnum>option"`
}

type xmlDataPoint struct {
	I         string    `xml:"i,attr"`
	PairingID string    `xml:"pairingId,attr"`
	MatchCode string    `xml:"matchCode,attr"`
	Value     *xmlValue `xml:"value"`
}

type xmlFunction struct {
	FunctionID        string `xml:"functionId,attr"`
	SensorMatchCode   string `xml:"sensorMatchCode,attr"`
	ActuatorMatchCode string `xml:"actuatorMatchCode,attr"`
}

type xmlChannel struct {
	I            string         `xml:"i,attr"`
	NameID       string         `xml:"nameId,attr"`
	Mask         string         `xml:"mask,attr"`
	SameLocation string         `xml:"sameLocation,attr"`
	Attributes   []xmlAttribute `xml:"attribute"`
	Functions    []xmlFunction  `xml:"functions>function"`
	Inputs       []xmlDataPoint `xml:"inputs>dataPoint"`
	Outputs      []xmlDataPoint `xml:"outputs>dataPoint"`
	Parameters   []xmlParameter `xml:"parameters>parameter"`
}

type xmlChannels struct {
	Channels []xmlChannel `xml:"channel"`
}

type xmlDevice struct {
	Serial             string         `xml:"serialNumber,attr"`
	DeviceID           string         `xml:"deviceId,attr"`
	NameID             string         `xml:"nameId,attr"`
	SoftwareVersion    string         `xml:"softwareVersion,attr"`
	CommissioningState string         `xml:"commissioningState,attr"`
	IsExternal         string         `xml:"isExternal,attr"`
	Attributes         []xmlAttribute `xml:"attribute"`
	Parameters         []xmlParameter `xml:"parameters>parameter"`
	Channels           *xmlChannels   `xml:"channels"`
}

// parseConfig strips duplicate name attributes and decodes s.
func parseConfig(s string) (*configDocument, error) {
	var doc configDocument
	if err := xml.NewDecoder(strings.NewReader(StripDuplicateNames(s))).Decode(&doc); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrConfigParse, err)
	}
	return &doc, nil
}

func attribute(attrs []xmlAttribute, name string) string {
	for _, a := range attrs {
		if a.Name == name {
			return strings.TrimSpace(a.Value)
		}
	}
	return ""
}

// roomNames returns floor uid -> room uid -> room name.
func (d *configDocument) roomNames() map[string]map[string]string {
	rooms := make(map[string]map[string]string, len(d.Floors))
	for _, f := range d.Floors {
		byUID := make(map[string]string, len(f.Rooms))
		for _, r := range f.Rooms {
			byUID[r.UID] = r.Name
		}
		rooms[f.UID] = byUID
	}
	return rooms
}

// names returns the string table, name id -> text.
func (d *configDocument) names() map[string]string {
	names := make(map[string]string, len(d.Strings))
	for _, s := range d.Strings {
		names[s.NameID] = s.Text
	}
	return names
}

// channelFilterMask derives the mask a channel's own mask must intersect
// for the channel to be active in the device's current hardware mode.
//
// A deviceChannelSelector parameter narrows which channelSelector
// parameters apply; the selected option of an applicable channelSelector
// carries the mask.
func (d *xmlDevice) channelFilterMask() (uint32, error) {
	deviceMask := uint32(allMask)
	for _, p := range d.Parameters {
		if p.DeviceChannelSelector != "true" || p.Value == nil {
			continue
		}
		m, err := parseHex(p.Value.Text)
		if err != nil {
			return 0, fmt.Errorf("%w: device channel selector %q: %w", ErrConfigParse, p.Value.Text, err)
		}
		deviceMask = m
		break
	}

	filter := uint32(allMask)
	for _, p := range d.Parameters {
		if p.ChannelSelector != "true" {
			continue
		}
		match, err := parseHex(p.MatchCode)
		if err != nil {
			return 0, fmt.Errorf("%w: channel selector match code %q: %w", ErrConfigParse, p.MatchCode, err)
		}
		if match&deviceMask == 0 {
			continue
		}
		if p.Value == nil {
			return 0, fmt.Errorf("%w: channel selector %s has no value", ErrConfigParse, p.I)
		}
		option, ok := p.option(strings.TrimSpace(p.Value.Text))
		if !ok {
			return 0, fmt.Errorf("%w: channel selector %s has no option %q", ErrConfigParse, p.I, p.Value.Text)
		}
		if filter, err = parseHex(option.Mask); err != nil {
			return 0, fmt.Errorf("%w: channel selector mask %q: %w", ErrConfigParse, option.Mask, err)
		}
	}
	return filter, nil
}

func (p *xmlParameter) option(key string) (xmlOption, bool) {
	for _, o := range p.Options {
		if o.Key == key {
			return o, true
		}
	}
	return xmlOption{}, false
}

// datapointFilterMask combines the match codes of the channel's active
// function. Datapoints whose match code does not intersect it belong to
// another function of the channel.
func (c *xmlChannel) datapointFilterMask() uint32 {
	raw := attribute(c.Attributes, "functionId")
	if raw == "" {
		return allMask
	}
	fid, err := parseHex(raw)
	if err != nil {
		return allMask
	}
	for _, f := range c.Functions {
		id, err := parseHex(f.FunctionID)
		if err != nil || id != fid {
			continue
		}
		sensor, err1 := parseHex(f.SensorMatchCode)
		actuator, err2 := parseHex(f.ActuatorMatchCode)
		if err1 != nil || err2 != nil {
			return allMask
		}
		return sensor | actuator
	}
	return allMask
}

// resolve returns the datapoint ids of the channel for each pairing id in
// set. Pairing ids without a datapoint are left out.
func (c *xmlChannel) resolve(set PairingSet) map[PairingID]string {
	out := make(map[PairingID]string)
	scan := func(dps []xmlDataPoint, pids []PairingID) {
		for _, pid := range pids {
			for _, dp := range dps {
				v, err := parseHex(dp.PairingID)
				if err == nil && PairingID(v) == pid {
					out[pid] = dp.I
					break
				}
			}
		}
	}
	scan(c.Inputs, set.Inputs)
	scan(c.Outputs, set.Outputs)
	return out
}

// resolveParameters returns the parameter addresses for ids.
func (c *xmlChannel) resolveParameters(ids []ParameterID) map[ParameterID]string {
	out := make(map[ParameterID]string)
	for _, id := range ids {
		for _, p := range c.Parameters {
			v, err := parseHex(p.ParameterID)
			if err == nil && ParameterID(v) == id {
				out[id] = p.I
				break
			}
		}
	}
	return out
}
