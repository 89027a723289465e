package rpc

import (
	"encoding/base64"
	"encoding/xml"
	"fmt"
	"strconv"
	"strings"
)

// Namespace is the XEP-0009 query namespace.
const Namespace = "jabber:iq:rpc"

// Base64 marks a byte slice that is sent as an XML-RPC base64 value.
type Base64 []byte

// Kind is the XML-RPC type of a decoded Value.
type Kind int

// Value kinds.
const (
	KindString Kind = iota
	KindInt
	KindBool
	KindDouble
	KindBase64
	KindStruct
)

// Value is one decoded XML-RPC value.
type Value struct {
	Kind    Kind
	String  string
	Int     int64
	Bool    bool
	Double  float64
	Bytes   []byte
	Members map[string]Value
}

// Text returns the value as a string regardless of its XML-RPC type.
// Base64 values are returned decoded.
func (v Value) Text() string {
	switch v.Kind {
	case KindInt:
		return strconv.FormatInt(v.Int, 10)
	case KindBool:
		if v.Bool {
			return "1"
		}
		return "0"
	case KindDouble:
		return strconv.FormatFloat(v.Double, 'f', -1, 64)
	case KindBase64:
		return string(v.Bytes)
	default:
		return v.String
	}
}

// Fault is an XML-RPC fault returned by the hub.
type Fault struct {
	Code   int64
	String string
}

func (f *Fault) Error() string {
	return fmt.Sprintf("rpc fault %d: %s", f.Code, f.String)
}

// Is lets errors.Is(err, ErrFault) match any *Fault.
func (f *Fault) Is(target error) bool {
	return target == ErrFault
}

type query struct {
	XMLName  xml.Name        `xml:"jabber:iq:rpc query"`
	Call     *methodCall     `xml:"methodCall,omitempty"`
	Response *methodResponse `xml:"methodResponse,omitempty"`
}

type methodCall struct {
	MethodName string  `xml:"methodName"`
	Params     []param `xml:"params>param"`
}

type methodResponse struct {
	Params []param `xml:"params>param,omitempty"`
	Fault  *param  `xml:"fault,omitempty"`
}

type param struct {
	Value xmlValue `xml:"value"`
}

type xmlValue struct {
	String  *string    `xml:"string,omitempty"`
	Int     *string    `xml:"int,omitempty"`
	I4      *string    `xml:"i4,omitempty"`
	Boolean *string    `xml:"boolean,omitempty"`
	Double  *string    `xml:"double,omitempty"`
	Base64  *string    `xml:"base64,omitempty"`
	Struct  *xmlStruct `xml:"struct,omitempty"`
	Raw     string     `xml:",chardata"`
}

type xmlStruct struct {
	Members []member `xml:"member"`
}

type member struct {
	Name  string   `xml:"name"`
	Value xmlValue `xml:"value"`
}

func encodeValue(arg any) (xmlValue, error) {
	var v xmlValue
	switch a := arg.(type) {
	case string:
		v.String = &a
	case int:
		s := strconv.Itoa(a)
		v.I4 = &s
	case int64:
		s := strconv.FormatInt(a, 10)
		v.I4 = &s
	case uint32:
		s := strconv.FormatUint(uint64(a), 10)
		v.I4 = &s
	case bool:
		s := "0"
		if a {
			s = "1"
		}
		v.Boolean = &s
	case float64:
		s := strconv.FormatFloat(a, 'f', -1, 64)
		v.Double = &s
	case Base64:
		s := base64.StdEncoding.EncodeToString(a)
		v.Base64 = &s
	case map[string]any:
		st := &xmlStruct{}
		for name, mv := range a {
			enc, err := encodeValue(mv)
			if err != nil {
				return v, err
			}
			st.Members = append(st.Members, member{Name: name, Value: enc})
		}
		v.Struct = st
	default:
		return v, fmt.Errorf("%w: unsupported argument type %T", ErrMalformed, arg)
	}
	return v, nil
}

func decodeValue(v xmlValue) (Value, error) {
	switch {
	case v.String != nil:
		return Value{Kind: KindString, String: *v.String}, nil
	case v.Int != nil || v.I4 != nil:
		s := v.Int
		if s == nil {
			s = v.I4
		}
		n, err := strconv.ParseInt(strings.TrimSpace(*s), 10, 64)
		if err != nil {
			return Value{}, fmt.Errorf("%w: int %q", ErrMalformed, *s)
		}
		return Value{Kind: KindInt, Int: n}, nil
	case v.Boolean != nil:
		return Value{Kind: KindBool, Bool: strings.TrimSpace(*v.Boolean) == "1"}, nil
	case v.Double != nil:
		f, err := strconv.ParseFloat(strings.TrimSpace(*v.Double), 64)
		if err != nil {
			return Value{}, fmt.Errorf("%w: double %q", ErrMalformed, *v.Double)
		}
		return Value{Kind: KindDouble, Double: f}, nil
	case v.Base64 != nil:
		b, err := base64.StdEncoding.DecodeString(strings.Join(strings.Fields(*v.Base64), ""))
		if err != nil {
			return Value{}, fmt.Errorf("%w: base64: %v", ErrMalformed, err)
		}
		return Value{Kind: KindBase64, Bytes: b}, nil
	case v.Struct != nil:
		members := make(map[string]Value, len(v.Struct.Members))
		for _, m := range v.Struct.Members {
			mv, err := decodeValue(m.Value)
			if err != nil {
				return Value{}, err
			}
			members[m.Name] = mv
		}
		return Value{Kind: KindStruct, Members: members}, nil
	default:
		// Untyped values are strings.
		return Value{Kind: KindString, String: v.Raw}, nil
	}
}

// EncodeCall builds the query element of a method call.
func EncodeCall(method string, args ...any) ([]byte, error) {
	call := &methodCall{MethodName: method}
	for _, a := range args {
		v, err := encodeValue(a)
		if err != nil {
			return nil, err
		}
		call.Params = append(call.Params, param{Value: v})
	}
	out, err := xml.Marshal(query{Call: call})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	return out, nil
}

// DecodeResponse parses the query element of a method response. A fault
// is returned as a *Fault error.
func DecodeResponse(payload []byte) ([]Value, error) {
	var q query
	if err := xml.Unmarshal(payload, &q); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if q.Response == nil {
		return nil, fmt.Errorf("%w: no methodResponse", ErrMalformed)
	}
	if q.Response.Fault != nil {
		fv, err := decodeValue(q.Response.Fault.Value)
		if err != nil {
			return nil, err
		}
		f := &Fault{}
		if code, ok := fv.Members["faultCode"]; ok {
			f.Code = code.Int
		}
		if s, ok := fv.Members["faultString"]; ok {
			f.String = s.Text()
		}
		return nil, f
	}
	values := make([]Value, 0, len(q.Response.Params))
	for _, p := range q.Response.Params {
		v, err := decodeValue(p.Value)
		if err != nil {
			return nil, err
		}
		values = append(values, v)
	}
	return values, nil
}

// DecodeCall parses the query element of a method call. It is the
// responder side of EncodeCall.
func DecodeCall(payload []byte) (string, []Value, error) {
	var q query
	if err := xml.Unmarshal(payload, &q); err != nil {
		return "", nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if q.Call == nil {
		return "", nil, fmt.Errorf("%w: no methodCall", ErrMalformed)
	}
	values := make([]Value, 0, len(q.Call.Params))
	for _, p := range q.Call.Params {
		v, err := decodeValue(p.Value)
		if err != nil {
			return "", nil, err
		}
		values = append(values, v)
	}
	return q.Call.MethodName, values, nil
}

// EncodeResponse builds the query element of a successful method response.
func EncodeResponse(args ...any) ([]byte, error) {
	resp := &methodResponse{}
	for _, a := range args {
		v, err := encodeValue(a)
		if err != nil {
			return nil, err
		}
		resp.Params = append(resp.Params, param{Value: v})
	}
	return xml.Marshal(query{Response: resp})
}

// EncodeFault builds the query element of a fault response.
func EncodeFault(code int, msg string) ([]byte, error) {
	v, err := encodeValue(map[string]any{"faultCode": code, "faultString": msg})
	if err != nil {
		return nil, err
	}
	return xml.Marshal(query{Response: &methodResponse{Fault: &param{Value: v}}})
}
