package rpc

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/nerrad567/gray-logic-fah/internal/fah/xmpp"
)

// ActorJID is the hub-side RPC endpoint.
const ActorJID = "mrha@busch-jaeger.de/rpc"

// Remote method names.
const (
	MethodExchangeLocalKeys = "RemoteInterface.cryptExchangeLocalKeys2"
	MethodCryptMessage      = "RemoteInterface.cryptMessage"
	MethodSetDatapoint      = "RemoteInterface.setDatapoint"
	MethodSetParameter      = "RemoteInterface.setParameter"
	MethodGetAll            = "RemoteInterface.getAll"
)

// DefaultTimeout bounds a call when the caller's context has no deadline.
const DefaultTimeout = 30 * time.Second

// Errors returned by the RPC layer.
var (
	// ErrFault matches any *Fault via errors.Is.
	ErrFault = errors.New("rpc: fault")

	// ErrMalformed is returned when a call or response cannot be encoded or parsed.
	ErrMalformed = errors.New("rpc: malformed message")

	// ErrEmptyResponse is returned when a response carries no value.
	ErrEmptyResponse = errors.New("rpc: empty response")
)

// Transport sends an IQ and waits for its result.
type Transport interface {
	SendIQ(ctx context.Context, iq xmpp.IQ) (xmpp.IQ, error)
}

// Logger interface for optional logging.
type Logger interface {
	Debug(msg string, keysAndValues ...any)
	Info(msg string, keysAndValues ...any)
	Warn(msg string, keysAndValues ...any)
	Error(msg string, keysAndValues ...any)
}

// Client issues XEP-0009 method calls to the hub's RPC actor.
//
// Every call is correlated with its response by stanza id in the
// transport; several calls may be outstanding at once.
type Client struct {
	transport Transport
	to        string
	timeout   time.Duration
	logger    Logger
}

// NewClient returns a Client that sends through transport.
func NewClient(transport Transport, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Client{transport: transport, to: ActorJID, timeout: timeout}
}

// SetLogger sets the logger for this client.
func (c *Client) SetLogger(logger Logger) {
	c.logger = logger
}

// Call invokes method with args and returns the decoded response values.
func (c *Client) Call(ctx context.Context, method string, args ...any) ([]Value, error) {
	payload, err := EncodeCall(method, args...)
	if err != nil {
		return nil, err
	}

	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	resp, err := c.transport.SendIQ(ctx, xmpp.IQ{Type: xmpp.IQSet, To: c.to, Payload: payload})
	if err != nil {
		return nil, fmt.Errorf("%s: %w", method, err)
	}
	values, err := DecodeResponse(resp.Payload)
	if err != nil {
		if c.logger != nil {
			var f *Fault
			if errors.As(err, &f) {
				c.logger.Info("rpc fault", "method", method, "code", f.Code, "fault", f.String)
			}
		}
		return nil, fmt.Errorf("%s: %w", method, err)
	}
	return values, nil
}

func first(method string, values []Value) (Value, error) {
	if len(values) == 0 {
		return Value{}, fmt.Errorf("%s: %w", method, ErrEmptyResponse)
	}
	return values[0], nil
}

// ExchangeLocalKeys sends the local key and returns the raw key-exchange response.
func (c *Client) ExchangeLocalKeys(ctx context.Context, jid string, localKey []byte, mechanism string) ([]byte, error) {
	values, err := c.Call(ctx, MethodExchangeLocalKeys, jid, Base64(localKey), mechanism, 0)
	if err != nil {
		return nil, err
	}
	v, err := first(MethodExchangeLocalKeys, values)
	if err != nil {
		return nil, err
	}
	return v.Bytes, nil
}

// CryptMessage sends an opaque binary payload and returns the raw reply.
func (c *Client) CryptMessage(ctx context.Context, payload []byte) ([]byte, error) {
	values, err := c.Call(ctx, MethodCryptMessage, Base64(payload))
	if err != nil {
		return nil, err
	}
	v, err := first(MethodCryptMessage, values)
	if err != nil {
		return nil, err
	}
	return v.Bytes, nil
}

// SetDatapoint writes value to the datapoint at "serial/channel/datapoint".
func (c *Client) SetDatapoint(ctx context.Context, address, value string) (string, error) {
	values, err := c.Call(ctx, MethodSetDatapoint, address, value)
	if err != nil {
		return "", err
	}
	if len(values) == 0 {
		return "", nil
	}
	return values[0].Text(), nil
}

// SetParameter writes value to the parameter at "serial/channel/parameter".
func (c *Client) SetParameter(ctx context.Context, address, value string) (string, error) {
	values, err := c.Call(ctx, MethodSetParameter, address, value)
	if err != nil {
		return "", err
	}
	if len(values) == 0 {
		return "", nil
	}
	return values[0].Text(), nil
}

// GetAll fetches the full configuration XML.
func (c *Client) GetAll(ctx context.Context, pretty bool) (string, error) {
	prettyArg := 0
	if pretty {
		prettyArg = 1
	}
	values, err := c.Call(ctx, MethodGetAll, "de", 2, prettyArg, 0)
	if err != nil {
		return "", err
	}
	v, err := first(MethodGetAll, values)
	if err != nil {
		return "", err
	}
	return v.Text(), nil
}
