package mqtt

import (
	"crypto/tls"
	"encoding/json"
	"fmt"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/nerrad567/gray-logic-fah/internal/infrastructure/config"
)

const (
	defaultConnectTimeout = 10 * time.Second
	defaultPublishTimeout = 5 * time.Second
	defaultKeepAlive      = 60 * time.Second

	// Milliseconds paho waits for in-flight work on Disconnect.
	defaultDisconnectQuiesce = 1000

	maxQoS        = 2
	tlsMinVersion = tls.VersionTLS12
)

// Status reasons carried in the client's own status messages.
const (
	reasonUnexpected = "unexpected_disconnect"
	reasonGraceful   = "graceful_shutdown"
)

// Option customises Connect.
type Option func(*connectOptions)

type connectOptions struct {
	topics      Topics
	willTopic   string
	willPayload []byte
}

// WithTopicPrefix sets the prefix of the status topics the client
// publishes itself.
func WithTopicPrefix(prefix string) Option {
	return func(o *connectOptions) {
		o.topics = Topics{Prefix: prefix}
	}
}

// WithWill replaces the default Last Will and Testament, e.g. with a
// bridge's retained offline health message.
func WithWill(topic string, payload []byte) Option {
	return func(o *connectOptions) {
		o.willTopic = topic
		o.willPayload = payload
	}
}

// buildClientOptions maps the MQTT configuration onto paho options. The
// session is always clean and paho owns reconnection, backing off from
// reconnect.initial_delay to reconnect.max_delay.
func buildClientOptions(cfg config.MQTTConfig) *pahomqtt.ClientOptions {
	scheme := "tcp"
	if cfg.Broker.TLS {
		scheme = "ssl"
	}

	opts := pahomqtt.NewClientOptions().
		AddBroker(fmt.Sprintf("%s://%s:%d", scheme, cfg.Broker.Host, cfg.Broker.Port)).
		SetClientID(cfg.Broker.ClientID).
		SetCleanSession(true).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectRetryInterval(time.Duration(cfg.Reconnect.InitialDelay) * time.Second).
		SetMaxReconnectInterval(time.Duration(cfg.Reconnect.MaxDelay) * time.Second).
		SetConnectTimeout(defaultConnectTimeout).
		SetKeepAlive(defaultKeepAlive)

	if cfg.Auth.Username != "" {
		opts.SetUsername(cfg.Auth.Username).SetPassword(cfg.Auth.Password)
	}
	if cfg.Broker.TLS {
		opts.SetTLSConfig(&tls.Config{MinVersion: tlsMinVersion})
	}
	return opts
}

// configureLWT registers the retained QoS 1 Last Will. Without WithWill it
// is an offline status on the system status topic.
func configureLWT(opts *pahomqtt.ClientOptions, o connectOptions, clientID string) {
	if o.willTopic != "" {
		opts.SetBinaryWill(o.willTopic, o.willPayload, 1, true)
		return
	}
	opts.SetBinaryWill(o.topics.SystemStatus(), statusPayload(clientID, "offline", reasonUnexpected), 1, true)
}

// clientStatus is the payload of the system status topic.
type clientStatus struct {
	Status    string `json:"status"`
	ClientID  string `json:"client_id"`
	Reason    string `json:"reason,omitempty"`
	Timestamp string `json:"timestamp"`
}

func statusPayload(clientID, status, reason string) []byte {
	//nolint:errchkjson // plain strings always marshal
	payload, _ := json.Marshal(clientStatus{
		Status:    status,
		ClientID:  clientID,
		Reason:    reason,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})
	return payload
}
