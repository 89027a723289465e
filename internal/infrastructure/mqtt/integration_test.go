//go:build integration

package mqtt

import (
	"testing"
	"time"

	"github.com/nerrad567/gray-logic-fah/internal/infrastructure/config"
)

// Integration tests against a broker at 127.0.0.1:1883.
//
// Run with:
//   go test -tags=integration -count=1 -v ./internal/infrastructure/mqtt/...

func integrationConfig(clientID string) config.MQTTConfig {
	return config.MQTTConfig{
		Broker: config.MQTTBrokerConfig{
			Host:     "127.0.0.1",
			Port:     1883,
			ClientID: clientID,
		},
		QoS: 1,
		Reconnect: config.MQTTReconnectConfig{
			InitialDelay: 1,
			MaxDelay:     5,
		},
	}
}

func connectIntegration(t *testing.T, clientID string, options ...Option) *Client {
	t.Helper()
	client, err := Connect(integrationConfig(clientID), options...)
	if err != nil {
		t.Fatalf("Connect(%s) error = %v", clientID, err)
	}
	t.Cleanup(func() { client.Close() })
	return client
}

// TestIntegration_SubscriptionTracking verifies the subscriptions replayed
// on reconnect are recorded.
func TestIntegration_SubscriptionTracking(t *testing.T) {
	client := connectIntegration(t, "fahbridge-int-sub-track")
	topics := Topics{Prefix: "fahbridge-int"}

	for _, topic := range []string{topics.BridgeCommands("fah"), topics.BridgeRequests("fah")} {
		if err := client.Subscribe(topic, 1, func(string, []byte) error { return nil }); err != nil {
			t.Fatalf("Subscribe(%s) error = %v", topic, err)
		}
	}

	client.subMu.RLock()
	defer client.subMu.RUnlock()
	if len(client.subscriptions) != 2 {
		t.Errorf("tracked subscriptions = %d, want 2", len(client.subscriptions))
	}
}

// TestIntegration_CommandRoundtrip publishes to a device command topic and
// receives it through the bridge's wildcard subscription.
func TestIntegration_CommandRoundtrip(t *testing.T) {
	topics := Topics{Prefix: "fahbridge-int"}
	sub := connectIntegration(t, "fahbridge-int-sub", WithTopicPrefix(topics.Prefix))
	pub := connectIntegration(t, "fahbridge-int-pub", WithTopicPrefix(topics.Prefix))

	type message struct{ topic, payload string }
	received := make(chan message, 1)
	err := sub.Subscribe(topics.BridgeCommands("fah"), 1, func(topic string, payload []byte) error {
		select {
		case received <- message{topic, string(payload)}:
		default:
		}
		return nil
	})
	if err != nil {
		t.Fatalf("Subscribe() error = %v", err)
	}

	time.Sleep(100 * time.Millisecond)

	topic := topics.BridgeCommand("fah", "light/ABB5000DIM%2Fch0000")
	if err := pub.Publish(topic, []byte(`{"command":"on"}`), 1, false); err != nil {
		t.Fatalf("Publish() error = %v", err)
	}

	select {
	case msg := <-received:
		if msg.topic != topic || msg.payload != `{"command":"on"}` {
			t.Errorf("received %s %s", msg.topic, msg.payload)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("timeout waiting for command")
	}
}

// TestIntegration_RetainedHealth verifies a retained message reaches a late
// subscriber, as bridge health does.
func TestIntegration_RetainedHealth(t *testing.T) {
	topics := Topics{Prefix: "fahbridge-int"}
	pub := connectIntegration(t, "fahbridge-int-health",
		WithTopicPrefix(topics.Prefix),
		WithWill(topics.BridgeHealth("fah"), []byte(`{"status":"offline"}`)),
	)

	if err := pub.Publish(topics.BridgeHealth("fah"), []byte(`{"status":"healthy"}`), 1, true); err != nil {
		t.Fatalf("Publish() error = %v", err)
	}

	late := connectIntegration(t, "fahbridge-int-late")
	received := make(chan string, 1)
	err := late.Subscribe(topics.AllBridgeHealth(), 1, func(_ string, payload []byte) error {
		select {
		case received <- string(payload):
		default:
		}
		return nil
	})
	if err != nil {
		t.Fatalf("Subscribe() error = %v", err)
	}

	select {
	case got := <-received:
		if got != `{"status":"healthy"}` {
			t.Errorf("retained health = %s", got)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("timeout waiting for retained health")
	}
}
