package mqtt

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/nerrad567/relayhub/internal/infrastructure/config"
)

func testMQTTConfig() config.MQTTConfig {
	return config.MQTTConfig{
		Enabled: true,
		Broker: config.MQTTBrokerConfig{
			Host:     "broker.local",
			Port:     1883,
			ClientID: "relayhub-test",
		},
		QoS:         1,
		TopicPrefix: "relayhub",
		Reconnect:   config.MQTTReconnectConfig{InitialDelay: 1, MaxDelay: 30},
	}
}

func TestBuildClientOptions(t *testing.T) {
	cfg := testMQTTConfig()
	cfg.Auth = config.MQTTAuthConfig{Username: "hub", Password: "secret"}

	opts := buildClientOptions(cfg)

	if len(opts.Servers) != 1 || opts.Servers[0].String() != "tcp://broker.local:1883" {
		t.Errorf("Servers = %v, want tcp://broker.local:1883", opts.Servers)
	}
	if opts.ClientID != "relayhub-test" {
		t.Errorf("ClientID = %q", opts.ClientID)
	}
	if opts.Username != "hub" || opts.Password != "secret" {
		t.Error("credentials not applied")
	}
	if !opts.WillEnabled || opts.WillTopic != "relayhub/system/status" || !opts.WillRetained {
		t.Errorf("will = %v %q retained=%v", opts.WillEnabled, opts.WillTopic, opts.WillRetained)
	}

	var will statusMessage
	if err := json.Unmarshal(opts.WillPayload, &will); err != nil {
		t.Fatalf("will payload not JSON: %v", err)
	}
	if will.Status != "offline" || will.Reason != "unexpected_disconnect" {
		t.Errorf("will = %+v", will)
	}
}

func TestBuildClientOptions_UnorderedHandlers(t *testing.T) {
	opts := buildClientOptions(testMQTTConfig())

	if opts.Order {
		t.Error("Order = true, want handlers run concurrently so they may publish")
	}
}

func TestBuildClientOptions_TLS(t *testing.T) {
	cfg := testMQTTConfig()
	cfg.Broker.TLS = true
	cfg.Broker.Port = 8883

	opts := buildClientOptions(cfg)

	if opts.Servers[0].Scheme != "ssl" {
		t.Errorf("scheme = %q, want ssl", opts.Servers[0].Scheme)
	}
	if opts.TLSConfig == nil || opts.TLSConfig.MinVersion != tlsMinVersion {
		t.Error("TLS config missing or below minimum version")
	}
}

func TestStatusPayload(t *testing.T) {
	var msg statusMessage
	if err := json.Unmarshal(statusPayload("online", "hub", ""), &msg); err != nil {
		t.Fatalf("Unmarshal() error = %v", err)
	}
	if msg.Status != "online" || msg.ClientID != "hub" || msg.Timestamp == "" {
		t.Errorf("status = %+v", msg)
	}
}

func TestClient_RejectsBadInputBeforeConnecting(t *testing.T) {
	c := &Client{subscriptions: make(map[string]subscription), logger: noopLogger{}}

	if err := c.Publish("", nil, 0, false); !errors.Is(err, ErrInvalidTopic) {
		t.Errorf("Publish(empty topic) error = %v", err)
	}
	if err := c.Publish("t", nil, 3, false); !errors.Is(err, ErrInvalidQoS) {
		t.Errorf("Publish(qos 3) error = %v", err)
	}
	if err := c.Publish("t", nil, 1, false); !errors.Is(err, ErrNotConnected) {
		t.Errorf("Publish(disconnected) error = %v", err)
	}
	if err := c.Subscribe("t", 1, nil); !errors.Is(err, ErrSubscribeFailed) {
		t.Errorf("Subscribe(nil handler) error = %v", err)
	}
	if c.IsConnected() {
		t.Error("IsConnected() = true without a client")
	}
	if err := c.Close(); err != nil {
		t.Errorf("Close() error = %v", err)
	}
}
