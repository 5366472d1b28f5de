package mqtt

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/nerrad567/kvstore/internal/infrastructure/config"
)

// testConfig returns an MQTT configuration for a local broker at 127.0.0.1:1883.
func testConfig() config.MQTTConfig {
	return config.MQTTConfig{
		Enabled: true,
		Broker: config.MQTTBrokerConfig{
			Host:     "127.0.0.1",
			Port:     1883,
			ClientID: "kvstore-test",
		},
		QoS:         1,
		TopicPrefix: "kvstore-test",
		Reconnect: config.MQTTReconnectConfig{
			InitialDelay: 1,
			MaxDelay:     5,
		},
	}
}

// connectOrSkip connects to the local broker or skips the test.
func connectOrSkip(t *testing.T, clientID string) *Client {
	t.Helper()
	cfg := testConfig()
	cfg.Broker.ClientID = clientID
	client, err := Connect(cfg)
	if err != nil {
		t.Skipf("MQTT broker not available: %v", err)
	}
	t.Cleanup(func() {
		client.Close() //nolint:errcheck // Test cleanup
	})
	return client
}

func TestBuildClientOptions(t *testing.T) {
	cfg := testConfig()
	cfg.Auth = config.MQTTAuthConfig{Username: "kv", Password: "secret"}

	opts := buildClientOptions(cfg)

	if len(opts.Servers) != 1 || opts.Servers[0].String() != "tcp://127.0.0.1:1883" {
		t.Errorf("Servers = %v, want [tcp://127.0.0.1:1883]", opts.Servers)
	}
	if opts.ClientID != "kvstore-test" {
		t.Errorf("ClientID = %q, want %q", opts.ClientID, "kvstore-test")
	}
	if opts.Username != "kv" || opts.Password != "secret" {
		t.Errorf("credentials = %q/%q, want kv/secret", opts.Username, opts.Password)
	}
	if !opts.CleanSession || !opts.AutoReconnect {
		t.Error("expected clean session and auto-reconnect")
	}
	if opts.TLSConfig != nil {
		t.Error("unexpected TLS config without tls")
	}

	cfg.Broker.TLS = true
	opts = buildClientOptions(cfg)
	if opts.Servers[0].Scheme != "ssl" {
		t.Errorf("scheme = %q, want ssl", opts.Servers[0].Scheme)
	}
	if opts.TLSConfig == nil || opts.TLSConfig.MinVersion != tlsMinVersion {
		t.Error("expected TLS config with minimum version")
	}
}

func TestConfigureLWT(t *testing.T) {
	opts := buildClientOptions(testConfig())
	configureLWT(opts, NewTopics("kvstore"), "kvstore-test")

	if !opts.WillEnabled || !opts.WillRetained {
		t.Fatal("expected retained will")
	}
	if opts.WillTopic != "kvstore/system/status" {
		t.Errorf("WillTopic = %q, want kvstore/system/status", opts.WillTopic)
	}

	var msg StatusMessage
	if err := json.Unmarshal(opts.WillPayload, &msg); err != nil {
		t.Fatalf("will payload: %v", err)
	}
	if msg.Status != StatusOffline || msg.Reason != "unexpected_disconnect" || msg.ClientID != "kvstore-test" {
		t.Errorf("will = %+v", msg)
	}
}

func TestConnect_BrokerRefused(t *testing.T) {
	cfg := testConfig()
	cfg.Broker.Port = 1

	_, err := Connect(cfg)
	if !errors.Is(err, ErrConnectionFailed) {
		t.Errorf("Connect() error = %v, want ErrConnectionFailed", err)
	}
}

func TestDisconnectedClient(t *testing.T) {
	var c *Client

	if c.IsConnected() {
		t.Error("nil client reports connected")
	}
	if err := c.Close(); err != nil {
		t.Errorf("Close() on nil client = %v", err)
	}

	c = &Client{subscriptions: make(map[string]subscription)}
	if err := c.Publish("kvstore/x/changes", nil, 1, false); !errors.Is(err, ErrNotConnected) {
		t.Errorf("Publish() error = %v, want ErrNotConnected", err)
	}
	if err := c.HealthCheck(context.Background()); !errors.Is(err, ErrNotConnected) {
		t.Errorf("HealthCheck() error = %v, want ErrNotConnected", err)
	}
}

func TestPublishValidation(t *testing.T) {
	c := &Client{subscriptions: make(map[string]subscription)}

	tests := []struct {
		name    string
		topic   string
		payload []byte
		qos     byte
		wantErr error
	}{
		{"empty topic", "", nil, 1, ErrInvalidTopic},
		{"invalid qos", "kvstore/a", nil, 3, ErrInvalidQoS},
		{"payload too large", "kvstore/a", make([]byte, maxPayloadSize+1), 1, ErrPublishFailed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := c.Publish(tt.topic, tt.payload, tt.qos, false)
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("Publish() error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestSubscribeValidation(t *testing.T) {
	c := &Client{subscriptions: make(map[string]subscription)}
	noop := func(string, []byte) error { return nil }

	if err := c.Subscribe("", 1, noop); !errors.Is(err, ErrInvalidTopic) {
		t.Errorf("empty topic: error = %v", err)
	}
	if err := c.Subscribe("kvstore/#", 3, noop); !errors.Is(err, ErrInvalidQoS) {
		t.Errorf("invalid qos: error = %v", err)
	}
	if err := c.Subscribe("kvstore/#", 1, nil); !errors.Is(err, ErrSubscribeFailed) {
		t.Errorf("nil handler: error = %v", err)
	}
	if err := c.Subscribe("kvstore/#", 1, noop); !errors.Is(err, ErrNotConnected) {
		t.Errorf("disconnected: error = %v", err)
	}
	if c.SubscriptionCount() != 0 {
		t.Errorf("SubscriptionCount() = %d, want 0", c.SubscriptionCount())
	}
}

func TestTopics(t *testing.T) {
	tests := []struct {
		name string
		got  string
		want string
	}{
		{"changes", NewTopics("kvstore").Changes("/var/lib/kvstore/app.db"), "kvstore/app.db/changes"},
		{"custom prefix", NewTopics("/site/kv/").Changes("/tmp/a.db"), "site/kv/a.db/changes"},
		{"empty prefix", NewTopics("").SystemStatus(), "kvstore/system/status"},
		{"zero value", Topics{}.AllChanges(), "kvstore/+/changes"},
		{"wildcards escaped", DatabaseSegment("/tmp/a+b#c.db"), "a_b_c.db"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.got != tt.want {
				t.Errorf("got %q, want %q", tt.got, tt.want)
			}
		})
	}
}

func TestWrapHandler_RecoversPanic(t *testing.T) {
	logger := &recordingLogger{}
	c := &Client{}
	c.SetLogger(logger)

	h := c.wrapHandler(func(string, []byte) error { panic("boom") })
	h(nil, fakeMessage{topic: "kvstore/a/changes"})

	h = c.wrapHandler(func(string, []byte) error { return errors.New("bad payload") })
	h(nil, fakeMessage{topic: "kvstore/a/changes"})

	if logger.errors() != 1 || logger.warnings() != 1 {
		t.Errorf("errors=%d warnings=%d, want 1 and 1", logger.errors(), logger.warnings())
	}
}

func TestPublishSubscribeRoundtrip(t *testing.T) {
	client := connectOrSkip(t, "kvstore-test-roundtrip")
	topic := client.Topics().Changes("/tmp/roundtrip.db")

	received := make(chan []byte, 1)
	err := client.Subscribe(client.Topics().AllChanges(), 1, func(got string, payload []byte) error {
		if got == topic {
			received <- payload
		}
		return nil
	})
	if err != nil {
		t.Fatalf("Subscribe() error = %v", err)
	}
	if client.SubscriptionCount() != 1 {
		t.Errorf("SubscriptionCount() = %d, want 1", client.SubscriptionCount())
	}

	if err := client.Publish(topic, []byte(`{"changes":[]}`), 1, false); err != nil {
		t.Fatalf("Publish() error = %v", err)
	}

	select {
	case payload := <-received:
		if string(payload) != `{"changes":[]}` {
			t.Errorf("payload = %s", payload)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for message")
	}

	if err := client.Unsubscribe(client.Topics().AllChanges()); err != nil {
		t.Errorf("Unsubscribe() error = %v", err)
	}
	if err := client.HealthCheck(context.Background()); err != nil {
		t.Errorf("HealthCheck() error = %v", err)
	}
}

// recordingLogger counts log calls.
type recordingLogger struct {
	mu          sync.Mutex
	errorCount  int
	warnCount   int
	lastMessage string
}

func (l *recordingLogger) Error(msg string, _ ...any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.errorCount++
	l.lastMessage = msg
}

func (l *recordingLogger) Warn(msg string, _ ...any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.warnCount++
	l.lastMessage = msg
}

func (l *recordingLogger) errors() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.errorCount
}

func (l *recordingLogger) warnings() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.warnCount
}

// fakeMessage implements pahomqtt.Message.
type fakeMessage struct {
	topic   string
	payload []byte
}

func (m fakeMessage) Duplicate() bool   { return false }
func (m fakeMessage) Qos() byte         { return 1 }
func (m fakeMessage) Retained() bool    { return false }
func (m fakeMessage) Topic() string     { return m.topic }
func (m fakeMessage) MessageID() uint16 { return 0 }
func (m fakeMessage) Payload() []byte   { return m.payload }
func (m fakeMessage) Ack()              {}
