package telemetry

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/moeru-ai/airi-sub003/internal/config"
	"github.com/moeru-ai/airi-sub003/internal/events"
)

func TestTopicFor(t *testing.T) {
	cases := map[events.EventType]string{
		events.EventSessionJoined:    TopicSessions,
		events.EventSessionLeft:      TopicSessions,
		events.EventLoginRejected:    TopicSessions,
		events.EventDispatchComplete: TopicDispatch,
		events.EventUpstreamEnded:    TopicUpstream,
		events.EventShutdown:         TopicAdmin,
		events.EventDiskAlert:        TopicAdmin,
		events.EventHeartbeat:        TopicStatus,
	}
	for ev, want := range cases {
		if got := TopicFor(ev); got != want {
			t.Errorf("TopicFor(%s) = %s, want %s", ev, got, want)
		}
	}
}

func TestBrokerURL(t *testing.T) {
	cfg := config.MQTTConfig{BrokerURL: "broker.local", Port: 1883}
	if got := BrokerURL(cfg); got != "tcp://broker.local:1883" {
		t.Errorf("plain = %s", got)
	}
	cfg.UseTLS, cfg.Port = true, 8883
	if got := BrokerURL(cfg); got != "ssl://broker.local:8883" {
		t.Errorf("tls = %s", got)
	}
}

func TestNewMQTTHandlerDisabled(t *testing.T) {
	cfg := config.DefaultConfig()
	if _, err := NewMQTTHandler(cfg, events.NewEventBus()); !errors.Is(err, ErrDisabled) {
		t.Errorf("err = %v", err)
	}
}

func TestNewMQTTHandlerBadCA(t *testing.T) {
	ca := filepath.Join(t.TempDir(), "ca.pem")
	if err := os.WriteFile(ca, []byte("not a certificate"), 0o600); err != nil {
		t.Fatal(err)
	}
	cfg := config.DefaultConfig()
	cfg.MQTT.Enabled = true
	cfg.MQTT.BrokerURL = "localhost"
	cfg.MQTT.UseTLS = true
	cfg.MQTT.CAFile = ca

	if _, err := NewMQTTHandler(cfg, events.NewEventBus()); err == nil {
		t.Error("expected an error for an invalid CA file")
	}
}

func TestBuildMessage(t *testing.T) {
	h := &MQTTHandler{metadata: map[string]interface{}{"hostname": "box"}}
	msg := h.buildMessage(events.DispatchPayload{Sessions: 2})

	if msg["hostname"] != "box" {
		t.Errorf("metadata missing: %v", msg)
	}
	if p, ok := msg["payload"].(events.DispatchPayload); !ok || p.Sessions != 2 {
		t.Errorf("payload = %v", msg["payload"])
	}
	if _, ok := msg["timestamp"].(string); !ok {
		t.Error("timestamp missing")
	}
}
