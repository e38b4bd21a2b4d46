package emitter

import (
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/v12510/GlassesVisionSystem/internal/config"
	"github.com/v12510/GlassesVisionSystem/internal/types"
)

type fakeToken struct{ err error }

func (t *fakeToken) Wait() bool                     { return true }
func (t *fakeToken) WaitTimeout(time.Duration) bool { return true }
func (t *fakeToken) Done() <-chan struct{} {
	ch := make(chan struct{})
	close(ch)
	return ch
}
func (t *fakeToken) Error() error { return t.err }

type published struct {
	topic   string
	qos     byte
	payload []byte
}

type fakeClient struct {
	mu         sync.Mutex
	messages   []published
	publishErr error
}

func (c *fakeClient) IsConnected() bool      { return true }
func (c *fakeClient) IsConnectionOpen() bool { return true }
func (c *fakeClient) Connect() mqtt.Token    { return &fakeToken{} }
func (c *fakeClient) Disconnect(uint)        {}

func (c *fakeClient) Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token {
	if c.publishErr != nil {
		return &fakeToken{err: c.publishErr}
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.messages = append(c.messages, published{topic, qos, payload.([]byte)})
	return &fakeToken{}
}

func (c *fakeClient) Subscribe(string, byte, mqtt.MessageHandler) mqtt.Token {
	return &fakeToken{}
}
func (c *fakeClient) SubscribeMultiple(map[string]byte, mqtt.MessageHandler) mqtt.Token {
	return &fakeToken{}
}
func (c *fakeClient) Unsubscribe(...string) mqtt.Token        { return &fakeToken{} }
func (c *fakeClient) AddRoute(string, mqtt.MessageHandler)    {}
func (c *fakeClient) OptionsReader() mqtt.ClientOptionsReader { return mqtt.ClientOptionsReader{} }

func (c *fakeClient) last(t *testing.T) published {
	t.Helper()
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.messages) == 0 {
		t.Fatal("nothing published")
	}
	return c.messages[len(c.messages)-1]
}

func testConfig() config.MQTTConfig {
	return config.MQTTConfig{
		Broker: "localhost:1883",
		Topics: config.MQTTTopics{
			Control:    "glasses/control/glasses-01",
			Detections: "glasses/detections/glasses-01",
			Alerts:     "glasses/alerts/glasses-01",
			Health:     "glasses/health/glasses-01",
		},
		QoS: map[string]byte{"control": 1, "detections": 0, "alerts": 1, "health": 1},
	}
}

func connectedEmitter(fc *fakeClient) *Emitter {
	e := New(testConfig(), "glasses-01")
	e.Client = fc
	e.connected = true
	return e
}

func TestPublishRejectedWhenDisconnected(t *testing.T) {
	e := New(testConfig(), "glasses-01")
	obs := types.Observation{DeviceID: "glasses-01"}
	if err := e.PublishObservation(obs); err == nil {
		t.Fatal("expected error while disconnected")
	}
	if got := e.Stats().Errors; got != 1 {
		t.Errorf("errors = %d, want 1", got)
	}
}

func TestPublishObservation(t *testing.T) {
	fc := &fakeClient{}
	e := connectedEmitter(fc)

	obs := types.NewObservation("glasses-01", types.FrameMeta{Seq: 42, TraceID: "t-1"}, []types.Detection{
		{Label: "person", Confidence: 0.91},
	}, 38.5, "local")
	if err := e.PublishObservation(obs); err != nil {
		t.Fatalf("publish: %v", err)
	}

	msg := fc.last(t)
	if msg.topic != "glasses/detections/glasses-01" {
		t.Errorf("topic = %s", msg.topic)
	}
	if msg.qos != 0 {
		t.Errorf("qos = %d, want 0", msg.qos)
	}
	if !strings.Contains(string(msg.payload), `"label":"person"`) {
		t.Errorf("payload missing detection: %s", msg.payload)
	}
}

func TestPublishAlert(t *testing.T) {
	fc := &fakeClient{}
	e := connectedEmitter(fc)

	utt := types.Utterance{
		Text:     "Warning: vehicle approaching from the left",
		Language: "en",
		Priority: types.PriorityAlert,
		TraceID:  "t-9",
		Severity: types.SeverityCritical,
	}
	risks := []types.Risk{{Kind: types.RiskFastMoving, Label: "car", Direction: "left", Severity: types.SeverityCritical}}
	if err := e.PublishAlert(utt, risks); err != nil {
		t.Fatalf("publish: %v", err)
	}

	msg := fc.last(t)
	if msg.topic != "glasses/alerts/glasses-01" {
		t.Errorf("topic = %s", msg.topic)
	}
	if msg.qos != 1 {
		t.Errorf("qos = %d, want 1", msg.qos)
	}

	var alert AlertMessage
	if err := json.Unmarshal(msg.payload, &alert); err != nil {
		t.Fatalf("alert payload: %v", err)
	}
	if alert.DeviceID != "glasses-01" || alert.TraceID != "t-9" {
		t.Errorf("alert ids = %s/%s", alert.DeviceID, alert.TraceID)
	}
	if alert.Severity != types.SeverityCritical {
		t.Errorf("severity = %v", alert.Severity)
	}
	if len(alert.Risks) != 1 || alert.Risks[0].Label != "car" {
		t.Errorf("risks = %+v", alert.Risks)
	}
}

func TestPublishHealthUsesHealthTopic(t *testing.T) {
	fc := &fakeClient{}
	e := connectedEmitter(fc)

	if err := e.PublishHealth([]byte(`{"status":"healthy"}`)); err != nil {
		t.Fatalf("publish: %v", err)
	}
	msg := fc.last(t)
	if msg.topic != "glasses/health/glasses-01" || msg.qos != 1 {
		t.Errorf("topic/qos = %s/%d", msg.topic, msg.qos)
	}
}

func TestPublishErrorCounted(t *testing.T) {
	fc := &fakeClient{publishErr: errors.New("broker gone")}
	e := connectedEmitter(fc)

	if err := e.PublishHealth([]byte("{}")); err == nil {
		t.Fatal("expected publish error")
	}
	if got := e.Stats().Errors; got != 1 {
		t.Errorf("errors = %d, want 1", got)
	}
}

func TestQoSFallsBackToZero(t *testing.T) {
	cfg := testConfig()
	cfg.QoS = nil
	e := New(cfg, "glasses-01")
	fc := &fakeClient{}
	e.Client = fc
	e.connected = true

	if err := e.PublishHealth([]byte("{}")); err != nil {
		t.Fatalf("publish: %v", err)
	}
	if msg := fc.last(t); msg.qos != 0 {
		t.Errorf("qos = %d, want 0", msg.qos)
	}
}

func TestStatsCountsPerTopic(t *testing.T) {
	fc := &fakeClient{}
	e := connectedEmitter(fc)

	_ = e.PublishHealth([]byte("{}"))
	_ = e.PublishHealth([]byte("{}"))
	obs := types.Observation{DeviceID: "glasses-01"}
	_ = e.PublishObservation(obs)

	stats := e.Stats()
	if !stats.Connected {
		t.Error("stats should report connected")
	}
	if stats.Published["glasses/health/glasses-01"] != 2 {
		t.Errorf("health count = %d, want 2", stats.Published["glasses/health/glasses-01"])
	}
	if stats.Published["glasses/detections/glasses-01"] != 1 {
		t.Errorf("detections count = %d, want 1", stats.Published["glasses/detections/glasses-01"])
	}

	// the snapshot is a copy
	stats.Published["glasses/health/glasses-01"] = 99
	if e.Stats().Published["glasses/health/glasses-01"] != 2 {
		t.Error("stats map is not a copy")
	}
}
