// Package emitter publishes pipeline output to the MQTT plane: raw
// observations, spoken alerts and periodic health snapshots, each on
// its own topic and QoS class.
package emitter

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/v12510/GlassesVisionSystem/internal/config"
	"github.com/v12510/GlassesVisionSystem/internal/types"
)

// AlertMessage is the payload on the alerts topic: the spoken warning
// plus the risks that produced it, so a caregiver app can show both.
type AlertMessage struct {
	DeviceID  string         `json:"device_id"`
	TraceID   string         `json:"trace_id,omitempty"`
	Text      string         `json:"text"`
	Language  string         `json:"language"`
	Severity  types.Severity `json:"severity"`
	Risks     []types.Risk   `json:"risks,omitempty"`
	Timestamp string         `json:"timestamp"`
}

// Emitter publishes to the MQTT broker with auto-reconnect.
type Emitter struct {
	cfg      config.MQTTConfig
	deviceID string
	Client   mqtt.Client // exported for the control plane subscription

	mu        sync.RWMutex
	published map[string]uint64 // count per topic
	errors    uint64
	connected bool
}

func New(cfg config.MQTTConfig, deviceID string) *Emitter {
	return &Emitter{
		cfg:       cfg,
		deviceID:  deviceID,
		published: make(map[string]uint64),
	}
}

// Connect establishes the broker session. Reconnects afterwards are
// automatic; publishes fail fast while the link is down.
func (e *Emitter) Connect(ctx context.Context) error {
	opts := mqtt.NewClientOptions()
	opts.AddBroker(fmt.Sprintf("tcp://%s", e.cfg.Broker))
	opts.SetClientID(e.deviceID)
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(2 * time.Second)
	opts.SetMaxReconnectInterval(30 * time.Second)

	opts.OnConnect = func(c mqtt.Client) {
		e.mu.Lock()
		e.connected = true
		e.mu.Unlock()
		slog.Info("MQTT connection established",
			"broker", e.cfg.Broker,
			"client_id", e.deviceID)
	}
	opts.OnConnectionLost = func(c mqtt.Client, err error) {
		e.mu.Lock()
		e.connected = false
		e.mu.Unlock()
		slog.Warn("MQTT connection lost, will auto-reconnect",
			"error", err,
			"broker", e.cfg.Broker)
	}

	e.Client = mqtt.NewClient(opts)

	slog.Info("Connecting to MQTT broker", "broker", e.cfg.Broker)
	token := e.Client.Connect()
	if !token.WaitTimeout(5 * time.Second) {
		return fmt.Errorf("mqtt connection timeout")
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("mqtt connection failed: %w", err)
	}

	e.mu.Lock()
	e.connected = true
	e.mu.Unlock()
	return nil
}

// PublishObservation emits a detection result on the detections topic.
func (e *Emitter) PublishObservation(obs types.Observation) error {
	payload, err := obs.ToJSON()
	if err != nil {
		e.countError()
		return fmt.Errorf("marshal observation: %w", err)
	}
	return e.publish(e.cfg.Topics.Detections, e.qosFor("detections"), payload)
}

// PublishAlert emits a warning/critical utterance with its risks.
func (e *Emitter) PublishAlert(utt types.Utterance, risks []types.Risk) error {
	msg := AlertMessage{
		DeviceID:  e.deviceID,
		TraceID:   utt.TraceID,
		Text:      utt.Text,
		Language:  utt.Language,
		Severity:  utt.Severity,
		Risks:     risks,
		Timestamp: time.Now().UTC().Format(time.RFC3339Nano),
	}
	payload, err := json.Marshal(msg)
	if err != nil {
		e.countError()
		return fmt.Errorf("marshal alert: %w", err)
	}
	return e.publish(e.cfg.Topics.Alerts, e.qosFor("alerts"), payload)
}

// PublishHealth emits a pre-marshalled health snapshot.
func (e *Emitter) PublishHealth(payload []byte) error {
	return e.publish(e.cfg.Topics.Health, e.qosFor("health"), payload)
}

func (e *Emitter) publish(topic string, qos byte, payload []byte) error {
	if !e.IsConnected() {
		e.countError()
		return fmt.Errorf("mqtt not connected")
	}

	token := e.Client.Publish(topic, qos, false, payload)
	if !token.WaitTimeout(2 * time.Second) {
		e.countError()
		return fmt.Errorf("publish timeout on %s", topic)
	}
	if err := token.Error(); err != nil {
		e.countError()
		return fmt.Errorf("publish failed on %s: %w", topic, err)
	}

	e.mu.Lock()
	e.published[topic]++
	e.mu.Unlock()

	slog.Debug("Published", "topic", topic, "qos", qos, "size", len(payload))
	return nil
}

// Disconnect closes the broker session with a short grace period.
func (e *Emitter) Disconnect() {
	if e.Client != nil && e.Client.IsConnected() {
		e.Client.Disconnect(250)
		slog.Info("MQTT disconnected")
	}
	e.mu.Lock()
	e.connected = false
	e.mu.Unlock()
}

// IsConnected reports whether the broker session is up.
func (e *Emitter) IsConnected() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.connected
}

// Stats contains emitter counters.
type Stats struct {
	Connected bool
	Published map[string]uint64
	Errors    uint64
}

func (e *Emitter) Stats() Stats {
	e.mu.RLock()
	defer e.mu.RUnlock()

	published := make(map[string]uint64, len(e.published))
	for k, v := range e.published {
		published[k] = v
	}
	return Stats{
		Connected: e.connected,
		Published: published,
		Errors:    e.errors,
	}
}

func (e *Emitter) countError() {
	e.mu.Lock()
	e.errors++
	e.mu.Unlock()
}

func (e *Emitter) qosFor(class string) byte {
	if qos, ok := e.cfg.QoS[class]; ok {
		return qos
	}
	return 0
}
