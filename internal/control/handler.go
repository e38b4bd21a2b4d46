// Package control is the inbound MQTT command plane. Commands arrive
// on the control topic, run on a single worker goroutine and are
// acknowledged on the response topic.
package control

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/v12510/GlassesVisionSystem/internal/config"
)

// shutdownGrace is how long the shutdown ack gets onto the wire before
// the teardown starts.
const shutdownGrace = 500 * time.Millisecond

// Command is an inbound control message.
type Command struct {
	Command string                 `json:"command"`
	Config  map[string]interface{} `json:"config,omitempty"`
	Params  map[string]interface{} `json:"params,omitempty"`
}

// Response acknowledges a command on the response topic.
type Response struct {
	CommandAck string                 `json:"command_ack"`
	Status     string                 `json:"status"`
	Data       map[string]interface{} `json:"data,omitempty"`
	Error      string                 `json:"error,omitempty"`
	Timestamp  string                 `json:"timestamp"`
}

// Callbacks binds commands to the orchestrator. Nil entries answer
// "not implemented".
type Callbacks struct {
	OnStatus        func() map[string]interface{}
	OnStart         func() error
	OnStop          func() error
	OnScanMode      func(enabled bool) error
	OnLanguage      func(code string) error
	OnBatteryReport func() error
	OnWhatsAhead    func() error
	OnSetConfig     func(map[string]interface{}) error
	OnShutdown      func() error
}

// Handler subscribes to the control topic and dispatches commands.
type Handler struct {
	cfg       config.MQTTConfig
	client    mqtt.Client
	commands  chan Command
	callbacks Callbacks
	grace     time.Duration
}

func NewHandler(cfg config.MQTTConfig, client mqtt.Client, callbacks Callbacks) *Handler {
	return &Handler{
		cfg:       cfg,
		client:    client,
		commands:  make(chan Command, 10),
		callbacks: callbacks,
		grace:     shutdownGrace,
	}
}

// Start subscribes and launches the command worker.
func (h *Handler) Start(ctx context.Context) error {
	topic := h.cfg.Topics.Control
	qos := h.cfg.QoS["control"]

	slog.Info("Subscribing to control plane", "topic", topic, "qos", qos)

	token := h.client.Subscribe(topic, qos, h.messageHandler)
	if !token.WaitTimeout(5 * time.Second) {
		return fmt.Errorf("control plane subscription timeout")
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("control plane subscription failed: %w", err)
	}

	go h.processCommands(ctx)
	return nil
}

// Stop unsubscribes and drains the worker.
func (h *Handler) Stop() {
	if h.client != nil && h.client.IsConnected() {
		token := h.client.Unsubscribe(h.cfg.Topics.Control)
		token.Wait()
	}
	close(h.commands)
	slog.Info("Control plane handler stopped")
}

func (h *Handler) messageHandler(client mqtt.Client, msg mqtt.Message) {
	var cmd Command
	if err := json.Unmarshal(msg.Payload(), &cmd); err != nil {
		slog.Error("Failed to parse control command", "error", err)
		go h.sendResponse(Response{
			CommandAck: "unknown",
			Status:     "error",
			Error:      "invalid JSON",
		})
		return
	}

	slog.Info("Control command received", "command", cmd.Command)

	select {
	case h.commands <- cmd:
	default:
		slog.Warn("Command queue full, dropping command", "command", cmd.Command)
		go h.sendResponse(Response{
			CommandAck: cmd.Command,
			Status:     "error",
			Error:      "command queue full",
		})
	}
}

func (h *Handler) processCommands(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case cmd, ok := <-h.commands:
			if !ok {
				return
			}
			h.handleCommand(cmd)
		}
	}
}

func (h *Handler) handleCommand(cmd Command) {
	var resp Response
	resp.CommandAck = cmd.Command

	switch cmd.Command {
	case "status":
		if h.callbacks.OnStatus != nil {
			resp.Status = "success"
			resp.Data = h.callbacks.OnStatus()
		} else {
			resp.Status = "error"
			resp.Error = "status not implemented"
		}

	case "start":
		resp = h.simple(cmd, h.callbacks.OnStart, map[string]interface{}{"running": true})

	case "stop":
		resp = h.simple(cmd, h.callbacks.OnStop, map[string]interface{}{"running": false})

	case "scan_mode":
		if h.callbacks.OnScanMode == nil {
			resp.Status = "error"
			resp.Error = "scan_mode not implemented"
			break
		}
		enabled, ok := cmd.Params["enabled"].(bool)
		if !ok {
			resp.Status = "error"
			resp.Error = "missing or invalid 'enabled' parameter (expected bool)"
			break
		}
		if err := h.callbacks.OnScanMode(enabled); err != nil {
			resp.Status = "error"
			resp.Error = err.Error()
		} else {
			resp.Status = "success"
			resp.Data = map[string]interface{}{"scan_mode": enabled}
		}

	case "language":
		if h.callbacks.OnLanguage == nil {
			resp.Status = "error"
			resp.Error = "language not implemented"
			break
		}
		code, ok := cmd.Params["code"].(string)
		if !ok || code == "" {
			resp.Status = "error"
			resp.Error = "missing or invalid 'code' parameter (expected string: en/zh)"
			break
		}
		if err := h.callbacks.OnLanguage(code); err != nil {
			resp.Status = "error"
			resp.Error = err.Error()
		} else {
			resp.Status = "success"
			resp.Data = map[string]interface{}{"language": code}
		}

	case "battery_report":
		resp = h.simple(cmd, h.callbacks.OnBatteryReport, map[string]interface{}{"spoken": true})

	case "whats_ahead":
		resp = h.simple(cmd, h.callbacks.OnWhatsAhead, map[string]interface{}{"spoken": true})

	case "set_config":
		if h.callbacks.OnSetConfig == nil {
			resp.Status = "error"
			resp.Error = "set_config not implemented"
			break
		}
		if err := h.callbacks.OnSetConfig(cmd.Config); err != nil {
			resp.Status = "error"
			resp.Error = err.Error()
		} else {
			resp.Status = "success"
			resp.Data = map[string]interface{}{"config_updated": true}
		}

	case "shutdown":
		if h.callbacks.OnShutdown == nil {
			resp.Status = "error"
			resp.Error = "shutdown not implemented"
			break
		}
		slog.Warn("Shutdown command received via control plane")
		resp.Status = "success"
		resp.Data = map[string]interface{}{
			"shutdown_initiated": true,
			"message":            "graceful shutdown in progress",
		}
		// Ack before tearing down, or the ack never leaves.
		h.sendResponse(resp)
		go func() {
			time.Sleep(h.grace)
			if err := h.callbacks.OnShutdown(); err != nil {
				slog.Error("Shutdown callback failed", "error", err)
			}
		}()
		return

	default:
		resp.Status = "error"
		resp.Error = fmt.Sprintf("unknown command: %s", cmd.Command)
	}

	h.sendResponse(resp)
}

// simple runs a no-argument callback and shapes the stock response.
func (h *Handler) simple(cmd Command, fn func() error, data map[string]interface{}) Response {
	resp := Response{CommandAck: cmd.Command}
	if fn == nil {
		resp.Status = "error"
		resp.Error = fmt.Sprintf("%s not implemented", cmd.Command)
		return resp
	}
	if err := fn(); err != nil {
		resp.Status = "error"
		resp.Error = err.Error()
		return resp
	}
	resp.Status = "success"
	resp.Data = data
	return resp
}

func (h *Handler) sendResponse(resp Response) {
	resp.Timestamp = time.Now().UTC().Format(time.RFC3339)

	payload, err := json.Marshal(resp)
	if err != nil {
		slog.Error("Failed to marshal response", "error", err)
		return
	}

	topic := h.cfg.Topics.Control + "/response"
	qos := h.cfg.QoS["control"]

	token := h.client.Publish(topic, qos, false, payload)
	if !token.WaitTimeout(2 * time.Second) {
		slog.Error("Response publish timeout")
		return
	}
	if err := token.Error(); err != nil {
		slog.Error("Failed to publish response", "error", err)
		return
	}

	slog.Debug("Response sent", "command_ack", resp.CommandAck, "status", resp.Status)
}
