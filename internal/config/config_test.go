package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

const minimalYAML = `
device_id: glasses-01
camera:
  source: mock
  resolution: 480p
  fps: 30
`

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "glasses.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadMinimalAppliesDefaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, minimalYAML))
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Pipeline.MaxInferenceRateHz != 5.0 {
		t.Errorf("MaxInferenceRateHz = %v, want 5.0", cfg.Pipeline.MaxInferenceRateHz)
	}
	if cfg.Pipeline.DeadlineMS != 500 {
		t.Errorf("DeadlineMS = %d, want 500", cfg.Pipeline.DeadlineMS)
	}
	if cfg.Detector.Mode != "local" {
		t.Errorf("Detector.Mode = %q, want local", cfg.Detector.Mode)
	}
	if cfg.Detector.InputSize != 416 {
		t.Errorf("Detector.InputSize = %d, want 416", cfg.Detector.InputSize)
	}
	if cfg.Scene.ContextWindow != 5 || cfg.Scene.SpeedThreshold != 0.5 {
		t.Errorf("scene defaults = %+v", cfg.Scene)
	}
	if cfg.Narration.Language != "en" || cfg.Narration.Verbosity != "normal" {
		t.Errorf("narration defaults = %+v", cfg.Narration)
	}
	if cfg.TTS.Speed != 1.0 || cfg.TTS.QueueSize != 10 || cfg.TTS.SampleRate != 24000 {
		t.Errorf("tts defaults = %+v", cfg.TTS)
	}
	if cfg.Audio.SampleRate != 16000 {
		t.Errorf("audio sample rate = %d, want 16000", cfg.Audio.SampleRate)
	}
	if cfg.Health.Port != "8080" {
		t.Errorf("health port = %q, want 8080", cfg.Health.Port)
	}
	if cfg.ShutdownTimeoutS != 10 {
		t.Errorf("shutdown timeout = %d, want 10", cfg.ShutdownTimeoutS)
	}
}

func TestMQTTTopicDefaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, minimalYAML+`
mqtt:
  broker: localhost:1883
`))
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.MQTT.Topics.Control != "glasses/control/glasses-01" {
		t.Errorf("control topic = %q", cfg.MQTT.Topics.Control)
	}
	if cfg.MQTT.Topics.Alerts != "glasses/alerts/glasses-01" {
		t.Errorf("alerts topic = %q", cfg.MQTT.Topics.Alerts)
	}
	if cfg.MQTT.QoS["alerts"] != 1 {
		t.Errorf("alerts qos = %d, want 1", cfg.MQTT.QoS["alerts"])
	}
	if cfg.MQTT.QoS["detections"] != 0 {
		t.Errorf("detections qos = %d, want 0", cfg.MQTT.QoS["detections"])
	}
}

func TestRedactedTrimsQoSMap(t *testing.T) {
	cfg, err := Load(writeConfig(t, minimalYAML+`
mqtt:
  broker: localhost:1883
`))
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	out := cfg.Redacted()
	if out.MQTT.QoS != nil {
		t.Errorf("redacted QoS = %v, want nil", out.MQTT.QoS)
	}
	if out.DeviceID != cfg.DeviceID || out.MQTT.Broker != cfg.MQTT.Broker {
		t.Error("redacted copy lost non-secret fields")
	}
	if cfg.MQTT.QoS == nil {
		t.Error("Redacted mutated the source config")
	}
}

func TestValidateRejects(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{
			name:    "MissingDeviceID",
			mutate:  func(c *Config) { c.DeviceID = "" },
			wantErr: "device_id is required",
		},
		{
			name:    "BadDeviceID",
			mutate:  func(c *Config) { c.DeviceID = "Glasses_01" },
			wantErr: "device_id must match",
		},
		{
			name:    "BadResolution",
			mutate:  func(c *Config) { c.Camera.Resolution = "600p" },
			wantErr: "unknown resolution",
		},
		{
			name:    "BadDetectorMode",
			mutate:  func(c *Config) { c.Detector.Mode = "remote" },
			wantErr: "detector.mode",
		},
		{
			name:    "CloudWithoutEndpoint",
			mutate:  func(c *Config) { c.Detector.Mode = "cloud" },
			wantErr: "detector.cloud.endpoint is required",
		},
		{
			name:    "SpeedOutOfRange",
			mutate:  func(c *Config) { c.TTS.Speed = 2.5 },
			wantErr: "tts.speed",
		},
		{
			name:    "PitchOutOfRange",
			mutate:  func(c *Config) { c.TTS.Pitch = -1.5 },
			wantErr: "tts.pitch",
		},
		{
			name:    "BadLanguage",
			mutate:  func(c *Config) { c.Narration.Language = "fr" },
			wantErr: "narration.language",
		},
		{
			name:    "VoiceWithoutModel",
			mutate:  func(c *Config) { c.Voice.Enabled = true },
			wantErr: "voice.model_path",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Config{DeviceID: "glasses-01"}
			cfg.Camera.Source = "mock"
			tt.mutate(&cfg)

			err := Validate(&cfg)
			if err == nil {
				t.Fatal("Validate accepted invalid config")
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("error = %q, want substring %q", err, tt.wantErr)
			}
		})
	}
}

func TestParseResolution(t *testing.T) {
	tests := []struct {
		name   string
		w, h   int
		wantOK bool
	}{
		{"320p", 426, 320, true},
		{"480p", 640, 480, true},
		{"512p", 640, 512, true},
		{"720p", 1280, 720, true},
		{"1080p", 1920, 1080, true},
		{"4k", 0, 0, false},
	}

	for _, tt := range tests {
		w, h, err := ParseResolution(tt.name)
		if tt.wantOK && err != nil {
			t.Errorf("ParseResolution(%q) error: %v", tt.name, err)
			continue
		}
		if !tt.wantOK {
			if err == nil {
				t.Errorf("ParseResolution(%q) accepted unknown name", tt.name)
			}
			continue
		}
		if w != tt.w || h != tt.h {
			t.Errorf("ParseResolution(%q) = %dx%d, want %dx%d", tt.name, w, h, tt.w, tt.h)
		}
	}
}

func TestLoadSecretsFromDotenv(t *testing.T) {
	dir := t.TempDir()
	envPath := filepath.Join(dir, ".env")
	if err := os.WriteFile(envPath, []byte("GLASSES_CLOUD_API_KEY=sk-test-123\n"), 0o600); err != nil {
		t.Fatalf("write .env: %v", err)
	}
	t.Setenv(EnvCloudAPIKey, "")
	t.Setenv(EnvTTSAPIKey, "")
	os.Unsetenv(EnvCloudAPIKey)

	s := LoadSecrets(envPath)
	if s.CloudAPIKey != "sk-test-123" {
		t.Errorf("CloudAPIKey = %q, want sk-test-123", s.CloudAPIKey)
	}
	if s.TTSAPIKey != "" {
		t.Errorf("TTSAPIKey = %q, want empty", s.TTSAPIKey)
	}
}
