package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Config represents the complete glasses daemon configuration
type Config struct {
	DeviceID         string           `yaml:"device_id"`
	ShutdownTimeoutS int              `yaml:"shutdown_timeout_s"` // Graceful shutdown timeout in seconds (default: 10)
	Camera           CameraConfig     `yaml:"camera"`
	Pipeline         PipelineConfig   `yaml:"pipeline"`
	Preprocess       PreprocessConfig `yaml:"preprocess"`
	Detector         DetectorConfig   `yaml:"detector"`
	Scene            SceneConfig      `yaml:"scene"`
	Narration        NarrationConfig  `yaml:"narration"`
	TTS              TTSConfig        `yaml:"tts"`
	Audio            AudioConfig      `yaml:"audio"`
	Voice            VoiceConfig      `yaml:"voice"`
	MQTT             MQTTConfig       `yaml:"mqtt"`
	Health           HealthConfig     `yaml:"health"`
	Power            PowerConfig      `yaml:"power"`
	Journal          JournalConfig    `yaml:"journal"`
	Discovery        DiscoveryConfig  `yaml:"discovery"`
}

// CameraConfig contains sensor capture settings
type CameraConfig struct {
	Source     string  `yaml:"source"`     // mock, v4l2
	Device     string  `yaml:"device"`     // /dev/video0
	Resolution string  `yaml:"resolution"` // 320p, 480p, 512p, 720p, 1080p
	FPS        int     `yaml:"fps"`
	Depth      bool    `yaml:"depth"`       // RGB-D capture when the sensor supports it
	FOVDegrees float64 `yaml:"fov_degrees"` // horizontal field of view
}

// PipelineConfig contains processing loop settings
type PipelineConfig struct {
	MaxInferenceRateHz float64        `yaml:"max_inference_rate_hz"` // Maximum inferences per second
	ProcessInterval    int            `yaml:"process_interval"`      // Calculated automatically or manual override
	WarmupDurationS    int            `yaml:"warmup_duration_s"`     // 0 disables warmup
	WatchdogIntervalS  int            `yaml:"watchdog_interval_s"`
	Adaptive           AdaptiveConfig `yaml:"adaptive"`
	DeadlineMS         int            `yaml:"deadline_ms"` // end-to-end capture-to-speech budget
}

// AdaptiveConfig tunes the resolution scaling loop
type AdaptiveConfig struct {
	Enabled bool `yaml:"enabled"`
	// LatencyHighS triggers a resolution step down when mean end-to-end
	// latency exceeds it
	LatencyHighS float64 `yaml:"latency_high_s"`
	// LatencyLowS allows a step up when latency stays below it
	LatencyLowS float64 `yaml:"latency_low_s"`
	// ThroughputLowFPS gates step up: only scale up while throughput is
	// below this
	ThroughputLowFPS float64 `yaml:"throughput_low_fps"`
	WindowFrames     int     `yaml:"window_frames"`
}

// PreprocessConfig contains frame enhancement settings
type PreprocessConfig struct {
	// DenoiseStrength for non-local-means denoising, OpenCV builds only
	DenoiseStrength float64 `yaml:"denoise_strength"`
	CLAHEClip       float64 `yaml:"clahe_clip"`
}

// DetectorConfig contains object detector settings
type DetectorConfig struct {
	Mode       string              `yaml:"mode"` // local, cloud, hybrid, mock
	Command    string              `yaml:"command"`
	Args       []string            `yaml:"args"`
	ModelPath  string              `yaml:"model_path"`
	InputSize  int                 `yaml:"input_size"` // square model input
	Confidence float64             `yaml:"confidence"`
	Cloud      CloudDetectorConfig `yaml:"cloud"`
}

// CloudDetectorConfig contains the remote detector endpoint settings.
// The API key comes from the environment, never from YAML.
type CloudDetectorConfig struct {
	Endpoint string `yaml:"endpoint"`
	TimeoutS int    `yaml:"timeout_s"`
}

// SceneConfig contains scene analysis thresholds
type SceneConfig struct {
	ContextWindow  int     `yaml:"context_window"`   // positions kept per track
	SpeedThreshold float64 `yaml:"speed_threshold"`  // px/frame
	DistanceNearPx int     `yaml:"distance_near_px"` // 2D proxy when no depth
	DistanceNearMM int     `yaml:"distance_near_mm"` // depth-based threshold
	CrowdThreshold int     `yaml:"crowd_threshold"`  // persons in view
}

// NarrationConfig contains message generation settings
type NarrationConfig struct {
	Language  string `yaml:"language"`  // en, zh
	Verbosity string `yaml:"verbosity"` // minimal, normal, detailed
	// AlertCooldownS suppresses duplicate alerts inside the window
	AlertCooldownS int `yaml:"alert_cooldown_s"`
	// SummaryIntervalS rate-limits scene summaries
	SummaryIntervalS int `yaml:"summary_interval_s"`
}

// TTSConfig contains speech synthesis settings
type TTSConfig struct {
	VoiceID    string  `yaml:"voice_id"`
	Speed      float64 `yaml:"speed"` // 0.5 - 2.0
	Pitch      float64 `yaml:"pitch"` // -1.0 - 1.0
	Emotion    string  `yaml:"emotion"`
	Endpoint   string  `yaml:"endpoint"` // online engine, empty = offline only
	TimeoutS   int     `yaml:"timeout_s"`
	CacheDir   string  `yaml:"cache_dir"`
	CacheLimit int     `yaml:"cache_limit"` // entries kept on disk
	QueueSize  int     `yaml:"queue_size"`
	SampleRate int     `yaml:"sample_rate"`
	// OutputDevice selects the playback transducer by substring match
	// ("bone_conduction" on device hardware, "default" elsewhere)
	OutputDevice string `yaml:"output_device"`
}

// AudioConfig contains microphone capture settings
type AudioConfig struct {
	CaptureDevice string `yaml:"capture_device"`
	SampleRate    int    `yaml:"sample_rate"` // 16000 for speech recognition
}

// VoiceConfig contains voice command settings
type VoiceConfig struct {
	Enabled   bool   `yaml:"enabled"`
	ModelPath string `yaml:"model_path"` // vosk model directory
}

// MQTTConfig contains MQTT broker settings
type MQTTConfig struct {
	Broker string          `yaml:"broker"`
	Topics MQTTTopics      `yaml:"topics"`
	QoS    map[string]byte `yaml:"qos"`
}

// MQTTTopics contains topic templates
type MQTTTopics struct {
	Control    string `yaml:"control"`
	Detections string `yaml:"detections"`
	Alerts     string `yaml:"alerts"`
	Health     string `yaml:"health"`
}

// HealthConfig contains the observability HTTP server settings
type HealthConfig struct {
	Port string `yaml:"port"`
}

// PowerConfig contains battery monitoring settings
type PowerConfig struct {
	Supply        string `yaml:"supply"` // /sys/class/power_supply entry, e.g. BAT0
	LowBatteryPct int    `yaml:"low_battery_pct"`
	PollIntervalS int    `yaml:"poll_interval_s"`
}

// JournalConfig contains pipeline flight recorder settings
type JournalConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// DiscoveryConfig contains mDNS advertisement settings
type DiscoveryConfig struct {
	Enabled bool `yaml:"enabled"`
}

// Load reads and parses a YAML configuration file
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	if err := Validate(&cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

// Redacted returns a copy safe for logging. Secrets never live in the
// YAML file, so today this only trims verbose maps.
func (c *Config) Redacted() Config {
	out := *c
	out.MQTT.QoS = nil
	return out
}
