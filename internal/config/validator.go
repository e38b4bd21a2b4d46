package config

import (
	"fmt"
	"regexp"
)

var deviceIDPattern = regexp.MustCompile(`^[a-z0-9\-]+$`)

// Resolution name to dimensions. The adaptive tuner steps through these
// in order.
var resolutions = map[string][2]int{
	"320p":  {426, 320},
	"480p":  {640, 480},
	"512p":  {640, 512},
	"720p":  {1280, 720},
	"1080p": {1920, 1080},
}

// ResolutionLadder orders resolution names from smallest to largest.
var ResolutionLadder = []string{"320p", "480p", "512p", "720p", "1080p"}

// ParseResolution converts a resolution name to pixel dimensions
func ParseResolution(name string) (width, height int, err error) {
	dims, ok := resolutions[name]
	if !ok {
		return 0, 0, fmt.Errorf("unknown resolution %q (must be one of 320p, 480p, 512p, 720p, 1080p)", name)
	}
	return dims[0], dims[1], nil
}

// Validate checks if the configuration is valid and applies defaults
func Validate(cfg *Config) error {
	if cfg.DeviceID == "" {
		return fmt.Errorf("device_id is required")
	}
	if !deviceIDPattern.MatchString(cfg.DeviceID) {
		return fmt.Errorf("device_id must match pattern [a-z0-9-]+")
	}

	if cfg.ShutdownTimeoutS <= 0 {
		cfg.ShutdownTimeoutS = 10
	}

	// Camera
	if cfg.Camera.Source == "" {
		cfg.Camera.Source = "v4l2"
	}
	if cfg.Camera.Source != "mock" && cfg.Camera.Source != "v4l2" {
		return fmt.Errorf("camera.source must be 'mock' or 'v4l2', got %q", cfg.Camera.Source)
	}
	if cfg.Camera.Device == "" {
		cfg.Camera.Device = "/dev/video0"
	}
	if cfg.Camera.Resolution == "" {
		cfg.Camera.Resolution = "480p"
	}
	if _, _, err := ParseResolution(cfg.Camera.Resolution); err != nil {
		return fmt.Errorf("camera.resolution: %w", err)
	}
	if cfg.Camera.FPS <= 0 {
		cfg.Camera.FPS = 30
	}
	if cfg.Camera.FOVDegrees <= 0 {
		cfg.Camera.FOVDegrees = 120
	}

	// Pipeline
	if cfg.Pipeline.MaxInferenceRateHz <= 0 {
		cfg.Pipeline.MaxInferenceRateHz = 5.0
	}
	if cfg.Pipeline.WatchdogIntervalS <= 0 {
		cfg.Pipeline.WatchdogIntervalS = 30
	}
	if cfg.Pipeline.DeadlineMS <= 0 {
		cfg.Pipeline.DeadlineMS = 500
	}
	if cfg.Pipeline.Adaptive.LatencyHighS <= 0 {
		cfg.Pipeline.Adaptive.LatencyHighS = 1.0
	}
	if cfg.Pipeline.Adaptive.LatencyLowS <= 0 {
		cfg.Pipeline.Adaptive.LatencyLowS = 0.5
	}
	if cfg.Pipeline.Adaptive.ThroughputLowFPS <= 0 {
		cfg.Pipeline.Adaptive.ThroughputLowFPS = 15
	}
	if cfg.Pipeline.Adaptive.WindowFrames <= 0 {
		cfg.Pipeline.Adaptive.WindowFrames = 30
	}

	// Preprocess
	if cfg.Preprocess.DenoiseStrength <= 0 {
		cfg.Preprocess.DenoiseStrength = 3
	}
	if cfg.Preprocess.CLAHEClip <= 0 {
		cfg.Preprocess.CLAHEClip = 2.0
	}

	// Detector
	if cfg.Detector.Mode == "" {
		cfg.Detector.Mode = "local"
	}
	switch cfg.Detector.Mode {
	case "local", "cloud", "hybrid", "mock":
	default:
		return fmt.Errorf("detector.mode must be local, cloud, hybrid or mock, got %q", cfg.Detector.Mode)
	}
	if cfg.Detector.InputSize <= 0 {
		cfg.Detector.InputSize = 416
	}
	if cfg.Detector.Confidence <= 0 {
		cfg.Detector.Confidence = 0.5
	}
	if (cfg.Detector.Mode == "cloud" || cfg.Detector.Mode == "hybrid") && cfg.Detector.Cloud.Endpoint == "" {
		return fmt.Errorf("detector.cloud.endpoint is required in %s mode", cfg.Detector.Mode)
	}
	if cfg.Detector.Cloud.TimeoutS <= 0 {
		cfg.Detector.Cloud.TimeoutS = 5
	}

	// Scene
	if cfg.Scene.ContextWindow <= 0 {
		cfg.Scene.ContextWindow = 5
	}
	if cfg.Scene.SpeedThreshold <= 0 {
		cfg.Scene.SpeedThreshold = 0.5
	}
	if cfg.Scene.DistanceNearPx <= 0 {
		cfg.Scene.DistanceNearPx = 200
	}
	if cfg.Scene.DistanceNearMM <= 0 {
		cfg.Scene.DistanceNearMM = 1500
	}
	if cfg.Scene.CrowdThreshold <= 0 {
		cfg.Scene.CrowdThreshold = 5
	}

	// Narration
	if cfg.Narration.Language == "" {
		cfg.Narration.Language = "en"
	}
	if cfg.Narration.Language != "en" && cfg.Narration.Language != "zh" {
		return fmt.Errorf("narration.language must be 'en' or 'zh', got %q", cfg.Narration.Language)
	}
	if cfg.Narration.Verbosity == "" {
		cfg.Narration.Verbosity = "normal"
	}
	switch cfg.Narration.Verbosity {
	case "minimal", "normal", "detailed":
	default:
		return fmt.Errorf("narration.verbosity must be minimal, normal or detailed, got %q", cfg.Narration.Verbosity)
	}
	if cfg.Narration.AlertCooldownS <= 0 {
		cfg.Narration.AlertCooldownS = 5
	}
	if cfg.Narration.SummaryIntervalS <= 0 {
		cfg.Narration.SummaryIntervalS = 15
	}

	// TTS
	if cfg.TTS.Speed == 0 {
		cfg.TTS.Speed = 1.0
	}
	if cfg.TTS.Speed < 0.5 || cfg.TTS.Speed > 2.0 {
		return fmt.Errorf("tts.speed must be within 0.5 - 2.0, got %v", cfg.TTS.Speed)
	}
	if cfg.TTS.Pitch < -1.0 || cfg.TTS.Pitch > 1.0 {
		return fmt.Errorf("tts.pitch must be within -1.0 - 1.0, got %v", cfg.TTS.Pitch)
	}
	if cfg.TTS.VoiceID == "" {
		cfg.TTS.VoiceID = "default"
	}
	if cfg.TTS.TimeoutS <= 0 {
		cfg.TTS.TimeoutS = 5
	}
	if cfg.TTS.QueueSize <= 0 {
		cfg.TTS.QueueSize = 10
	}
	if cfg.TTS.SampleRate <= 0 {
		cfg.TTS.SampleRate = 24000
	}
	if cfg.TTS.CacheLimit <= 0 {
		cfg.TTS.CacheLimit = 256
	}
	if cfg.TTS.OutputDevice == "" {
		cfg.TTS.OutputDevice = "default"
	}

	// Audio
	if cfg.Audio.SampleRate <= 0 {
		cfg.Audio.SampleRate = 16000
	}
	if cfg.Voice.Enabled && cfg.Voice.ModelPath == "" {
		return fmt.Errorf("voice.model_path is required when voice.enabled")
	}

	// MQTT: broker optional (device can run offline), but topics and QoS
	// get defaults whenever a broker is set
	if cfg.MQTT.Broker != "" {
		if cfg.MQTT.Topics.Control == "" {
			cfg.MQTT.Topics.Control = fmt.Sprintf("glasses/control/%s", cfg.DeviceID)
		}
		if cfg.MQTT.Topics.Detections == "" {
			cfg.MQTT.Topics.Detections = fmt.Sprintf("glasses/detections/%s", cfg.DeviceID)
		}
		if cfg.MQTT.Topics.Alerts == "" {
			cfg.MQTT.Topics.Alerts = fmt.Sprintf("glasses/alerts/%s", cfg.DeviceID)
		}
		if cfg.MQTT.Topics.Health == "" {
			cfg.MQTT.Topics.Health = fmt.Sprintf("glasses/health/%s", cfg.DeviceID)
		}
		if cfg.MQTT.QoS == nil {
			cfg.MQTT.QoS = map[string]byte{
				"control":    1,
				"detections": 0,
				"alerts":     1,
				"health":     1,
			}
		}
	}

	// Health
	if cfg.Health.Port == "" {
		cfg.Health.Port = "8080"
	}

	// Power
	if cfg.Power.Supply == "" {
		cfg.Power.Supply = "BAT0"
	}
	if cfg.Power.LowBatteryPct <= 0 {
		cfg.Power.LowBatteryPct = 15
	}
	if cfg.Power.PollIntervalS <= 0 {
		cfg.Power.PollIntervalS = 60
	}

	// Journal
	if cfg.Journal.Enabled && cfg.Journal.Path == "" {
		cfg.Journal.Path = "glasses.jlog"
	}

	return nil
}
