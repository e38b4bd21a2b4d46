package preprocess

import (
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// Resolution bounds for adaptive tuning. The detector cannot do useful
// work below 640x480, and the sensor tops out at 1080p.
const (
	tunerMinWidth  = 640
	tunerMinHeight = 480
	tunerMaxWidth  = 1920
	tunerMaxHeight = 1080
)

// TunerConfig configures the adaptive resolution loop
type TunerConfig struct {
	LatencyHigh      time.Duration // step down above this mean latency
	LatencyLow       time.Duration // step up below this mean latency
	ThroughputLowFPS float64       // step up only while throughput is below
	WindowFrames     int
	InitialWidth     int
	InitialHeight    int
}

// Decision reports one resolution change proposed by the tuner
type Decision struct {
	Width       int
	Height      int
	Direction   string // "down" or "up"
	MeanLatency time.Duration
	MeanFPS     float64
}

// Tuner trades resolution against end-to-end latency. It collects one
// sample per processed frame and proposes at most one resolution step
// per window: halve when the pipeline falls behind, double when there
// is headroom and throughput is starved.
type Tuner struct {
	mu     sync.Mutex
	cfg    TunerConfig
	width  int
	height int

	latencies  []time.Duration
	fpsSamples []float64
}

// NewTuner creates a tuner starting at the configured resolution
func NewTuner(cfg TunerConfig) *Tuner {
	if cfg.WindowFrames <= 0 {
		cfg.WindowFrames = 30
	}
	if cfg.InitialWidth <= 0 || cfg.InitialHeight <= 0 {
		cfg.InitialWidth = tunerMinWidth
		cfg.InitialHeight = tunerMinHeight
	}
	return &Tuner{
		cfg:        cfg,
		width:      cfg.InitialWidth,
		height:     cfg.InitialHeight,
		latencies:  make([]time.Duration, 0, cfg.WindowFrames),
		fpsSamples: make([]float64, 0, cfg.WindowFrames),
	}
}

// Record adds one end-to-end latency sample and the current throughput.
// Returns a Decision when the window closes with a resolution change,
// nil otherwise.
func (t *Tuner) Record(latency time.Duration, fps float64) *Decision {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.latencies = append(t.latencies, latency)
	t.fpsSamples = append(t.fpsSamples, fps)

	if len(t.latencies) < t.cfg.WindowFrames {
		return nil
	}

	var latSum time.Duration
	for _, l := range t.latencies {
		latSum += l
	}
	meanLatency := latSum / time.Duration(len(t.latencies))

	var fpsSum float64
	for _, f := range t.fpsSamples {
		fpsSum += f
	}
	meanFPS := fpsSum / float64(len(t.fpsSamples))

	// One step per window
	t.latencies = t.latencies[:0]
	t.fpsSamples = t.fpsSamples[:0]

	if meanLatency > t.cfg.LatencyHigh {
		newW := max(tunerMinWidth, t.width/2)
		newH := max(tunerMinHeight, t.height/2)
		if newW != t.width || newH != t.height {
			t.width, t.height = newW, newH
			slog.Info("stepping resolution down",
				"resolution", resolutionString(newW, newH),
				"mean_latency", meanLatency,
			)
			return &Decision{
				Width: newW, Height: newH,
				Direction:   "down",
				MeanLatency: meanLatency,
				MeanFPS:     meanFPS,
			}
		}
		slog.Warn("latency over budget at minimum resolution",
			"mean_latency", meanLatency,
		)
		return nil
	}

	if meanLatency < t.cfg.LatencyLow && meanFPS < t.cfg.ThroughputLowFPS {
		newW := min(tunerMaxWidth, t.width*2)
		newH := min(tunerMaxHeight, t.height*2)
		if newW != t.width || newH != t.height {
			t.width, t.height = newW, newH
			slog.Info("stepping resolution up",
				"resolution", resolutionString(newW, newH),
				"mean_latency", meanLatency,
				"mean_fps", meanFPS,
			)
			return &Decision{
				Width: newW, Height: newH,
				Direction:   "up",
				MeanLatency: meanLatency,
				MeanFPS:     meanFPS,
			}
		}
	}

	return nil
}

// Resolution returns the tuner's current resolution
func (t *Tuner) Resolution() (width, height int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.width, t.height
}

// SetResolution overrides the current resolution, used when a config
// reload changes the capture settings out from under the tuner
func (t *Tuner) SetResolution(width, height int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.width = width
	t.height = height
	t.latencies = t.latencies[:0]
	t.fpsSamples = t.fpsSamples[:0]
}

func resolutionString(w, h int) string {
	return fmt.Sprintf("%dx%d", w, h)
}
