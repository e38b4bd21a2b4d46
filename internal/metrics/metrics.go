// Package metrics exposes the pipeline's operational counters to
// Prometheus and serves the health/readiness endpoints.
//
// Counters are plain atomics owned here and mutated by the stages; the
// Prometheus side reads them through GaugeFuncs on a dedicated
// registry, so scrapes never touch pipeline locks.
package metrics

import (
	"net/http"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// latencyWindow bounds the sample set behind the mean/p95 gauges.
const latencyWindow = 256

// Metrics holds the pipeline counters and the Prometheus registry
// serving them.
type Metrics struct {
	// Frame flow
	FramesCaptured atomic.Uint64
	FramesDropped  atomic.Uint64
	FramesGated    atomic.Uint64 // rejected by the quality gate
	Inferences     atomic.Uint64

	// End-to-end deadline misses (capture to utterance enqueue)
	DeadlineMisses atomic.Uint64

	// Queue depths, refreshed by the perf snapshot loop
	SpeechQueueDepth   atomic.Uint64
	DetectorQueueDepth atomic.Uint64

	// Device state
	BatteryPercent atomic.Uint64
	LowPower       atomic.Uint64 // 0 or 1
	ScanMode       atomic.Uint64 // 0 or 1
	WorkerRestarts atomic.Uint64

	latency  latencyTracker
	registry *prometheus.Registry
}

// New creates a Metrics instance with its collectors registered on a
// private registry.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
	}
	m.register()
	return m
}

func (m *Metrics) register() {
	gauge := func(name, help string, value func() float64) {
		m.registry.MustRegister(prometheus.NewGaugeFunc(
			prometheus.GaugeOpts{Name: name, Help: help},
			value,
		))
	}
	fromAtomic := func(v *atomic.Uint64) func() float64 {
		return func() float64 { return float64(v.Load()) }
	}

	gauge("glasses_frames_captured_total", "Frames delivered by the camera stream", fromAtomic(&m.FramesCaptured))
	gauge("glasses_frames_dropped_total", "Frames dropped on the way to the detector", fromAtomic(&m.FramesDropped))
	gauge("glasses_frames_gated_total", "Frames rejected by the image quality gate", fromAtomic(&m.FramesGated))
	gauge("glasses_inferences_total", "Observations emitted by the detector", fromAtomic(&m.Inferences))
	gauge("glasses_deadline_misses_total", "Frames whose end-to-end latency exceeded the deadline", fromAtomic(&m.DeadlineMisses))
	gauge("glasses_worker_restarts_total", "Detector worker restarts by the watchdog", fromAtomic(&m.WorkerRestarts))
	gauge("glasses_speech_queue_depth", "Utterances waiting in the speech queue", fromAtomic(&m.SpeechQueueDepth))
	gauge("glasses_detector_queue_depth", "Frames waiting in the detector input queue", fromAtomic(&m.DetectorQueueDepth))
	gauge("glasses_battery_percent", "Battery charge percentage", fromAtomic(&m.BatteryPercent))
	gauge("glasses_low_power", "Low-power mode active (0=off, 1=on)", fromAtomic(&m.LowPower))
	gauge("glasses_scan_mode", "Scan mode active (0=off, 1=on)", fromAtomic(&m.ScanMode))

	gauge("glasses_latency_ms_mean", "Mean end-to-end latency over the sample window", func() float64 {
		mean, _ := m.latency.snapshot()
		return mean
	})
	gauge("glasses_latency_ms_p95", "95th percentile end-to-end latency over the sample window", func() float64 {
		_, p95 := m.latency.snapshot()
		return p95
	})
}

// ObserveLatency records one end-to-end latency sample.
func (m *Metrics) ObserveLatency(d time.Duration) {
	m.latency.observe(float64(d.Microseconds()) / 1000.0)
}

// LatencyStats returns the current mean and p95 latency in milliseconds.
func (m *Metrics) LatencyStats() (mean, p95 float64) {
	return m.latency.snapshot()
}

// Handler returns the Prometheus scrape handler for the private registry.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// latencyTracker keeps a fixed ring of recent samples. Mean and p95 are
// computed on read; a scrape sorts at most latencyWindow floats.
type latencyTracker struct {
	mu      sync.Mutex
	samples [latencyWindow]float64
	filled  int
	next    int
}

func (t *latencyTracker) observe(ms float64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.samples[t.next] = ms
	t.next = (t.next + 1) % latencyWindow
	if t.filled < latencyWindow {
		t.filled++
	}
}

func (t *latencyTracker) snapshot() (mean, p95 float64) {
	t.mu.Lock()
	window := make([]float64, t.filled)
	copy(window, t.samples[:t.filled])
	t.mu.Unlock()

	if len(window) == 0 {
		return 0, 0
	}
	var sum float64
	for _, v := range window {
		sum += v
	}
	mean = sum / float64(len(window))

	sort.Float64s(window)
	idx := (len(window)*95 + 99) / 100 // ceil(n*0.95)
	if idx > 0 {
		idx--
	}
	p95 = window[idx]
	return mean, p95
}
