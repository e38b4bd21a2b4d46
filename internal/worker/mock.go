package worker

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/v12510/GlassesVisionSystem/internal/types"
)

// MockDetector replays a scripted sequence of detections, one script
// entry per processed frame, cycling. It backs dev mode together with
// the mock stream so the whole pipeline runs without a camera or a
// model.
type MockDetector struct {
	id       string
	deviceID string
	latency  time.Duration
	script   [][]types.Detection

	mu      sync.Mutex
	input   chan types.Frame
	results chan types.Observation
	cancel  context.CancelFunc
	wg      sync.WaitGroup

	isActive atomic.Bool

	starts            atomic.Uint32
	framesProcessed   atomic.Uint64
	framesDropped     atomic.Uint64
	inferencesEmitted atomic.Uint64
	lastSeenAt        atomic.Value // time.Time
	scriptIdx         atomic.Uint64
}

// NewMockDetector builds a scripted worker. A nil script gets the
// default street scene; latency <= 0 means respond immediately.
func NewMockDetector(deviceID string, latency time.Duration, script [][]types.Detection) *MockDetector {
	if len(script) == 0 {
		script = DefaultScript()
	}
	return &MockDetector{
		id:       "mock-detector",
		deviceID: deviceID,
		latency:  latency,
		script:   script,
		input:    make(chan types.Frame, inputQueueSize),
		results:  make(chan types.Observation, resultQueueSize),
	}
}

// DefaultScript cycles through a pedestrian street scene: a person
// crossing ahead, a car approaching from the left, a clear view, then a
// crosswalk with a waiting crowd.
func DefaultScript() [][]types.Detection {
	return [][]types.Detection{
		{
			{Label: "person", Confidence: 0.91, Box: types.NormalizedRect{X: 0.45, Y: 0.30, Width: 0.12, Height: 0.45}, Source: sourceLocal},
		},
		{
			{Label: "person", Confidence: 0.90, Box: types.NormalizedRect{X: 0.48, Y: 0.30, Width: 0.12, Height: 0.46}, Source: sourceLocal},
			{Label: "car", Confidence: 0.87, Box: types.NormalizedRect{X: 0.05, Y: 0.40, Width: 0.25, Height: 0.30}, Source: sourceLocal},
		},
		{
			{Label: "car", Confidence: 0.89, Box: types.NormalizedRect{X: 0.12, Y: 0.38, Width: 0.30, Height: 0.34}, Source: sourceLocal},
		},
		nil,
		{
			{Label: "traffic light", Confidence: 0.78, Box: types.NormalizedRect{X: 0.60, Y: 0.10, Width: 0.08, Height: 0.20}, Source: sourceLocal},
			{Label: "person", Confidence: 0.85, Box: types.NormalizedRect{X: 0.30, Y: 0.35, Width: 0.10, Height: 0.40}, Source: sourceLocal},
			{Label: "person", Confidence: 0.82, Box: types.NormalizedRect{X: 0.42, Y: 0.36, Width: 0.10, Height: 0.38}, Source: sourceLocal},
		},
	}
}

func (d *MockDetector) ID() string {
	return d.id
}

func (d *MockDetector) Start(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.isActive.Load() {
		return fmt.Errorf("detector already running")
	}

	runCtx, cancel := context.WithCancel(ctx)
	d.cancel = cancel
	d.input = make(chan types.Frame, inputQueueSize)
	d.results = make(chan types.Observation, resultQueueSize)

	d.isActive.Store(true)
	d.starts.Add(1)
	d.lastSeenAt.Store(time.Now())

	d.wg.Add(1)
	go d.run(runCtx, d.input, d.results)

	slog.Info("mock detector started",
		"worker_id", d.id,
		"script_entries", len(d.script),
		"latency", d.latency)
	return nil
}

func (d *MockDetector) SendFrame(frame types.Frame) error {
	defer func() {
		if r := recover(); r != nil {
			d.framesDropped.Add(1)
		}
	}()

	if !d.isActive.Load() {
		d.framesDropped.Add(1)
		return fmt.Errorf("detector not active")
	}

	d.mu.Lock()
	input := d.input
	d.mu.Unlock()

	select {
	case input <- frame:
		return nil
	default:
		d.framesDropped.Add(1)
		return nil
	}
}

func (d *MockDetector) Results() <-chan types.Observation {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.results
}

func (d *MockDetector) Stop() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if !d.isActive.Swap(false) {
		return nil
	}
	if d.cancel != nil {
		d.cancel()
	}
	d.wg.Wait()

	safeClose(d.input)
	safeClose(d.results)
	return nil
}

func (d *MockDetector) Metrics() types.WorkerMetrics {
	m := types.WorkerMetrics{
		FramesProcessed:   d.framesProcessed.Load(),
		FramesDropped:     d.framesDropped.Load(),
		InferencesEmitted: d.inferencesEmitted.Load(),
		AvgLatencyMS:      float64(d.latency.Microseconds()) / 1000.0,
	}
	if s := d.starts.Load(); s > 0 {
		m.Restarts = s - 1
	}
	if t, ok := d.lastSeenAt.Load().(time.Time); ok {
		m.LastSeenAt = t
	}
	return m
}

func (d *MockDetector) run(ctx context.Context, input <-chan types.Frame, results chan<- types.Observation) {
	defer d.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		case frame, ok := <-input:
			if !ok {
				return
			}

			if d.latency > 0 {
				select {
				case <-ctx.Done():
					return
				case <-time.After(d.latency):
				}
			}

			idx := d.scriptIdx.Add(1) - 1
			entry := d.script[idx%uint64(len(d.script))]
			dets := make([]types.Detection, len(entry))
			copy(dets, entry)

			d.framesProcessed.Add(1)
			d.lastSeenAt.Store(time.Now())

			latencyMS := float64(d.latency.Microseconds()) / 1000.0
			obs := types.NewObservation(d.deviceID, frame.Meta(), dets, latencyMS, d.id)
			select {
			case results <- obs:
				d.inferencesEmitted.Add(1)
			default:
				d.framesDropped.Add(1)
			}
		}
	}
}
