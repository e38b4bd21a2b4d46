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

const (
	// cloudFreshFor bounds how long a cloud result keeps merging into
	// local observations before it is considered stale.
	cloudFreshFor = 2 * time.Second
	// cloudMinInterval spaces cloud calls; the API is slow and metered,
	// so at most one request is in flight at a time.
	cloudMinInterval = 1 * time.Second
	// mergeIoUThreshold is the overlap above which a cloud and a local
	// detection are treated as the same object.
	mergeIoUThreshold = 0.5
)

// HybridDetector runs the local detector on every frame and folds in
// periodic cloud results. Cloud calls run in the background, so cloud
// latency never touches the frame path: an observation's latency is the
// local latency, and cloud detections ride along while fresh.
type HybridDetector struct {
	id     string
	local  types.InferenceWorker
	client *CloudClient

	mu          sync.Mutex
	cloudDets   []types.Detection
	cloudAt     time.Time
	inFlight    bool
	lastAttempt time.Time
	results     chan types.Observation
	runCtx      context.Context
	cancel      context.CancelFunc
	wg          sync.WaitGroup

	isActive    atomic.Bool
	cloudCalls  atomic.Uint64
	cloudErrors atomic.Uint64
}

func NewHybridDetector(local types.InferenceWorker, client *CloudClient) *HybridDetector {
	return &HybridDetector{
		id:      "hybrid-detector",
		local:   local,
		client:  client,
		results: make(chan types.Observation, resultQueueSize),
	}
}

func (h *HybridDetector) ID() string {
	return h.id
}

func (h *HybridDetector) Start(ctx context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.isActive.Load() {
		return fmt.Errorf("detector already running")
	}
	if err := h.local.Start(ctx); err != nil {
		return fmt.Errorf("failed to start local detector: %w", err)
	}

	runCtx, cancel := context.WithCancel(ctx)
	h.runCtx = runCtx
	h.cancel = cancel
	h.results = make(chan types.Observation, resultQueueSize)
	h.isActive.Store(true)

	h.wg.Add(1)
	go h.pump(runCtx, h.results)

	slog.Info("hybrid detector started", "worker_id", h.id)
	return nil
}

// SendFrame forwards the frame to the local detector and, when the last
// cloud call is old enough, fires a background cloud request with the
// same frame.
func (h *HybridDetector) SendFrame(frame types.Frame) error {
	if !h.isActive.Load() {
		return fmt.Errorf("detector not active")
	}

	err := h.local.SendFrame(frame)
	h.maybeCallCloud(frame)
	return err
}

func (h *HybridDetector) Results() <-chan types.Observation {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.results
}

func (h *HybridDetector) Stop() error {
	if !h.isActive.Swap(false) {
		return nil
	}

	h.mu.Lock()
	cancel := h.cancel
	h.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	if err := h.local.Stop(); err != nil {
		slog.Error("failed to stop local detector", "error", err)
	}

	// The cloud goroutine takes the mutex to publish its result, so the
	// wait must not hold it.
	h.wg.Wait()

	h.mu.Lock()
	safeClose(h.results)
	h.mu.Unlock()

	slog.Info("hybrid detector stopped",
		"worker_id", h.id,
		"cloud_calls", h.cloudCalls.Load(),
		"cloud_errors", h.cloudErrors.Load())
	return nil
}

// Metrics reports the local bridge counters. The watchdog watches local
// liveness; cloud failures only degrade enrichment.
func (h *HybridDetector) Metrics() types.WorkerMetrics {
	return h.local.Metrics()
}

// CloudStats returns total and failed cloud calls.
func (h *HybridDetector) CloudStats() (calls, errors uint64) {
	return h.cloudCalls.Load(), h.cloudErrors.Load()
}

// pump merges cached cloud detections into local observations and
// forwards them. The local results channel is re-acquired after a close,
// which is how the local detector signals a restart.
func (h *HybridDetector) pump(ctx context.Context, results chan<- types.Observation) {
	defer h.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		case obs, ok := <-h.local.Results():
			if !ok {
				select {
				case <-ctx.Done():
					return
				case <-time.After(100 * time.Millisecond):
				}
				continue
			}

			obs.Detections = h.withCloud(obs.Detections)
			obs.WorkerID = h.id

			select {
			case results <- obs:
			default:
				slog.Warn("results queue full, dropping observation",
					"worker_id", h.id,
					"seq", obs.FrameSeq)
			}
		}
	}
}

// withCloud merges the cached cloud detections while they are fresh.
func (h *HybridDetector) withCloud(local []types.Detection) []types.Detection {
	h.mu.Lock()
	cloud := h.cloudDets
	at := h.cloudAt
	h.mu.Unlock()

	if len(cloud) == 0 || time.Since(at) > cloudFreshFor {
		return local
	}
	return mergeDetections(local, cloud, mergeIoUThreshold)
}

func (h *HybridDetector) maybeCallCloud(frame types.Frame) {
	h.mu.Lock()
	if !h.isActive.Load() || h.inFlight || time.Since(h.lastAttempt) < cloudMinInterval {
		h.mu.Unlock()
		return
	}
	h.inFlight = true
	h.lastAttempt = time.Now()
	runCtx := h.runCtx
	// Registering under the mutex orders this before Stop's wait.
	h.wg.Add(1)
	h.mu.Unlock()

	go func() {
		defer h.wg.Done()

		ctx, cancel := context.WithTimeout(runCtx, defaultCloudTimeout)
		defer cancel()

		dets, err := h.client.Detect(ctx, frame)
		h.cloudCalls.Add(1)

		h.mu.Lock()
		h.inFlight = false
		if err == nil {
			h.cloudDets = dets
			h.cloudAt = time.Now()
		}
		h.mu.Unlock()

		if err != nil {
			h.cloudErrors.Add(1)
			if h.isActive.Load() {
				slog.Warn("cloud enrichment failed",
					"worker_id", h.id,
					"seq", frame.Seq,
					"error", err)
			}
		}
	}()
}

// mergeDetections folds cloud detections into local ones. Overlapping
// boxes above the IoU threshold are the same object: when labels agree
// the local detection stays, when they disagree the cloud label wins.
// Cloud detections with no local counterpart are appended.
func mergeDetections(local, cloud []types.Detection, iouThreshold float64) []types.Detection {
	merged := make([]types.Detection, len(local))
	copy(merged, local)

	for _, c := range cloud {
		bestIdx := -1
		bestIoU := 0.0
		for i := range merged {
			if iou := merged[i].Box.IoU(c.Box); iou > bestIoU {
				bestIoU = iou
				bestIdx = i
			}
		}

		if bestIdx >= 0 && bestIoU >= iouThreshold {
			if merged[bestIdx].Label != c.Label {
				// Keep the local box so distances stay consistent with
				// what the model saw, adopt the cloud classification.
				merged[bestIdx].Label = c.Label
				merged[bestIdx].Confidence = c.Confidence
				merged[bestIdx].Source = sourceCloud
			}
			continue
		}
		merged = append(merged, c)
	}
	return merged
}
