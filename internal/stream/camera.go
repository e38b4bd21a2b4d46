package stream

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/tinyzimmer/go-gst/gst"
	"github.com/tinyzimmer/go-gst/gst/app"

	"github.com/v12510/GlassesVisionSystem/internal/types"
)

// CameraStream implements Provider using GStreamer for a V4L2 camera.
// The glasses frame exposes its RGB sensor as a kernel video node; depth,
// when the hardware has it, arrives on a separate node and is attached
// by the mock provider only for now.
type CameraStream struct {
	// Configuration
	device       string
	width        int
	height       int
	targetFPS    float64 // float64 so the tuner can request sub-1Hz rates
	sourceStream string

	// GStreamer pipeline
	pipeline   *gst.Pipeline
	appsink    *app.Sink
	videorate  *gst.Element // kept for hot-reload
	capsfilter *gst.Element // kept for hot-reload

	// Frame output
	frames chan types.Frame
	mu     sync.RWMutex

	// Lifecycle
	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
	wg     sync.WaitGroup

	// Stats
	frameCount  uint64
	errorCount  uint64
	started     time.Time
	lastFrameAt time.Time
	reconnects  uint32
	connected   bool

	// Reconnection
	maxRetries     int
	retryDelay     time.Duration
	maxRetryDelay  time.Duration
	currentRetries int
}

// CameraConfig contains V4L2 capture configuration
type CameraConfig struct {
	Device       string // /dev/video0
	Width        int
	Height       int
	FPS          int
	SourceStream string // identifier carried on every frame, e.g. "camera0"
}

// NewCameraStream creates a new camera capture provider
func NewCameraStream(cfg CameraConfig) (*CameraStream, error) {
	if cfg.Device == "" {
		return nil, fmt.Errorf("camera device is required")
	}

	if cfg.Width <= 0 || cfg.Height <= 0 {
		return nil, fmt.Errorf("invalid resolution: %dx%d", cfg.Width, cfg.Height)
	}

	s := &CameraStream{
		device:        cfg.Device,
		width:         cfg.Width,
		height:        cfg.Height,
		targetFPS:     float64(cfg.FPS),
		sourceStream:  cfg.SourceStream,
		frames:        make(chan types.Frame, 10),
		done:          make(chan struct{}),
		maxRetries:    5,
		retryDelay:    1 * time.Second,
		maxRetryDelay: 30 * time.Second,
	}

	return s, nil
}

// fpsFraction converts a float rate into a GStreamer framerate fraction.
// Sub-1Hz rates become 1/N (0.5 Hz -> 1/2).
func fpsFraction(fps float64) (numerator, denominator int) {
	numerator = 1
	denominator = 1
	if fps < 1.0 {
		denominator = int(1.0 / fps)
	} else {
		numerator = int(fps)
	}
	return numerator, denominator
}

// SetTargetFPS updates the capture rate without restarting the pipeline.
// The videorate element drops frames at the source, so downstream stages
// never see work they would only discard.
func (s *CameraStream) SetTargetFPS(fps float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if fps <= 0 || fps > 60 {
		return fmt.Errorf("invalid FPS: %.2f (must be between 0.1 and 60)", fps)
	}

	slog.Info("updating camera target FPS",
		"old_fps", s.targetFPS,
		"new_fps", fps,
	)

	s.targetFPS = fps

	if s.capsfilter != nil {
		numerator, denominator := fpsFraction(fps)

		capsStr := fmt.Sprintf(
			"video/x-raw,format=RGB,width=%d,height=%d,framerate=%d/%d",
			s.width, s.height, numerator, denominator,
		)

		newCaps := gst.NewCapsFromString(capsStr)
		s.capsfilter.SetProperty("caps", newCaps)

		slog.Info("camera FPS updated",
			"fps", fps,
			"framerate", fmt.Sprintf("%d/%d", numerator, denominator),
		)
	} else {
		slog.Warn("capsfilter not available, FPS will apply on next reconnect")
	}

	return nil
}

// Start initializes GStreamer and starts the capture pipeline.
// The device node must exist before the pipeline can open it; callers
// boot-racing udev should call WaitForDevice first.
func (s *CameraStream) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cancel != nil {
		return fmt.Errorf("stream already started")
	}

	gst.Init(nil)

	s.ctx, s.cancel = context.WithCancel(ctx)
	s.started = time.Now()
	s.currentRetries = 0

	s.wg.Add(1)
	go s.runPipeline()

	slog.Info("camera stream starting",
		"device", s.device,
		"resolution", fmt.Sprintf("%dx%d", s.width, s.height),
		"target_fps", s.targetFPS,
	)

	return nil
}

// runPipeline runs the GStreamer pipeline with reconnection logic
func (s *CameraStream) runPipeline() {
	defer s.wg.Done()
	defer close(s.frames)
	defer close(s.done)

	for {
		select {
		case <-s.ctx.Done():
			slog.Info("camera pipeline context cancelled")
			return
		default:
		}

		err := s.connectAndStream()
		if err != nil {
			atomic.AddUint64(&s.errorCount, 1)
			slog.Error("camera pipeline error", "error", err)
		}

		s.setConnected(false)

		select {
		case <-s.ctx.Done():
			return
		default:
		}

		// Reconnection with exponential backoff. A camera that vanished is
		// usually a USB re-enumeration and comes back within seconds.
		s.currentRetries++
		atomic.AddUint32(&s.reconnects, 1)

		if s.currentRetries > s.maxRetries {
			slog.Error("max retries exceeded, stopping camera stream",
				"retries", s.currentRetries,
				"max_retries", s.maxRetries,
			)
			return
		}

		delay := s.retryDelay * time.Duration(1<<uint(s.currentRetries-1))
		if delay > s.maxRetryDelay {
			delay = s.maxRetryDelay
		}

		slog.Warn("reopening camera device",
			"device", s.device,
			"retry", s.currentRetries,
			"delay", delay,
		)

		select {
		case <-time.After(delay):
			continue
		case <-s.ctx.Done():
			return
		}
	}
}

// connectAndStream builds the capture pipeline and pumps frames until
// the device fails or the context is cancelled
func (s *CameraStream) connectAndStream() error {
	gst.Init(nil)

	pipeline, err := gst.NewPipeline("")
	if err != nil {
		return fmt.Errorf("failed to create pipeline: %w", err)
	}
	s.pipeline = pipeline

	v4l2src, err := gst.NewElement("v4l2src")
	if err != nil {
		return fmt.Errorf("failed to create v4l2src: %w", err)
	}
	v4l2src.SetProperty("device", s.device)

	videoconvert, _ := gst.NewElement("videoconvert")
	videoscale, _ := gst.NewElement("videoscale")

	// videorate drops frames at the source to hold the target rate
	videorate, _ := gst.NewElement("videorate")
	videorate.SetProperty("drop-only", true)
	videorate.SetProperty("skip-to-first", true)
	s.videorate = videorate

	capsfilter, _ := gst.NewElement("capsfilter")

	numerator, denominator := fpsFraction(s.targetFPS)

	caps := gst.NewCapsFromString(fmt.Sprintf(
		"video/x-raw,format=RGB,width=%d,height=%d,framerate=%d/%d",
		s.width, s.height, numerator, denominator,
	))
	capsfilter.SetProperty("caps", caps)
	s.capsfilter = capsfilter

	appsink, err := app.NewAppSink()
	if err != nil {
		return fmt.Errorf("failed to create appsink: %w", err)
	}
	s.appsink = appsink

	// max-buffers=1 + drop=true: the sink holds only the newest frame
	appsink.SetProperty("sync", false)
	appsink.SetProperty("max-buffers", 1)
	appsink.SetProperty("drop", true)

	appsink.SetCallbacks(&app.SinkCallbacks{
		NewSampleFunc: func(sink *app.Sink) gst.FlowReturn {
			return s.onNewSample(sink)
		},
	})

	pipeline.AddMany(v4l2src, videoconvert, videoscale, videorate, capsfilter, appsink.Element)

	// v4l2src pads are static, unlike network sources, so the whole chain
	// links up front
	gst.ElementLinkMany(v4l2src, videoconvert, videoscale, videorate, capsfilter, appsink.Element)

	slog.Debug("setting pipeline to playing")
	if err := pipeline.SetState(gst.StatePlaying); err != nil {
		return fmt.Errorf("failed to set pipeline to playing: %w", err)
	}

	// Poll the bus with a short timeout so shutdown stays responsive
	bus := pipeline.GetPipelineBus()
	for {
		select {
		case <-s.ctx.Done():
			slog.Debug("context cancelled, stopping pipeline")
			pipeline.SetState(gst.StateNull)
			return nil
		default:
		}

		msg := bus.TimedPop(50 * time.Millisecond)
		if msg == nil {
			continue
		}

		switch msg.Type() {
		case gst.MessageEOS:
			slog.Info("camera end of stream")
			return nil

		case gst.MessageError:
			gerr := msg.ParseError()
			slog.Error("pipeline error",
				"error", gerr.Error(),
				"debug", gerr.DebugString(),
			)
			return fmt.Errorf("pipeline error: %w", gerr)

		case gst.MessageStateChanged:
			if msg.Source() == pipeline.GetName() {
				old, new := msg.ParseStateChanged()
				slog.Debug("pipeline state changed", "from", old, "to", new)

				if new == gst.StatePlaying {
					s.currentRetries = 0
					s.setConnected(true)
					slog.Info("camera capture running", "device", s.device)
				}
			}
		}
	}
}

// onNewSample is called by GStreamer when a new frame is available
func (s *CameraStream) onNewSample(sink *app.Sink) gst.FlowReturn {
	sample := sink.PullSample()
	if sample == nil {
		return gst.FlowEOS
	}

	buffer := sample.GetBuffer()
	if buffer == nil {
		return gst.FlowError
	}

	mapInfo := buffer.Map(gst.MapRead)
	data := mapInfo.Bytes()
	defer buffer.Unmap()

	if len(data) == 0 {
		return gst.FlowOK
	}

	// Copy out: the GStreamer buffer is unmapped on return
	frameData := make([]byte, len(data))
	copy(frameData, data)

	frame := types.Frame{
		Data:         frameData,
		Width:        s.width,
		Height:       s.height,
		Timestamp:    time.Now(),
		Seq:          atomic.AddUint64(&s.frameCount, 1),
		SourceStream: s.sourceStream,
		TraceID:      uuid.New().String(),
	}

	s.mu.Lock()
	s.lastFrameAt = time.Now()
	s.mu.Unlock()

	// Non-blocking send. Drop frames, never queue.
	select {
	case s.frames <- frame:
	default:
		slog.Debug("dropping frame, channel full",
			"seq", frame.Seq,
			"trace_id", frame.TraceID)
	}

	return gst.FlowOK
}

// Frames returns the channel of frames
func (s *CameraStream) Frames() <-chan types.Frame {
	return s.frames
}

// Stop stops the camera stream
func (s *CameraStream) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cancel == nil {
		return nil
	}

	slog.Info("stopping camera stream")

	s.cancel()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		slog.Info("camera stream stopped",
			"frames_captured", atomic.LoadUint64(&s.frameCount),
			"reconnects", atomic.LoadUint32(&s.reconnects),
			"uptime", time.Since(s.started),
		)
	case <-time.After(3 * time.Second):
		slog.Warn("camera stream stop timeout, pipeline may still be running",
			"frames_captured", atomic.LoadUint64(&s.frameCount),
			"uptime", time.Since(s.started),
		)
	}

	// Reset state so the stream can be restarted after a resolution change
	s.cancel = nil
	s.ctx = nil
	s.pipeline = nil
	s.appsink = nil
	s.videorate = nil
	s.capsfilter = nil
	s.connected = false

	// Recreate channels for restart (frames closed by runPipeline defer)
	s.frames = make(chan types.Frame, 10)
	s.done = make(chan struct{})

	slog.Debug("camera stream state reset, ready for restart")

	return nil
}

func (s *CameraStream) setConnected(v bool) {
	s.mu.Lock()
	s.connected = v
	s.mu.Unlock()
}

// Stats returns current stream statistics
func (s *CameraStream) Stats() types.StreamStats {
	s.mu.RLock()
	defer s.mu.RUnlock()

	frameCount := atomic.LoadUint64(&s.frameCount)
	uptime := time.Since(s.started).Seconds()

	var fpsReal float64
	if uptime > 0 {
		fpsReal = float64(frameCount) / uptime
	}

	return types.StreamStats{
		FPSTarget:    int(s.targetFPS),
		FPSReal:      fpsReal,
		FrameCount:   frameCount,
		SourceStream: s.sourceStream,
		Resolution:   fmt.Sprintf("%dx%d", s.width, s.height),
		Reconnects:   atomic.LoadUint32(&s.reconnects),
		IsConnected:  s.connected,
		Errors:       atomic.LoadUint64(&s.errorCount),
	}
}
