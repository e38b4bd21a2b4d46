package stream

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/v12510/GlassesVisionSystem/internal/types"
)

// MockStream generates synthetic frames for dev mode and tests.
// The pattern is deterministic per sequence number so tests can assert
// on pixel content, and it contains edges so quality gates see a
// realistic sharpness profile.
type MockStream struct {
	width  int
	height int
	fps    int
	source string

	// EmitDepth attaches a synthetic depth plane to every frame.
	// Set before Start.
	EmitDepth bool

	framesCh chan types.Frame
	stopCh   chan struct{}
	wg       sync.WaitGroup

	mu            sync.RWMutex
	seq           uint64
	framesEmitted uint64
	isRunning     bool
	startTime     time.Time
}

// NewMockStream creates a new mock stream provider
func NewMockStream(width, height, fps int, source string) *MockStream {
	if fps <= 0 {
		fps = 30
	}
	return &MockStream{
		width:    width,
		height:   height,
		fps:      fps,
		source:   source,
		framesCh: make(chan types.Frame, 10),
		stopCh:   make(chan struct{}),
	}
}

// Start begins generating frames
func (m *MockStream) Start(ctx context.Context) error {
	m.mu.Lock()
	if m.isRunning {
		m.mu.Unlock()
		return fmt.Errorf("stream already running")
	}
	m.isRunning = true
	m.startTime = time.Now()
	m.mu.Unlock()

	slog.Info("mock stream starting",
		"width", m.width,
		"height", m.height,
		"fps", m.fps,
		"depth", m.EmitDepth,
		"source", m.source,
	)

	m.wg.Add(1)
	go m.generateFrames(ctx)

	return nil
}

// Frames returns the frames channel
func (m *MockStream) Frames() <-chan types.Frame {
	return m.framesCh
}

// Stop stops the stream
func (m *MockStream) Stop() error {
	m.mu.Lock()
	if !m.isRunning {
		m.mu.Unlock()
		return nil
	}
	m.mu.Unlock()

	slog.Info("mock stream stopping")

	close(m.stopCh)
	m.wg.Wait()
	close(m.framesCh)

	m.mu.Lock()
	m.isRunning = false
	m.mu.Unlock()

	slog.Info("mock stream stopped",
		"frames_emitted", m.framesEmitted,
		"duration", time.Since(m.startTime),
	)

	return nil
}

// Stats returns stream statistics
func (m *MockStream) Stats() types.StreamStats {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var fpsReal float64
	if m.isRunning && m.framesEmitted > 0 {
		elapsed := time.Since(m.startTime).Seconds()
		if elapsed > 0 {
			fpsReal = float64(m.framesEmitted) / elapsed
		}
	}

	return types.StreamStats{
		FrameCount:   m.framesEmitted,
		FPSTarget:    m.fps,
		FPSReal:      fpsReal,
		SourceStream: m.source,
		Resolution:   fmt.Sprintf("%dx%d", m.width, m.height),
		Reconnects:   0,
		IsConnected:  m.isRunning,
		Errors:       0,
	}
}

// generateFrames generates frames at the target FPS
func (m *MockStream) generateFrames(ctx context.Context) {
	defer m.wg.Done()

	frameDuration := time.Second / time.Duration(m.fps)
	ticker := time.NewTicker(frameDuration)
	defer ticker.Stop()

	slog.Debug("frame generator started", "frame_duration", frameDuration)

	for {
		select {
		case <-ctx.Done():
			return
		case <-m.stopCh:
			return
		case <-ticker.C:
			frame := m.createFrame()
			select {
			case m.framesCh <- frame:
				m.mu.Lock()
				m.framesEmitted++
				m.mu.Unlock()
			case <-ctx.Done():
				return
			case <-m.stopCh:
				return
			}
		}
	}
}

// createFrame creates a synthetic RGB24 frame with a moving bright bar
// over a horizontal gradient. With EmitDepth set, the bar reads as a
// near object (1200mm) against a far background (4000mm).
func (m *MockStream) createFrame() types.Frame {
	m.mu.Lock()
	seq := m.seq
	m.seq++
	m.mu.Unlock()

	frameSize := m.width * m.height * 3
	data := make([]byte, frameSize)

	barWidth := m.width / 10
	if barWidth < 1 {
		barWidth = 1
	}
	barX := int(seq*4) % m.width

	var depth []uint16
	if m.EmitDepth {
		depth = make([]uint16, m.width*m.height)
	}

	for y := 0; y < m.height; y++ {
		for x := 0; x < m.width; x++ {
			inBar := x >= barX && x < barX+barWidth

			i := (y*m.width + x) * 3
			if inBar {
				data[i] = 230
				data[i+1] = 230
				data[i+2] = 230
			} else {
				g := byte(40 + x*120/m.width)
				data[i] = g
				data[i+1] = g
				data[i+2] = g
			}

			if depth != nil {
				if inBar {
					depth[y*m.width+x] = 1200
				} else {
					depth[y*m.width+x] = 4000
				}
			}
		}
	}

	return types.Frame{
		Seq:          seq,
		Timestamp:    time.Now(),
		Width:        m.width,
		Height:       m.height,
		Data:         data,
		Depth:        depth,
		SourceStream: m.source,
		TraceID:      uuid.New().String(),
	}
}
