package audio

import (
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gordonklaus/portaudio"

	"github.com/v12510/GlassesVisionSystem/internal/config"
)

// Capture reads the microphone and emits level-endpointed utterance
// segments for speech recognition. Segments are dropped, never queued,
// when the recognizer falls behind.
type Capture struct {
	deviceName string
	sampleRate int

	mu       sync.Mutex
	stream   *portaudio.Stream
	buffer   []float32
	running  bool
	done     chan struct{}
	segments chan []float32

	emitted atomic.Uint64
	dropped atomic.Uint64
}

// NewCapture initializes portaudio. Callers must Close to release it.
func NewCapture(cfg config.AudioConfig) (*Capture, error) {
	if err := portaudio.Initialize(); err != nil {
		return nil, fmt.Errorf("initializing portaudio: %w", err)
	}
	rate := cfg.SampleRate
	if rate <= 0 {
		rate = 16000
	}
	return &Capture{
		deviceName: cfg.CaptureDevice,
		sampleRate: rate,
		buffer:     make([]float32, FramesPerBuffer),
	}, nil
}

func (c *Capture) SampleRate() int { return c.sampleRate }

func (c *Capture) Start() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.running {
		return nil
	}

	dev, err := inputDevice(c.deviceName)
	if err != nil {
		return err
	}
	var stream *portaudio.Stream
	if dev == nil {
		stream, err = portaudio.OpenDefaultStream(1, 0, float64(c.sampleRate), FramesPerBuffer, c.buffer)
	} else {
		params := portaudio.HighLatencyParameters(dev, nil)
		params.Input.Channels = 1
		params.SampleRate = float64(c.sampleRate)
		params.FramesPerBuffer = FramesPerBuffer
		stream, err = portaudio.OpenStream(params, c.buffer)
	}
	if err != nil {
		return fmt.Errorf("opening capture stream: %w", err)
	}
	if err := stream.Start(); err != nil {
		stream.Close()
		return fmt.Errorf("starting capture stream: %w", err)
	}

	c.stream = stream
	c.running = true
	c.done = make(chan struct{})
	c.segments = make(chan []float32, 4)

	go c.captureLoop(c.done, c.segments)

	slog.Info("Audio capture started", "sample_rate", c.sampleRate, "device", c.deviceName)
	return nil
}

// Segments returns the utterance channel. It closes when capture
// stops; consumers re-acquire it after a restart.
func (c *Capture) Segments() <-chan []float32 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.segments
}

func (c *Capture) captureLoop(done chan struct{}, segments chan []float32) {
	defer close(done)
	defer close(segments)
	ep := newEndpointer(c.sampleRate)

	for {
		c.mu.Lock()
		running := c.running
		stream := c.stream
		c.mu.Unlock()
		if !running || stream == nil {
			return
		}

		available, err := stream.AvailableToRead()
		if err != nil || available < FramesPerBuffer {
			time.Sleep(10 * time.Millisecond)
			continue
		}
		if err := stream.Read(); err != nil {
			time.Sleep(10 * time.Millisecond)
			continue
		}

		c.mu.Lock()
		frame := make([]float32, len(c.buffer))
		copy(frame, c.buffer)
		c.mu.Unlock()

		seg := ep.feed(frame)
		if seg == nil {
			continue
		}
		select {
		case segments <- seg:
			c.emitted.Add(1)
		default:
			c.dropped.Add(1)
			slog.Debug("Utterance dropped, recognizer busy", "samples", len(seg))
		}
	}
}

func (c *Capture) Stop() {
	c.mu.Lock()
	if !c.running {
		c.mu.Unlock()
		return
	}
	c.running = false
	stream := c.stream
	c.stream = nil
	done := c.done
	c.mu.Unlock()

	// The loop polls running every 10 ms.
	if done != nil {
		select {
		case <-done:
		case <-time.After(200 * time.Millisecond):
		}
	}
	if stream != nil {
		stream.Stop()
		stream.Close()
	}
}

// Close releases portaudio.
func (c *Capture) Close() {
	c.Stop()
	portaudio.Terminate()
}

// Stats returns emitted and dropped segment counts.
func (c *Capture) Stats() (emitted, dropped uint64) {
	return c.emitted.Load(), c.dropped.Load()
}
