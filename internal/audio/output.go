package audio

import (
	"context"
	"fmt"
	"sync"

	"github.com/gordonklaus/portaudio"
)

// Output plays mono PCM on the configured transducer. It implements the
// speech sink contract: Play blocks until the audio finishes or ctx
// cancels. One playback at a time; the speaker serializes calls.
type Output struct {
	deviceName string

	mu sync.Mutex
}

// NewOutput initializes portaudio. Callers must Close to release it.
func NewOutput(deviceName string) (*Output, error) {
	if err := portaudio.Initialize(); err != nil {
		return nil, fmt.Errorf("initializing portaudio: %w", err)
	}
	return &Output{deviceName: deviceName}, nil
}

// Play renders the samples at their native rate. The stream is opened
// per call because engines report different sample rates.
func (o *Output) Play(ctx context.Context, pcm []float32, sampleRate int) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	if len(pcm) == 0 {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	buf := make([]float32, FramesPerBuffer)
	stream, err := o.open(sampleRate, buf)
	if err != nil {
		return fmt.Errorf("opening playback stream: %w", err)
	}
	defer stream.Close()

	if err := stream.Start(); err != nil {
		return fmt.Errorf("starting playback stream: %w", err)
	}
	defer stream.Stop()

	for off := 0; off < len(pcm); off += FramesPerBuffer {
		if err := ctx.Err(); err != nil {
			return err
		}
		n := copy(buf, pcm[off:])
		for i := n; i < len(buf); i++ {
			buf[i] = 0
		}
		if err := stream.Write(); err != nil {
			return fmt.Errorf("writing playback buffer: %w", err)
		}
	}
	return nil
}

func (o *Output) open(sampleRate int, buf []float32) (*portaudio.Stream, error) {
	dev, err := outputDevice(o.deviceName)
	if err != nil {
		return nil, err
	}
	if dev == nil {
		return portaudio.OpenDefaultStream(0, 1, float64(sampleRate), len(buf), buf)
	}
	params := portaudio.HighLatencyParameters(nil, dev)
	params.Output.Channels = 1
	params.SampleRate = float64(sampleRate)
	params.FramesPerBuffer = len(buf)
	return portaudio.OpenStream(params, buf)
}

// Close releases portaudio.
func (o *Output) Close() {
	portaudio.Terminate()
}
