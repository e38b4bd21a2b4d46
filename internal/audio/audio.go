// Package audio wraps portaudio for the two device surfaces: playback
// of synthesized speech and microphone capture for voice commands.
// Mono float32 throughout; 1024-frame buffers.
package audio

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/gordonklaus/portaudio"
)

// FramesPerBuffer is the portaudio buffer size for both directions.
const FramesPerBuffer = 1024

// outputDevice finds the first output device whose name contains the
// configured substring ("bone_conduction" on device hardware). Empty or
// "default" selects the system default; a missing match falls back to
// the default with a warning rather than failing the pipeline.
func outputDevice(name string) (*portaudio.DeviceInfo, error) {
	if name == "" || name == "default" {
		return nil, nil
	}
	devices, err := portaudio.Devices()
	if err != nil {
		return nil, fmt.Errorf("listing audio devices: %w", err)
	}
	needle := strings.ToLower(name)
	for _, d := range devices {
		if d.MaxOutputChannels > 0 && strings.Contains(strings.ToLower(d.Name), needle) {
			return d, nil
		}
	}
	slog.Warn("Configured audio output not found, using default", "device", name)
	return nil, nil
}

// inputDevice is outputDevice for the capture direction.
func inputDevice(name string) (*portaudio.DeviceInfo, error) {
	if name == "" || name == "default" {
		return nil, nil
	}
	devices, err := portaudio.Devices()
	if err != nil {
		return nil, fmt.Errorf("listing audio devices: %w", err)
	}
	needle := strings.ToLower(name)
	for _, d := range devices {
		if d.MaxInputChannels > 0 && strings.Contains(strings.ToLower(d.Name), needle) {
			return d, nil
		}
	}
	slog.Warn("Configured audio input not found, using default", "device", name)
	return nil, nil
}
