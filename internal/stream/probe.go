package stream

import (
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/tinyzimmer/go-gst/gst"
)

// CameraMetadata contains detected camera information
type CameraMetadata struct {
	Width      int
	Height     int
	FPS        int
	FrameRate  string // "30/1", "30000/1001", etc.
	Format     string // "YUY2", "MJPG", etc.
	DetectedAt time.Time
}

// WaitForDevice waits for the camera device node to appear. The glasses
// camera enumerates over USB after boot, so the node can lag the daemon
// by a few seconds.
func WaitForDevice(device string, attempts int, delay time.Duration) error {
	if attempts < 1 {
		attempts = 1
	}

	for attempt := 1; attempt <= attempts; attempt++ {
		if _, err := os.Stat(device); err == nil {
			if attempt > 1 {
				slog.Info("camera device ready", "device", device, "attempt", attempt)
			}
			return nil
		}

		slog.Warn("camera device not ready",
			"device", device,
			"attempt", attempt,
			"max_attempts", attempts,
		)

		if attempt < attempts {
			time.Sleep(delay)
		}
	}

	return fmt.Errorf("camera device %s not found after %d attempts", device, attempts)
}

// ProbeCamera opens the camera and detects its native caps without
// starting the full capture pipeline
func ProbeCamera(device string, timeout time.Duration) (*CameraMetadata, error) {
	slog.Info("probing camera", "device", device)

	gst.Init(nil)

	// Probe pipeline: open device, negotiate caps, discard frames
	pipelineStr := fmt.Sprintf(
		"v4l2src device=%s ! videoconvert ! fakesink",
		device,
	)

	slog.Debug("creating probe pipeline", "pipeline", pipelineStr)

	pipeline, err := gst.NewPipelineFromString(pipelineStr)
	if err != nil {
		return nil, fmt.Errorf("failed to create probe pipeline: %w", err)
	}
	defer pipeline.SetState(gst.StateNull)

	metadata := &CameraMetadata{
		DetectedAt: time.Now(),
	}

	metadataDetected := make(chan struct{})

	bus := pipeline.GetPipelineBus()
	bus.AddWatch(func(msg *gst.Message) bool {
		switch msg.Type() {
		case gst.MessageError:
			gerr := msg.ParseError()
			slog.Error("probe pipeline error",
				"error", gerr.Error(),
				"debug", gerr.DebugString(),
			)
			close(metadataDetected)
			return false

		case gst.MessageStateChanged:
			// Caps are negotiated once the pipeline reaches PAUSED
			if msg.Source() == pipeline.GetName() {
				old, new := msg.ParseStateChanged()
				slog.Debug("probe state changed", "from", old, "to", new)

				if new == gst.StatePaused {
					if err := extractMetadata(pipeline, metadata); err != nil {
						slog.Error("failed to extract metadata", "error", err)
					} else {
						close(metadataDetected)
						return false
					}
				}
			}

		case gst.MessageStreamStart:
			slog.Debug("stream started")

		case gst.MessageAsyncDone:
			slog.Debug("async done, caps should be negotiated")
		}

		return true
	})

	if err := pipeline.SetState(gst.StatePaused); err != nil {
		return nil, fmt.Errorf("failed to pause pipeline: %w", err)
	}

	select {
	case <-metadataDetected:
		if metadata.Width == 0 || metadata.Height == 0 {
			return nil, fmt.Errorf("camera opened but no video caps detected")
		}
		slog.Info("camera metadata detected",
			"width", metadata.Width,
			"height", metadata.Height,
			"fps", metadata.FPS,
			"framerate", metadata.FrameRate,
			"format", metadata.Format,
		)
		return metadata, nil

	case <-time.After(timeout):
		return nil, fmt.Errorf("timeout waiting for camera metadata after %v", timeout)
	}
}

// extractMetadata extracts width, height, fps from pipeline caps
func extractMetadata(pipeline *gst.Pipeline, metadata *CameraMetadata) error {
	elements, err := pipeline.GetElements()
	if err != nil {
		return fmt.Errorf("failed to get pipeline elements: %w", err)
	}

	for _, elem := range elements {
		elemName := elem.GetName()
		if elemName == "" {
			continue
		}

		pads, err := elem.GetSinkPads()
		if err != nil || len(pads) == 0 {
			continue
		}

		pad := pads[0]
		caps := pad.GetCurrentCaps()

		if caps == nil || caps.GetSize() == 0 {
			continue
		}

		structure := caps.GetStructureAt(0)

		structName := structure.Name()
		if structName != "video/x-raw" {
			continue
		}

		if val, err := structure.GetValue("width"); err == nil {
			if width, ok := val.(int); ok {
				metadata.Width = width
			}
		}

		if val, err := structure.GetValue("height"); err == nil {
			if height, ok := val.(int); ok {
				metadata.Height = height
			}
		}

		if val, err := structure.GetValue("framerate"); err == nil {
			metadata.FrameRate = fmt.Sprintf("%v", val)

			if fpsInt := parseFPS(metadata.FrameRate); fpsInt > 0 {
				metadata.FPS = fpsInt
			}
		}

		if val, err := structure.GetValue("format"); err == nil {
			if format, ok := val.(string); ok {
				metadata.Format = format
			}
		}

		slog.Debug("extracted metadata from caps",
			"element", elemName,
			"caps", caps.String(),
			"width", metadata.Width,
			"height", metadata.Height,
			"framerate", metadata.FrameRate,
		)

		if metadata.Width > 0 && metadata.Height > 0 {
			return nil
		}
	}

	return fmt.Errorf("could not find video caps in pipeline")
}

// parseFPS converts a framerate string to integer FPS.
// Examples: "30/1" -> 30, "30000/1001" -> 29
func parseFPS(framerateStr string) int {
	var numerator, denominator int

	if _, err := fmt.Sscanf(framerateStr, "%d/%d", &numerator, &denominator); err == nil {
		if denominator > 0 {
			return numerator / denominator
		}
	}

	var fps int
	if _, err := fmt.Sscanf(framerateStr, "%d", &fps); err == nil {
		return fps
	}

	return 0
}

// AdjustConfigFromMetadata reconciles configured capture settings with
// what the camera actually supports. videoscale handles downscaling, so
// only targets exceeding the native caps need adjustment.
func AdjustConfigFromMetadata(metadata *CameraMetadata, targetWidth, targetHeight, targetFPS int) (adjWidth, adjHeight, adjFPS int, warnings []string) {
	adjWidth = targetWidth
	adjHeight = targetHeight
	adjFPS = targetFPS
	warnings = make([]string, 0)

	if metadata.Width > 0 && metadata.Height > 0 {
		if targetWidth > metadata.Width || targetHeight > metadata.Height {
			warnings = append(warnings, fmt.Sprintf(
				"Configured resolution (%dx%d) exceeds camera native (%dx%d). Using native resolution.",
				targetWidth, targetHeight, metadata.Width, metadata.Height,
			))
			adjWidth = metadata.Width
			adjHeight = metadata.Height
		}
	}

	if metadata.FPS > 0 && targetFPS > metadata.FPS {
		warnings = append(warnings, fmt.Sprintf(
			"Configured FPS (%d) exceeds camera maximum (%d). Capping at %d.",
			targetFPS, metadata.FPS, metadata.FPS,
		))
		adjFPS = metadata.FPS
	}

	return adjWidth, adjHeight, adjFPS, warnings
}
