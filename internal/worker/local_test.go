package worker

import (
	"context"
	"reflect"
	"testing"

	"github.com/v12510/GlassesVisionSystem/internal/config"
)

func TestNewLocalDetectorFlags(t *testing.T) {
	d := NewLocalDetector("glasses-01", config.DetectorConfig{
		Command:    "python3",
		Args:       []string{"detect.py"},
		ModelPath:  "models/yolov8n.onnx",
		Confidence: 0.5,
		InputSize:  416,
	})

	want := []string{"detect.py", "--model", "models/yolov8n.onnx", "--confidence", "0.5", "--input-size", "416"}
	if !reflect.DeepEqual(d.args, want) {
		t.Errorf("args = %v, want %v", d.args, want)
	}
}

func TestNewLocalDetectorMinimalFlags(t *testing.T) {
	d := NewLocalDetector("glasses-01", config.DetectorConfig{Command: "detector"})
	if len(d.args) != 0 {
		t.Errorf("args = %v, want none", d.args)
	}
}

func TestLocalSendFrameWhenInactive(t *testing.T) {
	d := NewLocalDetector("glasses-01", config.DetectorConfig{Command: "detector"})

	if err := d.SendFrame(testFrame()); err == nil {
		t.Error("expected error sending to inactive detector")
	}
	if got := d.Metrics().FramesDropped; got != 1 {
		t.Errorf("frames dropped = %d, want 1", got)
	}
}

func TestLocalStartWithoutCommand(t *testing.T) {
	d := NewLocalDetector("glasses-01", config.DetectorConfig{})
	if err := d.Start(context.Background()); err == nil {
		t.Error("expected error starting with no command")
		d.Stop()
	}
}

func TestLocalStopWithoutStart(t *testing.T) {
	d := NewLocalDetector("glasses-01", config.DetectorConfig{Command: "detector"})
	if err := d.Stop(); err != nil {
		t.Errorf("stop before start = %v, want nil", err)
	}
}

func TestLocalMetricsDefaults(t *testing.T) {
	d := NewLocalDetector("glasses-01", config.DetectorConfig{Command: "detector"})

	m := d.Metrics()
	if m.FramesProcessed != 0 || m.InferencesEmitted != 0 || m.Restarts != 0 {
		t.Errorf("unexpected counters: %+v", m)
	}
	if m.AvgLatencyMS != 0 {
		t.Errorf("avg latency = %v before any inference", m.AvgLatencyMS)
	}
	if !m.LastSeenAt.IsZero() {
		t.Errorf("last seen = %v before start", m.LastSeenAt)
	}
}
