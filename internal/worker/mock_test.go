package worker

import (
	"context"
	"testing"
	"time"

	"github.com/v12510/GlassesVisionSystem/internal/types"
)

func TestMockDetectorCyclesScript(t *testing.T) {
	script := [][]types.Detection{
		{det("person", 0.9, 0.4, 0.3, 0.1, 0.4, "local")},
		{det("car", 0.8, 0.1, 0.4, 0.3, 0.3, "local")},
	}
	d := NewMockDetector("glasses-01", 0, script)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := d.Start(ctx); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer d.Stop()

	for i := 0; i < 3; i++ {
		frame := testFrame()
		frame.Seq = uint64(i)
		if err := d.SendFrame(frame); err != nil {
			t.Fatalf("SendFrame %d failed: %v", i, err)
		}
	}

	wantLabels := []string{"person", "car", "person"}
	for i, want := range wantLabels {
		select {
		case obs := <-d.Results():
			if obs.WorkerID != "mock-detector" {
				t.Errorf("worker id = %q", obs.WorkerID)
			}
			if len(obs.Detections) != 1 || obs.Detections[0].Label != want {
				t.Errorf("observation %d = %+v, want label %q", i, obs.Detections, want)
			}
		case <-time.After(2 * time.Second):
			t.Fatalf("timed out waiting for observation %d", i)
		}
	}
}

func TestMockDetectorDefaultScript(t *testing.T) {
	d := NewMockDetector("glasses-01", 0, nil)
	if len(d.script) == 0 {
		t.Fatal("nil script should fall back to the default scene")
	}

	// The default scene must include an empty entry so downstream code
	// sees frames with nothing detected.
	foundEmpty := false
	for _, entry := range d.script {
		if len(entry) == 0 {
			foundEmpty = true
		}
	}
	if !foundEmpty {
		t.Error("default script has no empty frame")
	}
}

func TestMockDetectorInactiveSend(t *testing.T) {
	d := NewMockDetector("glasses-01", 0, nil)
	if err := d.SendFrame(testFrame()); err == nil {
		t.Error("expected error before start")
	}
	if d.Metrics().FramesDropped != 1 {
		t.Errorf("frames dropped = %d, want 1", d.Metrics().FramesDropped)
	}
}

func TestMockDetectorStopIdempotent(t *testing.T) {
	d := NewMockDetector("glasses-01", 0, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := d.Start(ctx); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if err := d.Stop(); err != nil {
		t.Errorf("first stop = %v", err)
	}
	if err := d.Stop(); err != nil {
		t.Errorf("second stop = %v", err)
	}
}

func TestMockDetectorRestartCounts(t *testing.T) {
	d := NewMockDetector("glasses-01", 0, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	for i := 0; i < 2; i++ {
		if err := d.Start(ctx); err != nil {
			t.Fatalf("start %d failed: %v", i, err)
		}
		if err := d.Stop(); err != nil {
			t.Fatalf("stop %d failed: %v", i, err)
		}
	}

	if got := d.Metrics().Restarts; got != 1 {
		t.Errorf("restarts = %d, want 1", got)
	}
}

func TestMockDetectorLatency(t *testing.T) {
	d := NewMockDetector("glasses-01", 30*time.Millisecond, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := d.Start(ctx); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer d.Stop()

	started := time.Now()
	if err := d.SendFrame(testFrame()); err != nil {
		t.Fatalf("SendFrame failed: %v", err)
	}

	select {
	case obs := <-d.Results():
		if elapsed := time.Since(started); elapsed < 30*time.Millisecond {
			t.Errorf("result after %v, configured latency is 30ms", elapsed)
		}
		if obs.LatencyMS != 30 {
			t.Errorf("reported latency = %v, want 30", obs.LatencyMS)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for observation")
	}
}
