package worker

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/v12510/GlassesVisionSystem/internal/config"
	"github.com/v12510/GlassesVisionSystem/internal/types"
)

// fakeLocal is a hand-driven local worker: tests push observations
// through emit and inspect what the hybrid layer forwarded.
type fakeLocal struct {
	mu      sync.Mutex
	started bool
	stops   int
	results chan types.Observation
	sent    []uint64
}

func newFakeLocal() *fakeLocal {
	return &fakeLocal{results: make(chan types.Observation, 10)}
}

func (f *fakeLocal) ID() string { return "fake-local" }

func (f *fakeLocal) Start(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.started = true
	return nil
}

func (f *fakeLocal) SendFrame(frame types.Frame) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, frame.Seq)
	return nil
}

func (f *fakeLocal) Results() <-chan types.Observation { return f.results }

func (f *fakeLocal) Stop() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stops++
	return nil
}

func (f *fakeLocal) Metrics() types.WorkerMetrics { return types.WorkerMetrics{} }

func (f *fakeLocal) emit(obs types.Observation) { f.results <- obs }

func (f *fakeLocal) sentSeqs() []uint64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]uint64, len(f.sent))
	copy(out, f.sent)
	return out
}

func det(label string, conf, x, y, w, h float64, source string) types.Detection {
	return types.Detection{
		Label:      label,
		Confidence: conf,
		Box:        types.NormalizedRect{X: x, Y: y, Width: w, Height: h},
		Source:     source,
	}
}

func TestMergeDetections(t *testing.T) {
	tests := []struct {
		name       string
		local      []types.Detection
		cloud      []types.Detection
		wantLabels []string
	}{
		{
			name:       "same object same label keeps local",
			local:      []types.Detection{det("person", 0.9, 0.1, 0.1, 0.3, 0.5, "local")},
			cloud:      []types.Detection{det("person", 0.8, 0.12, 0.1, 0.3, 0.5, "cloud")},
			wantLabels: []string{"person"},
		},
		{
			name:       "same object label conflict cloud wins",
			local:      []types.Detection{det("dog", 0.6, 0.1, 0.1, 0.3, 0.5, "local")},
			cloud:      []types.Detection{det("bicycle", 0.9, 0.1, 0.1, 0.3, 0.5, "cloud")},
			wantLabels: []string{"bicycle"},
		},
		{
			name:       "disjoint objects append",
			local:      []types.Detection{det("person", 0.9, 0.0, 0.0, 0.2, 0.4, "local")},
			cloud:      []types.Detection{det("car", 0.8, 0.6, 0.5, 0.3, 0.3, "cloud")},
			wantLabels: []string{"person", "car"},
		},
		{
			name:       "small overlap stays separate",
			local:      []types.Detection{det("person", 0.9, 0.0, 0.0, 0.3, 0.3, "local")},
			cloud:      []types.Detection{det("backpack", 0.7, 0.25, 0.25, 0.3, 0.3, "cloud")},
			wantLabels: []string{"person", "backpack"},
		},
		{
			name:       "cloud only",
			local:      nil,
			cloud:      []types.Detection{det("car", 0.8, 0.1, 0.1, 0.3, 0.3, "cloud")},
			wantLabels: []string{"car"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			merged := mergeDetections(tt.local, tt.cloud, mergeIoUThreshold)
			if len(merged) != len(tt.wantLabels) {
				t.Fatalf("got %d detections %v, want %d", len(merged), merged, len(tt.wantLabels))
			}
			for i, want := range tt.wantLabels {
				if merged[i].Label != want {
					t.Errorf("detection %d = %q, want %q", i, merged[i].Label, want)
				}
			}
		})
	}
}

func TestMergeLabelConflictKeepsLocalBox(t *testing.T) {
	local := []types.Detection{det("dog", 0.6, 0.10, 0.10, 0.30, 0.50, "local")}
	cloud := []types.Detection{det("bicycle", 0.9, 0.11, 0.10, 0.30, 0.50, "cloud")}

	merged := mergeDetections(local, cloud, mergeIoUThreshold)
	if len(merged) != 1 {
		t.Fatalf("got %d detections", len(merged))
	}
	if merged[0].Box.X != 0.10 {
		t.Errorf("box replaced: %+v, want local box kept", merged[0].Box)
	}
	if merged[0].Source != "cloud" || merged[0].Confidence != 0.9 {
		t.Errorf("label fields not adopted: %+v", merged[0])
	}
}

func TestHybridMergesFreshCloud(t *testing.T) {
	local := newFakeLocal()
	h := NewHybridDetector(local, NewCloudClient(config.CloudDetectorConfig{Endpoint: "http://unused"}, ""))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := h.Start(ctx); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer h.Stop()

	h.mu.Lock()
	h.cloudDets = []types.Detection{det("car", 0.85, 0.6, 0.5, 0.3, 0.3, "cloud")}
	h.cloudAt = time.Now()
	h.mu.Unlock()

	local.emit(types.NewObservation("glasses-01",
		types.FrameMeta{Seq: 9, Width: 416, Height: 416, TraceID: "t-9"},
		[]types.Detection{det("person", 0.9, 0.0, 0.0, 0.2, 0.4, "local")},
		12.5, "fake-local"))

	select {
	case obs := <-h.Results():
		if obs.WorkerID != "hybrid-detector" {
			t.Errorf("worker id = %q", obs.WorkerID)
		}
		if obs.LatencyMS != 12.5 {
			t.Errorf("latency = %v, want the local latency", obs.LatencyMS)
		}
		if len(obs.Detections) != 2 {
			t.Fatalf("detections = %+v, want local plus cloud", obs.Detections)
		}
		if obs.Detections[1].Label != "car" || obs.Detections[1].Source != "cloud" {
			t.Errorf("cloud detection not merged: %+v", obs.Detections[1])
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for merged observation")
	}
}

func TestHybridIgnoresStaleCloud(t *testing.T) {
	local := newFakeLocal()
	h := NewHybridDetector(local, NewCloudClient(config.CloudDetectorConfig{Endpoint: "http://unused"}, ""))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := h.Start(ctx); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer h.Stop()

	h.mu.Lock()
	h.cloudDets = []types.Detection{det("car", 0.85, 0.6, 0.5, 0.3, 0.3, "cloud")}
	h.cloudAt = time.Now().Add(-10 * time.Second)
	h.mu.Unlock()

	local.emit(types.NewObservation("glasses-01",
		types.FrameMeta{Seq: 10, Width: 416, Height: 416},
		[]types.Detection{det("person", 0.9, 0.0, 0.0, 0.2, 0.4, "local")},
		10, "fake-local"))

	select {
	case obs := <-h.Results():
		if len(obs.Detections) != 1 || obs.Detections[0].Label != "person" {
			t.Errorf("stale cloud result merged: %+v", obs.Detections)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for observation")
	}
}

func TestHybridTriggersCloudCall(t *testing.T) {
	hits := make(chan struct{}, 4)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits <- struct{}{}
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"detections":[]}`)
	}))
	defer srv.Close()

	local := newFakeLocal()
	h := NewHybridDetector(local, NewCloudClient(config.CloudDetectorConfig{Endpoint: srv.URL, TimeoutS: 2}, "k"))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := h.Start(ctx); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer h.Stop()

	if err := h.SendFrame(testFrame()); err != nil {
		t.Fatalf("SendFrame failed: %v", err)
	}

	select {
	case <-hits:
	case <-time.After(2 * time.Second):
		t.Fatal("cloud endpoint never called")
	}

	// Inside the minimum interval further frames ride on the cached
	// result instead of triggering new calls.
	h.SendFrame(testFrame())
	h.SendFrame(testFrame())
	select {
	case <-hits:
		t.Error("second cloud call inside minimum interval")
	case <-time.After(100 * time.Millisecond):
	}

	if calls, errs := h.CloudStats(); calls != 1 || errs != 0 {
		t.Errorf("cloud stats = %d calls %d errors, want 1/0", calls, errs)
	}

	if got := local.sentSeqs(); len(got) != 3 {
		t.Errorf("local received %d frames, want all 3", len(got))
	}
}

func TestHybridSendFrameWhenInactive(t *testing.T) {
	h := NewHybridDetector(newFakeLocal(), NewCloudClient(config.CloudDetectorConfig{}, ""))
	if err := h.SendFrame(testFrame()); err == nil {
		t.Error("expected error before start")
	}
}
