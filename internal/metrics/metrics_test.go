package metrics

import (
	"io"
	"math"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestLatencyStats(t *testing.T) {
	m := New()
	for i := 1; i <= 20; i++ {
		m.ObserveLatency(time.Duration(i) * time.Millisecond)
	}
	mean, p95 := m.LatencyStats()
	if math.Abs(mean-10.5) > 0.01 {
		t.Errorf("mean = %.3f, want 10.5", mean)
	}
	// ceil(20*0.95) = 19th ordered sample
	if math.Abs(p95-19.0) > 0.01 {
		t.Errorf("p95 = %.3f, want 19.0", p95)
	}
}

func TestLatencyStatsEmpty(t *testing.T) {
	m := New()
	mean, p95 := m.LatencyStats()
	if mean != 0 || p95 != 0 {
		t.Errorf("empty stats = %.1f/%.1f, want 0/0", mean, p95)
	}
}

func TestLatencyWindowEvictsOldSamples(t *testing.T) {
	m := New()
	for i := 0; i < latencyWindow; i++ {
		m.ObserveLatency(10 * time.Millisecond)
	}
	for i := 0; i < latencyWindow; i++ {
		m.ObserveLatency(30 * time.Millisecond)
	}
	mean, p95 := m.LatencyStats()
	if math.Abs(mean-30.0) > 0.01 {
		t.Errorf("mean after wrap = %.3f, want 30.0", mean)
	}
	if math.Abs(p95-30.0) > 0.01 {
		t.Errorf("p95 after wrap = %.3f, want 30.0", p95)
	}
}

func TestSingleSampleP95(t *testing.T) {
	m := New()
	m.ObserveLatency(42 * time.Millisecond)
	mean, p95 := m.LatencyStats()
	if math.Abs(mean-42.0) > 0.01 || math.Abs(p95-42.0) > 0.01 {
		t.Errorf("single sample stats = %.1f/%.1f, want 42/42", mean, p95)
	}
}

func TestScrapeExposesCounters(t *testing.T) {
	m := New()
	m.FramesCaptured.Store(120)
	m.FramesDropped.Store(7)
	m.FramesGated.Store(3)
	m.Inferences.Store(110)
	m.DeadlineMisses.Store(2)
	m.BatteryPercent.Store(76)
	m.ScanMode.Store(1)
	m.SpeechQueueDepth.Store(4)
	m.ObserveLatency(100 * time.Millisecond)

	req := httptest.NewRequest("GET", "/metrics", nil)
	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, req)

	if rec.Code != 200 {
		t.Fatalf("scrape status = %d", rec.Code)
	}
	body, _ := io.ReadAll(rec.Body)
	text := string(body)

	for _, want := range []string{
		"glasses_frames_captured_total 120",
		"glasses_frames_dropped_total 7",
		"glasses_frames_gated_total 3",
		"glasses_inferences_total 110",
		"glasses_deadline_misses_total 2",
		"glasses_battery_percent 76",
		"glasses_scan_mode 1",
		"glasses_speech_queue_depth 4",
		"glasses_latency_ms_mean 100",
		"glasses_latency_ms_p95 100",
	} {
		if !strings.Contains(text, want) {
			t.Errorf("scrape missing %q", want)
		}
	}
}

func TestRegistryIsPrivate(t *testing.T) {
	// Two instances must not collide on registration.
	a := New()
	b := New()
	a.FramesCaptured.Store(1)
	b.FramesCaptured.Store(2)

	rec := httptest.NewRecorder()
	b.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	if !strings.Contains(rec.Body.String(), "glasses_frames_captured_total 2") {
		t.Error("second registry did not serve its own counter")
	}
}
