package core

import (
	"context"
	"testing"
	"time"

	"github.com/v12510/GlassesVisionSystem/internal/voice"
)

func TestPauseResume(t *testing.T) {
	g, _ := newTestGlasses(t)

	if err := g.resumePipeline(); err == nil {
		t.Error("resume on a running pipeline should fail")
	}
	if err := g.pausePipeline(); err != nil {
		t.Fatalf("pause: %v", err)
	}
	if !g.isPausedNow() {
		t.Error("pipeline not paused after pausePipeline")
	}
	if err := g.pausePipeline(); err == nil {
		t.Error("second pause should fail")
	}
	if err := g.resumePipeline(); err != nil {
		t.Fatalf("resume: %v", err)
	}
	if g.isPausedNow() {
		t.Error("pipeline still paused after resumePipeline")
	}
}

func TestSetScanModeConfirms(t *testing.T) {
	g, sink := newTestGlasses(t)
	startTestSpeaker(t, g)

	if err := g.setScanMode(false); err != nil {
		t.Fatalf("setScanMode(false): %v", err)
	}
	if g.scanModeOn() {
		t.Error("scan mode still on")
	}
	if got := g.metrics.ScanMode.Load(); got != 0 {
		t.Errorf("ScanMode metric = %d, want 0", got)
	}
	// The confirmation itself must be audible even with narration off.
	waitFor(t, "scan-off confirmation", func() bool { return sink.count() >= 1 })

	if err := g.setScanMode(true); err != nil {
		t.Fatalf("setScanMode(true): %v", err)
	}
	if got := g.metrics.ScanMode.Load(); got != 1 {
		t.Errorf("ScanMode metric = %d, want 1", got)
	}
	waitFor(t, "scan-on confirmation", func() bool { return sink.count() >= 2 })
}

func TestSetLanguage(t *testing.T) {
	g, sink := newTestGlasses(t)
	startTestSpeaker(t, g)

	if err := g.setLanguage("zh"); err != nil {
		t.Fatalf("setLanguage(zh): %v", err)
	}
	if got := g.narrator.Language(); got != "zh" {
		t.Errorf("language = %q, want zh", got)
	}
	waitFor(t, "language confirmation", func() bool { return sink.count() >= 1 })

	if err := g.setLanguage("fr"); err == nil {
		t.Error("unsupported language should fail")
	}
	if got := g.narrator.Language(); got != "zh" {
		t.Errorf("failed switch changed language to %q", got)
	}
}

func TestHandleIntentRoutes(t *testing.T) {
	g, _ := newTestGlasses(t)
	startTestSpeaker(t, g)

	if !g.scanModeOn() {
		t.Fatal("scan mode should start enabled")
	}
	g.handleIntent(voice.IntentScanMode)
	if g.scanModeOn() {
		t.Error("scan_mode intent did not toggle off")
	}
	g.handleIntent(voice.IntentScanMode)
	if !g.scanModeOn() {
		t.Error("scan_mode intent did not toggle back on")
	}

	g.handleIntent(voice.IntentSwitchLanguage)
	if got := g.narrator.Language(); got == "en" {
		t.Error("switch_language intent did not advance the language")
	}

	g.handleIntent(voice.IntentStop)
	if !g.isPausedNow() {
		t.Error("stop intent did not pause")
	}
	g.handleIntent(voice.IntentStart)
	if g.isPausedNow() {
		t.Error("start intent did not resume")
	}
}

func TestStatusMapFields(t *testing.T) {
	g, _ := newTestGlasses(t)

	m := g.statusMap()
	if m["device_id"] != "test-glasses" {
		t.Errorf("device_id = %v", m["device_id"])
	}
	if m["running"] != true {
		t.Errorf("running = %v, want true", m["running"])
	}
	if m["scan_mode"] != true {
		t.Errorf("scan_mode = %v, want true", m["scan_mode"])
	}
	for _, key := range []string{"stream", "detector", "speech", "latency"} {
		if _, ok := m[key]; !ok {
			t.Errorf("status map missing %q section", key)
		}
	}
}

func TestShutdownViaControl(t *testing.T) {
	g, _ := newTestGlasses(t)

	if err := g.shutdownViaControl(); err == nil {
		t.Error("shutdown without a run context should fail")
	}

	ctx, cancel := context.WithCancel(context.Background())
	g.mu.Lock()
	g.runCtx, g.cancelCtx = ctx, cancel
	g.mu.Unlock()

	if err := g.shutdownViaControl(); err != nil {
		t.Fatalf("shutdownViaControl: %v", err)
	}
	select {
	case <-ctx.Done():
	case <-time.After(time.Second):
		t.Fatal("run context not cancelled")
	}
}

func TestDescribeAheadWithoutScene(t *testing.T) {
	g, sink := newTestGlasses(t)
	startTestSpeaker(t, g)

	if err := g.describeAhead(); err != nil {
		t.Fatalf("describeAhead: %v", err)
	}
	waitFor(t, "empty-scene description", func() bool { return sink.count() >= 1 })
}
