package scene

import (
	"testing"

	"github.com/v12510/GlassesVisionSystem/internal/config"
	"github.com/v12510/GlassesVisionSystem/internal/types"
)

func testSceneConfig() config.SceneConfig {
	return config.SceneConfig{
		ContextWindow:  5,
		SpeedThreshold: 0.5,
		DistanceNearPx: 200,
		DistanceNearMM: 1500,
		CrowdThreshold: 5,
	}
}

// centered builds a detection whose box centre lands on the given pixel
// in a frame of the given size.
func centered(label string, cxPx, cyPx float64, w, h int) types.Detection {
	const bw, bh = 0.1, 0.2
	return types.Detection{
		Label:      label,
		Confidence: 0.9,
		Box: types.NormalizedRect{
			X:      cxPx/float64(w) - bw/2,
			Y:      cyPx/float64(h) - bh/2,
			Width:  bw,
			Height: bh,
		},
	}
}

func observe(w, h int, dets ...types.Detection) types.Observation {
	obs := types.NewObservation("glasses-01",
		types.FrameMeta{Seq: 1, Width: w, Height: h, TraceID: "trace-1"},
		dets, 5, "worker")
	obs.Brightness = 128
	return obs
}

func labelsOf(report types.SceneReport) map[string]string {
	out := make(map[string]string)
	for _, rel := range report.Relations {
		out[rel.Label] = rel.Position
	}
	return out
}

func TestClassifyScenes(t *testing.T) {
	tests := []struct {
		name   string
		labels []string
		want   string
	}{
		{"crosswalk", []string{"person", "traffic light"}, "crosswalk"},
		{"office with optional", []string{"chair", "computer", "desk"}, "office"},
		{"office missing optional falls back", []string{"chair", "computer"}, "indoor"},
		{"street", []string{"car"}, "street"},
		{"indoor", []string{"couch"}, "indoor"},
		{"unknown", []string{"bird"}, "unknown"},
		{"empty", nil, "unknown"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := New(testSceneConfig())
			dets := make([]types.Detection, 0, len(tt.labels))
			for i, label := range tt.labels {
				dets = append(dets, centered(label, float64(100+i*80), 240, 640, 480))
			}
			obs := observe(640, 480, dets...)
			if got := a.Analyze(&obs).Scene; got != tt.want {
				t.Errorf("scene = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestLightingBands(t *testing.T) {
	a := New(testSceneConfig())

	tests := []struct {
		brightness float64
		want       string
	}{
		{30, types.LightingLow},
		{128, types.LightingNormal},
		{220, types.LightingOverexposed},
	}
	for _, tt := range tests {
		obs := observe(640, 480)
		obs.Brightness = tt.brightness
		if got := a.Analyze(&obs).Lighting; got != tt.want {
			t.Errorf("brightness %v: lighting = %q, want %q", tt.brightness, got, tt.want)
		}
	}
}

func TestCrowding(t *testing.T) {
	a := New(testSceneConfig())

	six := make([]types.Detection, 6)
	for i := range six {
		six[i] = centered("person", float64(60+i*90), 240, 640, 480)
	}
	obs := observe(640, 480, six...)
	if !a.Analyze(&obs).Crowded {
		t.Error("six persons should read as crowded")
	}

	obs = observe(640, 480, six[:5]...)
	a.Reset()
	if a.Analyze(&obs).Crowded {
		t.Error("five persons is not crowded at threshold 5")
	}
}

func TestSpatialRelations(t *testing.T) {
	a := New(testSceneConfig())

	obs := observe(640, 480,
		centered("person", 320, 240, 640, 480), // dead centre
		centered("chair", 500, 240, 640, 480),  // 180 px right
		centered("dog", 100, 240, 640, 480),    // 220 px left
		centered("cat", 250, 240, 640, 480),    // 70 px left: between bands
	)
	report := a.Analyze(&obs)

	got := labelsOf(report)
	if got["person"] != "ahead" {
		t.Errorf("person = %q, want ahead", got["person"])
	}
	if got["chair"] != "right" {
		t.Errorf("chair = %q, want right", got["chair"])
	}
	if got["dog"] != "left" {
		t.Errorf("dog = %q, want left", got["dog"])
	}
	if _, ok := got["cat"]; ok {
		t.Error("object between the bands should have no relation")
	}
}

func TestFastMovingRiskSeverities(t *testing.T) {
	a := New(testSceneConfig())

	// 1 px/frame, away from the centre so no nearby risk joins in.
	var report types.SceneReport
	for i := 0; i < 3; i++ {
		obs := observe(640, 480, centered("person", float64(500+i), 100, 640, 480))
		report = a.Analyze(&obs)
	}

	if len(report.Risks) != 1 {
		t.Fatalf("got %d risks, want 1: %+v", len(report.Risks), report.Risks)
	}
	risk := report.Risks[0]
	if risk.Name() != "fast_moving_person" {
		t.Errorf("risk = %q", risk.Name())
	}
	if risk.Severity != types.SeverityCaution {
		t.Errorf("severity = %v, want caution at 1 px/frame", risk.Severity)
	}
	if risk.Direction != "right" {
		t.Errorf("direction = %q, want right", risk.Direction)
	}
}

func TestFastMovingEscalatesPastFourTimesThreshold(t *testing.T) {
	a := New(testSceneConfig())

	var report types.SceneReport
	for i := 0; i < 3; i++ {
		obs := observe(640, 480, centered("person", float64(460+i*20), 100, 640, 480))
		report = a.Analyze(&obs)
	}

	if len(report.Risks) != 1 || report.Risks[0].Severity != types.SeverityWarning {
		t.Errorf("risks = %+v, want one warning at 20 px/frame", report.Risks)
	}
}

func TestApproachingVehicleIsCritical(t *testing.T) {
	a := New(testSceneConfig())

	var report types.SceneReport
	for _, x := range []float64{100, 160, 220} {
		obs := observe(640, 480, centered("car", x, 240, 640, 480))
		report = a.Analyze(&obs)
	}

	if len(report.Risks) == 0 {
		t.Fatal("approaching car produced no risks")
	}
	risk := report.Risks[0]
	if risk.Name() != "fast_moving_car" || risk.Severity != types.SeverityCritical {
		t.Errorf("top risk = %+v, want critical fast_moving_car", risk)
	}
	if risk.Direction != "left" {
		t.Errorf("direction = %q, want left", risk.Direction)
	}
	if report.MaxSeverity() != types.SeverityCritical {
		t.Errorf("max severity = %v", report.MaxSeverity())
	}
}

func TestRecedingVehicleIsNotCritical(t *testing.T) {
	a := New(testSceneConfig())

	var report types.SceneReport
	for _, x := range []float64{220, 160, 100} {
		obs := observe(640, 480, centered("car", x, 240, 640, 480))
		report = a.Analyze(&obs)
	}

	if len(report.Risks) != 1 {
		t.Fatalf("risks = %+v, want only fast_moving_car", report.Risks)
	}
	if report.Risks[0].Severity != types.SeverityWarning {
		t.Errorf("severity = %v, want warning for a receding car", report.Risks[0].Severity)
	}
}

func TestNearbyRisks(t *testing.T) {
	a := New(testSceneConfig())

	withDepth := centered("person", 320, 240, 640, 480)
	withDepth.DistanceMM = 800
	far := centered("cat", 32, 24, 640, 480)

	obs := observe(640, 480, withDepth, far)
	report := a.Analyze(&obs)

	if len(report.Risks) != 1 {
		t.Fatalf("risks = %+v, want one", report.Risks)
	}
	risk := report.Risks[0]
	if risk.Name() != "nearby_person" || risk.Severity != types.SeverityWarning {
		t.Errorf("risk = %+v, want nearby_person warning from depth", risk)
	}
	if risk.DistanceMM != 800 {
		t.Errorf("distance = %d, want 800", risk.DistanceMM)
	}
	if risk.Direction != "ahead" {
		t.Errorf("direction = %q, want ahead", risk.Direction)
	}
}

func TestNearbyPixelProxyWithoutDepth(t *testing.T) {
	a := New(testSceneConfig())

	obs := observe(640, 480, centered("person", 380, 240, 640, 480))
	report := a.Analyze(&obs)

	if len(report.Risks) != 1 {
		t.Fatalf("risks = %+v, want one", report.Risks)
	}
	if report.Risks[0].Severity != types.SeverityCaution {
		t.Errorf("severity = %v, want caution for the 2D proxy", report.Risks[0].Severity)
	}
	if report.Risks[0].DistanceMM != 0 {
		t.Errorf("distance = %d, want 0 without depth", report.Risks[0].DistanceMM)
	}
}

func TestTracksFollowAndDrop(t *testing.T) {
	a := New(testSceneConfig())

	obs := observe(640, 480, centered("person", 320, 240, 640, 480))
	report := a.Analyze(&obs)
	if len(report.Tracks) != 1 || report.Tracks[0].Label != "person" {
		t.Fatalf("tracks = %+v, want person", report.Tracks)
	}
	if report.Tracks[0].Activity != "static" {
		t.Errorf("activity = %q, want static on first sight", report.Tracks[0].Activity)
	}

	empty := observe(640, 480)
	report = a.Analyze(&empty)
	if len(report.Tracks) != 0 {
		t.Errorf("tracks = %+v, want none after the label left view", report.Tracks)
	}
}

func TestResetClearsTracks(t *testing.T) {
	a := New(testSceneConfig())

	for _, x := range []float64{100, 160, 220} {
		obs := observe(640, 480, centered("car", x, 240, 640, 480))
		a.Analyze(&obs)
	}
	a.Reset()

	obs := observe(640, 480, centered("car", 300, 240, 640, 480))
	report := a.Analyze(&obs)
	for _, r := range report.Risks {
		if r.Kind == types.RiskFastMoving {
			t.Errorf("stale motion survived reset: %+v", r)
		}
	}
}

func TestReportCarriesIdentity(t *testing.T) {
	a := New(testSceneConfig())
	obs := observe(640, 480)
	report := a.Analyze(&obs)

	if report.DeviceID != "glasses-01" || report.FrameSeq != 1 || report.TraceID != "trace-1" {
		t.Errorf("report identity = %+v", report)
	}
}

// BenchmarkAnalyze measures one observation through tracking, risk
// scoring and classification with a typical street population.
func BenchmarkAnalyze(b *testing.B) {
	a := New(testSceneConfig())
	obs := observe(640, 480,
		centered("person", 320, 240, 640, 480),
		centered("car", 150, 200, 640, 480),
		centered("bicycle", 500, 260, 640, 480),
		centered("traffic light", 330, 100, 640, 480),
	)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		a.Analyze(&obs)
	}
}
