package types

import (
	"encoding/json"
	"testing"
)

func TestNormalizedRectToPixels(t *testing.T) {
	r := NormalizedRect{X: 0.25, Y: 0.5, Width: 0.5, Height: 0.25}
	px := r.ToPixels(640, 480)

	if px.X != 160 || px.Y != 240 {
		t.Errorf("origin = (%d,%d), want (160,240)", px.X, px.Y)
	}
	if px.Width != 320 || px.Height != 120 {
		t.Errorf("size = %dx%d, want 320x120", px.Width, px.Height)
	}
	if got := px.Area(); got != 320*120 {
		t.Errorf("Area() = %d, want %d", got, 320*120)
	}
}

func TestPixelRectClamp(t *testing.T) {
	r := PixelRect{X: -10, Y: 400, Width: 700, Height: 200}
	r.Clamp(640, 480)

	if r.X != 0 {
		t.Errorf("X = %d, want 0", r.X)
	}
	if r.X+r.Width > 640 {
		t.Errorf("right edge %d exceeds frame width", r.X+r.Width)
	}
	if r.Y+r.Height > 480 {
		t.Errorf("bottom edge %d exceeds frame height", r.Y+r.Height)
	}
}

func TestIoU(t *testing.T) {
	tests := []struct {
		name string
		a, b NormalizedRect
		want float64
	}{
		{
			name: "Identical",
			a:    NormalizedRect{X: 0.1, Y: 0.1, Width: 0.2, Height: 0.2},
			b:    NormalizedRect{X: 0.1, Y: 0.1, Width: 0.2, Height: 0.2},
			want: 1.0,
		},
		{
			name: "Disjoint",
			a:    NormalizedRect{X: 0, Y: 0, Width: 0.1, Height: 0.1},
			b:    NormalizedRect{X: 0.5, Y: 0.5, Width: 0.1, Height: 0.1},
			want: 0,
		},
		{
			name: "HalfOverlap",
			a:    NormalizedRect{X: 0, Y: 0, Width: 0.2, Height: 0.2},
			b:    NormalizedRect{X: 0.1, Y: 0, Width: 0.2, Height: 0.2},
			// intersection 0.1*0.2, union 2*0.04-0.02
			want: 0.02 / 0.06,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := tt.a.IoU(tt.b)
			if diff := got - tt.want; diff > 1e-9 || diff < -1e-9 {
				t.Errorf("IoU = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestDepthAt(t *testing.T) {
	f := Frame{Width: 2, Height: 2, Depth: []uint16{100, 200, 300, 400}}

	if !f.HasDepth() {
		t.Fatal("HasDepth() = false for complete depth plane")
	}
	if got := f.DepthAt(1, 1); got != 400 {
		t.Errorf("DepthAt(1,1) = %d, want 400", got)
	}
	if got := f.DepthAt(5, 0); got != 0 {
		t.Errorf("DepthAt out of bounds = %d, want 0", got)
	}

	rgb := Frame{Width: 2, Height: 2}
	if rgb.HasDepth() {
		t.Error("HasDepth() = true for RGB-only frame")
	}
}

func TestSeverityJSONRoundTrip(t *testing.T) {
	for _, s := range []Severity{SeverityInfo, SeverityCaution, SeverityWarning, SeverityCritical} {
		b, err := json.Marshal(s)
		if err != nil {
			t.Fatalf("marshal %v: %v", s, err)
		}
		var back Severity
		if err := json.Unmarshal(b, &back); err != nil {
			t.Fatalf("unmarshal %s: %v", b, err)
		}
		if back != s {
			t.Errorf("round trip %v -> %s -> %v", s, b, back)
		}
	}
}

func TestMaxSeverity(t *testing.T) {
	r := NewSceneReport("dev-1", 1, "t-1")
	if got := r.MaxSeverity(); got != SeverityInfo {
		t.Errorf("empty report MaxSeverity = %v, want info", got)
	}

	r.Risks = []Risk{
		{Kind: RiskNearby, Label: "chair", Severity: SeverityCaution},
		{Kind: RiskFastMoving, Label: "car", Severity: SeverityCritical},
		{Kind: RiskNearby, Label: "person", Severity: SeverityWarning},
	}
	if got := r.MaxSeverity(); got != SeverityCritical {
		t.Errorf("MaxSeverity = %v, want critical", got)
	}
	if got := r.Risks[1].Name(); got != "fast_moving_car" {
		t.Errorf("Risk.Name() = %q, want fast_moving_car", got)
	}
}
