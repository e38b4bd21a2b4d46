package worker

import (
	"testing"
	"time"

	"github.com/v12510/GlassesVisionSystem/internal/types"
)

// depthFrame builds a 10x10 RGB-D frame: a near plate at 1500 mm in the
// box (2,2)-(6,6) with one dead pixel, 4000 mm everywhere else.
func depthFrame() types.Frame {
	const w, h = 10, 10
	depth := make([]uint16, w*h)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			if x >= 2 && x < 6 && y >= 2 && y < 6 {
				depth[y*w+x] = 1500
			} else {
				depth[y*w+x] = 4000
			}
		}
	}
	depth[3*w+3] = 0 // dead pixel inside the plate

	return types.Frame{
		Seq:       1,
		Timestamp: time.Now(),
		Width:     w,
		Height:    h,
		Data:      make([]byte, w*h*3),
		Depth:     depth,
	}
}

func TestFuseDepthMedian(t *testing.T) {
	frame := depthFrame()
	dets := []types.Detection{
		{Label: "person", Box: types.NormalizedRect{X: 0.2, Y: 0.2, Width: 0.4, Height: 0.4}},
	}

	FuseDepth(dets, &frame)

	if dets[0].DistanceMM != 1500 {
		t.Errorf("distance = %d mm, want 1500", dets[0].DistanceMM)
	}
}

func TestFuseDepthMixedRegion(t *testing.T) {
	frame := depthFrame()
	// Full-frame box: far pixels dominate, median lands on the far plane.
	dets := []types.Detection{
		{Label: "wall", Box: types.NormalizedRect{X: 0, Y: 0, Width: 1, Height: 1}},
	}

	FuseDepth(dets, &frame)

	if dets[0].DistanceMM != 4000 {
		t.Errorf("distance = %d mm, want 4000", dets[0].DistanceMM)
	}
}

func TestFuseDepthWithoutDepthPlane(t *testing.T) {
	frame := depthFrame()
	frame.Depth = nil
	dets := []types.Detection{
		{Label: "person", Box: types.NormalizedRect{X: 0.2, Y: 0.2, Width: 0.4, Height: 0.4}},
	}

	FuseDepth(dets, &frame)

	if dets[0].DistanceMM != 0 {
		t.Errorf("distance = %d mm, want 0 for RGB-only frame", dets[0].DistanceMM)
	}
}

func TestFuseDepthAllInvalid(t *testing.T) {
	frame := depthFrame()
	for i := range frame.Depth {
		frame.Depth[i] = 0
	}
	dets := []types.Detection{
		{Label: "person", Box: types.NormalizedRect{X: 0.2, Y: 0.2, Width: 0.4, Height: 0.4}},
	}

	FuseDepth(dets, &frame)

	if dets[0].DistanceMM != 0 {
		t.Errorf("distance = %d mm, want 0 when every reading is invalid", dets[0].DistanceMM)
	}
}

func TestFuseDepthClampsOversizedBox(t *testing.T) {
	frame := depthFrame()
	dets := []types.Detection{
		{Label: "car", Box: types.NormalizedRect{X: 0.8, Y: 0.8, Width: 0.6, Height: 0.6}},
	}

	FuseDepth(dets, &frame)

	if dets[0].DistanceMM != 4000 {
		t.Errorf("distance = %d mm, want 4000 from the clamped corner", dets[0].DistanceMM)
	}
}

func TestFuseDepthSkipsDegenerateBox(t *testing.T) {
	frame := depthFrame()
	dets := []types.Detection{
		{Label: "speck", Box: types.NormalizedRect{X: 2.0, Y: 2.0, Width: 0.1, Height: 0.1}},
	}

	FuseDepth(dets, &frame)

	if dets[0].DistanceMM != 0 {
		t.Errorf("distance = %d mm, want 0 for a box outside the frame", dets[0].DistanceMM)
	}
}
