package worker

import (
	"sort"

	"github.com/v12510/GlassesVisionSystem/internal/types"
)

// depthSampleGrid caps the samples taken per box at grid*grid so large
// boxes stay cheap.
const depthSampleGrid = 64

// FuseDepth fills DistanceMM for each detection from the frame's depth
// plane. Detections keep DistanceMM zero when the frame carries no depth
// or the box covers only invalid pixels.
//
// The box must be in the same coordinate space as the frame; callers
// fuse against the original capture, not the resized model input.
func FuseDepth(dets []types.Detection, frame *types.Frame) {
	if !frame.HasDepth() {
		return
	}
	for i := range dets {
		px := dets[i].Box.ToPixels(frame.Width, frame.Height)
		if d := medianDepth(frame, px); d > 0 {
			dets[i].DistanceMM = d
		}
	}
}

// medianDepth samples the box on a coarse grid and returns the median of
// the valid readings. The median resists the zero holes and edge bleed
// that depth sensors produce around object boundaries.
func medianDepth(frame *types.Frame, box types.PixelRect) int {
	box.Clamp(frame.Width, frame.Height)
	if box.Width <= 0 || box.Height <= 0 {
		return 0
	}

	stepX := box.Width / depthSampleGrid
	if stepX < 1 {
		stepX = 1
	}
	stepY := box.Height / depthSampleGrid
	if stepY < 1 {
		stepY = 1
	}

	samples := make([]int, 0, depthSampleGrid*depthSampleGrid)
	for y := box.Y; y < box.Y+box.Height; y += stepY {
		for x := box.X; x < box.X+box.Width; x += stepX {
			if d := frame.DepthAt(x, y); d > 0 {
				samples = append(samples, int(d))
			}
		}
	}
	if len(samples) == 0 {
		return 0
	}

	sort.Ints(samples)
	return samples[len(samples)/2]
}
