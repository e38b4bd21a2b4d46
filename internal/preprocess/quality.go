package preprocess

import (
	"github.com/v12510/GlassesVisionSystem/internal/types"
)

// GateThresholds holds the frame quality gate limits
type GateThresholds struct {
	MinSharpnessEdgeRatio float64
	MaxOverexposedRatio   float64 // fraction of pixels brighter than 250
	MaxUnderexposedRatio  float64 // fraction of pixels darker than 20
	MaxGlareRatio         float64 // bright low-saturation fraction
}

// DefaultGateThresholds returns the tuned production limits
func DefaultGateThresholds() GateThresholds {
	return GateThresholds{
		MinSharpnessEdgeRatio: 0.008,
		MaxOverexposedRatio:   0.35,
		MaxUnderexposedRatio:  0.45,
		MaxGlareRatio:         0.08,
	}
}

// edgeGradientThreshold marks a pixel as an edge when the sum of its
// horizontal and vertical luma gradients exceeds it
const edgeGradientThreshold = 100

// Check runs all gates over a frame. Returns nil when the frame is
// worth inferring on. Gates run on the raw RGB payload, so they behave
// identically under both enhancement builds.
func (g GateThresholds) Check(f types.Frame) *GateError {
	luma := lumaPlane(f)
	total := float64(len(luma))
	if total == 0 {
		return &GateError{Reason: GateUnderexposed, Ratio: 1}
	}

	if ratio := edgeRatio(luma, f.Width, f.Height); ratio < g.MinSharpnessEdgeRatio {
		return &GateError{Reason: GateBlurry, Ratio: ratio}
	}

	var over, under int
	for _, l := range luma {
		if l > 250 {
			over++
		} else if l < 20 {
			under++
		}
	}
	if ratio := float64(over) / total; ratio > g.MaxOverexposedRatio {
		return &GateError{Reason: GateOverexposed, Ratio: ratio}
	}
	if ratio := float64(under) / total; ratio > g.MaxUnderexposedRatio {
		return &GateError{Reason: GateUnderexposed, Ratio: ratio}
	}

	if ratio := glareRatio(f); ratio > g.MaxGlareRatio {
		return &GateError{Reason: GateGlare, Ratio: ratio}
	}

	return nil
}

// lumaPlane computes the BT.601 luma of every pixel.
// Integer weights sum to 256 so the shift stays exact.
func lumaPlane(f types.Frame) []uint8 {
	n := f.Width * f.Height
	if len(f.Data) < n*3 {
		return nil
	}
	luma := make([]uint8, n)
	for i := 0; i < n; i++ {
		r := int(f.Data[i*3])
		g := int(f.Data[i*3+1])
		b := int(f.Data[i*3+2])
		luma[i] = uint8((77*r + 150*g + 29*b) >> 8)
	}
	return luma
}

// edgeRatio counts the fraction of interior pixels whose luma gradient
// exceeds the edge threshold
func edgeRatio(luma []uint8, w, h int) float64 {
	if w < 3 || h < 3 {
		return 0
	}
	edges := 0
	for y := 1; y < h-1; y++ {
		row := y * w
		for x := 1; x < w-1; x++ {
			dx := int(luma[row+x+1]) - int(luma[row+x-1])
			if dx < 0 {
				dx = -dx
			}
			dy := int(luma[row+w+x]) - int(luma[row-w+x])
			if dy < 0 {
				dy = -dy
			}
			if dx+dy > edgeGradientThreshold {
				edges++
			}
		}
	}
	return float64(edges) / float64(w*h)
}

// glareRatio counts bright desaturated pixels: value above 245 with
// saturation below 40 on the HSV 0-255 scale
func glareRatio(f types.Frame) float64 {
	n := f.Width * f.Height
	if n == 0 || len(f.Data) < n*3 {
		return 0
	}
	glare := 0
	for i := 0; i < n; i++ {
		r := int(f.Data[i*3])
		g := int(f.Data[i*3+1])
		b := int(f.Data[i*3+2])

		v := r
		if g > v {
			v = g
		}
		if b > v {
			v = b
		}
		if v <= 245 {
			continue
		}

		lo := r
		if g < lo {
			lo = g
		}
		if b < lo {
			lo = b
		}
		// s = 255 * (v - lo) / v
		if 255*(v-lo)/v < 40 {
			glare++
		}
	}
	return float64(glare) / float64(n)
}

// MeanLuma returns the mean brightness of a frame on the 0-255 scale.
// Scene analysis classifies lighting from it.
func MeanLuma(f types.Frame) float64 {
	luma := lumaPlane(f)
	if len(luma) == 0 {
		return 0
	}
	var sum uint64
	for _, l := range luma {
		sum += uint64(l)
	}
	return float64(sum) / float64(len(luma))
}
