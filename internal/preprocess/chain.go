// Package preprocess prepares captured frames for inference.
//
// A frame passes the quality gates first; frames not worth inferring on
// (blurry, badly exposed, glared) are rejected with a reason so the
// pipeline can count them as drops. Surviving frames run through the
// enhancement chain (denoise, contrast, white balance) and are resized
// to the detector's square input.
//
// Two enhancement implementations exist: the gocv build tag selects the
// full OpenCV chain, the default build runs a pure-Go approximation.
package preprocess

import (
	"fmt"

	"github.com/v12510/GlassesVisionSystem/internal/types"
)

// Gate reasons, recorded on dropped frames.
const (
	GateBlurry       = "blurry"
	GateOverexposed  = "overexposed"
	GateUnderexposed = "underexposed"
	GateGlare        = "glare"
)

// GateError reports a frame rejected by a quality gate.
type GateError struct {
	Reason string
	Ratio  float64 // measured ratio that tripped the gate
}

func (e *GateError) Error() string {
	return fmt.Sprintf("preprocess: quality gate %s (ratio=%.4f)", e.Reason, e.Ratio)
}

// Options configures the enhancement chain
type Options struct {
	TargetSize      int     // square detector input, e.g. 416
	DenoiseStrength float64 // OpenCV builds only, 0 disables
	CLAHEClip       float64
	Gate            GateThresholds
}

// Chain runs quality gates and the enhancement chain over frames.
// Processing is copy-on-write: the source frame is never mutated.
type Chain struct {
	opts Options
}

// NewChain creates a preprocessing chain
func NewChain(opts Options) *Chain {
	if opts.TargetSize <= 0 {
		opts.TargetSize = 416
	}
	if opts.CLAHEClip <= 0 {
		opts.CLAHEClip = 2.0
	}
	if opts.Gate == (GateThresholds{}) {
		opts.Gate = DefaultGateThresholds()
	}
	return &Chain{opts: opts}
}

// Process gates and enhances a frame, returning a detector-ready copy.
// The result carries the source frame's identity (Seq, Timestamp,
// TraceID) but not its depth plane: depth stays in source coordinates
// and is read from the original frame during scene analysis.
func (c *Chain) Process(f types.Frame) (types.Frame, error) {
	if len(f.Data) != f.Width*f.Height*3 {
		return types.Frame{}, fmt.Errorf("preprocess: frame data length %d does not match %dx%d RGB",
			len(f.Data), f.Width, f.Height)
	}

	if gateErr := c.opts.Gate.Check(f); gateErr != nil {
		return types.Frame{}, gateErr
	}

	data, err := c.enhance(f)
	if err != nil {
		return types.Frame{}, fmt.Errorf("preprocess: %w", err)
	}

	return types.Frame{
		Seq:          f.Seq,
		Timestamp:    f.Timestamp,
		Width:        c.opts.TargetSize,
		Height:       c.opts.TargetSize,
		Data:         data,
		SourceStream: f.SourceStream,
		TraceID:      f.TraceID,
	}, nil
}
