package preprocess

import (
	"bytes"
	"errors"
	"testing"

	"github.com/v12510/GlassesVisionSystem/internal/types"
)

func TestProcessResizesAndPreservesIdentity(t *testing.T) {
	chain := NewChain(Options{TargetSize: 32})
	src := makeFrame(64, 48, barFill(120, 230, 6, 12))
	src.Depth = make([]uint16, 64*48)

	out, err := chain.Process(src)
	if err != nil {
		t.Fatalf("Process() error: %v", err)
	}

	if out.Width != 32 || out.Height != 32 {
		t.Errorf("output size %dx%d, want 32x32", out.Width, out.Height)
	}
	if len(out.Data) != 32*32*3 {
		t.Errorf("output data length %d, want %d", len(out.Data), 32*32*3)
	}
	if out.Seq != src.Seq || out.TraceID != src.TraceID || out.SourceStream != src.SourceStream {
		t.Error("frame identity not preserved through processing")
	}
	if out.Depth != nil {
		t.Error("depth plane must not follow the resized frame")
	}
}

func TestProcessSourceUntouched(t *testing.T) {
	chain := NewChain(Options{TargetSize: 32})
	src := makeFrame(64, 48, barFill(120, 230, 6, 12))

	before := make([]byte, len(src.Data))
	copy(before, src.Data)

	if _, err := chain.Process(src); err != nil {
		t.Fatalf("Process() error: %v", err)
	}

	if !bytes.Equal(before, src.Data) {
		t.Error("source frame data was mutated")
	}
}

func TestProcessGatesFrame(t *testing.T) {
	chain := NewChain(Options{TargetSize: 32})
	src := makeFrame(64, 48, flatFill(128))

	_, err := chain.Process(src)
	if err == nil {
		t.Fatal("expected gate rejection for flat frame")
	}

	var gateErr *GateError
	if !errors.As(err, &gateErr) {
		t.Fatalf("error type %T, want *GateError", err)
	}
	if gateErr.Reason != GateBlurry {
		t.Errorf("reason = %q, want %q", gateErr.Reason, GateBlurry)
	}
}

func TestProcessRejectsMalformedFrame(t *testing.T) {
	chain := NewChain(Options{TargetSize: 32})

	bad := types.Frame{Width: 64, Height: 48, Data: make([]byte, 10)}
	_, err := chain.Process(bad)
	if err == nil {
		t.Fatal("expected error for truncated frame data")
	}

	var gateErr *GateError
	if errors.As(err, &gateErr) {
		t.Error("malformed frame should not be reported as a gate drop")
	}
}

func TestNewChainDefaults(t *testing.T) {
	chain := NewChain(Options{})
	if chain.opts.TargetSize != 416 {
		t.Errorf("default TargetSize = %d, want 416", chain.opts.TargetSize)
	}
	if chain.opts.Gate.MinSharpnessEdgeRatio != 0.008 {
		t.Errorf("default sharpness threshold = %v, want 0.008", chain.opts.Gate.MinSharpnessEdgeRatio)
	}
}

// BenchmarkProcess measures gating, enhancement and resize on a VGA
// frame, the resolution the default camera profile captures at.
func BenchmarkProcess(b *testing.B) {
	chain := NewChain(Options{TargetSize: 416})
	// striped so the frame clears the sharpness gate at full resolution
	src := makeFrame(640, 480, func(x, y int) (byte, byte, byte) {
		if x/8%2 == 0 {
			return 120, 120, 120
		}
		return 230, 230, 230
	})

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := chain.Process(src); err != nil {
			b.Fatal(err)
		}
	}
}
