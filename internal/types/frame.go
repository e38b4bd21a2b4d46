package types

import "time"

// Frame represents a single captured sensor frame
type Frame struct {
	// Seq is the monotonic sequence number, per stream
	Seq uint64
	// Timestamp is when the frame was captured
	Timestamp time.Time
	// Width in pixels
	Width int
	// Height in pixels
	Height int
	// Data contains the pixel payload (RGB24 by default)
	Data []byte
	// Depth contains per-pixel depth in millimetres for RGB-D streams.
	// Nil for RGB-only streams. Length is Width*Height when present.
	Depth []uint16
	// SourceStream identifies the stream ("camera0", "mock")
	SourceStream string
	// TraceID is a unique identifier carried through every pipeline stage,
	// used to measure capture-to-speech latency against the deadline
	TraceID string
}

// HasDepth reports whether the frame carries a usable depth plane.
func (f *Frame) HasDepth() bool {
	return len(f.Depth) == f.Width*f.Height && f.Width > 0
}

// DepthAt returns the depth in millimetres at pixel (x, y), 0 when unknown.
func (f *Frame) DepthAt(x, y int) uint16 {
	if !f.HasDepth() || x < 0 || y < 0 || x >= f.Width || y >= f.Height {
		return 0
	}
	return f.Depth[y*f.Width+x]
}

// NormalizedRect represents a rectangle with normalized coordinates (0.0 - 1.0).
// Normalized boxes survive resolution changes made by the adaptive tuner.
type NormalizedRect struct {
	X      float64 `json:"x"`      // Top-left X (0.0 = left edge, 1.0 = right edge)
	Y      float64 `json:"y"`      // Top-left Y (0.0 = top edge, 1.0 = bottom edge)
	Width  float64 `json:"width"`  // Width as fraction of frame width
	Height float64 `json:"height"` // Height as fraction of frame height
}

// ToPixels converts normalized coordinates to pixel coordinates for a given frame size
func (r *NormalizedRect) ToPixels(frameWidth, frameHeight int) PixelRect {
	return PixelRect{
		X:      int(r.X * float64(frameWidth)),
		Y:      int(r.Y * float64(frameHeight)),
		Width:  int(r.Width * float64(frameWidth)),
		Height: int(r.Height * float64(frameHeight)),
	}
}

// Center returns the normalized centre point of the rectangle.
func (r *NormalizedRect) Center() (float64, float64) {
	return r.X + r.Width/2, r.Y + r.Height/2
}

// IoU returns the intersection-over-union with another rectangle.
func (r *NormalizedRect) IoU(o NormalizedRect) float64 {
	x1 := max(r.X, o.X)
	y1 := max(r.Y, o.Y)
	x2 := min(r.X+r.Width, o.X+o.Width)
	y2 := min(r.Y+r.Height, o.Y+o.Height)
	if x2 <= x1 || y2 <= y1 {
		return 0
	}
	inter := (x2 - x1) * (y2 - y1)
	union := r.Width*r.Height + o.Width*o.Height - inter
	if union <= 0 {
		return 0
	}
	return inter / union
}

// PixelRect represents a rectangle in pixel coordinates
type PixelRect struct {
	X      int `json:"x"`
	Y      int `json:"y"`
	Width  int `json:"width"`
	Height int `json:"height"`
}

// Area returns the pixel area of the rectangle
func (r *PixelRect) Area() int {
	return r.Width * r.Height
}

// Clamp ensures the rectangle is within the given frame dimensions
func (r *PixelRect) Clamp(frameWidth, frameHeight int) {
	if r.X < 0 {
		r.X = 0
	}
	if r.Y < 0 {
		r.Y = 0
	}
	if r.X+r.Width > frameWidth {
		r.Width = frameWidth - r.X
	}
	if r.Y+r.Height > frameHeight {
		r.Height = frameHeight - r.Y
	}
}

// StreamStats contains stream statistics
type StreamStats struct {
	FrameCount   uint64
	FPSTarget    int
	FPSReal      float64
	SourceStream string
	Resolution   string
	Reconnects   uint32
	IsConnected  bool
	Errors       uint64
}
