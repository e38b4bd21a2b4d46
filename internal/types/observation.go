package types

import (
	"encoding/json"
	"time"
)

// Detection represents a single detected object with normalized coordinates
type Detection struct {
	// Label is the detected object class (e.g., "person", "car")
	Label string `json:"label"`
	// Confidence is the detection confidence score [0.0, 1.0]
	Confidence float64 `json:"confidence"`
	// Box is the bounding box in normalized coordinates [0.0, 1.0]
	Box NormalizedRect `json:"box"`
	// DistanceMM is the estimated distance in millimetres from the depth
	// plane, 0 when no depth is available
	DistanceMM int `json:"distance_mm,omitempty"`
	// Source identifies which detector produced this ("local", "cloud")
	Source string `json:"source,omitempty"`
}

// Observation is the per-frame inference result emitted by a worker
type Observation struct {
	DeviceID    string      `json:"device_id"`
	FrameSeq    uint64      `json:"frame_seq"`
	TraceID     string      `json:"trace_id"`
	Detections  []Detection `json:"detections"`
	LatencyMS   float64     `json:"latency_ms"`
	WorkerID    string      `json:"worker_id"`
	FrameWidth  int         `json:"frame_width"`
	FrameHeight int         `json:"frame_height"`
	// Brightness is the mean frame brightness [0,255] measured during
	// preprocessing, used downstream for lighting assessment
	Brightness   float64 `json:"brightness"`
	TimestampStr string  `json:"timestamp"`
	ts           time.Time
}

// NewObservation stamps an observation with its generation time.
func NewObservation(deviceID string, frame FrameMeta, dets []Detection, latencyMS float64, workerID string) Observation {
	now := time.Now()
	return Observation{
		DeviceID:     deviceID,
		FrameSeq:     frame.Seq,
		TraceID:      frame.TraceID,
		Detections:   dets,
		LatencyMS:    latencyMS,
		WorkerID:     workerID,
		FrameWidth:   frame.Width,
		FrameHeight:  frame.Height,
		TimestampStr: now.Format(time.RFC3339Nano),
		ts:           now,
	}
}

// Timestamp returns when the observation was generated
func (o *Observation) Timestamp() time.Time {
	if o.ts.IsZero() && o.TimestampStr != "" {
		if t, err := time.Parse(time.RFC3339Nano, o.TimestampStr); err == nil {
			o.ts = t
		}
	}
	return o.ts
}

// ToJSON converts the observation to JSON bytes for MQTT emission
func (o *Observation) ToJSON() ([]byte, error) {
	return json.Marshal(o)
}

// CountLabel returns how many detections carry the given label.
func (o *Observation) CountLabel(label string) int {
	n := 0
	for _, d := range o.Detections {
		if d.Label == label {
			n++
		}
	}
	return n
}

// FrameMeta contains frame metadata without the raw data
type FrameMeta struct {
	Seq          uint64
	Timestamp    time.Time
	Width        int
	Height       int
	SourceStream string
	TraceID      string
}

// Meta strips the pixel payload from a frame.
func (f *Frame) Meta() FrameMeta {
	return FrameMeta{
		Seq:          f.Seq,
		Timestamp:    f.Timestamp,
		Width:        f.Width,
		Height:       f.Height,
		SourceStream: f.SourceStream,
		TraceID:      f.TraceID,
	}
}
