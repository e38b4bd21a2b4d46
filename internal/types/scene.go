package types

import (
	"encoding/json"
	"time"
)

// Severity grades how urgently a risk must reach the wearer
type Severity int

const (
	SeverityInfo Severity = iota
	SeverityCaution
	SeverityWarning
	SeverityCritical
)

// String implements fmt.Stringer
func (s Severity) String() string {
	switch s {
	case SeverityInfo:
		return "info"
	case SeverityCaution:
		return "caution"
	case SeverityWarning:
		return "warning"
	case SeverityCritical:
		return "critical"
	default:
		return "unknown"
	}
}

// MarshalJSON emits the severity as its string form
func (s Severity) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}

// UnmarshalJSON parses the string form back
func (s *Severity) UnmarshalJSON(b []byte) error {
	var str string
	if err := json.Unmarshal(b, &str); err != nil {
		return err
	}
	switch str {
	case "caution":
		*s = SeverityCaution
	case "warning":
		*s = SeverityWarning
	case "critical":
		*s = SeverityCritical
	default:
		*s = SeverityInfo
	}
	return nil
}

// Risk kinds
const (
	RiskFastMoving = "fast_moving"
	RiskNearby     = "nearby"
)

// Risk is a scored hazard derived from object tracking
type Risk struct {
	// Kind is the hazard class (fast_moving, nearby)
	Kind string `json:"kind"`
	// Label is the object label the hazard refers to
	Label string `json:"label"`
	// SpeedPxPerFrame is the tracked speed, pixel space, fast_moving only
	SpeedPxPerFrame float64 `json:"speed_px_per_frame,omitempty"`
	// DistanceMM is the measured distance when depth was available
	DistanceMM int `json:"distance_mm,omitempty"`
	// Direction is where the hazard sits relative to the wearer
	// ("left", "right", "ahead")
	Direction string `json:"direction,omitempty"`
	// Severity grades the hazard
	Severity Severity `json:"severity"`
}

// Name returns the canonical risk name, e.g. "fast_moving_car".
func (r Risk) Name() string {
	return r.Kind + "_" + r.Label
}

// Lighting conditions reported by scene analysis
const (
	LightingNormal      = "normal"
	LightingLow         = "low_light"
	LightingOverexposed = "overexposed"
)

// SpatialRelation places a detected object relative to the wearer centreline
type SpatialRelation struct {
	Label string `json:"label"`
	// Position is "left", "right" or "ahead"
	Position string `json:"position"`
	// Confidence of the underlying detection
	Confidence float64 `json:"confidence"`
}

// TrackSummary is the per-label tracking state exposed to narration
type TrackSummary struct {
	Label           string  `json:"label"`
	SpeedPxPerFrame float64 `json:"speed_px_per_frame"`
	// Approaching is true when the predicted trajectory closes on the
	// wearer centreline
	Approaching bool `json:"approaching"`
	// Activity is "static", "walking" or "active"
	Activity string `json:"activity"`
}

// SceneReport is the output of scene analysis for one observation
type SceneReport struct {
	DeviceID  string            `json:"device_id"`
	FrameSeq  uint64            `json:"frame_seq"`
	TraceID   string            `json:"trace_id"`
	Scene     string            `json:"scene"`
	Risks     []Risk            `json:"risks,omitempty"`
	Relations []SpatialRelation `json:"relations,omitempty"`
	Lighting  string            `json:"lighting"`
	Crowded   bool              `json:"crowded"`
	Tracks    []TrackSummary    `json:"tracks,omitempty"`
	ts        time.Time
}

// NewSceneReport stamps a report with its generation time.
func NewSceneReport(deviceID string, frameSeq uint64, traceID string) SceneReport {
	return SceneReport{
		DeviceID: deviceID,
		FrameSeq: frameSeq,
		TraceID:  traceID,
		Scene:    "unknown",
		Lighting: LightingNormal,
		ts:       time.Now(),
	}
}

// Timestamp returns when the report was generated
func (s *SceneReport) Timestamp() time.Time {
	return s.ts
}

// MaxSeverity returns the highest severity across all risks.
func (s *SceneReport) MaxSeverity() Severity {
	out := SeverityInfo
	for _, r := range s.Risks {
		if r.Severity > out {
			out = r.Severity
		}
	}
	return out
}

// Utterance is a message scheduled for speech output
type Utterance struct {
	// Text is the rendered message in the target language
	Text string `json:"text"`
	// Language is the BCP-47-ish short code ("en", "zh")
	Language string `json:"language"`
	// Priority orders playback; 0 is most urgent and preempts
	Priority int `json:"priority"`
	// TraceID links the utterance back to the frame that caused it,
	// empty for on-demand responses
	TraceID string `json:"trace_id,omitempty"`
	// Severity of the underlying risk, info for plain narration
	Severity Severity  `json:"severity"`
	Created  time.Time `json:"created"`
}

// Utterance priorities. Lower plays first.
const (
	PriorityAlert   = 0
	PriorityObject  = 1
	PrioritySummary = 2
)
