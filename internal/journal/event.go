package journal

import "time"

// Event represents a pipeline journal event captured at any stage.
// CBOR encoding uses integer keys for compactness; journal files are
// append-only streams of these.
type Event struct {
	// Timestamp when the event occurred (nanosecond precision).
	Timestamp time.Time `cbor:"1,keyasint"`

	// TraceID links the event to the originating frame (UUID).
	TraceID string `cbor:"2,keyasint,omitempty"`

	// DeviceID identifies the glasses unit.
	DeviceID string `cbor:"3,keyasint,omitempty"`

	// Stage where the event was captured.
	Stage Stage `cbor:"4,keyasint"`

	// Category classifies the event type.
	Category Category `cbor:"5,keyasint"`

	// Type-specific payload (one of these will be set).
	Frame       *FrameEvent       `cbor:"6,keyasint,omitempty"`
	Observation *ObservationEvent `cbor:"7,keyasint,omitempty"`
	Utterance   *UtteranceEvent   `cbor:"8,keyasint,omitempty"`
	StateChange *StateChangeEvent `cbor:"9,keyasint,omitempty"`
	Error       *ErrorEventData   `cbor:"10,keyasint,omitempty"`
}

// Stage indicates which pipeline stage captured the event.
type Stage uint8

const (
	// StageCapture is the sensor capture stage.
	StageCapture Stage = 0
	// StagePreprocess is the frame preparation stage.
	StagePreprocess Stage = 1
	// StageInference is the object detection stage.
	StageInference Stage = 2
	// StageScene is the risk/priority scoring stage.
	StageScene Stage = 3
	// StageNarrate is the message generation stage.
	StageNarrate Stage = 4
	// StageSpeech is the audio rendering stage.
	StageSpeech Stage = 5
	// StageSystem covers lifecycle and control events.
	StageSystem Stage = 6
)

// String returns the stage name.
func (s Stage) String() string {
	switch s {
	case StageCapture:
		return "CAPTURE"
	case StagePreprocess:
		return "PREPROCESS"
	case StageInference:
		return "INFERENCE"
	case StageScene:
		return "SCENE"
	case StageNarrate:
		return "NARRATE"
	case StageSpeech:
		return "SPEECH"
	case StageSystem:
		return "SYSTEM"
	default:
		return "UNKNOWN"
	}
}

// ParseStage maps a stage name (case-sensitive, as printed by String) back
// to its value. ok is false for unknown names.
func ParseStage(name string) (Stage, bool) {
	switch name {
	case "CAPTURE", "capture":
		return StageCapture, true
	case "PREPROCESS", "preprocess":
		return StagePreprocess, true
	case "INFERENCE", "inference":
		return StageInference, true
	case "SCENE", "scene":
		return StageScene, true
	case "NARRATE", "narrate":
		return StageNarrate, true
	case "SPEECH", "speech":
		return StageSpeech, true
	case "SYSTEM", "system":
		return StageSystem, true
	default:
		return 0, false
	}
}

// Category classifies the event type.
type Category uint8

const (
	// CategoryFrame indicates a frame lifecycle event.
	CategoryFrame Category = 0
	// CategoryObservation indicates an inference result.
	CategoryObservation Category = 1
	// CategoryUtterance indicates a spoken (or queued) message.
	CategoryUtterance Category = 2
	// CategoryState indicates a component state change.
	CategoryState Category = 3
	// CategoryError indicates an error event.
	CategoryError Category = 4
)

// String returns the category name.
func (c Category) String() string {
	switch c {
	case CategoryFrame:
		return "FRAME"
	case CategoryObservation:
		return "OBSERVATION"
	case CategoryUtterance:
		return "UTTERANCE"
	case CategoryState:
		return "STATE"
	case CategoryError:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

// ParseCategory maps a category name back to its value, accepting the
// String form or lowercase. ok is false for unknown names.
func ParseCategory(name string) (Category, bool) {
	switch name {
	case "FRAME", "frame":
		return CategoryFrame, true
	case "OBSERVATION", "observation":
		return CategoryObservation, true
	case "UTTERANCE", "utterance":
		return CategoryUtterance, true
	case "STATE", "state":
		return CategoryState, true
	case "ERROR", "error":
		return CategoryError, true
	default:
		return 0, false
	}
}

// FrameEvent captures frame progress through the capture/preprocess stages.
type FrameEvent struct {
	// Seq is the frame sequence number.
	Seq uint64 `cbor:"1,keyasint"`

	// Width and Height of the frame at this stage.
	Width  int `cbor:"2,keyasint,omitempty"`
	Height int `cbor:"3,keyasint,omitempty"`

	// Dropped is set when the frame left the pipeline here.
	Dropped bool `cbor:"4,keyasint,omitempty"`

	// GateReason names the quality gate that rejected the frame.
	GateReason string `cbor:"5,keyasint,omitempty"`
}

// ObservationEvent captures an inference result compactly.
type ObservationEvent struct {
	// FrameSeq is the originating frame sequence number.
	FrameSeq uint64 `cbor:"1,keyasint"`

	// Labels are the detected object classes, one entry per detection.
	Labels []string `cbor:"2,keyasint,omitempty"`

	// LatencyMS is the worker-reported inference latency.
	LatencyMS float64 `cbor:"3,keyasint,omitempty"`

	// Scene is the classified scene, when the event comes from the scene
	// stage.
	Scene string `cbor:"4,keyasint,omitempty"`

	// Risks are the canonical risk names the scene stage raised.
	Risks []string `cbor:"5,keyasint,omitempty"`
}

// UtteranceEvent captures a message entering or leaving the speech queue.
type UtteranceEvent struct {
	// Text is the rendered message.
	Text string `cbor:"1,keyasint"`

	// Language of the message.
	Language string `cbor:"2,keyasint,omitempty"`

	// Priority in the speech queue (0 most urgent).
	Priority int `cbor:"3,keyasint"`

	// Spoken is false when queued, true when playback started.
	Spoken bool `cbor:"4,keyasint,omitempty"`

	// EndToEndMS is the capture-to-speech latency, recorded when the
	// message enters the queue; zero for on-demand responses.
	EndToEndMS float64 `cbor:"5,keyasint,omitempty"`
}

// StateChangeEvent captures component lifecycle events.
type StateChangeEvent struct {
	// Entity is the component changing state ("stream", "worker",
	// "pipeline", "power").
	Entity string `cbor:"1,keyasint"`

	// OldState is the previous state (may be empty).
	OldState string `cbor:"2,keyasint,omitempty"`

	// NewState is the new state.
	NewState string `cbor:"3,keyasint"`

	// Reason for the change (if available).
	Reason string `cbor:"4,keyasint,omitempty"`
}

// ErrorEventData captures errors at any stage.
type ErrorEventData struct {
	// Stage where the error occurred.
	Stage Stage `cbor:"1,keyasint"`

	// Message is the error message.
	Message string `cbor:"2,keyasint"`

	// Context describes what operation was being performed.
	Context string `cbor:"3,keyasint,omitempty"`
}
