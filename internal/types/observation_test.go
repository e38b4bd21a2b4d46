package types

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestNewObservationCarriesFrameMeta(t *testing.T) {
	frame := Frame{
		Seq:          42,
		Timestamp:    time.Now(),
		Width:        640,
		Height:       480,
		SourceStream: "main",
		TraceID:      "trace-42",
	}
	dets := []Detection{
		{Label: "person", Confidence: 0.91},
		{Label: "person", Confidence: 0.72},
		{Label: "bicycle", Confidence: 0.65},
	}

	obs := NewObservation("glasses-01", frame.Meta(), dets, 33.4, "worker-0")

	require.Equal(t, "glasses-01", obs.DeviceID)
	require.Equal(t, uint64(42), obs.FrameSeq)
	require.Equal(t, "trace-42", obs.TraceID)
	require.Equal(t, 640, obs.FrameWidth)
	require.Equal(t, 480, obs.FrameHeight)
	require.Len(t, obs.Detections, 3)
	require.False(t, obs.Timestamp().IsZero())
}

func TestCountLabel(t *testing.T) {
	obs := Observation{Detections: []Detection{
		{Label: "person"},
		{Label: "car"},
		{Label: "person"},
	}}

	require.Equal(t, 2, obs.CountLabel("person"))
	require.Equal(t, 1, obs.CountLabel("car"))
	require.Equal(t, 0, obs.CountLabel("dog"))
}

func TestObservationTimestampFromWire(t *testing.T) {
	stamp := time.Date(2025, 3, 14, 9, 26, 53, 0, time.UTC)

	// A decoded observation has no internal ts, only the string field.
	var obs Observation
	data, err := json.Marshal(Observation{
		DeviceID:     "glasses-01",
		TimestampStr: stamp.Format(time.RFC3339Nano),
	})
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(data, &obs))

	require.True(t, obs.Timestamp().Equal(stamp))
}

func TestObservationJSONOmitsEmptyDistance(t *testing.T) {
	obs := NewObservation("glasses-01", FrameMeta{Seq: 1}, []Detection{
		{Label: "door", Confidence: 0.8},
	}, 10, "worker-0")

	data, err := obs.ToJSON()
	require.NoError(t, err)
	require.NotContains(t, string(data), "distance_mm")

	obs.Detections[0].DistanceMM = 1800
	data, err = obs.ToJSON()
	require.NoError(t, err)
	require.Contains(t, string(data), `"distance_mm":1800`)
}
