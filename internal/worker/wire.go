package worker

import (
	"encoding/binary"
	"fmt"
	"io"
	"time"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/v12510/GlassesVisionSystem/internal/types"
)

// maxMessageSize bounds a single bridge message. Requests carry raw RGB
// frames (a 1080p frame is ~6 MB), results are a few KB.
const maxMessageSize = 16 << 20

const (
	sourceLocal = "local"
	sourceCloud = "cloud"
)

// frameMeta travels to the detector process and is echoed back untouched
// in the matching result. The bridge never tracks in-flight frames; the
// echo carries everything needed to rebuild the observation.
type frameMeta struct {
	DeviceID     string `msgpack:"device_id"`
	Seq          uint64 `msgpack:"seq"`
	Timestamp    string `msgpack:"timestamp"`
	TraceID      string `msgpack:"trace_id"`
	SourceStream string `msgpack:"source_stream"`
	Width        int    `msgpack:"width"`
	Height       int    `msgpack:"height"`
}

// detectorRequest is one frame sent to the detector stdin. Width and
// Height are repeated outside meta so the detector can reshape the pixel
// buffer without reading into the echoed block.
type detectorRequest struct {
	FrameData []byte    `msgpack:"frame_data"`
	Width     int       `msgpack:"width"`
	Height    int       `msgpack:"height"`
	Meta      frameMeta `msgpack:"meta"`
}

type wireBox struct {
	X      float64 `msgpack:"x"`
	Y      float64 `msgpack:"y"`
	Width  float64 `msgpack:"width"`
	Height float64 `msgpack:"height"`
}

type wireDetection struct {
	Label      string  `msgpack:"label"`
	Confidence float64 `msgpack:"confidence"`
	Box        wireBox `msgpack:"box"`
}

type wireTiming struct {
	TotalMS     float64 `msgpack:"total_ms"`
	InferenceMS float64 `msgpack:"inference_ms"`
}

// detectorResult is one response read from the detector stdout. Error is
// set when the detector failed on that frame; such results carry no
// detections and are logged, not forwarded.
type detectorResult struct {
	Meta       frameMeta       `msgpack:"meta"`
	Detections []wireDetection `msgpack:"detections"`
	Timing     wireTiming      `msgpack:"timing"`
	Error      string          `msgpack:"error,omitempty"`
}

func encodeRequest(deviceID string, f types.Frame) ([]byte, error) {
	req := detectorRequest{
		FrameData: f.Data,
		Width:     f.Width,
		Height:    f.Height,
		Meta: frameMeta{
			DeviceID:     deviceID,
			Seq:          f.Seq,
			Timestamp:    f.Timestamp.Format(time.RFC3339Nano),
			TraceID:      f.TraceID,
			SourceStream: f.SourceStream,
			Width:        f.Width,
			Height:       f.Height,
		},
	}
	return msgpack.Marshal(&req)
}

func decodeResult(payload []byte) (detectorResult, error) {
	var res detectorResult
	if err := msgpack.Unmarshal(payload, &res); err != nil {
		return detectorResult{}, fmt.Errorf("failed to decode detector result: %w", err)
	}
	return res, nil
}

// toObservation rebuilds the pipeline observation from the echoed
// metadata. The detector reports processing time; queueing before stdin
// is already bounded by the write timeout so it is not added here.
func (r detectorResult) toObservation(workerID string) types.Observation {
	dets := make([]types.Detection, 0, len(r.Detections))
	for _, d := range r.Detections {
		dets = append(dets, types.Detection{
			Label:      d.Label,
			Confidence: d.Confidence,
			Box: types.NormalizedRect{
				X:      d.Box.X,
				Y:      d.Box.Y,
				Width:  d.Box.Width,
				Height: d.Box.Height,
			},
			Source: sourceLocal,
		})
	}

	ts, err := time.Parse(time.RFC3339Nano, r.Meta.Timestamp)
	if err != nil {
		ts = time.Now()
	}
	meta := types.FrameMeta{
		Seq:          r.Meta.Seq,
		Timestamp:    ts,
		Width:        r.Meta.Width,
		Height:       r.Meta.Height,
		SourceStream: r.Meta.SourceStream,
		TraceID:      r.Meta.TraceID,
	}
	return types.NewObservation(r.Meta.DeviceID, meta, dets, r.Timing.TotalMS, workerID)
}

// writeLengthPrefixed frames a payload with a 4-byte big-endian length,
// the framing the detector process expects on stdin.
func writeLengthPrefixed(w io.Writer, payload []byte) error {
	var header [4]byte
	binary.BigEndian.PutUint32(header[:], uint32(len(payload)))
	if _, err := w.Write(header[:]); err != nil {
		return fmt.Errorf("failed to write length prefix: %w", err)
	}
	if _, err := w.Write(payload); err != nil {
		return fmt.Errorf("failed to write payload: %w", err)
	}
	return nil
}

// readLengthPrefixed reads one length-prefixed message. io.EOF comes back
// unchanged when the stream ends cleanly at a message boundary.
func readLengthPrefixed(r io.Reader) ([]byte, error) {
	var header [4]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		if err == io.EOF {
			return nil, io.EOF
		}
		return nil, fmt.Errorf("failed to read length prefix: %w", err)
	}

	size := binary.BigEndian.Uint32(header[:])
	if size == 0 || size > maxMessageSize {
		return nil, fmt.Errorf("invalid message size %d", size)
	}

	payload := make([]byte, size)
	if _, err := io.ReadFull(r, payload); err != nil {
		return nil, fmt.Errorf("failed to read %d byte payload: %w", size, err)
	}
	return payload, nil
}
