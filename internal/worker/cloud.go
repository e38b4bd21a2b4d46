package worker

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"image"
	"image/jpeg"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/v12510/GlassesVisionSystem/internal/config"
	"github.com/v12510/GlassesVisionSystem/internal/types"
)

const (
	defaultCloudTimeout = 5 * time.Second
	cloudJPEGQuality    = 80
)

// cloudResponse mirrors the detection endpoint's JSON body. Boxes are
// normalized, the same geometry the local wire format uses.
type cloudResponse struct {
	Detections []struct {
		Label      string  `json:"label"`
		Confidence float64 `json:"confidence"`
		Box        struct {
			X      float64 `json:"x"`
			Y      float64 `json:"y"`
			Width  float64 `json:"width"`
			Height float64 `json:"height"`
		} `json:"box"`
	} `json:"detections"`
	Model string `json:"model"`
}

// CloudClient calls the remote detection endpoint with a JPEG-encoded
// frame and a bearer key. One request per frame, no batching.
type CloudClient struct {
	endpoint string
	apiKey   string
	client   *http.Client
}

func NewCloudClient(cfg config.CloudDetectorConfig, apiKey string) *CloudClient {
	timeout := time.Duration(cfg.TimeoutS) * time.Second
	if timeout <= 0 {
		timeout = defaultCloudTimeout
	}
	return &CloudClient{
		endpoint: cfg.Endpoint,
		apiKey:   apiKey,
		client:   &http.Client{Timeout: timeout},
	}
}

// Detect posts the frame and returns the remote detections with Source
// set to "cloud".
func (c *CloudClient) Detect(ctx context.Context, frame types.Frame) ([]types.Detection, error) {
	if c.endpoint == "" {
		return nil, fmt.Errorf("cloud endpoint not configured")
	}

	jpegData, err := encodeFrameJPEG(frame)
	if err != nil {
		return nil, err
	}

	var body bytes.Buffer
	form := multipart.NewWriter(&body)
	part, err := form.CreateFormFile("image", "frame.jpg")
	if err != nil {
		return nil, fmt.Errorf("failed to build multipart form: %w", err)
	}
	if _, err := part.Write(jpegData); err != nil {
		return nil, fmt.Errorf("failed to write image part: %w", err)
	}
	if err := form.Close(); err != nil {
		return nil, fmt.Errorf("failed to finalize form: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, &body)
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Content-Type", form.FormDataContentType())
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("cloud detection request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		limited, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("cloud detection returned %d: %s", resp.StatusCode, bytes.TrimSpace(limited))
	}

	var decoded cloudResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return nil, fmt.Errorf("failed to decode cloud response: %w", err)
	}

	dets := make([]types.Detection, 0, len(decoded.Detections))
	for _, d := range decoded.Detections {
		dets = append(dets, types.Detection{
			Label:      d.Label,
			Confidence: d.Confidence,
			Box: types.NormalizedRect{
				X:      d.Box.X,
				Y:      d.Box.Y,
				Width:  d.Box.Width,
				Height: d.Box.Height,
			},
			Source: sourceCloud,
		})
	}
	return dets, nil
}

// encodeFrameJPEG converts the RGB payload to a JPEG for upload.
func encodeFrameJPEG(frame types.Frame) ([]byte, error) {
	if len(frame.Data) != frame.Width*frame.Height*3 {
		return nil, fmt.Errorf("frame %d: payload %d does not match %dx%d RGB",
			frame.Seq, len(frame.Data), frame.Width, frame.Height)
	}

	img := image.NewRGBA(image.Rect(0, 0, frame.Width, frame.Height))
	for i := 0; i < frame.Width*frame.Height; i++ {
		img.Pix[i*4] = frame.Data[i*3]
		img.Pix[i*4+1] = frame.Data[i*3+1]
		img.Pix[i*4+2] = frame.Data[i*3+2]
		img.Pix[i*4+3] = 255
	}

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: cloudJPEGQuality}); err != nil {
		return nil, fmt.Errorf("failed to encode frame %d: %w", frame.Seq, err)
	}
	return buf.Bytes(), nil
}

// CloudDetector satisfies the worker contract for deployments with no
// usable local model. Every frame becomes one synchronous API call, so
// the input queue and the drop rule matter even more here.
type CloudDetector struct {
	id       string
	deviceID string
	client   *CloudClient

	mu      sync.Mutex
	input   chan types.Frame
	results chan types.Observation
	cancel  context.CancelFunc
	wg      sync.WaitGroup

	isActive atomic.Bool

	starts            atomic.Uint32
	framesProcessed   atomic.Uint64
	framesDropped     atomic.Uint64
	inferencesEmitted atomic.Uint64
	latencySumUS      atomic.Uint64
	lastSeenAt        atomic.Value // time.Time
}

func NewCloudDetector(deviceID string, client *CloudClient) *CloudDetector {
	return &CloudDetector{
		id:       "cloud-detector",
		deviceID: deviceID,
		client:   client,
		input:    make(chan types.Frame, inputQueueSize),
		results:  make(chan types.Observation, resultQueueSize),
	}
}

func (d *CloudDetector) ID() string {
	return d.id
}

func (d *CloudDetector) Start(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.isActive.Load() {
		return fmt.Errorf("detector already running")
	}

	runCtx, cancel := context.WithCancel(ctx)
	d.cancel = cancel
	d.input = make(chan types.Frame, inputQueueSize)
	d.results = make(chan types.Observation, resultQueueSize)

	d.isActive.Store(true)
	d.starts.Add(1)
	d.lastSeenAt.Store(time.Now())

	d.wg.Add(1)
	go d.run(runCtx, d.input, d.results)

	slog.Info("cloud detector started", "worker_id", d.id)
	return nil
}

func (d *CloudDetector) SendFrame(frame types.Frame) error {
	defer func() {
		if r := recover(); r != nil {
			d.framesDropped.Add(1)
		}
	}()

	if !d.isActive.Load() {
		d.framesDropped.Add(1)
		return fmt.Errorf("detector not active")
	}

	d.mu.Lock()
	input := d.input
	d.mu.Unlock()

	select {
	case input <- frame:
		return nil
	default:
		d.framesDropped.Add(1)
		return nil
	}
}

func (d *CloudDetector) Results() <-chan types.Observation {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.results
}

func (d *CloudDetector) Stop() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if !d.isActive.Swap(false) {
		return nil
	}
	if d.cancel != nil {
		d.cancel()
	}
	d.wg.Wait()

	safeClose(d.input)
	safeClose(d.results)

	slog.Info("cloud detector stopped", "worker_id", d.id)
	return nil
}

func (d *CloudDetector) Metrics() types.WorkerMetrics {
	m := types.WorkerMetrics{
		FramesProcessed:   d.framesProcessed.Load(),
		FramesDropped:     d.framesDropped.Load(),
		InferencesEmitted: d.inferencesEmitted.Load(),
	}
	if s := d.starts.Load(); s > 0 {
		m.Restarts = s - 1
	}
	if n := m.InferencesEmitted; n > 0 {
		m.AvgLatencyMS = float64(d.latencySumUS.Load()) / 1000.0 / float64(n)
	}
	if t, ok := d.lastSeenAt.Load().(time.Time); ok {
		m.LastSeenAt = t
	}
	return m
}

func (d *CloudDetector) run(ctx context.Context, input <-chan types.Frame, results chan<- types.Observation) {
	defer d.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		case frame, ok := <-input:
			if !ok {
				return
			}

			started := time.Now()
			dets, err := d.client.Detect(ctx, frame)
			if err != nil {
				if ctx.Err() == nil {
					slog.Warn("cloud detection failed",
						"worker_id", d.id,
						"seq", frame.Seq,
						"error", err)
				}
				continue
			}

			latencyMS := float64(time.Since(started).Microseconds()) / 1000.0
			d.framesProcessed.Add(1)
			d.lastSeenAt.Store(time.Now())
			d.latencySumUS.Add(uint64(time.Since(started).Microseconds()))

			obs := types.NewObservation(d.deviceID, frame.Meta(), dets, latencyMS, d.id)
			select {
			case results <- obs:
				d.inferencesEmitted.Add(1)
			default:
				slog.Warn("results queue full, dropping observation",
					"worker_id", d.id,
					"seq", obs.FrameSeq)
			}
		}
	}
}
