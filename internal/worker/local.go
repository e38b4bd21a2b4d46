// Package worker runs object detectors and bridges their results into the
// pipeline. The on-device detector is a child process speaking
// length-prefixed msgpack over stdin/stdout; cloud and hybrid variants
// wrap a REST endpoint. All workers share one rule with the capture
// layer: drop frames when busy, never queue beyond the small input
// buffer.
package worker

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os/exec"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/v12510/GlassesVisionSystem/internal/config"
	"github.com/v12510/GlassesVisionSystem/internal/types"
)

const (
	inputQueueSize    = 5
	resultQueueSize   = 10
	stdinWriteTimeout = 2 * time.Second
	stopTimeout       = 2 * time.Second
)

// LocalDetector runs the object detection model in a child process. The
// process reads length-prefixed msgpack frames on stdin and writes
// length-prefixed msgpack results on stdout; stderr is forwarded to the
// log at mapped levels.
type LocalDetector struct {
	id       string
	deviceID string
	command  string
	args     []string

	process *exec.Cmd
	stdin   io.WriteCloser

	mu      sync.Mutex // guards lifecycle transitions and channel swaps
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

// NewLocalDetector builds a detector from the configured command line.
// Model path and confidence threshold are appended as flags so one
// launcher script can serve different models.
func NewLocalDetector(deviceID string, cfg config.DetectorConfig) *LocalDetector {
	args := append([]string{}, cfg.Args...)
	if cfg.ModelPath != "" {
		args = append(args, "--model", cfg.ModelPath)
	}
	if cfg.Confidence > 0 {
		args = append(args, "--confidence", strconv.FormatFloat(cfg.Confidence, 'f', -1, 64))
	}
	if cfg.InputSize > 0 {
		args = append(args, "--input-size", strconv.Itoa(cfg.InputSize))
	}
	return &LocalDetector{
		id:       "local-detector",
		deviceID: deviceID,
		command:  cfg.Command,
		args:     args,
		input:    make(chan types.Frame, inputQueueSize),
		results:  make(chan types.Observation, resultQueueSize),
	}
}

func (d *LocalDetector) ID() string {
	return d.id
}

// Start launches the detector process and the bridge goroutines. Safe to
// call again after Stop; the watchdog relies on that for restarts.
func (d *LocalDetector) Start(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.isActive.Load() {
		return fmt.Errorf("detector already running")
	}
	if d.command == "" {
		return fmt.Errorf("detector command not configured")
	}

	procCtx, cancel := context.WithCancel(ctx)

	cmd := exec.CommandContext(procCtx, d.command, d.args...)
	stdin, err := cmd.StdinPipe()
	if err != nil {
		cancel()
		return fmt.Errorf("failed to open stdin pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		cancel()
		return fmt.Errorf("failed to open stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		cancel()
		return fmt.Errorf("failed to open stderr pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		cancel()
		return fmt.Errorf("failed to start detector process: %w", err)
	}

	d.process = cmd
	d.stdin = stdin
	d.cancel = cancel

	// Fresh channels on every start: Stop closes the previous pair and a
	// restarted detector must not inherit closed channels.
	d.input = make(chan types.Frame, inputQueueSize)
	d.results = make(chan types.Observation, resultQueueSize)

	d.isActive.Store(true)
	d.starts.Add(1)
	d.lastSeenAt.Store(time.Now())

	d.wg.Add(4)
	go d.processFrames(procCtx, d.input)
	go d.readResults(stdout, d.results)
	go d.logStderr(stderr)
	go d.waitProcess(cmd)

	slog.Info("local detector started",
		"worker_id", d.id,
		"command", d.command,
		"pid", cmd.Process.Pid)
	return nil
}

// SendFrame queues a frame for inference without blocking. Frames are
// dropped when the detector is busy, and rejected when it is not running.
func (d *LocalDetector) SendFrame(frame types.Frame) error {
	// A send can race a concurrent Stop closing the input channel.
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

// Results returns the observation channel. Stop closes it and the next
// Start replaces it, so consumers re-acquire the channel after reading a
// closed one.
func (d *LocalDetector) Results() <-chan types.Observation {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.results
}

// Stop terminates the detector process. Closing stdin asks the process
// to exit on its own; the context cancel escalates to a kill when it
// does not drain within the timeout.
func (d *LocalDetector) Stop() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if !d.isActive.Swap(false) {
		return nil
	}

	slog.Info("stopping local detector", "worker_id", d.id)

	if d.stdin != nil {
		d.stdin.Close()
	}
	if d.cancel != nil {
		d.cancel()
	}

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(stopTimeout):
		slog.Warn("detector did not exit in time, killing", "worker_id", d.id)
		if d.process != nil && d.process.Process != nil {
			d.process.Process.Kill()
		}
		select {
		case <-done:
		case <-time.After(stopTimeout):
			slog.Error("detector bridge failed to drain", "worker_id", d.id)
		}
	}

	safeClose(d.input)
	safeClose(d.results)

	slog.Info("local detector stopped", "worker_id", d.id)
	return nil
}

// Metrics returns a snapshot of the bridge counters.
func (d *LocalDetector) Metrics() types.WorkerMetrics {
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

// processFrames forwards queued frames to the detector stdin. A write
// failure ends the loop; waitProcess reports the process exit.
func (d *LocalDetector) processFrames(ctx context.Context, input <-chan types.Frame) {
	defer d.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		case frame, ok := <-input:
			if !ok {
				return
			}
			if err := d.writeFrame(frame); err != nil {
				if d.isActive.Load() {
					slog.Error("failed to send frame to detector",
						"worker_id", d.id,
						"seq", frame.Seq,
						"error", err)
				}
				return
			}
			d.framesProcessed.Add(1)
		}
	}
}

// writeFrame bounds the stdin write so a detector stuck mid-read cannot
// block the pipeline.
func (d *LocalDetector) writeFrame(frame types.Frame) error {
	payload, err := encodeRequest(d.deviceID, frame)
	if err != nil {
		return fmt.Errorf("failed to encode frame %d: %w", frame.Seq, err)
	}

	written := make(chan error, 1)
	go func() {
		written <- writeLengthPrefixed(d.stdin, payload)
	}()

	select {
	case err := <-written:
		return err
	case <-time.After(stdinWriteTimeout):
		return fmt.Errorf("stdin write timed out after %s", stdinWriteTimeout)
	}
}

// readResults decodes detector responses and publishes observations.
func (d *LocalDetector) readResults(stdout io.Reader, results chan<- types.Observation) {
	defer d.wg.Done()

	for {
		payload, err := readLengthPrefixed(stdout)
		if err != nil {
			if err != io.EOF && d.isActive.Load() {
				slog.Error("failed to read detector result",
					"worker_id", d.id,
					"error", err)
			}
			return
		}

		result, err := decodeResult(payload)
		if err != nil {
			slog.Error("discarding malformed detector result",
				"worker_id", d.id,
				"error", err)
			continue
		}
		if result.Error != "" {
			slog.Warn("detector reported frame error",
				"worker_id", d.id,
				"seq", result.Meta.Seq,
				"error", result.Error)
			continue
		}

		d.lastSeenAt.Store(time.Now())
		d.latencySumUS.Add(uint64(result.Timing.TotalMS * 1000))

		obs := result.toObservation(d.id)
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

// logStderr forwards detector process logs. Python logging prefixes map
// onto slog levels; everything else is debug noise.
func (d *LocalDetector) logStderr(stderr io.Reader) {
	defer d.wg.Done()

	scanner := bufio.NewScanner(stderr)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case strings.Contains(line, "[ERROR]") || strings.Contains(line, "[CRITICAL]"):
			slog.Error("detector: " + line)
		case strings.Contains(line, "[WARNING]"):
			slog.Warn("detector: " + line)
		default:
			slog.Debug("detector: " + line)
		}
	}
}

// waitProcess reaps the child and flags the bridge inactive when the
// process exits on its own.
func (d *LocalDetector) waitProcess(cmd *exec.Cmd) {
	defer d.wg.Done()

	err := cmd.Wait()
	if d.isActive.CompareAndSwap(true, false) {
		if err != nil {
			slog.Error("detector process died", "worker_id", d.id, "error", err)
		} else {
			slog.Warn("detector process exited without stop", "worker_id", d.id)
		}
	}
}

// safeClose tolerates an already-closed channel during teardown.
func safeClose[T any](ch chan T) {
	defer func() { recover() }()
	close(ch)
}
