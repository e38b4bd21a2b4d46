// Package core wires the perception pipeline together: capture,
// preprocessing, inference, scene analysis, narration and speech, plus
// the control surfaces around them (MQTT, voice, HTTP health, mDNS).
//
// The orchestrator owns component lifecycle and the glue goroutines.
// Stage logic lives in the stage packages; core only routes data and
// enforces the drop-don't-queue policy between them.
package core

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/v12510/GlassesVisionSystem/internal/audio"
	"github.com/v12510/GlassesVisionSystem/internal/config"
	"github.com/v12510/GlassesVisionSystem/internal/control"
	"github.com/v12510/GlassesVisionSystem/internal/discovery"
	"github.com/v12510/GlassesVisionSystem/internal/emitter"
	"github.com/v12510/GlassesVisionSystem/internal/framebus"
	"github.com/v12510/GlassesVisionSystem/internal/journal"
	"github.com/v12510/GlassesVisionSystem/internal/metrics"
	"github.com/v12510/GlassesVisionSystem/internal/narrate"
	"github.com/v12510/GlassesVisionSystem/internal/preprocess"
	"github.com/v12510/GlassesVisionSystem/internal/scene"
	"github.com/v12510/GlassesVisionSystem/internal/stream"
	"github.com/v12510/GlassesVisionSystem/internal/tts"
	"github.com/v12510/GlassesVisionSystem/internal/types"
	"github.com/v12510/GlassesVisionSystem/internal/voice"
	"github.com/v12510/GlassesVisionSystem/internal/worker"
)

const (
	// pendingLimit bounds the frames retained for depth fusion while
	// their inference is in flight.
	pendingLimit = 8

	// perfSnapshotEvery sets how many observations pass between queue
	// depth gauge refreshes and the stats debug log.
	perfSnapshotEvery = 10

	healthPublishInterval = 30 * time.Second
	busStatsInterval      = 30 * time.Second
)

// pendingFrame holds a captured frame between dispatch and its
// observation, so depth fusion runs against source coordinates.
type pendingFrame struct {
	frame      types.Frame
	brightness float64
}

// Glasses is the device orchestrator. One instance per process.
type Glasses struct {
	cfgPath string
	secrets config.Secrets
	version string

	stream     stream.Provider
	bus        *framebus.Bus
	chain      *preprocess.Chain
	tuner      *preprocess.Tuner
	detector   types.InferenceWorker
	watchdog   *worker.Watchdog
	analyzer   *scene.Analyzer
	narrator   *narrate.Narrator
	speaker    *tts.Speaker
	cache      *tts.Cache
	engines    []tts.Engine
	sink       tts.Sink
	output     *audio.Output
	capture    *audio.Capture
	recognizer voice.Recognizer
	listener   *voice.Listener
	emitter    *emitter.Emitter
	controller *control.Handler
	health     *metrics.Server
	advertiser *discovery.Advertiser
	metrics    *metrics.Metrics
	journal    journal.Journal
	jfile      *journal.FileJournal

	mu              sync.RWMutex
	cfg             *config.Config
	isRunning       bool
	isShutdown      bool
	isPaused        bool
	scanMode        bool
	lowPower        bool
	batteryPct      int
	charging        bool
	inferenceRate   float64
	processInterval int
	lastReport      *types.SceneReport
	curWidth        int
	curHeight       int

	pendingMu   sync.Mutex
	pending     map[uint64]pendingFrame
	pendingSeqs []uint64

	sendDrops     atomic.Uint64
	obsCount      atomic.Uint64
	restartTicket atomic.Bool
	streamMu      sync.Mutex

	// powerRoot is the sysfs power supply base path, overridable in
	// tests.
	powerRoot string

	wg        sync.WaitGroup
	started   time.Time
	runCtx    context.Context
	cancelCtx context.CancelFunc
}

// Option adjusts the loaded config before components are built.
type Option func(*config.Config)

// WithMockHardware forces the synthetic stream and detector so a machine
// without glasses hardware can run the full pipeline.
func WithMockHardware() Option {
	return func(c *config.Config) {
		c.Camera.Source = "mock"
		c.Detector.Mode = "mock"
	}
}

// New loads configuration and secrets and constructs the pipeline.
// Nothing runs until Run; hardware (camera, audio) is only touched then.
func New(configPath, version string, opts ...Option) (*Glasses, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	for _, opt := range opts {
		opt(cfg)
	}
	slog.Debug("configuration loaded", "path", configPath, "config", cfg.Redacted())

	g := &Glasses{
		cfgPath:   configPath,
		secrets:   config.LoadSecrets(""),
		version:   version,
		cfg:       cfg,
		bus:       framebus.New(),
		metrics:   metrics.New(),
		analyzer:  scene.New(cfg.Scene),
		narrator:  narrate.New(cfg.Narration),
		journal:   journal.NoopJournal{},
		scanMode:  true,
		pending:   make(map[uint64]pendingFrame),
		powerRoot: powerSupplyRoot,
	}
	g.metrics.ScanMode.Store(1)

	if cfg.Journal.Enabled {
		jf, err := journal.NewFileJournal(cfg.Journal.Path)
		if err != nil {
			return nil, fmt.Errorf("journal: %w", err)
		}
		g.jfile = jf
		g.journal = jf
	}

	width, height, err := config.ParseResolution(cfg.Camera.Resolution)
	if err != nil {
		return nil, err
	}
	g.curWidth, g.curHeight = width, height

	g.chain = preprocess.NewChain(preprocess.Options{
		TargetSize:      cfg.Detector.InputSize,
		DenoiseStrength: cfg.Preprocess.DenoiseStrength,
		CLAHEClip:       cfg.Preprocess.CLAHEClip,
	})

	if cfg.Pipeline.Adaptive.Enabled {
		g.tuner = preprocess.NewTuner(preprocess.TunerConfig{
			LatencyHigh:      time.Duration(cfg.Pipeline.Adaptive.LatencyHighS * float64(time.Second)),
			LatencyLow:       time.Duration(cfg.Pipeline.Adaptive.LatencyLowS * float64(time.Second)),
			ThroughputLowFPS: cfg.Pipeline.Adaptive.ThroughputLowFPS,
			WindowFrames:     cfg.Pipeline.Adaptive.WindowFrames,
			InitialWidth:     width,
			InitialHeight:    height,
		})
	}

	g.stream, err = g.buildStream(width, height)
	if err != nil {
		return nil, err
	}

	g.detector, err = g.buildDetector()
	if err != nil {
		return nil, err
	}

	if cfg.TTS.CacheDir != "" {
		cache, err := tts.OpenCache(cfg.TTS.CacheDir, cfg.TTS.CacheLimit)
		if err != nil {
			slog.Warn("speech cache unavailable", "dir", cfg.TTS.CacheDir, "error", err)
		} else {
			g.cache = cache
		}
	}
	if cfg.TTS.Endpoint != "" {
		g.engines = append(g.engines, tts.NewOnlineEngine(cfg.TTS, g.secrets.TTSAPIKey))
	}
	g.engines = append(g.engines, tts.NewOfflineEngine(cfg.TTS.SampleRate))

	return g, nil
}

// Run starts every component and blocks until the context is cancelled.
// The caller is responsible for Shutdown afterwards; Run also calls it
// on a failed start so a partial pipeline never leaks.
func (g *Glasses) Run(ctx context.Context) error {
	g.mu.Lock()
	if g.isRunning {
		g.mu.Unlock()
		return fmt.Errorf("glasses already running")
	}
	g.runCtx, g.cancelCtx = context.WithCancel(ctx)
	g.started = time.Now()
	g.mu.Unlock()

	cfg := g.currentConfig()
	slog.Info("starting pipeline",
		"device_id", cfg.DeviceID,
		"version", g.version,
		"camera", cfg.Camera.Source,
		"detector", cfg.Detector.Mode,
	)

	if err := g.start(); err != nil {
		g.Shutdown(context.Background())
		return err
	}

	g.mu.Lock()
	g.isRunning = true
	g.mu.Unlock()

	g.journalState("pipeline", "starting", "running", "")
	slog.Info("pipeline running",
		"inference_rate_hz", g.currentRate(),
		"process_interval", g.currentInterval(),
		"scan_mode", g.scanModeOn(),
	)

	<-g.runCtx.Done()
	return nil
}

// start brings components up in dependency order. An error leaves the
// already-started components for Shutdown to unwind.
func (g *Glasses) start() error {
	cfg := g.currentConfig()

	if err := g.stream.Start(g.runCtx); err != nil {
		return fmt.Errorf("stream: %w", err)
	}

	if err := g.calibrateRate(); err != nil {
		return err
	}

	if err := g.detector.Start(g.runCtx); err != nil {
		return fmt.Errorf("detector: %w", err)
	}

	if g.sink == nil {
		out, err := audio.NewOutput(cfg.TTS.OutputDevice)
		if err != nil {
			return fmt.Errorf("audio output: %w", err)
		}
		g.output = out
		g.sink = out
	}
	g.speaker = tts.NewSpeaker(cfg.TTS, g.sink, g.cache, g.engines...)
	if err := g.speaker.Start(g.runCtx); err != nil {
		return fmt.Errorf("speaker: %w", err)
	}

	g.startVoice()
	g.startMQTT()

	interval := time.Duration(cfg.Pipeline.WatchdogIntervalS) * time.Second
	g.watchdog = worker.NewWatchdog(interval, g.currentRate, g.onWorkerDegraded)

	g.health = metrics.NewServer(cfg.Health, g.HealthCheck, g.metrics)
	g.health.Start()

	g.startDiscovery()

	g.wg.Add(1)
	go func() {
		defer g.wg.Done()
		g.watchdog.Watch(g.runCtx, g.detector)
	}()
	g.wg.Add(1)
	go func() {
		defer g.wg.Done()
		g.bus.StartStatsLogger(g.runCtx, busStatsInterval)
	}()
	g.wg.Add(1)
	go g.captureFrames()
	g.wg.Add(1)
	go g.processFrames()
	g.wg.Add(1)
	go g.consumeResults()
	g.wg.Add(1)
	go g.healthLoop()
	g.wg.Add(1)
	go g.powerLoop()

	return nil
}

// calibrateRate fixes the inference rate and frame interval, from a
// warm-up measurement when configured, otherwise from nominal capture
// FPS. An explicit process_interval overrides both.
func (g *Glasses) calibrateRate() error {
	cfg := g.currentConfig()
	pc := cfg.Pipeline

	if pc.ProcessInterval > 0 {
		g.setRate(pc.MaxInferenceRateHz, pc.ProcessInterval)
		return nil
	}

	if pc.WarmupDurationS > 0 {
		stats, err := stream.Warmup(g.runCtx, g.stream.Frames(),
			time.Duration(pc.WarmupDurationS)*time.Second)
		if err != nil {
			return fmt.Errorf("warmup: %w", err)
		}
		rate := stream.CalculateOptimalInferenceRate(stats, pc.MaxInferenceRateHz)
		g.setRate(rate, stream.CalculateProcessInterval(stats.FPSMean, rate))
		return nil
	}

	rate := pc.MaxInferenceRateHz
	g.setRate(rate, stream.CalculateProcessInterval(float64(cfg.Camera.FPS), rate))
	return nil
}

// Shutdown stops every component in reverse dependency order: control
// surfaces first, then the capture chain so downstream channels drain,
// then the glue goroutines, then outputs. Safe to call on a partially
// started pipeline; repeated calls are no-ops.
func (g *Glasses) Shutdown(ctx context.Context) error {
	g.mu.Lock()
	if g.isShutdown {
		g.mu.Unlock()
		return nil
	}
	g.isShutdown = true
	g.mu.Unlock()

	slog.Info("shutting down pipeline")
	g.journalState("pipeline", "running", "stopping", "")

	if g.controller != nil {
		g.controller.Stop()
	}
	if g.listener != nil {
		g.listener.Stop()
	}
	if g.capture != nil {
		g.capture.Stop()
	}

	if g.stream != nil {
		if err := g.stream.Stop(); err != nil {
			slog.Warn("stream stop failed", "error", err)
		}
	}
	g.bus.Close()
	if g.detector != nil {
		if err := g.detector.Stop(); err != nil {
			slog.Warn("detector stop failed", "error", err)
		}
	}

	if g.cancelCtx != nil {
		g.cancelCtx()
	}

	done := make(chan struct{})
	go func() {
		g.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		slog.Warn("shutdown timed out waiting for pipeline goroutines")
	}

	if g.speaker != nil {
		g.speaker.Stop()
	}
	if g.output != nil {
		g.output.Close()
	}
	if g.capture != nil {
		g.capture.Close()
	}
	if g.recognizer != nil {
		g.recognizer.Close()
	}
	if g.emitter != nil {
		g.emitter.Disconnect()
	}
	if g.advertiser != nil {
		g.advertiser.Shutdown()
	}
	if g.health != nil {
		if err := g.health.Stop(ctx); err != nil {
			slog.Warn("health server stop failed", "error", err)
		}
	}

	g.mu.Lock()
	g.isRunning = false
	g.mu.Unlock()

	g.journalState("pipeline", "stopping", "stopped", "")
	if g.jfile != nil {
		if err := g.jfile.Close(); err != nil {
			slog.Warn("journal close failed", "error", err)
		}
	}

	slog.Info("pipeline stopped")
	return nil
}

// ShutdownTimeout returns the configured graceful shutdown budget.
func (g *Glasses) ShutdownTimeout() time.Duration {
	return time.Duration(g.currentConfig().ShutdownTimeoutS) * time.Second
}

// buildStream constructs the capture provider at the given resolution.
func (g *Glasses) buildStream(width, height int) (stream.Provider, error) {
	cfg := g.currentConfig()
	switch cfg.Camera.Source {
	case "mock":
		ms := stream.NewMockStream(width, height, cfg.Camera.FPS, "mock")
		ms.EmitDepth = cfg.Camera.Depth
		return ms, nil
	case "v4l2":
		return stream.NewCameraStream(stream.CameraConfig{
			Device:       cfg.Camera.Device,
			Width:        width,
			Height:       height,
			FPS:          cfg.Camera.FPS,
			SourceStream: "camera0",
		})
	default:
		return nil, fmt.Errorf("unknown camera source %q", cfg.Camera.Source)
	}
}

func (g *Glasses) buildDetector() (types.InferenceWorker, error) {
	cfg := g.currentConfig()
	switch cfg.Detector.Mode {
	case "mock":
		return worker.NewMockDetector(cfg.DeviceID, 30*time.Millisecond, worker.DefaultScript()), nil
	case "local":
		return worker.NewLocalDetector(cfg.DeviceID, cfg.Detector), nil
	case "cloud":
		client := worker.NewCloudClient(cfg.Detector.Cloud, g.secrets.CloudAPIKey)
		return worker.NewCloudDetector(cfg.DeviceID, client), nil
	case "hybrid":
		local := worker.NewLocalDetector(cfg.DeviceID, cfg.Detector)
		client := worker.NewCloudClient(cfg.Detector.Cloud, g.secrets.CloudAPIKey)
		return worker.NewHybridDetector(local, client), nil
	default:
		return nil, fmt.Errorf("unknown detector mode %q", cfg.Detector.Mode)
	}
}

// startVoice brings up the microphone and recognizer. Voice is an
// optional surface: any failure logs a warning and the device runs on
// without it.
func (g *Glasses) startVoice() {
	cfg := g.currentConfig()
	if !cfg.Voice.Enabled {
		return
	}

	capture, err := audio.NewCapture(cfg.Audio)
	if err != nil {
		slog.Warn("voice commands disabled: microphone unavailable", "error", err)
		return
	}
	rec, err := voice.NewVosk(cfg.Voice.ModelPath, capture.SampleRate())
	if err != nil {
		slog.Warn("voice commands disabled: recognizer unavailable", "error", err)
		capture.Close()
		return
	}
	if err := capture.Start(); err != nil {
		slog.Warn("voice commands disabled: capture start failed", "error", err)
		rec.Close()
		capture.Close()
		return
	}

	g.capture = capture
	g.recognizer = rec
	g.listener = voice.NewListener(capture, rec, g.narrator.Language, g.handleIntent)
	g.listener.Start(g.runCtx)
	slog.Info("voice commands enabled", "recognizer", rec.Name())
}

// startMQTT connects the emitter and control plane when a broker is
// configured. A connect timeout is not fatal: the client keeps retrying
// in the background and publishes resume on reconnect.
func (g *Glasses) startMQTT() {
	cfg := g.currentConfig()
	if cfg.MQTT.Broker == "" {
		slog.Info("no MQTT broker configured, running standalone")
		return
	}

	em := emitter.New(cfg.MQTT, cfg.DeviceID)
	if err := em.Connect(g.runCtx); err != nil {
		slog.Warn("MQTT broker unreachable, will keep retrying",
			"broker", cfg.MQTT.Broker, "error", err)
	}
	g.emitter = em

	handler := control.NewHandler(cfg.MQTT, em.Client, g.controlCallbacks())
	if err := handler.Start(g.runCtx); err != nil {
		slog.Warn("control plane unavailable", "error", err)
		return
	}
	g.controller = handler
}

func (g *Glasses) startDiscovery() {
	cfg := g.currentConfig()
	if !cfg.Discovery.Enabled {
		return
	}

	adv := discovery.NewAdvertiser()
	err := adv.Advertise(discovery.Info{
		DeviceID:   cfg.DeviceID,
		Firmware:   g.version,
		HealthPort: healthPort(cfg.Health.Port),
		Broker:     cfg.MQTT.Broker,
		Status:     "healthy",
	})
	if err != nil {
		slog.Warn("mDNS advertisement failed", "error", err)
		return
	}
	g.advertiser = adv
}

func healthPort(port string) int {
	n := 0
	for _, c := range port {
		if c < '0' || c > '9' {
			return discovery.DefaultHealthPort
		}
		n = n*10 + int(c-'0')
	}
	if n == 0 {
		return discovery.DefaultHealthPort
	}
	return n
}

// restartStream swaps the capture provider for one at a new resolution.
// The new stream starts before the old one stops so the capture loop
// re-acquires a live channel.
func (g *Glasses) restartStream(width, height int) error {
	g.streamMu.Lock()
	defer g.streamMu.Unlock()

	next, err := g.buildStream(width, height)
	if err != nil {
		return err
	}
	if err := next.Start(g.runCtx); err != nil {
		return fmt.Errorf("stream restart: %w", err)
	}

	old := g.currentStream()
	g.restartTicket.Store(true)
	g.mu.Lock()
	g.stream = next
	g.curWidth, g.curHeight = width, height
	g.mu.Unlock()
	if err := old.Stop(); err != nil {
		slog.Warn("old stream stop failed", "error", err)
	}

	return nil
}

func (g *Glasses) onWorkerDegraded(workerID string) {
	g.journalState("worker", "running", "degraded", workerID)
	if g.emitter != nil {
		u := types.Utterance{
			Text:     "perception degraded",
			Language: g.narrator.Language(),
			Priority: types.PriorityAlert,
			Severity: types.SeverityWarning,
			Created:  time.Now(),
		}
		if err := g.emitter.PublishAlert(u, nil); err != nil {
			slog.Debug("degraded alert publish failed", "error", err)
		}
	}
}

// say queues one utterance, journaling it on acceptance. endToEndMS is
// zero for on-demand responses with no origin frame.
func (g *Glasses) say(u types.Utterance, endToEndMS float64) {
	if g.speaker == nil {
		return
	}
	if err := g.speaker.Say(u); err != nil {
		slog.Debug("utterance dropped", "text", u.Text, "error", err)
		return
	}
	g.journal.Record(journal.Event{
		Timestamp: time.Now(),
		TraceID:   u.TraceID,
		DeviceID:  g.currentConfig().DeviceID,
		Stage:     journal.StageSpeech,
		Category:  journal.CategoryUtterance,
		Utterance: &journal.UtteranceEvent{
			Text:       u.Text,
			Language:   u.Language,
			Priority:   u.Priority,
			EndToEndMS: endToEndMS,
		},
	})
}

func (g *Glasses) journalState(entity, oldState, newState, reason string) {
	g.journal.Record(journal.Event{
		Timestamp: time.Now(),
		DeviceID:  g.currentConfig().DeviceID,
		Stage:     journal.StageSystem,
		Category:  journal.CategoryState,
		StateChange: &journal.StateChangeEvent{
			Entity:   entity,
			OldState: oldState,
			NewState: newState,
			Reason:   reason,
		},
	})
}

// Accessors below take the read lock so loops and command handlers see
// consistent state after hot reloads.

func (g *Glasses) currentConfig() *config.Config {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.cfg
}

func (g *Glasses) currentStream() stream.Provider {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.stream
}

func (g *Glasses) currentInterval() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	interval := g.processInterval
	if interval < 1 {
		interval = 1
	}
	if g.lowPower {
		interval *= 2
	}
	return interval
}

func (g *Glasses) currentRate() float64 {
	g.mu.RLock()
	defer g.mu.RUnlock()
	rate := g.inferenceRate
	if rate <= 0 {
		rate = g.cfg.Pipeline.MaxInferenceRateHz
	}
	if g.lowPower {
		rate /= 2
	}
	return rate
}

func (g *Glasses) setRate(rate float64, interval int) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.inferenceRate = rate
	g.processInterval = interval
}

func (g *Glasses) captureSize() (int, int) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.curWidth, g.curHeight
}

func (g *Glasses) scanModeOn() bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.scanMode
}

func (g *Glasses) isPausedNow() bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.isPaused
}

func (g *Glasses) isRunningNow() bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.isRunning
}

func (g *Glasses) lowPowerNow() bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.lowPower
}

func (g *Glasses) batteryState() (pct int, charging bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.batteryPct, g.charging
}

func (g *Glasses) storeReport(report types.SceneReport) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.lastReport = &report
}

func (g *Glasses) lastSceneReport() *types.SceneReport {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.lastReport
}
