package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"math"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/v12510/GlassesVisionSystem/internal/audio"
	"github.com/v12510/GlassesVisionSystem/internal/config"
	"github.com/v12510/GlassesVisionSystem/internal/stream"
	"github.com/v12510/GlassesVisionSystem/internal/tts"
	"github.com/v12510/GlassesVisionSystem/internal/types"
)

const version = "v1.0.0"

// CalibrationReport is written to disk so glassesd and support staff
// can consult the last measured hardware state.
type CalibrationReport struct {
	CalibratedAt string `yaml:"calibrated_at"`
	Camera       struct {
		Device string `yaml:"device,omitempty"`
		Width  int    `yaml:"width"`
		Height int    `yaml:"height"`
		FPS    int    `yaml:"fps"`
		Format string `yaml:"format,omitempty"`
		Depth  bool   `yaml:"depth"`
	} `yaml:"camera"`
	Measured struct {
		FPSMean   float64 `yaml:"fps_mean"`
		FPSStdDev float64 `yaml:"fps_stddev"`
		Stable    bool    `yaml:"stable"`
	} `yaml:"measured"`
	Recommended struct {
		InferenceRateHz float64 `yaml:"inference_rate_hz"`
		ProcessInterval int     `yaml:"process_interval"`
	} `yaml:"recommended"`
	Audio struct {
		OutputOK bool    `yaml:"output_ok"`
		MicOK    bool    `yaml:"mic_ok"`
		MicPeak  float64 `yaml:"mic_peak,omitempty"`
	} `yaml:"audio"`
	BatteryPercent int    `yaml:"battery_percent,omitempty"`
	BatteryStatus  string `yaml:"battery_status,omitempty"`
}

func main() {
	configPath := flag.String("config", "config/glasses.yaml", "Path to configuration file")
	outPath := flag.String("out", "config/calibration.yaml", "Calibration report output path")
	probeOnly := flag.Bool("probe-only", false, "Run all checks but do not write the calibration file")
	warmupS := flag.Float64("duration", 5.0, "Warmup duration in seconds")
	mock := flag.Bool("mock", false, "Calibrate against the synthetic stream")
	skipAudio := flag.Bool("skip-audio", false, "Skip speaker and microphone checks")
	debug := flag.Bool("debug", false, "Enable debug logging")
	showVersion := flag.Bool("version", false, "Show version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Printf("glasses-calibrate %s\n", version)
		os.Exit(0)
	}

	logLevel := slog.LevelInfo
	if *debug {
		logLevel = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel,
	})))

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	fmt.Printf("\n")
	fmt.Printf("═══════════════════════════════════════════════════════════\n")
	fmt.Printf("          Glasses Hardware Calibration %s\n", version)
	fmt.Printf("═══════════════════════════════════════════════════════════\n")
	fmt.Printf("  Config:   %s\n", *configPath)
	fmt.Printf("  Camera:   %s (%s @ %d fps)\n", cfg.Camera.Source, cfg.Camera.Resolution, cfg.Camera.FPS)
	fmt.Printf("\n")

	report := &CalibrationReport{CalibratedAt: time.Now().Format(time.RFC3339)}

	width, height, err := config.ParseResolution(cfg.Camera.Resolution)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	fps := cfg.Camera.FPS
	useMock := *mock || cfg.Camera.Source == "mock"

	// Step 1: camera probe. Detect the native caps and reconcile the
	// configured capture settings against them.
	if !useMock {
		fmt.Printf("[1/5] Probing camera %s...\n", cfg.Camera.Device)
		if err := stream.WaitForDevice(cfg.Camera.Device, 5, time.Second); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		meta, err := stream.ProbeCamera(cfg.Camera.Device, 10*time.Second)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("      Native caps: %dx%d @ %d fps (%s)\n", meta.Width, meta.Height, meta.FPS, meta.Format)

		adjW, adjH, adjFPS, warnings := stream.AdjustConfigFromMetadata(meta, width, height, fps)
		for _, w := range warnings {
			fmt.Printf("      WARNING: %s\n", w)
		}
		width, height, fps = adjW, adjH, adjFPS
		report.Camera.Device = cfg.Camera.Device
		report.Camera.Format = meta.Format
	} else {
		fmt.Printf("[1/5] Probe skipped (synthetic stream)\n")
	}
	report.Camera.Width = width
	report.Camera.Height = height
	report.Camera.FPS = fps

	// Step 2: warmup. Measure the real frame rate and derive the
	// inference budget from it.
	fmt.Printf("[2/5] Measuring stream stability (%.1fs warmup)...\n", *warmupS)
	var src stream.Provider
	if useMock {
		m := stream.NewMockStream(width, height, fps, "calibrate")
		m.EmitDepth = cfg.Camera.Depth
		src = m
	} else {
		cam, err := stream.NewCameraStream(stream.CameraConfig{
			Device:       cfg.Camera.Device,
			Width:        width,
			Height:       height,
			FPS:          fps,
			SourceStream: "calibrate",
		})
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		src = cam
	}
	if err := src.Start(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	stats, err := stream.Warmup(ctx, src.Frames(), time.Duration(*warmupS*float64(time.Second)))
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: warmup failed: %v\n", err)
		src.Stop()
		os.Exit(1)
	}

	rate := stream.CalculateOptimalInferenceRate(stats, cfg.Pipeline.MaxInferenceRateHz)
	interval := stream.CalculateProcessInterval(stats.FPSMean, rate)

	fmt.Printf("\n")
	fmt.Printf("╭─────────────────────────────────────────────╮\n")
	fmt.Printf("│ Warmup Complete\n")
	fmt.Printf("├─────────────────────────────────────────────┤\n")
	fmt.Printf("│ Frames Received:    %6d frames\n", stats.FramesReceived)
	fmt.Printf("│ Duration:           %6.1f seconds\n", stats.Duration.Seconds())
	fmt.Printf("│ FPS Mean:           %6.2f fps\n", stats.FPSMean)
	fmt.Printf("│ FPS StdDev:         %6.2f fps\n", stats.FPSStdDev)
	fmt.Printf("│ FPS Range:          %6.1f - %.1f fps\n", stats.FPSMin, stats.FPSMax)
	fmt.Printf("│ Stable:             %6v\n", stats.IsStable)
	fmt.Printf("├─────────────────────────────────────────────┤\n")
	fmt.Printf("│ Inference Rate:     %6.2f Hz\n", rate)
	fmt.Printf("│ Process Interval:   every %d frames\n", interval)
	fmt.Printf("╰─────────────────────────────────────────────╯\n")
	fmt.Printf("\n")
	if !stats.IsStable {
		fmt.Printf("WARNING: stream is unstable (high FPS variance)\n\n")
	}
	report.Measured.FPSMean = stats.FPSMean
	report.Measured.FPSStdDev = stats.FPSStdDev
	report.Measured.Stable = stats.IsStable
	report.Recommended.InferenceRateHz = rate
	report.Recommended.ProcessInterval = interval

	// Step 3: depth presence. The obstacle distance grading needs the
	// depth plane; warn when the config promises one the stream lacks.
	fmt.Printf("[3/5] Checking depth plane...\n")
	report.Camera.Depth = checkDepth(ctx, src.Frames())
	if report.Camera.Depth {
		fmt.Printf("      Depth plane present\n")
	} else if cfg.Camera.Depth {
		fmt.Printf("      WARNING: config expects depth but the stream has none\n")
	} else {
		fmt.Printf("      No depth plane (distance grading falls back to image position)\n")
	}
	src.Stop()

	// Step 4: audio path. Beep through the speaker, then check the
	// microphone picks up speech.
	if *skipAudio {
		fmt.Printf("[4/5] Audio checks skipped\n")
	} else {
		fmt.Printf("[4/5] Testing audio output...\n")
		report.Audio.OutputOK = beepTest(ctx, cfg)
		fmt.Printf("      Testing microphone: say a few words...\n")
		report.Audio.MicOK, report.Audio.MicPeak = micTest(ctx, cfg)
		if report.Audio.MicOK {
			fmt.Printf("      Microphone OK (peak %.2f)\n", report.Audio.MicPeak)
		} else {
			fmt.Printf("      WARNING: no speech detected\n")
		}
	}

	// Step 5: battery readout.
	fmt.Printf("[5/5] Reading battery...\n")
	if pct, status, err := readBattery(cfg.Power.Supply); err == nil {
		fmt.Printf("      Battery: %d%% (%s)\n", pct, status)
		report.BatteryPercent = pct
		report.BatteryStatus = status
	} else {
		fmt.Printf("      No battery supply %q (bench machine?)\n", cfg.Power.Supply)
	}

	if *probeOnly {
		fmt.Printf("\nProbe complete, no calibration file written (-probe-only)\n")
		return
	}

	if err := writeReport(*outPath, report); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("\nCalibration written to %s\n", *outPath)
}

// checkDepth drains a few frames and reports whether any carries the
// depth plane.
func checkDepth(ctx context.Context, frames <-chan types.Frame) bool {
	deadline := time.After(2 * time.Second)
	for i := 0; i < 10; i++ {
		select {
		case <-ctx.Done():
			return false
		case <-deadline:
			return false
		case f, ok := <-frames:
			if !ok {
				return false
			}
			if f.HasDepth() {
				return true
			}
		}
	}
	return false
}

// beepTest plays a short synthesized phrase through the configured
// output device.
func beepTest(ctx context.Context, cfg *config.Config) bool {
	out, err := audio.NewOutput(cfg.TTS.OutputDevice)
	if err != nil {
		fmt.Printf("      WARNING: audio output unavailable: %v\n", err)
		return false
	}
	defer out.Close()

	engine := tts.NewOfflineEngine(cfg.TTS.SampleRate)
	pcm, sr, err := engine.Synthesize(ctx, "calibration check", tts.ProfileFromConfig(cfg.TTS))
	if err != nil {
		fmt.Printf("      WARNING: synthesis failed: %v\n", err)
		return false
	}
	if err := out.Play(ctx, pcm, sr); err != nil {
		fmt.Printf("      WARNING: playback failed: %v\n", err)
		return false
	}
	fmt.Printf("      Output OK\n")
	return true
}

// micTest waits for one speech segment and measures its level.
func micTest(ctx context.Context, cfg *config.Config) (ok bool, peak float64) {
	capture, err := audio.NewCapture(cfg.Audio)
	if err != nil {
		fmt.Printf("      WARNING: microphone unavailable: %v\n", err)
		return false, 0
	}
	defer capture.Close()

	if err := capture.Start(); err != nil {
		fmt.Printf("      WARNING: capture start failed: %v\n", err)
		return false, 0
	}
	defer capture.Stop()

	select {
	case <-ctx.Done():
		return false, 0
	case <-time.After(8 * time.Second):
		return false, 0
	case segment, open := <-capture.Segments():
		if !open || len(segment) == 0 {
			return false, 0
		}
		for _, s := range segment {
			if a := math.Abs(float64(s)); a > peak {
				peak = a
			}
		}
		return peak > 0.01, peak
	}
}

func readBattery(supply string) (int, string, error) {
	base := filepath.Join("/sys/class/power_supply", supply)
	data, err := os.ReadFile(filepath.Join(base, "capacity"))
	if err != nil {
		return 0, "", err
	}
	pct, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		return 0, "", err
	}
	status := "Unknown"
	if data, err := os.ReadFile(filepath.Join(base, "status")); err == nil {
		status = strings.TrimSpace(string(data))
	}
	return pct, status, nil
}

func writeReport(path string, report *CalibrationReport) error {
	data, err := yaml.Marshal(report)
	if err != nil {
		return fmt.Errorf("encode calibration: %w", err)
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create output dir: %w", err)
		}
	}
	return os.WriteFile(path, data, 0o644)
}
