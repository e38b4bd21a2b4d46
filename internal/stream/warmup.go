package stream

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/v12510/GlassesVisionSystem/internal/types"
)

// WarmupStats contains statistics from the stream warm-up phase
type WarmupStats struct {
	FramesReceived int
	Duration       time.Duration
	FPSMean        float64
	FPSStdDev      float64
	FPSMin         float64
	FPSMax         float64
	IsStable       bool
}

// Warmup consumes frames for the given duration and measures FPS
// stability. Nothing downstream runs during warm-up: the point is to
// learn the real capture rate before committing to an inference rate.
func Warmup(ctx context.Context, frames <-chan types.Frame, duration time.Duration) (*WarmupStats, error) {
	slog.Info("warming up stream",
		"duration", duration,
		"reason", "measure real FPS and stabilize pipeline",
	)

	startTime := time.Now()

	frameTimes := make([]time.Time, 0, 100)
	var lastFrameTime time.Time

	warmupCtx, cancel := context.WithTimeout(ctx, duration)
	defer cancel()

loop:
	for {
		select {
		case <-warmupCtx.Done():
			break loop

		case frame, ok := <-frames:
			if !ok {
				return nil, fmt.Errorf("stream closed during warm-up")
			}

			frameTimes = append(frameTimes, frame.Timestamp)

			if !lastFrameTime.IsZero() {
				interval := frame.Timestamp.Sub(lastFrameTime)
				slog.Debug("warm-up frame received",
					"seq", frame.Seq,
					"interval_ms", interval.Milliseconds(),
				)
			}

			lastFrameTime = frame.Timestamp
		}
	}

	elapsed := time.Since(startTime)

	if len(frameTimes) < 2 {
		return nil, fmt.Errorf("not enough frames during warm-up (got %d)", len(frameTimes))
	}

	stats := calculateFPSStats(frameTimes, elapsed)

	slog.Info("stream warm-up complete",
		"frames", stats.FramesReceived,
		"duration", stats.Duration,
		"fps_mean", fmt.Sprintf("%.2f", stats.FPSMean),
		"fps_stddev", fmt.Sprintf("%.2f", stats.FPSStdDev),
		"fps_range", fmt.Sprintf("%.1f-%.1f", stats.FPSMin, stats.FPSMax),
		"stable", stats.IsStable,
	)

	if !stats.IsStable {
		slog.Warn("stream FPS is unstable, may affect inference timing",
			"fps_stddev", stats.FPSStdDev,
		)
	}

	return stats, nil
}

// calculateFPSStats calculates FPS statistics from frame timestamps
func calculateFPSStats(frameTimes []time.Time, totalDuration time.Duration) *WarmupStats {
	n := len(frameTimes)

	fpsMean := float64(n) / totalDuration.Seconds()

	instantaneousFPS := make([]float64, 0, n-1)
	for i := 1; i < n; i++ {
		interval := frameTimes[i].Sub(frameTimes[i-1]).Seconds()
		if interval > 0 {
			instantaneousFPS = append(instantaneousFPS, 1.0/interval)
		}
	}

	if len(instantaneousFPS) == 0 {
		return &WarmupStats{
			FramesReceived: n,
			Duration:       totalDuration,
			FPSMean:        fpsMean,
			IsStable:       false,
		}
	}

	fpsMin := instantaneousFPS[0]
	fpsMax := instantaneousFPS[0]
	for _, fps := range instantaneousFPS {
		if fps < fpsMin {
			fpsMin = fps
		}
		if fps > fpsMax {
			fpsMax = fps
		}
	}

	var sumSquares float64
	for _, fps := range instantaneousFPS {
		diff := fps - fpsMean
		sumSquares += diff * diff
	}
	fpsStdDev := math.Sqrt(sumSquares / float64(len(instantaneousFPS)))

	// Stable if stddev < 15% of mean FPS
	isStable := fpsStdDev < (fpsMean * 0.15)

	return &WarmupStats{
		FramesReceived: n,
		Duration:       totalDuration,
		FPSMean:        fpsMean,
		FPSStdDev:      fpsStdDev,
		FPSMin:         fpsMin,
		FPSMax:         fpsMax,
		IsStable:       isStable,
	}
}

// CalculateOptimalInferenceRate derives the inference rate from warm-up
// stats. Never exceeds maxRate; backs off to 90% of the stream rate when
// the stream itself is the bottleneck.
func CalculateOptimalInferenceRate(warmupStats *WarmupStats, maxRate float64) float64 {
	if warmupStats == nil {
		return maxRate
	}

	optimalRate := maxRate

	if warmupStats.FPSMean < maxRate {
		optimalRate = warmupStats.FPSMean * 0.9
		slog.Info("reducing inference rate due to low stream FPS",
			"stream_fps", warmupStats.FPSMean,
			"max_rate", maxRate,
			"optimal_rate", optimalRate,
		)
	}

	return optimalRate
}

// CalculateProcessInterval converts stream FPS and inference rate into a
// frame stride: process every Nth frame.
func CalculateProcessInterval(streamFPS float64, inferenceRateHz float64) int {
	if streamFPS <= 0 || inferenceRateHz <= 0 {
		return 10 // Safe default
	}

	interval := int(math.Ceil(streamFPS / inferenceRateHz))

	if interval < 1 {
		interval = 1
	}

	slog.Debug("calculated process interval",
		"stream_fps", streamFPS,
		"inference_rate_hz", inferenceRateHz,
		"process_interval", interval,
	)

	return interval
}
