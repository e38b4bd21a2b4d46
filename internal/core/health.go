package core

import (
	"encoding/json"
	"log/slog"
	"time"

	"github.com/v12510/GlassesVisionSystem/internal/metrics"
)

// HealthCheck assembles the readiness snapshot served over HTTP and
// published to the health topic.
//
// Status grading: unhealthy means the pipeline is not running at all;
// degraded means it runs but a dependency is impaired (camera gone,
// detector silent, broker configured yet unreachable). Low power is a
// normal operating mode, not degradation.
func (g *Glasses) HealthCheck() metrics.HealthStatus {
	cfg := g.currentConfig()
	pct, _ := g.batteryState()
	mean, p95 := g.metrics.LatencyStats()
	streamOK := g.currentStream().Stats().IsConnected

	status := "healthy"
	switch {
	case !g.isRunningNow():
		status = "unhealthy"
	case !streamOK,
		g.watchdog != nil && len(g.watchdog.Degraded()) > 0,
		cfg.MQTT.Broker != "" && (g.emitter == nil || !g.emitter.IsConnected()):
		status = "degraded"
	}

	detectors := make(map[string]metrics.DetectorHealth, 1)
	if g.detector != nil {
		wm := g.detector.Metrics()
		var dropRate float64
		if total := wm.FramesProcessed + wm.FramesDropped; total > 0 {
			dropRate = float64(wm.FramesDropped) / float64(total)
		}
		detectors[g.detector.ID()] = metrics.DetectorHealth{
			FramesProcessed:   wm.FramesProcessed,
			FramesDropped:     wm.FramesDropped,
			InferencesEmitted: wm.InferencesEmitted,
			DropRate:          dropRate,
			AvgLatencyMS:      wm.AvgLatencyMS,
			LastSeenAt:        wm.LastSeenAt,
			Restarts:          uint64(wm.Restarts),
		}
	}

	return metrics.HealthStatus{
		Status:          status,
		UptimeSeconds:   int64(time.Since(g.started).Seconds()),
		StreamConnected: streamOK,
		MQTTConnected:   g.emitter != nil && g.emitter.IsConnected(),
		SpeechReady:     g.speaker != nil,
		ScanMode:        g.scanModeOn(),
		BatteryPercent:  pct,
		LowPower:        g.lowPowerNow(),
		LatencyMeanMS:   mean,
		LatencyP95MS:    p95,
		Detectors:       detectors,
	}
}

// healthLoop publishes the health snapshot to MQTT and keeps the mDNS
// TXT status current.
func (g *Glasses) healthLoop() {
	defer g.wg.Done()

	ticker := time.NewTicker(healthPublishInterval)
	defer ticker.Stop()

	lastAdvertised := "healthy"
	for {
		select {
		case <-g.runCtx.Done():
			return
		case <-ticker.C:
			snapshot := g.HealthCheck()

			if g.emitter != nil {
				payload, err := json.Marshal(snapshot)
				if err == nil {
					if err := g.emitter.PublishHealth(payload); err != nil {
						slog.Debug("health publish failed", "error", err)
					}
				}
			}

			if g.advertiser != nil && snapshot.Status != lastAdvertised {
				if err := g.advertiser.UpdateStatus(snapshot.Status); err != nil {
					slog.Debug("mDNS status update failed", "error", err)
				} else {
					lastAdvertised = snapshot.Status
				}
			}
		}
	}
}
