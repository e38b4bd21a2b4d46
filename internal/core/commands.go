package core

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/v12510/GlassesVisionSystem/internal/control"
	"github.com/v12510/GlassesVisionSystem/internal/types"
	"github.com/v12510/GlassesVisionSystem/internal/voice"
)

// controlCallbacks exposes the command surface to the MQTT control
// plane. The same methods back voice intents and the dev console, so
// every entry point shares one behavior.
func (g *Glasses) controlCallbacks() control.Callbacks {
	return control.Callbacks{
		OnStatus:        g.statusMap,
		OnStart:         g.resumePipeline,
		OnStop:          g.pausePipeline,
		OnScanMode:      g.setScanMode,
		OnLanguage:      g.setLanguage,
		OnBatteryReport: g.speakBattery,
		OnWhatsAhead:    g.describeAhead,
		OnSetConfig:     g.applyConfigPatch,
		OnShutdown:      g.shutdownViaControl,
	}
}

// handleIntent routes a recognized voice command.
func (g *Glasses) handleIntent(intent voice.Intent) {
	var err error
	switch intent {
	case voice.IntentScanMode:
		err = g.setScanMode(!g.scanModeOn())
	case voice.IntentWhatsAhead:
		err = g.describeAhead()
	case voice.IntentSwitchLanguage:
		g.cycleLanguage()
	case voice.IntentBatteryReport:
		err = g.speakBattery()
	case voice.IntentStart:
		err = g.resumePipeline()
	case voice.IntentStop:
		err = g.pausePipeline()
	default:
		slog.Debug("unhandled voice intent", "intent", intent)
		return
	}
	if err != nil {
		slog.Warn("voice command failed", "intent", intent, "error", err)
	}
}

// statusMap assembles the status command response.
func (g *Glasses) statusMap() map[string]interface{} {
	cfg := g.currentConfig()
	streamStats := g.currentStream().Stats()
	workerStats := g.detector.Metrics()
	mean, p95 := g.metrics.LatencyStats()
	pct, charging := g.batteryState()

	speech := map[string]interface{}{}
	if g.speaker != nil {
		st := g.speaker.Stats()
		speech["queue_depth"] = st.Depth
		speech["played"] = st.Played
		speech["dropped"] = st.Dropped
		speech["synth_failures"] = st.SynthFailures
	}

	return map[string]interface{}{
		"device_id":       cfg.DeviceID,
		"version":         g.version,
		"uptime_s":        int(time.Since(g.started).Seconds()),
		"running":         !g.isPausedNow(),
		"scan_mode":       g.scanModeOn(),
		"language":        g.narrator.Language(),
		"low_power":       g.lowPowerNow(),
		"battery_percent": pct,
		"charging":        charging,
		"stream": map[string]interface{}{
			"connected":  streamStats.IsConnected,
			"fps":        streamStats.FPSReal,
			"resolution": streamStats.Resolution,
			"frames":     streamStats.FrameCount,
			"reconnects": streamStats.Reconnects,
		},
		"detector": map[string]interface{}{
			"id":               g.detector.ID(),
			"mode":             cfg.Detector.Mode,
			"frames_processed": workerStats.FramesProcessed,
			"inferences":       workerStats.InferencesEmitted,
			"avg_latency_ms":   workerStats.AvgLatencyMS,
			"restarts":         workerStats.Restarts,
		},
		"speech": speech,
		"latency": map[string]interface{}{
			"mean_ms": mean,
			"p95_ms":  p95,
		},
	}
}

// resumePipeline restarts frame processing after a stop command.
func (g *Glasses) resumePipeline() error {
	g.mu.Lock()
	if !g.isPaused {
		g.mu.Unlock()
		return fmt.Errorf("pipeline already running")
	}
	g.isPaused = false
	g.mu.Unlock()

	g.journalState("pipeline", "paused", "running", "command")
	slog.Info("pipeline resumed")
	return nil
}

// pausePipeline stops frame processing. Already-queued speech still
// plays; new frames are discarded at the bus.
func (g *Glasses) pausePipeline() error {
	g.mu.Lock()
	if g.isPaused {
		g.mu.Unlock()
		return fmt.Errorf("pipeline already paused")
	}
	g.isPaused = true
	g.mu.Unlock()

	g.journalState("pipeline", "running", "paused", "command")
	slog.Info("pipeline paused")
	return nil
}

// setScanMode switches between continuous narration and alerts-only.
// Turning scan mode on resets narration state so the wearer gets a
// fresh picture instead of stale dedup suppression.
func (g *Glasses) setScanMode(enabled bool) error {
	g.mu.Lock()
	prev := g.scanMode
	g.scanMode = enabled
	g.mu.Unlock()

	if enabled {
		g.metrics.ScanMode.Store(1)
	} else {
		g.metrics.ScanMode.Store(0)
	}
	if enabled && !prev {
		g.narrator.Reset()
		g.analyzer.Reset()
	}
	if prev != enabled {
		g.journalState("scan_mode", onOff(prev), onOff(enabled), "command")
	}

	g.say(g.narrator.ConfirmScanMode(enabled), 0)
	slog.Info("scan mode set", "enabled", enabled)
	return nil
}

func (g *Glasses) setLanguage(code string) error {
	if err := g.narrator.SetLanguage(code); err != nil {
		return err
	}
	g.say(g.narrator.ConfirmLanguage(), 0)
	g.journalState("language", "", code, "command")
	slog.Info("narration language set", "language", code)
	return nil
}

func (g *Glasses) cycleLanguage() {
	lang := g.narrator.CycleLanguage()
	g.say(g.narrator.ConfirmLanguage(), 0)
	g.journalState("language", "", lang, "voice")
	slog.Info("narration language switched", "language", lang)
}

func (g *Glasses) speakBattery() error {
	pct, charging := g.batteryState()
	g.say(g.narrator.BatteryReport(pct, charging), 0)
	return nil
}

// describeAhead answers the "what's ahead" query from the latest scene
// report. Before the first inference it describes an empty scene.
func (g *Glasses) describeAhead() error {
	report := g.lastSceneReport()
	if report == nil {
		empty := types.NewSceneReport(g.currentConfig().DeviceID, 0, "")
		report = &empty
	}
	g.say(g.narrator.Describe(report), 0)
	return nil
}

// shutdownViaControl cancels the run context; Run unblocks and the
// process entry point drives the actual Shutdown.
func (g *Glasses) shutdownViaControl() error {
	slog.Info("shutdown requested via control plane")
	g.mu.RLock()
	cancel := g.cancelCtx
	g.mu.RUnlock()
	if cancel == nil {
		return fmt.Errorf("pipeline not running")
	}
	cancel()
	return nil
}

func onOff(v bool) string {
	if v {
		return "on"
	}
	return "off"
}
