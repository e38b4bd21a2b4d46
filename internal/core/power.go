package core

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/v12510/GlassesVisionSystem/internal/types"
)

const powerSupplyRoot = "/sys/class/power_supply"

// lowPowerRecoveryMargin keeps the mode from flapping around the
// threshold: recovery needs threshold + margin, or a charger.
const lowPowerRecoveryMargin = 5

// batteryReader reads charge state from the kernel power supply class.
type batteryReader struct {
	root   string
	supply string
}

func (b batteryReader) read() (pct int, charging bool, err error) {
	data, err := os.ReadFile(filepath.Join(b.root, b.supply, "capacity"))
	if err != nil {
		return 0, false, err
	}
	pct, err = strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		return 0, false, fmt.Errorf("battery capacity: %w", err)
	}

	if data, err := os.ReadFile(filepath.Join(b.root, b.supply, "status")); err == nil {
		status := strings.TrimSpace(string(data))
		charging = status == "Charging" || status == "Full"
	}

	return pct, charging, nil
}

// powerLoop polls the battery and drives low-power transitions. On
// hardware without the configured supply entry the loop exits quietly;
// dev machines and CI have no glasses battery.
func (g *Glasses) powerLoop() {
	defer g.wg.Done()

	cfg := g.currentConfig()
	reader := batteryReader{root: g.powerRoot, supply: cfg.Power.Supply}
	if _, _, err := reader.read(); err != nil {
		slog.Info("battery monitoring disabled", "supply", cfg.Power.Supply, "error", err)
		return
	}

	g.pollBattery(reader)

	ticker := time.NewTicker(time.Duration(cfg.Power.PollIntervalS) * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-g.runCtx.Done():
			return
		case <-ticker.C:
			g.pollBattery(reader)
		}
	}
}

func (g *Glasses) pollBattery(reader batteryReader) {
	pct, charging, err := reader.read()
	if err != nil {
		slog.Warn("battery read failed", "error", err)
		return
	}

	g.mu.Lock()
	g.batteryPct = pct
	g.charging = charging
	low := g.lowPower
	g.mu.Unlock()
	g.metrics.BatteryPercent.Store(uint64(pct))

	threshold := g.currentConfig().Power.LowBatteryPct
	switch {
	case !low && pct <= threshold && !charging:
		g.enterLowPower(pct)
	case low && (charging || pct >= threshold+lowPowerRecoveryMargin):
		g.exitLowPower(pct)
	}
}

// enterLowPower halves the inference rate, drops narration to minimal
// and warns the wearer. Safety alerts keep their normal path.
func (g *Glasses) enterLowPower(pct int) {
	g.mu.Lock()
	g.lowPower = true
	g.mu.Unlock()
	g.metrics.LowPower.Store(1)

	if err := g.narrator.SetVerbosity("minimal"); err != nil {
		slog.Warn("verbosity change failed", "error", err)
	}

	alert := g.narrator.BatteryReport(pct, false)
	alert.Priority = types.PriorityAlert
	alert.Severity = types.SeverityWarning
	g.say(alert, 0)

	g.journalState("power", "ok", "low", fmt.Sprintf("battery %d%%", pct))
	slog.Warn("entering low power mode", "battery_percent", pct)
}

func (g *Glasses) exitLowPower(pct int) {
	g.mu.Lock()
	g.lowPower = false
	verbosity := g.cfg.Narration.Verbosity
	g.mu.Unlock()
	g.metrics.LowPower.Store(0)

	if err := g.narrator.SetVerbosity(verbosity); err != nil {
		slog.Warn("verbosity restore failed", "error", err)
	}

	g.journalState("power", "low", "ok", fmt.Sprintf("battery %d%%", pct))
	slog.Info("leaving low power mode", "battery_percent", pct)
}
