package core

import (
	"fmt"
	"log/slog"
	"reflect"
	"strings"

	"github.com/v12510/GlassesVisionSystem/internal/config"
	"github.com/v12510/GlassesVisionSystem/internal/stream"
	"github.com/v12510/GlassesVisionSystem/internal/tts"
)

// ReloadConfig re-reads the config file and applies the runtime-safe
// subset: narration language and verbosity, the voice profile, and the
// inference rate. Changes that need a component restart are reported
// and deferred to the next process start. Wired to SIGHUP.
func (g *Glasses) ReloadConfig() error {
	fresh, err := config.Load(g.cfgPath)
	if err != nil {
		return fmt.Errorf("config reload: %w", err)
	}
	cur := g.currentConfig()

	var applied []string

	if fresh.Narration.Language != cur.Narration.Language {
		if err := g.narrator.SetLanguage(fresh.Narration.Language); err != nil {
			return err
		}
		applied = append(applied, "narration.language")
	}
	if fresh.Narration.Verbosity != cur.Narration.Verbosity {
		// Under low power the narrator stays minimal; the new value
		// takes over on recovery via the swapped config.
		if !g.lowPowerNow() {
			if err := g.narrator.SetVerbosity(fresh.Narration.Verbosity); err != nil {
				return err
			}
		}
		applied = append(applied, "narration.verbosity")
	}

	if tts.ProfileFromConfig(fresh.TTS) != tts.ProfileFromConfig(cur.TTS) {
		if g.speaker != nil {
			g.speaker.UpdateProfile(tts.ProfileFromConfig(fresh.TTS))
		}
		applied = append(applied, "tts.profile")
	}

	if fresh.Pipeline.MaxInferenceRateHz != cur.Pipeline.MaxInferenceRateHz {
		rate := fresh.Pipeline.MaxInferenceRateHz
		g.setRate(rate, stream.CalculateProcessInterval(float64(fresh.Camera.FPS), rate))
		applied = append(applied, "pipeline.max_inference_rate_hz")
	}
	if fresh.Pipeline.DeadlineMS != cur.Pipeline.DeadlineMS {
		applied = append(applied, "pipeline.deadline_ms")
	}
	if fresh.Power != cur.Power {
		applied = append(applied, "power")
	}

	if restart := restartRequired(cur, fresh); len(restart) > 0 {
		slog.Warn("config changes need a restart to take effect",
			"sections", strings.Join(restart, ","))
	}

	g.mu.Lock()
	g.cfg = fresh
	g.mu.Unlock()

	slog.Info("config reloaded", "applied", applied)
	g.journalState("config", "", "reloaded", strings.Join(applied, ","))
	return nil
}

// restartRequired names the config sections whose changes cannot be
// applied to a running pipeline.
func restartRequired(cur, fresh *config.Config) []string {
	var sections []string
	if cur.Camera != fresh.Camera {
		sections = append(sections, "camera")
	}
	if !reflect.DeepEqual(cur.Detector, fresh.Detector) {
		sections = append(sections, "detector")
	}
	if cur.Preprocess != fresh.Preprocess {
		sections = append(sections, "preprocess")
	}
	if cur.Scene != fresh.Scene {
		sections = append(sections, "scene")
	}
	if cur.MQTT.Broker != fresh.MQTT.Broker {
		sections = append(sections, "mqtt")
	}
	if cur.Audio != fresh.Audio || cur.Voice != fresh.Voice {
		sections = append(sections, "voice")
	}
	if cur.Health != fresh.Health {
		sections = append(sections, "health")
	}
	if cur.Journal != fresh.Journal {
		sections = append(sections, "journal")
	}
	if cur.Discovery != fresh.Discovery {
		sections = append(sections, "discovery")
	}
	return sections
}

// applyConfigPatch applies a set_config command payload. Only the
// runtime-safe settings are accepted; anything else is an error so the
// operator learns the change did not happen.
func (g *Glasses) applyConfigPatch(patch map[string]interface{}) error {
	if len(patch) == 0 {
		return fmt.Errorf("empty config")
	}

	var applied []string

	if section, ok := patch["narration"].(map[string]interface{}); ok {
		if v, ok := section["language"].(string); ok {
			if err := g.narrator.SetLanguage(v); err != nil {
				return err
			}
			g.mutateConfig(func(c *config.Config) { c.Narration.Language = v })
			applied = append(applied, "narration.language")
		}
		if v, ok := section["verbosity"].(string); ok {
			if err := g.narrator.SetVerbosity(v); err != nil {
				return err
			}
			g.mutateConfig(func(c *config.Config) { c.Narration.Verbosity = v })
			applied = append(applied, "narration.verbosity")
		}
	}

	if section, ok := patch["pipeline"].(map[string]interface{}); ok {
		if v, ok := patchNumber(section["max_inference_rate_hz"]); ok {
			if v <= 0 {
				return fmt.Errorf("max_inference_rate_hz must be positive")
			}
			g.mutateConfig(func(c *config.Config) { c.Pipeline.MaxInferenceRateHz = v })
			g.setRate(v, stream.CalculateProcessInterval(float64(g.currentConfig().Camera.FPS), v))
			applied = append(applied, "pipeline.max_inference_rate_hz")
		}
		if v, ok := patchNumber(section["deadline_ms"]); ok {
			if v < 0 {
				return fmt.Errorf("deadline_ms must not be negative")
			}
			g.mutateConfig(func(c *config.Config) { c.Pipeline.DeadlineMS = int(v) })
			applied = append(applied, "pipeline.deadline_ms")
		}
	}

	if section, ok := patch["tts"].(map[string]interface{}); ok {
		ttsCfg := g.currentConfig().TTS
		changed := false
		if v, ok := patchNumber(section["speed"]); ok {
			if v < 0.5 || v > 2.0 {
				return fmt.Errorf("tts speed %v out of range 0.5-2.0", v)
			}
			ttsCfg.Speed = v
			changed = true
		}
		if v, ok := patchNumber(section["pitch"]); ok {
			if v < -1.0 || v > 1.0 {
				return fmt.Errorf("tts pitch %v out of range -1.0-1.0", v)
			}
			ttsCfg.Pitch = v
			changed = true
		}
		if v, ok := section["voice_id"].(string); ok && v != "" {
			ttsCfg.VoiceID = v
			changed = true
		}
		if v, ok := section["emotion"].(string); ok {
			ttsCfg.Emotion = v
			changed = true
		}
		if changed {
			g.mutateConfig(func(c *config.Config) { c.TTS = ttsCfg })
			if g.speaker != nil {
				g.speaker.UpdateProfile(tts.ProfileFromConfig(ttsCfg))
			}
			applied = append(applied, "tts.profile")
		}
	}

	if len(applied) == 0 {
		return fmt.Errorf("no applicable settings in config")
	}

	slog.Info("runtime config applied", "fields", applied)
	g.journalState("config", "", "patched", strings.Join(applied, ","))
	return nil
}

// mutateConfig swaps in a modified copy so concurrent readers never see
// a half-written config.
func (g *Glasses) mutateConfig(mutate func(*config.Config)) {
	g.mu.Lock()
	defer g.mu.Unlock()
	next := *g.cfg
	mutate(&next)
	g.cfg = &next
}

// patchNumber accepts the numeric types JSON and YAML decoding produce.
func patchNumber(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	default:
		return 0, false
	}
}
