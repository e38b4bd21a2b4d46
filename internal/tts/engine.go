// Package tts synthesizes utterances into PCM audio and plays them in
// priority order. The synthesis backends are external: a REST voice
// service when configured, a parametric beeper as the always-available
// fallback so alerts stay audible with no network.
package tts

import (
	"context"
	"fmt"

	"github.com/v12510/GlassesVisionSystem/internal/config"
)

// VoiceProfile selects how synthesized speech sounds.
type VoiceProfile struct {
	VoiceID string
	// Speed is the speaking-rate multiplier, 0.5 - 2.0
	Speed float64
	// Pitch shifts the voice, -1.0 - 1.0
	Pitch   float64
	Emotion string
}

// ProfileFromConfig builds the active profile from validated config.
func ProfileFromConfig(cfg config.TTSConfig) VoiceProfile {
	return VoiceProfile{
		VoiceID: cfg.VoiceID,
		Speed:   cfg.Speed,
		Pitch:   cfg.Pitch,
		Emotion: cfg.Emotion,
	}
}

// fingerprint is the profile's contribution to cache keys. Two decimals
// match the resolution anyone actually configures.
func (p VoiceProfile) fingerprint() string {
	return fmt.Sprintf("%s|%.2f|%.2f|%s", p.VoiceID, p.Speed, p.Pitch, p.Emotion)
}

// Engine turns text into playable samples.
type Engine interface {
	// Synthesize returns mono float32 PCM and its sample rate.
	Synthesize(ctx context.Context, text string, profile VoiceProfile) ([]float32, int, error)
	// Name identifies the engine in logs.
	Name() string
}
