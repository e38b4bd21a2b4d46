package core

import (
	"fmt"
	"time"

	"github.com/v12510/GlassesVisionSystem/internal/types"
	"github.com/v12510/GlassesVisionSystem/internal/voice"
)

// Exported command surface for the dev console. These are wrappers over
// the same handlers the control plane and voice intents go through.

// Status returns the status command payload.
func (g *Glasses) Status() map[string]interface{} { return g.statusMap() }

// Pause suspends frame processing.
func (g *Glasses) Pause() error { return g.pausePipeline() }

// Resume restarts frame processing after a pause.
func (g *Glasses) Resume() error { return g.resumePipeline() }

// SetScanMode switches continuous narration on or off.
func (g *Glasses) SetScanMode(enabled bool) error { return g.setScanMode(enabled) }

// ScanMode reports whether continuous narration is active.
func (g *Glasses) ScanMode() bool { return g.scanModeOn() }

// SetLanguage switches the narration language.
func (g *Glasses) SetLanguage(code string) error { return g.setLanguage(code) }

// CycleLanguage advances to the next narration language and returns the
// new code.
func (g *Glasses) CycleLanguage() string {
	g.cycleLanguage()
	return g.narrator.Language()
}

// Language returns the active narration language.
func (g *Glasses) Language() string { return g.narrator.Language() }

// SpeakBattery announces the battery level.
func (g *Glasses) SpeakBattery() error { return g.speakBattery() }

// DescribeAhead speaks a full description of the current view.
func (g *Glasses) DescribeAhead() error { return g.describeAhead() }

// Speak queues arbitrary text on the speech pipeline.
func (g *Glasses) Speak(text string) error {
	if g.speaker == nil {
		return fmt.Errorf("speech pipeline not running")
	}
	return g.speaker.Say(types.Utterance{
		Text:     text,
		Language: g.narrator.Language(),
		Priority: types.PrioritySummary,
		Severity: types.SeverityInfo,
		Created:  time.Now(),
	})
}

// VoiceCommand feeds a transcript through intent matching as if it had
// come from the microphone.
func (g *Glasses) VoiceCommand(text string) (voice.Intent, bool) {
	intent, ok := voice.Parse(text)
	if !ok {
		return "", false
	}
	g.handleIntent(intent)
	return intent, true
}
