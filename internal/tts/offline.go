package tts

import (
	"context"
	"errors"
	"math"
	"unicode"
)

const (
	offlineSampleRate = 24000
	beepBaseFreqHz    = 660.0
	beepAmplitude     = 0.4
)

// OfflineEngine renders text as a tone sequence, one beep per word or
// CJK character, paced by the voice profile. It is not speech: it
// guarantees an audible, correctly paced alert when no synthesis
// backend is reachable.
type OfflineEngine struct {
	sampleRate int
}

func NewOfflineEngine(sampleRate int) *OfflineEngine {
	if sampleRate <= 0 {
		sampleRate = offlineSampleRate
	}
	return &OfflineEngine{sampleRate: sampleRate}
}

func (e *OfflineEngine) Name() string { return "offline" }

func (e *OfflineEngine) Synthesize(_ context.Context, text string, profile VoiceProfile) ([]float32, int, error) {
	units := cadence(text)
	if len(units) == 0 {
		return nil, 0, errors.New("nothing to render")
	}

	speed := profile.Speed
	if speed < 0.5 || speed > 2.0 {
		speed = 1.0
	}
	// Pitch shifts the tone up to half an octave either way.
	freq := beepBaseFreqHz * math.Pow(2, profile.Pitch*0.5)

	gap := make([]float32, int(float64(e.sampleRate)*0.06/speed))
	var out []float32
	for i, weight := range units {
		if i > 0 {
			out = append(out, gap...)
		}
		durS := (0.09 + 0.022*float64(weight)) / speed
		if durS > 0.28 {
			durS = 0.28
		}
		out = append(out, e.tone(freq, durS)...)
	}
	return out, e.sampleRate, nil
}

// cadence splits text into beep units: whitespace-separated words plus
// one unit per CJK rune. Each unit carries a length weight that sets
// its beep duration, so longer words sound longer.
func cadence(text string) []int {
	var units []int
	wordLen := 0
	flush := func() {
		if wordLen > 0 {
			units = append(units, wordLen)
			wordLen = 0
		}
	}
	for _, r := range text {
		switch {
		case unicode.IsSpace(r):
			flush()
		case unicode.Is(unicode.Han, r):
			flush()
			units = append(units, 2)
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			wordLen++
		default:
			// Punctuation ends the current unit.
			flush()
		}
	}
	flush()
	return units
}

// tone renders a sine beep with a 5 ms linear attack and release so
// playback has no clicks.
func (e *OfflineEngine) tone(freq, durS float64) []float32 {
	n := int(float64(e.sampleRate) * durS)
	ramp := e.sampleRate / 200
	if ramp*2 > n {
		ramp = n / 2
	}
	out := make([]float32, n)
	for i := range out {
		v := beepAmplitude * math.Sin(2*math.Pi*freq*float64(i)/float64(e.sampleRate))
		switch {
		case i < ramp:
			v *= float64(i) / float64(ramp)
		case i >= n-ramp:
			v *= float64(n-1-i) / float64(ramp)
		}
		out[i] = float32(v)
	}
	return out
}
