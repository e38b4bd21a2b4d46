//go:build vosk

package voice

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"os"
	"sync"

	vosk "github.com/alphacep/vosk-api/go"
)

// VoskRecognizer runs the on-device Vosk model. CGO-backed; enabled
// with the vosk build tag on device images.
type VoskRecognizer struct {
	mu         sync.Mutex
	model      *vosk.VoskModel
	recognizer *vosk.VoskRecognizer
}

// NewVosk loads the model directory and binds a recognizer at the
// capture sample rate.
func NewVosk(modelPath string, sampleRate int) (Recognizer, error) {
	if _, err := os.Stat(modelPath); err != nil {
		return nil, fmt.Errorf("vosk model not found at %s: %w", modelPath, err)
	}
	model, err := vosk.NewModel(modelPath)
	if err != nil {
		return nil, fmt.Errorf("loading vosk model: %w", err)
	}
	rec, err := vosk.NewRecognizer(model, float64(sampleRate))
	if err != nil {
		model.Free()
		return nil, fmt.Errorf("creating vosk recognizer: %w", err)
	}
	return &VoskRecognizer{model: model, recognizer: rec}, nil
}

func (v *VoskRecognizer) Name() string { return "vosk" }

// Transcribe converts float32 [-1, 1] samples to little-endian PCM16
// and runs one full decode.
func (v *VoskRecognizer) Transcribe(samples []float32, lang string) (string, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.recognizer == nil {
		return "", errors.New("recognizer closed")
	}

	pcm := make([]byte, len(samples)*2)
	for i, s := range samples {
		if s > 1 {
			s = 1
		} else if s < -1 {
			s = -1
		}
		binary.LittleEndian.PutUint16(pcm[i*2:], uint16(int16(s*math.MaxInt16)))
	}

	v.recognizer.AcceptWaveform(pcm)
	resultJSON := v.recognizer.FinalResult()
	v.recognizer.Reset()

	var result struct {
		Text string `json:"text"`
	}
	if err := json.Unmarshal([]byte(resultJSON), &result); err != nil {
		return "", fmt.Errorf("parsing vosk result: %w", err)
	}
	return result.Text, nil
}

func (v *VoskRecognizer) Close() {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.recognizer != nil {
		v.recognizer.Free()
		v.recognizer = nil
	}
	if v.model != nil {
		v.model.Free()
		v.model = nil
	}
}
