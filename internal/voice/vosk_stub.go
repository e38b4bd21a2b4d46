//go:build !vosk

package voice

import "errors"

// NewVosk in the default build reports that speech recognition is
// unavailable. The console and MQTT remain the command paths.
func NewVosk(modelPath string, sampleRate int) (Recognizer, error) {
	return nil, errors.New("voice recognition built out: rebuild with -tags vosk")
}
