// Package voice turns microphone audio into pipeline commands. The
// recognizer backend is external; the default build ships a stub and
// the device image enables Vosk with the vosk build tag.
package voice

// Recognizer transcribes one endpointed utterance.
type Recognizer interface {
	// Transcribe decodes mono float32 samples. lang is advisory; the
	// loaded model fixes the actual language.
	Transcribe(samples []float32, lang string) (string, error)
	// Name identifies the engine in logs.
	Name() string
	// Close releases model resources.
	Close()
}
