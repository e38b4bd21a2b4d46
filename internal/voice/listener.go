package voice

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// SegmentSource provides endpointed microphone utterances. The audio
// capture implements it; its channel closes on restart and consumers
// re-acquire.
type SegmentSource interface {
	Segments() <-chan []float32
}

// Listener runs the capture -> transcribe -> intent -> command loop.
type Listener struct {
	source   SegmentSource
	rec      Recognizer
	language func() string
	handle   func(Intent)

	cancel context.CancelFunc
	wg     sync.WaitGroup

	heard   atomic.Uint64
	matched atomic.Uint64
}

// NewListener wires the loop. language reports the active narration
// language; handle receives matched intents on the listener goroutine.
func NewListener(source SegmentSource, rec Recognizer, language func() string, handle func(Intent)) *Listener {
	return &Listener{
		source:   source,
		rec:      rec,
		language: language,
		handle:   handle,
	}
}

func (l *Listener) Start(ctx context.Context) {
	runCtx, cancel := context.WithCancel(ctx)
	l.cancel = cancel
	l.wg.Add(1)
	go l.run(runCtx)
	slog.Info("Voice listener started", "recognizer", l.rec.Name())
}

func (l *Listener) Stop() {
	if l.cancel != nil {
		l.cancel()
	}
	l.wg.Wait()
}

// Stats returns transcribed and matched utterance counts.
func (l *Listener) Stats() (heard, matched uint64) {
	return l.heard.Load(), l.matched.Load()
}

func (l *Listener) run(ctx context.Context) {
	defer l.wg.Done()

	segments := l.source.Segments()
	for {
		select {
		case <-ctx.Done():
			return
		case seg, ok := <-segments:
			if !ok {
				// Capture restarted; pick up its new channel.
				time.Sleep(100 * time.Millisecond)
				segments = l.source.Segments()
				continue
			}
			l.process(seg)
		}
	}
}

func (l *Listener) process(samples []float32) {
	text, err := l.rec.Transcribe(samples, l.language())
	if err != nil {
		slog.Warn("Transcription failed", "error", err, "samples", len(samples))
		return
	}
	if strings.TrimSpace(text) == "" {
		return
	}
	l.heard.Add(1)

	intent, ok := Parse(text)
	if !ok {
		slog.Debug("Voice input did not match a command", "text", text)
		return
	}
	l.matched.Add(1)
	slog.Info("Voice command", "intent", intent, "text", text)
	l.handle(intent)
}
