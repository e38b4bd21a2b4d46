package voice

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

type fakeSource struct {
	mu sync.Mutex
	ch chan []float32
}

func newFakeSource() *fakeSource {
	return &fakeSource{ch: make(chan []float32, 8)}
}

func (f *fakeSource) Segments() <-chan []float32 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.ch
}

func (f *fakeSource) send(seg []float32) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ch <- seg
}

// restart closes the current channel and hands out a fresh one, the way
// the audio capture behaves across Stop/Start.
func (f *fakeSource) restart() {
	f.mu.Lock()
	defer f.mu.Unlock()
	close(f.ch)
	f.ch = make(chan []float32, 8)
}

type scripted struct {
	text string
	err  error
}

type fakeRecognizer struct {
	mu      sync.Mutex
	script  []scripted
	nextIdx int
}

func (f *fakeRecognizer) Transcribe(samples []float32, lang string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.nextIdx >= len(f.script) {
		return "", nil
	}
	s := f.script[f.nextIdx]
	f.nextIdx++
	return s.text, s.err
}

func (f *fakeRecognizer) Name() string { return "scripted" }
func (f *fakeRecognizer) Close()       {}

func collectIntents(t *testing.T, ch <-chan Intent, n int) []Intent {
	t.Helper()
	var got []Intent
	deadline := time.After(2 * time.Second)
	for len(got) < n {
		select {
		case intent := <-ch:
			got = append(got, intent)
		case <-deadline:
			t.Fatalf("timed out after %d of %d intents", len(got), n)
		}
	}
	return got
}

func waitForCounts(t *testing.T, l *Listener, heard, matched uint64) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		h, m := l.Stats()
		if h == heard && m == matched {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	h, m := l.Stats()
	t.Fatalf("stats = %d heard, %d matched; want %d, %d", h, m, heard, matched)
}

func TestListenerDispatchesIntents(t *testing.T) {
	source := newFakeSource()
	rec := &fakeRecognizer{script: []scripted{
		{text: "enable scan mode"},
		{text: "the weather is terrible"},
		{text: "battery report"},
	}}
	handled := make(chan Intent, 8)

	l := NewListener(source, rec, func() string { return "en" }, func(i Intent) { handled <- i })
	l.Start(context.Background())
	defer l.Stop()

	seg := []float32{0.1, 0.2}
	source.send(seg)
	source.send(seg)
	source.send(seg)

	got := collectIntents(t, handled, 2)
	if got[0] != IntentScanMode || got[1] != IntentBatteryReport {
		t.Errorf("intents = %v, want [%s %s]", got, IntentScanMode, IntentBatteryReport)
	}
	waitForCounts(t, l, 3, 2)
}

func TestListenerToleratesRecognizerFailures(t *testing.T) {
	source := newFakeSource()
	rec := &fakeRecognizer{script: []scripted{
		{err: errors.New("decoder blew up")},
		{text: "   "},
		{text: "what's ahead"},
	}}
	handled := make(chan Intent, 8)

	l := NewListener(source, rec, func() string { return "en" }, func(i Intent) { handled <- i })
	l.Start(context.Background())
	defer l.Stop()

	seg := []float32{0.1}
	source.send(seg)
	source.send(seg)
	source.send(seg)

	got := collectIntents(t, handled, 1)
	if got[0] != IntentWhatsAhead {
		t.Errorf("intent = %s, want %s", got[0], IntentWhatsAhead)
	}
	// The error and the blank transcription never count as heard.
	waitForCounts(t, l, 1, 1)
}

func TestListenerReacquiresAfterRestart(t *testing.T) {
	source := newFakeSource()
	rec := &fakeRecognizer{script: []scripted{
		{text: "start"},
		{text: "stop"},
	}}
	handled := make(chan Intent, 8)

	l := NewListener(source, rec, func() string { return "en" }, func(i Intent) { handled <- i })
	l.Start(context.Background())
	defer l.Stop()

	source.send([]float32{0.1})
	got := collectIntents(t, handled, 1)
	if got[0] != IntentStart {
		t.Fatalf("intent = %s, want %s", got[0], IntentStart)
	}

	source.restart()
	source.send([]float32{0.1})

	got = collectIntents(t, handled, 1)
	if got[0] != IntentStop {
		t.Errorf("intent after restart = %s, want %s", got[0], IntentStop)
	}
}

func TestListenerStops(t *testing.T) {
	source := newFakeSource()
	rec := &fakeRecognizer{}
	l := NewListener(source, rec, func() string { return "en" }, func(Intent) {})
	l.Start(context.Background())

	done := make(chan struct{})
	go func() {
		l.Stop()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Stop did not return")
	}
}
