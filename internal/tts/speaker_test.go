package tts

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/v12510/GlassesVisionSystem/internal/config"
	"github.com/v12510/GlassesVisionSystem/internal/types"
)

// fakeEngine encodes the text's first byte into the PCM so tests can
// tell which utterance reached the sink.
type fakeEngine struct {
	name string
	rate int
	fail bool

	mu    sync.Mutex
	calls []string
}

func (e *fakeEngine) Synthesize(_ context.Context, text string, _ VoiceProfile) ([]float32, int, error) {
	e.mu.Lock()
	e.calls = append(e.calls, text)
	e.mu.Unlock()
	if e.fail {
		return nil, 0, errors.New("engine down")
	}
	return []float32{sampleFor(text)}, e.rate, nil
}

func (e *fakeEngine) Name() string { return e.name }

func (e *fakeEngine) callCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.calls)
}

func sampleFor(text string) float32 { return float32(text[0]) / 256 }

type fakeSink struct {
	mu      sync.Mutex
	started chan struct{}
	block   chan struct{}
	played  []float32
	rates   []int
}

func newFakeSink() *fakeSink {
	return &fakeSink{started: make(chan struct{}, 16)}
}

// blockNext makes the next Play call wait until the returned channel
// closes or its context cancels.
func (f *fakeSink) blockNext() chan struct{} {
	ch := make(chan struct{})
	f.mu.Lock()
	f.block = ch
	f.mu.Unlock()
	return ch
}

func (f *fakeSink) Play(ctx context.Context, pcm []float32, rate int) error {
	select {
	case f.started <- struct{}{}:
	default:
	}

	f.mu.Lock()
	block := f.block
	f.block = nil
	f.mu.Unlock()
	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	f.mu.Lock()
	if len(pcm) > 0 {
		f.played = append(f.played, pcm[0])
	}
	f.rates = append(f.rates, rate)
	f.mu.Unlock()
	return nil
}

func (f *fakeSink) playedSamples() []float32 {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]float32, len(f.played))
	copy(out, f.played)
	return out
}

func speakerConfig() config.TTSConfig {
	return config.TTSConfig{VoiceID: "default", Speed: 1.0, QueueSize: 3, SampleRate: 24000}
}

func utter(text string, priority int) types.Utterance {
	return types.Utterance{Text: text, Language: "en", Priority: priority}
}

func waitStarted(t *testing.T, sink *fakeSink) {
	t.Helper()
	select {
	case <-sink.started:
	case <-time.After(2 * time.Second):
		t.Fatal("playback never started")
	}
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestSpeakerPlaysByPriority(t *testing.T) {
	sink := newFakeSink()
	release := sink.blockNext()
	eng := &fakeEngine{name: "fake", rate: 24000}
	s := NewSpeaker(speakerConfig(), sink, nil, eng)
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer s.Stop()

	s.Say(utter("summary text", types.PrioritySummary))
	waitStarted(t, sink)
	s.Say(utter("object text", types.PriorityObject))
	s.Say(utter("alert text", types.PriorityAlert))
	waitFor(t, "queue to fill", func() bool { return s.QueueDepth() == 2 })

	close(release)
	waitFor(t, "all playback", func() bool { return len(sink.playedSamples()) == 3 })

	got := sink.playedSamples()
	want := []float32{sampleFor("summary text"), sampleFor("alert text"), sampleFor("object text")}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("playback order = %v, want %v", got, want)
		}
	}
}

func TestAlertPreemptsLowerPriority(t *testing.T) {
	sink := newFakeSink()
	sink.blockNext()
	eng := &fakeEngine{name: "fake", rate: 24000}
	s := NewSpeaker(speakerConfig(), sink, nil, eng)
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer s.Stop()

	s.Say(utter("object text", types.PriorityObject))
	waitStarted(t, sink)
	s.Say(utter("alert text", types.PriorityAlert))

	waitFor(t, "alert playback", func() bool {
		p := sink.playedSamples()
		return len(p) == 1 && p[0] == sampleFor("alert text")
	})

	stats := s.Stats()
	if stats.Played != 1 {
		t.Errorf("played = %d, want 1 (preempted audio is not a completed play)", stats.Played)
	}
}

func TestQueueFullDropsLowestPriority(t *testing.T) {
	sink := newFakeSink()
	release := sink.blockNext()
	eng := &fakeEngine{name: "fake", rate: 24000}
	s := NewSpeaker(speakerConfig(), sink, nil, eng)
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer s.Stop()

	s.Say(utter("alpha", types.PrioritySummary))
	waitStarted(t, sink)
	s.Say(utter("bravo", types.PrioritySummary))
	s.Say(utter("charlie", types.PriorityObject))
	s.Say(utter("delta", types.PrioritySummary))
	waitFor(t, "full queue", func() bool { return s.QueueDepth() == 3 })

	// An alert bumps the newest low-priority entry (delta).
	if err := s.Say(utter("echo", types.PriorityAlert)); err != nil {
		t.Fatalf("alert rejected by full queue: %v", err)
	}
	if got := s.Stats().Dropped; got != 1 {
		t.Errorf("dropped = %d, want 1", got)
	}

	// Another summary cannot displace anything of equal priority.
	err := s.Say(utter("foxtrot", types.PrioritySummary))
	if err == nil || !strings.Contains(err.Error(), "queue full") {
		t.Fatalf("expected queue full error, got %v", err)
	}
	if got := s.Stats().Dropped; got != 2 {
		t.Errorf("dropped = %d, want 2", got)
	}

	close(release)
	waitFor(t, "drain", func() bool { return len(sink.playedSamples()) == 4 })

	got := sink.playedSamples()
	want := []float32{sampleFor("alpha"), sampleFor("echo"), sampleFor("charlie"), sampleFor("bravo")}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("playback order = %v, want %v", got, want)
		}
	}
}

func TestSpeakerUsesCache(t *testing.T) {
	cache, err := OpenCache(t.TempDir(), 8)
	if err != nil {
		t.Fatalf("OpenCache: %v", err)
	}
	sink := newFakeSink()
	eng := &fakeEngine{name: "fake", rate: 24000}
	s := NewSpeaker(speakerConfig(), sink, cache, eng)
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer s.Stop()

	s.Say(utter("hello there", types.PrioritySummary))
	waitFor(t, "first play", func() bool { return len(sink.playedSamples()) == 1 })
	s.Say(utter("hello there", types.PrioritySummary))
	waitFor(t, "second play", func() bool { return len(sink.playedSamples()) == 2 })

	if eng.callCount() != 1 {
		t.Errorf("engine calls = %d, want 1 (second play should hit cache)", eng.callCount())
	}
	if hits, _ := cache.Stats(); hits != 1 {
		t.Errorf("cache hits = %d, want 1", hits)
	}
}

func TestSpeakerEngineFailover(t *testing.T) {
	sink := newFakeSink()
	broken := &fakeEngine{name: "online", rate: 24000, fail: true}
	backup := &fakeEngine{name: "offline", rate: 24000}
	s := NewSpeaker(speakerConfig(), sink, nil, broken, backup)
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer s.Stop()

	s.Say(utter("alert text", types.PriorityAlert))
	waitFor(t, "fallback playback", func() bool { return len(sink.playedSamples()) == 1 })

	if broken.callCount() != 1 || backup.callCount() != 1 {
		t.Errorf("engine calls = %d/%d, want 1/1", broken.callCount(), backup.callCount())
	}
	if got := s.Stats().SynthFailures; got != 0 {
		t.Errorf("synth failures = %d, want 0 after successful failover", got)
	}
}

func TestSpeakerAllEnginesFail(t *testing.T) {
	sink := newFakeSink()
	s := NewSpeaker(speakerConfig(), sink, nil, &fakeEngine{name: "a", fail: true}, &fakeEngine{name: "b", fail: true})
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer s.Stop()

	s.Say(utter("alert text", types.PriorityAlert))
	waitFor(t, "synth failure", func() bool { return s.Stats().SynthFailures == 1 })

	if got := len(sink.playedSamples()); got != 0 {
		t.Errorf("played = %d, want 0", got)
	}
}

func TestSayRequiresRunningSpeaker(t *testing.T) {
	s := NewSpeaker(speakerConfig(), newFakeSink(), nil, &fakeEngine{name: "fake", rate: 24000})
	if err := s.Say(utter("hello", 1)); err == nil {
		t.Fatal("Say succeeded before Start")
	}

	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	s.Stop()
	if err := s.Say(utter("hello", 1)); err == nil {
		t.Fatal("Say succeeded after Stop")
	}
}

func TestSayIgnoresEmptyText(t *testing.T) {
	s := NewSpeaker(speakerConfig(), newFakeSink(), nil, &fakeEngine{name: "fake", rate: 24000})
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer s.Stop()

	if err := s.Say(utter("   ", 0)); err != nil {
		t.Fatalf("Say on blank text: %v", err)
	}
	if got := s.Stats().Queued; got != 0 {
		t.Errorf("queued = %d, want 0", got)
	}
}

func TestStopDiscardsPending(t *testing.T) {
	sink := newFakeSink()
	sink.blockNext()
	eng := &fakeEngine{name: "fake", rate: 24000}
	s := NewSpeaker(speakerConfig(), sink, nil, eng)
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}

	s.Say(utter("first", types.PrioritySummary))
	waitStarted(t, sink)
	s.Say(utter("second", types.PrioritySummary))

	done := make(chan struct{})
	go func() {
		s.Stop()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Stop hung on blocked playback")
	}

	if got := s.QueueDepth(); got != 0 {
		t.Errorf("pending after stop = %d, want 0", got)
	}
}
