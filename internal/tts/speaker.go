package tts

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/v12510/GlassesVisionSystem/internal/config"
	"github.com/v12510/GlassesVisionSystem/internal/types"
)

// Sink plays PCM audio to completion or until ctx cancels. The audio
// package provides the portaudio implementation.
type Sink interface {
	Play(ctx context.Context, pcm []float32, sampleRate int) error
}

// SpeakerStats is a snapshot of queue counters.
type SpeakerStats struct {
	Queued        uint64 `json:"queued"`
	Played        uint64 `json:"played"`
	Dropped       uint64 `json:"dropped"`
	SynthFailures uint64 `json:"synth_failures"`
	Depth         int    `json:"depth"`
}

// Speaker owns the bounded utterance queue and the playback loop. The
// consumer always takes the most urgent pending utterance; an incoming
// alert preempts whatever lower-priority audio is mid-play. When the
// queue is full the least urgent pending entry is dropped, never an
// alert.
type Speaker struct {
	engines []Engine
	cache   *Cache
	sink    Sink
	limit   int

	mu         sync.Mutex
	pending    []types.Utterance
	profile    VoiceProfile
	playCancel context.CancelFunc
	// playingPriority is -1 while idle
	playingPriority int
	cancel          context.CancelFunc

	wake     chan struct{}
	wg       sync.WaitGroup
	isActive atomic.Bool

	queued        atomic.Uint64
	played        atomic.Uint64
	dropped       atomic.Uint64
	synthFailures atomic.Uint64
}

// NewSpeaker wires the queue to its synthesis engines, tried in order,
// and the playback sink. cache may be nil.
func NewSpeaker(cfg config.TTSConfig, sink Sink, cache *Cache, engines ...Engine) *Speaker {
	limit := cfg.QueueSize
	if limit <= 0 {
		limit = 10
	}
	return &Speaker{
		engines:         engines,
		cache:           cache,
		sink:            sink,
		limit:           limit,
		profile:         ProfileFromConfig(cfg),
		playingPriority: -1,
	}
}

func (s *Speaker) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.isActive.Load() {
		return fmt.Errorf("speaker already running")
	}
	runCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.wake = make(chan struct{}, 1)
	s.pending = nil
	s.isActive.Store(true)

	s.wg.Add(1)
	go s.run(runCtx)

	slog.Info("Speaker started", "engines", len(s.engines), "queue_size", s.limit)
	return nil
}

// Stop halts the loop and discards anything still pending.
func (s *Speaker) Stop() {
	if !s.isActive.Swap(false) {
		return
	}
	s.mu.Lock()
	cancel := s.cancel
	s.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	s.wg.Wait()

	s.mu.Lock()
	discarded := len(s.pending)
	s.pending = nil
	s.mu.Unlock()
	if discarded > 0 {
		slog.Debug("Discarded pending utterances on stop", "count", discarded)
	}
}

// Say enqueues an utterance without blocking. Empty text is ignored.
func (s *Speaker) Say(u types.Utterance) error {
	if strings.TrimSpace(u.Text) == "" {
		return nil
	}
	if !s.isActive.Load() {
		return fmt.Errorf("speaker is not running")
	}

	s.mu.Lock()
	if len(s.pending) >= s.limit {
		// Evict the least urgent pending entry, newest among equals.
		worst := 0
		for i, p := range s.pending {
			if p.Priority >= s.pending[worst].Priority {
				worst = i
			}
		}
		if s.pending[worst].Priority > u.Priority {
			s.pending = append(s.pending[:worst], s.pending[worst+1:]...)
			s.dropped.Add(1)
		} else {
			s.mu.Unlock()
			s.dropped.Add(1)
			return fmt.Errorf("speech queue full, dropped priority %d utterance", u.Priority)
		}
	}
	s.pending = append(s.pending, u)
	s.queued.Add(1)

	var preempt context.CancelFunc
	if u.Priority == types.PriorityAlert && s.playingPriority > types.PriorityAlert {
		preempt = s.playCancel
	}
	s.mu.Unlock()

	if preempt != nil {
		preempt()
	}
	select {
	case s.wake <- struct{}{}:
	default:
	}
	return nil
}

// UpdateProfile swaps the voice profile for subsequent synthesis.
func (s *Speaker) UpdateProfile(p VoiceProfile) {
	s.mu.Lock()
	s.profile = p
	s.mu.Unlock()
}

func (s *Speaker) Stats() SpeakerStats {
	s.mu.Lock()
	depth := len(s.pending)
	s.mu.Unlock()
	return SpeakerStats{
		Queued:        s.queued.Load(),
		Played:        s.played.Load(),
		Dropped:       s.dropped.Load(),
		SynthFailures: s.synthFailures.Load(),
		Depth:         depth,
	}
}

// QueueDepth reports the pending count for metrics gauges.
func (s *Speaker) QueueDepth() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pending)
}

func (s *Speaker) run(ctx context.Context) {
	defer s.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		u, ok := s.next()
		if !ok {
			select {
			case <-ctx.Done():
				return
			case <-s.wake:
			}
			continue
		}
		s.speak(ctx, u)
	}
}

// next pops the most urgent pending utterance, FIFO within a priority
// class.
func (s *Speaker) next() (types.Utterance, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.pending) == 0 {
		return types.Utterance{}, false
	}
	best := 0
	for i, p := range s.pending {
		if p.Priority < s.pending[best].Priority {
			best = i
		}
	}
	u := s.pending[best]
	s.pending = append(s.pending[:best], s.pending[best+1:]...)
	return u, true
}

func (s *Speaker) speak(ctx context.Context, u types.Utterance) {
	s.mu.Lock()
	profile := s.profile
	s.mu.Unlock()

	key := CacheKey(u.Text, u.Language, profile)
	pcm, rate, cached := s.cacheGet(key)
	if !cached {
		var err error
		pcm, rate, err = s.synthesize(ctx, u.Text, profile)
		if err != nil {
			s.synthFailures.Add(1)
			slog.Error("Speech synthesis failed",
				"error", err,
				"priority", u.Priority,
				"trace_id", u.TraceID)
			return
		}
		s.cachePut(key, pcm, rate)
	}

	playCtx, cancel := context.WithCancel(ctx)
	s.mu.Lock()
	s.playCancel = cancel
	s.playingPriority = u.Priority
	s.mu.Unlock()

	err := s.sink.Play(playCtx, pcm, rate)

	s.mu.Lock()
	s.playCancel = nil
	s.playingPriority = -1
	s.mu.Unlock()
	cancel()

	if err != nil {
		if errors.Is(err, context.Canceled) {
			slog.Debug("Playback preempted", "priority", u.Priority, "trace_id", u.TraceID)
		} else {
			slog.Error("Playback failed", "error", err)
		}
		return
	}
	s.played.Add(1)
}

// synthesize tries each engine in order, so the offline fallback still
// speaks when the online service is down.
func (s *Speaker) synthesize(ctx context.Context, text string, profile VoiceProfile) ([]float32, int, error) {
	var lastErr error
	for _, eng := range s.engines {
		pcm, rate, err := eng.Synthesize(ctx, text, profile)
		if err == nil {
			return pcm, rate, nil
		}
		lastErr = err
		slog.Warn("Synthesis engine failed", "engine", eng.Name(), "error", err)
	}
	if lastErr == nil {
		lastErr = errors.New("no synthesis engines configured")
	}
	return nil, 0, lastErr
}

func (s *Speaker) cacheGet(key string) ([]float32, int, bool) {
	if s.cache == nil {
		return nil, 0, false
	}
	return s.cache.Get(key)
}

func (s *Speaker) cachePut(key string, pcm []float32, rate int) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Put(key, pcm, rate); err != nil {
		slog.Debug("TTS cache write failed", "error", err)
	}
}
