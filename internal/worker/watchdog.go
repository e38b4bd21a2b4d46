package worker

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/v12510/GlassesVisionSystem/internal/types"
)

// watchdogMinTimeout is the floor for the stall threshold. Slow
// inference rates stretch it to three inference periods.
const watchdogMinTimeout = 30 * time.Second

// Watchdog restarts workers that stop producing results. Each stall is
// one incident: the worker is stopped and started once, and the incident
// only closes when the worker emits again. A worker that stays silent
// through a second timeout is stopped for good and reported degraded.
type Watchdog struct {
	interval   time.Duration
	rate       func() float64 // current inference rate in Hz, nil for default timeout
	onDegraded func(workerID string)
	minTimeout time.Duration

	mu        sync.Mutex
	incidents map[string]uint64 // worker id -> InferencesEmitted at restart
	restarts  map[string]int
	degraded  map[string]bool
}

// NewWatchdog builds a supervisor. rate reports the target inference
// rate so the stall timeout adapts to slow pipelines; onDegraded fires
// once per worker that fails its restart.
func NewWatchdog(interval time.Duration, rate func() float64, onDegraded func(string)) *Watchdog {
	return &Watchdog{
		interval:   interval,
		rate:       rate,
		onDegraded: onDegraded,
		minTimeout: watchdogMinTimeout,
		incidents:  make(map[string]uint64),
		restarts:   make(map[string]int),
		degraded:   make(map[string]bool),
	}
}

// Watch monitors the given workers until the context ends. Blocking;
// callers run it in a goroutine.
func (w *Watchdog) Watch(ctx context.Context, workers ...types.InferenceWorker) {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	slog.Info("watchdog started",
		"interval", w.interval,
		"workers", len(workers))

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for _, worker := range workers {
				w.check(ctx, worker)
			}
		}
	}
}

// Degraded returns the ids of workers that were given up on, sorted.
func (w *Watchdog) Degraded() []string {
	w.mu.Lock()
	defer w.mu.Unlock()

	ids := make([]string, 0, len(w.degraded))
	for id := range w.degraded {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Restarts returns a copy of the per-worker restart counts.
func (w *Watchdog) Restarts() map[string]int {
	w.mu.Lock()
	defer w.mu.Unlock()

	out := make(map[string]int, len(w.restarts))
	for id, n := range w.restarts {
		out[id] = n
	}
	return out
}

func (w *Watchdog) check(ctx context.Context, worker types.InferenceWorker) {
	id := worker.ID()
	m := worker.Metrics()

	w.mu.Lock()
	if w.degraded[id] {
		w.mu.Unlock()
		return
	}
	baseline, open := w.incidents[id]
	w.mu.Unlock()

	// A restart refreshes LastSeenAt without producing anything, so an
	// incident only closes on an actual result.
	if open && m.InferencesEmitted > baseline {
		w.mu.Lock()
		delete(w.incidents, id)
		w.mu.Unlock()
		slog.Info("worker recovered", "worker_id", id)
		open = false
	}

	if m.LastSeenAt.IsZero() {
		return
	}
	silent := time.Since(m.LastSeenAt)
	timeout := w.timeout()
	if silent <= timeout {
		return
	}

	if open {
		w.mu.Lock()
		w.degraded[id] = true
		w.mu.Unlock()

		slog.Error("worker silent after restart, giving up",
			"worker_id", id,
			"silent_for", silent.Round(time.Second))
		if err := worker.Stop(); err != nil {
			slog.Error("failed to stop degraded worker", "worker_id", id, "error", err)
		}
		if w.onDegraded != nil {
			w.onDegraded(id)
		}
		return
	}

	w.mu.Lock()
	w.incidents[id] = m.InferencesEmitted
	w.restarts[id]++
	w.mu.Unlock()

	slog.Warn("worker silent, restarting",
		"worker_id", id,
		"silent_for", silent.Round(time.Second),
		"timeout", timeout)

	if err := worker.Stop(); err != nil {
		slog.Error("failed to stop stalled worker", "worker_id", id, "error", err)
	}
	if err := worker.Start(ctx); err != nil {
		w.mu.Lock()
		w.degraded[id] = true
		w.mu.Unlock()

		slog.Error("failed to restart worker, giving up", "worker_id", id, "error", err)
		if w.onDegraded != nil {
			w.onDegraded(id)
		}
	}
}

// timeout returns the stall threshold: at least the floor, or three
// inference periods when the pipeline runs slower than that.
func (w *Watchdog) timeout() time.Duration {
	if w.rate == nil {
		return w.minTimeout
	}
	hz := w.rate()
	if hz <= 0 {
		return w.minTimeout
	}
	if adaptive := time.Duration(3 * float64(time.Second) / hz); adaptive > w.minTimeout {
		return adaptive
	}
	return w.minTimeout
}
