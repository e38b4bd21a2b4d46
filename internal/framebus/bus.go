// Package framebus provides non-blocking frame distribution for the
// capture path.
//
// Core Philosophy: "Drop frames, never queue. Latency > Completeness."
//
// Frames fan out to subscribers with per-subscriber drop policies:
//   - DropNew: backpressure-based dropping (channel buffer full → drop
//     incoming frame). Used by taps that want contiguous runs.
//   - DropOld: always latest (replace stored frame, never queue). Used by
//     the inference dispatcher, which only ever wants the freshest frame.
package framebus

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/v12510/GlassesVisionSystem/internal/types"
)

var (
	ErrBusClosed          = errors.New("framebus: bus is closed")
	ErrSubscriberExists   = errors.New("framebus: subscriber already exists")
	ErrSubscriberNotFound = errors.New("framebus: subscriber not found")
	ErrNilChannel         = errors.New("framebus: nil channel provided")
	ErrReceiverClosed     = errors.New("framebus: receiver is closed")
)

// DropPolicy defines how the bus handles frames when a subscriber cannot
// keep up
type DropPolicy int

const (
	DropNew DropPolicy = iota
	DropOld
)

// FrameReceiver provides blocking/non-blocking access to the latest frame
// for DropOld subscribers
type FrameReceiver interface {
	// Receive blocks until a frame is available. ok is false once the
	// receiver is closed.
	Receive() (frame types.Frame, ok bool)
	// TryReceive returns the latest frame without blocking
	TryReceive() (frame types.Frame, ok bool)
	Close()
}

// SubscriberStats tracks frame distribution metrics for one subscriber
type SubscriberStats struct {
	Sent    uint64
	Dropped uint64
}

// Stats is an aggregate snapshot of bus activity.
// Conservation law: TotalSent + TotalDropped == TotalPublished × subscribers
// at quiescence.
type Stats struct {
	TotalPublished uint64
	TotalSent      uint64
	TotalDropped   uint64
	Subscribers    map[string]SubscriberStats
}

type subscriber struct {
	id     string
	policy DropPolicy

	sent    uint64
	dropped uint64

	// DropNew
	ch chan<- types.Frame

	// DropOld
	holder *latestFrameHolder
}

// Bus distributes frames to subscribers. Publish never blocks.
type Bus struct {
	mu             sync.RWMutex
	subscribers    map[string]*subscriber
	totalPublished uint64
	closed         bool
}

// New creates a new frame bus
func New() *Bus {
	return &Bus{
		subscribers: make(map[string]*subscriber),
	}
}

// Subscribe registers a channel with DropNew policy. The channel's buffer
// size is the subscriber's tolerance for burstiness.
func (b *Bus) Subscribe(id string, ch chan<- types.Frame) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return ErrBusClosed
	}
	if ch == nil {
		return ErrNilChannel
	}
	if _, exists := b.subscribers[id]; exists {
		return ErrSubscriberExists
	}

	b.subscribers[id] = &subscriber{id: id, policy: DropNew, ch: ch}
	slog.Debug("framebus subscriber added", "id", id, "policy", "drop_new")
	return nil
}

// SubscribeDropOld registers a latest-frame subscriber
func (b *Bus) SubscribeDropOld(id string) (FrameReceiver, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil, ErrBusClosed
	}
	if _, exists := b.subscribers[id]; exists {
		return nil, ErrSubscriberExists
	}

	sub := &subscriber{id: id, policy: DropOld, holder: newLatestFrameHolder()}
	b.subscribers[id] = sub
	slog.Debug("framebus subscriber added", "id", id, "policy", "drop_old")
	return sub.holder, nil
}

// Publish distributes a frame to all subscribers without blocking.
// Publishing on a closed bus is a programming error and panics.
func (b *Bus) Publish(frame types.Frame) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		panic("framebus: publish on closed bus")
	}

	atomic.AddUint64(&b.totalPublished, 1)

	for _, sub := range b.subscribers {
		switch sub.policy {
		case DropNew:
			select {
			case sub.ch <- frame:
				atomic.AddUint64(&sub.sent, 1)
			default:
				atomic.AddUint64(&sub.dropped, 1)
			}

		case DropOld:
			// Replacing the held frame always succeeds; an overwritten
			// unread frame counts as a drop so the conservation law holds.
			if sub.holder.Set(frame) {
				atomic.AddUint64(&sub.sent, 1)
			} else {
				atomic.AddUint64(&sub.dropped, 1)
			}
		}
	}
}

// Unsubscribe removes a subscriber
func (b *Bus) Unsubscribe(id string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return ErrBusClosed
	}

	sub, exists := b.subscribers[id]
	if !exists {
		return ErrSubscriberNotFound
	}

	if sub.policy == DropOld && sub.holder != nil {
		sub.holder.Close()
	}
	delete(b.subscribers, id)
	slog.Debug("framebus subscriber removed", "id", id)
	return nil
}

// Stats returns an aggregate snapshot. Safe to call on a closed bus.
func (b *Bus) Stats() Stats {
	b.mu.RLock()
	defer b.mu.RUnlock()

	out := Stats{
		TotalPublished: atomic.LoadUint64(&b.totalPublished),
		Subscribers:    make(map[string]SubscriberStats, len(b.subscribers)),
	}

	for id, sub := range b.subscribers {
		s := SubscriberStats{
			Sent:    atomic.LoadUint64(&sub.sent),
			Dropped: atomic.LoadUint64(&sub.dropped),
		}
		out.Subscribers[id] = s
		out.TotalSent += s.Sent
		out.TotalDropped += s.Dropped
	}

	return out
}

// Close shuts down the bus and all DropOld receivers. Idempotent.
func (b *Bus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil
	}
	b.closed = true

	for _, sub := range b.subscribers {
		if sub.policy == DropOld && sub.holder != nil {
			sub.holder.Close()
		}
	}
	b.subscribers = nil
	return nil
}

// StartStatsLogger logs distribution stats periodically and warns when a
// subscriber's drop rate in the interval exceeds 80%. Blocks until ctx is
// done.
func (b *Bus) StartStatsLogger(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	prev := b.Stats()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			stats := b.Stats()
			deltaPublished := stats.TotalPublished - prev.TotalPublished

			for id, sub := range stats.Subscribers {
				p := prev.Subscribers[id]
				deltaDropped := sub.Dropped - p.Dropped

				if deltaPublished > 0 {
					dropRate := float64(deltaDropped) / float64(deltaPublished)
					if dropRate > 0.80 {
						slog.Warn("subscriber high drop rate",
							"subscriber", id,
							"drop_rate_pct", int(dropRate*100),
							"dropped_last_interval", deltaDropped,
							"published_last_interval", deltaPublished,
						)
					}
				}
			}

			slog.Debug("framebus stats",
				"published", stats.TotalPublished,
				"sent", stats.TotalSent,
				"dropped", stats.TotalDropped,
				"subscribers", len(stats.Subscribers),
			)
			prev = stats
		}
	}
}

// latestFrameHolder implements FrameReceiver for the DropOld policy
type latestFrameHolder struct {
	mu     sync.Mutex
	cond   *sync.Cond
	frame  *types.Frame
	unread bool
	closed bool
}

func newLatestFrameHolder() *latestFrameHolder {
	h := &latestFrameHolder{}
	h.cond = sync.NewCond(&h.mu)
	return h
}

// Set replaces the held frame. Returns false when an unread frame was
// overwritten or the holder is closed.
func (h *latestFrameHolder) Set(frame types.Frame) bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return false
	}

	overwrote := h.unread
	h.frame = &frame
	h.unread = true
	h.cond.Broadcast()
	return !overwrote
}

// Receive blocks until an unread frame is available
func (h *latestFrameHolder) Receive() (types.Frame, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for !h.unread && !h.closed {
		h.cond.Wait()
	}

	if h.closed {
		return types.Frame{}, false
	}

	h.unread = false
	return *h.frame, true
}

// TryReceive returns the latest unread frame without blocking
func (h *latestFrameHolder) TryReceive() (types.Frame, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed || !h.unread {
		return types.Frame{}, false
	}

	h.unread = false
	return *h.frame, true
}

// Close shuts down the receiver and wakes blocked readers
func (h *latestFrameHolder) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.closed = true
	h.cond.Broadcast()
}
