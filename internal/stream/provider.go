// Package stream acquires sensor frames from the glasses camera.
//
// Providers push frames into a bounded channel using a non-blocking send:
// when the consumer lags, frames are dropped, never queued. An assistive
// pipeline must describe what is in front of the wearer right now, so
// latency always wins over completeness.
package stream

import (
	"context"

	"github.com/v12510/GlassesVisionSystem/internal/types"
)

// Provider defines the contract for sensor frame acquisition.
//
// Implementations must guarantee:
//   - Start() returns immediately; frames arrive asynchronously
//   - Frames() never closes until Stop() is called
//   - frame sends are non-blocking (drop when the consumer lags)
//   - Stats() is safe to call from any goroutine
type Provider interface {
	// Start begins capture. Frames arrive on Frames() once the device
	// pipeline is up.
	Start(ctx context.Context) error

	// Frames returns the channel of captured frames.
	Frames() <-chan types.Frame

	// Stop shuts the provider down and closes Frames(). Idempotent.
	Stop() error

	// Stats returns a snapshot of capture statistics.
	Stats() types.StreamStats
}

// RateAdjuster is implemented by providers that can change their capture
// rate without a restart. The adaptive tuner uses it to shed load.
type RateAdjuster interface {
	SetTargetFPS(fps float64) error
}
