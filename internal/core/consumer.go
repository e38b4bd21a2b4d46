package core

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/v12510/GlassesVisionSystem/internal/journal"
	"github.com/v12510/GlassesVisionSystem/internal/preprocess"
	"github.com/v12510/GlassesVisionSystem/internal/types"
	"github.com/v12510/GlassesVisionSystem/internal/worker"
)

// captureFrames pumps the stream onto the bus. When the provider is
// swapped for a resolution change the loop re-acquires the new frames
// channel instead of exiting.
func (g *Glasses) captureFrames() {
	defer g.wg.Done()

	for {
		ch := g.currentStream().Frames()
		for frame := range ch {
			g.metrics.FramesCaptured.Add(1)
			g.journal.Record(journal.Event{
				Timestamp: frame.Timestamp,
				TraceID:   frame.TraceID,
				DeviceID:  g.currentConfig().DeviceID,
				Stage:     journal.StageCapture,
				Category:  journal.CategoryFrame,
				Frame: &journal.FrameEvent{
					Seq:    frame.Seq,
					Width:  frame.Width,
					Height: frame.Height,
				},
			})
			g.bus.Publish(frame)
		}
		if !g.restartTicket.Swap(false) {
			return
		}
	}
}

// processFrames takes the latest frame off the bus, applies the rate
// limit and quality gates, preprocesses and hands the result to the
// detector. Frames the detector cannot accept are dropped, never queued.
func (g *Glasses) processFrames() {
	defer g.wg.Done()

	rx, err := g.bus.SubscribeDropOld("pipeline")
	if err != nil {
		slog.Error("pipeline subscription failed", "error", err)
		return
	}

	var count uint64
	for {
		frame, ok := rx.Receive()
		if !ok {
			return
		}
		if g.isPausedNow() {
			continue
		}

		count++
		if interval := uint64(g.currentInterval()); interval > 1 && count%interval != 0 {
			continue
		}

		brightness := preprocess.MeanLuma(frame)

		processed, err := g.chain.Process(frame)
		if err != nil {
			var gateErr *preprocess.GateError
			if errors.As(err, &gateErr) {
				g.metrics.FramesGated.Add(1)
				g.journal.Record(journal.Event{
					Timestamp: time.Now(),
					TraceID:   frame.TraceID,
					DeviceID:  g.currentConfig().DeviceID,
					Stage:     journal.StagePreprocess,
					Category:  journal.CategoryFrame,
					Frame: &journal.FrameEvent{
						Seq:        frame.Seq,
						Dropped:    true,
						GateReason: gateErr.Reason,
					},
				})
			} else {
				slog.Warn("preprocess failed", "seq", frame.Seq, "error", err)
				g.journalError(journal.StagePreprocess, err, "preprocess", frame.TraceID)
			}
			continue
		}

		if err := g.detector.SendFrame(processed); err != nil {
			g.sendDrops.Add(1)
			g.journal.Record(journal.Event{
				Timestamp: time.Now(),
				TraceID:   frame.TraceID,
				DeviceID:  g.currentConfig().DeviceID,
				Stage:     journal.StageInference,
				Category:  journal.CategoryFrame,
				Frame:     &journal.FrameEvent{Seq: frame.Seq, Dropped: true},
			})
			continue
		}

		g.trackPending(frame, brightness)
	}
}

// consumeResults drains detector observations. The results channel
// closes both on shutdown and on a watchdog restart; after a restart
// the loop re-acquires the recreated channel instead of exiting.
func (g *Glasses) consumeResults() {
	defer g.wg.Done()

	ch := g.detector.Results()
	for {
		for obs := range ch {
			g.handleObservation(obs)
		}

		for {
			select {
			case <-g.runCtx.Done():
				return
			case <-time.After(100 * time.Millisecond):
			}
			if next := g.detector.Results(); next != ch {
				ch = next
				break
			}
		}
	}
}

// handleObservation runs the downstream half of the pipeline for one
// inference result: depth fusion, scene analysis, narration, speech and
// emission.
func (g *Glasses) handleObservation(obs types.Observation) {
	g.metrics.Inferences.Add(1)

	pend, tracked := g.takePending(obs.FrameSeq)
	if tracked {
		obs.Brightness = pend.brightness
		if pend.frame.HasDepth() {
			worker.FuseDepth(obs.Detections, &pend.frame)
		}
	}

	deviceID := g.currentConfig().DeviceID
	g.journal.Record(journal.Event{
		Timestamp:   time.Now(),
		TraceID:     obs.TraceID,
		DeviceID:    deviceID,
		Stage:       journal.StageInference,
		Category:    journal.CategoryObservation,
		Observation: observationEvent(&obs),
	})

	report := g.analyzer.Analyze(&obs)
	g.storeReport(report)
	g.journal.Record(journal.Event{
		Timestamp: time.Now(),
		TraceID:   obs.TraceID,
		DeviceID:  deviceID,
		Stage:     journal.StageScene,
		Category:  journal.CategoryObservation,
		Observation: &journal.ObservationEvent{
			FrameSeq: obs.FrameSeq,
			Scene:    report.Scene,
			Risks:    riskNames(report.Risks),
		},
	})

	utterances := g.narrator.Narrate(&report)

	var endToEnd time.Duration
	if tracked {
		endToEnd = time.Since(pend.frame.Timestamp)
	} else if ts := obs.Timestamp(); !ts.IsZero() {
		endToEnd = time.Since(ts)
	}
	g.metrics.ObserveLatency(endToEnd)
	if deadline := time.Duration(g.currentConfig().Pipeline.DeadlineMS) * time.Millisecond; deadline > 0 && endToEnd > deadline {
		g.metrics.DeadlineMisses.Add(1)
		slog.Warn("pipeline deadline missed",
			"trace_id", obs.TraceID,
			"latency_ms", endToEnd.Milliseconds(),
			"deadline_ms", deadline.Milliseconds(),
		)
	}

	if !g.scanModeOn() {
		utterances = criticalOnly(utterances)
	}
	endToEndMS := float64(endToEnd.Microseconds()) / 1000.0
	for _, u := range utterances {
		g.say(u, endToEndMS)
		if u.Priority == types.PriorityAlert && g.emitter != nil {
			if err := g.emitter.PublishAlert(u, report.Risks); err != nil {
				slog.Debug("alert publish failed", "error", err)
			}
		}
	}

	if g.emitter != nil {
		if err := g.emitter.PublishObservation(obs); err != nil {
			slog.Debug("observation publish failed", "error", err)
		}
	}

	if g.tuner != nil {
		fps := g.currentStream().Stats().FPSReal
		if decision := g.tuner.Record(endToEnd, fps); decision != nil {
			go g.applyResolution(decision)
		}
	}

	if g.obsCount.Add(1)%perfSnapshotEvery == 0 {
		g.perfSnapshot()
	}
}

// criticalOnly keeps safety alerts and drops plain narration. Applied
// while scan mode is off: the wearer asked for quiet, not for risk
// blindness.
func criticalOnly(utterances []types.Utterance) []types.Utterance {
	out := utterances[:0]
	for _, u := range utterances {
		if u.Priority == types.PriorityAlert {
			out = append(out, u)
		}
	}
	return out
}

// applyResolution acts on a tuner decision by restarting capture at the
// proposed size. On failure the tuner is wound back so it can retry on
// a later window.
func (g *Glasses) applyResolution(decision *preprocess.Decision) {
	prevW, prevH := g.captureSize()
	if err := g.restartStream(decision.Width, decision.Height); err != nil {
		slog.Warn("resolution change failed, keeping current capture size",
			"direction", decision.Direction, "error", err)
		g.tuner.SetResolution(prevW, prevH)
		return
	}
	g.journalState("stream",
		resolutionName(prevW, prevH),
		resolutionName(decision.Width, decision.Height),
		"adaptive_"+decision.Direction)
}

func (g *Glasses) trackPending(frame types.Frame, brightness float64) {
	g.pendingMu.Lock()
	defer g.pendingMu.Unlock()

	g.pending[frame.Seq] = pendingFrame{frame: frame, brightness: brightness}
	g.pendingSeqs = append(g.pendingSeqs, frame.Seq)
	for len(g.pendingSeqs) > pendingLimit {
		oldest := g.pendingSeqs[0]
		g.pendingSeqs = g.pendingSeqs[1:]
		delete(g.pending, oldest)
	}
}

func (g *Glasses) takePending(seq uint64) (pendingFrame, bool) {
	g.pendingMu.Lock()
	defer g.pendingMu.Unlock()

	pend, ok := g.pending[seq]
	if !ok {
		return pendingFrame{}, false
	}
	delete(g.pending, seq)
	for i, s := range g.pendingSeqs {
		if s == seq {
			g.pendingSeqs = append(g.pendingSeqs[:i], g.pendingSeqs[i+1:]...)
			break
		}
	}
	return pend, true
}

func (g *Glasses) pendingCount() int {
	g.pendingMu.Lock()
	defer g.pendingMu.Unlock()
	return len(g.pending)
}

// perfSnapshot refreshes the gauges that are cheaper to poll than to
// maintain, and emits the periodic stats line.
func (g *Glasses) perfSnapshot() {
	var busDropped uint64
	if sub, ok := g.bus.Stats().Subscribers["pipeline"]; ok {
		busDropped = sub.Dropped
	}
	g.metrics.FramesDropped.Store(busDropped + g.sendDrops.Load())
	g.metrics.DetectorQueueDepth.Store(uint64(g.pendingCount()))
	if g.speaker != nil {
		g.metrics.SpeechQueueDepth.Store(uint64(g.speaker.QueueDepth()))
	}
	if g.watchdog != nil {
		var restarts uint64
		for _, n := range g.watchdog.Restarts() {
			restarts += uint64(n)
		}
		g.metrics.WorkerRestarts.Store(restarts)
	}

	mean, p95 := g.metrics.LatencyStats()
	slog.Debug("pipeline stats",
		"inferences", g.metrics.Inferences.Load(),
		"dropped", g.metrics.FramesDropped.Load(),
		"gated", g.metrics.FramesGated.Load(),
		"latency_mean_ms", mean,
		"latency_p95_ms", p95,
		"speech_queue", g.metrics.SpeechQueueDepth.Load(),
	)
}

func (g *Glasses) journalError(stage journal.Stage, err error, context, traceID string) {
	g.journal.Record(journal.Event{
		Timestamp: time.Now(),
		TraceID:   traceID,
		DeviceID:  g.currentConfig().DeviceID,
		Stage:     stage,
		Category:  journal.CategoryError,
		Error: &journal.ErrorEventData{
			Stage:   stage,
			Message: err.Error(),
			Context: context,
		},
	})
}

func observationEvent(obs *types.Observation) *journal.ObservationEvent {
	labels := make([]string, 0, len(obs.Detections))
	for _, d := range obs.Detections {
		labels = append(labels, d.Label)
	}
	return &journal.ObservationEvent{
		FrameSeq:  obs.FrameSeq,
		Labels:    labels,
		LatencyMS: obs.LatencyMS,
	}
}

func riskNames(risks []types.Risk) []string {
	if len(risks) == 0 {
		return nil
	}
	names := make([]string, 0, len(risks))
	for _, r := range risks {
		names = append(names, r.Name())
	}
	return names
}

func resolutionName(w, h int) string {
	return fmt.Sprintf("%dx%d", w, h)
}
