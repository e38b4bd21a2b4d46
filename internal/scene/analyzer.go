// Package scene scores observations into risks, spatial relations and a
// scene classification. Pure arithmetic over tracked object positions;
// deterministic, no I/O, cheap enough to run on every observation.
package scene

import (
	"log/slog"
	"math"
	"sort"

	"github.com/v12510/GlassesVisionSystem/internal/config"
	"github.com/v12510/GlassesVisionSystem/internal/types"
)

// Relation bands around the frame centreline, pixels. Left and right
// need a clear offset; ahead is a narrow corridor. Objects between the
// bands get no relation entry.
const (
	relationSideBandPx  = 100
	relationAheadBandPx = 50
)

// fastSeverityFactor raises a fast_moving risk from caution to warning
// when the speed passes this multiple of the threshold.
const fastSeverityFactor = 4

// Lighting thresholds over mean frame brightness.
const (
	lowLightBelow    = 50
	overexposedAbove = 200
)

var vehicleLabels = map[string]bool{
	"car":        true,
	"bus":        true,
	"truck":      true,
	"bicycle":    true,
	"motorcycle": true,
}

// sceneRule matches a scene by the labels present. Every required label
// must be in view; when optional labels are listed at least one must be.
type sceneRule struct {
	name     string
	required []string
	optional []string
}

func defaultSceneRules() []sceneRule {
	return []sceneRule{
		{name: "crosswalk", required: []string{"person", "traffic light"}},
		{name: "office", required: []string{"chair", "computer"}, optional: []string{"desk", "book"}},
	}
}

// Fallback classification when no rule matches.
var (
	streetLabels = map[string]bool{
		"car": true, "bus": true, "truck": true, "bicycle": true,
		"motorcycle": true, "traffic light": true, "stop sign": true,
	}
	indoorLabels = map[string]bool{
		"chair": true, "couch": true, "bed": true, "tv": true,
		"laptop": true, "desk": true, "dining table": true,
	}
)

// Analyzer tracks objects across observations and derives the scene
// report. One analyzer per pipeline; not safe for concurrent use, the
// results consumer owns it.
type Analyzer struct {
	cfg    config.SceneConfig
	rules  []sceneRule
	tracks map[string]*track
}

func New(cfg config.SceneConfig) *Analyzer {
	return &Analyzer{
		cfg:    cfg,
		rules:  defaultSceneRules(),
		tracks: make(map[string]*track),
	}
}

// Reset drops all tracking state. Called on mode switches so stale
// motion does not leak into a fresh session.
func (a *Analyzer) Reset() {
	a.tracks = make(map[string]*track)
}

// Analyze scores one observation. Box centres are converted to pixel
// space with the observation's frame dimensions, so reports stay
// comparable when the adaptive tuner changes resolution.
func (a *Analyzer) Analyze(obs *types.Observation) types.SceneReport {
	report := types.NewSceneReport(obs.DeviceID, obs.FrameSeq, obs.TraceID)

	if obs.FrameWidth <= 0 || obs.FrameHeight <= 0 {
		slog.Warn("observation without frame dimensions, skipping analysis",
			"seq", obs.FrameSeq)
		return report
	}
	center := position{
		x: float64(obs.FrameWidth) / 2,
		y: float64(obs.FrameHeight) / 2,
	}

	a.updateTracks(obs)

	report.Scene = a.classify(obs.Detections)
	report.Lighting = lighting(obs.Brightness)
	report.Crowded = a.crowded(obs)
	report.Relations = a.relations(obs, center)
	report.Risks = a.risks(obs, center)
	report.Tracks = a.trackSummaries(center)
	return report
}

// updateTracks follows one track per label, fed by the most confident
// detection of that label. Labels that left the view lose their track,
// matching how the tracker treats occlusion: better to re-learn than to
// trust stale motion.
func (a *Analyzer) updateTracks(obs *types.Observation) {
	best := make(map[string]types.Detection, len(obs.Detections))
	for _, det := range obs.Detections {
		if cur, ok := best[det.Label]; !ok || det.Confidence > cur.Confidence {
			best[det.Label] = det
		}
	}

	for label, det := range best {
		tr, ok := a.tracks[label]
		if !ok {
			tr = newTrack(label, a.cfg.ContextWindow)
			a.tracks[label] = tr
		}
		cx, cy := det.Box.Center()
		tr.add(position{
			x: cx * float64(obs.FrameWidth),
			y: cy * float64(obs.FrameHeight),
		})
	}

	for label := range a.tracks {
		if _, ok := best[label]; !ok {
			delete(a.tracks, label)
		}
	}
}

func (a *Analyzer) classify(dets []types.Detection) string {
	present := make(map[string]bool, len(dets))
	for _, det := range dets {
		present[det.Label] = true
	}

	for _, rule := range a.rules {
		match := true
		for _, label := range rule.required {
			if !present[label] {
				match = false
				break
			}
		}
		if match && len(rule.optional) > 0 {
			match = false
			for _, label := range rule.optional {
				if present[label] {
					match = true
					break
				}
			}
		}
		if match {
			return rule.name
		}
	}

	for label := range present {
		if streetLabels[label] {
			return "street"
		}
	}
	for label := range present {
		if indoorLabels[label] {
			return "indoor"
		}
	}
	return "unknown"
}

func lighting(brightness float64) string {
	switch {
	case brightness < lowLightBelow:
		return types.LightingLow
	case brightness > overexposedAbove:
		return types.LightingOverexposed
	default:
		return types.LightingNormal
	}
}

func (a *Analyzer) crowded(obs *types.Observation) bool {
	return obs.CountLabel("person") > a.cfg.CrowdThreshold
}

// relations places each detection against the centreline bands. The
// strict bands come before risk directions: a relation is narration
// material and should only exist when the placement is unambiguous.
func (a *Analyzer) relations(obs *types.Observation, center position) []types.SpatialRelation {
	var out []types.SpatialRelation
	for _, det := range obs.Detections {
		cx, _ := det.Box.Center()
		dx := cx*float64(obs.FrameWidth) - center.x

		var pos string
		switch {
		case dx < -relationSideBandPx:
			pos = "left"
		case dx > relationSideBandPx:
			pos = "right"
		case math.Abs(dx) <= relationAheadBandPx:
			pos = "ahead"
		default:
			continue
		}
		out = append(out, types.SpatialRelation{
			Label:      det.Label,
			Position:   pos,
			Confidence: det.Confidence,
		})
	}
	return out
}

// direction coarsely places a hazard for alert phrasing. Unlike
// relations, every hazard gets a side: the wearer needs "from the left"
// even when the object sits between the relation bands.
func direction(dx float64) string {
	switch {
	case math.Abs(dx) <= relationAheadBandPx:
		return "ahead"
	case dx < 0:
		return "left"
	default:
		return "right"
	}
}

func (a *Analyzer) risks(obs *types.Observation, center position) []types.Risk {
	byName := make(map[string]types.Risk)
	keep := func(r types.Risk) {
		name := r.Name()
		if cur, ok := byName[name]; !ok || r.Severity > cur.Severity {
			byName[name] = r
		}
	}

	for label, tr := range a.tracks {
		speed := tr.speed()
		if speed <= a.cfg.SpeedThreshold {
			continue
		}

		severity := types.SeverityCaution
		if speed > a.cfg.SpeedThreshold*fastSeverityFactor {
			severity = types.SeverityWarning
		}
		if vehicleLabels[label] && tr.approaching(center) {
			severity = types.SeverityCritical
		}
		keep(types.Risk{
			Kind:            types.RiskFastMoving,
			Label:           label,
			SpeedPxPerFrame: speed,
			Direction:       direction(tr.last().x - center.x),
			Severity:        severity,
		})
	}

	for _, det := range obs.Detections {
		cx, cy := det.Box.Center()
		p := position{
			x: cx * float64(obs.FrameWidth),
			y: cy * float64(obs.FrameHeight),
		}
		dx := p.x - center.x

		if det.DistanceMM > 0 && det.DistanceMM < a.cfg.DistanceNearMM {
			keep(types.Risk{
				Kind:       types.RiskNearby,
				Label:      det.Label,
				DistanceMM: det.DistanceMM,
				Direction:  direction(dx),
				Severity:   types.SeverityWarning,
			})
			continue
		}
		if p.distanceTo(center) < float64(a.cfg.DistanceNearPx) {
			keep(types.Risk{
				Kind:      types.RiskNearby,
				Label:     det.Label,
				Direction: direction(dx),
				Severity:  types.SeverityCaution,
			})
		}
	}

	if len(byName) == 0 {
		return nil
	}
	out := make([]types.Risk, 0, len(byName))
	for _, r := range byName {
		out = append(out, r)
	}
	// Highest severity first, name breaks ties for stable output.
	sort.Slice(out, func(i, j int) bool {
		if out[i].Severity != out[j].Severity {
			return out[i].Severity > out[j].Severity
		}
		return out[i].Name() < out[j].Name()
	})
	return out
}

func (a *Analyzer) trackSummaries(center position) []types.TrackSummary {
	if len(a.tracks) == 0 {
		return nil
	}
	out := make([]types.TrackSummary, 0, len(a.tracks))
	for label, tr := range a.tracks {
		out = append(out, types.TrackSummary{
			Label:           label,
			SpeedPxPerFrame: tr.speed(),
			Approaching:     tr.approaching(center),
			Activity:        tr.activity(),
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Label < out[j].Label })
	return out
}
