// Package narrate turns scene reports into prioritized utterances in the
// configured language. Alerts come first and preempt, object callouts
// and scene summaries follow, each layer with its own rate limit so the
// audio channel never floods.
package narrate

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/v12510/GlassesVisionSystem/internal/config"
	"github.com/v12510/GlassesVisionSystem/internal/types"
)

// priorityObjects are always called out at normal verbosity. Everything
// else with a spatial relation only speaks at detailed.
var priorityObjects = map[string]bool{
	"person":        true,
	"stairs":        true,
	"door":          true,
	"traffic light": true,
	"stop sign":     true,
}

// vehicleAlertLabels collapse to the generic vehicle warning phrase.
var vehicleAlertLabels = map[string]bool{
	"car":        true,
	"bus":        true,
	"truck":      true,
	"bicycle":    true,
	"motorcycle": true,
}

// Narrator renders reports into speech text. Safe for concurrent use:
// the results consumer narrates while voice commands switch language.
type Narrator struct {
	mu              sync.Mutex
	language        string
	verbosity       string
	alertCooldown   time.Duration
	summaryInterval time.Duration

	lastAlertAt   map[string]time.Time
	lastObjects   string
	lastObjectsAt time.Time
	lastSummaryAt time.Time

	now func() time.Time
}

func New(cfg config.NarrationConfig) *Narrator {
	return &Narrator{
		language:        cfg.Language,
		verbosity:       cfg.Verbosity,
		alertCooldown:   time.Duration(cfg.AlertCooldownS) * time.Second,
		summaryInterval: time.Duration(cfg.SummaryIntervalS) * time.Second,
		lastAlertAt:     make(map[string]time.Time),
		now:             time.Now,
	}
}

func (n *Narrator) Language() string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.language
}

func (n *Narrator) SetLanguage(lang string) error {
	if lang != "en" && lang != "zh" {
		return fmt.Errorf("unsupported language %q", lang)
	}
	n.mu.Lock()
	defer n.mu.Unlock()
	n.language = lang
	return nil
}

// CycleLanguage flips between English and Chinese and returns the new
// code. Backs the "switch language mode" command.
func (n *Narrator) CycleLanguage() string {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.language == "en" {
		n.language = "zh"
	} else {
		n.language = "en"
	}
	return n.language
}

func (n *Narrator) SetVerbosity(v string) error {
	switch v {
	case "minimal", "normal", "detailed":
	default:
		return fmt.Errorf("unsupported verbosity %q", v)
	}
	n.mu.Lock()
	defer n.mu.Unlock()
	n.verbosity = v
	return nil
}

// Reset clears the rate-limit state so the next report speaks in full.
// Called when scan mode turns on.
func (n *Narrator) Reset() {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.lastAlertAt = make(map[string]time.Time)
	n.lastObjects = ""
	n.lastObjectsAt = time.Time{}
	n.lastSummaryAt = time.Time{}
}

// Narrate renders one report into zero or more utterances: deduplicated
// alerts, then changed object callouts, then a rate-limited summary.
func (n *Narrator) Narrate(report *types.SceneReport) []types.Utterance {
	n.mu.Lock()
	defer n.mu.Unlock()

	p := phrasesFor(n.language)
	now := n.now()
	var out []types.Utterance

	for _, risk := range report.Risks {
		if risk.Severity < types.SeverityWarning {
			continue
		}
		key := risk.Name() + ":" + risk.Direction
		if last, ok := n.lastAlertAt[key]; ok && now.Sub(last) < n.alertCooldown {
			continue
		}
		n.lastAlertAt[key] = now

		var text string
		switch {
		case risk.Kind == types.RiskFastMoving && vehicleAlertLabels[risk.Label]:
			text = p.vehicleApproaching(risk.Direction)
		case risk.Kind == types.RiskFastMoving:
			text = p.fastMoving(risk.Label, risk.Direction)
		default:
			text = p.veryClose(risk.Label, risk.Direction)
		}
		out = append(out, n.utterance(text, types.PriorityAlert, risk.Severity, report.TraceID, now))
	}

	if n.verbosity == "minimal" {
		return out
	}

	if text, key := n.objectCallout(report, p); key != "" {
		if key != n.lastObjects || now.Sub(n.lastObjectsAt) >= n.summaryInterval {
			n.lastObjects = key
			n.lastObjectsAt = now
			out = append(out, n.utterance(text, types.PriorityObject, types.SeverityInfo, report.TraceID, now))
		}
	} else {
		// View emptied: the next appearance is news again.
		n.lastObjects = ""
	}

	if now.Sub(n.lastSummaryAt) >= n.summaryInterval {
		if text := summaryText(report, p); text != "" {
			n.lastSummaryAt = now
			out = append(out, n.utterance(text, types.PrioritySummary, types.SeverityInfo, report.TraceID, now))
		}
	}
	return out
}

// Describe renders the full current view for the "what's ahead" query,
// ignoring every rate limit.
func (n *Narrator) Describe(report *types.SceneReport) types.Utterance {
	n.mu.Lock()
	defer n.mu.Unlock()

	p := phrasesFor(n.language)
	now := n.now()

	if report == nil {
		return n.utterance(p.nothingAhead, types.PriorityObject, types.SeverityInfo, "", now)
	}

	var parts []string
	seen := make(map[string]bool)
	for _, rel := range report.Relations {
		key := rel.Label + ":" + rel.Position
		if seen[key] {
			continue
		}
		seen[key] = true
		parts = append(parts, p.objectAt(rel.Label, rel.Position))
	}
	if text := summaryText(report, p); text != "" {
		parts = append(parts, text)
	}

	text := p.nothingAhead
	if len(parts) > 0 {
		text = strings.Join(parts, ", ")
	}
	return n.utterance(text, types.PriorityObject, types.SeverityInfo, report.TraceID, now)
}

// BatteryReport renders the battery answer in the current language.
func (n *Narrator) BatteryReport(pct int, charging bool) types.Utterance {
	n.mu.Lock()
	defer n.mu.Unlock()
	p := phrasesFor(n.language)
	return n.utterance(p.battery(pct, charging), types.PriorityObject, types.SeverityInfo, "", n.now())
}

// ConfirmScanMode renders the scan-mode toggle confirmation.
func (n *Narrator) ConfirmScanMode(enabled bool) types.Utterance {
	n.mu.Lock()
	defer n.mu.Unlock()
	p := phrasesFor(n.language)
	text := p.scanOff
	if enabled {
		text = p.scanOn
	}
	return n.utterance(text, types.PriorityObject, types.SeverityInfo, "", n.now())
}

// ConfirmLanguage announces the active language, phrased in it.
func (n *Narrator) ConfirmLanguage() types.Utterance {
	n.mu.Lock()
	defer n.mu.Unlock()
	p := phrasesFor(n.language)
	return n.utterance(p.languageSet, types.PriorityObject, types.SeverityInfo, "", n.now())
}

// objectCallout joins the callout-worthy relations into one line. The
// key is order-independent so reshuffled detections do not re-announce
// an unchanged view.
func (n *Narrator) objectCallout(report *types.SceneReport, p phrases) (text, key string) {
	var keys, parts []string
	seen := make(map[string]bool)
	for _, rel := range report.Relations {
		if n.verbosity != "detailed" && !priorityObjects[rel.Label] {
			continue
		}
		k := rel.Label + ":" + rel.Position
		if seen[k] {
			continue
		}
		seen[k] = true
		keys = append(keys, k)
		parts = append(parts, p.objectAt(rel.Label, rel.Position))
	}
	if len(parts) == 0 {
		return "", ""
	}
	sort.Strings(keys)
	return strings.Join(parts, ", "), strings.Join(keys, ",")
}

func summaryText(report *types.SceneReport, p phrases) string {
	var parts []string
	if phrase, ok := p.scenes[report.Scene]; ok {
		parts = append(parts, phrase)
	}
	if report.Crowded {
		parts = append(parts, p.crowded)
	}
	switch report.Lighting {
	case types.LightingLow:
		parts = append(parts, p.lowLight)
	case types.LightingOverexposed:
		parts = append(parts, p.bright)
	}
	return strings.Join(parts, ", ")
}

func (n *Narrator) utterance(text string, priority int, sev types.Severity, traceID string, now time.Time) types.Utterance {
	return types.Utterance{
		Text:     text,
		Language: n.language,
		Priority: priority,
		TraceID:  traceID,
		Severity: sev,
		Created:  now,
	}
}
