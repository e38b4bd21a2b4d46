package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"math"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/v12510/GlassesVisionSystem/internal/journal"
)

const version = "v1.0.0"

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(1)
	}

	var err error
	switch os.Args[1] {
	case "view":
		err = cmdView(os.Args[2:])
	case "stats":
		err = cmdStats(os.Args[2:])
	case "export":
		err = cmdExport(os.Args[2:])
	case "version", "-version", "--version":
		fmt.Printf("glasses-log %s\n", version)
	case "help", "-h", "--help":
		usage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", os.Args[1])
		usage()
		os.Exit(1)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprint(os.Stderr, `glasses-log - pipeline journal analyzer

Usage:
  glasses-log view <journal> [-stage S] [-category C] [-trace ID] [-limit N]
  glasses-log stats <journal> [-deadline-ms N]
  glasses-log export <journal> [-out FILE]

Stages:     capture, preprocess, inference, scene, narrate, speech, system
Categories: frame, observation, utterance, state, error
`)
}

// journalPath peels the positional journal argument off the front so
// flags can follow it.
func journalPath(args []string) (string, []string, error) {
	if len(args) == 0 || strings.HasPrefix(args[0], "-") {
		return "", nil, fmt.Errorf("journal file argument required")
	}
	return args[0], args[1:], nil
}

func cmdView(args []string) error {
	fs := flag.NewFlagSet("view", flag.ExitOnError)
	stageName := fs.String("stage", "", "Filter by stage")
	categoryName := fs.String("category", "", "Filter by category")
	trace := fs.String("trace", "", "Filter by trace ID")
	device := fs.String("device", "", "Filter by device ID")
	limit := fs.Int("limit", 0, "Stop after N events (0 = all)")

	path, rest, err := journalPath(args)
	if err != nil {
		return err
	}
	if err := fs.Parse(rest); err != nil {
		return err
	}

	filter := journal.Filter{TraceID: *trace, DeviceID: *device}
	if *stageName != "" {
		s, ok := journal.ParseStage(*stageName)
		if !ok {
			return fmt.Errorf("unknown stage %q", *stageName)
		}
		filter.Stage = &s
	}
	if *categoryName != "" {
		c, ok := journal.ParseCategory(*categoryName)
		if !ok {
			return fmt.Errorf("unknown category %q", *categoryName)
		}
		filter.Category = &c
	}

	r, err := journal.NewFilteredReader(path, filter)
	if err != nil {
		return err
	}
	defer r.Close()

	count := 0
	for {
		event, err := r.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return fmt.Errorf("read journal: %w", err)
		}
		fmt.Println(formatEvent(event))
		count++
		if *limit > 0 && count >= *limit {
			break
		}
	}
	fmt.Fprintf(os.Stderr, "%d events\n", count)
	return nil
}

func formatEvent(e journal.Event) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s %-10s %-11s", e.Timestamp.Format("15:04:05.000"), e.Stage, e.Category)

	switch {
	case e.Frame != nil:
		fmt.Fprintf(&b, " seq=%d", e.Frame.Seq)
		if e.Frame.Width > 0 {
			fmt.Fprintf(&b, " %dx%d", e.Frame.Width, e.Frame.Height)
		}
		if e.Frame.Dropped {
			b.WriteString(" dropped")
		}
		if e.Frame.GateReason != "" {
			fmt.Fprintf(&b, " gate=%s", e.Frame.GateReason)
		}
	case e.Observation != nil:
		fmt.Fprintf(&b, " seq=%d", e.Observation.FrameSeq)
		if len(e.Observation.Labels) > 0 {
			fmt.Fprintf(&b, " labels=%s", strings.Join(e.Observation.Labels, ","))
		}
		if e.Observation.LatencyMS > 0 {
			fmt.Fprintf(&b, " latency=%.1fms", e.Observation.LatencyMS)
		}
		if e.Observation.Scene != "" {
			fmt.Fprintf(&b, " scene=%s", e.Observation.Scene)
		}
		if len(e.Observation.Risks) > 0 {
			fmt.Fprintf(&b, " risks=%s", strings.Join(e.Observation.Risks, ","))
		}
	case e.Utterance != nil:
		fmt.Fprintf(&b, " [P%d] %q", e.Utterance.Priority, e.Utterance.Text)
		if e.Utterance.Language != "" {
			fmt.Fprintf(&b, " lang=%s", e.Utterance.Language)
		}
		if e.Utterance.EndToEndMS > 0 {
			fmt.Fprintf(&b, " e2e=%.0fms", e.Utterance.EndToEndMS)
		}
	case e.StateChange != nil:
		fmt.Fprintf(&b, " %s:", e.StateChange.Entity)
		if e.StateChange.OldState != "" {
			fmt.Fprintf(&b, " %s ->", e.StateChange.OldState)
		}
		fmt.Fprintf(&b, " %s", e.StateChange.NewState)
		if e.StateChange.Reason != "" {
			fmt.Fprintf(&b, " (%s)", e.StateChange.Reason)
		}
	case e.Error != nil:
		fmt.Fprintf(&b, " %s: %s", e.Error.Stage, e.Error.Message)
		if e.Error.Context != "" {
			fmt.Fprintf(&b, " (%s)", e.Error.Context)
		}
	}
	return b.String()
}

func cmdStats(args []string) error {
	fs := flag.NewFlagSet("stats", flag.ExitOnError)
	deadlineMS := fs.Float64("deadline-ms", 500, "End-to-end latency deadline for miss counting")

	path, rest, err := journalPath(args)
	if err != nil {
		return err
	}
	if err := fs.Parse(rest); err != nil {
		return err
	}

	r, err := journal.NewReader(path)
	if err != nil {
		return err
	}
	defer r.Close()

	var (
		total       int
		first, last time.Time
		stageCounts = map[journal.Stage]int{}
		gateReasons = map[string]int{}

		captured, gated, sendDrops int
		inferLatency               []float64
		utterances, misses         int
		e2e                        []float64
		errors                     int
	)

	for {
		e, err := r.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return fmt.Errorf("read journal: %w", err)
		}

		total++
		if first.IsZero() || e.Timestamp.Before(first) {
			first = e.Timestamp
		}
		if e.Timestamp.After(last) {
			last = e.Timestamp
		}
		stageCounts[e.Stage]++

		switch {
		case e.Frame != nil:
			switch {
			case e.Stage == journal.StageCapture && !e.Frame.Dropped:
				captured++
			case e.Stage == journal.StagePreprocess && e.Frame.Dropped:
				gated++
				if e.Frame.GateReason != "" {
					gateReasons[e.Frame.GateReason]++
				}
			case e.Stage == journal.StageInference && e.Frame.Dropped:
				sendDrops++
			}
		case e.Observation != nil:
			if e.Stage == journal.StageInference && e.Observation.LatencyMS > 0 {
				inferLatency = append(inferLatency, e.Observation.LatencyMS)
			}
		case e.Utterance != nil:
			utterances++
			if e.Utterance.EndToEndMS > 0 {
				e2e = append(e2e, e.Utterance.EndToEndMS)
				if e.Utterance.EndToEndMS > *deadlineMS {
					misses++
				}
			}
		case e.Error != nil:
			errors++
		}
	}

	fmt.Printf("\nJournal Statistics\n")
	fmt.Printf("═══════════════════════════════════════════\n")
	fmt.Printf("  File:    %s\n", path)
	fmt.Printf("  Events:  %d\n", total)
	if !first.IsZero() {
		fmt.Printf("  Span:    %s - %s (%s)\n",
			first.Format("15:04:05"), last.Format("15:04:05"),
			last.Sub(first).Round(time.Second))
	}

	fmt.Printf("\n  Stage counts:\n")
	for s := journal.StageCapture; s <= journal.StageSystem; s++ {
		if n := stageCounts[s]; n > 0 {
			fmt.Printf("    %-12s %6d\n", s, n)
		}
	}

	fmt.Printf("\n  Frames:\n")
	fmt.Printf("    captured     %6d\n", captured)
	fmt.Printf("    gated        %6d%s\n", gated, reasonSummary(gateReasons))
	fmt.Printf("    send drops   %6d\n", sendDrops)

	if len(inferLatency) > 0 {
		sort.Float64s(inferLatency)
		fmt.Printf("\n  Inference:\n")
		fmt.Printf("    observations %6d\n", len(inferLatency))
		fmt.Printf("    latency p50/p95/p99   %.1f / %.1f / %.1f ms\n",
			percentile(inferLatency, 0.50),
			percentile(inferLatency, 0.95),
			percentile(inferLatency, 0.99))
	}

	fmt.Printf("\n  Speech:\n")
	fmt.Printf("    utterances   %6d\n", utterances)
	if len(e2e) > 0 {
		sort.Float64s(e2e)
		fmt.Printf("    end-to-end p50/p95    %.0f / %.0f ms\n",
			percentile(e2e, 0.50), percentile(e2e, 0.95))
		fmt.Printf("    deadline misses  %d (%.1f%% over %.0fms)\n",
			misses, float64(misses)/float64(len(e2e))*100, *deadlineMS)
	}

	fmt.Printf("\n  Errors:  %d\n\n", errors)
	return nil
}

func reasonSummary(reasons map[string]int) string {
	if len(reasons) == 0 {
		return ""
	}
	keys := make([]string, 0, len(reasons))
	for k := range reasons {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s=%d", k, reasons[k]))
	}
	return " (" + strings.Join(parts, " ") + ")"
}

func percentile(sorted []float64, p float64) float64 {
	if len(sorted) == 0 {
		return 0
	}
	idx := int(math.Ceil(p*float64(len(sorted)))) - 1
	if idx < 0 {
		idx = 0
	}
	if idx >= len(sorted) {
		idx = len(sorted) - 1
	}
	return sorted[idx]
}

// exportEvent renders stages and categories as names so the JSONL is
// usable without this package's constants.
type exportEvent struct {
	Timestamp   time.Time                 `json:"timestamp"`
	TraceID     string                    `json:"trace_id,omitempty"`
	DeviceID    string                    `json:"device_id,omitempty"`
	Stage       string                    `json:"stage"`
	Category    string                    `json:"category"`
	Frame       *journal.FrameEvent       `json:"frame,omitempty"`
	Observation *journal.ObservationEvent `json:"observation,omitempty"`
	Utterance   *journal.UtteranceEvent   `json:"utterance,omitempty"`
	StateChange *journal.StateChangeEvent `json:"state,omitempty"`
	Error       *journal.ErrorEventData   `json:"error,omitempty"`
}

func cmdExport(args []string) error {
	fs := flag.NewFlagSet("export", flag.ExitOnError)
	outPath := fs.String("out", "", "Output file (default stdout)")

	path, rest, err := journalPath(args)
	if err != nil {
		return err
	}
	if err := fs.Parse(rest); err != nil {
		return err
	}

	r, err := journal.NewReader(path)
	if err != nil {
		return err
	}
	defer r.Close()

	var w io.Writer = os.Stdout
	if *outPath != "" {
		f, err := os.Create(*outPath)
		if err != nil {
			return err
		}
		defer f.Close()
		w = f
	}

	enc := json.NewEncoder(w)
	count := 0
	for {
		e, err := r.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return fmt.Errorf("read journal: %w", err)
		}
		out := exportEvent{
			Timestamp:   e.Timestamp,
			TraceID:     e.TraceID,
			DeviceID:    e.DeviceID,
			Stage:       e.Stage.String(),
			Category:    e.Category.String(),
			Frame:       e.Frame,
			Observation: e.Observation,
			Utterance:   e.Utterance,
			StateChange: e.StateChange,
			Error:       e.Error,
		}
		if err := enc.Encode(out); err != nil {
			return fmt.Errorf("encode event: %w", err)
		}
		count++
	}
	fmt.Fprintf(os.Stderr, "%d events exported\n", count)
	return nil
}
