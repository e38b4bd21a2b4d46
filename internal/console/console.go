// Package console provides the interactive prompt for glassesd's dev
// mode. The commands mirror what the wearer can do by voice and what
// the MQTT control topic accepts, so bench testing exercises the same
// paths as the glasses hardware.
package console

import (
	"context"
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/chzyer/readline"

	"github.com/v12510/GlassesVisionSystem/internal/core"
)

// Console drives a running pipeline from a terminal prompt.
type Console struct {
	g  *core.Glasses
	rl *readline.Instance
}

// New creates the console. The pipeline should already be running.
func New(g *core.Glasses) (*Console, error) {
	rl, err := readline.NewEx(&readline.Config{
		Prompt:          "glasses> ",
		InterruptPrompt: "^C",
		EOFPrompt:       "exit",
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create readline: %w", err)
	}
	return &Console{g: g, rl: rl}, nil
}

// Stdout returns a writer that coordinates with the prompt. Route log
// output here so lines do not tear the input line.
func (c *Console) Stdout() io.Writer {
	return c.rl.Stdout()
}

// Run starts the command loop. It returns on quit, EOF or context
// cancellation; quit and EOF also cancel the whole process.
func (c *Console) Run(ctx context.Context, cancel context.CancelFunc) {
	defer c.rl.Close()

	c.printHelp()

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		line, err := c.rl.Readline()
		if err != nil {
			if err == readline.ErrInterrupt {
				continue
			}
			fmt.Fprintln(c.rl.Stdout(), "Exiting...")
			cancel()
			return
		}

		input := strings.TrimSpace(line)
		if input == "" {
			continue
		}

		parts := strings.Fields(input)
		cmd := strings.ToLower(parts[0])
		args := parts[1:]

		switch cmd {
		case "help", "?":
			c.printHelp()

		case "status", "s":
			c.cmdStatus()

		case "health":
			c.cmdHealth()

		case "scan":
			c.cmdScan(args)

		case "ahead", "a":
			c.report(c.g.DescribeAhead())

		case "lang", "l":
			c.cmdLang(args)

		case "battery", "b":
			c.report(c.g.SpeakBattery())

		case "start":
			c.report(c.g.Resume())

		case "stop":
			c.report(c.g.Pause())

		case "say":
			c.cmdSay(args)

		case "voice", "v":
			c.cmdVoice(args)

		case "reload":
			c.report(c.g.ReloadConfig())

		case "quit", "exit", "q":
			fmt.Fprintln(c.rl.Stdout(), "Exiting...")
			cancel()
			return

		default:
			fmt.Fprintf(c.rl.Stdout(), "Unknown command: %s (type 'help' for commands)\n", cmd)
		}
	}
}

func (c *Console) printHelp() {
	fmt.Fprintln(c.rl.Stdout(), `
Glasses Commands:
  Perception:
    scan [on|off]      - Toggle or set continuous narration
    ahead, a           - Describe what is ahead right now
    status, s          - Show pipeline status
    health             - Show health check result

  Speech:
    lang [en|zh], l    - Switch or cycle narration language
    battery, b         - Announce battery level
    say <text>         - Speak arbitrary text
    voice <text>, v    - Feed a transcript through intent matching

  Pipeline:
    start              - Resume frame processing
    stop               - Pause frame processing
    reload             - Re-read the config file

  General:
    help, ?            - Show this help
    quit, q            - Exit`)
}

// report prints OK or the error, the common tail of most commands.
func (c *Console) report(err error) {
	if err != nil {
		fmt.Fprintf(c.rl.Stdout(), "Error: %v\n", err)
		return
	}
	fmt.Fprintln(c.rl.Stdout(), "OK")
}

func (c *Console) cmdStatus() {
	st := c.g.Status()
	w := c.rl.Stdout()

	fmt.Fprintln(w, "\nPipeline Status")
	fmt.Fprintln(w, "-------------------------------------------")
	for _, key := range []string{
		"device_id", "version", "uptime_s", "running", "scan_mode",
		"language", "low_power", "battery_percent", "charging",
	} {
		if v, ok := st[key]; ok {
			fmt.Fprintf(w, "  %-18s %v\n", key+":", v)
		}
	}
	for _, section := range []string{"stream", "detector", "speech", "latency"} {
		sub, ok := st[section].(map[string]interface{})
		if !ok || len(sub) == 0 {
			continue
		}
		fmt.Fprintf(w, "  %s:\n", section)
		keys := make([]string, 0, len(sub))
		for k := range sub {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			fmt.Fprintf(w, "    %-18s %v\n", k+":", sub[k])
		}
	}
	fmt.Fprintln(w)
}

func (c *Console) cmdHealth() {
	h := c.g.HealthCheck()
	w := c.rl.Stdout()

	fmt.Fprintf(w, "\nHealth: %s\n", h.Status)
	fmt.Fprintln(w, "-------------------------------------------")
	fmt.Fprintf(w, "  stream connected:  %v\n", h.StreamConnected)
	fmt.Fprintf(w, "  mqtt connected:    %v\n", h.MQTTConnected)
	fmt.Fprintf(w, "  speech ready:      %v\n", h.SpeechReady)
	fmt.Fprintf(w, "  latency mean/p95:  %.1f / %.1f ms\n", h.LatencyMeanMS, h.LatencyP95MS)

	if len(h.Detectors) > 0 {
		fmt.Fprintln(w, "  detectors:")
		ids := make([]string, 0, len(h.Detectors))
		for id := range h.Detectors {
			ids = append(ids, id)
		}
		sort.Strings(ids)
		for _, id := range ids {
			d := h.Detectors[id]
			fmt.Fprintf(w, "    %-16s processed=%d dropped=%d drop_rate=%.2f avg=%.1fms restarts=%d\n",
				id, d.FramesProcessed, d.FramesDropped, d.DropRate, d.AvgLatencyMS, d.Restarts)
		}
	}
	fmt.Fprintln(w)
}

func (c *Console) cmdScan(args []string) {
	var err error
	switch {
	case len(args) == 0:
		err = c.g.SetScanMode(!c.g.ScanMode())
	case args[0] == "on":
		err = c.g.SetScanMode(true)
	case args[0] == "off":
		err = c.g.SetScanMode(false)
	default:
		fmt.Fprintln(c.rl.Stdout(), "Usage: scan [on|off]")
		return
	}
	if err != nil {
		fmt.Fprintf(c.rl.Stdout(), "Error: %v\n", err)
		return
	}
	fmt.Fprintf(c.rl.Stdout(), "Scan mode %s\n", onOff(c.g.ScanMode()))
}

func (c *Console) cmdLang(args []string) {
	if len(args) == 0 {
		fmt.Fprintf(c.rl.Stdout(), "Language: %s\n", c.g.CycleLanguage())
		return
	}
	if err := c.g.SetLanguage(args[0]); err != nil {
		fmt.Fprintf(c.rl.Stdout(), "Error: %v\n", err)
		return
	}
	fmt.Fprintf(c.rl.Stdout(), "Language: %s\n", args[0])
}

func (c *Console) cmdSay(args []string) {
	if len(args) == 0 {
		fmt.Fprintln(c.rl.Stdout(), "Usage: say <text>")
		return
	}
	c.report(c.g.Speak(strings.Join(args, " ")))
}

// cmdVoice runs a typed transcript through the same matcher the
// microphone path uses.
func (c *Console) cmdVoice(args []string) {
	if len(args) == 0 {
		fmt.Fprintln(c.rl.Stdout(), "Usage: voice <text>")
		fmt.Fprintln(c.rl.Stdout(), "  Example: voice what's ahead")
		return
	}
	text := strings.Join(args, " ")
	intent, ok := c.g.VoiceCommand(text)
	if !ok {
		fmt.Fprintf(c.rl.Stdout(), "No intent matched: %q\n", text)
		return
	}
	fmt.Fprintf(c.rl.Stdout(), "Matched intent: %s\n", intent)
}

func onOff(v bool) string {
	if v {
		return "on"
	}
	return "off"
}
