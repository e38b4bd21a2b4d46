package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/v12510/GlassesVisionSystem/internal/console"
	"github.com/v12510/GlassesVisionSystem/internal/core"
)

const defaultConfigPath = "config/glasses.yaml"

// version is stamped by the build; "dev" for a plain go build.
var version = "dev"

func main() {
	configPath := flag.String("config", defaultConfigPath, "Path to configuration file")
	mode := flag.String("mode", "run", "Run mode: run (hardware) or dev (mock pipeline + console)")
	debug := flag.Bool("debug", false, "Enable debug logging")
	showVersion := flag.Bool("version", false, "Print version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Println(version)
		return
	}

	logLevel := slog.LevelInfo
	if *debug {
		logLevel = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel,
	})))

	var opts []core.Option
	switch *mode {
	case "run":
	case "dev":
		opts = append(opts, core.WithMockHardware())
	default:
		slog.Error("unknown mode", "mode", *mode)
		os.Exit(1)
	}

	slog.Info("starting glasses service",
		"version", version,
		"config", *configPath,
		"mode", *mode,
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)

	glasses, err := core.New(*configPath, version, opts...)
	if err != nil {
		slog.Error("failed to create glasses service", "error", err)
		os.Exit(1)
	}

	errChan := make(chan error, 1)
	go func() {
		errChan <- glasses.Run(ctx) // Always send, even if nil
	}()

	if *mode == "dev" {
		cons, err := console.New(glasses)
		if err != nil {
			slog.Error("failed to start console", "error", err)
			os.Exit(1)
		}
		// Logs share the terminal with the prompt from here on.
		slog.SetDefault(slog.New(slog.NewJSONHandler(cons.Stdout(), &slog.HandlerOptions{
			Level: logLevel,
		})))
		go cons.Run(ctx, cancel)
	}

	// Wait for a shutdown signal or service exit. SIGHUP reloads the
	// runtime-safe config subset without stopping the pipeline.
	var runErr error
wait:
	for {
		select {
		case sig := <-sigChan:
			if sig == syscall.SIGHUP {
				slog.Info("reloading configuration")
				if err := glasses.ReloadConfig(); err != nil {
					slog.Error("config reload failed", "error", err)
				}
				continue
			}
			slog.Info("received shutdown signal", "signal", sig.String())
			cancel()
			break wait
		case runErr = <-errChan:
			if runErr != nil {
				slog.Error("service error", "error", runErr)
			} else {
				slog.Info("service stopped via command")
			}
			break wait
		}
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), glasses.ShutdownTimeout())
	defer shutdownCancel()

	if err := glasses.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown failed", "error", err)
		os.Exit(1)
	}

	slog.Info("glasses service stopped")
	if runErr != nil {
		os.Exit(1)
	}
}
