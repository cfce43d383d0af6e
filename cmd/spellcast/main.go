// Command spellcast is the main entry point for the spellcast recognition
// server.
//
// By default it serves the HTTP and WebSocket API. With -stdin it instead
// reads one utterance per line from standard input and prints the
// recognised spell for each, which is handy for tuning a catalogue.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/MrWong99/spellcast/internal/app"
	"github.com/MrWong99/spellcast/internal/config"
	"github.com/MrWong99/spellcast/internal/observe"
	"github.com/MrWong99/spellcast/internal/session"
	"github.com/MrWong99/spellcast/pkg/provider/stt/lines"
)

func main() {
	os.Exit(run())
}

func run() int {
	// ── CLI flags ──────────────────────────────────────────────────────────────
	configPath := flag.String("config", "config.yaml", "path to the YAML configuration file")
	stdin := flag.Bool("stdin", false, "recognise utterances read line by line from standard input")
	player := flag.String("player", "terminal", "player ID used with -stdin")
	flag.Parse()

	// ── Load configuration ────────────────────────────────────────────────────
	cfg, err := config.Load(*configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "spellcast: config file %q not found, copy configs/example.yaml to get started\n", *configPath)
		} else {
			fmt.Fprintf(os.Stderr, "spellcast: %v\n", err)
		}
		return 1
	}

	// ── Logger ────────────────────────────────────────────────────────────────
	var level slog.LevelVar
	level.Set(cfg.Server.LogLevel.Level())
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: &level})))

	slog.Info("spellcast starting",
		"config", *configPath,
		"catalogue", cfg.Catalogue.Path,
		"listen_addr", cfg.Server.ListenAddr,
		"log_level", cfg.Server.LogLevel,
	)

	// ── Signal context ────────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Telemetry ─────────────────────────────────────────────────────────────
	tel, err := observe.InitProvider(ctx, observe.ProviderConfig{
		ServiceName:    cfg.Telemetry.ServiceName,
		ServiceVersion: cfg.Telemetry.ServiceVersion,
		SampleRatio:    cfg.Telemetry.SampleRatio,
	})
	if err != nil {
		slog.Error("failed to initialise telemetry", "err", err)
		return 1
	}
	defer func() {
		if err := tel.Shutdown(context.Background()); err != nil {
			slog.Warn("telemetry shutdown error", "err", err)
		}
	}()

	// ── Application ───────────────────────────────────────────────────────────
	opts := []app.Option{
		app.WithLevelVar(&level),
		app.WithMetrics(tel.Metrics),
		app.WithMetricsHandler(tel.Handler),
	}
	if *stdin {
		opts = append(opts, app.WithOnCast(printCast))
	}
	application, err := app.New(ctx, cfg, opts...)
	if err != nil {
		slog.Error("failed to initialise application", "err", err)
		return 1
	}

	if *stdin {
		err := application.Stream(ctx, *player, lines.New(os.Stdin))
		if err != nil && !errors.Is(err, context.Canceled) {
			slog.Error("stdin stream error", "err", err)
			return 1
		}
		return shutdown(application)
	}

	// ── Hot reload ────────────────────────────────────────────────────────────
	watcher, err := config.NewWatcher(*configPath, func(old, new *config.Config) {
		application.Reconfigure(ctx, old, new)
	})
	if err != nil {
		slog.Warn("config hot reload disabled", "err", err)
	} else {
		defer watcher.Stop()
	}

	slog.Info("server ready, press Ctrl+C to shut down")

	if err := application.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("run error", "err", err)
		return 1
	}

	slog.Info("shutdown signal received, stopping")
	return shutdown(application)
}

// shutdown stops the application within a fixed grace period.
func shutdown(application *app.App) int {
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if err := application.Shutdown(ctx); err != nil {
		slog.Error("shutdown error", "err", err)
		return 1
	}
	slog.Info("goodbye")
	return 0
}

// printCast writes one line per recognised utterance to standard output.
func printCast(ev session.Event) {
	mark := "-"
	if ev.Accepted {
		mark = "+"
	}
	fmt.Printf("%s %-20s %.3f  %q -> %q\n",
		mark, ev.Result.SpellID, ev.Result.Similarity, ev.Transcript.Text, ev.Result.Phrase)
}
