// Command raisehand is the terminal learning companion: browse lessons and
// raise a hand to ask the voice assistant about the current one.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/MrWong99/raisehand/internal/app"
	"github.com/MrWong99/raisehand/internal/config"
	"github.com/MrWong99/raisehand/internal/observe"
	"github.com/MrWong99/raisehand/internal/resilience"
	"github.com/MrWong99/raisehand/pkg/provider/live"
	"github.com/MrWong99/raisehand/pkg/provider/live/gemini"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	os.Exit(run())
}

func run() int {
	// ── CLI flags ──────────────────────────────────────────────────────────────
	configPath := flag.String("config", "config.yaml", "path to the YAML configuration file")
	flag.Parse()

	// ── Load configuration ────────────────────────────────────────────────────
	cfg, err := config.Load(*configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "raisehand: config file %q not found, copy configs/example.yaml to get started\n", *configPath)
		} else {
			fmt.Fprintf(os.Stderr, "raisehand: %v\n", err)
		}
		return 1
	}

	// ── Logger ────────────────────────────────────────────────────────────────
	// The terminal belongs to the UI, so logs go to a file or nowhere.
	logOut := io.Discard
	if cfg.Server.LogFile != "" {
		f, err := os.OpenFile(cfg.Server.LogFile, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
		if err != nil {
			fmt.Fprintf(os.Stderr, "raisehand: open log file: %v\n", err)
			return 1
		}
		defer f.Close()
		logOut = f
	}
	slog.SetDefault(newLogger(logOut, cfg.Server.LogLevel))

	slog.Info("raisehand starting",
		"version", version,
		"config", *configPath,
		"listen_addr", cfg.Server.ListenAddr,
		"log_level", cfg.Server.LogLevel,
	)

	// ── Telemetry ─────────────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTelemetry, err := observe.InitProvider(ctx, observe.ProviderConfig{ServiceVersion: version})
	if err != nil {
		slog.Error("failed to initialise telemetry", "err", err)
		return 1
	}
	defer func() {
		if err := shutdownTelemetry(context.Background()); err != nil {
			slog.Warn("telemetry shutdown error", "err", err)
		}
	}()

	// ── Provider registry ─────────────────────────────────────────────────────
	reg := config.NewRegistry()
	registerBuiltinProviders(reg)

	provider, err := reg.CreateLive(cfg.Providers.Live)
	if err != nil {
		slog.Error("failed to create live provider", "name", cfg.Providers.Live.Name, "err", err)
		fmt.Fprintf(os.Stderr, "raisehand: %v\n", err)
		return 1
	}
	slog.Info("provider created", "kind", "live", "name", cfg.Providers.Live.Name)
	provider = resilience.WrapProvider(provider, resilience.BreakerConfig{Name: cfg.Providers.Live.Name})

	// ── Application ───────────────────────────────────────────────────────────
	application, err := app.New(cfg, provider)
	if err != nil {
		slog.Error("failed to initialise application", "err", err)
		fmt.Fprintf(os.Stderr, "raisehand: %v\n", err)
		return 1
	}

	runErr := application.Run(ctx)
	if runErr != nil && !errors.Is(runErr, context.Canceled) {
		slog.Error("run error", "err", runErr)
	}

	// ── Graceful shutdown ─────────────────────────────────────────────────────
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := application.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown error", "err", err)
		return 1
	}
	if runErr != nil && !errors.Is(runErr, context.Canceled) {
		fmt.Fprintf(os.Stderr, "raisehand: %v\n", runErr)
		return 1
	}
	slog.Info("goodbye")
	return 0
}

// ── Provider wiring ───────────────────────────────────────────────────────────

// registerBuiltinProviders wires the built-in live provider factories into reg.
func registerBuiltinProviders(reg *config.Registry) {
	reg.RegisterLive("gemini-live", func(entry config.ProviderEntry) (live.Provider, error) {
		if entry.APIKey == "" {
			return nil, fmt.Errorf("gemini-live: api key required (set providers.live.api_key or %s)", config.DefaultAPIKeyEnv)
		}
		return gemini.New(entry.APIKey,
			gemini.WithModel(entry.Model),
			gemini.WithBaseURL(entry.BaseURL),
		), nil
	})
}

// ── Logger ─────────────────────────────────────────────────────────────────────

func newLogger(w io.Writer, level config.LogLevel) *slog.Logger {
	var lvl slog.Level
	switch level {
	case config.LogDebug:
		lvl = slog.LevelDebug
	case config.LogWarn:
		lvl = slog.LevelWarn
	case config.LogError:
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: lvl}))
}
