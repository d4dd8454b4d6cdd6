// Command storyteller runs the bedtime story daemon on one device.
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/sarpel/BedtimeStoryTeller/internal/config"
	"github.com/sarpel/BedtimeStoryTeller/internal/runtime"
)

var version = "0.1.0-dev"

func main() {
	var (
		configPath  string
		logFormat   string
		checkOnly   bool
		showVersion bool
	)
	flag.StringVar(&configPath, "config", envOr("STORYTELLER_CONFIG", "storyteller.yaml"), "Path to configuration file")
	flag.StringVar(&logFormat, "log-format", "json", "Log format: json or text")
	flag.BoolVar(&checkOnly, "check", false, "Validate the configuration and exit")
	flag.BoolVar(&showVersion, "version", false, "Print version and exit")
	flag.Parse()

	if showVersion {
		fmt.Println(version)
		return
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		newLogger(os.Stderr, logFormat, slog.LevelInfo).Error("failed to load config",
			slog.String("path", configPath), slog.String("error", err.Error()))
		os.Exit(1)
	}
	if checkOnly {
		fmt.Printf("%s: ok (llm=%s tts=%s wakeword=%v)\n", configPath, cfg.LLM.Mode, cfg.TTS.Mode, cfg.Wakeword.Enabled)
		return
	}

	logger := newLogger(os.Stdout, logFormat, runtime.ParseLogLevel(cfg.Telemetry.LogLevel)).With(
		slog.String("device", cfg.Device.ID),
		slog.String("role", cfg.Device.Role),
	)
	logger.Info("starting storyteller", slog.String("version", version), slog.String("config", configPath))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := runtime.New(cfg, version, logger).Start(ctx); err != nil {
		logger.Error("runtime exited with error", slog.String("error", err.Error()))
		os.Exit(1)
	}
	logger.Info("shutdown complete")
}

func newLogger(w io.Writer, format string, level slog.Level) *slog.Logger {
	opts := &slog.HandlerOptions{Level: level}
	if format == "text" {
		return slog.New(slog.NewTextHandler(w, opts))
	}
	return slog.New(slog.NewJSONHandler(w, opts))
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
