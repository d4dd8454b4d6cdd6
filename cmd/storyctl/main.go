// Command storyctl drives a storyteller daemon over the bus.
package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sarpel/BedtimeStoryTeller/internal/bus"
	"github.com/sarpel/BedtimeStoryTeller/internal/config"
	"github.com/spf13/cobra"
)

var version = "0.1.0-dev"

var (
	configFile string
	servers    []string
	timeout    time.Duration
)

var rootCmd = &cobra.Command{
	Use:           "storyctl",
	Short:         "Control a bedtime storyteller",
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "", "storyteller config file used for bus settings")
	rootCmd.PersistentFlags().StringSliceVarP(&servers, "server", "s", nil, "NATS server URL (overrides config)")
	rootCmd.PersistentFlags().DurationVar(&timeout, "timeout", 5*time.Second, "request timeout")

	rootCmd.AddCommand(tellCmd, stopCmd, statusCmd, listenCmd, engineCmd, wakeCmd, historyCmd, watchCmd, configCmd, versionCmd)
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

// busConfig resolves the bus settings from the config file and flags. An
// embedded server is reached on loopback.
func busConfig() (config.BusConfig, error) {
	cfg := config.Default()
	if configFile != "" {
		loaded, err := config.Load(configFile)
		if err != nil {
			return config.BusConfig{}, err
		}
		cfg = loaded
	}
	busCfg := cfg.Bus
	switch {
	case len(servers) > 0:
		busCfg.Servers = servers
	case busCfg.Embedded:
		busCfg.Servers = []string{fmt.Sprintf("nats://127.0.0.1:%d", busCfg.Port)}
	}
	return busCfg, nil
}

func connect(ctx context.Context) (*bus.Client, error) {
	cfg, err := busConfig()
	if err != nil {
		return nil, err
	}
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	return bus.Connect(ctx, cfg, "storyctl", log)
}
