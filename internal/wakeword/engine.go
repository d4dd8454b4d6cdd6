// Package wakeword owns the wake-word detection engines and the manager that
// keeps at most one of them resident.
package wakeword

import (
	"context"
	"log/slog"
	"sort"
	"time"

	"github.com/sarpel/BedtimeStoryTeller/internal/config"
)

// Status is the lifecycle state of the resident engine.
type Status string

const (
	StatusUninitialized Status = "uninitialized"
	StatusInitializing  Status = "initializing"
	StatusReady         Status = "ready"
	StatusListening     Status = "listening"
	StatusError         Status = "error"
	StatusStopped       Status = "stopped"
)

// Detection is a single wake-word hit.
type Detection struct {
	Keyword    string    `json:"keyword"`
	Confidence float64   `json:"confidence"`
	Timestamp  time.Time `json:"timestamp"`
	Engine     string    `json:"engine"`
}

// Engine is implemented by every detector in the registry. Engines are only
// ever driven by the Manager, one call at a time.
type Engine interface {
	Initialize(ctx context.Context) error
	StartListening(ctx context.Context, onDetect func(keyword string, confidence float64)) error
	// StopListening must release capture resources even when the detection
	// loop has already died.
	StopListening(ctx context.Context) error
	Release(ctx context.Context) error
	Keywords() []string
}

// EngineConfig is the engine-agnostic configuration handed to constructors.
type EngineConfig struct {
	Command       string
	AccessKey     string
	ModelPath     string
	Keywords      []string
	Sensitivities []float64
	Threshold     float64
	Debounce      time.Duration
	SampleRate    int
	FrameLength   int
	MockInterval  time.Duration
}

// ConfigFromSettings maps the wakeword config section to an EngineConfig.
func ConfigFromSettings(cfg config.WakewordConfig) EngineConfig {
	return EngineConfig{
		Command:       cfg.Command,
		AccessKey:     cfg.AccessKey,
		ModelPath:     cfg.ModelPath,
		Keywords:      append([]string(nil), cfg.Keywords...),
		Sensitivities: append([]float64(nil), cfg.Sensitivities...),
		Threshold:     cfg.Threshold,
		Debounce:      time.Duration(cfg.DebounceMS) * time.Millisecond,
		SampleRate:    cfg.SampleRate,
		FrameLength:   cfg.FrameLength,
		MockInterval:  time.Duration(cfg.MockIntervalMS) * time.Millisecond,
	}
}

// Constructor builds an uninitialized engine.
type Constructor func(cfg EngineConfig, log *slog.Logger) (Engine, error)

// Registry maps engine names to constructors.
type Registry map[string]Constructor

// DefaultRegistry returns the engines this build ships with.
func DefaultRegistry() Registry {
	return Registry{
		"porcupine":    newPorcupine,
		"openwakeword": newOpenWakeWord,
		"mock":         newMockEngine,
	}
}

// Names lists registered engines in sorted order.
func (r Registry) Names() []string {
	names := make([]string, 0, len(r))
	for name := range r {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
