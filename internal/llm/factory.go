package llm

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/sarpel/BedtimeStoryTeller/internal/config"
)

const mockWordDelay = 15 * time.Millisecond

// NewFromConfig builds the generator selected by cfg.Mode, wrapped in a
// fallback chain when cfg.Fallback names more providers.
func NewFromConfig(ctx context.Context, cfg config.LLMConfig, log *slog.Logger) (Generator, error) {
	var backends []Backend
	for _, c := range cfg.Chain() {
		gen, err := newGenerator(ctx, c)
		if err != nil {
			return nil, err
		}
		backends = append(backends, Backend{Name: c.Mode, Generator: gen})
	}
	return NewFallbackGenerator(log, backends...)
}

func newGenerator(ctx context.Context, cfg config.LLMConfig) (Generator, error) {
	timeout := time.Duration(cfg.TimeoutMS) * time.Millisecond
	switch cfg.Mode {
	case "", "mock":
		return NewMockGenerator(mockWordDelay), nil
	case "ollama":
		return NewOllamaGenerator(cfg.Endpoint, cfg.Model, timeout), nil
	case "exec":
		return NewExecGenerator(cfg.Command)
	case "gemini":
		return NewGeminiGenerator(ctx, cfg.APIKey, cfg.Model, timeout)
	default:
		return nil, fmt.Errorf("unknown llm mode %q", cfg.Mode)
	}
}
