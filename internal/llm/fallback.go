package llm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/sarpel/BedtimeStoryTeller/internal/provider"
)

// Backend is one named generator in a fallback chain.
type Backend struct {
	Name      string
	Generator Generator
}

type fallbackGenerator struct {
	backends []Backend
	log      *slog.Logger
}

// NewFallbackGenerator tries each backend in order. It moves on only when a
// backend fails recoverably before delivering any output; once text has
// reached the consumer the story belongs to that backend.
func NewFallbackGenerator(log *slog.Logger, backends ...Backend) (Generator, error) {
	if len(backends) == 0 {
		return nil, errors.New("fallback chain needs at least one generator")
	}
	if len(backends) == 1 {
		return backends[0].Generator, nil
	}
	return &fallbackGenerator{
		backends: backends,
		log:      log.With(slog.String("component", "llm")),
	}, nil
}

func (f *fallbackGenerator) Generate(ctx context.Context, req Request, consumer func(Chunk) error) error {
	var err error
	for i, b := range f.backends {
		delivered := false
		err = b.Generator.Generate(ctx, req, func(c Chunk) error {
			delivered = true
			return consumer(c)
		})
		if err == nil || delivered || !provider.IsRecoverable(err) || ctx.Err() != nil {
			return err
		}
		if i+1 < len(f.backends) {
			f.log.Warn("generator unavailable, falling back",
				slog.String("session_id", req.SessionID),
				slog.String("from", b.Name),
				slog.String("to", f.backends[i+1].Name),
				slogError(err))
		}
	}
	return fmt.Errorf("all %d generators failed: %w", len(f.backends), err)
}

func slogError(err error) slog.Attr {
	return slog.String("error", err.Error())
}
