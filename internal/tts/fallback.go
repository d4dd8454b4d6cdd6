package tts

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/sarpel/BedtimeStoryTeller/internal/provider"
)

// Backend is one named synthesizer in a fallback chain.
type Backend struct {
	Name        string
	Synthesizer Synthesizer
}

type fallbackSynth struct {
	backends []Backend
	log      *slog.Logger
}

// NewFallbackSynth tries each backend in order, moving on when one fails
// recoverably. Every backend must produce the same PCM format.
func NewFallbackSynth(log *slog.Logger, backends ...Backend) (Synthesizer, error) {
	if len(backends) == 0 {
		return nil, errors.New("fallback chain needs at least one synthesizer")
	}
	if len(backends) == 1 {
		return backends[0].Synthesizer, nil
	}
	return &fallbackSynth{
		backends: backends,
		log:      log.With(slog.String("component", "tts")),
	}, nil
}

func (f *fallbackSynth) Synthesize(ctx context.Context, req SynthRequest) ([]byte, error) {
	var err error
	for i, b := range f.backends {
		var audio []byte
		audio, err = b.Synthesizer.Synthesize(ctx, req)
		if err == nil || !provider.IsRecoverable(err) || ctx.Err() != nil {
			return audio, err
		}
		if i+1 < len(f.backends) {
			f.log.Warn("synthesizer unavailable, falling back",
				slog.String("session_id", req.SessionID),
				slog.String("from", b.Name),
				slog.String("to", f.backends[i+1].Name),
				slog.String("error", err.Error()))
		}
	}
	return nil, fmt.Errorf("all %d synthesizers failed: %w", len(f.backends), err)
}
