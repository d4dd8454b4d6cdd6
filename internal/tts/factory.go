package tts

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/sarpel/BedtimeStoryTeller/internal/config"
)

const mockLatency = 120 * time.Millisecond

// NewFromConfig builds the synthesizer selected by cfg.TTS.Mode, wrapped in a
// fallback chain when cfg.TTS.Fallback names more providers.
func NewFromConfig(cfg config.Config, log *slog.Logger) (Synthesizer, error) {
	var backends []Backend
	for _, c := range cfg.TTS.Chain() {
		synth, err := newSynth(c, cfg.Audio)
		if err != nil {
			return nil, err
		}
		backends = append(backends, Backend{Name: c.Mode, Synthesizer: synth})
	}
	return NewFallbackSynth(log, backends...)
}

func newSynth(c config.TTSConfig, audio config.AudioConfig) (Synthesizer, error) {
	rate, channels := audio.SampleRate, audio.Channels
	switch c.Mode {
	case "", "mock":
		return NewMockSynth(rate, channels, mockLatency), nil
	case "exec":
		return NewExecSynth(c.Command, rate, channels)
	case "openai":
		return NewOpenAISynth(OpenAIConfig{
			Endpoint:          c.Endpoint,
			APIKey:            c.APIKey,
			Model:             c.Model,
			Voice:             c.Voice,
			RequestsPerMinute: c.RequestsPerMinute,
			Timeout:           time.Duration(c.TimeoutMS) * time.Millisecond,
			SampleRate:        rate,
			Channels:          channels,
		})
	default:
		return nil, fmt.Errorf("unknown tts mode %q", c.Mode)
	}
}
