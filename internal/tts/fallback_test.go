package tts

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/sarpel/BedtimeStoryTeller/internal/config"
	"github.com/sarpel/BedtimeStoryTeller/internal/provider"
)

type stubSynth struct {
	audio []byte
	err   error
	calls int
}

func (s *stubSynth) Synthesize(context.Context, SynthRequest) ([]byte, error) {
	s.calls++
	return s.audio, s.err
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestFallbackSynthAdvancesOnRecoverableFailure(t *testing.T) {
	limited := &stubSynth{err: provider.Recoverable("openai", provider.KindRateLimited, errors.New("429"))}
	local := &stubSynth{audio: []byte{1, 2, 3, 4}}
	synth, err := NewFallbackSynth(quietLogger(), Backend{Name: "openai", Synthesizer: limited}, Backend{Name: "exec", Synthesizer: local})
	if err != nil {
		t.Fatal(err)
	}
	audio, err := synth.Synthesize(context.Background(), SynthRequest{SessionID: "s1", Text: "goodnight"})
	if err != nil {
		t.Fatal(err)
	}
	if len(audio) != 4 || limited.calls != 1 || local.calls != 1 {
		t.Fatalf("audio=%d calls=%d/%d", len(audio), limited.calls, local.calls)
	}
}

func TestFallbackSynthStopsOnFatalFailure(t *testing.T) {
	denied := &stubSynth{err: provider.Fatal("openai", provider.KindAuth, errors.New("401"))}
	local := &stubSynth{audio: []byte{1, 2}}
	synth, err := NewFallbackSynth(quietLogger(), Backend{Name: "openai", Synthesizer: denied}, Backend{Name: "exec", Synthesizer: local})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := synth.Synthesize(context.Background(), SynthRequest{Text: "x"}); err == nil || provider.IsRecoverable(err) {
		t.Fatalf("err = %v", err)
	}
	if local.calls != 0 {
		t.Fatal("fallback used after a fatal failure")
	}
}

func TestFallbackSynthAllFailingStaysRecoverable(t *testing.T) {
	a := &stubSynth{err: provider.Recoverable("openai", provider.KindUnavailable, errors.New("503"))}
	b := &stubSynth{err: provider.Recoverable("exec", provider.KindUnavailable, errors.New("exit 1"))}
	synth, err := NewFallbackSynth(quietLogger(), Backend{Name: "openai", Synthesizer: a}, Backend{Name: "exec", Synthesizer: b})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := synth.Synthesize(context.Background(), SynthRequest{Text: "x"}); !provider.IsRecoverable(err) {
		t.Fatalf("err = %v", err)
	}
}

func TestNewFromConfigWrapsFallbacks(t *testing.T) {
	cfg := config.Default()
	synth, err := NewFromConfig(cfg, quietLogger())
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := synth.(*fallbackSynth); ok {
		t.Fatal("single synthesizer wrapped in a chain")
	}

	cfg.TTS.Fallback = []config.TTSConfig{{Mode: "mock"}}
	synth, err = NewFromConfig(cfg, quietLogger())
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := synth.(*fallbackSynth); !ok {
		t.Fatalf("got %T, want a fallback chain", synth)
	}
}
