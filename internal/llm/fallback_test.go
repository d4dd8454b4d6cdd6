package llm

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"

	"github.com/sarpel/BedtimeStoryTeller/internal/config"
	"github.com/sarpel/BedtimeStoryTeller/internal/provider"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func chain(t *testing.T, gens ...*scriptedGenerator) Generator {
	t.Helper()
	var backends []Backend
	for i, g := range gens {
		backends = append(backends, Backend{Name: string(rune('a' + i)), Generator: g})
	}
	gen, err := NewFallbackGenerator(quietLogger(), backends...)
	if err != nil {
		t.Fatal(err)
	}
	return gen
}

func streamed(t *testing.T, gen Generator) (string, error) {
	t.Helper()
	var b strings.Builder
	err := gen.Generate(context.Background(), Request{SessionID: "s1", Prompt: "owl"}, func(c Chunk) error {
		b.WriteString(c.Content)
		return nil
	})
	return b.String(), err
}

func TestFallbackAdvancesOnRecoverableFailure(t *testing.T) {
	down := &scriptedGenerator{err: provider.Recoverable("gemini", provider.KindUnavailable, errors.New("503"))}
	up := &scriptedGenerator{chunks: []string{"An owl ", "slept."}}
	got, err := streamed(t, chain(t, down, up))
	if err != nil {
		t.Fatal(err)
	}
	if got != "An owl slept." {
		t.Fatalf("got %q", got)
	}
	if up.got.Prompt != "owl" || up.got.SessionID != "s1" {
		t.Fatalf("fallback request = %+v", up.got)
	}
}

func TestFallbackStopsOnFatalFailure(t *testing.T) {
	denied := &scriptedGenerator{err: provider.Fatal("gemini", provider.KindAuth, errors.New("401"))}
	up := &scriptedGenerator{chunks: []string{"never"}}
	_, err := streamed(t, chain(t, denied, up))
	if provider.IsRecoverable(err) || err == nil {
		t.Fatalf("err = %v", err)
	}
	if up.got.Prompt != "" {
		t.Fatal("fallback used after a fatal failure")
	}
}

func TestFallbackKeepsBackendAfterOutput(t *testing.T) {
	partial := &scriptedGenerator{
		chunks: []string{"Once upon "},
		err:    provider.Recoverable("ollama", provider.KindTimeout, errors.New("stalled")),
	}
	up := &scriptedGenerator{chunks: []string{"never"}}
	got, err := streamed(t, chain(t, partial, up))
	if !provider.IsRecoverable(err) {
		t.Fatalf("err = %v", err)
	}
	if got != "Once upon " || up.got.Prompt != "" {
		t.Fatalf("got %q, fallback request %+v", got, up.got)
	}
}

func TestFallbackReportsLastFailure(t *testing.T) {
	first := &scriptedGenerator{err: provider.Recoverable("gemini", provider.KindRateLimited, errors.New("429"))}
	second := &scriptedGenerator{err: provider.Recoverable("ollama", provider.KindUnavailable, errors.New("refused"))}
	_, err := streamed(t, chain(t, first, second))
	var perr *provider.Error
	if !errors.As(err, &perr) || perr.Provider != "ollama" || !perr.Recoverable {
		t.Fatalf("err = %v", err)
	}
}

func TestNewFromConfigBuildsChain(t *testing.T) {
	cfg := config.LLMConfig{
		Mode:     "ollama",
		Endpoint: "http://127.0.0.1:1",
		Fallback: []config.LLMConfig{{Mode: "mock"}},
	}
	gen, err := NewFromConfig(context.Background(), cfg, quietLogger())
	if err != nil {
		t.Fatal(err)
	}
	got, err := streamed(t, gen)
	if err != nil {
		t.Fatalf("mock fallback did not take over: %v", err)
	}
	if !strings.Contains(got, "owl") {
		t.Fatalf("got %q", got)
	}

	single, err := NewFromConfig(context.Background(), config.LLMConfig{Mode: "mock"}, quietLogger())
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := single.(*fallbackGenerator); ok {
		t.Fatal("single provider wrapped in a chain")
	}
}
