package safety

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"

	"github.com/sarpel/BedtimeStoryTeller/internal/config"
)

func newFilter(cfg config.SafetyConfig) *Filter {
	return New(cfg, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func enabled() config.SafetyConfig {
	return config.SafetyConfig{Enabled: true, MaxPromptLength: 100}
}

func TestCheckPassesCleanPrompt(t *testing.T) {
	got, err := newFilter(enabled()).Check(context.Background(), "  a fox who loves the stars ")
	if err != nil {
		t.Fatal(err)
	}
	if got != "a fox who loves the stars" {
		t.Fatalf("got %q", got)
	}
}

func TestCheckRejectsViolence(t *testing.T) {
	for _, prompt := range []string{"a knight with a Gun", "savaşçı bir kedi", "bir silah"} {
		_, err := newFilter(enabled()).Check(context.Background(), prompt)
		if !errors.Is(err, ErrRejected) {
			t.Fatalf("%q: err = %v, want ErrRejected", prompt, err)
		}
	}
}

func TestCheckSoftensMediumWords(t *testing.T) {
	got, err := newFilter(enabled()).Check(context.Background(), "a scary monster, lost in the forest")
	if err != nil {
		t.Fatal(err)
	}
	if got != "a funny cute animal, on an adventure in the forest" {
		t.Fatalf("got %q", got)
	}
}

func TestCheckDropsWordsWithoutReplacement(t *testing.T) {
	got, err := newFilter(enabled()).Check(context.Background(), "a rabbit full of worry")
	if err != nil {
		t.Fatal(err)
	}
	if got != "a rabbit full of" {
		t.Fatalf("got %q", got)
	}
}

func TestCheckMatchesWholeWords(t *testing.T) {
	// "kanat" (wing) must not match "kan" (blood).
	if _, err := newFilter(enabled()).Check(context.Background(), "kanatlı bir at"); err != nil {
		t.Fatalf("unexpected rejection: %v", err)
	}
}

func TestCheckLengthAndBlockedWords(t *testing.T) {
	cfg := enabled()
	cfg.MaxPromptLength = 10
	if _, err := newFilter(cfg).Check(context.Background(), strings.Repeat("a", 11)); !errors.Is(err, ErrRejected) {
		t.Fatalf("long prompt: err = %v", err)
	}
	cfg = enabled()
	cfg.BlockedWords = []string{"Broccoli"}
	if _, err := newFilter(cfg).Check(context.Background(), "a broccoli adventure"); !errors.Is(err, ErrRejected) {
		t.Fatalf("blocked word: err = %v", err)
	}
}

func TestDisabledFilterPassesThrough(t *testing.T) {
	got, err := newFilter(config.SafetyConfig{}).Check(context.Background(), " a gun ")
	if err != nil || got != "a gun" {
		t.Fatalf("got %q, %v", got, err)
	}
}

func TestCheckHonoursContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := newFilter(enabled()).Check(ctx, "a fox"); !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v", err)
	}
}

func TestCheckFoldsTurkishCase(t *testing.T) {
	for _, prompt := range []string{"BIÇAK İLE BİR MASAL", "ŞİDDET DOLU BİR GECE", "A KNIGHT WHO WANTS TO KILL"} {
		_, err := newFilter(enabled()).Check(context.Background(), prompt)
		if !errors.Is(err, ErrRejected) {
			t.Fatalf("%q: err = %v, want ErrRejected", prompt, err)
		}
	}
	got, err := newFilter(enabled()).Check(context.Background(), "KIZGIN bir ayı")
	if err != nil {
		t.Fatal(err)
	}
	if got != "biraz huysuz bir ayı" {
		t.Fatalf("got %q", got)
	}
}
