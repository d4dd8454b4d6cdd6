package llm

import (
	"context"
	"errors"
	"strings"
	"testing"
)

type scriptedGenerator struct {
	chunks []string
	err    error
	got    Request
	sent   int
}

func (g *scriptedGenerator) Generate(ctx context.Context, req Request, consumer func(Chunk) error) error {
	g.got = req
	for _, c := range g.chunks {
		if err := consumer(Chunk{SessionID: req.SessionID, Content: c, Partial: true}); err != nil {
			return err
		}
		g.sent++
	}
	return g.err
}

func collect(t *testing.T, gen Generator, req StoryRequest) ([]string, error) {
	t.Helper()
	var out []string
	err := NewStoryGenerator(gen, 512, 0.7).Story(context.Background(), req, func(p string) error {
		out = append(out, p)
		return nil
	})
	return out, err
}

func TestStorySplitsParagraphsAcrossChunks(t *testing.T) {
	gen := &scriptedGenerator{chunks: []string{"A fox ", "walked.\n", "\nThe moon ", "rose.\r\n\r\n\n", "Goodnight."}}
	got, err := collect(t, gen, StoryRequest{Prompt: "a fox", Language: "en", AgeRating: "5+", MaxParagraphs: 5})
	if err != nil {
		t.Fatalf("Story returned error: %v", err)
	}
	want := []string{"A fox walked.", "The moon rose.", "Goodnight."}
	if strings.Join(got, "|") != strings.Join(want, "|") {
		t.Fatalf("paragraphs = %q, want %q", got, want)
	}
}

func TestStoryStopsAtParagraphLimit(t *testing.T) {
	gen := &scriptedGenerator{chunks: []string{"one\n\n", "two\n\n", "three\n\n", "four"}}
	got, err := collect(t, gen, StoryRequest{Prompt: "x", MaxParagraphs: 2})
	if err != nil {
		t.Fatalf("Story returned error: %v", err)
	}
	if len(got) != 2 || got[1] != "two" {
		t.Fatalf("paragraphs = %q", got)
	}
	if gen.sent != 1 {
		t.Fatalf("generator kept streaming after limit: %d chunks accepted", gen.sent)
	}
}

func TestStoryPropagatesGeneratorError(t *testing.T) {
	boom := errors.New("boom")
	gen := &scriptedGenerator{chunks: []string{"first\n\n", "partial"}, err: boom}
	got, err := collect(t, gen, StoryRequest{Prompt: "x", MaxParagraphs: 5})
	if !errors.Is(err, boom) {
		t.Fatalf("err = %v, want boom", err)
	}
	if len(got) != 1 {
		t.Fatalf("paragraphs before failure = %q", got)
	}
}

func TestStoryYieldErrorAborts(t *testing.T) {
	stop := errors.New("stop")
	gen := &scriptedGenerator{chunks: []string{"one\n\n", "two\n\n"}}
	err := NewStoryGenerator(gen, 0, 0).Story(context.Background(), StoryRequest{Prompt: "x"}, func(string) error {
		return stop
	})
	if !errors.Is(err, stop) {
		t.Fatalf("err = %v, want stop", err)
	}
}

func TestStoryPromptLanguage(t *testing.T) {
	gen := &scriptedGenerator{}
	if _, err := collect(t, gen, StoryRequest{Prompt: "  bir   tavşan ", Language: "tr", AgeRating: "5+", MaxParagraphs: 4}); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(gen.got.Prompt, "Türkçe") || !strings.HasSuffix(gen.got.Prompt, "\nbir tavşan") {
		t.Fatalf("unexpected tr prompt: %q", gen.got.Prompt)
	}
	if gen.got.System != systemTR {
		t.Fatalf("system = %q", gen.got.System)
	}
	if gen.got.MaxTokens != 512 {
		t.Fatalf("max tokens = %d", gen.got.MaxTokens)
	}

	if _, err := collect(t, gen, StoryRequest{Prompt: "a fox", Language: "en", AgeRating: "3+", MaxParagraphs: 2}); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(gen.got.Prompt, "2 short paragraphs") || !strings.Contains(gen.got.Prompt, "3+ child") {
		t.Fatalf("unexpected en prompt: %q", gen.got.Prompt)
	}
}

func TestMockGeneratorTellsAboutPrompt(t *testing.T) {
	got, err := collect(t, NewMockGenerator(0), StoryRequest{Prompt: "a sleepy owl", Language: "en", MaxParagraphs: 10})
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 3 {
		t.Fatalf("mock paragraphs = %d, want 3", len(got))
	}
	if !strings.Contains(got[0], "a sleepy owl") {
		t.Fatalf("first paragraph = %q", got[0])
	}
}
