package llm

import (
	"context"
	"fmt"
	"strings"
	"time"
)

type mockGenerator struct {
	delay time.Duration
}

// NewMockGenerator returns a generator that streams a short canned story
// built around the prompt, one word at a time.
func NewMockGenerator(delay time.Duration) Generator { return &mockGenerator{delay: delay} }

func (m *mockGenerator) Generate(ctx context.Context, req Request, consumer func(Chunk) error) error {
	subject := strings.TrimSpace(req.Prompt)
	if i := strings.LastIndex(subject, "\n"); i >= 0 {
		subject = strings.TrimSpace(subject[i+1:])
	}
	paragraphs := []string{
		fmt.Sprintf("Once upon a time there was %s who lived at the edge of a quiet forest.", subject),
		"Every evening the stars came out to say goodnight, and the moon hummed a soft song.",
		"And so, warm and sleepy, everyone closed their eyes and dreamed happy dreams.",
	}
	text := strings.Join(paragraphs, "\n\n")

	start := time.Now()
	words := strings.SplitAfter(text, " ")
	for i, word := range words {
		if m.delay > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(m.delay):
			}
		} else if err := ctx.Err(); err != nil {
			return err
		}
		if err := consumer(Chunk{
			SessionID: req.SessionID,
			Content:   word,
			Partial:   i < len(words)-1,
			Latency:   time.Since(start),
		}); err != nil {
			return err
		}
	}
	return nil
}
