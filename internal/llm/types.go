// Package llm generates bedtime stories from a prompt and streams them
// paragraph by paragraph.
package llm

import (
	"context"
	"time"
)

// Request describes a language model prompt.
type Request struct {
	SessionID   string
	Prompt      string
	System      string
	MaxTokens   int
	Temperature float64
}

// Chunk represents streamed model output.
type Chunk struct {
	SessionID        string
	Content          string
	Partial          bool
	PromptTokens     int
	CompletionTokens int
	Latency          time.Duration
}

// Generator defines a pluggable LLM backend.
type Generator interface {
	Generate(ctx context.Context, req Request, consumer func(Chunk) error) error
}

// StoryRequest asks for one story.
type StoryRequest struct {
	SessionID     string
	Prompt        string
	Language      string
	AgeRating     string
	MaxParagraphs int
}
