package llm

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/sarpel/BedtimeStoryTeller/internal/provider"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"google.golang.org/genai"
)

const geminiProvider = "gemini"

type geminiGenerator struct {
	client  *genai.Client
	model   string
	timeout time.Duration
}

// NewGeminiGenerator streams completions from the Gemini API.
func NewGeminiGenerator(ctx context.Context, apiKey, model string, timeout time.Duration) (Generator, error) {
	if apiKey == "" {
		return nil, errors.New("gemini api key required")
	}
	if model == "" {
		model = "gemini-2.0-flash"
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:     apiKey,
		Backend:    genai.BackendGeminiAPI,
		HTTPClient: &http.Client{Transport: otelhttp.NewTransport(http.DefaultTransport)},
	})
	if err != nil {
		return nil, fmt.Errorf("create gemini client: %w", err)
	}
	return &geminiGenerator{client: client, model: model, timeout: timeout}, nil
}

func (g *geminiGenerator) Generate(ctx context.Context, req Request, consumer func(Chunk) error) error {
	reqCtx, watchdog := watchStream(ctx, geminiProvider, g.timeout)
	defer watchdog.stop()

	cfg := &genai.GenerateContentConfig{
		Temperature: genai.Ptr(float32(req.Temperature)),
	}
	if req.MaxTokens > 0 {
		cfg.MaxOutputTokens = int32(req.MaxTokens)
	}
	if req.System != "" {
		cfg.SystemInstruction = genai.NewContentFromText(req.System, genai.RoleUser)
	}

	start := time.Now()
	for resp, err := range g.client.Models.GenerateContentStream(reqCtx, g.model, genai.Text(req.Prompt), cfg) {
		if err != nil {
			return watchdog.classify(classifyGemini(ctx, err))
		}
		chunk := Chunk{
			SessionID: req.SessionID,
			Content:   resp.Text(),
			Partial:   true,
			Latency:   time.Since(start),
		}
		if usage := resp.UsageMetadata; usage != nil {
			chunk.PromptTokens = int(usage.PromptTokenCount)
			chunk.CompletionTokens = int(usage.CandidatesTokenCount)
		}
		if chunk.Content == "" {
			continue
		}
		if err := watchdog.deliver(func() error { return consumer(chunk) }); err != nil {
			return err
		}
	}
	if watchdog.Expired() {
		return watchdog.err()
	}
	return ctx.Err()
}

func classifyGemini(ctx context.Context, err error) error {
	var apiErr genai.APIError
	if !errors.As(err, &apiErr) {
		return provider.FromTransport(ctx, geminiProvider, err)
	}
	switch {
	case apiErr.Code == http.StatusTooManyRequests:
		return provider.Recoverable(geminiProvider, provider.KindRateLimited, err)
	case apiErr.Code == http.StatusUnauthorized || apiErr.Code == http.StatusForbidden:
		return provider.Fatal(geminiProvider, provider.KindAuth, err)
	case apiErr.Code >= 500:
		return provider.Recoverable(geminiProvider, provider.KindUnavailable, err)
	default:
		return provider.Fatal(geminiProvider, provider.KindRejected, err)
	}
}
