package tts

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/sarpel/BedtimeStoryTeller/internal/pcm"
	"github.com/sarpel/BedtimeStoryTeller/internal/provider"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"golang.org/x/time/rate"
)

const openAIProvider = "openai-tts"

// OpenAIConfig configures the speech endpoint client.
type OpenAIConfig struct {
	Endpoint          string
	APIKey            string
	Model             string
	Voice             string
	RequestsPerMinute int
	Timeout           time.Duration
	SampleRate        int
	Channels          int
}

type openAISynth struct {
	cfg     OpenAIConfig
	format  pcm.Format
	limiter *rate.Limiter
	client  *http.Client
}

type speechRequest struct {
	Model          string `json:"model"`
	Input          string `json:"input"`
	Voice          string `json:"voice"`
	ResponseFormat string `json:"response_format"`
}

// NewOpenAISynth calls an OpenAI compatible speech endpoint and converts the
// WAV reply to the configured PCM format.
func NewOpenAISynth(cfg OpenAIConfig) (Synthesizer, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("openai api key required")
	}
	if cfg.Endpoint == "" {
		cfg.Endpoint = "https://api.openai.com/v1/audio/speech"
	}
	if cfg.Model == "" {
		cfg.Model = "tts-1"
	}
	if cfg.Voice == "" {
		cfg.Voice = "nova"
	}
	if cfg.RequestsPerMinute <= 0 {
		cfg.RequestsPerMinute = 50
	}
	return &openAISynth{
		cfg:     cfg,
		format:  pcm.Format{SampleRate: cfg.SampleRate, Channels: cfg.Channels},
		limiter: rate.NewLimiter(rate.Every(time.Minute/time.Duration(cfg.RequestsPerMinute)), 1),
		client: &http.Client{
			Timeout:   cfg.Timeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
	}, nil
}

func (s *openAISynth) Synthesize(ctx context.Context, req SynthRequest) ([]byte, error) {
	if strings.TrimSpace(req.Text) == "" {
		return nil, provider.Fatal(openAIProvider, provider.KindRejected, errors.New("empty text"))
	}
	if err := s.limiter.Wait(ctx); err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, provider.Recoverable(openAIProvider, provider.KindRateLimited, err)
	}

	voice := req.Voice
	if voice == "" {
		voice = s.cfg.Voice
	}
	body, err := json.Marshal(speechRequest{
		Model:          s.cfg.Model,
		Input:          req.Text,
		Voice:          voice,
		ResponseFormat: "wav",
	})
	if err != nil {
		return nil, err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, s.cfg.Endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+s.cfg.APIKey)

	resp, err := s.client.Do(httpReq)
	if err != nil {
		return nil, provider.FromTransport(ctx, openAIProvider, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, provider.FromStatus(openAIProvider, resp, strings.TrimSpace(string(msg)))
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, provider.FromTransport(ctx, openAIProvider, err)
	}
	if !pcm.IsWAV(data) {
		return nil, provider.Fatal(openAIProvider, provider.KindInvalid, fmt.Errorf("expected wav, got %d bytes of %s", len(data), resp.Header.Get("Content-Type")))
	}
	audio, err := pcm.FromWAV(data, s.format)
	if err != nil {
		return nil, provider.Fatal(openAIProvider, provider.KindInvalid, err)
	}
	return audio, nil
}
