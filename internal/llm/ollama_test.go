package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/sarpel/BedtimeStoryTeller/internal/provider"
)

func TestOllamaStreamsChunks(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/generate" {
			http.NotFound(w, r)
			return
		}
		var req ollamaRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Model != "tiny" || !req.Stream {
			http.Error(w, "bad request", http.StatusBadRequest)
			return
		}
		fmt.Fprintln(w, `{"response":"Hello ","done":false}`)
		fmt.Fprintln(w, `{"response":"world","done":true,"eval_count":2,"prompt_eval_count":5}`)
	}))
	defer srv.Close()

	gen := NewOllamaGenerator(srv.URL+"/", "tiny", 0)
	var out strings.Builder
	var last Chunk
	err := gen.Generate(context.Background(), Request{Prompt: "hi"}, func(c Chunk) error {
		out.WriteString(c.Content)
		last = c
		return nil
	})
	if err != nil {
		t.Fatalf("Generate returned error: %v", err)
	}
	if out.String() != "Hello world" {
		t.Fatalf("content = %q", out.String())
	}
	if last.Partial || last.CompletionTokens != 2 || last.PromptTokens != 5 {
		t.Fatalf("unexpected final chunk: %+v", last)
	}
}

func TestOllamaClassifiesStatus(t *testing.T) {
	cases := []struct {
		status      int
		recoverable bool
	}{
		{http.StatusTooManyRequests, true},
		{http.StatusServiceUnavailable, true},
		{http.StatusNotFound, false},
	}
	for _, tc := range cases {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, "nope", tc.status)
		}))
		err := NewOllamaGenerator(srv.URL, "tiny", 0).Generate(context.Background(), Request{Prompt: "hi"}, func(Chunk) error { return nil })
		srv.Close()
		if err == nil {
			t.Fatalf("status %d: expected error", tc.status)
		}
		if got := provider.IsRecoverable(err); got != tc.recoverable {
			t.Fatalf("status %d: recoverable = %v, want %v (%v)", tc.status, got, tc.recoverable, err)
		}
	}
}

func TestOllamaUnreachableIsRecoverable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	err := NewOllamaGenerator(url, "tiny", 0).Generate(context.Background(), Request{Prompt: "hi"}, func(Chunk) error { return nil })
	if !provider.IsRecoverable(err) {
		t.Fatalf("expected recoverable error, got %v", err)
	}
}
