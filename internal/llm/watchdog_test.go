package llm

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/sarpel/BedtimeStoryTeller/internal/provider"
)

// streamingOllama serves paragraphs one line at a time with gap between them.
func streamingOllama(t *testing.T, paragraphs int, gap time.Duration) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		flusher := w.(http.Flusher)
		for i := 1; i <= paragraphs; i++ {
			select {
			case <-time.After(gap):
			case <-r.Context().Done():
				return
			}
			fmt.Fprintf(w, `{"response":"Paragraph %d is calm.\n\n","done":false}`+"\n", i)
			flusher.Flush()
		}
		fmt.Fprintln(w, `{"response":"","done":true}`)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestOllamaTimeoutExcludesConsumerTime(t *testing.T) {
	srv := streamingOllama(t, 10, 20*time.Millisecond)
	story := NewStoryGenerator(NewOllamaGenerator(srv.URL, "tiny", 300*time.Millisecond), 0, 0)

	// A slow listener holds every paragraph well past the provider timeout in
	// total, the way playback backpressure does.
	var got []string
	err := story.Story(context.Background(), StoryRequest{Prompt: "owl", Language: "en", MaxParagraphs: 10}, func(p string) error {
		got = append(got, p)
		time.Sleep(80 * time.Millisecond)
		return nil
	})
	if err != nil {
		t.Fatalf("Story returned error: %v", err)
	}
	if len(got) != 10 {
		t.Fatalf("got %d paragraphs, want 10", len(got))
	}
	if got[9] != "Paragraph 10 is calm." {
		t.Fatalf("last paragraph = %q", got[9])
	}
}

func TestOllamaSilentProviderTimesOut(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintln(w, `{"response":"Once upon a time ","done":false}`)
		w.(http.Flusher).Flush()
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	start := time.Now()
	err := NewOllamaGenerator(srv.URL, "tiny", 100*time.Millisecond).Generate(context.Background(), Request{Prompt: "hi"}, func(Chunk) error { return nil })
	var perr *provider.Error
	if !errors.As(err, &perr) || perr.Kind != provider.KindTimeout || !perr.Recoverable {
		t.Fatalf("expected recoverable timeout, got %v", err)
	}
	if elapsed := time.Since(start); elapsed > 2*time.Second {
		t.Fatalf("timeout took %v", elapsed)
	}
}

func TestWatchdogDisabledWithoutTimeout(t *testing.T) {
	ctx, w := watchStream(context.Background(), "test", 0)
	defer w.stop()
	err := w.deliver(func() error { return nil })
	if err != nil || w.Expired() || ctx.Err() != nil {
		t.Fatalf("disabled watchdog interfered: %v %v", err, ctx.Err())
	}
}

func TestWatchdogPausedWhileDelivering(t *testing.T) {
	ctx, w := watchStream(context.Background(), "test", 30*time.Millisecond)
	defer w.stop()
	if err := w.deliver(func() error {
		time.Sleep(100 * time.Millisecond)
		return nil
	}); err != nil {
		t.Fatalf("deliver: %v", err)
	}
	if w.Expired() || ctx.Err() != nil {
		t.Fatalf("watchdog fired while the consumer held the chunk")
	}
	select {
	case <-ctx.Done():
	case <-time.After(time.Second):
		t.Fatalf("watchdog did not fire after the idle window")
	}
	if !w.Expired() {
		t.Fatalf("expected expiry")
	}
}
