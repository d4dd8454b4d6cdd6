package runtime

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/sarpel/BedtimeStoryTeller/internal/agent"
	"github.com/sarpel/BedtimeStoryTeller/internal/config"
	"github.com/sarpel/BedtimeStoryTeller/internal/eventstore"
)

func TestRecorderPersistsSessionTimeline(t *testing.T) {
	ctx := context.Background()
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	store, err := eventstore.Open(ctx, config.EventStoreConfig{
		Path:          filepath.Join(t.TempDir(), "stories.db"),
		RetentionMode: "session",
		MaxSessions:   10,
	}, log)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })

	rec := newRecorder(store, log)
	created := time.Date(2025, 6, 1, 20, 0, 0, 0, time.UTC)
	active := agent.StorySession{ID: "s-1", Prompt: "a fox", Language: "en", Status: agent.SessionActive, CreatedAt: created}
	done := active
	done.Status = agent.SessionCompleted
	done.ParagraphsGenerated, done.ParagraphsPlayed = 2, 2
	done.AudioDuration = 9 * time.Second
	done.EndedAt = created.Add(time.Minute)

	rec.record(ctx, agent.Event{Type: agent.EventWakeWord, Time: created})
	rec.record(ctx, agent.Event{Type: agent.EventStoryStarted, Time: created, Session: &active})
	rec.record(ctx, agent.Event{Type: agent.EventStateChanged, Time: created.Add(time.Second), From: agent.StateGenerating, To: agent.StatePlaying})
	rec.record(ctx, agent.Event{Type: agent.EventStoryCompleted, Time: done.EndedAt, Session: &done})

	sessions, err := store.RecentSessions(ctx, 5)
	if err != nil {
		t.Fatal(err)
	}
	if len(sessions) != 1 || sessions[0].Status != "completed" || sessions[0].ParagraphsPlayed != 2 {
		t.Fatalf("unexpected sessions: %+v", sessions)
	}

	events, err := store.ListSessionEvents(ctx, "s-1", 10)
	if err != nil {
		t.Fatal(err)
	}
	var types []string
	for _, e := range events {
		types = append(types, e.Type)
	}
	want := []string{"story_started", "state_changed", "story_completed"}
	if len(types) != len(want) {
		t.Fatalf("event types = %v", types)
	}
	for i := range want {
		if types[i] != want[i] {
			t.Fatalf("event types = %v", types)
		}
	}
	if rec.current != "" {
		t.Fatalf("current session not cleared")
	}
}
