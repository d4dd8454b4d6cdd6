package runtime

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/sarpel/BedtimeStoryTeller/internal/agent"
	"github.com/sarpel/BedtimeStoryTeller/internal/eventstore"
)

// recorder persists agent events and session outcomes to the event store.
type recorder struct {
	store   *eventstore.Store
	log     *slog.Logger
	current string
}

func newRecorder(store *eventstore.Store, log *slog.Logger) *recorder {
	return &recorder{store: store, log: log.With(slog.String("component", "recorder"))}
}

func (r *recorder) run(ctx context.Context, events <-chan agent.Event) {
	for {
		select {
		case <-ctx.Done():
			return
		case evt, ok := <-events:
			if !ok {
				return
			}
			r.record(ctx, evt)
		}
	}
}

func (r *recorder) record(ctx context.Context, evt agent.Event) {
	sessionID := r.current
	if evt.Session != nil {
		sessionID = evt.Session.ID
	}

	if evt.Type == agent.EventStoryStarted && evt.Session != nil {
		r.current = evt.Session.ID
		r.saveSession(ctx, *evt.Session)
	}

	payload, err := json.Marshal(evt)
	if err != nil {
		r.log.Warn("failed to encode event", slogError(err))
		return
	}
	if evt.Type == agent.EventWakeWord {
		sessionID = ""
	}
	if err := r.store.AppendEvent(ctx, eventstore.Event{
		SessionID: sessionID,
		Type:      string(evt.Type),
		Payload:   payload,
		CreatedAt: evt.Time,
	}); err != nil {
		r.log.Warn("failed to append event", slog.String("type", string(evt.Type)), slogError(err))
	}

	if (evt.Type == agent.EventStoryCompleted || evt.Type == agent.EventError) && evt.Session != nil {
		r.saveSession(ctx, *evt.Session)
		if evt.Session.ID == r.current {
			r.current = ""
		}
		if err := r.store.Prune(ctx); err != nil {
			r.log.Warn("failed to prune history", slogError(err))
		}
	}
}

func (r *recorder) saveSession(ctx context.Context, s agent.StorySession) {
	err := r.store.SaveSession(ctx, eventstore.Session{
		ID:                  s.ID,
		Prompt:              s.Prompt,
		Language:            s.Language,
		AgeRating:           s.AgeRating,
		Status:              string(s.Status),
		ParagraphsGenerated: s.ParagraphsGenerated,
		ParagraphsPlayed:    s.ParagraphsPlayed,
		AudioDuration:       s.AudioDuration,
		TimeToFirstAudio:    s.TimeToFirstAudio,
		Error:               s.Error,
		CreatedAt:           s.CreatedAt,
		EndedAt:             s.EndedAt,
	})
	if err != nil {
		r.log.Warn("failed to save session", slog.String("session_id", s.ID), slogError(err))
	}
}
