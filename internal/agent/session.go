package agent

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// SessionStatus is the outcome of a story session. It only ever moves from
// active to one terminal value.
type SessionStatus string

const (
	SessionActive    SessionStatus = "active"
	SessionCompleted SessionStatus = "completed"
	SessionFailed    SessionStatus = "failed"
	SessionStopped   SessionStatus = "stopped"
)

// StorySession is a value snapshot of one story run.
type StorySession struct {
	ID                  string        `json:"id"`
	Prompt              string        `json:"prompt"`
	Language            string        `json:"language"`
	AgeRating           string        `json:"age_rating"`
	CreatedAt           time.Time     `json:"created_at"`
	EndedAt             time.Time     `json:"ended_at,omitzero"`
	Status              SessionStatus `json:"status"`
	ParagraphsGenerated int           `json:"paragraphs_generated"`
	ParagraphsPlayed    int           `json:"paragraphs_played"`
	AudioDuration       time.Duration `json:"audio_duration"`
	TimeToFirstAudio    time.Duration `json:"time_to_first_audio"`
	Error               string        `json:"error,omitempty"`
}

// Elapsed is the wall time the session ran, or has run so far.
func (s StorySession) Elapsed() time.Duration {
	if s.EndedAt.IsZero() {
		return time.Since(s.CreatedAt)
	}
	return s.EndedAt.Sub(s.CreatedAt)
}

// Terminal reports whether the session has finished.
func (s StorySession) Terminal() bool {
	return s.Status != SessionActive
}

// sessionRecord is the orchestrator-owned mutable session. Counters are only
// written by the pipeline's own goroutines; readers take snapshots.
type sessionRecord struct {
	mu sync.Mutex
	s  StorySession
}

func newSessionRecord(prompt string, opts StoryOptions, now time.Time) *sessionRecord {
	return &sessionRecord{s: StorySession{
		ID:        newSessionID(),
		Prompt:    prompt,
		Language:  opts.Language,
		AgeRating: opts.AgeRating,
		CreatedAt: now,
		Status:    SessionActive,
	}}
}

// newSessionID returns a time-ordered identifier.
func newSessionID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.NewString()
	}
	return id.String()
}

func (r *sessionRecord) id() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.s.ID
}

func (r *sessionRecord) snapshot() StorySession {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.s
}

// paragraphGenerated bumps the counter and returns the new count.
func (r *sessionRecord) paragraphGenerated() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.s.Status != SessionActive {
		return r.s.ParagraphsGenerated
	}
	r.s.ParagraphsGenerated++
	return r.s.ParagraphsGenerated
}

func (r *sessionRecord) paragraphPlayed() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.s.Status == SessionActive {
		r.s.ParagraphsPlayed++
	}
}

func (r *sessionRecord) addAudio(d time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.s.Status == SessionActive {
		r.s.AudioDuration += d
	}
}

func (r *sessionRecord) setTimeToFirstAudio(d time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.s.Status == SessionActive && r.s.TimeToFirstAudio == 0 {
		r.s.TimeToFirstAudio = d
	}
}

// finish moves the session to a terminal status. Only the first call wins.
func (r *sessionRecord) finish(status SessionStatus, err error, now time.Time) StorySession {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.s.Status == SessionActive {
		r.s.Status = status
		r.s.EndedAt = now
		if err != nil {
			r.s.Error = err.Error()
		}
	}
	return r.s
}
