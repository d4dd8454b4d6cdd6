package agent

import (
	"time"

	"github.com/sarpel/BedtimeStoryTeller/internal/wakeword"
)

// Stats aggregates every session since start. Paragraph, audio and
// time-to-first-audio figures only include completed sessions.
type Stats struct {
	SessionsStarted         int           `json:"sessions_started"`
	SessionsCompleted       int           `json:"sessions_completed"`
	SessionsFailed          int           `json:"sessions_failed"`
	SessionsStopped         int           `json:"sessions_stopped"`
	ParagraphsGenerated     int           `json:"paragraphs_generated"`
	ParagraphsPlayed        int           `json:"paragraphs_played"`
	TotalAudioDuration      time.Duration `json:"total_audio_duration"`
	AverageTimeToFirstAudio time.Duration `json:"average_time_to_first_audio"`
	WakeWordDetections      int           `json:"wake_word_detections"`

	ttfaSamples int
}

func (s *Stats) recordCompleted(session StorySession) {
	s.SessionsCompleted++
	s.ParagraphsGenerated += session.ParagraphsGenerated
	s.ParagraphsPlayed += session.ParagraphsPlayed
	s.TotalAudioDuration += session.AudioDuration
	if session.ParagraphsGenerated > 0 {
		n := time.Duration(s.ttfaSamples)
		s.AverageTimeToFirstAudio = (s.AverageTimeToFirstAudio*n + session.TimeToFirstAudio) / (n + 1)
		s.ttfaSamples++
	}
}

// Status is a point-in-time view of the orchestrator.
type Status struct {
	State             State                `json:"state"`
	Initialized       bool                 `json:"initialized"`
	Session           *StorySession        `json:"session,omitempty"`
	AudioQueued       int                  `json:"audio_queued"`
	SynthesisInFlight int                  `json:"synthesis_in_flight"`
	Engine            *wakeword.EngineInfo `json:"engine,omitempty"`
	Stats             Stats                `json:"stats"`
}
