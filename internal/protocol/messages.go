// Package protocol defines the bus subjects and payloads shared by the
// storyteller daemon and its clients.
package protocol

import (
	"encoding/json"
	"time"
)

const (
	SubjectTell    = "story.control.tell"
	SubjectStop    = "story.control.stop"
	SubjectStatus  = "story.control.status"
	SubjectListen  = "story.control.listen"
	SubjectEngine  = "story.control.engine"
	SubjectWake    = "story.control.wake"
	SubjectHistory = "story.control.history"

	// SubjectEventPrefix is followed by the event type, e.g.
	// story.event.story_started.
	SubjectEventPrefix = "story.event"
	SubjectEventAll    = "story.event.>"

	SubjectHeartbeatPrefix = "story.presence.heartbeat"
	SubjectHeartbeatAll    = "story.presence.heartbeat.*"

	// EventStream is the JetStream stream that retains published events.
	EventStream = "STORY_EVENTS"
)

// TellRequest asks the daemon to tell a story. Empty fields use the
// configured defaults. With Wait set the reply is sent when the story ends.
type TellRequest struct {
	Prompt        string `json:"prompt"`
	Language      string `json:"language,omitempty"`
	AgeRating     string `json:"age_rating,omitempty"`
	MaxParagraphs int    `json:"max_paragraphs,omitempty"`
	Wait          bool   `json:"wait,omitempty"`
}

type ListenRequest struct {
	Enabled bool `json:"enabled"`
}

type EngineRequest struct {
	Name string `json:"name"`
}

type WakeRequest struct {
	Keyword string `json:"keyword"`
}

type HistoryRequest struct {
	Limit int `json:"limit,omitempty"`
}

// Reply is the envelope for every control reply. Data holds the
// command-specific result.
type Reply struct {
	OK    bool            `json:"ok"`
	Error string          `json:"error,omitempty"`
	Kind  string          `json:"kind,omitempty"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// Heartbeat is published periodically by every storyteller device.
type Heartbeat struct {
	DeviceID  string    `json:"device_id"`
	Role      string    `json:"role"`
	State     string    `json:"state"`
	Engine    string    `json:"engine,omitempty"`
	Listening bool      `json:"listening"`
	Session   string    `json:"session,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// EventSubject returns the subject an event of the given type is published on.
func EventSubject(eventType string) string {
	return SubjectEventPrefix + "." + eventType
}

// HeartbeatSubject returns the heartbeat subject for a device.
func HeartbeatSubject(deviceID string) string {
	return SubjectHeartbeatPrefix + "." + deviceID
}
