package agent

// State is the storyteller's top-level activity.
type State string

const (
	StateIdle       State = "idle"
	StateListening  State = "listening"
	StateGenerating State = "generating"
	StatePlaying    State = "playing"
	StateError      State = "error"
	StateStopped    State = "stopped"
)

// acceptsStory reports whether a new session may start from s.
func (s State) acceptsStory() bool {
	return s == StateIdle || s == StateListening
}
