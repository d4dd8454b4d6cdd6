package agent

import (
	"context"

	"github.com/sarpel/BedtimeStoryTeller/internal/llm"
	"github.com/sarpel/BedtimeStoryTeller/internal/tts"
	"github.com/sarpel/BedtimeStoryTeller/internal/wakeword"
)

// TextGenerator streams a story one paragraph at a time. yield blocks while
// the pipeline is saturated.
type TextGenerator interface {
	Story(ctx context.Context, req llm.StoryRequest, yield func(paragraph string) error) error
}

// Synthesizer turns one paragraph into PCM audio.
type Synthesizer interface {
	Synthesize(ctx context.Context, req tts.SynthRequest) ([]byte, error)
}

// Player plays a buffer to completion or until ctx is cancelled.
type Player interface {
	Play(ctx context.Context, audio []byte) error
}

// SafetyFilter validates a prompt and returns the text to generate from.
type SafetyFilter interface {
	Check(ctx context.Context, prompt string) (string, error)
}

// WakeDetector is the part of the engine manager the orchestrator drives.
type WakeDetector interface {
	StartDetection(ctx context.Context, callback func(wakeword.Detection)) error
	StopDetection(ctx context.Context) error
	Info() wakeword.EngineInfo
}

// Dependencies are the collaborators supplied by the composition root.
// Safety and Wake are optional.
type Dependencies struct {
	Generator   TextGenerator
	Synthesizer Synthesizer
	Player      Player
	Safety      SafetyFilter
	Wake        WakeDetector
}

type passthroughFilter struct{}

func (passthroughFilter) Check(_ context.Context, prompt string) (string, error) {
	return prompt, nil
}
