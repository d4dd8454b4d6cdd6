package agent

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/sarpel/BedtimeStoryTeller/internal/wakeword"
)

// StartListening begins wake-word detection. Detections start a story with
// the prompt mapped to the keyword. It is a no-op while already listening.
func (o *Orchestrator) StartListening(ctx context.Context) error {
	o.listenMu.Lock()
	defer o.listenMu.Unlock()

	o.mu.Lock()
	switch {
	case o.shuttingDown || o.state == StateStopped:
		o.mu.Unlock()
		return ErrShutdown
	case !o.initialized:
		o.mu.Unlock()
		return ErrNotInitialized
	case o.wake == nil:
		o.mu.Unlock()
		return ErrNoWakeEngine
	case o.state == StateListening:
		o.mu.Unlock()
		return nil
	case o.state != StateIdle:
		o.mu.Unlock()
		return ErrBusy
	}
	o.mu.Unlock()

	if err := o.wake.StartDetection(ctx, o.onWakeWord); err != nil {
		return fmt.Errorf("start wake detection: %w", err)
	}

	o.mu.Lock()
	if o.state == StateIdle {
		o.setStateLocked(StateListening)
	}
	o.mu.Unlock()
	o.log.Info("listening for wake word")
	return nil
}

// StopListening stops wake-word detection. A session that paused listening
// will not resume it afterwards.
func (o *Orchestrator) StopListening(ctx context.Context) error {
	return o.stopDetection(ctx)
}

func (o *Orchestrator) stopDetection(ctx context.Context) error {
	o.listenMu.Lock()
	defer o.listenMu.Unlock()

	o.mu.Lock()
	if o.run != nil {
		o.run.resume = false
	}
	o.mu.Unlock()
	if o.wake == nil {
		return nil
	}

	if err := o.wake.StopDetection(ctx); err != nil {
		return fmt.Errorf("stop wake detection: %w", err)
	}

	o.mu.Lock()
	if o.state == StateListening {
		o.setStateLocked(StateIdle)
	}
	o.mu.Unlock()
	return nil
}

// pauseListening stops detection before a session produces sound. The state
// has already moved to Generating.
func (o *Orchestrator) pauseListening(ctx context.Context) {
	if o.wake == nil {
		return
	}
	o.listenMu.Lock()
	defer o.listenMu.Unlock()
	if err := o.wake.StopDetection(ctx); err != nil {
		o.log.Warn("failed to pause wake detection", slogError(err))
	}
}

// resumeListening restarts detection after a session that paused it.
func (o *Orchestrator) resumeListening() {
	o.listenMu.Lock()
	defer o.listenMu.Unlock()

	o.mu.Lock()
	ok := o.state == StateIdle && !o.shuttingDown
	o.mu.Unlock()
	if !ok {
		return
	}

	if err := o.wake.StartDetection(context.Background(), o.onWakeWord); err != nil {
		o.log.Warn("failed to resume wake detection", slogError(err))
		return
	}
	o.mu.Lock()
	if o.state == StateIdle {
		o.setStateLocked(StateListening)
	}
	o.mu.Unlock()
}

// onWakeWord runs on the engine's goroutine. Start does not block on the
// session, so the engine is never held up.
func (o *Orchestrator) onWakeWord(det wakeword.Detection) {
	o.mu.Lock()
	o.stats.WakeWordDetections++
	o.events.publish(Event{Type: EventWakeWord, Detection: &det})
	o.mu.Unlock()

	prompt := o.promptFor(det.Keyword)
	if _, err := o.start(context.Background(), prompt, StoryOptions{}, true); err != nil {
		o.log.Info("wake word ignored",
			slog.String("keyword", det.Keyword),
			slog.String("reason", err.Error()))
	}
}

func (o *Orchestrator) promptFor(keyword string) string {
	key := strings.ToLower(strings.TrimSpace(keyword))
	if prompt, ok := o.opts.WakePrompts[key]; ok && prompt != "" {
		return prompt
	}
	return o.opts.DefaultPrompt
}
