// Package agent drives story sessions: it turns a prompt into paragraphs,
// paragraphs into audio and audio into sound, one session at a time.
package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sarpel/BedtimeStoryTeller/internal/config"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
)

// Options tune the pipeline and supply story defaults.
type Options struct {
	MaxConcurrentSynthesis int
	AudioQueueSize         int
	PlaybackTimeout        time.Duration
	SilenceDuration        time.Duration
	SampleRate             int
	Channels               int
	Voice                  string
	Language               string
	AgeRating              string
	MaxParagraphs          int
	DefaultPrompt          string
	WakePrompts            map[string]string
}

func OptionsFromConfig(cfg config.Config) Options {
	return Options{
		MaxConcurrentSynthesis: cfg.Pipeline.MaxConcurrentSynthesis,
		AudioQueueSize:         cfg.Pipeline.AudioQueueSize,
		PlaybackTimeout:        cfg.Pipeline.PlaybackTimeout(),
		SilenceDuration:        cfg.Pipeline.SilenceDuration(),
		SampleRate:             cfg.Audio.SampleRate,
		Channels:               cfg.Audio.Channels,
		Voice:                  cfg.TTS.Voice,
		Language:               cfg.Story.Language,
		AgeRating:              cfg.Story.AgeRating,
		MaxParagraphs:          cfg.Story.MaxParagraphs,
		DefaultPrompt:          cfg.Story.DefaultPrompt,
		WakePrompts:            cfg.Story.WakePrompts,
	}
}

func (o Options) withDefaults() Options {
	if o.MaxConcurrentSynthesis <= 0 {
		o.MaxConcurrentSynthesis = 3
	}
	if o.AudioQueueSize <= 0 {
		o.AudioQueueSize = 3
	}
	if o.PlaybackTimeout <= 0 {
		o.PlaybackTimeout = 30 * time.Second
	}
	if o.SilenceDuration < 0 {
		o.SilenceDuration = 0
	}
	if o.SampleRate <= 0 {
		o.SampleRate = 16000
	}
	if o.Channels <= 0 {
		o.Channels = 1
	}
	if o.Language == "" {
		o.Language = "tr"
	}
	if o.AgeRating == "" {
		o.AgeRating = "5+"
	}
	if o.MaxParagraphs <= 0 {
		o.MaxParagraphs = 10
	}
	return o
}

// StoryOptions override the defaults for a single session.
type StoryOptions struct {
	Language      string
	AgeRating     string
	MaxParagraphs int
}

// Orchestrator owns the single active story session and the agent state.
type Orchestrator struct {
	opts      Options
	generator TextGenerator
	synth     Synthesizer
	player    Player
	safety    SafetyFilter
	wake      WakeDetector

	log     *slog.Logger
	tracer  trace.Tracer
	metrics *metrics
	events  *eventHub
	now     func() time.Time

	// listenMu serializes wake detection start/stop against story pauses.
	listenMu sync.Mutex

	mu           sync.Mutex
	state        State
	initialized  bool
	shuttingDown bool
	run          *storyRun
	stats        Stats
}

// storyRun is the bookkeeping for the session currently owning the device.
type storyRun struct {
	session *sessionRecord
	opts    StoryOptions
	audio   *AudioChannel
	limiter *Limiter
	cancel  context.CancelFunc
	done    chan struct{}
	stopped atomic.Bool

	// resume is guarded by Orchestrator.mu.
	resume bool

	result StorySession
	err    error
}

func New(deps Dependencies, opts Options, log *slog.Logger) *Orchestrator {
	o := &Orchestrator{
		opts:      opts.withDefaults(),
		generator: deps.Generator,
		synth:     deps.Synthesizer,
		player:    deps.Player,
		safety:    deps.Safety,
		wake:      deps.Wake,
		log:       log.With(slog.String("component", "orchestrator")),
		tracer:    otel.Tracer(instrumentationName),
		events:    newEventHub(),
		now:       time.Now,
		state:     StateIdle,
	}
	if o.safety == nil {
		o.safety = passthroughFilter{}
	}
	o.metrics = newMetrics(o, o.log)
	return o
}

// Initialize checks the collaborators and makes the orchestrator accept
// stories.
func (o *Orchestrator) Initialize(ctx context.Context) error {
	if o.generator == nil || o.synth == nil || o.player == nil {
		return errors.New("orchestrator requires a generator, synthesizer and player")
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.shuttingDown || o.state == StateStopped {
		return ErrShutdown
	}
	o.initialized = true
	o.log.Info("orchestrator initialized",
		slog.Int("max_concurrent_synthesis", o.opts.MaxConcurrentSynthesis),
		slog.Int("audio_queue_size", o.opts.AudioQueueSize),
		slog.Duration("playback_timeout", o.opts.PlaybackTimeout))
	return nil
}

// Subscribe returns a channel of events and a function that cancels the
// subscription. A subscriber that does not keep up loses events.
func (o *Orchestrator) Subscribe(buffer int) (<-chan Event, func()) {
	return o.events.subscribe(buffer)
}

// Handle tracks a session started with Start.
type Handle struct {
	o   *Orchestrator
	run *storyRun
}

func (h *Handle) SessionID() string { return h.run.session.id() }

// Done is closed once the session reached a terminal status.
func (h *Handle) Done() <-chan struct{} { return h.run.done }

// Session returns the current snapshot of the session.
func (h *Handle) Session() StorySession { return h.run.session.snapshot() }

// Wait blocks until the session ends or ctx is done. Stopped sessions return
// a nil error; callers branch on the session status.
func (h *Handle) Wait(ctx context.Context) (StorySession, error) {
	select {
	case <-h.run.done:
		return h.run.result, h.run.err
	case <-ctx.Done():
		return h.run.session.snapshot(), ctx.Err()
	}
}

// Stop cancels this session if it is still running.
func (h *Handle) Stop(ctx context.Context) error {
	return h.o.stopRun(ctx, h.run)
}

// TellStory runs a complete session and returns its final snapshot.
// Cancelling ctx stops the story.
func (o *Orchestrator) TellStory(ctx context.Context, prompt string, opts StoryOptions) (StorySession, error) {
	h, err := o.Start(ctx, prompt, opts)
	if err != nil {
		return StorySession{}, err
	}
	select {
	case <-h.run.done:
		return h.run.result, h.run.err
	case <-ctx.Done():
		if err := o.stopRun(context.Background(), h.run); err != nil {
			o.log.Warn("stop after caller cancellation", slogError(err))
		}
		return h.run.result, ctx.Err()
	}
}

// Start claims the device for a new session and runs it in the background.
// It fails with ErrBusy when a session is active or the state does not
// accept stories.
func (o *Orchestrator) Start(ctx context.Context, prompt string, opts StoryOptions) (*Handle, error) {
	return o.start(ctx, prompt, opts, false)
}

// start claims the device. A story started by a detection resumes listening
// afterwards even when the engine has not yet reported itself as listening.
func (o *Orchestrator) start(ctx context.Context, prompt string, opts StoryOptions, fromWake bool) (*Handle, error) {
	prompt = strings.TrimSpace(prompt)
	if prompt == "" {
		prompt = o.opts.DefaultPrompt
	}
	opts = o.resolve(opts)
	// The engine may be detecting without the agent having asked for it.
	engineListening := fromWake || (o.wake != nil && o.wake.Info().Listening)

	o.mu.Lock()
	switch {
	case o.shuttingDown || o.state == StateStopped:
		o.mu.Unlock()
		return nil, ErrShutdown
	case !o.initialized:
		o.mu.Unlock()
		return nil, ErrNotInitialized
	case o.run != nil || !o.state.acceptsStory():
		state := o.state
		o.mu.Unlock()
		o.metrics.rejected()
		o.log.Info("story rejected while busy", slog.String("state", string(state)))
		return nil, ErrBusy
	}

	// The session outlives the request; only the trace is carried over.
	runCtx, cancel := context.WithCancel(trace.ContextWithSpan(context.Background(), trace.SpanFromContext(ctx)))
	run := &storyRun{
		session: newSessionRecord(prompt, opts, o.now()),
		opts:    opts,
		audio:   NewAudioChannel(o.opts.AudioQueueSize),
		limiter: NewLimiter(o.opts.MaxConcurrentSynthesis),
		cancel:  cancel,
		done:    make(chan struct{}),
		resume:  o.state == StateListening || engineListening,
	}
	o.run = run
	o.stats.SessionsStarted++
	o.setStateLocked(StateGenerating)
	snap := run.session.snapshot()
	o.events.publish(Event{Type: EventStoryStarted, Session: &snap})
	o.mu.Unlock()

	o.log.Info("story started",
		slog.String("session_id", snap.ID),
		slog.String("language", snap.Language),
		slog.String("age_rating", snap.AgeRating))

	go o.execute(runCtx, run)
	return &Handle{o: o, run: run}, nil
}

func (o *Orchestrator) resolve(opts StoryOptions) StoryOptions {
	if opts.Language == "" {
		opts.Language = o.opts.Language
	}
	if opts.AgeRating == "" {
		opts.AgeRating = o.opts.AgeRating
	}
	if opts.MaxParagraphs <= 0 {
		opts.MaxParagraphs = o.opts.MaxParagraphs
	}
	return opts
}

func (o *Orchestrator) execute(ctx context.Context, run *storyRun) {
	defer close(run.done)
	defer run.cancel()

	o.pauseListening(ctx)
	err := o.runPipeline(ctx, run)
	resume := o.finish(run, err)
	if resume {
		o.resumeListening()
	}
}

// finish records the outcome and frees the session slot. It reports whether
// wake detection should be resumed.
func (o *Orchestrator) finish(run *storyRun, err error) bool {
	status := SessionCompleted
	switch {
	case run.stopped.Load():
		status, err = SessionStopped, nil
	case err != nil:
		status = SessionFailed
	}

	o.mu.Lock()
	snap := run.session.finish(status, err, o.now())
	run.result, run.err = snap, err

	switch status {
	case SessionCompleted:
		o.stats.recordCompleted(snap)
	case SessionFailed:
		o.stats.SessionsFailed++
	case SessionStopped:
		o.stats.SessionsStopped++
	}
	o.run = nil

	if status == SessionFailed {
		o.setStateLocked(StateError)
		o.events.publish(Event{
			Type:    EventError,
			Session: &snap,
			Kind:    KindOf(err),
			Message: err.Error(),
		})
	}
	if o.state != StateStopped {
		o.setStateLocked(StateIdle)
	}
	if status != SessionFailed {
		o.events.publish(Event{Type: EventStoryCompleted, Session: &snap})
	}
	resume := run.resume && !o.shuttingDown
	o.mu.Unlock()

	o.metrics.sessionEnded(status)
	attrs := []any{
		slog.String("session_id", snap.ID),
		slog.String("status", string(status)),
		slog.Int("paragraphs_generated", snap.ParagraphsGenerated),
		slog.Int("paragraphs_played", snap.ParagraphsPlayed),
		slog.Duration("audio", snap.AudioDuration),
		slog.Duration("time_to_first_audio", snap.TimeToFirstAudio),
	}
	if err != nil {
		o.log.Error("story failed", append(attrs, slog.String("kind", string(KindOf(err))), slogError(err))...)
	} else {
		o.log.Info("story finished", attrs...)
	}
	return resume
}

// StopCurrentStory cancels the active session and waits until it has
// unwound. It is a no-op when nothing is playing.
func (o *Orchestrator) StopCurrentStory(ctx context.Context) error {
	o.mu.Lock()
	run := o.run
	o.mu.Unlock()
	if run == nil {
		return nil
	}
	return o.stopRun(ctx, run)
}

func (o *Orchestrator) stopRun(ctx context.Context, run *storyRun) error {
	select {
	case <-run.done:
		return nil
	default:
	}
	if !run.stopped.Swap(true) {
		o.log.Info("stopping story", slog.String("session_id", run.session.id()))
	}
	run.cancel()
	select {
	case <-run.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Status returns a snapshot of the orchestrator.
func (o *Orchestrator) Status() Status {
	o.mu.Lock()
	st := Status{
		State:       o.state,
		Initialized: o.initialized,
		Stats:       o.stats,
	}
	if run := o.run; run != nil {
		snap := run.session.snapshot()
		st.Session = &snap
		st.AudioQueued = run.audio.Len()
		st.SynthesisInFlight = run.limiter.InFlight()
	}
	o.mu.Unlock()

	if o.wake != nil {
		info := o.wake.Info()
		st.Engine = &info
	}
	return st
}

// State returns the current agent state.
func (o *Orchestrator) State() State {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.state
}

// Shutdown stops the active story and wake detection and moves to the
// terminal Stopped state.
func (o *Orchestrator) Shutdown(ctx context.Context) error {
	o.mu.Lock()
	if o.shuttingDown {
		o.mu.Unlock()
		return nil
	}
	o.shuttingDown = true
	o.mu.Unlock()

	var errs []error
	if err := o.StopCurrentStory(ctx); err != nil {
		errs = append(errs, fmt.Errorf("stop story: %w", err))
	}
	if err := o.stopDetection(ctx); err != nil {
		errs = append(errs, fmt.Errorf("stop listening: %w", err))
	}

	o.mu.Lock()
	o.initialized = false
	o.setStateLocked(StateStopped)
	o.mu.Unlock()

	o.metrics.close()
	o.events.close()
	o.log.Info("orchestrator stopped")
	return errors.Join(errs...)
}

// setStateLocked records a transition and publishes it. Callers hold o.mu.
func (o *Orchestrator) setStateLocked(next State) {
	prev := o.state
	if prev == next {
		return
	}
	o.state = next
	o.events.publish(Event{Type: EventStateChanged, From: prev, To: next})
	o.log.Debug("state changed", slog.String("from", string(prev)), slog.String("to", string(next)))
}

// enterPlaying moves Generating to Playing for the run that owns the device.
func (o *Orchestrator) enterPlaying(run *storyRun) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.run == run && o.state == StateGenerating {
		o.setStateLocked(StatePlaying)
	}
}

func (o *Orchestrator) queueDepth() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.run == nil {
		return 0
	}
	return o.run.audio.Len()
}

func slogError(err error) slog.Attr {
	return slog.String("error", err.Error())
}
