package agent

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/sarpel/BedtimeStoryTeller/internal/wakeword"
)

type fakeWake struct {
	mu        sync.Mutex
	callback  func(wakeword.Detection)
	listening bool
	starts    int
	stops     int
}

func (w *fakeWake) StartDetection(_ context.Context, cb func(wakeword.Detection)) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.callback = cb
	w.listening = true
	w.starts++
	return nil
}

func (w *fakeWake) StopDetection(context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.listening = false
	w.stops++
	return nil
}

func (w *fakeWake) Info() wakeword.EngineInfo {
	w.mu.Lock()
	defer w.mu.Unlock()
	return wakeword.EngineInfo{Name: "fake", Status: wakeword.StatusReady, Listening: w.listening}
}

func (w *fakeWake) trigger(keyword string) {
	w.mu.Lock()
	cb := w.callback
	w.mu.Unlock()
	cb(wakeword.Detection{Keyword: keyword, Confidence: 0.9, Engine: "fake"})
}

func (w *fakeWake) isListening() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.listening
}

func wakeOptions() Options {
	opts := testOptions()
	opts.WakePrompts = map[string]string{"hey storyteller": "a sleepy owl"}
	return opts
}

func TestWakeWordStartsStoryAndResumesListening(t *testing.T) {
	gen := &fakeGenerator{paragraphs: []string{"W1"}}
	wake := &fakeWake{}
	o := newOrchestrator(t, Dependencies{
		Generator:   gen,
		Synthesizer: &fakeSynth{},
		Player:      &recordingPlayer{},
		Wake:        wake,
	}, wakeOptions())
	events, cancel := o.Subscribe(64)
	defer cancel()

	if err := o.StartListening(context.Background()); err != nil {
		t.Fatal(err)
	}
	if o.State() != StateListening {
		t.Fatalf("state = %s", o.State())
	}
	if err := o.StartListening(context.Background()); err != nil {
		t.Fatalf("second StartListening: %v", err)
	}

	wake.trigger("Hey Storyteller")
	waitFor(t, "story completion", func() bool { return o.Status().Stats.SessionsCompleted == 1 })
	waitFor(t, "listening again", func() bool { return o.State() == StateListening })

	if req := gen.request(); req.Prompt != "a sleepy owl" {
		t.Fatalf("prompt = %q", req.Prompt)
	}
	st := o.Status()
	if st.Stats.WakeWordDetections != 1 {
		t.Fatalf("detections = %d", st.Stats.WakeWordDetections)
	}
	if st.Engine == nil || !st.Engine.Listening {
		t.Fatalf("engine info = %+v", st.Engine)
	}
	wake.mu.Lock()
	starts, stops := wake.starts, wake.stops
	wake.mu.Unlock()
	if starts != 2 || stops != 1 {
		t.Fatalf("starts=%d stops=%d", starts, stops)
	}

	var sawWake bool
	for drained := false; !drained; {
		select {
		case evt := <-events:
			if evt.Type == EventWakeWord && evt.Detection != nil && evt.Detection.Keyword == "Hey Storyteller" {
				sawWake = true
			}
		default:
			drained = true
		}
	}
	if !sawWake {
		t.Fatal("no wake word event")
	}
}

func TestUnknownKeywordUsesDefaultPrompt(t *testing.T) {
	gen := &fakeGenerator{paragraphs: []string{"W2"}}
	wake := &fakeWake{}
	o := newOrchestrator(t, Dependencies{Generator: gen, Synthesizer: &fakeSynth{}, Player: &recordingPlayer{}, Wake: wake}, wakeOptions())
	if err := o.StartListening(context.Background()); err != nil {
		t.Fatal(err)
	}
	wake.trigger("computer")
	waitFor(t, "story completion", func() bool { return o.Status().Stats.SessionsCompleted == 1 })
	if req := gen.request(); req.Prompt != "a gentle story" {
		t.Fatalf("prompt = %q", req.Prompt)
	}
}

func TestStopListeningDuringStoryPreventsResume(t *testing.T) {
	player := &recordingPlayer{gate: make(chan struct{})}
	wake := &fakeWake{}
	o := newOrchestrator(t, Dependencies{
		Generator:   &fakeGenerator{paragraphs: []string{"W3"}},
		Synthesizer: &fakeSynth{},
		Player:      player,
		Wake:        wake,
	}, wakeOptions())

	if err := o.StartListening(context.Background()); err != nil {
		t.Fatal(err)
	}
	h, err := o.Start(context.Background(), "manual", StoryOptions{})
	if err != nil {
		t.Fatal(err)
	}
	waitFor(t, "playing", func() bool { return o.State() == StatePlaying })
	if wake.isListening() {
		t.Fatal("detection still running during a story")
	}

	if err := o.StopListening(context.Background()); err != nil {
		t.Fatal(err)
	}
	close(player.gate)
	if _, err := h.Wait(context.Background()); err != nil {
		t.Fatal(err)
	}
	if o.State() != StateIdle || wake.isListening() {
		t.Fatalf("state = %s listening = %v", o.State(), wake.isListening())
	}
}

func TestWakeWordWhileBusyIsIgnored(t *testing.T) {
	player := &recordingPlayer{gate: make(chan struct{})}
	wake := &fakeWake{}
	gen := &fakeGenerator{paragraphs: []string{"W4"}}
	o := newOrchestrator(t, Dependencies{Generator: gen, Synthesizer: &fakeSynth{}, Player: player, Wake: wake}, wakeOptions())

	if err := o.StartListening(context.Background()); err != nil {
		t.Fatal(err)
	}
	h, err := o.Start(context.Background(), "first", StoryOptions{})
	if err != nil {
		t.Fatal(err)
	}
	waitFor(t, "playing", func() bool { return o.State() == StatePlaying })

	wake.trigger("hey storyteller")
	if got := o.Status().Stats.SessionsStarted; got != 1 {
		t.Fatalf("sessions started = %d", got)
	}
	if err := o.StartListening(context.Background()); !errors.Is(err, ErrBusy) {
		t.Fatalf("StartListening while telling: %v", err)
	}
	close(player.gate)
	if _, err := h.Wait(context.Background()); err != nil {
		t.Fatal(err)
	}
	waitFor(t, "listening again", func() bool { return o.State() == StateListening })
}

func TestStartListeningWithoutEngine(t *testing.T) {
	o := newOrchestrator(t, Dependencies{Generator: &fakeGenerator{}, Synthesizer: &fakeSynth{}, Player: &recordingPlayer{}}, testOptions())
	if err := o.StartListening(context.Background()); !errors.Is(err, ErrNoWakeEngine) {
		t.Fatalf("err = %v", err)
	}
	if err := o.StopListening(context.Background()); err != nil {
		t.Fatalf("StopListening without engine: %v", err)
	}
}

func TestStoryResumesEngineThatWasDetecting(t *testing.T) {
	// The engine was started behind the agent's back, so the agent is idle.
	wake := &fakeWake{listening: true}
	o := newOrchestrator(t, Dependencies{
		Generator:   &fakeGenerator{paragraphs: []string{"W5"}},
		Synthesizer: &fakeSynth{},
		Player:      &recordingPlayer{},
		Wake:        wake,
	}, wakeOptions())
	if o.State() != StateIdle {
		t.Fatalf("state = %s", o.State())
	}

	h, err := o.Start(context.Background(), "manual", StoryOptions{})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := h.Wait(context.Background()); err != nil {
		t.Fatal(err)
	}
	waitFor(t, "listening again", func() bool { return o.State() == StateListening && wake.isListening() })

	wake.mu.Lock()
	starts, stops := wake.starts, wake.stops
	wake.mu.Unlock()
	if starts != 1 || stops != 1 {
		t.Fatalf("starts=%d stops=%d", starts, stops)
	}
}

// eagerWake reports a detection from inside StartDetection, before it has
// marked itself as listening.
type eagerWake struct {
	fakeWake
	fired bool
}

func (w *eagerWake) StartDetection(ctx context.Context, cb func(wakeword.Detection)) error {
	w.mu.Lock()
	first := !w.fired
	w.fired = true
	w.mu.Unlock()
	if first {
		cb(wakeword.Detection{Keyword: "hey storyteller", Confidence: 0.9, Engine: "eager"})
	}
	return w.fakeWake.StartDetection(ctx, cb)
}

func TestDetectionDuringStartListeningResumes(t *testing.T) {
	wake := &eagerWake{}
	gen := &fakeGenerator{paragraphs: []string{"W6"}}
	o := newOrchestrator(t, Dependencies{
		Generator:   gen,
		Synthesizer: &fakeSynth{},
		Player:      &recordingPlayer{},
		Wake:        wake,
	}, wakeOptions())

	if err := o.StartListening(context.Background()); err != nil {
		t.Fatal(err)
	}
	waitFor(t, "story completion", func() bool { return o.Status().Stats.SessionsCompleted == 1 })
	waitFor(t, "listening again", func() bool { return o.State() == StateListening && wake.isListening() })
	if req := gen.request(); req.Prompt != "a sleepy owl" {
		t.Fatalf("prompt = %q", req.Prompt)
	}
}
