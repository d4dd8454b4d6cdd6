package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/sarpel/BedtimeStoryTeller/internal/llm"
	"github.com/sarpel/BedtimeStoryTeller/internal/pcm"
	"github.com/sarpel/BedtimeStoryTeller/internal/provider"
	"github.com/sarpel/BedtimeStoryTeller/internal/tts"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// pipelineErrors keeps the first failure that is not a mere consequence of
// cancellation, and cancels the pipeline when it is recorded.
type pipelineErrors struct {
	mu     sync.Mutex
	first  error
	cancel context.CancelFunc
}

func (p *pipelineErrors) fail(err error) {
	if err == nil || errors.Is(err, context.Canceled) {
		return
	}
	p.mu.Lock()
	if p.first == nil {
		p.first = err
	}
	p.mu.Unlock()
	p.cancel()
}

func (p *pipelineErrors) err() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.first
}

// runPipeline generates, synthesizes and plays one story. Synthesis runs
// concurrently up to the limiter's bound while audio is handed to playback
// strictly in paragraph order.
func (o *Orchestrator) runPipeline(ctx context.Context, run *storyRun) (err error) {
	rec := run.session
	ctx, span := o.tracer.Start(ctx, "story.pipeline", trace.WithAttributes(
		attribute.String("session.id", rec.id()),
		attribute.String("story.language", run.opts.Language),
	))
	defer func() {
		if err != nil && !errors.Is(err, context.Canceled) {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()

	started := rec.snapshot().CreatedAt
	prompt, err := o.safety.Check(ctx, rec.snapshot().Prompt)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("%w: %w", ErrSafetyRejected, err)
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	failures := &pipelineErrors{cancel: cancel}
	audio := run.audio
	defer func() {
		if dropped := audio.Drain(); dropped > 0 {
			o.log.Debug("discarded queued audio", slog.Int("buffers", dropped))
		}
	}()

	playbackDone := make(chan struct{})
	go func() {
		defer close(playbackDone)
		failures.fail(o.playback(ctx, run))
	}()

	var tasks sync.WaitGroup
	turn := make(chan struct{})
	close(turn)
	index := 0

	req := llm.StoryRequest{
		SessionID:     rec.id(),
		Prompt:        prompt,
		Language:      run.opts.Language,
		AgeRating:     run.opts.AgeRating,
		MaxParagraphs: run.opts.MaxParagraphs,
	}
	genErr := o.generator.Story(ctx, req, func(paragraph string) error {
		paragraph = strings.TrimSpace(paragraph)
		if paragraph == "" {
			return nil
		}
		if n := rec.paragraphGenerated(); n == 1 {
			ttfa := o.now().Sub(started)
			rec.setTimeToFirstAudio(ttfa)
			o.metrics.timeToFirstAudio(ctx, ttfa)
		}
		o.metrics.paragraphGenerated(ctx)

		if err := run.limiter.Acquire(ctx); err != nil {
			return err
		}
		prev, next := turn, make(chan struct{})
		turn = next
		tasks.Add(1)
		go func(index int, text string) {
			defer tasks.Done()
			defer run.limiter.Release()
			failures.fail(o.synthesize(ctx, run, index, text, prev, next))
		}(index, paragraph)
		index++
		return nil
	})

	if genErr != nil && ctx.Err() == nil {
		if provider.IsRecoverable(genErr) && index > 0 {
			o.log.Warn("story generation ended early",
				slog.String("session_id", req.SessionID),
				slog.Int("paragraphs", index),
				slogError(genErr))
		} else {
			failures.fail(fmt.Errorf("generate story: %w", genErr))
		}
	}

	tasks.Wait()
	if ctx.Err() == nil {
		select {
		case <-turn:
			failures.fail(audio.Close(ctx))
		case <-ctx.Done():
		}
	}
	<-playbackDone

	if err := failures.err(); err != nil {
		return err
	}
	return ctx.Err()
}

// synthesize produces audio for one paragraph and pushes it once every
// earlier paragraph has been queued. Recoverable provider failures are
// replaced by silence.
func (o *Orchestrator) synthesize(ctx context.Context, run *storyRun, index int, text string, prev <-chan struct{}, next chan<- struct{}) error {
	ctx, span := o.tracer.Start(ctx, "story.synthesize", trace.WithAttributes(attribute.Int("paragraph.index", index)))
	defer span.End()

	o.metrics.synthesisStarted(ctx)
	audio, err := o.synth.Synthesize(ctx, tts.SynthRequest{
		SessionID: run.session.id(),
		Text:      text,
		Voice:     o.opts.Voice,
		Language:  run.opts.Language,
	})
	o.metrics.synthesisFinished(ctx)

	switch {
	case err == nil:
		run.session.addAudio(o.format().Duration(len(audio)))
	case ctx.Err() != nil:
		return ctx.Err()
	case provider.IsRecoverable(err):
		span.RecordError(err)
		o.log.Warn("synthesis failed; inserting silence",
			slog.String("session_id", run.session.id()),
			slog.Int("paragraph", index),
			slogError(err))
		o.metrics.paragraphSilenced(ctx)
		audio = o.format().Silence(o.opts.SilenceDuration)
	default:
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("synthesize paragraph %d: %w", index, err)
	}

	select {
	case <-prev:
	case <-ctx.Done():
		return ctx.Err()
	}
	if err := run.audio.Push(ctx, index, audio); err != nil {
		return err
	}
	close(next)
	return nil
}

// playback is the single consumer of the audio channel.
func (o *Orchestrator) playback(ctx context.Context, run *storyRun) error {
	ctx, span := o.tracer.Start(ctx, "story.playback")
	defer span.End()

	first := true
	for {
		item, err := run.audio.Receive(ctx, o.opts.PlaybackTimeout)
		if err != nil {
			if errors.Is(err, ErrPlaybackStalled) {
				span.RecordError(err)
				span.SetStatus(codes.Error, err.Error())
			}
			return err
		}
		if item.eos {
			return nil
		}
		if first {
			o.enterPlaying(run)
			first = false
		}
		if err := o.player.Play(ctx, item.audio); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			o.log.Warn("playback failed; skipping paragraph",
				slog.String("session_id", run.session.id()),
				slog.Int("paragraph", item.index),
				slogError(err))
			continue
		}
		run.session.paragraphPlayed()
		o.metrics.paragraphPlayed(ctx)
	}
}

func (o *Orchestrator) format() pcm.Format {
	return pcm.Format{SampleRate: o.opts.SampleRate, Channels: o.opts.Channels}
}
