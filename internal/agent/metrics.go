package agent

import (
	"context"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const instrumentationName = "github.com/sarpel/BedtimeStoryTeller/agent"

type metrics struct {
	sessions      metric.Int64Counter
	rejections    metric.Int64Counter
	generated     metric.Int64Counter
	played        metric.Int64Counter
	silenced      metric.Int64Counter
	inflight      metric.Int64UpDownCounter
	firstAudio    metric.Float64Histogram
	queueDepth    metric.Int64ObservableGauge
	registrations []metric.Registration
}

func newMetrics(o *Orchestrator, log *slog.Logger) *metrics {
	meter := otel.Meter(instrumentationName)
	m := &metrics{}
	var err error
	warn := func(name string, err error) {
		log.Warn("failed to create instrument", slog.String("instrument", name), slogError(err))
	}

	if m.sessions, err = meter.Int64Counter("storyteller.sessions", metric.WithDescription("Story sessions by outcome")); err != nil {
		warn("storyteller.sessions", err)
	}
	if m.rejections, err = meter.Int64Counter("storyteller.sessions.rejected", metric.WithDescription("Story requests rejected while busy")); err != nil {
		warn("storyteller.sessions.rejected", err)
	}
	if m.generated, err = meter.Int64Counter("storyteller.paragraphs.generated"); err != nil {
		warn("storyteller.paragraphs.generated", err)
	}
	if m.played, err = meter.Int64Counter("storyteller.paragraphs.played"); err != nil {
		warn("storyteller.paragraphs.played", err)
	}
	if m.silenced, err = meter.Int64Counter("storyteller.paragraphs.silenced", metric.WithDescription("Paragraphs replaced by silence after a recoverable synthesis failure")); err != nil {
		warn("storyteller.paragraphs.silenced", err)
	}
	if m.inflight, err = meter.Int64UpDownCounter("storyteller.synthesis.inflight"); err != nil {
		warn("storyteller.synthesis.inflight", err)
	}
	if m.firstAudio, err = meter.Float64Histogram("storyteller.time_to_first_audio", metric.WithUnit("s")); err != nil {
		warn("storyteller.time_to_first_audio", err)
	}
	if m.queueDepth, err = meter.Int64ObservableGauge("storyteller.audio.queue_depth", metric.WithDescription("Buffers waiting for playback")); err != nil {
		warn("storyteller.audio.queue_depth", err)
	} else {
		reg, err := meter.RegisterCallback(func(ctx context.Context, obs metric.Observer) error {
			obs.ObserveInt64(m.queueDepth, int64(o.queueDepth()))
			return nil
		}, m.queueDepth)
		if err != nil {
			warn("storyteller.audio.queue_depth", err)
		} else {
			m.registrations = append(m.registrations, reg)
		}
	}
	return m
}

func (m *metrics) sessionEnded(status SessionStatus) {
	if m.sessions != nil {
		m.sessions.Add(context.Background(), 1, metric.WithAttributes(attribute.String("status", string(status))))
	}
}

func (m *metrics) rejected() {
	if m.rejections != nil {
		m.rejections.Add(context.Background(), 1)
	}
}

func (m *metrics) paragraphGenerated(ctx context.Context) {
	if m.generated != nil {
		m.generated.Add(ctx, 1)
	}
}

func (m *metrics) paragraphPlayed(ctx context.Context) {
	if m.played != nil {
		m.played.Add(ctx, 1)
	}
}

func (m *metrics) paragraphSilenced(ctx context.Context) {
	if m.silenced != nil {
		m.silenced.Add(ctx, 1)
	}
}

func (m *metrics) synthesisStarted(ctx context.Context) {
	if m.inflight != nil {
		m.inflight.Add(ctx, 1)
	}
}

func (m *metrics) synthesisFinished(ctx context.Context) {
	if m.inflight != nil {
		m.inflight.Add(ctx, -1)
	}
}

func (m *metrics) timeToFirstAudio(ctx context.Context, d time.Duration) {
	if m.firstAudio != nil {
		m.firstAudio.Record(ctx, d.Seconds())
	}
}

func (m *metrics) close() {
	for _, reg := range m.registrations {
		_ = reg.Unregister()
	}
}
