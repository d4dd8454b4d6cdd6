package player

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/ebitengine/oto/v3"
	"github.com/sarpel/BedtimeStoryTeller/internal/pcm"
)

const pollInterval = 10 * time.Millisecond

var (
	otoOnce sync.Once
	otoCtx  *oto.Context
	otoFmt  pcm.Format
	otoErr  error
)

// oto allows a single context per process.
func sharedContext(format pcm.Format) (*oto.Context, error) {
	otoOnce.Do(func() {
		ctx, ready, err := oto.NewContext(&oto.NewContextOptions{
			SampleRate:   format.SampleRate,
			ChannelCount: format.Channels,
			Format:       oto.FormatSignedInt16LE,
		})
		if err != nil {
			otoErr = fmt.Errorf("create audio context: %w", err)
			return
		}
		<-ready
		otoCtx, otoFmt = ctx, format
	})
	if otoErr != nil {
		return nil, otoErr
	}
	if otoFmt != format {
		return nil, fmt.Errorf("audio context already opened at %d Hz/%d ch", otoFmt.SampleRate, otoFmt.Channels)
	}
	return otoCtx, nil
}

// Oto plays through the system audio device.
type Oto struct {
	ctx    *oto.Context
	format pcm.Format
	volume float64
	log    *slog.Logger

	mu     sync.Mutex
	closed bool
}

func NewOto(format pcm.Format, volume float64, log *slog.Logger) (*Oto, error) {
	ctx, err := sharedContext(format)
	if err != nil {
		return nil, err
	}
	log.Info("audio output ready", slog.Int("sample_rate", format.SampleRate), slog.Int("channels", format.Channels))
	return &Oto{ctx: ctx, format: format, volume: volume, log: log.With(slog.String("component", "player"))}, nil
}

func (o *Oto) Play(ctx context.Context, audio []byte) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.closed {
		return errors.New("player closed")
	}
	if pcm.IsWAV(audio) {
		converted, err := pcm.FromWAV(audio, o.format)
		if err != nil {
			return err
		}
		audio = converted
	}
	if len(audio) == 0 {
		return nil
	}

	p := o.ctx.NewPlayer(bytes.NewReader(audio))
	defer p.Close()
	p.SetVolume(o.volume)
	p.Play()

	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()
	for p.IsPlaying() {
		select {
		case <-ctx.Done():
			p.Pause()
			return ctx.Err()
		case <-ticker.C:
		}
	}
	return p.Err()
}

// Close stops accepting audio. The process-wide device stays open.
func (o *Oto) Close() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.closed = true
	return nil
}
