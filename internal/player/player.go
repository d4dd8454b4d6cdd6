// Package player plays raw PCM buffers on the local audio device.
package player

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/sarpel/BedtimeStoryTeller/internal/config"
	"github.com/sarpel/BedtimeStoryTeller/internal/pcm"
)

// Player plays one buffer at a time. Play returns once the buffer has been
// played or ctx is done.
type Player interface {
	Play(ctx context.Context, audio []byte) error
	Close() error
}

// New builds the player selected by cfg.Player.
func New(cfg config.AudioConfig, log *slog.Logger) (Player, error) {
	format := pcm.Format{SampleRate: cfg.SampleRate, Channels: cfg.Channels}
	switch cfg.Player {
	case "", "oto":
		return NewOto(format, cfg.Volume, log)
	case "mock":
		return NewMock(format, 1), nil
	case "null":
		return Null{}, nil
	default:
		return nil, fmt.Errorf("unknown player %q", cfg.Player)
	}
}

// Mock records every buffer it is given. With a positive pace it blocks for
// the buffer's playing time divided by pace.
type Mock struct {
	format pcm.Format
	pace   float64

	mu      sync.Mutex
	buffers [][]byte
}

func NewMock(format pcm.Format, pace float64) *Mock {
	return &Mock{format: format, pace: pace}
}

func (m *Mock) Play(ctx context.Context, audio []byte) error {
	if m.pace > 0 {
		d := time.Duration(float64(m.format.Duration(len(audio))) / m.pace)
		timer := time.NewTimer(d)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-timer.C:
		}
	} else if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	m.buffers = append(m.buffers, append([]byte(nil), audio...))
	m.mu.Unlock()
	return nil
}

// Buffers returns copies of the buffers played so far.
func (m *Mock) Buffers() [][]byte {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([][]byte, len(m.buffers))
	copy(out, m.buffers)
	return out
}

func (m *Mock) Close() error { return nil }

// Null discards audio.
type Null struct{}

func (Null) Play(ctx context.Context, _ []byte) error { return ctx.Err() }
func (Null) Close() error                             { return nil }
