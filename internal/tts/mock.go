package tts

import (
	"context"
	"encoding/binary"
	"math"
	"strings"
	"time"

	"github.com/sarpel/BedtimeStoryTeller/internal/pcm"
)

const mockPerWord = 80 * time.Millisecond

type mockSynth struct {
	format pcm.Format
	delay  time.Duration
}

// NewMockSynth returns a synthesizer that answers after delay with a soft
// tone whose length follows the word count.
func NewMockSynth(sampleRate, channels int, delay time.Duration) Synthesizer {
	return &mockSynth{format: pcm.Format{SampleRate: sampleRate, Channels: channels}, delay: delay}
}

func (m *mockSynth) Synthesize(ctx context.Context, req SynthRequest) ([]byte, error) {
	if m.delay > 0 {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(m.delay):
		}
	} else if err := ctx.Err(); err != nil {
		return nil, err
	}

	words := len(strings.Fields(req.Text))
	if words == 0 {
		words = 1
	}
	return tone(m.format, time.Duration(words)*mockPerWord, 330), nil
}

func tone(f pcm.Format, d time.Duration, hz float64) []byte {
	frames := int(d.Seconds() * float64(f.SampleRate))
	out := make([]byte, frames*2*f.Channels)
	for i := 0; i < frames; i++ {
		v := int16(1200 * math.Sin(2*math.Pi*hz*float64(i)/float64(f.SampleRate)))
		for c := 0; c < f.Channels; c++ {
			binary.LittleEndian.PutUint16(out[(i*f.Channels+c)*2:], uint16(v))
		}
	}
	return out
}
