package agent

import (
	"context"
	"time"
)

// audioItem is either a synthesized buffer or the end-of-stream marker.
type audioItem struct {
	index int
	audio []byte
	eos   bool
}

// AudioChannel is a fixed-capacity FIFO between synthesis and playback.
// Producers block while it is full; the single consumer blocks while it is
// empty.
type AudioChannel struct {
	items chan audioItem
}

func NewAudioChannel(capacity int) *AudioChannel {
	if capacity < 1 {
		capacity = 1
	}
	return &AudioChannel{items: make(chan audioItem, capacity)}
}

// Push enqueues a buffer, waiting for space.
func (c *AudioChannel) Push(ctx context.Context, index int, audio []byte) error {
	return c.put(ctx, audioItem{index: index, audio: audio})
}

// Close enqueues the end-of-stream marker, waiting for space.
func (c *AudioChannel) Close(ctx context.Context) error {
	return c.put(ctx, audioItem{eos: true})
}

func (c *AudioChannel) put(ctx context.Context, item audioItem) error {
	select {
	case c.items <- item:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Receive waits up to timeout for the next item. It returns
// ErrPlaybackStalled when nothing arrives in time.
func (c *AudioChannel) Receive(ctx context.Context, timeout time.Duration) (audioItem, error) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case item := <-c.items:
		return item, nil
	case <-timer.C:
		return audioItem{}, ErrPlaybackStalled
	case <-ctx.Done():
		return audioItem{}, ctx.Err()
	}
}

// Drain discards everything currently queued and returns how many items were
// dropped.
func (c *AudioChannel) Drain() int {
	dropped := 0
	for {
		select {
		case <-c.items:
			dropped++
		default:
			return dropped
		}
	}
}

func (c *AudioChannel) Len() int { return len(c.items) }

func (c *AudioChannel) Cap() int { return cap(c.items) }
