package agent

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestAudioChannelFIFO(t *testing.T) {
	ch := NewAudioChannel(3)
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		if err := ch.Push(ctx, i, []byte{byte(i)}); err != nil {
			t.Fatal(err)
		}
	}
	if ch.Len() != 3 || ch.Cap() != 3 {
		t.Fatalf("len=%d cap=%d", ch.Len(), ch.Cap())
	}
	for i := 0; i < 3; i++ {
		item, err := ch.Receive(ctx, time.Second)
		if err != nil {
			t.Fatal(err)
		}
		if item.index != i || item.audio[0] != byte(i) {
			t.Fatalf("item %d = %+v", i, item)
		}
	}
}

func TestAudioChannelBackpressure(t *testing.T) {
	ch := NewAudioChannel(1)
	ctx := context.Background()
	if err := ch.Push(ctx, 0, nil); err != nil {
		t.Fatal(err)
	}

	pushed := make(chan error, 1)
	go func() { pushed <- ch.Push(ctx, 1, nil) }()

	select {
	case <-pushed:
		t.Fatal("push into a full channel did not block")
	case <-time.After(30 * time.Millisecond):
	}

	if _, err := ch.Receive(ctx, time.Second); err != nil {
		t.Fatal(err)
	}
	select {
	case err := <-pushed:
		if err != nil {
			t.Fatal(err)
		}
	case <-time.After(time.Second):
		t.Fatal("push did not resume after receive")
	}
}

func TestAudioChannelPushHonoursContext(t *testing.T) {
	ch := NewAudioChannel(1)
	_ = ch.Push(context.Background(), 0, nil)
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := ch.Push(ctx, 1, nil); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("err = %v", err)
	}
}

func TestAudioChannelReceiveTimeout(t *testing.T) {
	ch := NewAudioChannel(2)
	_, err := ch.Receive(context.Background(), 20*time.Millisecond)
	if !errors.Is(err, ErrPlaybackStalled) {
		t.Fatalf("err = %v, want ErrPlaybackStalled", err)
	}
}

func TestAudioChannelCloseAndDrain(t *testing.T) {
	ch := NewAudioChannel(3)
	ctx := context.Background()
	_ = ch.Push(ctx, 0, nil)
	if err := ch.Close(ctx); err != nil {
		t.Fatal(err)
	}
	item, _ := ch.Receive(ctx, time.Second)
	if item.eos {
		t.Fatal("eos delivered before queued audio")
	}
	item, _ = ch.Receive(ctx, time.Second)
	if !item.eos {
		t.Fatal("expected end-of-stream marker")
	}

	_ = ch.Push(ctx, 1, nil)
	_ = ch.Push(ctx, 2, nil)
	if n := ch.Drain(); n != 2 || ch.Len() != 0 {
		t.Fatalf("drained %d, len %d", n, ch.Len())
	}
}
