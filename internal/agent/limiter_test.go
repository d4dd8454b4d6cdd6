package agent

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestLimiterBlocksAtLimit(t *testing.T) {
	l := NewLimiter(2)
	ctx := context.Background()
	for i := 0; i < 2; i++ {
		if err := l.Acquire(ctx); err != nil {
			t.Fatal(err)
		}
	}
	if l.InFlight() != 2 || l.Limit() != 2 {
		t.Fatalf("inflight=%d limit=%d", l.InFlight(), l.Limit())
	}

	acquired := make(chan struct{})
	go func() {
		_ = l.Acquire(ctx)
		close(acquired)
	}()
	select {
	case <-acquired:
		t.Fatal("acquire beyond the limit did not block")
	case <-time.After(30 * time.Millisecond):
	}

	l.Release()
	select {
	case <-acquired:
	case <-time.After(time.Second):
		t.Fatal("acquire did not proceed after release")
	}
}

func TestLimiterAcquireCancelled(t *testing.T) {
	l := NewLimiter(1)
	_ = l.Acquire(context.Background())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := l.Acquire(ctx); !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v", err)
	}
	if l.InFlight() != 1 {
		t.Fatalf("cancelled acquire took a slot: %d", l.InFlight())
	}
}

func TestLimiterOverReleasePanics(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatal("expected panic")
		}
	}()
	NewLimiter(1).Release()
}

func TestNewLimiterMinimum(t *testing.T) {
	if got := NewLimiter(0).Limit(); got != 1 {
		t.Fatalf("limit = %d", got)
	}
}
