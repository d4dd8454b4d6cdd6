package agent

import "context"

// Limiter caps the number of synthesis operations in flight.
type Limiter struct {
	sema chan struct{}
}

func NewLimiter(limit int) *Limiter {
	if limit < 1 {
		limit = 1
	}
	return &Limiter{sema: make(chan struct{}, limit)}
}

// Acquire blocks until a slot is free or ctx is done.
func (l *Limiter) Acquire(ctx context.Context) error {
	select {
	case l.sema <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (l *Limiter) Release() {
	select {
	case <-l.sema:
	default:
		panic("agent: limiter released more than acquired")
	}
}

// InFlight reports how many slots are held.
func (l *Limiter) InFlight() int { return len(l.sema) }

func (l *Limiter) Limit() int { return cap(l.sema) }
