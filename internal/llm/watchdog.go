package llm

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/sarpel/BedtimeStoryTeller/internal/provider"
)

// idleWatchdog bounds how long a provider may keep a stream silent. The clock
// only runs while the generator waits on the provider: it is paused for the
// time the consumer holds a chunk, so backpressure from playback never counts
// against the provider timeout.
type idleWatchdog struct {
	name    string
	timeout time.Duration
	cancel  context.CancelFunc

	mu      sync.Mutex
	timer   *time.Timer
	gen     int
	expired bool
}

// watchStream derives the request context for one provider stream. A zero
// timeout disables the watchdog.
func watchStream(ctx context.Context, name string, timeout time.Duration) (context.Context, *idleWatchdog) {
	ctx, cancel := context.WithCancel(ctx)
	w := &idleWatchdog{name: name, timeout: timeout, cancel: cancel}
	if timeout > 0 {
		w.arm()
	}
	return ctx, w
}

// arm starts a new idle window. Callers hold mu, except at construction.
func (w *idleWatchdog) arm() {
	gen := w.gen
	w.timer = time.AfterFunc(w.timeout, func() { w.fire(gen) })
}

// fire ignores timers from a window that was already disarmed.
func (w *idleWatchdog) fire(gen int) {
	w.mu.Lock()
	if gen != w.gen {
		w.mu.Unlock()
		return
	}
	w.expired = true
	w.mu.Unlock()
	w.cancel()
}

// deliver runs fn with the clock stopped and restarts a full idle window
// afterwards.
func (w *idleWatchdog) deliver(fn func() error) error {
	if w.timeout <= 0 {
		return fn()
	}
	w.mu.Lock()
	if w.expired {
		w.mu.Unlock()
		return w.err()
	}
	w.gen++
	w.timer.Stop()
	w.mu.Unlock()

	err := fn()

	w.mu.Lock()
	if !w.expired {
		w.gen++
		w.arm()
	}
	w.mu.Unlock()
	return err
}

// Expired reports whether the provider went silent for longer than the
// timeout.
func (w *idleWatchdog) Expired() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.expired
}

func (w *idleWatchdog) err() error {
	return provider.Recoverable(w.name, provider.KindTimeout,
		fmt.Errorf("no data from provider for %s", w.timeout))
}

// classify replaces a failure caused by the watchdog with a timeout error.
func (w *idleWatchdog) classify(err error) error {
	if w.Expired() {
		return w.err()
	}
	return err
}

func (w *idleWatchdog) stop() {
	w.mu.Lock()
	w.gen++
	if w.timer != nil {
		w.timer.Stop()
	}
	w.mu.Unlock()
	w.cancel()
}
