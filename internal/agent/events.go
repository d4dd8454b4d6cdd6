package agent

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/sarpel/BedtimeStoryTeller/internal/wakeword"
)

type EventType string

const (
	EventStateChanged   EventType = "state_changed"
	EventStoryStarted   EventType = "story_started"
	EventStoryCompleted EventType = "story_completed"
	EventError          EventType = "error"
	EventWakeWord       EventType = "wake_word"
)

// Event is delivered to subscribers. Only the fields relevant to Type are set.
type Event struct {
	Type      EventType           `json:"type"`
	Time      time.Time           `json:"time"`
	From      State               `json:"from,omitempty"`
	To        State               `json:"to,omitempty"`
	Session   *StorySession       `json:"session,omitempty"`
	Kind      ErrorKind           `json:"kind,omitempty"`
	Message   string              `json:"message,omitempty"`
	Detection *wakeword.Detection `json:"detection,omitempty"`
}

// eventHub fans events out to subscriber channels. Publishing never blocks;
// a subscriber that falls behind loses events.
type eventHub struct {
	mu      sync.RWMutex
	subs    map[int]chan Event
	next    int
	closed  bool
	dropped atomic.Int64
}

func newEventHub() *eventHub {
	return &eventHub{subs: make(map[int]chan Event)}
}

func (h *eventHub) subscribe(buffer int) (<-chan Event, func()) {
	if buffer < 1 {
		buffer = 16
	}
	ch := make(chan Event, buffer)

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		close(ch)
		return ch, func() {}
	}
	id := h.next
	h.next++
	h.subs[id] = ch

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			h.mu.Lock()
			defer h.mu.Unlock()
			if sub, ok := h.subs[id]; ok {
				delete(h.subs, id)
				close(sub)
			}
		})
	}
}

func (h *eventHub) publish(evt Event) {
	if evt.Time.IsZero() {
		evt.Time = time.Now().UTC()
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, ch := range h.subs {
		select {
		case ch <- evt:
		default:
			h.dropped.Add(1)
		}
	}
}

func (h *eventHub) close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	h.closed = true
	for id, ch := range h.subs {
		delete(h.subs, id)
		close(ch)
	}
}
