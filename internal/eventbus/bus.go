package eventbus

import (
	"sync"
	"sync/atomic"
	"time"
)

// Kind names a poll-loop event.
type Kind string

const (
	// KindCycle is published after every completed poll cycle.
	KindCycle Kind = "cycle"
	// KindNotified is published after a notification was delivered.
	KindNotified Kind = "notified"
	// KindFetchFailed is published when a fetch or parse failed.
	KindFetchFailed Kind = "fetch_failed"
	// KindStopped is published once when the loop reaches Stopped.
	KindStopped Kind = "stopped"
)

// Event is a lightweight, in-memory signal used to decouple the poll loop from
// status reporting and persistence hooks.
//
// Contract:
//   - Publish MUST be non-blocking.
//   - Subscribers MUST use buffered channels.
//   - Slow subscribers may drop events.
type Event struct {
	Kind    Kind      `json:"kind"`
	Time    time.Time `json:"time"`
	CycleID string    `json:"cycle_id,omitempty"`
	Data    any       `json:"data,omitempty"`
}

type Bus interface {
	Publish(e Event)
	Subscribe(buffer int) (ch <-chan Event, unsubscribe func())
}

// New returns an in-memory fanout bus. It owns no goroutines.
func New() Bus {
	return &memBus{subs: map[uint64]chan Event{}}
}

type memBus struct {
	mu   sync.RWMutex
	subs map[uint64]chan Event
	seq  atomic.Uint64
}

func (b *memBus) Publish(e Event) {
	if e.Time.IsZero() {
		e.Time = time.Now()
	}
	// Publish holds the read lock while sending so unsubscribe cannot close a
	// channel mid-send; sends never block, so the hold is short.
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, ch := range b.subs {
		select {
		case ch <- e:
		default:
		}
	}
}

func (b *memBus) Subscribe(buffer int) (<-chan Event, func()) {
	if buffer <= 0 {
		buffer = 8
	}
	ch := make(chan Event, buffer)
	id := b.seq.Add(1)

	b.mu.Lock()
	b.subs[id] = ch
	b.mu.Unlock()

	var once sync.Once
	unsub := func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, id)
			b.mu.Unlock()
			close(ch)
		})
	}
	return ch, unsub
}

// Nop discards every event.
type Nop struct{}

func (Nop) Publish(Event) {}

func (Nop) Subscribe(int) (<-chan Event, func()) {
	ch := make(chan Event)
	close(ch)
	return ch, func() {}
}
