// Package timer provides a single-shot delay that can be aborted early.
//
// A Timer resolves exactly once, either because its delay elapsed or because
// it was cancelled. Cancellation is an ordinary outcome, not an error.
package timer

import (
	"sync"
	"time"
)

// Outcome is the terminal result of a Timer.
type Outcome int

const (
	// Pending is reported by Outcome() before the timer resolves.
	Pending Outcome = iota
	Elapsed
	Cancelled
)

func (o Outcome) String() string {
	switch o {
	case Elapsed:
		return "elapsed"
	case Cancelled:
		return "cancelled"
	default:
		return "pending"
	}
}

// Timer is a cancellable single-shot delay. It must not be reused once resolved.
type Timer struct {
	delay time.Duration
	rt    *time.Timer

	mu      sync.Mutex
	outcome Outcome
	done    chan struct{}
}

// Start arms a new Timer for d. Negative delays resolve immediately.
func Start(d time.Duration) *Timer {
	if d < 0 {
		d = 0
	}
	t := &Timer{delay: d, done: make(chan struct{})}
	t.mu.Lock()
	t.rt = time.AfterFunc(d, func() { t.resolve(Elapsed) })
	t.mu.Unlock()
	return t
}

// Delay returns the delay the timer was started with.
func (t *Timer) Delay() time.Duration { return t.delay }

// Done is closed once the timer resolves.
func (t *Timer) Done() <-chan struct{} { return t.done }

// Wait blocks until the timer resolves and returns its outcome.
func (t *Timer) Wait() Outcome {
	<-t.done
	return t.Outcome()
}

// Outcome returns the current outcome without blocking.
func (t *Timer) Outcome() Outcome {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.outcome
}

// Cancel aborts a pending timer. It reports whether this call resolved the
// timer; after resolution it is a no-op returning false.
func (t *Timer) Cancel() bool {
	t.mu.Lock()
	rt := t.rt
	t.mu.Unlock()
	if rt != nil {
		rt.Stop()
	}
	return t.resolve(Cancelled)
}

// resolve records o if the timer is still pending. First caller wins.
func (t *Timer) resolve(o Outcome) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.outcome != Pending {
		return false
	}
	t.outcome = o
	close(t.done)
	return true
}
