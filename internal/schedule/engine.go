// Package schedule decides, per poll cycle, whether to notify and how long to
// wait before the next poll.
package schedule

import (
	"strconv"
	"strings"
	"sync"
	"time"
)

// Engine is the decision function plus its (hot-reloadable) durations.
// Decide itself is pure with respect to the state it is given.
type Engine struct {
	mu  sync.RWMutex
	cfg Config
	now func() time.Time
}

type Option func(*Engine)

// WithClock overrides the local clock (tests).
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

func NewEngine(cfg Config, opts ...Option) *Engine {
	e := &Engine{cfg: cfg.WithDefaults(), now: time.Now}
	for _, o := range opts {
		o(e)
	}
	return e
}

// Apply swaps the durations used by subsequent decisions.
func (e *Engine) Apply(cfg Config) {
	e.mu.Lock()
	e.cfg = cfg.WithDefaults()
	e.mu.Unlock()
}

func (e *Engine) Config() Config {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.cfg
}

// Decide maps a poll result and the last notified state to a decision and the
// next state. The returned state differs from s only when ShouldNotify is true.
func (e *Engine) Decide(r PollResult, s NotificationState) (Decision, NotificationState) {
	cfg := e.Config()

	if r.Pending() {
		if s.Matches(r) {
			return Decision{NextDelay: cfg.NotifiedSuspend, Reason: ReasonUnchanged}, s
		}
		next := NotificationState{Lessons: r.LessonsAvailable, Reviews: r.ReviewsAvailable}
		return Decision{ShouldNotify: true, NextDelay: cfg.NotifiedSuspend, Reason: ReasonNotified}, next
	}

	return Decision{NextDelay: e.waitDelay(cfg, r), Reason: ReasonWaiting}, s
}

// OnFetchError is the backoff path for a failed fetch or parse.
func (e *Engine) OnFetchError() Decision {
	return Decision{NextDelay: e.Config().ErrorSuspend, Reason: ReasonError}
}

// UntilNextReview is the skew-corrected time left before the predicted review,
// including the minilag margin. It may be negative.
func (e *Engine) UntilNextReview(r PollResult) time.Duration {
	return r.NextReviewAt.Sub(e.now()) - r.ServerTimeSkew + e.Config().Minilag
}

func (e *Engine) waitDelay(cfg Config, r PollResult) time.Duration {
	d := r.NextReviewAt.Sub(e.now()) - r.ServerTimeSkew + cfg.Minilag
	if d < cfg.WaitingSuspend {
		return cfg.WaitingSuspend
	}
	return d
}

// Message renders the notification text, listing only non-zero categories.
func Message(lessons, reviews int) string {
	parts := make([]string, 0, 2)
	if lessons > 0 {
		parts = append(parts, strconv.Itoa(lessons)+" pending lessons")
	}
	if reviews > 0 {
		parts = append(parts, strconv.Itoa(reviews)+" pending reviews")
	}
	if len(parts) == 0 {
		return ""
	}
	return "You have " + strings.Join(parts, " and ") + "."
}
