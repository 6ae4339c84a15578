// Package notify delivers study-queue notifications to the user (desktop,
// Telegram) and turns a click on one into opening the right WaniKani page.
package notify

import (
	"context"
	"errors"
	"fmt"
	"sync"

	logx "wknotifier/pkg/logx"
)

// Title is shown on every notification.
const Title = "WaniKani Notifier"

// Notification is one message to raise.
type Notification struct {
	Title   string
	Body    string
	Sound   bool
	CycleID string
}

// Sink raises notifications. Notify returns nil only when the notification
// was handed to the user-facing channel.
type Sink interface {
	Name() string
	Notify(ctx context.Context, n Notification) error
}

// Resolver returns the page to open for the current notified state. It is
// called at click time, never cached.
type Resolver func() (url string, ok bool)

// Nop accepts and drops every notification.
type Nop struct{}

func (Nop) Name() string { return "nop" }
func (Nop) Notify(context.Context, Notification) error { return nil }

// Multi fans a notification out to every sink concurrently. It succeeds when
// at least one sink succeeds; the failures of the others are logged.
type Multi struct {
	sinks []Sink
	log   logx.Logger
}

func NewMulti(log logx.Logger, sinks ...Sink) *Multi {
	out := make([]Sink, 0, len(sinks))
	for _, s := range sinks {
		if s != nil {
			out = append(out, s)
		}
	}
	return &Multi{sinks: out, log: log}
}

func (m *Multi) Name() string { return "multi" }

// Len reports how many sinks are attached.
func (m *Multi) Len() int { return len(m.sinks) }

func (m *Multi) Notify(ctx context.Context, n Notification) error {
	if len(m.sinks) == 0 {
		return errors.New("notify: no sinks configured")
	}
	if n.Title == "" {
		n.Title = Title
	}

	errs := make([]error, len(m.sinks))
	var wg sync.WaitGroup
	for i, s := range m.sinks {
		wg.Add(1)
		go func(i int, s Sink) {
			defer wg.Done()
			errs[i] = s.Notify(ctx, n)
		}(i, s)
	}
	wg.Wait()

	ok := 0
	var failed []error
	for i, err := range errs {
		if err == nil {
			ok++
			continue
		}
		m.log.Warn("notification sink failed", logx.String("sink", m.sinks[i].Name()), logx.String("cycle_id", n.CycleID), logx.Err(err))
		failed = append(failed, fmt.Errorf("%s: %w", m.sinks[i].Name(), err))
	}
	if ok > 0 {
		return nil
	}
	return errors.Join(failed...)
}
