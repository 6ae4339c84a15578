// Package poll runs the fetch, decide, notify and sleep cycle.
package poll

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"

	"wknotifier/internal/eventbus"
	"wknotifier/internal/notify"
	"wknotifier/internal/schedule"
	"wknotifier/internal/storage"
	"wknotifier/internal/timer"
	logx "wknotifier/pkg/logx"
)

// ErrNotIdle is returned by Run on a loop that already ran or was stopped.
var ErrNotIdle = errors.New("poll: loop is not idle")

const (
	DefaultFetchTimeout  = 30 * time.Second
	defaultNotifyTimeout = 30 * time.Second
	storeTimeout         = 5 * time.Second
)

// Fetcher reads the current study queue.
type Fetcher interface {
	Fetch(ctx context.Context) (schedule.PollResult, error)
}

type Config struct {
	Engine *schedule.Engine
	Client Fetcher
	Sink   notify.Sink

	// Optional collaborators.
	Store storage.Store
	Bus   eventbus.Bus
	Log   logx.Logger
	// Sound reports whether a notification raised at t plays a sound.
	Sound func(t time.Time) bool

	FetchTimeout time.Duration
	Now          func() time.Time
}

// Loop owns the NotificationState. It is single-use: Run once, Stop any time
// from any goroutine.
type Loop struct {
	engine  *schedule.Engine
	client  Fetcher
	sink    notify.Sink
	store   storage.Store
	bus     eventbus.Bus
	log     logx.Logger
	sound   func(time.Time) bool
	timeout time.Duration
	now     func() time.Time

	mu       sync.Mutex
	state    State
	stopReq  bool
	sleeper  *timer.Timer
	notified schedule.NotificationState
	stats    Snapshot
}

func New(cfg Config) (*Loop, error) {
	if cfg.Engine == nil || cfg.Client == nil || cfg.Sink == nil {
		return nil, errors.New("poll: engine, client and sink are required")
	}
	l := &Loop{
		engine:  cfg.Engine,
		client:  cfg.Client,
		sink:    cfg.Sink,
		store:   cfg.Store,
		bus:     cfg.Bus,
		log:     cfg.Log,
		sound:   cfg.Sound,
		timeout: cfg.FetchTimeout,
		now:     cfg.Now,
	}
	if l.bus == nil {
		l.bus = eventbus.Nop{}
	}
	if l.sound == nil {
		l.sound = func(time.Time) bool { return true }
	}
	if l.timeout <= 0 {
		l.timeout = DefaultFetchTimeout
	}
	if l.now == nil {
		l.now = time.Now
	}
	return l, nil
}

func (l *Loop) State() State {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.state
}

// Notified returns the counts of the last delivered notification.
func (l *Loop) Notified() schedule.NotificationState {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.notified
}

// Snapshot is a point-in-time view for status reporting.
func (l *Loop) Snapshot() Snapshot {
	l.mu.Lock()
	defer l.mu.Unlock()
	s := l.stats
	s.State = l.state.String()
	s.Notified = l.notified
	return s
}

// Run polls until Stop is called or ctx ends; both return nil. Fetch
// failures never end the loop.
func (l *Loop) Run(ctx context.Context) error {
	l.mu.Lock()
	if l.state != Idle {
		l.mu.Unlock()
		return ErrNotIdle
	}
	l.state = Polling
	l.mu.Unlock()

	defer l.finish()
	l.seed(ctx)
	if ctx.Err() != nil {
		return nil
	}

	for {
		delay := l.cycle(ctx)

		l.mu.Lock()
		if l.stopReq || ctx.Err() != nil {
			l.mu.Unlock()
			return nil
		}
		t := timer.Start(delay)
		l.sleeper = t
		l.state = Sleeping
		l.stats.NextPollAt = l.now().Add(delay)
		l.mu.Unlock()

		select {
		case <-t.Done():
		case <-ctx.Done():
			t.Cancel()
		}
		if t.Wait() == timer.Cancelled {
			l.log.Debug("sleep cancelled")
			return nil
		}

		// ctx may end between the timer firing and taking the lock; that
		// cancellation wins over the elapsed sleep like Stop does.
		l.mu.Lock()
		l.sleeper = nil
		if l.stopReq || ctx.Err() != nil {
			l.mu.Unlock()
			return nil
		}
		l.state = Polling
		l.mu.Unlock()
	}
}

// Stop ends the loop. A pending sleep is cancelled immediately; an in-flight
// cycle finishes first. Stop on a loop that never ran makes Run fail with
// ErrNotIdle.
func (l *Loop) Stop() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.stopReq = true
	switch l.state {
	case Idle:
		l.state = Stopped
	case Sleeping:
		if l.sleeper != nil {
			l.sleeper.Cancel()
		}
	}
}

func (l *Loop) finish() {
	l.mu.Lock()
	l.state = Stopped
	l.sleeper = nil
	l.stats.NextPollAt = time.Time{}
	l.mu.Unlock()
	l.bus.Publish(eventbus.Event{Kind: eventbus.KindStopped})
	l.log.Info("poll loop stopped")
}

func (l *Loop) seed(ctx context.Context) {
	if l.store == nil {
		return
	}
	sctx, cancel := context.WithTimeout(ctx, storeTimeout)
	defer cancel()
	s, ok, err := l.store.LoadSnapshot(sctx)
	if err != nil {
		l.log.Warn("load notification snapshot failed; starting fresh", logx.Err(err))
		return
	}
	if !ok {
		return
	}
	l.mu.Lock()
	l.notified = s.State
	l.mu.Unlock()
	l.log.Info("restored last notification",
		logx.Int("lessons", s.State.Lessons), logx.Int("reviews", s.State.Reviews), logx.Time("saved_at", s.SavedAt))
}

// cycle runs one fetch and decision and returns the delay before the next.
func (l *Loop) cycle(ctx context.Context) time.Duration {
	id := uuid.NewString()
	log := l.log.With(logx.String("cycle_id", id))
	started := l.now()

	// The fetch is not aborted by Stop; it is bounded by its own timeout.
	fctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), l.timeout)
	r, err := l.client.Fetch(fctx)
	cancel()

	if err != nil {
		d := l.engine.OnFetchError()
		log.Warn("study queue fetch failed; check the API key if this persists", logx.Err(err))
		l.record(id, started, d, err)
		l.bus.Publish(eventbus.Event{Kind: eventbus.KindFetchFailed, CycleID: id, Data: err.Error()})
		l.scheduled(log, d.NextDelay)
		return d.NextDelay
	}

	logSkew(log, r.ServerTimeSkew)

	d, next := l.engine.Decide(r, l.Notified())
	switch d.Reason {
	case schedule.ReasonNotified:
		l.deliver(ctx, log, id, r, next)
	case schedule.ReasonUnchanged:
		log.Info("You haven't touched your items yet since the last notification.")
	case schedule.ReasonWaiting:
		log.Info("No pending items. Your next review will be in "+humanDuration(l.engine.UntilNextReview(r)),
			logx.Time("next_review_at", r.NextReviewAt))
	}

	l.record(id, started, d, nil)
	l.bus.Publish(eventbus.Event{Kind: eventbus.KindCycle, CycleID: id, Data: CycleEvent{
		Lessons:   r.LessonsAvailable,
		Reviews:   r.ReviewsAvailable,
		Reason:    d.Reason,
		NextDelay: d.NextDelay,
	}})
	l.scheduled(log, d.NextDelay)
	return d.NextDelay
}

// deliver raises the notification and commits next only if a sink accepted it.
func (l *Loop) deliver(ctx context.Context, log logx.Logger, id string, r schedule.PollResult, next schedule.NotificationState) {
	msg := schedule.Message(r.LessonsAvailable, r.ReviewsAvailable)
	nctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), defaultNotifyTimeout)
	err := l.sink.Notify(nctx, notify.Notification{
		Title:   notify.Title,
		Body:    msg,
		Sound:   l.sound(l.now()),
		CycleID: id,
	})
	cancel()
	if err != nil {
		log.Warn("notification failed; will retry next cycle", logx.Err(err))
		return
	}

	l.mu.Lock()
	l.notified = next
	l.stats.Notifications++
	l.mu.Unlock()
	log.Info("Notification sent.", logx.String("message", msg))
	l.bus.Publish(eventbus.Event{Kind: eventbus.KindNotified, CycleID: id, Data: next})

	if l.store == nil {
		return
	}
	sctx, scancel := context.WithTimeout(context.WithoutCancel(ctx), storeTimeout)
	defer scancel()
	if err := l.store.SaveSnapshot(sctx, storage.Snapshot{
		State:   next,
		CycleID: id,
		Message: msg,
		SavedAt: l.now(),
	}); err != nil {
		log.Warn("save notification snapshot failed", logx.Err(err))
	}
}

func (l *Loop) record(id string, at time.Time, d schedule.Decision, err error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.stats.Cycles++
	l.stats.LastCycleID = id
	l.stats.LastCycleAt = at
	l.stats.LastReason = d.Reason
	l.stats.LastError = ""
	if err != nil {
		l.stats.FetchFailures++
		l.stats.LastError = err.Error()
	}
}

func (l *Loop) scheduled(log logx.Logger, d time.Duration) {
	log.Info("Will check back in "+humanDuration(d), logx.Duration("delay", d))
}

func logSkew(log logx.Logger, skew time.Duration) {
	dir := "ahead of"
	if skew < 0 {
		dir = "behind"
	}
	log.Debug("server time is "+humanize.Comma(abs(skew).Milliseconds())+" ms "+dir+" local time",
		logx.Duration("skew", skew))
}

func abs(d time.Duration) time.Duration {
	if d < 0 {
		return -d
	}
	return d
}

// humanDuration renders d like "10 minutes" or "36 seconds".
func humanDuration(d time.Duration) string {
	if d < time.Second {
		return "a moment"
	}
	base := time.Unix(0, 0)
	return strings.TrimSpace(humanize.RelTime(base, base.Add(d), "", ""))
}
