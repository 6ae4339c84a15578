package schedule

import "time"

// PollResult is one parsed study-queue response. It is immutable once built.
type PollResult struct {
	LessonsAvailable int
	ReviewsAvailable int

	// NextReviewAt is the server-predicted instant of the next review.
	NextReviewAt time.Time

	// ServerTimeSkew is server time minus local time (positive when the server is ahead).
	ServerTimeSkew time.Duration
}

// Pending reports whether any lessons or reviews are waiting.
func (r PollResult) Pending() bool {
	return r.LessonsAvailable > 0 || r.ReviewsAvailable > 0
}

// NotificationState holds the counts of the last notification actually raised.
type NotificationState struct {
	Lessons int `json:"lessons"`
	Reviews int `json:"reviews"`
}

// Matches reports whether r carries exactly the counts already notified.
func (s NotificationState) Matches(r PollResult) bool {
	return s.Lessons == r.LessonsAvailable && s.Reviews == r.ReviewsAvailable
}

// Decision is the per-cycle output of the engine.
type Decision struct {
	ShouldNotify bool
	NextDelay    time.Duration

	// Reason is a short label for logs: "notified", "unchanged", "waiting" or "error".
	Reason string
}

const (
	ReasonNotified  = "notified"
	ReasonUnchanged = "unchanged"
	ReasonWaiting   = "waiting"
	ReasonError     = "error"
)

// Config holds the suspend durations used to compute the next delay.
type Config struct {
	ErrorSuspend    time.Duration
	NotifiedSuspend time.Duration
	WaitingSuspend  time.Duration
	Minilag         time.Duration
}

const (
	DefaultErrorSuspend    = 5 * time.Minute
	DefaultNotifiedSuspend = 10 * time.Minute
	DefaultWaitingSuspend  = 36 * time.Second
	DefaultMinilag         = time.Second
)

// WithDefaults fills unset (zero or negative) durations.
func (c Config) WithDefaults() Config {
	if c.ErrorSuspend <= 0 {
		c.ErrorSuspend = DefaultErrorSuspend
	}
	if c.NotifiedSuspend <= 0 {
		c.NotifiedSuspend = DefaultNotifiedSuspend
	}
	if c.WaitingSuspend <= 0 {
		c.WaitingSuspend = DefaultWaitingSuspend
	}
	if c.Minilag <= 0 {
		c.Minilag = DefaultMinilag
	}
	return c
}
