package poll

import (
	"time"

	"wknotifier/internal/schedule"
)

// State is the lifecycle phase of a Loop.
//
//	Idle -> Polling -> Sleeping -> Polling ... -> Stopped
type State int

const (
	Idle State = iota
	Polling
	Sleeping
	Stopped
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Polling:
		return "polling"
	case Sleeping:
		return "sleeping"
	case Stopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// Snapshot is a status view of the loop.
type Snapshot struct {
	State         string                     `json:"state"`
	Notified      schedule.NotificationState `json:"notified"`
	Cycles        uint64                     `json:"cycles"`
	Notifications uint64                     `json:"notifications"`
	FetchFailures uint64                     `json:"fetch_failures"`
	LastCycleID   string                     `json:"last_cycle_id,omitempty"`
	LastCycleAt   time.Time                  `json:"last_cycle_at,omitempty"`
	LastReason    string                     `json:"last_reason,omitempty"`
	LastError     string                     `json:"last_error,omitempty"`
	NextPollAt    time.Time                  `json:"next_poll_at,omitempty"`
}

// CycleEvent is the payload of eventbus.KindCycle.
type CycleEvent struct {
	Lessons   int           `json:"lessons"`
	Reviews   int           `json:"reviews"`
	Reason    string        `json:"reason"`
	NextDelay time.Duration `json:"next_delay"`
}
