package storage

import (
	"errors"
	"time"

	"wknotifier/internal/schedule"
)

var ErrDisabled = errors.New("storage disabled")

// Config configures storage.
//
// If Driver is empty or "none", storage is disabled.
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite only; 0 means default
}

// Snapshot is the last delivered notification.
type Snapshot struct {
	State   schedule.NotificationState `json:"state"`
	CycleID string                     `json:"cycle_id,omitempty"`
	Message string                     `json:"message,omitempty"`
	SavedAt time.Time                  `json:"saved_at"`
}
