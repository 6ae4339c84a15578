package config

import (
	"bytes"
	"encoding/json"
	"fmt"
)

type Config struct {
	// Key is the WaniKani public API key. Prefer the keyring or WANIKANI_API_KEY
	// over committing it to a config file.
	Key string `json:"key,omitempty"`

	// Suspend durations. Go duration strings ("5m") or bare integers in milliseconds.
	ErrorSuspendDuration    Duration `json:"error_suspend_duration,omitempty"`
	NotifiedSuspendDuration Duration `json:"notified_suspend_duration,omitempty"`
	WaitingSuspendDuration  Duration `json:"waiting_suspend_duration,omitempty"`
	Minilag                 Duration `json:"minilag,omitempty"`

	// FetchTimeout bounds a single study-queue request (default 30s).
	FetchTimeout Duration `json:"fetch_timeout,omitempty"`

	// DashboardOnBothPending opens the dashboard instead of lessons when both are pending.
	DashboardOnBothPending bool `json:"dashboard_on_both_pending,omitempty"`

	API     APIConfig      `json:"api,omitempty"`
	Links   LinksConfig    `json:"links,omitempty"`
	Logging LoggingConfig  `json:"logging,omitempty"`
	Notify  NotifyConfig   `json:"notify,omitempty"`
	Storage *StorageConfig `json:"storage,omitempty"`
	Status  StatusConfig   `json:"status,omitempty"`
}

// APIConfig points the poll client at the study-queue API.
type APIConfig struct {
	// BaseURL defaults to https://www.wanikani.com/api/v1.3
	BaseURL   string `json:"base_url,omitempty"`
	UserAgent string `json:"user_agent,omitempty"`
}

// LinksConfig overrides the deep links opened on notification click.
type LinksConfig struct {
	Lessons   string `json:"lessons,omitempty"`
	Reviews   string `json:"reviews,omitempty"`
	Dashboard string `json:"dashboard,omitempty"`
}

type LoggingConfig struct {
	Level   string      `json:"level,omitempty"`
	Console *bool       `json:"console,omitempty"`
	File    LoggingFile `json:"file,omitempty"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path,omitempty"`
}

// NotifyConfig selects and tunes the notification sinks.
//
// If the desktop section is omitted it defaults to enabled.
type NotifyConfig struct {
	// Sound defaults to true. Quiet hours mute it regardless.
	Sound      *bool            `json:"sound,omitempty"`
	QuietHours QuietHoursConfig `json:"quiet_hours,omitempty"`
	Desktop    DesktopConfig    `json:"desktop,omitempty"`
	Telegram   TelegramConfig   `json:"telegram,omitempty"`
}

// QuietHoursConfig is a daily "HH:MM" window (e.g. start "23:00", end "07:00")
// during which sound is muted. The window may wrap midnight.
type QuietHoursConfig struct {
	Start    string `json:"start,omitempty"`
	End      string `json:"end,omitempty"`
	Timezone string `json:"timezone,omitempty"`
}

type DesktopConfig struct {
	Enabled     *bool `json:"enabled,omitempty"`
	OpenOnClick *bool `json:"open_on_click,omitempty"`
}

type TelegramConfig struct {
	Enabled    bool   `json:"enabled"`
	Token      string `json:"token,omitempty"`
	ChatID     int64  `json:"chat_id,omitempty"`
	ThreadID   int    `json:"thread_id,omitempty"`
	RatePerSec int    `json:"rate_per_sec,omitempty"`
	RetryMax   int    `json:"retry_max,omitempty"`
	// PollTimeout is the long-poll timeout used to receive button callbacks.
	PollTimeout Duration `json:"poll_timeout,omitempty"`
}

// StorageConfig controls persistence of the last notification snapshot.
//
// Example:
//
//	"storage": { "driver": "sqlite", "path": "./wknotifier.db" }
type StorageConfig struct {
	Driver      string   `json:"driver"`
	Path        string   `json:"path,omitempty"`
	BusyTimeout Duration `json:"busy_timeout,omitempty"` // sqlite only
}

// StatusConfig controls the optional local status/debug HTTP server.
//
// Prefer binding to localhost; the server exposes pprof.
type StatusConfig struct {
	Enabled bool   `json:"enabled"`
	Addr    string `json:"addr,omitempty"` // default: "127.0.0.1:7391"
	// Token is required to bind a non-loopback address. Sent as
	// "Authorization: Bearer <token>" or ?token=.
	Token string `json:"token,omitempty"`
}

// Duration is a config duration: a Go duration string, or a bare integer
// number of milliseconds. It is kept raw and parsed by ParseDurationField.
type Duration string

func (d *Duration) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if bytes.Equal(b, []byte("null")) {
		*d = ""
		return nil
	}
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*d = Duration(s)
		return nil
	}
	var n json.Number
	dec := json.NewDecoder(bytes.NewReader(b))
	dec.UseNumber()
	if err := dec.Decode(&n); err != nil {
		return fmt.Errorf("duration must be a string or integer milliseconds: %w", err)
	}
	if _, err := n.Int64(); err != nil {
		return fmt.Errorf("duration %s: milliseconds must be an integer", n)
	}
	*d = Duration(n.String())
	return nil
}
