package notify

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
)

// QuietHours mutes notification sounds inside a daily window. The window may
// wrap midnight ("22:00" to "07:00"). The zero value is never quiet.
type QuietHours struct {
	start cron.Schedule
	end   cron.Schedule
}

// ParseQuietHours builds a window from "HH:MM" bounds in the given IANA
// timezone (empty means local). Empty bounds, or equal ones, disable it.
func ParseQuietHours(start, end, tz string) (QuietHours, error) {
	start, end = strings.TrimSpace(start), strings.TrimSpace(end)
	if start == "" && end == "" {
		return QuietHours{}, nil
	}
	if start == "" || end == "" {
		return QuietHours{}, fmt.Errorf("quiet_hours: both start and end are required")
	}
	if start == end {
		return QuietHours{}, nil
	}
	prefix := ""
	if tz = strings.TrimSpace(tz); tz != "" {
		if _, err := time.LoadLocation(tz); err != nil {
			return QuietHours{}, fmt.Errorf("quiet_hours.timezone: %w", err)
		}
		prefix = "CRON_TZ=" + tz + " "
	}

	s, err := dailySchedule(prefix, start)
	if err != nil {
		return QuietHours{}, fmt.Errorf("quiet_hours.start: %w", err)
	}
	e, err := dailySchedule(prefix, end)
	if err != nil {
		return QuietHours{}, fmt.Errorf("quiet_hours.end: %w", err)
	}
	return QuietHours{start: s, end: e}, nil
}

func dailySchedule(prefix, hhmm string) (cron.Schedule, error) {
	h, m, ok := strings.Cut(hhmm, ":")
	if !ok {
		return nil, fmt.Errorf("want HH:MM, got %q", hhmm)
	}
	hour, err := strconv.Atoi(h)
	if err != nil || hour < 0 || hour > 23 {
		return nil, fmt.Errorf("invalid hour in %q", hhmm)
	}
	min, err := strconv.Atoi(m)
	if err != nil || min < 0 || min > 59 {
		return nil, fmt.Errorf("invalid minute in %q", hhmm)
	}
	return cron.ParseStandard(fmt.Sprintf("%s%d %d * * *", prefix, min, hour))
}

// Enabled reports whether a window is configured.
func (q QuietHours) Enabled() bool { return q.start != nil && q.end != nil }

// In reports whether t falls inside [start, end): the window's next end comes
// before its next start.
func (q QuietHours) In(t time.Time) bool {
	if !q.Enabled() {
		return false
	}
	return q.end.Next(t).Before(q.start.Next(t))
}

// SoundAt reports whether a notification raised at t should play a sound.
func (q QuietHours) SoundAt(t time.Time, soundEnabled bool) bool {
	return soundEnabled && !q.In(t)
}
