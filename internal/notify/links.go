package notify

import (
	"strings"

	"wknotifier/internal/schedule"
)

const (
	DefaultLessonsURL   = "https://www.wanikani.com/lesson"
	DefaultReviewsURL   = "https://www.wanikani.com/review"
	DefaultDashboardURL = "https://www.wanikani.com/dashboard"
)

// Links are the deep links opened on click.
type Links struct {
	Lessons   string
	Reviews   string
	Dashboard string
}

func (l Links) WithDefaults() Links {
	if strings.TrimSpace(l.Lessons) == "" {
		l.Lessons = DefaultLessonsURL
	}
	if strings.TrimSpace(l.Reviews) == "" {
		l.Reviews = DefaultReviewsURL
	}
	if strings.TrimSpace(l.Dashboard) == "" {
		l.Dashboard = DefaultDashboardURL
	}
	return l
}

// LinkFor picks the page for a notified state. Lessons win when both are
// pending unless dashboardOnBoth is set. ok is false when nothing was notified.
func (l Links) LinkFor(s schedule.NotificationState, dashboardOnBoth bool) (string, bool) {
	l = l.WithDefaults()
	switch {
	case s.Lessons > 0 && s.Reviews > 0 && dashboardOnBoth:
		return l.Dashboard, true
	case s.Lessons > 0:
		return l.Lessons, true
	case s.Reviews > 0:
		return l.Reviews, true
	default:
		return "", false
	}
}
