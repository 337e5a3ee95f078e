package alert

import (
	"log/slog"
	"time"
)

// WorkingHours is a predicate gating when escalations may fire. The
// hour window is half-open: [StartHour, EndHour). A disabled policy
// always allows.
type WorkingHours struct {
	Enabled   bool
	Timezone  string
	Weekdays  []int // 0=Sunday .. 6=Saturday
	StartHour int
	EndHour   int
}

// Allows reports whether the given instant falls inside working hours.
func (w WorkingHours) Allows(t time.Time) bool {
	if !w.Enabled {
		return true
	}

	local := t
	if w.Timezone != "" && w.Timezone != "Local" {
		loc, err := time.LoadLocation(w.Timezone)
		if err != nil {
			slog.Warn("invalid working-hours timezone, using local time", "timezone", w.Timezone, "error", err)
		} else {
			local = t.In(loc)
		}
	}

	dayAllowed := len(w.Weekdays) == 0
	for _, d := range w.Weekdays {
		if time.Weekday(d) == local.Weekday() {
			dayAllowed = true
			break
		}
	}
	if !dayAllowed {
		return false
	}

	hour := local.Hour()
	return hour >= w.StartHour && hour < w.EndHour
}
