// Package trading turns detected signals into broker orders and manages
// the open position across its lifetime.
package trading

import (
	"time"

	"mt5-trader/internal/models"
)

// SessionWindow is a Monday-to-Friday trading window in a fixed
// timezone. EndHour may be lower than StartHour for overnight windows
// (e.g. 07:00 to 03:00 the next day); hours after midnight then belong
// to the previous day's session.
type SessionWindow struct {
	StartHour int
	EndHour   int
	Location  *time.Location
}

// NewSessionWindow creates a session window. A nil location falls back
// to UTC.
func NewSessionWindow(startHour, endHour int, loc *time.Location) SessionWindow {
	if loc == nil {
		loc = time.UTC
	}
	return SessionWindow{StartHour: startHour, EndHour: endHour, Location: loc}
}

func (w SessionWindow) overnight() bool {
	return w.EndHour <= w.StartHour
}

func isWeekday(t time.Time) bool {
	wd := t.Weekday()
	return wd != time.Saturday && wd != time.Sunday
}

// InSession reports whether t falls inside the window.
func (w SessionWindow) InSession(t time.Time) bool {
	t = t.In(w.Location)
	h := t.Hour()

	if !w.overnight() {
		return isWeekday(t) && w.StartHour <= h && h < w.EndHour
	}

	// Evening part: from today's start hour to midnight.
	if isWeekday(t) && h >= w.StartHour {
		return true
	}
	// Early-morning part belongs to the previous day's session.
	return isWeekday(t.AddDate(0, 0, -1)) && h < w.EndHour
}

// SessionStartFor returns the start of the session containing t, or
// false when t is outside any session.
func (w SessionWindow) SessionStartFor(t time.Time) (time.Time, bool) {
	t = t.In(w.Location)
	if !w.InSession(t) {
		return time.Time{}, false
	}

	if !w.overnight() {
		return hourOn(t, w.StartHour), true
	}

	if isWeekday(t) && t.Hour() >= w.StartHour {
		return hourOn(t, w.StartHour), true
	}

	// Early morning: walk back to the weekday that opened this session.
	day := t.AddDate(0, 0, -1)
	for !isWeekday(day) {
		day = day.AddDate(0, 0, -1)
	}
	return hourOn(day, w.StartHour), true
}

// NextSessionStart returns the next session start strictly after any
// session containing t, or the upcoming start when t is between
// sessions.
func (w SessionWindow) NextSessionStart(t time.Time) time.Time {
	t = t.In(w.Location)

	if start, ok := w.SessionStartFor(t); ok {
		return w.nextWeekdayStart(start)
	}

	todayStart := hourOn(t, w.StartHour)

	if !w.overnight() {
		if isWeekday(t) && t.Before(todayStart) {
			return todayStart
		}
		return w.nextWeekdayStart(t)
	}

	if isWeekday(t) && t.Before(todayStart) {
		return todayStart
	}
	// Early-morning gap between session end and today's start.
	h := t.Hour()
	if isWeekday(t) && w.EndHour <= h && h < w.StartHour {
		return todayStart
	}
	return w.nextWeekdayStart(t)
}

// nextWeekdayStart returns the first weekday start hour strictly after
// the given day.
func (w SessionWindow) nextWeekdayStart(after time.Time) time.Time {
	day := hourOn(after.AddDate(0, 0, 1), w.StartHour)
	for !isWeekday(day) {
		day = day.AddDate(0, 0, 1)
	}
	return day
}

// NextAlignedClose returns the next bar-close boundary after t for the
// timeframe, computed from local midnight. A timestamp exactly on a
// boundary maps to the following one.
func NextAlignedClose(t time.Time, timeframe models.Timeframe) time.Time {
	t = t.Truncate(time.Second)
	dayStart := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
	tfSec := int64(timeframe.Seconds())

	elapsed := int64(t.Sub(dayStart) / time.Second)
	remainder := elapsed % tfSec
	delta := tfSec - remainder
	if remainder == 0 {
		delta = tfSec
	}
	return dayStart.Add(time.Duration(elapsed+delta) * time.Second)
}

// hourOn returns the given day at hour o'clock local time.
func hourOn(t time.Time, hour int) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), hour, 0, 0, 0, t.Location())
}
