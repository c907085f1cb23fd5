package schedule

import (
	"time"

	"timemgr/internal/model"
)

// ExpandRecurrence expands a first occurrence into the full sequence of
// count occurrences (the first included). Every occurrence keeps the
// first occurrence's summary, description and location.
//
// Daily and weekly successors add exactly 24 hours / 7 days to both
// bounds of the previous occurrence. Monthly successors advance the
// previous occurrence's month by one; if the previous day-of-month does
// not exist in the target month, the day is clamped to the month's last
// valid day while the clock time is preserved, and the new end is the
// new start plus the previous occurrence's duration. The clamp baseline
// is the previous occurrence, so a clamp carries forward to later
// months (31 -> Feb 28 -> Mar 28).
func ExpandRecurrence(first model.CalendarEvent, freq model.RecurrenceFrequency, count int) ([]model.CalendarEvent, error) {
	if freq == model.RecurrenceNone {
		return nil, &model.ValidationError{Reason: "recurrence frequency must not be none"}
	}
	if count <= 0 {
		return nil, &model.ValidationError{Reason: "recurrence count must be greater than zero"}
	}
	if err := first.Validate(); err != nil {
		return nil, err
	}

	out := make([]model.CalendarEvent, 0, count)
	out = append(out, first)

	for i := 1; i < count; i++ {
		prev := out[i-1]
		next := prev
		next.ID = ""

		switch freq {
		case model.RecurrenceDaily:
			next.Start = prev.Start.Add(24 * time.Hour)
			next.End = prev.End.Add(24 * time.Hour)
		case model.RecurrenceWeekly:
			next.Start = prev.Start.Add(7 * 24 * time.Hour)
			next.End = prev.End.Add(7 * 24 * time.Hour)
		case model.RecurrenceMonthly:
			next.Start = nextMonthStart(prev.Start)
			next.End = next.Start.Add(prev.Duration())
		default:
			return nil, &model.ValidationError{Reason: "unknown recurrence frequency " + string(freq)}
		}

		out = append(out, next)
	}
	return out, nil
}

// nextMonthStart moves t one month forward, rolling the year over at
// month 13 and clamping the day to the target month's length.
func nextMonthStart(t time.Time) time.Time {
	year, month := t.Year(), t.Month()
	if month == time.December {
		year++
		month = time.January
	} else {
		month++
	}

	day := t.Day()
	if last := daysInMonth(year, month); day > last {
		day = last
	}

	return time.Date(year, month, day,
		t.Hour(), t.Minute(), t.Second(), t.Nanosecond(), t.Location())
}

// daysInMonth returns the number of days in the given month.
func daysInMonth(year int, month time.Month) int {
	// Day 0 of the following month is the last day of this one.
	return time.Date(year, month+1, 0, 0, 0, 0, 0, time.UTC).Day()
}
