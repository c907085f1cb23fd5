package icsfeed

import (
	"time"

	"github.com/teambition/rrule-go"

	appLog "timemgr/internal/log"
	"timemgr/internal/model"
)

// occurrence cap per recurring event, guarding against runaway rules.
const maxOccurrencesPerEvent = 1000

// expandBusy turns parsed feed events into busy intervals within
// [rangeStart, rangeEnd), expanding RRULE-based recurrences.
func expandBusy(src Source, events []feedEvent, rangeStart, rangeEnd time.Time) []model.BusyInterval {
	out := make([]model.BusyInterval, 0, len(events))

	for _, ev := range events {
		if ev.rawRRule == "" {
			if ev.start.Before(rangeEnd) && rangeStart.Before(ev.end) {
				out = append(out, busyInterval(ev, ev.start))
			}
			continue
		}

		r, err := rrule.StrToRRule(ev.rawRRule)
		if err != nil {
			appLog.Warn("icsfeed: bad RRULE, treating as single event",
				"id", src.ID, "uid", ev.uid, "rrule", ev.rawRRule)
			if ev.start.Before(rangeEnd) && rangeStart.Before(ev.end) {
				out = append(out, busyInterval(ev, ev.start))
			}
			continue
		}
		r.DTStart(ev.start)

		var set rrule.Set
		set.RRule(r)

		// Query in the event's own location; Between is inclusive.
		starts := set.Between(rangeStart.In(ev.start.Location()), rangeEnd.In(ev.start.Location()), true)
		if len(starts) > maxOccurrencesPerEvent {
			appLog.Warn("icsfeed: occurrence cap hit", "id", src.ID, "uid", ev.uid, "cap", maxOccurrencesPerEvent)
			starts = starts[:maxOccurrencesPerEvent]
		}
		for _, s := range starts {
			out = append(out, busyInterval(ev, s))
		}
	}

	return out
}

// busyInterval builds the occupied span for one occurrence starting at
// start, preserving the base event's duration. All-day events block
// the whole calendar day.
func busyInterval(ev feedEvent, start time.Time) model.BusyInterval {
	if ev.allDay {
		day := time.Date(start.Year(), start.Month(), start.Day(), 0, 0, 0, 0, start.Location())
		return model.BusyInterval{Start: day, End: day.Add(24 * time.Hour)}
	}
	return model.BusyInterval{Start: start, End: start.Add(ev.end.Sub(ev.start))}
}
