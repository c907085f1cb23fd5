package schedule

import (
	"time"

	"timemgr/internal/model"
)

// SlotFinder walks a query range and yields candidate start times for a
// slot of the requested duration, earliest first. It is a lazy, finite
// iterator: construct one, then pull with Next until it reports false.
// Two finders built from identical inputs yield identical sequences.
type SlotFinder struct {
	cursor   time.Time
	rangeEnd time.Time
	duration time.Duration
	hours    model.WorkingHours
	busy     *BusyIndex
	err      error
}

// NewSlotFinder validates the inputs and positions the cursor at
// rangeStart. Busy intervals are sorted by the index before the walk.
func NewSlotFinder(rangeStart, rangeEnd time.Time, durationMinutes int, hours model.WorkingHours, busy *BusyIndex) *SlotFinder {
	f := &SlotFinder{
		cursor:   rangeStart,
		rangeEnd: rangeEnd,
		duration: time.Duration(durationMinutes) * time.Minute,
		hours:    hours,
		busy:     busy,
	}
	if err := hours.Validate(); err != nil {
		f.err = err
	} else if durationMinutes <= 0 {
		f.err = &model.ValidationError{Reason: "slot duration must be greater than zero minutes"}
	} else if busy == nil {
		f.busy = &BusyIndex{}
	}
	if f.busy != nil {
		f.busy.sort()
	}
	return f
}

// Err returns the validation error detected at construction, if any.
func (f *SlotFinder) Err() error { return f.err }

// Next advances to the next free slot and returns its start time.
// Every returned slot fits entirely inside the same day's working
// hours and overlaps no busy interval; multi-day slots are impossible
// by construction.
func (f *SlotFinder) Next() (time.Time, bool) {
	if f.err != nil {
		return time.Time{}, false
	}
	for f.cursor.Before(f.rangeEnd) {
		// Snap the cursor into the working-hours window.
		if f.cursor.Hour() >= f.hours.End {
			f.cursor = f.startOfWorkingDay(f.cursor.AddDate(0, 0, 1))
			continue
		}
		if f.cursor.Hour() < f.hours.Start {
			f.cursor = f.startOfWorkingDay(f.cursor)
		}

		// Inside a busy interval: jump to its end and re-evaluate, which
		// also resolves overlapping intervals one hop at a time.
		if iv, ok := f.busy.ContainerOf(f.cursor); ok {
			f.cursor = iv.End
			continue
		}

		workDayEnd := f.endOfWorkingDay(f.cursor)
		slotEnd := f.cursor.Add(f.duration)
		nextBusyStart, hasNext := f.busy.NextStartAfter(f.cursor)

		if !hasNext || !slotEnd.After(nextBusyStart) {
			if !slotEnd.After(workDayEnd) {
				start := f.cursor
				f.cursor = slotEnd
				return start, true
			}
			// Does not fit before the end of this working day.
			f.cursor = f.startOfWorkingDay(f.cursor.AddDate(0, 0, 1))
			continue
		}
		// A closer busy interval blocks the slot; resume just past it.
		f.cursor = nextBusyStart
	}
	return time.Time{}, false
}

// Collect drains the finder into a slice.
func (f *SlotFinder) Collect() []time.Time {
	var out []time.Time
	for {
		t, ok := f.Next()
		if !ok {
			return out
		}
		out = append(out, t)
	}
}

func (f *SlotFinder) startOfWorkingDay(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), f.hours.Start, 0, 0, 0, t.Location())
}

func (f *SlotFinder) endOfWorkingDay(t time.Time) time.Time {
	// Hour 24 normalizes to midnight of the following day.
	return time.Date(t.Year(), t.Month(), t.Day(), f.hours.End, 0, 0, 0, t.Location())
}

// FindSlots runs a full slot search and returns every candidate start
// in the range, earliest first.
func FindSlots(rangeStart, rangeEnd time.Time, durationMinutes int, hours model.WorkingHours, busy *BusyIndex) ([]time.Time, error) {
	f := NewSlotFinder(rangeStart, rangeEnd, durationMinutes, hours, busy)
	if err := f.Err(); err != nil {
		return nil, err
	}
	return f.Collect(), nil
}
