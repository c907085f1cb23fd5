package schedule

import (
	"sort"
	"time"

	"timemgr/internal/model"
)

// BusyIndex holds a time-ordered set of occupied intervals for a query
// range. Intervals may overlap; the slot finder handles overlap by
// re-evaluating containment after every cursor adjustment.
type BusyIndex struct {
	intervals []model.BusyInterval
}

// NewBusyIndex builds an index from existing events, dropping anything
// without a positive span.
func NewBusyIndex(events []model.CalendarEvent) *BusyIndex {
	idx := &BusyIndex{}
	for _, ev := range events {
		idx.Add(model.BusyInterval{Start: ev.Start, End: ev.End})
	}
	idx.sort()
	return idx
}

// Add inserts an interval. Intervals with End <= Start are ignored.
func (idx *BusyIndex) Add(iv model.BusyInterval) {
	if !iv.Start.Before(iv.End) {
		return
	}
	idx.intervals = append(idx.intervals, iv)
}

// AddAll inserts all given intervals.
func (idx *BusyIndex) AddAll(ivs []model.BusyInterval) {
	for _, iv := range ivs {
		idx.Add(iv)
	}
}

func (idx *BusyIndex) sort() {
	sort.Slice(idx.intervals, func(i, j int) bool {
		return idx.intervals[i].Start.Before(idx.intervals[j].Start)
	})
}

// Sorted returns the intervals ordered by start time. The returned
// slice is owned by the index and must not be mutated.
func (idx *BusyIndex) Sorted() []model.BusyInterval {
	idx.sort()
	return idx.intervals
}

// ContainerOf returns the first interval containing t, if any.
func (idx *BusyIndex) ContainerOf(t time.Time) (model.BusyInterval, bool) {
	for _, iv := range idx.intervals {
		if iv.Contains(t) {
			return iv, true
		}
	}
	return model.BusyInterval{}, false
}

// NextStartAfter returns the earliest interval start strictly after t.
func (idx *BusyIndex) NextStartAfter(t time.Time) (time.Time, bool) {
	for _, iv := range idx.Sorted() {
		if iv.Start.After(t) {
			return iv.Start, true
		}
	}
	return time.Time{}, false
}

// Len returns the number of indexed intervals.
func (idx *BusyIndex) Len() int { return len(idx.intervals) }
