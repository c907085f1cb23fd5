package schedule

import (
	"context"
	"time"

	"timemgr/internal/calendar"
	appLog "timemgr/internal/log"
	"timemgr/internal/model"
)

const (
	// DefaultLookaheadDays is the slot-search window used when a request
	// carries no explicit start time.
	DefaultLookaheadDays = 7
)

// BusySource contributes extra occupied intervals (for example from
// subscribed ICS feeds) on top of the backend's own events.
type BusySource interface {
	BusyIntervals(start, end time.Time) []model.BusyInterval
}

// Scheduler turns event requests into persisted calendar events. It
// owns the working-hours policy and the injected clock so that slot
// search and default windows stay deterministic under test.
type Scheduler struct {
	cal   calendar.Port
	busy  BusySource // optional
	hours model.WorkingHours
	clock func() time.Time

	lookaheadDays int
}

// NewScheduler builds a Scheduler over the given calendar backend.
// busy may be nil. clock may be nil, in which case time.Now is used.
func NewScheduler(cal calendar.Port, busy BusySource, clock func() time.Time) *Scheduler {
	if clock == nil {
		clock = time.Now
	}
	return &Scheduler{
		cal:           cal,
		busy:          busy,
		hours:         model.DefaultWorkingHours,
		clock:         clock,
		lookaheadDays: DefaultLookaheadDays,
	}
}

// SetWorkingHours replaces the working-hours policy.
func (s *Scheduler) SetWorkingHours(hours model.WorkingHours) error {
	if err := hours.Validate(); err != nil {
		return err
	}
	s.hours = hours
	appLog.Info("working hours set", "start", hours.Start, "end", hours.End)
	return nil
}

// WorkingHours returns the current working-hours policy.
func (s *Scheduler) WorkingHours() model.WorkingHours { return s.hours }

// ScheduleEvent resolves and persists a single event from the request
// and returns the backend-assigned id. When the request has no explicit
// start, the first free slot within the default lookahead is taken;
// an exhausted search returns *model.NoAvailabilityError.
func (s *Scheduler) ScheduleEvent(ctx context.Context, req model.EventRequest) (string, error) {
	ev, err := s.resolveRequest(ctx, req)
	if err != nil {
		return "", err
	}
	return s.cal.CreateEvent(ctx, ev)
}

// ScheduleRecurringEvent schedules the first occurrence like
// ScheduleEvent, expands the remaining occurrences, and persists each
// one. It returns the ids in occurrence order.
func (s *Scheduler) ScheduleRecurringEvent(ctx context.Context, req model.EventRequest) ([]string, error) {
	if req.Recurrence == model.RecurrenceNone || req.RecurrenceCount <= 0 {
		return nil, &model.ValidationError{Reason: "invalid recurrence parameters"}
	}

	first, err := s.resolveRequest(ctx, req)
	if err != nil {
		return nil, err
	}

	occurrences, err := ExpandRecurrence(first, req.Recurrence, req.RecurrenceCount)
	if err != nil {
		return nil, err
	}

	ids := make([]string, 0, len(occurrences))
	for _, occ := range occurrences {
		id, err := s.cal.CreateEvent(ctx, occ)
		if err != nil {
			return ids, err
		}
		ids = append(ids, id)
	}
	appLog.Info("recurring event scheduled",
		"summary", req.Summary, "frequency", req.Recurrence, "count", len(ids))
	return ids, nil
}

// FindFreeSlots searches [rangeStart, rangeEnd) for free slots of the
// given duration, combining backend events with any extra busy source.
func (s *Scheduler) FindFreeSlots(ctx context.Context, rangeStart, rangeEnd time.Time, durationMinutes int, hours model.WorkingHours) ([]time.Time, error) {
	events, err := s.cal.GetEvents(ctx, rangeStart, rangeEnd)
	if err != nil {
		return nil, err
	}
	idx := NewBusyIndex(events)
	if s.busy != nil {
		idx.AddAll(s.busy.BusyIntervals(rangeStart, rangeEnd))
	}
	return FindSlots(rangeStart, rangeEnd, durationMinutes, hours, idx)
}

// resolveRequest turns a request into a concrete event with both
// bounds set, running a slot search only when no explicit start was
// given.
func (s *Scheduler) resolveRequest(ctx context.Context, req model.EventRequest) (model.CalendarEvent, error) {
	if err := req.Validate(); err != nil {
		return model.CalendarEvent{}, err
	}

	ev := model.CalendarEvent{
		Summary:     req.Summary,
		Description: req.Description,
		Location:    req.Location,
	}

	switch {
	case req.Start != nil && req.End != nil:
		ev.Start = *req.Start
		ev.End = *req.End
	case req.Start != nil:
		ev.Start = *req.Start
		ev.End = req.Start.Add(time.Duration(req.DurationMinutes) * time.Minute)
	default:
		now := s.clock()
		slots, err := s.FindFreeSlots(ctx, now, now.AddDate(0, 0, s.lookaheadDays), req.DurationMinutes, s.hours)
		if err != nil {
			return model.CalendarEvent{}, err
		}
		if len(slots) == 0 {
			return model.CalendarEvent{}, &model.NoAvailabilityError{
				DurationMinutes: req.DurationMinutes,
				WindowDays:      s.lookaheadDays,
			}
		}
		// First-fit: take the earliest candidate.
		ev.Start = slots[0]
		ev.End = slots[0].Add(time.Duration(req.DurationMinutes) * time.Minute)
	}

	if err := ev.Validate(); err != nil {
		return model.CalendarEvent{}, err
	}
	return ev, nil
}
