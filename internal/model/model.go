package model

import (
	"fmt"
	"strings"
	"time"
)

// RecurrenceFrequency describes how successive occurrences of a
// recurring event are spaced.
type RecurrenceFrequency string

const (
	RecurrenceNone    RecurrenceFrequency = "none"
	RecurrenceDaily   RecurrenceFrequency = "daily"
	RecurrenceWeekly  RecurrenceFrequency = "weekly"
	RecurrenceMonthly RecurrenceFrequency = "monthly"
)

// ParseRecurrenceFrequency converts a free-form string into a
// RecurrenceFrequency. Common phrasings ("every day", "each week",
// "month") are accepted.
func ParseRecurrenceFrequency(value string) (RecurrenceFrequency, error) {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "day", "daily", "every day", "each day":
		return RecurrenceDaily, nil
	case "week", "weekly", "every week", "each week":
		return RecurrenceWeekly, nil
	case "month", "monthly", "every month", "each month":
		return RecurrenceMonthly, nil
	case "", "none", "no", "never":
		return RecurrenceNone, nil
	}
	return RecurrenceNone, &ValidationError{
		Reason: fmt.Sprintf("invalid recurrence frequency %q (valid: none, daily, weekly, monthly)", value),
	}
}

// CalendarEvent is a transient copy of an event owned by the calendar
// backend. ID is assigned by the backend and is empty until the event
// has been persisted.
type CalendarEvent struct {
	ID          string
	Summary     string
	Start       time.Time
	End         time.Time
	Description string
	Location    string
}

// Duration returns the event's length. Events always satisfy Start < End.
func (e CalendarEvent) Duration() time.Duration {
	return e.End.Sub(e.Start)
}

// Validate checks the event's structural invariants.
func (e CalendarEvent) Validate() error {
	if strings.TrimSpace(e.Summary) == "" {
		return &ValidationError{Reason: "event summary must not be empty"}
	}
	if e.Start.IsZero() || e.End.IsZero() {
		return &ValidationError{Reason: "event start and end must be set"}
	}
	if !e.Start.Before(e.End) {
		return &ValidationError{Reason: "event start must be before end"}
	}
	return nil
}

// EventRequest is a single-turn draft of an event to be scheduled.
// It is built from one user turn, consumed once, then discarded.
type EventRequest struct {
	Summary         string
	DurationMinutes int
	Start           *time.Time
	End             *time.Time
	Description     string
	Location        string
	Recurrence      RecurrenceFrequency
	RecurrenceCount int
}

// Validate checks the request's structural invariants.
func (r EventRequest) Validate() error {
	if strings.TrimSpace(r.Summary) == "" {
		return &ValidationError{Reason: "event summary must not be empty"}
	}
	if r.DurationMinutes <= 0 {
		return &ValidationError{Reason: "duration must be greater than zero minutes"}
	}
	if r.Recurrence != RecurrenceNone && r.RecurrenceCount <= 0 {
		return &ValidationError{Reason: "recurring events need a recurrence count greater than zero"}
	}
	return nil
}

// BusyInterval is an occupied (Start, End) span, Start < End. Sets of
// busy intervals are sorted by Start before any slot search.
type BusyInterval struct {
	Start time.Time
	End   time.Time
}

// Contains reports whether t falls inside the half-open span [Start, End).
func (b BusyInterval) Contains(t time.Time) bool {
	return !t.Before(b.Start) && t.Before(b.End)
}

// WorkingHours is the daily window outside which no event or free slot
// may be placed. Hours are whole clock hours, 0 <= Start < End <= 24.
type WorkingHours struct {
	Start int
	End   int
}

// DefaultWorkingHours is a 9-to-5 working day.
var DefaultWorkingHours = WorkingHours{Start: 9, End: 17}

// Validate checks the 0 <= Start < End <= 24 invariant.
func (w WorkingHours) Validate() error {
	if w.Start < 0 || w.End > 24 || w.Start >= w.End {
		return &ValidationError{
			Reason: fmt.Sprintf("invalid working hours %d:00-%d:00", w.Start, w.End),
		}
	}
	return nil
}
