// Package calendar defines the port to the calendar backend and a
// Postgres-backed implementation of it.
package calendar

import (
	"context"
	"time"

	"timemgr/internal/model"
)

// Port is the calendar backend boundary. Implementations wrap every
// transport or storage failure in *model.ExternalServiceError; the core
// never retries a failed call.
type Port interface {
	// GetEvents returns events intersecting [start, end), ordered by
	// start time.
	GetEvents(ctx context.Context, start, end time.Time) ([]model.CalendarEvent, error)

	// CreateEvent persists a new event and returns its assigned id.
	CreateEvent(ctx context.Context, ev model.CalendarEvent) (string, error)

	// UpdateEvent overwrites the stored event identified by ev.ID.
	UpdateEvent(ctx context.Context, ev model.CalendarEvent) error

	// DeleteEvent removes the event with the given id.
	DeleteEvent(ctx context.Context, id string) error
}
