package model

import "fmt"

// ValidationError reports a request or constraint violation (bad working
// hours, zero/negative recurrence count, and similar). The Reason is
// safe to show to the user.
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string { return e.Reason }

// NotFoundError reports a selection that matched no event (index out of
// range, unknown event id).
type NotFoundError struct {
	What string
}

func (e *NotFoundError) Error() string { return e.What + " not found" }

// NoAvailabilityError reports an exhausted free-slot search window.
type NoAvailabilityError struct {
	DurationMinutes int
	WindowDays      int
}

func (e *NoAvailabilityError) Error() string {
	return fmt.Sprintf("no free %d-minute slot available in the next %d days",
		e.DurationMinutes, e.WindowDays)
}

// ParseError reports malformed user input, e.g. non-integer selection
// text. It is always recovered locally with a corrective prompt.
type ParseError struct {
	Input string
}

func (e *ParseError) Error() string { return fmt.Sprintf("could not parse input %q", e.Input) }

// ExternalServiceError wraps a failure from one of the external
// collaborators (calendar backend, intent extractor, similarity oracle).
// The core never retries these.
type ExternalServiceError struct {
	Op  string
	Err error
}

func (e *ExternalServiceError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *ExternalServiceError) Unwrap() error { return e.Err }
