// Package intent defines the closed set of typed intents produced by
// the intent extractor and the port to it. The single dispatch point in
// the bot package switches exhaustively over these variants; no other
// code re-tests intent kind.
package intent

import (
	"context"
	"time"

	"timemgr/internal/model"
)

// Intent is the closed sum Create | Update | Delete | List | Fallback.
type Intent interface {
	isIntent()
}

// Create asks for a new event. Start may be nil, in which case the
// scheduler picks the first free slot. DurationMinutes of zero means
// unspecified; the caller applies the 60-minute default.
type Create struct {
	Summary         string
	Start           *time.Time
	End             *time.Time
	DurationMinutes int
	Description     string
	Location        string
	Recurrence      model.RecurrenceFrequency
	RecurrenceCount int
}

// Update changes fields of an existing event. Selection (1-based),
// EventID and EventName identify the target; zero values mean absent.
// Nil/zero change fields are left untouched on the event.
type Update struct {
	Selection       int
	EventID         string
	EventName       string
	Summary         string
	Start           *time.Time
	DurationMinutes int
	Description     string
	Location        string
}

// Delete removes an existing event, identified like Update.
type Delete struct {
	Selection int
	EventID   string
}

// List asks for the schedule over a window. Explicit StartDate/EndDate
// win over the day-count default.
type List struct {
	TimeRangeDays int
	StartDate     *time.Time
	EndDate       *time.Time
}

// Fallback carries extractor-provided response text to be echoed
// verbatim when no specific intent was recognized.
type Fallback struct {
	Response string
}

func (Create) isIntent()   {}
func (Update) isIntent()   {}
func (Delete) isIntent()   {}
func (List) isIntent()     {}
func (Fallback) isIntent() {}

// Port is the intent-extractor boundary.
type Port interface {
	Parse(ctx context.Context, text string) (Intent, error)
}
