package bot

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"timemgr/internal/intent"
	"timemgr/internal/model"
	"timemgr/internal/schedule"
	"timemgr/internal/selector"
)

type fakeCalendar struct {
	mu     sync.Mutex
	events map[string]model.CalendarEvent
	nextID int
	fail   error
}

func newFakeCalendar() *fakeCalendar {
	return &fakeCalendar{events: map[string]model.CalendarEvent{}}
}

func (f *fakeCalendar) GetEvents(_ context.Context, start, end time.Time) ([]model.CalendarEvent, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail != nil {
		return nil, f.fail
	}
	var out []model.CalendarEvent
	for _, ev := range f.events {
		if ev.Start.Before(end) && start.Before(ev.End) {
			out = append(out, ev)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Start.Before(out[j].Start) })
	return out, nil
}

func (f *fakeCalendar) CreateEvent(_ context.Context, ev model.CalendarEvent) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail != nil {
		return "", f.fail
	}
	f.nextID++
	ev.ID = fmt.Sprintf("ev-%d", f.nextID)
	f.events[ev.ID] = ev
	return ev.ID, nil
}

func (f *fakeCalendar) UpdateEvent(_ context.Context, ev model.CalendarEvent) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail != nil {
		return f.fail
	}
	if _, ok := f.events[ev.ID]; !ok {
		return &model.NotFoundError{What: "event " + ev.ID}
	}
	f.events[ev.ID] = ev
	return nil
}

func (f *fakeCalendar) DeleteEvent(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail != nil {
		return f.fail
	}
	if _, ok := f.events[id]; !ok {
		return &model.NotFoundError{What: "event " + id}
	}
	delete(f.events, id)
	return nil
}

// stubIntents maps exact input text to a canned intent. Unknown text
// parses to a fallback.
type stubIntents struct {
	byText map[string]intent.Intent
	err    error
}

func (s *stubIntents) Parse(_ context.Context, text string) (intent.Intent, error) {
	if s.err != nil {
		return nil, s.err
	}
	if it, ok := s.byText[text]; ok {
		return it, nil
	}
	return intent.Fallback{Response: "I didn't understand that."}, nil
}

type neverMatchOracle struct{}

func (neverMatchOracle) BestMatch(context.Context, string, []model.CalendarEvent) (*model.CalendarEvent, float64, error) {
	return nil, 0, nil
}

func (neverMatchOracle) Threshold() float64 { return selector.DefaultSimilarityThreshold }

type fixture struct {
	disp  *Dispatcher
	cal   *fakeCalendar
	parse *stubIntents
	store *SessionStore
	now   time.Time
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	now, err := time.Parse("2006-01-02T15:04", "2025-06-10T08:00")
	require.NoError(t, err)

	cal := newFakeCalendar()
	parse := &stubIntents{byText: map[string]intent.Intent{}}
	store := NewSessionStore()
	clock := func() time.Time { return now }
	sched := schedule.NewScheduler(cal, nil, clock)
	disp := NewDispatcher(store, cal, parse, neverMatchOracle{}, sched, clock)
	return &fixture{disp: disp, cal: cal, parse: parse, store: store, now: now}
}

func (fx *fixture) seedEvent(t *testing.T, summary string, startOffset time.Duration, length time.Duration) string {
	t.Helper()
	id, err := fx.cal.CreateEvent(context.Background(), model.CalendarEvent{
		Summary: summary,
		Start:   fx.now.Add(startOffset),
		End:     fx.now.Add(startOffset + length),
	})
	require.NoError(t, err)
	return id
}

func (fx *fixture) session(userID string) *Session {
	return fx.store.GetOrCreate(userID)
}

func TestDispatchStartResetsSession(t *testing.T) {
	fx := newFixture(t)
	sess := fx.session("u1")
	sess.State = StateSelectingForDelete
	sess.Candidates = []model.CalendarEvent{{Summary: "stale"}}

	reply := fx.disp.Dispatch(context.Background(), "u1", "/start")

	assert.Contains(t, reply, "Welcome to the Time Manager Bot")
	assert.Equal(t, StateIdle, sess.State)
	assert.Nil(t, sess.Candidates)
}

func TestDispatchCancelClearsPendingOperation(t *testing.T) {
	fx := newFixture(t)
	fx.seedEvent(t, "Standup", 26*time.Hour, 30*time.Minute)

	fx.disp.Dispatch(context.Background(), "u1", "/delete")
	sess := fx.session("u1")
	require.Equal(t, StateSelectingForDelete, sess.State)
	require.NotEmpty(t, sess.Candidates)

	reply := fx.disp.Dispatch(context.Background(), "u1", "/cancel")

	assert.Equal(t, "Operation canceled. What would you like to do next?", reply)
	assert.Equal(t, StateIdle, sess.State)
	assert.Nil(t, sess.Candidates)
	assert.Nil(t, sess.PendingIntent)
	assert.Nil(t, sess.Selected)
}

func TestDispatchScheduleCommandListsUpcomingEvents(t *testing.T) {
	fx := newFixture(t)
	fx.seedEvent(t, "Standup", 26*time.Hour, 30*time.Minute)
	fx.seedEvent(t, "Planning", 50*time.Hour, time.Hour)

	reply := fx.disp.Dispatch(context.Background(), "u1", "/schedule")

	assert.Contains(t, reply, "Your upcoming events")
	assert.Contains(t, reply, "1. Standup")
	assert.Contains(t, reply, "2. Planning")
	assert.Equal(t, StateViewingEvents, fx.session("u1").State)
}

func TestDispatchScheduleCommandEmpty(t *testing.T) {
	fx := newFixture(t)

	reply := fx.disp.Dispatch(context.Background(), "u1", "/schedule")

	assert.Equal(t, "You don't have any upcoming events in the next 7 days.", reply)
	assert.Equal(t, StateIdle, fx.session("u1").State)
}

func TestDispatchInvalidSelectionKeepsState(t *testing.T) {
	fx := newFixture(t)
	fx.seedEvent(t, "Standup", 26*time.Hour, 30*time.Minute)

	fx.disp.Dispatch(context.Background(), "u1", "/delete")
	sess := fx.session("u1")

	reply := fx.disp.Dispatch(context.Background(), "u1", "99")
	assert.Equal(t, "Please select a valid event number.", reply)
	assert.Equal(t, StateSelectingForDelete, sess.State)
	assert.Len(t, sess.Candidates, 1)

	reply = fx.disp.Dispatch(context.Background(), "u1", "not a number")
	assert.Equal(t, "Please enter a valid number.", reply)
	assert.Equal(t, StateSelectingForDelete, sess.State)

	// A valid reply still works after both bad attempts.
	reply = fx.disp.Dispatch(context.Background(), "u1", "1")
	assert.Equal(t, "✅ Deleted: Standup", reply)
	assert.Equal(t, StateIdle, sess.State)
	assert.Empty(t, fx.cal.events)
}

func TestDispatchDeleteCommandEmpty(t *testing.T) {
	fx := newFixture(t)

	reply := fx.disp.Dispatch(context.Background(), "u1", "/delete")

	assert.Equal(t, "You don't have any upcoming events to delete.", reply)
	assert.Equal(t, StateIdle, fx.session("u1").State)
}

func TestDispatchUpdateSelectionThenFreeTextChange(t *testing.T) {
	fx := newFixture(t)
	id := fx.seedEvent(t, "Standup", 26*time.Hour, 30*time.Minute)
	fx.parse.byText["change title to Daily Sync"] = intent.Update{Summary: "Daily Sync"}

	fx.disp.Dispatch(context.Background(), "u1", "/update")
	sess := fx.session("u1")
	require.Equal(t, StateSelectingForUpdate, sess.State)

	reply := fx.disp.Dispatch(context.Background(), "u1", "1")
	assert.Contains(t, reply, "Updating: Standup")
	assert.Equal(t, StateUpdatingEvent, sess.State)

	reply = fx.disp.Dispatch(context.Background(), "u1", "change title to Daily Sync")
	assert.Contains(t, reply, "✅ Updated: Daily Sync")
	assert.Equal(t, StateIdle, sess.State)
	assert.Equal(t, "Daily Sync", fx.cal.events[id].Summary)
}

func TestDispatchUpdatingEventRejectsNonUpdateText(t *testing.T) {
	fx := newFixture(t)
	fx.seedEvent(t, "Standup", 26*time.Hour, 30*time.Minute)

	fx.disp.Dispatch(context.Background(), "u1", "/update")
	fx.disp.Dispatch(context.Background(), "u1", "1")
	sess := fx.session("u1")
	require.Equal(t, StateUpdatingEvent, sess.State)

	reply := fx.disp.Dispatch(context.Background(), "u1", "what's the weather")

	assert.Equal(t, "I'm not sure how to update the event with that information. Please be more specific about what you want to change.", reply)
	assert.Equal(t, StateUpdatingEvent, sess.State)
	assert.NotNil(t, sess.Selected)
}

func TestDispatchUnresolvedUpdateEnumeratesCandidates(t *testing.T) {
	fx := newFixture(t)
	fx.seedEvent(t, "Standup", 26*time.Hour, 30*time.Minute)
	fx.seedEvent(t, "Planning", 50*time.Hour, time.Hour)
	fx.parse.byText["move the sync to 3pm"] = intent.Update{
		EventName:       "the sync",
		DurationMinutes: 90,
	}

	reply := fx.disp.Dispatch(context.Background(), "u1", "move the sync to 3pm")
	sess := fx.session("u1")

	assert.Contains(t, reply, "I couldn't find the event you mentioned. Please select one:")
	assert.Contains(t, reply, "1. Standup")
	assert.Contains(t, reply, "2. Planning")
	assert.Equal(t, StateSelectingForUpdate, sess.State)
	require.Len(t, sess.Candidates, 2)

	// Selecting a number always prompts for the change, even though the
	// unresolved intent carried one.
	reply = fx.disp.Dispatch(context.Background(), "u1", "2")
	assert.Contains(t, reply, "Updating: Planning")
	assert.Equal(t, StateUpdatingEvent, sess.State)
	require.NotNil(t, sess.Selected)
	assert.Equal(t, "Planning", sess.Selected.Summary)

	fx.parse.byText["make it 90 minutes long"] = intent.Update{DurationMinutes: 90}
	reply = fx.disp.Dispatch(context.Background(), "u1", "make it 90 minutes long")
	assert.Contains(t, reply, "✅ Updated: Planning")
	assert.Equal(t, StateIdle, sess.State)

	events, err := fx.cal.GetEvents(context.Background(), fx.now, fx.now.AddDate(0, 0, 7))
	require.NoError(t, err)
	for _, ev := range events {
		if ev.Summary == "Planning" {
			assert.Equal(t, 90*time.Minute, ev.Duration())
		}
	}
}

func TestDispatchCreateSingleEvent(t *testing.T) {
	fx := newFixture(t)
	start := fx.now.Add(26 * time.Hour)
	fx.parse.byText["schedule a meeting tomorrow at 10am"] = intent.Create{
		Summary:         "Meeting",
		Start:           &start,
		DurationMinutes: 60,
	}

	reply := fx.disp.Dispatch(context.Background(), "u1", "schedule a meeting tomorrow at 10am")

	assert.Contains(t, reply, "✅ Event created")
	assert.Contains(t, reply, "Meeting")
	require.Len(t, fx.cal.events, 1)
	for _, ev := range fx.cal.events {
		assert.Equal(t, start, ev.Start)
		assert.Equal(t, start.Add(time.Hour), ev.End)
	}
}

func TestDispatchCreateRecurringEvents(t *testing.T) {
	fx := newFixture(t)
	start := fx.now.Add(26 * time.Hour)
	fx.parse.byText["weekly team meeting for 4 weeks"] = intent.Create{
		Summary:         "Team Meeting",
		Start:           &start,
		DurationMinutes: 30,
		Recurrence:      model.RecurrenceWeekly,
		RecurrenceCount: 4,
	}

	reply := fx.disp.Dispatch(context.Background(), "u1", "weekly team meeting for 4 weeks")

	assert.Equal(t, "✅ Created 4 recurring events: Team Meeting", reply)
	assert.Len(t, fx.cal.events, 4)
}

func TestDispatchCreateWithoutTimePicksFirstFreeSlot(t *testing.T) {
	fx := newFixture(t)
	fx.parse.byText["schedule a review"] = intent.Create{Summary: "Review"}

	reply := fx.disp.Dispatch(context.Background(), "u1", "schedule a review")

	assert.Contains(t, reply, "✅ Event created")
	require.Len(t, fx.cal.events, 1)
	for _, ev := range fx.cal.events {
		// 08:00 is before working hours, so the first slot is 09:00.
		assert.Equal(t, 9, ev.Start.Hour())
		assert.Equal(t, 60*time.Minute, ev.Duration())
	}
}

func TestDispatchCreateValidationErrorNamesConstraint(t *testing.T) {
	fx := newFixture(t)
	fx.parse.byText["bad"] = intent.Create{Summary: ""}

	reply := fx.disp.Dispatch(context.Background(), "u1", "bad")

	assert.True(t, strings.HasPrefix(reply, "Error: "), "got %q", reply)
	assert.Equal(t, StateIdle, fx.session("u1").State)
	assert.Empty(t, fx.cal.events)
}

func TestDispatchListWithEvents(t *testing.T) {
	fx := newFixture(t)
	fx.seedEvent(t, "Standup", 26*time.Hour, 30*time.Minute)
	fx.parse.byText["show my schedule"] = intent.List{TimeRangeDays: 7}

	reply := fx.disp.Dispatch(context.Background(), "u1", "show my schedule")

	assert.Contains(t, reply, "Your schedule from 2025-06-10 to 2025-06-17")
	assert.Contains(t, reply, "Standup")
}

func TestDispatchListEmptyWindow(t *testing.T) {
	fx := newFixture(t)
	fx.parse.byText["show my schedule"] = intent.List{TimeRangeDays: 3}

	reply := fx.disp.Dispatch(context.Background(), "u1", "show my schedule")

	assert.Equal(t, "You don't have any events scheduled between 2025-06-10 and 2025-06-13.", reply)
}

func TestDispatchFallbackEchoesExtractorResponse(t *testing.T) {
	fx := newFixture(t)
	fx.parse.byText["hello there"] = intent.Fallback{Response: "Hi! Tell me what to schedule."}

	reply := fx.disp.Dispatch(context.Background(), "u1", "hello there")

	assert.Equal(t, "Hi! Tell me what to schedule.", reply)
	assert.Equal(t, StateIdle, fx.session("u1").State)
}

func TestDispatchFreeSlotsCommandShowsDefaults(t *testing.T) {
	fx := newFixture(t)

	reply := fx.disp.Dispatch(context.Background(), "u1", "/freeslots")

	assert.Contains(t, reply, "Looking for free time slots")
	assert.Contains(t, reply, "Available time slots for 60 minute events:")
	assert.Equal(t, StateFindingFreeSlots, fx.session("u1").State)
}

func TestDispatchFreeSlotsCustomSearchResetsState(t *testing.T) {
	fx := newFixture(t)
	fx.parse.byText["find 30 minute slots"] = intent.Create{DurationMinutes: 30}

	fx.disp.Dispatch(context.Background(), "u1", "/freeslots")
	reply := fx.disp.Dispatch(context.Background(), "u1", "find 30 minute slots")

	assert.Contains(t, reply, "Available time slots for 30 minute events:")
	assert.Equal(t, StateIdle, fx.session("u1").State)
}

func TestDispatchBackendFailureRecoversToIdle(t *testing.T) {
	fx := newFixture(t)
	fx.seedEvent(t, "Standup", 26*time.Hour, 30*time.Minute)
	fx.disp.Dispatch(context.Background(), "u1", "/update")
	sess := fx.session("u1")
	require.Equal(t, StateSelectingForUpdate, sess.State)
	fx.disp.Dispatch(context.Background(), "u1", "/cancel")

	fx.cal.fail = errors.New("backend down")
	reply := fx.disp.Dispatch(context.Background(), "u1", "/schedule")

	assert.Equal(t, "Sorry, I couldn't fetch your events. Please try again later.", reply)
	assert.Equal(t, StateIdle, sess.State)

	// The next message on a recovered backend works normally.
	fx.cal.fail = nil
	reply = fx.disp.Dispatch(context.Background(), "u1", "/schedule")
	assert.Contains(t, reply, "Standup")
}

func TestDispatchSessionsAreIndependentPerUser(t *testing.T) {
	fx := newFixture(t)
	fx.seedEvent(t, "Standup", 26*time.Hour, 30*time.Minute)

	fx.disp.Dispatch(context.Background(), "alice", "/delete")
	fx.disp.Dispatch(context.Background(), "bob", "/schedule")

	assert.Equal(t, StateSelectingForDelete, fx.session("alice").State)
	assert.Equal(t, StateViewingEvents, fx.session("bob").State)
}

func TestDispatchUnknownCommand(t *testing.T) {
	fx := newFixture(t)

	reply := fx.disp.Dispatch(context.Background(), "u1", "/bogus")

	assert.Equal(t, "Unknown command. Use /help to see what I can do.", reply)
}
