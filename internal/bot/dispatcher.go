package bot

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"timemgr/internal/calendar"
	"timemgr/internal/intent"
	appLog "timemgr/internal/log"
	"timemgr/internal/model"
	"timemgr/internal/schedule"
	"timemgr/internal/selector"
)

// User-facing reply fragments reused across transitions.
const (
	replyGenericError       = "Sorry, I encountered an error processing your request. Please try again."
	replyInvalidSelection   = "Please select a valid event number."
	replyNotANumber         = "Please enter a valid number."
	replyCanceled           = "Operation canceled. What would you like to do next?"
	replyLostSelection      = "Sorry, I lost track of which event you were updating. Please try again."
	replyNotAnUpdate        = "I'm not sure how to update the event with that information. Please be more specific about what you want to change."
	replySlotSearchFailed   = "Sorry, I couldn't find free time slots. Please try again later."
	replyFetchEventsFailed  = "Sorry, I couldn't fetch your events. Please try again later."
	replyUnresolvedRef      = "I couldn't find the event you mentioned. Please select one:"
	defaultDurationMinutes  = 60
	defaultListDays         = 7
	defaultSearchWindowDays = 30
)

// Dispatcher drives the per-user conversation state machine. Dispatch
// is the single entry point for one inbound message; it returns the
// outbound reply text and leaves the updated dialog state in the
// user's session.
type Dispatcher struct {
	sessions *SessionStore
	cal      calendar.Port
	intents  intent.Port
	oracle   selector.SimilarityOracle
	sched    *schedule.Scheduler
	clock    func() time.Time

	lookaheadDays    int
	searchWindowDays int
}

// NewDispatcher wires the state machine to its collaborators. A nil
// clock means time.Now.
func NewDispatcher(sessions *SessionStore, cal calendar.Port, intents intent.Port, oracle selector.SimilarityOracle, sched *schedule.Scheduler, clock func() time.Time) *Dispatcher {
	if clock == nil {
		clock = time.Now
	}
	return &Dispatcher{
		sessions:         sessions,
		cal:              cal,
		intents:          intents,
		oracle:           oracle,
		sched:            sched,
		clock:            clock,
		lookaheadDays:    defaultListDays,
		searchWindowDays: defaultSearchWindowDays,
	}
}

// Dispatch processes one inbound message for one user. Messages from
// the same user are handled strictly in arrival order; distinct users
// do not block each other.
func (d *Dispatcher) Dispatch(ctx context.Context, userID, text string) string {
	sess := d.sessions.Acquire(userID)
	defer d.sessions.Release(sess)
	sess.lastActive = d.clock()

	text = strings.TrimSpace(text)

	// /cancel aborts from any state.
	if text == "/cancel" {
		sess.reset()
		return replyCanceled
	}
	if strings.HasPrefix(text, "/") {
		return d.handleCommand(ctx, sess, text)
	}

	switch sess.State {
	case StateSelectingForUpdate:
		return d.handleSelectForUpdate(sess, text)
	case StateSelectingForDelete:
		return d.handleSelectForDelete(ctx, sess, text)
	case StateUpdatingEvent:
		return d.handleUpdatingEvent(ctx, sess, text)
	case StateFindingFreeSlots:
		return d.handleFindingFreeSlots(ctx, sess, text)
	default:
		// Idle and ViewingEvents both take free-text intents.
		return d.handleGeneral(ctx, sess, text)
	}
}

func (d *Dispatcher) handleCommand(ctx context.Context, sess *Session, cmd string) string {
	switch cmd {
	case "/start":
		sess.reset()
		return "👋 Welcome to the Time Manager Bot!\n\n" +
			"I can help you manage your calendar events. Here's what you can do:\n\n" +
			"- Create an event: Just tell me what you want to schedule\n" +
			"- Update an event: Use /update command\n" +
			"- Delete an event: Use /delete command\n" +
			"- View your schedule: Use /schedule command\n" +
			"- Find free time slots: Use /freeslots command\n\n" +
			"Try saying something like:\n" +
			"\"Schedule a meeting with John tomorrow at 2pm for 1 hour\""
	case "/help":
		return "🔍 Time Manager Bot Help\n\n" +
			"Here are some examples of what you can say:\n\n" +
			"- \"Schedule a meeting with John tomorrow at 2pm for 1 hour\"\n" +
			"- \"Create a dentist appointment next week\"\n" +
			"- \"Set up a weekly team meeting every Monday at 10am for 4 weeks\"\n\n" +
			"Commands:\n" +
			"/start - Start the bot\n" +
			"/help - Show this help message\n" +
			"/schedule - View your upcoming events\n" +
			"/update - Update an existing event\n" +
			"/delete - Delete an event\n" +
			"/freeslots - Find free time slots\n" +
			"/cancel - Cancel the current operation"
	case "/schedule":
		return d.handleScheduleCommand(ctx, sess)
	case "/update":
		return d.handleSelectionCommand(ctx, sess, StateSelectingForUpdate,
			"📝 Select an event to update by replying with its number:",
			"You don't have any upcoming events to update.")
	case "/delete":
		return d.handleSelectionCommand(ctx, sess, StateSelectingForDelete,
			"🗑️ Select an event to delete by replying with its number:",
			"You don't have any upcoming events to delete.")
	case "/freeslots":
		return d.handleFreeSlotsCommand(ctx, sess)
	default:
		return "Unknown command. Use /help to see what I can do."
	}
}

func (d *Dispatcher) handleScheduleCommand(ctx context.Context, sess *Session) string {
	now := d.clock()
	events, err := d.cal.GetEvents(ctx, now, now.AddDate(0, 0, d.lookaheadDays))
	if err != nil {
		return d.fail(sess, "fetch events", err, replyFetchEventsFailed)
	}
	if len(events) == 0 {
		return fmt.Sprintf("You don't have any upcoming events in the next %d days.", d.lookaheadDays)
	}

	sess.State = StateViewingEvents
	sess.Candidates = events
	return formatEventList("📅 Your upcoming events:", events)
}

// handleSelectionCommand backs /update and /delete: it enumerates the
// upcoming events and parks the session in the given selection state.
func (d *Dispatcher) handleSelectionCommand(ctx context.Context, sess *Session, next State, header, emptyReply string) string {
	now := d.clock()
	events, err := d.cal.GetEvents(ctx, now, now.AddDate(0, 0, d.lookaheadDays))
	if err != nil {
		return d.fail(sess, "fetch events", err, replyFetchEventsFailed)
	}
	if len(events) == 0 {
		return emptyReply
	}

	sess.State = next
	sess.Candidates = events
	sess.PendingIntent = nil
	sess.Selected = nil
	return formatEventList(header, events)
}

func (d *Dispatcher) handleFreeSlotsCommand(ctx context.Context, sess *Session) string {
	sess.State = StateFindingFreeSlots
	sess.Candidates = nil

	hint := "Looking for free time slots. By default, I'll look for" +
		" 60-minute slots in the next 7 days.\n\n" +
		"You can customize this by saying something like:\n" +
		"- \"Find 30 minute slots\"\n" +
		"- \"Look for slots in the next 3 days\"\n" +
		"- \"Find 2 hour meetings next week\""

	listing, ok := d.freeSlotListing(ctx, defaultDurationMinutes, defaultListDays)
	if !ok {
		// Defaults failed; keep the state so the user can still customize.
		return hint
	}
	return hint + "\n\n" + listing
}

// handleGeneral parses free text into an intent and dispatches on its
// kind. This type switch is the single intent dispatch point.
func (d *Dispatcher) handleGeneral(ctx context.Context, sess *Session, text string) string {
	it, err := d.intents.Parse(ctx, text)
	if err != nil {
		return d.fail(sess, "parse intent", err, replyGenericError)
	}

	switch it := it.(type) {
	case intent.Create:
		return d.handleCreate(ctx, sess, it)
	case intent.Update:
		return d.handleUpdate(ctx, sess, it)
	case intent.Delete:
		return d.handleDelete(ctx, sess, it)
	case intent.List:
		return d.handleList(ctx, sess, it)
	case intent.Fallback:
		// Echo the extractor's own response verbatim; state unchanged.
		return it.Response
	default:
		return "I'm not sure what you want to do. You can create an event," +
			" update an event with /update, delete an event with /delete," +
			" or view your schedule with /schedule."
	}
}

func (d *Dispatcher) handleCreate(ctx context.Context, sess *Session, it intent.Create) string {
	req := model.EventRequest{
		Summary:         it.Summary,
		DurationMinutes: it.DurationMinutes,
		Start:           it.Start,
		End:             it.End,
		Description:     it.Description,
		Location:        it.Location,
		Recurrence:      it.Recurrence,
		RecurrenceCount: it.RecurrenceCount,
	}
	if req.DurationMinutes <= 0 {
		req.DurationMinutes = defaultDurationMinutes
	}
	if req.Recurrence == "" {
		req.Recurrence = model.RecurrenceNone
	}

	if req.Recurrence != model.RecurrenceNone && req.RecurrenceCount > 0 {
		ids, err := d.sched.ScheduleRecurringEvent(ctx, req)
		if err != nil {
			return d.failCreate(sess, err)
		}
		sess.reset()
		return fmt.Sprintf("✅ Created %d recurring events: %s", len(ids), req.Summary)
	}

	id, err := d.sched.ScheduleEvent(ctx, req)
	if err != nil {
		return d.failCreate(sess, err)
	}
	sess.reset()

	// Fetch the created event back so the confirmation shows the
	// resolved time, which the user never stated when a slot was picked.
	now := d.clock()
	events, err := d.cal.GetEvents(ctx, now, now.AddDate(0, 0, d.searchWindowDays))
	if err == nil {
		for _, ev := range events {
			if ev.ID == id {
				return "✅ Event created:\n\n" + strings.TrimRight(formatEvent(ev, 0, false), "\n")
			}
		}
	}
	return fmt.Sprintf("✅ Event created: %s", req.Summary)
}

// failCreate maps a scheduling failure to a reply. Validation failures
// name the violated constraint; everything else gets the generic
// apology. Creation always aborts to idle.
func (d *Dispatcher) failCreate(sess *Session, err error) string {
	sess.reset()
	appLog.Error("create event failed", err)
	switch err.(type) {
	case *model.ValidationError, *model.NoAvailabilityError:
		return fmt.Sprintf("Error: %s", err.Error())
	default:
		return "Sorry, I couldn't create that event. Please try again."
	}
}

func (d *Dispatcher) handleList(ctx context.Context, sess *Session, it intent.List) string {
	days := it.TimeRangeDays
	if days <= 0 {
		days = defaultListDays
	}

	start := d.clock()
	if it.StartDate != nil {
		start = *it.StartDate
	}
	end := start.AddDate(0, 0, days)
	if it.EndDate != nil {
		end = *it.EndDate
	}

	events, err := d.cal.GetEvents(ctx, start, end)
	if err != nil {
		return d.fail(sess, "list events", err, "Sorry, I couldn't retrieve your schedule. Please try again.")
	}
	if len(events) == 0 {
		return fmt.Sprintf("You don't have any events scheduled between %s and %s.",
			start.Format("2006-01-02"), end.Format("2006-01-02"))
	}

	header := fmt.Sprintf("📅 Your schedule from %s to %s:",
		start.Format("2006-01-02"), end.Format("2006-01-02"))
	return formatEventList(header, events)
}

func (d *Dispatcher) handleUpdate(ctx context.Context, sess *Session, it intent.Update) string {
	now := d.clock()
	events, err := d.cal.GetEvents(ctx, now, now.AddDate(0, 0, d.searchWindowDays))
	if err != nil {
		return d.fail(sess, "fetch events for update", err, replyFetchEventsFailed)
	}
	if len(events) == 0 {
		return "You don't have any upcoming events to update."
	}

	ref := selector.Reference{Index: it.Selection, ID: it.EventID, Name: it.EventName}
	match, err := selector.Resolve(ctx, ref, events, d.oracle)
	if err != nil {
		return d.fail(sess, "resolve update reference", err, replyGenericError)
	}

	if match == nil {
		sess.State = StateSelectingForUpdate
		sess.Candidates = events
		sess.PendingIntent = it
		return replyUnresolvedRef + enumerateSummaries(events)
	}

	applyUpdate(match, it)
	if err := d.cal.UpdateEvent(ctx, *match); err != nil {
		return d.fail(sess, "update event", err, "Sorry, I couldn't update that event. Please try again.")
	}
	sess.reset()
	return fmt.Sprintf("✅ Updated: %s\nEvent has been successfully updated!", match.Summary)
}

func (d *Dispatcher) handleDelete(ctx context.Context, sess *Session, it intent.Delete) string {
	now := d.clock()
	events, err := d.cal.GetEvents(ctx, now, now.AddDate(0, 0, d.searchWindowDays))
	if err != nil {
		return d.fail(sess, "fetch events for delete", err, replyFetchEventsFailed)
	}
	if len(events) == 0 {
		return "You don't have any upcoming events to delete."
	}

	ref := selector.Reference{Index: it.Selection, ID: it.EventID}
	match, err := selector.Resolve(ctx, ref, events, d.oracle)
	if err != nil {
		return d.fail(sess, "resolve delete reference", err, replyGenericError)
	}

	if match == nil {
		sess.State = StateSelectingForDelete
		sess.Candidates = events
		return replyUnresolvedRef + enumerateSummaries(events)
	}

	if err := d.cal.DeleteEvent(ctx, match.ID); err != nil {
		return d.fail(sess, "delete event", err, "Sorry, I couldn't delete that event. Please try again.")
	}
	sess.reset()
	return fmt.Sprintf("✅ Deleted: %s", match.Summary)
}

// handleSelectForUpdate consumes the numeric reply while selecting an
// event to update. Malformed input is recovered locally: the candidate
// list and state are preserved and a corrective prompt is sent.
func (d *Dispatcher) handleSelectForUpdate(sess *Session, text string) string {
	n, err := parseSelection(text)
	if err != nil {
		return replyNotANumber
	}
	if n < 1 || n > len(sess.Candidates) {
		return replyInvalidSelection
	}

	sel := sess.Candidates[n-1]
	sess.Selected = &sel
	sess.State = StateUpdatingEvent
	return fmt.Sprintf("Updating: %s\n", sel.Summary) +
		"Please tell me what you'd like to change. For example:\n" +
		"- Change title to Team Meeting\n" +
		"- Move to tomorrow at 3pm\n" +
		"- Change location to Conference Room B\n" +
		"- Make it 90 minutes long"
}

func (d *Dispatcher) handleSelectForDelete(ctx context.Context, sess *Session, text string) string {
	n, err := parseSelection(text)
	if err != nil {
		return replyNotANumber
	}
	if n < 1 || n > len(sess.Candidates) {
		return replyInvalidSelection
	}

	sel := sess.Candidates[n-1]
	if sel.ID == "" {
		sess.reset()
		return "Sorry, this event cannot be deleted (it has no id)."
	}
	if err := d.cal.DeleteEvent(ctx, sel.ID); err != nil {
		return d.fail(sess, "delete selected event", err, "Sorry, I couldn't delete that event. Please try again.")
	}
	sess.reset()
	return fmt.Sprintf("✅ Deleted: %s", sel.Summary)
}

func (d *Dispatcher) handleUpdatingEvent(ctx context.Context, sess *Session, text string) string {
	if sess.Selected == nil {
		sess.reset()
		return replyLostSelection
	}

	it, err := d.intents.Parse(ctx, text)
	if err != nil {
		return d.fail(sess, "parse update text", err, replyGenericError)
	}
	upd, ok := it.(intent.Update)
	if !ok {
		// Not an update; the user stays in this state and may retry.
		return replyNotAnUpdate
	}

	applyUpdate(sess.Selected, upd)
	if err := d.cal.UpdateEvent(ctx, *sess.Selected); err != nil {
		return d.fail(sess, "update selected event", err, "Sorry, I couldn't update that event. Please try again.")
	}

	summary := sess.Selected.Summary
	sess.reset()
	return fmt.Sprintf("✅ Updated: %s\nEvent has been successfully updated!", summary)
}

// handleFindingFreeSlots runs one custom free-slot search and always
// returns to idle, success or not.
func (d *Dispatcher) handleFindingFreeSlots(ctx context.Context, sess *Session, text string) string {
	defer sess.reset()

	it, err := d.intents.Parse(ctx, text)
	if err != nil {
		appLog.Error("free slot intent parse failed", err)
		return replySlotSearchFailed
	}

	duration := defaultDurationMinutes
	days := defaultListDays
	// The slot-search state reuses create/list shaped intents as its
	// parameter carriers.
	if c, ok := it.(intent.Create); ok && c.DurationMinutes > 0 {
		duration = c.DurationMinutes
	}
	if l, ok := it.(intent.List); ok && l.TimeRangeDays > 0 {
		days = l.TimeRangeDays
	}

	listing, ok := d.freeSlotListing(ctx, duration, days)
	if !ok {
		return replySlotSearchFailed
	}
	return listing
}

// freeSlotListing searches [now, now+days) and formats the result.
// ok is false only on search failure; an empty result is reported as a
// normal reply.
func (d *Dispatcher) freeSlotListing(ctx context.Context, durationMinutes, days int) (string, bool) {
	now := d.clock()
	slots, err := d.sched.FindFreeSlots(ctx, now, now.AddDate(0, 0, days), durationMinutes, d.sched.WorkingHours())
	if err != nil {
		appLog.Error("free slot search failed", err, "duration_minutes", durationMinutes, "days", days)
		return "", false
	}
	if len(slots) == 0 {
		return fmt.Sprintf("No free slots found in the next %d days for %d minute events.", days, durationMinutes), true
	}
	return formatSlots(slots, durationMinutes), true
}

// parseSelection reads a 1-based selection reply. Malformed input is a
// *model.ParseError: recovered locally, never an aborted turn.
func parseSelection(text string) (int, error) {
	n, err := strconv.Atoi(strings.TrimSpace(text))
	if err != nil {
		perr := &model.ParseError{Input: text}
		appLog.Debug("selection not a number", "err", perr.Error())
		return 0, perr
	}
	return n, nil
}

// applyUpdate copies the intent's non-empty fields onto the event.
// A new start without a new duration keeps the original duration by
// recomputing the end; a new duration recomputes the end from the
// (possibly new) start.
func applyUpdate(ev *model.CalendarEvent, it intent.Update) {
	if it.Summary != "" {
		ev.Summary = it.Summary
	}
	if it.Start != nil {
		original := ev.Duration()
		ev.Start = *it.Start
		if it.DurationMinutes <= 0 {
			ev.End = ev.Start.Add(original)
		}
	}
	if it.DurationMinutes > 0 {
		ev.End = ev.Start.Add(time.Duration(it.DurationMinutes) * time.Minute)
	}
	if it.Description != "" {
		ev.Description = it.Description
	}
	if it.Location != "" {
		ev.Location = it.Location
	}
}

// fail logs an external failure at the transition boundary, forces the
// session to idle and returns the given user-facing apology.
func (d *Dispatcher) fail(sess *Session, op string, err error, reply string) string {
	appLog.Error(op+" failed", err)
	sess.reset()
	return reply
}
