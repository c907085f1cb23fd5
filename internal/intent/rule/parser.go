// Package rule implements the intent port with a deterministic regex
// grammar. It recognizes the time expressions the assistant's users
// actually type (today, tomorrow, "at 2pm", "from 9 to 11", "for 30
// minutes", "every week", "3 times") without calling any model.
package rule

import (
	"context"
	"regexp"
	"strconv"
	"strings"
	"time"

	"timemgr/internal/intent"
	"timemgr/internal/model"
)

var (
	reAtTime     = regexp.MustCompile(`(?i)\bat\s+(\d{1,2})(?::(\d{2}))?\s*(am|pm)?\b`)
	reFromTo     = regexp.MustCompile(`(?i)\bfrom\s+(\d{1,2})(?::(\d{2}))?\s*(am|pm)?\s+to\s+(\d{1,2})(?::(\d{2}))?\s*(am|pm)?\b`)
	reDuration   = regexp.MustCompile(`(?i)\bfor\s+(\d+)\s+(minute|minutes|hour|hours)\b`)
	reRecurrence = regexp.MustCompile(`(?i)\b(every|each)\s+(day|week|month)\b`)
	reRecCount   = regexp.MustCompile(`(?i)\b(\d+)\s+times\b`)
	reNextDays   = regexp.MustCompile(`(?i)\bnext\s+(\d+)\s+days?\b`)
	reBareInt    = regexp.MustCompile(`\b(\d+)\b`)
	reLocation   = regexp.MustCompile(`(?i)\b(?:at|in)\s+([a-z][^,.\d]*?)(?:\s+on\b|\s+at\b|\s+from\b|\s+for\b|\s+every\b|\s+each\b|$|[,.])`)
)

// timeKeywords mark where the free-text summary ends.
var timeKeywords = []string{
	"today", "tomorrow", "next week", "next month",
	" at ", " from ", " on ", " for ", " every ", " each ",
}

// Parser implements intent.Port. The clock is injected so relative
// expressions ("tomorrow") resolve deterministically under test.
type Parser struct {
	clock func() time.Time
}

// New builds a Parser; a nil clock means time.Now.
func New(clock func() time.Time) *Parser {
	if clock == nil {
		clock = time.Now
	}
	return &Parser{clock: clock}
}

// Parse classifies the message and extracts the matching intent's
// fields. It never fails: unrecognizable input becomes a Fallback.
func (p *Parser) Parse(_ context.Context, text string) (intent.Intent, error) {
	trimmed := strings.TrimSpace(text)
	lower := strings.ToLower(trimmed)

	switch {
	case containsAny(lower, "delete", "remove"):
		return p.parseDelete(lower), nil
	case containsAny(lower, "update", "change", "move", "reschedule", "rename"):
		return p.parseUpdate(trimmed, lower), nil
	case containsAny(lower, "show", "list", "my schedule", "what's on", "agenda", "upcoming"):
		return p.parseList(lower), nil
	}

	return p.parseCreate(trimmed, lower), nil
}

func (p *Parser) parseCreate(text, lower string) intent.Intent {
	summary := summaryBeforeTimeKeyword(text, lower)
	if summary == "" {
		return intent.Fallback{
			Response: "I'm not sure what you want to do. You can create an event, " +
				"update an event with /update, delete an event with /delete, " +
				"or view your schedule with /schedule.",
		}
	}

	start, end, duration := p.extractTimes(lower)
	freq, count := extractRecurrence(lower)

	return intent.Create{
		Summary:         summary,
		Start:           start,
		End:             end,
		DurationMinutes: duration,
		Location:        extractLocation(text),
		Recurrence:      freq,
		RecurrenceCount: count,
	}
}

func (p *Parser) parseUpdate(text, lower string) intent.Intent {
	upd := intent.Update{}

	start, _, duration := p.extractTimes(lower)
	upd.Start = start
	upd.DurationMinutes = duration

	// "change title to X" / "rename to X" set the new summary.
	if m := regexp.MustCompile(`(?i)\b(?:title|name|summary)\s+to\s+(.+)$`).FindStringSubmatch(text); m != nil {
		upd.Summary = strings.TrimSpace(m[1])
	}
	if m := regexp.MustCompile(`(?i)\blocation\s+to\s+(.+)$`).FindStringSubmatch(text); m != nil {
		upd.Location = strings.TrimSpace(m[1])
	}

	// The words between the verb and the first time keyword name the
	// target event ("move the team meeting to ..."). Phrases like
	// "title to X" are field changes, not event names.
	if name := targetEventName(lower); name != "" && !strings.Contains(name, " to ") {
		upd.EventName = name
	}
	return upd
}

func (p *Parser) parseDelete(lower string) intent.Intent {
	del := intent.Delete{}
	if m := reBareInt.FindStringSubmatch(lower); m != nil {
		if n, err := strconv.Atoi(m[1]); err == nil {
			del.Selection = n
		}
	}
	return del
}

func (p *Parser) parseList(lower string) intent.Intent {
	days := 7
	if m := reNextDays.FindStringSubmatch(lower); m != nil {
		if n, err := strconv.Atoi(m[1]); err == nil && n > 0 {
			days = n
		}
	} else if strings.Contains(lower, "next week") {
		days = 7
	} else if strings.Contains(lower, "next month") {
		days = 30
	}
	return intent.List{TimeRangeDays: days}
}

// extractTimes pulls a start (and possibly end) time plus duration in
// minutes out of the message. Zero duration means unspecified.
func (p *Parser) extractTimes(lower string) (*time.Time, *time.Time, int) {
	now := p.clock()

	var start, end *time.Time
	duration := 0

	base := now
	switch {
	case strings.Contains(lower, "today"):
		s := at(now, 9, 0)
		start = &s
	case strings.Contains(lower, "tomorrow"):
		base = now.AddDate(0, 0, 1)
		s := at(base, 9, 0)
		start = &s
	case strings.Contains(lower, "next week"):
		daysUntilMonday := (8 - int(now.Weekday())) % 7
		if daysUntilMonday == 0 {
			daysUntilMonday = 7
		}
		base = now.AddDate(0, 0, daysUntilMonday)
		s := at(base, 9, 0)
		start = &s
	case strings.Contains(lower, "next month"):
		base = time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, now.Location()).AddDate(0, 1, 0)
		s := at(base, 9, 0)
		start = &s
	}

	if m := reFromTo.FindStringSubmatch(lower); m != nil {
		sh := clockHour(m[1], m[3])
		sm := clockMinute(m[2])
		eh := clockHour(m[4], m[6])
		em := clockMinute(m[5])

		s := at(base, sh, sm)
		e := at(base, eh, em)
		if s.Before(now) {
			s = s.AddDate(0, 0, 1)
			e = e.AddDate(0, 0, 1)
		}
		start, end = &s, &e
		duration = int(e.Sub(s).Minutes())
	} else if m := reAtTime.FindStringSubmatch(lower); m != nil {
		h := clockHour(m[1], m[3])
		mnt := clockMinute(m[2])
		s := at(base, h, mnt)
		if s.Before(now) {
			s = s.AddDate(0, 0, 1)
		}
		start = &s
	}

	if m := reDuration.FindStringSubmatch(lower); m != nil {
		n, _ := strconv.Atoi(m[1])
		if strings.HasPrefix(strings.ToLower(m[2]), "hour") {
			duration = n * 60
		} else {
			duration = n
		}
	}

	return start, end, duration
}

func extractRecurrence(lower string) (model.RecurrenceFrequency, int) {
	m := reRecurrence.FindStringSubmatch(lower)
	if m == nil {
		return model.RecurrenceNone, 0
	}
	freq, err := model.ParseRecurrenceFrequency(m[2])
	if err != nil {
		return model.RecurrenceNone, 0
	}

	count := 4 // default when the user names no count
	if cm := reRecCount.FindStringSubmatch(lower); cm != nil {
		if n, err := strconv.Atoi(cm[1]); err == nil {
			count = n
		}
	}
	return freq, count
}

func extractLocation(text string) string {
	m := reLocation.FindStringSubmatch(text)
	if m == nil {
		return ""
	}
	return strings.TrimSpace(m[1])
}

// summaryBeforeTimeKeyword takes everything before the first time
// keyword as the event summary, stripping a leading scheduling verb.
func summaryBeforeTimeKeyword(text, lower string) string {
	cut := len(text)
	for _, kw := range timeKeywords {
		if pos := strings.Index(lower, kw); pos >= 0 && pos < cut {
			cut = pos
		}
	}
	summary := strings.TrimSpace(text[:cut])
	for _, verb := range []string{"schedule", "create", "set up", "add", "book"} {
		if strings.HasPrefix(strings.ToLower(summary), verb+" ") {
			summary = strings.TrimSpace(summary[len(verb):])
			break
		}
	}
	summary = strings.TrimPrefix(summary, "a ")
	summary = strings.TrimPrefix(summary, "an ")
	return strings.TrimSpace(summary)
}

func targetEventName(lower string) string {
	for _, verb := range []string{"update", "change", "move", "reschedule", "rename"} {
		pos := strings.Index(lower, verb)
		if pos < 0 {
			continue
		}
		rest := lower[pos+len(verb):]
		cut := len(rest)
		for _, kw := range timeKeywords {
			if kpos := strings.Index(rest, kw); kpos >= 0 && kpos < cut {
				cut = kpos
			}
		}
		name := strings.TrimSpace(rest[:cut])
		name = strings.TrimPrefix(name, "the ")
		name = strings.TrimSuffix(name, " to")
		if name != "" {
			return strings.TrimSpace(name)
		}
	}
	return ""
}

func at(base time.Time, hour, minute int) time.Time {
	return time.Date(base.Year(), base.Month(), base.Day(), hour, minute, 0, 0, base.Location())
}

func clockHour(h, amPM string) int {
	n, _ := strconv.Atoi(h)
	switch strings.ToLower(amPM) {
	case "pm":
		if n < 12 {
			n += 12
		}
	case "am":
		if n == 12 {
			n = 0
		}
	}
	return n
}

func clockMinute(m string) int {
	if m == "" {
		return 0
	}
	n, _ := strconv.Atoi(m)
	return n
}

func containsAny(s string, subs ...string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}
