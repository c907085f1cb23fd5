package bot

import (
	"fmt"
	"strings"
	"time"

	"timemgr/internal/model"
)

// formatEvent renders one event for a chat reply, optionally with its
// 1-based list number.
func formatEvent(ev model.CalendarEvent, index int, includeNumber bool) string {
	var b strings.Builder

	if includeNumber && index > 0 {
		fmt.Fprintf(&b, "%d. %s\n", index, ev.Summary)
	} else {
		fmt.Fprintf(&b, "%s\n", ev.Summary)
	}
	fmt.Fprintf(&b, "   📅 %s - %s\n",
		ev.Start.Format("Monday, January 2 at 3:04 PM"),
		ev.End.Format("3:04 PM"))

	if ev.Location != "" {
		fmt.Fprintf(&b, "   📍 %s\n", ev.Location)
	}
	if ev.Description != "" {
		desc := ev.Description
		if len(desc) > 50 {
			desc = desc[:47] + "..."
		}
		fmt.Fprintf(&b, "   📝 %s\n", desc)
	}

	b.WriteString("\n")
	return b.String()
}

// formatEventList renders a header plus every event, numbered.
func formatEventList(header string, events []model.CalendarEvent) string {
	var b strings.Builder
	b.WriteString(header)
	b.WriteString("\n\n")
	for i, ev := range events {
		b.WriteString(formatEvent(ev, i+1, true))
	}
	return strings.TrimRight(b.String(), "\n")
}

// enumerateSummaries renders a compact numbered list of summaries, used
// when re-prompting after an unresolved reference.
func enumerateSummaries(events []model.CalendarEvent) string {
	var b strings.Builder
	for i, ev := range events {
		fmt.Fprintf(&b, "\n%d. %s", i+1, ev.Summary)
	}
	return b.String()
}

// formatSlots renders free-slot start times grouped by day, keeping
// the earliest-first order within and across days.
func formatSlots(slots []time.Time, durationMinutes int) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Available time slots for %d minute events:\n", durationMinutes)

	lastDay := ""
	for _, s := range slots {
		day := s.Format("2006-01-02")
		if day != lastDay {
			fmt.Fprintf(&b, "\n%s:\n", s.Format("Monday, January 2"))
			lastDay = day
		}
		fmt.Fprintf(&b, "  • %s\n", s.Format("3:04 PM"))
	}
	return strings.TrimRight(b.String(), "\n")
}
