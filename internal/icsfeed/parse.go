// Package icsfeed folds subscribed read-only ICS calendars into the
// scheduler's busy index, so free-slot search also avoids time blocked
// in external calendars.
package icsfeed

import (
	"bytes"
	"errors"
	"time"

	ical "github.com/arran4/golang-ical"

	appLog "timemgr/internal/log"
)

// Source is a single ICS subscription.
type Source struct {
	ID  string
	URL string
}

// feedEvent is the normalized VEVENT form that expansion operates on.
type feedEvent struct {
	uid      string
	summary  string
	start    time.Time
	end      time.Time
	allDay   bool
	rawRRule string
}

// parseFeed parses one ICS payload into feedEvents. Individual broken
// VEVENTs are logged and skipped so one bad entry does not poison the
// whole feed.
func parseFeed(src Source, body []byte) ([]feedEvent, error) {
	if len(body) == 0 {
		return nil, errors.New("empty ICS body")
	}

	cal, err := ical.ParseCalendar(bytes.NewReader(body))
	if err != nil {
		return nil, err
	}

	events := make([]feedEvent, 0)
	for _, ve := range cal.Events() {
		ev, perr := parseVEvent(ve)
		if perr != nil {
			appLog.Warn("icsfeed: skipping vevent", "id", src.ID, "reason", perr.Error())
			continue
		}
		events = append(events, ev)
	}

	appLog.Debug("icsfeed: parsed", "id", src.ID, "event_count", len(events))
	return events, nil
}

func parseVEvent(ve *ical.VEvent) (feedEvent, error) {
	var out feedEvent

	uidProp := ve.GetProperty(ical.ComponentPropertyUniqueId)
	if uidProp == nil || uidProp.Value == "" {
		return out, errors.New("missing UID")
	}
	out.uid = uidProp.Value

	if p := ve.GetProperty(ical.ComponentPropertySummary); p != nil {
		out.summary = p.Value
	}

	start, err := ve.GetStartAt()
	if err != nil {
		return out, errors.New("missing or invalid DTSTART")
	}
	end, err := ve.GetEndAt()
	if err != nil {
		// No DTEND; busy blocks need a span, assume one hour.
		end = start.Add(time.Hour)
	}
	out.start = start
	out.end = end

	// All-day events carry a DATE (no time-of-day) DTSTART.
	if p := ve.GetProperty(ical.ComponentPropertyDtStart); p != nil {
		if vs, ok := p.ICalParameters["VALUE"]; ok && len(vs) > 0 && vs[0] == "DATE" {
			out.allDay = true
		} else if !bytes.ContainsRune([]byte(p.Value), 'T') {
			out.allDay = true
		}
	}

	if p := ve.GetProperty(ical.ComponentPropertyRrule); p != nil {
		out.rawRRule = p.Value
	}

	if !out.start.Before(out.end) {
		return out, errors.New("non-positive event span")
	}
	return out, nil
}
