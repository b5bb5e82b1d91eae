package ics

import (
	"bytes"
	"errors"
	"strconv"
	"strings"
	"time"

	ical "github.com/arran4/golang-ical"

	appLog "calview/internal/log"
)

// vevent is one VEVENT before recurrence expansion.
type vevent struct {
	feed Feed

	uid      string
	sequence int

	summary     string
	description string
	location    string
	url         string

	start  time.Time
	end    time.Time
	allDay bool

	rrule        string
	exdates      []time.Time
	recurrenceID *time.Time
}

func (v vevent) isOverride() bool { return v.recurrenceID != nil }

// parseFeed decodes a calendar body. Broken VEVENTs are logged and skipped.
func parseFeed(feed Feed, body []byte) ([]vevent, error) {
	if len(bytes.TrimSpace(body)) == 0 {
		return nil, errors.New("ics: empty body")
	}
	cal, err := ical.ParseCalendar(bytes.NewReader(body))
	if err != nil {
		return nil, err
	}

	var out []vevent
	for _, comp := range cal.Events() {
		ev, err := parseVEvent(feed, comp)
		if err != nil {
			appLog.Warn("ics vevent skipped", "feed", feed.ID, "err", err.Error())
			continue
		}
		out = append(out, ev)
	}
	return out, nil
}

func parseVEvent(feed Feed, ve *ical.VEvent) (vevent, error) {
	out := vevent{feed: feed}

	uid := ve.GetProperty(ical.ComponentPropertyUniqueId)
	if uid == nil || uid.Value == "" {
		return out, errors.New("missing UID")
	}
	out.uid = uid.Value

	if p := ve.GetProperty(ical.ComponentPropertySequence); p != nil {
		if n, err := strconv.Atoi(strings.TrimSpace(p.Value)); err == nil {
			out.sequence = n
		}
	}
	if p := ve.GetProperty(ical.ComponentPropertySummary); p != nil {
		out.summary = p.Value
	}
	if p := ve.GetProperty(ical.ComponentPropertyDescription); p != nil {
		out.description = p.Value
	}
	if p := ve.GetProperty(ical.ComponentPropertyLocation); p != nil {
		out.location = p.Value
	}
	if p := ve.GetProperty(ical.ComponentPropertyUrl); p != nil {
		out.url = p.Value
	}

	dtStart := ve.GetProperty(ical.ComponentPropertyDtStart)
	if dtStart == nil {
		return out, errors.New("missing DTSTART")
	}
	out.allDay = isDateValue(dtStart)

	start, err := parseICSTime(dtStart.Value, locationOf(dtStart, time.Local))
	if err != nil {
		if start, err = ve.GetStartAt(); err != nil {
			return out, err
		}
	}
	out.start = start

	// DTEND is optional: all-day events default to one day, timed ones to zero length.
	switch dtEnd := ve.GetProperty(ical.ComponentPropertyDtEnd); {
	case dtEnd != nil:
		end, err := parseICSTime(dtEnd.Value, locationOf(dtEnd, start.Location()))
		if err != nil {
			return out, err
		}
		out.end = end
	case out.allDay:
		out.end = start.AddDate(0, 0, 1)
	default:
		out.end = start
	}
	if out.end.Before(out.start) {
		out.end = out.start
	}

	if p := ve.GetProperty(ical.ComponentPropertyRrule); p != nil {
		out.rrule = p.Value
	}
	for _, p := range ve.GetProperties(ical.ComponentPropertyExdate) {
		loc := locationOf(p, start.Location())
		for _, part := range strings.Split(p.Value, ",") {
			if t, err := parseICSTime(part, loc); err == nil {
				out.exdates = append(out.exdates, t)
			}
		}
	}
	if p := ve.GetProperty(ical.ComponentProperty(ical.PropertyRecurrenceId)); p != nil {
		if t, err := parseICSTime(p.Value, locationOf(p, start.Location())); err == nil {
			out.recurrenceID = &t
		}
	}
	return out, nil
}

// isDateValue reports VALUE=DATE or a bare YYYYMMDD value.
func isDateValue(p *ical.IANAProperty) bool {
	if vs, ok := p.ICalParameters["VALUE"]; ok && len(vs) > 0 && strings.EqualFold(vs[0], "DATE") {
		return true
	}
	return !strings.Contains(p.Value, "T")
}

// locationOf resolves a TZID parameter, falling back to def.
func locationOf(p *ical.IANAProperty, def *time.Location) *time.Location {
	if tz, ok := p.ICalParameters["TZID"]; ok && len(tz) > 0 {
		if loc, err := time.LoadLocation(tz[0]); err == nil {
			return loc
		}
	}
	return def
}

// parseICSTime handles the DATE, local DATE-TIME and UTC DATE-TIME forms.
func parseICSTime(v string, loc *time.Location) (time.Time, error) {
	v = strings.TrimSpace(v)
	switch {
	case v == "":
		return time.Time{}, errors.New("empty time value")
	case strings.HasSuffix(v, "Z"):
		return time.Parse("20060102T150405Z", v)
	case strings.Contains(v, "T"):
		return time.ParseInLocation("20060102T150405", v, loc)
	default:
		return time.ParseInLocation("20060102", v, loc)
	}
}
