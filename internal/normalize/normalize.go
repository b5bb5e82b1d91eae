// Package normalize turns upstream event payloads into model.CalendarEvent.
// It never fails on a single record: malformed fields degrade to defaults and
// are reported as anomalies.
package normalize

import (
	"errors"
	"strings"
	"time"

	appLog "calview/internal/log"
	"calview/internal/model"
)

const dateLayout = "2006-01-02"

// DefaultDuration is applied when an event has no end.
const DefaultDuration = time.Hour

var errUnparseable = errors.New("unparseable date")

// Anomaly describes one field that could not be taken at face value.
type Anomaly struct {
	EventID string
	Field   string
	Value   string
	Reason  string
}

// Normalizer holds the clock and zone used to resolve ambiguous input.
type Normalizer struct {
	// Now substitutes for unparseable dates. Defaults to time.Now.
	Now func() time.Time
	// Location interprets zone-less timestamps and {date} values. Defaults to time.Local.
	Location *time.Location
}

// New returns a Normalizer bound to loc.
func New(loc *time.Location) *Normalizer {
	return &Normalizer{Now: time.Now, Location: loc}
}

var defaultNormalizer = &Normalizer{}

// Normalize converts raw with the process defaults.
func Normalize(raw RawEvent) (model.CalendarEvent, []Anomaly) {
	return defaultNormalizer.Normalize(raw)
}

// Normalize converts raw into a canonical event.
func (n *Normalizer) Normalize(raw RawEvent) (model.CalendarEvent, []Anomaly) {
	var anomalies []Anomaly
	note := func(field, value, reason string) {
		anomalies = append(anomalies, Anomaly{EventID: raw.ID, Field: field, Value: value, Reason: reason})
	}

	ev := model.CalendarEvent{
		ID:       raw.ID,
		Title:    raw.Title,
		IsAllDay: raw.IsAllDay,
		Source:   model.SourceCalendar,
		Details: model.Details{
			Description:      raw.Description,
			Location:         raw.Location,
			Attendees:        raw.Attendees,
			Attachments:      raw.Attachments,
			RecurringEventID: raw.RecurringEventID,
			HTMLLink:         raw.HTMLLink,
		},
	}
	if ev.Title == "" {
		ev.Title = raw.Summary
	}

	start, err := n.parseDate(raw.Start)
	if err != nil {
		note("start", describe(raw.Start), err.Error())
		start = n.now()
	}
	if raw.Start.DateOnly() {
		ev.IsAllDay = true
	}
	ev.Start = start

	switch {
	case raw.End.IsZero():
		ev.End = start.Add(DefaultDuration)
		if ev.IsAllDay {
			ev.End = start.AddDate(0, 0, 1)
		}
	default:
		end, err := n.parseDate(raw.End)
		if err != nil {
			note("end", describe(raw.End), err.Error())
			end = start.Add(DefaultDuration)
		}
		if raw.End.DateOnly() {
			ev.IsAllDay = true
		}
		ev.End = end
	}

	if ev.End.Before(ev.Start) {
		note("end", ev.End.Format(time.RFC3339), "end before start; clamped to start")
		ev.End = ev.Start
	}

	ev.EventType = model.EventType(raw.EventType)
	if !ev.EventType.Known() {
		note("eventType", raw.EventType, "unknown event type; inferred from title")
		ev.EventType = model.EventTypeUnset
	}
	if ev.EventType == model.EventTypeUnset {
		ev.EventType = InferType(ev.Title)
	}

	for _, a := range anomalies {
		appLog.Warn("event normalization anomaly", "event_id", a.EventID, "field", a.Field, "value", a.Value, "reason", a.Reason)
	}
	return ev, anomalies
}

// NormalizeAll converts a batch, dropping nothing.
func (n *Normalizer) NormalizeAll(raws []RawEvent) []model.CalendarEvent {
	out := make([]model.CalendarEvent, 0, len(raws))
	count := 0
	for _, raw := range raws {
		ev, anomalies := n.Normalize(raw)
		count += len(anomalies)
		out = append(out, ev)
	}
	if count > 0 {
		appLog.Info("normalized events with anomalies", "events", len(raws), "anomalies", count)
	}
	return out
}

// InferType guesses an event type from its title. Only used when the
// upstream did not supply one.
func InferType(title string) model.EventType {
	if strings.Contains(strings.ToLower(title), "focus") {
		return model.EventTypeFocusTime
	}
	return model.EventTypeDefault
}

func (n *Normalizer) now() time.Time {
	if n.Now != nil {
		return n.Now()
	}
	return time.Now()
}

func (n *Normalizer) location() *time.Location {
	if n.Location != nil {
		return n.Location
	}
	return time.Local
}

func (n *Normalizer) parseDate(d *EventDate) (time.Time, error) {
	if d.IsZero() {
		return time.Time{}, errUnparseable
	}
	if d.DateOnly() {
		return time.ParseInLocation(dateLayout, strings.TrimSpace(d.Date), n.zoneFor(d))
	}
	v := d.Raw
	if v == "" {
		v = d.DateTime
	}
	return parseTimestamp(strings.TrimSpace(v), n.zoneFor(d))
}

// ParseDate reads a single value without the fallbacks Normalize applies.
// Used for user input, which is rejected rather than repaired.
func (n *Normalizer) ParseDate(d *EventDate) (time.Time, error) {
	return n.parseDate(d)
}

func (n *Normalizer) zoneFor(d *EventDate) *time.Location {
	if d != nil && d.TimeZone != "" {
		if loc, err := time.LoadLocation(d.TimeZone); err == nil {
			return loc
		}
	}
	return n.location()
}

// parseTimestamp accepts the ISO-8601 variants seen from upstreams. Layouts
// without an offset are read in loc.
func parseTimestamp(v string, loc *time.Location) (time.Time, error) {
	if v == "" {
		return time.Time{}, errUnparseable
	}
	for _, layout := range []string{time.RFC3339Nano, "2006-01-02T15:04:05Z0700", "2006-01-02T15:04Z07:00"} {
		if t, err := time.Parse(layout, v); err == nil {
			return t, nil
		}
	}
	for _, layout := range []string{"2006-01-02T15:04:05.999999999", "2006-01-02T15:04:05", "2006-01-02T15:04", "2006-01-02 15:04:05", dateLayout} {
		if t, err := time.ParseInLocation(layout, v, loc); err == nil {
			return t, nil
		}
	}
	return time.Time{}, errUnparseable
}

func describe(d *EventDate) string {
	switch {
	case d.IsZero():
		return ""
	case d.Raw != "":
		return d.Raw
	case d.DateTime != "":
		return d.DateTime
	default:
		return d.Date
	}
}
