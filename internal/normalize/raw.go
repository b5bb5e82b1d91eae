package normalize

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"

	"calview/internal/model"
)

// EventDate is the union of date shapes upstreams send for start/end:
// a bare ISO string, {"dateTime": ...} or {"date": "YYYY-MM-DD"}.
type EventDate struct {
	Raw      string `json:"-"`
	DateTime string `json:"dateTime,omitempty"`
	Date     string `json:"date,omitempty"`
	TimeZone string `json:"timeZone,omitempty"`
}

// IsZero reports whether no date was supplied in any shape.
func (d *EventDate) IsZero() bool {
	return d == nil || (d.Raw == "" && d.DateTime == "" && d.Date == "")
}

// DateOnly reports whether the {date} shape was used.
func (d *EventDate) DateOnly() bool {
	return d != nil && d.Raw == "" && d.DateTime == "" && d.Date != ""
}

func (d *EventDate) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if bytes.Equal(b, []byte("null")) {
		*d = EventDate{}
		return nil
	}
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*d = EventDate{Raw: s}
		return nil
	}
	type plain EventDate
	var p plain
	if err := json.Unmarshal(b, &p); err != nil {
		return fmt.Errorf("event date: %w", err)
	}
	*d = EventDate(p)
	return nil
}

func (d EventDate) MarshalJSON() ([]byte, error) {
	if d.Raw != "" {
		return json.Marshal(d.Raw)
	}
	type plain EventDate
	return json.Marshal(plain(d))
}

// RawEvent is an event exactly as an upstream delivered it.
type RawEvent struct {
	ID               string             `json:"id"`
	Title            string             `json:"title,omitempty"`
	Summary          string             `json:"summary,omitempty"`
	Start            *EventDate         `json:"start,omitempty"`
	End              *EventDate         `json:"end,omitempty"`
	IsAllDay         bool               `json:"isAllDay,omitempty"`
	EventType        string             `json:"eventType,omitempty"`
	Description      string             `json:"description,omitempty"`
	Location         string             `json:"location,omitempty"`
	Attendees        []model.Attendee   `json:"attendees,omitempty"`
	Attachments      []model.Attachment `json:"attachments,omitempty"`
	RecurringEventID string             `json:"recurringEventId,omitempty"`
	HTMLLink         string             `json:"htmlLink,omitempty"`
}

// FromEvent renders a canonical event back into the raw shape. Normalizing
// the result yields an equivalent event.
func FromEvent(ev model.CalendarEvent) RawEvent {
	raw := RawEvent{
		ID:               ev.ID,
		Title:            ev.Title,
		IsAllDay:         ev.IsAllDay,
		EventType:        string(ev.EventType),
		Description:      ev.Details.Description,
		Location:         ev.Details.Location,
		Attendees:        ev.Details.Attendees,
		Attachments:      ev.Details.Attachments,
		RecurringEventID: ev.Details.RecurringEventID,
		HTMLLink:         ev.Details.HTMLLink,
	}
	if ev.IsAllDay {
		raw.Start = &EventDate{Date: ev.Start.Format(dateLayout)}
		raw.End = &EventDate{Date: ev.End.Format(dateLayout)}
	} else {
		raw.Start = &EventDate{DateTime: ev.Start.Format(time.RFC3339Nano)}
		raw.End = &EventDate{DateTime: ev.End.Format(time.RFC3339Nano)}
	}
	return raw
}
