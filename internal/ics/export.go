package ics

import (
	"strings"
	"time"

	ical "github.com/arran4/golang-ical"
	"github.com/google/uuid"

	"calview/internal/model"
)

const productID = "-//calview//calview//EN"

// Export renders events as a VCALENDAR document. Events without an ID get a
// random UID.
func Export(events []model.CalendarEvent, stamp time.Time) string {
	cal := ical.NewCalendar()
	cal.SetMethod(ical.MethodPublish)
	cal.SetProductId(productID)

	for _, ev := range events {
		uid := ev.ID
		if uid == "" {
			uid = uuid.NewString()
		}
		if !strings.Contains(uid, "@") {
			uid += "@calview"
		}
		out := cal.AddEvent(uid)
		out.SetDtStampTime(stamp.UTC())
		out.SetSummary(ev.Title)
		if ev.IsAllDay {
			out.SetAllDayStartAt(ev.Start)
			end := ev.End
			if !end.After(ev.Start) {
				end = ev.Start.AddDate(0, 0, 1)
			}
			out.SetAllDayEndAt(end)
		} else {
			out.SetStartAt(ev.Start.UTC())
			out.SetEndAt(ev.End.UTC())
		}
		if ev.Details.Description != "" {
			out.SetDescription(ev.Details.Description)
		}
		if ev.Details.Location != "" {
			out.SetLocation(ev.Details.Location)
		}
		if ev.Details.HTMLLink != "" {
			out.SetURL(ev.Details.HTMLLink)
		}
		if ev.IsTask() {
			out.AddProperty(ical.ComponentPropertyCategories, "TASK")
		}
	}
	return cal.Serialize()
}
