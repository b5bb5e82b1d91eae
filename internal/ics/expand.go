package ics

import (
	"sort"
	"strings"
	"time"

	"github.com/teambition/rrule-go"

	appLog "calview/internal/log"
	"calview/internal/model"
	"calview/internal/normalize"
)

const defaultMaxOccurrences = 5000

// expander turns parsed VEVENTs into concrete events for one window.
type expander struct {
	loc            *time.Location
	window         model.Range
	maxOccurrences int
}

func (x expander) expand(events []vevent) []model.CalendarEvent {
	if x.loc == nil {
		x.loc = time.Local
	}
	if x.maxOccurrences <= 0 {
		x.maxOccurrences = defaultMaxOccurrences
	}

	bases := make(map[string][]vevent)
	overrides := make(map[string]map[int64]vevent)
	for _, ev := range events {
		if ev.isOverride() {
			byStart := overrides[ev.uid]
			if byStart == nil {
				byStart = make(map[int64]vevent)
				overrides[ev.uid] = byStart
			}
			// Higher SEQUENCE wins when a feed repeats an override.
			key := ev.recurrenceID.UnixNano()
			if prev, ok := byStart[key]; !ok || ev.sequence >= prev.sequence {
				byStart[key] = ev
			}
			continue
		}
		bases[ev.uid] = append(bases[ev.uid], ev)
	}

	var out []model.CalendarEvent
	for uid, evs := range bases {
		for _, ev := range evs {
			if ev.rrule == "" {
				if o, ok := overrides[uid][ev.start.UnixNano()]; ok {
					ev = o
				}
				if x.overlaps(ev.start, ev.end) {
					out = append(out, x.toEvent(ev, ev.start, ev.end, ""))
				}
				continue
			}
			out = append(out, x.recurring(ev, overrides[uid])...)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].Start.Equal(out[j].Start) {
			return out[i].Start.Before(out[j].Start)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

func (x expander) recurring(ev vevent, overrides map[int64]vevent) []model.CalendarEvent {
	rule, err := rrule.StrToRRule(ev.rrule)
	if err != nil {
		appLog.Error("ics rrule parse failed", err, "feed", ev.feed.ID, "uid", ev.uid)
		return nil
	}
	rule.DTStart(ev.start)

	var set rrule.Set
	set.RRule(rule)
	for _, ex := range ev.exdates {
		set.ExDate(ex.In(ev.start.Location()))
	}

	dur := ev.end.Sub(ev.start)
	// Occurrences that start before the window but run into it still count.
	from := x.window.Start.Add(-dur).In(ev.start.Location())
	to := x.window.End.In(ev.start.Location())
	starts := set.Between(from, to, true)
	if len(starts) > x.maxOccurrences {
		appLog.Warn("ics occurrences truncated", "feed", ev.feed.ID, "uid", ev.uid, "cap", x.maxOccurrences)
		starts = starts[:x.maxOccurrences]
	}

	out := make([]model.CalendarEvent, 0, len(starts))
	for _, s := range starts {
		occ, start, end := ev, s, s.Add(dur)
		if o, ok := overrides[s.UnixNano()]; ok {
			occ, start, end = o, o.start, o.end
		}
		if !x.overlaps(start, end) {
			continue
		}
		e := x.toEvent(occ, start, end, s.UTC().Format("20060102T150405Z"))
		e.Details.RecurringEventID = ev.feed.ID + "/" + ev.uid
		out = append(out, e)
	}
	return out
}

func (x expander) overlaps(start, end time.Time) bool {
	if end.Equal(start) {
		return x.window.Contains(start)
	}
	return !start.After(x.window.End) && end.After(x.window.Start)
}

// toEvent builds the event; instance names the original occurrence start of
// a recurring series so moved instances keep their ID.
func (x expander) toEvent(ev vevent, start, end time.Time, instance string) model.CalendarEvent {
	id := ev.feed.ID + "/" + ev.uid
	if instance != "" {
		id += "/" + instance
	}
	if ev.allDay {
		start = x.midnight(start)
		end = x.midnight(end)
		if !end.After(start) {
			end = start.AddDate(0, 0, 1)
		}
	} else {
		start = start.In(x.loc)
		end = end.In(x.loc)
	}
	title := strings.TrimSpace(ev.summary)
	if title == "" {
		title = "(no title)"
	}
	return model.CalendarEvent{
		ID:        id,
		Title:     title,
		Start:     start,
		End:       end,
		IsAllDay:  ev.allDay,
		EventType: normalize.InferType(title),
		Source:    "ics:" + ev.feed.ID,
		Details: model.Details{
			Description: ev.description,
			Location:    ev.location,
			HTMLLink:    ev.url,
		},
	}
}

// midnight keeps the calendar date of t and re-anchors it in the display zone.
func (x expander) midnight(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, x.loc)
}
