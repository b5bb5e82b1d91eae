// Package tasks projects task lists into pseudo calendar events and owns the
// due-time conventions the task upstream relies on.
package tasks

import (
	"regexp"
	"sort"
	"strings"
	"time"

	"calview/internal/model"
)

// EventDuration is the fixed length of a projected task event.
const EventDuration = time.Hour

var (
	markerRe = regexp.MustCompile(`\[due-time\s+([01]?\d|2[0-3]):([0-5]\d)\]`)
	legacyRe = regexp.MustCompile(`(?im)^\s*due time:\s*([01]?\d|2[0-3]):([0-5]\d)\s*$`)
)

// Projector converts tasks into events anchored in Location.
type Projector struct {
	Location *time.Location
}

// Project uses the local zone.
func Project(lists []model.TaskList) []model.CalendarEvent {
	return (&Projector{}).Project(lists)
}

// Project emits one event per task that has a due date and is not
// completed. Output is sorted by start, then ID.
func (p *Projector) Project(lists []model.TaskList) []model.CalendarEvent {
	var out []model.CalendarEvent
	for _, list := range lists {
		for _, task := range list.Tasks {
			if task.Due == nil || task.Completed() {
				continue
			}
			start, explicit := p.dueStart(task)
			out = append(out, model.CalendarEvent{
				ID:              model.TaskEventPrefix + task.ID,
				Title:           task.Title,
				Start:           start,
				End:             start.Add(EventDuration),
				EventType:       model.EventTypeTask,
				HasExplicitTime: &explicit,
				Source:          model.SourceTasks,
				TaskListID:      list.ID,
				Details:         model.Details{Description: StripDueTime(task.Notes)},
			})
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if !out[i].Start.Equal(out[j].Start) {
			return out[i].Start.Before(out[j].Start)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// dueStart resolves when a task's event begins. Precedence: the DueTime
// field, a notes marker, then a due timestamp that is not midnight.
// Anything else is a date-only task placed at local midnight.
func (p *Projector) dueStart(task model.Task) (time.Time, bool) {
	due := *task.Due
	loc := p.location()

	if task.DueTime != nil {
		if hh, mm, ok := parseHHMM(*task.DueTime); ok {
			return onDate(due, hh, mm, loc), true
		}
	}
	if hh, mm, ok := DueTime(task.Notes); ok {
		return onDate(due, hh, mm, loc), true
	}
	if due.Hour() != 0 || due.Minute() != 0 || due.Second() != 0 || due.Nanosecond() != 0 {
		return due.In(loc), true
	}
	return onDate(due, 0, 0, loc), false
}

func (p *Projector) location() *time.Location {
	if p.Location != nil {
		return p.Location
	}
	return time.Local
}

// onDate keeps due's calendar date and sets the wall clock in loc.
func onDate(due time.Time, hh, mm int, loc *time.Location) time.Time {
	y, m, d := due.Date()
	return time.Date(y, m, d, hh, mm, 0, 0, loc)
}

// DueTime extracts an HH:MM marker from task notes.
func DueTime(notes string) (hh, mm int, ok bool) {
	if m := markerRe.FindStringSubmatch(notes); m != nil {
		return atoi2(m[1]), atoi2(m[2]), true
	}
	if m := legacyRe.FindStringSubmatch(notes); m != nil {
		return atoi2(m[1]), atoi2(m[2]), true
	}
	return 0, 0, false
}

// EncodeDueTime returns notes carrying exactly one marker for hhmm.
func EncodeDueTime(notes, hhmm string) string {
	clean := StripDueTime(notes)
	marker := "[due-time " + hhmm + "]"
	if clean == "" {
		return marker
	}
	return clean + "\n" + marker
}

// StripDueTime removes every due-time marker from notes.
func StripDueTime(notes string) string {
	notes = markerRe.ReplaceAllString(notes, "")
	notes = legacyRe.ReplaceAllString(notes, "")
	return strings.TrimSpace(notes)
}

func parseHHMM(s string) (int, int, bool) {
	t, err := time.Parse("15:04", strings.TrimSpace(s))
	if err != nil {
		return 0, 0, false
	}
	return t.Hour(), t.Minute(), true
}

func atoi2(s string) int {
	n := 0
	for _, c := range s {
		n = n*10 + int(c-'0')
	}
	return n
}
