// Package layout assigns overlapping timed events to side-by-side columns.
package layout

import (
	"sort"
	"strings"
	"time"

	"calview/internal/eventset"
	"calview/internal/model"
	"calview/internal/timerange"
)

const (
	// usableWidth is the share of a day column events may occupy.
	usableWidth = 0.94
	// leftGutter offsets every event from the column's left edge.
	leftGutter = 0.03
)

// WidthPolicy decides how many columns an event's width is divided by.
type WidthPolicy string

const (
	// WidthInstant counts only events starting at the same instant. A long
	// event overlapped by later starters keeps its full width.
	WidthInstant WidthPolicy = "instant"
	// WidthCluster counts every column used by the event's transitive
	// overlap cluster, so no two overlapping events ever draw on top of
	// each other.
	WidthCluster WidthPolicy = "cluster"
)

// ParseWidthPolicy maps config text to a policy, defaulting to WidthInstant.
func ParseWidthPolicy(s string) WidthPolicy {
	if WidthPolicy(strings.ToLower(strings.TrimSpace(s))) == WidthCluster {
		return WidthCluster
	}
	return WidthInstant
}

// Layout runs the default WidthInstant policy.
func Layout(events []model.CalendarEvent) []model.LayoutSlot {
	return WithPolicy(events, WidthInstant)
}

// WithPolicy lays out events. Slots come back ordered by start ascending,
// longer events first on equal starts. The input slice is not modified.
func WithPolicy(events []model.CalendarEvent, policy WidthPolicy) []model.LayoutSlot {
	if len(events) == 0 {
		return []model.LayoutSlot{}
	}

	sorted := make([]model.CalendarEvent, len(events))
	copy(sorted, events)
	sort.SliceStable(sorted, func(i, j int) bool {
		a, b := sorted[i], sorted[j]
		if !a.Start.Equal(b.Start) {
			return a.Start.Before(b.Start)
		}
		if !a.End.Equal(b.End) {
			return a.End.After(b.End)
		}
		return a.ID < b.ID
	})

	slots := make([]model.LayoutSlot, len(sorted))
	var colEnds []time.Time
	for i, ev := range sorted {
		col := -1
		for c, end := range colEnds {
			if !end.After(ev.Start) {
				col = c
				break
			}
		}
		if col == -1 {
			col = len(colEnds)
			colEnds = append(colEnds, ev.End)
		} else {
			colEnds[col] = ev.End
		}
		slots[i] = model.LayoutSlot{Event: ev, Column: col, StackPriority: StackPriority(ev)}
	}

	if policy == WidthCluster {
		clusterWidths(slots)
	} else {
		instantWidths(slots)
	}

	for i := range slots {
		w := usableWidth / float64(slots[i].ColumnsInSlot)
		slots[i].WidthFraction = w
		slots[i].LeftFraction = float64(slots[i].Column)*w + leftGutter
	}
	return slots
}

// instantWidths sets ColumnsInSlot to 1 + the highest column among events
// sharing the exact same start.
func instantWidths(slots []model.LayoutSlot) {
	for i := 0; i < len(slots); {
		j, maxCol := i, 0
		for ; j < len(slots) && slots[j].Event.Start.Equal(slots[i].Event.Start); j++ {
			if slots[j].Column > maxCol {
				maxCol = slots[j].Column
			}
		}
		for k := i; k < j; k++ {
			slots[k].ColumnsInSlot = maxCol + 1
		}
		i = j
	}
}

// clusterWidths sets ColumnsInSlot to 1 + the highest column in the event's
// overlap cluster. Slots must be sorted by start.
func clusterWidths(slots []model.LayoutSlot) {
	for i := 0; i < len(slots); {
		clusterEnd := slots[i].Event.End
		j, maxCol := i, 0
		for ; j < len(slots); j++ {
			ev := slots[j].Event
			if j > i && !ev.Start.Before(clusterEnd) {
				break
			}
			if ev.End.After(clusterEnd) {
				clusterEnd = ev.End
			}
			if slots[j].Column > maxCol {
				maxCol = slots[j].Column
			}
		}
		for k := i; k < j; k++ {
			slots[k].ColumnsInSlot = maxCol + 1
		}
		i = j
	}
}

// StackPriority orders events for z-stacking: higher draws on top.
func StackPriority(ev model.CalendarEvent) int {
	title := strings.ToLower(ev.Title)
	switch {
	case strings.Contains(title, "standup") || strings.Contains(title, "stand-up"):
		return 5
	case strings.Contains(title, "meeting"):
		return 4
	case strings.Contains(title, "review"):
		return 3
	case ev.EventType == model.EventTypeFocusTime || strings.Contains(title, "focus"):
		return 1
	default:
		return 2
	}
}

// DayLayout is one rendered day: all-day events listed apart from timed slots.
type DayLayout struct {
	Date   time.Time             `json:"date"`
	AllDay []model.CalendarEvent `json:"allDay"`
	Slots  []model.LayoutSlot    `json:"slots"`
}

// Day lays out the events of set that touch day.
func Day(set *eventset.Set, day time.Time, policy WidthPolicy) DayLayout {
	out := DayLayout{Date: timerange.StartOfDay(day), AllDay: []model.CalendarEvent{}}
	var timed []model.CalendarEvent
	for _, ev := range set.ForDay(day) {
		if ev.IsAllDay {
			out.AllDay = append(out.AllDay, ev)
			continue
		}
		timed = append(timed, ev)
	}
	out.Slots = WithPolicy(timed, policy)
	return out
}

// Range lays out every day of r.
func Range(set *eventset.Set, r model.Range, policy WidthPolicy) []DayLayout {
	days := timerange.Days(r)
	out := make([]DayLayout, 0, len(days))
	for _, d := range days {
		out = append(out, Day(set, d, policy))
	}
	return out
}
