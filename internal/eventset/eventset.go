// Package eventset merges calendar events and projected tasks into one
// read-only collection indexed for range queries.
package eventset

import (
	"sort"
	"time"

	"github.com/rdleal/intervalst/interval"

	appLog "calview/internal/log"
	"calview/internal/model"
	"calview/internal/tasks"
	"calview/internal/timerange"
)

// Set is immutable once built. Accessors return copies.
type Set struct {
	events []model.CalendarEvent
	byID   map[string]int
	tree   *interval.SearchTree[[]int, time.Time]
}

type span struct {
	start, end time.Time
}

// key compares spans by instant; time.Time map keys would also compare locations.
func (k span) key() [2]int64 {
	return [2]int64{k.start.UnixNano(), k.end.UnixNano()}
}

// Build returns calendar ∪ projected tasks. When two events share an ID the
// first one wins and the collision is logged. p may be nil.
func Build(calendar []model.CalendarEvent, lists []model.TaskList, p *tasks.Projector) *Set {
	if p == nil {
		p = &tasks.Projector{}
	}
	projected := p.Project(lists)

	all := make([]model.CalendarEvent, 0, len(calendar)+len(projected))
	seen := make(map[string]struct{}, cap(all))
	for _, group := range [][]model.CalendarEvent{calendar, projected} {
		for _, ev := range group {
			if _, dup := seen[ev.ID]; dup {
				appLog.Warn("unified event set id collision; keeping first", "event_id", ev.ID, "source", ev.Source)
				continue
			}
			seen[ev.ID] = struct{}{}
			all = append(all, ev)
		}
	}
	return newSet(all)
}

// FromEvents indexes events that are already unified.
func FromEvents(events []model.CalendarEvent) *Set {
	cp := make([]model.CalendarEvent, len(events))
	copy(cp, events)
	return newSet(cp)
}

func newSet(events []model.CalendarEvent) *Set {
	sort.SliceStable(events, func(i, j int) bool {
		a, b := events[i], events[j]
		if !a.Start.Equal(b.Start) {
			return a.Start.Before(b.Start)
		}
		if !a.End.Equal(b.End) {
			return a.End.After(b.End)
		}
		return a.ID < b.ID
	})

	s := &Set{
		events: events,
		byID:   make(map[string]int, len(events)),
		tree:   interval.NewSearchTree[[]int](func(x, y time.Time) int { return x.Compare(y) }),
	}

	// The tree keeps one value per interval, so identical spans are grouped.
	groups := make(map[[2]int64][]int)
	var order []span
	for i, ev := range events {
		s.byID[ev.ID] = i
		k := treeSpan(ev)
		if _, ok := groups[k.key()]; !ok {
			order = append(order, k)
		}
		groups[k.key()] = append(groups[k.key()], i)
	}
	for _, k := range order {
		if err := s.tree.Insert(k.start, k.end, groups[k.key()]); err != nil {
			appLog.Error("event index insert failed", err, "start", k.start, "end", k.end)
		}
	}
	return s
}

// treeSpan widens zero-length events by a nanosecond so the tree accepts them.
func treeSpan(ev model.CalendarEvent) span {
	end := ev.End
	if !end.After(ev.Start) {
		end = ev.Start.Add(time.Nanosecond)
	}
	return span{start: ev.Start, end: end}
}

// Len is the number of unified events.
func (s *Set) Len() int { return len(s.events) }

// All returns every event ordered by start, longer first on ties.
func (s *Set) All() []model.CalendarEvent {
	out := make([]model.CalendarEvent, len(s.events))
	copy(out, s.events)
	return out
}

// Get looks an event up by ID.
func (s *Set) Get(id string) (model.CalendarEvent, bool) {
	i, ok := s.byID[id]
	if !ok {
		return model.CalendarEvent{}, false
	}
	return s.events[i], true
}

// Between returns events intersecting the half-open window [from, to).
// Zero-length events count when their instant lies in the window.
func (s *Set) Between(from, to time.Time) []model.CalendarEvent {
	if len(s.events) == 0 || !to.After(from) {
		return nil
	}
	hits, ok := s.tree.AllIntersections(from, to)
	if !ok {
		return nil
	}
	var idx []int
	for _, group := range hits {
		for _, i := range group {
			ev := s.events[i]
			if overlapsHalfOpen(ev, from, to) {
				idx = append(idx, i)
			}
		}
	}
	sort.Ints(idx)
	out := make([]model.CalendarEvent, 0, len(idx))
	for _, i := range idx {
		out = append(out, s.events[i])
	}
	return out
}

// ForDay returns events touching the calendar day of day, in day's location.
func (s *Set) ForDay(day time.Time) []model.CalendarEvent {
	start := timerange.StartOfDay(day)
	return s.Between(start, start.AddDate(0, 0, 1))
}

// InRange returns events touching the closed range r.
func (s *Set) InRange(r model.Range) []model.CalendarEvent {
	return s.Between(r.Start, r.End.Add(time.Nanosecond))
}

func overlapsHalfOpen(ev model.CalendarEvent, from, to time.Time) bool {
	if ev.End.Equal(ev.Start) {
		return !ev.Start.Before(from) && ev.Start.Before(to)
	}
	return ev.Start.Before(to) && ev.End.After(from)
}
