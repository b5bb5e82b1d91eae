// Package timerange maps a view mode and an anchor date to the closed time
// window that view shows. All computations happen in the anchor's location.
package timerange

import (
	"time"

	"calview/internal/model"
)

// lastMilli is the inclusive end-of-day offset used by every range.
const lastMilli = 999 * time.Millisecond

// Resolve returns the window the given mode displays around anchor.
//
//   - day:   [00:00, 23:59:59.999] of anchor's day
//   - week:  Sunday 00:00 through Saturday 23:59:59.999
//   - month: first day 00:00 through last day 23:59:59.999
//   - all:   anchor minus one year through anchor plus one year
//
// Unknown modes resolve like week.
func Resolve(mode model.ViewMode, anchor time.Time) model.Range {
	switch mode {
	case model.ViewDay:
		return model.Range{Start: StartOfDay(anchor), End: EndOfDay(anchor)}
	case model.ViewMonth:
		first := time.Date(anchor.Year(), anchor.Month(), 1, 0, 0, 0, 0, anchor.Location())
		last := first.AddDate(0, 1, -1)
		return model.Range{Start: first, End: EndOfDay(last)}
	case model.ViewAll:
		return model.Range{Start: anchor.AddDate(-1, 0, 0), End: anchor.AddDate(1, 0, 0)}
	default:
		sunday, saturday := WeekRange(anchor)
		return model.Range{Start: sunday, End: saturday}
	}
}

// Step moves anchor by delta units of mode: days for day, 7-day blocks for
// week, calendar months for month and years for all.
func Step(mode model.ViewMode, anchor time.Time, delta int) time.Time {
	switch mode {
	case model.ViewDay:
		return anchor.AddDate(0, 0, delta)
	case model.ViewMonth:
		return addMonthsClamped(anchor, delta)
	case model.ViewAll:
		return anchor.AddDate(delta, 0, 0)
	default:
		return anchor.AddDate(0, 0, 7*delta)
	}
}

// addMonthsClamped keeps the day-of-month inside the target month so that
// Jan 31 + 1 month lands on Feb 28/29 rather than early March.
func addMonthsClamped(t time.Time, months int) time.Time {
	first := time.Date(t.Year(), t.Month(), 1, t.Hour(), t.Minute(), t.Second(), t.Nanosecond(), t.Location())
	target := first.AddDate(0, months, 0)
	lastDay := target.AddDate(0, 1, -1).Day()
	day := t.Day()
	if day > lastDay {
		day = lastDay
	}
	return time.Date(target.Year(), target.Month(), day, t.Hour(), t.Minute(), t.Second(), t.Nanosecond(), t.Location())
}

// WeekRange returns Sunday 00:00 and Saturday 23:59:59.999 of the week containing t.
func WeekRange(t time.Time) (time.Time, time.Time) {
	sunday := StartOfDay(t.AddDate(0, 0, -int(t.Weekday())))
	saturday := EndOfDay(sunday.AddDate(0, 0, 6))
	return sunday, saturday
}

// StartOfDay returns 00:00:00.000 of the same day.
func StartOfDay(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
}

// EndOfDay returns 23:59:59.999 of the same day.
func EndOfDay(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 23, 59, 59, int(lastMilli), t.Location())
}

// SameDay reports whether two times fall on the same calendar day.
func SameDay(a, b time.Time) bool {
	ay, am, ad := a.Date()
	by, bm, bd := b.Date()
	return ay == by && am == bm && ad == bd
}

// Days lists the start of every calendar day touched by r.
func Days(r model.Range) []time.Time {
	var out []time.Time
	for d := StartOfDay(r.Start); !d.After(r.End); d = d.AddDate(0, 0, 1) {
		out = append(out, d)
	}
	return out
}
