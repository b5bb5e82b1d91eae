// Package ics reads subscribed iCalendar feeds as read-only calendar sources
// and renders events back out as an iCalendar document.
package ics

import (
	"context"
	"time"

	appLog "calview/internal/log"
	"calview/internal/model"
)

// Source exposes one feed as a calendar source.
type Source struct {
	Feed     Feed
	Fetcher  *Fetcher
	Location *time.Location
	// MaxOccurrences caps the expansion of a single recurring VEVENT.
	MaxOccurrences int
}

// NewSource binds feed to a shared fetcher.
func NewSource(feed Feed, f *Fetcher, loc *time.Location) *Source {
	return &Source{Feed: feed, Fetcher: f, Location: loc}
}

func (s *Source) ListEvents(ctx context.Context, r model.Range) ([]model.CalendarEvent, error) {
	body, fromDisk, err := s.Fetcher.Fetch(ctx, s.Feed)
	if err != nil {
		return nil, err
	}
	parsed, err := parseFeed(s.Feed, body)
	if err != nil {
		return nil, err
	}
	x := expander{loc: s.Location, window: r, maxOccurrences: s.MaxOccurrences}
	events := x.expand(parsed)
	appLog.Debug("ics feed expanded", "feed", s.Feed.ID, "vevents", len(parsed), "events", len(events), "from_disk", fromDisk)
	return events, nil
}
