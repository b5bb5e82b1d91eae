package ics

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"calview/internal/apierr"
	"calview/internal/model"
)

var feedBody = strings.Join([]string{
	"BEGIN:VCALENDAR",
	"VERSION:2.0",
	"PRODID:-//test//EN",
	"BEGIN:VEVENT",
	"UID:standup",
	"DTSTART:20240311T090000Z",
	"DTEND:20240311T091500Z",
	"RRULE:FREQ=DAILY;COUNT=5",
	"EXDATE:20240313T090000Z",
	"SUMMARY:Standup",
	"END:VEVENT",
	"BEGIN:VEVENT",
	"UID:standup",
	"RECURRENCE-ID:20240314T090000Z",
	"DTSTART:20240314T100000Z",
	"DTEND:20240314T101500Z",
	"SUMMARY:Standup (moved)",
	"END:VEVENT",
	"BEGIN:VEVENT",
	"UID:trip",
	"DTSTART;VALUE=DATE:20240315",
	"DTEND;VALUE=DATE:20240317",
	"SUMMARY:Trip",
	"END:VEVENT",
	"BEGIN:VEVENT",
	"UID:old",
	"DTSTART:20240101T090000Z",
	"DTEND:20240101T100000Z",
	"SUMMARY:Old",
	"END:VEVENT",
	"END:VCALENDAR",
	"",
}, "\r\n")

var week = model.Range{
	Start: time.Date(2024, 3, 10, 0, 0, 0, 0, time.UTC),
	End:   time.Date(2024, 3, 16, 23, 59, 59, 999_000_000, time.UTC),
}

func newSource(t *testing.T, url string) *Source {
	t.Helper()
	return NewSource(Feed{ID: "team", Name: "Team", URL: url}, NewFetcher(t.TempDir(), nil), time.UTC)
}

func TestListEventsExpandsRecurrence(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, feedBody)
	}))
	defer srv.Close()

	events, err := newSource(t, srv.URL).ListEvents(context.Background(), week)
	require.NoError(t, err)

	var titles []string
	for _, ev := range events {
		titles = append(titles, ev.Title)
		assert.Equal(t, "ics:team", ev.Source)
	}
	assert.Equal(t, []string{"Standup", "Standup", "Standup (moved)", "Trip", "Standup"}, titles)

	moved := events[2]
	assert.Equal(t, "team/standup/20240314T090000Z", moved.ID)
	assert.Equal(t, 10, moved.Start.Hour())
	assert.Equal(t, "team/standup", moved.Details.RecurringEventID)

	trip := events[3]
	assert.True(t, trip.IsAllDay)
	assert.Equal(t, 48*time.Hour, trip.Duration())
	assert.Equal(t, model.EventTypeDefault, trip.EventType)
}

func TestFetcherUsesValidatorsAndDiskCopy(t *testing.T) {
	var hits, notModified atomic.Int32
	var broken atomic.Bool
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		if broken.Load() {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		if r.Header.Get("If-None-Match") == `"v1"` {
			notModified.Add(1)
			w.WriteHeader(http.StatusNotModified)
			return
		}
		w.Header().Set("ETag", `"v1"`)
		_, _ = io.WriteString(w, feedBody)
	}))
	defer srv.Close()

	f := NewFetcher(t.TempDir(), srv.Client())
	feed := Feed{ID: "team", URL: srv.URL + "/cal.ics?token=secret"}
	ctx := context.Background()

	body, fromDisk, err := f.Fetch(ctx, feed)
	require.NoError(t, err)
	assert.False(t, fromDisk)
	assert.Equal(t, feedBody, string(body))

	body, fromDisk, err = f.Fetch(ctx, feed)
	require.NoError(t, err)
	assert.True(t, fromDisk)
	assert.Equal(t, feedBody, string(body))
	assert.EqualValues(t, 1, notModified.Load())

	broken.Store(true)
	body, fromDisk, err = f.Fetch(ctx, feed)
	require.NoError(t, err)
	assert.True(t, fromDisk)
	assert.NotEmpty(t, body)
	assert.EqualValues(t, 3, hits.Load())
}

func TestFetcherErrorWithoutDiskCopy(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	_, err := newSource(t, srv.URL).ListEvents(context.Background(), week)
	require.Error(t, err)
	assert.False(t, apierr.IsIrrecoverable(err))

	_, _, err = NewFetcher(t.TempDir(), nil).Fetch(context.Background(), Feed{ID: "x"})
	assert.True(t, apierr.IsValidation(err))
}

func TestRedactURL(t *testing.T) {
	assert.Equal(t, "https://calendar.example.com/...(redacted)", redactURL("https://calendar.example.com/private-abc/basic.ics"))
	assert.Equal(t, "ics://...(redacted)", redactURL("not a url"))
}

func TestExportRoundTrip(t *testing.T) {
	start := time.Date(2024, 3, 14, 9, 0, 0, 0, time.UTC)
	events := []model.CalendarEvent{
		{ID: "a", Title: "Review", Start: start, End: start.Add(time.Hour), Details: model.Details{Location: "Room 1"}},
		{Title: "Holiday", Start: time.Date(2024, 3, 15, 0, 0, 0, 0, time.UTC), End: time.Date(2024, 3, 16, 0, 0, 0, 0, time.UTC), IsAllDay: true},
	}

	out := Export(events, start)
	assert.Contains(t, out, "BEGIN:VCALENDAR")
	assert.Contains(t, out, "UID:a@calview")
	assert.Contains(t, out, "SUMMARY:Holiday")

	parsed, err := parseFeed(Feed{ID: "self"}, []byte(out))
	require.NoError(t, err)
	require.Len(t, parsed, 2)
	assert.True(t, parsed[0].start.Equal(start))
	assert.Equal(t, "Room 1", parsed[0].location)
	assert.True(t, parsed[1].allDay)
}
