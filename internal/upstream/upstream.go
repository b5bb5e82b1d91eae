// Package upstream defines the calendar and task backends the engine reads
// from and writes to, plus the adapters for each supported backend.
package upstream

import (
	"context"
	"errors"
	"time"

	appLog "calview/internal/log"
	"calview/internal/model"
)

// CalendarSource lists calendar events overlapping a window.
type CalendarSource interface {
	ListEvents(ctx context.Context, r model.Range) ([]model.CalendarEvent, error)
}

// CalendarWriter mutates calendar events.
type CalendarWriter interface {
	CreateEvent(ctx context.Context, ev model.CalendarEvent) (model.CalendarEvent, error)
	UpdateEvent(ctx context.Context, ev model.CalendarEvent) (model.CalendarEvent, error)
	DeleteEvent(ctx context.Context, id string) error
}

// TaskSource lists task lists with their tasks. Backends that can filter by
// due date use r; others may return everything.
type TaskSource interface {
	ListTaskLists(ctx context.Context, r model.Range) ([]model.TaskList, error)
}

// TaskWriter mutates tasks.
type TaskWriter interface {
	CreateTask(ctx context.Context, listID string, t model.Task) (model.Task, error)
	UpdateTask(ctx context.Context, listID string, t model.Task) (model.Task, error)
	DeleteTask(ctx context.Context, listID, taskID string) error
}

// Backend is a full read/write upstream.
type Backend interface {
	CalendarSource
	CalendarWriter
	TaskSource
	TaskWriter
}

// ErrReadOnly is returned by sources that cannot be written to.
var ErrReadOnly = errors.New("upstream is read-only")

// MergedCalendar reads a primary calendar plus read-only feeds. A feed
// failure is logged and skipped; a primary failure fails the call.
type MergedCalendar struct {
	Primary CalendarSource
	Feeds   []CalendarSource
}

func (m *MergedCalendar) ListEvents(ctx context.Context, r model.Range) ([]model.CalendarEvent, error) {
	var out []model.CalendarEvent
	if m.Primary != nil {
		events, err := m.Primary.ListEvents(ctx, r)
		if err != nil {
			return nil, err
		}
		out = append(out, events...)
	}
	for i, feed := range m.Feeds {
		events, err := feed.ListEvents(ctx, r)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			appLog.Error("calendar feed failed; skipping", err, "feed", i)
			continue
		}
		out = append(out, events...)
	}
	return out, nil
}

// DueWindow converts r into the bounds task queries send. Task upstreams
// store a date-only due as UTC midnight of that date, so the bounds are the
// UTC midnights of r's first local date and of the day after its last.
// Exact filtering happens after projection.
func DueWindow(r model.Range) (from, to time.Time) {
	y, m, d := r.Start.Date()
	from = time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
	y, m, d = r.End.Date()
	to = time.Date(y, m, d+1, 0, 0, 0, 0, time.UTC)
	return from, to
}
