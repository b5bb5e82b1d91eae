package upstream

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"google.golang.org/api/calendar/v3"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
	gtasks "google.golang.org/api/tasks/v1"

	"calview/internal/apierr"
	"calview/internal/model"
	"calview/internal/normalize"
	"calview/internal/tasks"
)

// Google serves events from Google Calendar and tasks from Google Tasks.
type Google struct {
	cal        *calendar.Service
	tasks      *gtasks.Service
	calendarID string
	normalizer *normalize.Normalizer
}

// NewGoogle builds both services on top of an authorized HTTP client.
// Extra client options (endpoint overrides in tests) are appended.
func NewGoogle(ctx context.Context, hc *http.Client, calendarID string, n *normalize.Normalizer, opts ...option.ClientOption) (*Google, error) {
	if calendarID == "" {
		calendarID = "primary"
	}
	if n == nil {
		n = normalize.New(time.Local)
	}
	all := append([]option.ClientOption{option.WithHTTPClient(hc)}, opts...)
	cal, err := calendar.NewService(ctx, all...)
	if err != nil {
		return nil, fmt.Errorf("create calendar service: %w", err)
	}
	ts, err := gtasks.NewService(ctx, all...)
	if err != nil {
		return nil, fmt.Errorf("create tasks service: %w", err)
	}
	return &Google{cal: cal, tasks: ts, calendarID: calendarID, normalizer: n}, nil
}

// googleErr maps client library failures onto the error taxonomy.
func googleErr(ctx context.Context, op string, err error) error {
	if err == nil {
		return nil
	}
	if ctx.Err() != nil {
		return ctx.Err()
	}
	var gerr *googleapi.Error
	if errors.As(err, &gerr) {
		ce := apierr.Classify(gerr.Code, nil, op)
		ce.Message = gerr.Message
		return ce
	}
	return apierr.Network(op, err)
}

func (g *Google) ListEvents(ctx context.Context, r model.Range) ([]model.CalendarEvent, error) {
	var raws []normalize.RawEvent
	call := g.cal.Events.List(g.calendarID).
		Context(ctx).
		ShowDeleted(false).
		SingleEvents(true).
		TimeMin(r.Start.Format(time.RFC3339)).
		TimeMax(r.End.Format(time.RFC3339)).
		OrderBy("startTime").
		MaxResults(2500)
	err := call.Pages(ctx, func(page *calendar.Events) error {
		for _, item := range page.Items {
			if item.Status == "cancelled" {
				continue
			}
			raws = append(raws, fromGoogleEvent(item))
		}
		return nil
	})
	if err != nil {
		return nil, googleErr(ctx, "list events", err)
	}
	return g.normalizer.NormalizeAll(raws), nil
}

func fromGoogleEvent(item *calendar.Event) normalize.RawEvent {
	raw := normalize.RawEvent{
		ID:               item.Id,
		Summary:          item.Summary,
		Start:            fromGoogleDate(item.Start),
		End:              fromGoogleDate(item.End),
		EventType:        item.EventType,
		Description:      item.Description,
		Location:         item.Location,
		RecurringEventID: item.RecurringEventId,
		HTMLLink:         item.HtmlLink,
	}
	for _, a := range item.Attendees {
		raw.Attendees = append(raw.Attendees, model.Attendee{Email: a.Email, DisplayName: a.DisplayName, ResponseStatus: a.ResponseStatus})
	}
	for _, a := range item.Attachments {
		raw.Attachments = append(raw.Attachments, model.Attachment{Title: a.Title, FileURL: a.FileUrl, MimeType: a.MimeType})
	}
	return raw
}

func fromGoogleDate(d *calendar.EventDateTime) *normalize.EventDate {
	if d == nil {
		return nil
	}
	return &normalize.EventDate{DateTime: d.DateTime, Date: d.Date, TimeZone: d.TimeZone}
}

func toGoogleEvent(ev model.CalendarEvent) *calendar.Event {
	out := &calendar.Event{
		Summary:     ev.Title,
		Description: ev.Details.Description,
		Location:    ev.Details.Location,
	}
	if ev.EventType != model.EventTypeUnset && ev.EventType != model.EventTypeTask {
		out.EventType = string(ev.EventType)
	}
	if ev.IsAllDay {
		out.Start = &calendar.EventDateTime{Date: ev.Start.Format("2006-01-02")}
		out.End = &calendar.EventDateTime{Date: ev.End.Format("2006-01-02")}
	} else {
		out.Start = &calendar.EventDateTime{DateTime: ev.Start.Format(time.RFC3339)}
		out.End = &calendar.EventDateTime{DateTime: ev.End.Format(time.RFC3339)}
	}
	for _, a := range ev.Details.Attendees {
		out.Attendees = append(out.Attendees, &calendar.EventAttendee{Email: a.Email, DisplayName: a.DisplayName})
	}
	return out
}

func (g *Google) CreateEvent(ctx context.Context, ev model.CalendarEvent) (model.CalendarEvent, error) {
	created, err := g.cal.Events.Insert(g.calendarID, toGoogleEvent(ev)).Context(ctx).Do()
	if err != nil {
		return model.CalendarEvent{}, googleErr(ctx, "create event", err)
	}
	out, _ := g.normalizer.Normalize(fromGoogleEvent(created))
	return out, nil
}

func (g *Google) UpdateEvent(ctx context.Context, ev model.CalendarEvent) (model.CalendarEvent, error) {
	if ev.ID == "" {
		return model.CalendarEvent{}, apierr.Validation("update event: id is required")
	}
	updated, err := g.cal.Events.Update(g.calendarID, ev.ID, toGoogleEvent(ev)).Context(ctx).Do()
	if err != nil {
		return model.CalendarEvent{}, googleErr(ctx, "update event", err)
	}
	out, _ := g.normalizer.Normalize(fromGoogleEvent(updated))
	return out, nil
}

func (g *Google) DeleteEvent(ctx context.Context, id string) error {
	if id == "" {
		return apierr.Validation("delete event: id is required")
	}
	return googleErr(ctx, "delete event", g.cal.Events.Delete(g.calendarID, id).Context(ctx).Do())
}

// ListTaskLists reads every list. Google Tasks carries no due time, so the
// marker in notes is the only source of one.
func (g *Google) ListTaskLists(ctx context.Context, r model.Range) ([]model.TaskList, error) {
	var lists []model.TaskList
	err := g.tasks.Tasklists.List().Context(ctx).MaxResults(100).Pages(ctx, func(page *gtasks.TaskLists) error {
		for _, tl := range page.Items {
			lists = append(lists, model.TaskList{ID: tl.Id, Title: tl.Title})
		}
		return nil
	})
	if err != nil {
		return nil, googleErr(ctx, "list task lists", err)
	}

	for i := range lists {
		call := g.tasks.Tasks.List(lists[i].ID).Context(ctx).ShowCompleted(true).ShowHidden(false).MaxResults(100)
		if !r.Start.IsZero() {
			from, to := DueWindow(r)
			call = call.DueMin(from.Format(time.RFC3339)).DueMax(to.Format(time.RFC3339))
		}
		err := call.Pages(ctx, func(page *gtasks.Tasks) error {
			for _, t := range page.Items {
				lists[i].Tasks = append(lists[i].Tasks, fromGoogleTask(t))
			}
			return nil
		})
		if err != nil {
			return nil, googleErr(ctx, "list tasks", err)
		}
	}
	return lists, nil
}

func fromGoogleTask(t *gtasks.Task) model.Task {
	out := model.Task{ID: t.Id, Title: t.Title, Notes: t.Notes, Status: t.Status}
	if t.Due != "" {
		if due, err := time.Parse(time.RFC3339, t.Due); err == nil {
			out.Due = &due
		}
	}
	return out
}

func toGoogleTask(t model.Task) *gtasks.Task {
	out := &gtasks.Task{Id: t.ID, Title: t.Title, Notes: t.Notes, Status: t.Status}
	if t.Due != nil {
		y, m, d := t.Due.Date()
		out.Due = time.Date(y, m, d, 0, 0, 0, 0, time.UTC).Format(time.RFC3339)
	}
	if t.DueTime != nil {
		out.Notes = tasks.EncodeDueTime(t.Notes, *t.DueTime)
	}
	if out.Status == "" {
		out.Status = model.TaskNeedsAction
	}
	return out
}

func (g *Google) CreateTask(ctx context.Context, listID string, t model.Task) (model.Task, error) {
	created, err := g.tasks.Tasks.Insert(listID, toGoogleTask(t)).Context(ctx).Do()
	if err != nil {
		return model.Task{}, googleErr(ctx, "create task", err)
	}
	return fromGoogleTask(created), nil
}

func (g *Google) UpdateTask(ctx context.Context, listID string, t model.Task) (model.Task, error) {
	if t.ID == "" {
		return model.Task{}, apierr.Validation("update task: id is required")
	}
	updated, err := g.tasks.Tasks.Update(listID, t.ID, toGoogleTask(t)).Context(ctx).Do()
	if err != nil {
		return model.Task{}, googleErr(ctx, "update task", err)
	}
	return fromGoogleTask(updated), nil
}

func (g *Google) DeleteTask(ctx context.Context, listID, taskID string) error {
	return googleErr(ctx, "delete task", g.tasks.Tasks.Delete(listID, taskID).Context(ctx).Do())
}
