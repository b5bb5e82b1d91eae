package model

import (
	"fmt"
	"strings"
	"time"
)

// EventType classifies a calendar event. The zero value means the upstream
// did not say.
type EventType string

const (
	EventTypeUnset           EventType = ""
	EventTypeDefault         EventType = "default"
	EventTypeFocusTime       EventType = "focusTime"
	EventTypeOutOfOffice     EventType = "outOfOffice"
	EventTypeWorkingLocation EventType = "workingLocation"
	EventTypeTask            EventType = "task"
)

// Known reports whether t is one of the declared event types.
func (t EventType) Known() bool {
	switch t {
	case EventTypeUnset, EventTypeDefault, EventTypeFocusTime, EventTypeOutOfOffice,
		EventTypeWorkingLocation, EventTypeTask:
		return true
	}
	return false
}

// Source names which upstream collection an event came from.
const (
	SourceCalendar = "calendar"
	SourceTasks    = "tasks"
)

// TaskEventPrefix prefixes the ID of every event projected from a task.
const TaskEventPrefix = "task-"

// Attendee is a passthrough attendee record.
type Attendee struct {
	Email          string `json:"email"`
	DisplayName    string `json:"displayName,omitempty"`
	ResponseStatus string `json:"responseStatus,omitempty"`
}

// Attachment is a passthrough attachment record.
type Attachment struct {
	Title    string `json:"title,omitempty"`
	FileURL  string `json:"fileUrl"`
	MimeType string `json:"mimeType,omitempty"`
}

// Details holds descriptive fields the engine carries but never interprets.
type Details struct {
	Description      string       `json:"description,omitempty"`
	Location         string       `json:"location,omitempty"`
	Attendees        []Attendee   `json:"attendees,omitempty"`
	Attachments      []Attachment `json:"attachments,omitempty"`
	RecurringEventID string       `json:"recurringEventId,omitempty"`
	HTMLLink         string       `json:"htmlLink,omitempty"`
}

// CalendarEvent is the canonical event shape shared by every component.
// End is never before Start.
type CalendarEvent struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	Start     time.Time `json:"start"`
	End       time.Time `json:"end"`
	IsAllDay  bool      `json:"isAllDay"`
	EventType EventType `json:"eventType,omitempty"`

	// HasExplicitTime is only set on task events.
	HasExplicitTime *bool `json:"hasExplicitTime,omitempty"`

	Source     string `json:"source,omitempty"`
	TaskListID string `json:"taskListId,omitempty"`

	Details Details `json:"details"`
}

// Duration is End - Start.
func (e CalendarEvent) Duration() time.Duration {
	return e.End.Sub(e.Start)
}

// IsTask reports whether the event was projected from a task.
func (e CalendarEvent) IsTask() bool {
	return e.EventType == EventTypeTask || strings.HasPrefix(e.ID, TaskEventPrefix)
}

// TaskID returns the task identifier behind a projected task event.
func (e CalendarEvent) TaskID() string {
	return strings.TrimPrefix(e.ID, TaskEventPrefix)
}

// Validate checks the fields a mutation must carry.
func (e CalendarEvent) Validate() error {
	if strings.TrimSpace(e.Title) == "" {
		return fmt.Errorf("title is required")
	}
	if e.Start.IsZero() || e.End.IsZero() {
		return fmt.Errorf("start and end are required")
	}
	if e.End.Before(e.Start) {
		return fmt.Errorf("end %s is before start %s", e.End.Format(time.RFC3339), e.Start.Format(time.RFC3339))
	}
	if !e.EventType.Known() {
		return fmt.Errorf("unknown event type %q", e.EventType)
	}
	return nil
}

// Task statuses as reported by the task upstream.
const (
	TaskNeedsAction = "needsAction"
	TaskCompleted   = "completed"
)

// Task is a single to-do item.
type Task struct {
	ID     string     `json:"id"`
	Title  string     `json:"title"`
	Notes  string     `json:"notes,omitempty"`
	Status string     `json:"status"`
	Due    *time.Time `json:"due,omitempty"`
	// DueTime is an optional "HH:MM" wall-clock time for Due.
	DueTime *string `json:"dueTime,omitempty"`
}

// Completed reports whether the task is done.
func (t Task) Completed() bool {
	return t.Status == TaskCompleted
}

// Validate checks the fields a task mutation must carry.
func (t Task) Validate() error {
	if strings.TrimSpace(t.Title) == "" {
		return fmt.Errorf("title is required")
	}
	switch t.Status {
	case "", TaskNeedsAction, TaskCompleted:
	default:
		return fmt.Errorf("unknown task status %q", t.Status)
	}
	if t.DueTime != nil {
		if _, err := time.Parse("15:04", *t.DueTime); err != nil {
			return fmt.Errorf("due time %q is not HH:MM", *t.DueTime)
		}
		if t.Due == nil {
			return fmt.Errorf("due time set without a due date")
		}
	}
	return nil
}

// TaskList groups tasks.
type TaskList struct {
	ID    string `json:"id"`
	Title string `json:"title"`
	Tasks []Task `json:"tasks"`
}

// ViewMode selects the granularity of the visible window.
type ViewMode string

const (
	ViewDay   ViewMode = "day"
	ViewWeek  ViewMode = "week"
	ViewMonth ViewMode = "month"
	ViewAll   ViewMode = "all"
)

// ParseViewMode validates a user-supplied mode string.
func ParseViewMode(s string) (ViewMode, error) {
	switch m := ViewMode(strings.ToLower(strings.TrimSpace(s))); m {
	case ViewDay, ViewWeek, ViewMonth, ViewAll:
		return m, nil
	}
	return "", fmt.Errorf("unknown view mode %q", s)
}

// Range is a closed time interval; End is inclusive (23:59:59.999 style).
type Range struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// Overlaps reports whether the closed intervals r and o share an instant.
func (r Range) Overlaps(o Range) bool {
	return !r.End.Before(o.Start) && !o.End.Before(r.Start)
}

// Contains reports whether t lies inside r.
func (r Range) Contains(t time.Time) bool {
	return !t.Before(r.Start) && !t.After(r.End)
}

// Key is a stable string form used for in-flight bookkeeping.
func (r Range) Key() string {
	return r.Start.UTC().Format(time.RFC3339Nano) + "/" + r.End.UTC().Format(time.RFC3339Nano)
}

func (r Range) String() string {
	return r.Start.Format(time.RFC3339) + ".." + r.End.Format(time.RFC3339)
}

// LayoutSlot places one event inside a day column grid.
type LayoutSlot struct {
	Event         CalendarEvent `json:"event"`
	Column        int           `json:"column"`
	ColumnsInSlot int           `json:"columnsInSlot"`
	WidthFraction float64       `json:"widthFraction"`
	LeftFraction  float64       `json:"leftFraction"`
	StackPriority int           `json:"stackPriority"`
}
