package view

import (
	"context"
	"fmt"
	"strings"

	"calview/internal/apierr"
	appLog "calview/internal/log"
	"calview/internal/model"
	"calview/internal/upstream"
)

// Every mutation validates locally, calls the upstream, then invalidates the
// affected collection and refetches. Local state is never patched by hand.

func wrapValidation(err error) error {
	return apierr.Validation("%s", err.Error())
}

// fail logs err, turns it into an error notification and returns it.
func (c *Controller) fail(op string, err error) error {
	if apierr.IsValidation(err) {
		appLog.Info(op+" rejected", "err", err.Error())
	} else {
		appLog.Error(op+" failed", err)
	}
	c.notes.push("error", fmt.Sprintf("%s: %v", op, err))
	return fmt.Errorf("%s: %w", op, err)
}

type invalidator interface{ Invalidate() }

// settle invalidates store and refreshes; only the invalidated collection
// goes back to the network. Refresh errors are already recorded per source,
// so they do not fail the mutation.
func (c *Controller) settle(ctx context.Context, store invalidator) {
	store.Invalidate()
	if _, err := c.Refresh(ctx, false); err != nil {
		appLog.Warn("refresh after mutation failed", "err", err.Error())
	}
}

// writeContext bounds one upstream write. Writes are not retried.
func (c *Controller) writeContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if c.writeTimeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, c.writeTimeout)
}

func (c *Controller) calendarWriter() (upstream.CalendarWriter, error) {
	if c.src.CalendarWriter == nil {
		return nil, upstream.ErrReadOnly
	}
	return c.src.CalendarWriter, nil
}

func (c *Controller) taskWriter() (upstream.TaskWriter, error) {
	if c.src.TaskWriter == nil {
		return nil, upstream.ErrReadOnly
	}
	return c.src.TaskWriter, nil
}

func (c *Controller) CreateEvent(ctx context.Context, ev model.CalendarEvent) (model.CalendarEvent, error) {
	if err := validateEvent(ev); err != nil {
		return model.CalendarEvent{}, c.fail("create event", err)
	}
	w, err := c.calendarWriter()
	if err != nil {
		return model.CalendarEvent{}, c.fail("create event", err)
	}
	wctx, cancel := c.writeContext(ctx)
	created, err := w.CreateEvent(wctx, ev)
	cancel()
	if err != nil {
		return model.CalendarEvent{}, c.fail("create event", err)
	}
	c.settle(ctx, c.events)
	c.notes.push("info", "Event created")
	return created, nil
}

func (c *Controller) UpdateEvent(ctx context.Context, ev model.CalendarEvent) (model.CalendarEvent, error) {
	if strings.TrimSpace(ev.ID) == "" {
		return model.CalendarEvent{}, c.fail("update event", apierr.Validation("id is required"))
	}
	if err := validateEvent(ev); err != nil {
		return model.CalendarEvent{}, c.fail("update event", err)
	}
	w, err := c.calendarWriter()
	if err != nil {
		return model.CalendarEvent{}, c.fail("update event", err)
	}
	wctx, cancel := c.writeContext(ctx)
	updated, err := w.UpdateEvent(wctx, ev)
	cancel()
	if err != nil {
		return model.CalendarEvent{}, c.fail("update event", err)
	}
	c.settle(ctx, c.events)
	return updated, nil
}

func (c *Controller) DeleteEvent(ctx context.Context, id string) error {
	if strings.TrimSpace(id) == "" {
		return c.fail("delete event", apierr.Validation("id is required"))
	}
	if strings.HasPrefix(id, model.TaskEventPrefix) {
		return c.fail("delete event", apierr.Validation("%s is a task; delete it through its list", id))
	}
	w, err := c.calendarWriter()
	if err != nil {
		return c.fail("delete event", err)
	}
	wctx, cancel := c.writeContext(ctx)
	err = w.DeleteEvent(wctx, id)
	cancel()
	if err != nil {
		return c.fail("delete event", err)
	}
	c.settle(ctx, c.events)
	c.notes.push("info", "Event deleted")
	return nil
}

// validateEvent rejects what the upstream would reject, before any call.
func validateEvent(ev model.CalendarEvent) error {
	if err := ev.Validate(); err != nil {
		return wrapValidation(err)
	}
	if ev.EventType == model.EventTypeTask {
		return apierr.Validation("task events are created through a task list")
	}
	return nil
}

func (c *Controller) CreateTask(ctx context.Context, listID string, t model.Task) (model.Task, error) {
	if err := validateTask(listID, t); err != nil {
		return model.Task{}, c.fail("create task", err)
	}
	w, err := c.taskWriter()
	if err != nil {
		return model.Task{}, c.fail("create task", err)
	}
	wctx, cancel := c.writeContext(ctx)
	created, err := w.CreateTask(wctx, listID, t)
	cancel()
	if err != nil {
		return model.Task{}, c.fail("create task", err)
	}
	c.settle(ctx, c.tasks)
	c.notes.push("info", "Task created")
	return created, nil
}

func (c *Controller) UpdateTask(ctx context.Context, listID string, t model.Task) (model.Task, error) {
	if strings.TrimSpace(t.ID) == "" {
		return model.Task{}, c.fail("update task", apierr.Validation("id is required"))
	}
	if err := validateTask(listID, t); err != nil {
		return model.Task{}, c.fail("update task", err)
	}
	w, err := c.taskWriter()
	if err != nil {
		return model.Task{}, c.fail("update task", err)
	}
	wctx, cancel := c.writeContext(ctx)
	updated, err := w.UpdateTask(wctx, listID, t)
	cancel()
	if err != nil {
		return model.Task{}, c.fail("update task", err)
	}
	c.settle(ctx, c.tasks)
	return updated, nil
}

func (c *Controller) DeleteTask(ctx context.Context, listID, taskID string) error {
	if strings.TrimSpace(listID) == "" || strings.TrimSpace(taskID) == "" {
		return c.fail("delete task", apierr.Validation("list and task id are required"))
	}
	w, err := c.taskWriter()
	if err != nil {
		return c.fail("delete task", err)
	}
	wctx, cancel := c.writeContext(ctx)
	err = w.DeleteTask(wctx, listID, taskID)
	cancel()
	if err != nil {
		return c.fail("delete task", err)
	}
	c.settle(ctx, c.tasks)
	c.notes.push("info", "Task deleted")
	return nil
}

// CompleteTask marks a loaded task completed. Its event drops out of the
// unified set on the following refresh.
func (c *Controller) CompleteTask(ctx context.Context, listID, taskID string) (model.Task, error) {
	t, ok := c.findTask(listID, taskID)
	if !ok {
		return model.Task{}, c.fail("complete task", apierr.Validation("task %s not found in list %s", taskID, listID))
	}
	t.Status = model.TaskCompleted
	return c.UpdateTask(ctx, listID, t)
}

func (c *Controller) findTask(listID, taskID string) (model.Task, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, list := range c.taskLists {
		if list.ID != listID {
			continue
		}
		for _, t := range list.Tasks {
			if t.ID == taskID {
				return t, true
			}
		}
	}
	return model.Task{}, false
}

func validateTask(listID string, t model.Task) error {
	if strings.TrimSpace(listID) == "" {
		return apierr.Validation("task list id is required")
	}
	if err := t.Validate(); err != nil {
		return wrapValidation(err)
	}
	return nil
}
