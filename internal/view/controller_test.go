package view

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"calview/internal/apierr"
	"calview/internal/cache"
	"calview/internal/model"
	"calview/internal/retry"
	"calview/internal/upstream"
)

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

// fakeBackend is an in-memory upstream that counts every call.
type fakeBackend struct {
	mu        sync.Mutex
	events    []model.CalendarEvent
	lists     []model.TaskList
	eventErr  error
	taskErr   error
	listCalls int
	taskCalls int
	writes    []string
}

func (f *fakeBackend) ListEvents(_ context.Context, _ model.Range) ([]model.CalendarEvent, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.listCalls++
	if f.eventErr != nil {
		return nil, f.eventErr
	}
	return append([]model.CalendarEvent(nil), f.events...), nil
}

func (f *fakeBackend) ListTaskLists(_ context.Context, _ model.Range) ([]model.TaskList, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.taskCalls++
	if f.taskErr != nil {
		return nil, f.taskErr
	}
	out := make([]model.TaskList, len(f.lists))
	for i, l := range f.lists {
		out[i] = model.TaskList{ID: l.ID, Title: l.Title, Tasks: append([]model.Task(nil), l.Tasks...)}
	}
	return out, nil
}

func (f *fakeBackend) CreateEvent(_ context.Context, ev model.CalendarEvent) (model.CalendarEvent, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.writes = append(f.writes, "create-event")
	ev.ID = "new"
	f.events = append(f.events, ev)
	return ev, nil
}

func (f *fakeBackend) UpdateEvent(_ context.Context, ev model.CalendarEvent) (model.CalendarEvent, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.writes = append(f.writes, "update-event")
	return ev, nil
}

func (f *fakeBackend) DeleteEvent(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.writes = append(f.writes, "delete-event")
	return nil
}

func (f *fakeBackend) CreateTask(_ context.Context, listID string, t model.Task) (model.Task, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.writes = append(f.writes, "create-task")
	return t, nil
}

func (f *fakeBackend) UpdateTask(_ context.Context, listID string, t model.Task) (model.Task, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.writes = append(f.writes, "update-task")
	for i, l := range f.lists {
		if l.ID != listID {
			continue
		}
		for j, existing := range l.Tasks {
			if existing.ID == t.ID {
				f.lists[i].Tasks[j] = t
			}
		}
	}
	return t, nil
}

func (f *fakeBackend) DeleteTask(_ context.Context, listID, taskID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.writes = append(f.writes, "delete-task")
	return nil
}

func (f *fakeBackend) calls() (int, int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.listCalls, f.taskCalls
}

func (f *fakeBackend) writeCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.writes)
}

var thursday = time.Date(2024, 3, 14, 12, 0, 0, 0, time.UTC)

func newController(t *testing.T, b *fakeBackend, mode model.ViewMode) (*Controller, *clock) {
	t.Helper()
	clk := &clock{now: thursday}
	c := New(Sources{Calendar: b, Tasks: b, CalendarWriter: b, TaskWriter: b}, Options{
		Mode:     mode,
		Location: time.UTC,
		Now:      clk.Now,
		Cache: cache.Options{
			Duration: 5 * time.Minute,
			Policy:   retry.Policy{MaxAttempts: 1, BaseBackoff: time.Millisecond, Timeout: time.Second},
		},
	})
	return c, clk
}

func at(h, m int) time.Time {
	return time.Date(2024, 3, 14, h, m, 0, 0, time.UTC)
}

func TestRefreshUnifiesBothSources(t *testing.T) {
	due := time.Date(2024, 3, 15, 0, 0, 0, 0, time.UTC)
	b := &fakeBackend{
		events: []model.CalendarEvent{{ID: "e1", Title: "Standup", Start: at(9, 0), End: at(9, 15)}},
		lists:  []model.TaskList{{ID: "L", Tasks: []model.Task{{ID: "t1", Title: "Pay rent", Status: model.TaskNeedsAction, Due: &due}}}},
	}
	c, _ := newController(t, b, model.ViewWeek)

	snap, err := c.Refresh(context.Background(), false)
	require.NoError(t, err)
	require.Len(t, snap.Events, 2)
	assert.Equal(t, "e1", snap.Events[0].ID)
	assert.Equal(t, "task-t1", snap.Events[1].ID)
	assert.Empty(t, snap.Errors)
	assert.Equal(t, time.Date(2024, 3, 10, 0, 0, 0, 0, time.UTC), snap.Range.Start)
}

func TestPartialFailureKeepsCalendarData(t *testing.T) {
	b := &fakeBackend{
		events:  []model.CalendarEvent{{ID: "e1", Title: "Standup", Start: at(9, 0), End: at(9, 15)}},
		taskErr: apierr.Classify(400, []byte(`{"status":400,"message":"bad list"}`), "list tasks"),
	}
	c, _ := newController(t, b, model.ViewWeek)

	snap, err := c.Refresh(context.Background(), false)
	require.Error(t, err)
	require.Len(t, snap.Events, 1)
	assert.Equal(t, "e1", snap.Events[0].ID)
	assert.Contains(t, snap.Errors[CollectionTasks], "bad list")
	assert.NotContains(t, snap.Errors, CollectionEvents)

	// Tasks recover; the calendar now fails and keeps its last data.
	b.mu.Lock()
	b.taskErr = nil
	b.eventErr = errors.New("calendar down")
	b.mu.Unlock()
	snap, err = c.Refresh(context.Background(), true)
	require.Error(t, err)
	require.Len(t, snap.Events, 1)
	assert.Contains(t, snap.Errors, CollectionEvents)
	assert.NotContains(t, snap.Errors, CollectionTasks)
}

func TestNavigationFetchesOncePerChange(t *testing.T) {
	b := &fakeBackend{}
	c, _ := newController(t, b, model.ViewWeek)
	ctx := context.Background()

	var changes []Change
	c.Observe(func(_ context.Context, ch Change) { changes = append(changes, ch) })

	_, err := c.Refresh(ctx, false)
	require.NoError(t, err)
	_, err = c.GoToNext(ctx)
	require.NoError(t, err)

	events, taskCalls := b.calls()
	assert.Equal(t, 2, events)
	assert.Equal(t, 2, taskCalls)
	require.Len(t, changes, 1)
	assert.True(t, changes[0].Manual)
	assert.Equal(t, time.Date(2024, 3, 21, 0, 0, 0, 0, time.UTC), c.State().SelectedDate)

	// No state change: served from cache.
	_, err = c.Refresh(ctx, false)
	require.NoError(t, err)
	events, _ = b.calls()
	assert.Equal(t, 2, events)
	assert.Len(t, changes, 1)
}

func TestSetViewModeAndToday(t *testing.T) {
	b := &fakeBackend{}
	c, _ := newController(t, b, model.ViewWeek)
	ctx := context.Background()

	snap, err := c.SetViewMode(ctx, model.ViewMonth)
	require.NoError(t, err)
	assert.Equal(t, model.ViewMonth, snap.State.Mode)
	assert.Equal(t, time.Date(2024, 3, 31, 23, 59, 59, 999_000_000, time.UTC), snap.Range.End)

	_, err = c.SetSelectedDate(ctx, time.Date(2024, 5, 2, 15, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	assert.Equal(t, time.Date(2024, 5, 2, 0, 0, 0, 0, time.UTC), c.State().SelectedDate)

	snap, err = c.GoToToday(ctx)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2024, 3, 14, 0, 0, 0, 0, time.UTC), snap.State.SelectedDate)

	_, err = c.SetViewMode(ctx, "fortnight")
	require.Error(t, err)
	assert.True(t, apierr.IsValidation(err))
	assert.Equal(t, model.ViewMonth, c.State().Mode)
}

func TestRolloverRefreshesThroughObserver(t *testing.T) {
	b := &fakeBackend{}
	c, clk := newController(t, b, model.ViewDay)
	ctx := context.Background()

	_, err := c.Refresh(ctx, false)
	require.NoError(t, err)
	lastTick := clk.Now()

	assert.False(t, c.Rollover(ctx, lastTick))
	clk.Advance(13 * time.Hour)
	assert.True(t, c.Rollover(ctx, lastTick))
	assert.Equal(t, time.Date(2024, 3, 15, 0, 0, 0, 0, time.UTC), c.State().SelectedDate)

	events, _ := b.calls()
	assert.Equal(t, 2, events)
}

func TestEndBeforeStartRejectedBeforeNetwork(t *testing.T) {
	b := &fakeBackend{}
	c, _ := newController(t, b, model.ViewWeek)

	_, err := c.CreateEvent(context.Background(), model.CalendarEvent{Title: "Backwards", Start: at(10, 0), End: at(9, 0)})
	require.Error(t, err)
	assert.True(t, apierr.IsValidation(err))
	assert.Equal(t, 0, b.writeCount())
	events, _ := b.calls()
	assert.Equal(t, 0, events)

	notes := c.Snapshot().Notifications
	require.Len(t, notes, 1)
	assert.Equal(t, "error", notes[0].Level)
	assert.NotEmpty(t, notes[0].ID)
}

func TestMutationInvalidatesAndRefetches(t *testing.T) {
	b := &fakeBackend{}
	c, _ := newController(t, b, model.ViewWeek)
	ctx := context.Background()

	_, err := c.Refresh(ctx, false)
	require.NoError(t, err)

	created, err := c.CreateEvent(ctx, model.CalendarEvent{Title: "Review", Start: at(14, 0), End: at(15, 0)})
	require.NoError(t, err)
	assert.Equal(t, "new", created.ID)

	events, taskCalls := b.calls()
	assert.Equal(t, 2, events)
	assert.Equal(t, 1, taskCalls)
	snap := c.Snapshot()
	require.Len(t, snap.Events, 1)
	assert.Equal(t, "Review", snap.Events[0].Title)
}

func TestCompleteTaskRemovesItsEvent(t *testing.T) {
	due := time.Date(2024, 3, 14, 0, 0, 0, 0, time.UTC)
	b := &fakeBackend{lists: []model.TaskList{{ID: "L", Tasks: []model.Task{{ID: "t1", Title: "Pay rent", Status: model.TaskNeedsAction, Due: &due}}}}}
	c, _ := newController(t, b, model.ViewWeek)
	ctx := context.Background()

	snap, err := c.Refresh(ctx, false)
	require.NoError(t, err)
	require.Len(t, snap.Events, 1)

	done, err := c.CompleteTask(ctx, "L", "t1")
	require.NoError(t, err)
	assert.True(t, done.Completed())
	assert.Empty(t, c.Snapshot().Events)

	_, err = c.CompleteTask(ctx, "L", "missing")
	assert.True(t, apierr.IsValidation(err))
}

func TestTaskEventsCannotBeDeletedAsEvents(t *testing.T) {
	b := &fakeBackend{}
	c, _ := newController(t, b, model.ViewWeek)
	err := c.DeleteEvent(context.Background(), "task-t1")
	assert.True(t, apierr.IsValidation(err))
	assert.Equal(t, 0, b.writeCount())
}

func TestReadOnlySources(t *testing.T) {
	b := &fakeBackend{}
	c := New(Sources{Calendar: b, Tasks: b}, Options{Location: time.UTC})
	_, err := c.CreateEvent(context.Background(), model.CalendarEvent{Title: "x", Start: at(9, 0), End: at(10, 0)})
	assert.ErrorIs(t, err, upstream.ErrReadOnly)
	err = c.DeleteTask(context.Background(), "L", "t")
	assert.ErrorIs(t, err, upstream.ErrReadOnly)
}

func TestLayoutOutsideRangeRejected(t *testing.T) {
	b := &fakeBackend{events: []model.CalendarEvent{
		{ID: "a", Title: "A", Start: at(9, 0), End: at(10, 0)},
		{ID: "b", Title: "B", Start: at(9, 30), End: at(10, 30)},
	}}
	c, _ := newController(t, b, model.ViewWeek)
	_, err := c.Refresh(context.Background(), false)
	require.NoError(t, err)

	day, err := c.Layout(at(0, 0))
	require.NoError(t, err)
	require.Len(t, day.Slots, 2)
	assert.Equal(t, 1, day.Slots[1].Column)

	_, err = c.Layout(time.Date(2024, 4, 1, 0, 0, 0, 0, time.UTC))
	assert.True(t, apierr.IsValidation(err))

	assert.Len(t, c.LayoutRange(), 7)
}

func TestNotificationsExpire(t *testing.T) {
	b := &fakeBackend{}
	c, clk := newController(t, b, model.ViewWeek)
	c.Notify("hello")
	require.Len(t, c.Snapshot().Notifications, 1)
	clk.Advance(DefaultNotificationTTL)
	assert.Empty(t, c.Snapshot().Notifications)

	n := c.Notify("again")
	assert.True(t, c.Dismiss(n.ID))
	assert.False(t, c.Dismiss(n.ID))
}

// stuckWriter never answers a create until its context ends.
type stuckWriter struct{ *fakeBackend }

func (stuckWriter) CreateEvent(ctx context.Context, _ model.CalendarEvent) (model.CalendarEvent, error) {
	<-ctx.Done()
	return model.CalendarEvent{}, ctx.Err()
}

func TestWritesAreBounded(t *testing.T) {
	b := &fakeBackend{}
	c := New(Sources{Calendar: b, Tasks: b, CalendarWriter: stuckWriter{b}}, Options{
		Location: time.UTC,
		Now:      func() time.Time { return thursday },
		Cache:    cache.Options{Policy: retry.Policy{MaxAttempts: 1, BaseBackoff: time.Millisecond, Timeout: 50 * time.Millisecond}},
	})

	started := time.Now()
	_, err := c.CreateEvent(context.Background(), model.CalendarEvent{Title: "x", Start: at(9, 0), End: at(10, 0)})
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(started), 5*time.Second)
	listCalls, _ := b.calls()
	assert.Zero(t, listCalls, "a failed write does not refetch")
}
