// Package view owns the navigation state and turns it into fetched,
// unified and laid-out calendar data.
package view

import (
	"context"
	"errors"
	"sync"
	"time"

	"calview/internal/cache"
	"calview/internal/eventset"
	"calview/internal/layout"
	appLog "calview/internal/log"
	"calview/internal/model"
	"calview/internal/tasks"
	"calview/internal/timerange"
	"calview/internal/upstream"
)

// Collection names, used for cache metrics and per-source errors.
const (
	CollectionEvents = "events"
	CollectionTasks  = "tasks"
)

// State is the navigation state. Controller is its only mutator.
type State struct {
	Mode         model.ViewMode `json:"mode"`
	SelectedDate time.Time      `json:"selectedDate"`
}

// Change describes one state transition. Manual is set for changes made
// through the navigation methods, which refresh on their own.
type Change struct {
	Prev   State
	Next   State
	Manual bool
}

// Observer is called after every state change, outside the controller lock.
type Observer func(ctx context.Context, ch Change)

// Sources wires the controller to its upstreams. Writers may be nil, in
// which case mutations fail with upstream.ErrReadOnly.
type Sources struct {
	Calendar       upstream.CalendarSource
	Tasks          upstream.TaskSource
	CalendarWriter upstream.CalendarWriter
	TaskWriter     upstream.TaskWriter
}

// Options configures a Controller. Zero values pick defaults.
type Options struct {
	Mode            model.ViewMode
	Location        *time.Location
	Now             func() time.Time
	Cache           cache.Options
	WidthPolicy     layout.WidthPolicy
	NotificationTTL time.Duration
}

// Controller orchestrates navigation, refresh and mutations.
type Controller struct {
	src       Sources
	events    *cache.Store[[]model.CalendarEvent]
	tasks     *cache.Store[[]model.TaskList]
	projector *tasks.Projector
	loc       *time.Location
	now       func() time.Time
	policy    layout.WidthPolicy

	// writeTimeout bounds each upstream mutation. Zero leaves it unbounded.
	writeTimeout time.Duration

	mu        sync.Mutex
	state     State
	seq       uint64
	observers []Observer
	calendar  []model.CalendarEvent
	taskLists []model.TaskList
	set       *eventset.Set
	errs      map[string]error
	refreshed time.Time
	notes     *notifications
}

// New builds a controller positioned on today.
func New(src Sources, opts Options) *Controller {
	if opts.Location == nil {
		opts.Location = time.Local
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Mode == "" {
		opts.Mode = model.ViewWeek
	}
	if opts.Cache.Now == nil {
		opts.Cache.Now = opts.Now
	}
	if opts.WidthPolicy == "" {
		opts.WidthPolicy = layout.WidthInstant
	}

	c := &Controller{
		src:          src,
		projector:    &tasks.Projector{Location: opts.Location},
		loc:          opts.Location,
		now:          opts.Now,
		policy:       opts.WidthPolicy,
		writeTimeout: opts.Cache.Policy.Timeout,
		set:          eventset.FromEvents(nil),
		errs:         make(map[string]error),
		notes:        newNotifications(opts.NotificationTTL, opts.Now),
	}
	c.state = State{Mode: opts.Mode, SelectedDate: timerange.StartOfDay(c.today())}
	c.events = cache.New(CollectionEvents, func(ctx context.Context, r model.Range, _ model.ViewMode) ([]model.CalendarEvent, error) {
		return src.Calendar.ListEvents(ctx, r)
	}, opts.Cache)
	c.tasks = cache.New(CollectionTasks, func(ctx context.Context, r model.Range, _ model.ViewMode) ([]model.TaskList, error) {
		return src.Tasks.ListTaskLists(ctx, r)
	}, opts.Cache)
	c.observers = []Observer{c.autoRefresh}
	return c
}

func (c *Controller) today() time.Time {
	return c.now().In(c.loc)
}

// Observe registers fn for every subsequent state change.
func (c *Controller) Observe(fn Observer) {
	c.mu.Lock()
	c.observers = append(c.observers, fn)
	c.mu.Unlock()
}

// State returns the current navigation state.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Range is the window the current state shows.
func (c *Controller) Range() model.Range {
	st := c.State()
	return timerange.Resolve(st.Mode, st.SelectedDate)
}

// autoRefresh reacts to changes that did not come from navigation, which
// already refreshes itself.
func (c *Controller) autoRefresh(ctx context.Context, ch Change) {
	if ch.Manual {
		return
	}
	if _, err := c.Refresh(ctx, false); err != nil {
		appLog.Warn("refresh after date change failed", "err", err.Error(), "date", ch.Next.SelectedDate.Format(time.DateOnly))
	}
}

// update applies mutate to the state and notifies observers.
func (c *Controller) update(ctx context.Context, manual bool, mutate func(*State)) (Change, bool) {
	c.mu.Lock()
	prev := c.state
	mutate(&c.state)
	c.state.SelectedDate = timerange.StartOfDay(c.state.SelectedDate.In(c.loc))
	next := c.state
	changed := prev != next
	if changed {
		c.seq++
	}
	observers := append([]Observer(nil), c.observers...)
	c.mu.Unlock()

	ch := Change{Prev: prev, Next: next, Manual: manual}
	if changed {
		appLog.Debug("view state changed", "mode", next.Mode, "date", next.SelectedDate.Format(time.DateOnly), "manual", manual)
		for _, fn := range observers {
			fn(ctx, ch)
		}
	}
	return ch, changed
}

// navigate is the shared path of every public navigation method: one state
// change, one refresh.
func (c *Controller) navigate(ctx context.Context, mutate func(*State)) (Snapshot, error) {
	c.update(ctx, true, mutate)
	return c.Refresh(ctx, false)
}

func (c *Controller) SetViewMode(ctx context.Context, mode model.ViewMode) (Snapshot, error) {
	if _, err := model.ParseViewMode(string(mode)); err != nil {
		return c.Snapshot(), c.fail("set view mode", wrapValidation(err))
	}
	return c.navigate(ctx, func(s *State) { s.Mode = mode })
}

func (c *Controller) SetSelectedDate(ctx context.Context, date time.Time) (Snapshot, error) {
	if date.IsZero() {
		return c.Snapshot(), c.fail("set date", wrapValidation(errors.New("date is required")))
	}
	return c.navigate(ctx, func(s *State) { s.SelectedDate = date })
}

func (c *Controller) GoToToday(ctx context.Context) (Snapshot, error) {
	today := c.today()
	return c.navigate(ctx, func(s *State) { s.SelectedDate = today })
}

func (c *Controller) GoToNext(ctx context.Context) (Snapshot, error) {
	return c.navigate(ctx, func(s *State) { s.SelectedDate = timerange.Step(s.Mode, s.SelectedDate, 1) })
}

func (c *Controller) GoToPrevious(ctx context.Context) (Snapshot, error) {
	return c.navigate(ctx, func(s *State) { s.SelectedDate = timerange.Step(s.Mode, s.SelectedDate, -1) })
}

// Rollover moves a view that was showing yesterday onto today. The change
// is not manual, so observers refresh. Returns whether the date moved.
func (c *Controller) Rollover(ctx context.Context, lastTick time.Time) bool {
	today := timerange.StartOfDay(c.today())
	yesterday := timerange.StartOfDay(lastTick.In(c.loc))
	if !today.After(yesterday) {
		return false
	}
	_, changed := c.update(ctx, false, func(s *State) {
		if timerange.SameDay(s.SelectedDate, yesterday) {
			s.SelectedDate = today
		}
	})
	return changed
}

// Refresh fetches both collections for the current state through their
// caches, concurrently. A failure of one source leaves the other's data in
// place; the returned error joins the per-source failures.
func (c *Controller) Refresh(ctx context.Context, force bool) (Snapshot, error) {
	c.mu.Lock()
	st, seq := c.state, c.seq
	c.mu.Unlock()

	var (
		wg     sync.WaitGroup
		evRes  cache.Result[[]model.CalendarEvent]
		taskRs cache.Result[[]model.TaskList]
	)
	wg.Add(2)
	go func() {
		defer wg.Done()
		evRes = c.events.GetOrFetch(ctx, st.Mode, st.SelectedDate, force)
	}()
	go func() {
		defer wg.Done()
		taskRs = c.tasks.GetOrFetch(ctx, st.Mode, st.SelectedDate, force)
	}()
	wg.Wait()

	c.mu.Lock()
	if seq != c.seq {
		// State moved on while fetching; the newer refresh owns the result.
		c.mu.Unlock()
		appLog.Debug("refresh result superseded by navigation", "mode", st.Mode, "date", st.SelectedDate.Format(time.DateOnly))
		return c.Snapshot(), nil
	}
	evErr := applyResult(c, CollectionEvents, evRes.Data, evRes.Err, &c.calendar)
	taskErr := applyResult(c, CollectionTasks, taskRs.Data, taskRs.Err, &c.taskLists)
	c.set = eventset.Build(c.calendar, c.taskLists, c.projector)
	c.refreshed = c.now()
	c.mu.Unlock()

	if evErr != nil || taskErr != nil {
		appLog.Warn("refresh incomplete", "events_err", errString(evErr), "tasks_err", errString(taskErr))
	}
	return c.Snapshot(), errors.Join(evErr, taskErr)
}

// applyResult stores data and the source's error. A discarded fetch changes
// nothing; a failed fetch with no data keeps the previous data.
func applyResult[T any](c *Controller, name string, data []T, err error, dst *[]T) error {
	if errors.Is(err, cache.ErrDiscarded) {
		return nil
	}
	if data != nil || err == nil {
		*dst = data
	}
	if err != nil {
		c.errs[name] = err
		return err
	}
	delete(c.errs, name)
	return nil
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}

// Layout lays out day, which must fall inside the loaded range.
func (c *Controller) Layout(day time.Time) (layout.DayLayout, error) {
	r := c.Range()
	day = day.In(c.loc)
	if !r.Contains(day) {
		return layout.DayLayout{}, wrapValidation(errors.New("date " + day.Format(time.DateOnly) + " is outside " + r.String()))
	}
	c.mu.Lock()
	set := c.set
	c.mu.Unlock()
	return layout.Day(set, day, c.policy), nil
}

// LayoutRange lays out every day of the current range.
func (c *Controller) LayoutRange() []layout.DayLayout {
	r := c.Range()
	c.mu.Lock()
	set := c.set
	c.mu.Unlock()
	return layout.Range(set, r, c.policy)
}

// Events returns the unified events overlapping the current range.
func (c *Controller) Events() []model.CalendarEvent {
	r := c.Range()
	c.mu.Lock()
	set := c.set
	c.mu.Unlock()
	return set.InRange(r)
}

// Snapshot is a derived read-only view of the controller.
type Snapshot struct {
	State         State                 `json:"state"`
	Range         model.Range           `json:"range"`
	Events        []model.CalendarEvent `json:"events"`
	Errors        map[string]string     `json:"errors,omitempty"`
	Notifications []Notification        `json:"notifications"`
	RefreshedAt   time.Time             `json:"refreshedAt,omitempty"`
}

func (c *Controller) Snapshot() Snapshot {
	c.mu.Lock()
	st := c.state
	set := c.set
	refreshed := c.refreshed
	var errs map[string]string
	if len(c.errs) > 0 {
		errs = make(map[string]string, len(c.errs))
		for k, v := range c.errs {
			errs[k] = v.Error()
		}
	}
	c.mu.Unlock()

	r := timerange.Resolve(st.Mode, st.SelectedDate)
	events := set.InRange(r)
	if events == nil {
		events = []model.CalendarEvent{}
	}
	return Snapshot{
		State:         st,
		Range:         r,
		Events:        events,
		Errors:        errs,
		Notifications: c.notes.active(),
		RefreshedAt:   refreshed,
	}
}
