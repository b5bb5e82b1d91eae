package web

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"calview/internal/cache"
	"calview/internal/config"
	"calview/internal/layout"
	"calview/internal/model"
	"calview/internal/retry"
	"calview/internal/view"
)

type fakeBackend struct {
	mu     sync.Mutex
	events []model.CalendarEvent
	lists  []model.TaskList
	writes []string
}

func (f *fakeBackend) ListEvents(context.Context, model.Range) ([]model.CalendarEvent, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]model.CalendarEvent(nil), f.events...), nil
}

func (f *fakeBackend) ListTaskLists(context.Context, model.Range) ([]model.TaskList, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
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
	ev.ID = "created"
	f.events = append(f.events, ev)
	return ev, nil
}

func (f *fakeBackend) UpdateEvent(_ context.Context, ev model.CalendarEvent) (model.CalendarEvent, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.writes = append(f.writes, "update-event")
	return ev, nil
}

func (f *fakeBackend) DeleteEvent(context.Context, string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.writes = append(f.writes, "delete-event")
	return nil
}

func (f *fakeBackend) CreateTask(_ context.Context, listID string, t model.Task) (model.Task, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.writes = append(f.writes, "create-task")
	t.ID = "t-new"
	for i := range f.lists {
		if f.lists[i].ID == listID {
			f.lists[i].Tasks = append(f.lists[i].Tasks, t)
		}
	}
	return t, nil
}

func (f *fakeBackend) UpdateTask(_ context.Context, listID string, t model.Task) (model.Task, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.writes = append(f.writes, "update-task")
	for i := range f.lists {
		if f.lists[i].ID != listID {
			continue
		}
		for j := range f.lists[i].Tasks {
			if f.lists[i].Tasks[j].ID == t.ID {
				f.lists[i].Tasks[j] = t
			}
		}
	}
	return t, nil
}

func (f *fakeBackend) DeleteTask(context.Context, string, string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.writes = append(f.writes, "delete-task")
	return nil
}

func (f *fakeBackend) writeCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.writes)
}

var thursday = time.Date(2024, 3, 14, 12, 0, 0, 0, time.UTC)

func fixture() *fakeBackend {
	due := time.Date(2024, 3, 15, 0, 0, 0, 0, time.UTC)
	return &fakeBackend{
		events: []model.CalendarEvent{
			{ID: "e1", Title: "Standup", Start: time.Date(2024, 3, 14, 9, 0, 0, 0, time.UTC), End: time.Date(2024, 3, 14, 9, 30, 0, 0, time.UTC)},
			{ID: "e2", Title: "Review", Start: time.Date(2024, 3, 14, 9, 15, 0, 0, time.UTC), End: time.Date(2024, 3, 14, 10, 0, 0, 0, time.UTC)},
		},
		lists: []model.TaskList{{ID: "L", Title: "Inbox", Tasks: []model.Task{
			{ID: "t1", Title: "Pay rent", Status: model.TaskNeedsAction, Due: &due},
		}}},
	}
}

func newTestServer(t *testing.T, src view.Sources, ba *config.BasicAuthConfig) *Server {
	t.Helper()
	now := func() time.Time { return thursday }
	ctl := view.New(src, view.Options{
		Mode:     model.ViewWeek,
		Location: time.UTC,
		Now:      now,
		Cache: cache.Options{
			Duration: 5 * time.Minute,
			Policy:   retry.Policy{MaxAttempts: 1, BaseBackoff: time.Millisecond, Timeout: time.Second},
		},
	})
	_, err := ctl.Refresh(context.Background(), false)
	require.NoError(t, err)
	return NewServer(ctl, Options{BasicAuth: ba, Location: time.UTC, Now: now})
}

func fullSources(b *fakeBackend) view.Sources {
	return view.Sources{Calendar: b, Tasks: b, CalendarWriter: b, TaskWriter: b}
}

func do(t *testing.T, s *Server, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	rr := httptest.NewRecorder()
	s.Handler().ServeHTTP(rr, req)
	return rr
}

func decode[T any](t *testing.T, rr *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &v), rr.Body.String())
	return v
}

func TestHealth(t *testing.T) {
	s := newTestServer(t, fullSources(fixture()), nil)
	rr := do(t, s, http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "ok\n", rr.Body.String())
}

func TestBasicAuth(t *testing.T) {
	s := newTestServer(t, fullSources(fixture()), &config.BasicAuthConfig{Username: "admin", Password: "secret"})

	rr := do(t, s, http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusOK, rr.Code)

	rr = do(t, s, http.MethodGet, "/api/state", "")
	assert.Equal(t, http.StatusUnauthorized, rr.Code)
	assert.Contains(t, rr.Header().Get("WWW-Authenticate"), `realm="calview"`)

	req := httptest.NewRequest(http.MethodGet, "/api/state", nil)
	req.SetBasicAuth("admin", "wrong")
	rr = httptest.NewRecorder()
	s.Handler().ServeHTTP(rr, req)
	assert.Equal(t, http.StatusUnauthorized, rr.Code)

	req = httptest.NewRequest(http.MethodGet, "/api/state", nil)
	req.SetBasicAuth("admin", "secret")
	rr = httptest.NewRecorder()
	s.Handler().ServeHTTP(rr, req)
	assert.Equal(t, http.StatusOK, rr.Code)
}

func TestBasicAuthDisabledWithoutPassword(t *testing.T) {
	s := newTestServer(t, fullSources(fixture()), &config.BasicAuthConfig{Username: "admin"})
	rr := do(t, s, http.MethodGet, "/api/state", "")
	assert.Equal(t, http.StatusOK, rr.Code)
}

func TestRecoverMiddleware(t *testing.T) {
	s := newTestServer(t, fullSources(fixture()), nil)
	s.router.HandleFunc("/boom", func(http.ResponseWriter, *http.Request) { panic("kaboom") })

	rr := do(t, s, http.MethodGet, "/boom", "")
	assert.Equal(t, http.StatusInternalServerError, rr.Code)
	resp := decode[ErrorResponse](t, rr)
	assert.Equal(t, http.StatusInternalServerError, resp.Code)
}

func TestState(t *testing.T) {
	s := newTestServer(t, fullSources(fixture()), nil)
	rr := do(t, s, http.MethodGet, "/api/state", "")
	require.Equal(t, http.StatusOK, rr.Code)

	snap := decode[view.Snapshot](t, rr)
	assert.Equal(t, model.ViewWeek, snap.State.Mode)
	require.Len(t, snap.Events, 3)
	assert.Equal(t, "task-t1", snap.Events[2].ID)
	assert.Empty(t, snap.Errors)
}

func TestSetModeAndNavigate(t *testing.T) {
	s := newTestServer(t, fullSources(fixture()), nil)

	rr := do(t, s, http.MethodPost, "/api/view/mode", `{"mode":"Day"}`)
	require.Equal(t, http.StatusOK, rr.Code)
	snap := decode[view.Snapshot](t, rr)
	assert.Equal(t, model.ViewDay, snap.State.Mode)
	assert.Len(t, snap.Events, 2)

	rr = do(t, s, http.MethodPost, "/api/view/next", "")
	require.Equal(t, http.StatusOK, rr.Code)
	snap = decode[view.Snapshot](t, rr)
	assert.Equal(t, time.Date(2024, 3, 15, 0, 0, 0, 0, time.UTC), snap.State.SelectedDate.UTC())

	rr = do(t, s, http.MethodPost, "/api/view/date", `{"date":"2024-04-02"}`)
	require.Equal(t, http.StatusOK, rr.Code)
	snap = decode[view.Snapshot](t, rr)
	assert.Equal(t, time.Date(2024, 4, 2, 0, 0, 0, 0, time.UTC), snap.State.SelectedDate.UTC())
	assert.Empty(t, snap.Events)

	rr = do(t, s, http.MethodPost, "/api/view/today", "")
	require.Equal(t, http.StatusOK, rr.Code)
	snap = decode[view.Snapshot](t, rr)
	assert.Equal(t, time.Date(2024, 3, 14, 0, 0, 0, 0, time.UTC), snap.State.SelectedDate.UTC())
}

func TestNavigationRejectsBadInput(t *testing.T) {
	s := newTestServer(t, fullSources(fixture()), nil)

	rr := do(t, s, http.MethodPost, "/api/view/mode", `{"mode":"year"}`)
	assert.Equal(t, http.StatusBadRequest, rr.Code)

	rr = do(t, s, http.MethodPost, "/api/view/date", `{"date":"next tuesday"}`)
	assert.Equal(t, http.StatusBadRequest, rr.Code)

	rr = do(t, s, http.MethodPost, "/api/view/mode", `{"mode":"day","extra":1}`)
	assert.Equal(t, http.StatusBadRequest, rr.Code)

	rr = do(t, s, http.MethodPost, "/api/view/sideways", "")
	assert.Equal(t, http.StatusNotFound, rr.Code)
}

func TestLayout(t *testing.T) {
	s := newTestServer(t, fullSources(fixture()), nil)

	rr := do(t, s, http.MethodGet, "/api/layout?date=2024-03-14", "")
	require.Equal(t, http.StatusOK, rr.Code)
	day := decode[layout.DayLayout](t, rr)
	require.Len(t, day.Slots, 2)
	assert.Equal(t, "e1", day.Slots[0].Event.ID)
	assert.Equal(t, 0, day.Slots[0].Column)
	assert.Equal(t, 1, day.Slots[0].ColumnsInSlot)
	assert.Equal(t, 1, day.Slots[1].Column)
	assert.Equal(t, 2, day.Slots[1].ColumnsInSlot)
	assert.InDelta(t, day.Slots[0].WidthFraction/2, day.Slots[1].WidthFraction, 1e-9)

	rr = do(t, s, http.MethodGet, "/api/layout", "")
	require.Equal(t, http.StatusOK, rr.Code)
	full := decode[layoutResponse](t, rr)
	assert.Len(t, full.Days, 7)

	rr = do(t, s, http.MethodGet, "/api/layout?date=14/03/2024", "")
	assert.Equal(t, http.StatusBadRequest, rr.Code)

	rr = do(t, s, http.MethodGet, "/api/layout?date=2024-05-01", "")
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestEventsICS(t *testing.T) {
	s := newTestServer(t, fullSources(fixture()), nil)
	rr := do(t, s, http.MethodGet, "/api/events.ics", "")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.True(t, strings.HasPrefix(rr.Header().Get("Content-Type"), "text/calendar"))
	body := rr.Body.String()
	assert.Contains(t, body, "BEGIN:VCALENDAR")
	assert.Contains(t, body, "SUMMARY:Standup")
	assert.Contains(t, body, "SUMMARY:Pay rent")
}

func TestCreateEvent(t *testing.T) {
	b := fixture()
	s := newTestServer(t, fullSources(b), nil)

	rr := do(t, s, http.MethodPost, "/api/events", `{"title":"Lunch","start":"2024-03-14T12:00:00Z"}`)
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
	created := decode[model.CalendarEvent](t, rr)
	assert.Equal(t, "created", created.ID)
	assert.Equal(t, time.Hour, created.Duration())
	assert.Equal(t, model.EventTypeDefault, created.EventType)

	rr = do(t, s, http.MethodGet, "/api/state", "")
	snap := decode[view.Snapshot](t, rr)
	assert.Len(t, snap.Events, 4)
}

func TestCreateEventEndBeforeStart(t *testing.T) {
	b := fixture()
	s := newTestServer(t, fullSources(b), nil)

	rr := do(t, s, http.MethodPost, "/api/events",
		`{"title":"Backwards","start":"2024-03-14T12:00:00Z","end":"2024-03-14T11:00:00Z"}`)
	assert.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Zero(t, b.writeCount())
}

func TestDeleteTaskEventAsEventRejected(t *testing.T) {
	b := fixture()
	s := newTestServer(t, fullSources(b), nil)

	rr := do(t, s, http.MethodDelete, "/api/events/task-t1", "")
	assert.Equal(t, http.StatusBadRequest, rr.Code)

	rr = do(t, s, http.MethodDelete, "/api/events/e1", "")
	assert.Equal(t, http.StatusNoContent, rr.Code)
	assert.Equal(t, 1, b.writeCount())
}

func TestTaskCreateAndComplete(t *testing.T) {
	b := fixture()
	s := newTestServer(t, fullSources(b), nil)

	rr := do(t, s, http.MethodPost, "/api/tasks/L", `{"title":"Call mum","due":"2024-03-14","dueTime":"16:30"}`)
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
	created := decode[model.Task](t, rr)
	require.NotNil(t, created.Due)
	assert.Equal(t, "t-new", created.ID)

	rr = do(t, s, http.MethodPost, "/api/tasks/L/t1/complete", "")
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	done := decode[model.Task](t, rr)
	assert.Equal(t, model.TaskCompleted, done.Status)

	rr = do(t, s, http.MethodGet, "/api/state", "")
	snap := decode[view.Snapshot](t, rr)
	var ids []string
	for _, ev := range snap.Events {
		ids = append(ids, ev.ID)
	}
	assert.Contains(t, ids, "task-t-new")
	assert.NotContains(t, ids, "task-t1")

	rr = do(t, s, http.MethodPost, "/api/tasks/L/missing/complete", "")
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestReadOnlySourceIsMethodNotAllowed(t *testing.T) {
	b := fixture()
	s := newTestServer(t, view.Sources{Calendar: b, Tasks: b}, nil)

	rr := do(t, s, http.MethodPost, "/api/events", `{"title":"Lunch","start":"2024-03-14T12:00:00Z"}`)
	assert.Equal(t, http.StatusMethodNotAllowed, rr.Code)

	rr = do(t, s, http.MethodDelete, "/api/tasks/L/t1", "")
	assert.Equal(t, http.StatusMethodNotAllowed, rr.Code)
}

func TestNotificationDismiss(t *testing.T) {
	s := newTestServer(t, fullSources(fixture()), nil)
	n := s.ctl.Notify("saved")

	rr := do(t, s, http.MethodDelete, "/api/notifications/"+n.ID, "")
	assert.Equal(t, http.StatusNoContent, rr.Code)

	rr = do(t, s, http.MethodDelete, "/api/notifications/"+n.ID, "")
	assert.Equal(t, http.StatusNotFound, rr.Code)
}

func TestMetricsEndpoint(t *testing.T) {
	s := newTestServer(t, fullSources(fixture()), nil)
	do(t, s, http.MethodGet, "/api/state", "")

	rr := do(t, s, http.MethodGet, "/metrics", "")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), "calview_http_requests_total")
}
