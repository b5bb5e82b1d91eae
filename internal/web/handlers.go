package web

import (
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/mux"

	"calview/internal/apierr"
	"calview/internal/ics"
	"calview/internal/layout"
	"calview/internal/model"
	"calview/internal/normalize"
	"calview/internal/view"
)

func (s *Server) handleState(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.ctl.Snapshot())
}

type layoutResponse struct {
	Range model.Range        `json:"range"`
	Days  []layout.DayLayout `json:"days"`
}

func (s *Server) handleLayout(w http.ResponseWriter, r *http.Request) {
	if v := r.URL.Query().Get("date"); v != "" {
		day, err := time.ParseInLocation(time.DateOnly, v, s.opts.Location)
		if err != nil {
			writeError(w, http.StatusBadRequest, "date must be YYYY-MM-DD")
			return
		}
		dl, err := s.ctl.Layout(day)
		if err != nil {
			writeAPIError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, dl)
		return
	}
	writeJSON(w, http.StatusOK, layoutResponse{Range: s.ctl.Range(), Days: s.ctl.LayoutRange()})
}

func (s *Server) handleICS(w http.ResponseWriter, _ *http.Request) {
	body := ics.Export(s.ctl.Events(), s.opts.Now())
	w.Header().Set("Content-Type", "text/calendar; charset=utf-8")
	w.Header().Set("Content-Disposition", `attachment; filename="calview.ics"`)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(body))
}

// writeSnapshot answers a navigation call. Fetch failures are reported in
// the snapshot; only rejected input is an error response.
func writeSnapshot(w http.ResponseWriter, snap view.Snapshot, err error) {
	if err != nil && apierr.IsValidation(err) {
		writeAPIError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

func (s *Server) handleSetMode(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Mode string `json:"mode"`
	}
	if err := decodeJSON(w, r, &req); err != nil {
		writeAPIError(w, err)
		return
	}
	snap, err := s.ctl.SetViewMode(r.Context(), model.ViewMode(strings.ToLower(strings.TrimSpace(req.Mode))))
	writeSnapshot(w, snap, err)
}

func (s *Server) handleSetDate(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Date string `json:"date"`
	}
	if err := decodeJSON(w, r, &req); err != nil {
		writeAPIError(w, err)
		return
	}
	day, err := s.normalizer.ParseDate(&normalize.EventDate{Raw: req.Date})
	if err != nil {
		writeError(w, http.StatusBadRequest, "date must be YYYY-MM-DD or ISO-8601")
		return
	}
	snap, err := s.ctl.SetSelectedDate(r.Context(), day)
	writeSnapshot(w, snap, err)
}

func (s *Server) handleNavigate(w http.ResponseWriter, r *http.Request) {
	var (
		snap view.Snapshot
		err  error
	)
	switch mux.Vars(r)["action"] {
	case "next":
		snap, err = s.ctl.GoToNext(r.Context())
	case "previous":
		snap, err = s.ctl.GoToPrevious(r.Context())
	default:
		snap, err = s.ctl.GoToToday(r.Context())
	}
	writeSnapshot(w, snap, err)
}

func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	force := r.URL.Query().Get("force") == "true"
	snap, err := s.ctl.Refresh(r.Context(), force)
	writeSnapshot(w, snap, err)
}

// eventRequest is the body of event create/update. Dates accept the same
// shapes as the upstream: an ISO string, {dateTime} or {date}.
type eventRequest struct {
	Title       string               `json:"title"`
	Start       *normalize.EventDate `json:"start"`
	End         *normalize.EventDate `json:"end"`
	IsAllDay    bool                 `json:"isAllDay"`
	EventType   string               `json:"eventType"`
	Description string               `json:"description"`
	Location    string               `json:"location"`
}

func (s *Server) decodeEvent(w http.ResponseWriter, r *http.Request) (model.CalendarEvent, error) {
	var req eventRequest
	if err := decodeJSON(w, r, &req); err != nil {
		return model.CalendarEvent{}, err
	}
	start, err := s.normalizer.ParseDate(req.Start)
	if err != nil {
		return model.CalendarEvent{}, apierr.Validation("start: %v", err)
	}
	allDay := req.IsAllDay || req.Start.DateOnly()
	var end time.Time
	switch {
	case req.End.IsZero() && allDay:
		end = start.AddDate(0, 0, 1)
	case req.End.IsZero():
		end = start.Add(normalize.DefaultDuration)
	default:
		if end, err = s.normalizer.ParseDate(req.End); err != nil {
			return model.CalendarEvent{}, apierr.Validation("end: %v", err)
		}
	}
	eventType := model.EventType(req.EventType)
	if eventType == model.EventTypeUnset {
		eventType = normalize.InferType(req.Title)
	}
	return model.CalendarEvent{
		Title:     req.Title,
		Start:     start,
		End:       end,
		IsAllDay:  allDay,
		EventType: eventType,
		Source:    model.SourceCalendar,
		Details:   model.Details{Description: req.Description, Location: req.Location},
	}, nil
}

func (s *Server) handleCreateEvent(w http.ResponseWriter, r *http.Request) {
	ev, err := s.decodeEvent(w, r)
	if err != nil {
		writeAPIError(w, err)
		return
	}
	created, err := s.ctl.CreateEvent(r.Context(), ev)
	if err != nil {
		writeAPIError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, created)
}

func (s *Server) handleUpdateEvent(w http.ResponseWriter, r *http.Request) {
	ev, err := s.decodeEvent(w, r)
	if err != nil {
		writeAPIError(w, err)
		return
	}
	ev.ID = mux.Vars(r)["id"]
	updated, err := s.ctl.UpdateEvent(r.Context(), ev)
	if err != nil {
		writeAPIError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, updated)
}

func (s *Server) handleDeleteEvent(w http.ResponseWriter, r *http.Request) {
	if err := s.ctl.DeleteEvent(r.Context(), mux.Vars(r)["id"]); err != nil {
		writeAPIError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type taskRequest struct {
	Title   string               `json:"title"`
	Notes   string               `json:"notes"`
	Status  string               `json:"status"`
	Due     *normalize.EventDate `json:"due"`
	DueTime *string              `json:"dueTime"`
}

func (s *Server) decodeTask(w http.ResponseWriter, r *http.Request) (model.Task, error) {
	var req taskRequest
	if err := decodeJSON(w, r, &req); err != nil {
		return model.Task{}, err
	}
	t := model.Task{Title: req.Title, Notes: req.Notes, Status: req.Status, DueTime: req.DueTime}
	if !req.Due.IsZero() {
		due, err := s.normalizer.ParseDate(req.Due)
		if err != nil {
			return model.Task{}, apierr.Validation("due: %v", err)
		}
		t.Due = &due
	}
	return t, nil
}

func (s *Server) handleCreateTask(w http.ResponseWriter, r *http.Request) {
	t, err := s.decodeTask(w, r)
	if err != nil {
		writeAPIError(w, err)
		return
	}
	created, err := s.ctl.CreateTask(r.Context(), mux.Vars(r)["list"], t)
	if err != nil {
		writeAPIError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, created)
}

func (s *Server) handleUpdateTask(w http.ResponseWriter, r *http.Request) {
	t, err := s.decodeTask(w, r)
	if err != nil {
		writeAPIError(w, err)
		return
	}
	vars := mux.Vars(r)
	t.ID = vars["id"]
	updated, err := s.ctl.UpdateTask(r.Context(), vars["list"], t)
	if err != nil {
		writeAPIError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, updated)
}

func (s *Server) handleDeleteTask(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	if err := s.ctl.DeleteTask(r.Context(), vars["list"], vars["id"]); err != nil {
		writeAPIError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleCompleteTask(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	done, err := s.ctl.CompleteTask(r.Context(), vars["list"], vars["id"])
	if err != nil {
		writeAPIError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, done)
}

func (s *Server) handleDismiss(w http.ResponseWriter, r *http.Request) {
	if !s.ctl.Dismiss(mux.Vars(r)["id"]) {
		writeError(w, http.StatusNotFound, "no such notification")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
