package eventset

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"calview/internal/model"
	"calview/internal/tasks"
)

func at(d, h, m int) time.Time { return time.Date(2024, 3, d, h, m, 0, 0, time.UTC) }

func ev(id string, start, end time.Time) model.CalendarEvent {
	return model.CalendarEvent{ID: id, Title: id, Start: start, End: end, EventType: model.EventTypeDefault}
}

func ids(events []model.CalendarEvent) []string {
	out := make([]string, 0, len(events))
	for _, e := range events {
		out = append(out, e.ID)
	}
	return out
}

func TestBuildUnionsCalendarAndTasks(t *testing.T) {
	due := at(14, 0, 0)
	calendar := []model.CalendarEvent{ev("a", at(14, 9, 0), at(14, 10, 0))}
	lists := []model.TaskList{{ID: "L", Tasks: []model.Task{
		{ID: "t1", Title: "Write report", Due: &due},
		{ID: "t2", Title: "Done already", Due: &due, Status: model.TaskCompleted},
	}}}

	s := Build(calendar, lists, &tasks.Projector{Location: time.UTC})
	require.Equal(t, 2, s.Len())
	assert.Equal(t, []string{"task-t1", "a"}, ids(s.All()))

	task, ok := s.Get("task-t1")
	require.True(t, ok)
	assert.Equal(t, model.EventTypeTask, task.EventType)
}

func TestBuildKeepsFirstOnCollision(t *testing.T) {
	calendar := []model.CalendarEvent{
		ev("dup", at(14, 9, 0), at(14, 10, 0)),
		ev("dup", at(14, 11, 0), at(14, 12, 0)),
	}
	s := Build(calendar, nil, nil)
	require.Equal(t, 1, s.Len())
	got, _ := s.Get("dup")
	assert.True(t, got.Start.Equal(at(14, 9, 0)))
}

func TestForDay(t *testing.T) {
	s := FromEvents([]model.CalendarEvent{
		ev("overnight", at(13, 22, 0), at(14, 1, 0)),
		ev("morning", at(14, 9, 0), at(14, 10, 0)),
		ev("twin", at(14, 9, 0), at(14, 10, 0)),
		ev("ends-at-midnight", at(13, 23, 0), at(14, 0, 0)),
		ev("tomorrow", at(15, 0, 0), at(15, 1, 0)),
		ev("instant", at(14, 12, 0), at(14, 12, 0)),
	})

	got := ids(s.ForDay(at(14, 15, 0)))
	assert.Equal(t, []string{"overnight", "morning", "twin", "instant"}, got)
}

func TestBetweenGroupsSameInstantAcrossZones(t *testing.T) {
	kst := time.FixedZone("KST", 9*3600)
	s := FromEvents([]model.CalendarEvent{
		ev("utc", at(14, 0, 0), at(14, 1, 0)),
		ev("kst", at(14, 0, 0).In(kst), at(14, 1, 0).In(kst)),
	})
	assert.ElementsMatch(t, []string{"utc", "kst"}, ids(s.Between(at(14, 0, 0), at(14, 2, 0))))
}

func TestInRangeIncludesInclusiveEnd(t *testing.T) {
	s := FromEvents([]model.CalendarEvent{ev("late", at(16, 23, 59), at(17, 0, 30))})
	r := model.Range{Start: at(10, 0, 0), End: at(16, 23, 59).Add(59*time.Second + 999*time.Millisecond)}
	assert.Equal(t, []string{"late"}, ids(s.InRange(r)))
}

func TestEmptySet(t *testing.T) {
	s := FromEvents(nil)
	assert.Equal(t, 0, s.Len())
	assert.Empty(t, s.ForDay(at(14, 0, 0)))
}

func TestAllReturnsCopy(t *testing.T) {
	s := FromEvents([]model.CalendarEvent{ev("a", at(14, 9, 0), at(14, 10, 0))})
	all := s.All()
	all[0].Title = "mutated"
	got, _ := s.Get("a")
	assert.Equal(t, "a", got.Title)
}
