package schedule

import (
	"sort"
	"time"

	"studentcal/internal/grid"
	"studentcal/internal/model"
)

// DefaultUpcomingLimit is how many upcoming events the dashboard shows.
const DefaultUpcomingLimit = 5

// Upcoming returns up to limit events starting strictly after now, soonest
// first. A non-positive limit uses DefaultUpcomingLimit.
func Upcoming(events []model.CalendarEvent, now time.Time, limit int) []model.CalendarEvent {
	if limit <= 0 {
		limit = DefaultUpcomingLimit
	}
	var out []model.CalendarEvent
	for _, ev := range events {
		if ev.Start.After(now) {
			out = append(out, ev)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if !out[i].Start.Equal(out[j].Start) {
			return out[i].Start.Before(out[j].Start)
		}
		return out[i].Key().Less(out[j].Key())
	})
	if len(out) > limit {
		out = out[:limit]
	}
	if out == nil {
		out = []model.CalendarEvent{}
	}
	return out
}

// Stats are the dashboard counters.
type Stats struct {
	Today              int `json:"today"`
	ThisWeek           int `json:"this_week"`
	PendingAssignments int `json:"pending_assignments"`
	UpcomingExams      int `json:"upcoming_exams"`
}

// ComputeStats counts today's and this week's events (Monday-based, in
// now's location), pending assignments and exams still ahead.
func ComputeStats(events []model.CalendarEvent, now time.Time) Stats {
	var (
		s         Stats
		loc       = now.Location()
		weekStart = grid.WeekStart(now)
		weekEnd   = weekStart.AddDate(0, 0, 7)
	)
	for _, ev := range events {
		start := ev.Start.In(loc)
		if grid.SameDay(start, now, loc) {
			s.Today++
		}
		if !start.Before(weekStart) && start.Before(weekEnd) {
			s.ThisWeek++
		}
		switch ev.Kind {
		case model.KindAssignment:
			// The store only hands out assignments still in "assigned" status.
			s.PendingAssignments++
		case model.KindExam:
			if ev.Start.After(now) {
				s.UpcomingExams++
			}
		}
	}
	return s
}
