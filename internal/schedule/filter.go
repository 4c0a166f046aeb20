package schedule

import (
	"strings"
	"time"

	"studentcal/internal/model"
)

// filterAll is the sentinel value the portal's dropdowns send for "no filter".
const filterAll = "all"

// Filter narrows the unified event list in memory. Zero fields match
// everything.
type Filter struct {
	Subject  string
	Location string
	Kinds    []model.Kind

	// From and To bound the event start: From <= start < To.
	From time.Time
	To   time.Time

	// Search is a case-insensitive substring matched against title,
	// subject, location and instructor.
	Search string
}

// IsZero reports whether the filter matches everything.
func (f Filter) IsZero() bool {
	return unset(f.Subject) && unset(f.Location) && len(f.Kinds) == 0 &&
		f.From.IsZero() && f.To.IsZero() && strings.TrimSpace(f.Search) == ""
}

// Match reports whether ev passes every set criterion.
func (f Filter) Match(ev model.CalendarEvent) bool {
	if !unset(f.Subject) && ev.Subject != f.Subject {
		return false
	}
	if !unset(f.Location) && ev.Location != f.Location {
		return false
	}
	if len(f.Kinds) > 0 && !containsKind(f.Kinds, ev.Kind) {
		return false
	}
	if !f.From.IsZero() && ev.Start.Before(f.From) {
		return false
	}
	if !f.To.IsZero() && !ev.Start.Before(f.To) {
		return false
	}
	if q := strings.ToLower(strings.TrimSpace(f.Search)); q != "" {
		if !matchesSearch(ev, q) {
			return false
		}
	}
	return true
}

// Apply returns the events matching f, preserving order. The input is
// never modified.
func Apply(events []model.CalendarEvent, f Filter) []model.CalendarEvent {
	out := make([]model.CalendarEvent, 0, len(events))
	for _, ev := range events {
		if f.Match(ev) {
			out = append(out, ev)
		}
	}
	return out
}

func unset(v string) bool {
	v = strings.TrimSpace(v)
	return v == "" || strings.EqualFold(v, filterAll)
}

func containsKind(kinds []model.Kind, k model.Kind) bool {
	for _, x := range kinds {
		if x == k {
			return true
		}
	}
	return false
}

func matchesSearch(ev model.CalendarEvent, q string) bool {
	for _, field := range []string{ev.Title, ev.Subject, ev.Location, ev.Instructor} {
		if field != "" && strings.Contains(strings.ToLower(field), q) {
			return true
		}
	}
	return false
}
