// Package grid lays the unified event list out as day, week or month
// calendar cells. Weeks start on Monday. Every function here is a pure
// computation over its arguments.
package grid

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"studentcal/internal/model"
)

// Granularity is the calendar view scale.
type Granularity string

const (
	Day   Granularity = "day"
	Week  Granularity = "week"
	Month Granularity = "month"
)

// ErrUnknownGranularity is returned for anything but day, week or month.
var ErrUnknownGranularity = errors.New("unknown granularity")

// ParseGranularity accepts day, week or month in any case.
func ParseGranularity(s string) (Granularity, error) {
	switch g := Granularity(strings.ToLower(strings.TrimSpace(s))); g {
	case Day, Week, Month:
		return g, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownGranularity, s)
	}
}

// Cell is one calendar date and the events starting on it.
type Cell struct {
	Date            time.Time             `json:"date"`
	Events          []model.CalendarEvent `json:"events"`
	IsCurrentPeriod bool                  `json:"is_current_period"`
	IsToday         bool                  `json:"is_today"`
}

// Grid is the view model for one granularity and reference date.
type Grid struct {
	Granularity  Granularity `json:"granularity"`
	Reference    time.Time   `json:"reference"`
	Cells        []Cell      `json:"cells"`
	HideWeekends bool        `json:"hide_weekends,omitempty"`
}

// Width is the number of cells per row: five with weekends hidden,
// seven otherwise.
func (g Grid) Width() int {
	if g.HideWeekends {
		return 5
	}
	return 7
}

// Rows splits the cells into rows of Width. Day grids return one short row.
func (g Grid) Rows() [][]Cell {
	var rows [][]Cell
	width := g.Width()
	for i := 0; i < len(g.Cells); i += width {
		end := i + width
		if end > len(g.Cells) {
			end = len(g.Cells)
		}
		rows = append(rows, g.Cells[i:end])
	}
	return rows
}

// WithoutWeekends drops the Saturday and Sunday cells of a week or month
// grid. Day grids are returned unchanged.
func (g Grid) WithoutWeekends() Grid {
	if g.Granularity == Day || g.HideWeekends {
		return g
	}
	cells := make([]Cell, 0, len(g.Cells))
	for _, c := range g.Cells {
		if wd := c.Date.Weekday(); wd == time.Saturday || wd == time.Sunday {
			continue
		}
		cells = append(cells, c)
	}
	g.Cells = cells
	g.HideWeekends = true
	return g
}

// StartOfDay truncates t to midnight in its own location.
func StartOfDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}

// SameDay reports whether a and b fall on the same calendar date in loc.
func SameDay(a, b time.Time, loc *time.Location) bool {
	ay, am, ad := a.In(loc).Date()
	by, bm, bd := b.In(loc).Date()
	return ay == by && am == bm && ad == bd
}

// WeekStart returns midnight of the Monday on or before t.
func WeekStart(t time.Time) time.Time {
	day := StartOfDay(t)
	offset := (int(day.Weekday()) + 6) % 7 // Monday=0 ... Sunday=6
	return day.AddDate(0, 0, -offset)
}

// WeekEnd returns midnight of the Sunday on or after t.
func WeekEnd(t time.Time) time.Time {
	return WeekStart(t).AddDate(0, 0, 6)
}

// Dates returns the midnight of every date a grid of granularity g around
// ref covers, in ref's location.
func Dates(g Granularity, ref time.Time) ([]time.Time, error) {
	var first, last time.Time
	switch g {
	case Day:
		first = StartOfDay(ref)
		last = first
	case Week:
		first = WeekStart(ref)
		last = first.AddDate(0, 0, 6)
	case Month:
		y, m, _ := ref.Date()
		monthFirst := time.Date(y, m, 1, 0, 0, 0, 0, ref.Location())
		monthLast := monthFirst.AddDate(0, 1, -1)
		first = WeekStart(monthFirst)
		last = WeekEnd(monthLast)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownGranularity, g)
	}

	var out []time.Time
	// AddDate on the civil date keeps every cell at midnight across DST.
	for d := first; !d.After(last); d = d.AddDate(0, 0, 1) {
		out = append(out, d)
	}
	return out, nil
}

// Build buckets events into the cells of a granularity g grid around ref.
// Dates are computed in ref's location; an event lands on the cell of its
// start date only, even when it runs over several days. now marks IsToday.
func Build(g Granularity, ref time.Time, events []model.CalendarEvent, now time.Time) (Grid, error) {
	dates, err := Dates(g, ref)
	if err != nil {
		return Grid{}, err
	}
	loc := ref.Location()

	byDay := make(map[string][]model.CalendarEvent)
	for _, ev := range events {
		k := dayKey(ev.Start.In(loc))
		byDay[k] = append(byDay[k], ev)
	}

	refYear, refMonth, _ := ref.Date()
	cells := make([]Cell, 0, len(dates))
	for _, d := range dates {
		bucket := append([]model.CalendarEvent(nil), byDay[dayKey(d)]...)
		sortEvents(bucket)
		if bucket == nil {
			bucket = []model.CalendarEvent{}
		}

		current := true
		if g == Month {
			y, m, _ := d.Date()
			current = y == refYear && m == refMonth
		}

		cells = append(cells, Cell{
			Date:            d,
			Events:          bucket,
			IsCurrentPeriod: current,
			IsToday:         SameDay(d, now, loc),
		})
	}

	return Grid{
		Granularity: g,
		Reference:   StartOfDay(ref),
		Cells:       cells,
	}, nil
}

func dayKey(t time.Time) string {
	return t.Format("2006-01-02")
}

// sortEvents orders a cell by start, then end, then (kind, id), so equal
// inputs always render identically.
func sortEvents(evs []model.CalendarEvent) {
	sort.SliceStable(evs, func(i, j int) bool {
		a, b := evs[i], evs[j]
		if !a.Start.Equal(b.Start) {
			return a.Start.Before(b.Start)
		}
		if !a.End.Equal(b.End) {
			return a.End.Before(b.End)
		}
		return a.Key().Less(b.Key())
	})
}
