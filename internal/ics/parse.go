package ics

import (
	"bytes"
	"errors"
	"strings"
	"time"

	ical "github.com/arran4/golang-ical"

	appLog "studentcal/internal/log"
)

// VEvent is the subset of a VEVENT the schedule needs.
type VEvent struct {
	FeedID string

	UID         string
	Summary     string
	Description string
	Location    string
	Categories  string

	Start  time.Time
	End    time.Time
	AllDay bool

	RRule   string
	ExDates []time.Time
	// RecurrenceID is set on overrides of a single recurring instance.
	RecurrenceID *time.Time
}

// Parse decodes an ICS payload. VEVENTs without a UID or DTSTART are
// skipped with a warning; the rest of the calendar is still returned.
// Zone-less DATE-TIME values and all-day dates are read in loc.
func Parse(feedID string, body []byte, loc *time.Location) ([]VEvent, error) {
	if len(body) == 0 {
		return nil, errors.New("empty ICS body")
	}
	if loc == nil {
		loc = time.UTC
	}

	cal, err := ical.ParseCalendar(bytes.NewReader(body))
	if err != nil {
		return nil, err
	}

	out := make([]VEvent, 0, len(cal.Events()))
	for _, comp := range cal.Events() {
		ev, err := parseVEvent(feedID, comp, loc)
		if err != nil {
			appLog.Warn("ics vevent skipped", "feed", feedID, "err", err)
			continue
		}
		out = append(out, ev)
	}
	appLog.Debug("ics parse completed", "feed", feedID, "event_count", len(out))
	return out, nil
}

func parseVEvent(feedID string, ve *ical.VEvent, loc *time.Location) (VEvent, error) {
	out := VEvent{FeedID: feedID}

	p := ve.GetProperty(ical.ComponentPropertyUniqueId)
	if p == nil || p.Value == "" {
		return out, errors.New("missing UID")
	}
	out.UID = p.Value

	out.Summary = propValue(ve, ical.ComponentPropertySummary)
	out.Description = propValue(ve, ical.ComponentPropertyDescription)
	out.Location = propValue(ve, ical.ComponentPropertyLocation)
	out.Categories = propValue(ve, "CATEGORIES")

	dtStart := ve.GetProperty(ical.ComponentPropertyDtStart)
	if dtStart == nil {
		return out, errors.New("missing DTSTART")
	}
	out.AllDay = isDateValue(dtStart)

	if out.AllDay {
		start, err := parseICSTime(dtStart.Value, loc)
		if err != nil {
			return out, err
		}
		out.Start = start
		out.End = start.AddDate(0, 0, 1)
		if dtEnd := ve.GetProperty(ical.ComponentPropertyDtEnd); dtEnd != nil {
			if end, err := parseICSTime(dtEnd.Value, loc); err == nil && end.After(start) {
				out.End = end
			}
		}
	} else {
		start, err := ve.GetStartAt()
		if err != nil {
			return out, err
		}
		out.Start = reinterpretFloating(start, dtStart, loc)
		out.End = out.Start
		if dtEnd := ve.GetProperty(ical.ComponentPropertyDtEnd); dtEnd != nil {
			if end, err := ve.GetEndAt(); err == nil {
				out.End = reinterpretFloating(end, dtEnd, loc)
			}
		}
	}

	out.RRule = propValue(ve, ical.ComponentPropertyRrule)

	for _, p := range ve.GetProperties(ical.ComponentPropertyExdate) {
		for _, part := range strings.Split(p.Value, ",") {
			if t, err := parseICSTime(part, loc); err == nil {
				out.ExDates = append(out.ExDates, t)
			}
		}
	}

	if rid := ve.GetProperty("RECURRENCE-ID"); rid != nil {
		if t, err := parseICSTime(rid.Value, loc); err == nil {
			out.RecurrenceID = &t
		}
	}
	return out, nil
}

func propValue(ve *ical.VEvent, prop ical.ComponentProperty) string {
	if p := ve.GetProperty(prop); p != nil {
		return p.Value
	}
	return ""
}

func isDateValue(p *ical.IANAProperty) bool {
	if vs, ok := p.ICalParameters["VALUE"]; ok && len(vs) > 0 && strings.EqualFold(vs[0], "DATE") {
		return true
	}
	return !strings.Contains(p.Value, "T")
}

// reinterpretFloating moves a DATE-TIME with neither TZID nor a trailing Z
// into loc, keeping its wall clock.
func reinterpretFloating(t time.Time, p *ical.IANAProperty, loc *time.Location) time.Time {
	if strings.HasSuffix(p.Value, "Z") {
		return t
	}
	if _, ok := p.ICalParameters["TZID"]; ok {
		return t
	}
	return time.Date(t.Year(), t.Month(), t.Day(), t.Hour(), t.Minute(), t.Second(), 0, loc)
}

// parseICSTime handles the basic UTC, floating and DATE forms used by
// EXDATE and RECURRENCE-ID.
func parseICSTime(v string, loc *time.Location) (time.Time, error) {
	v = strings.TrimSpace(v)
	switch {
	case v == "":
		return time.Time{}, errors.New("empty time value")
	case strings.HasSuffix(v, "Z"):
		return time.Parse("20060102T150405Z", v)
	case strings.Contains(v, "T"):
		return time.ParseInLocation("20060102T150405", v, loc)
	default:
		return time.ParseInLocation("20060102", v, loc)
	}
}
