package ics

import (
	"errors"
	"strings"
	"time"

	"github.com/teambition/rrule-go"

	appLog "studentcal/internal/log"
	"studentcal/internal/model"
)

// DefaultMaxOccurrences caps the instances produced by a single rule.
const DefaultMaxOccurrences = 5000

// Window bounds an expansion; both ends are inclusive.
type Window struct {
	From time.Time
	To   time.Time
	// Max caps instances per rule; zero uses DefaultMaxOccurrences.
	Max int
}

func (w Window) max() int {
	if w.Max <= 0 {
		return DefaultMaxOccurrences
	}
	return w.Max
}

// Occurrence is one concrete instance of a feed VEVENT.
type Occurrence struct {
	FeedID   string
	UID      string
	Summary  string
	Location string
	Category string
	AllDay   bool
	Start    time.Time
	End      time.Time
}

// Recurrences returns the starts of rule anchored at dtstart that fall in
// w, minus exdates. rule may carry an "RRULE:" prefix. The bool reports
// whether w.Max truncated the result.
func Recurrences(rule string, dtstart time.Time, exdates []time.Time, w Window) ([]time.Time, bool, error) {
	if w.To.Before(w.From) {
		return nil, false, errors.New("expand: window ends before it starts")
	}
	r, err := rrule.StrToRRule(strings.TrimPrefix(strings.TrimSpace(rule), "RRULE:"))
	if err != nil {
		return nil, false, err
	}
	r.DTStart(dtstart)

	var set rrule.Set
	set.RRule(r)
	for _, ex := range exdates {
		set.ExDate(ex.In(dtstart.Location()))
	}

	starts := set.Between(w.From.In(dtstart.Location()), w.To.In(dtstart.Location()), true)
	if len(starts) > w.max() {
		return starts[:w.max()], true, nil
	}
	return starts, false, nil
}

// Expand turns parsed VEVENTs into the occurrences that intersect w.
// Recurring events are expanded with their RRULE and EXDATEs, and
// instances with a matching RECURRENCE-ID override are replaced by the
// override.
func Expand(events []VEvent, w Window) ([]Occurrence, error) {
	if w.To.Before(w.From) {
		return nil, errors.New("expand: window ends before it starts")
	}

	overrides := make(map[string][]VEvent)
	var bases []VEvent
	for _, ev := range events {
		if ev.RecurrenceID != nil {
			overrides[ev.UID] = append(overrides[ev.UID], ev)
			continue
		}
		bases = append(bases, ev)
	}

	out := make([]Occurrence, 0, len(bases))
	for _, ev := range bases {
		if ev.RRule == "" {
			if intersects(ev.Start, ev.End, w) {
				out = append(out, occurrence(ev, ev.Start, ev.End))
			}
			continue
		}

		starts, truncated, err := Recurrences(ev.RRule, ev.Start, ev.ExDates, w)
		if err != nil {
			appLog.Warn("expand: bad RRULE, event skipped", "feed", ev.FeedID, "uid", ev.UID, "rrule", ev.RRule, "err", err)
			continue
		}
		if truncated {
			appLog.Warn("expand: occurrences truncated", "feed", ev.FeedID, "uid", ev.UID, "cap", w.max())
		}
		dur := ev.End.Sub(ev.Start)
		for _, s := range starts {
			if o, ok := findOverride(overrides[ev.UID], s); ok {
				out = append(out, occurrence(o, o.Start, o.End))
				continue
			}
			out = append(out, occurrence(ev, s, s.Add(dur)))
		}
	}
	return out, nil
}

func findOverride(overrides []VEvent, start time.Time) (VEvent, bool) {
	for _, o := range overrides {
		if o.RecurrenceID.Equal(start) {
			return o, true
		}
	}
	return VEvent{}, false
}

func occurrence(ev VEvent, start, end time.Time) Occurrence {
	return Occurrence{
		FeedID:   ev.FeedID,
		UID:      ev.UID,
		Summary:  ev.Summary,
		Location: ev.Location,
		Category: ev.Categories,
		AllDay:   ev.AllDay,
		Start:    start,
		End:      end,
	}
}

func intersects(start, end time.Time, w Window) bool {
	return !end.Before(w.From) && !start.After(w.To)
}

// InstanceID names one instance of a recurring item: "<id>@<RFC3339 start>".
func InstanceID(id string, start time.Time) string {
	return id + "@" + start.UTC().Format(time.RFC3339)
}

// Record converts an occurrence into an event record visible to every
// student. Its ID is unique per feed, UID and instance start.
func (o Occurrence) Record() model.EventRecord {
	return model.EventRecord{
		ID:        InstanceID("ics:"+o.FeedID+":"+o.UID, o.Start),
		Title:     o.Summary,
		StartTime: o.Start.Format(time.RFC3339),
		EndTime:   o.End.Format(time.RFC3339),
		Location:  o.Location,
		Subject:   o.Category,
		IsActive:  true,
	}
}
