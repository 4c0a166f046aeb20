package schedule

import (
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"studentcal/internal/metrics"
	"studentcal/internal/model"
)

// ErrMalformedRecord marks a record without a parseable start time.
var ErrMalformedRecord = errors.New("malformed record")

const (
	assignmentTitlePrefix = "Assignment: "
	examTitlePrefix       = "Exam: "
)

// Layouts accepted for record timestamps, tried in order. Layouts without a
// zone are interpreted in the normalizer's location.
var timeLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02T15:04",
	"2006-01-02 15:04:05",
	"2006-01-02 15:04",
	"2006-01-02",
}

// ParseTime parses a record timestamp in one of the accepted layouts.
func ParseTime(v string, loc *time.Location) (time.Time, error) {
	v = strings.TrimSpace(v)
	if v == "" {
		return time.Time{}, errors.New("empty time value")
	}
	if loc == nil {
		loc = time.Local
	}
	for _, layout := range timeLayouts {
		if t, err := time.ParseInLocation(layout, v, loc); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized time %q", v)
}

// Normalizer converts source records into CalendarEvents and counts the
// records it had to drop.
type Normalizer struct {
	loc     *time.Location
	dropped atomic.Int64
}

// NewNormalizer returns a Normalizer that reads zone-less timestamps in loc.
func NewNormalizer(loc *time.Location) *Normalizer {
	if loc == nil {
		loc = time.Local
	}
	return &Normalizer{loc: loc}
}

// Dropped returns how many records have been dropped so far.
func (n *Normalizer) Dropped() int64 {
	return n.dropped.Load()
}

// Normalize maps one record to its canonical event. The only failure is a
// missing or unparseable start time, reported as ErrMalformedRecord.
func (n *Normalizer) Normalize(rec model.Record) (model.CalendarEvent, error) {
	var (
		ev  model.CalendarEvent
		err error
	)
	switch r := rec.(type) {
	case model.ClassRecord:
		ev, err = n.class(r)
	case model.AssignmentRecord:
		ev, err = n.assignment(r)
	case model.ExamRecord:
		ev, err = n.exam(r)
	case model.EventRecord:
		ev, err = n.event(r)
	default:
		err = fmt.Errorf("%w: unsupported record type %T", ErrMalformedRecord, rec)
	}
	return ev, err
}

// NormalizeAll normalizes records, skipping and counting malformed ones.
func (n *Normalizer) NormalizeAll(records []model.Record) ([]model.CalendarEvent, int) {
	out := make([]model.CalendarEvent, 0, len(records))
	dropped := 0
	for _, rec := range records {
		ev, err := n.Normalize(rec)
		if err != nil {
			dropped++
			n.dropped.Add(1)
			metrics.MalformedRecords.WithLabelValues(string(rec.RecordKind())).Inc()
			continue
		}
		out = append(out, ev)
	}
	return out, dropped
}

func (n *Normalizer) start(kind model.Kind, id, v string) (time.Time, error) {
	t, err := ParseTime(v, n.loc)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: %s %q: %v", ErrMalformedRecord, kind, id, err)
	}
	return t, nil
}

// end parses an optional end time. Missing, unparseable or inverted ends
// collapse to start so that start <= end always holds.
func (n *Normalizer) end(start time.Time, v string) time.Time {
	if v == "" {
		return start
	}
	t, err := ParseTime(v, n.loc)
	if err != nil || t.Before(start) {
		return start
	}
	return t
}

func (n *Normalizer) class(r model.ClassRecord) (model.CalendarEvent, error) {
	start, err := n.start(model.KindClass, r.ID, r.StartTime)
	if err != nil {
		return model.CalendarEvent{}, err
	}
	return model.CalendarEvent{
		ID:         r.ID,
		Kind:       model.KindClass,
		Title:      r.ClassName,
		Start:      start,
		End:        n.end(start, r.EndTime),
		Location:   r.Location,
		Instructor: r.Instructor,
		Subject:    r.Subject,
	}, nil
}

func (n *Normalizer) assignment(r model.AssignmentRecord) (model.CalendarEvent, error) {
	due, err := n.start(model.KindAssignment, r.ID, r.DueDate)
	if err != nil {
		return model.CalendarEvent{}, err
	}
	return model.CalendarEvent{
		ID:      r.ID,
		Kind:    model.KindAssignment,
		Title:   assignmentTitlePrefix + r.Title,
		Start:   due,
		End:     due,
		Subject: r.Subject,
	}, nil
}

func (n *Normalizer) exam(r model.ExamRecord) (model.CalendarEvent, error) {
	start, err := n.start(model.KindExam, r.ID, r.ExamDate)
	if err != nil {
		return model.CalendarEvent{}, err
	}
	return model.CalendarEvent{
		ID:       r.ID,
		Kind:     model.KindExam,
		Title:    examTitlePrefix + r.Subject,
		Start:    start,
		End:      n.end(start, r.ExamEndTime),
		Location: r.Location,
		Subject:  r.Subject,
	}, nil
}

func (n *Normalizer) event(r model.EventRecord) (model.CalendarEvent, error) {
	raw := r.StartTime
	if raw == "" {
		raw = r.EventDate
	}
	start, err := n.start(model.KindEvent, r.ID, raw)
	if err != nil {
		return model.CalendarEvent{}, err
	}
	return model.CalendarEvent{
		ID:         r.ID,
		Kind:       model.KindEvent,
		Title:      r.Title,
		Start:      start,
		End:        n.end(start, r.EndTime),
		Location:   r.Location,
		Instructor: r.Instructor,
		Subject:    r.Subject,
	}, nil
}
