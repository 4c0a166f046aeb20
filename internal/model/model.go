// Package model holds the types shared by the scheduling packages: the four
// source record shapes as they come out of the collaborator stores, and the
// canonical CalendarEvent they are normalized into.
package model

import (
	"fmt"
	"time"
)

// Kind identifies which source collection an event came from.
type Kind string

const (
	KindClass      Kind = "class"
	KindAssignment Kind = "assignment"
	KindExam       Kind = "exam"
	KindEvent      Kind = "event"
)

// Kinds lists every source kind in aggregation order.
var Kinds = []Kind{KindClass, KindAssignment, KindExam, KindEvent}

// Valid reports whether k is one of the four known kinds.
func (k Kind) Valid() bool {
	switch k {
	case KindClass, KindAssignment, KindExam, KindEvent:
		return true
	}
	return false
}

// Key is the composite identity of an event. IDs are only unique within
// their source collection.
type Key struct {
	Kind Kind
	ID   string
}

func (k Key) String() string {
	return fmt.Sprintf("%s:%s", k.Kind, k.ID)
}

// Less orders keys by kind, then ID.
func (k Key) Less(o Key) bool {
	if k.Kind != o.Kind {
		return k.Kind < o.Kind
	}
	return k.ID < o.ID
}

// CalendarEvent is the canonical in-memory event. It is rebuilt on every
// aggregation pass and never mutated afterwards; reminder state lives in
// the reminder scheduler, keyed by Key().
type CalendarEvent struct {
	ID    string `json:"id"`
	Kind  Kind   `json:"kind"`
	Title string `json:"title"`

	// End equals Start for instants (assignments, exams without an end).
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`

	Location   string `json:"location,omitempty"`
	Instructor string `json:"instructor,omitempty"`
	Subject    string `json:"subject,omitempty"`
}

func (e CalendarEvent) Key() Key {
	return Key{Kind: e.Kind, ID: e.ID}
}

// IsInstant reports whether the event has no duration.
func (e CalendarEvent) IsInstant() bool {
	return e.Start.Equal(e.End)
}

// Record is implemented by the four source record types.
type Record interface {
	RecordKind() Kind
	RecordID() string
}

// Timestamps in records are kept as the raw strings the store returned;
// the normalizer owns parsing them.

// ClassRecord is one class session. Recurrence, when set, is an RRULE the
// store expands into concrete sessions before handing records out.
type ClassRecord struct {
	ID         string `json:"id" yaml:"id"`
	StudentID  string `json:"student_id" yaml:"student_id"`
	ClassName  string `json:"class_name" yaml:"class_name"`
	StartTime  string `json:"start_time" yaml:"start_time"`
	EndTime    string `json:"end_time" yaml:"end_time"`
	Location   string `json:"location,omitempty" yaml:"location,omitempty"`
	Instructor string `json:"instructor,omitempty" yaml:"instructor,omitempty"`
	Subject    string `json:"subject,omitempty" yaml:"subject,omitempty"`
	Recurrence string `json:"recurrence,omitempty" yaml:"recurrence,omitempty"`
	IsActive   bool   `json:"is_active" yaml:"is_active"`
}

func (r ClassRecord) RecordKind() Kind { return KindClass }
func (r ClassRecord) RecordID() string { return r.ID }

// AssignmentStatusAssigned is the only status the aggregator loads.
const AssignmentStatusAssigned = "assigned"

type AssignmentRecord struct {
	ID        string `json:"id" yaml:"id"`
	StudentID string `json:"student_id" yaml:"student_id"`
	Title     string `json:"title" yaml:"title"`
	DueDate   string `json:"due_date" yaml:"due_date"`
	Subject   string `json:"subject,omitempty" yaml:"subject,omitempty"`
	Status    string `json:"status" yaml:"status"`
}

func (r AssignmentRecord) RecordKind() Kind { return KindAssignment }
func (r AssignmentRecord) RecordID() string { return r.ID }

type ExamRecord struct {
	ID          string `json:"id" yaml:"id"`
	StudentID   string `json:"student_id" yaml:"student_id"`
	Subject     string `json:"subject" yaml:"subject"`
	ExamDate    string `json:"exam_date" yaml:"exam_date"`
	ExamEndTime string `json:"exam_end_time,omitempty" yaml:"exam_end_time,omitempty"`
	Location    string `json:"location,omitempty" yaml:"location,omitempty"`
	IsActive    bool   `json:"is_active" yaml:"is_active"`
}

func (r ExamRecord) RecordKind() Kind { return KindExam }
func (r ExamRecord) RecordID() string { return r.ID }

// EventRecord is an ad-hoc event. EventDate is the legacy field some rows
// carry instead of StartTime.
type EventRecord struct {
	ID         string `json:"id" yaml:"id"`
	StudentID  string `json:"student_id" yaml:"student_id"`
	Title      string `json:"title" yaml:"title"`
	StartTime  string `json:"start_time" yaml:"start_time"`
	EndTime    string `json:"end_time,omitempty" yaml:"end_time,omitempty"`
	EventDate  string `json:"event_date,omitempty" yaml:"event_date,omitempty"`
	Location   string `json:"location,omitempty" yaml:"location,omitempty"`
	Instructor string `json:"instructor,omitempty" yaml:"instructor,omitempty"`
	Subject    string `json:"subject,omitempty" yaml:"subject,omitempty"`
	IsActive   bool   `json:"is_active" yaml:"is_active"`
}

func (r EventRecord) RecordKind() Kind { return KindEvent }
func (r EventRecord) RecordID() string { return r.ID }

// Preferences are a student's calendar settings.
type Preferences struct {
	// View is the grid granularity used when a request names none.
	View string `json:"view" yaml:"view" validate:"omitempty,oneof=day week month"`
	// ShowWeekends keeps Saturday and Sunday in week and month grids.
	ShowWeekends bool `json:"show_weekends" yaml:"show_weekends"`
	// ReminderMinutes overrides the reminder lead window; 0 keeps the
	// server default.
	ReminderMinutes int `json:"reminder_minutes" yaml:"reminder_minutes" validate:"gte=0,lte=1440"`
}

// DefaultView is the grid granularity of a student without preferences.
const DefaultView = "month"

// DefaultPreferences returns the settings of a student who saved none.
func DefaultPreferences() Preferences {
	return Preferences{View: DefaultView, ShowWeekends: true}
}
