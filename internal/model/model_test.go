package model

import (
	"testing"
	"time"
)

func TestKeyLessAndString(t *testing.T) {
	a := Key{Kind: KindClass, ID: "2"}
	b := Key{Kind: KindExam, ID: "1"}
	c := Key{Kind: KindClass, ID: "10"}

	if !a.Less(b) || b.Less(a) {
		t.Errorf("expected class < exam regardless of ID")
	}
	if !c.Less(a) {
		t.Errorf("expected %s < %s", c, a)
	}
	if got := a.String(); got != "class:2" {
		t.Errorf("String() = %q", got)
	}
}

func TestKindValid(t *testing.T) {
	for _, k := range Kinds {
		if !k.Valid() {
			t.Errorf("%s should be valid", k)
		}
	}
	if Kind("holiday").Valid() {
		t.Errorf("unknown kind reported valid")
	}
}

func TestIsInstant(t *testing.T) {
	at := time.Date(2026, 3, 2, 14, 0, 0, 0, time.UTC)
	due := CalendarEvent{Kind: KindAssignment, Start: at, End: at}
	class := CalendarEvent{Kind: KindClass, Start: at, End: at.Add(time.Hour)}
	if !due.IsInstant() {
		t.Errorf("assignment due date should be an instant")
	}
	if class.IsInstant() {
		t.Errorf("class with duration reported as instant")
	}
}
