// Package conflict finds time overlaps in the unified event list and keeps
// the session's active conflict set.
//
// Two events conflict iff startA < endB && startB < endA. Instants
// (start == end) therefore only conflict with an interval that strictly
// contains them, and never with each other.
package conflict

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"studentcal/internal/model"
)

// Severity is a coarse rating of a conflict based on the kinds involved.
type Severity string

const (
	Low    Severity = "low"
	Medium Severity = "medium"
	High   Severity = "high"
)

// Action is a resolution a user can pick for a conflict.
type Action string

const (
	RescheduleA Action = "reschedule_a"
	RescheduleB Action = "reschedule_b"
	Dismiss     Action = "dismiss"
)

var (
	ErrUnknownConflict = errors.New("unknown conflict")
	ErrUnknownAction   = errors.New("unknown resolution action")
)

// ParseAction accepts the three action names, case-insensitive.
func ParseAction(s string) (Action, error) {
	switch a := Action(strings.ToLower(strings.TrimSpace(s))); a {
	case RescheduleA, RescheduleB, Dismiss:
		return a, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownAction, s)
	}
}

// Conflict is an overlapping pair. A and B are stored in key order, so the
// same pair always yields an identical Conflict whichever way it was found.
type Conflict struct {
	ID           string              `json:"id"`
	A            model.CalendarEvent `json:"a"`
	B            model.CalendarEvent `json:"b"`
	OverlapStart time.Time           `json:"overlap_start"`
	Severity     Severity            `json:"severity"`
}

// Overlaps reports whether a and b overlap as half-open intervals.
func Overlaps(a, b model.CalendarEvent) bool {
	return a.Start.Before(b.End) && b.Start.Before(a.End)
}

// Classify rates a pair: exam against class is high, class against class
// is medium, anything else is low.
func Classify(a, b model.CalendarEvent) Severity {
	switch {
	case (a.Kind == model.KindExam && b.Kind == model.KindClass) ||
		(a.Kind == model.KindClass && b.Kind == model.KindExam):
		return High
	case a.Kind == model.KindClass && b.Kind == model.KindClass:
		return Medium
	default:
		return Low
	}
}

// PairID is an order-independent identifier for the pair of keys.
func PairID(a, b model.Key) string {
	if b.Less(a) {
		a, b = b, a
	}
	sum := sha256.Sum256([]byte(a.String() + "\x00" + b.String()))
	return hex.EncodeToString(sum[:8])
}

// Check returns the conflict between a and b, if they overlap.
func Check(a, b model.CalendarEvent) (Conflict, bool) {
	if a.Key() == b.Key() || !Overlaps(a, b) {
		return Conflict{}, false
	}
	if b.Key().Less(a.Key()) {
		a, b = b, a
	}
	overlap := a.Start
	if b.Start.After(overlap) {
		overlap = b.Start
	}
	return Conflict{
		ID:           PairID(a.Key(), b.Key()),
		A:            a,
		B:            b,
		OverlapStart: overlap,
		Severity:     Classify(a, b),
	}, true
}

// Detect returns every conflicting pair in events, ordered by overlap
// start. The scan sorts a copy by start and stops comparing once the next
// event starts at or after the current one's end; the result is the same
// as comparing every pair.
func Detect(events []model.CalendarEvent) []Conflict {
	sorted := append([]model.CalendarEvent(nil), events...)
	sort.SliceStable(sorted, func(i, j int) bool {
		if !sorted[i].Start.Equal(sorted[j].Start) {
			return sorted[i].Start.Before(sorted[j].Start)
		}
		return sorted[i].Key().Less(sorted[j].Key())
	})

	var out []Conflict
	seen := make(map[string]struct{})
	for i := range sorted {
		for j := i + 1; j < len(sorted) && sorted[j].Start.Before(sorted[i].End); j++ {
			c, ok := Check(sorted[i], sorted[j])
			if !ok {
				continue
			}
			if _, dup := seen[c.ID]; dup {
				continue
			}
			seen[c.ID] = struct{}{}
			out = append(out, c)
		}
	}

	sort.SliceStable(out, func(i, j int) bool {
		if !out[i].OverlapStart.Equal(out[j].OverlapStart) {
			return out[i].OverlapStart.Before(out[j].OverlapStart)
		}
		if out[i].A.Key() != out[j].A.Key() {
			return out[i].A.Key().Less(out[j].A.Key())
		}
		return out[i].B.Key().Less(out[j].B.Key())
	})
	return out
}

// Resolution is the outcome of resolving a conflict. For the reschedule
// actions Target is the event the user chose to move; nothing is changed
// here, the caller drives the actual reschedule.
type Resolution struct {
	ConflictID string               `json:"conflict_id"`
	Action     Action               `json:"action"`
	Target     *model.CalendarEvent `json:"target,omitempty"`
}

// Set is the active conflict set for one session. Dismissals last until
// the set is recomputed from a new event list.
type Set struct {
	mu        sync.RWMutex
	conflicts []Conflict
	dismissed map[string]struct{}
}

func NewSet() *Set {
	return &Set{dismissed: make(map[string]struct{})}
}

// Replace recomputes the conflicts from events and clears dismissals.
func (s *Set) Replace(events []model.CalendarEvent) {
	cs := Detect(events)
	s.mu.Lock()
	s.conflicts = cs
	s.dismissed = make(map[string]struct{})
	s.mu.Unlock()
}

// Active returns the conflicts that have not been dismissed.
func (s *Set) Active() []Conflict {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Conflict, 0, len(s.conflicts))
	for _, c := range s.conflicts {
		if _, gone := s.dismissed[c.ID]; !gone {
			out = append(out, c)
		}
	}
	return out
}

// Get looks up an active conflict by ID.
func (s *Set) Get(id string) (Conflict, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if _, gone := s.dismissed[id]; gone {
		return Conflict{}, false
	}
	for _, c := range s.conflicts {
		if c.ID == id {
			return c, true
		}
	}
	return Conflict{}, false
}

// Resolve applies action to the active conflict id.
func (s *Set) Resolve(id string, action Action) (Resolution, error) {
	c, ok := s.Get(id)
	if !ok {
		return Resolution{}, fmt.Errorf("%w: %s", ErrUnknownConflict, id)
	}

	res := Resolution{ConflictID: id, Action: action}
	switch action {
	case RescheduleA:
		target := c.A
		res.Target = &target
	case RescheduleB:
		target := c.B
		res.Target = &target
	case Dismiss:
		s.mu.Lock()
		s.dismissed[id] = struct{}{}
		s.mu.Unlock()
	default:
		return Resolution{}, fmt.Errorf("%w: %q", ErrUnknownAction, action)
	}
	return res, nil
}
