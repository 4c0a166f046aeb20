// Package session is the presentation-facing contract: one Session per
// student holds the unified event list, the grid and conflict views and
// the reminder scheduler, and a Manager owns the sessions of a process.
package session

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"studentcal/internal/conflict"
	"studentcal/internal/grid"
	appLog "studentcal/internal/log"
	"studentcal/internal/metrics"
	"studentcal/internal/model"
	"studentcal/internal/reminder"
	"studentcal/internal/schedule"
)

// ErrClosed is returned by operations on a closed session.
var ErrClosed = errors.New("session closed")

// Config tunes a Session. Zero values use the package defaults.
type Config struct {
	// Location is the zone for calendar dates; nil means UTC.
	Location *time.Location
	// Now is the clock shared by grids, stats and reminders.
	Now func() time.Time
	// Lead is the reminder lead window.
	Lead time.Duration
	// InboxSize caps the notification inbox.
	InboxSize int
}

// Session is one student's live schedule.
//
// Every aggregation pass is tagged with a sequence number; a pass that
// completes after a newer one was applied is discarded, so an overlapping
// slow load can never overwrite fresher data.
type Session struct {
	studentID string
	agg       *schedule.Aggregator
	sched     *reminder.Scheduler
	inbox     *reminder.Inbox
	conflicts *conflict.Set
	loc       *time.Location
	now       func() time.Time
	lead      time.Duration

	seq atomic.Uint64

	mu       sync.RWMutex
	events   []model.CalendarEvent
	failed   []model.Kind
	loadedAt time.Time
	applied  uint64
	closed   bool
	prefs    model.Preferences
}

// New creates a session for studentID. Nothing is loaded until Load.
func New(studentID string, agg *schedule.Aggregator, cfg Config) *Session {
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	s := &Session{
		studentID: studentID,
		agg:       agg,
		sched:     reminder.NewScheduler(cfg.Lead, reminder.WithClock(cfg.Now)),
		inbox:     reminder.NewInbox(cfg.InboxSize),
		conflicts: conflict.NewSet(),
		loc:       cfg.Location,
		now:       cfg.Now,
		lead:      cfg.Lead,
		events:    []model.CalendarEvent{},
		prefs:     model.DefaultPreferences(),
	}
	s.sched.OnReminder(func(r reminder.Reminder) { s.inbox.Add(r) })
	return s
}

func (s *Session) StudentID() string { return s.studentID }

// Load runs one aggregation pass and applies it unless a newer pass was
// applied first. Partial source failures are reported in the result; the
// returned error is only set for a closed session. After an applied pass
// the reminder scheduler scans the new list once.
func (s *Session) Load(ctx context.Context) (schedule.Result, error) {
	seq := s.seq.Add(1)
	res := s.agg.Load(ctx, s.studentID)

	applied, err := s.apply(seq, res)
	if err != nil {
		return res, err
	}
	if !applied {
		// The stale pass may have overwritten fresher cache entries.
		s.agg.Invalidate(s.studentID)
		metrics.StalePasses.Inc()
		appLog.Debug("stale aggregation pass discarded", "student", s.studentID, "seq", seq)
		return res, nil
	}
	s.sched.Tick(res.Events)
	return res, nil
}

func (s *Session) apply(seq uint64, res schedule.Result) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false, ErrClosed
	}
	if seq < s.applied {
		return false, nil
	}
	s.applied = seq
	s.events = res.Events
	if s.events == nil {
		s.events = []model.CalendarEvent{}
	}
	s.failed = res.Failed
	s.loadedAt = s.now()
	s.conflicts.Replace(s.events)
	return true, nil
}

// Refresh drops the cached source results for the student and reloads.
func (s *Session) Refresh(ctx context.Context) (schedule.Result, error) {
	if s.Closed() {
		return schedule.Result{StudentID: s.studentID}, ErrClosed
	}
	s.agg.Invalidate(s.studentID)
	return s.Load(ctx)
}

// Snapshot returns a copy of the current unified event list.
func (s *Session) Snapshot() []model.CalendarEvent {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]model.CalendarEvent, len(s.events))
	copy(out, s.events)
	return out
}

// UnifiedEvents returns the current events matching f.
func (s *Session) UnifiedEvents(f schedule.Filter) []model.CalendarEvent {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return schedule.Apply(s.events, f)
}

// Grid lays the current events out around ref. A zero ref means today
// and an empty g the student's preferred view. Weekend cells are dropped
// unless the student shows weekends.
func (s *Session) Grid(g grid.Granularity, ref time.Time) (grid.Grid, error) {
	prefs := s.Preferences()
	if g == "" {
		g = grid.Granularity(prefs.View)
	}
	now := s.now().In(s.loc)
	if ref.IsZero() {
		ref = now
	}
	out, err := grid.Build(g, ref.In(s.loc), s.Snapshot(), now)
	if err != nil {
		return out, err
	}
	if !prefs.ShowWeekends {
		out = out.WithoutWeekends()
	}
	return out, nil
}

// Preferences returns the student's calendar settings.
func (s *Session) Preferences() model.Preferences {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.prefs
}

// SetPreferences applies p. ReminderMinutes replaces the lead window of
// later reminder scans; zero restores the configured lead.
func (s *Session) SetPreferences(p model.Preferences) {
	if p.View == "" {
		p.View = model.DefaultView
	}
	s.mu.Lock()
	s.prefs = p
	s.mu.Unlock()

	lead := s.lead
	if p.ReminderMinutes > 0 {
		lead = time.Duration(p.ReminderMinutes) * time.Minute
	}
	s.sched.SetLead(lead)
}

// Conflicts returns the active, undismissed conflicts.
func (s *Session) Conflicts() []conflict.Conflict {
	return s.conflicts.Active()
}

// ResolveConflict applies action to the conflict with the given ID.
func (s *Session) ResolveConflict(id string, action conflict.Action) (conflict.Resolution, error) {
	if s.Closed() {
		return conflict.Resolution{}, ErrClosed
	}
	res, err := s.conflicts.Resolve(id, action)
	if err != nil {
		return res, err
	}
	appLog.Info("conflict resolved", "student", s.studentID, "conflict", id, "action", action)
	return res, nil
}

// OnReminder registers fn for every reminder this session emits.
func (s *Session) OnReminder(fn func(reminder.Reminder)) {
	s.sched.OnReminder(fn)
}

// CheckReminders scans the current events once, outside the timer.
func (s *Session) CheckReminders() []reminder.Reminder {
	return s.sched.Tick(s.Snapshot())
}

// Scheduler exposes the reminder scheduler for timer registration.
func (s *Session) Scheduler() *reminder.Scheduler { return s.sched }

func (s *Session) Inbox() *reminder.Inbox { return s.inbox }

// Upcoming returns up to limit events starting after now.
func (s *Session) Upcoming(limit int) []model.CalendarEvent {
	return schedule.Upcoming(s.Snapshot(), s.now(), limit)
}

// Stats computes the dashboard counters in the session's zone.
func (s *Session) Stats() schedule.Stats {
	return schedule.ComputeStats(s.Snapshot(), s.now().In(s.loc))
}

// Status describes the last applied pass.
type Status struct {
	StudentID string       `json:"student_id"`
	Events    int          `json:"events"`
	Failed    []model.Kind `json:"failed_sources"`
	LoadedAt  time.Time    `json:"loaded_at"`
	Sequence  uint64       `json:"sequence"`
}

func (s *Session) Status() Status {
	s.mu.RLock()
	defer s.mu.RUnlock()
	failed := make([]model.Kind, len(s.failed))
	copy(failed, s.failed)
	return Status{
		StudentID: s.studentID,
		Events:    len(s.events),
		Failed:    failed,
		LoadedAt:  s.loadedAt,
		Sequence:  s.applied,
	}
}

func (s *Session) Location() *time.Location { return s.loc }

func (s *Session) Now() time.Time { return s.now().In(s.loc) }

func (s *Session) Closed() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.closed
}

// Close stops the reminder timer. Further loads fail with ErrClosed.
func (s *Session) Close() {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	s.sched.Stop()
}
