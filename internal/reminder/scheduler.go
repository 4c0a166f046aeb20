// Package reminder decides when an upcoming event gets its reminder.
//
// Each event moves Pending -> Notified at most once per session. The
// notified set is owned by the Scheduler and keyed by (kind, id), so a
// fresh aggregation pass does not re-arm reminders that already fired.
// Events whose start passes while still Pending stay Pending; reminders
// are look-ahead only.
package reminder

import (
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"

	appLog "studentcal/internal/log"
	"studentcal/internal/metrics"
	"studentcal/internal/model"
)

const (
	DefaultLead      = 15 * time.Minute
	DefaultCheckSpec = "@every 5m"
)

// Reminder is emitted once when an event enters the lead window.
type Reminder struct {
	ID       string              `json:"id"`
	Event    model.CalendarEvent `json:"event"`
	FiredAt  time.Time           `json:"fired_at"`
	StartsIn time.Duration       `json:"starts_in"`
}

// Source supplies the current unified event list to a scan.
type Source func() []model.CalendarEvent

// Scheduler scans event lists for reminders on a cron schedule.
type Scheduler struct {
	lead time.Duration
	now  func() time.Time

	mu        sync.Mutex
	notified  map[model.Key]struct{}
	listeners []func(Reminder)

	cron    *cron.Cron
	entryID cron.EntryID
	running bool
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(s *Scheduler) {
		if now != nil {
			s.now = now
		}
	}
}

// NewScheduler creates a Scheduler with the given lead window; a
// non-positive lead uses DefaultLead.
func NewScheduler(lead time.Duration, opts ...Option) *Scheduler {
	if lead <= 0 {
		lead = DefaultLead
	}
	s := &Scheduler{
		lead:     lead,
		now:      time.Now,
		notified: make(map[model.Key]struct{}),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Lead returns the lead window.
func (s *Scheduler) Lead() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lead
}

// SetLead changes the lead window for later scans; a non-positive lead
// uses DefaultLead. Reminders already emitted are not re-armed.
func (s *Scheduler) SetLead(lead time.Duration) {
	if lead <= 0 {
		lead = DefaultLead
	}
	s.mu.Lock()
	s.lead = lead
	s.mu.Unlock()
}

// OnReminder registers fn to be called once per emitted reminder. Listeners
// run on the scanning goroutine, after the scheduler lock is released.
func (s *Scheduler) OnReminder(fn func(Reminder)) {
	if fn == nil {
		return
	}
	s.mu.Lock()
	s.listeners = append(s.listeners, fn)
	s.mu.Unlock()
}

// Notified reports whether the event with key k already had its reminder.
func (s *Scheduler) Notified(k model.Key) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.notified[k]
	return ok
}

// Scan marks every Pending event with now <= start <= now+lead as
// Notified and returns their reminders in list order.
// It does not call listeners.
func (s *Scheduler) Scan(events []model.CalendarEvent) []Reminder {
	now := s.now()

	s.mu.Lock()
	defer s.mu.Unlock()
	horizon := now.Add(s.lead)

	var out []Reminder
	for _, ev := range events {
		if ev.Start.Before(now) || ev.Start.After(horizon) {
			continue
		}
		k := ev.Key()
		if _, done := s.notified[k]; done {
			continue
		}
		s.notified[k] = struct{}{}
		out = append(out, Reminder{
			ID:       uuid.NewString(),
			Event:    ev,
			FiredAt:  now,
			StartsIn: ev.Start.Sub(now),
		})
	}
	return out
}

// Tick runs one scan over events and delivers the reminders to listeners.
func (s *Scheduler) Tick(events []model.CalendarEvent) []Reminder {
	rs := s.Scan(events)
	if len(rs) == 0 {
		return nil
	}

	s.mu.Lock()
	listeners := make([]func(Reminder), len(s.listeners))
	copy(listeners, s.listeners)
	s.mu.Unlock()

	for _, r := range rs {
		metrics.RemindersEmitted.Inc()
		appLog.Info("reminder emitted",
			"event", r.Event.Key(),
			"title", r.Event.Title,
			"starts_in", r.StartsIn.Round(time.Second),
		)
		for _, fn := range listeners {
			fn(r)
		}
	}
	return rs
}

// Start registers a recurring scan on c using the cron spec. src is read
// once per tick. Start fails if the scheduler is already running.
func (s *Scheduler) Start(c *cron.Cron, spec string, src Source) error {
	if c == nil || src == nil {
		return errors.New("reminder: cron and source are required")
	}
	if spec == "" {
		spec = DefaultCheckSpec
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return errors.New("reminder: scheduler already started")
	}
	id, err := c.AddFunc(spec, func() { s.Tick(src()) })
	if err != nil {
		return err
	}
	s.cron = c
	s.entryID = id
	s.running = true
	return nil
}

// Stop cancels the recurring scan. It is safe to call more than once.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.running {
		return
	}
	s.cron.Remove(s.entryID)
	s.running = false
}

// Running reports whether a recurring scan is registered.
func (s *Scheduler) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}
