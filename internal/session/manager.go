package session

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	appLog "studentcal/internal/log"
	"studentcal/internal/metrics"
	"studentcal/internal/model"
	"studentcal/internal/schedule"
)

var (
	// ErrNoStudent is returned when a student ID is empty.
	ErrNoStudent = errors.New("student id is required")
	// ErrTooManySessions is returned when MaxSessions sessions are live
	// and none of them is idle.
	ErrTooManySessions = errors.New("too many active sessions")
)

// sweepSpec is how often idle sessions are looked for.
const sweepSpec = "@every 1m"

// PreferenceStore persists per-student preferences.
type PreferenceStore interface {
	LoadPreferences(ctx context.Context, studentID string) (model.Preferences, bool, error)
	SavePreferences(ctx context.Context, studentID string, p model.Preferences) error
}

// ManagerConfig tunes the sessions a Manager creates.
type ManagerConfig struct {
	Session Config
	// CacheTTL bounds how long each session reuses source query results.
	CacheTTL time.Duration
	// CheckSpec is the reminder scan cron spec.
	CheckSpec string
	// RefreshSpec reloads every session on a cron spec; empty disables it.
	RefreshSpec string
	// Preferences loads and stores student preferences; nil keeps them in
	// the session only.
	Preferences PreferenceStore
	// IdleTTL ends sessions nobody asked for in that long; zero keeps
	// them until End.
	IdleTTL time.Duration
	// MaxSessions caps the live sessions; zero means no cap.
	MaxSessions int
}

// entry is a session plus the gate its first load opens. Callers of Get
// never see a session before its first pass was applied.
type entry struct {
	s     *Session
	ready chan struct{}
	err   error // set before ready is closed
	used  time.Time
}

func (e *entry) loaded() bool {
	select {
	case <-e.ready:
		return true
	default:
		return false
	}
}

func (e *entry) wait(ctx context.Context) (*Session, error) {
	select {
	case <-e.ready:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	if e.err != nil {
		return nil, e.err
	}
	return e.s, nil
}

// Manager creates sessions on first use and registers their timers on a
// shared cron scheduler. Each session gets its own aggregator and cache;
// only the store is shared. The caller starts and stops the cron.
type Manager struct {
	store schedule.Store
	cron  *cron.Cron
	cfg   ManagerConfig
	now   func() time.Time

	mu       sync.Mutex
	sessions map[string]*entry
	entries  []cron.EntryID
}

// NewManager registers the auto-refresh and idle sweep entries on c when
// configured.
func NewManager(store schedule.Store, c *cron.Cron, cfg ManagerConfig) (*Manager, error) {
	m := &Manager{
		store:    store,
		cron:     c,
		cfg:      cfg,
		now:      cfg.Session.Now,
		sessions: make(map[string]*entry),
	}
	if m.now == nil {
		m.now = time.Now
	}
	if cfg.RefreshSpec != "" {
		id, err := c.AddFunc(cfg.RefreshSpec, func() { m.RefreshAll(context.Background()) })
		if err != nil {
			return nil, err
		}
		m.entries = append(m.entries, id)
	}
	if cfg.IdleTTL > 0 {
		id, err := c.AddFunc(sweepSpec, func() { m.Sweep() })
		if err != nil {
			m.removeEntries()
			return nil, err
		}
		m.entries = append(m.entries, id)
	}
	return m, nil
}

// Get returns the student's session, creating and loading it on first
// use. Concurrent callers for a new student wait for its first pass.
func (m *Manager) Get(ctx context.Context, studentID string) (*Session, error) {
	if studentID == "" {
		return nil, ErrNoStudent
	}

	now := m.now()
	m.mu.Lock()
	if e, ok := m.sessions[studentID]; ok {
		e.used = now
		m.mu.Unlock()
		return e.wait(ctx)
	}

	var evicted []*entry
	if m.cfg.MaxSessions > 0 && len(m.sessions) >= m.cfg.MaxSessions {
		evicted = m.evictIdleLocked(now)
		if len(m.sessions) >= m.cfg.MaxSessions {
			m.mu.Unlock()
			closeEntries(evicted)
			return nil, ErrTooManySessions
		}
	}

	agg := schedule.NewAggregator(m.store, m.cfg.CacheTTL, m.cfg.Session.Location)
	s := New(studentID, agg, m.cfg.Session)
	if err := s.Scheduler().Start(m.cron, m.cfg.CheckSpec, s.Snapshot); err != nil {
		m.mu.Unlock()
		closeEntries(evicted)
		return nil, err
	}
	e := &entry{s: s, ready: make(chan struct{}), used: now}
	m.sessions[studentID] = e
	metrics.ActiveSessions.Set(float64(len(m.sessions)))
	m.mu.Unlock()
	closeEntries(evicted)

	appLog.Info("session started", "student", studentID)
	e.err = m.warmUp(ctx, s)
	close(e.ready)
	if e.err != nil {
		return nil, e.err
	}
	return s, nil
}

// warmUp applies the stored preferences and runs the first pass.
func (m *Manager) warmUp(ctx context.Context, s *Session) error {
	if m.cfg.Preferences != nil {
		p, ok, err := m.cfg.Preferences.LoadPreferences(ctx, s.StudentID())
		switch {
		case err != nil:
			appLog.Error("loading preferences failed", err, "student", s.StudentID())
		case ok:
			s.SetPreferences(p)
		}
	}
	_, err := s.Load(ctx)
	return err
}

// Lookup returns an existing session without creating one. The session
// may still be running its first pass.
func (m *Manager) Lookup(studentID string) (*Session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.sessions[studentID]
	if !ok {
		return nil, false
	}
	return e.s, true
}

// Students lists the students with an active session, sorted.
func (m *Manager) Students() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, 0, len(m.sessions))
	for id := range m.sessions {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// SetPreferences stores p for the student and applies it to the session.
func (m *Manager) SetPreferences(ctx context.Context, studentID string, p model.Preferences) (model.Preferences, error) {
	s, err := m.Get(ctx, studentID)
	if err != nil {
		return p, err
	}
	if p.View == "" {
		p.View = model.DefaultView
	}
	if m.cfg.Preferences != nil {
		if err := m.cfg.Preferences.SavePreferences(ctx, studentID, p); err != nil {
			return p, err
		}
	}
	s.SetPreferences(p)
	appLog.Info("preferences saved", "student", studentID, "view", p.View,
		"show_weekends", p.ShowWeekends, "reminder_minutes", p.ReminderMinutes)
	return s.Preferences(), nil
}

// End closes and forgets the student's session. It reports whether one
// existed.
func (m *Manager) End(studentID string) bool {
	m.mu.Lock()
	e, ok := m.sessions[studentID]
	delete(m.sessions, studentID)
	metrics.ActiveSessions.Set(float64(len(m.sessions)))
	m.mu.Unlock()

	if ok {
		e.s.Close()
		appLog.Info("session ended", "student", studentID)
	}
	return ok
}

// Sweep ends every loaded session not requested within IdleTTL and
// returns how many it ended.
func (m *Manager) Sweep() int {
	if m.cfg.IdleTTL <= 0 {
		return 0
	}
	m.mu.Lock()
	evicted := m.evictIdleLocked(m.now())
	m.mu.Unlock()
	closeEntries(evicted)
	return len(evicted)
}

// evictIdleLocked removes the idle sessions from the map; the caller
// closes them after releasing m.mu.
func (m *Manager) evictIdleLocked(now time.Time) []*entry {
	if m.cfg.IdleTTL <= 0 {
		return nil
	}
	var out []*entry
	for id, e := range m.sessions {
		if e.loaded() && now.Sub(e.used) >= m.cfg.IdleTTL {
			delete(m.sessions, id)
			out = append(out, e)
		}
	}
	if len(out) > 0 {
		metrics.ActiveSessions.Set(float64(len(m.sessions)))
	}
	return out
}

func closeEntries(entries []*entry) {
	for _, e := range entries {
		e.s.Close()
		metrics.SessionsEvicted.Inc()
		appLog.Info("idle session ended", "student", e.s.StudentID())
	}
}

// RefreshAll refreshes every session in turn.
func (m *Manager) RefreshAll(ctx context.Context) {
	for _, id := range m.Students() {
		s, ok := m.Lookup(id)
		if !ok {
			continue
		}
		if _, err := s.Refresh(ctx); err != nil && !errors.Is(err, ErrClosed) {
			appLog.Error("session refresh failed", err, "student", id)
		}
	}
}

// Close ends every session and removes the manager's cron entries.
func (m *Manager) Close() {
	m.removeEntries()
	for _, id := range m.Students() {
		m.End(id)
	}
}

func (m *Manager) removeEntries() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, id := range m.entries {
		m.cron.Remove(id)
	}
	m.entries = nil
}
