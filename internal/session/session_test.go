package session

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/robfig/cron/v3"

	"studentcal/internal/conflict"
	"studentcal/internal/grid"
	"studentcal/internal/model"
	"studentcal/internal/reminder"
	"studentcal/internal/schedule"
)

// Wednesday noon.
var now = time.Date(2026, 10, 14, 12, 0, 0, 0, time.UTC)

type testClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *testClock) Set(t time.Time) {
	c.mu.Lock()
	c.t = t
	c.mu.Unlock()
}

type fakeStore struct {
	mu       sync.Mutex
	classes  []model.ClassRecord
	examsErr error
}

func (f *fakeStore) setClasses(cs []model.ClassRecord) {
	f.mu.Lock()
	f.classes = cs
	f.mu.Unlock()
}

func (f *fakeStore) QueryClasses(context.Context, string) ([]model.ClassRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.classes, nil
}

func (f *fakeStore) QueryAssignments(context.Context, string) ([]model.AssignmentRecord, error) {
	return []model.AssignmentRecord{
		{ID: "a1", StudentID: "s1", Title: "Essay", DueDate: "2026-10-16T23:59:00Z", Status: "assigned"},
	}, nil
}

func (f *fakeStore) QueryExams(context.Context, string) ([]model.ExamRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.examsErr != nil {
		return nil, f.examsErr
	}
	return []model.ExamRecord{
		{ID: "e1", StudentID: "s1", Subject: "Physics", ExamDate: "2026-10-14T12:30:00Z", ExamEndTime: "2026-10-14T14:00:00Z", IsActive: true},
	}, nil
}

func (f *fakeStore) QueryEvents(context.Context, string) ([]model.EventRecord, error) {
	return []model.EventRecord{
		{ID: "v1", StudentID: "s1", Title: "Trip", StartTime: "2026-10-22T09:00:00Z", IsActive: true},
	}, nil
}

func newFakeStore() *fakeStore {
	return &fakeStore{classes: []model.ClassRecord{
		{ID: "c1", StudentID: "s1", ClassName: "Math", StartTime: "2026-10-14T12:10:00Z", EndTime: "2026-10-14T13:00:00Z", Subject: "math", IsActive: true},
	}}
}

func newTestSession(t *testing.T, st schedule.Store) (*Session, *testClock) {
	t.Helper()
	clock := &testClock{t: now}
	agg := schedule.NewAggregator(st, time.Hour, time.UTC)
	return New("s1", agg, Config{Now: clock.Now}), clock
}

func TestSessionLoad(t *testing.T) {
	s, _ := newTestSession(t, newFakeStore())

	res, err := s.Load(context.Background())
	if err != nil || res.Err != nil {
		t.Fatalf("Load() = %v, %v", res.Err, err)
	}
	if got := len(s.UnifiedEvents(schedule.Filter{})); got != 4 {
		t.Fatalf("UnifiedEvents() returned %d, want 4", got)
	}
	if got := s.UnifiedEvents(schedule.Filter{Subject: "math"}); len(got) != 1 || got[0].ID != "c1" {
		t.Errorf("subject filter = %+v", got)
	}

	cs := s.Conflicts()
	if len(cs) != 1 || cs[0].Severity != conflict.High {
		t.Fatalf("Conflicts() = %+v, want one high conflict", cs)
	}

	g, err := s.Grid(grid.Week, time.Time{})
	if err != nil {
		t.Fatalf("Grid() error = %v", err)
	}
	if len(g.Cells) != 7 || len(g.Cells[2].Events) != 2 || !g.Cells[2].IsToday {
		t.Errorf("week grid Wednesday = %+v", g.Cells[2])
	}

	if up := s.Upcoming(0); len(up) != 4 || up[0].ID != "c1" {
		t.Errorf("Upcoming() = %+v", up)
	}
	want := schedule.Stats{Today: 2, ThisWeek: 3, PendingAssignments: 1, UpcomingExams: 1}
	if got := s.Stats(); got != want {
		t.Errorf("Stats() = %+v, want %+v", got, want)
	}

	st := s.Status()
	if st.Events != 4 || st.Sequence != 1 || !st.LoadedAt.Equal(now) {
		t.Errorf("Status() = %+v", st)
	}
}

func TestSessionPartialFailure(t *testing.T) {
	st := newFakeStore()
	st.examsErr = errors.New("exam service down")
	s, _ := newTestSession(t, st)

	res, err := s.Load(context.Background())
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if !errors.Is(res.Err, schedule.ErrSourceUnavailable) {
		t.Errorf("res.Err = %v, want ErrSourceUnavailable", res.Err)
	}
	if got := len(s.Snapshot()); got != 3 {
		t.Errorf("Snapshot() returned %d events, want 3", got)
	}
	if failed := s.Status().Failed; len(failed) != 1 || failed[0] != model.KindExam {
		t.Errorf("Status().Failed = %v", failed)
	}
	if len(s.Conflicts()) != 0 {
		t.Errorf("Conflicts() should be empty without exams")
	}
}

// gatedStore blocks the first class query until gate is closed.
type gatedStore struct {
	*fakeStore
	mu      sync.Mutex
	calls   int
	entered chan struct{}
	gate    chan struct{}
}

func (g *gatedStore) QueryClasses(ctx context.Context, id string) ([]model.ClassRecord, error) {
	g.mu.Lock()
	g.calls++
	n := g.calls
	g.mu.Unlock()

	if n == 1 {
		close(g.entered)
		<-g.gate
		return []model.ClassRecord{{ID: "old", StudentID: id, ClassName: "Old", StartTime: "2026-10-20T09:00:00Z", IsActive: true}}, nil
	}
	return []model.ClassRecord{{ID: "new", StudentID: id, ClassName: "New", StartTime: "2026-10-20T09:00:00Z", IsActive: true}}, nil
}

func TestSessionDiscardsStalePass(t *testing.T) {
	st := &gatedStore{fakeStore: newFakeStore(), entered: make(chan struct{}), gate: make(chan struct{})}
	s, _ := newTestSession(t, st)
	ctx := context.Background()

	done := make(chan struct{})
	go func() {
		defer close(done)
		s.Load(ctx)
	}()
	<-st.entered

	if _, err := s.Load(ctx); err != nil {
		t.Fatalf("second Load() error = %v", err)
	}
	close(st.gate)
	<-done

	classes := s.UnifiedEvents(schedule.Filter{Kinds: []model.Kind{model.KindClass}})
	if len(classes) != 1 || classes[0].ID != "new" {
		t.Errorf("classes = %+v, want the newer pass", classes)
	}
	if seq := s.Status().Sequence; seq != 2 {
		t.Errorf("applied sequence = %d, want 2", seq)
	}
}

func TestSessionReminders(t *testing.T) {
	s, clock := newTestSession(t, newFakeStore())
	var got []reminder.Reminder
	s.OnReminder(func(r reminder.Reminder) { got = append(got, r) })
	ctx := context.Background()

	if _, err := s.Load(ctx); err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 || got[0].Event.ID != "c1" {
		t.Fatalf("reminders after load = %+v, want class c1", got)
	}
	if s.Inbox().Unread() != 1 {
		t.Errorf("inbox unread = %d, want 1", s.Inbox().Unread())
	}

	// A fresh pass does not re-arm c1.
	if _, err := s.Refresh(ctx); err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 {
		t.Errorf("refresh re-fired reminders: %+v", got)
	}

	clock.Set(now.Add(20 * time.Minute))
	rs := s.CheckReminders()
	if len(rs) != 1 || rs[0].Event.ID != "e1" {
		t.Errorf("CheckReminders() = %+v, want exam e1", rs)
	}
	if len(got) != 2 || s.Inbox().Unread() != 2 {
		t.Errorf("listener calls = %d, unread = %d", len(got), s.Inbox().Unread())
	}
}

func TestSessionResolveConflict(t *testing.T) {
	s, _ := newTestSession(t, newFakeStore())
	ctx := context.Background()
	if _, err := s.Load(ctx); err != nil {
		t.Fatal(err)
	}
	c := s.Conflicts()[0]

	res, err := s.ResolveConflict(c.ID, conflict.RescheduleA)
	if err != nil || res.Target == nil || res.Target.Key() != c.A.Key() {
		t.Fatalf("ResolveConflict(reschedule_a) = %+v, %v", res, err)
	}
	if len(s.Conflicts()) != 1 {
		t.Errorf("reschedule should not hide the conflict")
	}

	if _, err := s.ResolveConflict(c.ID, conflict.Dismiss); err != nil {
		t.Fatalf("ResolveConflict(dismiss) error = %v", err)
	}
	if len(s.Conflicts()) != 0 {
		t.Errorf("dismissed conflict still active")
	}
	if _, err := s.ResolveConflict(c.ID, conflict.Dismiss); !errors.Is(err, conflict.ErrUnknownConflict) {
		t.Errorf("second dismiss error = %v, want ErrUnknownConflict", err)
	}

	if _, err := s.Refresh(ctx); err != nil {
		t.Fatal(err)
	}
	if len(s.Conflicts()) != 1 {
		t.Errorf("reaggregation should clear dismissals")
	}
}

func TestSessionClose(t *testing.T) {
	s, _ := newTestSession(t, newFakeStore())
	ctx := context.Background()
	c := cron.New()
	if err := s.Scheduler().Start(c, "@every 1m", s.Snapshot); err != nil {
		t.Fatal(err)
	}

	s.Close()
	if s.Scheduler().Running() || len(c.Entries()) != 0 {
		t.Errorf("Close() left the reminder timer registered")
	}
	if _, err := s.Load(ctx); !errors.Is(err, ErrClosed) {
		t.Errorf("Load() after Close error = %v, want ErrClosed", err)
	}
	if _, err := s.Refresh(ctx); !errors.Is(err, ErrClosed) {
		t.Errorf("Refresh() after Close error = %v, want ErrClosed", err)
	}
}

func TestManager(t *testing.T) {
	st := newFakeStore()
	clock := &testClock{t: now}
	c := cron.New()
	ctx := context.Background()

	m, err := NewManager(st, c, ManagerConfig{
		Session:     Config{Now: clock.Now},
		CacheTTL:    time.Hour,
		CheckSpec:   "@every 5m",
		RefreshSpec: "@every 30m",
	})
	if err != nil {
		t.Fatalf("NewManager() error = %v", err)
	}
	if n := len(c.Entries()); n != 1 {
		t.Errorf("entries after NewManager = %d, want 1", n)
	}

	if _, err := m.Get(ctx, ""); !errors.Is(err, ErrNoStudent) {
		t.Errorf("Get(\"\") error = %v, want ErrNoStudent", err)
	}

	s1, err := m.Get(ctx, "s1")
	if err != nil {
		t.Fatalf("Get(s1) error = %v", err)
	}
	if len(s1.Snapshot()) != 4 {
		t.Errorf("Get() did not load the session")
	}
	again, _ := m.Get(ctx, "s1")
	if again != s1 {
		t.Errorf("Get() created a second session for s1")
	}
	if _, err := m.Get(ctx, "s2"); err != nil {
		t.Fatal(err)
	}
	if n := len(c.Entries()); n != 3 {
		t.Errorf("entries = %d, want refresh + two reminder scans", n)
	}
	if got := m.Students(); len(got) != 2 || got[0] != "s1" || got[1] != "s2" {
		t.Errorf("Students() = %v", got)
	}

	// RefreshAll bypasses the cache.
	st.setClasses(nil)
	m.RefreshAll(ctx)
	if len(s1.Snapshot()) != 3 {
		t.Errorf("RefreshAll() did not reload s1: %d events", len(s1.Snapshot()))
	}

	if !m.End("s1") || m.End("s1") {
		t.Errorf("End() should report the session exactly once")
	}
	if !s1.Closed() {
		t.Errorf("End() did not close the session")
	}

	m.Close()
	if n := len(c.Entries()); n != 0 {
		t.Errorf("entries after Close = %d, want 0", n)
	}
	if len(m.Students()) != 0 {
		t.Errorf("Close() left sessions behind")
	}
}

func TestManagerGetWaitsForFirstPass(t *testing.T) {
	st := &gatedStore{fakeStore: newFakeStore(), entered: make(chan struct{}), gate: make(chan struct{})}
	m, err := NewManager(st, cron.New(), ManagerConfig{
		Session:   Config{Now: (&testClock{t: now}).Now},
		CacheTTL:  time.Hour,
		CheckSpec: "@every 5m",
	})
	if err != nil {
		t.Fatalf("NewManager() error = %v", err)
	}
	defer m.Close()
	ctx := context.Background()

	first := make(chan error, 1)
	go func() {
		_, err := m.Get(ctx, "s1")
		first <- err
	}()
	<-st.entered

	// The session exists but its first pass is still blocked.
	cancelled, cancel := context.WithCancel(ctx)
	cancel()
	if s, err := m.Get(cancelled, "s1"); !errors.Is(err, context.Canceled) || s != nil {
		t.Fatalf("Get() during the first pass = %v, %v; want to wait", s, err)
	}

	type result struct {
		st  Status
		err error
	}
	second := make(chan result, 1)
	go func() {
		s, err := m.Get(ctx, "s1")
		if err != nil {
			second <- result{err: err}
			return
		}
		second <- result{st: s.Status()}
	}()

	close(st.gate)
	if err := <-first; err != nil {
		t.Fatalf("first Get() error = %v", err)
	}
	got := <-second
	if got.err != nil {
		t.Fatalf("second Get() error = %v", got.err)
	}
	if got.st.Sequence != 1 || got.st.Events != 4 {
		t.Errorf("second Get() saw %+v, want the loaded first pass", got.st)
	}
}

func TestManagerIdleSweepAndCap(t *testing.T) {
	clock := &testClock{t: now}
	c := cron.New()
	ctx := context.Background()
	m, err := NewManager(newFakeStore(), c, ManagerConfig{
		Session:     Config{Now: clock.Now},
		CacheTTL:    time.Hour,
		CheckSpec:   "@every 5m",
		IdleTTL:     30 * time.Minute,
		MaxSessions: 2,
	})
	if err != nil {
		t.Fatalf("NewManager() error = %v", err)
	}
	if n := len(c.Entries()); n != 1 {
		t.Errorf("entries after NewManager = %d, want the idle sweep", n)
	}

	s1, _ := m.Get(ctx, "s1")
	s2, _ := m.Get(ctx, "s2")
	if _, err := m.Get(ctx, "s3"); !errors.Is(err, ErrTooManySessions) {
		t.Fatalf("Get() over the cap error = %v, want ErrTooManySessions", err)
	}

	clock.Set(now.Add(20 * time.Minute))
	if _, err := m.Get(ctx, "s1"); err != nil {
		t.Fatal(err)
	}
	clock.Set(now.Add(35 * time.Minute))
	if _, err := m.Get(ctx, "s3"); err != nil {
		t.Fatalf("Get() with an idle session to evict error = %v", err)
	}
	if got := m.Students(); len(got) != 2 || got[0] != "s1" || got[1] != "s3" {
		t.Errorf("Students() = %v, want [s1 s3]", got)
	}
	if !s2.Closed() || s1.Closed() {
		t.Errorf("eviction closed the wrong session")
	}

	if n := m.Sweep(); n != 0 {
		t.Errorf("Sweep() ended %d busy sessions", n)
	}
	clock.Set(now.Add(2 * time.Hour))
	if n := m.Sweep(); n != 2 {
		t.Errorf("Sweep() = %d, want 2", n)
	}
	if len(m.Students()) != 0 || !s1.Closed() {
		t.Errorf("Sweep() left idle sessions behind")
	}

	m.Close()
	if n := len(c.Entries()); n != 0 {
		t.Errorf("entries after Close = %d, want 0", n)
	}
}

type memPrefs struct {
	mu    sync.Mutex
	prefs map[string]model.Preferences
}

func (p *memPrefs) LoadPreferences(_ context.Context, id string) (model.Preferences, bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	v, ok := p.prefs[id]
	return v, ok, nil
}

func (p *memPrefs) SavePreferences(_ context.Context, id string, v model.Preferences) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.prefs[id] = v
	return nil
}

func TestManagerPreferences(t *testing.T) {
	prefs := &memPrefs{prefs: map[string]model.Preferences{
		"s1": {View: "week", ShowWeekends: false, ReminderMinutes: 60},
	}}
	m, err := NewManager(newFakeStore(), cron.New(), ManagerConfig{
		Session:     Config{Now: (&testClock{t: now}).Now},
		CacheTTL:    time.Hour,
		CheckSpec:   "@every 5m",
		Preferences: prefs,
	})
	if err != nil {
		t.Fatalf("NewManager() error = %v", err)
	}
	defer m.Close()
	ctx := context.Background()

	s, err := m.Get(ctx, "s1")
	if err != nil {
		t.Fatal(err)
	}
	if lead := s.Scheduler().Lead(); lead != time.Hour {
		t.Errorf("Lead() = %s, want the stored 60 minutes", lead)
	}
	// Both the 12:10 class and the 12:30 exam fall inside the hour.
	if n := s.Inbox().Unread(); n != 2 {
		t.Errorf("first pass reminders = %d, want 2", n)
	}
	g, err := s.Grid("", time.Time{})
	if err != nil {
		t.Fatal(err)
	}
	if g.Granularity != grid.Week || len(g.Cells) != 5 || !g.HideWeekends {
		t.Errorf("preferred grid = %s with %d cells", g.Granularity, len(g.Cells))
	}

	got, err := m.SetPreferences(ctx, "s1", model.Preferences{ShowWeekends: true})
	if err != nil {
		t.Fatalf("SetPreferences() error = %v", err)
	}
	if want := model.DefaultPreferences(); got != want {
		t.Errorf("SetPreferences() = %+v, want %+v", got, want)
	}
	if lead := s.Scheduler().Lead(); lead != reminder.DefaultLead {
		t.Errorf("Lead() after reset = %s, want %s", lead, reminder.DefaultLead)
	}
	if stored := prefs.prefs["s1"]; stored != got {
		t.Errorf("stored preferences = %+v", stored)
	}
	g, _ = s.Grid("", time.Time{})
	if g.Granularity != grid.Month || g.HideWeekends || len(g.Cells)%7 != 0 {
		t.Errorf("default grid = %s with %d cells", g.Granularity, len(g.Cells))
	}
}
