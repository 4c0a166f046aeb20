package web

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/stretchr/testify/assert"

	"studentcal/internal/config"
	"studentcal/internal/model"
	"studentcal/internal/session"
	"studentcal/internal/store"
)

var now = time.Date(2026, 10, 14, 12, 0, 0, 0, time.UTC)

var fixture = store.Fixture{
	Classes: []model.ClassRecord{
		{ID: "c1", StudentID: "s1", ClassName: "Math", StartTime: "2026-10-14T12:10:00Z", EndTime: "2026-10-14T13:00:00Z", Location: "R1", IsActive: true},
	},
	Assignments: []model.AssignmentRecord{
		{ID: "a1", StudentID: "s1", Title: "Essay", DueDate: "2026-10-16T23:59:00Z", Status: "assigned"},
	},
	Exams: []model.ExamRecord{
		{ID: "e1", StudentID: "s1", Subject: "Physics", ExamDate: "2026-10-14T12:30:00Z", ExamEndTime: "2026-10-14T14:00:00Z", IsActive: true},
	},
}

func newTestServer(t *testing.T, cfg *config.Config) *httptest.Server {
	t.Helper()
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	st := store.NewMemory(fixture)
	m, err := session.NewManager(st, cron.New(), session.ManagerConfig{
		Session:     session.Config{Now: func() time.Time { return now }},
		CacheTTL:    time.Hour,
		CheckSpec:   "@every 5m",
		Preferences: st,
	})
	if err != nil {
		t.Fatalf("NewManager() error = %v", err)
	}
	t.Cleanup(m.Close)

	srv := httptest.NewServer(NewServer(cfg, m).Handler())
	t.Cleanup(srv.Close)
	return srv
}

func do(t *testing.T, method, url, body string) *http.Response {
	t.Helper()
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	req, err := http.NewRequest(method, url, r)
	if err != nil {
		t.Fatal(err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, url, err)
	}
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func decode[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	var v T
	if err := json.NewDecoder(resp.Body).Decode(&v); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return v
}

func TestHealthAndMetrics(t *testing.T) {
	srv := newTestServer(t, nil)

	assert.Equal(t, http.StatusOK, do(t, http.MethodGet, srv.URL+"/health", "").StatusCode)

	do(t, http.MethodGet, srv.URL+"/api/students/s1/events", "")
	resp := do(t, http.MethodGet, srv.URL+"/metrics", "")
	body, _ := io.ReadAll(resp.Body)
	assert.Contains(t, string(body), "studentcal_aggregation_passes_total")
}

func TestEventsEndpoint(t *testing.T) {
	srv := newTestServer(t, nil)
	base := srv.URL + "/api/students/s1/events"

	tests := []struct {
		name   string
		query  string
		status int
		count  int
	}{
		{"all", "", http.StatusOK, 3},
		{"kind filter", "?kind=exam,assignment", http.StatusOK, 2},
		{"date range", "?from=2026-10-15&to=2026-10-20", http.StatusOK, 1},
		{"search", "?q=phys", http.StatusOK, 1},
		{"location all", "?location=all", http.StatusOK, 3},
		{"bad kind", "?kind=party", http.StatusBadRequest, 0},
		{"bad date", "?from=someday", http.StatusBadRequest, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := do(t, http.MethodGet, base+tt.query, "")
			if resp.StatusCode != tt.status {
				t.Fatalf("status = %d, want %d", resp.StatusCode, tt.status)
			}
			if tt.status != http.StatusOK {
				return
			}
			got := decode[eventsResponse](t, resp)
			assert.Equal(t, tt.count, got.Count)
			assert.Len(t, got.Events, tt.count)
		})
	}
}

type gridView struct {
	Granularity string `json:"granularity"`
	Cells       []struct {
		Events []model.CalendarEvent `json:"events"`
	} `json:"cells"`
}

func TestGridEndpoint(t *testing.T) {
	srv := newTestServer(t, nil)

	resp := do(t, http.MethodGet, srv.URL+"/api/students/s1/grid?granularity=week&date=2026-10-14", "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	g := decode[gridView](t, resp)
	assert.Equal(t, "week", g.Granularity)
	if assert.Len(t, g.Cells, 7) {
		assert.Len(t, g.Cells[2].Events, 2)
	}

	resp = do(t, http.MethodGet, srv.URL+"/api/students/s1/grid?granularity=year", "")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestConflictResolution(t *testing.T) {
	srv := newTestServer(t, nil)
	base := srv.URL + "/api/students/s1/conflicts"

	list := decode[struct {
		Conflicts []struct {
			ID       string `json:"id"`
			Severity string `json:"severity"`
		} `json:"conflicts"`
	}](t, do(t, http.MethodGet, base, ""))
	if len(list.Conflicts) != 1 || list.Conflicts[0].Severity != "high" {
		t.Fatalf("conflicts = %+v", list.Conflicts)
	}
	id := list.Conflicts[0].ID

	assert.Equal(t, http.StatusBadRequest, do(t, http.MethodPost, base+"/"+id+"/resolve", `{"action":"shrug"}`).StatusCode)
	assert.Equal(t, http.StatusNotFound, do(t, http.MethodPost, base+"/nope/resolve", `{"action":"dismiss"}`).StatusCode)

	resp := do(t, http.MethodPost, base+"/"+id+"/resolve", `{"action":"reschedule_b"}`)
	res := decode[struct {
		Target *model.CalendarEvent `json:"target"`
	}](t, resp)
	assert.NotNil(t, res.Target, "reschedule_b returned no target")

	if resp := do(t, http.MethodPost, base+"/"+id+"/resolve", `{"action":"dismiss"}`); resp.StatusCode != http.StatusOK {
		t.Fatalf("dismiss status = %d", resp.StatusCode)
	}
	after := decode[struct {
		Conflicts []any `json:"conflicts"`
	}](t, do(t, http.MethodGet, base, ""))
	assert.Empty(t, after.Conflicts, "dismissed conflict still listed")
}

func TestNotificationsEndpoint(t *testing.T) {
	srv := newTestServer(t, nil)
	base := srv.URL + "/api/students/s1/notifications"

	got := decode[notificationsResponse](t, do(t, http.MethodGet, base, ""))
	if got.Unread != 1 || len(got.Items) != 1 || !strings.Contains(got.Items[0].Message, "Math starts in 10 minutes") {
		t.Fatalf("notifications = %+v", got)
	}

	assert.Equal(t, http.StatusNoContent, do(t, http.MethodPost, base+"/"+got.Items[0].ID+"/read", "").StatusCode)
	assert.Equal(t, http.StatusNotFound, do(t, http.MethodPost, base+"/missing/read", "").StatusCode)
	assert.Zero(t, decode[notificationsResponse](t, do(t, http.MethodGet, base, "")).Unread)

	assert.Equal(t, http.StatusNoContent, do(t, http.MethodDelete, base, "").StatusCode)
	assert.Empty(t, decode[notificationsResponse](t, do(t, http.MethodGet, base, "")).Items)
}

func TestExports(t *testing.T) {
	srv := newTestServer(t, nil)

	resp := do(t, http.MethodGet, srv.URL+"/api/students/s1/calendar.ics", "")
	body, _ := io.ReadAll(resp.Body)
	assert.True(t, strings.HasPrefix(resp.Header.Get("Content-Type"), "text/calendar"), "ics content type = %q", resp.Header.Get("Content-Type"))
	assert.Contains(t, string(body), "BEGIN:VCALENDAR")
	assert.Contains(t, string(body), "UID:exam-e1@studentcal")

	exp := decode[exportResponse](t, do(t, http.MethodGet, srv.URL+"/api/students/s1/export", ""))
	assert.Equal(t, "s1", exp.StudentID)
	assert.Len(t, exp.Events, 3)
	assert.Len(t, exp.Conflicts, 1)
	assert.Equal(t, 1, exp.Stats.PendingAssignments)
}

func TestPrintPage(t *testing.T) {
	srv := newTestServer(t, nil)

	resp := do(t, http.MethodGet, srv.URL+"/students/s1/print?granularity=week&date=2026-10-14", "")
	body, _ := io.ReadAll(resp.Body)
	page := string(body)
	for _, want := range []string{`data-ready="true"`, "Week of 12 October 2026", "12:10 Math (R1)", "Exam: Physics", "Conflicts"} {
		assert.Contains(t, page, want)
	}
}

func TestSessionLifecycle(t *testing.T) {
	srv := newTestServer(t, nil)

	do(t, http.MethodGet, srv.URL+"/api/students/s1", "")
	list := decode[struct {
		Students []string `json:"students"`
	}](t, do(t, http.MethodGet, srv.URL+"/api/students", ""))
	assert.Equal(t, []string{"s1"}, list.Students)

	refresh := decode[refreshResponse](t, do(t, http.MethodPost, srv.URL+"/api/students/s1/refresh", ""))
	assert.EqualValues(t, 2, refresh.Sequence)
	assert.Equal(t, 3, refresh.Events)

	assert.Equal(t, http.StatusNoContent, do(t, http.MethodDelete, srv.URL+"/api/students/s1", "").StatusCode)
	assert.Equal(t, http.StatusNotFound, do(t, http.MethodDelete, srv.URL+"/api/students/s1", "").StatusCode)
}

func TestBasicAuth(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.BasicAuth = &config.BasicAuthConfig{Username: "admin", Password: "secret"}
	srv := newTestServer(t, cfg)

	assert.Equal(t, http.StatusOK, do(t, http.MethodGet, srv.URL+"/health", "").StatusCode, "/health should stay open")
	assert.Equal(t, http.StatusUnauthorized, do(t, http.MethodGet, srv.URL+"/api/students", "").StatusCode)

	req, _ := http.NewRequest(http.MethodGet, srv.URL+"/api/students", nil)
	req.SetBasicAuth("admin", "secret")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestUpcomingLimit(t *testing.T) {
	srv := newTestServer(t, nil)
	base := srv.URL + "/api/students/s1/upcoming"

	tests := []struct {
		name  string
		query string
		count int
	}{
		{"default", "", 3},
		{"one", "?limit=1", 1},
		{"huge", "?limit=4611686018427387904", 3},
		{"negative", "?limit=-7", 3},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := do(t, http.MethodGet, base+tt.query, "")
			if !assert.Equal(t, http.StatusOK, resp.StatusCode) {
				return
			}
			got := decode[struct {
				Events []model.CalendarEvent `json:"events"`
			}](t, resp)
			assert.Len(t, got.Events, tt.count)
		})
	}

	resp := do(t, http.MethodGet, srv.URL+"/api/students/s1/notifications?limit=4611686018427387904", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestPreferencesEndpoint(t *testing.T) {
	srv := newTestServer(t, nil)
	base := srv.URL + "/api/students/s1/preferences"

	got := decode[model.Preferences](t, do(t, http.MethodGet, base, ""))
	assert.Equal(t, model.DefaultPreferences(), got)

	assert.Equal(t, http.StatusBadRequest, do(t, http.MethodPut, base, `{"view":"year"}`).StatusCode)
	assert.Equal(t, http.StatusBadRequest, do(t, http.MethodPut, base, `{"reminder_minutes":-5}`).StatusCode)
	assert.Equal(t, http.StatusBadRequest, do(t, http.MethodPut, base, `not json`).StatusCode)

	resp := do(t, http.MethodPut, base, `{"view":"week","show_weekends":false,"reminder_minutes":60}`)
	if !assert.Equal(t, http.StatusOK, resp.StatusCode) {
		return
	}
	want := model.Preferences{View: "week", ReminderMinutes: 60}
	assert.Equal(t, want, decode[model.Preferences](t, resp))
	assert.Equal(t, want, decode[model.Preferences](t, do(t, http.MethodGet, base, "")))

	// The grid falls back to the preferred view without weekends.
	g := decode[gridView](t, do(t, http.MethodGet, srv.URL+"/api/students/s1/grid?date=2026-10-14", ""))
	assert.Equal(t, "week", g.Granularity)
	assert.Len(t, g.Cells, 5)

	// Exam at 12:30 now falls inside the one hour lead.
	rs := decode[struct {
		Reminders []struct {
			Event model.CalendarEvent `json:"event"`
		} `json:"reminders"`
	}](t, do(t, http.MethodPost, srv.URL+"/api/students/s1/reminders/check", ""))
	if assert.Len(t, rs.Reminders, 1) {
		assert.Equal(t, "e1", rs.Reminders[0].Event.ID)
	}
}

func TestSessionCap(t *testing.T) {
	m, err := session.NewManager(store.NewMemory(fixture), cron.New(), session.ManagerConfig{
		Session:     session.Config{Now: func() time.Time { return now }},
		CacheTTL:    time.Hour,
		CheckSpec:   "@every 5m",
		MaxSessions: 1,
	})
	if err != nil {
		t.Fatalf("NewManager() error = %v", err)
	}
	t.Cleanup(m.Close)
	srv := httptest.NewServer(NewServer(config.DefaultConfig(), m).Handler())
	t.Cleanup(srv.Close)

	assert.Equal(t, http.StatusOK, do(t, http.MethodGet, srv.URL+"/api/students/s1/events", "").StatusCode)
	assert.Equal(t, http.StatusServiceUnavailable, do(t, http.MethodGet, srv.URL+"/api/students/s2/events", "").StatusCode)
	assert.Equal(t, http.StatusOK, do(t, http.MethodGet, srv.URL+"/api/students/s1/stats", "").StatusCode)
}
