package web

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gorilla/mux"

	"studentcal/internal/conflict"
	"studentcal/internal/grid"
	"studentcal/internal/ics"
	appLog "studentcal/internal/log"
	"studentcal/internal/model"
	"studentcal/internal/reminder"
	"studentcal/internal/schedule"
	"studentcal/internal/session"
)

var validate = validator.New()

// maxListLimit caps the limit query parameter of list endpoints.
const maxListLimit = 100

func listLimit(r *http.Request, def int) int {
	n := parseIntDefault(r.URL.Query().Get("limit"), def)
	if n > maxListLimit {
		n = maxListLimit
	}
	return n
}

// statusFor maps domain errors onto HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, session.ErrNoStudent),
		errors.Is(err, grid.ErrUnknownGranularity),
		errors.Is(err, conflict.ErrUnknownAction):
		return http.StatusBadRequest
	case errors.Is(err, conflict.ErrUnknownConflict):
		return http.StatusNotFound
	case errors.Is(err, session.ErrClosed):
		return http.StatusGone
	case errors.Is(err, session.ErrTooManySessions):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// session resolves the {student} path variable, creating and loading the
// session on first use. On failure the error response is already written.
func (s *Server) session(w http.ResponseWriter, r *http.Request) (*session.Session, bool) {
	id := mux.Vars(r)["student"]
	sess, err := s.sessions.Get(r.Context(), id)
	if err != nil {
		appLog.Error("session lookup failed", err, "student", id)
		writeError(w, statusFor(err), err.Error())
		return nil, false
	}
	return sess, true
}

func (s *Server) handleStudents(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"students": s.sessions.Students()})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, sess.Status())
}

func (s *Server) handleEndSession(w http.ResponseWriter, r *http.Request) {
	if !s.sessions.End(mux.Vars(r)["student"]) {
		writeError(w, http.StatusNotFound, "no active session")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type eventsResponse struct {
	StudentID string                `json:"student_id"`
	Count     int                   `json:"count"`
	Events    []model.CalendarEvent `json:"events"`
	Failed    []model.Kind          `json:"failed_sources,omitempty"`
}

// handleEvents returns the unified event list.
//
// GET /api/students/{student}/events?subject=&location=&kind=class,exam&from=&to=&q=
//   - subject, location: exact match; "all" or empty disables the filter
//   - kind: repeatable or comma separated
//   - from, to: date or date-time, from <= start < to
//   - q: case-insensitive search over title, subject, location, instructor
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	f, err := s.parseFilter(r.URL.Query())
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	sess, ok := s.session(w, r)
	if !ok {
		return
	}
	events := sess.UnifiedEvents(f)
	writeJSON(w, http.StatusOK, eventsResponse{
		StudentID: sess.StudentID(),
		Count:     len(events),
		Events:    events,
		Failed:    sess.Status().Failed,
	})
}

func (s *Server) parseFilter(q url.Values) (schedule.Filter, error) {
	f := schedule.Filter{
		Subject:  q.Get("subject"),
		Location: q.Get("location"),
		Search:   q.Get("q"),
	}
	for _, raw := range q["kind"] {
		for _, part := range strings.Split(raw, ",") {
			part = strings.TrimSpace(part)
			if part == "" || strings.EqualFold(part, "all") {
				continue
			}
			k := model.Kind(strings.ToLower(part))
			if !k.Valid() {
				return f, fmt.Errorf("unknown kind %q", part)
			}
			f.Kinds = append(f.Kinds, k)
		}
	}
	var err error
	if f.From, err = s.parseDate(q.Get("from")); err != nil {
		return f, fmt.Errorf("from: %w", err)
	}
	if f.To, err = s.parseDate(q.Get("to")); err != nil {
		return f, fmt.Errorf("to: %w", err)
	}
	return f, nil
}

// parseDate reads an optional date or date-time in the server zone.
func (s *Server) parseDate(v string) (time.Time, error) {
	if v == "" {
		return time.Time{}, nil
	}
	return schedule.ParseTime(v, s.loc)
}

// handleGrid returns the calendar grid. Without granularity the student's
// preferred view is used.
//
// GET /api/students/{student}/grid?granularity=month&date=2026-10-14
func (s *Server) handleGrid(w http.ResponseWriter, r *http.Request) {
	g, ref, err := s.gridParams(r.URL.Query())
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	sess, ok := s.session(w, r)
	if !ok {
		return
	}
	out, err := sess.Grid(g, ref)
	if err != nil {
		writeError(w, statusFor(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, out)
}

// gridParams reads granularity and date. An empty granularity is left to
// the student's preferred view.
func (s *Server) gridParams(q url.Values) (grid.Granularity, time.Time, error) {
	var g grid.Granularity
	if raw := q.Get("granularity"); raw != "" {
		var err error
		if g, err = grid.ParseGranularity(raw); err != nil {
			return "", time.Time{}, err
		}
	}
	ref, err := s.parseDate(q.Get("date"))
	if err != nil {
		return "", time.Time{}, fmt.Errorf("date: %w", err)
	}
	return g, ref, nil
}

func (s *Server) handleConflicts(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"conflicts": sess.Conflicts()})
}

type resolveRequest struct {
	Action string `json:"action" validate:"required,oneof=reschedule_a reschedule_b dismiss"`
}

// handleResolve applies a resolution action.
//
// POST /api/students/{student}/conflicts/{id}/resolve  {"action":"dismiss"}
func (s *Server) handleResolve(w http.ResponseWriter, r *http.Request) {
	var req resolveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if err := validate.Struct(req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	action, err := conflict.ParseAction(req.Action)
	if err != nil {
		writeError(w, statusFor(err), err.Error())
		return
	}

	sess, ok := s.session(w, r)
	if !ok {
		return
	}
	res, err := sess.ResolveConflict(mux.Vars(r)["id"], action)
	if err != nil {
		writeError(w, statusFor(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handlePreferences(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, sess.Preferences())
}

// handleSavePreferences replaces the student's preferences.
//
// PUT /api/students/{student}/preferences  {"view":"week","show_weekends":false,"reminder_minutes":30}
func (s *Server) handleSavePreferences(w http.ResponseWriter, r *http.Request) {
	var req model.Preferences
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if err := validate.Struct(req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	id := mux.Vars(r)["student"]
	saved, err := s.sessions.SetPreferences(r.Context(), id, req)
	if err != nil {
		appLog.Error("saving preferences failed", err, "student", id)
		writeError(w, statusFor(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, saved)
}

type refreshResponse struct {
	session.Status
	Dropped int    `json:"dropped"`
	Error   string `json:"error,omitempty"`
}

func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(w, r)
	if !ok {
		return
	}
	res, err := sess.Refresh(r.Context())
	if err != nil {
		writeError(w, statusFor(err), err.Error())
		return
	}
	resp := refreshResponse{Status: sess.Status(), Dropped: res.Dropped}
	if res.Err != nil {
		resp.Error = res.Err.Error()
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleUpcoming(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"events": sess.Upcoming(listLimit(r, schedule.DefaultUpcomingLimit))})
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, sess.Stats())
}

func (s *Server) handleCheckReminders(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(w, r)
	if !ok {
		return
	}
	rs := sess.CheckReminders()
	if rs == nil {
		rs = []reminder.Reminder{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"reminders": rs})
}

type notificationsResponse struct {
	Unread int                     `json:"unread"`
	Items  []reminder.Notification `json:"items"`
}

func (s *Server) handleNotifications(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(w, r)
	if !ok {
		return
	}
	in := sess.Inbox()
	writeJSON(w, http.StatusOK, notificationsResponse{
		Unread: in.Unread(),
		Items:  in.List(listLimit(r, 0)),
	})
}

func (s *Server) handleRead(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(w, r)
	if !ok {
		return
	}
	if !sess.Inbox().MarkRead(mux.Vars(r)["id"]) {
		writeError(w, http.StatusNotFound, "unknown notification")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleReadAll(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(w, r)
	if !ok {
		return
	}
	sess.Inbox().MarkAllRead()
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleClearNotifications(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(w, r)
	if !ok {
		return
	}
	sess.Inbox().Clear()
	w.WriteHeader(http.StatusNoContent)
}

// handleICS exports the unified schedule as an ICS calendar.
func (s *Server) handleICS(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(w, r)
	if !ok {
		return
	}
	body := ics.Export(sess.StudentID()+" schedule", sess.Snapshot(), sess.Now())
	w.Header().Set("Content-Type", "text/calendar; charset=utf-8")
	w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="%s.ics"`, sess.StudentID()))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(body))
}

type exportResponse struct {
	StudentID  string                `json:"student_id"`
	ExportedAt time.Time             `json:"exported_at"`
	Events     []model.CalendarEvent `json:"events"`
	Conflicts  []conflict.Conflict   `json:"conflicts"`
	Stats      schedule.Stats        `json:"stats"`
}

// handleExport returns the full schedule as a JSON download.
func (s *Server) handleExport(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(w, r)
	if !ok {
		return
	}
	w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="%s.json"`, sess.StudentID()))
	writeJSON(w, http.StatusOK, exportResponse{
		StudentID:  sess.StudentID(),
		ExportedAt: sess.Now(),
		Events:     sess.Snapshot(),
		Conflicts:  sess.Conflicts(),
		Stats:      sess.Stats(),
	})
}
