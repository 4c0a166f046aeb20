// Package store holds the four source collections and serves the
// per-student queries the aggregator runs.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"studentcal/internal/ics"
	appLog "studentcal/internal/log"
	"studentcal/internal/model"
	"studentcal/internal/schedule"
)

// DefaultHorizon bounds how far ahead recurring classes are expanded.
const DefaultHorizon = 120 * 24 * time.Hour

// lookBack is how far before now recurring classes are still expanded, so
// the current week and month grids stay filled.
const lookBack = 45 * 24 * time.Hour

// DB is the SQLite-backed store.
type DB struct {
	db      *sql.DB
	loc     *time.Location
	horizon time.Duration
	now     func() time.Time

	lock    sync.Mutex
	queries map[queryID]*sql.Stmt
}

// Option configures a DB.
type Option func(*DB)

// WithHorizon sets how far ahead recurring classes are expanded.
func WithHorizon(h time.Duration) Option {
	return func(d *DB) {
		if h > 0 {
			d.horizon = h
		}
	}
}

// WithLocation sets the zone used for zone-less recurring class times.
func WithLocation(loc *time.Location) Option {
	return func(d *DB) {
		if loc != nil {
			d.loc = loc
		}
	}
}

// WithClock overrides the time source used for the expansion window.
func WithClock(now func() time.Time) Option {
	return func(d *DB) {
		if now != nil {
			d.now = now
		}
	}
}

// Open opens the database at path, creating the schema when missing.
func Open(path string, opts ...Option) (*DB, error) {
	conn, err := sql.Open("sqlite3", path+"?_busy_timeout=10000&_foreign_keys=true")
	if err != nil {
		return nil, fmt.Errorf("open database %s: %w", path, err)
	}

	d := &DB{
		db:      conn,
		loc:     time.UTC,
		horizon: DefaultHorizon,
		now:     time.Now,
		queries: make(map[queryID]*sql.Stmt),
	}
	for _, o := range opts {
		o(d)
	}

	if err := d.initialize(); err != nil {
		conn.Close()
		return nil, err
	}
	appLog.Debug("database opened", "path", path)
	return d, nil
}

func (d *DB) initialize() error {
	tx, err := d.db.Begin()
	if err != nil {
		return err
	}
	for _, q := range initQueries {
		if _, err := tx.Exec(q); err != nil {
			tx.Rollback()
			return fmt.Errorf("initialize schema: %w", err)
		}
	}
	return tx.Commit()
}

// Close closes all prepared statements and the database.
func (d *DB) Close() error {
	d.lock.Lock()
	defer d.lock.Unlock()
	for id, stmt := range d.queries {
		stmt.Close()
		delete(d.queries, id)
	}
	return d.db.Close()
}

// getQuery prepares a statement on first use.
func (d *DB) getQuery(id queryID) (*sql.Stmt, error) {
	d.lock.Lock()
	defer d.lock.Unlock()

	if stmt, ok := d.queries[id]; ok {
		return stmt, nil
	}
	text, ok := dbQueries[id]
	if !ok {
		return nil, fmt.Errorf("unknown query %d", id)
	}
	stmt, err := d.db.Prepare(text)
	if err != nil {
		return nil, fmt.Errorf("prepare query %d: %w", id, err)
	}
	d.queries[id] = stmt
	return stmt, nil
}

func (d *DB) exec(ctx context.Context, id queryID, args ...any) error {
	stmt, err := d.getQuery(id)
	if err != nil {
		return err
	}
	_, err = stmt.ExecContext(ctx, args...)
	return err
}

// AddClass inserts or replaces a class.
func (d *DB) AddClass(ctx context.Context, c model.ClassRecord) error {
	return d.exec(ctx, classAdd, c.ID, c.StudentID, c.ClassName, c.StartTime, c.EndTime,
		c.Location, c.Instructor, c.Subject, c.Recurrence, c.IsActive)
}

// AddAssignment inserts or replaces an assignment.
func (d *DB) AddAssignment(ctx context.Context, a model.AssignmentRecord) error {
	if a.Status == "" {
		a.Status = model.AssignmentStatusAssigned
	}
	return d.exec(ctx, assignmentAdd, a.ID, a.StudentID, a.Title, a.DueDate, a.Subject, a.Status)
}

// AddExam inserts or replaces an exam.
func (d *DB) AddExam(ctx context.Context, e model.ExamRecord) error {
	return d.exec(ctx, examAdd, e.ID, e.StudentID, e.Subject, e.ExamDate, e.ExamEndTime, e.Location, e.IsActive)
}

// AddEvent inserts or replaces an event.
func (d *DB) AddEvent(ctx context.Context, e model.EventRecord) error {
	return d.exec(ctx, eventAdd, e.ID, e.StudentID, e.Title, e.StartTime, e.EndTime, e.EventDate,
		e.Location, e.Instructor, e.Subject, e.IsActive)
}

// Import writes every record of f.
func (d *DB) Import(ctx context.Context, f Fixture) error {
	var errs []error
	for _, c := range f.Classes {
		errs = append(errs, d.AddClass(ctx, c))
	}
	for _, a := range f.Assignments {
		errs = append(errs, d.AddAssignment(ctx, a))
	}
	for _, e := range f.Exams {
		errs = append(errs, d.AddExam(ctx, e))
	}
	for _, e := range f.Events {
		errs = append(errs, d.AddEvent(ctx, e))
	}
	for id, p := range f.Preferences {
		errs = append(errs, d.SavePreferences(ctx, id, p))
	}
	return errors.Join(errs...)
}

// LoadPreferences returns the student's saved preferences. ok is false
// when the student never saved any.
func (d *DB) LoadPreferences(ctx context.Context, studentID string) (p model.Preferences, ok bool, err error) {
	stmt, err := d.getQuery(preferenceGet)
	if err != nil {
		return p, false, err
	}
	err = stmt.QueryRowContext(ctx, studentID).Scan(&p.View, &p.ShowWeekends, &p.ReminderMinutes)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return model.DefaultPreferences(), false, nil
	case err != nil:
		return p, false, err
	}
	return p, true, nil
}

// SavePreferences inserts or replaces the student's preferences.
func (d *DB) SavePreferences(ctx context.Context, studentID string, p model.Preferences) error {
	if p.View == "" {
		p.View = model.DefaultView
	}
	return d.exec(ctx, preferenceSet, studentID, p.View, p.ShowWeekends, p.ReminderMinutes)
}

// QueryClasses returns the student's active classes with recurring ones
// expanded into concrete sessions.
func (d *DB) QueryClasses(ctx context.Context, studentID string) ([]model.ClassRecord, error) {
	stmt, err := d.getQuery(classGetActive)
	if err != nil {
		return nil, err
	}
	rows, err := stmt.QueryContext(ctx, studentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.ClassRecord
	for rows.Next() {
		c := model.ClassRecord{IsActive: true}
		if err := rows.Scan(&c.ID, &c.StudentID, &c.ClassName, &c.StartTime, &c.EndTime,
			&c.Location, &c.Instructor, &c.Subject, &c.Recurrence); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return ExpandClasses(out, d.window(), d.loc), nil
}

// QueryAssignments returns the student's assignments still in "assigned".
func (d *DB) QueryAssignments(ctx context.Context, studentID string) ([]model.AssignmentRecord, error) {
	stmt, err := d.getQuery(assignmentGetAssigned)
	if err != nil {
		return nil, err
	}
	rows, err := stmt.QueryContext(ctx, studentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.AssignmentRecord
	for rows.Next() {
		var a model.AssignmentRecord
		if err := rows.Scan(&a.ID, &a.StudentID, &a.Title, &a.DueDate, &a.Subject, &a.Status); err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// QueryExams returns the student's active exams.
func (d *DB) QueryExams(ctx context.Context, studentID string) ([]model.ExamRecord, error) {
	stmt, err := d.getQuery(examGetActive)
	if err != nil {
		return nil, err
	}
	rows, err := stmt.QueryContext(ctx, studentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.ExamRecord
	for rows.Next() {
		e := model.ExamRecord{IsActive: true}
		if err := rows.Scan(&e.ID, &e.StudentID, &e.Subject, &e.ExamDate, &e.ExamEndTime, &e.Location); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// QueryEvents returns the student's active events.
func (d *DB) QueryEvents(ctx context.Context, studentID string) ([]model.EventRecord, error) {
	stmt, err := d.getQuery(eventGetActive)
	if err != nil {
		return nil, err
	}
	rows, err := stmt.QueryContext(ctx, studentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.EventRecord
	for rows.Next() {
		e := model.EventRecord{IsActive: true}
		if err := rows.Scan(&e.ID, &e.StudentID, &e.Title, &e.StartTime, &e.EndTime, &e.EventDate,
			&e.Location, &e.Instructor, &e.Subject); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (d *DB) window() ics.Window {
	now := d.now()
	return ics.Window{From: now.Add(-lookBack), To: now.Add(d.horizon)}
}

// ExpandClasses replaces every class carrying a recurrence rule by its
// sessions inside w. Each session keeps the base duration and gets the ID
// "<id>@<RFC3339 start>". Classes whose start or rule cannot be read are
// passed through unchanged so the normalizer can judge them.
func ExpandClasses(classes []model.ClassRecord, w ics.Window, loc *time.Location) []model.ClassRecord {
	out := make([]model.ClassRecord, 0, len(classes))
	for _, c := range classes {
		if c.Recurrence == "" {
			out = append(out, c)
			continue
		}
		start, err := schedule.ParseTime(c.StartTime, loc)
		if err != nil {
			out = append(out, c)
			continue
		}
		var dur time.Duration
		if end, err := schedule.ParseTime(c.EndTime, loc); err == nil && end.After(start) {
			dur = end.Sub(start)
		}

		starts, truncated, err := ics.Recurrences(c.Recurrence, start, nil, w)
		if err != nil {
			appLog.Warn("class recurrence ignored", "class", c.ID, "rrule", c.Recurrence, "err", err)
			out = append(out, c)
			continue
		}
		if truncated {
			appLog.Warn("class recurrence truncated", "class", c.ID)
		}
		for _, s := range starts {
			inst := c
			inst.ID = ics.InstanceID(c.ID, s)
			inst.StartTime = s.Format(time.RFC3339)
			inst.EndTime = ""
			if dur > 0 {
				inst.EndTime = s.Add(dur).Format(time.RFC3339)
			}
			inst.Recurrence = ""
			out = append(out, inst)
		}
	}
	return out
}
