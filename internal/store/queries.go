package store

type queryID uint8

const (
	classAdd queryID = iota
	classGetActive
	assignmentAdd
	assignmentGetAssigned
	examAdd
	examGetActive
	eventAdd
	eventGetActive
	preferenceGet
	preferenceSet
)

var initQueries = []string{
	`
CREATE TABLE IF NOT EXISTS class (
    id          TEXT PRIMARY KEY,
    student_id  TEXT NOT NULL,
    class_name  TEXT NOT NULL,
    start_time  TEXT NOT NULL,
    end_time    TEXT NOT NULL DEFAULT '',
    location    TEXT NOT NULL DEFAULT '',
    instructor  TEXT NOT NULL DEFAULT '',
    subject     TEXT NOT NULL DEFAULT '',
    recurrence  TEXT NOT NULL DEFAULT '',
    is_active   INTEGER NOT NULL DEFAULT 1
)
`,
	"CREATE INDEX IF NOT EXISTS class_student_idx ON class (student_id, is_active)",
	`
CREATE TABLE IF NOT EXISTS assignment (
    id          TEXT PRIMARY KEY,
    student_id  TEXT NOT NULL,
    title       TEXT NOT NULL,
    due_date    TEXT NOT NULL,
    subject     TEXT NOT NULL DEFAULT '',
    status      TEXT NOT NULL DEFAULT 'assigned'
)
`,
	"CREATE INDEX IF NOT EXISTS assignment_student_idx ON assignment (student_id, status)",
	`
CREATE TABLE IF NOT EXISTS exam (
    id            TEXT PRIMARY KEY,
    student_id    TEXT NOT NULL,
    subject       TEXT NOT NULL,
    exam_date     TEXT NOT NULL,
    exam_end_time TEXT NOT NULL DEFAULT '',
    location      TEXT NOT NULL DEFAULT '',
    is_active     INTEGER NOT NULL DEFAULT 1
)
`,
	"CREATE INDEX IF NOT EXISTS exam_student_idx ON exam (student_id, is_active)",
	`
CREATE TABLE IF NOT EXISTS event (
    id          TEXT PRIMARY KEY,
    student_id  TEXT NOT NULL,
    title       TEXT NOT NULL,
    start_time  TEXT NOT NULL DEFAULT '',
    end_time    TEXT NOT NULL DEFAULT '',
    event_date  TEXT NOT NULL DEFAULT '',
    location    TEXT NOT NULL DEFAULT '',
    instructor  TEXT NOT NULL DEFAULT '',
    subject     TEXT NOT NULL DEFAULT '',
    is_active   INTEGER NOT NULL DEFAULT 1
)
`,
	"CREATE INDEX IF NOT EXISTS event_student_idx ON event (student_id, is_active)",
	`
CREATE TABLE IF NOT EXISTS preference (
    student_id       TEXT PRIMARY KEY,
    view             TEXT NOT NULL DEFAULT 'month',
    show_weekends    INTEGER NOT NULL DEFAULT 1,
    reminder_minutes INTEGER NOT NULL DEFAULT 0
)
`,
}

var dbQueries = map[queryID]string{
	classAdd: `
INSERT OR REPLACE INTO class (id, student_id, class_name, start_time, end_time, location, instructor, subject, recurrence, is_active)
VALUES                       ( ?,          ?,          ?,          ?,        ?,        ?,          ?,       ?,          ?,         ?)
`,
	classGetActive: `
SELECT
    id,
    student_id,
    class_name,
    start_time,
    end_time,
    location,
    instructor,
    subject,
    recurrence
FROM class
WHERE student_id = ? AND is_active
ORDER BY start_time, id
`,
	assignmentAdd: `
INSERT OR REPLACE INTO assignment (id, student_id, title, due_date, subject, status)
VALUES                            ( ?,          ?,     ?,        ?,       ?,      ?)
`,
	assignmentGetAssigned: `
SELECT
    id,
    student_id,
    title,
    due_date,
    subject,
    status
FROM assignment
WHERE student_id = ? AND status = 'assigned'
ORDER BY due_date, id
`,
	examAdd: `
INSERT OR REPLACE INTO exam (id, student_id, subject, exam_date, exam_end_time, location, is_active)
VALUES                      ( ?,          ?,       ?,         ?,             ?,        ?,         ?)
`,
	examGetActive: `
SELECT
    id,
    student_id,
    subject,
    exam_date,
    exam_end_time,
    location
FROM exam
WHERE student_id = ? AND is_active
ORDER BY exam_date, id
`,
	eventAdd: `
INSERT OR REPLACE INTO event (id, student_id, title, start_time, end_time, event_date, location, instructor, subject, is_active)
VALUES                       ( ?,          ?,     ?,          ?,        ?,          ?,        ?,          ?,       ?,         ?)
`,
	eventGetActive: `
SELECT
    id,
    student_id,
    title,
    start_time,
    end_time,
    event_date,
    location,
    instructor,
    subject
FROM event
WHERE student_id = ? AND is_active
ORDER BY start_time, event_date, id
`,
	preferenceGet: `
SELECT
    view,
    show_weekends,
    reminder_minutes
FROM preference
WHERE student_id = ?
`,
	preferenceSet: `
INSERT OR REPLACE INTO preference (student_id, view, show_weekends, reminder_minutes)
VALUES                            (         ?,    ?,             ?,                ?)
`,
}
