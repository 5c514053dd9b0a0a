package schedule

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// Schema is the SQL DDL for the roster and lesson tables. Execute it via
// [PostgresStore.Migrate] or apply it manually during deployment.
//
// The UNIQUE constraint on (student_id, date) makes the one-lesson-per-day
// invariant a database guarantee; [PostgresStore.CreateLesson] upserts
// against it so racing creates collapse into one row.
const Schema = `
CREATE TABLE IF NOT EXISTS students (
    id             TEXT PRIMARY KEY,
    first_name     TEXT NOT NULL DEFAULT '',
    last_name      TEXT NOT NULL DEFAULT '',
    slots          JSONB NOT NULL DEFAULT '[]',
    change         JSONB,
    end_date       TEXT NOT NULL DEFAULT ''
);

CREATE TABLE IF NOT EXISTS lessons (
    id             TEXT PRIMARY KEY,
    student_id     TEXT NOT NULL REFERENCES students(id),
    date           TEXT NOT NULL,
    duration_min   INTEGER NOT NULL DEFAULT 0,
    amount_cents   INTEGER NOT NULL DEFAULT 0,
    attended       BOOLEAN NOT NULL DEFAULT FALSE,
    time_of_day    TEXT NOT NULL DEFAULT '',
    note           TEXT NOT NULL DEFAULT '',
    UNIQUE (student_id, date)
);
CREATE INDEX IF NOT EXISTS idx_lessons_date ON lessons(date);
`

// DB is the database interface used by [PostgresStore]. Both *pgxpool.Pool
// and *pgx.Conn satisfy this interface.
type DB interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// PostgresStore is a [Store] backed by a PostgreSQL database. Weekly slots
// and schedule changes are serialised as JSONB.
type PostgresStore struct {
	db DB
}

// Compile-time interface check.
var _ Store = (*PostgresStore)(nil)

// NewPostgresStore creates a [PostgresStore] that uses the given connection
// or pool. Call [PostgresStore.Migrate] before issuing queries.
func NewPostgresStore(db DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// Migrate executes the [Schema] DDL, creating the tables and indexes if they
// do not already exist.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	if _, err := s.db.Exec(ctx, Schema); err != nil {
		return fmt.Errorf("schedule: migrate: %w", err)
	}
	return nil
}

// Students implements [Store.Students].
func (s *PostgresStore) Students(ctx context.Context) ([]Student, error) {
	rows, err := s.db.Query(ctx, `
		SELECT id, first_name, last_name, slots, change, end_date
		FROM students
		ORDER BY last_name, first_name`)
	if err != nil {
		return nil, fmt.Errorf("schedule: query students: %w", err)
	}
	defer rows.Close()

	var students []Student
	for rows.Next() {
		var st Student
		if err := rows.Scan(&st.ID, &st.FirstName, &st.LastName, &st.Slots, &st.Change, &st.EndDate); err != nil {
			return nil, fmt.Errorf("schedule: scan student: %w", err)
		}
		students = append(students, st)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("schedule: iterate students: %w", err)
	}
	return students, nil
}

// LessonForStudentOnDate implements [Store.LessonForStudentOnDate].
func (s *PostgresStore) LessonForStudentOnDate(ctx context.Context, studentID, dateKey string) (*Lesson, error) {
	row := s.db.QueryRow(ctx, `
		SELECT id, student_id, date, duration_min, amount_cents, attended, time_of_day, note
		FROM lessons
		WHERE student_id = $1 AND date = $2`, studentID, dateKey)

	var l Lesson
	err := row.Scan(&l.ID, &l.StudentID, &l.DateKey, &l.DurationMin, &l.AmountCents, &l.Attended, &l.TimeOfDay, &l.Note)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("schedule: lesson for %s on %s: %w", studentID, dateKey, err)
	}
	return &l, nil
}

// LessonsInRange implements [Store.LessonsInRange].
func (s *PostgresStore) LessonsInRange(ctx context.Context, fromKey, toKey string) ([]Lesson, error) {
	rows, err := s.db.Query(ctx, `
		SELECT id, student_id, date, duration_min, amount_cents, attended, time_of_day, note
		FROM lessons
		WHERE date >= $1 AND date <= $2
		ORDER BY date, student_id, id`, fromKey, toKey)
	if err != nil {
		return nil, fmt.Errorf("schedule: lessons in range: %w", err)
	}
	defer rows.Close()
	return scanLessons(rows)
}

// CreateLesson implements [Store.CreateLesson]. The insert upserts on the
// (student_id, date) constraint so a concurrent create of the same
// occurrence lands on one row.
func (s *PostgresStore) CreateLesson(ctx context.Context, lesson Lesson) (string, error) {
	if lesson.ID == "" {
		lesson.ID = newLessonID()
	}
	row := s.db.QueryRow(ctx, `
		INSERT INTO lessons (id, student_id, date, duration_min, amount_cents, attended, time_of_day, note)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (student_id, date) DO UPDATE SET
			duration_min = EXCLUDED.duration_min,
			amount_cents = EXCLUDED.amount_cents,
			attended     = EXCLUDED.attended,
			time_of_day  = EXCLUDED.time_of_day,
			note         = EXCLUDED.note
		RETURNING id`,
		lesson.ID, lesson.StudentID, lesson.DateKey, lesson.DurationMin,
		lesson.AmountCents, lesson.Attended, lesson.TimeOfDay, lesson.Note)

	var id string
	if err := row.Scan(&id); err != nil {
		return "", fmt.Errorf("schedule: create lesson: %w", err)
	}
	return id, nil
}

// UpdateLesson implements [Store.UpdateLesson].
func (s *PostgresStore) UpdateLesson(ctx context.Context, id string, patch LessonPatch) error {
	if patch.IsZero() {
		return nil
	}

	var (
		sets []string
		args []any
	)
	add := func(col string, v any) {
		args = append(args, v)
		sets = append(sets, fmt.Sprintf("%s = $%d", col, len(args)))
	}
	if patch.DateKey != nil {
		add("date", *patch.DateKey)
	}
	if patch.TimeOfDay != nil {
		add("time_of_day", *patch.TimeOfDay)
	}
	if patch.DurationMin != nil {
		add("duration_min", *patch.DurationMin)
	}
	if patch.AmountCents != nil {
		add("amount_cents", *patch.AmountCents)
	}
	if patch.Attended != nil {
		add("attended", *patch.Attended)
	}
	if patch.Note != nil {
		add("note", *patch.Note)
	}

	args = append(args, id)
	query := fmt.Sprintf("UPDATE lessons SET %s WHERE id = $%d", strings.Join(sets, ", "), len(args))

	tag, err := s.db.Exec(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("schedule: update lesson %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// DeleteLesson implements [Store.DeleteLesson].
func (s *PostgresStore) DeleteLesson(ctx context.Context, id string) error {
	tag, err := s.db.Exec(ctx, `DELETE FROM lessons WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("schedule: delete lesson %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// LessonsForVerification implements [Store.LessonsForVerification].
func (s *PostgresStore) LessonsForVerification(ctx context.Context, studentID, fromKey, toKey string) ([]Lesson, error) {
	rows, err := s.db.Query(ctx, `
		SELECT id, student_id, date, duration_min, amount_cents, attended, time_of_day, note
		FROM lessons
		WHERE student_id = $1 AND date >= $2 AND date <= $3
		ORDER BY date, id`, studentID, fromKey, toKey)
	if err != nil {
		return nil, fmt.Errorf("schedule: verification fetch: %w", err)
	}
	defer rows.Close()
	return scanLessons(rows)
}

// scanLessons drains rows into a slice.
func scanLessons(rows pgx.Rows) ([]Lesson, error) {
	var lessons []Lesson
	for rows.Next() {
		var l Lesson
		if err := rows.Scan(&l.ID, &l.StudentID, &l.DateKey, &l.DurationMin, &l.AmountCents, &l.Attended, &l.TimeOfDay, &l.Note); err != nil {
			return nil, fmt.Errorf("schedule: scan lesson: %w", err)
		}
		lessons = append(lessons, l)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("schedule: iterate lessons: %w", err)
	}
	return lessons, nil
}
