package schedule

import (
	"context"
	"errors"

	"github.com/google/uuid"
)

// Store errors. Implementations return these sentinels (possibly wrapped) so
// callers can branch with [errors.Is].
var (
	// ErrNotFound is returned when the referenced lesson does not exist.
	ErrNotFound = errors.New("schedule: not found")

	// ErrDuplicateLesson is returned by constraint-enforcing stores when a
	// create would produce a second lesson for the same (student, date).
	ErrDuplicateLesson = errors.New("schedule: duplicate lesson for student and date")
)

// Store is the persistence collaborator for the voice subsystem. Students
// are read-only through this interface; lessons are the only mutable rows.
//
// Implementations should enforce the one-lesson-per-(student, date)
// invariant where they can, but callers must not rely on it: eventually
// consistent backends may let a duplicate slip through, which is why
// [Store.LessonsForVerification] exists.
type Store interface {
	// Students returns the full roster, active and terminated alike.
	Students(ctx context.Context) ([]Student, error)

	// LessonForStudentOnDate returns the occurrence for the student on the
	// given date, or (nil, nil) when none exists.
	LessonForStudentOnDate(ctx context.Context, studentID, dateKey string) (*Lesson, error)

	// LessonsInRange returns all lessons with fromKey <= DateKey <= toKey,
	// across all students. Used to build resolution snapshots.
	LessonsInRange(ctx context.Context, fromKey, toKey string) ([]Lesson, error)

	// CreateLesson inserts a new occurrence and returns its ID. When an
	// occurrence already exists for (StudentID, DateKey), constraint-enforcing
	// implementations update it in place and return the existing ID.
	CreateLesson(ctx context.Context, lesson Lesson) (string, error)

	// UpdateLesson applies the non-nil fields of patch to the lesson.
	UpdateLesson(ctx context.Context, id string, patch LessonPatch) error

	// DeleteLesson removes the lesson.
	DeleteLesson(ctx context.Context, id string) error

	// LessonsForVerification returns the student's lessons in the inclusive
	// date range. It is intended solely for the post-write duplicate check
	// after a reschedule.
	LessonsForVerification(ctx context.Context, studentID, fromKey, toKey string) ([]Lesson, error)
}

// newLessonID returns a fresh lesson identifier.
func newLessonID() string {
	return uuid.NewString()
}
