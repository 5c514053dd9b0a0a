package schedule

import (
	"context"
	"sort"
	"sync"
)

// Compile-time assertion that MemStore satisfies the Store interface.
var _ Store = (*MemStore)(nil)

// MemStore is a thread-safe, in-memory implementation of [Store]. It is the
// local-persistence backend and the store used in tests. MemStore enforces
// the one-lesson-per-(student, date) invariant on create.
type MemStore struct {
	mu       sync.RWMutex
	students []Student
	lessons  map[string]Lesson
}

// NewMemStore returns a [MemStore] seeded with the given roster.
func NewMemStore(students ...Student) *MemStore {
	s := &MemStore{
		students: make([]Student, len(students)),
		lessons:  make(map[string]Lesson),
	}
	copy(s.students, students)
	return s
}

// SetStudents replaces the roster. The studio application calls this when the
// roster changes; the voice subsystem itself never does.
func (s *MemStore) SetStudents(students []Student) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.students = make([]Student, len(students))
	copy(s.students, students)
}

// Students implements [Store.Students].
func (s *MemStore) Students(ctx context.Context) ([]Student, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]Student, len(s.students))
	copy(out, s.students)
	return out, nil
}

// LessonForStudentOnDate implements [Store.LessonForStudentOnDate].
func (s *MemStore) LessonForStudentOnDate(ctx context.Context, studentID, dateKey string) (*Lesson, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, l := range s.lessons {
		if l.StudentID == studentID && l.DateKey == dateKey {
			copied := l
			return &copied, nil
		}
	}
	return nil, nil
}

// LessonsInRange implements [Store.LessonsInRange].
func (s *MemStore) LessonsInRange(ctx context.Context, fromKey, toKey string) ([]Lesson, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []Lesson
	for _, l := range s.lessons {
		if l.DateKey >= fromKey && l.DateKey <= toKey {
			out = append(out, l)
		}
	}
	sortLessons(out)
	return out, nil
}

// CreateLesson implements [Store.CreateLesson]. When an occurrence already
// exists for the same (student, date), the existing row is updated in place
// and its ID returned, mirroring the postgres store's upsert.
func (s *MemStore) CreateLesson(ctx context.Context, lesson Lesson) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for id, l := range s.lessons {
		if l.StudentID == lesson.StudentID && l.DateKey == lesson.DateKey {
			lesson.ID = id
			s.lessons[id] = lesson
			return id, nil
		}
	}

	if lesson.ID == "" {
		lesson.ID = newLessonID()
	}
	s.lessons[lesson.ID] = lesson
	return lesson.ID, nil
}

// UpdateLesson implements [Store.UpdateLesson].
func (s *MemStore) UpdateLesson(ctx context.Context, id string, patch LessonPatch) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	l, ok := s.lessons[id]
	if !ok {
		return ErrNotFound
	}
	if patch.DateKey != nil {
		l.DateKey = *patch.DateKey
	}
	if patch.TimeOfDay != nil {
		l.TimeOfDay = *patch.TimeOfDay
	}
	if patch.DurationMin != nil {
		l.DurationMin = *patch.DurationMin
	}
	if patch.AmountCents != nil {
		l.AmountCents = *patch.AmountCents
	}
	if patch.Attended != nil {
		l.Attended = *patch.Attended
	}
	if patch.Note != nil {
		l.Note = *patch.Note
	}
	s.lessons[id] = l
	return nil
}

// DeleteLesson implements [Store.DeleteLesson].
func (s *MemStore) DeleteLesson(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.lessons[id]; !ok {
		return ErrNotFound
	}
	delete(s.lessons, id)
	return nil
}

// LessonsForVerification implements [Store.LessonsForVerification].
func (s *MemStore) LessonsForVerification(ctx context.Context, studentID, fromKey, toKey string) ([]Lesson, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []Lesson
	for _, l := range s.lessons {
		if studentID != "" && l.StudentID != studentID {
			continue
		}
		if l.DateKey < fromKey || l.DateKey > toKey {
			continue
		}
		out = append(out, l)
	}
	sortLessons(out)
	return out, nil
}

// sortLessons orders by date then student then ID for stable listings.
func sortLessons(ls []Lesson) {
	sort.Slice(ls, func(i, j int) bool {
		if ls[i].DateKey != ls[j].DateKey {
			return ls[i].DateKey < ls[j].DateKey
		}
		if ls[i].StudentID != ls[j].StudentID {
			return ls[i].StudentID < ls[j].StudentID
		}
		return ls[i].ID < ls[j].ID
	})
}
