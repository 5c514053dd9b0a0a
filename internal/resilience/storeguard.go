package resilience

import (
	"context"
	"errors"

	"github.com/lessonbook/lessonbook/internal/schedule"
)

// GuardedStore wraps a [schedule.Store] with a [CircuitBreaker]. When the
// backing database fails repeatedly, the breaker opens and subsequent calls
// return [ErrCircuitOpen] immediately instead of waiting out connection
// timeouts on every command.
//
// Business sentinels ([schedule.ErrNotFound], [schedule.ErrDuplicateLesson])
// pass through without counting as failures; only infrastructure errors trip
// the breaker.
type GuardedStore struct {
	inner   schedule.Store
	breaker *CircuitBreaker
}

var _ schedule.Store = (*GuardedStore)(nil)

// GuardStore wraps store with a breaker built from cfg.
func GuardStore(store schedule.Store, cfg CircuitBreakerConfig) *GuardedStore {
	if cfg.Name == "" {
		cfg.Name = "schedule-store"
	}
	return &GuardedStore{
		inner:   store,
		breaker: NewCircuitBreaker(cfg),
	}
}

// State exposes the breaker state, e.g. for a readiness probe.
func (g *GuardedStore) State() State {
	return g.breaker.State()
}

// do runs fn through the breaker. Expected domain errors are surfaced to the
// caller but reported to the breaker as successes.
func (g *GuardedStore) do(fn func() error) error {
	var domainErr error
	err := g.breaker.Execute(func() error {
		err := fn()
		if errors.Is(err, schedule.ErrNotFound) || errors.Is(err, schedule.ErrDuplicateLesson) {
			domainErr = err
			return nil
		}
		return err
	})
	if err == nil && domainErr != nil {
		return domainErr
	}
	return err
}

func (g *GuardedStore) Students(ctx context.Context) ([]schedule.Student, error) {
	var out []schedule.Student
	err := g.do(func() error {
		var err error
		out, err = g.inner.Students(ctx)
		return err
	})
	return out, err
}

func (g *GuardedStore) LessonForStudentOnDate(ctx context.Context, studentID, dateKey string) (*schedule.Lesson, error) {
	var out *schedule.Lesson
	err := g.do(func() error {
		var err error
		out, err = g.inner.LessonForStudentOnDate(ctx, studentID, dateKey)
		return err
	})
	return out, err
}

func (g *GuardedStore) LessonsInRange(ctx context.Context, fromKey, toKey string) ([]schedule.Lesson, error) {
	var out []schedule.Lesson
	err := g.do(func() error {
		var err error
		out, err = g.inner.LessonsInRange(ctx, fromKey, toKey)
		return err
	})
	return out, err
}

func (g *GuardedStore) CreateLesson(ctx context.Context, lesson schedule.Lesson) (string, error) {
	var id string
	err := g.do(func() error {
		var err error
		id, err = g.inner.CreateLesson(ctx, lesson)
		return err
	})
	return id, err
}

func (g *GuardedStore) UpdateLesson(ctx context.Context, id string, patch schedule.LessonPatch) error {
	return g.do(func() error {
		return g.inner.UpdateLesson(ctx, id, patch)
	})
}

func (g *GuardedStore) DeleteLesson(ctx context.Context, id string) error {
	return g.do(func() error {
		return g.inner.DeleteLesson(ctx, id)
	})
}

func (g *GuardedStore) LessonsForVerification(ctx context.Context, studentID, fromKey, toKey string) ([]schedule.Lesson, error) {
	var out []schedule.Lesson
	err := g.do(func() error {
		var err error
		out, err = g.inner.LessonsForVerification(ctx, studentID, fromKey, toKey)
		return err
	})
	return out, err
}
