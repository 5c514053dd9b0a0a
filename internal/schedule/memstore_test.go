package schedule_test

import (
	"context"
	"errors"
	"testing"

	"github.com/lessonbook/lessonbook/internal/schedule"
)

func TestMemStoreStudentsCopies(t *testing.T) {
	t.Parallel()

	store := schedule.NewMemStore(weeklyStudent())
	ctx := context.Background()

	first, err := store.Students(ctx)
	if err != nil {
		t.Fatalf("Students: %v", err)
	}
	first[0].FirstName = "Mutated"

	second, _ := store.Students(ctx)
	if second[0].FirstName != "Ava" {
		t.Errorf("roster mutated through returned slice")
	}
}

func TestMemStoreCreateAndLookup(t *testing.T) {
	t.Parallel()

	store := schedule.NewMemStore()
	ctx := context.Background()

	id, err := store.CreateLesson(ctx, schedule.Lesson{
		StudentID: "s-1", DateKey: "2026-03-02", DurationMin: 30, AmountCents: 4000,
	})
	if err != nil {
		t.Fatalf("CreateLesson: %v", err)
	}
	if id == "" {
		t.Fatal("CreateLesson returned empty ID")
	}

	got, err := store.LessonForStudentOnDate(ctx, "s-1", "2026-03-02")
	if err != nil {
		t.Fatalf("LessonForStudentOnDate: %v", err)
	}
	if got == nil || got.ID != id {
		t.Fatalf("lesson = %+v, want ID %q", got, id)
	}

	missing, err := store.LessonForStudentOnDate(ctx, "s-1", "2026-03-09")
	if err != nil || missing != nil {
		t.Errorf("missing lookup = %+v, %v, want nil, nil", missing, err)
	}
}

func TestMemStoreCreateUpsertsOnDuplicate(t *testing.T) {
	t.Parallel()

	store := schedule.NewMemStore()
	ctx := context.Background()

	first, err := store.CreateLesson(ctx, schedule.Lesson{
		StudentID: "s-1", DateKey: "2026-03-02", DurationMin: 30,
	})
	if err != nil {
		t.Fatalf("CreateLesson: %v", err)
	}

	// A second create for the same (student, date) updates in place and
	// keeps the original ID.
	second, err := store.CreateLesson(ctx, schedule.Lesson{
		StudentID: "s-1", DateKey: "2026-03-02", DurationMin: 45, Attended: true,
	})
	if err != nil {
		t.Fatalf("CreateLesson (upsert): %v", err)
	}
	if second != first {
		t.Errorf("upsert ID = %q, want original %q", second, first)
	}

	got, _ := store.LessonForStudentOnDate(ctx, "s-1", "2026-03-02")
	if got.DurationMin != 45 || !got.Attended {
		t.Errorf("lesson = %+v, want updated row", got)
	}
	all, _ := store.LessonsInRange(ctx, "2026-01-01", "2026-12-31")
	if len(all) != 1 {
		t.Errorf("len(lessons) = %d, want 1", len(all))
	}
}

func TestMemStoreUpdateLesson(t *testing.T) {
	t.Parallel()

	store := schedule.NewMemStore()
	ctx := context.Background()

	id, _ := store.CreateLesson(ctx, schedule.Lesson{
		StudentID: "s-1", DateKey: "2026-03-02", DurationMin: 30, AmountCents: 4000,
	})

	newDate := "2026-03-04"
	attended := true
	if err := store.UpdateLesson(ctx, id, schedule.LessonPatch{
		DateKey: &newDate, Attended: &attended,
	}); err != nil {
		t.Fatalf("UpdateLesson: %v", err)
	}

	got, _ := store.LessonForStudentOnDate(ctx, "s-1", "2026-03-04")
	if got == nil {
		t.Fatal("lesson not found on new date")
	}
	if !got.Attended || got.DurationMin != 30 {
		t.Errorf("lesson = %+v, want attended with untouched duration", got)
	}

	if err := store.UpdateLesson(ctx, "nope", schedule.LessonPatch{Attended: &attended}); !errors.Is(err, schedule.ErrNotFound) {
		t.Errorf("UpdateLesson(unknown) err = %v, want ErrNotFound", err)
	}
}

func TestMemStoreDeleteLesson(t *testing.T) {
	t.Parallel()

	store := schedule.NewMemStore()
	ctx := context.Background()

	id, _ := store.CreateLesson(ctx, schedule.Lesson{StudentID: "s-1", DateKey: "2026-03-02"})
	if err := store.DeleteLesson(ctx, id); err != nil {
		t.Fatalf("DeleteLesson: %v", err)
	}
	if err := store.DeleteLesson(ctx, id); !errors.Is(err, schedule.ErrNotFound) {
		t.Errorf("second delete err = %v, want ErrNotFound", err)
	}
}

func TestMemStoreRangeQueriesAreSorted(t *testing.T) {
	t.Parallel()

	store := schedule.NewMemStore()
	ctx := context.Background()

	seed := []schedule.Lesson{
		{StudentID: "s-2", DateKey: "2026-03-04"},
		{StudentID: "s-1", DateKey: "2026-03-02"},
		{StudentID: "s-1", DateKey: "2026-03-09"},
		{StudentID: "s-1", DateKey: "2026-04-20"},
	}
	for _, l := range seed {
		if _, err := store.CreateLesson(ctx, l); err != nil {
			t.Fatalf("CreateLesson: %v", err)
		}
	}

	got, err := store.LessonsInRange(ctx, "2026-03-01", "2026-03-31")
	if err != nil {
		t.Fatalf("LessonsInRange: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("len = %d, want 3 (outside-range row excluded)", len(got))
	}
	for i := 1; i < len(got); i++ {
		if got[i-1].DateKey > got[i].DateKey {
			t.Errorf("results not sorted by date: %+v", got)
		}
	}

	verify, err := store.LessonsForVerification(ctx, "s-1", "2026-03-01", "2026-03-31")
	if err != nil {
		t.Fatalf("LessonsForVerification: %v", err)
	}
	if len(verify) != 2 {
		t.Errorf("len = %d, want 2 (other students excluded)", len(verify))
	}
	for _, l := range verify {
		if l.StudentID != "s-1" {
			t.Errorf("foreign row in verification set: %+v", l)
		}
	}
}
