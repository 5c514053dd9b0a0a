// Package executor applies resolved commands to the lesson store. Every
// operation is written to be idempotent: re-running a command converges on
// the same stored state instead of stacking mutations.
package executor

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/lessonbook/lessonbook/internal/schedule"
	"github.com/lessonbook/lessonbook/internal/voice/parser"
	"github.com/lessonbook/lessonbook/internal/voice/resolver"
)

// Executor runs commands against a [schedule.Store].
type Executor struct {
	store schedule.Store
	log   *slog.Logger
}

// Option configures an [Executor].
type Option func(*Executor)

// WithLogger sets the logger. Defaults to [slog.Default].
func WithLogger(log *slog.Logger) Option {
	return func(e *Executor) {
		if log != nil {
			e.log = log
		}
	}
}

// New returns an executor backed by store.
func New(store schedule.Store, opts ...Option) *Executor {
	e := &Executor{store: store, log: slog.Default()}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// ItemError reports a failure for one student within a batch command.
type ItemError struct {
	Student string
	Err     error
}

func (e ItemError) Error() string {
	return fmt.Sprintf("%s: %v", e.Student, e.Err)
}

// Result summarises what an execution changed.
type Result struct {
	// Message is a human-readable account of the outcome.
	Message string

	// Applied counts store mutations performed.
	Applied int

	// Skipped counts targets already in the requested state.
	Skipped int

	// CleanedDuplicates counts extra rows removed by the post-reschedule
	// verification pass.
	CleanedDuplicates int

	// ItemErrors holds per-student failures of a batch. A batch with some
	// failures still applies the rest.
	ItemErrors []ItemError
}

// Execute applies a resolved command. Batch commands aggregate per-item
// failures into [Result.ItemErrors] and return a nil error unless nothing
// could be attempted.
func (e *Executor) Execute(ctx context.Context, cmd *resolver.Command) (Result, error) {
	switch cmd.Intent {
	case parser.IntentAttendance:
		return e.executeAttendance(ctx, cmd.Attendance)
	case parser.IntentReschedule:
		return e.executeReschedule(ctx, cmd.Reschedule)
	case parser.IntentDuration:
		return e.executeDuration(ctx, cmd.Duration)
	case parser.IntentAmount:
		return e.executeAmount(ctx, cmd.Amount)
	default:
		return Result{}, fmt.Errorf("executor: no handler for intent %q", cmd.Intent)
	}
}

func (e *Executor) executeAttendance(ctx context.Context, cmd *resolver.AttendanceCommand) (Result, error) {
	var res Result
	for _, target := range cmd.Targets {
		if err := e.markOne(ctx, target, cmd.Present, &res); err != nil {
			e.log.WarnContext(ctx, "attendance item failed",
				"student", target.Student.DisplayName(), "date", target.DateKey, "error", err)
			res.ItemErrors = append(res.ItemErrors, ItemError{Student: target.Student.DisplayName(), Err: err})
		}
	}
	res.Message = attendanceMessage(cmd, res)
	if res.Applied == 0 && res.Skipped == 0 && len(res.ItemErrors) > 0 {
		return res, fmt.Errorf("executor: attendance: all %d items failed", len(res.ItemErrors))
	}
	return res, nil
}

// markOne converges one (student, date) pair on the requested attendance.
// An existing occurrence is updated in place; a missing one is created from
// the student's effective slot.
func (e *Executor) markOne(ctx context.Context, t resolver.AttendanceTarget, present bool, res *Result) error {
	if t.Lesson != nil {
		if t.Lesson.Attended == present {
			res.Skipped++
			return nil
		}
		if err := e.store.UpdateLesson(ctx, t.Lesson.ID, schedule.LessonPatch{Attended: &present}); err != nil {
			return fmt.Errorf("update lesson: %w", err)
		}
		res.Applied++
		return nil
	}

	slot, ok := t.Student.SlotOn(t.DateKey)
	if !ok {
		return fmt.Errorf("no scheduled slot on %s", schedule.FormatFriendly(t.DateKey))
	}
	if _, err := e.store.CreateLesson(ctx, schedule.Lesson{
		StudentID:   t.Student.ID,
		DateKey:     t.DateKey,
		TimeOfDay:   slot.TimeOfDay,
		DurationMin: slot.DurationMin,
		AmountCents: slot.RateCents,
		Attended:    present,
	}); err != nil {
		return fmt.Errorf("create lesson: %w", err)
	}
	res.Applied++
	return nil
}

func (e *Executor) executeReschedule(ctx context.Context, cmd *resolver.RescheduleCommand) (Result, error) {
	var res Result
	source := cmd.Lesson.DateKey
	target := cmd.TargetDateKey

	patch := schedule.LessonPatch{DateKey: &target}
	if cmd.TimeOfDay != "" {
		patch.TimeOfDay = &cmd.TimeOfDay
	}
	if cmd.DurationMin > 0 {
		patch.DurationMin = &cmd.DurationMin
	}
	if err := e.store.UpdateLesson(ctx, cmd.Lesson.ID, patch); err != nil {
		return res, fmt.Errorf("executor: reschedule: %w", err)
	}
	res.Applied++

	cleaned, err := e.cleanupAfterMove(ctx, cmd.Student.ID, cmd.Lesson.ID, source, target)
	if err != nil {
		// The move itself landed; surface the cleanup failure without
		// claiming the command failed.
		e.log.WarnContext(ctx, "post-move verification failed",
			"student", cmd.Student.DisplayName(), "error", err)
	}
	res.CleanedDuplicates = cleaned

	res.Message = fmt.Sprintf("Moved %s's lesson from %s to %s",
		cmd.Student.DisplayName(), schedule.FormatFriendly(source), schedule.FormatFriendly(target))
	if cleaned > 0 {
		res.Message += fmt.Sprintf(" (removed %d duplicate %s)", cleaned, plural(cleaned, "entry", "entries"))
	}
	return res, nil
}

// cleanupAfterMove re-reads the student's lessons around a move and deletes
// any row on the source or target date other than the moved one. Backends
// without a hard uniqueness constraint can otherwise be left with the moved
// row and a stale duplicate side by side.
func (e *Executor) cleanupAfterMove(ctx context.Context, studentID, movedID, source, target string) (int, error) {
	from, to := source, target
	if from > to {
		from, to = to, from
	}
	lessons, err := e.store.LessonsForVerification(ctx, studentID, from, to)
	if err != nil {
		return 0, fmt.Errorf("verify lessons: %w", err)
	}

	cleaned := 0
	for _, l := range lessons {
		if l.ID == movedID {
			continue
		}
		if l.DateKey != source && l.DateKey != target {
			continue
		}
		if err := e.store.DeleteLesson(ctx, l.ID); err != nil {
			return cleaned, fmt.Errorf("delete duplicate %s: %w", l.ID, err)
		}
		e.log.InfoContext(ctx, "removed duplicate lesson",
			"student", studentID, "date", l.DateKey, "lesson", l.ID)
		cleaned++
	}
	return cleaned, nil
}

func (e *Executor) executeDuration(ctx context.Context, cmd *resolver.DurationCommand) (Result, error) {
	var res Result
	if cmd.Lesson != nil {
		if cmd.Lesson.DurationMin == cmd.DurationMin {
			res.Skipped++
		} else {
			if err := e.store.UpdateLesson(ctx, cmd.Lesson.ID,
				schedule.LessonPatch{DurationMin: &cmd.DurationMin}); err != nil {
				return res, fmt.Errorf("executor: duration: %w", err)
			}
			res.Applied++
		}
	} else {
		lesson, err := e.lessonFromSlot(cmd.Student, cmd.DateKey)
		if err != nil {
			return res, fmt.Errorf("executor: duration: %w", err)
		}
		lesson.DurationMin = cmd.DurationMin
		if _, err := e.store.CreateLesson(ctx, lesson); err != nil {
			return res, fmt.Errorf("executor: duration: create lesson: %w", err)
		}
		res.Applied++
	}

	res.Message = fmt.Sprintf("Set %s's lesson on %s to %d minutes",
		cmd.Student.DisplayName(), schedule.FormatFriendly(cmd.DateKey), cmd.DurationMin)
	return res, nil
}

func (e *Executor) executeAmount(ctx context.Context, cmd *resolver.AmountCommand) (Result, error) {
	var res Result

	// An hourly rate is applied to the occurrence through its length;
	// students themselves are never written.
	amount := cmd.AmountCents
	if cmd.ApplyToRate {
		dur := 60
		if cmd.Lesson != nil && cmd.Lesson.DurationMin > 0 {
			dur = cmd.Lesson.DurationMin
		} else if slot, ok := cmd.Student.SlotOn(cmd.DateKey); ok && slot.DurationMin > 0 {
			dur = slot.DurationMin
		}
		amount = cmd.AmountCents * dur / 60
	}

	if cmd.Lesson != nil {
		if cmd.Lesson.AmountCents == amount {
			res.Skipped++
		} else {
			if err := e.store.UpdateLesson(ctx, cmd.Lesson.ID,
				schedule.LessonPatch{AmountCents: &amount}); err != nil {
				return res, fmt.Errorf("executor: amount: %w", err)
			}
			res.Applied++
		}
	} else {
		lesson, err := e.lessonFromSlot(cmd.Student, cmd.DateKey)
		if err != nil {
			return res, fmt.Errorf("executor: amount: %w", err)
		}
		lesson.AmountCents = amount
		if _, err := e.store.CreateLesson(ctx, lesson); err != nil {
			return res, fmt.Errorf("executor: amount: create lesson: %w", err)
		}
		res.Applied++
	}

	kind := "lesson amount"
	if cmd.ApplyToRate {
		kind = "hourly rate"
	}
	res.Message = fmt.Sprintf("Set %s's %s on %s to %s",
		cmd.Student.DisplayName(), kind,
		schedule.FormatFriendly(cmd.DateKey), schedule.FormatAmount(cmd.AmountCents))
	if cmd.ApplyToRate && amount != cmd.AmountCents {
		res.Message += fmt.Sprintf(" (%s for the lesson)", schedule.FormatAmount(amount))
	}
	return res, nil
}

// lessonFromSlot seeds a new occurrence from the student's effective slot.
func (e *Executor) lessonFromSlot(st schedule.Student, dateKey string) (schedule.Lesson, error) {
	slot, ok := st.SlotOn(dateKey)
	if !ok {
		return schedule.Lesson{}, fmt.Errorf("%s has no scheduled slot on %s",
			st.DisplayName(), schedule.FormatFriendly(dateKey))
	}
	return schedule.Lesson{
		StudentID:   st.ID,
		DateKey:     dateKey,
		TimeOfDay:   slot.TimeOfDay,
		DurationMin: slot.DurationMin,
		AmountCents: slot.RateCents,
	}, nil
}

func attendanceMessage(cmd *resolver.AttendanceCommand, res Result) string {
	status := "attended"
	if !cmd.Present {
		status = "absent"
	}
	date := schedule.FormatFriendly(cmd.DateKey)

	total := res.Applied + res.Skipped
	msg := fmt.Sprintf("Marked %d %s %s on %s", total, plural(total, "student", "students"), status, date)
	if res.Skipped > 0 {
		msg += fmt.Sprintf(" (%d already %s)", res.Skipped, status)
	}
	if n := len(res.ItemErrors); n > 0 {
		msg += fmt.Sprintf("; %d failed", n)
	}
	return msg
}

func plural(n int, one, many string) string {
	if n == 1 {
		return one
	}
	return many
}
