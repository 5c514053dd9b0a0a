// Package schedule defines the studio domain model — students, their weekly
// schedules, and lesson occurrences — together with the persistence contract
// the voice subsystem reads and writes through.
//
// Students are owned by the studio application; this package (and everything
// built on it) only ever reads them. Lessons are keyed conceptually by
// (student, calendar date): at most one lesson may exist per pair, and every
// store implementation is expected to update in place rather than insert a
// second row for an existing occurrence.
package schedule

import (
	"fmt"
	"strings"
	"time"
)

// WeeklySlot is one recurring entry in a student's weekly schedule.
type WeeklySlot struct {
	// Weekday is the day of week the lesson recurs on.
	Weekday time.Weekday `yaml:"weekday" json:"weekday"`

	// TimeOfDay is the start time in 24h "HH:MM" form. May be empty when the
	// studio tracks the day only.
	TimeOfDay string `yaml:"time_of_day" json:"time_of_day"`

	// DurationMin is the lesson length in minutes.
	DurationMin int `yaml:"duration_min" json:"duration_min"`

	// RateCents is the per-lesson charge in minor currency units.
	RateCents int `yaml:"rate_cents" json:"rate_cents"`
}

// ScheduleChange is a pending change to a student's weekly schedule that
// takes effect on a given date. Before the effective date the student's
// previous slots apply; on and after it, the new ones do.
type ScheduleChange struct {
	// EffectiveDate is the date key ("YYYY-MM-DD") the new slots start.
	EffectiveDate string `yaml:"effective_date" json:"effective_date"`

	// Slots replaces the student's weekly slots from EffectiveDate on.
	Slots []WeeklySlot `yaml:"slots" json:"slots"`
}

// Student is a roster entry. The voice subsystem treats students as
// read-only reference data.
type Student struct {
	ID        string `yaml:"id" json:"id"`
	FirstName string `yaml:"first_name" json:"first_name"`
	LastName  string `yaml:"last_name" json:"last_name"`

	// Slots is the default weekly schedule. The first entry is the primary
	// slot; additional entries are secondary lessons in the same week.
	Slots []WeeklySlot `yaml:"slots" json:"slots"`

	// Change, when set, overrides Slots from its effective date onward.
	Change *ScheduleChange `yaml:"change,omitempty" json:"change,omitempty"`

	// EndDate is the termination date key. The student is inactive on dates
	// strictly after it. Empty means no termination.
	EndDate string `yaml:"end_date,omitempty" json:"end_date,omitempty"`
}

// DisplayName returns the student's full name, or whichever part is set.
func (s Student) DisplayName() string {
	name := strings.TrimSpace(s.FirstName + " " + s.LastName)
	if name == "" {
		return s.ID
	}
	return name
}

// ActiveOn reports whether the student is still active on the given date,
// i.e. the date is not past the student's termination date.
func (s Student) ActiveOn(dateKey string) bool {
	if s.EndDate == "" {
		return true
	}
	// Date keys compare lexicographically.
	return dateKey <= s.EndDate
}

// EffectiveSlots returns the weekly slots in force on the given date,
// applying the schedule-change override when its effective date has been
// reached. Returns nil when the student is inactive on that date.
func (s Student) EffectiveSlots(dateKey string) []WeeklySlot {
	if !s.ActiveOn(dateKey) {
		return nil
	}
	if s.Change != nil && s.Change.EffectiveDate != "" && dateKey >= s.Change.EffectiveDate {
		return s.Change.Slots
	}
	return s.Slots
}

// SlotOn returns the effective slot whose weekday matches the given date,
// and whether one exists. When the effective schedule has several slots on
// the same weekday the first is returned.
func (s Student) SlotOn(dateKey string) (WeeklySlot, bool) {
	day, err := Weekday(dateKey)
	if err != nil {
		return WeeklySlot{}, false
	}
	for _, slot := range s.EffectiveSlots(dateKey) {
		if slot.Weekday == day {
			return slot, true
		}
	}
	return WeeklySlot{}, false
}

// Lesson is a single occurrence for a student on a calendar date.
type Lesson struct {
	ID        string `json:"id"`
	StudentID string `json:"student_id"`

	// DateKey is the occurrence date ("YYYY-MM-DD").
	DateKey string `json:"date_key"`

	DurationMin int  `json:"duration_min"`
	AmountCents int  `json:"amount_cents"`
	Attended    bool `json:"attended"`

	// TimeOfDay overrides the scheduled start time ("HH:MM"). Empty means
	// the student's scheduled time applies.
	TimeOfDay string `json:"time_of_day,omitempty"`

	Note string `json:"note,omitempty"`
}

// LessonPatch is a partial update for a lesson. Nil fields are left
// unchanged by [Store.UpdateLesson].
type LessonPatch struct {
	DateKey     *string
	TimeOfDay   *string
	DurationMin *int
	AmountCents *int
	Attended    *bool
	Note        *string
}

// IsZero reports whether the patch changes nothing.
func (p LessonPatch) IsZero() bool {
	return p.DateKey == nil && p.TimeOfDay == nil && p.DurationMin == nil &&
		p.AmountCents == nil && p.Attended == nil && p.Note == nil
}

// FormatAmount renders minor currency units as a dollar string, dropping the
// cents when they are zero ("$65", "$62.50").
func FormatAmount(cents int) string {
	if cents%100 == 0 {
		return fmt.Sprintf("$%d", cents/100)
	}
	return fmt.Sprintf("$%.2f", float64(cents)/100)
}
