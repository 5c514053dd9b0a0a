// Package parser turns a spoken or typed transcript into a structured intent
// payload. Parsing is a pure function of the transcript and a reference date
// key — never of the wall clock — so results are deterministic and testable.
//
// The parser never fails: input it cannot classify yields the [IntentUnknown]
// variant with confidence 0, which downstream layers route to clarification
// rather than execution.
package parser

// Intent is the recognised intent family of an utterance.
type Intent string

const (
	// IntentAttendance marks one or more students present or absent.
	IntentAttendance Intent = "attendance"

	// IntentReschedule moves a lesson to another date and/or time.
	IntentReschedule Intent = "reschedule"

	// IntentDuration changes a lesson's length.
	IntentDuration Intent = "duration"

	// IntentAmount changes a lesson's charge or the hourly rate behind it.
	IntentAmount Intent = "amount"

	// IntentUnknown is the fallback for unclassifiable input.
	IntentUnknown Intent = "unknown"
)

// Payload is the parser's output: a tagged variant with exactly one of the
// intent sub-structs populated (none for [IntentUnknown]).
type Payload struct {
	Intent     Intent
	Lang       string
	Confidence float64

	Attendance *Attendance
	Reschedule *Reschedule
	Duration   *DurationChange
	Amount     *AmountChange
}

// Attendance marks students present or absent on a date.
type Attendance struct {
	// AllScheduled selects every active student scheduled on DateKey
	// instead of the Names list.
	AllScheduled bool

	// Names are spoken name fragments, possessives and trailing words
	// already stripped. Empty when AllScheduled is set.
	Names []string

	// Present is true for present/attended, false for absent/missed.
	Present bool

	// DateKey is the target date, resolved against the reference date.
	DateKey string
}

// Reschedule moves one student's lesson.
type Reschedule struct {
	// Name is the spoken name fragment.
	Name string

	// SourceDateKey is the explicitly mentioned origin date, or empty when
	// the utterance named none (the resolver then picks the next lesson).
	SourceDateKey string

	// TargetDateKey is the destination date.
	TargetDateKey string

	// TimeOfDay is the destination start time in "HH:MM", or empty.
	TimeOfDay string

	// DurationMin is a new duration in minutes, 0 when unchanged.
	DurationMin int
}

// DurationChange sets a lesson's length.
type DurationChange struct {
	Name        string
	DateKey     string
	DurationMin int
}

// AmountChange sets a monetary value for a lesson. "$100" can mean the
// lesson amount or the hourly rate; when the utterance does not say which,
// RateAmbiguous is set and the payload must go through clarification.
type AmountChange struct {
	Name    string
	DateKey string

	// AmountCents is the spoken value in minor currency units. The parser
	// works in integer cents; no float chain is involved.
	AmountCents int

	// ApplyToRate is the chosen interpretation when unambiguous (or after
	// clarification): true for hourly rate, false for lesson amount.
	ApplyToRate bool

	// RateAmbiguous is set when the utterance did not disambiguate.
	RateAmbiguous bool
}

// unknown is the canonical parse failure payload.
func unknown(lang string) Payload {
	return Payload{Intent: IntentUnknown, Lang: lang, Confidence: 0}
}
