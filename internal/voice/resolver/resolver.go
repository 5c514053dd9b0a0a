// Package resolver maps parsed intent payloads onto concrete roster and
// lesson records. Resolution is a pure projection of its inputs: it reads a
// point-in-time [Snapshot] and returns data — a resolved command, a
// disambiguation set, or a not-found/nothing-to-do outcome — and never
// mutates anything or performs I/O.
//
// Near-ties are handled explicitly: a fragment binds to a student only when
// the best score clears the fuzzy threshold and leads the runner-up by a
// fixed margin. Anything closer is returned as ambiguous, never silently
// picked.
package resolver

import (
	"fmt"
	"sort"
	"strings"

	"github.com/lessonbook/lessonbook/internal/schedule"
	"github.com/lessonbook/lessonbook/internal/voice/parser"
)

// Default matching knobs. Both are configurable through [Options].
const (
	// DefaultFuzzyThreshold is the minimum score a fragment needs to bind.
	DefaultFuzzyThreshold = 0.6

	// DefaultMargin is the minimum lead over the second-best candidate.
	DefaultMargin = 0.1
)

// maxCandidates caps a disambiguation list.
const maxCandidates = 5

// Options tunes the name-matching behaviour.
type Options struct {
	// FuzzyThreshold is the minimum score for a fragment to bind at all.
	FuzzyThreshold float64

	// Margin is the minimum gap between the best and second-best candidate
	// before the best may be picked without asking.
	Margin float64
}

// withDefaults fills zero fields.
func (o Options) withDefaults() Options {
	if o.FuzzyThreshold == 0 {
		o.FuzzyThreshold = DefaultFuzzyThreshold
	}
	if o.Margin == 0 {
		o.Margin = DefaultMargin
	}
	return o
}

// Snapshot is the read-only roster and lesson state resolution runs against.
type Snapshot struct {
	Students []schedule.Student

	// Lessons holds every occurrence in the caller's window of interest
	// (the pipeline loads a range around the reference date).
	Lessons []schedule.Lesson

	// ReferenceDateKey anchors "next lesson" lookups.
	ReferenceDateKey string
}

// lessonOn returns the occurrence for a student on a date, or nil.
func (s Snapshot) lessonOn(studentID, dateKey string) *schedule.Lesson {
	for i := range s.Lessons {
		if s.Lessons[i].StudentID == studentID && s.Lessons[i].DateKey == dateKey {
			return &s.Lessons[i]
		}
	}
	return nil
}

// nextLessonFrom returns the student's earliest occurrence on or after
// fromKey, or nil.
func (s Snapshot) nextLessonFrom(studentID, fromKey string) *schedule.Lesson {
	var best *schedule.Lesson
	for i := range s.Lessons {
		l := &s.Lessons[i]
		if l.StudentID != studentID || l.DateKey < fromKey {
			continue
		}
		if best == nil || l.DateKey < best.DateKey {
			best = l
		}
	}
	return best
}

// OutcomeKind discriminates resolution results.
type OutcomeKind int

const (
	// OutcomeResolved carries a fully bound command.
	OutcomeResolved OutcomeKind = iota

	// OutcomeAmbiguous carries candidates the user must choose between.
	OutcomeAmbiguous

	// OutcomeNotFound means a fragment matched nobody at all.
	OutcomeNotFound

	// OutcomeNothing means the command is well-formed but has no effect
	// (e.g. a reschedule with no lesson to move).
	OutcomeNothing
)

// CandidateKind says what an option identifies.
type CandidateKind int

const (
	// CandidateStudent options select a student.
	CandidateStudent CandidateKind = iota

	// CandidateInterpretation options select an intent reading
	// (lesson amount vs hourly rate).
	CandidateInterpretation
)

// Candidate is one selectable disambiguation option.
type Candidate struct {
	Kind  CandidateKind
	ID    string
	Label string
	Score float64
}

// Outcome is the resolver's tagged result.
type Outcome struct {
	Kind OutcomeKind

	// Command is set for OutcomeResolved.
	Command *Command

	// Fragment is the spoken text that was ambiguous or unmatched.
	Fragment string

	// Candidates is set for OutcomeAmbiguous.
	Candidates []Candidate

	// Reason is a plain-language explanation for OutcomeNothing/NotFound.
	Reason string
}

// Hint carries a disambiguating fact from a clarification round-trip.
// Resolution with a hint still passes through the identical threshold and
// margin checks for every other fragment.
type Hint struct {
	// StudentID forces the first ambiguous fragment onto this student.
	StudentID string

	// ApplyToRate settles the amount-vs-rate reading.
	ApplyToRate *bool
}

// Command is a payload with concrete records bound in. Exactly one of the
// intent sub-structs is set, mirroring the payload variant.
type Command struct {
	Intent     parser.Intent
	Lang       string
	Confidence float64

	// Summary is a human-readable description used for confirmation prompts
	// and the post-execution toast.
	Summary string

	Attendance *AttendanceCommand
	Reschedule *RescheduleCommand
	Duration   *DurationCommand
	Amount     *AmountCommand
}

// AttendanceTarget is one (student, date) pair to mark.
type AttendanceTarget struct {
	Student schedule.Student
	DateKey string

	// Lesson is the existing occurrence, nil when one must be created.
	Lesson *schedule.Lesson
}

// AttendanceCommand marks targets present or absent.
type AttendanceCommand struct {
	Targets      []AttendanceTarget
	Present      bool
	DateKey      string
	AllScheduled bool
}

// RescheduleCommand moves an existing lesson.
type RescheduleCommand struct {
	Student       schedule.Student
	Lesson        schedule.Lesson
	TargetDateKey string
	TimeOfDay     string
	DurationMin   int
}

// DurationCommand sets a lesson's length.
type DurationCommand struct {
	Student     schedule.Student
	DateKey     string
	Lesson      *schedule.Lesson
	DurationMin int
}

// AmountCommand sets a lesson's charge, either directly or derived from a
// new hourly rate.
type AmountCommand struct {
	Student     schedule.Student
	DateKey     string
	Lesson      *schedule.Lesson
	AmountCents int
	ApplyToRate bool
}

// Resolve binds a payload against the snapshot with default options and no
// hint.
func Resolve(p parser.Payload, snap Snapshot) Outcome {
	return ResolveWith(p, snap, Options{}, Hint{})
}

// ResolveWith binds a payload against the snapshot. A non-zero hint settles
// one previously reported ambiguity; everything else goes through the same
// checks as a first pass, so a resumed command can surface new ambiguity.
func ResolveWith(p parser.Payload, snap Snapshot, opts Options, hint Hint) Outcome {
	opts = opts.withDefaults()

	switch p.Intent {
	case parser.IntentAttendance:
		return resolveAttendance(p, snap, opts, hint)
	case parser.IntentReschedule:
		return resolveReschedule(p, snap, opts, hint)
	case parser.IntentDuration:
		return resolveDuration(p, snap, opts, hint)
	case parser.IntentAmount:
		return resolveAmount(p, snap, opts, hint)
	default:
		return Outcome{Kind: OutcomeNothing, Reason: "unrecognized command"}
	}
}

// ── Fragment binding ──────────────────────────────────────────────────────────

// binding is the internal result of matching one fragment.
type binding struct {
	kind       OutcomeKind // OutcomeResolved, OutcomeAmbiguous or OutcomeNotFound
	student    schedule.Student
	candidates []Candidate
}

// bindFragment matches one spoken fragment against the roster, excluding
// students already consumed by earlier fragments of the same command. The
// hint's student selection, when present among this fragment's candidates,
// settles the tie and is consumed.
func bindFragment(fragment string, snap Snapshot, opts Options, used map[string]bool, hint *Hint) binding {
	frag := fold(fragment)

	type scored struct {
		student schedule.Student
		score   float64
	}
	var matches []scored
	for _, st := range snap.Students {
		if used[st.ID] {
			continue
		}
		score := scoreName(frag, fold(st.FirstName), fold(st.LastName), opts.FuzzyThreshold)
		if score >= opts.FuzzyThreshold {
			matches = append(matches, scored{student: st, score: score})
		}
	}

	if len(matches) == 0 {
		return binding{kind: OutcomeNotFound}
	}

	sort.Slice(matches, func(i, j int) bool {
		if matches[i].score != matches[j].score {
			return matches[i].score > matches[j].score
		}
		return tieBreak(frag, fold(matches[i].student.DisplayName()), fold(matches[j].student.DisplayName()))
	})

	if hint != nil && hint.StudentID != "" {
		for _, m := range matches {
			if m.student.ID == hint.StudentID {
				hint.StudentID = ""
				used[m.student.ID] = true
				return binding{kind: OutcomeResolved, student: m.student}
			}
		}
	}

	if len(matches) > 1 && matches[0].score-matches[1].score < opts.Margin {
		cands := make([]Candidate, 0, maxCandidates)
		for _, m := range matches {
			cands = append(cands, Candidate{
				Kind:  CandidateStudent,
				ID:    m.student.ID,
				Label: m.student.DisplayName(),
				Score: m.score,
			})
			if len(cands) == maxCandidates {
				break
			}
		}
		return binding{kind: OutcomeAmbiguous, candidates: cands}
	}

	used[matches[0].student.ID] = true
	return binding{kind: OutcomeResolved, student: matches[0].student}
}

// notFoundOutcome reports an unmatched fragment.
func notFoundOutcome(fragment string) Outcome {
	return Outcome{
		Kind:     OutcomeNotFound,
		Fragment: fragment,
		Reason:   fmt.Sprintf("could not find a student matching %q", fragment),
	}
}

// ── Per-intent resolution ─────────────────────────────────────────────────────

func resolveAttendance(p parser.Payload, snap Snapshot, opts Options, hint Hint) Outcome {
	a := p.Attendance
	cmd := &AttendanceCommand{
		Present:      a.Present,
		DateKey:      a.DateKey,
		AllScheduled: a.AllScheduled,
	}

	if a.AllScheduled {
		for _, st := range snap.Students {
			if !st.ActiveOn(a.DateKey) {
				continue
			}
			if _, scheduled := st.SlotOn(a.DateKey); !scheduled {
				continue
			}
			cmd.Targets = append(cmd.Targets, AttendanceTarget{
				Student: st,
				DateKey: a.DateKey,
				Lesson:  snap.lessonOn(st.ID, a.DateKey),
			})
		}
		if len(cmd.Targets) == 0 {
			return Outcome{Kind: OutcomeNothing,
				Reason: fmt.Sprintf("no students are scheduled on %s", schedule.FormatFriendly(a.DateKey))}
		}
	} else {
		used := map[string]bool{}
		for _, frag := range a.Names {
			b := bindFragment(frag, snap, opts, used, &hint)
			switch b.kind {
			case OutcomeAmbiguous:
				return Outcome{Kind: OutcomeAmbiguous, Fragment: frag, Candidates: b.candidates}
			case OutcomeNotFound:
				return notFoundOutcome(frag)
			}
			cmd.Targets = append(cmd.Targets, AttendanceTarget{
				Student: b.student,
				DateKey: a.DateKey,
				Lesson:  snap.lessonOn(b.student.ID, a.DateKey),
			})
		}
	}

	return Outcome{Kind: OutcomeResolved, Command: &Command{
		Intent:     parser.IntentAttendance,
		Lang:       p.Lang,
		Confidence: p.Confidence,
		Summary:    attendanceSummary(cmd),
		Attendance: cmd,
	}}
}

func resolveReschedule(p parser.Payload, snap Snapshot, opts Options, hint Hint) Outcome {
	r := p.Reschedule

	used := map[string]bool{}
	b := bindFragment(r.Name, snap, opts, used, &hint)
	switch b.kind {
	case OutcomeAmbiguous:
		return Outcome{Kind: OutcomeAmbiguous, Fragment: r.Name, Candidates: b.candidates}
	case OutcomeNotFound:
		return notFoundOutcome(r.Name)
	}

	var lesson *schedule.Lesson
	if r.SourceDateKey != "" {
		lesson = snap.lessonOn(b.student.ID, r.SourceDateKey)
		if lesson == nil {
			return Outcome{Kind: OutcomeNothing,
				Reason: fmt.Sprintf("%s has no lesson on %s to move",
					b.student.DisplayName(), schedule.FormatFriendly(r.SourceDateKey))}
		}
	} else {
		lesson = snap.nextLessonFrom(b.student.ID, snap.ReferenceDateKey)
		if lesson == nil {
			return Outcome{Kind: OutcomeNothing,
				Reason: fmt.Sprintf("%s has nothing to reschedule", b.student.DisplayName())}
		}
	}

	cmd := &RescheduleCommand{
		Student:       b.student,
		Lesson:        *lesson,
		TargetDateKey: r.TargetDateKey,
		TimeOfDay:     r.TimeOfDay,
		DurationMin:   r.DurationMin,
	}
	return Outcome{Kind: OutcomeResolved, Command: &Command{
		Intent:     parser.IntentReschedule,
		Lang:       p.Lang,
		Confidence: p.Confidence,
		Summary:    rescheduleSummary(cmd),
		Reschedule: cmd,
	}}
}

func resolveDuration(p parser.Payload, snap Snapshot, opts Options, hint Hint) Outcome {
	d := p.Duration

	used := map[string]bool{}
	b := bindFragment(d.Name, snap, opts, used, &hint)
	switch b.kind {
	case OutcomeAmbiguous:
		return Outcome{Kind: OutcomeAmbiguous, Fragment: d.Name, Candidates: b.candidates}
	case OutcomeNotFound:
		return notFoundOutcome(d.Name)
	}

	cmd := &DurationCommand{
		Student:     b.student,
		DateKey:     d.DateKey,
		Lesson:      snap.lessonOn(b.student.ID, d.DateKey),
		DurationMin: d.DurationMin,
	}
	return Outcome{Kind: OutcomeResolved, Command: &Command{
		Intent:     parser.IntentDuration,
		Lang:       p.Lang,
		Confidence: p.Confidence,
		Summary:    durationSummary(cmd),
		Duration:   cmd,
	}}
}

func resolveAmount(p parser.Payload, snap Snapshot, opts Options, hint Hint) Outcome {
	a := p.Amount

	used := map[string]bool{}
	b := bindFragment(a.Name, snap, opts, used, &hint)
	switch b.kind {
	case OutcomeAmbiguous:
		return Outcome{Kind: OutcomeAmbiguous, Fragment: a.Name, Candidates: b.candidates}
	case OutcomeNotFound:
		return notFoundOutcome(a.Name)
	}

	applyToRate := a.ApplyToRate
	ambiguous := a.RateAmbiguous
	if hint.ApplyToRate != nil {
		applyToRate = *hint.ApplyToRate
		ambiguous = false
	}

	if ambiguous {
		value := schedule.FormatAmount(a.AmountCents)
		name := b.student.DisplayName()
		return Outcome{
			Kind:     OutcomeAmbiguous,
			Fragment: a.Name,
			Candidates: []Candidate{
				{Kind: CandidateInterpretation, ID: "amount",
					Label: fmt.Sprintf("Set %s's lesson amount to %s", name, value)},
				{Kind: CandidateInterpretation, ID: "rate",
					Label: fmt.Sprintf("Set %s's hourly rate to %s", name, value)},
			},
		}
	}

	cmd := &AmountCommand{
		Student:     b.student,
		DateKey:     a.DateKey,
		Lesson:      snap.lessonOn(b.student.ID, a.DateKey),
		AmountCents: a.AmountCents,
		ApplyToRate: applyToRate,
	}
	return Outcome{Kind: OutcomeResolved, Command: &Command{
		Intent:     parser.IntentAmount,
		Lang:       p.Lang,
		Confidence: p.Confidence,
		Summary:    amountSummary(cmd),
		Amount:     cmd,
	}}
}

// ── Summaries ─────────────────────────────────────────────────────────────────

func attendanceSummary(c *AttendanceCommand) string {
	status := "attended"
	if !c.Present {
		status = "absent"
	}
	date := schedule.FormatFriendly(c.DateKey)

	if c.AllScheduled {
		return fmt.Sprintf("Mark all %d scheduled students %s on %s", len(c.Targets), status, date)
	}

	names := make([]string, len(c.Targets))
	for i, t := range c.Targets {
		names[i] = t.Student.DisplayName()
	}
	return fmt.Sprintf("Mark %s %s on %s", joinNames(names), status, date)
}

func rescheduleSummary(c *RescheduleCommand) string {
	s := fmt.Sprintf("Move %s's lesson from %s to %s",
		c.Student.DisplayName(),
		schedule.FormatFriendly(c.Lesson.DateKey),
		schedule.FormatFriendly(c.TargetDateKey))
	if c.TimeOfDay != "" {
		s += " at " + formatClock(c.TimeOfDay)
	}
	if c.DurationMin > 0 {
		s += fmt.Sprintf(" (%d min)", c.DurationMin)
	}
	return s
}

func durationSummary(c *DurationCommand) string {
	return fmt.Sprintf("Set %s's lesson on %s to %d minutes",
		c.Student.DisplayName(), schedule.FormatFriendly(c.DateKey), c.DurationMin)
}

func amountSummary(c *AmountCommand) string {
	kind := "lesson amount"
	if c.ApplyToRate {
		kind = "hourly rate"
	}
	return fmt.Sprintf("Set %s's %s on %s to %s",
		c.Student.DisplayName(), kind,
		schedule.FormatFriendly(c.DateKey), schedule.FormatAmount(c.AmountCents))
}

// joinNames renders "A", "A and B", or "A, B and C".
func joinNames(names []string) string {
	switch len(names) {
	case 0:
		return ""
	case 1:
		return names[0]
	default:
		return strings.Join(names[:len(names)-1], ", ") + " and " + names[len(names)-1]
	}
}

// formatClock renders "18:00" as "6:00 PM". Unparseable input passes through.
func formatClock(hhmm string) string {
	var h, m int
	if _, err := fmt.Sscanf(hhmm, "%d:%d", &h, &m); err != nil || h > 23 || m > 59 {
		return hhmm
	}
	suffix := "AM"
	switch {
	case h == 0:
		h = 12
	case h == 12:
		suffix = "PM"
	case h > 12:
		h -= 12
		suffix = "PM"
	}
	return fmt.Sprintf("%d:%02d %s", h, m, suffix)
}
