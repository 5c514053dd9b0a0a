package parser

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/lessonbook/lessonbook/internal/schedule"
)

// Base confidences per rule family. A full, clean match starts here and
// loses points for unconsumed words or missing anchors; the amount/rate
// ambiguity caps the score below any auto-execute gate.
const (
	confAttendanceAll   = 0.92
	confAttendanceNamed = 0.86
	confReschedule      = 0.85
	confDuration        = 0.85
	confAmountExplicit  = 0.84
	confAmountAmbiguous = 0.55

	leftoverPenalty = 0.15
	shortNamePenalty = 0.2
	crossLangPenalty = 0.1
)

// rule pairs a compiled pattern with the payload builder to run when it
// matches. Builders may decline (ok=false) to let later rules try.
type rule struct {
	// name is a human-readable label for logging and tests.
	name string

	re *regexp.Regexp

	// build constructs a payload from the submatches. refKey is the
	// reference date key relative dates resolve against.
	build func(m []string, refKey string) (Payload, bool)
}

// Parse turns a transcript into an intent payload, resolving relative dates
// against referenceDateKey. It never fails: unclassifiable input (or an
// invalid reference date) yields [IntentUnknown] with confidence 0.
func Parse(transcript, referenceDateKey string) Payload {
	lang := detectLang(strings.ToLower(transcript))
	if strings.TrimSpace(transcript) == "" {
		return unknown(lang)
	}
	if _, err := schedule.ParseDateKey(referenceDateKey); err != nil {
		return unknown(lang)
	}

	text := normalize(transcript, lang)

	for _, r := range rulesFor(lang) {
		m := r.re.FindStringSubmatch(text)
		if m == nil {
			continue
		}
		if p, ok := r.build(m, referenceDateKey); ok {
			p.Lang = lang
			return p
		}
	}

	// A transcript flagged Spanish that matched no Spanish rule may still be
	// an English utterance with a Spanish name in it; retry the English rules
	// at reduced confidence.
	if lang == LangSpanish {
		for _, r := range englishRules {
			m := r.re.FindStringSubmatch(text)
			if m == nil {
				continue
			}
			if p, ok := r.build(m, referenceDateKey); ok {
				p.Lang = lang
				p.Confidence = clamp(p.Confidence - crossLangPenalty)
				return p
			}
		}
	}

	return unknown(lang)
}

// rulesFor returns the rule table for a language tag.
func rulesFor(lang string) []rule {
	if lang == LangSpanish {
		return spanishRules
	}
	return englishRules
}

// clamp bounds a confidence to [0, 1].
func clamp(c float64) float64 {
	if c < 0 {
		return 0
	}
	if c > 1 {
		return 1
	}
	return c
}

// penalizeLeftover deducts for words the rule could not account for.
func penalizeLeftover(conf float64, rest string) float64 {
	if strings.TrimSpace(rest) != "" {
		return clamp(conf - leftoverPenalty)
	}
	return conf
}

// ── Word sets ─────────────────────────────────────────────────────────────────

var presentWords = map[string]bool{
	"present": true, "attended": true, "here": true, "came": true,
	"presente": true, "presentes": true, "asistió": true, "asistio": true,
	"asistieron": true,
}

var absentWords = map[string]bool{
	"absent": true, "missed": true, "away": true, "out": true,
	"ausente": true, "ausentes": true, "faltó": true, "falto": true,
	"faltaron": true, "skipped": true,
}

// ── English rules ─────────────────────────────────────────────────────────────

var englishRules = []rule{
	{
		name: "attendance-all",
		re:   regexp.MustCompile(`^(?:mark\s+)?(?:everyone|everybody|all(?:\s+students)?)\s+(?:is\s+|are\s+|as\s+|was\s+|were\s+)?(present|attended|here|came|absent|missed|away|out|skipped)(?:\s+(.+))?$`),
		build: func(m []string, refKey string) (Payload, bool) {
			return buildAttendanceAll(m[1], m[2], refKey)
		},
	},
	{
		name: "duration-change",
		re:   regexp.MustCompile(`^(?:change|set|make)\s+(.+?)\s+to\s+(\d+)\s+minut(?:es?|os)$`),
		build: func(m []string, refKey string) (Payload, bool) {
			return buildDuration(m[1], m[2], refKey)
		},
	},
	{
		name: "duration-stated",
		re:   regexp.MustCompile(`^(.+?)\s+(?:is\s+now|is|will\s+be)\s+(\d+)\s+minut(?:es?|os)$`),
		build: func(m []string, refKey string) (Payload, bool) {
			return buildDuration(m[1], m[2], refKey)
		},
	},
	{
		name: "reschedule-now-at",
		re:   regexp.MustCompile(`^(.+?)\s+(?:lesson|class|session)\s+(?:is\s+)?(?:now\s+)?(at\s+.+)$`),
		build: func(m []string, refKey string) (Payload, bool) {
			return buildRescheduleTarget(m[1], "", m[2], refKey)
		},
	},
	{
		name: "reschedule-move",
		re:   regexp.MustCompile(`^(?:move|reschedule|push|shift|switch|change)\s+(.+?)\s+(?:from\s+(.+?)\s+)?to\s+(.+)$`),
		build: func(m []string, refKey string) (Payload, bool) {
			return buildRescheduleTarget(m[1], m[2], m[3], refKey)
		},
	},
	{
		name: "rate-explicit",
		re:   regexp.MustCompile(`^(?:set\s+|change\s+)?(.+?)(?:\s+hourly)?\s+rate\s+(?:is\s+now|is|to|at)\s+(.+)$`),
		build: func(m []string, refKey string) (Payload, bool) {
			return buildAmount(m[1], m[2], refKey, rateChoiceRate)
		},
	},
	{
		name: "amount-explicit",
		re:   regexp.MustCompile(`^(?:set\s+|change\s+)?(.+?)\s+(?:lesson\s+)?(?:amount|charge|price)\s+(?:is\s+now|is|to|at)\s+(.+)$`),
		build: func(m []string, refKey string) (Payload, bool) {
			return buildAmount(m[1], m[2], refKey, rateChoiceAmount)
		},
	},
	{
		name: "charge",
		re:   regexp.MustCompile(`^charge\s+(.+?)\s+(\$.+|\d.+)$`),
		build: func(m []string, refKey string) (Payload, bool) {
			return buildAmount(m[1], m[2], refKey, rateChoiceAmount)
		},
	},
	{
		name: "amount-is-now",
		re:   regexp.MustCompile(`^(.+?)\s+is\s+now\s+(.+)$`),
		build: func(m []string, refKey string) (Payload, bool) {
			return buildAmount(m[1], m[2], refKey, rateChoiceUnspecified)
		},
	},
	{
		name: "attendance-named",
		re:   regexp.MustCompile(`^(?:mark\s+)?(.+?)\s+(?:is\s+|are\s+|as\s+|was\s+|were\s+)?(present|attended|here|came|absent|missed|away|out|skipped)(?:\s+(?:on\s+)?(.+))?$`),
		build: func(m []string, refKey string) (Payload, bool) {
			return buildAttendanceNamed(m[1], m[2], m[3], refKey)
		},
	},
}

// ── Spanish rules ─────────────────────────────────────────────────────────────

var spanishRules = []rule{
	{
		name: "es-attendance-all",
		re:   regexp.MustCompile(`^(?:marca\s+)?(?:a\s+)?(?:todos|todas)(?:\s+como)?\s+(presentes?|asistieron|ausentes?|faltaron)(?:\s+(.+))?$`),
		build: func(m []string, refKey string) (Payload, bool) {
			return buildAttendanceAll(m[1], m[2], refKey)
		},
	},
	{
		name: "es-duration",
		re:   regexp.MustCompile(`^(?:cambia|pon)\s+(.+?)\s+a\s+(\d+)\s+minutos$`),
		build: func(m []string, refKey string) (Payload, bool) {
			return buildDuration(m[1], m[2], refKey)
		},
	},
	{
		name: "es-reschedule",
		re:   regexp.MustCompile(`^(?:mueve|cambia|pasa)\s+(.+?)\s+(?:para|a|al)\s+(.+)$`),
		build: func(m []string, refKey string) (Payload, bool) {
			return buildRescheduleTarget(m[1], "", m[2], refKey)
		},
	},
	{
		name: "es-attendance-named",
		re:   regexp.MustCompile(`^(?:marca\s+)?(?:a\s+)?(.+?)(?:\s+como)?\s+(presente|presentes|asistió|asistio|asistieron|ausente|ausentes|faltó|falto|faltaron)(?:\s+(.+))?$`),
		build: func(m []string, refKey string) (Payload, bool) {
			return buildAttendanceNamed(m[1], m[2], m[3], refKey)
		},
	},
}

// ── Builders ──────────────────────────────────────────────────────────────────

// buildAttendanceAll handles "mark everyone attended [date]".
func buildAttendanceAll(statusWord, trailing, refKey string) (Payload, bool) {
	present, ok := attendanceStatus(statusWord)
	if !ok {
		return Payload{}, false
	}

	dateKey, rest, found := extractDate(trailing, refKey)
	if !found {
		dateKey, rest = refKey, trailing
	}

	conf := penalizeLeftover(confAttendanceAll, rest)
	return Payload{
		Intent:     IntentAttendance,
		Confidence: conf,
		Attendance: &Attendance{
			AllScheduled: true,
			Present:      present,
			DateKey:      dateKey,
		},
	}, true
}

// buildAttendanceNamed handles "mark Leo and Ava present [date]".
func buildAttendanceNamed(namePart, statusWord, trailing, refKey string) (Payload, bool) {
	present, ok := attendanceStatus(statusWord)
	if !ok {
		return Payload{}, false
	}

	// A date spoken inside the name part ("leo yesterday attended") still
	// belongs to the command, not the name.
	dateKey, namePart, foundInName := extractDate(namePart, refKey)
	trailingDate, rest, foundTrailing := extractDate(trailing, refKey)
	switch {
	case foundTrailing:
		dateKey = trailingDate
	case foundInName:
		// keep dateKey from the name part
	default:
		dateKey, rest = refKey, trailing
	}

	names := splitNames(namePart)
	if len(names) == 0 {
		return Payload{}, false
	}
	conf := penalizeLeftover(confAttendanceNamed, rest)
	for _, n := range names {
		if len(n) < 2 {
			conf = clamp(conf - shortNamePenalty)
		}
	}

	return Payload{
		Intent:     IntentAttendance,
		Confidence: conf,
		Attendance: &Attendance{
			Names:   names,
			Present: present,
			DateKey: dateKey,
		},
	}, true
}

// attendanceStatus maps a status word onto present/absent.
func attendanceStatus(word string) (present, ok bool) {
	w := strings.Trim(strings.ToLower(word), ",.")
	if presentWords[w] {
		return true, true
	}
	if absentWords[w] {
		return false, true
	}
	return false, false
}

// buildDuration handles "change Ava's lesson to 90 minutes".
func buildDuration(namePart, minutesStr, refKey string) (Payload, bool) {
	minutes, err := strconv.Atoi(minutesStr)
	if err != nil || minutes <= 0 || minutes > 12*60 {
		return Payload{}, false
	}

	dateKey, namePart, found := extractDate(namePart, refKey)
	if !found {
		dateKey = refKey
	}
	name := cleanFragment(namePart)
	if name == "" {
		return Payload{}, false
	}

	return Payload{
		Intent:     IntentDuration,
		Confidence: confDuration,
		Duration: &DurationChange{
			Name:        name,
			DateKey:     dateKey,
			DurationMin: minutes,
		},
	}, true
}

var forMinutesRE = regexp.MustCompile(`\bfor\s+(\d+)\s+minut(?:es?|os)\b|\bpor\s+(\d+)\s+minutos\b`)

// buildRescheduleTarget handles both "X's class now at 6 pm" and
// "move X [from A] to B [at T] [for N minutes]".
func buildRescheduleTarget(namePart, sourcePart, targetPart, refKey string) (Payload, bool) {
	// Duration rider on the target ("... for 90 minutes").
	durationMin := 0
	if m := forMinutesRE.FindStringSubmatch(targetPart); m != nil {
		str := m[1]
		if str == "" {
			str = m[2]
		}
		if n, err := strconv.Atoi(str); err == nil && n > 0 && n <= 12*60 {
			durationMin = n
		}
		targetPart = strings.TrimSpace(forMinutesRE.ReplaceAllString(targetPart, ""))
	}

	targetDate, rest, dateFound := extractDate(targetPart, refKey)
	timeOfDay, rest, timeFound := extractTime(rest)
	if !dateFound && !timeFound && durationMin == 0 {
		return Payload{}, false
	}
	if !dateFound {
		// Time-only moves stay on the caller's selected date.
		targetDate = refKey
	}

	sourceDate := ""
	if sourcePart != "" {
		if d, _, found := extractDate(sourcePart, refKey); found {
			sourceDate = d
		}
	}
	if sourceDate == "" {
		// "move leo's friday lesson to ..." — a date inside the name part is
		// the source occurrence.
		if d, stripped, found := extractDate(namePart, refKey); found {
			sourceDate = d
			namePart = stripped
		}
	}

	name := cleanFragment(namePart)
	if name == "" {
		return Payload{}, false
	}

	conf := penalizeLeftover(confReschedule, rest)
	return Payload{
		Intent:     IntentReschedule,
		Confidence: conf,
		Reschedule: &Reschedule{
			Name:          name,
			SourceDateKey: sourceDate,
			TargetDateKey: targetDate,
			TimeOfDay:     timeOfDay,
			DurationMin:   durationMin,
		},
	}, true
}

// rateChoice says how an amount utterance bound the value.
type rateChoice int

const (
	rateChoiceUnspecified rateChoice = iota
	rateChoiceAmount
	rateChoiceRate
)

var (
	rateCueRE   = regexp.MustCompile(`\b(?:hourly|per\s+hour|por\s+hora|tarifa)\b`)
	amountCueRE = regexp.MustCompile(`\b(?:per\s+lesson|for\s+the\s+lesson|flat|por\s+clase)\b`)
)

// buildAmount handles "Leo Chen is now $100" and the explicit rate/amount
// forms. The value is parsed in major units and converted to cents with
// integer arithmetic only.
func buildAmount(namePart, valuePart, refKey string, choice rateChoice) (Payload, bool) {
	if choice == rateChoiceUnspecified {
		switch {
		case rateCueRE.MatchString(valuePart):
			choice = rateChoiceRate
		case amountCueRE.MatchString(valuePart):
			choice = rateChoiceAmount
		}
	}
	valuePart = rateCueRE.ReplaceAllString(valuePart, "")
	valuePart = amountCueRE.ReplaceAllString(valuePart, "")

	// An explicit rate/amount keyword lets a bare number through; the
	// ambiguous "is now" form requires a currency anchor so that
	// non-monetary statements fall to later rules.
	bareOK := choice != rateChoiceUnspecified
	cents, rest, ok := parseMoney(valuePart, bareOK)
	if !ok {
		return Payload{}, false
	}

	dateKey, namePart, found := extractDate(namePart, refKey)
	if !found {
		dateKey = refKey
	}
	name := cleanFragment(namePart)
	if name == "" {
		return Payload{}, false
	}

	p := Payload{
		Intent: IntentAmount,
		Amount: &AmountChange{
			Name:        name,
			DateKey:     dateKey,
			AmountCents: cents,
			ApplyToRate: choice == rateChoiceRate,
		},
	}
	if choice == rateChoiceUnspecified {
		p.Amount.RateAmbiguous = true
		p.Confidence = confAmountAmbiguous
	} else {
		p.Confidence = penalizeLeftover(confAmountExplicit, rest)
	}
	return p, true
}

var (
	currencyMoneyRE = regexp.MustCompile(`\$\s?(\d+)(?:\.(\d{1,2}))?|\b(\d+)(?:\.(\d{1,2}))?\s+(?:dollars?|bucks|pesos|d[oó]lares)\b`)
	bareMoneyRE     = regexp.MustCompile(`^\s*\$?\s?(\d+)(?:\.(\d{1,2}))?\s*$`)
)

// parseMoney extracts a monetary value in integer cents. When bareOK is
// false a "$" sign or currency word is required.
func parseMoney(phrase string, bareOK bool) (cents int, rest string, ok bool) {
	var major, frac string
	if loc := currencyMoneyRE.FindStringSubmatchIndex(phrase); loc != nil {
		m := currencyMoneyRE.FindStringSubmatch(phrase)
		major, frac = m[1], m[2]
		if major == "" {
			major, frac = m[3], m[4]
		}
		rest = strings.TrimSpace(strings.TrimSpace(phrase[:loc[0]]) + " " + strings.TrimSpace(phrase[loc[1]:]))
	} else if bareOK {
		m := bareMoneyRE.FindStringSubmatch(phrase)
		if m == nil {
			return 0, phrase, false
		}
		major, frac = m[1], m[2]
		rest = ""
	} else {
		return 0, phrase, false
	}

	whole, err := strconv.Atoi(major)
	if err != nil {
		return 0, phrase, false
	}
	cents = whole * 100
	if frac != "" {
		f, err := strconv.Atoi(frac)
		if err != nil {
			return 0, phrase, false
		}
		if len(frac) == 1 {
			f *= 10
		}
		cents += f
	}
	return cents, rest, true
}
