package parser

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/lessonbook/lessonbook/internal/schedule"
)

// weekdayNames maps spoken weekday names (English and Spanish) to weekdays.
var weekdayNames = map[string]time.Weekday{
	"sunday": time.Sunday, "monday": time.Monday, "tuesday": time.Tuesday,
	"wednesday": time.Wednesday, "thursday": time.Thursday,
	"friday": time.Friday, "saturday": time.Saturday,
	"domingo": time.Sunday, "lunes": time.Monday, "martes": time.Tuesday,
	"miércoles": time.Wednesday, "miercoles": time.Wednesday,
	"jueves": time.Thursday, "viernes": time.Friday,
	"sábado": time.Saturday, "sabado": time.Saturday,
}

var (
	isoDateRE   = regexp.MustCompile(`^\d{4}-\d{2}-\d{2}$`)
	slashDateRE = regexp.MustCompile(`^(\d{1,2})/(\d{1,2})/(\d{4})$`)
)

// datePrepositions are skipped while scanning for a date token.
var datePrepositions = map[string]bool{
	"on": true, "for": true, "to": true, "el": true, "la": true,
	"este": true, "esta": true, "al": true, "de": true,
}

// extractDate scans phrase for the first date reference and resolves it
// against refKey. It returns the resolved date key, the phrase with the
// consumed tokens removed, and whether a date was found.
//
// Relative references resolve deterministically: "today"/"hoy" is refKey
// itself, "tomorrow"/"mañana" is refKey+1, a bare weekday is the next
// occurrence on or after refKey, and "next <weekday>" is strictly after it.
func extractDate(phrase, refKey string) (dateKey, rest string, ok bool) {
	tokens := strings.Fields(phrase)

	for i := 0; i < len(tokens); i++ {
		tok := strings.Trim(tokens[i], ",.")
		lower := strings.ToLower(tok)

		if datePrepositions[lower] {
			continue
		}

		switch lower {
		case "today", "tonight", "hoy":
			return refKey, dropTokens(tokens, i, 1), true
		case "tomorrow", "mañana", "manana":
			if key, err := schedule.AddDays(refKey, 1); err == nil {
				return key, dropTokens(tokens, i, 1), true
			}
		case "yesterday", "ayer":
			if key, err := schedule.AddDays(refKey, -1); err == nil {
				return key, dropTokens(tokens, i, 1), true
			}
		}

		if isoDateRE.MatchString(lower) {
			if _, err := schedule.ParseDateKey(lower); err == nil {
				return lower, dropTokens(tokens, i, 1), true
			}
		}
		if m := slashDateRE.FindStringSubmatch(lower); m != nil {
			month, _ := strconv.Atoi(m[1])
			day, _ := strconv.Atoi(m[2])
			year, _ := strconv.Atoi(m[3])
			if month >= 1 && month <= 12 && day >= 1 && day <= 31 {
				key := fmt.Sprintf("%04d-%02d-%02d", year, month, day)
				if _, err := schedule.ParseDateKey(key); err == nil {
					return key, dropTokens(tokens, i, 1), true
				}
			}
		}

		if lower == "next" || lower == "próximo" || lower == "proximo" {
			if i+1 < len(tokens) {
				if wd, found := weekdayNames[strings.ToLower(strings.Trim(tokens[i+1], ",."))]; found {
					if key, err := weekdayAfter(refKey, wd, true); err == nil {
						return key, dropTokens(tokens, i, 2), true
					}
				}
			}
			continue
		}
		if wd, found := weekdayNames[lower]; found {
			if key, err := weekdayAfter(refKey, wd, false); err == nil {
				return key, dropTokens(tokens, i, 1), true
			}
		}
	}

	return "", phrase, false
}

// weekdayAfter returns the date key of the next wd on or after refKey.
// When strict is true the result is strictly after refKey.
func weekdayAfter(refKey string, wd time.Weekday, strict bool) (string, error) {
	day, err := schedule.Weekday(refKey)
	if err != nil {
		return "", err
	}
	delta := (int(wd) - int(day) + 7) % 7
	if delta == 0 && strict {
		delta = 7
	}
	return schedule.AddDays(refKey, delta)
}

// dropTokens returns tokens joined with the n tokens starting at i removed.
func dropTokens(tokens []string, i, n int) string {
	kept := make([]string, 0, len(tokens))
	kept = append(kept, tokens[:i]...)
	kept = append(kept, tokens[i+n:]...)
	return strings.Join(kept, " ")
}

// ── Time of day ───────────────────────────────────────────────────────────────

var timeRE = regexp.MustCompile(`\b(at|a las?|las?)?\s*(\d{1,2})(:(\d{2}))?\s*(am|pm|a\.m\.|p\.m\.)?\b`)

// extractTime scans phrase for a clock time and returns it in 24h "HH:MM"
// form plus the phrase with the consumed text removed.
//
// A bare number only counts as a time when anchored by an "at"/"a las"
// prefix, a ":MM" component, or an am/pm marker — otherwise durations and
// amounts ("90 minutes", "100") would be eaten as clock times. An anchored
// hour without an am/pm marker between 1 and 7 is taken as afternoon; later
// hours stay as spoken.
func extractTime(phrase string) (timeOfDay, rest string, ok bool) {
	for _, loc := range timeRE.FindAllStringSubmatchIndex(phrase, -1) {
		group := func(n int) string {
			if loc[2*n] < 0 {
				return ""
			}
			return phrase[loc[2*n]:loc[2*n+1]]
		}

		prefix, hourStr, minuteStr := group(1), group(2), group(4)
		marker := strings.ReplaceAll(group(5), ".", "")

		if prefix == "" && minuteStr == "" && marker == "" {
			continue
		}

		hour, err := strconv.Atoi(hourStr)
		if err != nil || hour > 23 {
			continue
		}
		minute := 0
		if minuteStr != "" {
			minute, err = strconv.Atoi(minuteStr)
			if err != nil || minute > 59 {
				continue
			}
		}

		switch marker {
		case "pm":
			if hour < 12 {
				hour += 12
			}
		case "am":
			if hour == 12 {
				hour = 0
			}
		default:
			if hour >= 1 && hour <= 7 {
				hour += 12
			}
		}

		rest = strings.TrimSpace(strings.TrimSpace(phrase[:loc[0]]) + " " + strings.TrimSpace(phrase[loc[1]:]))
		return fmt.Sprintf("%02d:%02d", hour, minute), rest, true
	}
	return "", phrase, false
}
