package parser

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// Supported language tags.
const (
	LangEnglish = "en"
	LangSpanish = "es"
)

// spanishMarkers are words that flag a transcript as Spanish. Two hits (or
// one unambiguous hit) switch the rule set; everything else runs the English
// rules.
var spanishMarkers = map[string]bool{
	"clase": true, "hoy": true, "mañana": true, "manana": true, "ayer": true,
	"todos": true, "todas": true, "presente": true, "presentes": true,
	"ausente": true, "ausentes": true, "asistió": true, "asistio": true,
	"faltó": true, "falto": true, "faltaron": true, "asistieron": true,
	"mueve": true, "cambia": true, "marca": true, "pasa": true,
	"lunes": true, "martes": true, "miércoles": true, "miercoles": true,
	"jueves": true, "viernes": true, "sábado": true, "sabado": true,
	"domingo": true, "minutos": true, "hora": true, "ahora": true,
}

// detectLang guesses the transcript language from keyword hits.
func detectLang(text string) string {
	hits := 0
	for _, w := range strings.Fields(text) {
		if spanishMarkers[strings.Trim(w, ",.?!")] {
			hits++
		}
	}
	if hits >= 2 {
		return LangSpanish
	}
	return LangEnglish
}

// fillers are lead-in phrases stripped before intent matching, longest first
// so that "can you please" wins over "please".
var fillers = map[string][]string{
	LangEnglish: {
		"hey lessonbook", "okay so", "can you please", "could you please",
		"would you please", "can you", "could you", "would you", "please",
		"i want to", "i'd like to", "i would like to", "go ahead and",
		"hey", "okay", "ok", "um", "uh", "so",
	},
	LangSpanish: {
		"por favor", "puedes", "podrías", "podrias", "quiero", "oye",
		"a ver", "bueno", "este",
	},
}

// normalize lower-cases, collapses whitespace, strips lead-in fillers and
// rewrites spoken numbers and durations into digits. The result is what the
// intent rules match against.
func normalize(transcript, lang string) string {
	text := strings.ToLower(strings.TrimSpace(transcript))
	text = strings.Trim(text, ".?!")
	text = whitespaceRE.ReplaceAllString(text, " ")

	// Strip lead-ins repeatedly: "hey um please mark ..." loses all three.
	for {
		stripped := false
		for _, f := range fillers[lang] {
			if strings.HasPrefix(text, f+" ") {
				text = strings.TrimSpace(strings.TrimPrefix(text, f+" "))
				stripped = true
			}
		}
		if !stripped {
			break
		}
	}

	text = normalizeNumberWords(text)
	text = normalizeDurations(text, lang)
	return strings.TrimSpace(whitespaceRE.ReplaceAllString(text, " "))
}

var whitespaceRE = regexp.MustCompile(`\s+`)

// ── Spoken numbers ────────────────────────────────────────────────────────────

var numberUnits = map[string]int{
	"zero": 0, "one": 1, "two": 2, "three": 3, "four": 4, "five": 5,
	"six": 6, "seven": 7, "eight": 8, "nine": 9, "ten": 10,
	"eleven": 11, "twelve": 12, "thirteen": 13, "fourteen": 14,
	"fifteen": 15, "sixteen": 16, "seventeen": 17, "eighteen": 18,
	"nineteen": 19, "twenty": 20, "thirty": 30, "forty": 40, "fifty": 50,
	"sixty": 60, "seventy": 70, "eighty": 80, "ninety": 90,
	// Spanish units used in duration/amount phrases.
	"uno": 1, "dos": 2, "tres": 3, "cuatro": 4, "cinco": 5, "seis": 6,
	"siete": 7, "ocho": 8, "nueve": 9, "diez": 10, "quince": 15,
	"veinte": 20, "treinta": 30, "cuarenta": 40, "cincuenta": 50,
	"sesenta": 60, "noventa": 90, "cien": 100,
}

var numberScales = map[string]int{
	"hundred": 100, "thousand": 1000,
	"cientos": 100, "mil": 1000,
}

// normalizeNumberWords rewrites spoken number sequences into digits:
// "a hundred thousand" → "100000", "twenty five" → "25". Words that are not
// part of a number pass through untouched.
func normalizeNumberWords(text string) string {
	tokens := strings.Fields(text)
	var out []string

	i := 0
	for i < len(tokens) {
		current, total, consumed := 0, 0, 0
		for i+consumed < len(tokens) {
			tok := strings.Trim(tokens[i+consumed], ",")
			// "a hundred", "an hour" — the article only counts when a scale
			// word follows it.
			if (tok == "a" || tok == "an" || tok == "un" || tok == "una") &&
				i+consumed+1 < len(tokens) {
				if _, ok := numberScales[strings.Trim(tokens[i+consumed+1], ",")]; ok {
					current = 1
					consumed++
					continue
				}
				break
			}
			if v, ok := numberUnits[tok]; ok {
				current += v
				consumed++
				continue
			}
			if scale, ok := numberScales[tok]; ok && (current > 0 || consumed > 0) {
				if current == 0 {
					current = 1
				}
				if scale >= 1000 {
					total += current * scale
					current = 0
				} else {
					current *= scale
				}
				consumed++
				continue
			}
			if tok == "and" && consumed > 0 && i+consumed+1 < len(tokens) {
				// "one hundred and five" — only bridge when a number follows.
				next := strings.Trim(tokens[i+consumed+1], ",")
				_, unitOK := numberUnits[next]
				if unitOK {
					consumed++
					continue
				}
			}
			break
		}

		if consumed > 0 {
			out = append(out, strconv.Itoa(total+current))
			i += consumed
			continue
		}
		out = append(out, tokens[i])
		i++
	}

	return strings.Join(out, " ")
}

// ── Durations ─────────────────────────────────────────────────────────────────

var (
	hourAndHalfRE   = regexp.MustCompile(`\ban? hour and a half\b`)
	nHoursAndHalfRE = regexp.MustCompile(`\b(\d+) hours? and a half\b`)
	nAndHalfHoursRE = regexp.MustCompile(`\b(\d+) and a half hours?\b`)
	halfHourRE      = regexp.MustCompile(`\b(?:half an hour|a half hour|media hora)\b`)
	oneHourRE       = regexp.MustCompile(`\b(?:an hour|una hora)\b`)
	nHoursRE        = regexp.MustCompile(`\b(\d+) (?:hours?|horas?)\b`)

	// "$80 an hour" is a rate, not a length; rewrite it before the duration
	// rules would turn it into "$80 60 minutes".
	rateTailRE = regexp.MustCompile(`((?:\$|€)\d+(?:\.\d{1,2})?|\d+ (?:dollars?|bucks|euros?|d[oó]lares)) (?:an hour|per hour|la hora|por hora)\b`)
)

// normalizeDurations rewrites spoken lengths into "<N> minutes" (or
// "minutos" for Spanish) so the intent rules only ever see minutes.
func normalizeDurations(text, lang string) string {
	unit := "minutes"
	if lang == LangSpanish {
		unit = "minutos"
	}
	minutes := func(n int) string { return fmt.Sprintf("%d %s", n, unit) }

	text = rateTailRE.ReplaceAllString(text, "$1 hourly")
	text = hourAndHalfRE.ReplaceAllString(text, minutes(90))
	text = nHoursAndHalfRE.ReplaceAllStringFunc(text, func(m string) string {
		n, _ := strconv.Atoi(nHoursAndHalfRE.FindStringSubmatch(m)[1])
		return minutes(n*60 + 30)
	})
	text = nAndHalfHoursRE.ReplaceAllStringFunc(text, func(m string) string {
		n, _ := strconv.Atoi(nAndHalfHoursRE.FindStringSubmatch(m)[1])
		return minutes(n*60 + 30)
	})
	text = halfHourRE.ReplaceAllString(text, minutes(30))
	text = nHoursRE.ReplaceAllStringFunc(text, func(m string) string {
		n, _ := strconv.Atoi(nHoursRE.FindStringSubmatch(m)[1])
		return minutes(n * 60)
	})
	// "an hour" only once plain-hour multiples are out of the way.
	text = oneHourRE.ReplaceAllString(text, minutes(60))
	return text
}

// ── Name fragments ────────────────────────────────────────────────────────────

var possessiveRE = regexp.MustCompile(`['’]s\b`)

// trailingNameWords are dropped from the end of a name fragment.
var trailingNameWords = map[string]bool{
	"lesson": true, "lessons": true, "class": true, "classes": true,
	"session": true, "clase": true, "clases": true, "lección": true,
	"leccion": true, "the": true, "la": true, "el": true, "de": true,
}

// cleanFragment strips possessive suffixes, articles, and known trailing
// words from a spoken name fragment.
func cleanFragment(raw string) string {
	s := possessiveRE.ReplaceAllString(strings.TrimSpace(raw), "")
	s = strings.Trim(s, ",. ")

	words := strings.Fields(s)
	for len(words) > 0 && trailingNameWords[words[len(words)-1]] {
		words = words[:len(words)-1]
	}
	for len(words) > 0 && trailingNameWords[words[0]] {
		words = words[1:]
	}
	return strings.Join(words, " ")
}

// splitNames splits a fragment list on "and"/"y"/commas:
// "leo, ava and mia" → ["leo", "ava", "mia"]. Each part is cleaned.
func splitNames(raw string) []string {
	parts := nameSplitRE.Split(raw, -1)
	var names []string
	for _, p := range parts {
		if c := cleanFragment(p); c != "" {
			names = append(names, c)
		}
	}
	return names
}

var nameSplitRE = regexp.MustCompile(`\s*,\s*|\s+and\s+|\s+y\s+`)
