package resolver

import (
	"strings"
	"unicode"

	"github.com/antzucaro/matchr"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// Score tiers for name matching, highest wins. The fuzzy tier starts below
// the substring tiers and decays with edit distance down to the configured
// fuzzy threshold.
const (
	scoreExactFull     = 1.0
	scoreExactFirst    = 0.92
	scoreExactLast     = 0.88
	scorePrefix        = 0.85
	scoreContainsFirst = 0.8
	scoreContainsLast  = 0.78

	fuzzyBaseFirst = 0.76
	fuzzyBaseLast  = 0.74
	fuzzyBaseFull  = 0.72
	fuzzyDecay     = 0.06

	// maxEditDistance bounds the fuzzy tier; phonetic overlap (matching
	// Double Metaphone codes) relaxes it by one.
	maxEditDistance = 2
)

// foldTransformer strips diacritics: NFD decomposition, removal of combining
// marks, NFC recomposition.
var foldTransformer = transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)

// fold normalises a name for comparison: diacritic-fold, case-fold, trim.
func fold(s string) string {
	folded, _, err := transform.String(foldTransformer, s)
	if err != nil {
		folded = s
	}
	return strings.ToLower(strings.TrimSpace(folded))
}

// scoreName rates how well a spoken fragment matches a student's name,
// returning 0 when no tier applies. fragment and the name parts must
// already be folded.
func scoreName(fragment, first, last string, fuzzyFloor float64) float64 {
	full := strings.TrimSpace(first + " " + last)
	if fragment == "" || full == "" {
		return 0
	}

	switch {
	case fragment == full:
		return scoreExactFull
	case first != "" && fragment == first:
		return scoreExactFirst
	case last != "" && fragment == last:
		return scoreExactLast
	}
	if strings.HasPrefix(full, fragment) ||
		(first != "" && strings.HasPrefix(first, fragment)) ||
		(last != "" && strings.HasPrefix(last, fragment)) {
		return scorePrefix
	}
	if first != "" && strings.Contains(fragment, first) {
		return scoreContainsFirst
	}
	if last != "" && strings.Contains(fragment, last) {
		return scoreContainsLast
	}

	best := 0.0
	for _, cand := range []struct {
		name string
		base float64
	}{
		{first, fuzzyBaseFirst},
		{last, fuzzyBaseLast},
		{full, fuzzyBaseFull},
	} {
		if cand.name == "" {
			continue
		}
		if s := fuzzyScore(fragment, cand.name, cand.base, fuzzyFloor); s > best {
			best = s
		}
	}
	return best
}

// fuzzyScore rates an edit-distance match, decaying from base by distance
// and flooring at fuzzyFloor. Returns 0 when the distance exceeds the bound.
func fuzzyScore(fragment, name string, base, fuzzyFloor float64) float64 {
	bound := maxEditDistance
	if phoneticOverlap(fragment, name) {
		bound++
	}

	dist := matchr.Levenshtein(fragment, name)
	if dist == 0 {
		return base
	}
	if dist > bound {
		return 0
	}

	score := base - fuzzyDecay*float64(dist-1)
	if score < fuzzyFloor {
		score = fuzzyFloor
	}
	return score
}

// phoneticOverlap reports whether any Double Metaphone code of the fragment
// matches one of the name. Spoken-name mishearings ("lia" for "leah") often
// keep the phonetic shape while drifting in spelling.
func phoneticOverlap(fragment, name string) bool {
	fp, fs := matchr.DoubleMetaphone(fragment)
	np, ns := matchr.DoubleMetaphone(name)
	if fp == "" && fs == "" {
		return false
	}
	for _, f := range []string{fp, fs} {
		if f == "" {
			continue
		}
		if f == np || (ns != "" && f == ns) {
			return true
		}
	}
	return false
}

// tieBreak orders two equal-scored candidates by Jaro-Winkler similarity to
// the fragment so candidate lists are stable and the closest name leads.
func tieBreak(fragment, a, b string) bool {
	return matchr.JaroWinkler(fragment, a, false) > matchr.JaroWinkler(fragment, b, false)
}
