package aisignal

import (
	"strings"
	"unicode/utf8"

	"github.com/antzucaro/matchr"
)

const (
	defaultPhoneticThreshold = 0.80
	defaultFuzzyThreshold    = 0.90
)

// choice is one registered value a model label may resolve to.
type choice struct {
	id    string
	label string
}

// labelMatcher resolves the free-text labels a model emits ("Tech issue",
// "billng", "Feature-Request") to registered ids. Resolution tries, in order:
// the canonical id, the display label, and finally a Double Metaphone +
// Jaro-Winkler fuzzy match. Anything else is rejected rather than guessed.
//
// labelMatcher is read-only after construction.
type labelMatcher struct {
	phoneticThreshold float64
	fuzzyThreshold    float64
}

func newLabelMatcher() *labelMatcher {
	return &labelMatcher{
		phoneticThreshold: defaultPhoneticThreshold,
		fuzzyThreshold:    defaultFuzzyThreshold,
	}
}

// canon lower-cases s and folds separators to underscores, so "Feature
// Request", "feature-request" and "feature_request" compare equal.
func canon(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	return strings.Join(strings.FieldsFunc(s, func(r rune) bool {
		return r == ' ' || r == '-' || r == '_' || r == '/' || r == '&'
	}), "_")
}

// match returns the id of the choice raw refers to.
func (m *labelMatcher) match(raw string, choices []choice) (string, bool) {
	want := canon(raw)
	if want == "" {
		return "", false
	}
	for _, c := range choices {
		if want == canon(c.id) || want == canon(c.label) {
			return c.id, true
		}
	}

	wantTokens := strings.Split(want, "_")
	wantCodes := metaphoneCodes(wantTokens)

	var (
		bestID       string
		bestScore    float64
		bestPhonetic bool
	)
	for _, c := range choices {
		for _, form := range []string{canon(c.id), canon(c.label)} {
			if form == "" {
				continue
			}
			tokens := strings.Split(form, "_")
			score := jaroWinkler(want, form, wantTokens, tokens)
			phonetic := overlaps(wantCodes, metaphoneCodes(tokens))

			switch {
			case phonetic && score >= m.phoneticThreshold:
				if !bestPhonetic || score > bestScore {
					bestID, bestScore, bestPhonetic = c.id, score, true
				}
			case !bestPhonetic && score >= m.fuzzyThreshold && score > bestScore:
				bestID, bestScore = c.id, score
			}
		}
	}
	return bestID, bestID != ""
}

func metaphoneCodes(tokens []string) map[string]struct{} {
	codes := make(map[string]struct{}, len(tokens)*2)
	for _, t := range tokens {
		if t == "" || !isASCII(t) {
			continue
		}
		p, s := matchr.DoubleMetaphone(t)
		if p != "" {
			codes[p] = struct{}{}
		}
		if s != "" {
			codes[s] = struct{}{}
		}
	}
	return codes
}

func overlaps(a, b map[string]struct{}) bool {
	if len(a) > len(b) {
		a, b = b, a
	}
	for code := range a {
		if _, ok := b[code]; ok {
			return true
		}
	}
	return false
}

// jaroWinkler scores the full forms and, for multi-word labels, the
// concatenated forms. A single shared word is not a match.
func jaroWinkler(a, b string, aTokens, bTokens []string) float64 {
	score := matchr.JaroWinkler(a, b, false)
	if len(aTokens) > 1 || len(bTokens) > 1 {
		if s := matchr.JaroWinkler(strings.Join(aTokens, ""), strings.Join(bTokens, ""), false); s > score {
			score = s
		}
	}
	return score
}

// isASCII guards the Double Metaphone encoder, which only knows Latin
// spelling rules.
func isASCII(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] >= utf8.RuneSelf {
			return false
		}
	}
	return true
}
