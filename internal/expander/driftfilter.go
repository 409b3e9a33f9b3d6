package expander

import (
	"regexp"
	"strings"
)

var stopwords = map[string]struct{}{
	"a": {}, "an": {}, "the": {}, "of": {}, "in": {}, "on": {}, "at": {}, "to": {},
	"for": {}, "and": {}, "or": {}, "is": {}, "are": {}, "was": {}, "were": {},
	"be": {}, "been": {}, "with": {}, "that": {}, "this": {}, "it": {}, "as": {},
}

var numericToken = regexp.MustCompile(`\d+`)

// normalizedTerms lowercases, tokenizes, and drops stopwords.
func normalizedTerms(s string) map[string]struct{} {
	out := make(map[string]struct{})
	for _, f := range strings.Fields(strings.ToLower(s)) {
		f = strings.Trim(f, `.,!?;:"'()`)
		if f == "" {
			continue
		}
		if _, stop := stopwords[f]; stop {
			continue
		}
		out[f] = struct{}{}
	}
	return out
}

// termOverlap returns the fraction of original's normalized non-stopword
// terms also present in candidate.
func termOverlap(original, candidate string) float64 {
	origTerms := normalizedTerms(original)
	if len(origTerms) == 0 {
		return 1
	}
	candTerms := normalizedTerms(candidate)
	matched := 0
	for t := range origTerms {
		if _, ok := candTerms[t]; ok {
			matched++
		}
	}
	return float64(matched) / float64(len(origTerms))
}

// preservesNumericTokens reports whether every numeric token in original
// also appears in candidate (spec.md §4.6).
func preservesNumericTokens(original, candidate string) bool {
	for _, n := range numericToken.FindAllString(original, -1) {
		if !strings.Contains(candidate, n) {
			return false
		}
	}
	return true
}

// passesDriftFilter applies the overlap and numeric-preservation checks
// from spec.md §4.6. threshold scales with how many meaningful terms the
// original query has.
func passesDriftFilter(original, candidate string) bool {
	if candidate == "" {
		return false
	}
	threshold := 0.5
	if len(normalizedTerms(original)) <= 3 {
		threshold = 0.8
	}
	if termOverlap(original, candidate) < threshold {
		return false
	}
	return preservesNumericTokens(original, candidate)
}

// validHyDE checks the 20-500 character acceptance window (spec.md §4.6).
func validHyDE(s string) bool {
	n := len(strings.TrimSpace(s))
	return n >= minHyDEChars && n <= maxHyDEChars
}
