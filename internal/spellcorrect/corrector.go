package spellcorrect

import (
	"context"
	"regexp"
	"strings"
)

var quotedPhrase = regexp.MustCompile(`"[^"]*"`)

// tokenize splits a query into tokens, preserving double-quoted phrases
// verbatim as single tokens (spec.md §4.5).
func tokenize(query string) []string {
	var out []string
	rest := query
	for {
		loc := quotedPhrase.FindStringIndex(rest)
		if loc == nil {
			break
		}
		out = append(out, strings.Fields(rest[:loc[0]])...)
		out = append(out, rest[loc[0]:loc[1]])
		rest = rest[loc[1]:]
	}
	return append(out, strings.Fields(rest)...)
}

// skipToken reports whether a token should never be corrected: too
// short, purely numeric, or containing path-like punctuation (spec.md
// §4.5).
func skipToken(tok string) bool {
	if strings.HasPrefix(tok, `"`) {
		return true
	}
	if len(tok) <= 2 {
		return true
	}
	if strings.ContainsAny(tok, `/\.`) {
		return true
	}
	return isNumeric(tok)
}

func isNumeric(s string) bool {
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

// Corrector corrects query tokens against an indexed vocabulary.
type Corrector struct {
	vocab VocabularySource
}

func New(vocab VocabularySource) *Corrector {
	return &Corrector{vocab: vocab}
}

// Correct tokenizes query, replaces any token with a close (edit distance
// 1-2) vocabulary match, and returns the corrected query plus the list of
// {original, replacement} substitutions made. If the vocabulary is too
// small, query is returned unchanged with no corrections (spec.md §4.5).
func (c *Corrector) Correct(ctx context.Context, query string) (string, []Correction, error) {
	vocab, err := c.vocab.Vocabulary(ctx)
	if err != nil {
		return query, nil, err
	}
	if len(vocab) < MinVocabularySize {
		return query, nil, nil
	}

	tokens := tokenize(query)
	var corrections []Correction
	out := make([]string, len(tokens))

	for i, tok := range tokens {
		out[i] = tok
		if skipToken(tok) {
			continue
		}
		if repl, ok := bestMatch(tok, vocab); ok {
			out[i] = repl
			corrections = append(corrections, Correction{Original: tok, Replacement: repl})
		}
	}

	if len(corrections) == 0 {
		return query, nil, nil
	}
	return strings.Join(out, " "), corrections, nil
}

// bestMatch finds the closest vocabulary term within edit distance
// [1,2], requiring a matching first character when both terms exceed
// length 3 (spec.md §4.5).
func bestMatch(tok string, vocab []string) (string, bool) {
	lower := strings.ToLower(tok)
	best := ""
	bestDist := maxEditDistance + 1

	for _, v := range vocab {
		if v == lower {
			return "", false
		}
		if len(lower) > matchPrefixLen && len(v) > matchPrefixLen && lower[0] != v[0] {
			continue
		}
		d := editDistance(lower, v, bestDist)
		if d < minEditDistance || d > maxEditDistance {
			continue
		}
		if d < bestDist {
			best, bestDist = v, d
		}
	}
	if best == "" {
		return "", false
	}
	return best, true
}
