package store

import (
	"context"
	"fmt"
	"regexp"
	"strings"
)

// quotedPhraseRegex extracts "quoted phrases" from a raw query string.
var quotedPhraseRegex = regexp.MustCompile(`"([^"]+)"`)

// ftsStopWords are dropped from bare (non-quoted) FTS terms so a query
// like "what is the context prefix" doesn't AND-require "the" and "is"
// against every chunk.
var ftsStopWords = BuildStopWordMap([]string{
	"a", "an", "and", "are", "as", "at", "be", "by", "for", "from",
	"has", "have", "in", "is", "it", "of", "on", "or", "that", "the",
	"to", "was", "what", "when", "where", "with",
})

// parseFTSQuery splits a raw query into quoted phrases (kept verbatim,
// matched as FTS5 phrase terms) and the remaining bare words, with
// stopwords dropped from the bare words (quoted phrases are never
// filtered, since the caller asked for them verbatim).
func parseFTSQuery(raw string) (phrases []string, words []string) {
	remainder := quotedPhraseRegex.ReplaceAllStringFunc(raw, func(m string) string {
		phrase := strings.Trim(m, `"`)
		if strings.TrimSpace(phrase) != "" {
			phrases = append(phrases, phrase)
		}
		return " "
	})

	words = FilterStopWords(TokenizeCode(remainder), ftsStopWords)
	return phrases, words
}

// buildStrictMatch builds an FTS5 MATCH expression ANDing every quoted
// phrase and bare word together.
func buildStrictMatch(phrases, words []string) string {
	var parts []string
	for _, p := range phrases {
		parts = append(parts, fmt.Sprintf(`"%s"`, escapeFTSLiteral(p)))
	}
	for _, w := range words {
		parts = append(parts, escapeFTSLiteral(w))
	}
	return strings.Join(parts, " AND ")
}

// buildFuzzyMatch ORs the same terms together, used as a fallback when the
// strict AND match returns nothing.
func buildFuzzyMatch(phrases, words []string) string {
	var parts []string
	for _, p := range phrases {
		parts = append(parts, fmt.Sprintf(`"%s"`, escapeFTSLiteral(p)))
	}
	for _, w := range words {
		parts = append(parts, escapeFTSLiteral(w))
	}
	return strings.Join(parts, " OR ")
}

// escapeFTSLiteral doubles embedded double quotes when a token holds FTS5
// syntax characters (quotes, ^, *, :, parentheses). It does not add
// surrounding quotes itself; only phrases are quoted by the callers.
func escapeFTSLiteral(s string) string {
	if strings.ContainsAny(s, `"^*:()`) {
		return strings.ReplaceAll(s, `"`, `""`)
	}
	return s
}

const ftsSearchSQL = `
SELECT rowid, bm25(chunks_fts, ?, ?, ?, ?) as score
FROM chunks_fts
WHERE chunks_fts MATCH ?
ORDER BY score
LIMIT ?
`

// SearchFTS runs the full-text search: quoted phrases and remaining
// tokens are AND'd together first; if that returns nothing, the same
// terms are retried OR'd together as a fuzzy fallback.
func (s *SQLiteStore) SearchFTS(ctx context.Context, query string, limit int) ([]*BM25Result, error) {
	phrases, words := parseFTSQuery(query)
	if len(phrases) == 0 && len(words) == 0 {
		return []*BM25Result{}, nil
	}

	strict := buildStrictMatch(phrases, words)
	results, err := s.runFTSQuery(ctx, strict, limit)
	if err != nil {
		return nil, err
	}
	if len(results) > 0 {
		return results, nil
	}

	fuzzy := buildFuzzyMatch(phrases, words)
	if fuzzy == strict {
		return results, nil
	}
	return s.runFTSQuery(ctx, fuzzy, limit)
}

// maxVocabularyTerms bounds the vocabulary scan so an edit-distance
// correction pass stays fast even on a large store.
const maxVocabularyTerms = 20000

// Vocabulary returns the indexed FTS terms ordered by document frequency
// descending, for the spell corrector's edit-distance search.
func (s *SQLiteStore) Vocabulary(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT term FROM chunks_vocab ORDER BY doc DESC LIMIT ?`, maxVocabularyTerms)
	if err != nil {
		return nil, fmt.Errorf("vocabulary scan: %w", err)
	}
	defer rows.Close()

	var terms []string
	for rows.Next() {
		var term string
		if err := rows.Scan(&term); err != nil {
			return nil, fmt.Errorf("scan vocabulary term: %w", err)
		}
		terms = append(terms, term)
	}
	return terms, rows.Err()
}

func (s *SQLiteStore) runFTSQuery(ctx context.Context, match string, limit int) ([]*BM25Result, error) {
	rows, err := s.db.QueryContext(ctx, ftsSearchSQL,
		ftsColumnWeights[0], ftsColumnWeights[1], ftsColumnWeights[2], ftsColumnWeights[3],
		match, limit)
	if err != nil {
		if strings.Contains(err.Error(), "fts5") || strings.Contains(err.Error(), "syntax error") {
			return []*BM25Result{}, nil
		}
		return nil, fmt.Errorf("fts search: %w", err)
	}
	defer rows.Close()

	var results []*BM25Result
	for rows.Next() {
		var id int64
		var score float64
		if err := rows.Scan(&id, &score); err != nil {
			return nil, fmt.Errorf("scan fts result: %w", err)
		}
		// bm25() returns negative values where lower (more negative) is a
		// better match; negate so higher means better, consistent with
		// the vector similarity scale.
		results = append(results, &BM25Result{ChunkID: id, Score: -score})
	}
	return results, rows.Err()
}
