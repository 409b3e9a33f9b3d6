// Package spellcorrect corrects query terms against the indexed
// vocabulary using a bounded edit-distance search. It only activates once
// a large enough vocabulary has been observed, so it never misfires on a
// freshly created, near-empty store.
package spellcorrect

import "context"

// MinVocabularySize is the floor below which correction is skipped
// entirely (spec.md §4.5).
const MinVocabularySize = 100

const (
	minEditDistance = 1
	maxEditDistance = 2
	minTokenLen     = 3 // tokens of length <= 2 are never corrected
	matchPrefixLen  = 3 // first-char match required when both terms exceed this length
)

// Correction records one replaced token.
type Correction struct {
	Original    string
	Replacement string
}

// VocabularySource supplies the current indexed vocabulary. store.SQLiteStore
// satisfies this via its FTS vocabulary table.
type VocabularySource interface {
	Vocabulary(ctx context.Context) ([]string, error)
}
