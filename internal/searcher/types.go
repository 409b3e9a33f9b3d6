// Package searcher implements hybrid retrieval: weighted multi-query
// fan-out over BM25 and vector search, reciprocal rank fusion, and
// score-aware blending on the original query.
package searcher

import (
	"context"

	"github.com/quietloop/memory/internal/expander"
	"github.com/quietloop/memory/internal/spellcorrect"
)

// DefaultRRFConstant is the RRF smoothing constant (spec.md §4.7).
const DefaultRRFConstant = 60

const (
	weightOriginal = 4.0
	weightLex      = 0.5
	weightVec      = 0.5
	weightHyde     = 0.25

	defaultCandidateCap = 300
	defaultTopK         = 10
	snippetChars        = 300
)

// Embedder embeds a query into the vector space searched against.
// embedclient.Client satisfies this.
type Embedder interface {
	EmbedQuery(ctx context.Context, text string) ([]float32, error)
}

// SpellCorrector optionally corrects a query using the indexed vocabulary.
// corrected equals query and corrections is empty when nothing changed.
type SpellCorrector interface {
	Correct(ctx context.Context, query string) (corrected string, corrections []spellcorrect.Correction, err error)
}

// Expander optionally produces keyword/semantic/HyDE query variants.
type Expander interface {
	Expand(ctx context.Context, query, contextHints string) (expander.Expansion, error)
}

// Options configures one Search call.
type Options struct {
	TopK         int
	CandidateCap int
	ContextHints string
	NoExpansion  bool
	NoSpellCheck bool
}

func (o Options) withDefaults() Options {
	if o.TopK <= 0 {
		o.TopK = defaultTopK
	}
	if o.CandidateCap <= 0 {
		o.CandidateCap = defaultCandidateCap
	}
	return o
}

// Explain records how a result's score was assembled, for debugging and
// for callers that want to show their work.
type Explain struct {
	RetrievalRank int
	BM25Rank      int
	BM25Score     float64
	SemanticScore float64
	BlendWeights  map[string]float64
}

// Result is one ranked hit, ready for display or reranking.
type Result struct {
	ChunkID int64
	Snippet string
	Content string
	Score   float64
	Explain Explain
}

// Response is a Search call's full output: the ranked results plus any
// spell corrections that fired along the way, surfaced as a stage event a
// caller can render (e.g. "Corrected: autentication → authentication",
// spec.md §8 S5) rather than silently folded into query rewriting.
type Response struct {
	Results     []Result
	Corrections []spellcorrect.Correction
}
