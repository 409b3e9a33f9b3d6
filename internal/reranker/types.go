// Package reranker cross-encoder-reranks retrieval results: a batch call
// to a rerank endpoint, optional per-submodel score blending, and a
// position-aware blend back with each result's retrieval score.
package reranker

import "context"

const (
	MinQueryChars = 3

	// Blend weights for the optional per-submodel score, used when the
	// endpoint response includes scores.bge/qwen/gemma alongside the
	// single combined score (spec.md §4.8).
	DefaultBGEWeight   = 0.5
	DefaultQwenWeight  = 0.3
	DefaultGemmaWeight = 0.2
)

// Config configures one Reranker.
type Config struct {
	Endpoint    string
	APIKey      string
	BGEWeight   float64
	QwenWeight  float64
	GemmaWeight float64
}

func (c Config) withDefaults() Config {
	if c.BGEWeight == 0 && c.QwenWeight == 0 && c.GemmaWeight == 0 {
		c.BGEWeight, c.QwenWeight, c.GemmaWeight = DefaultBGEWeight, DefaultQwenWeight, DefaultGemmaWeight
	}
	return c
}

// modelTag encodes the blend recipe so cache entries invalidate when the
// recipe changes (spec.md §4.8).
func (c Config) modelTag() string {
	return formatModelTag(c.BGEWeight, c.QwenWeight, c.GemmaWeight)
}

// Candidate is one retrieval result awaiting a rerank score.
type Candidate struct {
	ChunkID        int64
	ContentHash    string
	Content        string
	RetrievalScore float64
	RetrievalRank  int // 0-indexed
}

// Reranked is a Candidate after blending in its rerank score.
type Reranked struct {
	Candidate
	RerankerScore float64
	FinalScore    float64
}

// Cache is the store-backed rerank score cache (store.SQLiteStore
// satisfies this structurally).
type Cache interface {
	GetRerankScore(ctx context.Context, queryHash, docKey, modelTag string) (float64, bool, error)
	SetRerankScore(ctx context.Context, queryHash, docKey, modelTag string, score float64) error
}
