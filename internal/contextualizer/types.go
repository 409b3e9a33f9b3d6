// Package contextualizer generates short per-chunk context prefixes via one
// or more LLM endpoints, improving retrieval quality by situating a chunk
// within its parent document (the "contextual retrieval" pattern).
package contextualizer

import "context"

const (
	// DefaultBatchSize is the per-slot batch size when a Slot doesn't
	// specify one.
	DefaultBatchSize = 100

	// DefaultParallelism is a slot's in-flight batch limit when unset.
	DefaultParallelism = 4

	// DefaultMaxDocTokens bounds the document excerpt included in the
	// prompt when a caller doesn't specify one.
	DefaultMaxDocTokens = 4000

	// MinContextChars and MaxContextChars bound an accepted context
	// string; anything outside this range is replaced by "".
	MinContextChars = 10
	MaxContextChars = 500
)

// Slot describes one chat/completion endpoint the contextualizer can
// dispatch batches to.
type Slot struct {
	Endpoint    string
	Model       string
	APIKey      string
	Parallelism int
	BatchSize   int
}

func (s Slot) withDefaults() Slot {
	if s.Parallelism <= 0 {
		s.Parallelism = DefaultParallelism
	}
	if s.BatchSize <= 0 {
		s.BatchSize = DefaultBatchSize
	}
	return s
}

// Input is one chunk awaiting a context prefix.
type Input struct {
	// ChunkID identifies the chunk for the caller; it is not sent upstream.
	ChunkID int64

	// DocContent is the parent document's full text, used to build the
	// prompt's document excerpt and the cache key.
	DocContent string

	// ChunkContent is the chunk's own text.
	ChunkContent string
}

// Result is the context prefix generated (or recalled) for one Input.
type Result struct {
	ChunkID int64
	Context string
	Cached  bool
}

// Cache is the store-backed context cache (store.SQLiteStore satisfies
// this structurally).
type Cache interface {
	GetContext(ctx context.Context, key string) (string, bool, error)
	SetContext(ctx context.Context, key, contextPrefix string) error
}
