// Package embedclient converts text to fixed-dimension unit-length vectors
// by calling an external embedding endpoint, with batching, bounded
// parallelism, retry, and a two-tier (in-memory + store-backed) cache for
// query embeddings.
package embedclient

import (
	"context"
	"time"
)

const (
	// QueryPrefix and DocumentPrefix satisfy the embedding model's
	// asymmetric query/document convention (spec.md §4.2).
	QueryPrefix    = "search_query: "
	DocumentPrefix = "search_document: "

	// MaxInputChars bounds a single embedding input after sanitization.
	MaxInputChars = 8000

	// DefaultBatchSize is the maximum number of inputs per request.
	DefaultBatchSize = 50

	// DefaultMaxConcurrentBatches bounds in-flight batch requests.
	DefaultMaxConcurrentBatches = 2

	// DefaultCooldownEveryBatches and DefaultCooldownDuration implement
	// the periodic pause that lets upstream rate limits reset.
	DefaultCooldownEveryBatches = 300
	DefaultCooldownDuration     = 60 * time.Second

	// DefaultCacheSize is the in-memory LRU size for query embeddings.
	DefaultCacheSize = 200
)

// Config configures a Client.
type Config struct {
	Endpoint string
	APIKey   string

	// Dimensions is the embedding width D; 0 means auto-detect from the
	// first successful response.
	Dimensions int

	BatchSize            int
	MaxConcurrentBatches int
	CooldownEveryBatches int
	CooldownDuration     time.Duration
	CacheSize            int
}

func (c Config) withDefaults() Config {
	if c.BatchSize <= 0 {
		c.BatchSize = DefaultBatchSize
	}
	if c.MaxConcurrentBatches <= 0 {
		c.MaxConcurrentBatches = DefaultMaxConcurrentBatches
	}
	if c.CooldownEveryBatches <= 0 {
		c.CooldownEveryBatches = DefaultCooldownEveryBatches
	}
	if c.CooldownDuration <= 0 {
		c.CooldownDuration = DefaultCooldownDuration
	}
	if c.CacheSize <= 0 {
		c.CacheSize = DefaultCacheSize
	}
	return c
}

// PersistentCache is the store-backed mirror of the query-embedding cache
// (store.SQLiteStore satisfies this structurally). A nil PersistentCache
// disables the persistent tier; the in-memory LRU still applies.
type PersistentCache interface {
	GetQueryEmbedding(ctx context.Context, queryText string) ([]float32, bool, error)
	SetQueryEmbedding(ctx context.Context, queryText string, embedding []float32) error
}

// embedRequest is the wire request body (spec.md §6).
type embedRequest struct {
	Content []string `json:"content"`
}

// embedResponseItem is one element of the wire response array; Embedding
// is a singleton outer slice per spec.md §6 ("embedding:[[f1,…,fD]]").
type embedResponseItem struct {
	Index     int         `json:"index"`
	Embedding [][]float64 `json:"embedding"`
}
