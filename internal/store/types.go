// Package store provides the single-file relational store: file and chunk
// metadata, the FTS5 mirror, the vector index (sqlite-vec, falling back to
// an in-memory HNSW graph), collections, sessions, and the three
// persistent caches (query-embedding, context, rerank).
package store

import (
	"context"
	"fmt"
	"time"
)

// File represents a tracked Markdown source document.
type File struct {
	ID          int64
	Path        string // absolute path, unique
	ModTime     time.Time
	ContentHash string
	IndexedAt   time.Time
	VirtualPath string // optional memory://<collection>/<relative> form
}

// Observation is optional chunk metadata recorded at index time: a type
// tag plus the concepts and files the chunk references.
type Observation struct {
	Type       string
	Concepts   []string
	References []string
}

// FTSMeta carries the auxiliary text mirrored into the FTS row alongside a
// chunk's content: filename, path tokens, and in-chunk headings.
type FTSMeta struct {
	Filename   string
	PathTokens string
	Headings   string
}

// Chunk is a positioned, embedded slice of a file.
type Chunk struct {
	ID            int64
	FileID        int64
	ChunkIndex    int // 0-based, contiguous within a file
	Content       string
	LineStart     int
	LineEnd       int
	Embedding     []float32
	ContentHash   string
	ContextPrefix string
	Observation   *Observation
	SessionID     string
}

// Collection is a named grouping of files.
type Collection struct {
	ID        int64
	Name      string
	CreatedAt time.Time
}

// Session tags a set of chunks with an external capture session.
type Session struct {
	ID            string
	StartedAt     time.Time
	ProjectPath   string
	Summary       string
	CaptureCount  int
	PromptCount   int
}

// BM25Result is one ranked full-text search hit.
type BM25Result struct {
	ChunkID      int64
	Score        float64
	MatchedTerms []string
}

// VectorHit is one nearest-neighbor hit from the vector index.
type VectorHit struct {
	ChunkID  int64
	Distance float32
}

// QueryEmbeddingCacheEntry is a cached (raw query text) -> embedding row.
type QueryEmbeddingCacheEntry struct {
	QueryText string
	Embedding []float32
	CreatedAt time.Time
}

// ContextCacheEntry is a cached context-prefix row, keyed by the
// composite hash SHA256(docContent || 0x00 || chunkContent).
type ContextCacheEntry struct {
	Key           string
	ContextPrefix string
	CreatedAt     time.Time
}

// RerankCacheEntry is a cached normalized rerank score, keyed by
// (queryHash, docKey, modelTag).
type RerankCacheEntry struct {
	QueryHash string
	DocKey    string
	ModelTag  string
	Score     float64
	CreatedAt time.Time
}

// ErrDimensionMismatch indicates an embedding's width doesn't match the
// index's configured dimension.
type ErrDimensionMismatch struct {
	Expected int
	Got      int
}

func (e ErrDimensionMismatch) Error() string {
	return fmt.Sprintf("dimension mismatch: expected %d, got %d (reindex required)", e.Expected, e.Got)
}

// VectorStoreConfig configures the vector index, whichever backend is in
// use (sqlite-vec or the HNSW fallback).
type VectorStoreConfig struct {
	Dimensions     int
	Metric         string // "cos" or "l2"
	M              int    // HNSW max connections per layer
	EfConstruction int
	EfSearch       int
}

// DefaultVectorStoreConfig returns sensible defaults for the given width.
func DefaultVectorStoreConfig(dimensions int) VectorStoreConfig {
	return VectorStoreConfig{
		Dimensions:     dimensions,
		Metric:         "cos",
		M:              16,
		EfConstruction: 128,
		EfSearch:       64,
	}
}

// VectorStore is the common interface for a vector index backend. Keys
// are chunk rowids directly: the HNSW fallback index is one more view
// onto the same int64 chunk identity the relational tables and the
// sqlite-vec virtual table use, with no string round-trip in between.
type VectorStore interface {
	Add(ctx context.Context, ids []int64, vectors [][]float32) error
	Search(ctx context.Context, query []float32, k int) ([]*VectorResult, error)
	Delete(ctx context.Context, ids []int64) error
	AllIDs() []int64
	Contains(id int64) bool
	Count() int
	Save(path string) error
	Load(path string) error
	Close() error
}

// VectorResult is a single vector search hit.
type VectorResult struct {
	ID       int64
	Distance float32
	Score    float32
}

// Store is the full set of operations spec.md §4.3 names.
type Store interface {
	// File operations.
	GetFile(ctx context.Context, path string) (*File, error)
	UpsertFile(ctx context.Context, path string, modTime time.Time, contentHash, virtualPath string) (int64, error)
	DeleteFile(ctx context.Context, path string) error
	GetAllFiles(ctx context.Context) ([]*File, error)

	// Collection operations.
	UpsertCollection(ctx context.Context, name string) (int64, error)
	AddFileToCollection(ctx context.Context, fileID, collectionID int64) error
	ClearFileCollections(ctx context.Context, fileID int64) error
	GetFilesByCollection(ctx context.Context, name string) ([]*File, error)

	// Chunk operations.
	InsertChunk(ctx context.Context, c *Chunk, meta FTSMeta) (int64, error)
	DeleteChunksForFile(ctx context.Context, fileID int64) error
	GetChunksByIDs(ctx context.Context, ids []int64) ([]*Chunk, error)
	GetChunkByID(ctx context.Context, id int64) (*Chunk, error)
	GetSurroundingChunks(ctx context.Context, id int64, rangeSize int) ([]*Chunk, error)
	GetAllChunks(ctx context.Context) ([]*Chunk, error)

	// Full-text search.
	SearchFTS(ctx context.Context, query string, limit int) ([]*BM25Result, error)

	// Vector search.
	SearchVector(ctx context.Context, queryEmbedding []float32, limit int) ([]*VectorHit, error)
	IsVectorEnabled() bool
	RebuildVector(ctx context.Context) error

	// Caches.
	GetQueryEmbedding(ctx context.Context, queryText string) ([]float32, bool, error)
	SetQueryEmbedding(ctx context.Context, queryText string, embedding []float32) error
	GetContext(ctx context.Context, key string) (string, bool, error)
	SetContext(ctx context.Context, key, contextPrefix string) error
	GetRerankScore(ctx context.Context, queryHash, docKey, modelTag string) (float64, bool, error)
	SetRerankScore(ctx context.Context, queryHash, docKey, modelTag string, score float64) error
	PruneCaches(ctx context.Context, olderThan time.Duration) error

	// Transactions.
	WithTransaction(ctx context.Context, fn func(ctx context.Context) error) error

	// Maintenance.
	PruneUnseenFiles(ctx context.Context, seenPaths map[string]struct{}) (int, error)
	SweepOrphans(ctx context.Context) error

	Close() error
}
