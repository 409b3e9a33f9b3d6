package store

import (
	"context"
	"database/sql"
	"fmt"
	"sync"

	sqlite_vec "github.com/asg017/sqlite-vec-go-bindings/cgo"

	"github.com/quietloop/memory/internal/errors"
)

func init() {
	sqlite_vec.Auto()
}

// vectorIndex is the backend-agnostic interface the store uses for
// nearest-neighbor lookups. Two implementations exist: sqliteVecIndex
// (the vec0 virtual table, preferred) and hnswFallbackIndex (an in-memory
// graph used when the sqlite-vec extension cannot be loaded).
type vectorIndex interface {
	Enabled() bool
	AddChunk(ctx context.Context, id int64, embedding []float32) error
	DeleteChunk(ctx context.Context, id int64) error
	SearchChunks(ctx context.Context, query []float32, limit int) ([]*VectorHit, error)
	Rebuild(ctx context.Context, chunks []*Chunk) error
	Close() error
}

// newVectorIndex tries to create the chunks_vec virtual table backed by
// the sqlite-vec extension. If that fails (extension missing from the
// build, or the running SQLite lacks loadable-extension support), it
// falls back to an in-memory HNSW graph persisted alongside the database
// file.
func newVectorIndex(db *sql.DB, dbPath string, dimensions int) (vectorIndex, error) {
	idx, err := newSQLiteVecIndex(db, dimensions)
	if err == nil {
		return idx, nil
	}

	fallback, fallbackErr := newHNSWFallbackIndex(dbPath, dimensions)
	if fallbackErr != nil {
		return nil, fmt.Errorf("sqlite-vec unavailable (%v) and HNSW fallback failed: %w", err, fallbackErr)
	}
	return fallback, nil
}

// sqliteVecIndex stores chunk embeddings in a vec0 virtual table keyed by
// chunk rowid.
type sqliteVecIndex struct {
	db         *sql.DB
	dimensions int
}

func newSQLiteVecIndex(db *sql.DB, dimensions int) (*sqliteVecIndex, error) {
	ddl := fmt.Sprintf(
		`CREATE VIRTUAL TABLE IF NOT EXISTS chunks_vec USING vec0(embedding float[%d])`,
		dimensions,
	)
	if _, err := db.Exec(ddl); err != nil {
		return nil, fmt.Errorf("create vec0 table: %w", err)
	}
	return &sqliteVecIndex{db: db, dimensions: dimensions}, nil
}

func (v *sqliteVecIndex) Enabled() bool { return true }

// exec returns the transaction carried by ctx, if any, so vector rows are
// written on the same connection as the enclosing WithTransaction.
func (v *sqliteVecIndex) exec(ctx context.Context) execer {
	if tx, ok := ctx.Value(txKey).(*sql.Tx); ok {
		return tx
	}
	return v.db
}

func (v *sqliteVecIndex) AddChunk(ctx context.Context, id int64, embedding []float32) error {
	if len(embedding) != v.dimensions {
		return ErrDimensionMismatch{Expected: v.dimensions, Got: len(embedding)}
	}
	blob, err := sqlite_vec.SerializeFloat32(embedding)
	if err != nil {
		return fmt.Errorf("serialize embedding: %w", err)
	}
	if _, err := v.exec(ctx).ExecContext(ctx,
		`DELETE FROM chunks_vec WHERE rowid = ?`, id); err != nil {
		return fmt.Errorf("clear existing vector row: %w", err)
	}
	if _, err := v.exec(ctx).ExecContext(ctx,
		`INSERT INTO chunks_vec(rowid, embedding) VALUES (?, ?)`, id, blob); err != nil {
		return fmt.Errorf("insert vector row: %w", err)
	}
	return nil
}

func (v *sqliteVecIndex) DeleteChunk(ctx context.Context, id int64) error {
	_, err := v.exec(ctx).ExecContext(ctx, `DELETE FROM chunks_vec WHERE rowid = ?`, id)
	return err
}

func (v *sqliteVecIndex) SearchChunks(ctx context.Context, query []float32, limit int) ([]*VectorHit, error) {
	if len(query) != v.dimensions {
		return nil, ErrDimensionMismatch{Expected: v.dimensions, Got: len(query)}
	}
	blob, err := sqlite_vec.SerializeFloat32(query)
	if err != nil {
		return nil, fmt.Errorf("serialize query embedding: %w", err)
	}

	rows, err := v.db.QueryContext(ctx,
		`SELECT rowid, distance FROM chunks_vec WHERE embedding MATCH ? AND k = ? ORDER BY distance`,
		blob, limit)
	if err != nil {
		return nil, fmt.Errorf("vector search: %w", err)
	}
	defer rows.Close()

	var hits []*VectorHit
	for rows.Next() {
		var id int64
		var dist float64
		if err := rows.Scan(&id, &dist); err != nil {
			return nil, fmt.Errorf("scan vector hit: %w", err)
		}
		hits = append(hits, &VectorHit{ChunkID: id, Distance: float32(dist)})
	}
	return hits, rows.Err()
}

func (v *sqliteVecIndex) Rebuild(ctx context.Context, chunks []*Chunk) error {
	if _, err := v.db.ExecContext(ctx, `DELETE FROM chunks_vec`); err != nil {
		return fmt.Errorf("clear vector table: %w", err)
	}
	for _, c := range chunks {
		if len(c.Embedding) == 0 {
			continue
		}
		if err := v.AddChunk(ctx, c.ID, c.Embedding); err != nil {
			return err
		}
	}
	return nil
}

func (v *sqliteVecIndex) Close() error { return nil }

// hnswFallbackIndex wraps the pure Go HNSW graph when the vec0 extension
// isn't available. It persists to <dbPath>.hnsw alongside the database.
type hnswFallbackIndex struct {
	mu    sync.Mutex
	graph *HNSWStore
	path  string
}

func newHNSWFallbackIndex(dbPath string, dimensions int) (*hnswFallbackIndex, error) {
	graph, err := NewHNSWStore(DefaultVectorStoreConfig(dimensions))
	if err != nil {
		return nil, err
	}
	path := dbPath + ".hnsw"
	if dbPath != "" && dbPath != ":memory:" {
		if err := graph.Load(path); err != nil {
			// Fresh store: no persisted graph yet, that's fine.
			_ = err
		}
	}
	return &hnswFallbackIndex{graph: graph, path: path}, nil
}

func (h *hnswFallbackIndex) Enabled() bool { return false }

func (h *hnswFallbackIndex) AddChunk(ctx context.Context, id int64, embedding []float32) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.graph.Add(ctx, []int64{id}, [][]float32{embedding})
}

func (h *hnswFallbackIndex) DeleteChunk(ctx context.Context, id int64) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.graph.Delete(ctx, []int64{id})
}

func (h *hnswFallbackIndex) SearchChunks(ctx context.Context, query []float32, limit int) ([]*VectorHit, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	results, err := h.graph.Search(ctx, query, limit)
	if err != nil {
		return nil, err
	}
	hits := make([]*VectorHit, 0, len(results))
	for _, r := range results {
		hits = append(hits, &VectorHit{ChunkID: r.ID, Distance: r.Distance})
	}
	return hits, nil
}

func (h *hnswFallbackIndex) Rebuild(ctx context.Context, chunks []*Chunk) error {
	h.mu.Lock()
	graph, err := NewHNSWStore(h.graph.config)
	h.mu.Unlock()
	if err != nil {
		return err
	}

	ids := make([]int64, 0, len(chunks))
	vectors := make([][]float32, 0, len(chunks))
	for _, c := range chunks {
		if len(c.Embedding) == 0 {
			continue
		}
		ids = append(ids, c.ID)
		vectors = append(vectors, c.Embedding)
	}
	if err := graph.Add(ctx, ids, vectors); err != nil {
		return err
	}

	h.mu.Lock()
	h.graph = graph
	h.mu.Unlock()
	return nil
}

func (h *hnswFallbackIndex) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.path != "" {
		if err := h.graph.Save(h.path); err != nil {
			return errors.Wrap(errors.KindStoreCorruption, err)
		}
	}
	return h.graph.Close()
}
