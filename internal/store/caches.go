package store

import (
	"context"
	"database/sql"
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"time"
)

func encodeEmbedding(vec []float32) []byte {
	buf := make([]byte, 4*len(vec))
	for i, f := range vec {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(f))
	}
	return buf
}

func decodeEmbedding(buf []byte) []float32 {
	vec := make([]float32, len(buf)/4)
	for i := range vec {
		vec[i] = math.Float32frombits(binary.LittleEndian.Uint32(buf[i*4:]))
	}
	return vec
}

// GetQueryEmbedding looks up a cached embedding for raw query text.
func (s *SQLiteStore) GetQueryEmbedding(ctx context.Context, queryText string) ([]float32, bool, error) {
	var blob []byte
	err := s.db.QueryRowContext(ctx,
		`SELECT embedding FROM query_embedding_cache WHERE query_text = ?`, queryText).Scan(&blob)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("get query embedding: %w", err)
	}
	return decodeEmbedding(blob), true, nil
}

// SetQueryEmbedding stores the embedding for a raw query string.
func (s *SQLiteStore) SetQueryEmbedding(ctx context.Context, queryText string, embedding []float32) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO query_embedding_cache(query_text, embedding, created_at) VALUES (?, ?, ?)
		 ON CONFLICT(query_text) DO UPDATE SET embedding = excluded.embedding, created_at = excluded.created_at`,
		queryText, encodeEmbedding(embedding), nowUnix())
	if err != nil {
		return fmt.Errorf("set query embedding: %w", err)
	}
	return nil
}

// GetContext looks up a cached context prefix by its composite content hash.
func (s *SQLiteStore) GetContext(ctx context.Context, key string) (string, bool, error) {
	var prefix string
	err := s.db.QueryRowContext(ctx,
		`SELECT context_prefix FROM context_cache WHERE key = ?`, key).Scan(&prefix)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", false, nil
		}
		return "", false, fmt.Errorf("get context cache: %w", err)
	}
	return prefix, true, nil
}

// SetContext stores a generated context prefix keyed by content hash.
func (s *SQLiteStore) SetContext(ctx context.Context, key, contextPrefix string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO context_cache(key, context_prefix, created_at) VALUES (?, ?, ?)
		 ON CONFLICT(key) DO UPDATE SET context_prefix = excluded.context_prefix, created_at = excluded.created_at`,
		key, contextPrefix, nowUnix())
	if err != nil {
		return fmt.Errorf("set context cache: %w", err)
	}
	return nil
}

// GetRerankScore looks up a cached normalized rerank score.
func (s *SQLiteStore) GetRerankScore(ctx context.Context, queryHash, docKey, modelTag string) (float64, bool, error) {
	var score float64
	err := s.db.QueryRowContext(ctx,
		`SELECT score FROM rerank_cache WHERE query_hash = ? AND doc_key = ? AND model_tag = ?`,
		queryHash, docKey, modelTag).Scan(&score)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, false, nil
		}
		return 0, false, fmt.Errorf("get rerank cache: %w", err)
	}
	return score, true, nil
}

// SetRerankScore stores a normalized rerank score.
func (s *SQLiteStore) SetRerankScore(ctx context.Context, queryHash, docKey, modelTag string, score float64) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO rerank_cache(query_hash, doc_key, model_tag, score, created_at) VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT(query_hash, doc_key, model_tag) DO UPDATE SET score = excluded.score, created_at = excluded.created_at`,
		queryHash, docKey, modelTag, score, nowUnix())
	if err != nil {
		return fmt.Errorf("set rerank cache: %w", err)
	}
	return nil
}

// PruneCaches deletes entries older than olderThan from all three caches.
func (s *SQLiteStore) PruneCaches(ctx context.Context, olderThan time.Duration) error {
	cutoff := nowUnix() - int64(olderThan/time.Second)
	tables := []string{"query_embedding_cache", "context_cache", "rerank_cache"}
	for _, t := range tables {
		if _, err := s.db.ExecContext(ctx,
			fmt.Sprintf(`DELETE FROM %s WHERE created_at < ?`, t), cutoff); err != nil {
			return fmt.Errorf("prune %s: %w", t, err)
		}
	}
	return nil
}
