package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/quietloop/memory/internal/errors"
)

// SQLiteStore is the Store implementation backed by a single SQLite
// database file: relational tables for files/chunks/collections/sessions,
// an FTS5 mirror for lexical search, and a pluggable vector index for
// semantic search.
//
// The single-writer invariant is enforced by the underlying *sql.DB,
// which is capped at one open connection (see Open): BeginTx blocks
// until that connection is free, so write transactions already
// serialize without any additional locking here. stateMu guards only
// the vector/closed fields, set at most once after Open.
type SQLiteStore struct {
	stateMu sync.RWMutex
	db      *sql.DB
	path    string
	vector  vectorIndex
	closed  bool
	lock    *WriterLock
}

var _ Store = (*SQLiteStore)(nil)

// Open creates or opens the store at path. dimensions is the embedding
// width; pass 0 to defer vector index creation until the first chunk with
// an embedding is inserted (auto-detect mode).
func Open(path string, dimensions int) (*SQLiteStore, error) {
	var lock *WriterLock

	if path != "" && path != ":memory:" {
		if err := validateIntegrity(path); err != nil {
			return nil, err
		}
		dir := filepath.Dir(path)
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create store directory: %w", err)
		}

		lock = NewWriterLock(path)
		acquired, err := lock.TryLock()
		if err != nil {
			return nil, fmt.Errorf("acquire writer lock: %w", err)
		}
		if !acquired {
			return nil, fmt.Errorf("store at %q is already open for writing by another process", path)
		}
	}

	dsn := path
	if path != "" && path != ":memory:" {
		dsn = path + "?_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=5000"
	}

	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		if lock != nil {
			_ = lock.Unlock()
		}
		return nil, fmt.Errorf("open database: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA cache_size = -65536",
		"PRAGMA temp_store = MEMORY",
		"PRAGMA foreign_keys = ON",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			_ = db.Close()
			if lock != nil {
				_ = lock.Unlock()
			}
			return nil, fmt.Errorf("set pragma %q: %w", p, err)
		}
	}

	if err := initSchema(db); err != nil {
		_ = db.Close()
		if lock != nil {
			_ = lock.Unlock()
		}
		return nil, err
	}

	s := &SQLiteStore{db: db, path: path, lock: lock}

	if dimensions > 0 {
		idx, err := newVectorIndex(db, path, dimensions)
		if err != nil {
			_ = db.Close()
			if lock != nil {
				_ = lock.Unlock()
			}
			return nil, err
		}
		s.vector = idx
	}

	return s, nil
}

// EnsureVectorIndex lazily creates the vector index once the embedding
// dimension is known (auto-detect mode from the first embedded chunk).
func (s *SQLiteStore) EnsureVectorIndex(dimensions int) error {
	s.stateMu.Lock()
	defer s.stateMu.Unlock()
	if s.vector != nil {
		return nil
	}
	idx, err := newVectorIndex(s.db, s.path, dimensions)
	if err != nil {
		return err
	}
	s.vector = idx
	return nil
}

func nowUnix() int64 {
	return time.Now().Unix()
}

// --- executor abstraction for WithTransaction ---

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type txKeyType struct{}

var txKey = txKeyType{}

func (s *SQLiteStore) exec(ctx context.Context) execer {
	if tx, ok := ctx.Value(txKey).(*sql.Tx); ok {
		return tx
	}
	return s.db
}

// WithTransaction runs fn inside a single SQLite transaction. Nested calls
// reuse the outer transaction rather than starting a new one.
func (s *SQLiteStore) WithTransaction(ctx context.Context, fn func(ctx context.Context) error) error {
	if _, ok := ctx.Value(txKey).(*sql.Tx); ok {
		return fn(ctx)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}

	txCtx := context.WithValue(ctx, txKey, tx)
	if err := fn(txCtx); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

// --- file operations ---

func (s *SQLiteStore) GetFile(ctx context.Context, path string) (*File, error) {
	row := s.exec(ctx).QueryRowContext(ctx,
		`SELECT id, path, mod_time, content_hash, indexed_at, virtual_path FROM files WHERE path = ?`, path)
	return scanFile(row)
}

func scanFile(row *sql.Row) (*File, error) {
	var f File
	var modTime, indexedAt int64
	var virtualPath sql.NullString
	if err := row.Scan(&f.ID, &f.Path, &modTime, &f.ContentHash, &indexedAt, &virtualPath); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("scan file: %w", err)
	}
	f.ModTime = time.Unix(modTime, 0)
	f.IndexedAt = time.Unix(indexedAt, 0)
	f.VirtualPath = virtualPath.String
	return &f, nil
}

func (s *SQLiteStore) UpsertFile(ctx context.Context, path string, modTime time.Time, contentHash, virtualPath string) (int64, error) {
	now := nowUnix()
	res, err := s.exec(ctx).ExecContext(ctx,
		`INSERT INTO files(path, mod_time, content_hash, indexed_at, virtual_path) VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT(path) DO UPDATE SET mod_time = excluded.mod_time, content_hash = excluded.content_hash,
		 indexed_at = excluded.indexed_at, virtual_path = excluded.virtual_path`,
		path, modTime.Unix(), contentHash, now, nullableString(virtualPath))
	if err != nil {
		return 0, fmt.Errorf("upsert file: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil || id == 0 {
		f, getErr := s.GetFile(ctx, path)
		if getErr != nil {
			return 0, getErr
		}
		return f.ID, nil
	}
	return id, nil
}

func nullableString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

// DeleteFile removes the file and, since chunks_fts and the vector index
// aren't covered by SQLite's own foreign-key cascade, explicitly clears
// its chunks' FTS and vector rows first.
func (s *SQLiteStore) DeleteFile(ctx context.Context, path string) error {
	f, err := s.GetFile(ctx, path)
	if err != nil {
		return err
	}
	if f == nil {
		return nil
	}

	if err := s.DeleteChunksForFile(ctx, f.ID); err != nil {
		return err
	}

	if _, err := s.exec(ctx).ExecContext(ctx, `DELETE FROM files WHERE path = ?`, path); err != nil {
		return fmt.Errorf("delete file: %w", err)
	}
	return nil
}

func (s *SQLiteStore) GetAllFiles(ctx context.Context) ([]*File, error) {
	rows, err := s.exec(ctx).QueryContext(ctx,
		`SELECT id, path, mod_time, content_hash, indexed_at, virtual_path FROM files ORDER BY path`)
	if err != nil {
		return nil, fmt.Errorf("list files: %w", err)
	}
	defer rows.Close()

	var out []*File
	for rows.Next() {
		var f File
		var modTime, indexedAt int64
		var virtualPath sql.NullString
		if err := rows.Scan(&f.ID, &f.Path, &modTime, &f.ContentHash, &indexedAt, &virtualPath); err != nil {
			return nil, fmt.Errorf("scan file: %w", err)
		}
		f.ModTime = time.Unix(modTime, 0)
		f.IndexedAt = time.Unix(indexedAt, 0)
		f.VirtualPath = virtualPath.String
		out = append(out, &f)
	}
	return out, rows.Err()
}

// --- collection operations ---

func (s *SQLiteStore) UpsertCollection(ctx context.Context, name string) (int64, error) {
	_, err := s.exec(ctx).ExecContext(ctx,
		`INSERT INTO collections(name, created_at) VALUES (?, ?) ON CONFLICT(name) DO NOTHING`,
		name, nowUnix())
	if err != nil {
		return 0, fmt.Errorf("upsert collection: %w", err)
	}
	var id int64
	if err := s.exec(ctx).QueryRowContext(ctx,
		`SELECT id FROM collections WHERE name = ?`, name).Scan(&id); err != nil {
		return 0, fmt.Errorf("read back collection id: %w", err)
	}
	return id, nil
}

func (s *SQLiteStore) AddFileToCollection(ctx context.Context, fileID, collectionID int64) error {
	_, err := s.exec(ctx).ExecContext(ctx,
		`INSERT INTO file_collections(file_id, collection_id) VALUES (?, ?) ON CONFLICT DO NOTHING`,
		fileID, collectionID)
	if err != nil {
		return fmt.Errorf("add file to collection: %w", err)
	}
	return nil
}

func (s *SQLiteStore) ClearFileCollections(ctx context.Context, fileID int64) error {
	_, err := s.exec(ctx).ExecContext(ctx,
		`DELETE FROM file_collections WHERE file_id = ?`, fileID)
	if err != nil {
		return fmt.Errorf("clear file collections: %w", err)
	}
	return nil
}

func (s *SQLiteStore) GetFilesByCollection(ctx context.Context, name string) ([]*File, error) {
	rows, err := s.exec(ctx).QueryContext(ctx, `
		SELECT f.id, f.path, f.mod_time, f.content_hash, f.indexed_at, f.virtual_path
		FROM files f
		JOIN file_collections fc ON fc.file_id = f.id
		JOIN collections c ON c.id = fc.collection_id
		WHERE c.name = ?
		ORDER BY f.path`, name)
	if err != nil {
		return nil, fmt.Errorf("list files by collection: %w", err)
	}
	defer rows.Close()

	var out []*File
	for rows.Next() {
		var f File
		var modTime, indexedAt int64
		var virtualPath sql.NullString
		if err := rows.Scan(&f.ID, &f.Path, &modTime, &f.ContentHash, &indexedAt, &virtualPath); err != nil {
			return nil, fmt.Errorf("scan file: %w", err)
		}
		f.ModTime = time.Unix(modTime, 0)
		f.IndexedAt = time.Unix(indexedAt, 0)
		f.VirtualPath = virtualPath.String
		out = append(out, &f)
	}
	return out, rows.Err()
}

// --- chunk operations ---

// InsertChunk inserts the chunk row, its FTS mirror row, and (if an
// embedding is present) its vector row, all keyed by the new chunk id.
func (s *SQLiteStore) InsertChunk(ctx context.Context, c *Chunk, meta FTSMeta) (int64, error) {
	var obsType, obsConcepts, obsRefs any
	if c.Observation != nil {
		obsType = c.Observation.Type
		if b, err := json.Marshal(c.Observation.Concepts); err == nil {
			obsConcepts = string(b)
		}
		if b, err := json.Marshal(c.Observation.References); err == nil {
			obsRefs = string(b)
		}
	}

	var embeddingBlob any
	if len(c.Embedding) > 0 {
		embeddingBlob = encodeEmbedding(c.Embedding)
	}

	res, err := s.exec(ctx).ExecContext(ctx, `
		INSERT INTO chunks(file_id, chunk_index, content, line_start, line_end, content_hash,
			embedding, context_prefix, observation_type, observation_concepts, observation_references, session_id)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		c.FileID, c.ChunkIndex, c.Content, c.LineStart, c.LineEnd, c.ContentHash,
		embeddingBlob, nullableString(c.ContextPrefix), obsType, obsConcepts, obsRefs, nullableString(c.SessionID))
	if err != nil {
		return 0, fmt.Errorf("insert chunk: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("read chunk id: %w", err)
	}

	if _, err := s.exec(ctx).ExecContext(ctx,
		`INSERT INTO chunks_fts(rowid, content, filename, path_tokens, headings) VALUES (?, ?, ?, ?, ?)`,
		id, c.Content, meta.Filename, meta.PathTokens, meta.Headings); err != nil {
		return 0, fmt.Errorf("insert fts row: %w", err)
	}

	if len(c.Embedding) > 0 {
		s.stateMu.RLock()
		idx := s.vector
		s.stateMu.RUnlock()
		if idx != nil {
			if err := idx.AddChunk(ctx, id, c.Embedding); err != nil {
				return 0, fmt.Errorf("insert vector row: %w", err)
			}
		}
	}

	return id, nil
}

func (s *SQLiteStore) DeleteChunksForFile(ctx context.Context, fileID int64) error {
	rows, err := s.exec(ctx).QueryContext(ctx, `SELECT id FROM chunks WHERE file_id = ?`, fileID)
	if err != nil {
		return fmt.Errorf("list chunks for deletion: %w", err)
	}
	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return fmt.Errorf("scan chunk id: %w", err)
		}
		ids = append(ids, id)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return err
	}

	if _, err := s.exec(ctx).ExecContext(ctx, `DELETE FROM chunks WHERE file_id = ?`, fileID); err != nil {
		return fmt.Errorf("delete chunks: %w", err)
	}

	for _, id := range ids {
		if _, err := s.exec(ctx).ExecContext(ctx, `DELETE FROM chunks_fts WHERE rowid = ?`, id); err != nil {
			return fmt.Errorf("delete fts row: %w", err)
		}
	}

	s.stateMu.RLock()
	idx := s.vector
	s.stateMu.RUnlock()
	if idx != nil {
		for _, id := range ids {
			if err := idx.DeleteChunk(ctx, id); err != nil {
				return fmt.Errorf("delete vector row: %w", err)
			}
		}
	}
	return nil
}

func scanChunkRows(rows *sql.Rows) ([]*Chunk, error) {
	var out []*Chunk
	for rows.Next() {
		c, err := scanChunkRow(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanChunkRow(row rowScanner) (*Chunk, error) {
	var c Chunk
	var embedding []byte
	var contextPrefix, obsType, obsConcepts, obsRefs, sessionID sql.NullString

	if err := row.Scan(&c.ID, &c.FileID, &c.ChunkIndex, &c.Content, &c.LineStart, &c.LineEnd,
		&c.ContentHash, &embedding, &contextPrefix, &obsType, &obsConcepts, &obsRefs, &sessionID); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("scan chunk: %w", err)
	}

	if len(embedding) > 0 {
		c.Embedding = decodeEmbedding(embedding)
	}
	c.ContextPrefix = contextPrefix.String
	c.SessionID = sessionID.String

	if obsType.Valid {
		obs := &Observation{Type: obsType.String}
		if obsConcepts.Valid {
			_ = json.Unmarshal([]byte(obsConcepts.String), &obs.Concepts)
		}
		if obsRefs.Valid {
			_ = json.Unmarshal([]byte(obsRefs.String), &obs.References)
		}
		c.Observation = obs
	}

	return &c, nil
}

const chunkSelectColumns = `id, file_id, chunk_index, content, line_start, line_end, content_hash,
	embedding, context_prefix, observation_type, observation_concepts, observation_references, session_id`

func (s *SQLiteStore) GetChunksByIDs(ctx context.Context, ids []int64) ([]*Chunk, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	placeholders := make([]string, len(ids))
	args := make([]any, len(ids))
	for i, id := range ids {
		placeholders[i] = "?"
		args[i] = id
	}
	query := fmt.Sprintf(`SELECT %s FROM chunks WHERE id IN (%s)`, chunkSelectColumns, strings.Join(placeholders, ","))
	rows, err := s.exec(ctx).QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("get chunks by ids: %w", err)
	}
	defer rows.Close()
	return scanChunkRows(rows)
}

func (s *SQLiteStore) GetChunkByID(ctx context.Context, id int64) (*Chunk, error) {
	query := fmt.Sprintf(`SELECT %s FROM chunks WHERE id = ?`, chunkSelectColumns)
	row := s.exec(ctx).QueryRowContext(ctx, query, id)
	return scanChunkRow(row)
}

// GetSurroundingChunks returns the chunks within rangeSize positions
// (by chunk_index, within the same file) of the given chunk, inclusive.
func (s *SQLiteStore) GetSurroundingChunks(ctx context.Context, id int64, rangeSize int) ([]*Chunk, error) {
	center, err := s.GetChunkByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if center == nil {
		return nil, errors.InputValidation("chunk not found", nil).WithDetail("chunk_id", fmt.Sprint(id))
	}

	query := fmt.Sprintf(`SELECT %s FROM chunks WHERE file_id = ? AND chunk_index BETWEEN ? AND ? ORDER BY chunk_index`,
		chunkSelectColumns)
	rows, err := s.exec(ctx).QueryContext(ctx, query,
		center.FileID, center.ChunkIndex-rangeSize, center.ChunkIndex+rangeSize)
	if err != nil {
		return nil, fmt.Errorf("get surrounding chunks: %w", err)
	}
	defer rows.Close()
	return scanChunkRows(rows)
}

func (s *SQLiteStore) GetAllChunks(ctx context.Context) ([]*Chunk, error) {
	query := fmt.Sprintf(`SELECT %s FROM chunks ORDER BY file_id, chunk_index`, chunkSelectColumns)
	rows, err := s.exec(ctx).QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("get all chunks: %w", err)
	}
	defer rows.Close()
	return scanChunkRows(rows)
}

// --- vector operations ---

func (s *SQLiteStore) SearchVector(ctx context.Context, queryEmbedding []float32, limit int) ([]*VectorHit, error) {
	s.stateMu.RLock()
	idx := s.vector
	s.stateMu.RUnlock()
	if idx == nil {
		return nil, errors.SchemaAbsent("vector index not initialized", nil)
	}
	return idx.SearchChunks(ctx, queryEmbedding, limit)
}

func (s *SQLiteStore) IsVectorEnabled() bool {
	s.stateMu.RLock()
	defer s.stateMu.RUnlock()
	return s.vector != nil && s.vector.Enabled()
}

func (s *SQLiteStore) RebuildVector(ctx context.Context) error {
	chunks, err := s.GetAllChunks(ctx)
	if err != nil {
		return err
	}
	s.stateMu.RLock()
	idx := s.vector
	s.stateMu.RUnlock()
	if idx == nil {
		return errors.SchemaAbsent("vector index not initialized", nil)
	}
	return idx.Rebuild(ctx, chunks)
}

// --- maintenance ---

// PruneUnseenFiles deletes every tracked file whose path is not in
// seenPaths, cascading to its chunks, FTS rows, and vector rows. Returns
// the number of files removed.
func (s *SQLiteStore) PruneUnseenFiles(ctx context.Context, seenPaths map[string]struct{}) (int, error) {
	files, err := s.GetAllFiles(ctx)
	if err != nil {
		return 0, err
	}
	removed := 0
	for _, f := range files {
		if _, ok := seenPaths[f.Path]; ok {
			continue
		}
		if err := s.DeleteFile(ctx, f.Path); err != nil {
			return removed, err
		}
		removed++
	}
	return removed, nil
}

// SweepOrphans removes FTS rows whose chunk no longer exists and
// file_collections rows whose file no longer exists, a defensive cleanup
// for the case where a crash interrupted a cascade. Vector rows are not
// swept.
func (s *SQLiteStore) SweepOrphans(ctx context.Context) error {
	if _, err := s.exec(ctx).ExecContext(ctx,
		`DELETE FROM chunks_fts WHERE rowid NOT IN (SELECT id FROM chunks)`); err != nil {
		return fmt.Errorf("sweep orphan fts rows: %w", err)
	}
	if _, err := s.exec(ctx).ExecContext(ctx,
		`DELETE FROM file_collections WHERE file_id NOT IN (SELECT id FROM files)`); err != nil {
		return fmt.Errorf("sweep orphan file_collections rows: %w", err)
	}
	return nil
}

func (s *SQLiteStore) Close() error {
	s.stateMu.Lock()
	defer s.stateMu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true

	if s.vector != nil {
		if err := s.vector.Close(); err != nil {
			return err
		}
	}
	_, _ = s.db.Exec("PRAGMA wal_checkpoint(TRUNCATE)")
	closeErr := s.db.Close()
	if s.lock != nil {
		if err := s.lock.Unlock(); err != nil && closeErr == nil {
			closeErr = err
		}
	}
	return closeErr
}
