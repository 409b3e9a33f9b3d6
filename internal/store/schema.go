package store

import (
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/quietloop/memory/internal/errors"
)

// CurrentSchemaVersion is the schema_state.version this package migrates
// forward to. Bump it when adding a migration below; existing databases
// are migrated additively in place, never rejected (spec.md §4.3, §6).
const CurrentSchemaVersion = 2

// coreSchema creates every table and virtual table the store needs
// except chunks_vec, which is created separately depending on whether
// the sqlite-vec extension loaded (see vector.go).
const coreSchema = `
CREATE TABLE IF NOT EXISTS schema_state (
	version INTEGER PRIMARY KEY
);

CREATE TABLE IF NOT EXISTS files (
	id           INTEGER PRIMARY KEY,
	path         TEXT NOT NULL UNIQUE,
	mod_time     INTEGER NOT NULL,
	content_hash TEXT NOT NULL,
	indexed_at   INTEGER NOT NULL,
	virtual_path TEXT
);

CREATE TABLE IF NOT EXISTS collections (
	id         INTEGER PRIMARY KEY,
	name       TEXT NOT NULL UNIQUE,
	created_at INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS file_collections (
	file_id       INTEGER NOT NULL REFERENCES files(id) ON DELETE CASCADE,
	collection_id INTEGER NOT NULL REFERENCES collections(id) ON DELETE CASCADE,
	PRIMARY KEY (file_id, collection_id)
);

CREATE TABLE IF NOT EXISTS sessions (
	id               TEXT PRIMARY KEY,
	started_at       INTEGER NOT NULL,
	project_path     TEXT NOT NULL,
	summary          TEXT,
	capture_counter  INTEGER NOT NULL DEFAULT 0,
	prompt_counter   INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS chunks (
	id                      INTEGER PRIMARY KEY,
	file_id                 INTEGER NOT NULL REFERENCES files(id) ON DELETE CASCADE,
	chunk_index             INTEGER NOT NULL,
	content                 TEXT NOT NULL,
	line_start              INTEGER NOT NULL,
	line_end                INTEGER NOT NULL,
	content_hash            TEXT NOT NULL,
	embedding               BLOB,
	context_prefix          TEXT
);

CREATE INDEX IF NOT EXISTS idx_chunks_file_id ON chunks(file_id);

-- Contentless FTS5 mirror. rowid is kept equal to chunks.id so a hit can
-- be joined straight back onto the chunks table.
CREATE VIRTUAL TABLE IF NOT EXISTS chunks_fts USING fts5(
	content,
	filename,
	path_tokens,
	headings,
	content='',
	contentless_delete=1,
	tokenize='porter unicode61'
);

-- fts5vocab mirror exposing chunks_fts's indexed terms, used by the spell
-- corrector's vocabulary lookup.
CREATE VIRTUAL TABLE IF NOT EXISTS chunks_vocab USING fts5vocab(chunks_fts, 'row');

CREATE TABLE IF NOT EXISTS query_embedding_cache (
	query_text TEXT PRIMARY KEY,
	embedding  BLOB NOT NULL,
	created_at INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS context_cache (
	key            TEXT PRIMARY KEY,
	context_prefix TEXT NOT NULL,
	created_at     INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS rerank_cache (
	query_hash TEXT NOT NULL,
	doc_key    TEXT NOT NULL,
	model_tag  TEXT NOT NULL,
	score      REAL NOT NULL,
	created_at INTEGER NOT NULL,
	PRIMARY KEY (query_hash, doc_key, model_tag)
);

INSERT INTO schema_state (version) SELECT 1 WHERE NOT EXISTS (SELECT 1 FROM schema_state);
`

// ftsColumnWeights are the BM25 column weights applied to chunks_fts,
// matching column declaration order (content, filename, path_tokens,
// headings). A filename hit counts for four content hits.
var ftsColumnWeights = [4]float64{1.0, 4.0, 2.0, 3.0}

// migration is one additive schema step: a set of DDL statements applied
// when an existing database's schema_state.version is below version.
// Statements are ALTER TABLE ADD COLUMN (no IF NOT EXISTS support in
// SQLite), so re-running one against a database that already has the
// column (its version bump was never recorded) fails with "duplicate
// column name", which is expected and ignored (spec.md §4.3, §6).
type migration struct {
	version    int
	statements []string
}

// additiveMigrations carries the schema forward from version 1 (the
// original files/chunks/collections/sessions/caches core) without ever
// rejecting an older database. Version 2 adds the chunk observation and
// session-association columns described in SPEC_FULL.md's data model.
var additiveMigrations = []migration{
	{
		version: 2,
		statements: []string{
			`ALTER TABLE chunks ADD COLUMN observation_type TEXT`,
			`ALTER TABLE chunks ADD COLUMN observation_concepts TEXT`,
			`ALTER TABLE chunks ADD COLUMN observation_references TEXT`,
			`ALTER TABLE chunks ADD COLUMN session_id TEXT`,
			`CREATE INDEX IF NOT EXISTS idx_chunks_session_id ON chunks(session_id)`,
		},
	},
}

// isDuplicateColumnError reports whether err is SQLite's response to an
// ALTER TABLE ADD COLUMN that has already been applied.
func isDuplicateColumnError(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "duplicate column name")
}

// validateIntegrity checks an existing database file before opening it.
// Returns nil if the path doesn't exist yet (fresh store) or passes the
// SQLite integrity check.
func validateIntegrity(path string) error {
	if path == "" || path == ":memory:" {
		return nil
	}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil
	}

	db, err := sql.Open("sqlite3", path+"?mode=ro")
	if err != nil {
		return fmt.Errorf("open for validation: %w", err)
	}
	defer db.Close()

	var result string
	if err := db.QueryRow("PRAGMA integrity_check").Scan(&result); err != nil {
		return fmt.Errorf("integrity check: %w", err)
	}
	if result != "ok" {
		return errors.StoreCorruption("database integrity check failed", fmt.Errorf("result: %s", result)).
			WithDetail("path", path)
	}
	return nil
}

func initSchema(db *sql.DB) error {
	if _, err := db.Exec(coreSchema); err != nil {
		return fmt.Errorf("init core schema: %w", err)
	}

	var version int
	if err := db.QueryRow("SELECT version FROM schema_state LIMIT 1").Scan(&version); err != nil {
		return fmt.Errorf("read schema version: %w", err)
	}

	highest := version
	for _, m := range additiveMigrations {
		if m.version <= version {
			continue
		}
		applyMigration(db, m)
		if m.version > highest {
			highest = m.version
		}
	}

	if highest != version {
		if _, err := db.Exec("UPDATE schema_state SET version = ?", highest); err != nil {
			return fmt.Errorf("record schema version %d: %w", highest, err)
		}
	}
	return nil
}

// applyMigration runs one migration's statements idempotently. A
// duplicate-column failure means the migration already landed and is
// silently ignored; any other DDL failure is logged and the store keeps
// running with whatever degraded functionality results (spec.md §6).
func applyMigration(db *sql.DB, m migration) {
	for _, stmt := range m.statements {
		if _, err := db.Exec(stmt); err != nil {
			if isDuplicateColumnError(err) {
				continue
			}
			slog.Warn("schema migration statement failed, continuing with degraded functionality",
				slog.Int("migration_version", m.version),
				slog.String("statement", stmt),
				slog.String("error", err.Error()))
		}
	}
}
