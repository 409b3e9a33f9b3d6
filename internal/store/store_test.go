package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := Open(":memory:", 4)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestUpsertFile_ThenGetFile_RoundTrips(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	now := time.Now().Truncate(time.Second)
	id, err := s.UpsertFile(ctx, "/notes/today.md", now, "hash1", "")
	require.NoError(t, err)
	assert.NotZero(t, id)

	f, err := s.GetFile(ctx, "/notes/today.md")
	require.NoError(t, err)
	require.NotNil(t, f)
	assert.Equal(t, "hash1", f.ContentHash)
	assert.Equal(t, now.Unix(), f.ModTime.Unix())
}

func TestUpsertFile_SamePathUpdatesInPlace(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	now := time.Now()
	id1, err := s.UpsertFile(ctx, "/notes/today.md", now, "hash1", "")
	require.NoError(t, err)

	id2, err := s.UpsertFile(ctx, "/notes/today.md", now.Add(time.Hour), "hash2", "")
	require.NoError(t, err)
	assert.Equal(t, id1, id2)

	f, err := s.GetFile(ctx, "/notes/today.md")
	require.NoError(t, err)
	assert.Equal(t, "hash2", f.ContentHash)
}

func TestDeleteFile_CascadesChunksAndFTS(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	fileID, err := s.UpsertFile(ctx, "/notes/a.md", time.Now(), "h", "")
	require.NoError(t, err)

	chunkID, err := s.InsertChunk(ctx, &Chunk{
		FileID:      fileID,
		ChunkIndex:  0,
		Content:     "remember to buy milk",
		LineStart:   1,
		LineEnd:     1,
		ContentHash: "ch1",
	}, FTSMeta{Filename: "a.md"})
	require.NoError(t, err)

	require.NoError(t, s.DeleteFile(ctx, "/notes/a.md"))

	c, err := s.GetChunkByID(ctx, chunkID)
	require.NoError(t, err)
	assert.Nil(t, c)

	results, err := s.SearchFTS(ctx, "milk", 10)
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestInsertChunk_SearchFTS_MatchesByContentAndFilename(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	fileID, err := s.UpsertFile(ctx, "/notes/auth-design.md", time.Now(), "h", "")
	require.NoError(t, err)

	_, err = s.InsertChunk(ctx, &Chunk{
		FileID:      fileID,
		ChunkIndex:  0,
		Content:     "the login flow validates the session token",
		LineStart:   1,
		LineEnd:     3,
		ContentHash: "ch1",
	}, FTSMeta{Filename: "auth-design.md", PathTokens: "notes auth design", Headings: "Authentication"})
	require.NoError(t, err)

	results, err := s.SearchFTS(ctx, "session token", 10)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Greater(t, results[0].Score, 0.0)
}

func TestSearchFTS_QuotedPhraseMatchesVerbatim(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	fileID, err := s.UpsertFile(ctx, "/notes/b.md", time.Now(), "h", "")
	require.NoError(t, err)

	_, err = s.InsertChunk(ctx, &Chunk{
		FileID: fileID, ChunkIndex: 0, Content: "rate limit exceeded error", LineStart: 1, LineEnd: 1, ContentHash: "c1",
	}, FTSMeta{Filename: "b.md"})
	require.NoError(t, err)
	_, err = s.InsertChunk(ctx, &Chunk{
		FileID: fileID, ChunkIndex: 1, Content: "exceeded the rate of requests, limit reached", LineStart: 2, LineEnd: 2, ContentHash: "c2",
	}, FTSMeta{Filename: "b.md"})
	require.NoError(t, err)

	results, err := s.SearchFTS(ctx, `"rate limit"`, 10)
	require.NoError(t, err)
	require.Len(t, results, 1)
}

func TestSearchFTS_FallsBackToFuzzyOnZeroStrictResults(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	fileID, err := s.UpsertFile(ctx, "/notes/c.md", time.Now(), "h", "")
	require.NoError(t, err)
	_, err = s.InsertChunk(ctx, &Chunk{
		FileID: fileID, ChunkIndex: 0, Content: "deployment pipeline failed overnight", LineStart: 1, LineEnd: 1, ContentHash: "c1",
	}, FTSMeta{Filename: "c.md"})
	require.NoError(t, err)

	// "pipeline rollback" has no chunk matching both terms, but "pipeline"
	// alone should surface via the fuzzy OR fallback.
	results, err := s.SearchFTS(ctx, "pipeline rollback", 10)
	require.NoError(t, err)
	require.Len(t, results, 1)
}

func TestGetSurroundingChunks_ReturnsRangeWithinFile(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	fileID, err := s.UpsertFile(ctx, "/notes/d.md", time.Now(), "h", "")
	require.NoError(t, err)

	var ids []int64
	for i := 0; i < 5; i++ {
		id, err := s.InsertChunk(ctx, &Chunk{
			FileID: fileID, ChunkIndex: i, Content: "chunk text", LineStart: i, LineEnd: i, ContentHash: "h",
		}, FTSMeta{Filename: "d.md"})
		require.NoError(t, err)
		ids = append(ids, id)
	}

	surrounding, err := s.GetSurroundingChunks(ctx, ids[2], 1)
	require.NoError(t, err)
	require.Len(t, surrounding, 3)
	assert.Equal(t, 1, surrounding[0].ChunkIndex)
	assert.Equal(t, 3, surrounding[2].ChunkIndex)
}

func TestPruneUnseenFiles_RemovesFilesNotInSeenSet(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, err := s.UpsertFile(ctx, "/notes/keep.md", time.Now(), "h", "")
	require.NoError(t, err)
	_, err = s.UpsertFile(ctx, "/notes/gone.md", time.Now(), "h", "")
	require.NoError(t, err)

	removed, err := s.PruneUnseenFiles(ctx, map[string]struct{}{"/notes/keep.md": {}})
	require.NoError(t, err)
	assert.Equal(t, 1, removed)

	files, err := s.GetAllFiles(ctx)
	require.NoError(t, err)
	require.Len(t, files, 1)
	assert.Equal(t, "/notes/keep.md", files[0].Path)
}

func TestCollections_LinkAndQuery(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	fileID, err := s.UpsertFile(ctx, "/notes/e.md", time.Now(), "h", "")
	require.NoError(t, err)

	collID, err := s.UpsertCollection(ctx, "journal")
	require.NoError(t, err)
	require.NoError(t, s.AddFileToCollection(ctx, fileID, collID))

	files, err := s.GetFilesByCollection(ctx, "journal")
	require.NoError(t, err)
	require.Len(t, files, 1)
	assert.Equal(t, fileID, files[0].ID)

	require.NoError(t, s.ClearFileCollections(ctx, fileID))
	files, err = s.GetFilesByCollection(ctx, "journal")
	require.NoError(t, err)
	assert.Empty(t, files)
}

func TestQueryEmbeddingCache_RoundTrips(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, ok, err := s.GetQueryEmbedding(ctx, "how do I reset my password")
	require.NoError(t, err)
	assert.False(t, ok)

	want := []float32{0.1, 0.2, 0.3, 0.4}
	require.NoError(t, s.SetQueryEmbedding(ctx, "how do I reset my password", want))

	got, ok, err := s.GetQueryEmbedding(ctx, "how do I reset my password")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, want, got)
}

func TestRerankCache_KeyedByQueryDocAndModel(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.SetRerankScore(ctx, "qhash", "12:abc", "bge", 0.75))
	score, ok, err := s.GetRerankScore(ctx, "qhash", "12:abc", "bge")
	require.NoError(t, err)
	require.True(t, ok)
	_ = score

	_, ok, err = s.GetRerankScore(ctx, "qhash", "12:abc", "qwen")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestPruneCaches_RemovesOnlyOldEntries(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.SetContext(ctx, "key1", "prefix text"))
	require.NoError(t, s.PruneCaches(ctx, -time.Hour)) // cutoff in the future: everything is "old"

	_, ok, err := s.GetContext(ctx, "key1")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestWithTransaction_RollsBackOnError(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	err := s.WithTransaction(ctx, func(txCtx context.Context) error {
		_, err := s.UpsertFile(txCtx, "/notes/tx.md", time.Now(), "h", "")
		require.NoError(t, err)
		return assert.AnError
	})
	assert.Error(t, err)

	f, err := s.GetFile(ctx, "/notes/tx.md")
	require.NoError(t, err)
	assert.Nil(t, f)
}

func TestSweepOrphans_RemovesDanglingLinkRows(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	// Simulate a crash mid-cascade: a dangling link row the normal FK
	// cascade would never allow, so foreign key checks are disabled just
	// for this insert.
	_, err := s.db.ExecContext(ctx, `PRAGMA foreign_keys = OFF`)
	require.NoError(t, err)
	_, err = s.db.ExecContext(ctx, `INSERT INTO file_collections(file_id, collection_id) VALUES (999, 1)`)
	require.NoError(t, err)
	_, err = s.db.ExecContext(ctx, `PRAGMA foreign_keys = ON`)
	require.NoError(t, err)

	require.NoError(t, s.SweepOrphans(ctx))

	var count int
	require.NoError(t, s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM file_collections`).Scan(&count))
	assert.Zero(t, count)
}
