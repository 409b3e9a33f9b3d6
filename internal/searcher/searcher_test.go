package searcher

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quietloop/memory/internal/spellcorrect"
	"github.com/quietloop/memory/internal/store"
)

type fakeEmbedder struct{}

func (fakeEmbedder) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	return []float32{1, 0, 0, 0}, nil
}

type fakeSpell struct {
	corrected   string
	corrections []spellcorrect.Correction
}

func (f fakeSpell) Correct(ctx context.Context, query string) (string, []spellcorrect.Correction, error) {
	return f.corrected, f.corrections, nil
}

func newSearchTestStore(t *testing.T) *store.SQLiteStore {
	t.Helper()
	s, err := store.Open(":memory:", 4)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestSearch_SurfacesSpellCorrectionAsResponseField(t *testing.T) {
	s := newSearchTestStore(t)
	ctx := context.Background()

	fileID, err := s.UpsertFile(ctx, "/notes/auth.md", time.Now(), "h1", "")
	require.NoError(t, err)
	_, err = s.InsertChunk(ctx, &store.Chunk{
		FileID:      fileID,
		ChunkIndex:  0,
		Content:     "the authentication flow validates a session token",
		LineStart:   1,
		LineEnd:     1,
		ContentHash: "ch1",
		Embedding:   []float32{1, 0, 0, 0},
	}, store.FTSMeta{Filename: "auth.md"})
	require.NoError(t, err)

	spell := fakeSpell{
		corrected:   "authentication",
		corrections: []spellcorrect.Correction{{Original: "autentication", Replacement: "authentication"}},
	}

	searcher := New(s, fakeEmbedder{}, spell, nil)
	resp, err := searcher.Search(ctx, "autentication", Options{})
	require.NoError(t, err)
	require.NotNil(t, resp)

	require.Len(t, resp.Corrections, 1)
	assert.Equal(t, "autentication", resp.Corrections[0].Original)
	assert.Equal(t, "authentication", resp.Corrections[0].Replacement)
	require.NotEmpty(t, resp.Results)
	assert.Contains(t, resp.Results[0].Content, "authentication")
}

func TestSearch_NoCorrectionLeavesCorrectionsEmpty(t *testing.T) {
	s := newSearchTestStore(t)
	ctx := context.Background()

	fileID, err := s.UpsertFile(ctx, "/notes/auth.md", time.Now(), "h1", "")
	require.NoError(t, err)
	_, err = s.InsertChunk(ctx, &store.Chunk{
		FileID:      fileID,
		ChunkIndex:  0,
		Content:     "the authentication flow validates a session token",
		LineStart:   1,
		LineEnd:     1,
		ContentHash: "ch1",
		Embedding:   []float32{1, 0, 0, 0},
	}, store.FTSMeta{Filename: "auth.md"})
	require.NoError(t, err)

	searcher := New(s, fakeEmbedder{}, fakeSpell{corrected: "authentication"}, nil)
	resp, err := searcher.Search(ctx, "authentication", Options{})
	require.NoError(t, err)
	require.NotNil(t, resp)
	assert.Empty(t, resp.Corrections)
	assert.NotEmpty(t, resp.Results)
}

func TestSearch_EmptyQueryReturnsEmptyResponse(t *testing.T) {
	s := newSearchTestStore(t)
	searcher := New(s, fakeEmbedder{}, nil, nil)

	resp, err := searcher.Search(context.Background(), "   ", Options{})
	require.NoError(t, err)
	require.NotNil(t, resp)
	assert.Empty(t, resp.Results)
	assert.Empty(t, resp.Corrections)
}
