package indexer

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quietloop/memory/internal/contextualizer"
	"github.com/quietloop/memory/internal/store"
)

type fakeEmbedder struct {
	dims  int
	calls int
}

func (f *fakeEmbedder) EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	f.calls++
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = make([]float32, f.dims)
		out[i][0] = 1
	}
	return out, nil
}

func (f *fakeEmbedder) Dimensions() int { return f.dims }

type fakeContextualizer struct {
	calls int
}

func (f *fakeContextualizer) Generate(ctx context.Context, inputs []contextualizer.Input) ([]contextualizer.Result, error) {
	f.calls++
	out := make([]contextualizer.Result, len(inputs))
	for i, in := range inputs {
		out[i] = contextualizer.Result{ChunkID: in.ChunkID, Context: "This chunk discusses the topic at hand."}
	}
	return out, nil
}

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func newTestStore(t *testing.T) *store.SQLiteStore {
	t.Helper()
	s, err := store.Open(":memory:", 4)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

const longBody = `# Topic One

This is a reasonably long paragraph about the first topic so that the chunker keeps it as its own chunk instead of dropping it for being too short. It needs to clear the minimum chunk size.

# Topic Two

This is a second reasonably long paragraph covering a different topic, again padded out so it survives the minimum chunk length check applied during chunking.
`

func TestRun_IndexesNewFiles(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "notes/a.md", longBody)

	s := newTestStore(t)
	embedder := &fakeEmbedder{dims: 4}
	ix := New(s, embedder, nil)

	report, err := ix.Run(context.Background(), Options{
		Sources: []Source{{Collection: "notes", Root: dir}},
	})
	require.NoError(t, err)
	assert.Equal(t, 1, report.Scanned)
	assert.Equal(t, 1, report.Changed)
	assert.Equal(t, 0, report.Skipped)
	assert.True(t, report.ChunksTotal >= 2)

	f, err := s.GetFile(context.Background(), filepath.Join(dir, "notes/a.md"))
	require.NoError(t, err)
	require.NotNil(t, f)

	files, err := s.GetFilesByCollection(context.Background(), "notes")
	require.NoError(t, err)
	assert.Len(t, files, 1)
}

func TestRun_UnchangedMtimeSkipsRechunk(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "a.md", longBody)

	s := newTestStore(t)
	ix := New(s, &fakeEmbedder{dims: 4}, nil)
	ctx := context.Background()
	opts := Options{Sources: []Source{{Collection: "c", Root: dir}}}

	_, err := ix.Run(ctx, opts)
	require.NoError(t, err)

	info, err := os.Stat(path)
	require.NoError(t, err)
	_ = info

	report, err := ix.Run(ctx, opts)
	require.NoError(t, err)
	assert.Equal(t, 0, report.Changed)
	assert.Equal(t, 1, report.Skipped)
}

func TestRun_ContentChangeTriggersRechunk(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "a.md", longBody)

	s := newTestStore(t)
	ix := New(s, &fakeEmbedder{dims: 4}, nil)
	ctx := context.Background()
	opts := Options{Sources: []Source{{Collection: "c", Root: dir}}}

	_, err := ix.Run(ctx, opts)
	require.NoError(t, err)

	// Force content + mtime change.
	time.Sleep(10 * time.Millisecond)
	require.NoError(t, os.WriteFile(path, []byte(longBody+"\nMore text so the hash changes too, padded for length.\n"), 0o644))
	newTime := time.Now().Add(time.Minute)
	require.NoError(t, os.Chtimes(path, newTime, newTime))

	report, err := ix.Run(ctx, opts)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Changed)
}

func TestRun_PruneRemovesMissingFiles(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "a.md", longBody)

	s := newTestStore(t)
	ix := New(s, &fakeEmbedder{dims: 4}, nil)
	ctx := context.Background()
	opts := Options{Sources: []Source{{Collection: "c", Root: dir}}, Prune: true}

	_, err := ix.Run(ctx, opts)
	require.NoError(t, err)

	require.NoError(t, os.Remove(path))

	report, err := ix.Run(ctx, opts)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Pruned)

	f, err := s.GetFile(ctx, path)
	require.NoError(t, err)
	assert.Nil(t, f)
}

func TestRun_DryRunDoesNotMutateStore(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "a.md", longBody)

	s := newTestStore(t)
	ix := New(s, &fakeEmbedder{dims: 4}, nil)
	ctx := context.Background()

	report, err := ix.Run(ctx, Options{
		Sources: []Source{{Collection: "c", Root: dir}},
		DryRun:  true,
	})
	require.NoError(t, err)
	assert.Equal(t, 1, report.Changed)
	assert.True(t, report.ChunksTotal > 0)

	files, err := s.GetAllFiles(ctx)
	require.NoError(t, err)
	assert.Len(t, files, 0)
}

func TestRun_ContextualizerPrefixesPersistedOnChunks(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "a.md", longBody)

	s := newTestStore(t)
	ctxGen := &fakeContextualizer{}
	ix := New(s, &fakeEmbedder{dims: 4}, ctxGen)

	_, err := ix.Run(context.Background(), Options{
		Sources:       []Source{{Collection: "c", Root: dir}},
		Contextualize: true,
	})
	require.NoError(t, err)
	assert.True(t, ctxGen.calls > 0)

	chunks, err := s.GetAllChunks(context.Background())
	require.NoError(t, err)
	require.NotEmpty(t, chunks)
	assert.NotEmpty(t, chunks[0].ContextPrefix)
}

func TestRun_IgnorePatternExcludesFile(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "keep.md", longBody)
	writeFile(t, dir, "vendor/skip.md", longBody)

	s := newTestStore(t)
	ix := New(s, &fakeEmbedder{dims: 4}, nil)

	report, err := ix.Run(context.Background(), Options{
		Sources: []Source{{Collection: "c", Root: dir, Ignore: []string{"vendor/**"}}},
	})
	require.NoError(t, err)
	assert.Equal(t, 1, report.Scanned)
}

func TestRun_RequestShutdownStopsBeforeNextFile(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "a.md", longBody)
	writeFile(t, dir, "b.md", longBody)

	s := newTestStore(t)
	ix := New(s, &fakeEmbedder{dims: 4}, nil)
	ix.RequestShutdown()

	report, err := ix.Run(context.Background(), Options{
		Sources: []Source{{Collection: "c", Root: dir}},
	})
	require.NoError(t, err)
	assert.Equal(t, 0, report.ChunksTotal)
}

func TestMatchesIgnore_MatchesDoubleStarSuffixAndPlainGlob(t *testing.T) {
	assert.True(t, matchesIgnore("vendor/lib/a.md", []string{"vendor/**"}))
	assert.False(t, matchesIgnore("src/vendor-notes.md", []string{"vendor/**"}))
	assert.True(t, matchesIgnore("draft.md", []string{"*.md"}))
	assert.True(t, matchesIgnore("deep/nested/draft.md", []string{"**/draft.md"}))
}
