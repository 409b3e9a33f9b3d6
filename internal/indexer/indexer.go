package indexer

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/quietloop/memory/internal/chunker"
	"github.com/quietloop/memory/internal/contextualizer"
	"github.com/quietloop/memory/internal/embedclient"
	"github.com/quietloop/memory/internal/hashpath"
	"github.com/quietloop/memory/internal/store"
)

// Indexer scans configured sources, chunks and embeds what changed, and
// commits the result to the store (spec.md §4.9).
type Indexer struct {
	store          *store.SQLiteStore
	embedder       Embedder
	contextualizer Contextualizer

	shutdown atomic.Bool
}

// New creates an Indexer. contextualizer may be nil to disable
// contextual enrichment regardless of Options.Contextualize.
func New(s *store.SQLiteStore, embedder Embedder, ctxGen Contextualizer) *Indexer {
	return &Indexer{store: s, embedder: embedder, contextualizer: ctxGen}
}

// RequestShutdown asks Run to stop at the next safe boundary (between
// files). It does not cancel in-flight work; pass a cancellable ctx to
// Run for that.
func (ix *Indexer) RequestShutdown() {
	ix.shutdown.Store(true)
}

// workChunk carries a chunker.Chunk plus the per-run state (context
// prefix, embedding) attached before commit.
type workChunk struct {
	chunker.Chunk
	contextPrefix string
	embedding     []float32
}

// pendingFile is one file that needs (re)chunking, carried from the scan
// stage through contextualization, embedding, and commit.
type pendingFile struct {
	scannedFile
	modTime     time.Time
	content     []byte
	contentHash string
	chunks      []workChunk
}

// refreshOnly is a file whose content didn't change; only its collection
// membership (and, on a content-hash match, its row) needs updating.
type refreshOnly struct {
	scannedFile
	modTime      time.Time
	contentHash  string
	updateRow    bool
}

// Run performs one indexing pass with no progress reporting.
func (ix *Indexer) Run(ctx context.Context, opts Options) (*Report, error) {
	return ix.RunWithProgress(ctx, opts, nil)
}

// RunWithProgress is like Run but also emits stage events to progress.
// progress may be nil. When non-nil, the caller must drain it
// concurrently — sends block the indexing goroutine.
func (ix *Indexer) RunWithProgress(ctx context.Context, opts Options, progress chan<- IndexProgress) (*Report, error) {
	opts = opts.withDefaults()
	report := &Report{}

	emit := func(ev IndexProgress) {
		if progress != nil {
			progress <- ev
		}
	}

	// --- scan ---
	emit(IndexProgress{Stage: StageScan, Message: "scanning sources"})
	var allFiles []scannedFile
	for _, src := range opts.Sources {
		files, err := scanSource(src)
		if err != nil {
			return report, fmt.Errorf("scan source %q: %w", src.Root, err)
		}
		allFiles = append(allFiles, files...)
	}
	report.Scanned = len(allFiles)

	seenPaths := make(map[string]struct{}, len(allFiles))
	for _, f := range allFiles {
		seenPaths[f.AbsPath] = struct{}{}
	}

	pending, refreshes, planErrs := ix.planFiles(ctx, allFiles, opts.ScanConcurrency)
	report.Errors += planErrs
	report.Skipped = len(refreshes)
	report.Changed = len(pending)

	if opts.DryRun {
		for _, p := range pending {
			report.ChunksTotal += len(p.chunks)
		}
		if opts.Prune {
			report.Pruned = countUnseen(ix.store, ctx, seenPaths)
		}
		emit(IndexProgress{Stage: StageDone, Message: "dry run complete"})
		return report, nil
	}

	// refresh-only files still need their membership (and, for a
	// content-hash match, row) updated even though nothing is re-chunked.
	for _, r := range refreshes {
		if ix.shutdown.Load() {
			break
		}
		if err := ix.commitRefresh(ctx, r); err != nil {
			slog.Warn("refresh failed", slog.String("path", r.RelPath), slog.String("error", err.Error()))
			report.Errors++
		}
	}

	if len(pending) == 0 {
		if opts.Prune {
			pruned, err := ix.store.PruneUnseenFiles(ctx, seenPaths)
			if err != nil {
				return report, fmt.Errorf("prune unseen files: %w", err)
			}
			report.Pruned = pruned
		}
		emit(IndexProgress{Stage: StageDone, Message: "no changes"})
		return report, nil
	}

	if ix.shutdown.Load() {
		emit(IndexProgress{Stage: StageDone, Message: "shutdown requested"})
		return report, nil
	}

	// --- contextualize ---
	if opts.Contextualize && ix.contextualizer != nil {
		emit(IndexProgress{Stage: StageContextualize, Total: len(pending)})
		ix.contextualizeAll(ctx, pending, opts.ContextConcurrency)
	}

	// --- embed ---
	emit(IndexProgress{Stage: StageEmbed, Total: countChunks(pending)})
	if err := ix.embedAll(ctx, pending); err != nil {
		return report, fmt.Errorf("embed pending chunks: %w", err)
	}

	// --- commit ---
	for i, p := range pending {
		if ix.shutdown.Load() {
			break
		}
		select {
		case <-ctx.Done():
			return report, ctx.Err()
		default:
		}

		emit(IndexProgress{Stage: StageCommit, File: p.RelPath, Current: i + 1, Total: len(pending)})
		if err := ix.commitFile(ctx, p); err != nil {
			slog.Warn("commit failed", slog.String("path", p.RelPath), slog.String("error", err.Error()))
			report.Errors++
			continue
		}
		report.ChunksTotal += len(p.chunks)
	}

	// --- prune ---
	if opts.Prune && !ix.shutdown.Load() {
		emit(IndexProgress{Stage: StagePrune})
		pruned, err := ix.store.PruneUnseenFiles(ctx, seenPaths)
		if err != nil {
			return report, fmt.Errorf("prune unseen files: %w", err)
		}
		report.Pruned = pruned
	}

	emit(IndexProgress{Stage: StageDone})
	return report, nil
}

// planFiles stats and, when needed, reads and chunks every scanned file,
// bounded by concurrency. It returns files needing a full (re)index
// separately from files needing only a membership/row refresh.
func (ix *Indexer) planFiles(ctx context.Context, files []scannedFile, concurrency int) ([]pendingFile, []refreshOnly, int) {
	var mu sync.Mutex
	var pending []pendingFile
	var refreshes []refreshOnly
	var errCount int

	sem := semaphore.NewWeighted(int64(concurrency))
	g, gctx := errgroup.WithContext(ctx)

	for _, f := range files {
		f := f
		if err := sem.Acquire(gctx, 1); err != nil {
			break
		}
		g.Go(func() error {
			defer sem.Release(1)

			p, r, err := ix.planFile(gctx, f)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				slog.Warn("plan failed", slog.String("path", f.RelPath), slog.String("error", err.Error()))
				errCount++
				return nil
			}
			if p != nil {
				pending = append(pending, *p)
			} else if r != nil {
				refreshes = append(refreshes, *r)
			}
			return nil
		})
	}
	_ = g.Wait()

	return pending, refreshes, errCount
}

// planFile decides whether f is unchanged, content-unchanged, or needs a
// full (re)chunk (spec.md §4.9).
func (ix *Indexer) planFile(ctx context.Context, f scannedFile) (*pendingFile, *refreshOnly, error) {
	info, err := os.Stat(f.AbsPath)
	if err != nil {
		return nil, nil, fmt.Errorf("stat: %w", err)
	}
	modTime := info.ModTime().Truncate(time.Second)

	existing, err := ix.store.GetFile(ctx, f.AbsPath)
	if err != nil {
		return nil, nil, fmt.Errorf("look up file: %w", err)
	}

	if existing != nil && existing.ModTime.Equal(modTime) {
		return nil, &refreshOnly{scannedFile: f, modTime: modTime, contentHash: existing.ContentHash}, nil
	}

	content, err := os.ReadFile(f.AbsPath)
	if err != nil {
		return nil, nil, fmt.Errorf("read: %w", err)
	}
	hash := hashpath.ContentHash(content)

	if existing != nil && existing.ContentHash == hash {
		return nil, &refreshOnly{scannedFile: f, modTime: modTime, contentHash: hash, updateRow: true}, nil
	}

	split := chunker.Split(string(content), chunker.Options{FilePath: f.RelPath})
	chunks := make([]workChunk, len(split))
	for i, c := range split {
		chunks[i] = workChunk{Chunk: c}
	}
	return &pendingFile{
		scannedFile: f,
		modTime:     modTime,
		content:     content,
		contentHash: hash,
		chunks:      chunks,
	}, nil, nil
}

func countUnseen(s *store.SQLiteStore, ctx context.Context, seenPaths map[string]struct{}) int {
	all, err := s.GetAllFiles(ctx)
	if err != nil {
		return 0
	}
	count := 0
	for _, f := range all {
		if _, ok := seenPaths[f.Path]; !ok {
			count++
		}
	}
	return count
}

func countChunks(pending []pendingFile) int {
	n := 0
	for _, p := range pending {
		n += len(p.chunks)
	}
	return n
}

// commitRefresh updates collection membership (and, when the content
// hash matched but mtime moved, the file row) without touching chunks.
func (ix *Indexer) commitRefresh(ctx context.Context, r refreshOnly) error {
	return ix.store.WithTransaction(ctx, func(ctx context.Context) error {
		fileID, err := ix.upsertFileRow(ctx, r.scannedFile, r.modTime, r.contentHash)
		if err != nil {
			return err
		}
		return ix.refreshMembership(ctx, fileID, r.Collection)
	})
}

// commitFile persists one (re)chunked file inside a single transaction:
// upsert file, delete prior chunks, insert new chunks with embeddings,
// FTS and vector mirror rows, and collection links (spec.md §4.9).
func (ix *Indexer) commitFile(ctx context.Context, p pendingFile) error {
	return ix.store.WithTransaction(ctx, func(ctx context.Context) error {
		fileID, err := ix.upsertFileRow(ctx, p.scannedFile, p.modTime, p.contentHash)
		if err != nil {
			return err
		}

		if err := ix.store.DeleteChunksForFile(ctx, fileID); err != nil {
			return fmt.Errorf("delete prior chunks: %w", err)
		}

		for idx, c := range p.chunks {
			meta := store.FTSMeta{
				Filename:   p.RelPath,
				PathTokens: strings.Join(store.TokenizeCode(p.RelPath), " "),
				Headings:   strings.Join(c.Headings, " "),
			}
			chunk := &store.Chunk{
				FileID:        fileID,
				ChunkIndex:    idx,
				Content:       c.Content,
				LineStart:     c.LineStart,
				LineEnd:       c.LineEnd,
				ContentHash:   hashpath.ContentHash([]byte(c.Content)),
				ContextPrefix: c.contextPrefix,
				Embedding:     c.embedding,
			}
			if _, err := ix.store.InsertChunk(ctx, chunk, meta); err != nil {
				return fmt.Errorf("insert chunk %d: %w", idx, err)
			}
		}

		return ix.refreshMembership(ctx, fileID, p.Collection)
	})
}

func (ix *Indexer) upsertFileRow(ctx context.Context, f scannedFile, modTime time.Time, contentHash string) (int64, error) {
	virtualPath := hashpath.VirtualPath(f.Collection, f.RelPath)
	return ix.store.UpsertFile(ctx, f.AbsPath, modTime, contentHash, virtualPath)
}

func (ix *Indexer) refreshMembership(ctx context.Context, fileID int64, collection string) error {
	if collection == "" {
		return nil
	}
	if err := ix.store.ClearFileCollections(ctx, fileID); err != nil {
		return fmt.Errorf("clear collections: %w", err)
	}
	collectionID, err := ix.store.UpsertCollection(ctx, collection)
	if err != nil {
		return fmt.Errorf("upsert collection: %w", err)
	}
	if err := ix.store.AddFileToCollection(ctx, fileID, collectionID); err != nil {
		return fmt.Errorf("add file to collection: %w", err)
	}
	return nil
}

// contextualizeAll runs the contextualizer over every pending file's
// chunks, bounded to concurrency files in flight at once (spec.md §5:
// "contextualization up to ~20 files concurrently"). Results are written
// back onto each chunk in place.
func (ix *Indexer) contextualizeAll(ctx context.Context, pending []pendingFile, concurrency int) {
	sem := semaphore.NewWeighted(int64(concurrency))
	g, gctx := errgroup.WithContext(ctx)

	for i := range pending {
		i := i
		if err := sem.Acquire(gctx, 1); err != nil {
			break
		}
		g.Go(func() error {
			defer sem.Release(1)
			ix.contextualizeFile(gctx, &pending[i])
			return nil
		})
	}
	_ = g.Wait()
}

func (ix *Indexer) contextualizeFile(ctx context.Context, p *pendingFile) {
	if len(p.chunks) == 0 {
		return
	}
	inputs := make([]contextualizer.Input, len(p.chunks))
	doc := string(p.content)
	for i, c := range p.chunks {
		inputs[i] = contextualizer.Input{ChunkID: int64(i), DocContent: doc, ChunkContent: c.Content}
	}

	results, err := ix.contextualizer.Generate(ctx, inputs)
	if err != nil {
		slog.Warn("contextualize failed, continuing without prefixes",
			slog.String("path", p.RelPath), slog.String("error", err.Error()))
		return
	}
	for _, r := range results {
		if r.ChunkID >= 0 && int(r.ChunkID) < len(p.chunks) {
			p.chunks[int(r.ChunkID)].contextPrefix = r.Context
		}
	}
}

// embedAll embeds every pending chunk across every pending file in one
// batch call, prepending each chunk's context prefix (if any) and the
// document-embedding prefix (spec.md §4.9). embedclient.Client's
// EmbedDocuments already implements batch-failure → per-item retry →
// zero-vector fallback (spec.md §7), so no duplicate retry logic lives
// here.
func (ix *Indexer) embedAll(ctx context.Context, pending []pendingFile) error {
	var texts []string
	var slots []*workChunk

	for fi := range pending {
		for ci := range pending[fi].chunks {
			c := &pending[fi].chunks[ci]
			text := c.Content
			if c.contextPrefix != "" {
				text = c.contextPrefix + "\n\n" + text
			}
			texts = append(texts, embedclient.DocumentPrefix+text)
			slots = append(slots, c)
		}
	}
	if len(texts) == 0 {
		return nil
	}

	vecs, err := ix.embedder.EmbedDocuments(ctx, texts)
	if err != nil {
		return err
	}
	for i, v := range vecs {
		slots[i].embedding = v
	}

	if dimer, ok := ix.embedder.(interface{ Dimensions() int }); ok {
		if d := dimer.Dimensions(); d > 0 {
			if err := ix.store.EnsureVectorIndex(d); err != nil {
				slog.Warn("vector index unavailable, falling back to degraded search",
					slog.String("error", err.Error()))
			}
		}
	}
	return nil
}
