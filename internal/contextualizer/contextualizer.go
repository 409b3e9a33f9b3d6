package contextualizer

import (
	"context"
	"log/slog"
	"net/http"
	"sync"

	"golang.org/x/sync/semaphore"

	"github.com/quietloop/memory/internal/hashpath"
)

// Contextualizer generates context prefixes for chunks, consulting a cache
// first and dispatching cache misses across one or more Slots in parallel.
type Contextualizer struct {
	slots       []Slot
	cache       Cache
	httpClient  *http.Client
	maxDocToken int
}

// New builds a Contextualizer. At least one slot is required; slots are
// assigned uncached chunks round-robin so load spreads evenly across
// configured endpoints (spec.md §4.4).
func New(slots []Slot, cache Cache) *Contextualizer {
	resolved := make([]Slot, len(slots))
	for i, s := range slots {
		resolved[i] = s.withDefaults()
	}
	return &Contextualizer{
		slots:       resolved,
		cache:       cache,
		httpClient:  newChatHTTPClient(),
		maxDocToken: DefaultMaxDocTokens,
	}
}

// Generate returns one Result per Input, preserving input order. A batch
// failure on any slot yields empty ("") context for that batch's inputs
// rather than failing the whole call, so indexing is never blocked on the
// contextualizer (spec.md §7).
func (c *Contextualizer) Generate(ctx context.Context, inputs []Input) ([]Result, error) {
	results := make([]Result, len(inputs))
	var misses []int

	for i, in := range inputs {
		key := hashpath.ContextKey(in.DocContent, in.ChunkContent)
		if c.cache != nil {
			if cached, ok, err := c.cache.GetContext(ctx, key); err == nil && ok {
				results[i] = Result{ChunkID: in.ChunkID, Context: cached, Cached: true}
				continue
			}
		}
		misses = append(misses, i)
	}

	if len(misses) == 0 || len(c.slots) == 0 {
		for _, i := range misses {
			results[i] = Result{ChunkID: inputs[i].ChunkID}
		}
		return results, nil
	}

	perSlot := make([][]int, len(c.slots))
	for n, idx := range misses {
		slotIdx := n % len(c.slots)
		perSlot[slotIdx] = append(perSlot[slotIdx], idx)
	}

	var wg sync.WaitGroup
	for slotIdx, indices := range perSlot {
		if len(indices) == 0 {
			continue
		}
		slot := c.slots[slotIdx]
		sem := semaphore.NewWeighted(int64(slot.Parallelism))

		for start := 0; start < len(indices); start += slot.BatchSize {
			end := start + slot.BatchSize
			if end > len(indices) {
				end = len(indices)
			}
			batchIndices := indices[start:end]

			if err := sem.Acquire(ctx, 1); err != nil {
				for _, idx := range batchIndices {
					results[idx] = Result{ChunkID: inputs[idx].ChunkID}
				}
				continue
			}

			wg.Add(1)
			go func(slot Slot, sem *semaphore.Weighted, batchIndices []int) {
				defer wg.Done()
				defer sem.Release(1)
				c.runBatch(ctx, slot, batchIndices, inputs, results)
			}(slot, sem, batchIndices)
		}
	}
	wg.Wait()

	return results, nil
}

// runBatch generates context for one slot's batch and writes each result
// (including empty-string failures) into results at its original index.
func (c *Contextualizer) runBatch(ctx context.Context, slot Slot, indices []int, inputs []Input, results []Result) {
	if len(indices) == 0 {
		return
	}

	docExcerpt := truncateDocument(inputs[indices[0]].DocContent, c.maxDocToken)
	chunkTexts := make([]string, len(indices))
	for i, idx := range indices {
		chunkTexts[i] = inputs[idx].ChunkContent
	}
	prompt := buildPrompt(docExcerpt, chunkTexts)

	text, err := callChat(ctx, c.httpClient, slot, prompt)
	if err != nil {
		slog.Warn("contextualizer batch failed", slog.String("endpoint", slot.Endpoint), slog.String("error", err.Error()))
		c.fillEmpty(ctx, indices, inputs, results)
		return
	}

	parsed, err := parseStringArray(text)
	if err != nil || len(parsed) != len(indices) {
		slog.Warn("contextualizer batch response malformed",
			slog.String("endpoint", slot.Endpoint), slog.Int("want", len(indices)), slog.Int("got", len(parsed)))
		c.fillEmpty(ctx, indices, inputs, results)
		return
	}

	for i, idx := range indices {
		ctxPrefix := acceptContext(parsed[i])
		results[idx] = Result{ChunkID: inputs[idx].ChunkID, Context: ctxPrefix}
		if c.cache != nil {
			key := hashpath.ContextKey(inputs[idx].DocContent, inputs[idx].ChunkContent)
			if err := c.cache.SetContext(ctx, key, ctxPrefix); err != nil {
				slog.Warn("context cache write failed", slog.String("error", err.Error()))
			}
		}
	}
}

func (c *Contextualizer) fillEmpty(ctx context.Context, indices []int, inputs []Input, results []Result) {
	for _, idx := range indices {
		results[idx] = Result{ChunkID: inputs[idx].ChunkID}
		if c.cache != nil {
			key := hashpath.ContextKey(inputs[idx].DocContent, inputs[idx].ChunkContent)
			if err := c.cache.SetContext(ctx, key, ""); err != nil {
				slog.Warn("context cache write failed", slog.String("error", err.Error()))
			}
		}
	}
}
