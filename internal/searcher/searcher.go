package searcher

import (
	"context"
	"fmt"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/quietloop/memory/internal/spellcorrect"
	"github.com/quietloop/memory/internal/store"
)

// variant is one weighted subquery to fan out to BM25 and/or vector
// search (spec.md §4.7).
type variant struct {
	query      string
	weight     float64
	useBM25    bool
	useVector  bool
	isOriginal bool
}

// variantHits is the raw retrieval output for one variant.
type variantHits struct {
	v    variant
	bm25 []*store.BM25Result
	vec  []*store.VectorHit
}

// Searcher runs the hybrid retrieval pipeline. SpellCorrector and Expander
// are optional (nil disables that stage).
type Searcher struct {
	store    *store.SQLiteStore
	embedder Embedder
	spell    SpellCorrector
	expander Expander
}

func New(s *store.SQLiteStore, embedder Embedder, spell SpellCorrector, expander Expander) *Searcher {
	return &Searcher{store: s, embedder: embedder, spell: spell, expander: expander}
}

// Search runs the full weighted multi-query pipeline and returns up to
// opts.TopK ranked results, plus any spell corrections applied to the
// query along the way.
func (s *Searcher) Search(ctx context.Context, query string, opts Options) (*Response, error) {
	opts = opts.withDefaults()
	query = strings.TrimSpace(query)
	if query == "" {
		return &Response{}, nil
	}

	variants, corrections, err := s.buildVariants(ctx, query, opts)
	if err != nil {
		return nil, err
	}
	if len(variants) == 0 {
		return &Response{Corrections: corrections}, nil
	}

	hits, err := s.retrieveAll(ctx, variants, opts.CandidateCap)
	if err != nil {
		return nil, err
	}

	ranked := fuse(hits)
	if len(ranked) > opts.TopK {
		ranked = ranked[:opts.TopK]
	}

	results, err := s.hydrate(ctx, ranked)
	if err != nil {
		return nil, err
	}
	return &Response{Results: results, Corrections: corrections}, nil
}

// buildVariants assembles the weighted subquery list: the (possibly
// spell-corrected) original, the uncorrected original at half weight if a
// correction fired, and any lex/vec/hyde expansions. It also returns the
// corrections that fired, for Search to surface as a stage event.
func (s *Searcher) buildVariants(ctx context.Context, query string, opts Options) ([]variant, []spellcorrect.Correction, error) {
	primary := query
	variants := []variant{{query: primary, weight: weightOriginal, useBM25: true, useVector: true, isOriginal: true}}

	var corrections []spellcorrect.Correction
	if s.spell != nil && !opts.NoSpellCheck {
		corrected, found, err := s.spell.Correct(ctx, query)
		if err == nil && len(found) > 0 && corrected != "" {
			variants[0].query = corrected
			variants = append(variants, variant{
				query: query, weight: weightOriginal / 2, useBM25: true, useVector: true, isOriginal: true,
			})
			corrections = found
		}
	}

	if s.expander != nil && !opts.NoExpansion && meaningfulTermCount(query) >= 2 {
		exp, err := s.expander.Expand(ctx, query, opts.ContextHints)
		if err == nil {
			for _, lex := range exp.Lex {
				if lex = strings.TrimSpace(lex); lex != "" {
					variants = append(variants, variant{query: lex, weight: weightLex, useBM25: true})
				}
			}
			for _, vec := range exp.Vec {
				if vec = strings.TrimSpace(vec); vec != "" {
					variants = append(variants, variant{query: vec, weight: weightVec, useVector: true})
				}
			}
			if hyde := strings.TrimSpace(exp.Hyde); hyde != "" {
				variants = append(variants, variant{query: hyde, weight: weightHyde, useVector: true})
			}
		}
	}

	return variants, corrections, nil
}

// meaningfulTermCount is a rough whitespace-token count used to decide
// whether a query is short enough that expansion wouldn't help.
func meaningfulTermCount(query string) int {
	return len(strings.Fields(query))
}

// retrieveAll runs every variant's BM25 and/or vector query in parallel
// (spec.md §5).
func (s *Searcher) retrieveAll(ctx context.Context, variants []variant, candidateCap int) ([]variantHits, error) {
	hits := make([]variantHits, len(variants))
	g, gctx := errgroup.WithContext(ctx)

	for i, v := range variants {
		i, v := i, v
		hits[i] = variantHits{v: v}
		if v.useBM25 {
			g.Go(func() error {
				res, err := s.store.SearchFTS(gctx, v.query, candidateCap)
				if err != nil {
					return fmt.Errorf("bm25 search for %q: %w", v.query, err)
				}
				hits[i].bm25 = res
				return nil
			})
		}
		if v.useVector {
			g.Go(func() error {
				emb, err := s.embedder.EmbedQuery(gctx, v.query)
				if err != nil {
					return fmt.Errorf("embed query %q: %w", v.query, err)
				}
				res, err := s.store.SearchVector(gctx, emb, candidateCap*4)
				if err != nil {
					return fmt.Errorf("vector search for %q: %w", v.query, err)
				}
				hits[i].vec = res
				return nil
			})
		}
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return hits, nil
}

// hydrate fetches full chunk rows for the fused top-K and builds display
// results with trimmed snippets.
func (s *Searcher) hydrate(ctx context.Context, ranked []rankedResult) ([]Result, error) {
	if len(ranked) == 0 {
		return nil, nil
	}
	ids := make([]int64, len(ranked))
	for i, r := range ranked {
		ids[i] = r.chunkID
	}
	chunks, err := s.store.GetChunksByIDs(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("fetch chunks: %w", err)
	}
	byID := make(map[int64]*store.Chunk, len(chunks))
	for _, c := range chunks {
		byID[c.ID] = c
	}

	out := make([]Result, 0, len(ranked))
	for _, r := range ranked {
		c, ok := byID[r.chunkID]
		if !ok {
			continue
		}
		out = append(out, Result{
			ChunkID: r.chunkID,
			Content: c.Content,
			Snippet: trimSnippet(c.Content, snippetChars),
			Score:   r.score,
			Explain: r.explain,
		})
	}
	return out, nil
}

func trimSnippet(content string, max int) string {
	if len(content) <= max {
		return content
	}
	return content[:max]
}
