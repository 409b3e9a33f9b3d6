package searcher

import "github.com/quietloop/memory/internal/store"

// fuse combines every variant's retrieval hits into a single ranked list
// (spec.md §4.7): non-original variants contribute weighted RRF; the
// original (and its uncorrected half-weight twin, if present) contribute
// a min-max-normalized 0.6 BM25 / 0.4 semantic blend; the primary
// original's best rank earns a small top-placement bonus.
func fuse(hits []variantHits) []rankedResult {
	candidates := map[int64]*candidate{}
	get := func(id int64) *candidate {
		c, ok := candidates[id]
		if !ok {
			c = newCandidate(id)
			candidates[id] = c
		}
		return c
	}

	var primaryBM25Rank, primaryVecRank map[int64]int
	var primaryBM25Score, primarySemScore map[int64]float64
	primarySeen := false

	for _, h := range hits {
		if !h.v.isOriginal {
			addRRFContribution(get, h)
			continue
		}

		bm25Norm, bm25Rank, bm25Score := normalizeBM25(h.bm25)
		semNorm, vecRank, semScore := normalizeVector(h.vec)

		ids := unionIDs(bm25Norm, semNorm)
		for _, id := range ids {
			c := get(id)
			blend := h.v.weight * (0.6*bm25Norm[id] + 0.4*semNorm[id])
			c.total += blend
		}

		if !primarySeen && h.v.weight == weightOriginal {
			primaryBM25Rank, primaryVecRank = bm25Rank, vecRank
			primaryBM25Score, primarySemScore = bm25Score, semScore
			primarySeen = true
		}
	}

	applyTopRankBonus(get, primaryBM25Rank, primaryVecRank)

	totals := make(map[int64]float64, len(candidates))
	for id, c := range candidates {
		totals[id] = c.total
	}
	normTotals := minMaxNormalize(totals)

	results := make([]rankedResult, 0, len(candidates))
	for id := range candidates {
		explain := Explain{
			BM25Score:     primaryBM25Score[id],
			SemanticScore: primarySemScore[id],
			BlendWeights:  map[string]float64{"bm25": 0.6, "semantic": 0.4},
		}
		if rank, ok := primaryBM25Rank[id]; ok {
			explain.BM25Rank = rank + 1
		}
		results = append(results, rankedResult{chunkID: id, score: normTotals[id], explain: explain})
	}

	sortAndRank(results)
	return results
}

// addRRFContribution folds one non-original variant's BM25 or vector hit
// list into every matching candidate's score.
func addRRFContribution(get func(int64) *candidate, h variantHits) {
	for rank, r := range h.bm25 {
		get(r.ChunkID).addRRF(h.v.weight, rank+1)
	}
	for rank, r := range h.vec {
		get(r.ChunkID).addRRF(h.v.weight, rank+1)
	}
}

// normalizeBM25 returns the min-max normalized score map, a 0-indexed
// rank map, and the raw score map for a BM25 result list.
func normalizeBM25(results []*store.BM25Result) (norm map[int64]float64, rank map[int64]int, raw map[int64]float64) {
	scores := make(map[int64]float64, len(results))
	rank = make(map[int64]int, len(results))
	raw = make(map[int64]float64, len(results))
	for i, r := range results {
		scores[r.ChunkID] = r.Score
		rank[r.ChunkID] = i
		raw[r.ChunkID] = r.Score
	}
	return minMaxNormalize(scores), rank, raw
}

// normalizeVector converts cosine distance to similarity, then returns
// the min-max normalized score map, a 0-indexed rank map, and the raw
// similarity map for a vector hit list (spec.md §4.7).
func normalizeVector(hits []*store.VectorHit) (norm map[int64]float64, rank map[int64]int, raw map[int64]float64) {
	scores := make(map[int64]float64, len(hits))
	rank = make(map[int64]int, len(hits))
	raw = make(map[int64]float64, len(hits))
	for i, h := range hits {
		sim := 1 - float64(h.Distance)
		if sim < 0 {
			sim = 0
		}
		scores[h.ChunkID] = sim
		rank[h.ChunkID] = i
		raw[h.ChunkID] = sim
	}
	return minMaxNormalize(scores), rank, raw
}

// applyTopRankBonus adds the +0.05 / +0.02 top-placement bonus based on
// the primary original's best rank across its BM25 and vector lists
// (spec.md §4.7).
func applyTopRankBonus(get func(int64) *candidate, bm25Rank, vecRank map[int64]int) {
	best := map[int64]int{}
	for id, r := range bm25Rank {
		if cur, ok := best[id]; !ok || r < cur {
			best[id] = r
		}
	}
	for id, r := range vecRank {
		if cur, ok := best[id]; !ok || r < cur {
			best[id] = r
		}
	}
	for id, r := range best {
		switch {
		case r == 0:
			get(id).total += 0.05
		case r <= 2:
			get(id).total += 0.02
		}
	}
}

// unionIDs returns the sorted-by-discovery set of keys present in either
// map, without duplicates.
func unionIDs(a, b map[int64]float64) []int64 {
	seen := make(map[int64]struct{}, len(a)+len(b))
	var out []int64
	for id := range a {
		if _, ok := seen[id]; !ok {
			seen[id] = struct{}{}
			out = append(out, id)
		}
	}
	for id := range b {
		if _, ok := seen[id]; !ok {
			seen[id] = struct{}{}
			out = append(out, id)
		}
	}
	return out
}
