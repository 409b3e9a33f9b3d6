package reranker

import (
	"fmt"
	"math"
	"sort"
)

// formatModelTag produces a short stable string identifying a blend
// recipe, used as the third component of the rerank cache key.
func formatModelTag(bge, qwen, gemma float64) string {
	return fmt.Sprintf("bge%.2f-qwen%.2f-gemma%.2f", bge, qwen, gemma)
}

// normalizeScore applies the spec's three-way normalization rule: values
// already in [0,1] pass through; values in [-1,1] are linearly rescaled;
// anything else is squashed through a sigmoid (spec.md §4.8).
func normalizeScore(v float64) float64 {
	switch {
	case v >= 0 && v <= 1:
		return v
	case v >= -1 && v <= 1:
		return (v + 1) / 2
	default:
		return 1 / (1 + math.Exp(-v))
	}
}

// submodelScores is the optional per-submodel breakdown an endpoint may
// return alongside its combined score.
type submodelScores struct {
	BGE   *float64 `json:"bge,omitempty"`
	Qwen  *float64 `json:"qwen,omitempty"`
	Gemma *float64 `json:"gemma,omitempty"`
}

// blendSubmodels normalizes each present submodel score and blends them
// by the configured weights, re-normalizing the weights to sum to 1 over
// whichever submodels are actually present (spec.md §4.8).
func blendSubmodels(s submodelScores, cfg Config) (float64, bool) {
	type weighted struct {
		score  float64
		weight float64
	}
	var parts []weighted
	if s.BGE != nil {
		parts = append(parts, weighted{normalizeScore(*s.BGE), cfg.BGEWeight})
	}
	if s.Qwen != nil {
		parts = append(parts, weighted{normalizeScore(*s.Qwen), cfg.QwenWeight})
	}
	if s.Gemma != nil {
		parts = append(parts, weighted{normalizeScore(*s.Gemma), cfg.GemmaWeight})
	}
	if len(parts) == 0 {
		return 0, false
	}

	var weightSum float64
	for _, p := range parts {
		weightSum += p.weight
	}
	if weightSum == 0 {
		return 0, false
	}

	var blended float64
	for _, p := range parts {
		blended += p.score * (p.weight / weightSum)
	}
	return blended, true
}

// retrievalWeightFor returns the (retrievalWeight, rerankerWeight) pair
// for a 0-indexed retrieval rank, per the tier table in spec.md §4.8.
func retrievalWeightFor(rank int) (retrieval, rerank float64) {
	switch {
	case rank <= 2:
		return 0.95, 0.05
	case rank <= 9:
		return 0.90, 0.10
	default:
		return 0.80, 0.20
	}
}

// queryMinMaxNormalize rescales a batch of reranker scores to [0,1]
// across the whole query's returned results (spec.md §4.8). A constant
// set maps to 1.0.
func queryMinMaxNormalize(scores []float64) []float64 {
	out := make([]float64, len(scores))
	if len(scores) == 0 {
		return out
	}
	min, max := scores[0], scores[0]
	for _, s := range scores {
		if s < min {
			min = s
		}
		if s > max {
			max = s
		}
	}
	if max == min {
		for i := range out {
			out[i] = 1.0
		}
		return out
	}
	for i, s := range scores {
		out[i] = (s - min) / (max - min)
	}
	return out
}

// sortDescending sorts Reranked results by FinalScore descending, with
// ChunkID ascending as the deterministic tie-breaker.
func sortDescending(results []Reranked) {
	sort.SliceStable(results, func(i, j int) bool {
		if results[i].FinalScore != results[j].FinalScore {
			return results[i].FinalScore > results[j].FinalScore
		}
		return results[i].ChunkID < results[j].ChunkID
	})
}
