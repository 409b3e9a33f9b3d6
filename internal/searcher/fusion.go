package searcher

import "sort"

// candidate accumulates one chunk's contributions across every variant
// before final normalization.
type candidate struct {
	chunkID int64
	total   float64
}

func newCandidate(id int64) *candidate {
	return &candidate{chunkID: id}
}

// addRRF adds a reciprocal-rank-fusion contribution for a non-original
// variant: weight / (K + rank), rank 1-indexed per spec.md §4.7.
func (c *candidate) addRRF(weight float64, rank1Indexed int) {
	c.total += weight / float64(DefaultRRFConstant+rank1Indexed)
}

// minMaxNormalize scales values to [0,1] using their own min/max. A
// constant set maps every value to 1.0.
func minMaxNormalize(scores map[int64]float64) map[int64]float64 {
	out := make(map[int64]float64, len(scores))
	if len(scores) == 0 {
		return out
	}
	min, max := minMax(scores)
	if max == min {
		for k := range scores {
			out[k] = 1.0
		}
		return out
	}
	for k, v := range scores {
		out[k] = (v - min) / (max - min)
	}
	return out
}

func minMax(scores map[int64]float64) (min, max float64) {
	first := true
	for _, v := range scores {
		if first {
			min, max = v, v
			first = false
			continue
		}
		if v < min {
			min = v
		}
		if v > max {
			max = v
		}
	}
	return min, max
}

// rankedResult is a candidate's final score ready for sorting.
type rankedResult struct {
	chunkID int64
	score   float64
	explain Explain
}

// sortAndRank sorts candidates by descending score with an ascending
// chunk-id tie-breaker (spec.md §5, §9), then assigns retrieval ranks.
func sortAndRank(results []rankedResult) {
	sort.SliceStable(results, func(i, j int) bool {
		if results[i].score != results[j].score {
			return results[i].score > results[j].score
		}
		return results[i].chunkID < results[j].chunkID
	})
	for i := range results {
		results[i].explain.RetrievalRank = i
	}
}
