package embedclient

import "math"

// normalize L2-normalizes v in place conceptually, returning a new slice.
// A zero vector is returned unchanged (spec.md §4.2). Upstream embeddings
// are assumed pre-normalized already; this is a defensive re-normalization
// that is a no-op (within float tolerance) on vectors that already are.
func normalize(v []float64) []float32 {
	var sumSquares float64
	for _, f := range v {
		sumSquares += f * f
	}
	out := make([]float32, len(v))
	if sumSquares == 0 {
		for i, f := range v {
			out[i] = float32(f)
		}
		return out
	}
	mag := math.Sqrt(sumSquares)
	for i, f := range v {
		out[i] = float32(f / mag)
	}
	return out
}
