package rag

import "math"

// NormalizeL2 returns a copy of v scaled to unit L2 norm together with the
// original norm. A zero vector is returned unchanged with norm 0.
func NormalizeL2(v []float32) ([]float32, float64) {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	out := make([]float32, len(v))
	n := math.Sqrt(sum)
	if n == 0 {
		copy(out, v)
		return out, 0
	}
	inv := 1.0 / n
	for i, x := range v {
		out[i] = float32(float64(x) * inv)
	}
	return out, n
}
