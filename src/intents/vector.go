package intents

import "math"

// CosineSimilarity returns dot(a,b) / (|a| * |b|). Mismatched lengths and
// zero vectors score 0.
func CosineSimilarity(a, b []float64) float64 {
	if len(a) == 0 || len(a) != len(b) {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += a[i] * b[i]
		na += a[i] * a[i]
		nb += b[i] * b[i]
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}

// Mean is the component-wise arithmetic mean of vectors. Vectors whose
// length differs from the first are ignored.
func Mean(vectors [][]float64) []float64 {
	if len(vectors) == 0 {
		return nil
	}
	dim := len(vectors[0])
	sum := make([]float64, dim)
	n := 0
	for _, v := range vectors {
		if len(v) != dim {
			continue
		}
		for i, x := range v {
			sum[i] += x
		}
		n++
	}
	for i := range sum {
		sum[i] /= float64(n)
	}
	return sum
}
