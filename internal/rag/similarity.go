package rag

import "math"

// MinScore is the lowest cosine similarity. Degenerate comparisons (a zero
// vector on either side) report it.
const MinScore = -1.0

// CosineSimilarity returns dot(a,b) / (|a|*|b|). ok is false when either
// vector has zero norm or the lengths differ; the score is then MinScore.
func CosineSimilarity(a, b []float32) (score float64, ok bool) {
	if len(a) != len(b) {
		return MinScore, false
	}
	return cosine(a, b, norm(a), norm(b))
}

// cosine computes the similarity with precomputed norms.
func cosine(a, b []float32, na, nb float64) (float64, bool) {
	if na == 0 || nb == 0 {
		return MinScore, false
	}
	var dot float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
	}
	s := dot / (na * nb)
	// Rounding can push identical vectors a hair past 1.
	return math.Max(-1, math.Min(1, s)), true
}

func norm(v []float32) float64 {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	return math.Sqrt(sum)
}
