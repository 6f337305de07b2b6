// Package similarity provides embedding similarity and keyword utilities
// shared by the physics and clustering engines.
package similarity

import "math"

// normEpsilon guards normalization against zero-norm vectors.
const normEpsilon = 1e-8

// Cosine computes the cosine similarity between two vectors.
// Returns 0 for empty vectors, mismatched lengths, or zero-norm inputs.
func Cosine(a, b []float32) float64 {
	if len(a) == 0 || len(a) != len(b) {
		return 0
	}

	var dot, normA, normB float64
	for i := range a {
		ai := float64(a[i])
		bi := float64(b[i])
		dot += ai * bi
		normA += ai * ai
		normB += bi * bi
	}

	denom := (math.Sqrt(normA) + normEpsilon) * (math.Sqrt(normB) + normEpsilon)
	cos := dot / denom
	if math.IsNaN(cos) || math.IsInf(cos, 0) {
		return 0
	}
	return cos
}

// Score returns the cosine similarity rescaled from [-1, 1] to [0, 1].
// Vectors that cannot be compared (missing, mismatched or zero-norm) score 0
// so they never exceed an attraction threshold.
func Score(a, b []float32) float64 {
	if !Comparable(a, b) {
		return 0
	}
	s := (Cosine(a, b) + 1) / 2
	switch {
	case s < 0:
		return 0
	case s > 1:
		return 1
	}
	return s
}

// Comparable reports whether two embeddings can be meaningfully compared.
func Comparable(a, b []float32) bool {
	if len(a) == 0 || len(a) != len(b) {
		return false
	}
	return !isZero(a) && !isZero(b)
}

func isZero(v []float32) bool {
	for _, x := range v {
		if x != 0 && !math.IsNaN(float64(x)) {
			return false
		}
	}
	return true
}
