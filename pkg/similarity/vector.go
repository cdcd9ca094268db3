// Package similarity provides the embedding-vector primitives shared by
// every pipeline stage: cosine similarity, centroid computation, and the
// population standard deviation used for outlier thresholds.
package similarity

import "math"

// CosineSimilarity calculates the cosine similarity between two embedding
// vectors. Returns a value in [-1, 1]. A nil, empty, or length-mismatched
// pair yields 0 ("no similarity") so callers never have to special-case
// malformed embeddings.
func CosineSimilarity(a, b []float64) float64 {
	if len(a) == 0 || len(b) == 0 || len(a) != len(b) {
		return 0
	}

	var dot, normA, normB float64
	for i := range a {
		dot += a[i] * b[i]
		normA += a[i] * a[i]
		normB += b[i] * b[i]
	}

	if normA == 0 || normB == 0 {
		return 0
	}

	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}

// CosineDistance is 1 - CosineSimilarity.
func CosineDistance(a, b []float64) float64 {
	return 1 - CosineSimilarity(a, b)
}

// Centroid computes the elementwise mean of a set of vectors.
// Returns nil for an empty input. Vectors whose length does not match the
// first usable vector are skipped rather than corrupting the mean.
func Centroid(vectors [][]float64) []float64 {
	var sum []float64
	count := 0

	for _, v := range vectors {
		if len(v) == 0 {
			continue
		}
		if sum == nil {
			sum = make([]float64, len(v))
		}
		if len(v) != len(sum) {
			continue
		}
		for i, x := range v {
			sum[i] += x
		}
		count++
	}

	if count == 0 {
		return nil
	}

	n := float64(count)
	for i := range sum {
		sum[i] /= n
	}
	return sum
}

// StdDev computes the population standard deviation of a list of values.
// Returns 0 for fewer than two values.
func StdDev(values []float64) float64 {
	if len(values) < 2 {
		return 0
	}

	var mean float64
	for _, v := range values {
		mean += v
	}
	mean /= float64(len(values))

	var variance float64
	for _, v := range values {
		d := v - mean
		variance += d * d
	}
	variance /= float64(len(values))

	return math.Sqrt(variance)
}
