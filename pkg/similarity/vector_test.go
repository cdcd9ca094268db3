// Package similarity provides the embedding-vector primitives shared by
// every pipeline stage.
package similarity

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCosineSimilarity(t *testing.T) {
	tests := []struct {
		name     string
		a        []float64
		b        []float64
		expected float64
	}{
		{
			name:     "identical vectors",
			a:        []float64{0.5, 0.5, 0.7071},
			b:        []float64{0.5, 0.5, 0.7071},
			expected: 1.0,
		},
		{
			name:     "orthogonal vectors",
			a:        []float64{1, 0, 0},
			b:        []float64{0, 1, 0},
			expected: 0.0,
		},
		{
			name:     "opposite vectors",
			a:        []float64{1, 2, 3},
			b:        []float64{-1, -2, -3},
			expected: -1.0,
		},
		{
			name:     "nil first vector",
			a:        nil,
			b:        []float64{1, 2, 3},
			expected: 0.0,
		},
		{
			name:     "empty second vector",
			a:        []float64{1, 2, 3},
			b:        []float64{},
			expected: 0.0,
		},
		{
			name:     "mismatched lengths",
			a:        []float64{1, 2, 3},
			b:        []float64{1, 2},
			expected: 0.0,
		},
		{
			name:     "zero vector",
			a:        []float64{0, 0, 0},
			b:        []float64{1, 2, 3},
			expected: 0.0,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.expected, CosineSimilarity(tt.a, tt.b), 1e-9)
		})
	}
}

func TestCosineSimilaritySymmetric(t *testing.T) {
	a := []float64{0.1, -0.4, 0.9, 0.2}
	b := []float64{0.7, 0.3, -0.2, 0.5}
	assert.Equal(t, CosineSimilarity(a, b), CosineSimilarity(b, a))
}

func TestCosineSimilaritySelf(t *testing.T) {
	a := []float64{3, 1, 4, 1, 5, 9, 2, 6}
	assert.InDelta(t, 1.0, CosineSimilarity(a, a), 1e-9)
}

func TestCentroid(t *testing.T) {
	t.Run("single vector is its own centroid", func(t *testing.T) {
		v := []float64{1, 2, 3}
		assert.Equal(t, v, Centroid([][]float64{v}))
	})

	t.Run("duplicate vectors keep the same centroid", func(t *testing.T) {
		v := []float64{1, 2, 3}
		assert.Equal(t, v, Centroid([][]float64{v, v}))
	})

	t.Run("mean of two vectors", func(t *testing.T) {
		got := Centroid([][]float64{{0, 0}, {2, 4}})
		assert.Equal(t, []float64{1, 2}, got)
	})

	t.Run("empty input returns nil", func(t *testing.T) {
		assert.Nil(t, Centroid(nil))
		assert.Nil(t, Centroid([][]float64{}))
	})

	t.Run("mismatched vectors are skipped", func(t *testing.T) {
		got := Centroid([][]float64{{2, 2}, {1, 2, 3}, {4, 4}})
		assert.Equal(t, []float64{3, 3}, got)
	})
}

func TestStdDev(t *testing.T) {
	tests := []struct {
		name     string
		values   []float64
		expected float64
	}{
		{name: "empty", values: nil, expected: 0},
		{name: "single value", values: []float64{5}, expected: 0},
		{name: "constant values", values: []float64{2, 2, 2, 2}, expected: 0},
		{name: "known population stddev", values: []float64{2, 4, 4, 4, 5, 5, 7, 9}, expected: 2},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.expected, StdDev(tt.values), 1e-9)
		})
	}
}
