package engram

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCosineSimilarity(t *testing.T) {
	require.InDelta(t, 1.0, CosineSimilarity([]float64{1, 0}, []float64{1, 0}), 1e-9)
	require.InDelta(t, 0.0, CosineSimilarity([]float64{1, 0}, []float64{0, 1}), 1e-9)
	require.InDelta(t, -1.0, CosineSimilarity([]float64{1, 0}, []float64{-1, 0}), 1e-9)

	// Magnitude does not affect the score.
	require.InDelta(t, 1.0, CosineSimilarity([]float64{2, 2}, []float64{5, 5}), 1e-9)
}

func TestCosineSimilarityDegenerateInputs(t *testing.T) {
	require.Zero(t, CosineSimilarity([]float64{1, 2}, []float64{1, 2, 3}))
	require.Zero(t, CosineSimilarity([]float64{0, 0}, []float64{1, 1}))
	require.Zero(t, CosineSimilarity(nil, nil))
}

func TestIsZeroVector(t *testing.T) {
	require.True(t, IsZeroVector(nil))
	require.True(t, IsZeroVector([]float64{0, 0, 0}))
	require.False(t, IsZeroVector([]float64{0, 0.001, 0}))
}
