package aggregate

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestWeightsValidate(t *testing.T) {
	t.Parallel()

	require.NoError(t, DefaultWeights().Validate())
	require.NoError(t, Weights{}.Validate())
	require.Error(t, Weights{Freshness: -0.1}.Validate())
}

func TestWeightsNormalized(t *testing.T) {
	t.Parallel()

	w := Weights{Relevance: 2, Quality: 1, Freshness: 1}.Normalized()
	require.InDelta(t, 0.5, w.Relevance, 1e-9)
	require.InDelta(t, 0.25, w.Quality, 1e-9)
	require.InDelta(t, 0.25, w.Freshness, 1e-9)
	require.Zero(t, w.Authority)

	sum := w.Relevance + w.Quality + w.Freshness + w.Authority + w.Coverage
	require.InDelta(t, 1.0, sum, 1e-9)
}

func TestWeightsZeroValueFallsBackToDefaults(t *testing.T) {
	t.Parallel()

	w := Weights{}.Normalized()
	require.Equal(t, DefaultWeights(), w)

	sum := w.Relevance + w.Quality + w.Freshness + w.Authority + w.Coverage
	require.InDelta(t, 1.0, sum, 1e-9)
}
