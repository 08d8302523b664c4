package aggregate

import (
	"fmt"
)

// Default ranking weights, applied when a Weights value is zero.
const (
	defaultRelevanceWeight = 0.35
	defaultQualityWeight   = 0.20
	defaultFreshnessWeight = 0.15
	defaultAuthorityWeight = 0.20
	defaultCoverageWeight  = 0.10
)

// Weights controls the composite score. Values are normalized to sum to one
// before use; a zero value selects the documented defaults.
type Weights struct {
	Relevance float64
	Quality   float64
	Freshness float64
	Authority float64
	Coverage  float64
}

// DefaultWeights returns the standard weight distribution.
func DefaultWeights() Weights {
	return Weights{
		Relevance: defaultRelevanceWeight,
		Quality:   defaultQualityWeight,
		Freshness: defaultFreshnessWeight,
		Authority: defaultAuthorityWeight,
		Coverage:  defaultCoverageWeight,
	}
}

// Validate rejects negative components.
func (w Weights) Validate() error {
	for name, v := range map[string]float64{
		"relevance": w.Relevance,
		"quality":   w.Quality,
		"freshness": w.Freshness,
		"authority": w.Authority,
		"coverage":  w.Coverage,
	} {
		if v < 0 {
			return fmt.Errorf("ranking weight %s must be >= 0, got %v", name, v)
		}
	}
	return nil
}

// Normalized scales the weights to sum to one. An all-zero value yields the
// defaults.
func (w Weights) Normalized() Weights {
	sum := w.Relevance + w.Quality + w.Freshness + w.Authority + w.Coverage
	if sum <= 0 {
		return DefaultWeights()
	}
	return Weights{
		Relevance: w.Relevance / sum,
		Quality:   w.Quality / sum,
		Freshness: w.Freshness / sum,
		Authority: w.Authority / sum,
		Coverage:  w.Coverage / sum,
	}
}
