package scoring

import (
	"log/slog"
	"math"

	"github.com/MikeSquared-Agency/scribematch/internal/store"
)

// Scorer applies a WeightSet to factor vectors. It is the deterministic
// scoring path used whenever the oracle cannot be trusted.
type Scorer struct {
	weights WeightSet
	logger  *slog.Logger
}

// NewScorer creates a Scorer with the given weights.
func NewScorer(weights WeightSet, logger *slog.Logger) *Scorer {
	return &Scorer{weights: weights, logger: logger}
}

func (s *Scorer) Weights() WeightSet { return s.weights }

// Apply fills in Weight and Weighted on each factor and returns the rounded
// weighted sum. Factors must be in ComputeFactors order.
func (s *Scorer) Apply(factors []FactorResult) int {
	weights := s.weights.asList()
	var total float64
	for i := range factors {
		if i >= len(weights) {
			break
		}
		factors[i].Weight = weights[i]
		factors[i].Weighted = factors[i].Score * weights[i]
		total += factors[i].Weighted
	}
	return clampScore(int(math.Round(total)))
}

// WeightedSum computes round(Σ factor × weight) over a MatchingFactors value.
func (s *Scorer) WeightedSum(m store.MatchingFactors) int {
	w := s.weights
	total := m.DistanceScore*w.Distance +
		m.AvailabilityScore*w.Availability +
		m.SubjectMatchScore*w.Subject +
		m.LanguageMatchScore*w.Language +
		m.ExperienceScore*w.Experience +
		m.RatingScore*w.Rating +
		m.PreferenceMatchScore*w.Preference
	return clampScore(int(math.Round(total)))
}

// clampScore keeps un-normalized weight sets inside the 0–100 contract.
func clampScore(v int) int {
	if v < 0 {
		return 0
	}
	if v > 100 {
		return 100
	}
	return v
}
