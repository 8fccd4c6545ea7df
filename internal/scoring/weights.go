package scoring

import (
	"fmt"
	"math"
)

// WeightSet defines the relative importance of each matching factor.
// Weights are expected to sum to 1.0 but only negativity is rejected.
type WeightSet struct {
	Distance     float64
	Availability float64
	Subject      float64
	Language     float64
	Experience   float64
	Rating       float64
	Preference   float64
}

// DefaultWeights returns the stock weight distribution.
func DefaultWeights() WeightSet {
	return WeightSet{
		Distance:     0.20,
		Availability: 0.25,
		Subject:      0.20,
		Language:     0.10,
		Experience:   0.10,
		Rating:       0.10,
		Preference:   0.05,
	}
}

// Sum returns the total of all weights.
func (w WeightSet) Sum() float64 {
	return w.Distance + w.Availability + w.Subject + w.Language +
		w.Experience + w.Rating + w.Preference
}

// Validate rejects negative weights.
func (w WeightSet) Validate() error {
	for i, v := range w.asList() {
		if v < 0 {
			return fmt.Errorf("negative weight for %s: %f", factorNames[i], v)
		}
	}
	return nil
}

// Normalized reports whether the weights sum to 1.0 (±0.001).
func (w WeightSet) Normalized() bool {
	return math.Abs(w.Sum()-1.0) <= 0.001
}

func (w WeightSet) asList() []float64 {
	return []float64{
		w.Distance, w.Availability, w.Subject, w.Language,
		w.Experience, w.Rating, w.Preference,
	}
}
