package scoring

import (
	"io"
	"log/slog"
	"math"
	"testing"

	"github.com/MikeSquared-Agency/scribematch/internal/store"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestDefaultWeightsSumToOne(t *testing.T) {
	w := DefaultWeights()
	if err := w.Validate(); err != nil {
		t.Errorf("default weights invalid: %v", err)
	}
	if !w.Normalized() {
		t.Errorf("default weights sum to %f, expected 1.0", w.Sum())
	}
}

func TestWeightsValidate(t *testing.T) {
	w := DefaultWeights()
	w.Experience = -0.1
	if err := w.Validate(); err == nil {
		t.Error("expected error for negative weight")
	}

	w = WeightSet{Distance: 2, Availability: 3}
	if err := w.Validate(); err != nil {
		t.Errorf("un-normalized weights should validate: %v", err)
	}
	if w.Normalized() {
		t.Error("weights summing to 5 reported as normalized")
	}
}

func TestApplyMatchesWeightedSum(t *testing.T) {
	s := NewScorer(DefaultWeights(), discardLogger())
	factors := []FactorResult{
		{Name: "distance", Score: 89.63},
		{Name: "availability", Score: 100},
		{Name: "subject", Score: 50},
		{Name: "language", Score: 100},
		{Name: "experience", Score: 80},
		{Name: "rating", Score: 90},
		{Name: "preference", Score: 70},
	}

	got := s.Apply(factors)

	// 17.926 + 25 + 10 + 10 + 8 + 9 + 3.5 = 83.426
	if got != 83 {
		t.Errorf("Apply = %d, want 83", got)
	}
	if factors[1].Weight != 0.25 || factors[1].Weighted != 25 {
		t.Errorf("availability weight not filled in: %+v", factors[1])
	}
	if ws := s.WeightedSum(ToMatchingFactors(factors)); ws != got {
		t.Errorf("WeightedSum = %d, Apply = %d", ws, got)
	}
}

func TestApplyRoundsHalfAwayFromZero(t *testing.T) {
	s := NewScorer(WeightSet{Distance: 1}, discardLogger())
	if got := s.Apply([]FactorResult{{Name: "distance", Score: 62.5}}); got != 63 {
		t.Errorf("Apply = %d, want 63", got)
	}
}

func TestApplyClampsUnnormalizedWeights(t *testing.T) {
	s := NewScorer(WeightSet{Distance: 1, Availability: 1}, discardLogger())
	got := s.WeightedSum(store.MatchingFactors{DistanceScore: 100, AvailabilityScore: 100})
	if got != 100 {
		t.Errorf("WeightedSum = %d, want clamp to 100", got)
	}
}

func TestWeightedSumIsRoundOfDotProduct(t *testing.T) {
	w := DefaultWeights()
	s := NewScorer(w, discardLogger())
	m := store.MatchingFactors{
		DistanceScore: 33.3, AvailabilityScore: 0, SubjectMatchScore: 66.7,
		LanguageMatchScore: 100, ExperienceScore: 41, RatingScore: 12, PreferenceMatchScore: 90,
	}
	want := int(math.Round(m.DistanceScore*w.Distance + m.SubjectMatchScore*w.Subject +
		m.LanguageMatchScore*w.Language + m.ExperienceScore*w.Experience +
		m.RatingScore*w.Rating + m.PreferenceMatchScore*w.Preference))
	if got := s.WeightedSum(m); got != want {
		t.Errorf("WeightedSum = %d, want %d", got, want)
	}
}
