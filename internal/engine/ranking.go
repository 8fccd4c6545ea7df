package engine

import (
	"sort"

	"github.com/MikeSquared-Agency/scribematch/internal/scoring"
	"github.com/MikeSquared-Agency/scribematch/internal/store"
)

// AlternativeFloor is the minimum overall score for an alternative proposal.
const AlternativeFloor = 40

// ScoredCandidate is an eligible scribe with its factor vector and overall score.
type ScoredCandidate struct {
	Scribe     *store.ScribeProfile
	DistanceKm float64
	Factors    []scoring.FactorResult
	Matching   store.MatchingFactors
	Source     store.ScoreSource
}

func (c ScoredCandidate) Score() int { return c.Matching.OverallScore }

// Rank sorts candidates by overall score (stable, so input order breaks ties),
// takes up to maxPrimary candidates at or above minimumScore as primaries and
// up to backupCount of the remaining candidates at or above AlternativeFloor
// as alternatives. The two slices never share a candidate.
func Rank(candidates []ScoredCandidate, minimumScore, maxPrimary, backupCount int) (primary, alternatives []ScoredCandidate) {
	sorted := make([]ScoredCandidate, len(candidates))
	copy(sorted, candidates)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Score() > sorted[j].Score()
	})

	var rest []ScoredCandidate
	for _, c := range sorted {
		if c.Score() >= minimumScore && len(primary) < maxPrimary {
			primary = append(primary, c)
			continue
		}
		rest = append(rest, c)
	}

	for _, c := range rest {
		if len(alternatives) >= backupCount {
			break
		}
		if c.Score() >= AlternativeFloor {
			alternatives = append(alternatives, c)
		}
	}
	return primary, alternatives
}
