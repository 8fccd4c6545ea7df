package engine

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/MikeSquared-Agency/scribematch/internal/store"
)

// ProposalKind tags how a proposal was produced.
type ProposalKind struct {
	Rank        int
	Alternative bool
	Emergency   bool
}

// BuildProposal converts a ranked candidate into a proposed MatchAttempt.
func BuildProposal(student *store.StudentProfile, exam *store.ExamRegistration, c ScoredCandidate, kind ProposalKind, now time.Time) store.MatchAttempt {
	return store.MatchAttempt{
		ID:          uuid.New(),
		StudentID:   student.ID,
		ScribeID:    c.Scribe.ID,
		ExamID:      exam.ID,
		MatchScore:  c.Score(),
		Factors:     c.Matching,
		Status:      store.MatchStatusProposed,
		ProposedAt:  now,
		Notes:       proposalNote(c, kind),
		ScoreSource: c.Source,
		DistanceKm:  c.DistanceKm,
		Rank:        kind.Rank,
		Alternative: kind.Alternative,
		Emergency:   kind.Emergency,
	}
}

func proposalNote(c ScoredCandidate, kind ProposalKind) string {
	label := "Match"
	switch {
	case kind.Emergency && kind.Alternative:
		label = "Emergency alternative match"
	case kind.Emergency:
		label = "Emergency match"
	case kind.Alternative:
		label = "Alternative match"
	}
	return fmt.Sprintf("%s score: %d%% (%s scoring, %.1f km away)", label, c.Score(), c.Source, c.DistanceKm)
}

// buildProposals numbers primaries from 1 and continues the numbering for
// alternatives.
func buildProposals(student *store.StudentProfile, exam *store.ExamRegistration, primary, alternatives []ScoredCandidate, emergency bool, now time.Time) ([]store.MatchAttempt, []store.MatchAttempt) {
	matches := make([]store.MatchAttempt, 0, len(primary))
	for i, c := range primary {
		matches = append(matches, BuildProposal(student, exam, c, ProposalKind{Rank: i + 1, Emergency: emergency}, now))
	}
	alts := make([]store.MatchAttempt, 0, len(alternatives))
	for i, c := range alternatives {
		alts = append(alts, BuildProposal(student, exam, c, ProposalKind{Rank: len(primary) + i + 1, Alternative: true, Emergency: emergency}, now))
	}
	return matches, alts
}
