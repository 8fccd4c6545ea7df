package engine

import (
	"context"

	"github.com/MikeSquared-Agency/scribematch/internal/store"
)

// EmergencyMatch re-runs matching after a confirmed scribe dropped out. The
// scribes in excludeIDs are never proposed, travel is capped at
// EmergencyMaxDistanceKm and the acceptance threshold drops to
// EmergencyMinimumScore.
func (e *Engine) EmergencyMatch(ctx context.Context, student *store.StudentProfile, exam *store.ExamRegistration, scribes []store.ScribeProfile, excludeIDs []string) MatchingResponse {
	exclude := make(map[string]bool, len(excludeIDs))
	for _, id := range excludeIDs {
		exclude[id] = true
	}
	return e.match(ctx, run{
		mode:         ModeEmergency,
		minimumScore: e.cfg.EmergencyMinimumScore,
		filter: FilterParams{
			DistanceCapKm: e.cfg.EmergencyMaxDistanceKm,
			Exclude:       exclude,
		},
		emergency: true,
	}, student, exam, scribes)
}
