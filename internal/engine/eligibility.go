package engine

import (
	"math"
	"strings"

	"github.com/MikeSquared-Agency/scribematch/internal/scoring"
	"github.com/MikeSquared-Agency/scribematch/internal/store"
)

// FilterParams tightens the hard constraints. The zero value applies only
// the standard rules.
type FilterParams struct {
	// DistanceCapKm further bounds the travel distance when > 0.
	DistanceCapKm float64
	// Exclude lists scribe ids that must not be proposed again.
	Exclude map[string]bool
}

// EligibleScribe is a scribe that passed every hard constraint.
type EligibleScribe struct {
	Scribe     *store.ScribeProfile
	DistanceKm float64
}

// CheckEligibility applies the hard constraints to one scribe. It returns the
// computed distance and, when ineligible, the first failed rule.
func CheckEligibility(student *store.StudentProfile, exam *store.ExamRegistration, scribe *store.ScribeProfile, p FilterParams) (bool, string, float64) {
	if p.Exclude[scribe.ID] {
		return false, "excluded", 0
	}
	if !scribe.IsVerified {
		return false, "not verified", 0
	}

	distance := scoring.HaversineKm(student.Location, scribe.Location)
	limit := math.Min(student.Preferences.MaxTravelDistance, scribe.Availability.MaxDistanceWilling)
	if p.DistanceCapKm > 0 {
		limit = math.Min(limit, p.DistanceCapKm)
	}
	if distance > limit {
		return false, "too far", distance
	}

	if !scoring.ContainsFold(scribe.Availability.ExamTypesWilling, exam.Exam.ExamType) {
		return false, "exam type not accepted", distance
	}
	if !scoring.ContainsFold(scribe.Qualifications.LanguagesKnown, exam.Exam.Language) {
		return false, "language not known", distance
	}

	pref := strings.TrimSpace(student.Preferences.GenderPreference)
	if pref != "" && !strings.EqualFold(pref, store.GenderAny) && !strings.EqualFold(pref, scribe.PersonalInfo.Gender) {
		return false, "gender preference", distance
	}

	for _, d := range scribe.Availability.BlackoutDates {
		if strings.TrimSpace(d) == exam.Exam.Date {
			return false, "blackout date", distance
		}
	}
	return true, "", distance
}

// FilterEligible returns the scribes that satisfy every hard constraint, in
// input order.
func FilterEligible(student *store.StudentProfile, exam *store.ExamRegistration, scribes []store.ScribeProfile, p FilterParams) []EligibleScribe {
	var out []EligibleScribe
	for i := range scribes {
		ok, _, d := CheckEligibility(student, exam, &scribes[i], p)
		if ok {
			out = append(out, EligibleScribe{Scribe: &scribes[i], DistanceKm: d})
		}
	}
	return out
}
