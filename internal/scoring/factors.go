package scoring

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/MikeSquared-Agency/scribematch/internal/store"
)

// FactorResult captures one factor's contribution to the total score.
type FactorResult struct {
	Name     string  `json:"name"`
	Score    float64 `json:"score"`
	Weight   float64 `json:"weight"`
	Weighted float64 `json:"weighted"`
	Reason   string  `json:"reason"`
}

var factorNames = []string{
	"distance", "availability", "subject", "language",
	"experience", "rating", "preference",
}

// PairContext bundles all inputs needed to score a single student–scribe pair
// for one exam.
type PairContext struct {
	Student *store.StudentProfile
	Exam    *store.ExamRegistration
	Scribe  *store.ScribeProfile

	// MaxDistanceKm is the distance at which the distance score reaches zero.
	MaxDistanceKm float64
	// Now anchors age arithmetic.
	Now time.Time

	distanceKm *float64
}

// NewPairContext builds a PairContext whose distance is already known.
func NewPairContext(student *store.StudentProfile, exam *store.ExamRegistration, scribe *store.ScribeProfile, maxDistanceKm, distanceKm float64, now time.Time) *PairContext {
	return &PairContext{
		Student:       student,
		Exam:          exam,
		Scribe:        scribe,
		MaxDistanceKm: maxDistanceKm,
		Now:           now,
		distanceKm:    &distanceKm,
	}
}

// DistanceKm returns the student–scribe distance, computed once per pair.
func (pc *PairContext) DistanceKm() float64 {
	if pc.distanceKm == nil {
		d := HaversineKm(pc.Student.Location, pc.Scribe.Location)
		pc.distanceKm = &d
	}
	return *pc.distanceKm
}

// --- Individual factor calculators ---

// DistanceFactor decays linearly from 100 at zero distance to 0 at MaxDistanceKm.
func DistanceFactor(pc *PairContext) FactorResult {
	d := pc.DistanceKm()
	if pc.MaxDistanceKm <= 0 {
		return FactorResult{Name: "distance", Score: 0, Reason: "no distance threshold configured"}
	}
	score := math.Max(0, 100-(d/pc.MaxDistanceKm)*100)
	return FactorResult{Name: "distance", Score: score, Reason: fmt.Sprintf("%.1f km", d)}
}

// AvailabilityFactor is 100 when the scribe works the exam weekday and has a
// slot that day overlapping the exam window, otherwise 0.
func AvailabilityFactor(pc *PairContext) FactorResult {
	date, err := time.Parse(store.DateLayout, pc.Exam.Exam.Date)
	if err != nil {
		return FactorResult{Name: "availability", Score: 0, Reason: "invalid exam date"}
	}
	examStart, err1 := ParseClock(pc.Exam.Exam.StartTime)
	examEnd, err2 := ParseClock(pc.Exam.Exam.EndTime)
	if err1 != nil || err2 != nil {
		return FactorResult{Name: "availability", Score: 0, Reason: "invalid exam time"}
	}

	day := strings.ToLower(date.Weekday().String())
	if !ContainsFold(pc.Scribe.Availability.DaysOfWeek, day) {
		return FactorResult{Name: "availability", Score: 0, Reason: "not available on " + day}
	}
	for _, slot := range pc.Scribe.Availability.TimeSlots {
		if !strings.EqualFold(slot.Day, day) {
			continue
		}
		slotStart, err1 := ParseClock(slot.Start)
		slotEnd, err2 := ParseClock(slot.End)
		if err1 != nil || err2 != nil {
			continue
		}
		if slotStart < examEnd && examStart < slotEnd {
			return FactorResult{Name: "availability", Score: 100, Reason: fmt.Sprintf("slot %s-%s on %s", slot.Start, slot.End, day)}
		}
	}
	return FactorResult{Name: "availability", Score: 0, Reason: "no overlapping slot on " + day}
}

// SubjectFactor is the share of exam subjects the scribe is qualified in.
func SubjectFactor(pc *PairContext) FactorResult {
	subjects := pc.Exam.Exam.Subjects
	if len(subjects) == 0 {
		return FactorResult{Name: "subject", Score: 100, Reason: "no subjects required"}
	}
	matched := 0
	for _, s := range subjects {
		if ContainsFold(pc.Scribe.Qualifications.Subjects, s) {
			matched++
		}
	}
	score := float64(matched) / float64(len(subjects)) * 100
	return FactorResult{Name: "subject", Score: score, Reason: fmt.Sprintf("%d/%d subjects", matched, len(subjects))}
}

// LanguageFactor is 100 when the scribe knows the exam language.
func LanguageFactor(pc *PairContext) FactorResult {
	if ContainsFold(pc.Scribe.Qualifications.LanguagesKnown, pc.Exam.Exam.Language) {
		return FactorResult{Name: "language", Score: 100, Reason: "knows " + pc.Exam.Exam.Language}
	}
	return FactorResult{Name: "language", Score: 0, Reason: "missing: " + pc.Exam.Exam.Language}
}

// ExperienceFactor combines years served (capped at 40), prior experience
// with the exam type (30) and success rate (up to 30).
func ExperienceFactor(pc *PairContext) FactorResult {
	exp := pc.Scribe.Experience
	years := math.Min(exp.TotalYears*10, 40)

	typeBonus := 0.0
	if ContainsFold(exp.ExamTypes, pc.Exam.Exam.ExamType) {
		typeBonus = 30
	}

	total := exp.TotalExamsScribed
	if total < 1 {
		total = 1
	}
	successRate := float64(exp.SuccessfulExams) / float64(total)

	score := math.Min(100, years+typeBonus+successRate*30)
	return FactorResult{Name: "experience", Score: score, Reason: fmt.Sprintf("%.1f years, %.0f%% success", exp.TotalYears, successRate*100)}
}

// RatingFactor maps the 0–5 average rating onto 0–100.
func RatingFactor(pc *PairContext) FactorResult {
	r := pc.Scribe.Experience.AverageRating
	return FactorResult{Name: "rating", Score: r / 5 * 100, Reason: fmt.Sprintf("%.1f/5", r)}
}

// PreferenceFactor starts at 100 and deducts for soft preference misses:
// 20 for an age outside the requested range, 10 for special requirements
// none of the scribe's specializations address.
func PreferenceFactor(pc *PairContext) FactorResult {
	score := 100.0
	var reasons []string

	if ar := pc.Student.Preferences.AgeRange; ar != nil {
		age, err := AgeOn(pc.Scribe.PersonalInfo.DateOfBirth, pc.Now)
		if err != nil || age < ar.Min || age > ar.Max {
			score -= 20
			reasons = append(reasons, "age outside preferred range")
		}
	}

	if req := strings.TrimSpace(pc.Student.Preferences.SpecialRequirements); req != "" {
		if !addressesRequirements(pc.Scribe.Qualifications.Specializations, req) {
			score -= 10
			reasons = append(reasons, "special requirements not covered")
		}
	}

	if score < 0 {
		score = 0
	}
	reason := "all preferences met"
	if len(reasons) > 0 {
		reason = strings.Join(reasons, "; ")
	}
	return FactorResult{Name: "preference", Score: score, Reason: reason}
}

// ComputeFactors runs every factor calculator for the pair, in WeightSet order.
func ComputeFactors(pc *PairContext) []FactorResult {
	return []FactorResult{
		DistanceFactor(pc),
		AvailabilityFactor(pc),
		SubjectFactor(pc),
		LanguageFactor(pc),
		ExperienceFactor(pc),
		RatingFactor(pc),
		PreferenceFactor(pc),
	}
}

// ToMatchingFactors converts calculator output to the persisted value type.
// OverallScore is left for the caller.
func ToMatchingFactors(factors []FactorResult) store.MatchingFactors {
	var m store.MatchingFactors
	for _, f := range factors {
		switch f.Name {
		case "distance":
			m.DistanceScore = f.Score
		case "availability":
			m.AvailabilityScore = f.Score
		case "subject":
			m.SubjectMatchScore = f.Score
		case "language":
			m.LanguageMatchScore = f.Score
		case "experience":
			m.ExperienceScore = f.Score
		case "rating":
			m.RatingScore = f.Score
		case "preference":
			m.PreferenceMatchScore = f.Score
		}
	}
	return m
}

// ParseClock converts HH:MM into minutes since midnight.
func ParseClock(s string) (int, error) {
	h, m, ok := strings.Cut(strings.TrimSpace(s), ":")
	if !ok {
		return 0, fmt.Errorf("invalid time %q", s)
	}
	hours, err := strconv.Atoi(h)
	if err != nil || hours < 0 || hours > 24 {
		return 0, fmt.Errorf("invalid hour in %q", s)
	}
	mins, err := strconv.Atoi(m)
	if err != nil || mins < 0 || mins > 59 {
		return 0, fmt.Errorf("invalid minute in %q", s)
	}
	return hours*60 + mins, nil
}

// AgeOn returns the age in whole years on the given day.
func AgeOn(dateOfBirth string, now time.Time) (int, error) {
	dob, err := time.Parse(store.DateLayout, dateOfBirth)
	if err != nil {
		return 0, fmt.Errorf("invalid date of birth %q: %w", dateOfBirth, err)
	}
	age := now.Year() - dob.Year()
	if now.Month() < dob.Month() || (now.Month() == dob.Month() && now.Day() < dob.Day()) {
		age--
	}
	return age, nil
}

func addressesRequirements(specializations []string, requirements string) bool {
	req := strings.ToLower(requirements)
	for _, s := range specializations {
		s = strings.ToLower(strings.TrimSpace(s))
		if s != "" && strings.Contains(req, s) {
			return true
		}
	}
	return false
}

// ContainsFold reports whether list holds v, ignoring case and surrounding space.
func ContainsFold(list []string, v string) bool {
	v = strings.TrimSpace(v)
	for _, item := range list {
		if strings.EqualFold(strings.TrimSpace(item), v) {
			return true
		}
	}
	return false
}
