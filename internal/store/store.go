package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

// DateLayout is the calendar date format used for exam dates, blackout dates
// and birth dates.
const DateLayout = "2006-01-02"

// GenderAny disables the gender preference check.
const GenderAny = "any"

var (
	ErrNotFound    = errors.New("not found")
	ErrNotProposed = errors.New("match attempt is not in proposed state")
)

type Location struct {
	Latitude  float64 `json:"lat" validate:"latitude"`
	Longitude float64 `json:"lon" validate:"longitude"`
	Locality  string  `json:"locality,omitempty"`
}

// --- Student ---

type Disability struct {
	Type           string   `json:"type"`
	Severity       string   `json:"severity"`
	Accommodations []string `json:"accommodations,omitempty"`
}

type AcademicInfo struct {
	Institution string   `json:"institution,omitempty"`
	Level       string   `json:"level,omitempty"`
	Subjects    []string `json:"subjects,omitempty"`
	Languages   []string `json:"languages,omitempty"`
}

// AgeRange is inclusive on both ends.
type AgeRange struct {
	Min int `json:"min" validate:"gte=0"`
	Max int `json:"max" validate:"gtefield=Min"`
}

type StudentPreferences struct {
	GenderPreference    string    `json:"gender_preference,omitempty"`
	AgeRange            *AgeRange `json:"age_range,omitempty"`
	MaxTravelDistance   float64   `json:"max_travel_distance" validate:"gte=0"`
	SpecialRequirements string    `json:"special_requirements,omitempty"`
}

type StudentProfile struct {
	ID          string             `json:"id"`
	Name        string             `json:"name"`
	Disability  Disability         `json:"disability"`
	Location    Location           `json:"location"`
	Academic    AcademicInfo       `json:"academic"`
	Preferences StudentPreferences `json:"preferences"`
	IsVerified  bool               `json:"is_verified"`
}

// --- Scribe ---

type ScribePersonalInfo struct {
	Name        string `json:"name"`
	Gender      string `json:"gender"`
	DateOfBirth string `json:"date_of_birth" validate:"omitempty,datetime=2006-01-02"`
	Phone       string `json:"phone,omitempty"`
}

type Qualifications struct {
	EducationLevel  string   `json:"education_level,omitempty"`
	Subjects        []string `json:"subjects,omitempty"`
	LanguagesKnown  []string `json:"languages_known,omitempty"`
	Specializations []string `json:"specializations,omitempty"`
}

type ExperienceStats struct {
	TotalYears        float64  `json:"total_years" validate:"gte=0"`
	TotalExamsScribed int      `json:"total_exams_scribed" validate:"gte=0"`
	SuccessfulExams   int      `json:"successful_exams" validate:"gte=0,ltefield=TotalExamsScribed"`
	AverageRating     float64  `json:"average_rating" validate:"gte=0,lte=5"`
	ExamTypes         []string `json:"exam_types,omitempty"`
}

// TimeSlot is a recurring weekly window; Start and End are HH:MM.
type TimeSlot struct {
	Day   string `json:"day"`
	Start string `json:"start" validate:"datetime=15:04"`
	End   string `json:"end" validate:"datetime=15:04"`
}

type Availability struct {
	DaysOfWeek         []string   `json:"days_of_week,omitempty"`
	TimeSlots          []TimeSlot `json:"time_slots,omitempty" validate:"dive"`
	MaxDistanceWilling float64    `json:"max_distance_willing" validate:"gte=0"`
	ExamTypesWilling   []string   `json:"exam_types_willing,omitempty"`
	BlackoutDates      []string   `json:"blackout_dates,omitempty" validate:"dive,datetime=2006-01-02"`
}

type ScribeProfile struct {
	ID             string             `json:"id"`
	PersonalInfo   ScribePersonalInfo `json:"personal_info"`
	Location       Location           `json:"location"`
	Qualifications Qualifications     `json:"qualifications"`
	Experience     ExperienceStats    `json:"experience"`
	Availability   Availability       `json:"availability"`
	IsVerified     bool               `json:"is_verified"`
}

// --- Exam ---

type ExamStatus string

const (
	ExamStatusRegistered ExamStatus = "registered"
	ExamStatusMatching   ExamStatus = "matching"
	ExamStatusMatched    ExamStatus = "matched"
	ExamStatusWaitlisted ExamStatus = "waitlisted"
	ExamStatusCompleted  ExamStatus = "completed"
	ExamStatusCancelled  ExamStatus = "cancelled"
)

type ExamDetails struct {
	Name            string   `json:"name"`
	ExamType        string   `json:"exam_type" validate:"required"`
	Subjects        []string `json:"subjects,omitempty"`
	Language        string   `json:"language" validate:"required"`
	Date            string   `json:"date" validate:"required,datetime=2006-01-02"`
	StartTime       string   `json:"start_time" validate:"required,datetime=15:04"`
	EndTime         string   `json:"end_time" validate:"required,datetime=15:04"`
	DurationMinutes int      `json:"duration_minutes" validate:"gte=0"`
	Venue           Location `json:"venue"`
}

type ExamRequirements struct {
	Accommodations   []string `json:"accommodations,omitempty"`
	ExtraTimeMinutes int      `json:"extra_time_minutes,omitempty"`
	Notes            string   `json:"notes,omitempty"`
}

type ExamRegistration struct {
	ID           string           `json:"id"`
	StudentID    string           `json:"student_id" validate:"required"`
	Exam         ExamDetails      `json:"exam"`
	Requirements ExamRequirements `json:"requirements"`
	Status       ExamStatus       `json:"status"`
	MatchHistory []uuid.UUID      `json:"match_history,omitempty"`
}

// --- Matching ---

// MatchingFactors holds the seven 0–100 component scores and the overall
// score derived from them.
type MatchingFactors struct {
	DistanceScore        float64 `json:"distance_score"`
	AvailabilityScore    float64 `json:"availability_score"`
	SubjectMatchScore    float64 `json:"subject_match_score"`
	LanguageMatchScore   float64 `json:"language_match_score"`
	ExperienceScore      float64 `json:"experience_score"`
	RatingScore          float64 `json:"rating_score"`
	PreferenceMatchScore float64 `json:"preference_match_score"`
	OverallScore         int     `json:"overall_score"`
}

type MatchStatus string

const (
	MatchStatusProposed MatchStatus = "proposed"
	MatchStatusAccepted MatchStatus = "accepted"
	MatchStatusDeclined MatchStatus = "declined"
	MatchStatusExpired  MatchStatus = "expired"
)

type ScoreSource string

const (
	ScoreSourceOracle   ScoreSource = "oracle"
	ScoreSourceFallback ScoreSource = "fallback"
)

type MatchAttempt struct {
	ID          uuid.UUID       `json:"id"`
	StudentID   string          `json:"student_id"`
	ScribeID    string          `json:"scribe_id"`
	ExamID      string          `json:"exam_id"`
	MatchScore  int             `json:"match_score"`
	Factors     MatchingFactors `json:"factors"`
	Status      MatchStatus     `json:"status"`
	ProposedAt  time.Time       `json:"proposed_at"`
	RespondedAt *time.Time      `json:"responded_at,omitempty"`
	Notes       string          `json:"notes"`

	// Audit
	ScoreSource ScoreSource `json:"score_source"`
	DistanceKm  float64     `json:"distance_km"`
	Rank        int         `json:"rank"`
	Alternative bool        `json:"alternative"`
	Emergency   bool        `json:"emergency"`
}

type MatchFilter struct {
	StudentID string
	ScribeID  string
	ExamID    string
	Status    *MatchStatus
	Limit     int
	Offset    int
}

type ScribeFilter struct {
	VerifiedOnly bool
	Limit        int
}

type MatchStats struct {
	TotalProposed int     `json:"total_proposed"`
	TotalAccepted int     `json:"total_accepted"`
	TotalDeclined int     `json:"total_declined"`
	TotalExpired  int     `json:"total_expired"`
	AvgScore      float64 `json:"avg_match_score"`
	OracleShare   float64 `json:"oracle_share"`
}

type Store interface {
	UpsertStudent(ctx context.Context, s *StudentProfile) error
	GetStudent(ctx context.Context, id string) (*StudentProfile, error)

	UpsertScribe(ctx context.Context, s *ScribeProfile) error
	GetScribe(ctx context.Context, id string) (*ScribeProfile, error)
	ListScribes(ctx context.Context, filter ScribeFilter) ([]ScribeProfile, error)

	UpsertExam(ctx context.Context, e *ExamRegistration) error
	GetExam(ctx context.Context, id string) (*ExamRegistration, error)
	AppendMatchHistory(ctx context.Context, examID string, attemptIDs []uuid.UUID, status ExamStatus) error

	CreateMatchAttempts(ctx context.Context, attempts []*MatchAttempt) error
	GetMatchAttempt(ctx context.Context, id uuid.UUID) (*MatchAttempt, error)
	ListMatchAttempts(ctx context.Context, filter MatchFilter) ([]*MatchAttempt, error)
	UpdateMatchStatus(ctx context.Context, id uuid.UUID, status MatchStatus) error
	// AcceptMatch accepts a proposal, expires the exam's other open proposals
	// and marks the exam matched, atomically. It returns the expired siblings.
	AcceptMatch(ctx context.Context, id uuid.UUID) ([]*MatchAttempt, error)
	GetStaleProposals(ctx context.Context, proposedBefore time.Time) ([]*MatchAttempt, error)
	CountOpenProposals(ctx context.Context, studentID string) (int, error)

	GetStats(ctx context.Context) (*MatchStats, error)

	Close() error
}
