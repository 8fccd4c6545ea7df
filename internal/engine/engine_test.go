package engine

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"regexp"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MikeSquared-Agency/scribematch/internal/oracle"
	"github.com/MikeSquared-Agency/scribematch/internal/scoring"
	"github.com/MikeSquared-Agency/scribematch/internal/store"
)

var (
	bangalore   = store.Location{Latitude: 12.9716, Longitude: 77.5946, Locality: "Bangalore"}
	koramangala = store.Location{Latitude: 12.9352, Longitude: 77.6245, Locality: "Koramangala"}
	hebbal      = store.Location{Latitude: 13.0827, Longitude: 77.5877, Locality: "Hebbal"}
	// ~30 km due north of bangalore
	doddaballapur = store.Location{Latitude: 13.2416, Longitude: 77.5946}
	mysore        = store.Location{Latitude: 12.2958, Longitude: 76.6394}

	fixedNow = time.Date(2026, 10, 1, 9, 0, 0, 0, time.UTC)
)

// Fakes

type fakeOracle struct {
	mu      sync.Mutex
	reply   func(ctx context.Context, prompt string) (string, error)
	prompts []string
	opts    []oracle.Options
}

func (f *fakeOracle) Complete(ctx context.Context, prompt string, opts oracle.Options) (string, error) {
	f.mu.Lock()
	f.prompts = append(f.prompts, prompt)
	f.opts = append(f.opts, opts)
	f.mu.Unlock()
	return f.reply(ctx, prompt)
}

var educationLine = regexp.MustCompile(`Education: (\S+)`)

// scoresByScribe replies with a fixed score per scribe. Test scribes carry
// their id in the education level, which the prompt includes.
func scoresByScribe(scores map[string]string) *fakeOracle {
	return &fakeOracle{reply: func(_ context.Context, prompt string) (string, error) {
		m := educationLine.FindStringSubmatch(prompt)
		if m == nil {
			return "", errors.New("no scribe in prompt")
		}
		return scores[m[1]], nil
	}}
}

type fakeWaitlist struct {
	mu       sync.Mutex
	position int
	err      error
	entries  []string
}

func (w *fakeWaitlist) Enqueue(_ context.Context, studentID string, exam *store.ExamRegistration) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.err != nil {
		return 0, w.err
	}
	w.entries = append(w.entries, PairKey(studentID, exam.ID))
	return w.position, nil
}

// Fixtures

func testStudent() *store.StudentProfile {
	return &store.StudentProfile{
		ID:         "stu-1",
		Name:       "Asha",
		Disability: store.Disability{Type: "visual", Severity: "severe"},
		Location:   bangalore,
		Preferences: store.StudentPreferences{
			GenderPreference:  "any",
			MaxTravelDistance: 50,
		},
		IsVerified: true,
	}
}

func testExam() *store.ExamRegistration {
	return &store.ExamRegistration{
		ID:        "exam-1",
		StudentID: "stu-1",
		Exam: store.ExamDetails{
			Name:      "Class 10 Board",
			ExamType:  "board",
			Subjects:  []string{"mathematics"},
			Language:  "english",
			Date:      "2026-11-02", // Monday
			StartTime: "09:00",
			EndTime:   "12:00",
		},
		Status: store.ExamStatusRegistered,
	}
}

func testScribe(id string, loc store.Location) store.ScribeProfile {
	return store.ScribeProfile{
		ID:           id,
		PersonalInfo: store.ScribePersonalInfo{Name: "Scribe " + id, Gender: "female", DateOfBirth: "1998-04-12"},
		Location:     loc,
		Qualifications: store.Qualifications{
			EducationLevel: id,
			Subjects:       []string{"Mathematics", "Physics"},
			LanguagesKnown: []string{"English", "Kannada"},
		},
		Experience: store.ExperienceStats{
			TotalYears:        2,
			TotalExamsScribed: 10,
			SuccessfulExams:   10,
			AverageRating:     4.5,
			ExamTypes:         []string{"board"},
		},
		Availability: store.Availability{
			DaysOfWeek:         []string{"monday"},
			TimeSlots:          []store.TimeSlot{{Day: "monday", Start: "08:00", End: "13:00"}},
			MaxDistanceWilling: 50,
			ExamTypesWilling:   []string{"board"},
		},
		IsVerified: true,
	}
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestEngine(t *testing.T, client oracle.Client, mutate func(*Config), opts ...Option) *Engine {
	t.Helper()
	cfg := DefaultConfig()
	if mutate != nil {
		mutate(&cfg)
	}
	opts = append([]Option{WithClock(func() time.Time { return fixedNow })}, opts...)
	e, err := New(cfg, client, testLogger(), opts...)
	require.NoError(t, err)
	return e
}

// Tests

func TestFindMatches_NearbyQualifiedScribeIsProposed(t *testing.T) {
	e := newTestEngine(t, nil, nil)
	scribes := []store.ScribeProfile{testScribe("s1", koramangala)}

	resp := e.FindMatches(context.Background(), testStudent(), testExam(), scribes)

	require.True(t, resp.Success, resp.Message)
	require.Len(t, resp.Matches, 1)
	m := resp.Matches[0]
	assert.Equal(t, "s1", m.ScribeID)
	assert.Equal(t, "stu-1", m.StudentID)
	assert.Equal(t, "exam-1", m.ExamID)
	assert.Equal(t, store.MatchStatusProposed, m.Status)
	assert.NotEqual(t, uuid.Nil, m.ID)
	assert.Equal(t, fixedNow, m.ProposedAt)
	assert.Equal(t, 1, m.Rank)
	assert.Equal(t, store.ScoreSourceFallback, m.ScoreSource)

	assert.InDelta(t, 91, m.Factors.DistanceScore, 2)
	assert.Equal(t, 100.0, m.Factors.AvailabilityScore)
	assert.Equal(t, 100.0, m.Factors.SubjectMatchScore)
	assert.Equal(t, 100.0, m.Factors.LanguageMatchScore)
	assert.GreaterOrEqual(t, m.MatchScore, 60)
	assert.Equal(t, m.MatchScore, m.Factors.OverallScore)
	assert.Equal(t, e.scorer.WeightedSum(m.Factors), m.MatchScore)
	assert.Contains(t, m.Notes, "fallback")
	assert.Equal(t, "found 1 matches", resp.Message)
	assert.NoError(t, resp.Err)
	assert.Nil(t, resp.WaitlistPosition)
}

func TestFindMatches_BlackoutDateExcludesOnlyScribe(t *testing.T) {
	wl := &fakeWaitlist{position: 4}
	e := newTestEngine(t, nil, nil, WithWaitlist(wl))
	sc := testScribe("s1", koramangala)
	sc.Availability.BlackoutDates = []string{"2026-11-02"}

	resp := e.FindMatches(context.Background(), testStudent(), testExam(), []store.ScribeProfile{sc})

	assert.False(t, resp.Success)
	assert.Equal(t, MsgNoEligible, resp.Message)
	assert.ErrorIs(t, resp.Err, ErrNoEligibleScribes)
	assert.NotNil(t, resp.Matches)
	assert.Empty(t, resp.Matches)
	require.NotNil(t, resp.WaitlistPosition)
	assert.Equal(t, 4, *resp.WaitlistPosition)
	assert.Equal(t, []string{"stu-1-exam-1"}, wl.entries)
}

func TestFindMatches_WaitlistErrorOmitsPosition(t *testing.T) {
	e := newTestEngine(t, nil, nil, WithWaitlist(&fakeWaitlist{err: errors.New("redis down")}))

	resp := e.FindMatches(context.Background(), testStudent(), testExam(), nil)

	assert.False(t, resp.Success)
	assert.Nil(t, resp.WaitlistPosition)
}

func TestFindMatches_EmptyPool(t *testing.T) {
	e := newTestEngine(t, nil, nil)

	assert.NotPanics(t, func() {
		resp := e.FindMatches(context.Background(), testStudent(), testExam(), []store.ScribeProfile{})
		assert.False(t, resp.Success)
		assert.Equal(t, MsgNoEligible, resp.Message)
	})
}

func TestFindMatches_UnverifiedScribesNeverProposed(t *testing.T) {
	e := newTestEngine(t, nil, nil)
	a := testScribe("s1", koramangala)
	a.IsVerified = false
	b := testScribe("s2", hebbal)

	resp := e.FindMatches(context.Background(), testStudent(), testExam(), []store.ScribeProfile{a, b})

	require.True(t, resp.Success)
	for _, m := range append(resp.Matches, resp.Alternatives...) {
		assert.NotEqual(t, "s1", m.ScribeID)
	}
}

func TestFindMatches_OracleScoresSplitPrimaryAndAlternatives(t *testing.T) {
	fo := scoresByScribe(map[string]string{
		"s1": "55", "s2": "85", "s3": "40", "s4": "72", "s5": "68",
	})
	e := newTestEngine(t, fo, nil)
	scribes := []store.ScribeProfile{
		testScribe("s1", koramangala),
		testScribe("s2", koramangala),
		testScribe("s3", hebbal),
		testScribe("s4", hebbal),
		testScribe("s5", koramangala),
	}

	resp := e.FindMatches(context.Background(), testStudent(), testExam(), scribes)

	require.True(t, resp.Success)
	require.Len(t, resp.Matches, 3)
	require.Len(t, resp.Alternatives, 2)
	assert.Equal(t, []int{85, 72, 68}, scoresOf(resp.Matches))
	assert.Equal(t, []int{55, 40}, scoresOf(resp.Alternatives))
	assert.Equal(t, []int{1, 2, 3}, []int{resp.Matches[0].Rank, resp.Matches[1].Rank, resp.Matches[2].Rank})
	assert.Equal(t, 4, resp.Alternatives[0].Rank)
	for _, a := range resp.Alternatives {
		assert.True(t, a.Alternative)
		assert.Equal(t, store.ScoreSourceOracle, a.ScoreSource)
	}

	require.Len(t, fo.opts, 5)
	assert.Equal(t, 0.1, fo.opts[0].Temperature)
	assert.Equal(t, 10, fo.opts[0].MaxTokens)
}

func TestFindMatches_OracleCallsBoundedByConcurrency(t *testing.T) {
	var inFlight, peak int32
	fo := &fakeOracle{reply: func(context.Context, string) (string, error) {
		n := atomic.AddInt32(&inFlight, 1)
		for {
			p := atomic.LoadInt32(&peak)
			if n <= p || atomic.CompareAndSwapInt32(&peak, p, n) {
				break
			}
		}
		time.Sleep(20 * time.Millisecond)
		atomic.AddInt32(&inFlight, -1)
		return "75", nil
	}}
	e := newTestEngine(t, fo, func(c *Config) { c.OracleConcurrency = 2 })

	var scribes []store.ScribeProfile
	for _, id := range []string{"s1", "s2", "s3", "s4", "s5", "s6"} {
		scribes = append(scribes, testScribe(id, koramangala))
	}

	resp := e.FindMatches(context.Background(), testStudent(), testExam(), scribes)

	require.True(t, resp.Success)
	assert.Len(t, fo.prompts, 6)
	assert.LessOrEqual(t, atomic.LoadInt32(&peak), int32(2))
	assert.GreaterOrEqual(t, atomic.LoadInt32(&peak), int32(1))
}

func TestFindMatches_InvalidOracleRepliesFallBack(t *testing.T) {
	for _, reply := range []string{"not a number", "150", "-3", ""} {
		t.Run(reply, func(t *testing.T) {
			fo := &fakeOracle{reply: func(context.Context, string) (string, error) { return reply, nil }}
			e := newTestEngine(t, fo, nil)

			resp := e.FindMatches(context.Background(), testStudent(), testExam(), []store.ScribeProfile{testScribe("s1", koramangala)})

			require.True(t, resp.Success)
			m := resp.Matches[0]
			assert.Equal(t, store.ScoreSourceFallback, m.ScoreSource)
			assert.Equal(t, e.scorer.WeightedSum(m.Factors), m.MatchScore)
		})
	}
}

func TestFindMatches_OracleTimeoutFallsBack(t *testing.T) {
	fo := &fakeOracle{reply: func(ctx context.Context, _ string) (string, error) {
		<-ctx.Done()
		return "", ctx.Err()
	}}
	e := newTestEngine(t, fo, func(c *Config) { c.OracleTimeout = 20 * time.Millisecond })

	start := time.Now()
	resp := e.FindMatches(context.Background(), testStudent(), testExam(), []store.ScribeProfile{testScribe("s1", koramangala)})

	require.True(t, resp.Success)
	assert.Equal(t, store.ScoreSourceFallback, resp.Matches[0].ScoreSource)
	assert.Less(t, time.Since(start), 2*time.Second)
}

func TestFindMatches_OracleErrorFallsBack(t *testing.T) {
	fo := &fakeOracle{reply: func(context.Context, string) (string, error) {
		return "", errors.New("connection refused")
	}}
	e := newTestEngine(t, fo, nil)

	resp := e.FindMatches(context.Background(), testStudent(), testExam(), []store.ScribeProfile{testScribe("s1", koramangala)})

	require.True(t, resp.Success)
	assert.Equal(t, store.ScoreSourceFallback, resp.Matches[0].ScoreSource)
}

func TestFindMatches_BelowMinimumScore(t *testing.T) {
	fo := &fakeOracle{reply: func(context.Context, string) (string, error) { return "30", nil }}
	e := newTestEngine(t, fo, nil)

	resp := e.FindMatches(context.Background(), testStudent(), testExam(), []store.ScribeProfile{testScribe("s1", koramangala)})

	assert.False(t, resp.Success)
	assert.Contains(t, resp.Message, "minimum compatibility score of 60")
	assert.ErrorIs(t, resp.Err, ErrBelowThreshold)
	assert.Empty(t, resp.Matches)
	assert.Nil(t, resp.WaitlistPosition)
}

func TestFindMatches_Cancelled(t *testing.T) {
	e := newTestEngine(t, nil, nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	resp := e.FindMatches(ctx, testStudent(), testExam(), []store.ScribeProfile{testScribe("s1", koramangala)})

	assert.False(t, resp.Success)
	assert.Equal(t, MsgCancelled, resp.Message)
}

func TestFindMatches_CancelledWhileScoring(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	fo := &fakeOracle{reply: func(c context.Context, _ string) (string, error) {
		cancel()
		<-c.Done()
		return "", c.Err()
	}}
	e := newTestEngine(t, fo, nil)

	resp := e.FindMatches(ctx, testStudent(), testExam(), []store.ScribeProfile{testScribe("s1", koramangala)})

	assert.False(t, resp.Success)
	assert.Equal(t, MsgCancelled, resp.Message)
}

func TestFindMatches_RecoversFromPanic(t *testing.T) {
	fo := &fakeOracle{reply: func(context.Context, string) (string, error) { panic("boom") }}
	e := newTestEngine(t, fo, nil)

	var resp MatchingResponse
	require.NotPanics(t, func() {
		resp = e.FindMatches(context.Background(), testStudent(), testExam(), []store.ScribeProfile{testScribe("s1", koramangala)})
	})
	assert.False(t, resp.Success)
	assert.Equal(t, MsgSystemError, resp.Message)
	assert.ErrorIs(t, resp.Err, ErrInternal)
}

func TestFindMatches_InvalidRequest(t *testing.T) {
	e := newTestEngine(t, nil, nil)
	scribes := []store.ScribeProfile{testScribe("s1", koramangala)}

	tests := []struct {
		name   string
		mutate func(*store.ExamRegistration)
	}{
		{"bad date", func(x *store.ExamRegistration) { x.Exam.Date = "02/11/2026" }},
		{"bad start", func(x *store.ExamRegistration) { x.Exam.StartTime = "nine" }},
		{"end before start", func(x *store.ExamRegistration) { x.Exam.EndTime = "08:00" }},
		{"missing id", func(x *store.ExamRegistration) { x.ID = "" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			exam := testExam()
			tt.mutate(exam)
			resp := e.FindMatches(context.Background(), testStudent(), exam, scribes)
			assert.False(t, resp.Success)
			assert.True(t, strings.HasPrefix(resp.Message, MsgInvalidRequest), resp.Message)
		})
	}

	resp := e.FindMatches(context.Background(), nil, testExam(), scribes)
	assert.False(t, resp.Success)
}

func TestEmergencyMatch_ExcludesAndCapsDistance(t *testing.T) {
	e := newTestEngine(t, nil, nil)
	scribes := []store.ScribeProfile{
		testScribe("dropped", koramangala),
		testScribe("near", hebbal),
		testScribe("far", doddaballapur),
	}

	standard := e.FindMatches(context.Background(), testStudent(), testExam(), scribes)
	require.True(t, standard.Success)
	assert.Contains(t, idsOf(append(standard.Matches, standard.Alternatives...)), "far")

	resp := e.EmergencyMatch(context.Background(), testStudent(), testExam(), scribes, []string{"dropped"})

	require.True(t, resp.Success, resp.Message)
	ids := idsOf(append(resp.Matches, resp.Alternatives...))
	assert.Equal(t, []string{"near"}, ids)
	assert.True(t, resp.Matches[0].Emergency)
	assert.Contains(t, resp.Matches[0].Notes, "Emergency")
}

func TestEmergencyMatch_UsesLowerThreshold(t *testing.T) {
	fo := &fakeOracle{reply: func(context.Context, string) (string, error) { return "45", nil }}
	e := newTestEngine(t, fo, nil)
	scribes := []store.ScribeProfile{testScribe("s1", koramangala)}

	assert.False(t, e.FindMatches(context.Background(), testStudent(), testExam(), scribes).Success)
	assert.True(t, e.EmergencyMatch(context.Background(), testStudent(), testExam(), scribes, nil).Success)
}

func TestBulkMatch_KeyedByStudentAndExam(t *testing.T) {
	e := newTestEngine(t, nil, func(c *Config) { c.BulkConcurrency = 2 })
	scribes := []store.ScribeProfile{testScribe("s1", koramangala)}

	other := testStudent()
	other.ID = "stu-2"
	otherExam := testExam()
	otherExam.ID = "exam-2"
	otherExam.StudentID = "stu-2"
	otherExam.Exam.Language = "tamil"

	results := e.BulkMatch(context.Background(), []BulkRequest{
		{Student: testStudent(), Exam: testExam(), Scribes: scribes},
		{Student: other, Exam: otherExam, Scribes: scribes},
	})

	require.Len(t, results, 2)
	assert.True(t, results["stu-1-exam-1"].Success)
	assert.False(t, results["stu-2-exam-2"].Success)
	assert.Equal(t, MsgNoEligible, results["stu-2-exam-2"].Message)
}

func TestBulkMatch_Empty(t *testing.T) {
	e := newTestEngine(t, nil, nil)
	assert.Empty(t, e.BulkMatch(context.Background(), nil))
}

func TestNew_RejectsInvalidConfig(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"negative weight", func(c *Config) { c.Weights.Rating = -0.1 }},
		{"minimum over 100", func(c *Config) { c.MinimumScore = 101 }},
		{"zero matches", func(c *Config) { c.MaxMatchesPerRequest = 0 }},
		{"zero distance", func(c *Config) { c.MaximumDistanceKm = 0 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(&cfg)
			_, err := New(cfg, nil, testLogger())
			assert.Error(t, err)
		})
	}
}

func TestNew_AcceptsUnnormalizedWeights(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Weights = scoring.WeightSet{Distance: 1, Availability: 1}
	_, err := New(cfg, nil, testLogger())
	assert.NoError(t, err)
}

func scoresOf(ms []store.MatchAttempt) []int {
	out := make([]int, len(ms))
	for i, m := range ms {
		out[i] = m.MatchScore
	}
	return out
}

func idsOf(ms []store.MatchAttempt) []string {
	out := make([]string, len(ms))
	for i, m := range ms {
		out[i] = m.ScribeID
	}
	return out
}
