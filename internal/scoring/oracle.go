package scoring

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/MikeSquared-Agency/scribematch/internal/metrics"
	"github.com/MikeSquared-Agency/scribematch/internal/oracle"
	"github.com/MikeSquared-Agency/scribematch/internal/store"
)

var (
	// ErrInvalidReply marks an oracle reply that is not a number in [0,100].
	ErrInvalidReply = errors.New("oracle reply is not a score in [0,100]")
	// ErrOracleUnavailable marks a transport failure or timeout.
	ErrOracleUnavailable = errors.New("oracle unavailable")
)

var leadingNumber = regexp.MustCompile(`^[-+]?\d+(\.\d+)?`)

// OracleAdapter turns a factor vector into one overall score, preferring the
// oracle and falling back to the weighted sum on any failure.
type OracleAdapter struct {
	client  oracle.Client
	scorer  *Scorer
	timeout time.Duration
	opts    oracle.Options
	logger  *slog.Logger
	metrics *metrics.Metrics
}

// NewOracleAdapter builds an adapter. client may be nil, in which case every
// score comes from the fallback.
func NewOracleAdapter(client oracle.Client, scorer *Scorer, timeout time.Duration, opts oracle.Options, logger *slog.Logger, m *metrics.Metrics) *OracleAdapter {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &OracleAdapter{
		client:  client,
		scorer:  scorer,
		timeout: timeout,
		opts:    opts,
		logger:  logger,
		metrics: m,
	}
}

// OverallScore never fails: oracle errors are logged and absorbed.
func (a *OracleAdapter) OverallScore(ctx context.Context, pc *PairContext, factors []FactorResult) (int, store.ScoreSource) {
	fallback := a.scorer.Apply(factors)
	if a.client == nil {
		a.metrics.ObserveOracle(metrics.OracleDisabled, 0)
		return fallback, store.ScoreSourceFallback
	}

	score, err := a.ask(ctx, pc, factors)
	if err != nil {
		a.logger.Warn("oracle scoring failed, using weighted fallback",
			"student_id", pc.Student.ID,
			"scribe_id", pc.Scribe.ID,
			"exam_id", pc.Exam.ID,
			"fallback_score", fallback,
			"error", err,
		)
		return fallback, store.ScoreSourceFallback
	}
	return score, store.ScoreSourceOracle
}

func (a *OracleAdapter) ask(ctx context.Context, pc *PairContext, factors []FactorResult) (int, error) {
	ctx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	start := time.Now()
	reply, err := a.client.Complete(ctx, BuildPrompt(pc, factors), a.opts)
	elapsed := time.Since(start).Seconds()
	if err != nil {
		outcome := metrics.OracleError
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			outcome = metrics.OracleTimeout
		}
		a.metrics.ObserveOracle(outcome, elapsed)
		return 0, fmt.Errorf("%w: %v", ErrOracleUnavailable, err)
	}

	v, err := ParseScore(reply)
	if err != nil {
		a.metrics.ObserveOracle(metrics.OracleInvalid, elapsed)
		return 0, err
	}
	a.metrics.ObserveOracle(metrics.OracleOK, elapsed)
	return int(math.Round(v)), nil
}

// ParseScore reads the leading number of an oracle reply and checks range.
func ParseScore(reply string) (float64, error) {
	m := leadingNumber.FindString(strings.TrimSpace(reply))
	if m == "" {
		return 0, fmt.Errorf("%w: %q", ErrInvalidReply, reply)
	}
	v, err := strconv.ParseFloat(m, 64)
	if err != nil || math.IsNaN(v) || v < 0 || v > 100 {
		return 0, fmt.Errorf("%w: %q", ErrInvalidReply, reply)
	}
	return v, nil
}

// BuildPrompt describes the pair to the oracle and asks for a bare number.
func BuildPrompt(pc *PairContext, factors []FactorResult) string {
	st, ex, sc := pc.Student, pc.Exam, pc.Scribe
	var b strings.Builder

	b.WriteString("You are matching a volunteer exam scribe with a visually impaired student.\n")
	b.WriteString("Rate the overall compatibility from 0 to 100.\n\n")

	fmt.Fprintf(&b, "Student needs:\n- Disability: %s (%s)\n", st.Disability.Type, st.Disability.Severity)
	if len(st.Disability.Accommodations) > 0 {
		fmt.Fprintf(&b, "- Accommodations: %s\n", strings.Join(st.Disability.Accommodations, ", "))
	}
	if st.Preferences.SpecialRequirements != "" {
		fmt.Fprintf(&b, "- Special requirements: %s\n", st.Preferences.SpecialRequirements)
	}

	fmt.Fprintf(&b, "\nExam:\n- %s (%s), language %s\n- Subjects: %s\n- %s %s-%s\n",
		ex.Exam.Name, ex.Exam.ExamType, ex.Exam.Language,
		strings.Join(ex.Exam.Subjects, ", "),
		ex.Exam.Date, ex.Exam.StartTime, ex.Exam.EndTime)
	if len(ex.Requirements.Accommodations) > 0 {
		fmt.Fprintf(&b, "- Required accommodations: %s\n", strings.Join(ex.Requirements.Accommodations, ", "))
	}

	fmt.Fprintf(&b, "\nScribe:\n- Education: %s\n- Subjects: %s\n- Languages: %s\n",
		sc.Qualifications.EducationLevel,
		strings.Join(sc.Qualifications.Subjects, ", "),
		strings.Join(sc.Qualifications.LanguagesKnown, ", "))
	if len(sc.Qualifications.Specializations) > 0 {
		fmt.Fprintf(&b, "- Specializations: %s\n", strings.Join(sc.Qualifications.Specializations, ", "))
	}
	fmt.Fprintf(&b, "- Experience: %.1f years, %d exams (%d successful), rating %.1f/5\n",
		sc.Experience.TotalYears, sc.Experience.TotalExamsScribed,
		sc.Experience.SuccessfulExams, sc.Experience.AverageRating)

	b.WriteString("\nFactor scores (0-100):\n")
	for _, f := range factors {
		fmt.Fprintf(&b, "- %s: %.0f (%s)\n", f.Name, f.Score, f.Reason)
	}

	b.WriteString("\nRespond with only a number between 0 and 100.")
	return b.String()
}
