// Package engine ranks eligible scribes for a student's exam and turns the
// best candidates into proposals.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/MikeSquared-Agency/scribematch/internal/metrics"
	"github.com/MikeSquared-Agency/scribematch/internal/oracle"
	"github.com/MikeSquared-Agency/scribematch/internal/scoring"
	"github.com/MikeSquared-Agency/scribematch/internal/store"
)

// Response messages for unsuccessful runs.
const (
	MsgNoEligible     = "no eligible scribes available for this exam"
	MsgSystemError    = "system error"
	MsgCancelled      = "matching cancelled"
	MsgInvalidRequest = "invalid matching request"
)

// Failure reasons carried in MatchingResponse.Err.
var (
	ErrNoEligibleScribes = errors.New("no eligible scribes")
	ErrBelowThreshold    = errors.New("no candidate met the minimum score")
	ErrInvalidRequest    = errors.New("invalid matching request")
	ErrCancelled         = errors.New("matching cancelled")
	ErrInternal          = errors.New("internal matching failure")
)

// Modes label metrics and logs.
const (
	ModeStandard  = "standard"
	ModeEmergency = "emergency"
	ModeBulk      = "bulk"
)

// Outcomes label metrics.
const (
	OutcomeMatched     = "matched"
	OutcomeNoEligible  = "no_eligible"
	OutcomeBelowMin    = "below_minimum"
	OutcomeCancelled   = "cancelled"
	OutcomeSystemError = "system_error"
	OutcomeInvalid     = "invalid"
)

// Config holds the matching parameters.
type Config struct {
	Weights              scoring.WeightSet
	MinimumScore         int
	MaximumDistanceKm    float64
	MaxMatchesPerRequest int
	BackupScribeCount    int

	// OracleConcurrency bounds concurrent scoring calls per run.
	OracleConcurrency int
	OracleTimeout     time.Duration
	OracleOptions     oracle.Options

	EmergencyMaxDistanceKm float64
	EmergencyMinimumScore  int

	// BulkConcurrency bounds how many requests BulkMatch runs at once.
	BulkConcurrency int
}

// DefaultConfig returns the production defaults.
func DefaultConfig() Config {
	return Config{
		Weights:                scoring.DefaultWeights(),
		MinimumScore:           60,
		MaximumDistanceKm:      50,
		MaxMatchesPerRequest:   3,
		BackupScribeCount:      2,
		OracleConcurrency:      4,
		OracleTimeout:          5 * time.Second,
		OracleOptions:          oracle.Options{Temperature: 0.1, MaxTokens: 10},
		EmergencyMaxDistanceKm: 25,
		EmergencyMinimumScore:  40,
		BulkConcurrency:        4,
	}
}

// Validate checks the parameters New relies on.
func (c Config) Validate() error {
	if err := c.Weights.Validate(); err != nil {
		return err
	}
	if c.MinimumScore < 0 || c.MinimumScore > 100 {
		return fmt.Errorf("minimum score %d outside [0,100]", c.MinimumScore)
	}
	if c.EmergencyMinimumScore < 0 || c.EmergencyMinimumScore > 100 {
		return fmt.Errorf("emergency minimum score %d outside [0,100]", c.EmergencyMinimumScore)
	}
	if c.MaximumDistanceKm <= 0 {
		return errors.New("maximum distance must be positive")
	}
	if c.MaxMatchesPerRequest < 1 {
		return errors.New("max matches per request must be at least 1")
	}
	if c.BackupScribeCount < 0 {
		return errors.New("backup scribe count must not be negative")
	}
	return nil
}

// Waitlist assigns a queue position to a student that could not be matched.
type Waitlist interface {
	Enqueue(ctx context.Context, studentID string, exam *store.ExamRegistration) (int, error)
}

// MatchingResponse is the result of one matching run.
type MatchingResponse struct {
	Success          bool                 `json:"success"`
	Matches          []store.MatchAttempt `json:"matches"`
	Message          string               `json:"message,omitempty"`
	Alternatives     []store.MatchAttempt `json:"alternatives,omitempty"`
	WaitlistPosition *int                 `json:"waitlist_position,omitempty"`

	// Err classifies an unsuccessful run. It is nil on success.
	Err error `json:"-"`
}

func failure(reason error, msg string) MatchingResponse {
	return MatchingResponse{Success: false, Matches: []store.MatchAttempt{}, Message: msg, Err: reason}
}

// Engine is safe for concurrent use.
type Engine struct {
	cfg      Config
	scorer   *scoring.Scorer
	adapter  *scoring.OracleAdapter
	waitlist Waitlist
	logger   *slog.Logger
	metrics  *metrics.Metrics
	now      func() time.Time
}

// Option customises an Engine.
type Option func(*Engine)

func WithWaitlist(w Waitlist) Option { return func(e *Engine) { e.waitlist = w } }

func WithMetrics(m *metrics.Metrics) Option { return func(e *Engine) { e.metrics = m } }

// WithClock overrides time.Now for proposal timestamps and age arithmetic.
func WithClock(now func() time.Time) Option { return func(e *Engine) { e.now = now } }

// New validates cfg and builds an Engine. A nil client disables the oracle.
func New(cfg Config, client oracle.Client, logger *slog.Logger, opts ...Option) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid matching config: %w", err)
	}
	if cfg.OracleConcurrency < 1 {
		cfg.OracleConcurrency = 1
	}
	if cfg.BulkConcurrency < 1 {
		cfg.BulkConcurrency = 1
	}
	if !cfg.Weights.Normalized() {
		logger.Warn("matching weights do not sum to 1.0", "sum", cfg.Weights.Sum())
	}

	e := &Engine{
		cfg:    cfg,
		logger: logger,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	e.scorer = scoring.NewScorer(cfg.Weights, logger)
	e.adapter = scoring.NewOracleAdapter(client, e.scorer, cfg.OracleTimeout, cfg.OracleOptions, logger, e.metrics)
	return e, nil
}

func (e *Engine) Config() Config { return e.cfg }

// run describes one matching pass.
type run struct {
	mode         string
	minimumScore int
	filter       FilterParams
	emergency    bool
}

// FindMatches ranks scribes for a student's exam. It never returns an error:
// every failure is reported through the response.
func (e *Engine) FindMatches(ctx context.Context, student *store.StudentProfile, exam *store.ExamRegistration, scribes []store.ScribeProfile) MatchingResponse {
	return e.match(ctx, run{mode: ModeStandard, minimumScore: e.cfg.MinimumScore}, student, exam, scribes)
}

func (e *Engine) match(ctx context.Context, r run, student *store.StudentProfile, exam *store.ExamRegistration, scribes []store.ScribeProfile) (resp MatchingResponse) {
	candidates := 0
	outcome := OutcomeSystemError
	defer func() {
		if rec := recover(); rec != nil {
			e.logger.Error("matching panicked", "mode", r.mode, "panic", rec)
			resp = failure(ErrInternal, MsgSystemError)
			outcome = OutcomeSystemError
		}
		e.metrics.ObserveMatch(r.mode, outcome, candidates)
	}()

	if err := validateRequest(student, exam); err != nil {
		e.logger.Warn("rejecting matching request", "mode", r.mode, "error", err)
		outcome = OutcomeInvalid
		return failure(ErrInvalidRequest, fmt.Sprintf("%s: %v", MsgInvalidRequest, err))
	}
	if ctx.Err() != nil {
		outcome = OutcomeCancelled
		return failure(ErrCancelled, MsgCancelled)
	}

	log := e.logger.With("mode", r.mode, "student_id", student.ID, "exam_id", exam.ID)

	eligible := FilterEligible(student, exam, scribes, r.filter)
	candidates = len(eligible)
	if len(eligible) == 0 {
		outcome = OutcomeNoEligible
		resp = failure(ErrNoEligibleScribes, MsgNoEligible)
		resp.WaitlistPosition = e.enqueue(ctx, student, exam)
		log.Info("no eligible scribes", "pool", len(scribes), "waitlist_position", resp.WaitlistPosition)
		return resp
	}

	scored, err := e.scoreAll(ctx, student, exam, eligible)
	if ctx.Err() != nil {
		outcome = OutcomeCancelled
		log.Info("matching cancelled", "eligible", len(eligible))
		return failure(ErrCancelled, MsgCancelled)
	}
	if err != nil {
		log.Error("scoring candidates", "error", err)
		return failure(ErrInternal, MsgSystemError)
	}

	primary, alternatives := Rank(scored, r.minimumScore, e.cfg.MaxMatchesPerRequest, e.cfg.BackupScribeCount)
	if len(primary) == 0 {
		outcome = OutcomeBelowMin
		log.Info("no candidate met minimum score", "eligible", len(eligible), "minimum_score", r.minimumScore)
		return failure(ErrBelowThreshold, fmt.Sprintf("no scribes met the minimum compatibility score of %d", r.minimumScore))
	}

	matches, alts := buildProposals(student, exam, primary, alternatives, r.emergency, e.now())
	outcome = OutcomeMatched
	log.Info("matches proposed", "eligible", len(eligible), "matches", len(matches), "alternatives", len(alts), "top_score", matches[0].MatchScore)
	return MatchingResponse{
		Success:      true,
		Matches:      matches,
		Message:      fmt.Sprintf("found %d matches", len(matches)),
		Alternatives: alts,
	}
}

// scoreAll computes factors and overall scores for every eligible scribe with
// at most OracleConcurrency oracle calls in flight. Results keep input order.
func (e *Engine) scoreAll(ctx context.Context, student *store.StudentProfile, exam *store.ExamRegistration, eligible []EligibleScribe) ([]ScoredCandidate, error) {
	now := e.now()
	out := make([]ScoredCandidate, len(eligible))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.cfg.OracleConcurrency)
	for i, el := range eligible {
		i, el := i, el
		if gctx.Err() != nil {
			break
		}
		g.Go(func() (err error) {
			defer func() {
				if rec := recover(); rec != nil {
					err = fmt.Errorf("scoring scribe %s: panic: %v", el.Scribe.ID, rec)
				}
			}()
			pc := scoring.NewPairContext(student, exam, el.Scribe, e.cfg.MaximumDistanceKm, el.DistanceKm, now)
			factors := scoring.ComputeFactors(pc)
			overall, source := e.adapter.OverallScore(gctx, pc, factors)
			mf := scoring.ToMatchingFactors(factors)
			mf.OverallScore = overall
			out[i] = ScoredCandidate{
				Scribe:     el.Scribe,
				DistanceKm: el.DistanceKm,
				Factors:    factors,
				Matching:   mf,
				Source:     source,
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

func (e *Engine) enqueue(ctx context.Context, student *store.StudentProfile, exam *store.ExamRegistration) *int {
	if e.waitlist == nil {
		return nil
	}
	pos, err := e.waitlist.Enqueue(ctx, student.ID, exam)
	if err != nil {
		e.logger.Warn("waitlist enqueue failed", "student_id", student.ID, "exam_id", exam.ID, "error", err)
		return nil
	}
	return &pos
}

// validateRequest rejects inputs the filter and factors cannot interpret.
func validateRequest(student *store.StudentProfile, exam *store.ExamRegistration) error {
	if student == nil {
		return errors.New("student is required")
	}
	if exam == nil {
		return errors.New("exam registration is required")
	}
	if strings.TrimSpace(student.ID) == "" || strings.TrimSpace(exam.ID) == "" {
		return errors.New("student and exam ids are required")
	}
	if _, err := time.Parse(store.DateLayout, exam.Exam.Date); err != nil {
		return fmt.Errorf("exam date %q: %w", exam.Exam.Date, err)
	}
	start, err := scoring.ParseClock(exam.Exam.StartTime)
	if err != nil {
		return fmt.Errorf("exam start time: %w", err)
	}
	end, err := scoring.ParseClock(exam.Exam.EndTime)
	if err != nil {
		return fmt.Errorf("exam end time: %w", err)
	}
	if end <= start {
		return fmt.Errorf("exam ends at %s before it starts at %s", exam.Exam.EndTime, exam.Exam.StartTime)
	}
	return nil
}
