package broker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/MikeSquared-Agency/scribematch/internal/config"
	"github.com/MikeSquared-Agency/scribematch/internal/engine"
	"github.com/MikeSquared-Agency/scribematch/internal/hermes"
	"github.com/MikeSquared-Agency/scribematch/internal/metrics"
	"github.com/MikeSquared-Agency/scribematch/internal/store"
)

var (
	ErrStudentNotFound     = errors.New("student not found")
	ErrExamNotFound        = errors.New("exam not found")
	ErrExamStudentMismatch = errors.New("exam is registered to a different student")
	ErrExamClosed          = errors.New("exam is no longer open for matching")
	ErrTooManyRequests     = errors.New("too many open match requests for student")
	ErrAttemptNotFound     = errors.New("match attempt not found")
	ErrAttemptNotProposed  = errors.New("match attempt has already been answered")
)

// Waitlist is the subset of the waitlist the broker maintains directly.
// Enqueueing happens inside the engine.
type Waitlist interface {
	Remove(ctx context.Context, studentID, examID string) error
}

// PairRequest names one student/exam pair for bulk matching.
type PairRequest struct {
	StudentID string `json:"student_id" validate:"required"`
	ExamID    string `json:"exam_id" validate:"required"`
}

type Broker struct {
	store    store.Store
	hermes   hermes.Client
	engine   *engine.Engine
	waitlist Waitlist
	cfg      *config.Config
	logger   *slog.Logger
	metrics  *metrics.Metrics
	now      func() time.Time

	stopOnce sync.Once
	stopCh   chan struct{}
	wg       sync.WaitGroup
}

func New(s store.Store, h hermes.Client, e *engine.Engine, wl Waitlist, cfg *config.Config, logger *slog.Logger) *Broker {
	return &Broker{
		store:    s,
		hermes:   h,
		engine:   e,
		waitlist: wl,
		cfg:      cfg,
		logger:   logger,
		now:      time.Now,
		stopCh:   make(chan struct{}),
	}
}

// WithMetrics attaches collectors for expiry counts.
func (b *Broker) WithMetrics(m *metrics.Metrics) *Broker {
	b.metrics = m
	return b
}

func (b *Broker) Start(ctx context.Context) {
	b.wg.Add(1)
	go b.expiryLoop(ctx)
}

func (b *Broker) Stop() {
	b.stopOnce.Do(func() { close(b.stopCh) })
	b.wg.Wait()
}

// RequestMatch runs a standard matching pass for a registered exam and
// persists the resulting proposals.
func (b *Broker) RequestMatch(ctx context.Context, studentID, examID string) (engine.MatchingResponse, error) {
	student, exam, err := b.load(ctx, studentID, examID)
	if err != nil {
		return engine.MatchingResponse{}, err
	}
	if err := b.checkOpenRequests(ctx, studentID); err != nil {
		return engine.MatchingResponse{}, err
	}
	scribes, err := b.store.ListScribes(ctx, store.ScribeFilter{VerifiedOnly: true})
	if err != nil {
		return engine.MatchingResponse{}, fmt.Errorf("list scribes: %w", err)
	}

	resp := b.engine.FindMatches(ctx, student, exam, scribes)
	if err := b.record(ctx, student, exam, resp, false); err != nil {
		return engine.MatchingResponse{}, err
	}
	return resp, nil
}

// RequestEmergencyMatch finds a replacement scribe. Scribes that already
// accepted or declined the exam are excluded along with excludeIDs, and the
// open request limit does not apply.
func (b *Broker) RequestEmergencyMatch(ctx context.Context, studentID, examID string, excludeIDs []string) (engine.MatchingResponse, error) {
	student, exam, err := b.load(ctx, studentID, examID)
	if err != nil {
		return engine.MatchingResponse{}, err
	}

	prior, err := b.store.ListMatchAttempts(ctx, store.MatchFilter{ExamID: examID})
	if err != nil {
		return engine.MatchingResponse{}, fmt.Errorf("list prior attempts: %w", err)
	}
	exclude := append([]string{}, excludeIDs...)
	for _, a := range prior {
		if a.Status == store.MatchStatusDeclined || a.Status == store.MatchStatusAccepted {
			exclude = append(exclude, a.ScribeID)
		}
	}

	scribes, err := b.store.ListScribes(ctx, store.ScribeFilter{VerifiedOnly: true})
	if err != nil {
		return engine.MatchingResponse{}, fmt.Errorf("list scribes: %w", err)
	}

	resp := b.engine.EmergencyMatch(ctx, student, exam, scribes, exclude)
	if err := b.record(ctx, student, exam, resp, true); err != nil {
		return engine.MatchingResponse{}, err
	}
	return resp, nil
}

// RequestBulkMatch matches many pairs in one pass. Pairs that cannot be
// loaded or are over their request limit get an unsuccessful response
// instead of failing the batch.
func (b *Broker) RequestBulkMatch(ctx context.Context, pairs []PairRequest) (map[string]engine.MatchingResponse, error) {
	scribes, err := b.store.ListScribes(ctx, store.ScribeFilter{VerifiedOnly: true})
	if err != nil {
		return nil, fmt.Errorf("list scribes: %w", err)
	}

	results := make(map[string]engine.MatchingResponse, len(pairs))
	loaded := make(map[string]*store.StudentProfile)
	var reqs []engine.BulkRequest
	for _, p := range pairs {
		key := engine.PairKey(p.StudentID, p.ExamID)
		if _, dup := loaded[key]; dup {
			continue
		}
		student, exam, err := b.load(ctx, p.StudentID, p.ExamID)
		if err == nil {
			err = b.checkOpenRequests(ctx, p.StudentID)
		}
		if err != nil {
			results[key] = engine.MatchingResponse{Matches: []store.MatchAttempt{}, Message: err.Error(), Err: err}
			continue
		}
		loaded[key] = student
		reqs = append(reqs, engine.BulkRequest{Student: student, Exam: exam, Scribes: scribes})
	}

	for key, resp := range b.engine.BulkMatch(ctx, reqs) {
		results[key] = resp
	}
	for _, r := range reqs {
		key := engine.PairKey(r.Student.ID, r.Exam.ID)
		if err := b.record(ctx, loaded[key], r.Exam, results[key], false); err != nil {
			b.logger.Error("failed to record bulk match", "key", key, "error", err)
			results[key] = engine.MatchingResponse{Matches: []store.MatchAttempt{}, Message: engine.MsgSystemError, Err: err}
		}
	}
	return results, nil
}

// Respond records a scribe's answer to a proposal. Accepting confirms the
// exam, expires the other open proposals for it and drops it from the
// waitlist.
func (b *Broker) Respond(ctx context.Context, attemptID uuid.UUID, accept bool) (*store.MatchAttempt, error) {
	attempt, err := b.store.GetMatchAttempt(ctx, attemptID)
	if err != nil {
		return nil, err
	}
	if attempt == nil {
		return nil, ErrAttemptNotFound
	}
	if attempt.Status != store.MatchStatusProposed {
		return nil, ErrAttemptNotProposed
	}

	status := store.MatchStatusDeclined
	var siblings []*store.MatchAttempt
	if accept {
		status = store.MatchStatusAccepted
		siblings, err = b.store.AcceptMatch(ctx, attemptID)
	} else {
		err = b.store.UpdateMatchStatus(ctx, attemptID, status)
	}
	if err != nil {
		switch {
		case errors.Is(err, store.ErrNotProposed):
			return nil, ErrAttemptNotProposed
		case errors.Is(err, store.ErrNotFound):
			return nil, ErrAttemptNotFound
		}
		return nil, err
	}
	now := b.now()
	attempt.Status = status
	attempt.RespondedAt = &now

	if b.hermes != nil {
		subject := hermes.SubjectAttemptDeclined(attemptID.String())
		if accept {
			subject = hermes.SubjectAttemptAccepted(attemptID.String())
		}
		_ = b.hermes.Publish(subject, attemptEvent(attempt))
	}
	b.logger.Info("proposal answered", "attempt_id", attemptID, "exam_id", attempt.ExamID, "scribe_id", attempt.ScribeID, "status", status)

	if accept {
		b.confirmExam(ctx, attempt, siblings)
	}
	return attempt, nil
}

// confirmExam finishes an accept the store has already committed: the exam
// leaves the waitlist and expired siblings are announced.
func (b *Broker) confirmExam(ctx context.Context, accepted *store.MatchAttempt, siblings []*store.MatchAttempt) {
	if b.waitlist != nil {
		if err := b.waitlist.Remove(ctx, accepted.StudentID, accepted.ExamID); err != nil {
			b.logger.Warn("failed to remove exam from waitlist", "exam_id", accepted.ExamID, "error", err)
		}
	}
	for _, a := range siblings {
		b.announceExpired(a)
	}
	if len(siblings) > 0 {
		b.logger.Info("expired sibling proposals", "exam_id", accepted.ExamID, "count", len(siblings))
	}
}

// load fetches the pair and checks it may be matched.
func (b *Broker) load(ctx context.Context, studentID, examID string) (*store.StudentProfile, *store.ExamRegistration, error) {
	student, err := b.store.GetStudent(ctx, studentID)
	if err != nil {
		return nil, nil, fmt.Errorf("get student: %w", err)
	}
	if student == nil {
		return nil, nil, ErrStudentNotFound
	}
	exam, err := b.store.GetExam(ctx, examID)
	if err != nil {
		return nil, nil, fmt.Errorf("get exam: %w", err)
	}
	if exam == nil {
		return nil, nil, ErrExamNotFound
	}
	if exam.StudentID != student.ID {
		return nil, nil, ErrExamStudentMismatch
	}
	switch exam.Status {
	case store.ExamStatusCompleted, store.ExamStatusCancelled:
		return nil, nil, ErrExamClosed
	}
	return student, exam, nil
}

func (b *Broker) checkOpenRequests(ctx context.Context, studentID string) error {
	limit := b.cfg.Matching.Limits.MaxConcurrentRequestsPerStudent
	if limit <= 0 {
		return nil
	}
	n, err := b.store.CountOpenProposals(ctx, studentID)
	if err != nil {
		return fmt.Errorf("count open proposals: %w", err)
	}
	if n >= limit {
		b.logger.Warn("student over open request limit", "student_id", studentID, "open", n, "limit", limit)
		return ErrTooManyRequests
	}
	return nil
}

// record persists a matching result and announces it.
func (b *Broker) record(ctx context.Context, student *store.StudentProfile, exam *store.ExamRegistration, resp engine.MatchingResponse, emergency bool) error {
	if !resp.Success {
		if errors.Is(resp.Err, engine.ErrNoEligibleScribes) && resp.WaitlistPosition != nil {
			if err := b.store.AppendMatchHistory(ctx, exam.ID, nil, store.ExamStatusWaitlisted); err != nil {
				return fmt.Errorf("mark exam waitlisted: %w", err)
			}
		}
		if b.hermes != nil && (errors.Is(resp.Err, engine.ErrNoEligibleScribes) || errors.Is(resp.Err, engine.ErrBelowThreshold)) {
			_ = b.hermes.Publish(hermes.SubjectMatchUnmatched(exam.ID), hermes.MatchUnmatchedEvent{
				ExamID:           exam.ID,
				StudentID:        student.ID,
				Reason:           resp.Message,
				WaitlistPosition: resp.WaitlistPosition,
			})
		}
		return nil
	}

	attempts := make([]*store.MatchAttempt, 0, len(resp.Matches)+len(resp.Alternatives))
	for i := range resp.Matches {
		attempts = append(attempts, &resp.Matches[i])
	}
	for i := range resp.Alternatives {
		attempts = append(attempts, &resp.Alternatives[i])
	}
	if err := b.store.CreateMatchAttempts(ctx, attempts); err != nil {
		return fmt.Errorf("create match attempts: %w", err)
	}

	ids := make([]uuid.UUID, len(attempts))
	evt := hermes.MatchProposedEvent{
		ExamID:       exam.ID,
		StudentID:    student.ID,
		TopScore:     resp.Matches[0].MatchScore,
		Alternatives: len(resp.Alternatives),
		Emergency:    emergency,
	}
	for i, a := range attempts {
		ids[i] = a.ID
		evt.AttemptIDs = append(evt.AttemptIDs, a.ID.String())
		evt.ScribeIDs = append(evt.ScribeIDs, a.ScribeID)
	}
	if err := b.store.AppendMatchHistory(ctx, exam.ID, ids, store.ExamStatusMatching); err != nil {
		return fmt.Errorf("append match history: %w", err)
	}

	if b.hermes != nil {
		subject := hermes.SubjectMatchProposed(exam.ID)
		if emergency {
			subject = hermes.SubjectMatchEmergency(exam.ID)
		}
		_ = b.hermes.Publish(subject, evt)
	}
	return nil
}

// SetupSubscriptions registers NATS handlers for match requests and responses.
func (b *Broker) SetupSubscriptions() {
	if b.hermes == nil {
		return
	}

	_ = b.hermes.Subscribe(hermes.SubjectMatchRequest, func(_ string, data []byte) {
		var req hermes.MatchRequestEvent
		if err := json.Unmarshal(data, &req); err != nil {
			b.logger.Warn("invalid match request event", "error", err)
			return
		}
		b.handleMatchRequest(context.Background(), req)
	})

	_ = b.hermes.Subscribe(hermes.SubjectMatchResponse, func(_ string, data []byte) {
		var evt hermes.MatchResponseEvent
		if err := json.Unmarshal(data, &evt); err != nil {
			b.logger.Warn("invalid match response event", "error", err)
			return
		}
		b.handleMatchResponse(context.Background(), evt)
	})
}

func (b *Broker) handleMatchRequest(ctx context.Context, req hermes.MatchRequestEvent) {
	var (
		resp engine.MatchingResponse
		err  error
	)
	if req.Emergency {
		resp, err = b.RequestEmergencyMatch(ctx, req.StudentID, req.ExamID, req.ExcludeScribeIDs)
	} else {
		resp, err = b.RequestMatch(ctx, req.StudentID, req.ExamID)
	}
	if err != nil {
		b.logger.Error("match request from NATS failed", "student_id", req.StudentID, "exam_id", req.ExamID, "source", req.Source, "error", err)
		return
	}
	b.logger.Info("match request from NATS handled", "student_id", req.StudentID, "exam_id", req.ExamID, "success", resp.Success, "matches", len(resp.Matches))
}

func (b *Broker) handleMatchResponse(ctx context.Context, evt hermes.MatchResponseEvent) {
	id, err := uuid.Parse(evt.AttemptID)
	if err != nil {
		b.logger.Warn("invalid attempt id in match response", "attempt_id", evt.AttemptID)
		return
	}
	if _, err := b.Respond(ctx, id, evt.Accept); err != nil {
		b.logger.Warn("failed to apply match response", "attempt_id", id, "error", err)
	}
}

func attemptEvent(a *store.MatchAttempt) hermes.AttemptStatusEvent {
	return hermes.AttemptStatusEvent{
		AttemptID: a.ID.String(),
		ExamID:    a.ExamID,
		StudentID: a.StudentID,
		ScribeID:  a.ScribeID,
		Status:    string(a.Status),
	}
}
