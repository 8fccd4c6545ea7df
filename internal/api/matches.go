package api

import (
	"context"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/MikeSquared-Agency/scribematch/internal/broker"
	"github.com/MikeSquared-Agency/scribematch/internal/engine"
	"github.com/MikeSquared-Agency/scribematch/internal/store"
)

// Matcher runs and answers matches. *broker.Broker implements it.
type Matcher interface {
	RequestMatch(ctx context.Context, studentID, examID string) (engine.MatchingResponse, error)
	RequestEmergencyMatch(ctx context.Context, studentID, examID string, excludeIDs []string) (engine.MatchingResponse, error)
	RequestBulkMatch(ctx context.Context, pairs []broker.PairRequest) (map[string]engine.MatchingResponse, error)
	Respond(ctx context.Context, attemptID uuid.UUID, accept bool) (*store.MatchAttempt, error)
}

type MatchesHandler struct {
	store   store.Store
	matcher Matcher
}

func NewMatchesHandler(s store.Store, m Matcher) *MatchesHandler {
	return &MatchesHandler{store: s, matcher: m}
}

type MatchRequest struct {
	StudentID string `json:"student_id" validate:"required"`
	ExamID    string `json:"exam_id" validate:"required"`
}

type EmergencyRequest struct {
	StudentID        string   `json:"student_id" validate:"required"`
	ExamID           string   `json:"exam_id" validate:"required"`
	ExcludeScribeIDs []string `json:"exclude_scribe_ids,omitempty" validate:"dive,required"`
}

type BulkRequest struct {
	Requests []broker.PairRequest `json:"requests" validate:"required,min=1,max=200,dive"`
}

// Create runs a standard match.
// POST /api/v1/matches
func (h *MatchesHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req MatchRequest
	if err := decode(r, &req); err != nil {
		writeError(w, decodeStatus(err), err.Error())
		return
	}
	resp, err := h.matcher.RequestMatch(r.Context(), req.StudentID, req.ExamID)
	if err != nil {
		writeError(w, brokerStatus(err), err.Error())
		return
	}
	writeJSON(w, matchStatus(resp), resp)
}

// Emergency finds a replacement scribe.
// POST /api/v1/matches/emergency
func (h *MatchesHandler) Emergency(w http.ResponseWriter, r *http.Request) {
	var req EmergencyRequest
	if err := decode(r, &req); err != nil {
		writeError(w, decodeStatus(err), err.Error())
		return
	}
	resp, err := h.matcher.RequestEmergencyMatch(r.Context(), req.StudentID, req.ExamID, req.ExcludeScribeIDs)
	if err != nil {
		writeError(w, brokerStatus(err), err.Error())
		return
	}
	writeJSON(w, matchStatus(resp), resp)
}

// Bulk matches many pairs. The result is keyed by "studentID-examID".
// POST /api/v1/matches/bulk
func (h *MatchesHandler) Bulk(w http.ResponseWriter, r *http.Request) {
	var req BulkRequest
	if err := decode(r, &req); err != nil {
		writeError(w, decodeStatus(err), err.Error())
		return
	}
	results, err := h.matcher.RequestBulkMatch(r.Context(), req.Requests)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, results)
}

func (h *MatchesHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid match id")
		return
	}
	attempt, err := h.store.GetMatchAttempt(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if attempt == nil {
		writeError(w, http.StatusNotFound, "match not found")
		return
	}
	writeJSON(w, http.StatusOK, attempt)
}

func (h *MatchesHandler) List(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := store.MatchFilter{
		StudentID: q.Get("student_id"),
		ScribeID:  q.Get("scribe_id"),
		ExamID:    q.Get("exam_id"),
	}
	if s := q.Get("status"); s != "" {
		status := store.MatchStatus(s)
		switch status {
		case store.MatchStatusProposed, store.MatchStatusAccepted, store.MatchStatusDeclined, store.MatchStatusExpired:
		default:
			writeError(w, http.StatusBadRequest, "invalid status")
			return
		}
		filter.Status = &status
	}
	for name, dst := range map[string]*int{"limit": &filter.Limit, "offset": &filter.Offset} {
		v := q.Get(name)
		if v == "" {
			continue
		}
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "invalid "+name)
			return
		}
		*dst = n
	}

	attempts, err := h.store.ListMatchAttempts(r.Context(), filter)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if attempts == nil {
		attempts = []*store.MatchAttempt{}
	}
	writeJSON(w, http.StatusOK, attempts)
}

// POST /api/v1/matches/{id}/accept
func (h *MatchesHandler) Accept(w http.ResponseWriter, r *http.Request) {
	h.respond(w, r, true)
}

// POST /api/v1/matches/{id}/decline
func (h *MatchesHandler) Decline(w http.ResponseWriter, r *http.Request) {
	h.respond(w, r, false)
}

func (h *MatchesHandler) respond(w http.ResponseWriter, r *http.Request, accept bool) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid match id")
		return
	}
	attempt, err := h.matcher.Respond(r.Context(), id, accept)
	if err != nil {
		writeError(w, brokerStatus(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, attempt)
}
