package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/MikeSquared-Agency/scribematch/internal/store"
	"github.com/MikeSquared-Agency/scribematch/internal/waitlist"
)

// WaitlistReader exposes the queue to operators. *waitlist.Redis implements it.
type WaitlistReader interface {
	Position(ctx context.Context, studentID, examID string) (int, error)
	List(ctx context.Context, limit int) ([]waitlist.Entry, error)
	Len(ctx context.Context) (int64, error)
}

type AdminHandler struct {
	store    store.Store
	waitlist WaitlistReader
}

func NewAdminHandler(s store.Store, wl WaitlistReader) *AdminHandler {
	return &AdminHandler{store: s, waitlist: wl}
}

// PutStudent creates or replaces a student profile.
// PUT /api/v1/admin/students/{id}
func (h *AdminHandler) PutStudent(w http.ResponseWriter, r *http.Request) {
	var s store.StudentProfile
	if !h.decodeWithID(w, r, &s, &s.ID) {
		return
	}
	if err := h.store.UpsertStudent(r.Context(), &s); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, s)
}

// PUT /api/v1/admin/scribes/{id}
func (h *AdminHandler) PutScribe(w http.ResponseWriter, r *http.Request) {
	var s store.ScribeProfile
	if !h.decodeWithID(w, r, &s, &s.ID) {
		return
	}
	if err := h.store.UpsertScribe(r.Context(), &s); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, s)
}

// PutExam registers an exam for an existing student. Match history and
// status are kept from any previous registration with the same id.
// PUT /api/v1/admin/exams/{id}
func (h *AdminHandler) PutExam(w http.ResponseWriter, r *http.Request) {
	var e store.ExamRegistration
	if !h.decodeWithID(w, r, &e, &e.ID) {
		return
	}

	student, err := h.store.GetStudent(r.Context(), e.StudentID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if student == nil {
		writeError(w, http.StatusUnprocessableEntity, "unknown student_id")
		return
	}

	existing, err := h.store.GetExam(r.Context(), e.ID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if existing != nil {
		e.MatchHistory = existing.MatchHistory
		if e.Status == "" {
			e.Status = existing.Status
		}
	}
	if e.Status == "" {
		e.Status = store.ExamStatusRegistered
	}

	if err := h.store.UpsertExam(r.Context(), &e); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, e)
}

// decodeWithID decodes the body into v, takes the id from the path and
// validates the result. It writes the error response and returns false on
// failure.
func (h *AdminHandler) decodeWithID(w http.ResponseWriter, r *http.Request, v interface{}, id *string) bool {
	pathID := chi.URLParam(r, "id")
	if err := decodeBody(r, v); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return false
	}
	if *id != "" && *id != pathID {
		writeError(w, http.StatusBadRequest, "id in body does not match path")
		return false
	}
	*id = pathID
	if err := validateStruct(v); err != nil {
		writeError(w, decodeStatus(err), err.Error())
		return false
	}
	return true
}

type StatsResponse struct {
	Matches        *store.MatchStats `json:"matches"`
	WaitlistLength int64             `json:"waitlist_length"`
}

func (h *AdminHandler) Stats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.store.GetStats(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	resp := StatsResponse{Matches: stats}
	if h.waitlist != nil {
		n, err := h.waitlist.Len(r.Context())
		if err != nil {
			writeError(w, http.StatusServiceUnavailable, err.Error())
			return
		}
		resp.WaitlistLength = n
	}
	writeJSON(w, http.StatusOK, resp)
}

// Waitlist lists waiting pairs, most urgent exam first.
// GET /api/v1/admin/waitlist?limit=N
func (h *AdminHandler) Waitlist(w http.ResponseWriter, r *http.Request) {
	if h.waitlist == nil {
		writeError(w, http.StatusServiceUnavailable, "waitlist not configured")
		return
	}
	limit := 100
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "invalid limit")
			return
		}
		limit = n
	}
	entries, err := h.waitlist.List(r.Context(), limit)
	if err != nil {
		writeError(w, http.StatusServiceUnavailable, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, entries)
}

// GET /api/v1/admin/waitlist/{student_id}/{exam_id}
func (h *AdminHandler) WaitlistPosition(w http.ResponseWriter, r *http.Request) {
	if h.waitlist == nil {
		writeError(w, http.StatusServiceUnavailable, "waitlist not configured")
		return
	}
	studentID, examID := chi.URLParam(r, "student_id"), chi.URLParam(r, "exam_id")
	pos, err := h.waitlist.Position(r.Context(), studentID, examID)
	if errors.Is(err, waitlist.ErrNotQueued) {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	if err != nil {
		writeError(w, http.StatusServiceUnavailable, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"student_id": studentID,
		"exam_id":    examID,
		"position":   pos,
	})
}
