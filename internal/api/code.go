package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/ashureev/codetutor/internal/submission"
)

type analyzeRequest struct {
	Code     string `json:"code"`
	Language string `json:"language"`
	Question string `json:"question"`
	Run      bool   `json:"run"`
}

// AnalyzeCode reviews code and stores the submission.
func (h *Handler) AnalyzeCode(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.userID(w, r)
	if !ok {
		return
	}
	var req analyzeRequest
	if err := decode(w, r, &req); err != nil {
		h.fail(w, r, err)
		return
	}

	sub, err := h.submissions.Analyze(r.Context(), userID, submission.AnalyzeParams{
		Code:     req.Code,
		Language: req.Language,
		Question: req.Question,
		Run:      req.Run,
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	JSON(w, http.StatusCreated, sub)
}

// ListSubmissions returns the caller's code submissions.
func (h *Handler) ListSubmissions(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.userID(w, r)
	if !ok {
		return
	}
	subs, err := h.submissions.List(r.Context(), userID, queryLimit(r, 20, 100))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	JSON(w, http.StatusOK, map[string]interface{}{"submissions": subs})
}

// GetSubmission returns one code submission.
func (h *Handler) GetSubmission(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.userID(w, r)
	if !ok {
		return
	}
	sub, err := h.submissions.Get(r.Context(), userID, chi.URLParam(r, "id"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	JSON(w, http.StatusOK, sub)
}

// DeleteSubmission removes one code submission.
func (h *Handler) DeleteSubmission(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.userID(w, r)
	if !ok {
		return
	}
	if err := h.submissions.Delete(r.Context(), userID, chi.URLParam(r, "id")); err != nil {
		h.fail(w, r, err)
		return
	}
	JSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}
