package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/ashureev/codetutor/internal/domain"
	"github.com/ashureev/codetutor/internal/quiz"
)

type createQuizRequest struct {
	Topic          string                `json:"topic"`
	TotalQuestions int                   `json:"total_questions"`
	Difficulty     domain.Difficulty     `json:"difficulty"`
	Questions      []domain.QuizQuestion `json:"questions"`
}

type submitQuizRequest struct {
	Answers []quiz.Submission `json:"answers"`
}

type upgradeRequest struct {
	Topic string `json:"topic"`
}

// CreateQuiz stores a practice quiz, generating it when no questions are sent.
func (h *Handler) CreateQuiz(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.userID(w, r)
	if !ok {
		return
	}
	var req createQuizRequest
	if err := decode(w, r, &req); err != nil {
		h.fail(w, r, err)
		return
	}

	qs, err := h.quizzes.Create(r.Context(), userID, quiz.CreateParams{
		Topic:          req.Topic,
		TotalQuestions: req.TotalQuestions,
		Difficulty:     req.Difficulty,
		Questions:      req.Questions,
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	JSON(w, http.StatusCreated, qs)
}

// StartUpgrade creates a difficulty upgrade quiz.
func (h *Handler) StartUpgrade(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.userID(w, r)
	if !ok {
		return
	}
	var req upgradeRequest
	if r.ContentLength != 0 {
		if err := decode(w, r, &req); err != nil {
			h.fail(w, r, err)
			return
		}
	}

	qs, err := h.quizzes.StartUpgrade(r.Context(), userID, req.Topic)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	JSON(w, http.StatusCreated, qs)
}

// ListQuizzes returns the caller's quizzes.
func (h *Handler) ListQuizzes(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.userID(w, r)
	if !ok {
		return
	}
	quizzes, err := h.quizzes.List(r.Context(), userID, queryLimit(r, 20, 100))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	JSON(w, http.StatusOK, map[string]interface{}{"quizzes": quizzes})
}

// GetQuiz returns one quiz.
func (h *Handler) GetQuiz(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.userID(w, r)
	if !ok {
		return
	}
	qs, err := h.quizzes.Get(r.Context(), userID, chi.URLParam(r, "id"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	JSON(w, http.StatusOK, qs)
}

// SubmitQuiz grades the caller's answers.
func (h *Handler) SubmitQuiz(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.userID(w, r)
	if !ok {
		return
	}
	var req submitQuizRequest
	if err := decode(w, r, &req); err != nil {
		h.fail(w, r, err)
		return
	}

	result, err := h.quizzes.Submit(r.Context(), userID, chi.URLParam(r, "id"), req.Answers)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	JSON(w, http.StatusOK, result)
}

// DeleteQuiz removes one quiz.
func (h *Handler) DeleteQuiz(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.userID(w, r)
	if !ok {
		return
	}
	if err := h.quizzes.Delete(r.Context(), userID, chi.URLParam(r, "id")); err != nil {
		h.fail(w, r, err)
		return
	}
	JSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}
