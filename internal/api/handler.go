// Package api provides the HTTP handlers of the tutoring API.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/ashureev/codetutor/internal/apperr"
	"github.com/ashureev/codetutor/internal/dialogue"
	"github.com/ashureev/codetutor/internal/domain"
	"github.com/ashureev/codetutor/internal/identity"
	"github.com/ashureev/codetutor/internal/quiz"
	"github.com/ashureev/codetutor/internal/store"
	"github.com/ashureev/codetutor/internal/submission"
	"github.com/ashureev/codetutor/internal/transcript"
)

const maxBodyBytes = 1 << 20

// ChatService runs conversational turns.
type ChatService interface {
	HandleTurn(ctx context.Context, req dialogue.TurnRequest) (*dialogue.TurnResult, error)
	SwitchNode(ctx context.Context, userID, sessionID, nodeType, message string) (*dialogue.TurnResult, error)
	ListSessions(ctx context.Context, userID string, limit int) ([]*domain.ChatSession, error)
	GetSession(ctx context.Context, userID, sessionID string) (*domain.ChatSession, error)
}

// QuizService is the owner-scoped quiz boundary.
type QuizService interface {
	Create(ctx context.Context, userID string, params quiz.CreateParams) (*domain.QuizSession, error)
	StartUpgrade(ctx context.Context, userID, topic string) (*domain.QuizSession, error)
	List(ctx context.Context, userID string, limit int) ([]*domain.QuizSession, error)
	Get(ctx context.Context, userID, quizID string) (*domain.QuizSession, error)
	Submit(ctx context.Context, userID, quizID string, subs []quiz.Submission) (*quiz.Result, error)
	Delete(ctx context.Context, userID, quizID string) error
}

// SubmissionService is the owner-scoped code submission boundary.
type SubmissionService interface {
	Analyze(ctx context.Context, userID string, p submission.AnalyzeParams) (*domain.CodeSubmission, error)
	List(ctx context.Context, userID string, limit int) ([]*domain.CodeSubmission, error)
	Get(ctx context.Context, userID, id string) (*domain.CodeSubmission, error)
	Delete(ctx context.Context, userID, id string) error
}

// Deps are the collaborators of the HTTP handlers.
type Deps struct {
	Repo          store.Repository
	Chat          ChatService
	Quizzes       QuizService
	Submissions   SubmissionService
	Transcripts   transcript.Logger
	IsDev         bool
	HealthTimeout time.Duration
	Logger        *slog.Logger
}

// Handler serves the REST API.
type Handler struct {
	repo          store.Repository
	chat          ChatService
	quizzes       QuizService
	submissions   SubmissionService
	transcripts   transcript.Logger
	isDev         bool
	healthTimeout time.Duration
	logger        *slog.Logger
}

// NewHandler creates a Handler.
func NewHandler(d Deps) *Handler {
	if d.Logger == nil {
		d.Logger = slog.Default()
	}
	if d.Transcripts == nil {
		d.Transcripts = transcript.Noop{}
	}
	if d.HealthTimeout <= 0 {
		d.HealthTimeout = 5 * time.Second
	}
	return &Handler{
		repo:          d.Repo,
		chat:          d.Chat,
		quizzes:       d.Quizzes,
		submissions:   d.Submissions,
		transcripts:   d.Transcripts,
		isDev:         d.IsDev,
		healthTimeout: d.HealthTimeout,
		logger:        d.Logger,
	}
}

// RegisterRoutes registers the authenticated /api routes. The caller
// installs the identity middleware on r.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/api", func(r chi.Router) {
		r.Route("/chat", func(r chi.Router) {
			r.Post("/message", h.ChatMessage)
			r.Post("/switch", h.SwitchNode)
			r.Get("/sessions", h.ListChatSessions)
			r.Get("/sessions/{id}", h.GetChatSession)
		})
		r.Route("/quizzes", func(r chi.Router) {
			r.Post("/", h.CreateQuiz)
			r.Get("/", h.ListQuizzes)
			r.Post("/upgrade", h.StartUpgrade)
			r.Get("/{id}", h.GetQuiz)
			r.Post("/{id}/submit", h.SubmitQuiz)
			r.Delete("/{id}", h.DeleteQuiz)
		})
		r.Route("/code", func(r chi.Router) {
			r.Post("/analyze", h.AnalyzeCode)
			r.Get("/submissions", h.ListSubmissions)
			r.Get("/submissions/{id}", h.GetSubmission)
			r.Delete("/submissions/{id}", h.DeleteSubmission)
		})
		r.Get("/me", h.GetMe)
		r.Put("/me/preferences", h.UpdatePreferences)
	})
}

// JSON writes a JSON response with the given status code.
func JSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, `{"error": "failed to encode response"}`, http.StatusInternalServerError)
	}
}

// Error writes the error envelope for err. The stack is included only when
// withStack is set.
func Error(w http.ResponseWriter, err error, withStack bool) {
	apperr.WriteHTTP(w, err, withStack)
}

func (h *Handler) fail(w http.ResponseWriter, r *http.Request, err error) {
	status := apperr.Status(err)
	if status >= http.StatusInternalServerError {
		h.logger.Error("Request failed", "method", r.Method, "path", r.URL.Path,
			"kind", apperr.KindOf(err), "error", err)
	} else {
		h.logger.Debug("Request rejected", "method", r.Method, "path", r.URL.Path,
			"kind", apperr.KindOf(err), "error", err)
	}
	Error(w, err, h.isDev)
}

// userID returns the authenticated user or writes a 401.
func (h *Handler) userID(w http.ResponseWriter, r *http.Request) (string, bool) {
	id := identity.UserIDFromContext(r.Context())
	if id == "" {
		h.fail(w, r, apperr.Authentication("authentication required"))
		return "", false
	}
	return id, true
}

func decode(w http.ResponseWriter, r *http.Request, v any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		if errors.Is(err, io.EOF) {
			return apperr.Validation("request body is required")
		}
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return apperr.Validation("request body too large")
		}
		return apperr.Validation("invalid JSON body")
	}
	return nil
}

func queryLimit(r *http.Request, fallback, max int) int {
	n, err := strconv.Atoi(r.URL.Query().Get("limit"))
	if err != nil || n <= 0 {
		return fallback
	}
	if n > max {
		return max
	}
	return n
}
