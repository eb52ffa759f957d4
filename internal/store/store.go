// Package store provides data persistence interfaces and implementations.
package store

import (
	"context"
	"time"

	"github.com/ashureev/codetutor/internal/domain"
)

// Repository is the typed record store for users, chat sessions, quiz
// sessions and code submissions. It carries no business rules: ownership is
// checked by callers, and reads of missing records return (nil, nil).
type Repository interface {
	// GetUser retrieves a user by their user ID.
	GetUser(ctx context.Context, userID string) (*domain.User, error)

	// UpsertUser creates or updates a user record.
	UpsertUser(ctx context.Context, user *domain.User) error

	// UpdatePreferences replaces a user's preferences.
	UpdatePreferences(ctx context.Context, userID string, prefs domain.Preferences) error

	// UpdateLastSeen updates the last_seen_at timestamp for a user.
	UpdateLastSeen(ctx context.Context, userID string, lastSeen time.Time) error

	// CreateChatSession inserts a new chat session.
	CreateChatSession(ctx context.Context, session *domain.ChatSession) error

	// GetChatSession retrieves a chat session by id.
	GetChatSession(ctx context.Context, sessionID string) (*domain.ChatSession, error)

	// UpdateChatSession overwrites node, history, context and transitions.
	UpdateChatSession(ctx context.Context, session *domain.ChatSession) error

	// ListChatSessions returns a user's sessions, most recently updated first.
	ListChatSessions(ctx context.Context, userID string, limit int) ([]*domain.ChatSession, error)

	// DeleteChatSessionsBefore removes sessions idle since before cutoff.
	DeleteChatSessionsBefore(ctx context.Context, cutoff time.Time) (int64, error)

	// CreateQuizSession inserts a new quiz session.
	CreateQuizSession(ctx context.Context, quiz *domain.QuizSession) error

	// GetQuizSession retrieves a quiz session by id.
	GetQuizSession(ctx context.Context, quizID string) (*domain.QuizSession, error)

	// UpdateQuizSession stores answers, score and completion state.
	UpdateQuizSession(ctx context.Context, quiz *domain.QuizSession) error

	// ListQuizSessions returns a user's quizzes, newest first.
	ListQuizSessions(ctx context.Context, userID string, limit int) ([]*domain.QuizSession, error)

	// DeleteQuizSession removes a quiz session. Deleting a missing id is not an error.
	DeleteQuizSession(ctx context.Context, quizID string) error

	// CreateCodeSubmission inserts a new code submission.
	CreateCodeSubmission(ctx context.Context, sub *domain.CodeSubmission) error

	// GetCodeSubmission retrieves a code submission by id.
	GetCodeSubmission(ctx context.Context, submissionID string) (*domain.CodeSubmission, error)

	// ListCodeSubmissions returns a user's submissions, newest first.
	ListCodeSubmissions(ctx context.Context, userID string, limit int) ([]*domain.CodeSubmission, error)

	// DeleteCodeSubmission removes a code submission.
	DeleteCodeSubmission(ctx context.Context, submissionID string) error

	// Ping verifies database connectivity and returns an error if the database is unreachable.
	Ping(ctx context.Context) error

	// Close closes the database connection.
	Close() error
}
