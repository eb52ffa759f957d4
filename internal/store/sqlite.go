package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/ashureev/codetutor/internal/domain"
	_ "modernc.org/sqlite"
)

var _ Repository = (*SQLiteStore)(nil)

// SQLiteStore implements Repository using SQLite.
type SQLiteStore struct {
	db      *sql.DB
	timeout time.Duration
}

// NewSQLite creates a new SQLite-backed repository. Every call is bounded by
// timeout when it is positive.
func NewSQLite(dbPath string, timeout time.Duration) (*SQLiteStore, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create database directory: %w", err)
	}

	// Open database with WAL mode for better concurrency.
	dsn := dbPath + "?_journal=WAL&_sync=NORMAL&_busy_timeout=5000"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("ping database: %w", err)
	}

	store := &SQLiteStore{db: db, timeout: timeout}
	if err := store.initSchema(); err != nil {
		return nil, fmt.Errorf("initialize schema: %w", err)
	}

	return store, nil
}

func (s *SQLiteStore) initSchema() error {
	query := `
	PRAGMA busy_timeout = 5000;
	CREATE TABLE IF NOT EXISTS users (
		user_id TEXT PRIMARY KEY,
		username TEXT NOT NULL,
		preferences_json TEXT NOT NULL,
		last_seen_at INTEGER NOT NULL,
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS chat_sessions (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		session_name TEXT NOT NULL DEFAULT '',
		current_node TEXT NOT NULL,
		history_json TEXT NOT NULL,
		context_json TEXT NOT NULL,
		transitions_json TEXT NOT NULL,
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_chat_sessions_user ON chat_sessions(user_id, updated_at);
	CREATE INDEX IF NOT EXISTS idx_chat_sessions_updated ON chat_sessions(updated_at);

	CREATE TABLE IF NOT EXISTS quiz_sessions (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		kind TEXT NOT NULL,
		topic TEXT NOT NULL DEFAULT '',
		difficulty TEXT NOT NULL,
		questions_json TEXT NOT NULL,
		answers_json TEXT NOT NULL,
		score INTEGER NOT NULL DEFAULT 0,
		total_questions INTEGER NOT NULL,
		completed INTEGER NOT NULL DEFAULT 0,
		completed_at INTEGER,
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_quiz_sessions_user ON quiz_sessions(user_id, created_at);

	CREATE TABLE IF NOT EXISTS code_submissions (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		code TEXT NOT NULL,
		language TEXT NOT NULL DEFAULT '',
		analysis_json TEXT NOT NULL,
		feedback_provided TEXT NOT NULL DEFAULT '',
		created_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_code_submissions_user ON code_submissions(user_id, created_at);
	`
	if _, err := s.db.Exec(query); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	return nil
}

func (s *SQLiteStore) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.timeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, s.timeout)
}

// Ping verifies database connectivity.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	return s.db.PingContext(ctx)
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("close database: %w", err)
	}
	return nil
}

// rowScanner is satisfied by both *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func toMillis(t time.Time) int64 {
	return t.UnixMilli()
}

func fromMillis(ms int64) time.Time {
	return time.UnixMilli(ms).UTC()
}

func marshalColumn(v any, column string) (string, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("marshal %s: %w", column, err)
	}
	return string(data), nil
}

func unmarshalColumn(data string, v any, column string) error {
	if data == "" {
		return nil
	}
	if err := json.Unmarshal([]byte(data), v); err != nil {
		return fmt.Errorf("unmarshal %s: %w", column, err)
	}
	return nil
}

func (s *SQLiteStore) exec(ctx context.Context, name, query string, args ...any) (sql.Result, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	var result sql.Result
	err := withRetry(ctx, name, func() error {
		var execErr error
		result, execErr = s.db.ExecContext(ctx, query, args...)
		return execErr
	})
	if err != nil {
		return nil, fmt.Errorf("%s: %w", name, err)
	}
	return result, nil
}

func closeRows(rows *sql.Rows, what string) {
	if err := rows.Close(); err != nil {
		slog.Warn("failed to close rows", "query", what, "error", err)
	}
}

// ---- users ----

// GetUser retrieves a user by their user ID.
func (s *SQLiteStore) GetUser(ctx context.Context, userID string) (*domain.User, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	query := `
		SELECT user_id, username, preferences_json, last_seen_at, created_at, updated_at
		FROM users WHERE user_id = ?`

	var user domain.User
	var prefsJSON string
	var lastSeen, createdAt, updatedAt int64

	err := s.db.QueryRowContext(ctx, query, userID).Scan(
		&user.UserID, &user.Username, &prefsJSON, &lastSeen, &createdAt, &updatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan user row: %w", err)
	}

	if err := unmarshalColumn(prefsJSON, &user.Preferences, "preferences"); err != nil {
		return nil, err
	}
	user.LastSeenAt = fromMillis(lastSeen)
	user.CreatedAt = fromMillis(createdAt)
	user.UpdatedAt = fromMillis(updatedAt)

	return &user, nil
}

// UpsertUser creates or updates a user record.
func (s *SQLiteStore) UpsertUser(ctx context.Context, user *domain.User) error {
	query := `
	INSERT INTO users (user_id, username, preferences_json, last_seen_at, created_at, updated_at)
	VALUES (?, ?, ?, ?, ?, ?)
	ON CONFLICT(user_id) DO UPDATE SET
		username = excluded.username,
		preferences_json = excluded.preferences_json,
		last_seen_at = excluded.last_seen_at,
		updated_at = excluded.updated_at`

	prefs, err := marshalColumn(user.Preferences, "preferences")
	if err != nil {
		return err
	}

	_, err = s.exec(ctx, "upsert user", query,
		user.UserID, user.Username, prefs,
		toMillis(user.LastSeenAt), toMillis(user.CreatedAt), toMillis(user.UpdatedAt),
	)
	return err
}

// UpdatePreferences replaces a user's preferences.
func (s *SQLiteStore) UpdatePreferences(ctx context.Context, userID string, prefs domain.Preferences) error {
	data, err := marshalColumn(prefs, "preferences")
	if err != nil {
		return err
	}

	query := `UPDATE users SET preferences_json = ?, updated_at = ? WHERE user_id = ?`
	result, err := s.exec(ctx, "update preferences", query, data, toMillis(time.Now()), userID)
	if err != nil {
		return err
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("get rows affected: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("user not found")
	}
	return nil
}

// UpdateLastSeen updates the last_seen_at timestamp for a user.
func (s *SQLiteStore) UpdateLastSeen(ctx context.Context, userID string, lastSeen time.Time) error {
	query := `UPDATE users SET last_seen_at = ?, updated_at = ? WHERE user_id = ?`
	result, err := s.exec(ctx, "update last_seen", query, toMillis(lastSeen), toMillis(time.Now()), userID)
	if err != nil {
		return err
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("get rows affected: %w", err)
	}
	if rows == 0 {
		slog.Warn("UpdateLastSeen affected 0 rows", "user_id", userID)
	}
	return nil
}

// ---- chat sessions ----

const chatSessionColumns = `id, user_id, session_name, current_node, history_json,
	context_json, transitions_json, created_at, updated_at`

func scanChatSession(row rowScanner) (*domain.ChatSession, error) {
	var session domain.ChatSession
	var historyJSON, contextJSON, transitionsJSON string
	var createdAt, updatedAt int64

	if err := row.Scan(
		&session.ID, &session.UserID, &session.SessionName, &session.CurrentNode,
		&historyJSON, &contextJSON, &transitionsJSON, &createdAt, &updatedAt,
	); err != nil {
		return nil, err
	}

	if err := unmarshalColumn(historyJSON, &session.ConversationHistory, "conversation_history"); err != nil {
		return nil, err
	}
	if err := unmarshalColumn(contextJSON, &session.Context, "context"); err != nil {
		return nil, err
	}
	if err := unmarshalColumn(transitionsJSON, &session.AvailableTransitions, "available_transitions"); err != nil {
		return nil, err
	}
	if session.ConversationHistory == nil {
		session.ConversationHistory = []domain.HistoryEntry{}
	}
	session.CreatedAt = fromMillis(createdAt)
	session.UpdatedAt = fromMillis(updatedAt)
	return &session, nil
}

func chatSessionJSON(session *domain.ChatSession) (history, sessionCtx, transitions string, err error) {
	entries := session.ConversationHistory
	if entries == nil {
		entries = []domain.HistoryEntry{}
	}
	if history, err = marshalColumn(entries, "conversation_history"); err != nil {
		return
	}
	if sessionCtx, err = marshalColumn(session.Context, "context"); err != nil {
		return
	}
	transitions, err = marshalColumn(session.AvailableTransitions, "available_transitions")
	return
}

// CreateChatSession inserts a new chat session.
func (s *SQLiteStore) CreateChatSession(ctx context.Context, session *domain.ChatSession) error {
	history, sessionCtx, transitions, err := chatSessionJSON(session)
	if err != nil {
		return err
	}

	query := `INSERT INTO chat_sessions (` + chatSessionColumns + `) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`
	_, err = s.exec(ctx, "create chat session", query,
		session.ID, session.UserID, session.SessionName, string(session.CurrentNode),
		history, sessionCtx, transitions,
		toMillis(session.CreatedAt), toMillis(session.UpdatedAt),
	)
	return err
}

// GetChatSession retrieves a chat session by id.
func (s *SQLiteStore) GetChatSession(ctx context.Context, sessionID string) (*domain.ChatSession, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	query := `SELECT ` + chatSessionColumns + ` FROM chat_sessions WHERE id = ?`
	session, err := scanChatSession(s.db.QueryRowContext(ctx, query, sessionID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan chat session: %w", err)
	}
	return session, nil
}

// UpdateChatSession overwrites the mutable parts of a chat session.
// Concurrent turns on one session resolve last-write-wins.
func (s *SQLiteStore) UpdateChatSession(ctx context.Context, session *domain.ChatSession) error {
	history, sessionCtx, transitions, err := chatSessionJSON(session)
	if err != nil {
		return err
	}

	query := `
	UPDATE chat_sessions SET
		session_name = ?, current_node = ?, history_json = ?, context_json = ?,
		transitions_json = ?, updated_at = ?
	WHERE id = ?`
	result, err := s.exec(ctx, "update chat session", query,
		session.SessionName, string(session.CurrentNode), history, sessionCtx, transitions,
		toMillis(session.UpdatedAt), session.ID,
	)
	if err != nil {
		return err
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("get rows affected: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("chat session not found")
	}
	return nil
}

// ListChatSessions returns a user's sessions, most recently updated first.
func (s *SQLiteStore) ListChatSessions(ctx context.Context, userID string, limit int) ([]*domain.ChatSession, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	query := `SELECT ` + chatSessionColumns + ` FROM chat_sessions
		WHERE user_id = ? ORDER BY updated_at DESC LIMIT ?`
	rows, err := s.db.QueryContext(ctx, query, userID, normalizeLimit(limit))
	if err != nil {
		return nil, fmt.Errorf("query chat sessions: %w", err)
	}
	defer closeRows(rows, "chat sessions")

	sessions := []*domain.ChatSession{}
	for rows.Next() {
		session, err := scanChatSession(rows)
		if err != nil {
			return nil, fmt.Errorf("scan chat session row: %w", err)
		}
		sessions = append(sessions, session)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate chat sessions: %w", err)
	}
	return sessions, nil
}

// DeleteChatSessionsBefore removes sessions not updated since cutoff.
func (s *SQLiteStore) DeleteChatSessionsBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	result, err := s.exec(ctx, "delete idle chat sessions",
		`DELETE FROM chat_sessions WHERE updated_at < ?`, toMillis(cutoff))
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

// ---- quiz sessions ----

const quizSessionColumns = `id, user_id, kind, topic, difficulty, questions_json, answers_json,
	score, total_questions, completed, completed_at, created_at, updated_at`

func scanQuizSession(row rowScanner) (*domain.QuizSession, error) {
	var quiz domain.QuizSession
	var questionsJSON, answersJSON string
	var completedAt sql.NullInt64
	var createdAt, updatedAt int64

	if err := row.Scan(
		&quiz.ID, &quiz.UserID, &quiz.Kind, &quiz.Topic, &quiz.Difficulty,
		&questionsJSON, &answersJSON, &quiz.Score, &quiz.TotalQuestions,
		&quiz.Completed, &completedAt, &createdAt, &updatedAt,
	); err != nil {
		return nil, err
	}

	if err := unmarshalColumn(questionsJSON, &quiz.Questions, "questions"); err != nil {
		return nil, err
	}
	if err := unmarshalColumn(answersJSON, &quiz.Answers, "answers"); err != nil {
		return nil, err
	}
	if quiz.Answers == nil {
		quiz.Answers = []domain.QuizAnswer{}
	}
	if completedAt.Valid {
		ts := fromMillis(completedAt.Int64)
		quiz.CompletedAt = &ts
	}
	quiz.CreatedAt = fromMillis(createdAt)
	quiz.UpdatedAt = fromMillis(updatedAt)
	return &quiz, nil
}

func quizJSON(quiz *domain.QuizSession) (questions, answers string, err error) {
	if questions, err = marshalColumn(quiz.Questions, "questions"); err != nil {
		return
	}
	entries := quiz.Answers
	if entries == nil {
		entries = []domain.QuizAnswer{}
	}
	answers, err = marshalColumn(entries, "answers")
	return
}

func nullableMillis(t *time.Time) any {
	if t == nil {
		return nil
	}
	return toMillis(*t)
}

// CreateQuizSession inserts a new quiz session.
func (s *SQLiteStore) CreateQuizSession(ctx context.Context, quiz *domain.QuizSession) error {
	questions, answers, err := quizJSON(quiz)
	if err != nil {
		return err
	}

	query := `INSERT INTO quiz_sessions (` + quizSessionColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	_, err = s.exec(ctx, "create quiz session", query,
		quiz.ID, quiz.UserID, string(quiz.Kind), quiz.Topic, string(quiz.Difficulty),
		questions, answers, quiz.Score, quiz.TotalQuestions, quiz.Completed,
		nullableMillis(quiz.CompletedAt), toMillis(quiz.CreatedAt), toMillis(quiz.UpdatedAt),
	)
	return err
}

// GetQuizSession retrieves a quiz session by id.
func (s *SQLiteStore) GetQuizSession(ctx context.Context, quizID string) (*domain.QuizSession, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	query := `SELECT ` + quizSessionColumns + ` FROM quiz_sessions WHERE id = ?`
	quiz, err := scanQuizSession(s.db.QueryRowContext(ctx, query, quizID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan quiz session: %w", err)
	}
	return quiz, nil
}

// UpdateQuizSession stores answers, score and completion state. Questions and
// total_questions are fixed at creation and never rewritten.
func (s *SQLiteStore) UpdateQuizSession(ctx context.Context, quiz *domain.QuizSession) error {
	_, answers, err := quizJSON(quiz)
	if err != nil {
		return err
	}

	query := `
	UPDATE quiz_sessions SET
		answers_json = ?, score = ?, completed = ?,
		completed_at = COALESCE(completed_at, ?), updated_at = ?
	WHERE id = ?`
	result, err := s.exec(ctx, "update quiz session", query,
		answers, quiz.Score, quiz.Completed, nullableMillis(quiz.CompletedAt),
		toMillis(quiz.UpdatedAt), quiz.ID,
	)
	if err != nil {
		return err
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("get rows affected: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("quiz session not found")
	}
	return nil
}

// ListQuizSessions returns a user's quizzes, newest first.
func (s *SQLiteStore) ListQuizSessions(ctx context.Context, userID string, limit int) ([]*domain.QuizSession, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	query := `SELECT ` + quizSessionColumns + ` FROM quiz_sessions
		WHERE user_id = ? ORDER BY created_at DESC LIMIT ?`
	rows, err := s.db.QueryContext(ctx, query, userID, normalizeLimit(limit))
	if err != nil {
		return nil, fmt.Errorf("query quiz sessions: %w", err)
	}
	defer closeRows(rows, "quiz sessions")

	quizzes := []*domain.QuizSession{}
	for rows.Next() {
		quiz, err := scanQuizSession(rows)
		if err != nil {
			return nil, fmt.Errorf("scan quiz session row: %w", err)
		}
		quizzes = append(quizzes, quiz)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate quiz sessions: %w", err)
	}
	return quizzes, nil
}

// DeleteQuizSession removes a quiz session.
func (s *SQLiteStore) DeleteQuizSession(ctx context.Context, quizID string) error {
	_, err := s.exec(ctx, "delete quiz session", `DELETE FROM quiz_sessions WHERE id = ?`, quizID)
	return err
}

// ---- code submissions ----

const codeSubmissionColumns = `id, user_id, code, language, analysis_json, feedback_provided, created_at`

func scanCodeSubmission(row rowScanner) (*domain.CodeSubmission, error) {
	var sub domain.CodeSubmission
	var analysisJSON string
	var createdAt int64

	if err := row.Scan(
		&sub.ID, &sub.UserID, &sub.Code, &sub.Language,
		&analysisJSON, &sub.FeedbackProvided, &createdAt,
	); err != nil {
		return nil, err
	}
	if err := unmarshalColumn(analysisJSON, &sub.AnalysisResults, "analysis_results"); err != nil {
		return nil, err
	}
	sub.CreatedAt = fromMillis(createdAt)
	return &sub, nil
}

// CreateCodeSubmission inserts a new code submission.
func (s *SQLiteStore) CreateCodeSubmission(ctx context.Context, sub *domain.CodeSubmission) error {
	analysis, err := marshalColumn(sub.AnalysisResults, "analysis_results")
	if err != nil {
		return err
	}

	query := `INSERT INTO code_submissions (` + codeSubmissionColumns + `) VALUES (?, ?, ?, ?, ?, ?, ?)`
	_, err = s.exec(ctx, "create code submission", query,
		sub.ID, sub.UserID, sub.Code, sub.Language, analysis, sub.FeedbackProvided, toMillis(sub.CreatedAt),
	)
	return err
}

// GetCodeSubmission retrieves a code submission by id.
func (s *SQLiteStore) GetCodeSubmission(ctx context.Context, submissionID string) (*domain.CodeSubmission, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	query := `SELECT ` + codeSubmissionColumns + ` FROM code_submissions WHERE id = ?`
	sub, err := scanCodeSubmission(s.db.QueryRowContext(ctx, query, submissionID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan code submission: %w", err)
	}
	return sub, nil
}

// ListCodeSubmissions returns a user's submissions, newest first.
func (s *SQLiteStore) ListCodeSubmissions(ctx context.Context, userID string, limit int) ([]*domain.CodeSubmission, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	query := `SELECT ` + codeSubmissionColumns + ` FROM code_submissions
		WHERE user_id = ? ORDER BY created_at DESC LIMIT ?`
	rows, err := s.db.QueryContext(ctx, query, userID, normalizeLimit(limit))
	if err != nil {
		return nil, fmt.Errorf("query code submissions: %w", err)
	}
	defer closeRows(rows, "code submissions")

	subs := []*domain.CodeSubmission{}
	for rows.Next() {
		sub, err := scanCodeSubmission(rows)
		if err != nil {
			return nil, fmt.Errorf("scan code submission row: %w", err)
		}
		subs = append(subs, sub)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate code submissions: %w", err)
	}
	return subs, nil
}

// DeleteCodeSubmission removes a code submission.
func (s *SQLiteStore) DeleteCodeSubmission(ctx context.Context, submissionID string) error {
	_, err := s.exec(ctx, "delete code submission", `DELETE FROM code_submissions WHERE id = ?`, submissionID)
	return err
}

const (
	defaultListLimit = 50
	maxListLimit     = 200
)

func normalizeLimit(limit int) int {
	if limit <= 0 {
		return defaultListLimit
	}
	if limit > maxListLimit {
		return maxListLimit
	}
	return limit
}
