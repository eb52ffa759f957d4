// Package submission analyzes learner code: static metrics, an optional
// sandbox run and code-feedback review, stored as a CodeSubmission.
package submission

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/ashureev/codetutor/internal/apperr"
	"github.com/ashureev/codetutor/internal/domain"
	"github.com/ashureev/codetutor/internal/executor"
	"github.com/ashureev/codetutor/internal/sandbox"
	"github.com/ashureev/codetutor/internal/store"
)

const maxCodeLength = 20000

// AnalyzeParams is one analyze request.
type AnalyzeParams struct {
	Code     string
	Language string
	// Question is an optional learner note sent along with the code.
	Question string
	// Run executes the code in the sandbox when one is configured.
	Run bool
}

// Service is the owner-scoped code submission boundary.
type Service struct {
	repo     store.Repository
	feedback executor.Executor
	runner   sandbox.Runner
	logger   *slog.Logger
	now      func() time.Time
}

// NewService creates a Service. runner may be nil to disable execution.
func NewService(repo store.Repository, feedback executor.Executor, runner sandbox.Runner, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		repo:     repo,
		feedback: feedback,
		runner:   runner,
		logger:   logger,
		now:      time.Now,
	}
}

// Analyze reviews code and stores the submission.
func (s *Service) Analyze(ctx context.Context, userID string, p AnalyzeParams) (*domain.CodeSubmission, error) {
	if strings.TrimSpace(p.Code) == "" {
		return nil, apperr.Validation("code is required")
	}
	if len(p.Code) > maxCodeLength {
		return nil, apperr.Validation("code must be at most %d bytes", maxCodeLength)
	}

	language := strings.ToLower(strings.TrimSpace(p.Language))
	if language == "" {
		language = executor.GuessLanguage(p.Code)
	}
	if language == "" {
		language = "unknown"
	}

	results := Metrics(p.Code, language)
	if p.Run {
		results.Run = s.run(ctx, userID, language, p.Code)
	}

	sub := &domain.CodeSubmission{
		ID:               uuid.NewString(),
		UserID:           userID,
		Code:             p.Code,
		Language:         language,
		AnalysisResults:  results,
		FeedbackProvided: s.review(ctx, userID, p, language, results.Run),
		CreatedAt:        s.now(),
	}
	if err := s.repo.CreateCodeSubmission(ctx, sub); err != nil {
		return nil, apperr.Database(err, "failed to store code submission")
	}
	s.logger.Info("Code submission stored", "user_id", userID, "submission_id", sub.ID,
		"language", language, "ran", results.Run != nil)
	return sub, nil
}

func (s *Service) run(ctx context.Context, userID, language, code string) *domain.RunResult {
	if s.runner == nil {
		return nil
	}
	res, err := s.runner.Run(ctx, language, code)
	if err != nil {
		if errors.Is(err, sandbox.ErrUnsupportedLanguage) {
			s.logger.Info("Skipping sandbox run", "user_id", userID, "language", language)
		} else {
			s.logger.Warn("Sandbox run failed", "user_id", userID, "language", language, "error", err)
		}
		return nil
	}
	return res
}

func (s *Service) review(ctx context.Context, userID string, p AnalyzeParams, language string, run *domain.RunResult) string {
	var b strings.Builder
	if q := strings.TrimSpace(p.Question); q != "" {
		b.WriteString(q)
		b.WriteString("\n")
	} else {
		b.WriteString("Please review my code.\n")
	}
	fmt.Fprintf(&b, "```%s\n%s\n```\n", language, strings.TrimSpace(p.Code))
	if run != nil {
		fmt.Fprintf(&b, "It exited with code %d", run.ExitCode)
		if run.TimedOut {
			b.WriteString(" after timing out")
		}
		if run.Stderr != "" {
			fmt.Fprintf(&b, " and printed this error:\n%s", run.Stderr)
		}
		b.WriteString("\n")
	}

	state := &executor.TutorState{
		UserID:      userID,
		Input:       b.String(),
		Preferences: s.preferences(ctx, userID),
		Context:     &domain.SessionContext{},
	}
	return s.feedback.Execute(ctx, state)
}

func (s *Service) preferences(ctx context.Context, userID string) domain.Preferences {
	user, err := s.repo.GetUser(ctx, userID)
	if err != nil || user == nil {
		if err != nil {
			s.logger.Warn("Failed to load user preferences, using defaults", "user_id", userID, "error", err)
		}
		return domain.DefaultPreferences()
	}
	return user.Preferences
}

// List returns the caller's submissions, newest first.
func (s *Service) List(ctx context.Context, userID string, limit int) ([]*domain.CodeSubmission, error) {
	subs, err := s.repo.ListCodeSubmissions(ctx, userID, limit)
	if err != nil {
		return nil, apperr.Database(err, "failed to list code submissions")
	}
	return subs, nil
}

// Get returns a submission owned by userID.
func (s *Service) Get(ctx context.Context, userID, id string) (*domain.CodeSubmission, error) {
	sub, err := s.repo.GetCodeSubmission(ctx, id)
	if err != nil {
		return nil, apperr.Database(err, "failed to load code submission")
	}
	if sub == nil || sub.UserID != userID {
		return nil, apperr.NotFound("code submission %s not found", id)
	}
	return sub, nil
}

// Delete removes a submission owned by userID.
func (s *Service) Delete(ctx context.Context, userID, id string) error {
	if _, err := s.Get(ctx, userID, id); err != nil {
		return err
	}
	if err := s.repo.DeleteCodeSubmission(ctx, id); err != nil {
		return apperr.Database(err, "failed to delete code submission")
	}
	return nil
}

var commentMarkers = []string{"//", "#", "--", "/*", "*", "*/"}

// Metrics computes the static facts stored with every submission.
func Metrics(code, language string) domain.AnalysisResults {
	res := domain.AnalysisResults{
		CharCount: utf8.RuneCountInString(code),
		Language:  language,
	}
	lines := strings.Split(strings.TrimRight(code, "\n"), "\n")
	res.LineCount = len(lines)
	for _, line := range lines {
		if n := utf8.RuneCountInString(line); n > res.MaxLineLength {
			res.MaxLineLength = n
		}
		trimmed := strings.TrimSpace(line)
		for _, marker := range commentMarkers {
			if strings.HasPrefix(trimmed, marker) {
				res.CommentLines++
				break
			}
		}
	}
	return res
}
