package quiz

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/ashureev/codetutor/internal/apperr"
	"github.com/ashureev/codetutor/internal/domain"
	"github.com/ashureev/codetutor/internal/store"
)

const maxQuestions = 20

// ErrGenerationFailed is returned by Create when RequireGenerated is set and
// the completion produced no usable questions.
var ErrGenerationFailed = errors.New("quiz generation failed")

// CreateParams describes a new quiz. When Questions is empty the quiz is
// generated from Topic.
type CreateParams struct {
	Topic          string
	TotalQuestions int
	Difficulty     domain.Difficulty
	Questions      []domain.QuizQuestion

	// RequireGenerated makes a placeholder result an error instead of a
	// stored quiz. Chat turns use it to fall back to their own template.
	RequireGenerated bool
}

// Service is the owner-scoped quiz boundary: every read, submit and delete
// checks that the quiz belongs to the caller.
type Service struct {
	repo             store.Repository
	engine           *Engine
	defaultQuestions int
	logger           *slog.Logger
	now              func() time.Time
}

// NewService creates a quiz Service.
func NewService(repo store.Repository, engine *Engine, defaultQuestions int, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	if defaultQuestions <= 0 {
		defaultQuestions = 5
	}
	return &Service{
		repo:             repo,
		engine:           engine,
		defaultQuestions: defaultQuestions,
		logger:           logger,
		now:              time.Now,
	}
}

// ResolveDifficulty picks the explicit tier, else the user's stored
// preference, else beginner.
func (s *Service) ResolveDifficulty(ctx context.Context, userID string, explicit domain.Difficulty) domain.Difficulty {
	if explicit.Valid() {
		return explicit
	}
	user, err := s.repo.GetUser(ctx, userID)
	if err != nil {
		s.logger.Warn("Failed to load user for difficulty", "user_id", userID, "error", err)
		return domain.DifficultyBeginner
	}
	if user == nil {
		return domain.DifficultyBeginner
	}
	return user.Preferences.EffectiveDifficulty()
}

// Create stores a practice quiz, generating questions when none are given.
func (s *Service) Create(ctx context.Context, userID string, params CreateParams) (*domain.QuizSession, error) {
	if params.Difficulty != "" && !params.Difficulty.Valid() {
		return nil, apperr.Validation("difficulty must be one of beginner, intermediate, advanced")
	}
	difficulty := s.ResolveDifficulty(ctx, userID, params.Difficulty)

	var questions []domain.QuizQuestion
	if len(params.Questions) > 0 {
		var err error
		questions, err = normalizeSupplied(params.Questions, difficulty)
		if err != nil {
			return nil, err
		}
	} else {
		if strings.TrimSpace(params.Topic) == "" {
			return nil, apperr.Validation("topic is required when no questions are supplied")
		}
		total := params.TotalQuestions
		if total <= 0 {
			total = s.defaultQuestions
		}
		if total > maxQuestions {
			return nil, apperr.Validation("total_questions must be at most %d", maxQuestions)
		}
		questions = s.engine.Generate(ctx, params.Topic, total, difficulty)
		if params.RequireGenerated && IsPlaceholder(questions) {
			return nil, ErrGenerationFailed
		}
	}

	return s.save(ctx, userID, domain.QuizKindPractice, params.Topic, difficulty, questions)
}

// StartUpgrade creates a fixed-length quiz at the user's current tier. A
// completion that yields fewer than UpgradeQuestions questions is an error;
// nothing is stored, since a shorter quiz could never reach the pass score.
func (s *Service) StartUpgrade(ctx context.Context, userID, topic string) (*domain.QuizSession, error) {
	difficulty := s.ResolveDifficulty(ctx, userID, "")
	if topic == "" {
		topic = "programming fundamentals"
	}
	questions := s.engine.Generate(ctx, topic, UpgradeQuestions, difficulty)
	if IsPlaceholder(questions) || len(questions) < UpgradeQuestions {
		s.logger.Warn("Upgrade quiz generation incomplete", "user_id", userID, "topic", topic, "questions", len(questions))
		return nil, apperr.Completion(ErrGenerationFailed, "could not generate a %d-question upgrade quiz, please try again", UpgradeQuestions)
	}
	return s.save(ctx, userID, domain.QuizKindUpgrade, topic, difficulty, questions)
}

func (s *Service) save(ctx context.Context, userID string, kind domain.QuizKind, topic string, difficulty domain.Difficulty, questions []domain.QuizQuestion) (*domain.QuizSession, error) {
	now := s.now()
	quiz := &domain.QuizSession{
		ID:             uuid.NewString(),
		UserID:         userID,
		Kind:           kind,
		Topic:          topic,
		Difficulty:     difficulty,
		Questions:      questions,
		Answers:        []domain.QuizAnswer{},
		TotalQuestions: len(questions),
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := s.repo.CreateQuizSession(ctx, quiz); err != nil {
		return nil, apperr.Database(err, "failed to store quiz")
	}
	s.logger.Info("Quiz created", "user_id", userID, "quiz_id", quiz.ID, "kind", kind, "questions", len(questions))
	return quiz, nil
}

// List returns the caller's quizzes, newest first.
func (s *Service) List(ctx context.Context, userID string, limit int) ([]*domain.QuizSession, error) {
	quizzes, err := s.repo.ListQuizSessions(ctx, userID, limit)
	if err != nil {
		return nil, apperr.Database(err, "failed to list quizzes")
	}
	return quizzes, nil
}

// Get returns a quiz owned by userID. Missing and foreign quizzes are both
// reported as not found.
func (s *Service) Get(ctx context.Context, userID, quizID string) (*domain.QuizSession, error) {
	quiz, err := s.repo.GetQuizSession(ctx, quizID)
	if err != nil {
		return nil, apperr.Database(err, "failed to load quiz")
	}
	if quiz == nil || quiz.UserID != userID {
		return nil, apperr.NotFound("quiz %s not found", quizID)
	}
	return quiz, nil
}

// Submit grades answers and persists the result. A completed quiz may be
// resubmitted; it is regraded but stays completed and keeps its
// total_questions. An upgrade quiz promotes the user only on its first
// completion. Promotion is applied before the quiz is stored as completed,
// so a failed write leaves the quiz open for another attempt.
func (s *Service) Submit(ctx context.Context, userID, quizID string, subs []Submission) (*Result, error) {
	quiz, err := s.Get(ctx, userID, quizID)
	if err != nil {
		return nil, err
	}
	if len(subs) == 0 {
		return nil, apperr.Validation("answers are required")
	}

	firstCompletion := !quiz.Completed
	result := Grade(quiz, subs, s.now())

	if quiz.Kind == domain.QuizKindUpgrade && firstCompletion && result.Score >= UpgradePassScore {
		newTier, err := s.promote(ctx, userID, quiz.Difficulty)
		if err != nil {
			return nil, err
		}
		result.Promoted = true
		result.NewDifficulty = newTier
	}

	if err := s.repo.UpdateQuizSession(ctx, quiz); err != nil {
		return nil, apperr.Database(err, "failed to store quiz answers")
	}

	s.logger.Info("Quiz submitted", "user_id", userID, "quiz_id", quizID,
		"score", result.Score, "total", result.TotalQuestions, "promoted", result.Promoted)
	return result, nil
}

// promote raises the user to the tier above the one the quiz was taken at.
// The target depends only on the quiz, so repeating it never skips a tier,
// and a user already at or above the target is left unchanged.
func (s *Service) promote(ctx context.Context, userID string, taken domain.Difficulty) (domain.Difficulty, error) {
	user, err := s.repo.GetUser(ctx, userID)
	if err != nil {
		return "", apperr.Database(err, "failed to load user")
	}
	if user == nil {
		return "", apperr.NotFound("user %s not found", userID)
	}

	prefs := user.Preferences
	current := prefs.EffectiveDifficulty()
	if !taken.Valid() {
		taken = current
	}
	target := taken.Next()
	if current.Rank() >= target.Rank() {
		return current, nil
	}

	prefs.Difficulty = target
	if err := s.repo.UpdatePreferences(ctx, userID, prefs); err != nil {
		return "", apperr.Database(err, "failed to promote user")
	}
	return target, nil
}

// Delete removes a quiz owned by userID.
func (s *Service) Delete(ctx context.Context, userID, quizID string) error {
	if _, err := s.Get(ctx, userID, quizID); err != nil {
		return err
	}
	if err := s.repo.DeleteQuizSession(ctx, quizID); err != nil {
		return apperr.Database(err, "failed to delete quiz")
	}
	return nil
}

// normalizeSupplied validates client-authored questions and puts them in the
// same canonical shape generated questions have.
func normalizeSupplied(in []domain.QuizQuestion, difficulty domain.Difficulty) ([]domain.QuizQuestion, error) {
	if len(in) > maxQuestions {
		return nil, apperr.Validation("a quiz holds at most %d questions", maxQuestions)
	}
	out := make([]domain.QuizQuestion, 0, len(in))
	for i, q := range in {
		if strings.TrimSpace(q.Question) == "" {
			return nil, apperr.Validation("question %d has no text", i+1)
		}
		options, err := NormalizeOptions(q.Options)
		if err != nil {
			return nil, apperr.Validation("question %d: %v", i+1, err)
		}
		label, ok := CanonicalAnswer(q.CorrectAnswer, options)
		if !ok {
			return nil, apperr.Validation("question %d: correct_answer must name one of the options", i+1)
		}
		q.ID = questionID(i)
		q.Options = options
		q.CorrectAnswer = label
		if q.Type == "" {
			q.Type = "multiple-choice"
		}
		if !q.Difficulty.Valid() {
			q.Difficulty = difficulty
		}
		if q.Concepts == nil {
			q.Concepts = []string{}
		}
		out = append(out, q)
	}
	return out, nil
}
