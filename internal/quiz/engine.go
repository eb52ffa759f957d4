// Package quiz generates multiple-choice quizzes through the completion
// collaborator, grades submissions, and runs the difficulty upgrade flow.
package quiz

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/samber/lo"

	"github.com/ashureev/codetutor/internal/domain"
	"github.com/ashureev/codetutor/internal/llm"
)

const (
	// UpgradeQuestions is the fixed length of an upgrade quiz.
	UpgradeQuestions = 10
	// UpgradePassScore is the score that promotes a user one tier.
	UpgradePassScore = 6

	tokensPerQuestion = 350
)

const generatorSystemPrompt = `You write multiple-choice programming quiz questions.
Respond with a JSON array only, no prose.`

// Engine generates and grades quizzes. It holds no per-user state.
type Engine struct {
	provider llm.Provider
	timeout  time.Duration
	logger   *slog.Logger
}

// NewEngine creates an Engine that bounds every completion call by timeout.
func NewEngine(provider llm.Provider, timeout time.Duration, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{provider: provider, timeout: timeout, logger: logger}
}

// Generate asks the completion collaborator for total questions on topic.
// It never fails: an unusable completion yields the placeholder question.
func (e *Engine) Generate(ctx context.Context, topic string, total int, difficulty domain.Difficulty) []domain.QuizQuestion {
	if total <= 0 {
		total = 1
	}

	ctx, cancel := context.WithTimeout(llm.WithPurpose(ctx, "quiz-generate"), e.timeout)
	defer cancel()

	text, err := llm.Complete(ctx, e.provider, generatorSystemPrompt, generationPrompt(topic, total, difficulty), total*tokensPerQuestion)
	if err != nil {
		e.logger.Warn("Quiz generation failed, using placeholder", "topic", topic, "error", err)
		return Placeholder(topic, difficulty)
	}

	questions, err := ParseQuestions(text, difficulty)
	if err != nil {
		e.logger.Warn("Quiz completion unparseable, using placeholder", "topic", topic, "error", err)
		return Placeholder(topic, difficulty)
	}
	if len(questions) > total {
		questions = questions[:total]
	}
	if topic != "" {
		for i := range questions {
			if !lo.Contains(questions[i].Concepts, topic) {
				questions[i].Concepts = append(questions[i].Concepts, topic)
			}
		}
	}
	return questions
}

func generationPrompt(topic string, total int, difficulty domain.Difficulty) string {
	if topic == "" {
		topic = "general programming"
	}
	var b strings.Builder
	fmt.Fprintf(&b, "Create exactly %d multiple-choice questions about %s for a %s learner.\n", total, topic, difficulty)
	b.WriteString("Return a JSON array where every element has this shape:\n")
	b.WriteString(`{"question": "...", "options": {"a": "...", "b": "...", "c": "...", "d": "..."}, "answer": "a", "explanation": "...", "code_snippet": "optional", "concepts": ["..."]}`)
	b.WriteString("\nExactly one option is correct and \"answer\" is its letter.")
	return b.String()
}

// Submission is one client-supplied answer. Correctness is never taken from
// the client.
type Submission struct {
	QuestionID string `json:"question_id"`
	UserAnswer string `json:"user_answer"`
	TimeTaken  int    `json:"time_taken"`
}

// WrongExplanation describes one incorrectly answered question.
type WrongExplanation struct {
	QuestionID    string `json:"question_id"`
	Question      string `json:"question"`
	CorrectAnswer string `json:"correct_answer"`
	Explanation   string `json:"explanation"`
}

// Result is the outcome of grading a submission.
type Result struct {
	QuizID            string              `json:"quiz_id"`
	Score             int                 `json:"score"`
	TotalQuestions    int                 `json:"total_questions"`
	WrongExplanations []WrongExplanation  `json:"wrong_explanations"`
	Answers           []domain.QuizAnswer `json:"answers"`

	// Promoted and NewDifficulty are only set by the upgrade flow.
	Promoted      bool              `json:"promoted,omitempty"`
	NewDifficulty domain.Difficulty `json:"new_difficulty,omitempty"`
}

// NormalizeUserAnswer trims whitespace and uppercases a single option
// letter, so "b" and " B " both grade as "B". Anything else is matched
// against option text case-insensitively and mapped to its label.
func NormalizeUserAnswer(answer string, options []string) string {
	answer = strings.TrimSpace(answer)
	if upper := strings.ToUpper(answer); lo.Contains(OptionLabels, upper) {
		return upper
	}
	for i, opt := range options {
		if i < len(OptionLabels) && strings.EqualFold(strings.TrimSpace(opt), answer) {
			return OptionLabels[i]
		}
	}
	return answer
}

// Grade scores subs against quiz and records the graded answers on it.
// Every question gets exactly one answer; unanswered questions count as
// wrong and answers for unknown question ids are ignored. The quiz is marked
// completed. TotalQuestions is left as generated.
func Grade(quiz *domain.QuizSession, subs []Submission, now time.Time) *Result {
	byID := lo.SliceToMap(subs, func(s Submission) (string, Submission) {
		return s.QuestionID, s
	})

	result := &Result{
		QuizID:            quiz.ID,
		TotalQuestions:    quiz.TotalQuestions,
		WrongExplanations: []WrongExplanation{},
		Answers:           make([]domain.QuizAnswer, 0, len(quiz.Questions)),
	}

	for _, q := range quiz.Questions {
		sub := byID[q.ID]
		given := NormalizeUserAnswer(sub.UserAnswer, q.Options)
		correct := given != "" && given == q.CorrectAnswer

		result.Answers = append(result.Answers, domain.QuizAnswer{
			QuestionID: q.ID,
			UserAnswer: given,
			IsCorrect:  correct,
			TimeTaken:  sub.TimeTaken,
			Timestamp:  now,
		})
		if correct {
			result.Score++
			continue
		}
		result.WrongExplanations = append(result.WrongExplanations, WrongExplanation{
			QuestionID:    q.ID,
			Question:      q.Question,
			CorrectAnswer: q.CorrectAnswer,
			Explanation:   q.Explanation,
		})
	}

	quiz.Answers = result.Answers
	quiz.Score = result.Score
	quiz.Completed = true
	quiz.UpdatedAt = now
	if quiz.CompletedAt == nil {
		ts := now
		quiz.CompletedAt = &ts
	}
	return result
}
