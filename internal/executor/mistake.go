package executor

import (
	"context"
	"fmt"
	"strings"

	"github.com/samber/lo"

	"github.com/ashureev/codetutor/internal/domain"
)

// QuizHistory lists a user's quizzes, newest first.
type QuizHistory interface {
	List(ctx context.Context, userID string, limit int) ([]*domain.QuizSession, error)
}

const recentQuizLimit = 5

// MistakeAnalyzer summarizes progress from conversation length and recent
// quiz results.
type MistakeAnalyzer struct {
	base
	history QuizHistory
}

type quizScore struct {
	topic        string
	score, total int
}

func (e *MistakeAnalyzer) Execute(ctx context.Context, state *TutorState) string {
	scores := e.recentScores(ctx, state.UserID)
	now := e.now()
	state.Ctx().Progress = &domain.ProgressContext{
		LastAnalysisAt:    &now,
		SessionsCompleted: state.TurnCount,
	}

	var b strings.Builder
	b.WriteString(learnerProfile(state.Preferences))
	fmt.Fprintf(&b, "Sessions completed: %d\n", state.TurnCount)
	if len(scores) > 0 {
		b.WriteString("Recent quiz results:\n")
		for _, s := range scores {
			fmt.Fprintf(&b, "- %s: %d/%d\n", orDefault(s.topic, "general"), s.score, s.total)
		}
	}
	b.WriteString(recentConversation(state.RecentTurns))
	fmt.Fprintf(&b, "\nLearner request: %s\n", state.Input)
	b.WriteString("\nIdentify likely misconceptions, name the weakest area, and suggest the next two things to practice.")

	return e.respond(ctx, state, b.String(), func() string {
		return mistakeFallback(state.Preferences, state.TurnCount, scores)
	})
}

func (e *MistakeAnalyzer) recentScores(ctx context.Context, userID string) []quizScore {
	if e.history == nil || userID == "" {
		return nil
	}
	quizzes, err := e.history.List(ctx, userID, recentQuizLimit)
	if err != nil {
		e.logger.Warn("Failed to load quiz history", "user_id", userID, "error", err)
		return nil
	}
	completed := lo.Filter(quizzes, func(q *domain.QuizSession, _ int) bool {
		return q.Completed && q.TotalQuestions > 0
	})
	return lo.Map(completed, func(q *domain.QuizSession, _ int) quizScore {
		return quizScore{topic: q.Topic, score: q.Score, total: q.TotalQuestions}
	})
}

func mistakeFallback(p domain.Preferences, turns int, scores []quizScore) string {
	var b strings.Builder
	b.WriteString(domain.ModeMistakeAnalyzer.Prefix())
	fmt.Fprintf(&b, " You've completed %d sessions so far at the %s level.", turns, p.EffectiveDifficulty())
	if len(scores) > 0 {
		score := lo.SumBy(scores, func(s quizScore) int { return s.score })
		total := lo.SumBy(scores, func(s quizScore) int { return s.total })
		fmt.Fprintf(&b, " Across your last %d quizzes you answered %d of %d questions correctly.", len(scores), score, total)
	}
	b.WriteString("\nTo find recurring mistakes:\n")
	b.WriteString("1. Revisit the questions you missed and explain why the correct answer is right.\n")
	fmt.Fprintf(&b, "2. Rewrite one recent %s exercise without looking at your old solution.\n", primaryLanguage(p))
	fmt.Fprintf(&b, "3. Keep a short list of errors you hit; with a %s style, fixing them in code sticks best.", orDefault(p.LearningStyle, "hands-on"))
	return b.String()
}
