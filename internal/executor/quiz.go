package executor

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/ashureev/codetutor/internal/domain"
	"github.com/ashureev/codetutor/internal/quiz"
)

// ChatQuizQuestions is the length of a quiz started from chat.
const ChatQuizQuestions = 5

// QuizCreator creates and stores a quiz for a user.
type QuizCreator interface {
	Create(ctx context.Context, userID string, params quiz.CreateParams) (*domain.QuizSession, error)
}

var quizTopic = regexp.MustCompile(`(?i)\b(?:quiz|test|questions?|practice)\b(?:\s+me)?\s+(?:on|about|for|with)\s+(.+)$`)

// QuizGenerator starts a quiz from a chat turn and points the session at it,
// so later "question N" turns can be answered from the stored quiz.
type QuizGenerator struct {
	base
	quizzes QuizCreator
}

func (e *QuizGenerator) Execute(ctx context.Context, state *TutorState) string {
	topic := e.topic(state)
	difficulty := state.Preferences.EffectiveDifficulty()

	if e.quizzes == nil {
		return quizFallback(state.Preferences, topic)
	}

	qs, err := e.quizzes.Create(ctx, state.UserID, quiz.CreateParams{
		Topic:            topic,
		TotalQuestions:   ChatQuizQuestions,
		Difficulty:       difficulty,
		RequireGenerated: true,
	})
	if err != nil {
		e.logger.Warn("Chat quiz generation failed, using fallback",
			"user_id", state.UserID, "session_id", state.SessionID, "topic", topic, "error", err)
		return quizFallback(state.Preferences, topic)
	}

	state.Ctx().Quiz = &domain.QuizContext{
		ActiveQuizID: qs.ID,
		Topic:        topic,
		Difficulty:   difficulty,
	}
	return RenderQuiz(qs)
}

func (e *QuizGenerator) topic(state *TutorState) string {
	if m := quizTopic.FindStringSubmatch(state.Input); m != nil {
		if t := strings.TrimSpace(strings.TrimRight(m[1], "?.!")); t != "" {
			return truncate(t, 120)
		}
	}
	if c := state.Ctx().Concept; c != nil && c.LastTopic != "" {
		return c.LastTopic
	}
	if len(state.Preferences.TopicsOfInterest) > 0 {
		return state.Preferences.TopicsOfInterest[0]
	}
	return primaryLanguage(state.Preferences) + " fundamentals"
}

// RenderQuiz formats a stored quiz as a chat reply.
func RenderQuiz(qs *domain.QuizSession) string {
	var b strings.Builder
	b.WriteString(domain.ModeQuizGenerator.Prefix())
	fmt.Fprintf(&b, " Here's a %d-question %s quiz on %s.\n", len(qs.Questions), qs.Difficulty, qs.Topic)
	for i, q := range qs.Questions {
		fmt.Fprintf(&b, "\n%d. %s\n", i+1, q.Question)
		if q.CodeSnippet != "" {
			fmt.Fprintf(&b, "```\n%s\n```\n", q.CodeSnippet)
		}
		for j, opt := range q.Options {
			if j < len(quiz.OptionLabels) {
				fmt.Fprintf(&b, "   %s) %s\n", quiz.OptionLabels[j], opt)
			}
		}
	}
	fmt.Fprintf(&b, "\nAsk about \"question N\" to see its answer and explanation, or submit your answers to quiz %s.", qs.ID)
	return b.String()
}

func quizFallback(p domain.Preferences, topic string) string {
	var b strings.Builder
	b.WriteString(domain.ModeQuizGenerator.Prefix())
	fmt.Fprintf(&b, " I couldn't generate a quiz on %s right now. Here's a quick %s self-check instead:\n", topic, p.EffectiveDifficulty())
	fmt.Fprintf(&b, "1. Explain %s in two sentences without notes.\n", topic)
	fmt.Fprintf(&b, "2. Write a short %s snippet that uses it.\n", primaryLanguage(p))
	b.WriteString("3. Predict the output of your snippet, then run it and compare.\n")
	fmt.Fprintf(&b, "With your %s learning style, doing step 2 first is a good start. Ask me for a quiz again in a moment.", orDefault(p.LearningStyle, "hands-on"))
	return b.String()
}
