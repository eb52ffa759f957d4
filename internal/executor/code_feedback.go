package executor

import (
	"context"
	"fmt"
	"strings"

	"github.com/ashureev/codetutor/internal/domain"
)

// CodeFeedback reviews the learner's code. It remembers the last snippet so
// a follow-up like "what about performance?" still has code to look at.
type CodeFeedback struct {
	base
}

func (e *CodeFeedback) Execute(ctx context.Context, state *TutorState) string {
	snippet, language := e.snippet(state)

	var b strings.Builder
	b.WriteString(learnerProfile(state.Preferences))
	b.WriteString(recentConversation(state.RecentTurns))
	fmt.Fprintf(&b, "\nLearner request: %s\n", state.Input)
	if snippet != "" {
		fmt.Fprintf(&b, "\nCode (%s):\n```%s\n%s\n```\n", orDefault(language, "unknown language"), language, snippet)
		b.WriteString("\nReview correctness, readability and idioms. Point out bugs first, then suggest one improvement at a time.")
	} else {
		b.WriteString("\nNo code was shared. Ask the learner to paste the code they want reviewed and explain what you will check.")
	}

	return e.respond(ctx, state, b.String(), func() string {
		return codeFeedbackFallback(state.Preferences, snippet != "")
	})
}

func (e *CodeFeedback) snippet(state *TutorState) (string, string) {
	code, language, ok := ExtractSnippet(state.Input)
	if !ok {
		if state.Ctx().Code == nil {
			return "", ""
		}
		return state.Ctx().Code.LastSnippet, state.Ctx().Code.Language
	}

	if language == "" {
		language = GuessLanguage(code)
	}
	if language == "" {
		language = primaryLanguage(state.Preferences)
	}

	section := &domain.CodeContext{LastSnippet: code, Language: language}
	if prev := state.Ctx().Code; prev != nil {
		section.SubmissionID = prev.SubmissionID
	}
	state.Ctx().Code = section
	return code, language
}

func codeFeedbackFallback(p domain.Preferences, hasCode bool) string {
	var b strings.Builder
	b.WriteString(domain.ModeCodeFeedback.Prefix())
	fmt.Fprintf(&b, " I can't run a full review right now, but here is a %s checklist for your %s code:\n", p.EffectiveDifficulty(), languages(p))
	b.WriteString("1. Does every branch handle its edge cases (empty input, nil/undefined, zero)?\n")
	b.WriteString("2. Are names descriptive enough that the code reads without comments?\n")
	b.WriteString("3. Is any logic duplicated that could become a small function?\n")
	b.WriteString("4. Are errors reported instead of silently ignored?\n")
	if !hasCode {
		b.WriteString("Paste your code in a ``` block and I'll go through it with you.")
	} else {
		fmt.Fprintf(&b, "Since you prefer a %s approach, try applying one item at a time and re-running your code.", orDefault(p.LearningStyle, "hands-on"))
	}
	return b.String()
}
