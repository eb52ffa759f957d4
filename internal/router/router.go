// Package router classifies free-text input into a tutoring mode.
package router

import (
	"strings"

	"github.com/ashureev/codetutor/internal/domain"
)

type keywordGroup struct {
	mode     domain.ModeTag
	keywords []string
}

// groups are evaluated in order; the first group with a matching keyword wins.
var groups = []keywordGroup{
	{domain.ModeCodeFeedback, []string{"code", "debug", "review", "feedback"}},
	{domain.ModeQuizGenerator, []string{"quiz", "test", "question", "practice"}},
	{domain.ModeMistakeAnalyzer, []string{"progress", "mistake", "track", "analysis"}},
}

// DetermineMode maps user input to a mode tag by case-insensitive substring
// match. Input matching no group, including "", routes to concept-explainer.
func DetermineMode(input string) domain.ModeTag {
	lower := strings.ToLower(input)
	for _, g := range groups {
		for _, kw := range g.keywords {
			if strings.Contains(lower, kw) {
				return g.mode
			}
		}
	}
	return domain.ModeConceptExplainer
}

// Resolve returns requested when it is a valid mode tag and otherwise
// defers to DetermineMode. It is how an explicit node switch wins over
// keyword routing for a single turn.
func Resolve(input string, requested domain.ModeTag) domain.ModeTag {
	if requested.Valid() {
		return requested
	}
	return DetermineMode(input)
}
