package executor

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/ashureev/codetutor/internal/domain"
)

var conceptLead = regexp.MustCompile(`(?i)^\s*(?:please\s+)?(?:can you\s+|could you\s+)?(?:explain|describe|define|teach me|tell me about|what (?:is|are)|how (?:do|does|to)|why (?:is|are|do|does))\s+(?:me\s+)?(?:the\s+|a\s+|an\s+)?`)

// ExtractTopic strips question lead-ins so "explain closures?" becomes
// "closures".
func ExtractTopic(input string) string {
	topic := conceptLead.ReplaceAllString(input, "")
	topic = strings.TrimSpace(strings.TrimRight(strings.TrimSpace(topic), "?.!"))
	return truncate(topic, 120)
}

// ConceptExplainer explains programming concepts and is the catch-all mode.
type ConceptExplainer struct {
	base
}

func (e *ConceptExplainer) Execute(ctx context.Context, state *TutorState) string {
	topic := ExtractTopic(state.Input)
	if topic == "" && state.Ctx().Concept != nil {
		topic = state.Ctx().Concept.LastTopic
	}
	if topic != "" {
		state.Ctx().Concept = &domain.ConceptContext{LastTopic: topic}
	}

	var b strings.Builder
	b.WriteString(learnerProfile(state.Preferences))
	b.WriteString(recentConversation(state.RecentTurns))
	fmt.Fprintf(&b, "\nLearner request: %s\n", state.Input)
	fmt.Fprintf(&b, "\nExplain the concept with an example in %s. Match the learner's difficulty and style.", primaryLanguage(state.Preferences))

	return e.respond(ctx, state, b.String(), func() string {
		return conceptFallback(state.Preferences, topic)
	})
}

func conceptFallback(p domain.Preferences, topic string) string {
	subject := orDefault(topic, "this concept")
	var b strings.Builder
	b.WriteString(domain.ModeConceptExplainer.Prefix())
	fmt.Fprintf(&b, " Let's work through %s at a %s level.\n", subject, p.EffectiveDifficulty())
	fmt.Fprintf(&b, "1. Start with a one-sentence definition of %s in your own words.\n", subject)
	fmt.Fprintf(&b, "2. Write the smallest %s example that uses it.\n", primaryLanguage(p))
	b.WriteString("3. Change one thing in the example and predict what happens before you run it.\n")
	fmt.Fprintf(&b, "This %s approach works well with your preferred languages (%s). Ask me a follow-up about any step.", orDefault(p.LearningStyle, "hands-on"), languages(p))
	return b.String()
}
