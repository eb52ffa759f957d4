package executor

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/ashureev/codetutor/internal/domain"
)

func personaPrompt(mode domain.ModeTag) string {
	return fmt.Sprintf(`You are a patient programming tutor acting as the %s.
Always begin your reply with "%s".
Keep answers focused and practical.`, mode.DisplayName(), mode.Prefix())
}

// learnerProfile renders the preference fields every prompt carries.
func learnerProfile(p domain.Preferences) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Learner difficulty: %s\n", p.EffectiveDifficulty())
	fmt.Fprintf(&b, "Preferred languages: %s\n", languages(p))
	fmt.Fprintf(&b, "Learning style: %s\n", orDefault(p.LearningStyle, "hands-on"))
	if p.ExplanationMode != "" {
		fmt.Fprintf(&b, "Explanation mode: %s\n", p.ExplanationMode)
	}
	if len(p.TopicsOfInterest) > 0 {
		fmt.Fprintf(&b, "Topics of interest: %s\n", strings.Join(p.TopicsOfInterest, ", "))
	}
	return b.String()
}

func languages(p domain.Preferences) string {
	if len(p.PreferredLanguages) == 0 {
		return "javascript"
	}
	return strings.Join(p.PreferredLanguages, ", ")
}

func primaryLanguage(p domain.Preferences) string {
	if len(p.PreferredLanguages) == 0 {
		return "javascript"
	}
	return p.PreferredLanguages[0]
}

func orDefault(s, fallback string) string {
	if strings.TrimSpace(s) == "" {
		return fallback
	}
	return s
}

func recentConversation(turns []domain.HistoryEntry) string {
	if len(turns) == 0 {
		return ""
	}
	var b strings.Builder
	b.WriteString("Recent conversation:\n")
	for _, t := range turns {
		fmt.Fprintf(&b, "- learner: %s\n", truncate(t.UserInput, 200))
	}
	return b.String()
}

// truncate keeps the first n runes of s.
func truncate(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	return string([]rune(s)[:n]) + "..."
}
