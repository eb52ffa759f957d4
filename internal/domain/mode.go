package domain

// ModeTag identifies one of the tutoring handlers.
type ModeTag string

const (
	ModeCodeFeedback     ModeTag = "code-feedback"
	ModeConceptExplainer ModeTag = "concept-explainer"
	ModeQuizGenerator    ModeTag = "quiz-generator"
	ModeMistakeAnalyzer  ModeTag = "mistake-analyzer"

	// NodeRouter is the current_node of a session that has not run a turn yet.
	NodeRouter ModeTag = "router"
)

// AllModes returns the four mode tags in routing priority order.
func AllModes() []ModeTag {
	return []ModeTag{ModeCodeFeedback, ModeQuizGenerator, ModeMistakeAnalyzer, ModeConceptExplainer}
}

// Valid reports whether m is one of the four mode tags.
func (m ModeTag) Valid() bool {
	switch m {
	case ModeCodeFeedback, ModeConceptExplainer, ModeQuizGenerator, ModeMistakeAnalyzer:
		return true
	}
	return false
}

// DisplayName is the persona label used to prefix responses.
func (m ModeTag) DisplayName() string {
	switch m {
	case ModeCodeFeedback:
		return "Code Feedback"
	case ModeConceptExplainer:
		return "Concept Explainer"
	case ModeQuizGenerator:
		return "Quiz Generator"
	case ModeMistakeAnalyzer:
		return "Mistake Analyzer"
	default:
		return "Tutor"
	}
}

// Prefix returns the "[Mode Name]" marker every response starts with.
func (m ModeTag) Prefix() string {
	return "[" + m.DisplayName() + "]"
}
