package domain

import (
	"time"
)

// CodeContext is stashed by the code-feedback executor.
type CodeContext struct {
	LastSnippet  string `json:"last_snippet,omitempty"`
	Language     string `json:"language,omitempty"`
	SubmissionID string `json:"submission_id,omitempty"`
}

// ConceptContext is stashed by the concept-explainer executor.
type ConceptContext struct {
	LastTopic string `json:"last_topic,omitempty"`
}

// QuizContext references the quiz a session is currently working through.
type QuizContext struct {
	ActiveQuizID string     `json:"active_quiz_id,omitempty"`
	Topic        string     `json:"topic,omitempty"`
	Difficulty   Difficulty `json:"difficulty,omitempty"`
}

// ProgressContext is stashed by the mistake-analyzer executor.
type ProgressContext struct {
	LastAnalysisAt    *time.Time `json:"last_analysis_at,omitempty"`
	SessionsCompleted int        `json:"sessions_completed,omitempty"`
}

// SessionContext is the cross-turn state of a chat session. Each mode owns
// one optional section; Extra keeps room for keys no section models yet.
type SessionContext struct {
	Code          *CodeContext     `json:"code,omitempty"`
	Concept       *ConceptContext  `json:"concept,omitempty"`
	Quiz          *QuizContext     `json:"quiz,omitempty"`
	Progress      *ProgressContext `json:"progress,omitempty"`
	RequestedNode ModeTag          `json:"requested_node,omitempty"`
	LastNode      ModeTag          `json:"last_node,omitempty"`
	Extra         map[string]any   `json:"extra,omitempty"`
}

// ActiveQuizID returns the referenced quiz id, or "" when none is active.
func (c *SessionContext) ActiveQuizID() string {
	if c == nil || c.Quiz == nil {
		return ""
	}
	return c.Quiz.ActiveQuizID
}

// Clone returns a deep copy so callers can merge without aliasing.
func (c SessionContext) Clone() SessionContext {
	out := SessionContext{
		RequestedNode: c.RequestedNode,
		LastNode:      c.LastNode,
	}
	if c.Code != nil {
		v := *c.Code
		out.Code = &v
	}
	if c.Concept != nil {
		v := *c.Concept
		out.Concept = &v
	}
	if c.Quiz != nil {
		v := *c.Quiz
		out.Quiz = &v
	}
	if c.Progress != nil {
		v := *c.Progress
		if c.Progress.LastAnalysisAt != nil {
			ts := *c.Progress.LastAnalysisAt
			v.LastAnalysisAt = &ts
		}
		out.Progress = &v
	}
	if len(c.Extra) > 0 {
		out.Extra = make(map[string]any, len(c.Extra))
		for k, v := range c.Extra {
			out.Extra[k] = v
		}
	}
	return out
}

// Merge overlays every section set in other onto c. Unset sections in other
// leave c untouched, so a partial update never erases earlier state.
func (c *SessionContext) Merge(other SessionContext) {
	o := other.Clone()
	if o.Code != nil {
		c.Code = o.Code
	}
	if o.Concept != nil {
		c.Concept = o.Concept
	}
	if o.Quiz != nil {
		c.Quiz = o.Quiz
	}
	if o.Progress != nil {
		c.Progress = o.Progress
	}
	if o.RequestedNode != "" {
		c.RequestedNode = o.RequestedNode
	}
	if o.LastNode != "" {
		c.LastNode = o.LastNode
	}
	if len(o.Extra) > 0 {
		if c.Extra == nil {
			c.Extra = make(map[string]any, len(o.Extra))
		}
		for k, v := range o.Extra {
			c.Extra[k] = v
		}
	}
}
