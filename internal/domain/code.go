package domain

import (
	"time"
)

// RunResult is the outcome of executing a submission in the sandbox.
type RunResult struct {
	Stdout   string `json:"stdout"`
	Stderr   string `json:"stderr"`
	ExitCode int    `json:"exit_code"`
	TimedOut bool   `json:"timed_out"`
	Duration int64  `json:"duration_ms"`
}

// AnalysisResults holds the machine-derived facts about a submission.
type AnalysisResults struct {
	LineCount     int        `json:"line_count"`
	CharCount     int        `json:"char_count"`
	Language      string     `json:"language"`
	CommentLines  int        `json:"comment_lines"`
	MaxLineLength int        `json:"max_line_length"`
	Run           *RunResult `json:"run,omitempty"`
}

// CodeSubmission is created once per analyze call and never edited.
type CodeSubmission struct {
	ID               string          `json:"id"`
	UserID           string          `json:"user_id"`
	Code             string          `json:"code"`
	Language         string          `json:"language"`
	AnalysisResults  AnalysisResults `json:"analysis_results"`
	FeedbackProvided string          `json:"feedback_provided"`
	CreatedAt        time.Time       `json:"created_at"`
}
