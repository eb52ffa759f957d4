package domain

import (
	"time"
)

// QuizKind distinguishes ordinary practice quizzes from tier upgrade quizzes.
type QuizKind string

const (
	QuizKindPractice QuizKind = "practice"
	QuizKindUpgrade  QuizKind = "upgrade"
)

// QuizQuestion is immutable once generated and stored.
type QuizQuestion struct {
	ID            string     `json:"id"`
	Type          string     `json:"type"`
	Question      string     `json:"question"`
	Options       []string   `json:"options"`
	CodeSnippet   string     `json:"code_snippet,omitempty"`
	CorrectAnswer string     `json:"correct_answer"`
	Explanation   string     `json:"explanation"`
	Difficulty    Difficulty `json:"difficulty"`
	Concepts      []string   `json:"concepts"`
}

// QuizAnswer is a graded answer. IsCorrect is always computed server-side.
type QuizAnswer struct {
	QuestionID string    `json:"question_id"`
	UserAnswer string    `json:"user_answer"`
	IsCorrect  bool      `json:"is_correct"`
	TimeTaken  int       `json:"time_taken"`
	Timestamp  time.Time `json:"timestamp"`
}

// QuizSession is a generated quiz and, once completed, its graded answers.
// Score is only meaningful when Completed is true.
type QuizSession struct {
	ID             string         `json:"id"`
	UserID         string         `json:"user_id"`
	Kind           QuizKind       `json:"kind"`
	Topic          string         `json:"topic"`
	Difficulty     Difficulty     `json:"difficulty"`
	Questions      []QuizQuestion `json:"questions"`
	Answers        []QuizAnswer   `json:"answers"`
	Score          int            `json:"score"`
	TotalQuestions int            `json:"total_questions"`
	Completed      bool           `json:"completed"`
	CreatedAt      time.Time      `json:"created_at"`
	UpdatedAt      time.Time      `json:"updated_at"`
	CompletedAt    *time.Time     `json:"completed_at,omitempty"`
}

// QuestionByID returns the question with the given id.
func (q *QuizSession) QuestionByID(id string) (QuizQuestion, bool) {
	for _, question := range q.Questions {
		if question.ID == id {
			return question, true
		}
	}
	return QuizQuestion{}, false
}

// QuestionAt returns the question at a 0-based index.
func (q *QuizSession) QuestionAt(index int) (QuizQuestion, bool) {
	if index < 0 || index >= len(q.Questions) {
		return QuizQuestion{}, false
	}
	return q.Questions[index], true
}
