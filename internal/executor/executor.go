// Package executor holds one handler per tutoring mode. Every executor
// answers: when the completion collaborator fails it falls back to a
// deterministic template built from the learner's preferences.
package executor

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/ashureev/codetutor/internal/domain"
	"github.com/ashureev/codetutor/internal/llm"
)

// TutorState is the input of one executor run. Executors write their
// context section into Context; the orchestrator merges it afterwards.
type TutorState struct {
	UserID      string
	SessionID   string
	Input       string
	Preferences domain.Preferences
	Context     *domain.SessionContext

	// TurnCount is the number of turns already in the session.
	TurnCount   int
	RecentTurns []domain.HistoryEntry
}

// Ctx returns the session context, creating an empty one if needed.
func (s *TutorState) Ctx() *domain.SessionContext {
	if s.Context == nil {
		s.Context = &domain.SessionContext{}
	}
	return s.Context
}

// Executor handles one mode.
type Executor interface {
	Mode() domain.ModeTag
	Execute(ctx context.Context, state *TutorState) string
}

// Registry maps mode tags to executors.
type Registry struct {
	executors map[domain.ModeTag]Executor
}

// NewRegistry indexes executors by their mode.
func NewRegistry(executors ...Executor) *Registry {
	r := &Registry{executors: make(map[domain.ModeTag]Executor, len(executors))}
	for _, e := range executors {
		r.executors[e.Mode()] = e
	}
	return r
}

// Get returns the executor registered for mode.
func (r *Registry) Get(mode domain.ModeTag) (Executor, bool) {
	e, ok := r.executors[mode]
	return e, ok
}

// Deps are the collaborators shared by the executors.
type Deps struct {
	Provider  llm.Provider
	Timeout   time.Duration
	MaxTokens int
	Logger    *slog.Logger
	Quizzes   QuizCreator
	History   QuizHistory
	Now       func() time.Time
}

// NewDefaultRegistry builds the four stock executors.
func NewDefaultRegistry(d Deps) *Registry {
	b := newBase(d)
	return NewRegistry(
		&CodeFeedback{base: b.forMode(domain.ModeCodeFeedback)},
		&ConceptExplainer{base: b.forMode(domain.ModeConceptExplainer)},
		&QuizGenerator{base: b.forMode(domain.ModeQuizGenerator), quizzes: d.Quizzes},
		&MistakeAnalyzer{base: b.forMode(domain.ModeMistakeAnalyzer), history: d.History},
	)
}

type base struct {
	mode      domain.ModeTag
	provider  llm.Provider
	timeout   time.Duration
	maxTokens int
	logger    *slog.Logger
	now       func() time.Time
}

func newBase(d Deps) base {
	b := base{
		provider:  d.Provider,
		timeout:   d.Timeout,
		maxTokens: d.MaxTokens,
		logger:    d.Logger,
		now:       d.Now,
	}
	if b.provider == nil {
		b.provider = llm.NewDisabledProvider()
	}
	if b.timeout <= 0 {
		b.timeout = 30 * time.Second
	}
	if b.maxTokens <= 0 {
		b.maxTokens = 1000
	}
	if b.logger == nil {
		b.logger = slog.Default()
	}
	if b.now == nil {
		b.now = time.Now
	}
	return b
}

func (b base) forMode(mode domain.ModeTag) base {
	b.mode = mode
	return b
}

// Mode returns the tag this executor handles.
func (b base) Mode() domain.ModeTag {
	return b.mode
}

// respond runs one bounded completion and returns the prefixed answer, or
// the fallback when the call errors, times out or comes back empty.
func (b base) respond(ctx context.Context, state *TutorState, prompt string, fallback func() string) string {
	ctx, cancel := context.WithTimeout(llm.WithPurpose(ctx, string(b.mode)), b.timeout)
	defer cancel()

	text, err := llm.Complete(ctx, b.provider, personaPrompt(b.mode), prompt, b.maxTokens)
	if err != nil {
		b.logger.Warn("Completion failed, using fallback",
			"node", b.mode, "user_id", state.UserID, "session_id", state.SessionID, "error", err)
		return fallback()
	}
	return withPrefix(b.mode, text)
}

// withPrefix makes sure text starts with the mode's "[Name]" marker.
func withPrefix(mode domain.ModeTag, text string) string {
	prefix := mode.Prefix()
	text = strings.TrimSpace(text)
	if strings.HasPrefix(text, prefix) {
		return text
	}
	return prefix + " " + text
}
