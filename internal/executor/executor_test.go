package executor

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ashureev/codetutor/internal/domain"
	"github.com/ashureev/codetutor/internal/llm"
	"github.com/ashureev/codetutor/internal/quiz"
)

type fakeQuizzes struct {
	created []quiz.CreateParams
	err     error
	list    []*domain.QuizSession
}

func (f *fakeQuizzes) Create(_ context.Context, userID string, params quiz.CreateParams) (*domain.QuizSession, error) {
	f.created = append(f.created, params)
	if f.err != nil {
		return nil, f.err
	}
	return &domain.QuizSession{
		ID:         "quiz-1",
		UserID:     userID,
		Topic:      params.Topic,
		Difficulty: params.Difficulty,
		Questions: []domain.QuizQuestion{
			{ID: "q1", Question: "What is a closure?", Options: []string{"A function with its scope", "A loop", "A class", "A module"}, CorrectAnswer: "A"},
		},
		TotalQuestions: 1,
	}, nil
}

func (f *fakeQuizzes) List(context.Context, string, int) ([]*domain.QuizSession, error) {
	return f.list, f.err
}

func testDeps(p llm.Provider, quizzes *fakeQuizzes) Deps {
	return Deps{
		Provider:  p,
		Timeout:   time.Second,
		MaxTokens: 100,
		Logger:    slog.New(slog.NewTextHandler(io.Discard, nil)),
		Quizzes:   quizzes,
		History:   quizzes,
	}
}

func newState(input string) *TutorState {
	return &TutorState{
		UserID:      "u1",
		SessionID:   "s1",
		Input:       input,
		Preferences: domain.DefaultPreferences(),
		Context:     &domain.SessionContext{},
	}
}

func TestFallbackOnCompletionFailure(t *testing.T) {
	t.Parallel()

	failures := map[string]llm.Provider{
		"error":    llm.NewMockProvider(llm.ErrorResponse(errors.New("boom"))),
		"empty":    llm.NewMockProvider(llm.TextResponse("  ")),
		"disabled": llm.NewDisabledProvider(),
	}

	for name, provider := range failures {
		for _, mode := range domain.AllModes() {
			t.Run(name+"/"+string(mode), func(t *testing.T) {
				quizzes := &fakeQuizzes{err: errors.New("store down")}
				registry := NewDefaultRegistry(testDeps(provider, quizzes))
				exec, ok := registry.Get(mode)
				require.True(t, ok)

				out := exec.Execute(context.Background(), newState("help me with closures"))
				assert.NotEmpty(t, out)
				assert.True(t, strings.HasPrefix(out, mode.Prefix()), "got %q", out)
				assert.Contains(t, out, "beginner")
			})
		}
	}
}

func TestFallbackOnTimeout(t *testing.T) {
	t.Parallel()

	deps := testDeps(blockingProvider{}, &fakeQuizzes{})
	deps.Timeout = 10 * time.Millisecond
	exec, _ := NewDefaultRegistry(deps).Get(domain.ModeConceptExplainer)

	out := exec.Execute(context.Background(), newState("explain recursion"))
	assert.True(t, strings.HasPrefix(out, "[Concept Explainer]"))
}

type blockingProvider struct{}

func (blockingProvider) Generate(ctx context.Context, _ llm.Request) (*llm.Response, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

func (blockingProvider) ModelID() string { return "blocking" }

func TestSuccessAddsMissingPrefix(t *testing.T) {
	t.Parallel()

	mock := llm.NewMockProvider(llm.TextResponse("Closures capture variables."))
	exec, _ := NewDefaultRegistry(testDeps(mock, &fakeQuizzes{})).Get(domain.ModeConceptExplainer)

	state := newState("explain closures?")
	out := exec.Execute(context.Background(), state)
	assert.Equal(t, "[Concept Explainer] Closures capture variables.", out)
	require.NotNil(t, state.Context.Concept)
	assert.Equal(t, "closures", state.Context.Concept.LastTopic)

	req := mock.Calls[0]
	assert.Contains(t, req.System, "[Concept Explainer]")
	assert.Contains(t, req.Messages[0].Content, "Learning style: hands-on")
	assert.Contains(t, req.Messages[0].Content, "javascript")
}

func TestCodeFeedbackRemembersSnippet(t *testing.T) {
	t.Parallel()

	mock := llm.NewMockProvider(llm.TextResponse("[Code Feedback] Looks fine."), llm.TextResponse("Still fine."))
	exec, _ := NewDefaultRegistry(testDeps(mock, &fakeQuizzes{})).Get(domain.ModeCodeFeedback)

	state := newState("review this:\n```python\ndef add(a, b):\n    return a + b\n```")
	out := exec.Execute(context.Background(), state)
	assert.Equal(t, "[Code Feedback] Looks fine.", out)
	require.NotNil(t, state.Context.Code)
	assert.Equal(t, "python", state.Context.Code.Language)
	assert.Contains(t, state.Context.Code.LastSnippet, "def add")

	follow := newState("any code style issues?")
	follow.Context = state.Context
	exec.Execute(context.Background(), follow)
	assert.Contains(t, mock.Calls[1].Messages[0].Content, "def add")
}

func TestQuizGeneratorSetsActiveQuiz(t *testing.T) {
	t.Parallel()

	quizzes := &fakeQuizzes{}
	exec, _ := NewDefaultRegistry(testDeps(llm.NewDisabledProvider(), quizzes)).Get(domain.ModeQuizGenerator)

	state := newState("quiz me on closures")
	out := exec.Execute(context.Background(), state)

	assert.True(t, strings.HasPrefix(out, "[Quiz Generator]"))
	assert.Contains(t, out, "A) A function with its scope")
	assert.Equal(t, "quiz-1", state.Context.ActiveQuizID())
	require.Len(t, quizzes.created, 1)
	assert.Equal(t, "closures", quizzes.created[0].Topic)
	assert.Equal(t, ChatQuizQuestions, quizzes.created[0].TotalQuestions)
	assert.True(t, quizzes.created[0].RequireGenerated)
}

func TestMistakeAnalyzerRecordsProgress(t *testing.T) {
	t.Parallel()

	quizzes := &fakeQuizzes{list: []*domain.QuizSession{
		{Topic: "loops", Score: 3, TotalQuestions: 5, Completed: true},
		{Topic: "open", TotalQuestions: 5},
	}}
	exec, _ := NewDefaultRegistry(testDeps(llm.NewDisabledProvider(), quizzes)).Get(domain.ModeMistakeAnalyzer)

	state := newState("how is my progress")
	state.TurnCount = 4
	out := exec.Execute(context.Background(), state)

	assert.Contains(t, out, "completed 4 sessions")
	assert.Contains(t, out, "3 of 5")
	require.NotNil(t, state.Context.Progress)
	assert.Equal(t, 4, state.Context.Progress.SessionsCompleted)
	assert.NotNil(t, state.Context.Progress.LastAnalysisAt)
}

func TestExtractSnippet(t *testing.T) {
	t.Parallel()

	code, lang, ok := ExtractSnippet("why does `for (let i = 0; i < 3; i++)` loop")
	require.True(t, ok)
	assert.Equal(t, "for (let i = 0; i < 3; i++)", code)
	assert.Equal(t, "", lang)
	assert.Equal(t, "javascript", GuessLanguage(code))

	_, _, ok = ExtractSnippet("explain `closures` please")
	assert.False(t, ok)
}

func TestExtractTopic(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "closures", ExtractTopic("explain closures"))
	assert.Equal(t, "event loop", ExtractTopic("Can you explain the event loop?"))
	assert.Equal(t, "recursion", ExtractTopic("What is recursion?"))
	assert.Equal(t, "", ExtractTopic(""))
}

func TestTruncateKeepsRunesWhole(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "short", truncate("short", 10))
	got := truncate(strings.Repeat("é", 10), 4)
	assert.Equal(t, "éééé...", got)
	assert.True(t, utf8.ValidString(got))
	assert.True(t, utf8.ValidString(truncate("日本語のクロージャ", 5)))
}
