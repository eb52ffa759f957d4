package dialogue

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ashureev/codetutor/internal/apperr"
	"github.com/ashureev/codetutor/internal/domain"
	"github.com/ashureev/codetutor/internal/executor"
	"github.com/ashureev/codetutor/internal/llm"
	"github.com/ashureev/codetutor/internal/quiz"
	"github.com/ashureev/codetutor/internal/store"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newRepo(t *testing.T) *store.SQLiteStore {
	t.Helper()
	repo, err := store.NewSQLite(filepath.Join(t.TempDir(), "tutor.db"), 5*time.Second)
	require.NoError(t, err)
	t.Cleanup(func() { _ = repo.Close() })
	return repo
}

type harness struct {
	orch    *Orchestrator
	repo    store.Repository
	quizzes *quiz.Service
	mock    *llm.MockProvider
}

func newHarness(t *testing.T, repo store.Repository, responses ...llm.MockResponse) *harness {
	t.Helper()
	mock := llm.NewMockProvider(responses...)
	quizzes := quiz.NewService(repo, quiz.NewEngine(mock, time.Second, testLogger()), 5, testLogger())
	registry := executor.NewDefaultRegistry(executor.Deps{
		Provider: mock,
		Timeout:  time.Second,
		Logger:   testLogger(),
		Quizzes:  quizzes,
		History:  quizzes,
	})
	return &harness{
		orch:    New(repo, registry, quizzes, testLogger()),
		repo:    repo,
		quizzes: quizzes,
		mock:    mock,
	}
}

func quizJSON(n int) string {
	items := make([]string, n)
	for i := range items {
		items[i] = fmt.Sprintf(`{"question":"Question %d?","options":["first","second","third","fourth"],"answer":"b","explanation":"Because %d."}`, i+1, i+1)
	}
	return "```json\n[" + strings.Join(items, ",") + "]\n```"
}

func TestNewSessionExplainClosures(t *testing.T) {
	t.Parallel()
	h := newHarness(t, newRepo(t), llm.TextResponse("Closures capture their surrounding scope."))
	ctx := context.Background()

	res, err := h.orch.HandleTurn(ctx, TurnRequest{UserID: "u1", Input: "explain closures"})
	require.NoError(t, err)

	assert.Equal(t, domain.ModeConceptExplainer, res.CurrentNode)
	assert.True(t, strings.HasPrefix(res.Response, "[Concept Explainer]"))
	assert.NotEmpty(t, res.SessionID)
	assert.Equal(t, domain.AllModes(), res.AvailableTransitions)
	assert.Equal(t, 1, res.Metadata.IterationCount)
	assert.Equal(t, 1, h.mock.CallCount())

	stored, err := h.repo.GetChatSession(ctx, res.SessionID)
	require.NoError(t, err)
	require.NotNil(t, stored)
	require.Len(t, stored.ConversationHistory, 1)
	assert.Equal(t, "explain closures", stored.ConversationHistory[0].UserInput)
	assert.Equal(t, domain.ModeConceptExplainer, stored.CurrentNode)
	assert.Equal(t, domain.ModeConceptExplainer, stored.Context.LastNode)
	require.NotNil(t, stored.Context.Concept)
	assert.Equal(t, "closures", stored.Context.Concept.LastTopic)
}

func TestQuestionFollowUpMakesNoCompletionCall(t *testing.T) {
	t.Parallel()
	h := newHarness(t, newRepo(t))
	ctx := context.Background()

	qs, err := h.quizzes.Create(ctx, "u1", quiz.CreateParams{
		Topic:      "closures",
		Difficulty: domain.DifficultyBeginner,
		Questions: []domain.QuizQuestion{
			{Question: "What does a closure capture?", Options: []string{"Nothing", "Its lexical scope", "Globals only", "The call stack"}, CorrectAnswer: "B", Explanation: "A closure keeps its defining scope alive."},
			{Question: "Which keyword declares a block-scoped variable?", Options: []string{"var", "let", "def", "static"}, CorrectAnswer: "let", Explanation: "let is block scoped."},
		},
	})
	require.NoError(t, err)

	res, err := h.orch.HandleTurn(ctx, TurnRequest{
		UserID:       "u1",
		Input:        "what about question 2, why not (a)?",
		PriorContext: &domain.SessionContext{Quiz: &domain.QuizContext{ActiveQuizID: qs.ID}},
	})
	require.NoError(t, err)

	assert.Equal(t, 0, h.mock.CallCount())
	assert.Equal(t, domain.ModeQuizGenerator, res.CurrentNode)
	assert.True(t, strings.HasPrefix(res.Response, "[Quiz Generator] Question 2: Which keyword declares a block-scoped variable?"))
	assert.Contains(t, res.Response, "Correct answer: B) let")
	assert.Contains(t, res.Response, "Explanation: let is block scoped.")
	assert.Contains(t, res.Response, "Why not A? A) var is not correct")
	assert.Equal(t, qs.ID, res.SessionContext.ActiveQuizID())

	stored, err := h.repo.GetChatSession(ctx, res.SessionID)
	require.NoError(t, err)
	assert.Len(t, stored.ConversationHistory, 1)
	assert.Equal(t, qs.ID, stored.Context.ActiveQuizID())

	res, err = h.orch.HandleTurn(ctx, TurnRequest{UserID: "u1", SessionID: res.SessionID, Input: "question 7"})
	require.NoError(t, err)
	assert.Equal(t, 0, h.mock.CallCount())
	assert.Equal(t, domain.ModeQuizGenerator, res.CurrentNode)
	assert.Contains(t, res.Response, "There is no question 7")
}

func TestChatQuizThenFollowUp(t *testing.T) {
	t.Parallel()
	h := newHarness(t, newRepo(t), llm.TextResponse(quizJSON(5)))
	ctx := context.Background()

	first, err := h.orch.HandleTurn(ctx, TurnRequest{UserID: "u1", Input: "quiz me on closures"})
	require.NoError(t, err)
	require.Equal(t, domain.ModeQuizGenerator, first.CurrentNode)
	quizID := first.SessionContext.ActiveQuizID()
	require.NotEmpty(t, quizID)
	assert.Contains(t, first.Response, "A) first")

	second, err := h.orch.HandleTurn(ctx, TurnRequest{UserID: "u1", SessionID: first.SessionID, Input: "answer to 3"})
	require.NoError(t, err)
	assert.Equal(t, 1, h.mock.CallCount())
	assert.Contains(t, second.Response, "Question 3: Question 3?")
	assert.Contains(t, second.Response, "Correct answer: B) second")
	assert.Equal(t, 2, second.Metadata.IterationCount)
}

func TestDeletedQuizFallsBackToRouting(t *testing.T) {
	t.Parallel()
	h := newHarness(t, newRepo(t), llm.TextResponse("Here is a question to practice."))

	res, err := h.orch.HandleTurn(context.Background(), TurnRequest{
		UserID:       "u1",
		Input:        "question 1",
		PriorContext: &domain.SessionContext{Quiz: &domain.QuizContext{ActiveQuizID: "gone"}},
	})
	require.NoError(t, err)
	assert.Equal(t, 1, h.mock.CallCount())
	assert.Empty(t, res.SessionContext.ActiveQuizID())
}

type failingUpdates struct {
	store.Repository
}

func (failingUpdates) UpdateChatSession(context.Context, *domain.ChatSession) error {
	return errors.New("disk full")
}

func TestPersistenceFailureStillAnswers(t *testing.T) {
	t.Parallel()
	h := newHarness(t, failingUpdates{newRepo(t)}, llm.TextResponse("Recursion calls itself."))

	res, err := h.orch.HandleTurn(context.Background(), TurnRequest{UserID: "u1", Input: "explain recursion"})
	require.NoError(t, err)
	assert.Equal(t, "[Concept Explainer] Recursion calls itself.", res.Response)
	assert.Equal(t, 1, res.Metadata.IterationCount)
}

type failingCreates struct {
	store.Repository
}

func (failingCreates) CreateChatSession(context.Context, *domain.ChatSession) error {
	return errors.New("database is locked")
}

func TestSessionCreateFailureIsFatal(t *testing.T) {
	t.Parallel()
	h := newHarness(t, failingCreates{newRepo(t)})

	_, err := h.orch.HandleTurn(context.Background(), TurnRequest{UserID: "u1", Input: "explain recursion"})
	require.Error(t, err)
	assert.True(t, apperr.Is(err, apperr.KindDatabase))
	assert.Equal(t, 0, h.mock.CallCount())
}

func TestForeignSessionIsNotFound(t *testing.T) {
	t.Parallel()
	h := newHarness(t, newRepo(t), llm.TextResponse("hi"))
	ctx := context.Background()

	res, err := h.orch.HandleTurn(ctx, TurnRequest{UserID: "owner", Input: "explain loops"})
	require.NoError(t, err)

	_, err = h.orch.HandleTurn(ctx, TurnRequest{UserID: "intruder", SessionID: res.SessionID, Input: "explain loops"})
	assert.True(t, apperr.Is(err, apperr.KindNotFound))

	_, err = h.orch.GetSession(ctx, "intruder", res.SessionID)
	assert.True(t, apperr.Is(err, apperr.KindNotFound))

	_, err = h.orch.HandleTurn(ctx, TurnRequest{UserID: "owner", SessionID: "missing", Input: "hi"})
	assert.True(t, apperr.Is(err, apperr.KindNotFound))
}

func TestEmptyInputIsRejected(t *testing.T) {
	t.Parallel()
	h := newHarness(t, newRepo(t))

	_, err := h.orch.HandleTurn(context.Background(), TurnRequest{UserID: "u1", Input: "   "})
	assert.True(t, apperr.Is(err, apperr.KindValidation))
}

func TestSwitchNodeForcesOneTurn(t *testing.T) {
	t.Parallel()
	h := newHarness(t, newRepo(t))
	ctx := context.Background()

	_, err := h.orch.SwitchNode(ctx, "u1", "", "lecturer-mode", "")
	require.Error(t, err)
	assert.True(t, apperr.Is(err, apperr.KindValidation))
	assert.Contains(t, err.Error(), "code-feedback, quiz-generator, mistake-analyzer, concept-explainer")

	res, err := h.orch.SwitchNode(ctx, "u1", "", "concept-explainer", "debug my code")
	require.NoError(t, err)
	assert.Equal(t, domain.ModeConceptExplainer, res.CurrentNode)
	assert.Empty(t, res.SessionContext.RequestedNode)

	res, err = h.orch.HandleTurn(ctx, TurnRequest{UserID: "u1", SessionID: res.SessionID, Input: "debug my code"})
	require.NoError(t, err)
	assert.Equal(t, domain.ModeCodeFeedback, res.CurrentNode)

	res, err = h.orch.SwitchNode(ctx, "u1", res.SessionID, "mistake-analyzer", "")
	require.NoError(t, err)
	assert.Equal(t, domain.ModeMistakeAnalyzer, res.CurrentNode)

	stored, err := h.orch.GetSession(ctx, "u1", res.SessionID)
	require.NoError(t, err)
	require.Len(t, stored.ConversationHistory, 3)
	assert.Equal(t, "Switch to mistake-analyzer mode", stored.ConversationHistory[2].UserInput)
}

type panicky struct{}

func (panicky) Mode() domain.ModeTag { return domain.ModeConceptExplainer }

func (panicky) Execute(context.Context, *executor.TutorState) string {
	panic("executor bug")
}

func TestPanicBecomesGenericFallback(t *testing.T) {
	t.Parallel()
	repo := newRepo(t)
	orch := New(repo, executor.NewRegistry(panicky{}), nil, testLogger())

	res, err := orch.HandleTurn(context.Background(), TurnRequest{UserID: "u1", Input: "explain closures"})
	require.NoError(t, err)
	assert.Equal(t, domain.ModeConceptExplainer, res.CurrentNode)
	assert.Contains(t, res.Response, "Review or debug your code")
	assert.Contains(t, res.Response, "Quiz you on a topic")
	assert.Equal(t, 1, res.Metadata.IterationCount)

	res, err = orch.HandleTurn(context.Background(), TurnRequest{UserID: "u1", Input: "review my code"})
	require.NoError(t, err)
	assert.Equal(t, domain.ModeConceptExplainer, res.CurrentNode)
}

func TestListSessions(t *testing.T) {
	t.Parallel()
	h := newHarness(t, newRepo(t), llm.TextResponse("one"), llm.TextResponse("two"))
	ctx := context.Background()

	for _, input := range []string{"explain maps", "explain slices"} {
		_, err := h.orch.HandleTurn(ctx, TurnRequest{UserID: "u1", Input: input})
		require.NoError(t, err)
	}
	sessions, err := h.orch.ListSessions(ctx, "u1", 0)
	require.NoError(t, err)
	assert.Len(t, sessions, 2)

	sessions, err = h.orch.ListSessions(ctx, "u2", 10)
	require.NoError(t, err)
	assert.Empty(t, sessions)
}

func TestRejected(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"validation", apperr.Validation("message is required"), true},
		{"authentication", apperr.Authentication("user id is required"), true},
		{"not found", apperr.NotFound("chat session s1 not found"), true},
		{"database", apperr.Database(errors.New("disk I/O"), "failed to create chat session"), false},
		{"unclassified", errors.New("boom"), false},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, Rejected(tc.err))
		})
	}
}

func TestSessionNameCutsOnRuneBoundary(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "explain closures", sessionName("  explain \n closures "))

	name := sessionName(strings.Repeat("こんにちは", 20))
	assert.True(t, utf8.ValidString(name))
	assert.True(t, strings.HasSuffix(name, "..."))
	assert.Equal(t, sessionNameLength, utf8.RuneCountInString(strings.TrimSuffix(name, "...")))
}
