package api

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ashureev/codetutor/internal/dialogue"
	"github.com/ashureev/codetutor/internal/domain"
	"github.com/ashureev/codetutor/internal/llm"
	"github.com/ashureev/codetutor/internal/store"
)

func TestChatMessageRoundTrip(t *testing.T) {
	t.Parallel()
	repo := newRepo(t)
	seedUser(t, repo, "u1")
	a := newAPI(t, repo, llm.TextResponse("Closures capture variables."))

	w := a.do(t, http.MethodPost, "/api/chat/message", "u1", map[string]string{"message": "explain closures"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	res := decodeBody[dialogue.TurnResult](t, w)
	assert.Equal(t, domain.ModeConceptExplainer, res.CurrentNode)
	assert.True(t, strings.HasPrefix(res.Response, "[Concept Explainer]"))
	assert.Equal(t, domain.AllModes(), res.AvailableTransitions)
	assert.Equal(t, 1, res.Metadata.IterationCount)
	require.NotEmpty(t, res.SessionID)

	w = a.do(t, http.MethodGet, "/api/chat/sessions", "u1", nil)
	require.Equal(t, http.StatusOK, w.Code)
	list := decodeBody[struct {
		Sessions []domain.ChatSession `json:"sessions"`
	}](t, w)
	require.Len(t, list.Sessions, 1)
	assert.Equal(t, res.SessionID, list.Sessions[0].ID)

	w = a.do(t, http.MethodGet, "/api/chat/sessions/"+res.SessionID, "u1", nil)
	require.Equal(t, http.StatusOK, w.Code)
	sess := decodeBody[domain.ChatSession](t, w)
	require.Len(t, sess.ConversationHistory, 1)
	assert.Equal(t, "explain closures", sess.ConversationHistory[0].UserInput)

	w = a.do(t, http.MethodGet, "/api/chat/sessions/"+res.SessionID, "u2", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestChatMessageRejectsBadInput(t *testing.T) {
	t.Parallel()
	a := newAPI(t, newRepo(t))

	w := a.do(t, http.MethodPost, "/api/chat/message", "u1", map[string]string{"message": "   "})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "validation_error", decodeBody[envelope](t, w).Error.Code)

	w = a.do(t, http.MethodPost, "/api/chat/message", "u1", map[string]string{"message": "hi", "sessionId": "missing"})
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "not_found", decodeBody[envelope](t, w).Error.Code)
	assert.Zero(t, a.mock.CallCount())
}

type brokenCreates struct {
	store.Repository
}

func (brokenCreates) CreateChatSession(context.Context, *domain.ChatSession) error {
	return errors.New("database is locked")
}

func TestChatMessageDegradesOnInternalFailure(t *testing.T) {
	t.Parallel()
	a := newAPI(t, brokenCreates{newRepo(t)})

	w := a.do(t, http.MethodPost, "/api/chat/message", "u1", map[string]string{"message": "explain closures"})
	require.Equal(t, http.StatusOK, w.Code)

	res := decodeBody[dialogue.TurnResult](t, w)
	assert.True(t, strings.HasPrefix(res.Response, "[Concept Explainer]"))
	assert.Equal(t, domain.ModeConceptExplainer, res.CurrentNode)
	assert.NotContains(t, w.Body.String(), "database is locked")
}

func TestChatMessageDegradesOnCompletionFailure(t *testing.T) {
	t.Parallel()
	a := newAPI(t, newRepo(t), llm.ErrorResponse(&llm.ErrProviderUnavailable{Err: errors.New("connection refused")}))

	w := a.do(t, http.MethodPost, "/api/chat/message", "u1", map[string]string{"message": "explain recursion"})
	require.Equal(t, http.StatusOK, w.Code)
	res := decodeBody[dialogue.TurnResult](t, w)
	assert.True(t, strings.HasPrefix(res.Response, "[Concept Explainer]"))
}

func TestSwitchNode(t *testing.T) {
	t.Parallel()
	a := newAPI(t, newRepo(t), llm.TextResponse("Your progress looks steady."))

	w := a.do(t, http.MethodPost, "/api/chat/switch", "u1", map[string]string{"nodeType": "teleporter"})
	require.Equal(t, http.StatusBadRequest, w.Code)
	msg := decodeBody[envelope](t, w).Error.Message
	for _, tag := range domain.AllModes() {
		assert.Contains(t, msg, string(tag))
	}

	w = a.do(t, http.MethodPost, "/api/chat/switch", "u1", map[string]string{})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = a.do(t, http.MethodPost, "/api/chat/switch", "u1", map[string]string{"nodeType": "mistake-analyzer"})
	require.Equal(t, http.StatusOK, w.Code)
	res := decodeBody[dialogue.TurnResult](t, w)
	assert.Equal(t, domain.ModeMistakeAnalyzer, res.CurrentNode)
	assert.Empty(t, res.SessionContext.RequestedNode)
}

func TestChatMessageWithNodeTypeSwitches(t *testing.T) {
	t.Parallel()
	a := newAPI(t, newRepo(t), llm.TextResponse("Let's look at your mistakes."))

	w := a.do(t, http.MethodPost, "/api/chat/message", "u1", map[string]string{
		"message":  "hello there",
		"nodeType": "mistake-analyzer",
	})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, domain.ModeMistakeAnalyzer, decodeBody[dialogue.TurnResult](t, w).CurrentNode)
}
