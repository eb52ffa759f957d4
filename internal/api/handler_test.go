//nolint:revive // "api" package name is intentionally concise for this layer.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ashureev/codetutor/internal/apperr"
	"github.com/ashureev/codetutor/internal/dialogue"
	"github.com/ashureev/codetutor/internal/domain"
	"github.com/ashureev/codetutor/internal/executor"
	"github.com/ashureev/codetutor/internal/identity"
	"github.com/ashureev/codetutor/internal/llm"
	"github.com/ashureev/codetutor/internal/quiz"
	"github.com/ashureev/codetutor/internal/store"
	"github.com/ashureev/codetutor/internal/submission"
)

const testUserHeader = "X-Test-User"

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

func seedUser(t *testing.T, repo store.Repository, id string) {
	t.Helper()
	now := time.Now()
	require.NoError(t, repo.UpsertUser(context.Background(), &domain.User{
		UserID: id, Username: id, Preferences: domain.DefaultPreferences(),
		LastSeenAt: now, CreatedAt: now, UpdatedAt: now,
	}))
}

type apiHarness struct {
	router http.Handler
	repo   store.Repository
	mock   *llm.MockProvider
}

func newAPI(t *testing.T, repo store.Repository, responses ...llm.MockResponse) *apiHarness {
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
	feedback, ok := registry.Get(domain.ModeCodeFeedback)
	require.True(t, ok)

	h := NewHandler(Deps{
		Repo:        repo,
		Chat:        dialogue.New(repo, registry, quizzes, testLogger()),
		Quizzes:     quizzes,
		Submissions: submission.NewService(repo, feedback, nil, testLogger()),
		Logger:      testLogger(),
	})

	r := chi.NewRouter()
	h.RegisterHealth(r)
	r.Group(func(r chi.Router) {
		r.Use(func(next http.Handler) http.Handler {
			return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
				user := req.Header.Get(testUserHeader)
				next.ServeHTTP(w, req.WithContext(identity.WithUser(req.Context(), user, user)))
			})
		})
		h.RegisterRoutes(r)
	})
	return &apiHarness{router: r, repo: repo, mock: mock}
}

func (a *apiHarness) do(t *testing.T, method, path, user string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf io.Reader
	switch b := body.(type) {
	case nil:
	case string:
		buf = strings.NewReader(b)
	default:
		raw, err := json.Marshal(b)
		require.NoError(t, err)
		buf = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, buf)
	if user != "" {
		req.Header.Set(testUserHeader, user)
	}
	w := httptest.NewRecorder()
	a.router.ServeHTTP(w, req)
	return w
}

func decodeBody[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &v), w.Body.String())
	return v
}

type envelope struct {
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
		Stack   string `json:"stack"`
	} `json:"error"`
}

func TestJSON(t *testing.T) {
	w := httptest.NewRecorder()
	data := map[string]string{"foo": "bar"}

	JSON(w, http.StatusOK, data)

	resp := w.Result()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "application/json", resp.Header.Get("Content-Type"))

	var got map[string]string
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&got))
	assert.Equal(t, "bar", got["foo"])
}

func TestErrorEnvelope(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		err       error
		withStack bool
		status    int
		code      string
		message   string
		hasStack  bool
	}{
		{"validation", apperr.Validation("message is required"), false, 400, "validation_error", "message is required", false},
		{"not found with stack", apperr.NotFound("quiz q not found"), true, 404, "not_found", "quiz q not found", true},
		{"database", apperr.Database(errors.New("disk full"), "failed to store quiz"), false, 500, "database_error", "failed to store quiz", false},
		{"unclassified", errors.New("secret detail"), true, 500, "internal_error", "internal server error", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			w := httptest.NewRecorder()
			Error(w, tt.err, tt.withStack)

			assert.Equal(t, tt.status, w.Code)
			env := decodeBody[envelope](t, w)
			assert.Equal(t, tt.code, env.Error.Code)
			assert.Equal(t, tt.message, env.Error.Message)
			assert.Equal(t, tt.hasStack, env.Error.Stack != "")
			assert.NotContains(t, w.Body.String(), "disk full")
		})
	}
}

func TestRoutesRequireUser(t *testing.T) {
	t.Parallel()
	a := newAPI(t, newRepo(t))

	for _, path := range []string{"/api/me", "/api/quizzes", "/api/chat/sessions", "/api/code/submissions"} {
		w := a.do(t, http.MethodGet, path, "", nil)
		assert.Equal(t, http.StatusUnauthorized, w.Code, path)
		assert.Equal(t, "authentication_error", decodeBody[envelope](t, w).Error.Code)
	}
}

func TestHealth(t *testing.T) {
	t.Parallel()
	repo := newRepo(t)

	w := newAPI(t, repo).do(t, http.MethodGet, "/health", "", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"status":"healthy","checks":{"api":"ok","database":"ok"}}`, w.Body.String())

	w = newAPI(t, downStore{repo}).do(t, http.MethodGet, "/health", "", nil)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.JSONEq(t, `{"status":"degraded","checks":{"api":"ok","database":"unreachable"}}`, w.Body.String())
}

type downStore struct {
	store.Repository
}

func (downStore) Ping(context.Context) error {
	return errors.New("database is closed")
}

func TestMalformedBodies(t *testing.T) {
	t.Parallel()
	a := newAPI(t, newRepo(t))

	w := a.do(t, http.MethodPost, "/api/chat/message", "u1", "{not json")
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "invalid JSON body", decodeBody[envelope](t, w).Error.Message)

	w = a.do(t, http.MethodPost, "/api/quizzes", "u1", "")
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "request body is required", decodeBody[envelope](t, w).Error.Message)

	huge := fmt.Sprintf(`{"code":%q}`, strings.Repeat("x", maxBodyBytes+1))
	w = a.do(t, http.MethodPost, "/api/code/analyze", "u1", huge)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}
