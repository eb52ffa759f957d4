package api

import (
	"context"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ashureev/codetutor/internal/domain"
)

func TestGetMe(t *testing.T) {
	t.Parallel()
	repo := newRepo(t)
	seedUser(t, repo, "u1")
	a := newAPI(t, repo)

	w := a.do(t, http.MethodGet, "/api/me", "u1", nil)
	require.Equal(t, http.StatusOK, w.Code)
	user := decodeBody[domain.User](t, w)
	assert.Equal(t, "u1", user.UserID)
	assert.Equal(t, domain.DifficultyBeginner, user.Preferences.Difficulty)

	w = a.do(t, http.MethodGet, "/api/me", "ghost", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestUpdatePreferences(t *testing.T) {
	t.Parallel()
	repo := newRepo(t)
	seedUser(t, repo, "u1")
	a := newAPI(t, repo)

	w := a.do(t, http.MethodPut, "/api/me/preferences", "u1", map[string]any{"difficulty": "wizard"})
	require.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, decodeBody[envelope](t, w).Error.Message, "beginner, intermediate, advanced")

	w = a.do(t, http.MethodPut, "/api/me/preferences", "u1", map[string]any{
		"difficulty":         "advanced",
		"topics_of_interest": []string{" recursion ", "", "closures"},
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	user := decodeBody[domain.User](t, w)
	assert.Equal(t, domain.DifficultyAdvanced, user.Preferences.Difficulty)
	assert.Equal(t, []string{"recursion", "closures"}, user.Preferences.TopicsOfInterest)
	assert.Equal(t, []string{"javascript"}, user.Preferences.PreferredLanguages, "absent fields are kept")

	stored, err := repo.GetUser(context.Background(), "u1")
	require.NoError(t, err)
	assert.Equal(t, domain.DifficultyAdvanced, stored.Preferences.Difficulty)
	assert.Equal(t, "hands-on", stored.Preferences.LearningStyle)
}
