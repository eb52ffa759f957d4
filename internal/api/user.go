package api

import (
	"context"
	"net/http"
	"strings"

	"github.com/ashureev/codetutor/internal/apperr"
	"github.com/ashureev/codetutor/internal/domain"
)

// preferencesRequest is a partial update: absent fields keep their value.
type preferencesRequest struct {
	Difficulty         *domain.Difficulty `json:"difficulty"`
	PreferredLanguages []string           `json:"preferred_languages"`
	LearningStyle      *string            `json:"learning_style"`
	ExplanationMode    *string            `json:"explanation_mode"`
	TopicsOfInterest   []string           `json:"topics_of_interest"`
}

func (p preferencesRequest) apply(prefs domain.Preferences) (domain.Preferences, error) {
	if p.Difficulty != nil {
		if !p.Difficulty.Valid() {
			return prefs, apperr.Validation("difficulty must be one of beginner, intermediate, advanced")
		}
		prefs.Difficulty = *p.Difficulty
	}
	if p.PreferredLanguages != nil {
		prefs.PreferredLanguages = normalizeList(p.PreferredLanguages)
	}
	if p.LearningStyle != nil {
		prefs.LearningStyle = strings.TrimSpace(*p.LearningStyle)
	}
	if p.ExplanationMode != nil {
		prefs.ExplanationMode = strings.TrimSpace(*p.ExplanationMode)
	}
	if p.TopicsOfInterest != nil {
		prefs.TopicsOfInterest = normalizeList(p.TopicsOfInterest)
	}
	return prefs, nil
}

func normalizeList(in []string) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}

// GetMe returns the current user's profile.
func (h *Handler) GetMe(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.userID(w, r)
	if !ok {
		return
	}
	user, err := h.loadUser(r.Context(), userID)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	JSON(w, http.StatusOK, user)
}

// UpdatePreferences applies a partial preferences update.
func (h *Handler) UpdatePreferences(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.userID(w, r)
	if !ok {
		return
	}
	var req preferencesRequest
	if err := decode(w, r, &req); err != nil {
		h.fail(w, r, err)
		return
	}

	user, err := h.loadUser(r.Context(), userID)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	prefs, err := req.apply(user.Preferences)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if err := h.repo.UpdatePreferences(r.Context(), userID, prefs); err != nil {
		h.fail(w, r, apperr.Database(err, "failed to update preferences"))
		return
	}

	h.logger.Info("Preferences updated", "user_id", userID, "difficulty", prefs.Difficulty)
	user.Preferences = prefs
	JSON(w, http.StatusOK, user)
}

func (h *Handler) loadUser(ctx context.Context, userID string) (*domain.User, error) {
	user, err := h.repo.GetUser(ctx, userID)
	if err != nil {
		return nil, apperr.Database(err, "failed to load user")
	}
	if user == nil {
		h.logger.Debug("Authenticated user has no record", "user_id", userID)
		return nil, apperr.NotFound("user %s not found", userID)
	}
	return user, nil
}
