package api

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/ashureev/codetutor/internal/apperr"
	"github.com/ashureev/codetutor/internal/dialogue"
	"github.com/ashureev/codetutor/internal/transcript"
)

type chatRequest struct {
	Message   string `json:"message"`
	SessionID string `json:"sessionId"`
	NodeType  string `json:"nodeType"`
}

// ChatMessage runs one turn. Internal failures still answer 200 with a
// degraded body; only rejected input gets the error envelope.
func (h *Handler) ChatMessage(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.userID(w, r)
	if !ok {
		return
	}
	var req chatRequest
	if err := decode(w, r, &req); err != nil {
		h.fail(w, r, err)
		return
	}

	var (
		result *dialogue.TurnResult
		err    error
	)
	if strings.TrimSpace(req.NodeType) != "" {
		result, err = h.chat.SwitchNode(r.Context(), userID, req.SessionID, req.NodeType, req.Message)
	} else {
		result, err = h.chat.HandleTurn(r.Context(), dialogue.TurnRequest{
			UserID:    userID,
			SessionID: req.SessionID,
			Input:     req.Message,
		})
	}
	h.respondTurn(w, r, userID, req, result, err)
}

// SwitchNode forces the next turn into the requested mode.
func (h *Handler) SwitchNode(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.userID(w, r)
	if !ok {
		return
	}
	var req chatRequest
	if err := decode(w, r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	if strings.TrimSpace(req.NodeType) == "" {
		h.fail(w, r, apperr.Validation("nodeType is required"))
		return
	}

	result, err := h.chat.SwitchNode(r.Context(), userID, req.SessionID, req.NodeType, req.Message)
	h.respondTurn(w, r, userID, req, result, err)
}

func (h *Handler) respondTurn(w http.ResponseWriter, r *http.Request, userID string, req chatRequest, result *dialogue.TurnResult, err error) {
	if err != nil {
		if dialogue.Rejected(err) {
			h.fail(w, r, err)
			return
		}
		h.logger.Error("Chat turn failed, answering degraded", "user_id", userID, "session_id", req.SessionID, "error", err)
		JSON(w, http.StatusOK, dialogue.Degraded(req.SessionID))
		return
	}

	transcript.LogTurn(h.transcripts, transcript.Turn{
		Channel:   "chat_http",
		UserID:    userID,
		SessionID: result.SessionID,
		Input:     req.Message,
		Response:  result.Response,
		Node:      string(result.CurrentNode),
		RequestID: chimw.GetReqID(r.Context()),
	})
	JSON(w, http.StatusOK, result)
}

// ListChatSessions returns the caller's chat sessions.
func (h *Handler) ListChatSessions(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.userID(w, r)
	if !ok {
		return
	}
	sessions, err := h.chat.ListSessions(r.Context(), userID, queryLimit(r, 20, 50))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	JSON(w, http.StatusOK, map[string]interface{}{"sessions": sessions})
}

// GetChatSession returns one chat session with its history.
func (h *Handler) GetChatSession(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.userID(w, r)
	if !ok {
		return
	}
	sess, err := h.chat.GetSession(r.Context(), userID, chi.URLParam(r, "id"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	JSON(w, http.StatusOK, sess)
}
