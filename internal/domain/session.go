package domain

import (
	"time"
)

// HistoryEntry is one turn in a chat session. Entries are append-only.
type HistoryEntry struct {
	Timestamp time.Time `json:"timestamp"`
	UserInput string    `json:"user_input"`
	Node      ModeTag   `json:"node"`
	Response  string    `json:"response"`
}

// ChatSession holds the conversational state carried across turns.
type ChatSession struct {
	ID                   string         `json:"id"`
	UserID               string         `json:"user_id"`
	SessionName          string         `json:"session_name"`
	CurrentNode          ModeTag        `json:"current_node"`
	ConversationHistory  []HistoryEntry `json:"conversation_history"`
	Context              SessionContext `json:"context"`
	AvailableTransitions []ModeTag      `json:"available_transitions"`
	CreatedAt            time.Time      `json:"created_at"`
	UpdatedAt            time.Time      `json:"updated_at"`
}

// NewChatSession returns an empty session positioned at the router node.
func NewChatSession(id, userID, name string, now time.Time) *ChatSession {
	return &ChatSession{
		ID:                   id,
		UserID:               userID,
		SessionName:          name,
		CurrentNode:          NodeRouter,
		ConversationHistory:  []HistoryEntry{},
		AvailableTransitions: AllModes(),
		CreatedAt:            now,
		UpdatedAt:            now,
	}
}

// AppendTurn records a completed turn and moves current_node to node.
func (s *ChatSession) AppendTurn(input string, node ModeTag, response string, at time.Time) {
	s.ConversationHistory = append(s.ConversationHistory, HistoryEntry{
		Timestamp: at,
		UserInput: input,
		Node:      node,
		Response:  response,
	})
	s.CurrentNode = node
	s.UpdatedAt = at
}

// TurnCount returns the number of turns elapsed.
func (s *ChatSession) TurnCount() int {
	return len(s.ConversationHistory)
}

// RecentTurns returns the last n history entries.
func (s *ChatSession) RecentTurns(n int) []HistoryEntry {
	if n >= len(s.ConversationHistory) {
		return s.ConversationHistory
	}
	return s.ConversationHistory[len(s.ConversationHistory)-n:]
}
