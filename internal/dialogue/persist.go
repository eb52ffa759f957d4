package dialogue

import (
	"context"
	"log/slog"

	"github.com/ashureev/codetutor/internal/domain"
)

// PersistError reports a session write that failed inside a turn. Turns
// hand it to discard: the caller still gets its response.
type PersistError struct {
	SessionID string
	Err       error
}

func (e *PersistError) Error() string {
	return "persist chat session " + e.SessionID + ": " + e.Err.Error()
}

func (e *PersistError) Unwrap() error {
	return e.Err
}

func (o *Orchestrator) persist(ctx context.Context, sess *domain.ChatSession) *PersistError {
	if err := o.repo.UpdateChatSession(ctx, sess); err != nil {
		return &PersistError{SessionID: sess.ID, Err: err}
	}
	return nil
}

// discard logs a failed turn write and drops it.
func discard(logger *slog.Logger, err *PersistError) {
	if err == nil {
		return
	}
	logger.Error("Chat session not persisted, continuing turn",
		"session_id", err.SessionID, "error", err.Err)
}
