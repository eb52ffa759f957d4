// Package dialogue runs conversational turns: it loads or creates the chat
// session, answers quiz follow-ups directly, otherwise routes the input to a
// mode executor, and persists the updated session.
package dialogue

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/ashureev/codetutor/internal/apperr"
	"github.com/ashureev/codetutor/internal/domain"
	"github.com/ashureev/codetutor/internal/executor"
	"github.com/ashureev/codetutor/internal/router"
	"github.com/ashureev/codetutor/internal/store"
)

const (
	recentTurnWindow  = 6
	sessionNameLength = 60
	maxListedSessions = 50
)

// QuizLookup loads a quiz owned by a user.
type QuizLookup interface {
	Get(ctx context.Context, userID, quizID string) (*domain.QuizSession, error)
}

// TurnRequest is the input of one turn. Both transports build it the same
// way; PriorContext is overlaid on the stored session context.
type TurnRequest struct {
	UserID       string
	SessionID    string
	Input        string
	PriorContext *domain.SessionContext
}

// Metadata describes a turn.
type Metadata struct {
	Timestamp      time.Time `json:"timestamp"`
	IterationCount int       `json:"iteration_count"`
}

// TurnResult is what a turn returns to the transport.
type TurnResult struct {
	Response             string                `json:"response"`
	SessionID            string                `json:"sessionId"`
	CurrentNode          domain.ModeTag        `json:"currentNode"`
	AvailableTransitions []domain.ModeTag      `json:"availableTransitions"`
	SessionContext       domain.SessionContext `json:"sessionContext"`
	Metadata             Metadata              `json:"metadata"`
}

// Orchestrator is the turn pipeline. It holds no per-session state; every
// turn reads and writes the session through the repository.
type Orchestrator struct {
	repo      store.Repository
	executors *executor.Registry
	quizzes   QuizLookup
	logger    *slog.Logger
	now       func() time.Time
}

// New creates an Orchestrator.
func New(repo store.Repository, executors *executor.Registry, quizzes QuizLookup, logger *slog.Logger) *Orchestrator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Orchestrator{
		repo:      repo,
		executors: executors,
		quizzes:   quizzes,
		logger:    logger,
		now:       time.Now,
	}
}

// HandleTurn runs one turn. Errors are only returned before the turn starts:
// invalid input, an unknown or foreign session id, or a session that could
// not be created. Everything after that degrades into a usable response.
func (o *Orchestrator) HandleTurn(ctx context.Context, req TurnRequest) (*TurnResult, error) {
	if req.UserID == "" {
		return nil, apperr.Authentication("user id is required")
	}
	input := strings.TrimSpace(req.Input)
	if input == "" {
		return nil, apperr.Validation("message is required")
	}

	sess, err := o.loadOrCreate(ctx, req.UserID, req.SessionID, input)
	if err != nil {
		return nil, err
	}

	prefs := o.preferences(ctx, req.UserID)
	return o.runTurn(ctx, sess, prefs, input, req.PriorContext), nil
}

// SwitchNode runs a turn forced into nodeType. The request is stashed as
// requested_node and honored for this turn only.
func (o *Orchestrator) SwitchNode(ctx context.Context, userID, sessionID, nodeType, message string) (*TurnResult, error) {
	mode := domain.ModeTag(strings.TrimSpace(nodeType))
	if !mode.Valid() {
		return nil, apperr.Validation("invalid nodeType %q: must be one of %s", nodeType, validTags())
	}
	if strings.TrimSpace(message) == "" {
		message = fmt.Sprintf("Switch to %s mode", mode)
	}
	return o.HandleTurn(ctx, TurnRequest{
		UserID:       userID,
		SessionID:    sessionID,
		Input:        message,
		PriorContext: &domain.SessionContext{RequestedNode: mode},
	})
}

// ListSessions returns the user's chat sessions, most recently updated first.
func (o *Orchestrator) ListSessions(ctx context.Context, userID string, limit int) ([]*domain.ChatSession, error) {
	if limit <= 0 || limit > maxListedSessions {
		limit = maxListedSessions
	}
	sessions, err := o.repo.ListChatSessions(ctx, userID, limit)
	if err != nil {
		return nil, apperr.Database(err, "failed to list chat sessions")
	}
	return sessions, nil
}

// GetSession returns a chat session owned by userID.
func (o *Orchestrator) GetSession(ctx context.Context, userID, sessionID string) (*domain.ChatSession, error) {
	sess, err := o.repo.GetChatSession(ctx, sessionID)
	if err != nil {
		return nil, apperr.Database(err, "failed to load chat session")
	}
	if sess == nil || sess.UserID != userID {
		return nil, apperr.NotFound("chat session %s not found", sessionID)
	}
	return sess, nil
}

func (o *Orchestrator) loadOrCreate(ctx context.Context, userID, sessionID, input string) (*domain.ChatSession, error) {
	if sessionID != "" {
		return o.GetSession(ctx, userID, sessionID)
	}

	sess := domain.NewChatSession(uuid.NewString(), userID, sessionName(input), o.now())
	if err := o.repo.CreateChatSession(ctx, sess); err != nil {
		return nil, apperr.Database(err, "failed to create chat session")
	}
	o.logger.Info("Chat session created", "user_id", userID, "session_id", sess.ID)
	return sess, nil
}

func (o *Orchestrator) preferences(ctx context.Context, userID string) domain.Preferences {
	user, err := o.repo.GetUser(ctx, userID)
	if err != nil {
		o.logger.Warn("Failed to load user preferences, using defaults", "user_id", userID, "error", err)
		return domain.DefaultPreferences()
	}
	if user == nil {
		return domain.DefaultPreferences()
	}
	return user.Preferences
}

// runTurn never fails. A panic anywhere in the turn becomes the generic
// fallback answer.
func (o *Orchestrator) runTurn(ctx context.Context, sess *domain.ChatSession, prefs domain.Preferences, input string, prior *domain.SessionContext) (result *TurnResult) {
	stored := sess.Context.Clone()
	turns := sess.TurnCount()
	defer func() {
		if r := recover(); r != nil {
			o.logger.Error("Turn panicked, answering with fallback",
				"user_id", sess.UserID, "session_id", sess.ID, "panic", r, "stack", string(debug.Stack()))
			sess.Context = stored
			sess.ConversationHistory = sess.ConversationHistory[:turns]
			result = o.finish(ctx, sess, input, domain.ModeConceptExplainer, genericFallback())
		}
	}()

	work := sess.Context.Clone()
	if prior != nil {
		work.Merge(*prior)
	}

	response, handled, err := o.followUp(ctx, sess, &work, input)
	if err != nil {
		return o.fail(ctx, sess, stored, input, err)
	}
	if handled {
		sess.Context = work
		return o.finish(ctx, sess, input, domain.ModeQuizGenerator, response)
	}

	node := router.Resolve(input, work.RequestedNode)
	exec, ok := o.executors.Get(node)
	if !ok {
		return o.fail(ctx, sess, stored, input, fmt.Errorf("no executor registered for %s", node))
	}

	snapshot := work.Clone()
	state := &executor.TutorState{
		UserID:      sess.UserID,
		SessionID:   sess.ID,
		Input:       input,
		Preferences: prefs,
		Context:     &snapshot,
		TurnCount:   sess.TurnCount(),
		RecentTurns: sess.RecentTurns(recentTurnWindow),
	}
	response = exec.Execute(ctx, state)

	work.Merge(*state.Context)
	work.RequestedNode = ""
	sess.Context = work
	return o.finish(ctx, sess, input, node, response)
}

// fail restores the stored context and answers with the generic fallback.
func (o *Orchestrator) fail(ctx context.Context, sess *domain.ChatSession, stored domain.SessionContext, input string, err error) *TurnResult {
	o.logger.Error("Turn failed, answering with fallback",
		"user_id", sess.UserID, "session_id", sess.ID, "error", err)
	sess.Context = stored
	return o.finish(ctx, sess, input, domain.ModeConceptExplainer, genericFallback())
}

// followUp answers "question N" style input from the session's active quiz.
// A stale quiz reference is dropped and the turn is routed normally.
func (o *Orchestrator) followUp(ctx context.Context, sess *domain.ChatSession, work *domain.SessionContext, input string) (string, bool, error) {
	quizID := work.ActiveQuizID()
	if quizID == "" || o.quizzes == nil {
		return "", false, nil
	}
	ref, ok := ParseFollowUp(input)
	if !ok {
		return "", false, nil
	}

	qs, err := o.quizzes.Get(ctx, sess.UserID, quizID)
	if err != nil {
		if apperr.Is(err, apperr.KindNotFound) {
			o.logger.Info("Active quiz no longer exists, clearing reference", "session_id", sess.ID, "quiz_id", quizID)
			work.Quiz = nil
			return "", false, nil
		}
		return "", false, fmt.Errorf("load active quiz %s: %w", quizID, err)
	}

	work.RequestedNode = ""
	return RenderFollowUp(qs, ref), true, nil
}

// finish appends the turn, persists the session and builds the result.
func (o *Orchestrator) finish(ctx context.Context, sess *domain.ChatSession, input string, node domain.ModeTag, response string) *TurnResult {
	now := o.now()
	sess.Context.LastNode = node
	sess.AppendTurn(input, node, response, now)
	sess.AvailableTransitions = domain.AllModes()

	discard(o.logger, o.persist(ctx, sess))

	return &TurnResult{
		Response:             response,
		SessionID:            sess.ID,
		CurrentNode:          node,
		AvailableTransitions: domain.AllModes(),
		SessionContext:       sess.Context.Clone(),
		Metadata: Metadata{
			Timestamp:      now,
			IterationCount: sess.TurnCount(),
		},
	}
}

func sessionName(input string) string {
	name := strings.Join(strings.Fields(input), " ")
	if utf8.RuneCountInString(name) > sessionNameLength {
		name = strings.TrimSpace(string([]rune(name)[:sessionNameLength])) + "..."
	}
	return name
}

func validTags() string {
	tags := make([]string, 0, 4)
	for _, m := range domain.AllModes() {
		tags = append(tags, string(m))
	}
	return strings.Join(tags, ", ")
}

func genericFallback() string {
	return domain.ModeConceptExplainer.Prefix() + ` Something went wrong on my side, but I'm still here to help. I can:
1. Review or debug your code (mention "code" or "debug").
2. Explain a programming concept (just ask "explain ...").
3. Quiz you on a topic (ask for a "quiz").
4. Analyze your progress and recurring mistakes (ask about your "progress").
What would you like to do?`
}

// Rejected reports whether err is the caller's fault. Transports report
// such errors to the client; every other failure answers with Degraded.
func Rejected(err error) bool {
	switch apperr.KindOf(err) {
	case apperr.KindValidation, apperr.KindAuthentication, apperr.KindAuthorization, apperr.KindNotFound:
		return true
	}
	return false
}

// Degraded is the answer a transport sends when a turn could not start
// because of an internal failure, such as the store being unreachable.
func Degraded(sessionID string) *TurnResult {
	return &TurnResult{
		Response:             genericFallback(),
		SessionID:            sessionID,
		CurrentNode:          domain.ModeConceptExplainer,
		AvailableTransitions: domain.AllModes(),
		Metadata:             Metadata{Timestamp: time.Now()},
	}
}
