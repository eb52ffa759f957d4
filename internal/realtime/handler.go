package realtime

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"

	"github.com/coder/websocket"
	"github.com/google/uuid"

	"github.com/ashureev/codetutor/internal/apperr"
	"github.com/ashureev/codetutor/internal/dialogue"
	"github.com/ashureev/codetutor/internal/identity"
	"github.com/ashureev/codetutor/internal/transcript"
)

// Event names of the chat socket protocol.
const (
	EventMessage  = "chat:message"
	EventThinking = "chat:ai_thinking"
	EventResponse = "chat:response"
	EventError    = "chat:error"
	EventPing     = "ping"
	EventPong     = "pong"
)

const maxFrameBytes = 64 << 10

// Turns is the part of the orchestrator the socket drives.
type Turns interface {
	HandleTurn(ctx context.Context, req dialogue.TurnRequest) (*dialogue.TurnResult, error)
	SwitchNode(ctx context.Context, userID, sessionID, nodeType, message string) (*dialogue.TurnResult, error)
}

// Frame is one message in either direction.
type Frame struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

type messageData struct {
	Message   string `json:"message"`
	SessionID string `json:"sessionId"`
	NodeType  string `json:"nodeType"`
}

type errorData struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Handler serves the chat websocket.
type Handler struct {
	turns         Turns
	hub           *Hub
	bus           Bus
	transcripts   transcript.Logger
	allowedOrigin string
	isDev         bool
	logger        *slog.Logger
}

// HandlerOptions configures a Handler.
type HandlerOptions struct {
	AllowedOrigin string
	IsDev         bool
	Transcripts   transcript.Logger
	Logger        *slog.Logger
}

// NewHandler creates the websocket handler. The bus must already be started
// with the hub's Forward as its callback.
func NewHandler(turns Turns, hub *Hub, bus Bus, opts HandlerOptions) *Handler {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Transcripts == nil {
		opts.Transcripts = transcript.Noop{}
	}
	return &Handler{
		turns:         turns,
		hub:           hub,
		bus:           bus,
		transcripts:   opts.Transcripts,
		allowedOrigin: opts.AllowedOrigin,
		isDev:         opts.IsDev,
		logger:        opts.Logger,
	}
}

// ServeHTTP implements http.Handler for the websocket upgrade.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	userID := identity.UserIDFromContext(r.Context())
	if userID == "" {
		apperr.WriteHTTP(w, apperr.Authentication("authentication required"), false)
		return
	}
	if !h.checkOrigin(r) {
		apperr.WriteHTTP(w, apperr.Authorization("origin %s is not allowed", r.Header.Get("Origin")), false)
		return
	}

	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		h.logger.Error("Failed to accept WebSocket", "error", err, "user_id", userID)
		return
	}
	ws.SetReadLimit(maxFrameBytes)
	defer func() {
		if closeErr := ws.Close(websocket.StatusNormalClosure, "session ended"); closeErr != nil {
			h.logger.Debug("Failed to close websocket", "error", closeErr, "user_id", userID)
		}
	}()

	connID := uuid.NewString()
	h.hub.Register(userID, connID, ws)
	defer h.hub.Unregister(userID, connID, ws)

	h.readLoop(r.Context(), ws, userID)
}

func (h *Handler) checkOrigin(r *http.Request) bool {
	if h.isDev {
		return true
	}
	origin := r.Header.Get("Origin")
	if origin == "" || h.allowedOrigin == "" || h.allowedOrigin == "*" {
		return true
	}
	if origin == h.allowedOrigin {
		return true
	}
	h.logger.Warn("WebSocket origin rejected", "origin", origin, "allowed", h.allowedOrigin)
	return false
}

func (h *Handler) readLoop(ctx context.Context, ws *websocket.Conn, userID string) {
	for {
		_, raw, err := ws.Read(ctx)
		if err != nil {
			if websocket.CloseStatus(err) != -1 {
				h.logger.Debug("WebSocket closed by client", "user_id", userID)
			} else if ctx.Err() == nil {
				h.logger.Warn("WebSocket read error", "error", err, "user_id", userID)
			}
			return
		}

		var frame Frame
		if err := json.Unmarshal(raw, &frame); err != nil {
			h.reply(ctx, ws, EventError, errorData{Code: string(apperr.KindValidation), Message: "malformed frame"})
			continue
		}

		switch frame.Event {
		case EventPing:
			h.reply(ctx, ws, EventPong, nil)
		case EventMessage:
			h.handleMessage(ctx, ws, userID, frame.Data)
		default:
			h.reply(ctx, ws, EventError, errorData{Code: string(apperr.KindValidation), Message: "unknown event " + frame.Event})
		}
	}
}

func (h *Handler) handleMessage(ctx context.Context, ws Conn, userID string, raw json.RawMessage) {
	var data messageData
	if len(raw) == 0 || json.Unmarshal(raw, &data) != nil {
		h.reply(ctx, ws, EventError, errorData{Code: string(apperr.KindValidation), Message: "message data is required"})
		return
	}

	h.emit(ctx, ws, userID, EventThinking, map[string]bool{"thinking": true})
	defer h.emit(ctx, ws, userID, EventThinking, map[string]bool{"thinking": false})

	var (
		result *dialogue.TurnResult
		err    error
	)
	if strings.TrimSpace(data.NodeType) != "" {
		result, err = h.turns.SwitchNode(ctx, userID, data.SessionID, data.NodeType, data.Message)
	} else {
		result, err = h.turns.HandleTurn(ctx, dialogue.TurnRequest{
			UserID:    userID,
			SessionID: data.SessionID,
			Input:     data.Message,
		})
	}
	if err != nil {
		if dialogue.Rejected(err) {
			h.logger.Warn("Chat turn rejected", "user_id", userID, "session_id", data.SessionID, "error", err)
			h.reply(ctx, ws, EventError, errorData{Code: string(apperr.KindOf(err)), Message: apperr.PublicMessage(err)})
			return
		}
		h.logger.Error("Chat turn failed, answering degraded", "user_id", userID, "session_id", data.SessionID, "error", err)
		h.emit(ctx, ws, userID, EventResponse, dialogue.Degraded(data.SessionID))
		return
	}

	transcript.LogTurn(h.transcripts, transcript.Turn{
		Channel:   "chat_ws",
		UserID:    userID,
		SessionID: result.SessionID,
		Input:     data.Message,
		Response:  result.Response,
		Node:      string(result.CurrentNode),
	})
	h.emit(ctx, ws, userID, EventResponse, result)
}

// emit sends a frame to every connection of userID through the bus. When the
// bus is unavailable the frame is delivered to this instance's connections.
func (h *Handler) emit(ctx context.Context, ws Conn, userID, event string, data any) {
	payload, err := encodeFrame(event, data)
	if err != nil {
		h.logger.Error("Failed to encode frame", "event", event, "error", err)
		return
	}
	if err := h.bus.Publish(ctx, Envelope{UserID: userID, Payload: payload}); err != nil {
		h.logger.Warn("Chat bus publish failed, delivering locally", "user_id", userID, "event", event, "error", err)
		if h.hub.Deliver(ctx, userID, payload) == 0 {
			h.write(ctx, ws, payload)
		}
	}
}

// reply sends a frame to the requesting connection only.
func (h *Handler) reply(ctx context.Context, ws Conn, event string, data any) {
	payload, err := encodeFrame(event, data)
	if err != nil {
		h.logger.Error("Failed to encode frame", "event", event, "error", err)
		return
	}
	h.write(ctx, ws, payload)
}

func (h *Handler) write(ctx context.Context, ws Conn, payload []byte) {
	writeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), writeTimeout)
	defer cancel()
	if err := ws.Write(writeCtx, websocket.MessageText, payload); err != nil {
		h.logger.Debug("Failed to write frame", "error", err)
	}
}

func encodeFrame(event string, data any) ([]byte, error) {
	frame := Frame{Event: event}
	if data != nil {
		raw, err := json.Marshal(data)
		if err != nil {
			return nil, err
		}
		frame.Data = raw
	}
	return json.Marshal(frame)
}
