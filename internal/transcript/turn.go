package transcript

// Turn is one completed chat exchange as seen by a transport.
type Turn struct {
	Channel   string
	UserID    string
	SessionID string
	Input     string
	Response  string
	Node      string
	RequestID string
}

// LogTurn records the learner message and the assistant reply of a turn.
func LogTurn(l Logger, t Turn) {
	if l == nil {
		return
	}
	meta := map[string]any{}
	if t.RequestID != "" {
		meta["request_id"] = t.RequestID
	}
	l.Log(Event{
		UserID:     t.UserID,
		SessionID:  t.SessionID,
		Channel:    t.Channel,
		Direction:  "user_to_tutor",
		EventType:  "chat_user_message",
		ContentRaw: t.Input,
		Meta:       meta,
	})
	l.Log(Event{
		UserID:     t.UserID,
		SessionID:  t.SessionID,
		Channel:    t.Channel,
		Direction:  "tutor_to_user",
		EventType:  "chat_assistant_message",
		ContentRaw: t.Response,
		Meta:       withNode(meta, t.Node),
	})
}

func withNode(meta map[string]any, node string) map[string]any {
	out := make(map[string]any, len(meta)+1)
	for k, v := range meta {
		out[k] = v
	}
	out["node"] = node
	return out
}
