// Package llm is the client side of the text-completion collaborator used by
// the mode executors and the quiz engine.
package llm

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
)

// Provider is the completion collaborator. Implementations must honor ctx
// cancellation; callers bound every call with a deadline.
type Provider interface {
	Generate(ctx context.Context, req Request) (*Response, error)

	// ModelID returns the model identifier this provider is configured to use.
	ModelID() string
}

// Request describes what to send to the model.
type Request struct {
	// System carries the persona instruction.
	System string

	Messages []Message

	// Schema, when set, asks the provider for JSON conforming to it. Tutor
	// prompts leave it nil and get plain text back.
	Schema *Schema

	MaxTokens   int
	Temperature float64
}

// Message represents a single message in the conversation.
type Message struct {
	Role    Role
	Content string
}

// Role is the message sender role.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Schema defines the JSON structure expected from the model.
type Schema struct {
	Name        string
	Description string
	Definition  map[string]any
}

// Response holds the model's output.
type Response struct {
	// Content is validated JSON when the request carried a Schema, and the
	// raw text otherwise.
	Content json.RawMessage

	Usage Usage
	Model string

	// StopReason is normalized to "end", "max_tokens" or "error".
	StopReason string
}

// Text returns the response content as a string.
func (r *Response) Text() string {
	if r == nil {
		return ""
	}
	return string(r.Content)
}

// Usage tracks token consumption for a single request.
type Usage struct {
	InputTokens  int
	OutputTokens int
	TotalTokens  int
}

// ErrEmptyResponse is returned by Complete when the model answers with
// nothing but whitespace.
var ErrEmptyResponse = errors.New("empty completion")

// Complete sends a single-turn prompt and returns the trimmed text. An empty
// answer is reported as ErrEmptyResponse so callers can treat it like any
// other failure.
func Complete(ctx context.Context, p Provider, system, prompt string, maxTokens int) (string, error) {
	resp, err := p.Generate(ctx, Request{
		System:      system,
		Messages:    []Message{{Role: RoleUser, Content: prompt}},
		MaxTokens:   maxTokens,
		Temperature: 0.7,
	})
	if err != nil {
		return "", err
	}
	text := strings.TrimSpace(resp.Text())
	if text == "" {
		return "", ErrEmptyResponse
	}
	return text, nil
}
