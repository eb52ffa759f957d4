package llm

import (
	"context"
	"encoding/json"
	"sync"
)

// MockResponse is one canned reply.
type MockResponse struct {
	Content json.RawMessage
	Usage   Usage
	Err     error
}

// TextResponse is a canned plain-text reply.
func TextResponse(text string) MockResponse {
	return MockResponse{Content: json.RawMessage(text)}
}

// ErrorResponse is a canned failure.
func ErrorResponse(err error) MockResponse {
	return MockResponse{Err: err}
}

// MockProvider replays canned replies. Replies scripted for a purpose (see
// Script) go to calls labeled with that purpose; every other call takes the
// next reply from the shared queue. Once a call finds nothing to replay the
// service reports itself unavailable, which sends callers to their
// fallbacks.
type MockProvider struct {
	mu       sync.Mutex
	queue    []MockResponse
	scripted map[string][]MockResponse
	purposes []string

	// Calls records every request in arrival order.
	Calls []Request
}

// NewMockProvider queues responses on the shared queue.
func NewMockProvider(responses ...MockResponse) *MockProvider {
	return &MockProvider{queue: responses, scripted: map[string][]MockResponse{}}
}

// Script queues responses for calls whose purpose is purpose, such as
// "quiz-generate" or a mode tag.
func (m *MockProvider) Script(purpose string, responses ...MockResponse) *MockProvider {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.scripted[purpose] = append(m.scripted[purpose], responses...)
	return m
}

func (m *MockProvider) Generate(ctx context.Context, req Request) (*Response, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	purpose := PurposeFrom(ctx)
	m.Calls = append(m.Calls, req)
	m.purposes = append(m.purposes, purpose)

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	next, ok := m.take(purpose)
	if !ok {
		return nil, &ErrProviderUnavailable{}
	}
	if next.Err != nil {
		return nil, next.Err
	}
	return &Response{
		Content:    next.Content,
		Usage:      next.Usage,
		Model:      ProviderMock,
		StopReason: "end",
	}, nil
}

func (m *MockProvider) take(purpose string) (MockResponse, bool) {
	if script := m.scripted[purpose]; len(script) > 0 {
		m.scripted[purpose] = script[1:]
		return script[0], true
	}
	if len(m.queue) == 0 {
		return MockResponse{}, false
	}
	next := m.queue[0]
	m.queue = m.queue[1:]
	return next, true
}

// ModelID returns the mock provider name.
func (m *MockProvider) ModelID() string {
	return ProviderMock
}

// AddResponse appends to the shared queue.
func (m *MockProvider) AddResponse(resp MockResponse) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.queue = append(m.queue, resp)
}

// CallCount returns the number of Generate calls.
func (m *MockProvider) CallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.Calls)
}

// Purposes returns the purpose label of every call, in order.
func (m *MockProvider) Purposes() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.purposes...)
}
