package llm

import (
	"context"
	"errors"
	"sync"
)

// MockProvider is a testing implementation of Provider.
type MockProvider struct {
	Response  string
	ToolCalls []ToolCall
	Err       error
	ChatFunc  func(ctx context.Context, req ChatRequest) (*ChatResponse, error)
}

func (m *MockProvider) Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error) {
	if m.ChatFunc != nil {
		return m.ChatFunc(ctx, req)
	}
	if m.Err != nil {
		return nil, m.Err
	}
	return &ChatResponse{
		Content:   m.Response,
		ToolCalls: m.ToolCalls,
		Usage: Usage{
			PromptTokens:     10,
			CompletionTokens: 10,
			TotalTokens:      20,
		},
	}, nil
}

// ScriptedMockProvider returns a pre-defined sequence of responses.
// Useful for testing multi-round tool interactions: script a response with
// tool calls followed by one with plain content.
type ScriptedMockProvider struct {
	mu        sync.Mutex
	Responses []ChatResponse
	Err       error
	// CallCount tracks how many times Chat has been called.
	CallCount int
	// Requests records every request seen, for assertions on history shape.
	Requests []ChatRequest
}

// NewScriptedMockProvider creates a ScriptedMockProvider from plain-text
// responses. Use AddResponse for responses carrying tool calls.
func NewScriptedMockProvider(responses ...string) *ScriptedMockProvider {
	s := &ScriptedMockProvider{}
	for _, r := range responses {
		s.Responses = append(s.Responses, ChatResponse{Content: r})
	}
	return s
}

// Chat pops the next scripted response or returns the configured error.
func (s *ScriptedMockProvider) Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.CallCount++
	s.Requests = append(s.Requests, req)

	if s.Err != nil {
		return nil, s.Err
	}
	if len(s.Responses) == 0 {
		return nil, errors.New("scripted mock: no more responses available")
	}

	resp := s.Responses[0]
	s.Responses = s.Responses[1:]
	resp.Usage = Usage{PromptTokens: 10, CompletionTokens: 10, TotalTokens: 20}
	return &resp, nil
}

// ChatStream replays the next scripted response as a content chunk followed
// by a Done chunk, mirroring what a streaming backend would deliver.
func (s *ScriptedMockProvider) ChatStream(ctx context.Context, req ChatRequest) (<-chan StreamChunk, error) {
	resp, err := s.Chat(ctx, req)
	if err != nil {
		return nil, err
	}
	chunks := make(chan StreamChunk, 2)
	if resp.Content != "" {
		chunks <- StreamChunk{Content: resp.Content}
	}
	chunks <- StreamChunk{Done: true, ToolCalls: resp.ToolCalls, Usage: &resp.Usage}
	close(chunks)
	return chunks, nil
}

// AddResponse appends a full response to the queue.
func (s *ScriptedMockProvider) AddResponse(resp ChatResponse) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Responses = append(s.Responses, resp)
}

var _ StreamingProvider = (*ScriptedMockProvider)(nil)
