package llm

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
)

// OpenAIProvider implements Provider against any OpenAI-compatible
// chat-completions endpoint (LiteLLM, Ollama's /v1 surface, vLLM).
type OpenAIProvider struct {
	baseURL string
	apiKey  string
	client  *http.Client
}

// NewOpenAI creates a new OpenAIProvider. baseURL is the API root, e.g.
// "http://localhost:11434/v1". apiKey may be empty for local endpoints.
func NewOpenAI(baseURL, apiKey string) *OpenAIProvider {
	if baseURL == "" {
		baseURL = "http://localhost:11434/v1"
	}
	return &OpenAIProvider{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		client:  &http.Client{Timeout: 180 * time.Second},
	}
}

type openAIRequest struct {
	Model       string    `json:"model"`
	Messages    []Message `json:"messages"`
	Tools       []Tool    `json:"tools,omitempty"`
	Temperature float64   `json:"temperature,omitempty"`
	MaxTokens   int       `json:"max_tokens,omitempty"`
	Stream      bool      `json:"stream,omitempty"`
}

type openAIResponse struct {
	Choices []struct {
		Message      Message `json:"message"`
		FinishReason string  `json:"finish_reason"`
	} `json:"choices"`
	Usage Usage `json:"usage"`
	Error *struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error,omitempty"`
}

// Chat sends a non-streaming chat-completions request.
func (p *OpenAIProvider) Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error) {
	resp, err := p.post(ctx, req, false)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("chat completions returned status %d: %s", resp.StatusCode, string(body))
	}

	var oResp openAIResponse
	if err := json.NewDecoder(resp.Body).Decode(&oResp); err != nil {
		return nil, fmt.Errorf("failed to decode chat response: %w", err)
	}
	if oResp.Error != nil {
		return nil, fmt.Errorf("chat completions error: %s", oResp.Error.Message)
	}
	if len(oResp.Choices) == 0 {
		return nil, fmt.Errorf("chat completions returned no choices")
	}

	msg := oResp.Choices[0].Message
	return &ChatResponse{
		Content:   msg.Content,
		ToolCalls: normalizeToolCalls(msg.ToolCalls),
		Usage:     oResp.Usage,
	}, nil
}

// ChatStream sends a streaming request and delivers SSE deltas on the
// returned channel. Tool-call fragments are accumulated by index and
// emitted whole on the final chunk.
func (p *OpenAIProvider) ChatStream(ctx context.Context, req ChatRequest) (<-chan StreamChunk, error) {
	resp, err := p.post(ctx, req, true)
	if err != nil {
		return nil, err
	}

	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("chat completions returned status %d: %s", resp.StatusCode, string(body))
	}

	chunks := make(chan StreamChunk, 100)

	go func() {
		defer close(chunks)
		defer resp.Body.Close()

		scanner := bufio.NewScanner(resp.Body)
		scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

		acc := newToolCallAccumulator()
		var usage Usage

		for scanner.Scan() {
			select {
			case <-ctx.Done():
				chunks <- StreamChunk{Error: ctx.Err()}
				return
			default:
			}

			line := strings.TrimSpace(scanner.Text())
			if !strings.HasPrefix(line, "data:") {
				continue
			}
			payload := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
			if payload == "[DONE]" {
				chunks <- StreamChunk{
					Done:      true,
					ToolCalls: acc.finish(),
					Usage:     &usage,
				}
				return
			}

			var event openAIStreamEvent
			if err := json.Unmarshal([]byte(payload), &event); err != nil {
				continue // skip malformed events
			}
			if event.Usage != nil {
				usage = *event.Usage
			}
			if len(event.Choices) == 0 {
				continue
			}
			delta := event.Choices[0].Delta
			if delta.Content != "" {
				chunks <- StreamChunk{Content: delta.Content}
			}
			for _, tc := range delta.ToolCalls {
				acc.add(tc)
			}
			// Some servers close the stream on finish_reason without [DONE].
			if event.Choices[0].FinishReason != "" {
				chunks <- StreamChunk{
					Done:      true,
					ToolCalls: acc.finish(),
					Usage:     &usage,
				}
				return
			}
		}
		if err := scanner.Err(); err != nil {
			chunks <- StreamChunk{Error: err}
			return
		}
		// Stream ended without a terminator; flush what we have.
		chunks <- StreamChunk{Done: true, ToolCalls: acc.finish(), Usage: &usage}
	}()

	return chunks, nil
}

func (p *OpenAIProvider) post(ctx context.Context, req ChatRequest, stream bool) (*http.Response, error) {
	oReq := openAIRequest{
		Model:       req.Model,
		Messages:    req.Messages,
		Tools:       req.Tools,
		Temperature: req.Temperature,
		MaxTokens:   req.MaxTokens,
		Stream:      stream,
	}
	body, err := json.Marshal(oReq)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal chat request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, "POST", p.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create http request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if p.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+p.apiKey)
	}

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("chat completions call failed: %w", err)
	}
	return resp, nil
}

// openAIStreamEvent is one SSE data payload from a streaming completion.
type openAIStreamEvent struct {
	Choices []struct {
		Delta struct {
			Content   string                `json:"content"`
			ToolCalls []streamToolCallDelta `json:"tool_calls"`
		} `json:"delta"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
	Usage *Usage `json:"usage,omitempty"`
}

// streamToolCallDelta is a fragment of a tool call. The first fragment for
// an index carries the id and function name; later fragments append to the
// arguments string.
type streamToolCallDelta struct {
	Index    int    `json:"index"`
	ID       string `json:"id,omitempty"`
	Type     string `json:"type,omitempty"`
	Function struct {
		Name      string `json:"name,omitempty"`
		Arguments string `json:"arguments,omitempty"`
	} `json:"function"`
}

type toolCallAccumulator struct {
	order []int
	calls map[int]*ToolCall
}

func newToolCallAccumulator() *toolCallAccumulator {
	return &toolCallAccumulator{calls: make(map[int]*ToolCall)}
}

func (a *toolCallAccumulator) add(delta streamToolCallDelta) {
	tc, ok := a.calls[delta.Index]
	if !ok {
		tc = &ToolCall{Type: ToolTypeFunction}
		a.calls[delta.Index] = tc
		a.order = append(a.order, delta.Index)
	}
	if delta.ID != "" {
		tc.ID = delta.ID
	}
	if delta.Function.Name != "" {
		tc.Function.Name += delta.Function.Name
	}
	tc.Function.Arguments += delta.Function.Arguments
}

func (a *toolCallAccumulator) finish() []ToolCall {
	if len(a.order) == 0 {
		return nil
	}
	out := make([]ToolCall, 0, len(a.order))
	for _, idx := range a.order {
		out = append(out, *a.calls[idx])
	}
	return normalizeToolCalls(out)
}

// normalizeToolCalls ensures every tool call has a stable id with the
// conventional "call_" prefix. Some local servers omit ids or emit bare
// hex; tool-result messages must echo the id back verbatim, so we pin it
// here once.
func normalizeToolCalls(calls []ToolCall) []ToolCall {
	if len(calls) == 0 {
		return nil
	}
	out := make([]ToolCall, len(calls))
	for i, tc := range calls {
		if tc.ID == "" {
			tc.ID = "call_" + uuid.NewString()
		} else if !strings.HasPrefix(tc.ID, "call_") {
			tc.ID = "call_" + tc.ID
		}
		if tc.Type == "" {
			tc.Type = ToolTypeFunction
		}
		if tc.Function.Arguments == "" {
			tc.Function.Arguments = "{}"
		}
		out[i] = tc
	}
	return out
}

// Ensure OpenAIProvider implements StreamingProvider.
var _ StreamingProvider = (*OpenAIProvider)(nil)
