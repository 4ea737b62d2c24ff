// SPDX-License-Identifier: Apache-2.0
package gateway

import (
	"time"

	"github.com/google/uuid"
)

// Client→server frame types.
const (
	FrameOperatorMessage      = "operator_message"
	FrameConfirmationResponse = "confirmation_response"
	FrameCancel               = "cancel"
	FramePing                 = "ping"
)

// Server→client frame types.
const (
	FrameConnected            = "connected"
	FrameTokenChunk           = "token_chunk"
	FrameToolCallStarted      = "tool_call_started"
	FrameConfirmationRequired = "confirmation_required"
	FrameToolResult           = "tool_result"
	FrameTurnComplete         = "turn_complete"
	FrameError                = "error"
	FramePong                 = "pong"
)

// Frame is the wire envelope in both directions. Fields are populated
// per frame type; everything else stays omitted.
type Frame struct {
	Type      string    `json:"type"`
	ID        string    `json:"id,omitempty"`
	Timestamp time.Time `json:"timestamp,omitzero"`

	// operator_message, token_chunk
	Content string `json:"content,omitempty"`

	// confirmation_response, confirmation_required, tool_call_started, tool_result
	CorrelationID string `json:"correlation_id,omitempty"`
	Approved      *bool  `json:"approved,omitempty"`

	// tool_call_started, confirmation_required
	Skill    string         `json:"skill,omitempty"`
	Action   string         `json:"action,omitempty"`
	Args     map[string]any `json:"args,omitempty"`
	Reason   string         `json:"reason,omitempty"`
	Deadline *time.Time     `json:"deadline,omitempty"`

	// tool_result
	State      string `json:"state,omitempty"`
	Output     string `json:"output,omitempty"`
	DurationMS int64  `json:"duration_ms,omitempty"`

	// connected
	SessionID string `json:"session_id,omitempty"`

	// error
	Kind    string `json:"kind,omitempty"`
	Message string `json:"message,omitempty"`
}

func newFrame(frameType string) *Frame {
	return &Frame{
		Type:      frameType,
		ID:        uuid.NewString()[:8],
		Timestamp: time.Now().UTC(),
	}
}

func connectedFrame(sessionID string) *Frame {
	f := newFrame(FrameConnected)
	f.SessionID = sessionID
	return f
}

func tokenChunkFrame(content string) *Frame {
	f := newFrame(FrameTokenChunk)
	f.Content = content
	return f
}

func toolCallStartedFrame(correlationID, skill, action string, args map[string]any) *Frame {
	f := newFrame(FrameToolCallStarted)
	f.CorrelationID = correlationID
	f.Skill = skill
	f.Action = action
	f.Args = args
	return f
}

func confirmationRequiredFrame(correlationID, skill, action string, args map[string]any, reason string, deadline time.Time) *Frame {
	f := newFrame(FrameConfirmationRequired)
	f.CorrelationID = correlationID
	f.Skill = skill
	f.Action = action
	f.Args = args
	f.Reason = reason
	f.Deadline = &deadline
	return f
}

func toolResultFrame(correlationID, state, output string, duration time.Duration) *Frame {
	f := newFrame(FrameToolResult)
	f.CorrelationID = correlationID
	f.State = state
	f.Output = output
	f.DurationMS = duration.Milliseconds()
	return f
}

func turnCompleteFrame() *Frame {
	return newFrame(FrameTurnComplete)
}

func errorFrame(kind, message string) *Frame {
	f := newFrame(FrameError)
	f.Kind = kind
	f.Message = message
	return f
}

func pongFrame() *Frame {
	return newFrame(FramePong)
}
