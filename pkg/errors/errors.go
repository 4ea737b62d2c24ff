// SPDX-License-Identifier: Apache-2.0
// Package errors provides typed error handling for the Adjutant agent core.
// Every failure that can surface in a conversation or an audit entry carries
// one of the codes below so routers and gateways can act on it without
// string matching.
package errors

import (
	"encoding/json"
	"fmt"
)

// Code classifies Adjutant errors for routing, auditing and monitoring.
type Code string

const (
	// CodeInternal indicates an unclassified internal error.
	CodeInternal Code = "INTERNAL"

	// CodeManifestParse indicates a skill manifest could not be parsed.
	CodeManifestParse Code = "MANIFEST_PARSE"

	// CodeDuplicateAction indicates a skill or action name collision in a catalogue.
	CodeDuplicateAction Code = "DUPLICATE_ACTION"

	// CodeSkillNotFound indicates a tool call referenced an unknown skill.
	CodeSkillNotFound Code = "SKILL_NOT_FOUND"

	// CodeActionNotFound indicates a tool call referenced an unknown action.
	CodeActionNotFound Code = "ACTION_NOT_FOUND"

	// CodeSafetyBlocked indicates an argument matched an unconditional deny pattern.
	CodeSafetyBlocked Code = "SAFETY_BLOCKED"

	// CodeWriteModeRequired indicates a write-capable action was requested in a read-only session.
	CodeWriteModeRequired Code = "WRITE_MODE_REQUIRED"

	// CodeConfirmationDenied indicates the operator rejected a confirmation request.
	CodeConfirmationDenied Code = "CONFIRMATION_DENIED"

	// CodeConfirmationTimeout indicates a confirmation request expired unanswered.
	CodeConfirmationTimeout Code = "CONFIRMATION_TIMEOUT"

	// CodeExecutionTimeout indicates an executor exceeded its deadline.
	CodeExecutionTimeout Code = "EXECUTION_TIMEOUT"

	// CodeExecutorError indicates an executor failed against its external system.
	CodeExecutorError Code = "EXECUTOR_ERROR"

	// CodeUpstreamUnavailable indicates an executor's external system is unreachable.
	CodeUpstreamUnavailable Code = "UPSTREAM_UNAVAILABLE"

	// CodeToolBudgetExceeded indicates a turn exhausted its tool-call budget.
	CodeToolBudgetExceeded Code = "TOOL_BUDGET_EXCEEDED"

	// CodeUpstreamModel indicates the conversational model failed or returned
	// malformed tool syntax.
	CodeUpstreamModel Code = "UPSTREAM_MODEL_ERROR"
)

// AgentError is a typed error with context for audit records and logs.
// It implements the error interface and unwraps to its cause.
type AgentError struct {
	Code    Code
	Message string
	Err     error
	Context map[string]any
}

// Error implements the error interface.
func (e *AgentError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap implements errors.Unwrap for error chain traversal.
func (e *AgentError) Unwrap() error {
	return e.Err
}

// MarshalJSON implements json.Marshaler for structured logging.
func (e *AgentError) MarshalJSON() ([]byte, error) {
	out := struct {
		Code    string         `json:"code"`
		Message string         `json:"message"`
		Cause   string         `json:"cause,omitempty"`
		Context map[string]any `json:"context,omitempty"`
	}{
		Code:    string(e.Code),
		Message: e.Message,
		Context: e.Context,
	}
	if e.Err != nil {
		out.Cause = e.Err.Error()
	}
	return json.Marshal(out)
}

// New creates a new AgentError with the given code, message and cause.
func New(code Code, msg string, cause error) *AgentError {
	return &AgentError{Code: code, Message: msg, Err: cause}
}

// Newf creates a new AgentError with a formatted message and no cause.
func Newf(code Code, format string, args ...any) *AgentError {
	return &AgentError{Code: code, Message: fmt.Sprintf(format, args...)}
}

// WithContext adds a key-value pair to the error context.
// Returns the error for method chaining.
func (e *AgentError) WithContext(key string, value any) *AgentError {
	if e.Context == nil {
		e.Context = make(map[string]any)
	}
	e.Context[key] = value
	return e
}

// CodeOf extracts the Code from err, walking the unwrap chain.
// Unclassified errors report CodeInternal; nil reports an empty code.
func CodeOf(err error) Code {
	if err == nil {
		return ""
	}
	for e := err; e != nil; e = unwrap(e) {
		if ae, ok := e.(*AgentError); ok {
			return ae.Code
		}
	}
	return CodeInternal
}

// Is reports whether err carries the given code anywhere in its chain.
func Is(err error, code Code) bool {
	return err != nil && CodeOf(err) == code
}

func unwrap(err error) error {
	u, ok := err.(interface{ Unwrap() error })
	if !ok {
		return nil
	}
	return u.Unwrap()
}
