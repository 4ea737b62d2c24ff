// SPDX-License-Identifier: Apache-2.0
// Package telemetry provides observability for the Adjutant agent: trace-aware
// logging, OpenTelemetry initialization and the operational metric set.
package telemetry

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/adjutant-ops/adjutant/pkg/errors"
)

// AgentMetrics tracks tool-call volume, latency and session activity.
type AgentMetrics struct {
	// toolCallCounter tracks tool calls by skill, action and final state
	toolCallCounter metric.Int64Counter

	// toolDuration measures executor latency in milliseconds
	toolDuration metric.Float64Histogram

	// confirmationCounter tracks confirmation outcomes (approved, denied, timeout)
	confirmationCounter metric.Int64Counter

	// turnCounter tracks completed conversation turns
	turnCounter metric.Int64Counter

	// activeSessions tracks currently connected operator sessions
	activeSessions metric.Int64UpDownCounter

	// errorCounter tracks errors by code and component
	errorCounter metric.Int64Counter
}

// NewAgentMetrics creates the metric set on the global OTEL meter.
func NewAgentMetrics() (*AgentMetrics, error) {
	meter := otel.Meter("adjutant/agent")

	toolCallCounter, err := meter.Int64Counter(
		"adjutant.tool_calls.total",
		metric.WithDescription("Tool calls by skill, action and final state"),
	)
	if err != nil {
		return nil, err
	}

	toolDuration, err := meter.Float64Histogram(
		"adjutant.tool_calls.duration_ms",
		metric.WithDescription("Executor latency in milliseconds"),
	)
	if err != nil {
		return nil, err
	}

	confirmationCounter, err := meter.Int64Counter(
		"adjutant.confirmations.total",
		metric.WithDescription("Confirmation outcomes (approved, denied, timeout)"),
	)
	if err != nil {
		return nil, err
	}

	turnCounter, err := meter.Int64Counter(
		"adjutant.turns.total",
		metric.WithDescription("Completed conversation turns"),
	)
	if err != nil {
		return nil, err
	}

	activeSessions, err := meter.Int64UpDownCounter(
		"adjutant.sessions.active",
		metric.WithDescription("Currently connected operator sessions"),
	)
	if err != nil {
		return nil, err
	}

	errorCounter, err := meter.Int64Counter(
		"adjutant.errors.total",
		metric.WithDescription("Errors by code and component"),
	)
	if err != nil {
		return nil, err
	}

	return &AgentMetrics{
		toolCallCounter:     toolCallCounter,
		toolDuration:        toolDuration,
		confirmationCounter: confirmationCounter,
		turnCounter:         turnCounter,
		activeSessions:      activeSessions,
		errorCounter:        errorCounter,
	}, nil
}

// RecordToolCall records one finished tool call with its final state
// (completed, failed, blocked, rejected, timeout).
func (m *AgentMetrics) RecordToolCall(ctx context.Context, skill, action, state string, elapsed time.Duration) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(
		attribute.String("skill", skill),
		attribute.String("action", action),
		attribute.String("state", state),
	)
	m.toolCallCounter.Add(ctx, 1, attrs)
	m.toolDuration.Record(ctx, float64(elapsed.Milliseconds()), attrs)
}

// RecordConfirmation records a confirmation outcome: approved, denied or timeout.
func (m *AgentMetrics) RecordConfirmation(ctx context.Context, outcome string) {
	if m == nil {
		return
	}
	m.confirmationCounter.Add(ctx, 1,
		metric.WithAttributes(attribute.String("outcome", outcome)))
}

// RecordTurn records a completed conversation turn and its tool-round count.
func (m *AgentMetrics) RecordTurn(ctx context.Context, toolRounds int) {
	if m == nil {
		return
	}
	m.turnCounter.Add(ctx, 1,
		metric.WithAttributes(attribute.Int("tool_rounds", toolRounds)))
}

// SessionOpened increments the active-session gauge.
func (m *AgentMetrics) SessionOpened(ctx context.Context) {
	if m == nil {
		return
	}
	m.activeSessions.Add(ctx, 1)
}

// SessionClosed decrements the active-session gauge.
func (m *AgentMetrics) SessionClosed(ctx context.Context) {
	if m == nil {
		return
	}
	m.activeSessions.Add(ctx, -1)
}

// RecordError increments the error counter for the given error and component.
func (m *AgentMetrics) RecordError(ctx context.Context, err error, component string) {
	if m == nil || err == nil {
		return
	}
	m.errorCounter.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("error.code", string(errors.CodeOf(err))),
			attribute.String("component", component),
		),
	)
}
