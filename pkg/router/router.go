// SPDX-License-Identifier: Apache-2.0
// Package router drives a tool call through its lifecycle:
//
//	requested → blocked
//	          → validated → [awaiting_confirmation] → executing → completed
//	                                                            → failed
//
// Every transition upserts the call's audit entry, so the trail always
// shows the latest state and ends in a terminal one.
package router

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/adjutant-ops/adjutant/pkg/audit"
	"github.com/adjutant-ops/adjutant/pkg/catalog"
	"github.com/adjutant-ops/adjutant/pkg/errors"
	"github.com/adjutant-ops/adjutant/pkg/executor"
	"github.com/adjutant-ops/adjutant/pkg/safety"
	"github.com/adjutant-ops/adjutant/pkg/telemetry"
)

// States of the per-call machine, recorded verbatim in the audit trail.
const (
	StateRequested            = "requested"
	StateBlocked              = "blocked"
	StateValidated            = "validated"
	StateAwaitingConfirmation = "awaiting_confirmation"
	StateExecuting            = "executing"
	StateCompleted            = "completed"
	StateFailed               = "failed"
)

// Request identifies one tool call to dispatch.
type Request struct {
	CorrelationID string
	SessionID     string
	Operator      string
	Skill         string
	Action        string
	Args          map[string]any
	WriteMode     bool
}

// Outcome is what the conversation gets back.
type Outcome struct {
	CorrelationID string
	State         string
	// Output is the tool-result string fed to the model. Always non-empty,
	// including for blocked and failed calls, so the model can explain.
	Output   string
	Err      error
	Duration time.Duration
}

// ConfirmationPrompt is surfaced to the operator through the gateway.
type ConfirmationPrompt struct {
	CorrelationID string
	Skill         string
	Action        string
	Args          map[string]any
	Reason        string
	Deadline      time.Time
}

// Confirmer delivers confirmation prompts to the operator. The gateway
// implements it by sending a confirmation_required frame.
type Confirmer interface {
	RequestConfirmation(ctx context.Context, prompt ConfirmationPrompt) error
}

// Options configure a Router.
type Options struct {
	ConfirmationTimeout time.Duration
	ExecTimeout         time.Duration
	Metrics             *telemetry.AgentMetrics
	Logger              *slog.Logger
}

// Router validates, confirms, dispatches and audits tool calls. Safe for
// concurrent use across sessions; calls within a session arrive
// sequentially from the gateway loop.
type Router struct {
	catalog   *catalog.Catalog
	validator *safety.Validator
	registry  *executor.Registry
	audit     audit.Logger
	metrics   *telemetry.AgentMetrics
	log       *slog.Logger

	confirmTimeout time.Duration
	execTimeout    time.Duration

	mu      sync.Mutex
	pending map[string]chan bool
}

// New creates a Router.
func New(cat *catalog.Catalog, validator *safety.Validator, registry *executor.Registry, auditLog audit.Logger, opts Options) *Router {
	if opts.ConfirmationTimeout <= 0 {
		opts.ConfirmationTimeout = 120 * time.Second
	}
	if opts.ExecTimeout <= 0 {
		opts.ExecTimeout = 60 * time.Second
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Router{
		catalog:        cat,
		validator:      validator,
		registry:       registry,
		audit:          auditLog,
		metrics:        opts.Metrics,
		log:            opts.Logger,
		confirmTimeout: opts.ConfirmationTimeout,
		execTimeout:    opts.ExecTimeout,
		pending:        make(map[string]chan bool),
	}
}

// Dispatch runs one tool call to a terminal state. ctx is the session
// worker context; cancelling it aborts a pending confirmation but an
// executor already started runs to completion under its own timeout.
func (r *Router) Dispatch(ctx context.Context, req Request, confirmer Confirmer) Outcome {
	start := time.Now()
	ctx, span := otel.Tracer("adjutant/router").Start(ctx, "tool_call",
		trace.WithAttributes(
			attribute.String("skill", req.Skill),
			attribute.String("action", req.Action),
			attribute.String("correlation_id", req.CorrelationID),
		))
	defer span.End()

	r.record(ctx, req, StateRequested, "")

	skill, action, found := r.catalog.Lookup(req.Skill, req.Action)
	if !found || action == nil {
		err := errors.Newf(errors.CodeActionNotFound, "unknown tool %s__%s", req.Skill, req.Action)
		if skill == nil {
			err = errors.Newf(errors.CodeSkillNotFound, "unknown skill %q", req.Skill)
		}
		return r.finish(ctx, req, start, StateFailed, fmt.Sprintf("Error: %v", err), err)
	}

	verdict := r.validator.Check(safety.ActionMeta{
		Skill:                req.Skill,
		Action:               req.Action,
		ConfirmationRequired: action.ConfirmationRequired,
		RequiresWriteMode:    action.RequiresWriteMode,
	}, req.Args, req.WriteMode)

	switch verdict.Decision {
	case safety.Block:
		err := errors.Newf(verdict.Code, "%s", verdict.Reason)
		return r.finish(ctx, req, start, StateBlocked, "Blocked: "+verdict.Reason, err)
	case safety.RequireConfirmation:
		r.record(ctx, req, StateValidated, "")
		outcome, approved := r.awaitConfirmation(ctx, req, verdict.Reason, confirmer, start)
		if !approved {
			return outcome
		}
	default:
		r.record(ctx, req, StateValidated, "")
	}

	return r.execute(ctx, req, start)
}

// Resolve delivers an operator's confirmation response. Returns false when
// no confirmation is pending for the id (already resolved or timed out).
func (r *Router) Resolve(correlationID string, approved bool) bool {
	r.mu.Lock()
	ch, ok := r.pending[correlationID]
	if ok {
		delete(r.pending, correlationID)
	}
	r.mu.Unlock()
	if !ok {
		return false
	}
	ch <- approved
	return true
}

func (r *Router) awaitConfirmation(ctx context.Context, req Request, reason string, confirmer Confirmer, start time.Time) (Outcome, bool) {
	deadline := time.Now().Add(r.confirmTimeout)
	r.record(ctx, req, StateAwaitingConfirmation, reason)

	ch := make(chan bool, 1)
	r.mu.Lock()
	r.pending[req.CorrelationID] = ch
	r.mu.Unlock()
	defer func() {
		r.mu.Lock()
		delete(r.pending, req.CorrelationID)
		r.mu.Unlock()
	}()

	prompt := ConfirmationPrompt{
		CorrelationID: req.CorrelationID,
		Skill:         req.Skill,
		Action:        req.Action,
		Args:          req.Args,
		Reason:        reason,
		Deadline:      deadline,
	}
	if err := confirmer.RequestConfirmation(ctx, prompt); err != nil {
		wrapped := errors.New(errors.CodeConfirmationDenied, "confirmation could not be delivered", err)
		return r.finish(ctx, req, start, StateFailed,
			"Error: confirmation prompt could not be delivered to the operator.", wrapped), false
	}

	timer := time.NewTimer(r.confirmTimeout)
	defer timer.Stop()

	select {
	case approved := <-ch:
		if approved {
			r.recordConfirmation(ctx, "approved")
			return Outcome{}, true
		}
		r.recordConfirmation(ctx, "denied")
		err := errors.Newf(errors.CodeConfirmationDenied, "operator denied %s__%s", req.Skill, req.Action)
		return r.finish(ctx, req, start, StateFailed, "Confirmation denied by the operator.", err), false
	case <-timer.C:
		r.recordConfirmation(ctx, "timeout")
		err := errors.Newf(errors.CodeConfirmationTimeout, "confirmation expired after %s", r.confirmTimeout)
		return r.finish(ctx, req, start, StateFailed,
			fmt.Sprintf("Confirmation timed out after %s.", r.confirmTimeout), err), false
	case <-ctx.Done():
		r.recordConfirmation(ctx, "timeout")
		err := errors.New(errors.CodeConfirmationTimeout, "session closed while awaiting confirmation", ctx.Err())
		return r.finish(ctx, req, start, StateFailed, "Session closed before confirmation.", err), false
	}
}

func (r *Router) execute(ctx context.Context, req Request, start time.Time) Outcome {
	r.record(ctx, req, StateExecuting, "")

	exec, err := r.registry.Lookup(req.Skill, req.Action)
	if err != nil {
		return r.finish(ctx, req, start, StateFailed, fmt.Sprintf("Error: %v", err), err)
	}

	args := make(map[string]any, len(req.Args)+1)
	for k, v := range req.Args {
		args[k] = v
	}
	args[executor.WriteModeArg] = req.WriteMode

	execCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.execTimeout)
	defer cancel()

	result, err := exec.Execute(execCtx, args)
	if err != nil {
		return r.finish(ctx, req, start, StateFailed, fmt.Sprintf("Error: %v", err), err)
	}
	return r.finish(ctx, req, start, StateCompleted, result.Output, nil)
}

func (r *Router) finish(ctx context.Context, req Request, start time.Time, state, output string, err error) Outcome {
	detail := ""
	if err != nil {
		detail = err.Error()
		r.log.WarnContext(ctx, "tool call ended abnormally",
			"skill", req.Skill, "action", req.Action,
			"correlation_id", req.CorrelationID,
			"state", state, "error", err)
	}
	r.record(ctx, req, state, detail)

	elapsed := time.Since(start)
	r.metrics.RecordToolCall(ctx, req.Skill, req.Action, state, elapsed)
	if err != nil {
		r.metrics.RecordError(ctx, err, "router")
	}
	return Outcome{
		CorrelationID: req.CorrelationID,
		State:         state,
		Output:        output,
		Err:           err,
		Duration:      elapsed,
	}
}

func (r *Router) record(ctx context.Context, req Request, state, detail string) {
	entry := audit.Entry{
		CorrelationID: req.CorrelationID,
		SessionID:     req.SessionID,
		Operator:      req.Operator,
		Skill:         req.Skill,
		Action:        req.Action,
		Args:          req.Args,
		State:         state,
		Detail:        detail,
		UpdatedAt:     time.Now().UTC(),
	}
	if err := r.audit.Record(ctx, entry); err != nil {
		r.log.WarnContext(ctx, "audit record failed", "correlation_id", req.CorrelationID, "error", err)
	}
}

func (r *Router) recordConfirmation(ctx context.Context, outcome string) {
	r.metrics.RecordConfirmation(ctx, outcome)
}
