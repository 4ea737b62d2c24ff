// SPDX-License-Identifier: Apache-2.0
// Package executor binds catalogue actions to the systems they operate on.
// The registry is built once at startup and never mutated; each executor
// owns its external connection and scopes work to the caller's context.
package executor

import (
	"context"
	"fmt"
	"time"

	"github.com/adjutant-ops/adjutant/pkg/errors"
)

// Result is the outcome of a successful execution.
type Result struct {
	// Output is the sanitized text handed back to the model.
	Output string
	// Duration is wall-clock execution time.
	Duration time.Duration
}

// Executor runs one action. Implementations must honor ctx cancellation.
type Executor interface {
	Execute(ctx context.Context, args map[string]any) (Result, error)
}

// Func adapts a plain function to the Executor interface.
type Func func(ctx context.Context, args map[string]any) (Result, error)

func (f Func) Execute(ctx context.Context, args map[string]any) (Result, error) {
	return f(ctx, args)
}

// WriteModeArg is injected into the argument map by the router so executors
// that gate individual operations (the database query gate) can see the
// session's write mode without widening the Execute signature.
const WriteModeArg = "_write_enabled"

// Registry maps (skill, action) pairs to executors.
type Registry struct {
	executors map[string]Executor
	skills    map[string]bool
}

// NewRegistry builds an immutable registry from a map keyed by
// "<skill>__<action>".
func NewRegistry(bindings map[string]Executor) *Registry {
	r := &Registry{
		executors: make(map[string]Executor, len(bindings)),
		skills:    make(map[string]bool),
	}
	for key, exec := range bindings {
		r.executors[key] = exec
		if skill, _, ok := splitKey(key); ok {
			r.skills[skill] = true
		}
	}
	return r
}

// Lookup resolves an executor for the skill/action pair.
func (r *Registry) Lookup(skill, action string) (Executor, error) {
	if !r.skills[skill] {
		return nil, errors.Newf(errors.CodeSkillNotFound, "unknown skill %q", skill)
	}
	exec, ok := r.executors[skill+"__"+action]
	if !ok {
		return nil, errors.Newf(errors.CodeActionNotFound, "skill %q has no action %q", skill, action)
	}
	return exec, nil
}

func splitKey(key string) (string, string, bool) {
	for i := 0; i+1 < len(key); i++ {
		if key[i] == '_' && key[i+1] == '_' {
			return key[:i], key[i+2:], true
		}
	}
	return "", "", false
}

// timed runs fn and wraps the outcome in a Result, mapping a context
// deadline to a typed timeout error.
func timed(ctx context.Context, fn func() (string, error)) (Result, error) {
	start := time.Now()
	output, err := fn()
	elapsed := time.Since(start)
	if err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			return Result{}, errors.New(errors.CodeExecutionTimeout,
				fmt.Sprintf("execution exceeded deadline after %s", elapsed.Round(time.Millisecond)), err)
		}
		return Result{Duration: elapsed}, err
	}
	return Result{Output: output, Duration: elapsed}, nil
}

// Argument helpers. Tool-call arguments arrive as decoded JSON, so numbers
// are float64 and everything is loosely typed.

func stringArg(args map[string]any, key, fallback string) string {
	if v, ok := args[key].(string); ok && v != "" {
		return v
	}
	return fallback
}

func intArg(args map[string]any, key string, fallback int) int {
	switch v := args[key].(type) {
	case float64:
		return int(v)
	case int:
		return v
	}
	return fallback
}

func boolArg(args map[string]any, key string, fallback bool) bool {
	if v, ok := args[key].(bool); ok {
		return v
	}
	return fallback
}

func requireString(args map[string]any, key string) (string, error) {
	v, ok := args[key].(string)
	if !ok || v == "" {
		return "", errors.Newf(errors.CodeExecutorError, "missing required argument %q", key)
	}
	return v, nil
}
