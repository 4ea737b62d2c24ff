// SPDX-License-Identifier: Apache-2.0
// Package safety decides whether a tool call may run, must be confirmed by
// the operator, or is refused outright. The validator is immutable after
// construction and safe for concurrent use; it never consults execution
// history or any store.
package safety

import (
	"fmt"
	"path"
	"regexp"
	"sort"
	"strings"

	"github.com/adjutant-ops/adjutant/pkg/errors"
)

// Decision is the outcome class of a safety check.
type Decision string

const (
	Allow               Decision = "allow"
	Block               Decision = "block"
	RequireConfirmation Decision = "require_confirmation"
)

// Verdict is the result of checking one tool call.
type Verdict struct {
	Decision Decision
	// Reason explains a Block or RequireConfirmation in operator terms.
	Reason string
	// Code classifies a Block for error mapping.
	Code errors.Code
}

// ActionMeta is the safety-relevant subset of a catalogue action.
type ActionMeta struct {
	Skill                string
	Action               string
	ConfirmationRequired bool
	RequiresWriteMode    bool
}

// Config holds the operator-supplied policy. Zero values fall back to the
// built-in defaults.
type Config struct {
	DenyPatterns        []string
	ConfirmPatterns     map[string]string
	ProtectedContainers []string
}

type confirmRule struct {
	re     *regexp.Regexp
	reason string
}

// Validator evaluates tool calls against the policy.
type Validator struct {
	deny      []*regexp.Regexp
	confirm   []confirmRule
	protected map[string]bool
}

// NewValidator compiles the policy. Missing pattern sets use the defaults.
func NewValidator(cfg Config) (*Validator, error) {
	denySrc := cfg.DenyPatterns
	if len(denySrc) == 0 {
		denySrc = DefaultDenyPatterns
	}
	confirmSrc := cfg.ConfirmPatterns
	if len(confirmSrc) == 0 {
		confirmSrc = DefaultConfirmPatterns
	}

	v := &Validator{protected: make(map[string]bool)}
	for _, p := range denySrc {
		re, err := regexp.Compile("(?i)" + p)
		if err != nil {
			return nil, fmt.Errorf("compile deny pattern %q: %w", p, err)
		}
		v.deny = append(v.deny, re)
	}

	// Sorted so rule evaluation order is stable across restarts.
	keys := make([]string, 0, len(confirmSrc))
	for k := range confirmSrc {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, p := range keys {
		re, err := regexp.Compile("(?i)" + p)
		if err != nil {
			return nil, fmt.Errorf("compile confirmation pattern %q: %w", p, err)
		}
		v.confirm = append(v.confirm, confirmRule{re: re, reason: confirmSrc[p]})
	}

	for _, name := range cfg.ProtectedContainers {
		v.protected[name] = true
	}
	return v, nil
}

// Check evaluates one tool call. Order matters: the write gate runs first,
// then deny patterns, then protected-container rules, then confirmation
// escalation. A blocked call is never surfaced as confirmable.
func (v *Validator) Check(action ActionMeta, args map[string]any, writeMode bool) Verdict {
	if action.RequiresWriteMode && !writeMode {
		return Verdict{
			Decision: Block,
			Reason:   fmt.Sprintf("action %s requires write mode and this session is read-only", action.Action),
			Code:     errors.CodeWriteModeRequired,
		}
	}

	values := stringArgs(args)

	for _, val := range values {
		for _, re := range v.deny {
			if re.MatchString(val) {
				return Verdict{
					Decision: Block,
					Reason:   fmt.Sprintf("argument matches blocked pattern (%s)", re.String()),
					Code:     errors.CodeSafetyBlocked,
				}
			}
		}
	}

	if verdict, hit := v.checkProtected(action, args); hit {
		return verdict
	}

	for _, val := range values {
		for _, rule := range v.confirm {
			if rule.re.MatchString(val) {
				return Verdict{Decision: RequireConfirmation, Reason: rule.reason}
			}
		}
	}

	if action.ConfirmationRequired {
		return Verdict{
			Decision: RequireConfirmation,
			Reason:   fmt.Sprintf("%s is a destructive operation", action.Action),
		}
	}

	return Verdict{Decision: Allow}
}

var destructiveContainerVerbs = []string{"stop", "kill", "rm", "remove"}

// checkProtected blocks destructive container actions aimed at the
// protected list, regardless of write mode or confirmation.
func (v *Validator) checkProtected(action ActionMeta, args map[string]any) (Verdict, bool) {
	if len(v.protected) == 0 {
		return Verdict{}, false
	}
	destructive := false
	for _, verb := range destructiveContainerVerbs {
		if strings.Contains(action.Action, verb) {
			destructive = true
			break
		}
	}
	if !destructive {
		return Verdict{}, false
	}
	for _, key := range []string{"name", "container", "container_name"} {
		val, ok := args[key].(string)
		if !ok {
			continue
		}
		if v.protected[val] {
			return Verdict{
				Decision: Block,
				Reason:   fmt.Sprintf("container %q is a critical service and cannot be touched by %s", val, action.Action),
				Code:     errors.CodeSafetyBlocked,
			}, true
		}
	}
	return Verdict{}, false
}

// stringArgs flattens the free-form string values of an argument map,
// descending one level into slices.
func stringArgs(args map[string]any) []string {
	var out []string
	for _, val := range args {
		switch v := val.(type) {
		case string:
			out = append(out, v)
		case []any:
			for _, item := range v {
				if s, ok := item.(string); ok {
					out = append(out, s)
				}
			}
		case []string:
			out = append(out, v...)
		}
	}
	return out
}

// IsWriteCapableModel reports whether the model name matches any of the
// write-capable glob patterns. Comparison is case-insensitive.
func IsWriteCapableModel(model string, patterns []string) bool {
	for _, p := range patterns {
		if ok, _ := path.Match(strings.ToLower(p), strings.ToLower(model)); ok {
			return true
		}
	}
	return false
}
