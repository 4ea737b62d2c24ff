// SPDX-License-Identifier: Apache-2.0
// Package catalog loads skill manifests and projects them into the tool
// schema offered to the conversational model. A skill is one `.skill.md`
// file: YAML frontmatter describing its actions, operator documentation
// below. The catalogue is read-only between reloads; Replace swaps in a
// freshly loaded one atomically so long-lived holders stay current.
package catalog

import (
	"sort"
	"strings"
	"sync"

	"github.com/adjutant-ops/adjutant/pkg/llm"
)

// Parameter describes one argument of an action.
type Parameter struct {
	Type        string   `yaml:"type" json:"type"`
	Description string   `yaml:"description" json:"description,omitempty"`
	Required    bool     `yaml:"required" json:"required,omitempty"`
	Enum        []string `yaml:"enum" json:"enum,omitempty"`
	Default     any      `yaml:"default" json:"default,omitempty"`
}

// Action is one invocable operation of a skill.
type Action struct {
	Name                 string               `yaml:"name" json:"name"`
	Description          string               `yaml:"description" json:"description"`
	ConfirmationRequired bool                 `yaml:"confirmation_required" json:"confirmation_required"`
	RequiresWriteMode    bool                 `yaml:"requires_write_mode" json:"requires_write_mode"`
	Parameters           map[string]Parameter `yaml:"parameters" json:"parameters,omitempty"`

	// Executor selects the dispatch backend: "builtin" (default) or "mcp".
	Executor string `yaml:"executor" json:"executor,omitempty"`
	// Endpoint and Command locate the MCP server for mcp-backed actions.
	Endpoint string `yaml:"endpoint" json:"endpoint,omitempty"`
	Command  string `yaml:"command" json:"command,omitempty"`
}

// Skill groups a set of actions under one manifest.
type Skill struct {
	Name        string   `json:"name"`
	Description string   `json:"description"`
	Actions     []Action `json:"actions"`
	Doc         string   `json:"-"`
	Path        string   `json:"-"`
}

// Catalog is a read-mostly view over the loaded skills.
type Catalog struct {
	mu     sync.RWMutex
	skills map[string]*Skill
	order  []string
}

// Replace swaps in the contents of a freshly loaded catalogue.
func (c *Catalog) Replace(o *Catalog) {
	o.mu.RLock()
	skills, order := o.skills, o.order
	o.mu.RUnlock()
	c.mu.Lock()
	c.skills, c.order = skills, order
	c.mu.Unlock()
}

// Skills returns the loaded skills in manifest name order.
func (c *Catalog) Skills() []*Skill {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]*Skill, 0, len(c.order))
	for _, name := range c.order {
		out = append(out, c.skills[name])
	}
	return out
}

// Skill returns the named skill, or nil.
func (c *Catalog) Skill(name string) *Skill {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.skills[name]
}

// Lookup resolves a skill/action pair.
func (c *Catalog) Lookup(skill, action string) (*Skill, *Action, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	s, ok := c.skills[skill]
	if !ok {
		return nil, nil, false
	}
	for i := range s.Actions {
		if s.Actions[i].Name == action {
			return s, &s.Actions[i], true
		}
	}
	return s, nil, false
}

// FunctionName is the tool name projected for an action.
func FunctionName(skill, action string) string {
	return skill + "__" + action
}

// SplitFunctionName reverses FunctionName. ok is false when the name does
// not carry the separator.
func SplitFunctionName(name string) (skill, action string, ok bool) {
	idx := strings.Index(name, "__")
	if idx <= 0 || idx+2 >= len(name) {
		return "", "", false
	}
	return name[:idx], name[idx+2:], true
}

// ToolDefinitions projects enabled skills into the model's tool schema.
// An empty enabled list enables every skill. Write-gated actions are
// omitted when writeMode is false so the model never sees tools it cannot
// use. Output order is deterministic: skills in name order, actions in
// manifest order.
func (c *Catalog) ToolDefinitions(enabled []string, writeMode bool) []llm.Tool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	var tools []llm.Tool
	for _, name := range c.order {
		if !skillEnabled(name, enabled) {
			continue
		}
		s := c.skills[name]
		for _, a := range s.Actions {
			if a.RequiresWriteMode && !writeMode {
				continue
			}
			tools = append(tools, llm.Tool{
				Type: llm.ToolTypeFunction,
				Function: llm.FunctionDef{
					Name:        FunctionName(s.Name, a.Name),
					Description: a.Description,
					Parameters:  parameterSchema(a.Parameters),
				},
			})
		}
	}
	return tools
}

// Descriptions renders a short per-skill summary for the system prompt.
func (c *Catalog) Descriptions(enabled []string) string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	var b strings.Builder
	for _, name := range c.order {
		if !skillEnabled(name, enabled) {
			continue
		}
		s := c.skills[name]
		b.WriteString("- ")
		b.WriteString(s.Name)
		b.WriteString(": ")
		b.WriteString(s.Description)
		b.WriteString("\n")
	}
	return strings.TrimRight(b.String(), "\n")
}

func skillEnabled(name string, enabled []string) bool {
	if len(enabled) == 0 {
		return true
	}
	for _, e := range enabled {
		if e == name {
			return true
		}
	}
	return false
}

// parameterSchema builds the JSON-Schema object for an action's parameters.
// Property maps marshal with sorted keys and the required list is sorted,
// so an unchanged manifest projects byte-for-byte identically across reloads.
func parameterSchema(params map[string]Parameter) map[string]any {
	properties := make(map[string]any, len(params))
	var required []string
	for name, p := range params {
		prop := map[string]any{"type": p.Type}
		if p.Description != "" {
			prop["description"] = p.Description
		}
		if len(p.Enum) > 0 {
			prop["enum"] = p.Enum
		}
		if p.Default != nil {
			prop["default"] = p.Default
		}
		properties[name] = prop
		if p.Required {
			required = append(required, name)
		}
	}
	sort.Strings(required)

	schema := map[string]any{
		"type":       "object",
		"properties": properties,
	}
	if len(required) > 0 {
		schema["required"] = required
	}
	return schema
}
