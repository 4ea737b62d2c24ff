// SPDX-License-Identifier: Apache-2.0
// Package prompt assembles the per-turn system prompt: who the agent is,
// what the host looks like right now, which tools exist, which safety rules
// apply to the session's write mode, and anything recalled from memory.
package prompt

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/docker/docker/api/types/container"
	"github.com/shirou/gopsutil/v4/cpu"
	"github.com/shirou/gopsutil/v4/disk"
	"github.com/shirou/gopsutil/v4/host"
	"github.com/shirou/gopsutil/v4/mem"

	"github.com/adjutant-ops/adjutant/pkg/memory"
)

const gb = 1 << 30

// Identity names the agent and its charge.
type Identity struct {
	Name       string
	ServerName string
	Mission    string
	Model      string
}

// Persona holds 0-10 style knobs. 4-6 reads as neutral.
type Persona struct {
	Formality int
	Verbosity int
	Humor     int
}

// Recaller is the slice of memory.Recaller the builder needs.
type Recaller interface {
	Recall(ctx context.Context, query string, limit int) memory.Recalled
}

// Builder renders system prompts. Docker and recaller may be nil; their
// sections degrade to a short unavailability note or are omitted.
type Builder struct {
	identity Identity
	persona  Persona
	docker   memory.ContainerLister
	recaller Recaller
	// now is swapped in tests.
	now func() time.Time
}

// NewBuilder creates a Builder.
func NewBuilder(identity Identity, persona Persona, docker memory.ContainerLister, recaller Recaller) *Builder {
	if identity.Name == "" {
		identity.Name = "Adjutant"
	}
	if identity.ServerName == "" {
		identity.ServerName = "this server"
	}
	return &Builder{
		identity: identity,
		persona:  persona,
		docker:   docker,
		recaller: recaller,
		now:      time.Now,
	}
}

// Build renders the system prompt for one turn. query seeds memory recall;
// skillDescriptions comes from the catalog; writeMode selects the rule set.
func (b *Builder) Build(ctx context.Context, query, skillDescriptions string, writeMode bool) string {
	var sb strings.Builder

	fmt.Fprintf(&sb, "You are %s, an operations agent managing the server %q.\n", b.identity.Name, b.identity.ServerName)
	if b.identity.Mission != "" {
		fmt.Fprintf(&sb, "Your mission: %s.\n", b.identity.Mission)
	}
	fmt.Fprintf(&sb, "Current time: %s.\n", b.now().UTC().Format(time.RFC3339))

	sb.WriteString("\n## Communication Style\n")
	sb.WriteString(b.persona.instruction())
	sb.WriteString("\n")

	sb.WriteString("\n## Server Status\n")
	sb.WriteString(hostSnapshot(ctx))
	sb.WriteString("\n")

	sb.WriteString("\n## Container Environment\n")
	sb.WriteString(b.containerSummary(ctx))
	sb.WriteString("\n")

	if skillDescriptions != "" {
		sb.WriteString("\n## Available Skills\n")
		sb.WriteString("Use tools to answer questions about the server, containers and services instead of guessing.\n")
		sb.WriteString(skillDescriptions)
		sb.WriteString("\n")
	}

	sb.WriteString("\n## Safety Rules\n")
	if writeMode {
		sb.WriteString(writeModeRules(b.identity.Model))
	} else {
		sb.WriteString(readOnlyRules)
	}

	if b.recaller != nil {
		recalled := b.recaller.Recall(ctx, query, 5)
		if len(recalled.Memories) > 0 {
			sb.WriteString("\n## Relevant Memories\n")
			sb.WriteString("Facts you previously remembered about this server and operator:\n")
			for _, m := range recalled.Memories {
				sb.WriteString("- " + m + "\n")
			}
		}
		if recalled.GraphContext != "" {
			sb.WriteString("\n## Infrastructure Graph\n")
			sb.WriteString(recalled.GraphContext)
			sb.WriteString("\n")
		}
	}

	return sb.String()
}

func (p Persona) instruction() string {
	var parts []string
	switch {
	case p.Formality >= 7:
		parts = append(parts, "Use formal, professional language")
	case p.Formality <= 3:
		parts = append(parts, "Use casual, conversational language")
	}
	switch {
	case p.Verbosity >= 7:
		parts = append(parts, "provide detailed explanations")
	case p.Verbosity <= 3:
		parts = append(parts, "be concise and brief")
	}
	switch {
	case p.Humor >= 7:
		parts = append(parts, "use wit and dry humor when appropriate")
	case p.Humor <= 3:
		parts = append(parts, "stay serious and factual")
	}
	if len(parts) == 0 {
		return "Communicate in a balanced professional tone."
	}
	return strings.Join(parts, ". ") + "."
}

// hostSnapshot gathers live metrics. Each probe degrades independently.
func hostSnapshot(ctx context.Context) string {
	var lines []string

	if info, err := host.InfoWithContext(ctx); err == nil {
		lines = append(lines, fmt.Sprintf("Hostname: %s", info.Hostname))
		lines = append(lines, fmt.Sprintf("OS: %s %s", info.Platform, info.PlatformVersion))
		lines = append(lines, fmt.Sprintf("Uptime: %s", formatUptime(info.Uptime)))
	}
	if counts, err := cpu.CountsWithContext(ctx, true); err == nil {
		if pct, err := cpu.PercentWithContext(ctx, 100*time.Millisecond, false); err == nil && len(pct) > 0 {
			lines = append(lines, fmt.Sprintf("CPU: %d cores, %.1f%% used", counts, pct[0]))
		} else {
			lines = append(lines, fmt.Sprintf("CPU: %d cores", counts))
		}
	}
	if vm, err := mem.VirtualMemoryWithContext(ctx); err == nil {
		lines = append(lines, fmt.Sprintf("RAM: %.1f GB total, %.1f%% used (%.1f GB free)",
			float64(vm.Total)/gb, vm.UsedPercent, float64(vm.Available)/gb))
	}
	if du, err := disk.UsageWithContext(ctx, "/"); err == nil {
		lines = append(lines, fmt.Sprintf("Disk: %.1f GB total, %.1f%% used (%.1f GB free)",
			float64(du.Total)/gb, du.UsedPercent, float64(du.Free)/gb))
	}

	if len(lines) == 0 {
		return "(host metrics unavailable)"
	}
	return strings.Join(lines, "\n")
}

func formatUptime(seconds uint64) string {
	days := seconds / 86400
	hours := (seconds % 86400) / 3600
	return fmt.Sprintf("%dd %dh", days, hours)
}

func (b *Builder) containerSummary(ctx context.Context) string {
	if b.docker == nil {
		return "Container runtime not configured."
	}
	containers, err := b.docker.ContainerList(ctx, container.ListOptions{})
	if err != nil {
		return "Container environment unavailable."
	}
	if len(containers) == 0 {
		return "No running containers."
	}

	names := make([]string, 0, len(containers))
	byName := make(map[string]string, len(containers))
	for _, c := range containers {
		name := c.ID
		if len(c.Names) > 0 {
			name = strings.TrimPrefix(c.Names[0], "/")
		}
		names = append(names, name)
		byName[name] = c.State
	}
	sort.Strings(names)

	var sb strings.Builder
	fmt.Fprintf(&sb, "%d running containers:\n", len(containers))
	for i, name := range names {
		if i > 0 {
			sb.WriteString("\n")
		}
		fmt.Fprintf(&sb, "  - %s (%s)", name, byName[name])
	}
	return sb.String()
}

func writeModeRules(model string) string {
	capability := "a write-capable model"
	if model != "" {
		capability = model + ", a write-capable model"
	}
	return "You are powered by " + capability + " with system access.\n" +
		"You can execute shell commands, manage containers and run write SQL; the operator confirms each write operation.\n" +
		"- Destructive commands (rm -rf /, DROP DATABASE, shutdown) are always blocked\n" +
		"- NEVER expose secrets, API keys, passwords or tokens in your responses\n" +
		"- For write operations, explain what you will do and why before the operator confirms\n" +
		"- When showing logs, omit lines containing passwords or tokens\n"
}

const readOnlyRules = "This session is read-only.\n" +
	"- NEVER attempt destructive or state-changing commands\n" +
	"- NEVER expose secrets, API keys, passwords or tokens in your responses\n" +
	"- Prefer inspect, logs and stats over restart or stop\n" +
	"- SQL queries are limited to SELECT\n" +
	"- When showing logs, omit lines containing passwords or tokens\n"
