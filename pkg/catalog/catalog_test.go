package catalog

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

const containerManifest = `---
name: container-ops
description: Inspect and control Docker containers.
actions:
  - name: list_containers
    description: List containers with state and image.
    parameters:
      all:
        type: boolean
        description: Include stopped containers.
  - name: restart_container
    description: Restart a container by name.
    confirmation_required: true
    requires_write_mode: true
    parameters:
      name:
        type: string
        description: Container name.
        required: true
---
Operate the Docker daemon on the host this agent runs on.
`

const statusManifest = `---
name: system-status
description: Host CPU, memory and disk status.
actions:
  - name: overview
    description: Summarize host resource usage.
---
`

func writeManifest(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write manifest: %v", err)
	}
	return path
}

func TestLoadDirPartialSuccess(t *testing.T) {
	dir := t.TempDir()
	writeManifest(t, dir, "container-ops.skill.md", containerManifest)
	writeManifest(t, dir, "system-status.skill.md", statusManifest)
	writeManifest(t, dir, "broken.skill.md", "no frontmatter here")

	cat, report, err := LoadDir(dir)
	if err != nil {
		t.Fatalf("LoadDir: %v", err)
	}
	if len(report.Loaded) != 2 {
		t.Fatalf("loaded = %v", report.Loaded)
	}
	if len(report.Errors) != 1 || !strings.Contains(report.Errors[0].Path, "broken") {
		t.Fatalf("errors = %+v", report.Errors)
	}
	if cat.Skill("container-ops") == nil {
		t.Fatal("container-ops missing from catalogue")
	}

	_, action, ok := cat.Lookup("container-ops", "restart_container")
	if !ok || action == nil {
		t.Fatal("restart_container not found")
	}
	if !action.ConfirmationRequired || !action.RequiresWriteMode {
		t.Errorf("restart_container flags = %+v", action)
	}
}

func TestLoadFileRejectsNameMismatch(t *testing.T) {
	dir := t.TempDir()
	path := writeManifest(t, dir, "wrong-name.skill.md", containerManifest)

	if _, err := LoadFile(path); err == nil {
		t.Fatal("expected name/file mismatch error")
	}
}

func TestToolDefinitionsWriteGate(t *testing.T) {
	dir := t.TempDir()
	writeManifest(t, dir, "container-ops.skill.md", containerManifest)
	cat, _, err := LoadDir(dir)
	if err != nil {
		t.Fatalf("LoadDir: %v", err)
	}

	readOnly := cat.ToolDefinitions(nil, false)
	if len(readOnly) != 1 {
		t.Fatalf("read-only tools = %d, want 1", len(readOnly))
	}
	if readOnly[0].Function.Name != "container-ops__list_containers" {
		t.Errorf("tool name = %q", readOnly[0].Function.Name)
	}

	write := cat.ToolDefinitions(nil, true)
	if len(write) != 2 {
		t.Fatalf("write tools = %d, want 2", len(write))
	}
}

func TestToolDefinitionsEnabledFilter(t *testing.T) {
	dir := t.TempDir()
	writeManifest(t, dir, "container-ops.skill.md", containerManifest)
	writeManifest(t, dir, "system-status.skill.md", statusManifest)
	cat, _, err := LoadDir(dir)
	if err != nil {
		t.Fatalf("LoadDir: %v", err)
	}

	tools := cat.ToolDefinitions([]string{"system-status"}, true)
	if len(tools) != 1 || tools[0].Function.Name != "system-status__overview" {
		t.Fatalf("tools = %+v", tools)
	}
}

func TestToolDefinitionsDeterministic(t *testing.T) {
	dir := t.TempDir()
	writeManifest(t, dir, "container-ops.skill.md", containerManifest)

	marshal := func() string {
		cat, _, err := LoadDir(dir)
		if err != nil {
			t.Fatalf("LoadDir: %v", err)
		}
		data, err := json.Marshal(cat.ToolDefinitions(nil, true))
		if err != nil {
			t.Fatalf("marshal: %v", err)
		}
		return string(data)
	}

	first := marshal()
	for i := 0; i < 5; i++ {
		if got := marshal(); got != first {
			t.Fatalf("projection changed across reloads:\n%s\n%s", first, got)
		}
	}
}

func TestSplitFunctionName(t *testing.T) {
	skill, action, ok := SplitFunctionName("container-ops__list_containers")
	if !ok || skill != "container-ops" || action != "list_containers" {
		t.Fatalf("got %q %q %v", skill, action, ok)
	}
	if _, _, ok := SplitFunctionName("noseparator"); ok {
		t.Fatal("expected failure on missing separator")
	}
}

func TestDuplicateActionRejected(t *testing.T) {
	dir := t.TempDir()
	writeManifest(t, dir, "dup.skill.md", `---
name: dup
description: Duplicate action manifest.
actions:
  - name: run
    description: First.
  - name: run
    description: Second.
---
`)

	_, report, err := LoadDir(dir)
	if err != nil {
		t.Fatalf("LoadDir: %v", err)
	}
	if len(report.Errors) != 1 {
		t.Fatalf("errors = %+v", report.Errors)
	}
	if !strings.Contains(report.Errors[0].Err, "duplicate action") {
		t.Errorf("unexpected error: %s", report.Errors[0].Err)
	}
}
