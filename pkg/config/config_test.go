package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Server.Addr != ":8420" {
		t.Errorf("server addr = %q", cfg.Server.Addr)
	}
	if cfg.LLM.BaseURL != "http://localhost:11434/v1" {
		t.Errorf("llm base_url = %q", cfg.LLM.BaseURL)
	}
	if cfg.Gateway.ToolBudget != 5 {
		t.Errorf("tool budget = %d", cfg.Gateway.ToolBudget)
	}
	if cfg.Safety.ConfirmationTimeout != 120*time.Second {
		t.Errorf("confirmation timeout = %s", cfg.Safety.ConfirmationTimeout)
	}
	if cfg.Gateway.WriteMode {
		t.Error("write mode must default off")
	}
	if len(cfg.Skills.Enabled) == 0 {
		t.Error("no skills enabled by default")
	}
	if cfg.Agent.Name != "Adjutant" {
		t.Errorf("agent name = %q", cfg.Agent.Name)
	}
}

func TestLoadFromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := `
server:
  addr: ":9000"
llm:
  model: custom-model
safety:
  confirmation_timeout: 30s
  protected_containers:
    - adjutant-postgres
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Server.Addr != ":9000" {
		t.Errorf("server addr = %q", cfg.Server.Addr)
	}
	if cfg.LLM.Model != "custom-model" {
		t.Errorf("model = %q", cfg.LLM.Model)
	}
	if cfg.Safety.ConfirmationTimeout != 30*time.Second {
		t.Errorf("confirmation timeout = %s", cfg.Safety.ConfirmationTimeout)
	}
	if len(cfg.Safety.ProtectedContainers) != 1 || cfg.Safety.ProtectedContainers[0] != "adjutant-postgres" {
		t.Errorf("protected containers = %v", cfg.Safety.ProtectedContainers)
	}
	// Untouched keys keep defaults.
	if cfg.Gateway.ToolBudget != 5 {
		t.Errorf("tool budget = %d", cfg.Gateway.ToolBudget)
	}
}

func TestLoadEnvOverride(t *testing.T) {
	t.Setenv("ADJUTANT_LLM_MODEL", "env-model")
	t.Setenv("ADJUTANT_SERVER_ADDR", ":7777")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.LLM.Model != "env-model" {
		t.Errorf("model = %q", cfg.LLM.Model)
	}
	if cfg.Server.Addr != ":7777" {
		t.Errorf("server addr = %q", cfg.Server.Addr)
	}
}

func TestLoadMissingFileFails(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Fatal("expected error for missing config file")
	}
}
