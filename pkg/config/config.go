package config

import (
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

type Config struct {
	Agent     AgentConfig     `koanf:"agent"`
	Log       LogConfig       `koanf:"log"`
	Telemetry TelemetryConfig `koanf:"telemetry"`
	Server    ServerConfig    `koanf:"server"`
	LLM       LLMConfig       `koanf:"llm"`
	Skills    SkillsConfig    `koanf:"skills"`
	Safety    SafetyConfig    `koanf:"safety"`
	Gateway   GatewayConfig   `koanf:"gateway"`
	Session   SessionConfig   `koanf:"session"`
	Memory    MemoryConfig    `koanf:"memory"`
	Audit     AuditConfig     `koanf:"audit"`
	Executors ExecutorsConfig `koanf:"executors"`
}

type AgentConfig struct {
	Name       string `koanf:"name"`
	ServerName string `koanf:"server_name"`
	Mission    string `koanf:"mission"`
	// Persona knobs, 0-10. 5 is neutral.
	Formality int `koanf:"formality"`
	Verbosity int `koanf:"verbosity"`
	Humor     int `koanf:"humor"`
}

type LogConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"` // json, text
}

type TelemetryConfig struct {
	Exporter     string `koanf:"exporter"` // stdout, otlp
	OTLPEndpoint string `koanf:"otlp_endpoint"`
	OTLPInsecure bool   `koanf:"otlp_insecure"`
}

type ServerConfig struct {
	Addr string `koanf:"addr"`
}

type LLMConfig struct {
	BaseURL     string  `koanf:"base_url"`
	APIKey      string  `koanf:"api_key"`
	Model       string  `koanf:"model"`
	Temperature float64 `koanf:"temperature"`
	MaxTokens   int     `koanf:"max_tokens"`
}

type SkillsConfig struct {
	Dir     string   `koanf:"dir"`
	Enabled []string `koanf:"enabled"`
}

type SafetyConfig struct {
	// DenyPatterns are regular expressions matched against every free-form
	// string argument. A match blocks the tool call unconditionally.
	DenyPatterns []string `koanf:"deny_patterns"`
	// ConfirmPatterns map a regular expression to the reason shown to the
	// operator when the match escalates a call to confirmation.
	ConfirmPatterns map[string]string `koanf:"confirm_patterns"`
	// ProtectedContainers may never be stopped, killed or removed.
	ProtectedContainers []string      `koanf:"protected_containers"`
	ConfirmationTimeout time.Duration `koanf:"confirmation_timeout"`
	MaxOutputBytes      int           `koanf:"max_output_bytes"`
}

type GatewayConfig struct {
	ToolBudget      int           `koanf:"tool_budget"`
	ExecTimeout     time.Duration `koanf:"exec_timeout"`
	HistoryWindow   int           `koanf:"history_window"`
	WriteMode       bool          `koanf:"write_mode"`
	WriteCapableFor []string      `koanf:"write_capable_models"`
}

type SessionConfig struct {
	Store     string        `koanf:"store"` // memory, redis
	RedisAddr string        `koanf:"redis_addr"`
	TTL       time.Duration `koanf:"ttl"`
}

type MemoryConfig struct {
	GraphEnabled  bool          `koanf:"graph_enabled"`
	GraphPath     string        `koanf:"graph_path"`
	VectorEnabled bool          `koanf:"vector_enabled"`
	QdrantAddr    string        `koanf:"qdrant_addr"`
	Collection    string        `koanf:"collection"`
	EmbedderURL   string        `koanf:"embedder_url"`
	EmbedderModel string        `koanf:"embedder_model"`
	LookupTimeout time.Duration `koanf:"lookup_timeout"`
	DiscoveryTick time.Duration `koanf:"discovery_interval"`
}

type AuditConfig struct {
	Path string `koanf:"path"`
}

type ExecutorsConfig struct {
	DockerHost   string `koanf:"docker_host"`
	PostgresDSN  string `koanf:"postgres_dsn"`
	VCSBaseURL   string `koanf:"vcs_base_url"`
	VCSToken     string `koanf:"vcs_token"`
	ShellEnabled bool   `koanf:"shell_enabled"`
}

// Load reads configuration in precedence order: defaults, then the YAML
// file at path (optional), then ADJUTANT_-prefixed environment variables.
func Load(path string) (*Config, error) {
	k := koanf.New(".")

	// Defaults
	k.Set("agent.name", "Adjutant")
	k.Set("agent.server_name", "this server")
	k.Set("agent.mission", "keep the server healthy and assist the operator")
	k.Set("agent.formality", 5)
	k.Set("agent.verbosity", 5)
	k.Set("agent.humor", 5)

	k.Set("log.level", "info")
	k.Set("log.format", "text")
	k.Set("telemetry.exporter", "stdout")
	k.Set("server.addr", ":8420")

	k.Set("llm.base_url", "http://localhost:11434/v1")
	k.Set("llm.model", "qwen2.5-coder:7b-instruct-q5_K_M")
	k.Set("llm.temperature", 0.7)
	k.Set("llm.max_tokens", 4096)

	k.Set("skills.dir", "skills")
	k.Set("skills.enabled", []string{
		"container-ops", "shell-execution", "system-status",
		"log-viewer", "postgres-ops",
	})

	k.Set("safety.confirmation_timeout", "120s")
	k.Set("safety.max_output_bytes", 8000)

	k.Set("gateway.tool_budget", 5)
	k.Set("gateway.exec_timeout", "60s")
	k.Set("gateway.history_window", 20)
	k.Set("gateway.write_mode", false)

	k.Set("session.store", "memory")
	k.Set("session.redis_addr", "localhost:6379")
	k.Set("session.ttl", "24h")

	k.Set("memory.graph_enabled", false)
	k.Set("memory.graph_path", "data/adjutant_graph.db")
	k.Set("memory.vector_enabled", false)
	k.Set("memory.qdrant_addr", "localhost:6334")
	k.Set("memory.collection", "adjutant_memories")
	k.Set("memory.embedder_url", "http://localhost:11434")
	k.Set("memory.embedder_model", "nomic-embed-text")
	k.Set("memory.lookup_timeout", "2s")
	k.Set("memory.discovery_interval", "5m")

	k.Set("audit.path", "data/adjutant_audit.db")

	k.Set("executors.shell_enabled", true)

	// 1. Load from file
	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, err
		}
	}

	// 2. Load from ENV (ADJUTANT_LLM_MODEL -> llm.model)
	if err := k.Load(env.Provider("ADJUTANT_", ".", func(s string) string {
		return strings.Replace(strings.ToLower(
			strings.TrimPrefix(s, "ADJUTANT_")), "_", ".", -1)
	}), nil); err != nil {
		return nil, err
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}
