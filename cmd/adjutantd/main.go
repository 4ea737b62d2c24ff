// SPDX-License-Identifier: Apache-2.0
// Command adjutantd runs the operations agent: REST + WebSocket server,
// skill catalogue, safety validator, audit trail and the upstream model
// connection.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/adjutant-ops/adjutant/pkg/audit"
	"github.com/adjutant-ops/adjutant/pkg/catalog"
	"github.com/adjutant-ops/adjutant/pkg/config"
	"github.com/adjutant-ops/adjutant/pkg/executor"
	"github.com/adjutant-ops/adjutant/pkg/gateway"
	"github.com/adjutant-ops/adjutant/pkg/llm"
	"github.com/adjutant-ops/adjutant/pkg/memory"
	"github.com/adjutant-ops/adjutant/pkg/memory/ollama"
	"github.com/adjutant-ops/adjutant/pkg/memory/qdrant"
	"github.com/adjutant-ops/adjutant/pkg/prompt"
	"github.com/adjutant-ops/adjutant/pkg/router"
	"github.com/adjutant-ops/adjutant/pkg/safety"
	"github.com/adjutant-ops/adjutant/pkg/server"
	"github.com/adjutant-ops/adjutant/pkg/session"
	"github.com/adjutant-ops/adjutant/pkg/telemetry"
)

const version = "0.1.0"

// embeddingDim matches nomic-embed-text, the default embedder model.
const embeddingDim = 768

func main() {
	cfgPath := flag.String("config", "", "path to config file (optional)")
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}

	log := telemetry.ConfigureSlog(os.Stderr, cfg.Log.Level, cfg.Log.Format)
	slog.SetDefault(log)

	if err := run(ctx, cfg, log); err != nil {
		log.Error("adjutantd exited", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config, log *slog.Logger) error {
	shutdownTelemetry, err := telemetry.InitWithConfig("adjutant", version, telemetry.Config{
		Exporter:     cfg.Telemetry.Exporter,
		OTLPEndpoint: cfg.Telemetry.OTLPEndpoint,
		OTLPInsecure: cfg.Telemetry.OTLPInsecure,
	})
	if err != nil {
		return fmt.Errorf("init telemetry: %w", err)
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTelemetry(ctx); err != nil {
			log.Warn("telemetry shutdown", "error", err)
		}
	}()

	metrics, err := telemetry.NewAgentMetrics()
	if err != nil {
		log.Warn("metrics disabled", "error", err)
	}

	// Skill catalogue. Individual manifest failures are logged, not fatal.
	cat, report, err := catalog.LoadDir(cfg.Skills.Dir)
	if err != nil {
		return fmt.Errorf("load skills from %s: %w", cfg.Skills.Dir, err)
	}
	for _, le := range report.Errors {
		log.Warn("skill manifest rejected", "path", le.Path, "error", le.Err)
	}
	log.Info("skill catalogue loaded", "skills", report.Loaded, "rejected", len(report.Errors))

	validator, err := safety.NewValidator(safety.Config{
		DenyPatterns:        cfg.Safety.DenyPatterns,
		ConfirmPatterns:     cfg.Safety.ConfirmPatterns,
		ProtectedContainers: cfg.Safety.ProtectedContainers,
	})
	if err != nil {
		return fmt.Errorf("build safety validator: %w", err)
	}
	sanitizer := safety.NewSanitizer(cfg.Safety.MaxOutputBytes)

	dockerClient := dialDocker(cfg.Executors.DockerHost, log)
	bindings, closers, err := buildBindings(ctx, cfg, cat, sanitizer, dockerClient, log)
	if err != nil {
		return err
	}
	defer func() {
		for _, c := range closers {
			if err := c(); err != nil {
				log.Warn("executor shutdown", "error", err)
			}
		}
	}()
	registry := executor.NewRegistry(bindings)

	// Audit trail. The fail-safe wrapper keeps conversations alive when
	// the store misbehaves.
	if err := os.MkdirAll(filepath.Dir(cfg.Audit.Path), 0o755); err != nil {
		return fmt.Errorf("create audit dir: %w", err)
	}
	auditStore, err := audit.OpenSQLiteStore(cfg.Audit.Path)
	if err != nil {
		return fmt.Errorf("open audit store: %w", err)
	}
	defer auditStore.Close()
	auditLog := audit.NewFailSafe(auditStore, log)

	rt := router.New(cat, validator, registry, auditLog, router.Options{
		ConfirmationTimeout: cfg.Safety.ConfirmationTimeout,
		ExecTimeout:         cfg.Gateway.ExecTimeout,
		Metrics:             metrics,
		Logger:              log,
	})

	sessions, err := buildSessionStore(ctx, cfg, log)
	if err != nil {
		return err
	}

	recaller, graphCleanup := buildMemory(ctx, cfg, dockerClient, log)
	defer graphCleanup()

	writeMode := cfg.Gateway.WriteMode &&
		safety.IsWriteCapableModel(cfg.LLM.Model, cfg.Gateway.WriteCapableFor)
	if cfg.Gateway.WriteMode && !writeMode {
		log.Warn("write mode requested but model is not write-capable, staying read-only",
			"model", cfg.LLM.Model)
	}

	var lister memory.ContainerLister
	if dockerClient != nil {
		lister = dockerClient
	}
	prompts := prompt.NewBuilder(
		prompt.Identity{
			Name:       cfg.Agent.Name,
			ServerName: cfg.Agent.ServerName,
			Mission:    cfg.Agent.Mission,
			Model:      cfg.LLM.Model,
		},
		prompt.Persona{
			Formality: cfg.Agent.Formality,
			Verbosity: cfg.Agent.Verbosity,
			Humor:     cfg.Agent.Humor,
		},
		lister, recaller,
	)

	provider := llm.NewOpenAI(cfg.LLM.BaseURL, cfg.LLM.APIKey)
	gw := gateway.New(provider, cat, rt, sessions, prompts, recaller, metrics, log, gateway.Options{
		Model:         cfg.LLM.Model,
		Temperature:   cfg.LLM.Temperature,
		MaxTokens:     cfg.LLM.MaxTokens,
		ToolBudget:    cfg.Gateway.ToolBudget,
		HistoryWindow: cfg.Gateway.HistoryWindow,
		WriteMode:     writeMode,
		EnabledSkills: cfg.Skills.Enabled,
	})

	srv := server.New(cat, cfg.Skills.Dir, gw, sessions, auditLog, server.AgentConfig{
		Name:               cfg.Agent.Name,
		ServerName:         cfg.Agent.ServerName,
		Mission:            cfg.Agent.Mission,
		Formality:          cfg.Agent.Formality,
		Verbosity:          cfg.Agent.Verbosity,
		Humor:              cfg.Agent.Humor,
		Model:              cfg.LLM.Model,
		EnabledSkills:      cfg.Skills.Enabled,
		WriteMode:          cfg.Gateway.WriteMode,
		WriteCapableModels: cfg.Gateway.WriteCapableFor,
	}, report, log)

	httpServer := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("adjutantd listening", "addr", cfg.Server.Addr, "version", version)
		errCh <- httpServer.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	log.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil && !errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return nil
}

func dialDocker(host string, log *slog.Logger) executor.DockerAPI {
	api, err := executor.NewDockerClient(host)
	if err != nil {
		log.Warn("docker unavailable, container skills disabled", "error", err)
		return nil
	}
	return api
}

// buildBindings assembles the executor registry from the configured
// backends plus any mcp-backed catalogue actions.
func buildBindings(ctx context.Context, cfg *config.Config, cat *catalog.Catalog, sanitizer *safety.Sanitizer, docker executor.DockerAPI, log *slog.Logger) (map[string]executor.Executor, []func() error, error) {
	bindings := map[string]executor.Executor{}
	var closers []func() error

	merge := func(m map[string]executor.Executor) {
		for k, v := range m {
			bindings[k] = v
		}
	}

	merge(executor.NewSystemExecutor().Bindings())
	if cfg.Executors.ShellEnabled {
		merge(executor.NewShellExecutor(sanitizer).Bindings())
	}
	if docker != nil {
		merge(executor.NewContainerExecutor(docker, sanitizer).Bindings())
		merge(executor.NewLogExecutor(docker, sanitizer).Bindings())
	}
	if cfg.Executors.PostgresDSN != "" {
		db, err := executor.NewDatabaseExecutor(ctx, cfg.Executors.PostgresDSN, sanitizer)
		if err != nil {
			log.Warn("postgres unavailable, database skills disabled", "error", err)
		} else {
			merge(db.Bindings())
			closers = append(closers, func() error { db.Close(); return nil })
		}
	}
	if cfg.Executors.VCSBaseURL != "" {
		merge(executor.NewVCSExecutor(cfg.Executors.VCSBaseURL, cfg.Executors.VCSToken).Bindings())
	}

	// MCP-backed actions share one proxy per server command.
	proxies := map[string]*executor.MCPProxy{}
	for _, skill := range cat.Skills() {
		for _, action := range skill.Actions {
			if action.Executor != "mcp" || action.Command == "" {
				continue
			}
			proxy, ok := proxies[action.Command]
			if !ok {
				parts := strings.Fields(action.Command)
				var err error
				proxy, err = executor.NewMCPProxyStdio(parts[0], parts[1:], sanitizer)
				if err != nil {
					log.Warn("mcp server unavailable, action disabled",
						"skill", skill.Name, "action", action.Name, "error", err)
					continue
				}
				proxies[action.Command] = proxy
				closers = append(closers, proxy.Close)
			}
			bindings[catalog.FunctionName(skill.Name, action.Name)] = proxy.Executor(action.Name)
		}
	}

	return bindings, closers, nil
}

func buildSessionStore(ctx context.Context, cfg *config.Config, log *slog.Logger) (session.Store, error) {
	if cfg.Session.Store != "redis" {
		return session.NewMemoryStore(), nil
	}
	store := session.NewRedisStore(cfg.Session.RedisAddr, cfg.Session.TTL)
	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := store.Ping(pingCtx); err != nil {
		return nil, fmt.Errorf("redis session store at %s: %w", cfg.Session.RedisAddr, err)
	}
	return store, nil
}

// buildMemory wires optional recall: the infrastructure graph (embedded
// SQLite, fed by Docker discovery) and semantic search (Qdrant + Ollama
// embeddings). Missing pieces degrade to no-ops.
func buildMemory(ctx context.Context, cfg *config.Config, docker executor.DockerAPI, log *slog.Logger) (*memory.Recaller, func()) {
	cleanup := func() {}

	var graph memory.GraphStore
	if cfg.Memory.GraphEnabled {
		if err := os.MkdirAll(filepath.Dir(cfg.Memory.GraphPath), 0o755); err != nil {
			log.Warn("graph store disabled", "error", err)
		} else if g, err := memory.OpenSQLiteGraph(cfg.Memory.GraphPath); err != nil {
			log.Warn("graph store disabled", "error", err)
		} else {
			graph = g
			cleanup = func() {
				if err := g.Close(); err != nil {
					log.Warn("graph store close", "error", err)
				}
			}
			if docker != nil {
				discovery := memory.NewDiscovery(docker, g, cfg.Memory.DiscoveryTick, log)
				go discovery.Run(ctx)
			}
		}
	}

	var vector memory.VectorStore
	var embedder memory.Embedder
	if cfg.Memory.VectorEnabled {
		store, err := qdrant.New(cfg.Memory.QdrantAddr)
		if err != nil {
			log.Warn("vector store disabled", "error", err)
		} else {
			createCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
			if err := store.CreateCollection(createCtx, cfg.Memory.Collection, embeddingDim); err != nil {
				// Already-exists is the common case on restart.
				log.Debug("create collection", "collection", cfg.Memory.Collection, "error", err)
			}
			cancel()
			vector = store
			embedder = ollama.NewEmbedder(cfg.Memory.EmbedderURL, cfg.Memory.EmbedderModel)
		}
	}

	return memory.NewRecaller(vector, embedder, graph, cfg.Memory.Collection, cfg.Memory.LookupTimeout, log), cleanup
}
