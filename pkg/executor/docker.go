package executor

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/docker/docker/api/types"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/client"
	"github.com/docker/docker/pkg/stdcopy"

	"github.com/adjutant-ops/adjutant/pkg/errors"
	"github.com/adjutant-ops/adjutant/pkg/safety"
)

// DockerAPI is the slice of the Docker Engine client the container
// executors need. *client.Client satisfies it.
type DockerAPI interface {
	ContainerList(ctx context.Context, options container.ListOptions) ([]types.Container, error)
	ContainerInspect(ctx context.Context, containerID string) (types.ContainerJSON, error)
	ContainerLogs(ctx context.Context, containerID string, options container.LogsOptions) (io.ReadCloser, error)
	ContainerStats(ctx context.Context, containerID string, stream bool) (container.StatsResponseReader, error)
	ContainerStart(ctx context.Context, containerID string, options container.StartOptions) error
	ContainerStop(ctx context.Context, containerID string, options container.StopOptions) error
	ContainerRestart(ctx context.Context, containerID string, options container.StopOptions) error
	ContainerKill(ctx context.Context, containerID, signal string) error
}

// NewDockerClient connects to the Docker daemon. host overrides DOCKER_HOST
// when non-empty.
func NewDockerClient(host string) (*client.Client, error) {
	opts := []client.Opt{client.FromEnv, client.WithAPIVersionNegotiation()}
	if host != "" {
		opts = append(opts, client.WithHost(host))
	}
	return client.NewClientWithOpts(opts...)
}

// ContainerExecutor serves the container-ops skill over the Docker API.
type ContainerExecutor struct {
	api       DockerAPI
	sanitizer *safety.Sanitizer
}

// NewContainerExecutor creates a ContainerExecutor.
func NewContainerExecutor(api DockerAPI, sanitizer *safety.Sanitizer) *ContainerExecutor {
	if sanitizer == nil {
		sanitizer = safety.NewSanitizer(0)
	}
	return &ContainerExecutor{api: api, sanitizer: sanitizer}
}

// Bindings returns this executor's registry entries.
func (e *ContainerExecutor) Bindings() map[string]Executor {
	return map[string]Executor{
		"container-ops__list_containers":   Func(e.List),
		"container-ops__inspect_container": Func(e.Inspect),
		"container-ops__container_stats":   Func(e.Stats),
		"container-ops__health_check":      Func(e.HealthCheck),
		"container-ops__manage_container":  Func(e.Manage),
	}
}

// List renders running (or all) containers as an aligned table.
func (e *ContainerExecutor) List(ctx context.Context, args map[string]any) (Result, error) {
	return timed(ctx, func() (string, error) {
		all := boolArg(args, "all", false)
		containers, err := e.api.ContainerList(ctx, container.ListOptions{All: all})
		if err != nil {
			return "", dockerError("list containers", err)
		}
		if len(containers) == 0 {
			if all {
				return "No containers found.", nil
			}
			return "No running containers found.", nil
		}

		sort.Slice(containers, func(i, j int) bool {
			return containerName(containers[i]) < containerName(containers[j])
		})
		var b strings.Builder
		fmt.Fprintf(&b, "%-35s %-20s %-40s\n", "NAME", "STATUS", "IMAGE")
		b.WriteString(strings.Repeat("-", 95) + "\n")
		for _, c := range containers {
			fmt.Fprintf(&b, "%-35s %-20s %-40s\n", containerName(c), c.Status, c.Image)
		}
		return strings.TrimRight(b.String(), "\n"), nil
	})
}

// Inspect returns a JSON summary of one container.
func (e *ContainerExecutor) Inspect(ctx context.Context, args map[string]any) (Result, error) {
	name, err := requireString(args, "name")
	if err != nil {
		return Result{}, err
	}
	return timed(ctx, func() (string, error) {
		info, err := e.api.ContainerInspect(ctx, name)
		if err != nil {
			return "", dockerError("inspect container", err)
		}

		summary := map[string]any{
			"name":    strings.TrimPrefix(info.Name, "/"),
			"id":      shortID(info.ID),
			"status":  info.State.Status,
			"image":   info.Config.Image,
			"created": info.Created,
		}
		if info.NetworkSettings != nil {
			var networks []string
			for n := range info.NetworkSettings.Networks {
				networks = append(networks, n)
			}
			sort.Strings(networks)
			summary["networks"] = networks
		}
		labels := map[string]string{}
		for k, v := range info.Config.Labels {
			if !strings.HasPrefix(k, "com.docker") {
				labels[k] = v
			}
		}
		if len(labels) > 0 {
			summary["labels"] = labels
		}

		data, err := json.MarshalIndent(summary, "", "  ")
		if err != nil {
			return "", err
		}
		return string(data), nil
	})
}

// dockerStats is the subset of the stats frame the formatter reads.
type dockerStats struct {
	MemoryStats struct {
		Usage uint64 `json:"usage"`
		Limit uint64 `json:"limit"`
	} `json:"memory_stats"`
	CPUStats struct {
		CPUUsage struct {
			TotalUsage uint64 `json:"total_usage"`
		} `json:"cpu_usage"`
		SystemCPUUsage uint64 `json:"system_cpu_usage"`
	} `json:"cpu_stats"`
	PreCPUStats struct {
		CPUUsage struct {
			TotalUsage uint64 `json:"total_usage"`
		} `json:"cpu_usage"`
		SystemCPUUsage uint64 `json:"system_cpu_usage"`
	} `json:"precpu_stats"`
	Networks map[string]struct {
		RxBytes uint64 `json:"rx_bytes"`
		TxBytes uint64 `json:"tx_bytes"`
	} `json:"networks"`
}

// Stats reports one snapshot of container resource usage.
func (e *ContainerExecutor) Stats(ctx context.Context, args map[string]any) (Result, error) {
	name, err := requireString(args, "name")
	if err != nil {
		return Result{}, err
	}
	return timed(ctx, func() (string, error) {
		reader, err := e.api.ContainerStats(ctx, name, false)
		if err != nil {
			return "", dockerError("container stats", err)
		}
		defer reader.Body.Close()

		var stats dockerStats
		if err := json.NewDecoder(reader.Body).Decode(&stats); err != nil {
			return "", dockerError("decode stats", err)
		}

		cpuDelta := float64(stats.CPUStats.CPUUsage.TotalUsage) - float64(stats.PreCPUStats.CPUUsage.TotalUsage)
		systemDelta := float64(stats.CPUStats.SystemCPUUsage) - float64(stats.PreCPUStats.SystemCPUUsage)
		cpuPct := 0.0
		if systemDelta > 0 {
			cpuPct = cpuDelta / systemDelta * 100
		}
		memUsage := float64(stats.MemoryStats.Usage)
		memLimit := float64(stats.MemoryStats.Limit)
		memPct := 0.0
		if memLimit > 0 {
			memPct = memUsage / memLimit * 100
		}
		var rx, tx uint64
		for _, n := range stats.Networks {
			rx += n.RxBytes
			tx += n.TxBytes
		}

		return fmt.Sprintf(
			"Container: %s\nCPU: %.1f%%\nMemory: %.1f MB / %.0f MB (%.1f%%)\nNetwork: RX %.1f KB, TX %.1f KB",
			name, cpuPct,
			memUsage/(1024*1024), memLimit/(1024*1024), memPct,
			float64(rx)/1024, float64(tx)/1024,
		), nil
	})
}

// HealthCheck reports status and health for all running containers, or one
// container in detail when "name" is given.
func (e *ContainerExecutor) HealthCheck(ctx context.Context, args map[string]any) (Result, error) {
	return timed(ctx, func() (string, error) {
		if name := stringArg(args, "name", ""); name != "" {
			return e.healthOne(ctx, name)
		}
		containers, err := e.api.ContainerList(ctx, container.ListOptions{})
		if err != nil {
			return "", dockerError("list containers", err)
		}
		sort.Slice(containers, func(i, j int) bool {
			return containerName(containers[i]) < containerName(containers[j])
		})

		var b strings.Builder
		fmt.Fprintf(&b, "%-35s %-12s %s\n", "SERVICE", "STATUS", "HEALTH")
		b.WriteString(strings.Repeat("-", 65) + "\n")
		for _, c := range containers {
			health := "n/a"
			if info, err := e.api.ContainerInspect(ctx, c.ID); err == nil &&
				info.State != nil && info.State.Health != nil {
				health = info.State.Health.Status
			}
			fmt.Fprintf(&b, "%-35s %-12s %s\n", containerName(c), c.State, health)
		}
		return strings.TrimRight(b.String(), "\n"), nil
	})
}

func (e *ContainerExecutor) healthOne(ctx context.Context, name string) (string, error) {
	info, err := e.api.ContainerInspect(ctx, name)
	if err != nil {
		return "", dockerError("inspect container", err)
	}
	lines := []string{
		fmt.Sprintf("Service: %s", strings.TrimPrefix(info.Name, "/")),
		fmt.Sprintf("Status: %s", info.State.Status),
	}
	if info.State.Health != nil {
		lines = append(lines, fmt.Sprintf("Health: %s", info.State.Health.Status))
		logs := info.State.Health.Log
		if n := len(logs); n > 0 {
			lines = append(lines, "Recent health checks:")
			for _, l := range logs[max(0, n-3):] {
				out := strings.TrimSpace(l.Output)
				if len(out) > 100 {
					out = out[:100]
				}
				lines = append(lines, fmt.Sprintf("  Exit %d: %s", l.ExitCode, out))
			}
		}
	} else {
		lines = append(lines, "Health: n/a")
	}
	lines = append(lines, fmt.Sprintf("Started: %s", info.State.StartedAt))
	return strings.Join(lines, "\n"), nil
}

// Manage runs a lifecycle action: start, stop, restart or kill.
// Protected containers were already rejected by the safety validator.
func (e *ContainerExecutor) Manage(ctx context.Context, args map[string]any) (Result, error) {
	name, err := requireString(args, "name")
	if err != nil {
		return Result{}, err
	}
	action, err := requireString(args, "action")
	if err != nil {
		return Result{}, err
	}
	return timed(ctx, func() (string, error) {
		stopTimeout := 30
		switch action {
		case "start":
			err = e.api.ContainerStart(ctx, name, container.StartOptions{})
		case "stop":
			err = e.api.ContainerStop(ctx, name, container.StopOptions{Timeout: &stopTimeout})
		case "restart":
			err = e.api.ContainerRestart(ctx, name, container.StopOptions{Timeout: &stopTimeout})
		case "kill":
			err = e.api.ContainerKill(ctx, name, "SIGKILL")
		default:
			return "", errors.Newf(errors.CodeExecutorError, "unknown container action %q", action)
		}
		if err != nil {
			return "", dockerError(action+" container", err)
		}
		return fmt.Sprintf("Container %q: %s completed.", name, action), nil
	})
}

// LogExecutor serves the log-viewer skill from the Docker logs API.
type LogExecutor struct {
	api       DockerAPI
	sanitizer *safety.Sanitizer
}

// NewLogExecutor creates a LogExecutor.
func NewLogExecutor(api DockerAPI, sanitizer *safety.Sanitizer) *LogExecutor {
	if sanitizer == nil {
		sanitizer = safety.NewSanitizer(0)
	}
	return &LogExecutor{api: api, sanitizer: sanitizer}
}

// Bindings returns this executor's registry entries.
func (e *LogExecutor) Bindings() map[string]Executor {
	return map[string]Executor{
		"log-viewer__get_logs":    Func(e.Tail),
		"log-viewer__search_logs": Func(e.Search),
	}
}

// Tail returns the last N log lines of a container.
func (e *LogExecutor) Tail(ctx context.Context, args map[string]any) (Result, error) {
	name, err := requireString(args, "name")
	if err != nil {
		return Result{}, err
	}
	return timed(ctx, func() (string, error) {
		lines := intArg(args, "lines", 50)
		text, err := e.fetchLogs(ctx, name, lines, stringArg(args, "since", ""))
		if err != nil {
			return "", err
		}
		if strings.TrimSpace(text) == "" {
			return fmt.Sprintf("No log output from %s.", name), nil
		}
		return e.sanitizer.Sanitize(text), nil
	})
}

// Search scans the last 500 log lines for a substring, case-insensitive,
// and returns the most recent matches.
func (e *LogExecutor) Search(ctx context.Context, args map[string]any) (Result, error) {
	name, err := requireString(args, "name")
	if err != nil {
		return Result{}, err
	}
	pattern, err := requireString(args, "pattern")
	if err != nil {
		return Result{}, err
	}
	return timed(ctx, func() (string, error) {
		limit := intArg(args, "lines", 50)
		text, err := e.fetchLogs(ctx, name, 500, "")
		if err != nil {
			return "", err
		}

		needle := strings.ToLower(pattern)
		var matching []string
		for _, line := range strings.Split(text, "\n") {
			if strings.Contains(strings.ToLower(line), needle) {
				matching = append(matching, line)
			}
		}
		if len(matching) == 0 {
			return fmt.Sprintf("No matches for %q in last 500 lines of %s.", pattern, name), nil
		}
		if len(matching) > limit {
			matching = matching[len(matching)-limit:]
		}
		return e.sanitizer.Sanitize(strings.Join(matching, "\n")), nil
	})
}

func (e *LogExecutor) fetchLogs(ctx context.Context, name string, tail int, since string) (string, error) {
	reader, err := e.api.ContainerLogs(ctx, name, container.LogsOptions{
		ShowStdout: true,
		ShowStderr: true,
		Timestamps: true,
		Tail:       fmt.Sprintf("%d", tail),
		Since:      since,
	})
	if err != nil {
		return "", dockerError("container logs", err)
	}
	defer reader.Close()

	// Non-TTY containers multiplex stdout/stderr into one stream.
	var stdout, stderr bytes.Buffer
	if _, err := stdcopy.StdCopy(&stdout, &stderr, reader); err != nil {
		// TTY containers deliver a raw stream; fall back to a plain read.
		raw, readErr := io.ReadAll(reader)
		if readErr != nil {
			return "", dockerError("read logs", readErr)
		}
		return string(raw), nil
	}
	out := stdout.String()
	if stderr.Len() > 0 {
		out += stderr.String()
	}
	return out, nil
}

func containerName(c types.Container) string {
	if len(c.Names) > 0 {
		return strings.TrimPrefix(c.Names[0], "/")
	}
	return shortID(c.ID)
}

func shortID(id string) string {
	if len(id) > 12 {
		return id[:12]
	}
	return id
}

func dockerError(op string, err error) error {
	if client.IsErrNotFound(err) {
		return errors.New(errors.CodeExecutorError, op+": not found", err)
	}
	if client.IsErrConnectionFailed(err) {
		return errors.New(errors.CodeUpstreamUnavailable, "docker daemon unreachable", err)
	}
	return errors.New(errors.CodeExecutorError, op+" failed", err)
}
