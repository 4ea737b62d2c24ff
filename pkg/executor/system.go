package executor

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/shirou/gopsutil/v4/cpu"
	"github.com/shirou/gopsutil/v4/disk"
	"github.com/shirou/gopsutil/v4/load"
	"github.com/shirou/gopsutil/v4/mem"
	"github.com/shirou/gopsutil/v4/process"

	"github.com/adjutant-ops/adjutant/pkg/errors"
)

const gb = 1024 * 1024 * 1024

// SystemExecutor serves the system-status skill from host metrics.
type SystemExecutor struct{}

// NewSystemExecutor creates a SystemExecutor.
func NewSystemExecutor() *SystemExecutor {
	return &SystemExecutor{}
}

// Bindings returns this executor's registry entries.
func (e *SystemExecutor) Bindings() map[string]Executor {
	return map[string]Executor{
		"system-status__cpu":       Func(e.CPU),
		"system-status__memory":    Func(e.Memory),
		"system-status__disk":      Func(e.Disk),
		"system-status__processes": Func(e.Processes),
		"system-status__overview":  Func(e.Overview),
	}
}

// CPU reports per-core usage, load average and core counts.
func (e *SystemExecutor) CPU(ctx context.Context, args map[string]any) (Result, error) {
	return timed(ctx, func() (string, error) {
		perCore, err := cpu.PercentWithContext(ctx, 0, true)
		if err != nil {
			return "", errors.New(errors.CodeExecutorError, "read cpu usage", err)
		}
		avg := 0.0
		parts := make([]string, len(perCore))
		for i, p := range perCore {
			avg += p
			parts[i] = fmt.Sprintf("%.0f%%", p)
		}
		if len(perCore) > 0 {
			avg /= float64(len(perCore))
		}

		logical, _ := cpu.CountsWithContext(ctx, true)
		physical, _ := cpu.CountsWithContext(ctx, false)

		lines := []string{
			fmt.Sprintf("CPU Cores: %d (%d physical)", logical, physical),
			fmt.Sprintf("Average Usage: %.1f%%", avg),
			fmt.Sprintf("Per-Core: %s", strings.Join(parts, ", ")),
		}
		if la, err := load.AvgWithContext(ctx); err == nil {
			lines = append(lines, fmt.Sprintf("Load Average: %.2f / %.2f / %.2f (1/5/15 min)",
				la.Load1, la.Load5, la.Load15))
		}
		return strings.Join(lines, "\n"), nil
	})
}

// Memory reports RAM and swap usage.
func (e *SystemExecutor) Memory(ctx context.Context, args map[string]any) (Result, error) {
	return timed(ctx, func() (string, error) {
		vm, err := mem.VirtualMemoryWithContext(ctx)
		if err != nil {
			return "", errors.New(errors.CodeExecutorError, "read memory usage", err)
		}
		out := fmt.Sprintf(
			"RAM: %.1f GB total\n  Used: %.1f GB (%.1f%%)\n  Available: %.1f GB",
			float64(vm.Total)/gb, float64(vm.Used)/gb, vm.UsedPercent, float64(vm.Available)/gb)
		if swap, err := mem.SwapMemoryWithContext(ctx); err == nil {
			out += fmt.Sprintf("\nSwap: %.1f GB total, %.1f GB used (%.1f%%)",
				float64(swap.Total)/gb, float64(swap.Used)/gb, swap.UsedPercent)
		}
		return out, nil
	})
}

// Disk reports usage for every mounted partition.
func (e *SystemExecutor) Disk(ctx context.Context, args map[string]any) (Result, error) {
	return timed(ctx, func() (string, error) {
		partitions, err := disk.PartitionsWithContext(ctx, false)
		if err != nil {
			return "", errors.New(errors.CodeExecutorError, "read partitions", err)
		}
		var lines []string
		for _, part := range partitions {
			usage, err := disk.UsageWithContext(ctx, part.Mountpoint)
			if err != nil {
				continue
			}
			lines = append(lines, fmt.Sprintf(
				"%s: %.1f GB total, %.1f GB used (%.1f%%), %.1f GB free",
				part.Mountpoint,
				float64(usage.Total)/gb, float64(usage.Used)/gb,
				usage.UsedPercent, float64(usage.Free)/gb))
		}
		if len(lines) == 0 {
			return "No disk info available.", nil
		}
		return strings.Join(lines, "\n"), nil
	})
}

// Processes lists the top N processes by CPU usage.
func (e *SystemExecutor) Processes(ctx context.Context, args map[string]any) (Result, error) {
	return timed(ctx, func() (string, error) {
		count := intArg(args, "count", 10)
		procs, err := process.ProcessesWithContext(ctx)
		if err != nil {
			return "", errors.New(errors.CodeExecutorError, "list processes", err)
		}

		type row struct {
			pid  int32
			cpu  float64
			mem  float32
			name string
		}
		var rows []row
		for _, p := range procs {
			cpuPct, err := p.CPUPercentWithContext(ctx)
			if err != nil {
				continue
			}
			memPct, _ := p.MemoryPercentWithContext(ctx)
			name, _ := p.NameWithContext(ctx)
			rows = append(rows, row{pid: p.Pid, cpu: cpuPct, mem: memPct, name: name})
		}
		sort.Slice(rows, func(i, j int) bool { return rows[i].cpu > rows[j].cpu })
		if len(rows) > count {
			rows = rows[:count]
		}

		var b strings.Builder
		fmt.Fprintf(&b, "%-8s %-8s %-8s %s\n", "PID", "CPU%", "MEM%", "NAME")
		b.WriteString(strings.Repeat("-", 50) + "\n")
		for _, r := range rows {
			fmt.Fprintf(&b, "%-8d %-8.1f %-8.1f %s\n", r.pid, r.cpu, r.mem, r.name)
		}
		return strings.TrimRight(b.String(), "\n"), nil
	})
}

// Overview combines CPU, memory and disk into one report.
func (e *SystemExecutor) Overview(ctx context.Context, args map[string]any) (Result, error) {
	return timed(ctx, func() (string, error) {
		var sections []string
		for _, fn := range []func(context.Context, map[string]any) (Result, error){
			e.CPU, e.Memory, e.Disk,
		} {
			res, err := fn(ctx, nil)
			if err != nil {
				sections = append(sections, fmt.Sprintf("(unavailable: %v)", err))
				continue
			}
			sections = append(sections, res.Output)
		}
		return strings.Join(sections, "\n\n"), nil
	})
}
