package executor

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"github.com/adjutant-ops/adjutant/pkg/errors"
	"github.com/adjutant-ops/adjutant/pkg/safety"
)

const (
	defaultShellTimeout = 30 * time.Second
	maxShellTimeout     = 120 * time.Second
)

// ShellExecutor runs host commands through the system shell. The safety
// validator has already vetted the command text by the time it gets here;
// this executor only bounds runtime and sanitizes output.
type ShellExecutor struct {
	sanitizer *safety.Sanitizer
}

// NewShellExecutor creates a ShellExecutor.
func NewShellExecutor(sanitizer *safety.Sanitizer) *ShellExecutor {
	if sanitizer == nil {
		sanitizer = safety.NewSanitizer(0)
	}
	return &ShellExecutor{sanitizer: sanitizer}
}

// Run executes the "run_command" action: command (required), timeout in
// seconds (optional, capped).
func (e *ShellExecutor) Run(ctx context.Context, args map[string]any) (Result, error) {
	command, err := requireString(args, "command")
	if err != nil {
		return Result{}, err
	}

	timeout := time.Duration(intArg(args, "timeout", 0)) * time.Second
	if timeout <= 0 {
		timeout = defaultShellTimeout
	}
	if timeout > maxShellTimeout {
		timeout = maxShellTimeout
	}
	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	return timed(runCtx, func() (string, error) {
		cmd := exec.CommandContext(runCtx, "sh", "-c", command)
		var stdout, stderr bytes.Buffer
		cmd.Stdout = &stdout
		cmd.Stderr = &stderr

		runErr := cmd.Run()
		if runCtx.Err() == context.DeadlineExceeded {
			return "", errors.Newf(errors.CodeExecutionTimeout,
				"command timed out after %s", timeout)
		}

		output := stdout.String()
		if errText := strings.TrimSpace(stderr.String()); errText != "" {
			output += "\n[STDERR]\n" + errText
		}
		if runErr != nil {
			output += fmt.Sprintf("\n(exit: %v)", runErr)
		}
		if strings.TrimSpace(output) == "" {
			output = "(no output)"
		}
		return e.sanitizer.Sanitize(output), nil
	})
}

// Bindings returns this executor's registry entries.
func (e *ShellExecutor) Bindings() map[string]Executor {
	return map[string]Executor{
		"shell-execution__run_command": Func(e.Run),
	}
}
