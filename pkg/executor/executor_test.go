package executor

import (
	"context"
	"strings"
	"testing"

	"github.com/adjutant-ops/adjutant/pkg/errors"
)

func TestRegistryLookup(t *testing.T) {
	reg := NewRegistry(map[string]Executor{
		"system-status__overview": Func(func(ctx context.Context, args map[string]any) (Result, error) {
			return Result{Output: "ok"}, nil
		}),
	})

	if _, err := reg.Lookup("system-status", "overview"); err != nil {
		t.Fatalf("Lookup known action: %v", err)
	}

	_, err := reg.Lookup("nonexistent", "overview")
	if errors.CodeOf(err) != errors.CodeSkillNotFound {
		t.Errorf("unknown skill code = %s", errors.CodeOf(err))
	}

	_, err = reg.Lookup("system-status", "nonexistent")
	if errors.CodeOf(err) != errors.CodeActionNotFound {
		t.Errorf("unknown action code = %s", errors.CodeOf(err))
	}
}

func TestShellExecutorRun(t *testing.T) {
	e := NewShellExecutor(nil)

	res, err := e.Run(context.Background(), map[string]any{"command": "echo hello"})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !strings.Contains(res.Output, "hello") {
		t.Errorf("output = %q", res.Output)
	}
	if res.Duration <= 0 {
		t.Error("duration not measured")
	}
}

func TestShellExecutorCapturesStderrAndExit(t *testing.T) {
	e := NewShellExecutor(nil)

	res, err := e.Run(context.Background(), map[string]any{"command": "echo oops >&2; exit 3"})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !strings.Contains(res.Output, "[STDERR]") || !strings.Contains(res.Output, "oops") {
		t.Errorf("stderr not captured: %q", res.Output)
	}
	if !strings.Contains(res.Output, "exit") {
		t.Errorf("exit status missing: %q", res.Output)
	}
}

func TestShellExecutorTimeout(t *testing.T) {
	e := NewShellExecutor(nil)

	_, err := e.Run(context.Background(), map[string]any{
		"command": "sleep 5",
		"timeout": float64(1),
	})
	if errors.CodeOf(err) != errors.CodeExecutionTimeout {
		t.Fatalf("expected timeout, got %v (code %s)", err, errors.CodeOf(err))
	}
}

func TestShellExecutorRequiresCommand(t *testing.T) {
	e := NewShellExecutor(nil)
	if _, err := e.Run(context.Background(), map[string]any{}); err == nil {
		t.Fatal("expected error for missing command")
	}
}

func TestClassifyQuery(t *testing.T) {
	cases := []struct {
		query string
		want  queryClass
	}{
		{"SELECT * FROM users", queryRead},
		{"  select 1", queryRead},
		{"WITH x AS (SELECT 1) SELECT * FROM x", queryRead},
		{"EXPLAIN SELECT 1", queryRead},
		{"INSERT INTO t VALUES (1)", queryWrite},
		{"update t set a = 1", queryWrite},
		{"DELETE FROM t", queryWrite},
		{"DROP TABLE t", queryForbidden},
		{"TRUNCATE TABLE t", queryForbidden},
		{"ALTER TABLE t ADD COLUMN x int", queryForbidden},
		{"VACUUM", queryForbidden},
	}
	for _, tc := range cases {
		if got := classifyQuery(tc.query); got != tc.want {
			t.Errorf("classifyQuery(%q) = %d, want %d", tc.query, got, tc.want)
		}
	}
}

func TestArgHelpers(t *testing.T) {
	args := map[string]any{
		"s": "text",
		"n": float64(7),
		"b": true,
	}
	if stringArg(args, "s", "x") != "text" || stringArg(args, "missing", "x") != "x" {
		t.Error("stringArg")
	}
	if intArg(args, "n", 0) != 7 || intArg(args, "missing", 3) != 3 {
		t.Error("intArg")
	}
	if !boolArg(args, "b", false) || boolArg(args, "missing", false) {
		t.Error("boolArg")
	}
}
