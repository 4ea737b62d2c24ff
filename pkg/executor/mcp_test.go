package executor

import (
	"context"
	stderrors "errors"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/adjutant-ops/adjutant/pkg/errors"
)

type fakeToolCaller struct {
	calls    int
	failures int
	result   *mcp.CallToolResult
	lastName string
}

func (f *fakeToolCaller) CallTool(_ context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	f.calls++
	f.lastName = req.Params.Name
	if f.calls <= f.failures {
		return nil, stderrors.New("connection reset")
	}
	return f.result, nil
}

func (f *fakeToolCaller) Close() error { return nil }

func textResult(text string, isError bool) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{mcp.TextContent{Type: "text", Text: text}},
		IsError: isError,
	}
}

func TestMCPProxyDispatch(t *testing.T) {
	caller := &fakeToolCaller{result: textResult("backup finished", false)}
	proxy := NewMCPProxy(caller, nil)

	exec := proxy.Executor("run_backup")
	res, err := exec.Execute(context.Background(), map[string]any{"target": "nightly"})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if res.Output != "backup finished" {
		t.Errorf("output = %q", res.Output)
	}
	if caller.lastName != "run_backup" {
		t.Errorf("remote tool = %q", caller.lastName)
	}
}

func TestMCPProxyRetriesTransientFailure(t *testing.T) {
	caller := &fakeToolCaller{failures: 1, result: textResult("ok", false)}
	proxy := NewMCPProxy(caller, nil)

	_, err := proxy.Executor("run_backup").Execute(context.Background(), map[string]any{})
	if err != nil {
		t.Fatalf("Execute after retry: %v", err)
	}
	if caller.calls != 2 {
		t.Errorf("calls = %d, want 2", caller.calls)
	}
}

func TestMCPProxyExhaustedRetries(t *testing.T) {
	caller := &fakeToolCaller{failures: 10}
	proxy := NewMCPProxy(caller, nil)

	_, err := proxy.Executor("run_backup").Execute(context.Background(), map[string]any{})
	if errors.CodeOf(err) != errors.CodeUpstreamUnavailable {
		t.Fatalf("expected UPSTREAM_UNAVAILABLE, got %v", err)
	}
}

func TestMCPProxyRemoteError(t *testing.T) {
	caller := &fakeToolCaller{result: textResult("disk full", true)}
	proxy := NewMCPProxy(caller, nil)

	_, err := proxy.Executor("run_backup").Execute(context.Background(), map[string]any{})
	if errors.CodeOf(err) != errors.CodeExecutorError {
		t.Fatalf("expected EXECUTOR_ERROR, got %v", err)
	}
}

func TestMCPProxyStripsWriteModeArg(t *testing.T) {
	caller := &fakeToolCaller{result: textResult("ok", false)}
	proxy := NewMCPProxy(caller, nil)

	args := map[string]any{WriteModeArg: true, "target": "x"}
	if _, err := proxy.Executor("t").Execute(context.Background(), args); err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if _, present := args[WriteModeArg]; present {
		t.Error("internal write-mode arg leaked to remote tool")
	}
}
