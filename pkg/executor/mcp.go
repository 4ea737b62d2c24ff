package executor

import (
	"context"
	stderrors "errors"
	"strings"
	"time"

	"github.com/mark3labs/mcp-go/client"
	"github.com/mark3labs/mcp-go/mcp"

	"github.com/adjutant-ops/adjutant/pkg/errors"
	"github.com/adjutant-ops/adjutant/pkg/safety"
)

const (
	mcpTimeout = 10 * time.Second
	mcpRetries = 2
	mcpBackoff = 200 * time.Millisecond
)

// ToolCaller is the slice of the MCP client the proxy needs.
type ToolCaller interface {
	CallTool(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error)
	Close() error
}

// MCPProxy dispatches catalogue actions to a remote MCP tool server.
// Skills may declare `executor: mcp` in their manifest; each such action is
// bound to proxy.Executor(remoteToolName) at registry build time.
type MCPProxy struct {
	caller    ToolCaller
	sanitizer *safety.Sanitizer
}

// NewMCPProxy wraps an existing MCP client.
func NewMCPProxy(caller ToolCaller, sanitizer *safety.Sanitizer) *MCPProxy {
	if sanitizer == nil {
		sanitizer = safety.NewSanitizer(0)
	}
	return &MCPProxy{caller: caller, sanitizer: sanitizer}
}

// NewMCPProxyStdio starts an MCP server subprocess and initializes the
// session over stdio.
func NewMCPProxyStdio(command string, args []string, sanitizer *safety.Sanitizer) (*MCPProxy, error) {
	stdioClient, err := client.NewStdioMCPClient(command, nil, args...)
	if err != nil {
		return nil, errors.New(errors.CodeUpstreamUnavailable, "start mcp server", err)
	}
	if err := stdioClient.Start(context.Background()); err != nil {
		return nil, errors.New(errors.CodeUpstreamUnavailable, "start mcp client", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), mcpTimeout)
	defer cancel()

	initRequest := mcp.InitializeRequest{}
	initRequest.Params.ProtocolVersion = mcp.LATEST_PROTOCOL_VERSION
	initRequest.Params.ClientInfo = mcp.Implementation{
		Name:    "adjutant",
		Version: "0.1.0",
	}
	if _, err := stdioClient.Initialize(ctx, initRequest); err != nil {
		return nil, errors.New(errors.CodeUpstreamUnavailable, "initialize mcp session", err)
	}
	return NewMCPProxy(stdioClient, sanitizer), nil
}

// Executor binds one remote tool name to the registry.
func (p *MCPProxy) Executor(tool string) Executor {
	return Func(func(ctx context.Context, args map[string]any) (Result, error) {
		return timed(ctx, func() (string, error) {
			delete(args, WriteModeArg)
			result, err := p.callWithRetry(ctx, tool, args)
			if err != nil {
				return "", err
			}
			text := flattenContent(result)
			if result.IsError {
				return "", errors.Newf(errors.CodeExecutorError, "remote tool %s failed: %s", tool, text)
			}
			return p.sanitizer.Sanitize(text), nil
		})
	})
}

// Close shuts down the underlying client.
func (p *MCPProxy) Close() error {
	return p.caller.Close()
}

func (p *MCPProxy) callWithRetry(ctx context.Context, tool string, args map[string]any) (*mcp.CallToolResult, error) {
	req := mcp.CallToolRequest{}
	req.Params.Name = tool
	req.Params.Arguments = args

	var lastErr error
	attempts := mcpRetries + 1
	for i := 0; i < attempts; i++ {
		reqCtx, cancel := context.WithTimeout(ctx, mcpTimeout)
		res, err := p.caller.CallTool(reqCtx, req)
		cancel()
		if err == nil {
			return res, nil
		}
		if stderrors.Is(err, context.Canceled) || stderrors.Is(err, context.DeadlineExceeded) {
			return nil, errors.New(errors.CodeExecutionTimeout, "mcp call deadline", err)
		}
		lastErr = err
		if i == attempts-1 {
			break
		}
		if err := sleepBackoff(ctx, i); err != nil {
			return nil, err
		}
	}
	return nil, errors.New(errors.CodeUpstreamUnavailable, "mcp server unavailable", lastErr)
}

func sleepBackoff(ctx context.Context, attempt int) error {
	wait := mcpBackoff * time.Duration(1<<attempt)
	timer := time.NewTimer(wait)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func flattenContent(result *mcp.CallToolResult) string {
	var b strings.Builder
	for _, content := range result.Content {
		if tc, ok := content.(mcp.TextContent); ok {
			b.WriteString(tc.Text)
			b.WriteString("\n")
		}
	}
	return strings.TrimRight(b.String(), "\n")
}
