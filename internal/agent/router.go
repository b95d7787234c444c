package agent

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/MrWong99/lookout/internal/mcp"
	"github.com/MrWong99/lookout/internal/mcp/tools"
	"github.com/MrWong99/lookout/pkg/types"
)

// toolRouter dispatches tool calls to the session's built-in tools first and
// to the shared MCP host otherwise. Built-ins shadow host tools of the same
// name.
type toolRouter struct {
	builtins map[string]tools.Tool
	host     mcp.Host // may be nil
	defs     []types.ToolDefinition
	limits   map[string]time.Duration
}

func newToolRouter(builtins []tools.Tool, host mcp.Host) *toolRouter {
	r := &toolRouter{
		builtins: make(map[string]tools.Tool, len(builtins)),
		host:     host,
		limits:   make(map[string]time.Duration),
	}
	for _, t := range builtins {
		r.builtins[t.Definition.Name] = t
		r.add(t.Definition)
	}
	if host != nil {
		for _, def := range host.Tools() {
			if _, shadowed := r.builtins[def.Name]; shadowed {
				slog.Warn("agent: mcp tool shadowed by built-in", "tool", def.Name)
				continue
			}
			r.add(def)
		}
	}
	return r
}

func (r *toolRouter) add(def types.ToolDefinition) {
	r.defs = append(r.defs, def)
	if def.MaxDurationMs > 0 {
		r.limits[def.Name] = time.Duration(def.MaxDurationMs) * time.Millisecond
	}
}

// Definitions returns every routable tool, built-ins first.
func (r *toolRouter) Definitions() []types.ToolDefinition {
	return r.defs
}

// Execute runs the named tool. Failures are reported through
// [mcp.ToolResult.IsError] so the model can react to them; Execute itself
// always returns a result.
func (r *toolRouter) Execute(ctx context.Context, name, args string) *mcp.ToolResult {
	if limit, ok := r.limits[name]; ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, limit)
		defer cancel()
	}

	start := time.Now()
	if t, ok := r.builtins[name]; ok {
		out, err := t.Handler(ctx, args)
		res := &mcp.ToolResult{Content: out, DurationMs: time.Since(start).Milliseconds()}
		if err != nil {
			res.Content = err.Error()
			res.IsError = true
		}
		return res
	}

	if r.host == nil {
		return &mcp.ToolResult{Content: fmt.Sprintf("unknown tool %q", name), IsError: true}
	}
	res, err := r.host.ExecuteTool(ctx, name, args)
	if err != nil {
		return &mcp.ToolResult{
			Content:    err.Error(),
			IsError:    true,
			DurationMs: time.Since(start).Milliseconds(),
		}
	}
	return res
}
