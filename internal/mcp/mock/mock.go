// Package mock provides a scripted [mcp.Host] for tests.
package mock

import (
	"context"
	"slices"
	"sync"

	"github.com/MrWong99/lookout/internal/mcp"
	"github.com/MrWong99/lookout/pkg/types"
)

// Call is one recorded method invocation. Args excludes the context.
type Call struct {
	Method string
	Args   []any
}

// Host answers from its exported fields and records every call. It is safe
// for concurrent use.
type Host struct {
	RegisterServerErr error
	ToolsResult       []types.ToolDefinition

	// ExecuteToolResult is copied for each ExecuteTool call; nil yields an
	// empty result. ExecuteToolErr takes precedence.
	ExecuteToolResult *mcp.ToolResult
	ExecuteToolErr    error

	CloseErr error

	mu    sync.Mutex
	calls []Call
}

var _ mcp.Host = (*Host)(nil)

func (h *Host) record(method string, args ...any) {
	h.mu.Lock()
	h.calls = append(h.calls, Call{Method: method, Args: args})
	h.mu.Unlock()
}

// Calls returns the recorded calls in order.
func (h *Host) Calls() []Call {
	h.mu.Lock()
	defer h.mu.Unlock()
	return slices.Clone(h.calls)
}

// CallCount returns how often method was called.
func (h *Host) CallCount(method string) int {
	n := 0
	for _, c := range h.Calls() {
		if c.Method == method {
			n++
		}
	}
	return n
}

// Registered returns the configs passed to RegisterServer.
func (h *Host) Registered() []mcp.ServerConfig {
	var out []mcp.ServerConfig
	for _, c := range h.Calls() {
		if c.Method == "RegisterServer" {
			out = append(out, c.Args[0].(mcp.ServerConfig))
		}
	}
	return out
}

func (h *Host) RegisterServer(_ context.Context, cfg mcp.ServerConfig) error {
	h.record("RegisterServer", cfg)
	return h.RegisterServerErr
}

func (h *Host) Tools() []types.ToolDefinition {
	h.record("Tools")
	return slices.Clone(h.ToolsResult)
}

func (h *Host) ExecuteTool(_ context.Context, name, args string) (*mcp.ToolResult, error) {
	h.record("ExecuteTool", name, args)
	if h.ExecuteToolErr != nil {
		return nil, h.ExecuteToolErr
	}
	if h.ExecuteToolResult == nil {
		return &mcp.ToolResult{}, nil
	}
	res := *h.ExecuteToolResult
	return &res, nil
}

func (h *Host) Close() error {
	h.record("Close")
	return h.CloseErr
}
