// Package mcp defines the host that connects Lookout to external Model
// Context Protocol tool servers.
//
// One [Host] is shared by every session. Tools that need session state, such
// as the vision tools reading a session's frame buffer, are not registered
// here; the session routes those itself and falls back to the host for
// everything else.
package mcp

import (
	"context"

	"github.com/MrWong99/lookout/pkg/types"
)

// Transport is how the host reaches a server.
type Transport string

const (
	// TransportStdio runs the server as a child process speaking over
	// stdin and stdout.
	TransportStdio Transport = "stdio"

	// TransportStreamableHTTP speaks the streamable HTTP protocol to a
	// server URL.
	TransportStreamableHTTP Transport = "streamable-http"
)

// IsValid reports whether t is a known transport.
func (t Transport) IsValid() bool {
	switch t {
	case TransportStdio, TransportStreamableHTTP:
		return true
	}
	return false
}

// ServerConfig describes one MCP server. Name must be unique per host.
type ServerConfig struct {
	Name      string
	Transport Transport

	// Command is the executable and its arguments, split on whitespace.
	// Stdio only.
	Command string

	// URL is the endpoint. Streamable HTTP only.
	URL string

	// Env is added to the inherited environment of a stdio server.
	Env map[string]string
}

// ToolResult is the outcome of one tool call as the model will see it.
type ToolResult struct {
	// Content is the text handed back to the model. When IsError is set it
	// describes the failure.
	Content string

	// IsError marks a failure the tool reported or the caller detected (bad
	// arguments, unknown tool). The model is told and may try again.
	IsError bool

	DurationMs int64
}

// Host connects MCP servers and runs their tools. Implementations are safe
// for concurrent use.
type Host interface {
	// RegisterServer connects cfg and imports its tools, replacing any
	// earlier server of the same name.
	RegisterServer(ctx context.Context, cfg ServerConfig) error

	// Tools lists the imported tools sorted by name.
	Tools() []types.ToolDefinition

	// ExecuteTool calls name with JSON args. The error return is reserved
	// for unknown tools and transport failures; tool failures are reported
	// in the result.
	ExecuteTool(ctx context.Context, name, args string) (*ToolResult, error)

	// Close disconnects every server.
	Close() error
}
