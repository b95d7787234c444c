// Package mcphost implements [mcp.Host] on the official MCP Go SDK
// (github.com/modelcontextprotocol/go-sdk).
//
// Operators attach external tool servers (transit timetables, venue maps,
// accessibility data) over stdio or streamable HTTP. Their tools are offered
// to every session next to the built-in vision tools:
//
//	h := mcphost.New(mcphost.WithCallTimeout(10 * time.Second))
//	err := h.RegisterServer(ctx, mcp.ServerConfig{
//	    Name:      "transit",
//	    Transport: mcp.TransportStdio,
//	    Command:   "/usr/local/bin/mcp-transit-server",
//	})
//	res, err := h.ExecuteTool(ctx, "next_departures", `{"stop":"Central"}`)
package mcphost

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"os"
	"os/exec"
	"slices"
	"strings"
	"sync"
	"time"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/MrWong99/lookout/internal/mcp"
	"github.com/MrWong99/lookout/pkg/types"
)

// DefaultCallTimeout bounds a single tool call unless the caller's context
// expires first.
const DefaultCallTimeout = 30 * time.Second

// Dialer builds the SDK transport for a server config.
type Dialer func(ctx context.Context, cfg mcp.ServerConfig) (mcpsdk.Transport, error)

// Option configures a [Host].
type Option func(*Host)

// WithDialer replaces transport construction, e.g. with in-memory transports.
func WithDialer(d Dialer) Option {
	return func(h *Host) { h.dial = d }
}

// WithCallTimeout overrides [DefaultCallTimeout]. Non-positive values keep
// the default.
func WithCallTimeout(d time.Duration) Option {
	return func(h *Host) {
		if d > 0 {
			h.callTimeout = d
		}
	}
}

// server is one connected MCP server and the tools it owns.
type server struct {
	session *mcpsdk.ClientSession
	owns    []string
}

// Host is an [mcp.Host]. Create it with [New].
type Host struct {
	client      *mcpsdk.Client
	dial        Dialer
	callTimeout time.Duration

	mu      sync.RWMutex
	servers map[string]*server
	tools   map[string]types.ToolDefinition
	owner   map[string]string // tool name -> server name
}

var _ mcp.Host = (*Host)(nil)

// New returns a Host without servers.
func New(opts ...Option) *Host {
	h := &Host{
		client:      mcpsdk.NewClient(&mcpsdk.Implementation{Name: "lookout", Version: "1.0.0"}, nil),
		dial:        dialTransport,
		callTimeout: DefaultCallTimeout,
		servers:     make(map[string]*server),
		tools:       make(map[string]types.ToolDefinition),
		owner:       make(map[string]string),
	}
	for _, o := range opts {
		o(h)
	}
	return h
}

// dialTransport builds a command transport for stdio servers, with cfg.Env
// added to the inherited environment, or a streamable HTTP client transport.
func dialTransport(ctx context.Context, cfg mcp.ServerConfig) (mcpsdk.Transport, error) {
	switch cfg.Transport {
	case mcp.TransportStdio:
		argv := strings.Fields(cfg.Command)
		if len(argv) == 0 {
			return nil, fmt.Errorf("mcphost: server %q: stdio transport needs a command", cfg.Name)
		}
		cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
		if len(cfg.Env) > 0 {
			cmd.Env = os.Environ()
			for _, k := range slices.Sorted(maps.Keys(cfg.Env)) {
				cmd.Env = append(cmd.Env, k+"="+cfg.Env[k])
			}
		}
		return &mcpsdk.CommandTransport{Command: cmd}, nil
	case mcp.TransportStreamableHTTP:
		if cfg.URL == "" {
			return nil, fmt.Errorf("mcphost: server %q: streamable-http transport needs a url", cfg.Name)
		}
		return &mcpsdk.StreamableClientTransport{Endpoint: cfg.URL}, nil
	default:
		return nil, fmt.Errorf("mcphost: server %q: unknown transport %q", cfg.Name, cfg.Transport)
	}
}

// RegisterServer connects to cfg and imports its tool list. Registering a
// name again replaces the earlier connection and its tools. A tool whose
// name another server already exports is skipped with a warning.
func (h *Host) RegisterServer(ctx context.Context, cfg mcp.ServerConfig) error {
	if cfg.Name == "" {
		return errors.New("mcphost: server name must not be empty")
	}
	if !cfg.Transport.IsValid() {
		return fmt.Errorf("mcphost: server %q: unknown transport %q", cfg.Name, cfg.Transport)
	}

	transport, err := h.dial(ctx, cfg)
	if err != nil {
		return err
	}
	session, err := h.client.Connect(ctx, transport, nil)
	if err != nil {
		return fmt.Errorf("mcphost: connect %q: %w", cfg.Name, err)
	}
	var listed []*mcpsdk.Tool
	for tool, err := range session.Tools(ctx, nil) {
		if err != nil {
			_ = session.Close()
			return fmt.Errorf("mcphost: list tools of %q: %w", cfg.Name, err)
		}
		listed = append(listed, tool)
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	h.dropLocked(cfg.Name)
	srv := &server{session: session}
	for _, t := range listed {
		if other, taken := h.owner[t.Name]; taken {
			slog.Warn("mcphost: duplicate tool name, keeping the first", "tool", t.Name, "server", cfg.Name, "owner", other)
			continue
		}
		h.tools[t.Name] = types.ToolDefinition{
			Name:        t.Name,
			Description: t.Description,
			Parameters:  inputSchema(t.InputSchema),
		}
		h.owner[t.Name] = cfg.Name
		srv.owns = append(srv.owns, t.Name)
	}
	h.servers[cfg.Name] = srv

	slog.Info("mcphost: server connected", "server", cfg.Name, "tools", len(srv.owns))
	return nil
}

// dropLocked closes the named server and forgets its tools. h.mu must be
// held for writing.
func (h *Host) dropLocked(name string) error {
	srv, ok := h.servers[name]
	if !ok {
		return nil
	}
	for _, tool := range srv.owns {
		delete(h.tools, tool)
		delete(h.owner, tool)
	}
	delete(h.servers, name)
	return srv.session.Close()
}

// inputSchema returns the tool's JSON schema as a map. Anything that does
// not round-trip to a JSON object becomes an empty object schema.
func inputSchema(schema any) map[string]any {
	if m, ok := schema.(map[string]any); ok {
		return m
	}
	out := map[string]any{}
	if schema != nil {
		if raw, err := json.Marshal(schema); err == nil {
			_ = json.Unmarshal(raw, &out)
		}
	}
	if len(out) == 0 {
		out["type"] = "object"
	}
	return out
}

// Tools returns the registered tools sorted by name.
func (h *Host) Tools() []types.ToolDefinition {
	h.mu.RLock()
	defer h.mu.RUnlock()
	defs := make([]types.ToolDefinition, 0, len(h.tools))
	for _, name := range slices.Sorted(maps.Keys(h.tools)) {
		defs = append(defs, h.tools[name])
	}
	return defs
}

// ExecuteTool calls the named tool. Malformed args and tool-reported
// failures come back as a result with IsError set; the error return is for
// unknown tools and transport failures.
//
// Text content is concatenated. Other content kinds are replaced by a short
// placeholder, since the model receives tool output as text.
func (h *Host) ExecuteTool(ctx context.Context, name, args string) (*mcp.ToolResult, error) {
	h.mu.RLock()
	var session *mcpsdk.ClientSession
	if srv, ok := h.servers[h.owner[name]]; ok {
		session = srv.session
	}
	h.mu.RUnlock()
	if session == nil {
		return nil, fmt.Errorf("mcphost: unknown tool %q", name)
	}

	var arguments map[string]any
	if strings.TrimSpace(args) != "" {
		if err := json.Unmarshal([]byte(args), &arguments); err != nil {
			return &mcp.ToolResult{Content: "invalid arguments: " + err.Error(), IsError: true}, nil
		}
	}

	ctx, cancel := context.WithTimeout(ctx, h.callTimeout)
	defer cancel()

	start := time.Now()
	res, err := session.CallTool(ctx, &mcpsdk.CallToolParams{Name: name, Arguments: arguments})
	if err != nil {
		return nil, fmt.Errorf("mcphost: call %q: %w", name, err)
	}

	var sb strings.Builder
	for _, c := range res.Content {
		switch c := c.(type) {
		case *mcpsdk.TextContent:
			sb.WriteString(c.Text)
		case *mcpsdk.ImageContent:
			fmt.Fprintf(&sb, "[%s image omitted]", c.MIMEType)
		default:
			fmt.Fprintf(&sb, "[%T omitted]", c)
		}
	}
	return &mcp.ToolResult{
		Content:    sb.String(),
		IsError:    res.IsError,
		DurationMs: time.Since(start).Milliseconds(),
	}, nil
}

// Close disconnects every server. The Host is empty afterwards.
func (h *Host) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	var errs []error
	for _, name := range slices.Sorted(maps.Keys(h.servers)) {
		if err := h.dropLocked(name); err != nil {
			errs = append(errs, fmt.Errorf("mcphost: close %q: %w", name, err))
		}
	}
	return errors.Join(errs...)
}
