package agent

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/MrWong99/lookout/internal/mcp"
	mcpmock "github.com/MrWong99/lookout/internal/mcp/mock"
	"github.com/MrWong99/lookout/internal/mcp/tools"
	"github.com/MrWong99/lookout/pkg/types"
)

func echoTool(name string) tools.Tool {
	return tools.Tool{
		Definition: types.ToolDefinition{Name: name},
		Handler: func(_ context.Context, args string) (string, error) {
			return "builtin:" + args, nil
		},
	}
}

func TestToolRouter_BuiltinShadowsHost(t *testing.T) {
	t.Parallel()

	host := &mcpmock.Host{
		ToolsResult:       []types.ToolDefinition{{Name: "echo"}, {Name: "remote"}},
		ExecuteToolResult: &mcp.ToolResult{Content: "from host"},
	}
	r := newToolRouter([]tools.Tool{echoTool("echo")}, host)

	defs := r.Definitions()
	if len(defs) != 2 || defs[0].Name != "echo" || defs[1].Name != "remote" {
		t.Fatalf("Definitions = %+v", defs)
	}

	res := r.Execute(context.Background(), "echo", `{"a":1}`)
	if res.IsError || res.Content != `builtin:{"a":1}` {
		t.Errorf("echo result = %+v", res)
	}
	res = r.Execute(context.Background(), "remote", "{}")
	if res.IsError || res.Content != "from host" {
		t.Errorf("remote result = %+v", res)
	}
	if n := host.CallCount("ExecuteTool"); n != 1 {
		t.Errorf("host ExecuteTool calls = %d, want 1", n)
	}
}

func TestToolRouter_Errors(t *testing.T) {
	t.Parallel()

	failing := tools.Tool{
		Definition: types.ToolDefinition{Name: "broken"},
		Handler: func(context.Context, string) (string, error) {
			return "", errors.New("vision tool: boom")
		},
	}

	tests := []struct {
		name   string
		router *toolRouter
		tool   string
		want   string
	}{
		{
			name:   "builtin error",
			router: newToolRouter([]tools.Tool{failing}, nil),
			tool:   "broken",
			want:   "boom",
		},
		{
			name:   "unknown without host",
			router: newToolRouter(nil, nil),
			tool:   "nope",
			want:   "unknown tool",
		},
		{
			name:   "host failure",
			router: newToolRouter(nil, &mcpmock.Host{ExecuteToolErr: errors.New("mcp: tool \"nope\" not found")}),
			tool:   "nope",
			want:   "not found",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			res := tt.router.Execute(context.Background(), tt.tool, "{}")
			if !res.IsError || !strings.Contains(res.Content, tt.want) {
				t.Errorf("result = %+v, want error containing %q", res, tt.want)
			}
		})
	}
}

func TestToolRouter_MaxDurationBoundsCall(t *testing.T) {
	t.Parallel()

	slow := tools.Tool{
		Definition: types.ToolDefinition{Name: "slow", MaxDurationMs: 20},
		Handler: func(ctx context.Context, _ string) (string, error) {
			<-ctx.Done()
			return "", ctx.Err()
		},
	}
	r := newToolRouter([]tools.Tool{slow}, nil)

	res := r.Execute(context.Background(), "slow", "{}")
	if !res.IsError || !strings.Contains(res.Content, context.DeadlineExceeded.Error()) {
		t.Errorf("result = %+v, want deadline exceeded", res)
	}
}
