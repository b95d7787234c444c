package anyllm

import (
	"slices"
	"strings"
	"testing"

	anyllmlib "github.com/mozilla-ai/any-llm-go"

	"github.com/MrWong99/lookout/pkg/provider/llm"
	"github.com/MrWong99/lookout/pkg/types"
)

func TestNew(t *testing.T) {
	tests := []struct {
		name    string
		backend string
		model   string
		opts    []anyllmlib.Option
		wantErr string
	}{
		{"empty model", "ollama", "", nil, "model must not be empty"},
		{"unknown backend", "fakecloud", "m", nil, "unsupported backend"},
		{"ollama without key", "ollama", "llama3.2", nil, ""},
		{"anthropic with key", "anthropic", "claude-3-5-haiku-latest", []anyllmlib.Option{anyllmlib.WithAPIKey("sk-ant-test")}, ""},
		{"backend name is case insensitive", "Ollama", "llama3.2", nil, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, err := New(tt.backend, tt.model, tt.opts...)
			if tt.wantErr != "" {
				if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
					t.Fatalf("New() error = %v, want %q", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("New() error: %v", err)
			}
			if p.model != tt.model || p.name != strings.ToLower(tt.backend) {
				t.Errorf("provider = %q/%q", p.name, p.model)
			}
		})
	}
}

func TestNew_MissingAPIKey(t *testing.T) {
	t.Setenv("ANTHROPIC_API_KEY", "")
	if _, err := New("anthropic", "claude-3-5-haiku-latest"); err == nil {
		t.Fatal("expected error without API key")
	}
}

func TestBackends(t *testing.T) {
	t.Parallel()

	got := Backends()
	if !slices.IsSorted(got) {
		t.Errorf("Backends() not sorted: %v", got)
	}
	for _, want := range []string{"anthropic", "gemini", "ollama", "llamacpp"} {
		if !slices.Contains(got, want) {
			t.Errorf("Backends() missing %q", want)
		}
	}
}

func TestConvertMessage(t *testing.T) {
	t.Parallel()

	frame := types.ImagePart(types.Image{Data: []byte{0xff, 0xd8}, MIMEType: "image/jpeg"})
	tests := []struct {
		name        string
		in          types.Message
		wantContent string
		wantCalls   int
	}{
		{
			name:        "turn with frame keeps only text",
			in:          types.Message{Role: "user", Content: "what is ahead?", Parts: []types.Part{frame}},
			wantContent: "what is ahead?",
		},
		{
			name:        "text parts are folded",
			in:          types.Message{Role: "user", Content: "look", Parts: []types.Part{frame, types.TextPart("at this")}},
			wantContent: "look\nat this",
		},
		{
			name:        "parts only",
			in:          types.Message{Role: "user", Parts: []types.Part{types.TextPart("hello")}},
			wantContent: "hello",
		},
		{
			name: "assistant tool call",
			in: types.Message{Role: "assistant", ToolCalls: []types.ToolCall{
				{ID: "call_1", Name: "describe_scene", Arguments: "{}"},
			}},
			wantCalls: 1,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got := convertMessage(tt.in)
			if got.Role != tt.in.Role {
				t.Errorf("Role = %q, want %q", got.Role, tt.in.Role)
			}
			if got.ContentString() != tt.wantContent {
				t.Errorf("content = %q, want %q", got.ContentString(), tt.wantContent)
			}
			if len(got.ToolCalls) != tt.wantCalls {
				t.Fatalf("tool calls = %d, want %d", len(got.ToolCalls), tt.wantCalls)
			}
			if tt.wantCalls > 0 {
				tc := got.ToolCalls[0]
				if tc.Type != "function" || tc.Function.Name != "describe_scene" || tc.Function.Arguments != "{}" {
					t.Errorf("tool call = %+v", tc)
				}
			}
		})
	}
}

func TestConvertMessage_ToolResult(t *testing.T) {
	t.Parallel()

	got := convertMessage(types.Message{Role: "tool", Content: `{"answer":"left"}`, ToolCallID: "call_1", Name: "alice"})
	if got.ToolCallID != "call_1" || got.Name != "alice" || got.ContentString() != `{"answer":"left"}` {
		t.Errorf("convertMessage = %+v", got)
	}
}

func TestBuildParams(t *testing.T) {
	t.Parallel()

	p := &Provider{name: "ollama", model: "llama3.2"}
	params := p.buildParams(llm.CompletionRequest{
		SystemPrompt: "Be brief.",
		Messages:     []types.Message{{Role: "user", Content: "hi"}},
		Tools:        []types.ToolDefinition{{Name: "describe_scene", Description: "d"}},
		Temperature:  0.2,
	})
	if params.Model != "llama3.2" {
		t.Errorf("Model = %q", params.Model)
	}
	if len(params.Messages) != 2 || params.Messages[0].Role != anyllmlib.RoleSystem {
		t.Fatalf("Messages = %+v", params.Messages)
	}
	if len(params.Tools) != 1 || params.Tools[0].Function.Name != "describe_scene" {
		t.Errorf("Tools = %+v", params.Tools)
	}
	if params.Temperature == nil || *params.Temperature != 0.2 {
		t.Errorf("Temperature = %v", params.Temperature)
	}
	if params.MaxTokens != nil {
		t.Errorf("MaxTokens = %v, want unset", *params.MaxTokens)
	}
}

func TestCountTokens_IgnoresImages(t *testing.T) {
	t.Parallel()

	p := &Provider{model: "llama3.2"}
	plain := []types.Message{{Role: "user", Content: "where is the exit?"}}
	withFrame := []types.Message{{
		Role:    "user",
		Content: "where is the exit?",
		Parts:   []types.Part{types.ImagePart(types.Image{Data: make([]byte, 1024)})},
	}}

	a, _ := p.CountTokens(plain)
	b, _ := p.CountTokens(withFrame)
	if a != b {
		t.Errorf("CountTokens with frame = %d, want %d", b, a)
	}
	if a != llm.EstimateTokens(plain) {
		t.Errorf("CountTokens = %d, want EstimateTokens %d", a, llm.EstimateTokens(plain))
	}
	if !withFrame[0].HasImage() {
		t.Error("CountTokens modified the caller's message")
	}
}

func TestCapabilities(t *testing.T) {
	t.Parallel()

	tests := []struct {
		model      string
		wantWindow int
		wantTools  bool
	}{
		{"claude-3-5-haiku-latest", 200_000, true},
		{"Gemini-2.0-Flash", 1_048_576, true},
		{"gemini-1.5-pro", 2_097_152, true},
		{"llama3.2", 8_192, true},
		{"something-new", 32_000, true},
	}
	for _, tt := range tests {
		caps := (&Provider{model: tt.model}).Capabilities()
		if caps.ContextWindow != tt.wantWindow || caps.SupportsToolCalling != tt.wantTools {
			t.Errorf("Capabilities(%q) = %+v", tt.model, caps)
		}
		if caps.SupportsVision {
			t.Errorf("Capabilities(%q).SupportsVision = true, images are dropped", tt.model)
		}
	}
}
