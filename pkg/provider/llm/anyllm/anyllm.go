// Package anyllm provides an llm.Provider backed by
// github.com/mozilla-ai/any-llm-go, which speaks to Anthropic, Gemini,
// Ollama, DeepSeek, Mistral, Groq, llama.cpp and llamafile through one API.
//
// The unified message type carries text only: camera frames attached to a
// turn are dropped before the request is sent. Pick the openai provider when
// the reasoning model itself should see the frame.
//
//	p, err := anyllm.New("anthropic", "claude-3-5-haiku-latest", anyllmlib.WithAPIKey(key))
package anyllm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"strings"

	anyllmlib "github.com/mozilla-ai/any-llm-go"
	"github.com/mozilla-ai/any-llm-go/providers/anthropic"
	"github.com/mozilla-ai/any-llm-go/providers/deepseek"
	"github.com/mozilla-ai/any-llm-go/providers/gemini"
	"github.com/mozilla-ai/any-llm-go/providers/groq"
	"github.com/mozilla-ai/any-llm-go/providers/llamacpp"
	"github.com/mozilla-ai/any-llm-go/providers/llamafile"
	"github.com/mozilla-ai/any-llm-go/providers/mistral"
	"github.com/mozilla-ai/any-llm-go/providers/ollama"
	anyllmoai "github.com/mozilla-ai/any-llm-go/providers/openai"

	"github.com/MrWong99/lookout/pkg/provider/llm"
	"github.com/MrWong99/lookout/pkg/types"
)

type backendFactory func(opts ...anyllmlib.Option) (anyllmlib.Provider, error)

// backends lists the any-llm backends by the name used in configuration.
var backends = map[string]backendFactory{
	"openai":    func(o ...anyllmlib.Option) (anyllmlib.Provider, error) { return anyllmoai.New(o...) },
	"anthropic": func(o ...anyllmlib.Option) (anyllmlib.Provider, error) { return anthropic.New(o...) },
	"gemini":    func(o ...anyllmlib.Option) (anyllmlib.Provider, error) { return gemini.New(o...) },
	"ollama":    func(o ...anyllmlib.Option) (anyllmlib.Provider, error) { return ollama.New(o...) },
	"deepseek":  func(o ...anyllmlib.Option) (anyllmlib.Provider, error) { return deepseek.New(o...) },
	"mistral":   func(o ...anyllmlib.Option) (anyllmlib.Provider, error) { return mistral.New(o...) },
	"groq":      func(o ...anyllmlib.Option) (anyllmlib.Provider, error) { return groq.New(o...) },
	"llamacpp":  func(o ...anyllmlib.Option) (anyllmlib.Provider, error) { return llamacpp.New(o...) },
	"llamafile": func(o ...anyllmlib.Option) (anyllmlib.Provider, error) { return llamafile.New(o...) },
}

// Backends returns the supported backend names in sorted order.
func Backends() []string {
	return slices.Sorted(maps.Keys(backends))
}

// Provider implements llm.Provider on top of an any-llm backend.
type Provider struct {
	backend anyllmlib.Provider
	name    string
	model   string
}

// New creates a Provider for the named backend (see [Backends]) and model.
// opts are passed to the backend, typically anyllmlib.WithAPIKey and
// anyllmlib.WithBaseURL. Without an API key option the backend reads its
// usual environment variable (e.g. ANTHROPIC_API_KEY).
func New(backendName, model string, opts ...anyllmlib.Option) (*Provider, error) {
	if model == "" {
		return nil, errors.New("anyllm: model must not be empty")
	}
	name := strings.ToLower(backendName)
	factory, ok := backends[name]
	if !ok {
		return nil, fmt.Errorf("anyllm: unsupported backend %q; supported: %s", backendName, strings.Join(Backends(), ", "))
	}
	backend, err := factory(opts...)
	if err != nil {
		return nil, fmt.Errorf("anyllm: create %q backend: %w", name, err)
	}
	return &Provider{backend: backend, name: name, model: model}, nil
}

// Complete implements llm.Provider.
func (p *Provider) Complete(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	resp, err := p.backend.Completion(ctx, p.buildParams(req))
	if err != nil {
		return nil, fmt.Errorf("anyllm: %s completion: %w", p.name, err)
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("anyllm: %s returned no choices", p.name)
	}

	msg := resp.Choices[0].Message
	out := &llm.CompletionResponse{Content: msg.ContentString()}
	if u := resp.Usage; u != nil {
		out.Usage = llm.Usage{
			PromptTokens:     u.PromptTokens,
			CompletionTokens: u.CompletionTokens,
			TotalTokens:      u.TotalTokens,
		}
	}
	for _, tc := range msg.ToolCalls {
		out.ToolCalls = append(out.ToolCalls, types.ToolCall{
			ID:        tc.ID,
			Name:      tc.Function.Name,
			Arguments: tc.Function.Arguments,
		})
	}
	return out, nil
}

// CountTokens implements llm.Provider using [llm.EstimateTokens]. Image parts
// are not counted since they never reach the backend.
func (p *Provider) CountTokens(messages []types.Message) (int, error) {
	text := make([]types.Message, len(messages))
	for i, m := range messages {
		text[i] = m
		text[i].Parts = slices.DeleteFunc(slices.Clone(m.Parts), func(part types.Part) bool {
			return part.Type == types.PartImage
		})
	}
	return llm.EstimateTokens(text), nil
}

// Capabilities implements llm.Provider. SupportsVision is always false since
// image parts are dropped.
func (p *Provider) Capabilities() types.ModelCapabilities {
	caps := lookupModel(p.model)
	caps.SupportsVision = false
	return caps
}

func (p *Provider) buildParams(req llm.CompletionRequest) anyllmlib.CompletionParams {
	params := anyllmlib.CompletionParams{Model: p.model}

	if req.SystemPrompt != "" {
		params.Messages = append(params.Messages, anyllmlib.Message{
			Role:    anyllmlib.RoleSystem,
			Content: req.SystemPrompt,
		})
	}
	for _, m := range req.Messages {
		params.Messages = append(params.Messages, convertMessage(m))
	}

	if req.Temperature != 0 {
		t := req.Temperature
		params.Temperature = &t
	}
	if req.MaxTokens > 0 {
		mt := req.MaxTokens
		params.MaxTokens = &mt
	}
	for _, td := range req.Tools {
		params.Tools = append(params.Tools, anyllmlib.Tool{
			Type: "function",
			Function: anyllmlib.Function{
				Name:        td.Name,
				Description: td.Description,
				Parameters:  td.Parameters,
			},
		})
	}
	return params
}

// convertMessage folds text parts into the content string and drops images.
func convertMessage(m types.Message) anyllmlib.Message {
	var sb strings.Builder
	sb.WriteString(m.Content)
	images := 0
	for _, part := range m.Parts {
		switch {
		case part.Type == types.PartImage:
			images++
		case part.Text != "":
			if sb.Len() > 0 {
				sb.WriteByte('\n')
			}
			sb.WriteString(part.Text)
		}
	}
	if images > 0 {
		slog.Debug("anyllm: dropping image parts", "role", m.Role, "images", images)
	}

	out := anyllmlib.Message{
		Role:       m.Role,
		Content:    sb.String(),
		Name:       m.Name,
		ToolCallID: m.ToolCallID,
	}
	for _, tc := range m.ToolCalls {
		out.ToolCalls = append(out.ToolCalls, anyllmlib.ToolCall{
			ID:   tc.ID,
			Type: "function",
			Function: anyllmlib.FunctionCall{
				Name:      tc.Name,
				Arguments: tc.Arguments,
			},
		})
	}
	return out
}

// modelFamily maps a model name prefix to what the family supports.
type modelFamily struct {
	prefix string
	caps   types.ModelCapabilities
}

// families is matched in order; more specific prefixes come first.
var families = []modelFamily{
	{"claude", types.ModelCapabilities{ContextWindow: 200_000, SupportsToolCalling: true, SupportsVision: true}},
	{"gemini-1.5-pro", types.ModelCapabilities{ContextWindow: 2_097_152, SupportsToolCalling: true, SupportsVision: true}},
	{"gemini", types.ModelCapabilities{ContextWindow: 1_048_576, SupportsToolCalling: true, SupportsVision: true}},
	{"gpt-4o", types.ModelCapabilities{ContextWindow: 128_000, SupportsToolCalling: true, SupportsVision: true}},
	{"deepseek", types.ModelCapabilities{ContextWindow: 64_000, SupportsToolCalling: true}},
	{"mistral", types.ModelCapabilities{ContextWindow: 32_000, SupportsToolCalling: true}},
	{"llama", types.ModelCapabilities{ContextWindow: 8_192, SupportsToolCalling: true}},
}

// lookupModel returns the capabilities of the first matching family. Unknown
// models are assumed to call tools with a modest context window.
func lookupModel(model string) types.ModelCapabilities {
	lower := strings.ToLower(model)
	for _, f := range families {
		if strings.HasPrefix(lower, f.prefix) {
			return f.caps
		}
	}
	return types.ModelCapabilities{ContextWindow: 32_000, SupportsToolCalling: true}
}
