// Package openai provides an LLM provider backed by the OpenAI chat
// completions API, or any server speaking the same protocol.
//
// User messages that carry image parts are sent as multi-part content with
// the image inlined as a base64 data URL, so the model sees the camera frame
// next to the turn text.
package openai

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	oai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/packages/param"
	"github.com/openai/openai-go/shared"

	"github.com/MrWong99/lookout/pkg/provider/llm"
	"github.com/MrWong99/lookout/pkg/types"
)

// DefaultImageDetail is the detail level requested for camera frames.
const DefaultImageDetail = "low"

// Provider implements llm.Provider using the OpenAI API.
type Provider struct {
	client      oai.Client
	model       string
	caps        types.ModelCapabilities
	imageDetail string
}

type config struct {
	baseURL      string
	organization string
	timeout      time.Duration
	imageDetail  string
}

// Option is a functional option for Provider.
type Option func(*config)

// WithBaseURL points the client at an OpenAI-compatible server.
func WithBaseURL(url string) Option {
	return func(c *config) { c.baseURL = url }
}

// WithOrganization sets the OpenAI organization ID on all requests.
func WithOrganization(org string) Option {
	return func(c *config) { c.organization = org }
}

// WithTimeout sets a per-request HTTP timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *config) { c.timeout = d }
}

// WithImageDetail sets the detail level requested for image parts: "low",
// "high" or "auto". Defaults to [DefaultImageDetail], which keeps per-turn
// latency and cost small for camera snapshots.
func WithImageDetail(detail string) Option {
	return func(c *config) { c.imageDetail = detail }
}

// New constructs a new OpenAI LLM Provider.
func New(apiKey, model string, opts ...Option) (*Provider, error) {
	if apiKey == "" {
		return nil, errors.New("openai: apiKey must not be empty")
	}
	if model == "" {
		return nil, errors.New("openai: model must not be empty")
	}

	cfg := &config{imageDetail: DefaultImageDetail}
	for _, o := range opts {
		o(cfg)
	}

	reqOpts := []option.RequestOption{option.WithAPIKey(apiKey)}
	if cfg.baseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(cfg.baseURL))
	}
	if cfg.organization != "" {
		reqOpts = append(reqOpts, option.WithOrganization(cfg.organization))
	}
	if cfg.timeout > 0 {
		reqOpts = append(reqOpts, option.WithHTTPClient(&http.Client{Timeout: cfg.timeout}))
	}

	return &Provider{
		client:      oai.NewClient(reqOpts...),
		model:       model,
		caps:        lookupModel(model),
		imageDetail: cfg.imageDetail,
	}, nil
}

// Complete implements llm.Provider.
func (p *Provider) Complete(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	params, err := p.buildParams(req)
	if err != nil {
		return nil, fmt.Errorf("openai: build params: %w", err)
	}

	resp, err := p.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("openai: chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, errors.New("openai: empty choices in response")
	}

	msg := resp.Choices[0].Message
	out := &llm.CompletionResponse{
		Content: msg.Content,
		Usage: llm.Usage{
			PromptTokens:     int(resp.Usage.PromptTokens),
			CompletionTokens: int(resp.Usage.CompletionTokens),
			TotalTokens:      int(resp.Usage.TotalTokens),
		},
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

// CountTokens implements llm.Provider with a character-based estimate.
func (p *Provider) CountTokens(messages []types.Message) (int, error) {
	return llm.EstimateTokens(messages), nil
}

// Capabilities implements llm.Provider.
func (p *Provider) Capabilities() types.ModelCapabilities { return p.caps }

// modelFamily maps a model name prefix to what the family supports.
type modelFamily struct {
	prefix string
	caps   types.ModelCapabilities
}

// families is matched in order, so "gpt-4o" precedes "gpt-4".
var families = []modelFamily{
	{"gpt-5", types.ModelCapabilities{ContextWindow: 400_000, SupportsToolCalling: true, SupportsVision: true}},
	{"gpt-4.1", types.ModelCapabilities{ContextWindow: 1_047_576, SupportsToolCalling: true, SupportsVision: true}},
	{"gpt-4o", types.ModelCapabilities{ContextWindow: 128_000, SupportsToolCalling: true, SupportsVision: true}},
	{"gpt-4-turbo", types.ModelCapabilities{ContextWindow: 128_000, SupportsToolCalling: true, SupportsVision: true}},
	{"gpt-4", types.ModelCapabilities{ContextWindow: 8_192, SupportsToolCalling: true}},
	{"gpt-3.5-turbo", types.ModelCapabilities{ContextWindow: 16_385, SupportsToolCalling: true}},
	{"o1-mini", types.ModelCapabilities{ContextWindow: 128_000}},
	{"o3-mini", types.ModelCapabilities{ContextWindow: 200_000, SupportsToolCalling: true}},
	{"o1", types.ModelCapabilities{ContextWindow: 200_000, SupportsToolCalling: true, SupportsVision: true}},
	{"o3", types.ModelCapabilities{ContextWindow: 200_000, SupportsToolCalling: true, SupportsVision: true}},
	{"o4", types.ModelCapabilities{ContextWindow: 200_000, SupportsToolCalling: true, SupportsVision: true}},
}

// lookupModel returns the capabilities for model. Unknown models, typically
// served by a compatible local server, are assumed to accept images and
// tools; a server that rejects them fails the request visibly.
func lookupModel(model string) types.ModelCapabilities {
	lower := strings.ToLower(model)
	for _, f := range families {
		if strings.HasPrefix(lower, f.prefix) {
			return f.caps
		}
	}
	return types.ModelCapabilities{ContextWindow: 128_000, SupportsToolCalling: true, SupportsVision: true}
}

func (p *Provider) buildParams(req llm.CompletionRequest) (oai.ChatCompletionNewParams, error) {
	params := oai.ChatCompletionNewParams{Model: shared.ChatModel(p.model)}

	if req.SystemPrompt != "" {
		params.Messages = append(params.Messages, oai.SystemMessage(req.SystemPrompt))
	}
	for _, m := range req.Messages {
		msg, err := p.convertMessage(m)
		if err != nil {
			return oai.ChatCompletionNewParams{}, err
		}
		params.Messages = append(params.Messages, msg)
	}

	if req.Temperature != 0 {
		params.Temperature = param.NewOpt(req.Temperature)
	}
	if req.MaxTokens > 0 {
		params.MaxCompletionTokens = param.NewOpt(int64(req.MaxTokens))
	}
	for _, td := range req.Tools {
		params.Tools = append(params.Tools, oai.ChatCompletionToolParam{
			Function: shared.FunctionDefinitionParam{
				Name:        td.Name,
				Description: param.NewOpt(td.Description),
				Parameters:  shared.FunctionParameters(td.Parameters),
			},
		})
	}
	return params, nil
}

func (p *Provider) convertMessage(m types.Message) (oai.ChatCompletionMessageParamUnion, error) {
	switch m.Role {
	case "system":
		return oai.SystemMessage(m.Content), nil

	case "user":
		if len(m.Parts) == 0 {
			return oai.UserMessage(m.Content), nil
		}
		return oai.UserMessage(p.userParts(m)), nil

	case "assistant":
		asst := oai.ChatCompletionAssistantMessageParam{}
		if m.Content != "" {
			asst.Content.OfString = oai.String(m.Content)
		}
		for _, tc := range m.ToolCalls {
			asst.ToolCalls = append(asst.ToolCalls, oai.ChatCompletionMessageToolCallParam{
				ID: tc.ID,
				Function: oai.ChatCompletionMessageToolCallFunctionParam{
					Name:      tc.Name,
					Arguments: tc.Arguments,
				},
			})
		}
		return oai.ChatCompletionMessageParamUnion{OfAssistant: &asst}, nil

	case "tool":
		return oai.ToolMessage(m.Content, m.ToolCallID), nil

	default:
		return oai.ChatCompletionMessageParamUnion{}, fmt.Errorf("openai: unknown message role %q", m.Role)
	}
}

// userParts builds the multi-part content of a user message: Content first,
// then Parts in order. Image parts are dropped for models without vision.
func (p *Provider) userParts(m types.Message) []oai.ChatCompletionContentPartUnionParam {
	parts := make([]oai.ChatCompletionContentPartUnionParam, 0, len(m.Parts)+1)
	if m.Content != "" {
		parts = append(parts, oai.TextContentPart(m.Content))
	}
	for _, part := range m.Parts {
		switch part.Type {
		case types.PartText:
			parts = append(parts, oai.TextContentPart(part.Text))
		case types.PartImage:
			if part.Image == nil || len(part.Image.Data) == 0 {
				continue
			}
			if !p.caps.SupportsVision {
				slog.Debug("openai: model lacks vision support, dropping image part", "model", p.model)
				continue
			}
			parts = append(parts, oai.ImageContentPart(oai.ChatCompletionContentPartImageImageURLParam{
				URL:    DataURL(*part.Image),
				Detail: p.imageDetail,
			}))
		}
	}
	if len(parts) == 0 {
		parts = append(parts, oai.TextContentPart(""))
	}
	return parts
}

// DataURL encodes img as a base64 data URL. A missing MIME type is assumed
// to be JPEG, the usual camera snapshot encoding.
func DataURL(img types.Image) string {
	mime := img.MIMEType
	if mime == "" {
		mime = "image/jpeg"
	}
	return "data:" + mime + ";base64," + base64.StdEncoding.EncodeToString(img.Data)
}
