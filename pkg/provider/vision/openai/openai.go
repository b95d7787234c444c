// Package openai provides a vision provider backed by an OpenAI chat
// completions model with image input (gpt-4o-mini by default).
//
// The image is sent as an image_url content part carrying a base64 data URL.
// Requests are never retried by the client: a failed call surfaces to the tool
// layer immediately.
package openai

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	oai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/packages/param"
	"github.com/openai/openai-go/shared"

	llmopenai "github.com/MrWong99/lookout/pkg/provider/llm/openai"
	"github.com/MrWong99/lookout/pkg/provider/vision"
	"github.com/MrWong99/lookout/pkg/types"
)

// DefaultModel is used when no model is configured.
const DefaultModel = "gpt-4o-mini"

const providerName = "openai"

var _ vision.Provider = (*Provider)(nil)

// Provider implements vision.Provider using the OpenAI API.
type Provider struct {
	client    oai.Client
	model     string
	detail    string
	maxTokens int64
}

type config struct {
	baseURL   string
	model     string
	timeout   time.Duration
	detail    string
	maxTokens int64
}

// Option is a functional option for Provider.
type Option func(*config)

// WithBaseURL overrides the default OpenAI API base URL.
func WithBaseURL(url string) Option {
	return func(c *config) {
		c.baseURL = url
	}
}

// WithModel sets the chat model. It must accept image input.
func WithModel(model string) Option {
	return func(c *config) {
		c.model = model
	}
}

// WithTimeout sets a per-request HTTP timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *config) {
		c.timeout = d
	}
}

// WithDetail sets the image detail level ("low", "high", "auto"). Default "auto".
func WithDetail(detail string) Option {
	return func(c *config) {
		c.detail = detail
	}
}

// WithMaxTokens caps the answer length. Default 300.
func WithMaxTokens(n int) Option {
	return func(c *config) {
		c.maxTokens = int64(n)
	}
}

// New constructs an OpenAI vision Provider.
func New(apiKey string, opts ...Option) (*Provider, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("openai vision: apiKey must not be empty")
	}
	cfg := &config{model: DefaultModel, detail: "auto", maxTokens: 300}
	for _, o := range opts {
		o(cfg)
	}
	if cfg.model == "" {
		cfg.model = DefaultModel
	}

	reqOpts := []option.RequestOption{
		option.WithAPIKey(apiKey),
		option.WithMaxRetries(0),
	}
	if cfg.baseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(cfg.baseURL))
	}
	if cfg.timeout > 0 {
		reqOpts = append(reqOpts, option.WithHTTPClient(&http.Client{Timeout: cfg.timeout}))
	}

	return &Provider{
		client:    oai.NewClient(reqOpts...),
		model:     cfg.model,
		detail:    cfg.detail,
		maxTokens: cfg.maxTokens,
	}, nil
}

// Caption implements vision.Provider.
func (p *Provider) Caption(ctx context.Context, img types.Image, length vision.CaptionLength) (string, error) {
	prompt := "Describe this image in one short sentence."
	if length == vision.CaptionNormal {
		prompt = "Describe this image in a short paragraph."
	}
	return p.ask(ctx, "caption", img, prompt)
}

// Query implements vision.Provider.
func (p *Provider) Query(ctx context.Context, img types.Image, question string) (string, error) {
	return p.ask(ctx, "query", img, question)
}

// Name implements vision.Provider.
func (p *Provider) Name() string { return providerName }

func (p *Provider) ask(ctx context.Context, op string, img types.Image, prompt string) (string, error) {
	params := oai.ChatCompletionNewParams{
		Model: shared.ChatModel(p.model),
		Messages: []oai.ChatCompletionMessageParamUnion{
			oai.UserMessage([]oai.ChatCompletionContentPartUnionParam{
				oai.TextContentPart(prompt),
				oai.ImageContentPart(oai.ChatCompletionContentPartImageImageURLParam{
					URL:    llmopenai.DataURL(img),
					Detail: p.detail,
				}),
			}),
		},
	}
	if p.maxTokens > 0 {
		params.MaxCompletionTokens = param.NewOpt(p.maxTokens)
	}

	resp, err := p.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return "", vision.Classify(providerName, op, statusOf(err), err)
	}
	if len(resp.Choices) == 0 {
		return "", &vision.Error{Provider: providerName, Op: op, StatusCode: http.StatusOK, Kind: vision.ErrBadResponse, Err: errors.New("empty choices")}
	}
	text := strings.TrimSpace(resp.Choices[0].Message.Content)
	if text == "" {
		return "", &vision.Error{Provider: providerName, Op: op, StatusCode: http.StatusOK, Kind: vision.ErrBadResponse, Err: errors.New("empty content")}
	}
	return text, nil
}

// statusOf extracts the HTTP status from an API error, or 0.
func statusOf(err error) int {
	var apiErr *oai.Error
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode
	}
	return 0
}
