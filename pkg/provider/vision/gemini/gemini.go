// Package gemini provides a vision provider backed by the Gemini API through
// google.golang.org/genai.
package gemini

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"google.golang.org/genai"

	"github.com/MrWong99/lookout/pkg/provider/vision"
	"github.com/MrWong99/lookout/pkg/types"
)

// DefaultModel is used when no model is configured.
const DefaultModel = "gemini-2.0-flash"

const providerName = "gemini"

var _ vision.Provider = (*Provider)(nil)

// Provider implements vision.Provider using Gemini multimodal generation.
type Provider struct {
	client *genai.Client
	model  string
}

type config struct {
	model   string
	baseURL string
}

// Option is a functional option for Provider.
type Option func(*config)

// WithModel sets the Gemini model.
func WithModel(model string) Option {
	return func(c *config) { c.model = model }
}

// WithBaseURL overrides the API endpoint. Primarily used in tests.
func WithBaseURL(url string) Option {
	return func(c *config) { c.baseURL = url }
}

// New constructs a Gemini vision Provider.
func New(ctx context.Context, apiKey string, opts ...Option) (*Provider, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("gemini vision: apiKey must not be empty")
	}
	cfg := &config{model: DefaultModel}
	for _, o := range opts {
		o(cfg)
	}
	if cfg.model == "" {
		cfg.model = DefaultModel
	}

	cc := &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	}
	if cfg.baseURL != "" {
		cc.HTTPOptions = genai.HTTPOptions{BaseURL: cfg.baseURL}
	}
	client, err := genai.NewClient(ctx, cc)
	if err != nil {
		return nil, fmt.Errorf("gemini vision: create client: %w", err)
	}
	return &Provider{client: client, model: cfg.model}, nil
}

// Caption implements vision.Provider.
func (p *Provider) Caption(ctx context.Context, img types.Image, length vision.CaptionLength) (string, error) {
	prompt := "Describe this image in one short sentence."
	if length == vision.CaptionNormal {
		prompt = "Describe this image in a short paragraph."
	}
	return p.generate(ctx, "caption", img, prompt)
}

// Query implements vision.Provider.
func (p *Provider) Query(ctx context.Context, img types.Image, question string) (string, error) {
	return p.generate(ctx, "query", img, question)
}

// Name implements vision.Provider.
func (p *Provider) Name() string { return providerName }

func (p *Provider) generate(ctx context.Context, op string, img types.Image, prompt string) (string, error) {
	mime := img.MIMEType
	if mime == "" {
		mime = "image/jpeg"
	}
	contents := []*genai.Content{
		genai.NewContentFromParts([]*genai.Part{
			genai.NewPartFromText(prompt),
			genai.NewPartFromBytes(img.Data, mime),
		}, genai.RoleUser),
	}

	resp, err := p.client.Models.GenerateContent(ctx, p.model, contents, nil)
	if err != nil {
		return "", vision.Classify(providerName, op, statusOf(err), err)
	}
	text := strings.TrimSpace(resp.Text())
	if text == "" {
		return "", &vision.Error{Provider: providerName, Op: op, StatusCode: http.StatusOK, Kind: vision.ErrBadResponse, Err: errors.New("empty response")}
	}
	return text, nil
}

// statusOf extracts the HTTP status from a genai API error, or 0.
func statusOf(err error) int {
	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		return apiErr.Code
	}
	var apiErrPtr *genai.APIError
	if errors.As(err, &apiErrPtr) {
		return apiErrPtr.Code
	}
	return 0
}
