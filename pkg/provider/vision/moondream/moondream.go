// Package moondream provides a vision provider backed by the Moondream cloud
// API (https://moondream.ai).
//
// Images are sent inline as base64 data URLs to the /caption and /query
// endpoints. Example usage:
//
//	p, err := moondream.New(os.Getenv("MOONDREAM_API_KEY"))
//	if err != nil {
//	    log.Fatal(err)
//	}
//	caption, err := p.Caption(ctx, img, vision.CaptionShort)
package moondream

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/MrWong99/lookout/pkg/provider/vision"
	"github.com/MrWong99/lookout/pkg/types"
)

// DefaultBaseURL is the Moondream cloud API root.
const DefaultBaseURL = "https://api.moondream.ai/v1"

const (
	providerName = "moondream"

	// maxErrorBody bounds how much of an error response is kept for the
	// error message.
	maxErrorBody = 512
)

var _ vision.Provider = (*Provider)(nil)

// Provider implements vision.Provider against the Moondream REST API.
// It is safe for concurrent use.
type Provider struct {
	apiKey     string
	baseURL    string
	httpClient *http.Client
}

type config struct {
	baseURL    string
	timeout    time.Duration
	httpClient *http.Client
}

// Option is a functional option for Provider.
type Option func(*config)

// WithBaseURL overrides DefaultBaseURL. A trailing slash is stripped.
func WithBaseURL(url string) Option {
	return func(c *config) {
		c.baseURL = url
	}
}

// WithTimeout sets a per-request HTTP timeout. Ignored when WithHTTPClient is
// also given.
func WithTimeout(d time.Duration) Option {
	return func(c *config) {
		c.timeout = d
	}
}

// WithHTTPClient replaces the HTTP client used for requests.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *config) {
		c.httpClient = hc
	}
}

// New constructs a Moondream Provider. apiKey must not be empty.
func New(apiKey string, opts ...Option) (*Provider, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("moondream: apiKey must not be empty")
	}
	cfg := &config{baseURL: DefaultBaseURL}
	for _, o := range opts {
		o(cfg)
	}
	if cfg.baseURL == "" {
		cfg.baseURL = DefaultBaseURL
	}

	hc := cfg.httpClient
	if hc == nil {
		hc = &http.Client{Timeout: cfg.timeout}
	}
	return &Provider{
		apiKey:     apiKey,
		baseURL:    strings.TrimRight(cfg.baseURL, "/"),
		httpClient: hc,
	}, nil
}

type captionRequest struct {
	ImageURL string `json:"image_url"`
	Length   string `json:"length"`
	Stream   bool   `json:"stream"`
}

type captionResponse struct {
	Caption string `json:"caption"`
}

type queryRequest struct {
	ImageURL string `json:"image_url"`
	Question string `json:"question"`
	Stream   bool   `json:"stream"`
}

type queryResponse struct {
	Answer string `json:"answer"`
}

// Caption implements vision.Provider.
func (p *Provider) Caption(ctx context.Context, img types.Image, length vision.CaptionLength) (string, error) {
	if length == "" {
		length = vision.CaptionShort
	}
	var out captionResponse
	req := captionRequest{ImageURL: dataURL(img), Length: string(length)}
	if err := p.post(ctx, "caption", req, &out); err != nil {
		return "", err
	}
	if out.Caption == "" {
		return "", &vision.Error{Provider: providerName, Op: "caption", StatusCode: http.StatusOK, Kind: vision.ErrBadResponse, Err: errors.New("empty caption")}
	}
	return out.Caption, nil
}

// Query implements vision.Provider.
func (p *Provider) Query(ctx context.Context, img types.Image, question string) (string, error) {
	var out queryResponse
	req := queryRequest{ImageURL: dataURL(img), Question: question}
	if err := p.post(ctx, "query", req, &out); err != nil {
		return "", err
	}
	if out.Answer == "" {
		return "", &vision.Error{Provider: providerName, Op: "query", StatusCode: http.StatusOK, Kind: vision.ErrBadResponse, Err: errors.New("empty answer")}
	}
	return out.Answer, nil
}

// Name implements vision.Provider.
func (p *Provider) Name() string { return providerName }

// post sends body as JSON to the op endpoint and decodes the response into out.
// All failures are classified with vision.Classify.
func (p *Provider) post(ctx context.Context, op string, body, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("moondream: %s: marshal request: %w", op, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/"+op, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("moondream: %s: build request: %w", op, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Moondream-Auth", p.apiKey)

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return vision.Classify(providerName, op, 0, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return vision.Classify(providerName, op, resp.StatusCode, errors.New(strings.TrimSpace(string(msg))))
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return vision.Classify(providerName, op, resp.StatusCode, fmt.Errorf("decode response: %w", err))
	}
	return nil
}

func dataURL(img types.Image) string {
	mime := img.MIMEType
	if mime == "" {
		mime = "image/jpeg"
	}
	return "data:" + mime + ";base64," + base64.StdEncoding.EncodeToString(img.Data)
}
