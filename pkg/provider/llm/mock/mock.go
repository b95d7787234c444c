// Package mock provides a scripted llm.Provider for tests.
//
//	p := &mock.Provider{CompleteResponses: []*llm.CompletionResponse{
//	    {ToolCalls: []types.ToolCall{{ID: "c1", Name: "describe_scene", Arguments: "{}"}}},
//	    {Content: "A quiet platform with two people waiting."},
//	}}
//
// Set the fields before use; the methods are safe for concurrent calls.
package mock

import (
	"context"
	"slices"
	"sync"

	"github.com/MrWong99/lookout/pkg/provider/llm"
	"github.com/MrWong99/lookout/pkg/types"
)

// CompleteCall is one recorded Complete invocation. Req.Messages is a copy
// taken at call time.
type CompleteCall struct {
	Ctx context.Context
	Req llm.CompletionRequest
}

// DefaultCapabilities is reported when ModelCapabilities is nil: a large
// window with tool calling and vision.
var DefaultCapabilities = types.ModelCapabilities{
	ContextWindow:       128_000,
	SupportsToolCalling: true,
	SupportsVision:      true,
}

// Provider implements llm.Provider from its fields.
type Provider struct {
	// CompleteResponses is consumed one entry per call. Once it is empty,
	// CompleteResponse is returned. CompleteErr overrides both.
	CompleteResponses []*llm.CompletionResponse
	CompleteResponse  *llm.CompletionResponse
	CompleteErr       error

	TokenCount     int
	CountTokensErr error

	// ModelCapabilities overrides [DefaultCapabilities] when non-nil.
	ModelCapabilities *types.ModelCapabilities

	mu        sync.Mutex
	completes []CompleteCall
	counted   [][]types.Message
}

var _ llm.Provider = (*Provider)(nil)

// Complete implements llm.Provider.
func (p *Provider) Complete(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	req.Messages = slices.Clone(req.Messages)
	p.completes = append(p.completes, CompleteCall{Ctx: ctx, Req: req})

	switch {
	case p.CompleteErr != nil:
		return nil, p.CompleteErr
	case len(p.CompleteResponses) > 0:
		next := p.CompleteResponses[0]
		p.CompleteResponses = p.CompleteResponses[1:]
		return next, nil
	default:
		return p.CompleteResponse, nil
	}
}

// Completes returns the recorded Complete calls in order.
func (p *Provider) Completes() []CompleteCall {
	p.mu.Lock()
	defer p.mu.Unlock()
	return slices.Clone(p.completes)
}

// CountTokens implements llm.Provider with TokenCount and CountTokensErr.
func (p *Provider) CountTokens(messages []types.Message) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.counted = append(p.counted, slices.Clone(messages))
	return p.TokenCount, p.CountTokensErr
}

// Counted returns the message slices passed to CountTokens.
func (p *Provider) Counted() [][]types.Message {
	p.mu.Lock()
	defer p.mu.Unlock()
	return slices.Clone(p.counted)
}

// Capabilities implements llm.Provider.
func (p *Provider) Capabilities() types.ModelCapabilities {
	if p.ModelCapabilities != nil {
		return *p.ModelCapabilities
	}
	return DefaultCapabilities
}
