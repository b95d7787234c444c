// Package mock provides a test double for the vision.Provider interface.
//
// Set the response fields before use; calls are recorded and can be read
// back through Calls.
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/lookout/pkg/provider/vision"
	"github.com/MrWong99/lookout/pkg/types"
)

// Call records one Caption or Query invocation.
type Call struct {
	// Op is "caption" or "query".
	Op string

	Image    types.Image
	Length   vision.CaptionLength
	Question string
}

// Provider is a mock implementation of vision.Provider.
type Provider struct {
	mu sync.Mutex

	// ProviderName is returned by Name. Defaults to "mock".
	ProviderName string

	// CaptionResult and QueryResult are returned on success.
	CaptionResult string
	QueryResult   string

	// Err, if non-nil, is returned by both Caption and Query.
	Err error

	// Gate, if non-nil, blocks every call until it is closed. The context is
	// deliberately ignored while waiting, which lets tests model a backend
	// that answers after the caller has given up.
	Gate chan struct{}

	// Started, if non-nil, receives one value when a call begins.
	Started chan struct{}

	calls []Call
}

// Caption records the call and returns CaptionResult, Err.
func (p *Provider) Caption(_ context.Context, img types.Image, length vision.CaptionLength) (string, error) {
	p.record(Call{Op: "caption", Image: img, Length: length})
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.Err != nil {
		return "", p.Err
	}
	return p.CaptionResult, nil
}

// Query records the call and returns QueryResult, Err.
func (p *Provider) Query(_ context.Context, img types.Image, question string) (string, error) {
	p.record(Call{Op: "query", Image: img, Question: question})
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.Err != nil {
		return "", p.Err
	}
	return p.QueryResult, nil
}

// Name returns ProviderName or "mock".
func (p *Provider) Name() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.ProviderName == "" {
		return "mock"
	}
	return p.ProviderName
}

// Calls returns a copy of the recorded calls.
func (p *Provider) Calls() []Call {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]Call(nil), p.calls...)
}

func (p *Provider) record(c Call) {
	p.mu.Lock()
	p.calls = append(p.calls, c)
	gate, started := p.Gate, p.Started
	p.mu.Unlock()

	if started != nil {
		started <- struct{}{}
	}
	if gate != nil {
		<-gate
	}
}

var _ vision.Provider = (*Provider)(nil)
