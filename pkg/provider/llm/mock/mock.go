// Package mock provides a test double for the llm.Provider interface.
//
// Use Provider in unit tests to verify prompts and to feed controlled
// generations without a live backend. All fields are safe to set before
// calling any method; mutating them during a concurrent call is the caller's
// responsibility.
//
// Example:
//
//	p := &mock.Provider{Response: &llm.Response{Text: `{"call_type":"Booking"}`}}
//	resp, err := p.Generate(ctx, req)
package mock

import (
	"context"
	"sync"

	"github.com/SandilyaSub/Receptionist/pkg/provider/llm"
)

// GenerateCall records a single invocation of Generate.
type GenerateCall struct {
	// Ctx is the context passed to Generate.
	Ctx context.Context
	// Req is the Request passed to Generate.
	Req llm.Request
}

// Provider is a mock implementation of llm.Provider.
// Zero values for response fields cause Generate to return nil, nil.
// Set Err to inject errors.
type Provider struct {
	mu sync.Mutex

	// Response is returned by Generate when Responses is empty.
	Response *llm.Response

	// Responses, if non-empty, is consumed one entry per Generate call
	// before falling back to Response. Useful when a pipeline issues several
	// generations in a known order.
	Responses []*llm.Response

	// Err, if non-nil, is returned as the error from Generate.
	Err error

	// ModelName is returned by Model. Defaults to "mock-model" when empty.
	ModelName string

	// GenerateCalls records every invocation of Generate in order.
	GenerateCalls []GenerateCall
}

// Generate records the call and returns the configured response or error.
func (p *Provider) Generate(ctx context.Context, req llm.Request) (*llm.Response, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.GenerateCalls = append(p.GenerateCalls, GenerateCall{Ctx: ctx, Req: req})

	if p.Err != nil {
		return nil, p.Err
	}
	if len(p.Responses) > 0 {
		resp := p.Responses[0]
		p.Responses = p.Responses[1:]
		return resp, nil
	}
	return p.Response, nil
}

// Model returns ModelName, or "mock-model" when unset.
func (p *Provider) Model() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.ModelName == "" {
		return "mock-model"
	}
	return p.ModelName
}

// Calls returns a snapshot of recorded Generate calls. Thread-safe.
func (p *Provider) Calls() []GenerateCall {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]GenerateCall, len(p.GenerateCalls))
	copy(out, p.GenerateCalls)
	return out
}

// Reset clears all recorded calls. Thread-safe.
func (p *Provider) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.GenerateCalls = nil
}

// Ensure Provider implements llm.Provider at compile time.
var _ llm.Provider = (*Provider)(nil)
