// Package llm defines the Provider interface for turn-based text generation.
//
// Unlike the realtime live package, these providers are request/response: the
// caller hands over a finished prompt and receives the complete generation in
// one shot. The post-call pipeline uses this layer for transcript analysis
// and notification copywriting, where structured JSON output and exact token
// accounting matter more than latency.
package llm

import "context"

// Schema is a provider-neutral subset of JSON Schema used to constrain
// generated output. Backends translate it into their native structured-output
// mechanism, or fall back to prompt instructions when the API has none.
type Schema struct {
	// Type is one of "object", "array", "string", "number", "integer",
	// "boolean".
	Type string `json:"type"`

	// Description documents the field for the model.
	Description string `json:"description,omitempty"`

	// Properties lists the named fields of an object schema.
	Properties map[string]*Schema `json:"properties,omitempty"`

	// Items is the element schema of an array schema.
	Items *Schema `json:"items,omitempty"`

	// Enum restricts a string schema to a fixed set of values.
	Enum []string `json:"enum,omitempty"`

	// Required lists the property names an object must contain.
	Required []string `json:"required,omitempty"`
}

// Request carries everything the model needs to produce one generation.
type Request struct {
	// SystemPrompt is an optional high-priority instruction. Providers that
	// have no dedicated system channel prepend it as a system-role message.
	SystemPrompt string

	// Prompt is the user-role content that drives the response.
	Prompt string

	// Temperature controls output randomness. Zero requests the provider
	// default.
	Temperature float64

	// MaxTokens caps the number of generated tokens. Zero means use the
	// provider default.
	MaxTokens int

	// ResponseSchema, when non-nil, constrains the output to a JSON document
	// matching the schema.
	ResponseSchema *Schema
}

// Usage holds token accounting information returned by the backend.
// All counts are in the model's native token unit and may differ between
// providers for the same textual content.
type Usage struct {
	// PromptTokens is the number of tokens consumed by the input.
	PromptTokens int

	// CandidateTokens is the number of tokens in the generated output.
	CandidateTokens int

	// ThoughtTokens counts internal reasoning tokens for models that report
	// them separately. Zero otherwise.
	ThoughtTokens int

	// TotalTokens is the provider's reported total, including any token
	// classes not broken out above.
	TotalTokens int
}

// Response is the result of one generation.
type Response struct {
	// Text is the full generated content. For schema-constrained requests
	// this is a JSON document.
	Text string

	// Usage contains token accounting for this request/response pair.
	Usage Usage
}

// Provider is the abstraction over any turn-based text generation backend.
//
// Implementations must be safe for concurrent use from multiple goroutines
// and must propagate context cancellation promptly.
type Provider interface {
	// Generate sends req to the model and waits for the full response.
	// Returns an error if the request fails or if ctx is cancelled before
	// the generation arrives.
	Generate(ctx context.Context, req Request) (*Response, error)

	// Model returns the identifier of the model requests are sent to.
	Model() string
}
