// Package gemini provides a text generation provider backed by the Gemini
// API. It is the default backend for transcript analysis and notification
// copywriting.
package gemini

import (
	"context"
	"fmt"

	"google.golang.org/genai"

	"github.com/SandilyaSub/Receptionist/pkg/provider/llm"
)

// DefaultModel is the model used when none is configured.
const DefaultModel = "gemini-2.5-flash"

// Provider implements llm.Provider using google.golang.org/genai.
type Provider struct {
	client *genai.Client
	model  string
}

// config holds optional configuration for the provider.
type config struct {
	model   string
	baseURL string
}

// Option is a functional option for Provider.
type Option func(*config)

// WithModel overrides the default model.
func WithModel(model string) Option {
	return func(c *config) {
		c.model = model
	}
}

// WithBaseURL overrides the default Gemini API base URL.
func WithBaseURL(url string) Option {
	return func(c *config) {
		c.baseURL = url
	}
}

// New constructs a new Gemini text generation Provider.
func New(ctx context.Context, apiKey string, opts ...Option) (*Provider, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("gemini: apiKey must not be empty")
	}

	cfg := &config{model: DefaultModel}
	for _, o := range opts {
		o(cfg)
	}
	if cfg.model == "" {
		return nil, fmt.Errorf("gemini: model must not be empty")
	}

	cc := &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	}
	if cfg.baseURL != "" {
		cc.HTTPOptions.BaseURL = cfg.baseURL
	}

	client, err := genai.NewClient(ctx, cc)
	if err != nil {
		return nil, fmt.Errorf("gemini: create client: %w", err)
	}
	return &Provider{client: client, model: cfg.model}, nil
}

// Generate implements llm.Provider.
func (p *Provider) Generate(ctx context.Context, req llm.Request) (*llm.Response, error) {
	if req.Prompt == "" {
		return nil, fmt.Errorf("gemini: prompt must not be empty")
	}

	cfg := &genai.GenerateContentConfig{}
	if req.SystemPrompt != "" {
		cfg.SystemInstruction = genai.NewContentFromText(req.SystemPrompt, genai.RoleUser)
	}
	if req.Temperature != 0 {
		cfg.Temperature = genai.Ptr(float32(req.Temperature))
	}
	if req.MaxTokens > 0 {
		cfg.MaxOutputTokens = int32(req.MaxTokens)
	}
	if req.ResponseSchema != nil {
		schema, err := convertSchema(req.ResponseSchema)
		if err != nil {
			return nil, fmt.Errorf("gemini: convert schema: %w", err)
		}
		cfg.ResponseMIMEType = "application/json"
		cfg.ResponseSchema = schema
	}

	resp, err := p.client.Models.GenerateContent(ctx, p.model, genai.Text(req.Prompt), cfg)
	if err != nil {
		return nil, fmt.Errorf("gemini: generate content: %w", err)
	}

	text := resp.Text()
	if text == "" {
		return nil, fmt.Errorf("gemini: empty response")
	}

	result := &llm.Response{Text: text}
	if um := resp.UsageMetadata; um != nil {
		result.Usage = llm.Usage{
			PromptTokens:    int(um.PromptTokenCount),
			CandidateTokens: int(um.CandidatesTokenCount),
			ThoughtTokens:   int(um.ThoughtsTokenCount),
			TotalTokens:     int(um.TotalTokenCount),
		}
	}
	return result, nil
}

// Model implements llm.Provider.
func (p *Provider) Model() string {
	return p.model
}

// convertSchema translates the provider-neutral schema into the genai form.
func convertSchema(s *llm.Schema) (*genai.Schema, error) {
	if s == nil {
		return nil, nil
	}

	out := &genai.Schema{
		Description: s.Description,
		Required:    s.Required,
	}

	switch s.Type {
	case "object":
		out.Type = genai.TypeObject
	case "array":
		out.Type = genai.TypeArray
	case "string":
		out.Type = genai.TypeString
	case "number":
		out.Type = genai.TypeNumber
	case "integer":
		out.Type = genai.TypeInteger
	case "boolean":
		out.Type = genai.TypeBoolean
	default:
		return nil, fmt.Errorf("unsupported schema type %q", s.Type)
	}

	if len(s.Enum) > 0 {
		out.Enum = s.Enum
	}
	if len(s.Properties) > 0 {
		out.Properties = make(map[string]*genai.Schema, len(s.Properties))
		for name, prop := range s.Properties {
			conv, err := convertSchema(prop)
			if err != nil {
				return nil, fmt.Errorf("property %q: %w", name, err)
			}
			out.Properties[name] = conv
		}
	}
	if s.Items != nil {
		conv, err := convertSchema(s.Items)
		if err != nil {
			return nil, fmt.Errorf("items: %w", err)
		}
		out.Items = conv
	}
	return out, nil
}

// Ensure Provider implements llm.Provider at compile time.
var _ llm.Provider = (*Provider)(nil)
