// Package openai provides a text generation provider backed by the OpenAI API.
package openai

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	oai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/packages/param"
	"github.com/openai/openai-go/shared"

	"github.com/SandilyaSub/Receptionist/pkg/provider/llm"
)

// Provider implements llm.Provider using the OpenAI API.
type Provider struct {
	client oai.Client
	model  string
}

// config holds optional configuration for the provider.
type config struct {
	baseURL      string
	organization string
	timeout      time.Duration
}

// Option is a functional option for Provider.
type Option func(*config)

// WithBaseURL overrides the default OpenAI API base URL.
func WithBaseURL(url string) Option {
	return func(c *config) {
		c.baseURL = url
	}
}

// WithOrganization sets the OpenAI organization ID on all requests.
func WithOrganization(org string) Option {
	return func(c *config) {
		c.organization = org
	}
}

// WithTimeout sets a per-request HTTP timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *config) {
		c.timeout = d
	}
}

// New constructs a new OpenAI text generation Provider.
func New(apiKey string, model string, opts ...Option) (*Provider, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("openai: apiKey must not be empty")
	}
	if model == "" {
		return nil, fmt.Errorf("openai: model must not be empty")
	}

	cfg := &config{}
	for _, o := range opts {
		o(cfg)
	}

	reqOpts := []option.RequestOption{
		option.WithAPIKey(apiKey),
	}
	if cfg.baseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(cfg.baseURL))
	}
	if cfg.organization != "" {
		reqOpts = append(reqOpts, option.WithOrganization(cfg.organization))
	}
	if cfg.timeout > 0 {
		reqOpts = append(reqOpts, option.WithHTTPClient(&http.Client{
			Timeout: cfg.timeout,
		}))
	}

	client := oai.NewClient(reqOpts...)
	return &Provider{client: client, model: model}, nil
}

// Generate implements llm.Provider.
func (p *Provider) Generate(ctx context.Context, req llm.Request) (*llm.Response, error) {
	if req.Prompt == "" {
		return nil, fmt.Errorf("openai: prompt must not be empty")
	}

	params, err := p.buildParams(req)
	if err != nil {
		return nil, fmt.Errorf("openai: build params: %w", err)
	}

	resp, err := p.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("openai: chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("openai: empty choices in response")
	}

	return &llm.Response{
		Text: resp.Choices[0].Message.Content,
		Usage: llm.Usage{
			PromptTokens:    int(resp.Usage.PromptTokens),
			CandidateTokens: int(resp.Usage.CompletionTokens),
			ThoughtTokens:   int(resp.Usage.CompletionTokensDetails.ReasoningTokens),
			TotalTokens:     int(resp.Usage.TotalTokens),
		},
	}, nil
}

// Model implements llm.Provider.
func (p *Provider) Model() string {
	return p.model
}

// buildParams converts a Request into OpenAI SDK params.
//
// The chat completions API has no direct equivalent of a response schema, so
// schema-constrained requests use JSON mode plus an instruction carrying the
// schema text.
func (p *Provider) buildParams(req llm.Request) (oai.ChatCompletionNewParams, error) {
	system := req.SystemPrompt
	if req.ResponseSchema != nil {
		instr, err := schemaInstruction(req.ResponseSchema)
		if err != nil {
			return oai.ChatCompletionNewParams{}, err
		}
		if system != "" {
			system += "\n\n"
		}
		system += instr
	}

	var messages []oai.ChatCompletionMessageParamUnion
	if system != "" {
		messages = append(messages, oai.SystemMessage(system))
	}
	messages = append(messages, oai.UserMessage(req.Prompt))

	params := oai.ChatCompletionNewParams{
		Model:    shared.ChatModel(p.model),
		Messages: messages,
	}

	if req.Temperature != 0 {
		params.Temperature = param.NewOpt(req.Temperature)
	}
	if req.MaxTokens > 0 {
		params.MaxCompletionTokens = param.NewOpt(int64(req.MaxTokens))
	}
	if req.ResponseSchema != nil {
		params.ResponseFormat = oai.ChatCompletionNewParamsResponseFormatUnion{
			OfJSONObject: &shared.ResponseFormatJSONObjectParam{},
		}
	}

	return params, nil
}

// schemaInstruction renders a response schema as a prompt instruction.
func schemaInstruction(s *llm.Schema) (string, error) {
	raw, err := json.Marshal(s)
	if err != nil {
		return "", fmt.Errorf("marshal schema: %w", err)
	}
	return "Respond with a single JSON document matching this JSON Schema, with no surrounding prose:\n" + string(raw), nil
}

// Ensure Provider implements llm.Provider at compile time.
var _ llm.Provider = (*Provider)(nil)
