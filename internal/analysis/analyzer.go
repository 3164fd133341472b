// Package analysis classifies finished calls and extracts structured
// details from their transcripts.
//
// The analyzer builds one prompt from the tenant's analyzer template and the
// rendered conversation, then requests a schema-constrained JSON generation.
// Model output is validated defensively: a call type outside the tenant's
// allowed set is coerced to "Others", and a failed or malformed generation
// degrades to a fallback result instead of aborting the pipeline.
package analysis

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/SandilyaSub/Receptionist/internal/observe"
	"github.com/SandilyaSub/Receptionist/internal/tenant"
	"github.com/SandilyaSub/Receptionist/internal/transcript"
	"github.com/SandilyaSub/Receptionist/pkg/provider/llm"
)

// CallTypeOthers is the catch-all classification.
const CallTypeOthers = "Others"

// FallbackSummary is stored when analysis fails entirely.
const FallbackSummary = "Failed to analyze the call transcript."

// Result is the structured outcome of one analysis.
type Result struct {
	CallType   string         `json:"call_type"`
	Summary    string         `json:"summary"`
	KeyDetails map[string]any `json:"key_details"`

	// Usage is the token accounting of the generation. Zero on fallback.
	Usage llm.Usage `json:"-"`
}

// Details renders the result as the persisted critical_call_details blob.
func (r *Result) Details() (json.RawMessage, error) {
	raw, err := json.Marshal(r)
	if err != nil {
		return nil, fmt.Errorf("analysis: marshal details: %w", err)
	}
	return raw, nil
}

// Analyzer runs transcript analysis for finished calls.
// Safe for concurrent use.
type Analyzer struct {
	provider llm.Provider
	metrics  *observe.Metrics
	log      *slog.Logger
}

// Option is a functional option for an Analyzer.
type Option func(*Analyzer)

// WithMetrics attaches metric instruments to the analyzer.
func WithMetrics(m *observe.Metrics) Option {
	return func(a *Analyzer) { a.metrics = m }
}

// New creates an Analyzer over the given generation provider.
func New(provider llm.Provider, log *slog.Logger, opts ...Option) *Analyzer {
	if log == nil {
		log = slog.Default()
	}
	a := &Analyzer{
		provider: provider,
		log:      log.With("component", "analyzer"),
	}
	for _, o := range opts {
		o(a)
	}
	return a
}

// Model returns the name of the underlying generation model, for token
// accounting.
func (a *Analyzer) Model() string {
	return a.provider.Model()
}

// Fallback returns the degraded result used when analysis cannot complete.
func Fallback() *Result {
	return &Result{
		CallType:   CallTypeOthers,
		Summary:    FallbackSummary,
		KeyDetails: map[string]any{},
	}
}

// Analyze classifies the conversation for the given tenant. It always
// returns a usable Result; the error reports why a fallback was substituted,
// or nil when the model's answer was accepted.
func (a *Analyzer) Analyze(ctx context.Context, cfg *tenant.Config, doc transcript.Document) (*Result, error) {
	if len(doc.Conversation) == 0 {
		return Fallback(), fmt.Errorf("analysis: empty transcript")
	}

	start := time.Now()
	resp, err := a.provider.Generate(ctx, llm.Request{
		Prompt:         buildPrompt(cfg, doc),
		ResponseSchema: responseSchema(cfg.AllowedCallTypes),
	})
	if a.metrics != nil {
		a.metrics.AnalysisDuration.Record(ctx, time.Since(start).Seconds())
	}
	if err != nil {
		if a.metrics != nil {
			a.metrics.RecordModelError(ctx, "analysis")
		}
		return Fallback(), fmt.Errorf("analysis: generate: %w", err)
	}

	result, err := parseResult(resp.Text, cfg.AllowedCallTypes)
	if err != nil {
		a.log.Warn("analyzer returned unusable output", "error", err)
		fb := Fallback()
		fb.Usage = resp.Usage
		return fb, fmt.Errorf("analysis: parse: %w", err)
	}
	result.Usage = resp.Usage
	return result, nil
}

// buildPrompt concatenates the tenant's analyzer template with the rendered
// conversation. Tenants without a template get a generic instruction.
func buildPrompt(cfg *tenant.Config, doc transcript.Document) string {
	template := cfg.AnalyzerPrompt
	if template == "" {
		template = "Analyze the following call transcript. Classify the call's purpose and extract any relevant details mentioned."
	}

	var b strings.Builder
	b.WriteString(template)
	b.WriteString("\n\nTranscript:\n---\n")
	b.WriteString(doc.Render())
	b.WriteString("---\n")
	return b.String()
}

// responseSchema constrains the generation to the analysis contract.
func responseSchema(allowedTypes []string) *llm.Schema {
	return &llm.Schema{
		Type: "object",
		Properties: map[string]*llm.Schema{
			"call_type": {
				Type:        "string",
				Description: "The primary purpose of the call.",
				Enum:        allowedTypes,
			},
			"summary": {
				Type:        "string",
				Description: "A concise summary of the call.",
			},
			"key_details": {
				Type:        "object",
				Description: "Any structured details extracted from the call.",
				Properties: map[string]*llm.Schema{
					"customer_name": {Type: "string", Description: "The name of the customer."},
					"phone_number":  {Type: "string", Description: "The customer's phone number."},
				},
			},
		},
		Required: []string{"call_type", "summary"},
	}
}

// parseResult decodes and validates the model's JSON answer.
func parseResult(text string, allowedTypes []string) (*Result, error) {
	var raw struct {
		CallType   *string        `json:"call_type"`
		Summary    *string        `json:"summary"`
		KeyDetails map[string]any `json:"key_details"`
	}
	if err := json.Unmarshal([]byte(stripFences(text)), &raw); err != nil {
		return nil, fmt.Errorf("invalid JSON: %w", err)
	}
	if raw.CallType == nil || raw.Summary == nil {
		return nil, fmt.Errorf("missing required keys")
	}

	result := &Result{
		CallType:   *raw.CallType,
		Summary:    *raw.Summary,
		KeyDetails: raw.KeyDetails,
	}
	if result.KeyDetails == nil {
		result.KeyDetails = map[string]any{}
	}

	allowed := false
	for _, t := range allowedTypes {
		if result.CallType == t {
			allowed = true
			break
		}
	}
	if !allowed {
		result.CallType = CallTypeOthers
	}
	return result, nil
}

// stripFences removes a Markdown code fence wrapper, which some models add
// despite the JSON MIME contract.
func stripFences(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}
