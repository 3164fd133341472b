// Package tokens aggregates AI token usage across the three operations of a
// call — realtime conversation, transcript analysis, and WhatsApp copy
// generation — and persists one merged summary per call.
package tokens

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/SandilyaSub/Receptionist/pkg/provider/live"
	"github.com/SandilyaSub/Receptionist/pkg/provider/llm"
	"github.com/SandilyaSub/Receptionist/pkg/storage"
)

// Operation keys in the persisted summary.
const (
	OpConversation = "conversation"
	OpAnalysis     = "transcript_analysis"
	OpWhatsapp     = "whatsapp_generation"
)

// ConversationUsage is the summed usage of the realtime stream.
type ConversationUsage struct {
	Model          string `json:"model"`
	TotalTokens    int    `json:"total_tokens"`
	PromptTokens   int    `json:"prompt_tokens"`
	ResponseTokens int    `json:"response_tokens"`

	// Per-modality sub-counts (e.g. "AUDIO", "TEXT"), present only when the
	// stream reported them.
	PromptTokensDetails   map[string]int `json:"prompt_tokens_details,omitempty"`
	ResponseTokensDetails map[string]int `json:"response_tokens_details,omitempty"`
}

// GenerationUsage is the usage of one turn-based generation.
type GenerationUsage struct {
	Model           string `json:"model"`
	TotalTokens     int    `json:"total_tokens"`
	PromptTokens    int    `json:"prompt_tokens"`
	CandidateTokens int    `json:"candidates_tokens"`
	ThoughtTokens   int    `json:"thoughts_tokens"`
}

// Summary is the persisted ai_token_usage layout.
type Summary struct {
	Conversation *ConversationUsage `json:"conversation,omitempty"`
	Analysis     *GenerationUsage   `json:"transcript_analysis,omitempty"`
	Whatsapp     *GenerationUsage   `json:"whatsapp_generation,omitempty"`

	// TotalAllOperations is the sum of each present operation's total_tokens.
	TotalAllOperations int `json:"total_tokens_all_operations"`
}

// Accumulator collects usage for one call. Safe for concurrent use.
//
// Each Add method replaces its operation's entry rather than accumulating, so
// repeated calls with the same data are idempotent. The conversation entry is
// built from the full usage list collected during streaming, not incremental
// deltas.
type Accumulator struct {
	mu      sync.Mutex
	callSID string

	conversation *ConversationUsage
	analysis     *GenerationUsage
	whatsapp     *GenerationUsage
}

// NewAccumulator creates an Accumulator for the given call.
func NewAccumulator(callSID string) *Accumulator {
	return &Accumulator{callSID: callSID}
}

// AddConversationTokens sums the usage records collected during streaming and
// stores them under the conversation key, replacing any earlier total.
func (a *Accumulator) AddConversationTokens(usages []live.Usage, model string) {
	cu := &ConversationUsage{Model: model}
	for _, u := range usages {
		cu.TotalTokens += u.TotalTokens
		cu.PromptTokens += u.PromptTokens
		cu.ResponseTokens += u.ResponseTokens
		addModalities(&cu.PromptTokensDetails, u.PromptDetails)
		addModalities(&cu.ResponseTokensDetails, u.ResponseDetails)
	}

	a.mu.Lock()
	a.conversation = cu
	a.mu.Unlock()
}

// AddAnalysisTokens records the transcript analysis usage, replacing any
// earlier entry.
func (a *Accumulator) AddAnalysisTokens(usage llm.Usage, model string) {
	a.mu.Lock()
	a.analysis = generationUsage(usage, model)
	a.mu.Unlock()
}

// AddWhatsappTokens records the WhatsApp copy generation usage, replacing any
// earlier entry.
func (a *Accumulator) AddWhatsappTokens(usage llm.Usage, model string) {
	a.mu.Lock()
	a.whatsapp = generationUsage(usage, model)
	a.mu.Unlock()
}

func generationUsage(u llm.Usage, model string) *GenerationUsage {
	return &GenerationUsage{
		Model:           model,
		TotalTokens:     u.TotalTokens,
		PromptTokens:    u.PromptTokens,
		CandidateTokens: u.CandidateTokens,
		ThoughtTokens:   u.ThoughtTokens,
	}
}

// addModalities merges per-modality sub-counts into dst, allocating it on
// first use.
func addModalities(dst *map[string]int, details []live.ModalityTokens) {
	for _, d := range details {
		if d.Tokens == 0 {
			continue
		}
		if *dst == nil {
			*dst = make(map[string]int)
		}
		key := strings.ToLower(d.Modality)
		(*dst)[key] += d.Tokens
	}
}

// Summary returns the merged summary. Missing operations contribute zero to
// the grand total.
func (a *Accumulator) Summary() Summary {
	a.mu.Lock()
	defer a.mu.Unlock()

	s := Summary{
		Conversation: a.conversation,
		Analysis:     a.analysis,
		Whatsapp:     a.whatsapp,
	}
	if s.Conversation != nil {
		s.TotalAllOperations += s.Conversation.TotalTokens
	}
	if s.Analysis != nil {
		s.TotalAllOperations += s.Analysis.TotalTokens
	}
	if s.Whatsapp != nil {
		s.TotalAllOperations += s.Whatsapp.TotalTokens
	}
	return s
}

// Save persists the summary under ai_token_usage for the call.
func (a *Accumulator) Save(ctx context.Context, store storage.CallStore) error {
	raw, err := json.Marshal(a.Summary())
	if err != nil {
		return fmt.Errorf("tokens: marshal summary: %w", err)
	}
	if err := store.UpdateCallTokenUsage(ctx, a.callSID, raw); err != nil {
		return fmt.Errorf("tokens: save summary: %w", err)
	}
	return nil
}
