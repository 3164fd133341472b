package tokens_test

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/SandilyaSub/Receptionist/internal/tokens"
	"github.com/SandilyaSub/Receptionist/pkg/provider/live"
	"github.com/SandilyaSub/Receptionist/pkg/provider/llm"
	storagemock "github.com/SandilyaSub/Receptionist/pkg/storage/mock"
)

func TestAddConversationTokens_SumsUsageList(t *testing.T) {
	a := tokens.NewAccumulator("call-1")
	a.AddConversationTokens([]live.Usage{
		{
			TotalTokens:    100,
			PromptTokens:   60,
			ResponseTokens: 40,
			PromptDetails:  []live.ModalityTokens{{Modality: "AUDIO", Tokens: 50}, {Modality: "TEXT", Tokens: 10}},
		},
		{
			TotalTokens:    30,
			PromptTokens:   20,
			ResponseTokens: 10,
			PromptDetails:  []live.ModalityTokens{{Modality: "AUDIO", Tokens: 20}},
		},
	}, "gemini-live")

	s := a.Summary()
	if s.Conversation == nil {
		t.Fatal("expected conversation entry")
	}
	if s.Conversation.TotalTokens != 130 {
		t.Errorf("total: got %d, want 130", s.Conversation.TotalTokens)
	}
	if s.Conversation.PromptTokensDetails["audio"] != 70 {
		t.Errorf("audio prompt tokens: got %d, want 70", s.Conversation.PromptTokensDetails["audio"])
	}
	if s.Conversation.PromptTokensDetails["text"] != 10 {
		t.Errorf("text prompt tokens: got %d, want 10", s.Conversation.PromptTokensDetails["text"])
	}
	if s.Conversation.Model != "gemini-live" {
		t.Errorf("model: got %q", s.Conversation.Model)
	}
}

func TestAddConversationTokens_ReplacesNotAccumulates(t *testing.T) {
	a := tokens.NewAccumulator("call-1")
	usages := []live.Usage{{TotalTokens: 100}}

	a.AddConversationTokens(usages, "m")
	a.AddConversationTokens(usages, "m")

	if got := a.Summary().Conversation.TotalTokens; got != 100 {
		t.Fatalf("repeated add must replace: got %d, want 100", got)
	}
}

func TestAddAnalysisTokens_ReplacesNotAccumulates(t *testing.T) {
	a := tokens.NewAccumulator("call-1")
	usage := llm.Usage{TotalTokens: 50, PromptTokens: 30, CandidateTokens: 15, ThoughtTokens: 5}

	a.AddAnalysisTokens(usage, "gemini-2.5-flash")
	a.AddAnalysisTokens(usage, "gemini-2.5-flash")

	s := a.Summary()
	if s.Analysis.TotalTokens != 50 {
		t.Fatalf("repeated add must replace: got %d, want 50", s.Analysis.TotalTokens)
	}
	if s.Analysis.ThoughtTokens != 5 {
		t.Errorf("thoughts: got %d, want 5", s.Analysis.ThoughtTokens)
	}
}

func TestSummary_GrandTotal(t *testing.T) {
	a := tokens.NewAccumulator("call-1")
	a.AddConversationTokens([]live.Usage{{TotalTokens: 100}}, "m1")
	a.AddAnalysisTokens(llm.Usage{TotalTokens: 40}, "m2")
	a.AddWhatsappTokens(llm.Usage{TotalTokens: 25}, "m2")

	s := a.Summary()
	if s.TotalAllOperations != 165 {
		t.Fatalf("grand total: got %d, want 165", s.TotalAllOperations)
	}
}

func TestSummary_MissingOperationsContributeZero(t *testing.T) {
	a := tokens.NewAccumulator("call-1")
	a.AddAnalysisTokens(llm.Usage{TotalTokens: 40}, "m")

	s := a.Summary()
	if s.TotalAllOperations != 40 {
		t.Fatalf("grand total: got %d, want 40", s.TotalAllOperations)
	}
	if s.Conversation != nil || s.Whatsapp != nil {
		t.Error("absent operations must stay nil")
	}
}

func TestSave_PersistsJSONLayout(t *testing.T) {
	a := tokens.NewAccumulator("call-7")
	a.AddConversationTokens([]live.Usage{{TotalTokens: 10}}, "m1")
	a.AddWhatsappTokens(llm.Usage{TotalTokens: 5, CandidateTokens: 3}, "m2")

	store := &storagemock.Store{}
	if err := a.Save(context.Background(), store); err != nil {
		t.Fatalf("Save: %v", err)
	}
	if len(store.TokenUsages) != 1 {
		t.Fatalf("expected 1 update, got %d", len(store.TokenUsages))
	}
	if store.TokenUsages[0].CallSID != "call-7" {
		t.Errorf("call sid: got %q", store.TokenUsages[0].CallSID)
	}

	var decoded map[string]any
	if err := json.Unmarshal(store.TokenUsages[0].Usage, &decoded); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if decoded["total_tokens_all_operations"] != float64(15) {
		t.Errorf("grand total: got %v", decoded["total_tokens_all_operations"])
	}
	if _, ok := decoded[tokens.OpWhatsapp]; !ok {
		t.Errorf("expected %q key, got %v", tokens.OpWhatsapp, decoded)
	}
	if _, ok := decoded[tokens.OpAnalysis]; ok {
		t.Error("absent analysis entry must be omitted")
	}
}
