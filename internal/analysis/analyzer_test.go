package analysis_test

import (
	"context"
	"errors"
	"strings"
	"testing"

	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"github.com/SandilyaSub/Receptionist/internal/analysis"
	"github.com/SandilyaSub/Receptionist/internal/observe"
	"github.com/SandilyaSub/Receptionist/internal/tenant"
	"github.com/SandilyaSub/Receptionist/internal/transcript"
	"github.com/SandilyaSub/Receptionist/pkg/provider/llm"
	llmmock "github.com/SandilyaSub/Receptionist/pkg/provider/llm/mock"
)

func testConfig() *tenant.Config {
	return &tenant.Config{
		ID:               "bakery",
		AnalyzerPrompt:   "Classify this bakery call.",
		AllowedCallTypes: []string{"Booking", "Status Check", "Cancellation", "Informational", "Others"},
	}
}

func testDoc() transcript.Document {
	return transcript.Document{
		SessionID: "s1",
		Conversation: []transcript.Turn{
			{Role: "assistant", Text: "Hello!"},
			{Role: "user", Text: "I want a chocolate cake."},
		},
	}
}

func TestAnalyze_AcceptsValidAnswer(t *testing.T) {
	p := &llmmock.Provider{Response: &llm.Response{
		Text:  `{"call_type":"Booking","summary":"Cake order","key_details":{"flavour_name":"chocolate"}}`,
		Usage: llm.Usage{TotalTokens: 42, PromptTokens: 30, CandidateTokens: 12},
	}}
	a := analysis.New(p, nil)

	result, err := a.Analyze(context.Background(), testConfig(), testDoc())
	if err != nil {
		t.Fatalf("Analyze: %v", err)
	}
	if result.CallType != "Booking" {
		t.Errorf("call type: got %q", result.CallType)
	}
	if result.KeyDetails["flavour_name"] != "chocolate" {
		t.Errorf("key details: got %v", result.KeyDetails)
	}
	if result.Usage.TotalTokens != 42 {
		t.Errorf("usage: got %+v", result.Usage)
	}
}

func TestAnalyze_PromptContainsTemplateAndTranscript(t *testing.T) {
	p := &llmmock.Provider{Response: &llm.Response{
		Text: `{"call_type":"Others","summary":"s","key_details":{}}`,
	}}
	a := analysis.New(p, nil)

	if _, err := a.Analyze(context.Background(), testConfig(), testDoc()); err != nil {
		t.Fatalf("Analyze: %v", err)
	}

	calls := p.Calls()
	if len(calls) != 1 {
		t.Fatalf("expected 1 generation, got %d", len(calls))
	}
	prompt := calls[0].Req.Prompt
	if !strings.Contains(prompt, "Classify this bakery call.") {
		t.Error("prompt missing tenant template")
	}
	if !strings.Contains(prompt, "user: I want a chocolate cake.") {
		t.Error("prompt missing rendered transcript")
	}
	if calls[0].Req.ResponseSchema == nil {
		t.Error("expected a response schema")
	}
}

func TestAnalyze_CoercesUnknownCallType(t *testing.T) {
	p := &llmmock.Provider{Response: &llm.Response{
		Text: `{"call_type":"Complaint","summary":"Unhappy customer","key_details":{}}`,
	}}
	a := analysis.New(p, nil)

	result, err := a.Analyze(context.Background(), testConfig(), testDoc())
	if err != nil {
		t.Fatalf("Analyze: %v", err)
	}
	if result.CallType != analysis.CallTypeOthers {
		t.Fatalf("expected coercion to Others, got %q", result.CallType)
	}
	if result.Summary != "Unhappy customer" {
		t.Errorf("summary must survive coercion, got %q", result.Summary)
	}
}

func TestAnalyze_InvalidJSONFallsBack(t *testing.T) {
	p := &llmmock.Provider{Response: &llm.Response{Text: "I could not classify this call."}}
	a := analysis.New(p, nil)

	result, err := a.Analyze(context.Background(), testConfig(), testDoc())
	if err == nil {
		t.Fatal("expected error for unusable output")
	}
	if result.CallType != analysis.CallTypeOthers {
		t.Errorf("call type: got %q", result.CallType)
	}
	if result.Summary != analysis.FallbackSummary {
		t.Errorf("summary: got %q", result.Summary)
	}
	if len(result.KeyDetails) != 0 {
		t.Errorf("key details must be empty, got %v", result.KeyDetails)
	}
}

func TestAnalyze_MissingRequiredKeysFallsBack(t *testing.T) {
	p := &llmmock.Provider{Response: &llm.Response{Text: `{"summary":"no type"}`}}
	a := analysis.New(p, nil)

	result, err := a.Analyze(context.Background(), testConfig(), testDoc())
	if err == nil {
		t.Fatal("expected error for missing keys")
	}
	if result.CallType != analysis.CallTypeOthers {
		t.Errorf("call type: got %q", result.CallType)
	}
}

func TestAnalyze_GenerationErrorFallsBack(t *testing.T) {
	p := &llmmock.Provider{Err: errors.New("rate limited")}
	a := analysis.New(p, nil)

	result, err := a.Analyze(context.Background(), testConfig(), testDoc())
	if err == nil {
		t.Fatal("expected error")
	}
	if result.Summary != analysis.FallbackSummary {
		t.Errorf("summary: got %q", result.Summary)
	}
}

func TestAnalyze_EmptyTranscriptFallsBack(t *testing.T) {
	p := &llmmock.Provider{}
	a := analysis.New(p, nil)

	result, err := a.Analyze(context.Background(), testConfig(), transcript.Document{SessionID: "s1"})
	if err == nil {
		t.Fatal("expected error for empty transcript")
	}
	if result.CallType != analysis.CallTypeOthers {
		t.Errorf("call type: got %q", result.CallType)
	}
	if len(p.Calls()) != 0 {
		t.Error("empty transcript must not hit the model")
	}
}

func TestAnalyze_StripsCodeFences(t *testing.T) {
	p := &llmmock.Provider{Response: &llm.Response{
		Text: "```json\n{\"call_type\":\"Booking\",\"summary\":\"ok\",\"key_details\":{}}\n```",
	}}
	a := analysis.New(p, nil)

	result, err := a.Analyze(context.Background(), testConfig(), testDoc())
	if err != nil {
		t.Fatalf("Analyze: %v", err)
	}
	if result.CallType != "Booking" {
		t.Errorf("call type: got %q", result.CallType)
	}
}

func TestAnalyze_RecordsDurationAndModelErrors(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })
	m, err := observe.NewMetrics(mp)
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}

	p := &llmmock.Provider{Err: errors.New("model down")}
	a := analysis.New(p, nil, analysis.WithMetrics(m))
	if _, err := a.Analyze(context.Background(), testConfig(), testDoc()); err == nil {
		t.Fatal("expected fallback error")
	}

	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("Collect: %v", err)
	}

	dur := metricByName(rm, "receptionist.analysis.duration")
	if dur == nil {
		t.Fatal("analysis duration not recorded")
	}
	hist, ok := dur.Data.(metricdata.Histogram[float64])
	if !ok || len(hist.DataPoints) == 0 || hist.DataPoints[0].Count != 1 {
		t.Errorf("analysis duration: got %+v", dur.Data)
	}

	errs := metricByName(rm, "receptionist.model.errors")
	if errs == nil {
		t.Fatal("model error not recorded")
	}
	sum, ok := errs.Data.(metricdata.Sum[int64])
	if !ok || len(sum.DataPoints) == 0 || sum.DataPoints[0].Value != 1 {
		t.Errorf("model errors: got %+v", errs.Data)
	}
}

func metricByName(rm metricdata.ResourceMetrics, name string) *metricdata.Metrics {
	for _, sm := range rm.ScopeMetrics {
		for i := range sm.Metrics {
			if sm.Metrics[i].Name == name {
				return &sm.Metrics[i]
			}
		}
	}
	return nil
}
