package postcall_test

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"github.com/SandilyaSub/Receptionist/internal/analysis"
	"github.com/SandilyaSub/Receptionist/internal/notify"
	"github.com/SandilyaSub/Receptionist/internal/observe"
	"github.com/SandilyaSub/Receptionist/internal/postcall"
	"github.com/SandilyaSub/Receptionist/internal/tenant"
	"github.com/SandilyaSub/Receptionist/internal/transcript"
	"github.com/SandilyaSub/Receptionist/pkg/provider/live"
	"github.com/SandilyaSub/Receptionist/pkg/provider/llm"
	llmmock "github.com/SandilyaSub/Receptionist/pkg/provider/llm/mock"
	"github.com/SandilyaSub/Receptionist/pkg/storage"
	storagemock "github.com/SandilyaSub/Receptionist/pkg/storage/mock"
)

type fakeFetcher struct {
	call *storage.TelephonyCall
	err  error
}

func (f *fakeFetcher) FetchCall(context.Context, string) (*storage.TelephonyCall, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.call, nil
}

type fakeSender struct {
	sends []string // recipient numbers in send order
	err   error
}

func (f *fakeSender) SendTemplate(_ context.Context, _, to string, _ map[string]notify.Component) error {
	f.sends = append(f.sends, to)
	return f.err
}

func testTenant() *tenant.Config {
	return &tenant.Config{
		ID:               "bakery",
		BranchName:       "Happy Endings",
		OwnerPhone:       "9876543210",
		AnalyzerPrompt:   "Classify this bakery call.",
		AllowedCallTypes: []string{"Booking", "Informational", "Others"},
	}
}

func testManager() *transcript.Manager {
	m := transcript.NewManager("s1")
	m.Add(transcript.RoleAssistant, "Hello, Happy Endings!")
	m.Add(transcript.RoleUser, "One chocolate cake for Friday please.")
	return m
}

// newPipeline assembles a pipeline around mocks. analyzerResp feeds the
// analysis generation, copyResp the notification copy generation.
func newPipeline(fetcher postcall.CallFetcher, store *storagemock.Store, sender notify.Sender, analyzerResp, copyResp *llm.Response) *postcall.Pipeline {
	an := analysis.New(&llmmock.Provider{Response: analyzerResp, ModelName: "gemini-2.5-flash"}, nil)
	d := notify.NewDispatcher(&llmmock.Provider{Response: copyResp, ModelName: "gemini-2.5-flash"}, sender, store, "9000000001", nil)
	return postcall.New(fetcher, store, an, d, nil)
}

func bookingAnswer() *llm.Response {
	return &llm.Response{
		Text:  `{"call_type":"Booking","summary":"Cake order for Friday","key_details":{"flavour_name":"chocolate"}}`,
		Usage: llm.Usage{TotalTokens: 40, PromptTokens: 30, CandidateTokens: 10},
	}
}

func copyAnswer() *llm.Response {
	return &llm.Response{
		Text:  "body_1: Hi!\nbody_2: About your cake.\nbody_3: Chocolate, Friday.\nbody_4: Bye!",
		Usage: llm.Usage{TotalTokens: 20},
	}
}

func TestRun_HappyPath(t *testing.T) {
	store := &storagemock.Store{}
	sender := &fakeSender{}
	fetcher := &fakeFetcher{call: &storage.TelephonyCall{CallSID: "call-1", From: "09123456789", Status: "completed"}}
	p := newPipeline(fetcher, store, sender, bookingAnswer(), copyAnswer())

	p.Run(context.Background(), postcall.CallData{
		SessionID:         "s1",
		CallSID:           "call-1",
		StreamSID:         "stream-1",
		Tenant:            testTenant(),
		Transcript:        testManager(),
		ConversationUsage: []live.Usage{{TotalTokens: 100, PromptTokens: 60, ResponseTokens: 40}},
		ConversationModel: "gemini-live",
	})

	if len(store.TelephonyCalls) != 1 || store.TelephonyCalls[0].Status != "completed" {
		t.Fatalf("telephony record: got %+v", store.TelephonyCalls)
	}
	if len(store.Calls) != 1 {
		t.Fatalf("expected 1 call record, got %d", len(store.Calls))
	}
	rec := store.Calls[0]
	if rec.CallSID != "call-1" || rec.TenantID != "bakery" {
		t.Errorf("call record: got %+v", rec)
	}
	var doc map[string]any
	if err := json.Unmarshal(rec.Transcript, &doc); err != nil {
		t.Fatalf("transcript JSON: %v", err)
	}
	if doc["session_id"] != "s1" {
		t.Errorf("transcript session id: got %v", doc["session_id"])
	}

	if len(store.Analyses) != 1 || store.Analyses[0].CallType != "Booking" {
		t.Fatalf("analysis update: got %+v", store.Analyses)
	}

	// Customer first, then owner, both normalized.
	if len(sender.sends) != 2 || sender.sends[0] != "919123456789" || sender.sends[1] != "919876543210" {
		t.Fatalf("sends: got %v", sender.sends)
	}
	if rows := store.NotificationsSnapshot(); len(rows) != 2 {
		t.Fatalf("expected 2 notification rows, got %d", len(rows))
	}

	if len(store.TokenUsages) != 1 {
		t.Fatalf("expected 1 token summary, got %d", len(store.TokenUsages))
	}
	var summary map[string]any
	if err := json.Unmarshal(store.TokenUsages[0].Usage, &summary); err != nil {
		t.Fatalf("token summary JSON: %v", err)
	}
	if summary["total_tokens_all_operations"] != float64(160) {
		t.Errorf("grand total: got %v", summary["total_tokens_all_operations"])
	}
	for _, key := range []string{"conversation", "transcript_analysis", "whatsapp_generation"} {
		if _, ok := summary[key]; !ok {
			t.Errorf("summary missing %q", key)
		}
	}
}

func TestRun_EmptyTranscriptOnlyFetches(t *testing.T) {
	store := &storagemock.Store{}
	sender := &fakeSender{}
	fetcher := &fakeFetcher{call: &storage.TelephonyCall{CallSID: "call-2", From: "9123456789"}}
	p := newPipeline(fetcher, store, sender, bookingAnswer(), copyAnswer())

	p.Run(context.Background(), postcall.CallData{
		SessionID:  "s2",
		CallSID:    "call-2",
		Tenant:     testTenant(),
		Transcript: transcript.NewManager("s2"),
	})

	if len(store.TelephonyCalls) != 1 {
		t.Errorf("expected telephony fetch, got %d rows", len(store.TelephonyCalls))
	}
	if len(store.Calls) != 0 || len(store.Analyses) != 0 || len(store.TokenUsages) != 0 {
		t.Error("empty transcript must not persist call data")
	}
	if len(sender.sends) != 0 {
		t.Errorf("empty transcript must not notify, got %v", sender.sends)
	}
}

func TestRun_FetchFailureSkipsCustomerNotification(t *testing.T) {
	store := &storagemock.Store{}
	sender := &fakeSender{}
	p := newPipeline(&fakeFetcher{err: errors.New("telephony down")}, store, sender, bookingAnswer(), copyAnswer())

	p.Run(context.Background(), postcall.CallData{
		SessionID:  "s3",
		CallSID:    "call-3",
		Tenant:     testTenant(),
		Transcript: testManager(),
	})

	if len(store.TelephonyCalls) != 0 {
		t.Error("failed fetch must not insert a telephony row")
	}
	if len(store.Calls) != 1 {
		t.Error("call record must still be persisted")
	}
	// No caller phone, so only the owner is reachable.
	if len(sender.sends) != 1 || sender.sends[0] != "919876543210" {
		t.Fatalf("sends: got %v", sender.sends)
	}
}

func TestRun_AnalyzerFallbackStillNotifiesOwner(t *testing.T) {
	store := &storagemock.Store{}
	sender := &fakeSender{}
	fetcher := &fakeFetcher{call: &storage.TelephonyCall{CallSID: "call-4", From: "9123456789"}}
	p := newPipeline(fetcher, store, sender, &llm.Response{Text: "not json"}, copyAnswer())

	p.Run(context.Background(), postcall.CallData{
		SessionID:  "s4",
		CallSID:    "call-4",
		Tenant:     testTenant(),
		Transcript: testManager(),
	})

	if len(store.Analyses) != 1 || store.Analyses[0].CallType != analysis.CallTypeOthers {
		t.Fatalf("analysis update: got %+v", store.Analyses)
	}
	// Others is outside the customer whitelist.
	if len(sender.sends) != 1 || sender.sends[0] != "919876543210" {
		t.Fatalf("sends: got %v", sender.sends)
	}

	var summary map[string]any
	if err := json.Unmarshal(store.TokenUsages[0].Usage, &summary); err != nil {
		t.Fatalf("token summary JSON: %v", err)
	}
	if _, ok := summary["transcript_analysis"]; ok {
		t.Error("failed analysis must not record token usage")
	}
}

func TestRun_NilFetcherSkipsTelephonyStage(t *testing.T) {
	store := &storagemock.Store{}
	sender := &fakeSender{}
	p := newPipeline(nil, store, sender, bookingAnswer(), copyAnswer())

	p.Run(context.Background(), postcall.CallData{
		SessionID:  "s5",
		CallSID:    "call-5",
		Tenant:     testTenant(),
		Transcript: testManager(),
	})

	if len(store.TelephonyCalls) != 0 {
		t.Error("nil fetcher must skip the telephony stage")
	}
	if len(store.Calls) != 1 {
		t.Error("remaining stages must still run")
	}
}

func TestRun_RecordsMetrics(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })
	m, err := observe.NewMetrics(mp)
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}

	store := &storagemock.Store{}
	sender := &fakeSender{}
	fetcher := &fakeFetcher{call: &storage.TelephonyCall{CallSID: "call-6", From: "9123456789"}}
	an := analysis.New(&llmmock.Provider{Response: bookingAnswer(), ModelName: "gemini-2.5-flash"}, nil, analysis.WithMetrics(m))
	d := notify.NewDispatcher(&llmmock.Provider{Response: copyAnswer(), ModelName: "gemini-2.5-flash"}, sender, store, "9000000001", nil, notify.WithMetrics(m))
	p := postcall.New(fetcher, store, an, d, nil, postcall.WithMetrics(m))

	p.Run(context.Background(), postcall.CallData{
		SessionID:         "s6",
		CallSID:           "call-6",
		Tenant:            testTenant(),
		Transcript:        testManager(),
		ConversationUsage: []live.Usage{{TotalTokens: 100}},
		ConversationModel: "gemini-live",
	})

	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("Collect: %v", err)
	}

	dur := metricByName(rm, "receptionist.pipeline.duration")
	if dur == nil {
		t.Fatal("pipeline duration not recorded")
	}
	if hist, ok := dur.Data.(metricdata.Histogram[float64]); !ok || len(hist.DataPoints) == 0 || hist.DataPoints[0].Count != 1 {
		t.Errorf("pipeline duration: got %+v", dur.Data)
	}

	// 100 conversation + 40 analysis + 20 whatsapp tokens, one datapoint
	// per operation label.
	used := metricByName(rm, "receptionist.tokens.used")
	if used == nil {
		t.Fatal("token usage not recorded")
	}
	sum, ok := used.Data.(metricdata.Sum[int64])
	if !ok {
		t.Fatalf("token usage is not a sum: %+v", used.Data)
	}
	var total int64
	for _, dp := range sum.DataPoints {
		total += dp.Value
	}
	if total != 160 || len(sum.DataPoints) != 3 {
		t.Errorf("token usage: total %d over %d operations, want 160 over 3", total, len(sum.DataPoints))
	}

	// Customer and owner sends.
	notif := metricByName(rm, "receptionist.notifications")
	if notif == nil {
		t.Fatal("notifications not recorded")
	}
	nsum, ok := notif.Data.(metricdata.Sum[int64])
	if !ok {
		t.Fatalf("notifications is not a sum: %+v", notif.Data)
	}
	var sends int64
	for _, dp := range nsum.DataPoints {
		sends += dp.Value
	}
	if sends != 2 {
		t.Errorf("notifications: got %d, want 2", sends)
	}

	if metricByName(rm, "receptionist.analysis.duration") == nil {
		t.Error("analysis duration not recorded")
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
