// Package postcall runs the best-effort persistence and follow-up sequence
// after a call's live streams have closed.
//
// The pipeline is deterministic: fetch the telephony record, finalize the
// transcript, aggregate conversation tokens, analyze, dispatch notifications,
// persist the token summary. Every stage runs even when an earlier one
// failed; stage errors are logged and absorbed so a socket teardown never
// loses work that later stages can still do.
package postcall

import (
	"context"
	"log/slog"
	"time"

	"github.com/SandilyaSub/Receptionist/internal/analysis"
	"github.com/SandilyaSub/Receptionist/internal/notify"
	"github.com/SandilyaSub/Receptionist/internal/observe"
	"github.com/SandilyaSub/Receptionist/internal/tenant"
	"github.com/SandilyaSub/Receptionist/internal/tokens"
	"github.com/SandilyaSub/Receptionist/internal/transcript"
	"github.com/SandilyaSub/Receptionist/pkg/provider/live"
	"github.com/SandilyaSub/Receptionist/pkg/storage"
)

// CallFetcher retrieves the telephony provider's record of a call.
// Implemented by telephony.RESTClient.
type CallFetcher interface {
	FetchCall(ctx context.Context, callSID string) (*storage.TelephonyCall, error)
}

// CallData is everything a finished session hands to the pipeline.
type CallData struct {
	SessionID  string
	CallSID    string
	StreamSID  string
	Tenant     *tenant.Config
	Transcript *transcript.Manager

	// ConversationUsage is the list of usage records collected during
	// streaming; ConversationModel names the live model that produced them.
	ConversationUsage []live.Usage
	ConversationModel string
}

// Pipeline owns the post-call stage sequence. Safe for concurrent use; one
// Run per finished call.
type Pipeline struct {
	fetcher    CallFetcher
	store      storage.CallStore
	analyzer   *analysis.Analyzer
	dispatcher *notify.Dispatcher
	metrics    *observe.Metrics
	log        *slog.Logger
}

// Option is a functional option for a Pipeline.
type Option func(*Pipeline)

// WithMetrics attaches metric instruments to the pipeline.
func WithMetrics(m *observe.Metrics) Option {
	return func(p *Pipeline) { p.metrics = m }
}

// New wires the pipeline. fetcher may be nil when no telephony REST
// credentials are configured; stage 1 is then skipped. dispatcher may be nil
// when notifications are disabled; stage 5 is then skipped.
func New(fetcher CallFetcher, store storage.CallStore, analyzer *analysis.Analyzer, dispatcher *notify.Dispatcher, log *slog.Logger, opts ...Option) *Pipeline {
	if log == nil {
		log = slog.Default()
	}
	p := &Pipeline{
		fetcher:    fetcher,
		store:      store,
		analyzer:   analyzer,
		dispatcher: dispatcher,
		log:        log.With("component", "postcall"),
	}
	for _, o := range opts {
		o(p)
	}
	return p
}

// Run executes the stage sequence for one call. ctx must outlive the caller's
// socket; pass a fresh context, not the session's cancelled one.
//
// A call that produced no transcript turns persists nothing beyond the
// telephony record fetch.
func (p *Pipeline) Run(ctx context.Context, data CallData) {
	log := p.log.With("session_id", data.SessionID, "call_sid", data.CallSID, "tenant", data.Tenant.ID)

	start := time.Now()
	defer func() {
		if p.metrics != nil {
			p.metrics.PipelineDuration.Record(ctx, time.Since(start).Seconds())
		}
	}()

	callerPhone := p.fetchTelephonyRecord(ctx, log, data)

	if data.Transcript == nil || data.Transcript.Len() == 0 {
		log.Info("no conversation captured, skipping persistence")
		return
	}
	doc := data.Transcript.Finalize()

	raw, err := doc.JSON()
	if err != nil {
		log.Error("encoding transcript failed", "error", err)
	} else if err := p.store.InsertCall(ctx, storage.CallRecord{
		CallSID:    data.CallSID,
		StreamSID:  data.StreamSID,
		TenantID:   data.Tenant.ID,
		Transcript: raw,
	}); err != nil {
		log.Error("persisting call record failed", "error", err)
	}

	acc := tokens.NewAccumulator(data.CallSID)
	if len(data.ConversationUsage) > 0 {
		acc.AddConversationTokens(data.ConversationUsage, data.ConversationModel)
	}

	result := p.analyze(ctx, log, data, doc, acc)

	p.dispatch(ctx, log, data, callerPhone, result, acc)

	if err := acc.Save(ctx, p.store); err != nil {
		log.Error("persisting token summary failed", "error", err)
	}
	p.recordTokens(ctx, acc.Summary())
}

// recordTokens exports the per-operation token counts.
func (p *Pipeline) recordTokens(ctx context.Context, sum tokens.Summary) {
	if p.metrics == nil {
		return
	}
	if sum.Conversation != nil {
		p.metrics.RecordTokens(ctx, tokens.OpConversation, int64(sum.Conversation.TotalTokens))
	}
	if sum.Analysis != nil {
		p.metrics.RecordTokens(ctx, tokens.OpAnalysis, int64(sum.Analysis.TotalTokens))
	}
	if sum.Whatsapp != nil {
		p.metrics.RecordTokens(ctx, tokens.OpWhatsapp, int64(sum.Whatsapp.TotalTokens))
	}
}

// fetchTelephonyRecord runs stage 1 and returns the caller's phone number,
// or "" when the record could not be fetched.
func (p *Pipeline) fetchTelephonyRecord(ctx context.Context, log *slog.Logger, data CallData) string {
	if p.fetcher == nil || data.CallSID == "" {
		return ""
	}
	rec, err := p.fetcher.FetchCall(ctx, data.CallSID)
	if err != nil {
		log.Warn("fetching telephony record failed", "error", err)
		return ""
	}
	if err := p.store.InsertTelephonyCall(ctx, *rec); err != nil {
		log.Warn("persisting telephony record failed", "error", err)
	}
	return rec.From
}

// analyze runs stage 4 and records its token usage. Always returns a usable
// result.
func (p *Pipeline) analyze(ctx context.Context, log *slog.Logger, data CallData, doc transcript.Document, acc *tokens.Accumulator) *analysis.Result {
	result, err := p.analyzer.Analyze(ctx, data.Tenant, doc)
	if err != nil {
		log.Warn("transcript analysis degraded to fallback", "error", err)
	}

	details, err := result.Details()
	if err != nil {
		log.Error("encoding analysis details failed", "error", err)
	} else if err := p.store.UpdateCallAnalysis(ctx, data.CallSID, result.CallType, details); err != nil {
		log.Error("persisting analysis failed", "error", err)
	}

	if result.Usage.TotalTokens > 0 {
		acc.AddAnalysisTokens(result.Usage, p.analyzer.Model())
	}
	return result
}

// dispatch runs stage 5 and records the copy generation's token usage.
func (p *Pipeline) dispatch(ctx context.Context, log *slog.Logger, data CallData, callerPhone string, result *analysis.Result, acc *tokens.Accumulator) {
	if p.dispatcher == nil {
		return
	}
	out := p.dispatcher.Dispatch(ctx, notify.Input{
		CallSID:     data.CallSID,
		Tenant:      data.Tenant,
		CallerPhone: callerPhone,
		Result:      result,
	})
	if out.Status != notify.StatusSuccess {
		log.Warn("notification dispatch incomplete", "status", out.Status)
	}
	if out.Usage.TotalTokens > 0 {
		acc.AddWhatsappTokens(out.Usage, out.GenerationModel)
	}
}
