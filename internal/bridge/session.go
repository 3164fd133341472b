// Package bridge connects one telephony media WebSocket to one realtime
// model session and drives the call's full lifecycle: startup handshake,
// bidirectional audio pumping, keep-alive, timeouts, and the post-call
// pipeline handoff.
package bridge

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/SandilyaSub/Receptionist/internal/observe"
	"github.com/SandilyaSub/Receptionist/internal/postcall"
	"github.com/SandilyaSub/Receptionist/internal/telephony"
	"github.com/SandilyaSub/Receptionist/internal/tenant"
	"github.com/SandilyaSub/Receptionist/internal/transcript"
	"github.com/SandilyaSub/Receptionist/pkg/audio"
	"github.com/SandilyaSub/Receptionist/pkg/provider/live"
)

// State is the session lifecycle position. Transitions follow the call's
// state machine; see Run.
type State int

const (
	StateInitializing State = iota
	StateAwaitingStart
	StateActive
	StateDegraded
	StateClosing
	StateClosed
)

// String implements fmt.Stringer.
func (s State) String() string {
	switch s {
	case StateInitializing:
		return "initializing"
	case StateAwaitingStart:
		return "awaiting_start"
	case StateActive:
		return "active"
	case StateDegraded:
		return "degraded"
	case StateClosing:
		return "closing"
	case StateClosed:
		return "closed"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// errCallEnded signals a normal end of call (stop frame, peer close, or a
// timeout termination) through the pump errgroup.
var errCallEnded = errors.New("bridge: call ended")

// Socket is the session's view of the telephony WebSocket. Implemented over
// coder/websocket by the server; faked in tests.
type Socket interface {
	// Read returns the next text frame. It returns an error when the peer
	// closes or ctx is cancelled.
	Read(ctx context.Context) ([]byte, error)

	// Write sends one text frame.
	Write(ctx context.Context, data []byte) error
}

// Config carries the session's tunables. Zero values select production
// defaults; tests shrink the timing knobs.
type Config struct {
	StartDeadline     time.Duration // wait for the start frame; default 10s
	FlushSize         int           // outbound flush threshold in model-rate bytes; default 3840 (80 ms at 24 kHz)
	MinChunkSize      int           // smallest emitted payload in telephony-rate bytes; default 3840
	FlushInterval     time.Duration // outbound flush interval; default 100ms
	KeepAliveInterval time.Duration // mark keep-alive period; default 30s
	KeepAliveFailures int           // consecutive failures before degraded; default 3
	ConnectAttempts   int           // model connect attempts; default 3
	ConnectBackoff    time.Duration // first connect retry delay, doubling; default 1s
	InactivityTimeout time.Duration // no caller audio before termination; default 120s
	MaxCallDuration   time.Duration // hard call length cap; default 600s
	TerminationGrace  time.Duration // time for the model to speak the goodbye; default 8s
	WatchdogInterval  time.Duration // timeout check period; default 5s
	DrainDeadline     time.Duration // outbound drain cap at shutdown; default 30s

	Voice           string // model voice name; empty selects the provider default
	ModelOutputRate int    // model audio output rate in Hz; default 24000
	ModelName       string // reported in token accounting
}

func (c *Config) applyDefaults() {
	if c.StartDeadline <= 0 {
		c.StartDeadline = 10 * time.Second
	}
	if c.FlushSize <= 0 {
		c.FlushSize = 3840
	}
	if c.MinChunkSize <= 0 {
		c.MinChunkSize = 3840
	}
	if c.FlushInterval <= 0 {
		c.FlushInterval = 100 * time.Millisecond
	}
	if c.KeepAliveInterval <= 0 {
		c.KeepAliveInterval = 30 * time.Second
	}
	if c.KeepAliveFailures <= 0 {
		c.KeepAliveFailures = 3
	}
	if c.ConnectAttempts <= 0 {
		c.ConnectAttempts = 3
	}
	if c.ConnectBackoff <= 0 {
		c.ConnectBackoff = time.Second
	}
	if c.InactivityTimeout <= 0 {
		c.InactivityTimeout = 120 * time.Second
	}
	if c.MaxCallDuration <= 0 {
		c.MaxCallDuration = 600 * time.Second
	}
	if c.TerminationGrace <= 0 {
		c.TerminationGrace = 8 * time.Second
	}
	if c.WatchdogInterval <= 0 {
		c.WatchdogInterval = 5 * time.Second
	}
	if c.DrainDeadline <= 0 {
		c.DrainDeadline = 30 * time.Second
	}
	if c.ModelOutputRate <= 0 {
		c.ModelOutputRate = audio.ModelOutputRate
	}
}

// telephonyChunkGranularity is the peer's smallest acceptable payload unit:
// 20 ms at 8 kHz, 16-bit mono.
const telephonyChunkGranularity = 320

// Session drives one call. Create with NewSession, use once via Run.
type Session struct {
	id       string
	cfg      Config
	tenants  *tenant.Cache
	provider live.Provider
	pipeline *postcall.Pipeline
	log      *slog.Logger

	socket  Socket
	metrics *observe.Metrics
	writeMu sync.Mutex // serializes socket writes across pumps

	mu          sync.Mutex
	state       State
	sess        live.Session
	enc         *telephony.Encoder
	outBuf      []byte
	outModelLen int // model-rate bytes behind outBuf, drives the size trigger
	outConv     *audio.Converter
	lastFlush   time.Time
	chunkCount  int
	lastAudio   time.Time
	usages      []live.Usage

	transcript *transcript.Manager
	tenantCfg  *tenant.Config
	callSID    string
	streamSID  string
	accountSID string
}

// SessionOption is a functional option for a Session.
type SessionOption func(*Session)

// WithSessionMetrics attaches metric instruments to the session.
func WithSessionMetrics(m *observe.Metrics) SessionOption {
	return func(s *Session) {
		s.metrics = m
	}
}

// NewSession creates a Session. pipeline may be nil, in which case no
// post-call work runs (used by protocol-level tests).
func NewSession(id string, cfg Config, tenants *tenant.Cache, provider live.Provider, pipeline *postcall.Pipeline, log *slog.Logger, opts ...SessionOption) *Session {
	cfg.applyDefaults()
	if log == nil {
		log = slog.Default()
	}
	s := &Session{
		id:         id,
		cfg:        cfg,
		tenants:    tenants,
		provider:   provider,
		pipeline:   pipeline,
		log:        log.With("component", "session", "session_id", id),
		state:      StateInitializing,
		transcript: transcript.NewManager(id),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// State returns the current lifecycle state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Session) setState(st State) {
	s.mu.Lock()
	prev := s.state
	s.state = st
	s.mu.Unlock()
	if prev != st {
		s.log.Debug("session state change", "from", prev.String(), "to", st.String())
	}
}

// Run blocks until the call ends. Errors inside the call are absorbed into
// logs and the returned error; the post-call pipeline is driven to
// completion best-effort before returning whenever a start frame was seen.
func (s *Session) Run(ctx context.Context, socket Socket, initialTenant string) error {
	s.socket = socket
	s.setState(StateAwaitingStart)

	start, err := s.awaitStart(ctx)
	if err != nil {
		// No call identity was captured, so there is nothing to persist.
		s.setState(StateClosed)
		return fmt.Errorf("bridge: awaiting start frame: %w", err)
	}

	s.mu.Lock()
	s.callSID = start.CallSID
	s.streamSID = start.StreamSID
	s.accountSID = start.AccountSID
	s.enc = telephony.NewEncoder(start.StreamSID)
	s.outConv = &audio.Converter{SrcRate: s.cfg.ModelOutputRate, DstRate: audio.TelephonyRate}
	s.lastFlush = time.Now()
	s.lastAudio = time.Now()
	s.mu.Unlock()

	cfg, err := s.resolveTenant(ctx, initialTenant, start.CustomParameters["tenant"])
	if err != nil {
		s.setState(StateClosed)
		return fmt.Errorf("bridge: resolve tenant: %w", err)
	}
	s.tenantCfg = cfg
	s.log = s.log.With("tenant", cfg.ID, "call_sid", start.CallSID)

	sess, err := s.connect(ctx)
	if err != nil {
		s.log.Error("model stream unavailable, ending call", "error", err)
		s.setState(StateClosing)
		s.runPipeline()
		s.setState(StateClosed)
		return err
	}
	s.setSession(sess)
	s.setState(StateActive)

	greeting := Greeting(cfg)
	if err := sess.SendText(transcript.RoleUser, "Please greet the caller with exactly this message: "+greeting, true); err != nil {
		s.log.Warn("sending greeting failed", "error", err)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return s.inboundPump(gctx) })
	g.Go(func() error { return s.outboundPump(gctx) })
	g.Go(func() error { return s.keepAlive(gctx) })
	runErr := g.Wait()

	s.setState(StateClosing)
	s.drain()
	s.runPipeline()
	s.setState(StateClosed)

	if errors.Is(runErr, errCallEnded) || errors.Is(runErr, context.Canceled) {
		return nil
	}
	return runErr
}

// awaitStart reads frames until the start frame arrives or the deadline
// expires. Non-start frames before it are skipped.
func (s *Session) awaitStart(ctx context.Context) (*telephony.StartPayload, error) {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.StartDeadline)
	defer cancel()

	for {
		data, err := s.socket.Read(ctx)
		if err != nil {
			return nil, err
		}
		f, err := telephony.Decode(data)
		if err != nil {
			s.log.Warn("dropping malformed frame before start", "error", err)
			continue
		}
		if f.Event != telephony.EventStart {
			continue
		}
		if f.Start == nil {
			return nil, fmt.Errorf("start frame carries no payload")
		}
		return f.Start, nil
	}
}

// resolveTenant applies the start-frame override only when it names a known
// tenant, then resolves to a validated config (falling back to the default
// tenant for unknown ids).
func (s *Session) resolveTenant(ctx context.Context, initial, override string) (*tenant.Config, error) {
	id := initial
	if override != "" && s.tenants.Known(ctx, override) {
		id = override
	}
	return s.tenants.Resolve(ctx, id)
}

// connect opens the model stream, retrying with exponential backoff.
func (s *Session) connect(ctx context.Context) (live.Session, error) {
	cfg := live.SessionConfig{
		Instructions: s.tenantCfg.AssistantPrompt,
		Voice:        s.cfg.Voice,
		LanguageCode: s.tenantCfg.LanguageCode,
	}

	backoff := s.cfg.ConnectBackoff
	var lastErr error
	for attempt := range s.cfg.ConnectAttempts {
		if attempt > 0 {
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
			backoff *= 2
		}
		sess, err := s.provider.Connect(ctx, cfg)
		if err == nil {
			return sess, nil
		}
		lastErr = err
		s.log.Warn("model connect failed", "attempt", attempt+1, "error", err)
	}
	return nil, fmt.Errorf("bridge: connect model stream: %w", lastErr)
}

func (s *Session) session() live.Session {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sess
}

func (s *Session) setSession(sess live.Session) {
	s.mu.Lock()
	s.sess = sess
	s.mu.Unlock()
}

// ── Inbound pump: telephony → model ──

func (s *Session) inboundPump(ctx context.Context) error {
	conv := &audio.Converter{SrcRate: audio.TelephonyRate, DstRate: audio.ModelInputRate}

	for {
		data, err := s.socket.Read(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			// Peer closed the media stream.
			return errCallEnded
		}

		f, err := telephony.Decode(data)
		if err != nil {
			s.log.Warn("dropping malformed frame", "error", err)
			continue
		}
		if s.metrics != nil {
			s.metrics.RecordTelephonyFrame(ctx, string(f.Event))
		}

		switch f.Event {
		case telephony.EventMedia:
			if f.Media == nil {
				continue
			}
			pcm, err := f.Media.PCM()
			if err != nil {
				s.log.Warn("dropping undecodable media frame", "error", err)
				continue
			}
			s.touchAudio()

			rate := f.Media.Rate
			if rate == 0 {
				rate = audio.TelephonyRate
			}
			if rate != audio.ModelInputRate {
				if conv.SrcRate != rate {
					conv = &audio.Converter{SrcRate: rate, DstRate: audio.ModelInputRate}
				}
				pcm = conv.Convert(pcm)
			}
			if err := s.session().SendAudio(pcm); err != nil {
				s.log.Warn("forwarding caller audio failed", "error", err)
			}

		case telephony.EventDTMF:
			if f.DTMF == nil || f.DTMF.Digit == "" {
				continue
			}
			// Side-channel content: must not cut off an in-flight response.
			if err := s.session().SendText(transcript.RoleUser, "The caller pressed the keypad digit "+f.DTMF.Digit+".", false); err != nil {
				s.log.Warn("forwarding dtmf failed", "error", err)
			}

		case telephony.EventClear:
			s.clearOutbound()

		case telephony.EventStop:
			return errCallEnded

		default:
			// connected, mark, and unknown events carry nothing for us.
		}
	}
}

func (s *Session) touchAudio() {
	s.mu.Lock()
	s.lastAudio = time.Now()
	s.mu.Unlock()
}

func (s *Session) lastAudioAt() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastAudio
}

// ── Outbound pump: model → telephony ──

func (s *Session) outboundPump(ctx context.Context) error {
	ticker := time.NewTicker(s.cfg.FlushInterval)
	defer ticker.Stop()

	for {
		sess := s.session()
		frames := sess.Frames()

	consume:
		for {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case f, ok := <-frames:
				if !ok {
					break consume
				}
				s.handleModelFrame(ctx, f)
			case <-ticker.C:
				s.flushIfStale(ctx)
			}
		}

		streamErr := sess.Err()
		if streamErr == nil {
			// Model ended the stream cleanly.
			return errCallEnded
		}
		s.log.Warn("model stream broke mid-call, reconnecting", "error", streamErr)

		// Release whatever speech we already hold before retrying.
		s.flush(ctx)
		next, err := s.connect(ctx)
		if err != nil {
			return err
		}
		s.setSession(next)
	}
}

func (s *Session) handleModelFrame(ctx context.Context, f live.Frame) {
	switch f.Kind {
	case live.KindAudio:
		s.appendAudio(ctx, f.Audio)
	case live.KindUserTranscript:
		s.transcript.Add(transcript.RoleUser, f.Text)
	case live.KindAssistantTranscript, live.KindAssistantText:
		s.transcript.Add(transcript.RoleAssistant, f.Text)
	case live.KindUsage:
		if f.Usage != nil {
			s.mu.Lock()
			s.usages = append(s.usages, *f.Usage)
			s.mu.Unlock()
		}
	case live.KindInterrupted:
		// The caller barged in; whatever we buffered is now stale speech.
		s.clearOutbound()
	case live.KindTurnComplete:
	}
}

// appendAudio downsamples one model chunk into the telephony-rate outbound
// buffer. The size trigger counts the bytes the model produced, not the
// downsampled buffer: 3840 model-rate bytes is 80 ms of speech, while the
// same count at telephony rate would take three times as long to accumulate.
func (s *Session) appendAudio(ctx context.Context, chunk []byte) {
	if len(chunk) == 0 {
		return
	}
	s.mu.Lock()
	s.outBuf = append(s.outBuf, s.outConv.Convert(chunk)...)
	s.outModelLen += len(chunk)
	full := s.outModelLen >= s.cfg.FlushSize
	s.mu.Unlock()

	if full {
		s.flush(ctx)
	}
}

// flushIfStale flushes a non-empty buffer that has waited a full interval.
func (s *Session) flushIfStale(ctx context.Context) {
	s.mu.Lock()
	stale := len(s.outBuf) > 0 && time.Since(s.lastFlush) >= s.cfg.FlushInterval
	s.mu.Unlock()
	if stale {
		s.flush(ctx)
	}
}

// flush emits the buffered audio as one media+mark pair. Short payloads are
// zero-padded to the minimum chunk size; longer ones to the peer's 320-byte
// granularity. Write errors drop the frames and the call continues.
func (s *Session) flush(ctx context.Context) {
	s.mu.Lock()
	pcm := s.outBuf
	s.outBuf = nil
	s.outModelLen = 0
	s.lastFlush = time.Now()
	if len(pcm) == 0 {
		s.mu.Unlock()
		return
	}
	s.chunkCount++
	markName := fmt.Sprintf("audio_chunk_%d", s.chunkCount)
	enc := s.enc
	s.mu.Unlock()

	if pad := paddedSize(len(pcm), s.cfg.MinChunkSize); pad > len(pcm) {
		pcm = append(pcm, make([]byte, pad-len(pcm))...)
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	media, err := enc.Media(pcm)
	if err != nil {
		s.log.Warn("encoding media frame failed", "error", err)
		return
	}
	if err := s.socket.Write(ctx, media); err != nil {
		s.log.Warn("writing media frame failed", "error", err)
		return
	}
	mark, err := enc.Mark(markName)
	if err != nil {
		s.log.Warn("encoding mark frame failed", "error", err)
		return
	}
	if err := s.socket.Write(ctx, mark); err != nil {
		s.log.Warn("writing mark frame failed", "error", err)
		return
	}
	if s.metrics != nil {
		s.metrics.FlushedChunks.Add(ctx, 1)
	}
}

// paddedSize rounds n up to the minimum chunk size, or past it to the next
// multiple of the telephony granularity.
func paddedSize(n, minSize int) int {
	if n <= minSize {
		return minSize
	}
	if rem := n % telephonyChunkGranularity; rem != 0 {
		return n + telephonyChunkGranularity - rem
	}
	return n
}

// clearOutbound drops buffered speech and resets the flush clock and the
// resampler carry, so no half-spoken utterance survives a barge-in.
func (s *Session) clearOutbound() {
	s.mu.Lock()
	s.outBuf = nil
	s.outModelLen = 0
	s.lastFlush = time.Now()
	if s.outConv != nil {
		s.outConv.Reset()
	}
	s.mu.Unlock()
}

// ── Keep-alive and timeout watchdog ──

func (s *Session) keepAlive(ctx context.Context) error {
	ka := time.NewTicker(s.cfg.KeepAliveInterval)
	defer ka.Stop()
	wd := time.NewTicker(s.cfg.WatchdogInterval)
	defer wd.Stop()

	started := time.Now()
	failures := 0

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case <-ka.C:
			if err := s.writeMark(ctx, "keep_alive"); err != nil {
				failures++
				s.log.Warn("keep-alive send failed", "consecutive", failures, "error", err)
				if s.metrics != nil {
					s.metrics.KeepAliveFailures.Add(ctx, 1)
				}
				if failures >= s.cfg.KeepAliveFailures && s.State() == StateActive {
					s.setState(StateDegraded)
				}
				continue
			}
			failures = 0
			if s.State() == StateDegraded {
				s.setState(StateActive)
			}

		case <-wd.C:
			if time.Since(s.lastAudioAt()) > s.cfg.InactivityTimeout {
				s.log.Info("inactivity timeout, terminating call")
				return s.terminate(ctx, inactivityMessage(s.tenantCfg.LanguageCode))
			}
			if time.Since(started) > s.cfg.MaxCallDuration {
				s.log.Info("max call duration reached, terminating call")
				return s.terminate(ctx, durationMessage(s.tenantCfg.LanguageCode))
			}
		}
	}
}

func (s *Session) writeMark(ctx context.Context, name string) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	data, err := s.enc.Mark(name)
	if err != nil {
		return err
	}
	return s.socket.Write(ctx, data)
}

// terminate has the model speak a goodbye line, allows a grace period for it
// to reach the caller, then ends the call.
func (s *Session) terminate(ctx context.Context, message string) error {
	if err := s.session().SendText(transcript.RoleUser, "Say exactly this to the caller, then stop speaking: "+message, true); err != nil {
		s.log.Warn("sending termination message failed", "error", err)
	}
	select {
	case <-time.After(s.cfg.TerminationGrace):
	case <-ctx.Done():
	}
	return errCallEnded
}

// ── Shutdown ──

// drain flushes remaining speech, closes the model stream, and harvests any
// transcripts or usage records still queued on it, all within the drain cap.
func (s *Session) drain() {
	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.DrainDeadline)
	defer cancel()

	s.flush(ctx)

	sess := s.session()
	if sess == nil {
		return
	}
	if err := sess.Close(); err != nil {
		s.log.Warn("closing model stream failed", "error", err)
	}
	for {
		select {
		case f, ok := <-sess.Frames():
			if !ok {
				s.flush(ctx)
				return
			}
			s.handleModelFrame(ctx, f)
		case <-ctx.Done():
			return
		}
	}
}

// runPipeline hands the finished call to the post-call stages on a fresh
// context so socket teardown cannot abort persistence.
func (s *Session) runPipeline() {
	if s.pipeline == nil || s.tenantCfg == nil {
		return
	}
	s.mu.Lock()
	usages := make([]live.Usage, len(s.usages))
	copy(usages, s.usages)
	callSID, streamSID := s.callSID, s.streamSID
	s.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()
	s.pipeline.Run(ctx, postcall.CallData{
		SessionID:         s.id,
		CallSID:           callSID,
		StreamSID:         streamSID,
		Tenant:            s.tenantCfg,
		Transcript:        s.transcript,
		ConversationUsage: usages,
		ConversationModel: s.cfg.ModelName,
	})
}
