// Package gemini implements the live.Provider interface for Google's Gemini
// Live API.
//
// It establishes a bidirectional WebSocket connection to the Gemini Live
// endpoint and exchanges JSON messages according to the BidiGenerateContent
// protocol. Audio travels as base64-encoded PCM chunks; input and output
// transcriptions and usage metadata are decoded into live.Frame values.
package gemini

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"

	"github.com/SandilyaSub/Receptionist/pkg/provider/live"
)

// Compile-time assertions that Provider and session satisfy the live interfaces.
var _ live.Provider = (*Provider)(nil)
var _ live.Session = (*session)(nil)

// DefaultModel is the Gemini Live model used when WithModel is not given.
const DefaultModel = "gemini-2.5-flash-preview-native-audio-dialog"

const (
	defaultVoice   = "Zephyr"
	defaultBaseURL = "wss://generativelanguage.googleapis.com/ws"

	keepaliveInterval = 20 * time.Second
	keepaliveTimeout  = 5 * time.Second
	setupTimeout      = 10 * time.Second

	// Voice activity detection tuning for telephony audio: react fast to
	// speech onset and treat 500 ms of silence as end of utterance.
	vadStartSensitivity = "START_SENSITIVITY_HIGH"
	vadEndSensitivity   = "END_SENSITIVITY_HIGH"
	vadPrefixPaddingMs  = 20
	vadSilenceMs        = 500

	// Context-window compression keeps long calls inside the model's
	// working set: once the trigger is crossed the provider compresses
	// history down to the sliding-window target.
	compressionTriggerTokens = 25600
	compressionTargetTokens  = 12800
)

// ── Options ────────────────────────────────────────────────────────────────────

// Option is a functional option for configuring a Provider.
type Option func(*Provider)

// WithModel sets the Gemini model used for sessions.
func WithModel(model string) Option {
	return func(p *Provider) { p.model = model }
}

// WithBaseURL overrides the base WebSocket URL. Primarily used in tests to
// point at a local mock server.
func WithBaseURL(url string) Option {
	return func(p *Provider) { p.baseURL = url }
}

// ── Provider ───────────────────────────────────────────────────────────────────

// Provider implements live.Provider for Google's Gemini Live API.
type Provider struct {
	apiKey  string
	model   string
	baseURL string
}

// New creates a new Gemini Live Provider with the given API key and options.
func New(apiKey string, opts ...Option) *Provider {
	p := &Provider{
		apiKey:  apiKey,
		model:   DefaultModel,
		baseURL: defaultBaseURL,
	}
	for _, o := range opts {
		o(p)
	}
	return p
}

// Connect establishes a new Gemini Live session with the given configuration.
// It sends the setup message and blocks until the server acknowledges it with
// setupComplete, so the returned Session is ready to accept audio.
func (p *Provider) Connect(ctx context.Context, cfg live.SessionConfig) (live.Session, error) {
	wsURL := fmt.Sprintf(
		"%s/google.ai.generativelanguage.v1beta.GenerativeService.BidiGenerateContent?key=%s",
		p.baseURL, p.apiKey,
	)

	conn, _, err := websocket.Dial(ctx, wsURL, &websocket.DialOptions{
		HTTPHeader: http.Header{
			"Content-Type": []string{"application/json"},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("gemini: dial: %w", err)
	}

	sessCtx, sessCancel := context.WithCancel(context.Background())
	sess := &session{
		conn:   conn,
		frames: make(chan live.Frame, 64),
		done:   make(chan struct{}),
		ctx:    sessCtx,
		cancel: sessCancel,
	}

	if err := sess.sendSetup(p.model, cfg); err != nil {
		sessCancel()
		conn.Close(websocket.StatusInternalError, "setup failed")
		return nil, fmt.Errorf("gemini: setup: %w", err)
	}

	awaitCtx, awaitCancel := context.WithTimeout(ctx, setupTimeout)
	err = sess.awaitSetup(awaitCtx)
	awaitCancel()
	if err != nil {
		sessCancel()
		conn.Close(websocket.StatusInternalError, "setup not acknowledged")
		return nil, fmt.Errorf("gemini: setup: %w", err)
	}

	go sess.receiveLoop()
	go sess.keepaliveLoop()

	return sess, nil
}

// ── Protocol message types (outgoing) ─────────────────────────────────────────

type setupMessage struct {
	Setup setupConfig `json:"setup"`
}

type setupConfig struct {
	Model                    string              `json:"model"`
	GenerationConfig         generationConfig    `json:"generationConfig"`
	SystemInstruction        *contentTurn        `json:"systemInstruction,omitempty"`
	RealtimeInputConfig      *realtimeInputCfg   `json:"realtimeInputConfig,omitempty"`
	InputAudioTranscription  *json.RawMessage    `json:"inputAudioTranscription,omitempty"`
	OutputAudioTranscription *json.RawMessage    `json:"outputAudioTranscription,omitempty"`
	ContextWindowCompression *contextCompression `json:"contextWindowCompression,omitempty"`
}

type generationConfig struct {
	ResponseModalities []string      `json:"responseModalities"`
	MediaResolution    string        `json:"mediaResolution,omitempty"`
	SpeechConfig       *speechConfig `json:"speechConfig,omitempty"`
}

type speechConfig struct {
	VoiceConfig  voiceConfig `json:"voiceConfig"`
	LanguageCode string      `json:"languageCode,omitempty"`
}

type voiceConfig struct {
	PrebuiltVoiceConfig prebuiltVoiceConfig `json:"prebuiltVoiceConfig"`
}

type prebuiltVoiceConfig struct {
	VoiceName string `json:"voiceName"`
}

type realtimeInputCfg struct {
	AutomaticActivityDetection activityDetection `json:"automaticActivityDetection"`
}

type activityDetection struct {
	StartOfSpeechSensitivity string `json:"startOfSpeechSensitivity,omitempty"`
	EndOfSpeechSensitivity   string `json:"endOfSpeechSensitivity,omitempty"`
	PrefixPaddingMs          int    `json:"prefixPaddingMs,omitempty"`
	SilenceDurationMs        int    `json:"silenceDurationMs,omitempty"`
}

type contextCompression struct {
	TriggerTokens int           `json:"triggerTokens"`
	SlidingWindow slidingWindow `json:"slidingWindow"`
}

type slidingWindow struct {
	TargetTokens int `json:"targetTokens"`
}

type part struct {
	Text       string      `json:"text,omitempty"`
	InlineData *inlineData `json:"inlineData,omitempty"`
}

type inlineData struct {
	MIMEType string `json:"mimeType"`
	Data     string `json:"data"` // base64-encoded
}

type realtimeInputMessage struct {
	RealtimeInput realtimeInput `json:"realtimeInput"`
}

type realtimeInput struct {
	MediaChunks []mediaChunk `json:"mediaChunks"`
}

type mediaChunk struct {
	MIMEType string `json:"mimeType"`
	Data     string `json:"data"` // base64-encoded
}

type clientContentMessage struct {
	ClientContent clientContent `json:"clientContent"`
}

type clientContent struct {
	Turns        []contentTurn `json:"turns"`
	TurnComplete bool          `json:"turnComplete"`
}

type contentTurn struct {
	Role  string `json:"role,omitempty"`
	Parts []part `json:"parts"`
}

// ── Protocol message types (incoming) ─────────────────────────────────────────

type serverMessage struct {
	SetupComplete *json.RawMessage `json:"setupComplete,omitempty"`
	ServerContent *serverContent   `json:"serverContent,omitempty"`
	UsageMetadata *usageMetadata   `json:"usageMetadata,omitempty"`
	GoAway        *json.RawMessage `json:"goAway,omitempty"`
	Error         *geminiError     `json:"error,omitempty"`
}

type geminiError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Status  string `json:"status,omitempty"`
}

type serverContent struct {
	ModelTurn           *modelTurn     `json:"modelTurn,omitempty"`
	TurnComplete        bool           `json:"turnComplete,omitempty"`
	GenerationComplete  bool           `json:"generationComplete,omitempty"`
	Interrupted         bool           `json:"interrupted,omitempty"`
	InputTranscription  *transcription `json:"inputTranscription,omitempty"`
	OutputTranscription *transcription `json:"outputTranscription,omitempty"`
}

type modelTurn struct {
	Parts []part `json:"parts"`
}

type transcription struct {
	Text string `json:"text"`
}

type usageMetadata struct {
	TotalTokenCount       int            `json:"totalTokenCount"`
	PromptTokenCount      int            `json:"promptTokenCount"`
	ResponseTokenCount    int            `json:"responseTokenCount"`
	PromptTokensDetails   []tokensDetail `json:"promptTokensDetails,omitempty"`
	ResponseTokensDetails []tokensDetail `json:"responseTokensDetails,omitempty"`
}

type tokensDetail struct {
	Modality   string `json:"modality"`
	TokenCount int    `json:"tokenCount"`
}

// ── session ────────────────────────────────────────────────────────────────────

type session struct {
	conn   *websocket.Conn
	frames chan live.Frame

	mu     sync.Mutex
	errVal error
	done   chan struct{}
	closed bool

	ctx       context.Context
	cancel    context.CancelFunc
	closeOnce sync.Once
}

// sendSetup sends the initial BidiGenerateContent setup message. The tenant
// prompt travels as user-role content inside systemInstruction; both input
// and output transcription streams are enabled so the bridge can assemble a
// full conversation transcript without running its own recognition.
func (s *session) sendSetup(model string, cfg live.SessionConfig) error {
	empty := json.RawMessage("{}")

	voice := cfg.Voice
	if voice == "" {
		voice = defaultVoice
	}

	msg := setupMessage{
		Setup: setupConfig{
			Model: fmt.Sprintf("models/%s", model),
			GenerationConfig: generationConfig{
				ResponseModalities: []string{"AUDIO"},
				MediaResolution:    "MEDIA_RESOLUTION_MEDIUM",
				SpeechConfig: &speechConfig{
					VoiceConfig: voiceConfig{
						PrebuiltVoiceConfig: prebuiltVoiceConfig{VoiceName: voice},
					},
					LanguageCode: cfg.LanguageCode,
				},
			},
			RealtimeInputConfig: &realtimeInputCfg{
				AutomaticActivityDetection: activityDetection{
					StartOfSpeechSensitivity: vadStartSensitivity,
					EndOfSpeechSensitivity:   vadEndSensitivity,
					PrefixPaddingMs:          vadPrefixPaddingMs,
					SilenceDurationMs:        vadSilenceMs,
				},
			},
			InputAudioTranscription:  &empty,
			OutputAudioTranscription: &empty,
			ContextWindowCompression: &contextCompression{
				TriggerTokens: compressionTriggerTokens,
				SlidingWindow: slidingWindow{TargetTokens: compressionTargetTokens},
			},
		},
	}

	if cfg.Instructions != "" {
		msg.Setup.SystemInstruction = &contentTurn{
			Role:  "user",
			Parts: []part{{Text: cfg.Instructions}},
		}
	}

	return s.writeJSON(msg)
}

// awaitSetup reads server messages until the setupComplete ack arrives.
// Anything else the server says before acknowledging setup is either a hard
// error, which fails the connect, or noise, which is skipped.
func (s *session) awaitSetup(ctx context.Context) error {
	for {
		_, data, err := s.conn.Read(ctx)
		if err != nil {
			return fmt.Errorf("awaiting setupComplete: %w", err)
		}
		var msg serverMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			continue
		}
		if msg.Error != nil {
			return fmt.Errorf("setup rejected: %s", msg.Error.Message)
		}
		if msg.SetupComplete != nil {
			return nil
		}
	}
}

// writeJSON marshals v and writes it as a text WebSocket message.
func (s *session) writeJSON(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("gemini: marshal: %w", err)
	}
	return s.conn.Write(s.ctx, websocket.MessageText, data)
}

// receiveLoop reads messages from the WebSocket and dispatches them.
// It owns the frames channel: it closes it when it exits.
func (s *session) receiveLoop() {
	defer s.closeFrames()

	for {
		_, data, err := s.conn.Read(s.ctx)
		if err != nil {
			// If the session context was cancelled, exit cleanly.
			if s.ctx.Err() != nil {
				return
			}
			s.setErr(err)
			return
		}

		var msg serverMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			continue // skip malformed frames
		}

		if !s.handleServerMessage(&msg) {
			return
		}
	}
}

// handleServerMessage decodes one server message into frames. It returns
// false when the session context was cancelled mid-emit.
func (s *session) handleServerMessage(msg *serverMessage) bool {
	if msg.Error != nil {
		s.setErr(fmt.Errorf("gemini: %s", msg.Error.Message))
		return false
	}

	if msg.UsageMetadata != nil {
		if !s.emit(live.Frame{Kind: live.KindUsage, Usage: decodeUsage(msg.UsageMetadata)}) {
			return false
		}
	}

	if msg.ServerContent != nil {
		return s.handleServerContent(msg.ServerContent)
	}
	return true
}

func (s *session) handleServerContent(sc *serverContent) bool {
	if sc.Interrupted {
		if !s.emit(live.Frame{Kind: live.KindInterrupted}) {
			return false
		}
	}

	if sc.ModelTurn != nil {
		// Emit audio chunks and text parts in a single pass.
		for _, p := range sc.ModelTurn.Parts {
			if p.InlineData != nil {
				audioData, err := base64.StdEncoding.DecodeString(p.InlineData.Data)
				if err != nil || len(audioData) == 0 {
					continue
				}
				if !s.emit(live.Frame{Kind: live.KindAudio, Audio: audioData}) {
					return false
				}
			}
			if p.Text != "" {
				if !s.emit(live.Frame{Kind: live.KindAssistantText, Text: p.Text}) {
					return false
				}
			}
		}
	}

	// Caller speech recognition result.
	if sc.InputTranscription != nil && sc.InputTranscription.Text != "" {
		if !s.emit(live.Frame{Kind: live.KindUserTranscript, Text: sc.InputTranscription.Text}) {
			return false
		}
	}

	// Text form of the model's spoken output.
	if sc.OutputTranscription != nil && sc.OutputTranscription.Text != "" {
		if !s.emit(live.Frame{Kind: live.KindAssistantTranscript, Text: sc.OutputTranscription.Text}) {
			return false
		}
	}

	if sc.TurnComplete {
		if !s.emit(live.Frame{Kind: live.KindTurnComplete}) {
			return false
		}
	}
	return true
}

func decodeUsage(um *usageMetadata) *live.Usage {
	u := &live.Usage{
		TotalTokens:    um.TotalTokenCount,
		PromptTokens:   um.PromptTokenCount,
		ResponseTokens: um.ResponseTokenCount,
	}
	for _, d := range um.PromptTokensDetails {
		u.PromptDetails = append(u.PromptDetails, live.ModalityTokens{Modality: d.Modality, Tokens: d.TokenCount})
	}
	for _, d := range um.ResponseTokensDetails {
		u.ResponseDetails = append(u.ResponseDetails, live.ModalityTokens{Modality: d.Modality, Tokens: d.TokenCount})
	}
	return u
}

// emit delivers one frame, giving up when the session context is cancelled.
func (s *session) emit(f live.Frame) bool {
	select {
	case s.frames <- f:
		return true
	case <-s.ctx.Done():
		return false
	}
}

// keepaliveLoop sends WebSocket pings to keep the Gemini Live connection alive.
func (s *session) keepaliveLoop() {
	ticker := time.NewTicker(keepaliveInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.done:
			return
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			pingCtx, cancel := context.WithTimeout(s.ctx, keepaliveTimeout)
			_ = s.conn.Ping(pingCtx)
			cancel()
		}
	}
}

func (s *session) setErr(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.errVal == nil {
		s.errVal = err
	}
}

func (s *session) closeFrames() {
	s.closeOnce.Do(func() {
		close(s.frames)
	})
}

// ── Session methods ────────────────────────────────────────────────────────────

// SendAudio delivers a raw PCM audio chunk (16 kHz, s16le, mono) to the model.
func (s *session) SendAudio(chunk []byte) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return fmt.Errorf("gemini: session closed")
	}
	s.mu.Unlock()

	encoded := base64.StdEncoding.EncodeToString(chunk)
	msg := realtimeInputMessage{
		RealtimeInput: realtimeInput{
			MediaChunks: []mediaChunk{
				{MIMEType: "audio/pcm;rate=16000", Data: encoded},
			},
		},
	}
	return s.writeJSON(msg)
}

// SendText delivers a text turn as clientContent under the given role.
func (s *session) SendText(role, text string, turnComplete bool) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return fmt.Errorf("gemini: session closed")
	}
	s.mu.Unlock()

	switch role {
	case "assistant":
		role = "model"
	case "model", "user":
		// already correct
	default:
		role = "user"
	}

	msg := clientContentMessage{
		ClientContent: clientContent{
			Turns: []contentTurn{
				{Role: role, Parts: []part{{Text: text}}},
			},
			TurnComplete: turnComplete,
		},
	}
	return s.writeJSON(msg)
}

// Frames returns the channel on which decoded model events arrive.
func (s *session) Frames() <-chan live.Frame { return s.frames }

// Err returns the first non-nil error that caused the session to terminate.
func (s *session) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.errVal
}

// Close terminates the session and releases all resources. Idempotent.
func (s *session) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	s.cancel()    // unblocks receiveLoop and keepaliveLoop
	close(s.done) // signals keepaliveLoop via done channel
	s.conn.Close(websocket.StatusNormalClosure, "session closed")
	return nil
}
