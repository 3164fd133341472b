// Package live defines the Provider interface for realtime speech backends.
//
// A live provider wraps a voice AI service that accepts raw audio input and
// returns synthesised audio output in a single, stateful streaming session —
// there is no separate STT → LLM → TTS pipeline. The caller feeds caller
// audio in and consumes a single stream of decoded [Frame] values carrying
// audio, transcriptions, token usage, and turn boundaries.
//
// All implementations must be safe for concurrent use.
package live

import "context"

// Kind discriminates the variants of a [Frame]. The model stream is decoded
// once at the session boundary into these tags; consumers dispatch on Kind
// instead of probing optional fields.
type Kind int

const (
	// KindAudio carries a chunk of synthesised speech (s16le mono PCM at the
	// provider's output rate).
	KindAudio Kind = iota + 1

	// KindUserTranscript carries the model's recognition of caller speech.
	KindUserTranscript

	// KindAssistantTranscript carries the text form of the model's spoken output.
	KindAssistantTranscript

	// KindAssistantText carries a text-only model response with no audio.
	KindAssistantText

	// KindUsage carries one per-turn token accounting record.
	KindUsage

	// KindTurnComplete marks the end of a model response turn.
	KindTurnComplete

	// KindInterrupted signals that the model abandoned the current response
	// because the caller started speaking.
	KindInterrupted
)

// ModalityTokens is a per-modality token sub-count inside a usage record.
type ModalityTokens struct {
	Modality string
	Tokens   int
}

// Usage is one token accounting record emitted by the model stream.
// Any field the provider did not report is zero.
type Usage struct {
	TotalTokens    int
	PromptTokens   int
	ResponseTokens int

	PromptDetails   []ModalityTokens
	ResponseDetails []ModalityTokens
}

// Frame is one decoded event from the model stream. Exactly the fields
// relevant to Kind are populated.
type Frame struct {
	Kind  Kind
	Audio []byte // KindAudio
	Text  string // transcript and text kinds
	Usage *Usage // KindUsage
}

// SessionConfig is the initial configuration for a new live session.
type SessionConfig struct {
	// Instructions is the tenant's system prompt. It is delivered to the
	// model at connect time.
	Instructions string

	// Voice selects the provider's prebuilt voice. Empty selects the
	// provider default.
	Voice string

	// LanguageCode is the BCP-47 code the model should listen and speak in.
	// Empty selects the provider default.
	LanguageCode string
}

// Session represents an open realtime session. It is an interface so that
// test code can supply in-memory implementations without a live connection.
//
// The session sits on the hot path of every call — SendAudio and SendText
// must return quickly, and consumers must drain Frames promptly so the
// provider's receive loop never stalls. All methods are safe for concurrent
// use. Callers must call Close when the session is no longer needed.
type Session interface {
	// SendAudio delivers a raw PCM chunk (16 kHz, s16le, mono) to the model.
	// Returns an error if the session is closed or the transport rejects the
	// write.
	SendAudio(chunk []byte) error

	// SendText delivers a text turn to the model under the given role
	// ("user" or "assistant"). turnComplete controls whether the model may
	// start responding immediately; pass false for side-channel content such
	// as DTMF digits that should not cut off an in-flight response.
	SendText(role, text string, turnComplete bool) error

	// Frames returns a read-only channel of decoded model events. The
	// channel is closed when the session ends or a mid-stream error occurs;
	// check Err afterwards to distinguish the two.
	Frames() <-chan Frame

	// Err returns the error that caused the Frames channel to close
	// prematurely, or nil if the session ended cleanly.
	Err() error

	// Close terminates the session and closes the Frames channel. Calling
	// Close more than once is safe and returns nil.
	Close() error
}

// Provider is the abstraction over any realtime speech backend.
//
// Implementations must be safe for concurrent use; the bridge opens one
// session per phone call and many calls run at once.
type Provider interface {
	// Connect establishes a new session with the given configuration. The
	// returned Session is ready to accept audio immediately. The caller owns
	// the Session and is responsible for calling Close.
	Connect(ctx context.Context, cfg SessionConfig) (Session, error)
}
