// Package telephony implements the Exotel media WebSocket wire format and
// the Exotel REST metadata client.
//
// The media stream is JSON text frames in both directions. Inbound frames are
// decoded into [Frame]; outbound media and mark frames are produced by an
// [Encoder], which owns the per-stream sequence counter.
package telephony

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strconv"
	"sync"
)

// Event identifies a media stream frame type.
type Event string

const (
	EventConnected Event = "connected"
	EventStart     Event = "start"
	EventMedia     Event = "media"
	EventDTMF      Event = "dtmf"
	EventMark      Event = "mark"
	EventClear     Event = "clear"
	EventStop      Event = "stop"
)

// Frame is one JSON frame on the media WebSocket. Exactly the payload field
// matching Event is populated; all others are nil.
type Frame struct {
	Event          Event         `json:"event"`
	SequenceNumber string        `json:"sequence_number,omitempty"`
	StreamSID      string        `json:"stream_sid,omitempty"`
	Start          *StartPayload `json:"start,omitempty"`
	Media          *MediaPayload `json:"media,omitempty"`
	DTMF           *DTMFPayload  `json:"dtmf,omitempty"`
	Mark           *MarkPayload  `json:"mark,omitempty"`
}

// StartPayload carries the call identifiers delivered once per stream.
type StartPayload struct {
	StreamSID        string            `json:"stream_sid"`
	CallSID          string            `json:"call_sid"`
	AccountSID       string            `json:"account_sid"`
	CustomParameters map[string]string `json:"custom_parameters,omitempty"`
}

// MediaPayload carries one chunk of caller or assistant audio.
type MediaPayload struct {
	// Payload is base64-encoded s16le mono PCM.
	Payload string `json:"payload"`

	// Rate is the sample rate of the payload in Hz. Zero means the stream
	// default of 8000.
	Rate int `json:"rate,omitempty"`
}

// DTMFPayload carries one keypad digit.
type DTMFPayload struct {
	Digit string `json:"digit"`
}

// MarkPayload labels a position in the outbound audio stream.
type MarkPayload struct {
	Name string `json:"name"`
}

// Decode parses one inbound frame. Unknown event types decode without error;
// the caller decides whether to skip them.
func Decode(data []byte) (*Frame, error) {
	var f Frame
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("telephony: decode frame: %w", err)
	}
	if f.Event == "" {
		return nil, fmt.Errorf("telephony: frame has no event type")
	}
	return &f, nil
}

// PCM returns the decoded audio bytes of a media frame.
func (m *MediaPayload) PCM() ([]byte, error) {
	raw, err := base64.StdEncoding.DecodeString(m.Payload)
	if err != nil {
		return nil, fmt.Errorf("telephony: decode media payload: %w", err)
	}
	return raw, nil
}

// Encoder produces outbound media and mark frames for one stream.
//
// Sequence numbers are decimal strings, strictly increasing from 1, shared
// across media and mark frames. All methods are safe for concurrent use.
type Encoder struct {
	mu        sync.Mutex
	streamSID string
	seq       int
}

// NewEncoder creates an Encoder for the given stream.
func NewEncoder(streamSID string) *Encoder {
	return &Encoder{streamSID: streamSID}
}

// Media encodes one outbound audio frame. pcm is raw s16le mono samples; the
// payload is base64-encoded on the wire.
func (e *Encoder) Media(pcm []byte) ([]byte, error) {
	e.mu.Lock()
	e.seq++
	seq := e.seq
	e.mu.Unlock()

	f := Frame{
		Event:          EventMedia,
		SequenceNumber: strconv.Itoa(seq),
		StreamSID:      e.streamSID,
		Media:          &MediaPayload{Payload: base64.StdEncoding.EncodeToString(pcm)},
	}
	data, err := json.Marshal(f)
	if err != nil {
		return nil, fmt.Errorf("telephony: encode media frame: %w", err)
	}
	return data, nil
}

// Mark encodes one outbound mark frame.
func (e *Encoder) Mark(name string) ([]byte, error) {
	e.mu.Lock()
	e.seq++
	seq := e.seq
	e.mu.Unlock()

	f := Frame{
		Event:          EventMark,
		SequenceNumber: strconv.Itoa(seq),
		StreamSID:      e.streamSID,
		Mark:           &MarkPayload{Name: name},
	}
	data, err := json.Marshal(f)
	if err != nil {
		return nil, fmt.Errorf("telephony: encode mark frame: %w", err)
	}
	return data, nil
}
