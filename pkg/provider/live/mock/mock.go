// Package mock provides test doubles for the live package interfaces.
//
// Use Provider to verify Connect calls and feed controlled sessions. Use
// Session to drive the frame stream and inspect which methods the bridge
// invoked.
//
// Example:
//
//	sess := &mock.Session{FramesCh: make(chan live.Frame, 8)}
//	p := &mock.Provider{Session: sess}
//	handle, _ := p.Connect(ctx, cfg)
package mock

import (
	"context"
	"sync"

	"github.com/SandilyaSub/Receptionist/pkg/provider/live"
)

// ConnectCall records a single invocation of Provider.Connect.
type ConnectCall struct {
	// Ctx is the context passed to Connect.
	Ctx context.Context
	// Cfg is the SessionConfig passed to Connect.
	Cfg live.SessionConfig
}

// Provider is a mock implementation of live.Provider.
type Provider struct {
	mu sync.Mutex

	// Session is the Session returned by Connect. If nil, Connect returns a
	// new default Session with a buffered frame channel.
	Session live.Session

	// ConnectErr, if non-nil, is returned as the error from Connect.
	ConnectErr error

	// ConnectErrs, if non-empty, is consumed one entry per Connect call
	// before falling back to ConnectErr. A nil entry means that attempt
	// succeeds. Useful for exercising retry envelopes.
	ConnectErrs []error

	// ConnectCalls records every call to Connect in order.
	ConnectCalls []ConnectCall
}

// Connect records the call and returns the configured session or error.
func (p *Provider) Connect(ctx context.Context, cfg live.SessionConfig) (live.Session, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.ConnectCalls = append(p.ConnectCalls, ConnectCall{Ctx: ctx, Cfg: cfg})

	if len(p.ConnectErrs) > 0 {
		err := p.ConnectErrs[0]
		p.ConnectErrs = p.ConnectErrs[1:]
		if err != nil {
			return nil, err
		}
	} else if p.ConnectErr != nil {
		return nil, p.ConnectErr
	}

	if p.Session != nil {
		return p.Session, nil
	}
	return &Session{FramesCh: make(chan live.Frame, 64)}, nil
}

// Calls returns a snapshot of recorded Connect calls. Thread-safe.
func (p *Provider) Calls() []ConnectCall {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]ConnectCall, len(p.ConnectCalls))
	copy(out, p.ConnectCalls)
	return out
}

// Ensure Provider implements live.Provider at compile time.
var _ live.Provider = (*Provider)(nil)

// SendAudioCall records a single invocation of Session.SendAudio.
type SendAudioCall struct {
	// Chunk is a copy of the audio bytes that were passed to SendAudio.
	Chunk []byte
}

// SendTextCall records a single invocation of Session.SendText.
type SendTextCall struct {
	Role         string
	Text         string
	TurnComplete bool
}

// Session is a mock implementation of live.Session.
// Callers should pre-populate FramesCh, then close it to signal
// end-of-session.
type Session struct {
	mu sync.Mutex

	// FramesCh is the channel returned by Frames(). Callers own this channel.
	FramesCh chan live.Frame

	// SendAudioErr, if non-nil, is returned by every SendAudio call.
	SendAudioErr error

	// SendTextErr, if non-nil, is returned by every SendText call.
	SendTextErr error

	// ErrVal is returned by Err.
	ErrVal error

	// CloseErr, if non-nil, is returned by Close.
	CloseErr error

	// SendAudioCalls records every call to SendAudio in order.
	SendAudioCalls []SendAudioCall

	// SendTextCalls records every call to SendText in order.
	SendTextCalls []SendTextCall

	// CloseCallCount is the number of times Close was called.
	CloseCallCount int
}

// SendAudio records the call and returns SendAudioErr.
func (s *Session) SendAudio(chunk []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := make([]byte, len(chunk))
	copy(cp, chunk)
	s.SendAudioCalls = append(s.SendAudioCalls, SendAudioCall{Chunk: cp})
	return s.SendAudioErr
}

// SendText records the call and returns SendTextErr.
func (s *Session) SendText(role, text string, turnComplete bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.SendTextCalls = append(s.SendTextCalls, SendTextCall{Role: role, Text: text, TurnComplete: turnComplete})
	return s.SendTextErr
}

// Frames returns FramesCh.
func (s *Session) Frames() <-chan live.Frame {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.FramesCh
}

// Err returns ErrVal.
func (s *Session) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ErrVal
}

// Close records the call and returns CloseErr.
func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.CloseCallCount++
	return s.CloseErr
}

// AudioSent returns a snapshot of all audio chunks passed to SendAudio.
// Thread-safe.
func (s *Session) AudioSent() [][]byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([][]byte, len(s.SendAudioCalls))
	for i, c := range s.SendAudioCalls {
		out[i] = c.Chunk
	}
	return out
}

// TextSent returns a snapshot of all SendText calls. Thread-safe.
func (s *Session) TextSent() []SendTextCall {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]SendTextCall, len(s.SendTextCalls))
	copy(out, s.SendTextCalls)
	return out
}

// Ensure Session implements live.Session at compile time.
var _ live.Session = (*Session)(nil)
