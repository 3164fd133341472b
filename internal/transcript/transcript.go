// Package transcript accumulates conversation turns during a call and
// finalizes them into the persisted transcript document.
//
// Turns arrive interleaved from the model stream: user turns from input
// transcription, assistant turns from output transcription, both often split
// across several partial fragments. Finalization merges adjacent same-role
// turns so the stored conversation alternates in role.
package transcript

import (
	"encoding/json"
	"fmt"
	"strings"
	"sync"
)

// Roles used in transcript turns.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Turn is one utterance in the conversation.
type Turn struct {
	Role string `json:"role"`
	Text string `json:"text"`
}

// Document is the persisted transcript layout.
type Document struct {
	SessionID    string `json:"session_id"`
	Conversation []Turn `json:"conversation"`
}

// Manager collects turns for one call. Safe for concurrent use; the inbound
// and outbound pumps both append.
type Manager struct {
	mu        sync.Mutex
	sessionID string
	turns     []Turn
}

// NewManager creates a Manager for the given session.
func NewManager(sessionID string) *Manager {
	return &Manager{sessionID: sessionID}
}

// Add appends one turn. Empty or whitespace-only text is dropped.
func (m *Manager) Add(role, text string) {
	text = strings.TrimSpace(text)
	if text == "" {
		return
	}
	m.mu.Lock()
	m.turns = append(m.turns, Turn{Role: role, Text: text})
	m.mu.Unlock()
}

// Len returns the number of raw turns accumulated so far.
func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.turns)
}

// Turns returns a snapshot of the raw (unmerged) turns.
func (m *Manager) Turns() []Turn {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Turn, len(m.turns))
	copy(out, m.turns)
	return out
}

// Finalize merges adjacent same-role turns and returns the transcript
// document. The manager's state is not consumed; calling Finalize twice
// yields the same document.
func (m *Manager) Finalize() Document {
	return Document{
		SessionID:    m.sessionID,
		Conversation: Merge(m.Turns()),
	}
}

// Merge collapses consecutive same-role turns into one turn whose text is
// joined with a single space. Merging is idempotent: applying it to an
// already-merged conversation returns it unchanged.
func Merge(turns []Turn) []Turn {
	merged := []Turn{}
	for _, t := range turns {
		if n := len(merged); n > 0 && merged[n-1].Role == t.Role {
			merged[n-1].Text += " " + t.Text
			continue
		}
		merged = append(merged, t)
	}
	return merged
}

// JSON renders the document as the persisted transcript blob.
func (d Document) JSON() (json.RawMessage, error) {
	raw, err := json.Marshal(d)
	if err != nil {
		return nil, fmt.Errorf("transcript: marshal document: %w", err)
	}
	return raw, nil
}

// Render formats the conversation as "role: text" lines for the analyzer
// prompt.
func (d Document) Render() string {
	var b strings.Builder
	for _, t := range d.Conversation {
		b.WriteString(t.Role)
		b.WriteString(": ")
		b.WriteString(t.Text)
		b.WriteString("\n")
	}
	return b.String()
}
