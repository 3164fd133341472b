// Package storage defines the persistence interfaces for call records,
// tenant configuration, and notification audit rows.
//
// Implementors must be safe for concurrent use; one post-call pipeline runs
// per finished call and many calls finish at once. The PostgreSQL
// implementation lives in the postgres subpackage; test doubles live in mock.
package storage

import (
	"context"
	"encoding/json"
	"errors"
	"time"
)

// ErrNotFound is returned by lookups when no row matches.
var ErrNotFound = errors.New("storage: not found")

// Tenant mirrors one row of tenant_configs.
type Tenant struct {
	// ID is the tenant identifier used in WebSocket paths and query params.
	ID string

	// IsActive gates whether the tenant may be resolved for new calls.
	IsActive bool

	// BranchName is the human-readable business name used in notifications.
	BranchName string

	// OwnerPhone is the branch head's WhatsApp number. Empty falls back to
	// the process-wide default.
	OwnerPhone string

	// AssistantPrompt is the system prompt for the realtime model.
	AssistantPrompt string

	// AnalyzerPrompt is the prompt template for post-call transcript analysis.
	AnalyzerPrompt string

	// AllowedCallTypes is the tenant's classification vocabulary. The
	// analyzer coerces anything outside this set to "Others".
	AllowedCallTypes []string

	// GreetingLanguage is the human-readable language name configured for
	// the tenant (e.g. "telugu"). Mapped to a BCP-47 code before use.
	GreetingLanguage string

	// WelcomeMessage is the exact greeting to speak at call start. Empty
	// means derive one from the assistant prompt.
	WelcomeMessage string
}

// CallRecord is the initial call_details row written when a call ends.
type CallRecord struct {
	CallSID    string
	StreamSID  string
	TenantID   string
	Transcript json.RawMessage
}

// TelephonyCall mirrors one exotel_call_details row. All values are kept in
// the telephony provider's wire form (strings) rather than parsed.
type TelephonyCall struct {
	CallSID      string
	From         string
	To           string
	Status       string
	StartTime    string
	EndTime      string
	Duration     string
	Price        string
	Direction    string
	RecordingURL string
}

// Notification is one notifications audit row.
type Notification struct {
	CallSID       string
	Channel       string // "whatsapp"
	Recipient     string
	RecipientType string // "customer" or "owner"
	Status        string // "success", "partial_failure" or "error"
	Payload       json.RawMessage
	CreatedAt     time.Time
}

// TenantStore reads tenant configuration.
type TenantStore interface {
	// GetTenant returns the tenant with the given id, or ErrNotFound.
	GetTenant(ctx context.Context, id string) (*Tenant, error)

	// ListActiveTenants returns all tenants with is_active = true.
	ListActiveTenants(ctx context.Context) ([]Tenant, error)
}

// CallStore writes call records and their post-call enrichments.
type CallStore interface {
	// InsertCall writes the initial call record with its transcript.
	InsertCall(ctx context.Context, rec CallRecord) error

	// UpdateCallAnalysis sets call_type and critical_call_details for the
	// call record keyed by callSID.
	UpdateCallAnalysis(ctx context.Context, callSID, callType string, details json.RawMessage) error

	// UpdateCallTokenUsage sets ai_token_usage for the call record keyed by
	// callSID.
	UpdateCallTokenUsage(ctx context.Context, callSID string, usage json.RawMessage) error

	// InsertTelephonyCall writes one exotel_call_details row.
	InsertTelephonyCall(ctx context.Context, call TelephonyCall) error
}

// NotificationStore writes notification audit rows.
type NotificationStore interface {
	// InsertNotification writes one notifications row.
	InsertNotification(ctx context.Context, n Notification) error
}
