// Package mock provides in-memory test doubles for the storage interfaces.
//
// The doubles record every write and serve reads from maps populated by the
// test. All methods are safe for concurrent use.
package mock

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/SandilyaSub/Receptionist/pkg/storage"
)

// Store is an in-memory implementation of the storage interfaces.
// Zero value is ready to use.
type Store struct {
	mu sync.Mutex

	// Tenants serves GetTenant and ListActiveTenants. Keyed by tenant ID.
	Tenants map[string]storage.Tenant

	// Error injection, one per method. Nil means success.
	GetTenantErr           error
	ListActiveTenantsErr   error
	InsertCallErr          error
	UpdateAnalysisErr      error
	UpdateTokenUsageErr    error
	InsertTelephonyErr     error
	InsertNotificationErr  error

	// Write records, in call order.
	Calls          []storage.CallRecord
	Analyses       []AnalysisUpdate
	TokenUsages    []TokenUsageUpdate
	TelephonyCalls []storage.TelephonyCall
	Notifications  []storage.Notification
}

// AnalysisUpdate records one UpdateCallAnalysis invocation.
type AnalysisUpdate struct {
	CallSID  string
	CallType string
	Details  json.RawMessage
}

// TokenUsageUpdate records one UpdateCallTokenUsage invocation.
type TokenUsageUpdate struct {
	CallSID string
	Usage   json.RawMessage
}

// GetTenant implements [storage.TenantStore].
func (s *Store) GetTenant(_ context.Context, id string) (*storage.Tenant, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.GetTenantErr != nil {
		return nil, s.GetTenantErr
	}
	t, ok := s.Tenants[id]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return &t, nil
}

// ListActiveTenants implements [storage.TenantStore].
func (s *Store) ListActiveTenants(_ context.Context) ([]storage.Tenant, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ListActiveTenantsErr != nil {
		return nil, s.ListActiveTenantsErr
	}
	out := []storage.Tenant{}
	for _, t := range s.Tenants {
		if t.IsActive {
			out = append(out, t)
		}
	}
	return out, nil
}

// InsertCall implements [storage.CallStore].
func (s *Store) InsertCall(_ context.Context, rec storage.CallRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.InsertCallErr != nil {
		return s.InsertCallErr
	}
	s.Calls = append(s.Calls, rec)
	return nil
}

// UpdateCallAnalysis implements [storage.CallStore].
func (s *Store) UpdateCallAnalysis(_ context.Context, callSID, callType string, details json.RawMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.UpdateAnalysisErr != nil {
		return s.UpdateAnalysisErr
	}
	s.Analyses = append(s.Analyses, AnalysisUpdate{CallSID: callSID, CallType: callType, Details: details})
	return nil
}

// UpdateCallTokenUsage implements [storage.CallStore].
func (s *Store) UpdateCallTokenUsage(_ context.Context, callSID string, usage json.RawMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.UpdateTokenUsageErr != nil {
		return s.UpdateTokenUsageErr
	}
	s.TokenUsages = append(s.TokenUsages, TokenUsageUpdate{CallSID: callSID, Usage: usage})
	return nil
}

// InsertTelephonyCall implements [storage.CallStore].
func (s *Store) InsertTelephonyCall(_ context.Context, call storage.TelephonyCall) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.InsertTelephonyErr != nil {
		return s.InsertTelephonyErr
	}
	s.TelephonyCalls = append(s.TelephonyCalls, call)
	return nil
}

// InsertNotification implements [storage.NotificationStore].
func (s *Store) InsertNotification(_ context.Context, n storage.Notification) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.InsertNotificationErr != nil {
		return s.InsertNotificationErr
	}
	s.Notifications = append(s.Notifications, n)
	return nil
}

// NotificationsSnapshot returns a copy of recorded notifications. Thread-safe.
func (s *Store) NotificationsSnapshot() []storage.Notification {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]storage.Notification, len(s.Notifications))
	copy(out, s.Notifications)
	return out
}

// Compile-time interface checks.
var (
	_ storage.TenantStore       = (*Store)(nil)
	_ storage.CallStore         = (*Store)(nil)
	_ storage.NotificationStore = (*Store)(nil)
)
