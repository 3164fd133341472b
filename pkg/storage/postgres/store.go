package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/SandilyaSub/Receptionist/pkg/storage"
)

// Compile-time interface checks.
var (
	_ storage.TenantStore       = (*Store)(nil)
	_ storage.CallStore         = (*Store)(nil)
	_ storage.NotificationStore = (*Store)(nil)
)

// Store is the PostgreSQL-backed persistence layer. It holds a single
// [pgxpool.Pool] and implements [storage.TenantStore], [storage.CallStore],
// and [storage.NotificationStore].
//
// All operations are safe for concurrent use.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore creates a new Store, establishes a connection pool to the
// PostgreSQL database at dsn, and runs [Migrate] to ensure all required
// tables exist.
func NewStore(ctx context.Context, dsn string) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres store: parse dsn: %w", err)
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("postgres store: create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres store: ping: %w", err)
	}

	if err := Migrate(ctx, pool); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres store: migrate: %w", err)
	}

	return &Store{pool: pool}, nil
}

// Close releases all connections held by the underlying connection pool.
// It should be called when the Store is no longer needed, typically via defer.
func (s *Store) Close() {
	s.pool.Close()
}

// Ping verifies the database is reachable. Used by the readiness probe.
func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// GetTenant implements [storage.TenantStore].
func (s *Store) GetTenant(ctx context.Context, id string) (*storage.Tenant, error) {
	const q = `
		SELECT tenant_id, is_active, branch_name, branch_head_phone_number,
		       assistant_prompt, analyzer_prompt, allowed_call_types,
		       greeting_language, welcome_message
		FROM   tenant_configs
		WHERE  tenant_id = $1`

	var t storage.Tenant
	err := s.pool.QueryRow(ctx, q, id).Scan(
		&t.ID,
		&t.IsActive,
		&t.BranchName,
		&t.OwnerPhone,
		&t.AssistantPrompt,
		&t.AnalyzerPrompt,
		&t.AllowedCallTypes,
		&t.GreetingLanguage,
		&t.WelcomeMessage,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("postgres store: get tenant: %w", err)
	}
	return &t, nil
}

// ListActiveTenants implements [storage.TenantStore].
func (s *Store) ListActiveTenants(ctx context.Context) ([]storage.Tenant, error) {
	const q = `
		SELECT tenant_id, is_active, branch_name, branch_head_phone_number,
		       assistant_prompt, analyzer_prompt, allowed_call_types,
		       greeting_language, welcome_message
		FROM   tenant_configs
		WHERE  is_active
		ORDER  BY tenant_id`

	rows, err := s.pool.Query(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("postgres store: list active tenants: %w", err)
	}

	tenants, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (storage.Tenant, error) {
		var t storage.Tenant
		err := row.Scan(
			&t.ID,
			&t.IsActive,
			&t.BranchName,
			&t.OwnerPhone,
			&t.AssistantPrompt,
			&t.AnalyzerPrompt,
			&t.AllowedCallTypes,
			&t.GreetingLanguage,
			&t.WelcomeMessage,
		)
		return t, err
	})
	if err != nil {
		return nil, fmt.Errorf("postgres store: scan tenants: %w", err)
	}
	if tenants == nil {
		tenants = []storage.Tenant{}
	}
	return tenants, nil
}

// InsertCall implements [storage.CallStore].
func (s *Store) InsertCall(ctx context.Context, rec storage.CallRecord) error {
	const q = `
		INSERT INTO call_details (call_sid, stream_sid, tenant_id, transcript)
		VALUES ($1, $2, $3, $4)`

	_, err := s.pool.Exec(ctx, q, rec.CallSID, rec.StreamSID, rec.TenantID, rec.Transcript)
	if err != nil {
		return fmt.Errorf("postgres store: insert call: %w", err)
	}
	return nil
}

// UpdateCallAnalysis implements [storage.CallStore].
func (s *Store) UpdateCallAnalysis(ctx context.Context, callSID, callType string, details json.RawMessage) error {
	const q = `
		UPDATE call_details
		SET    call_type = $2, critical_call_details = $3, updated_at = now()
		WHERE  call_sid = $1`

	tag, err := s.pool.Exec(ctx, q, callSID, callType, details)
	if err != nil {
		return fmt.Errorf("postgres store: update call analysis: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("postgres store: update call analysis: %w", storage.ErrNotFound)
	}
	return nil
}

// UpdateCallTokenUsage implements [storage.CallStore].
func (s *Store) UpdateCallTokenUsage(ctx context.Context, callSID string, usage json.RawMessage) error {
	const q = `
		UPDATE call_details
		SET    ai_token_usage = $2, updated_at = now()
		WHERE  call_sid = $1`

	tag, err := s.pool.Exec(ctx, q, callSID, usage)
	if err != nil {
		return fmt.Errorf("postgres store: update call token usage: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("postgres store: update call token usage: %w", storage.ErrNotFound)
	}
	return nil
}

// InsertTelephonyCall implements [storage.CallStore].
func (s *Store) InsertTelephonyCall(ctx context.Context, call storage.TelephonyCall) error {
	const q = `
		INSERT INTO exotel_call_details
		    (call_sid, from_number, to_number, status, start_time, end_time,
		     duration, price, direction, recording_url)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`

	_, err := s.pool.Exec(ctx, q,
		call.CallSID,
		call.From,
		call.To,
		call.Status,
		call.StartTime,
		call.EndTime,
		call.Duration,
		call.Price,
		call.Direction,
		call.RecordingURL,
	)
	if err != nil {
		return fmt.Errorf("postgres store: insert telephony call: %w", err)
	}
	return nil
}

// InsertNotification implements [storage.NotificationStore].
func (s *Store) InsertNotification(ctx context.Context, n storage.Notification) error {
	const q = `
		INSERT INTO notifications
		    (call_sid, channel, recipient, recipient_type, status, payload)
		VALUES ($1, $2, $3, $4, $5, $6)`

	_, err := s.pool.Exec(ctx, q,
		n.CallSID,
		n.Channel,
		n.Recipient,
		n.RecipientType,
		n.Status,
		n.Payload,
	)
	if err != nil {
		return fmt.Errorf("postgres store: insert notification: %w", err)
	}
	return nil
}
