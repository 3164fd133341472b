// Package postgres provides the PostgreSQL-backed implementation of the
// storage interfaces.
//
// All stores share a single [pgxpool.Pool] connection pool. [Migrate] creates
// the schema idempotently and is safe to call on every application start.
//
// Usage:
//
//	store, err := postgres.NewStore(ctx, dsn)
//	if err != nil { … }
//	defer store.Close()
//
//	tenant, err := store.GetTenant(ctx, "bakery")
//	_ = store.InsertCall(ctx, rec)
package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

const ddlTenantConfigs = `
CREATE TABLE IF NOT EXISTS tenant_configs (
    tenant_id                 TEXT         PRIMARY KEY,
    is_active                 BOOLEAN      NOT NULL DEFAULT true,
    branch_name               TEXT         NOT NULL DEFAULT '',
    branch_head_phone_number  TEXT         NOT NULL DEFAULT '',
    assistant_prompt          TEXT         NOT NULL DEFAULT '',
    analyzer_prompt           TEXT         NOT NULL DEFAULT '',
    allowed_call_types        TEXT[]       NOT NULL DEFAULT '{}',
    greeting_language         TEXT         NOT NULL DEFAULT '',
    welcome_message           TEXT         NOT NULL DEFAULT ''
);

CREATE INDEX IF NOT EXISTS idx_tenant_configs_active
    ON tenant_configs (is_active);
`

const ddlCallDetails = `
CREATE TABLE IF NOT EXISTS call_details (
    id                     BIGSERIAL    PRIMARY KEY,
    call_sid               TEXT         NOT NULL,
    stream_sid             TEXT         NOT NULL DEFAULT '',
    tenant_id              TEXT         NOT NULL DEFAULT '',
    transcript             JSONB,
    call_type              TEXT         NOT NULL DEFAULT '',
    critical_call_details  JSONB,
    ai_token_usage         JSONB,
    created_at             TIMESTAMPTZ  NOT NULL DEFAULT now(),
    updated_at             TIMESTAMPTZ  NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_call_details_call_sid
    ON call_details (call_sid);

CREATE INDEX IF NOT EXISTS idx_call_details_tenant_id
    ON call_details (tenant_id);
`

const ddlExotelCallDetails = `
CREATE TABLE IF NOT EXISTS exotel_call_details (
    id             BIGSERIAL    PRIMARY KEY,
    call_sid       TEXT         NOT NULL,
    from_number    TEXT         NOT NULL DEFAULT '',
    to_number      TEXT         NOT NULL DEFAULT '',
    status         TEXT         NOT NULL DEFAULT '',
    start_time     TEXT         NOT NULL DEFAULT '',
    end_time       TEXT         NOT NULL DEFAULT '',
    duration       TEXT         NOT NULL DEFAULT '',
    price          TEXT         NOT NULL DEFAULT '',
    direction      TEXT         NOT NULL DEFAULT '',
    recording_url  TEXT         NOT NULL DEFAULT '',
    created_at     TIMESTAMPTZ  NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_exotel_call_details_call_sid
    ON exotel_call_details (call_sid);
`

const ddlNotifications = `
CREATE TABLE IF NOT EXISTS notifications (
    id              BIGSERIAL    PRIMARY KEY,
    call_sid        TEXT         NOT NULL,
    channel         TEXT         NOT NULL DEFAULT 'whatsapp',
    recipient       TEXT         NOT NULL DEFAULT '',
    recipient_type  TEXT         NOT NULL DEFAULT '',
    status          TEXT         NOT NULL DEFAULT '',
    payload         JSONB,
    created_at      TIMESTAMPTZ  NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_notifications_call_sid
    ON notifications (call_sid);
`

// Migrate creates or ensures all required tables and indexes exist. It is
// idempotent (CREATE TABLE IF NOT EXISTS / CREATE INDEX IF NOT EXISTS) and
// safe to call on every application start.
func Migrate(ctx context.Context, pool *pgxpool.Pool) error {
	statements := []string{
		ddlTenantConfigs,
		ddlCallDetails,
		ddlExotelCallDetails,
		ddlNotifications,
	}

	for _, stmt := range statements {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("postgres migrate: %w", err)
		}
	}
	return nil
}
