package store

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"
)

// schema mirrors migrations/001_init.sql. Applied idempotently at startup so
// a fresh database works without a separate migration step.
const schema = `
CREATE TABLE IF NOT EXISTS refund_requests (
    id              UUID PRIMARY KEY,
    owner_id        UUID NOT NULL,
    status          TEXT NOT NULL,
    title           TEXT NOT NULL,
    amount_estimate BIGINT NOT NULL DEFAULT 0,
    total_amount    BIGINT NOT NULL DEFAULT 0,
    final_amount    BIGINT,
    decision_reason TEXT,
    certificate_ref TEXT,
    created_at      TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    updated_at      TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
CREATE INDEX IF NOT EXISTS idx_refund_requests_owner ON refund_requests (owner_id, created_at DESC);
CREATE INDEX IF NOT EXISTS idx_refund_requests_status ON refund_requests (status);

CREATE TABLE IF NOT EXISTS receipts (
    id                UUID PRIMARY KEY,
    refund_request_id UUID NOT NULL REFERENCES refund_requests (id) ON DELETE CASCADE,
    url               TEXT NOT NULL,
    amount            BIGINT NOT NULL DEFAULT 0,
    created_at        TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
CREATE INDEX IF NOT EXISTS idx_receipts_request ON receipts (refund_request_id);

CREATE TABLE IF NOT EXISTS notifications (
    id         UUID PRIMARY KEY,
    user_id    UUID,
    title      TEXT NOT NULL,
    message    TEXT NOT NULL,
    type       TEXT NOT NULL,
    refund_id  UUID,
    created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
CREATE INDEX IF NOT EXISTS idx_notifications_user ON notifications (user_id, created_at DESC);

CREATE TABLE IF NOT EXISTS delivery_jobs (
    id                    BIGSERIAL PRIMARY KEY,
    job_key               UUID NOT NULL,
    event_type            TEXT NOT NULL,
    payload               JSONB NOT NULL,
    target                TEXT NOT NULL,
    status                TEXT NOT NULL DEFAULT 'pending',
    attempts              INT NOT NULL DEFAULT 0,
    next_attempt_at       TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    processing_started_at TIMESTAMPTZ,
    completed_at          TIMESTAMPTZ,
    last_error            TEXT,
    created_at            TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
CREATE INDEX IF NOT EXISTS idx_delivery_jobs_due ON delivery_jobs (status, next_attempt_at);
`

// EnsureSchema creates the service tables if they do not exist yet.
func EnsureSchema(ctx context.Context, db *pgxpool.Pool) error {
	_, err := db.Exec(ctx, schema)
	return err
}
