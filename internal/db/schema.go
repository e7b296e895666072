package db

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS cdc_changes (
        lsn         BIGSERIAL PRIMARY KEY,
        table_name  TEXT        NOT NULL,
        op_type     TEXT        NOT NULL,
        row_key     TEXT        NOT NULL,
        row_data    JSONB,
        captured_at TIMESTAMPTZ NOT NULL DEFAULT now()
    )`,
	`CREATE INDEX IF NOT EXISTS idx_cdc_changes_table_lsn
        ON cdc_changes (table_name, lsn)`,
	`CREATE TABLE IF NOT EXISTS cdc_outbox (
        id            BIGSERIAL PRIMARY KEY,
        tracked_set   TEXT        NOT NULL,
        ranges        JSONB       NOT NULL,
        is_complete   BOOLEAN     NOT NULL DEFAULT FALSE,
        has_data_loss BOOLEAN     NOT NULL DEFAULT FALSE,
        created_at    TIMESTAMPTZ NOT NULL DEFAULT now(),
        completed_at  TIMESTAMPTZ,
        version       BIGINT      NOT NULL DEFAULT 1
    )`,
	`CREATE INDEX IF NOT EXISTS idx_cdc_outbox_incomplete
        ON cdc_outbox (tracked_set) WHERE NOT is_complete`,
	`CREATE TABLE IF NOT EXISTS cdc_published_hashes (
        tracked_set TEXT        NOT NULL,
        row_key     TEXT        NOT NULL,
        hash        BIGINT      NOT NULL,
        updated_at  TIMESTAMPTZ NOT NULL DEFAULT now(),
        PRIMARY KEY (tracked_set, row_key)
    )`,
	`CREATE TABLE IF NOT EXISTS cdc_poison (
        queue_name      TEXT        NOT NULL,
        consumer_group  TEXT        NOT NULL,
        partition_id    TEXT        NOT NULL,
        sequence_number BIGINT      NOT NULL,
        attempts        INT         NOT NULL,
        skip_processing BOOLEAN     NOT NULL DEFAULT FALSE,
        poisoned_at     TIMESTAMPTZ NOT NULL,
        skipped_at      TIMESTAMPTZ,
        subject         TEXT,
        action          TEXT,
        body            TEXT,
        reason          TEXT,
        etag            BIGINT      NOT NULL DEFAULT 1,
        PRIMARY KEY (queue_name, consumer_group, partition_id)
    )`,
	`CREATE TABLE IF NOT EXISTS cdc_poison_audit (
        id              UUID PRIMARY KEY,
        queue_name      TEXT        NOT NULL,
        consumer_group  TEXT        NOT NULL,
        partition_id    TEXT        NOT NULL,
        sequence_number BIGINT      NOT NULL,
        subject         TEXT,
        action          TEXT,
        status          TEXT        NOT NULL,
        reason          TEXT,
        created_at      TIMESTAMPTZ NOT NULL
    )`,
}

// EnsureSchema creates the relay's tables when they do not exist yet.
// Idempotent; safe to run on every startup.
func EnsureSchema(ctx context.Context, pool *pgxpool.Pool) error {
	for _, stmt := range schemaStatements {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("schema statement failed: %w", err)
		}
	}
	return nil
}
