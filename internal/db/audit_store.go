package db

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/sentinelsync/cdc-relay/internal/poison"
)

// PostgresAuditStore is the durable sink for poison audit entries.
type PostgresAuditStore struct {
	pool *pgxpool.Pool
}

func NewPostgresAuditStore(pool *pgxpool.Pool) *PostgresAuditStore {
	return &PostgresAuditStore{pool: pool}
}

func (s *PostgresAuditStore) Write(ctx context.Context, entry poison.AuditEntry) error {
	query := `
        INSERT INTO cdc_poison_audit (id, queue_name, consumer_group, partition_id,
                                      sequence_number, subject, action, status, reason, created_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
    `
	_, err := s.pool.Exec(ctx, query,
		entry.ID, entry.Queue, entry.Group, entry.PartitionID,
		int64(entry.Sequence), entry.Subject, entry.Action, entry.Status, entry.Reason, entry.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("audit insert failed: %w", err)
	}
	return nil
}
