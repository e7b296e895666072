package db

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/sentinelsync/cdc-relay/internal/models"
)

// PostgresPoisonStore holds poison records, one per (queue, consumer group,
// partition), with an etag column as the optimistic-concurrency token.
type PostgresPoisonStore struct {
	pool *pgxpool.Pool
}

func NewPostgresPoisonStore(pool *pgxpool.Pool) *PostgresPoisonStore {
	return &PostgresPoisonStore{pool: pool}
}

func (s *PostgresPoisonStore) Get(ctx context.Context, queue, group, partition string) (*models.PoisonRecord, error) {
	query := `
        SELECT queue_name, consumer_group, partition_id, sequence_number, attempts,
               skip_processing, poisoned_at, skipped_at, subject, action, body, reason, etag
        FROM cdc_poison
        WHERE queue_name = $1 AND consumer_group = $2 AND partition_id = $3
    `

	var r models.PoisonRecord
	var seq int64
	err := s.pool.QueryRow(ctx, query, queue, group, partition).Scan(
		&r.Queue, &r.Group, &r.PartitionID, &seq, &r.Attempts,
		&r.Skip, &r.PoisonedAt, &r.SkippedAt, &r.Subject, &r.Action, &r.Body, &r.Reason, &r.ETag,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, models.ErrNotFound
		}
		return nil, fmt.Errorf("poison record read failed: %w", err)
	}
	r.Sequence = uint64(seq)
	return &r, nil
}

func (s *PostgresPoisonStore) Insert(ctx context.Context, rec *models.PoisonRecord) error {
	query := `
        INSERT INTO cdc_poison (queue_name, consumer_group, partition_id, sequence_number,
                                attempts, skip_processing, poisoned_at, skipped_at,
                                subject, action, body, reason, etag)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, 1)
    `
	_, err := s.pool.Exec(ctx, query,
		rec.Queue, rec.Group, rec.PartitionID, int64(rec.Sequence),
		rec.Attempts, rec.Skip, rec.PoisonedAt, rec.SkippedAt,
		rec.Subject, rec.Action, rec.Body, rec.Reason,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			// A record already exists for the partition; the caller's
			// read-modify-write loop re-reads and decides.
			return models.ErrVersionConflict
		}
		return fmt.Errorf("poison record insert failed: %w", err)
	}
	rec.ETag = 1
	return nil
}

func (s *PostgresPoisonStore) Update(ctx context.Context, rec *models.PoisonRecord) error {
	query := `
        UPDATE cdc_poison
        SET sequence_number = $4, attempts = $5, skip_processing = $6,
            skipped_at = $7, subject = $8, action = $9, body = $10, reason = $11,
            etag = etag + 1
        WHERE queue_name = $1 AND consumer_group = $2 AND partition_id = $3 AND etag = $12
    `
	tag, err := s.pool.Exec(ctx, query,
		rec.Queue, rec.Group, rec.PartitionID, int64(rec.Sequence),
		rec.Attempts, rec.Skip, rec.SkippedAt, rec.Subject, rec.Action, rec.Body, rec.Reason,
		rec.ETag,
	)
	if err != nil {
		return fmt.Errorf("poison record update failed: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return s.staleOrMissing(ctx, rec)
	}
	rec.ETag++
	return nil
}

func (s *PostgresPoisonStore) Delete(ctx context.Context, rec *models.PoisonRecord) error {
	query := `
        DELETE FROM cdc_poison
        WHERE queue_name = $1 AND consumer_group = $2 AND partition_id = $3 AND etag = $4
    `
	tag, err := s.pool.Exec(ctx, query, rec.Queue, rec.Group, rec.PartitionID, rec.ETag)
	if err != nil {
		return fmt.Errorf("poison record delete failed: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return s.staleOrMissing(ctx, rec)
	}
	return nil
}

// staleOrMissing distinguishes an etag mismatch from an absent row.
func (s *PostgresPoisonStore) staleOrMissing(ctx context.Context, rec *models.PoisonRecord) error {
	_, err := s.Get(ctx, rec.Queue, rec.Group, rec.PartitionID)
	if errors.Is(err, models.ErrNotFound) {
		return models.ErrNotFound
	}
	if err != nil {
		return err
	}
	return models.ErrVersionConflict
}
