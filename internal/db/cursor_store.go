package db

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/sentinelsync/cdc-relay/internal/models"
)

// PostgresCursorStore persists outbox cursor rows and the last-published
// hash set. All mutations go through a compare-and-increment on the row's
// version column; a stale version surfaces as models.ErrVersionConflict.
type PostgresCursorStore struct {
	pool *pgxpool.Pool
}

func NewPostgresCursorStore(pool *pgxpool.Pool) *PostgresCursorStore {
	return &PostgresCursorStore{pool: pool}
}

const cursorColumns = `id, tracked_set, ranges, is_complete, has_data_loss, created_at, completed_at, version`

func scanCursor(row pgx.Row) (*models.ChangeCursor, error) {
	var c models.ChangeCursor
	err := row.Scan(&c.ID, &c.TrackedSet, &c.Ranges, &c.IsComplete, &c.HasDataLoss, &c.CreatedAt, &c.CompletedAt, &c.Version)
	if err != nil {
		return nil, err
	}
	return &c, nil
}

func (s *PostgresCursorStore) Incomplete(ctx context.Context, trackedSet string) ([]models.ChangeCursor, error) {
	query := `SELECT ` + cursorColumns + `
        FROM cdc_outbox
        WHERE tracked_set = $1 AND NOT is_complete
        ORDER BY id ASC`

	rows, err := s.pool.Query(ctx, query, trackedSet)
	if err != nil {
		return nil, fmt.Errorf("failed to query incomplete cursors: %w", err)
	}
	defer rows.Close()

	var out []models.ChangeCursor
	for rows.Next() {
		c, err := scanCursor(rows)
		if err != nil {
			return nil, fmt.Errorf("cursor scan failed: %w", err)
		}
		out = append(out, *c)
	}
	return out, rows.Err()
}

func (s *PostgresCursorStore) Latest(ctx context.Context, trackedSet string) (*models.ChangeCursor, error) {
	query := `SELECT ` + cursorColumns + `
        FROM cdc_outbox
        WHERE tracked_set = $1 AND is_complete
        ORDER BY id DESC
        LIMIT 1`

	c, err := scanCursor(s.pool.QueryRow(ctx, query, trackedSet))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read latest cursor: %w", err)
	}
	return c, nil
}

func (s *PostgresCursorStore) Get(ctx context.Context, id int64) (*models.ChangeCursor, error) {
	query := `SELECT ` + cursorColumns + ` FROM cdc_outbox WHERE id = $1`

	c, err := scanCursor(s.pool.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, models.ErrCursorNotFound
		}
		return nil, fmt.Errorf("failed to read cursor %d: %w", id, err)
	}
	return c, nil
}

func (s *PostgresCursorStore) Create(ctx context.Context, cursor *models.ChangeCursor) error {
	query := `
        INSERT INTO cdc_outbox (tracked_set, ranges, is_complete, has_data_loss, created_at, version)
        VALUES ($1, $2, FALSE, $3, $4, 1)
        RETURNING id, version
    `
	err := s.pool.QueryRow(ctx, query,
		cursor.TrackedSet, cursor.Ranges, cursor.HasDataLoss, cursor.CreatedAt,
	).Scan(&cursor.ID, &cursor.Version)
	if err != nil {
		return fmt.Errorf("failed to insert cursor row: %w", err)
	}
	return nil
}

func (s *PostgresCursorStore) CompleteSweep(ctx context.Context, cursor *models.ChangeCursor, hashes map[string]uint64, removed []string) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin completion transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := completeCursor(ctx, tx, cursor); err != nil {
		return err
	}

	for key, hash := range hashes {
		_, err := tx.Exec(ctx, `
            INSERT INTO cdc_published_hashes (tracked_set, row_key, hash, updated_at)
            VALUES ($1, $2, $3, now())
            ON CONFLICT (tracked_set, row_key)
            DO UPDATE SET hash = EXCLUDED.hash, updated_at = now()
        `, cursor.TrackedSet, key, int64(hash))
		if err != nil {
			return fmt.Errorf("hash upsert for %s failed: %w", key, err)
		}
	}

	if len(removed) > 0 {
		_, err := tx.Exec(ctx, `
            DELETE FROM cdc_published_hashes
            WHERE tracked_set = $1 AND row_key = ANY($2)
        `, cursor.TrackedSet, removed)
		if err != nil {
			return fmt.Errorf("hash cleanup failed: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("completion commit failed: %w", err)
	}
	return nil
}

func (s *PostgresCursorStore) MarkComplete(ctx context.Context, cursor *models.ChangeCursor) error {
	return completeCursor(ctx, s.pool, cursor)
}

type execer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// completeCursor flips is_complete under the optimistic version check and
// refreshes the in-memory cursor on success. has_data_loss only ever sets:
// a window that resumed past a truncation stays flagged.
func completeCursor(ctx context.Context, ex execer, cursor *models.ChangeCursor) error {
	now := time.Now().UTC()
	tag, err := ex.Exec(ctx, `
        UPDATE cdc_outbox
        SET is_complete = TRUE, completed_at = $1,
            has_data_loss = has_data_loss OR $2,
            version = version + 1
        WHERE id = $3 AND version = $4 AND NOT is_complete
    `, now, cursor.HasDataLoss, cursor.ID, cursor.Version)
	if err != nil {
		return fmt.Errorf("cursor completion update failed: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("cursor %d changed underneath us: %w", cursor.ID, models.ErrVersionConflict)
	}

	cursor.IsComplete = true
	cursor.CompletedAt = &now
	cursor.Version++
	return nil
}

func (s *PostgresCursorStore) Hashes(ctx context.Context, trackedSet string, keys []string) (map[string]uint64, error) {
	out := make(map[string]uint64, len(keys))
	if len(keys) == 0 {
		return out, nil
	}

	rows, err := s.pool.Query(ctx, `
        SELECT row_key, hash FROM cdc_published_hashes
        WHERE tracked_set = $1 AND row_key = ANY($2)
    `, trackedSet, keys)
	if err != nil {
		return nil, fmt.Errorf("failed to query published hashes: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var key string
		var hash int64
		if err := rows.Scan(&key, &hash); err != nil {
			return nil, fmt.Errorf("hash scan failed: %w", err)
		}
		out[key] = uint64(hash)
	}
	return out, rows.Err()
}
