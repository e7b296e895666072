package changelog

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/sentinelsync/cdc-relay/internal/models"
)

// PostgresSource reads the cdc_changes log table. Current row state is read
// through an explicit per-table query registry rather than reflective
// mapping: each tracked table registers the SQL that projects its current
// row to JSON by key.
type PostgresSource struct {
	pool           *pgxpool.Pool
	currentQueries map[string]string
}

func NewPostgresSource(pool *pgxpool.Pool, currentQueries map[string]string) *PostgresSource {
	return &PostgresSource{pool: pool, currentQueries: currentQueries}
}

func (s *PostgresSource) MaxLSN(ctx context.Context) (models.LSN, error) {
	var head uint64
	err := s.pool.QueryRow(ctx, `SELECT COALESCE(MAX(lsn), 0) FROM cdc_changes`).Scan(&head)
	if err != nil {
		return 0, fmt.Errorf("failed to read change log head: %w", err)
	}
	return models.LSN(head), nil
}

func (s *PostgresSource) MinRetainedLSN(ctx context.Context) (models.LSN, error) {
	var floor uint64
	err := s.pool.QueryRow(ctx, `SELECT COALESCE(MIN(lsn), 0) FROM cdc_changes`).Scan(&floor)
	if err != nil {
		return 0, fmt.Errorf("failed to read change log floor: %w", err)
	}
	return models.LSN(floor), nil
}

func (s *PostgresSource) Fetch(ctx context.Context, table string, from, to models.LSN) ([]models.ChangeRow, error) {
	query := `
        SELECT lsn, table_name, op_type, row_key, row_data
        FROM cdc_changes
        WHERE table_name = $1 AND lsn >= $2 AND lsn <= $3
        ORDER BY lsn ASC
    `

	rows, err := s.pool.Query(ctx, query, table, uint64(from), uint64(to))
	if err != nil {
		return nil, fmt.Errorf("failed to fetch changes for %s: %w", table, err)
	}
	defer rows.Close()

	var out []models.ChangeRow
	for rows.Next() {
		var row models.ChangeRow
		var lsn uint64
		if err := rows.Scan(&lsn, &row.Table, &row.Op, &row.Key, &row.Values); err != nil {
			return nil, fmt.Errorf("change row scan failed: %w", err)
		}
		row.LSN = models.LSN(lsn)
		out = append(out, row)
	}
	return out, rows.Err()
}

func (s *PostgresSource) FetchCurrent(ctx context.Context, table, key string) (map[string]any, error) {
	query, ok := s.currentQueries[table]
	if !ok {
		return nil, fmt.Errorf("no current-state query registered for table %s", table)
	}

	var data map[string]any
	err := s.pool.QueryRow(ctx, query, key).Scan(&data)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, models.ErrNotFound
		}
		return nil, fmt.Errorf("current-state read for %s/%s failed: %w", table, key, err)
	}
	return data, nil
}
