package changelog

import (
	"context"

	"github.com/sentinelsync/cdc-relay/internal/models"
)

// Source is the collaborator capability over the underlying change log:
// LSN-range reads per table, log bounds for data-loss detection, and a
// point-in-time read of the current row state for hashing.
type Source interface {
	// MaxLSN returns the highest LSN currently in the log, 0 when empty.
	MaxLSN(ctx context.Context) (models.LSN, error)

	// MinRetainedLSN returns the oldest LSN still retained, 0 when the log
	// holds no retention information (never written).
	MinRetainedLSN(ctx context.Context) (models.LSN, error)

	// Fetch returns all change rows for one table with from <= LSN <= to,
	// ordered by LSN ascending.
	Fetch(ctx context.Context, table string, from, to models.LSN) ([]models.ChangeRow, error)

	// FetchCurrent reads the current projected state of one row by key.
	// Returns models.ErrNotFound when the row no longer exists.
	FetchCurrent(ctx context.Context, table, key string) (map[string]any, error)
}
