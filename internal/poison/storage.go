package poison

import (
	"context"

	"github.com/sentinelsync/cdc-relay/internal/models"
)

// ConsumedEvent identifies one delivery under poison supervision.
type ConsumedEvent struct {
	Queue       string
	Group       string
	PartitionID string
	Sequence    uint64
	Subject     string
	Action      string
	Body        []byte
}

// Storage is the key-value capability backing poison records: one row per
// (queue, consumer group, partition), guarded by optimistic concurrency.
// Writes against a stale ETag fail with models.ErrVersionConflict; missing
// rows surface as models.ErrNotFound.
type Storage interface {
	Get(ctx context.Context, queue, group, partition string) (*models.PoisonRecord, error)
	Insert(ctx context.Context, rec *models.PoisonRecord) error
	Update(ctx context.Context, rec *models.PoisonRecord) error
	Delete(ctx context.Context, rec *models.PoisonRecord) error
}
