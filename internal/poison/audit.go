package poison

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/sentinelsync/cdc-relay/internal/models"
)

// Audit statuses written for every poison outcome.
const (
	StatusPoisoned  = "poisoned"
	StatusMismatch  = "sequence_mismatch"
	StatusSkipped   = "skipped"
	StatusEscalated = "escalated"
)

// AuditEntry is one durable record of a poison outcome. Text fields are
// capped at models.AuditTextCap before persisting.
type AuditEntry struct {
	ID          string    `db:"id"`
	Queue       string    `db:"queue_name"`
	Group       string    `db:"consumer_group"`
	PartitionID string    `db:"partition_id"`
	Sequence    uint64    `db:"sequence_number"`
	Subject     string    `db:"subject"`
	Action      string    `db:"action"`
	Status      string    `db:"status"`
	Reason      string    `db:"reason"`
	CreatedAt   time.Time `db:"created_at"`
}

// AuditStore is the durable sink for audit entries.
type AuditStore interface {
	Write(ctx context.Context, entry AuditEntry) error
}

// Auditor writes every outcome to both the durable store and the log.
// Store success is the durability guarantee; the log write cannot fail and
// is purely observational.
type Auditor struct {
	store  AuditStore
	logger *slog.Logger
}

func NewAuditor(store AuditStore, logger *slog.Logger) *Auditor {
	return &Auditor{store: store, logger: logger}
}

// Record persists one audit entry and mirrors it to the log at the given
// level. The returned error reflects the durable write only.
func (a *Auditor) Record(ctx context.Context, level slog.Level, ev ConsumedEvent, status, reason string) error {
	entry := AuditEntry{
		ID:          uuid.NewString(),
		Queue:       ev.Queue,
		Group:       ev.Group,
		PartitionID: ev.PartitionID,
		Sequence:    ev.Sequence,
		Subject:     models.TruncateAudit(ev.Subject),
		Action:      models.TruncateAudit(ev.Action),
		Status:      status,
		Reason:      models.TruncateAudit(reason),
		CreatedAt:   time.Now().UTC(),
	}

	a.logger.Log(ctx, level, "Poison audit",
		"queue", ev.Queue,
		"group", ev.Group,
		"partition", ev.PartitionID,
		"sequence", ev.Sequence,
		"subject", entry.Subject,
		"status", status,
		"reason", entry.Reason,
	)

	return a.store.Write(ctx, entry)
}
