package models

import "time"

// AuditTextCap is the maximum length persisted for any audit/reason text.
// The durable store imposes a field size limit; everything above the cap is
// truncated, never rejected.
const AuditTextCap = 64000

// PoisonRecord tracks delivery attempts for the event currently failing on
// one partition of one consumer group. A partition has at most one
// outstanding record; the row key is the partition id.
type PoisonRecord struct {
	Queue       string     `db:"queue_name"`
	Group       string     `db:"consumer_group"`
	PartitionID string     `db:"partition_id"`
	Sequence    uint64     `db:"sequence_number"`
	Attempts    int        `db:"attempts"`
	Skip        bool       `db:"skip_processing"`
	PoisonedAt  time.Time  `db:"poisoned_at"`
	SkippedAt   *time.Time `db:"skipped_at"`
	Subject     string     `db:"subject"`
	Action      string     `db:"action"`
	Body        string     `db:"body"`
	Reason      string     `db:"reason"`

	// ETag is the optimistic-concurrency token; updates and deletes carry
	// the last-read value and fail with ErrVersionConflict when stale.
	ETag int64 `db:"etag"`
}

// TruncateAudit caps s at AuditTextCap characters.
func TruncateAudit(s string) string {
	if len(s) <= AuditTextCap {
		return s
	}
	return s[:AuditTextCap]
}
