package materialize

import (
	"log/slog"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/sentinelsync/cdc-relay/internal/models"
)

// Result carries the produced events plus suppression accounting for
// telemetry.
type Result struct {
	Events     []models.DomainEvent
	Suppressed int
}

// Materializer converts logical changes into domain events. Creates and
// deletes always produce an event; an update whose content hash equals the
// last published hash for that key produces nothing.
type Materializer struct {
	subject string
	logger  *slog.Logger
}

func NewMaterializer(subject string, logger *slog.Logger) *Materializer {
	return &Materializer{subject: subject, logger: logger}
}

// Materialize emits events in ascending order of each change's earliest
// contributing LSN. lastHashes holds the durable last-published hash per
// key; keys absent from the map have never been published.
func (m *Materializer) Materialize(changes []models.LogicalChange, lastHashes map[string]uint64) Result {
	sorted := make([]models.LogicalChange, len(changes))
	copy(sorted, changes)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].FirstLSN < sorted[j].FirstLSN })

	var res Result
	now := time.Now().UTC()

	for _, ch := range sorted {
		if ch.Op == models.OpUpdate {
			if prev, ok := lastHashes[ch.Key]; ok && prev == ch.Hash {
				m.logger.Debug("Suppressing unchanged update", "key", ch.Key, "hash", ch.Hash)
				res.Suppressed++
				continue
			}
		}

		res.Events = append(res.Events, models.DomainEvent{
			EventID:   uuid.NewString(),
			Subject:   m.subject,
			Key:       ch.Key,
			Action:    models.ActionForOp(ch.Op),
			Payload:   ch.Value,
			Hash:      ch.Hash,
			LSN:       ch.FirstLSN,
			Timestamp: now,
		})
	}
	return res
}
