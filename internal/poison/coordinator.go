package poison

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/sentinelsync/cdc-relay/internal/models"
	"github.com/sentinelsync/cdc-relay/pkg/infra"
	"github.com/sentinelsync/cdc-relay/pkg/metrics"
)

// DecisionKind classifies an event before the subscriber is invoked.
type DecisionKind int

const (
	// NotPoison: no outstanding record for this partition, process as new.
	NotPoison DecisionKind = iota
	// Retry: the event failed before; invoke the subscriber again.
	Retry
	// Skip: an operator flagged the event; do not invoke the subscriber.
	Skip
)

// Decision is the coordinator's verdict for one delivery. Attempts carries
// the prior failure count for observability on the Retry path.
type Decision struct {
	Kind     DecisionKind
	Attempts int
}

// Outcome tells the host what to do with a subscriber failure. It is a
// plain tagged result: poison escalation never travels as a panic or a
// sentinel exception across the invoker boundary.
type Outcome int

const (
	// Propagate: redeliver; the hosting retry mechanism will re-attempt.
	Propagate Outcome = iota
	// Swallow: max attempts reached, the event is abandoned and the
	// delivery counted as handled.
	Swallow
)

// Coordinator tracks per-partition delivery attempts and decides when a
// repeatedly failing event is poison. One consumer owns a partition at a
// time; concurrent writers indicate a hosting bug, so optimistic conflicts
// are simply retried with last-writer-wins.
type Coordinator struct {
	storage Storage
	auditor *Auditor
	logger  *slog.Logger
}

func NewCoordinator(storage Storage, auditor *Auditor, logger *slog.Logger) *Coordinator {
	return &Coordinator{storage: storage, auditor: auditor, logger: logger}
}

func isConflict(err error) bool {
	return errors.Is(err, models.ErrVersionConflict)
}

// Check classifies the event in hand before the subscriber runs.
//
// A stored record for a different sequence number is stale: the partition
// moved on while the record lingered. It is audited as a mismatch, deleted,
// and the event is treated as brand new.
func (c *Coordinator) Check(ctx context.Context, ev ConsumedEvent) (Decision, error) {
	rec, err := c.storage.Get(ctx, ev.Queue, ev.Group, ev.PartitionID)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return Decision{Kind: NotPoison}, nil
		}
		return Decision{}, fmt.Errorf("poison record lookup failed: %w", err)
	}

	if rec.Sequence != ev.Sequence {
		c.logger.Warn("Stale poison record: sequence mismatch, discarding",
			"partition", ev.PartitionID,
			"stored_sequence", rec.Sequence,
			"event_sequence", ev.Sequence,
		)
		// Audit before the delete: a failed write leaves the record in
		// place and the delivery is retried.
		if err := c.auditor.Record(ctx, slog.LevelWarn, ev, StatusMismatch,
			fmt.Sprintf("stored sequence %d does not match event sequence %d", rec.Sequence, ev.Sequence)); err != nil {
			return Decision{}, fmt.Errorf("mismatch audit write failed: %w", err)
		}
		if err := c.deleteRecord(ctx, rec); err != nil {
			return Decision{}, err
		}
		return Decision{Kind: NotPoison}, nil
	}

	if rec.Skip {
		if err := c.auditor.Record(ctx, slog.LevelWarn, ev, StatusSkipped,
			"skip requested by operator"); err != nil {
			return Decision{}, fmt.Errorf("skip audit write failed: %w", err)
		}
		if err := c.deleteRecord(ctx, rec); err != nil {
			return Decision{}, err
		}
		metrics.PoisonSkips.WithLabelValues(ev.Queue).Inc()
		return Decision{Kind: Skip, Attempts: rec.Attempts}, nil
	}

	metrics.PoisonRetries.WithLabelValues(ev.Queue).Inc()
	return Decision{Kind: Retry, Attempts: rec.Attempts}, nil
}

// MarkPoisoned records one subscriber failure. Until maxAttempts is reached
// the record is upserted and the host is told to Propagate (redeliver). At
// maxAttempts the record is deleted, a terminal audit entry is written loud,
// and the host is told to Swallow. Non-positive maxAttempts means unlimited.
func (c *Coordinator) MarkPoisoned(ctx context.Context, ev ConsumedEvent, cause error, maxAttempts int) (Outcome, error) {
	var attempts int
	reason := ""
	if cause != nil {
		reason = cause.Error()
	}

	err := infra.RetryOptimistic(ctx, infra.DefaultRetryAttempts, isConflict, func(ctx context.Context) error {
		rec, err := c.storage.Get(ctx, ev.Queue, ev.Group, ev.PartitionID)
		switch {
		case errors.Is(err, models.ErrNotFound):
			rec = c.newRecord(ev, reason)
			attempts = rec.Attempts
			return c.storage.Insert(ctx, rec)
		case err != nil:
			return err
		case rec.Sequence != ev.Sequence:
			// Last-writer-wins: replace the stale record outright.
			if err := c.storage.Delete(ctx, rec); err != nil && !errors.Is(err, models.ErrNotFound) {
				return err
			}
			rec = c.newRecord(ev, reason)
			attempts = rec.Attempts
			return c.storage.Insert(ctx, rec)
		default:
			rec.Attempts++
			rec.Reason = models.TruncateAudit(reason)
			attempts = rec.Attempts
			return c.storage.Update(ctx, rec)
		}
	})
	if err != nil {
		return Propagate, fmt.Errorf("poison record upsert failed: %w", err)
	}

	if maxAttempts > 0 && attempts >= maxAttempts {
		return c.escalate(ctx, ev, reason, attempts)
	}

	if err := c.auditor.Record(ctx, slog.LevelWarn, ev, StatusPoisoned,
		fmt.Sprintf("attempt %d failed: %s", attempts, reason)); err != nil {
		c.logger.Warn("Poison audit write failed", "error", err)
	}
	return Propagate, nil
}

// ClearPoison removes any record for the event after a successful delivery.
func (c *Coordinator) ClearPoison(ctx context.Context, ev ConsumedEvent) error {
	rec, err := c.storage.Get(ctx, ev.Queue, ev.Group, ev.PartitionID)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return nil
		}
		return fmt.Errorf("poison record lookup failed: %w", err)
	}
	if rec.Sequence != ev.Sequence {
		return nil
	}
	return c.deleteRecord(ctx, rec)
}

// escalate abandons a poisoned event: the record is removed and a terminal
// audit entry written. A failed terminal audit propagates instead: an event
// must never vanish without its audit row.
func (c *Coordinator) escalate(ctx context.Context, ev ConsumedEvent, reason string, attempts int) (Outcome, error) {
	rec, err := c.storage.Get(ctx, ev.Queue, ev.Group, ev.PartitionID)
	if err == nil {
		if derr := c.deleteRecord(ctx, rec); derr != nil {
			return Propagate, derr
		}
	} else if !errors.Is(err, models.ErrNotFound) {
		return Propagate, fmt.Errorf("poison record lookup failed: %w", err)
	}

	c.logger.Error("Event abandoned after exhausting delivery attempts",
		"queue", ev.Queue,
		"partition", ev.PartitionID,
		"sequence", ev.Sequence,
		"subject", ev.Subject,
		"attempts", attempts,
		"reason", reason,
	)
	if err := c.auditor.Record(ctx, slog.LevelError, ev, StatusEscalated,
		fmt.Sprintf("abandoned after %d attempts: %s", attempts, reason)); err != nil {
		return Propagate, fmt.Errorf("terminal audit write failed: %w", err)
	}

	metrics.PoisonEscalations.WithLabelValues(ev.Queue).Inc()
	return Swallow, nil
}

func (c *Coordinator) newRecord(ev ConsumedEvent, reason string) *models.PoisonRecord {
	return &models.PoisonRecord{
		Queue:       ev.Queue,
		Group:       ev.Group,
		PartitionID: ev.PartitionID,
		Sequence:    ev.Sequence,
		Attempts:    1,
		PoisonedAt:  time.Now().UTC(),
		Subject:     models.TruncateAudit(ev.Subject),
		Action:      models.TruncateAudit(ev.Action),
		Body:        models.TruncateAudit(string(ev.Body)),
		Reason:      models.TruncateAudit(reason),
	}
}

func (c *Coordinator) deleteRecord(ctx context.Context, rec *models.PoisonRecord) error {
	err := infra.RetryOptimistic(ctx, infra.DefaultRetryAttempts, isConflict, func(ctx context.Context) error {
		err := c.storage.Delete(ctx, rec)
		if errors.Is(err, models.ErrNotFound) {
			return nil
		}
		if isConflict(err) {
			// Refresh the ETag before the next attempt; last-writer-wins.
			fresh, gerr := c.storage.Get(ctx, rec.Queue, rec.Group, rec.PartitionID)
			if errors.Is(gerr, models.ErrNotFound) {
				return nil
			}
			if gerr == nil {
				*rec = *fresh
			}
		}
		return err
	})
	if err != nil {
		return fmt.Errorf("poison record delete failed: %w", err)
	}
	return nil
}
