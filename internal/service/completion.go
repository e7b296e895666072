package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/sentinelsync/cdc-relay/internal/models"
	"github.com/sentinelsync/cdc-relay/pkg/infra"
)

// Completion is the manual, out-of-band recovery path for cursor rows.
// Operators use it to close out a cursor whose events were applied through
// some external channel, distinct from the sweep-driven commit.
type Completion struct {
	store  CursorStore
	logger *slog.Logger
}

func NewCompletion(store CursorStore, logger *slog.Logger) *Completion {
	return &Completion{store: store, logger: logger}
}

// CompleteCursor marks an existing incomplete cursor row complete and
// stamps CompletedAt. It fails with models.ErrCursorNotFound when the id
// references no row, and models.ErrAlreadyComplete when the row was closed
// before (a cursor cannot complete twice).
func (c *Completion) CompleteCursor(ctx context.Context, id int64) (*models.ChangeCursor, error) {
	var cursor *models.ChangeCursor

	err := infra.RetryOptimistic(ctx, infra.DefaultRetryAttempts,
		func(err error) bool { return errors.Is(err, models.ErrVersionConflict) },
		func(ctx context.Context) error {
			cur, err := c.store.Get(ctx, id)
			if err != nil {
				return err
			}
			if cur.IsComplete {
				return fmt.Errorf("cursor %d: %w", id, models.ErrAlreadyComplete)
			}
			if err := c.store.MarkComplete(ctx, cur); err != nil {
				return err
			}
			cursor = cur
			return nil
		})
	if err != nil {
		return nil, err
	}

	c.logger.Info("Cursor completed manually",
		"cursor_id", cursor.ID,
		"tracked_set", cursor.TrackedSet,
		"completed_at", cursor.CompletedAt,
	)
	return cursor, nil
}
