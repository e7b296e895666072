package infra

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// DefaultRetryAttempts bounds optimistic-write retry loops. Conflicts on a
// single-writer row indicate a hosting bug rather than real contention, so
// the bound exists only to keep a pathological deployment from busy-looping.
const DefaultRetryAttempts = 8

// RetryOptimistic runs fn until it succeeds, returns a non-conflict error,
// or the attempt budget is exhausted. A conflict is any error matched by
// isConflict (typically models.ErrVersionConflict). Delays between attempts
// come from a fresh jittered backoff so concurrent retriers desynchronize.
func RetryOptimistic(ctx context.Context, attempts int, isConflict func(error) bool, fn func(ctx context.Context) error) error {
	if attempts <= 0 {
		attempts = DefaultRetryAttempts
	}

	bo := NewBackoff(10*time.Millisecond, 500*time.Millisecond, 2.0)
	var lastErr error

	for i := 0; i < attempts; i++ {
		err := fn(ctx)
		if err == nil {
			return nil
		}
		if !isConflict(err) {
			return err
		}
		lastErr = err

		select {
		case <-ctx.Done():
			return errors.Join(ctx.Err(), lastErr)
		case <-time.After(bo.Next()):
		}
	}

	return fmt.Errorf("optimistic write failed after %d attempts: %w", attempts, lastErr)
}
