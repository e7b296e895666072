package infra

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errConflict = errors.New("version conflict")

func conflictOnly(err error) bool { return errors.Is(err, errConflict) }

func TestRetryOptimisticSucceedsAfterConflicts(t *testing.T) {
	calls := 0
	err := RetryOptimistic(context.Background(), 5, conflictOnly, func(context.Context) error {
		calls++
		if calls < 3 {
			return errConflict
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestRetryOptimisticStopsOnOtherErrors(t *testing.T) {
	boom := errors.New("boom")
	calls := 0
	err := RetryOptimistic(context.Background(), 5, conflictOnly, func(context.Context) error {
		calls++
		return boom
	})
	require.ErrorIs(t, err, boom)
	assert.Equal(t, 1, calls, "non-conflict errors are not retried")
}

func TestRetryOptimisticExhaustsBudget(t *testing.T) {
	calls := 0
	err := RetryOptimistic(context.Background(), 3, conflictOnly, func(context.Context) error {
		calls++
		return errConflict
	})
	require.ErrorIs(t, err, errConflict)
	assert.Equal(t, 3, calls)
}

func TestRetryOptimisticHonorsContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := RetryOptimistic(ctx, 10, conflictOnly, func(context.Context) error {
		return errConflict
	})
	require.ErrorIs(t, err, context.Canceled)
	require.ErrorIs(t, err, errConflict)
}

func TestBackoffGrowsToCap(t *testing.T) {
	bo := NewBackoff(10*time.Millisecond, 80*time.Millisecond, 2.0)

	for i := 0; i < 6; i++ {
		d := bo.Next()
		assert.GreaterOrEqual(t, d, 8*time.Millisecond)
		assert.LessOrEqual(t, d, 96*time.Millisecond)
	}
	assert.Equal(t, 6, bo.Attempts())

	bo.Reset()
	assert.Zero(t, bo.Attempts())
	assert.LessOrEqual(t, bo.Next(), 12*time.Millisecond)
}
