package service

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sentinelsync/cdc-relay/internal/models"
)

func TestCompleteCursorMarksRowComplete(t *testing.T) {
	store := newMemCursorStore()
	cursor := &models.ChangeCursor{
		TrackedSet: "contact",
		Ranges:     map[string]models.LSNRange{"contacts": {Min: 1, Max: 5}},
		CreatedAt:  time.Now().UTC(),
	}
	require.NoError(t, store.Create(context.Background(), cursor))

	done, err := NewCompletion(store, slog.Default()).CompleteCursor(context.Background(), cursor.ID)
	require.NoError(t, err)

	assert.True(t, done.IsComplete)
	require.NotNil(t, done.CompletedAt)

	stored, err := store.Get(context.Background(), cursor.ID)
	require.NoError(t, err)
	assert.True(t, stored.IsComplete)
}

func TestCompleteCursorUnknownID(t *testing.T) {
	c := NewCompletion(newMemCursorStore(), slog.Default())

	_, err := c.CompleteCursor(context.Background(), 404)
	require.ErrorIs(t, err, models.ErrCursorNotFound)
}

func TestCompleteCursorTwiceFails(t *testing.T) {
	store := newMemCursorStore()
	cursor := &models.ChangeCursor{
		TrackedSet: "contact",
		Ranges:     map[string]models.LSNRange{"contacts": {Min: 1, Max: 1}},
		CreatedAt:  time.Now().UTC(),
	}
	require.NoError(t, store.Create(context.Background(), cursor))

	completion := NewCompletion(store, slog.Default())
	_, err := completion.CompleteCursor(context.Background(), cursor.ID)
	require.NoError(t, err)

	_, err = completion.CompleteCursor(context.Background(), cursor.ID)
	require.ErrorIs(t, err, models.ErrAlreadyComplete)
}
