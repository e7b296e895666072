package models

import "errors"

var (
	// ErrDataLoss signals that the requested resume point predates the
	// oldest retained LSN in the change log. Terminal unless the operator
	// opts into continuing with data loss.
	ErrDataLoss = errors.New("change log no longer retains the requested window")

	// ErrCursorConflict signals more than one incomplete cursor row for the
	// same tracked set: a concurrent sweep corrupted the cursor. Fatal.
	ErrCursorConflict = errors.New("multiple incomplete cursor rows for tracked set")

	// ErrCursorNotFound is returned when a cursor id references no row.
	ErrCursorNotFound = errors.New("cursor not found")

	// ErrAlreadyComplete is returned when completing a cursor twice.
	ErrAlreadyComplete = errors.New("cursor is already complete")

	// ErrVersionConflict signals a stale optimistic-concurrency token on a
	// cursor or poison row. Retried locally, never surfaced unless the
	// bounded retry exhausts.
	ErrVersionConflict = errors.New("row version conflict")

	// ErrNotFound is the generic missing-row signal from key-value storage.
	ErrNotFound = errors.New("record not found")
)
