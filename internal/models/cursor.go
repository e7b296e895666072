package models

import "time"

// ChangeCursor is the durable outbox row: the last-consumed LSN window per
// tracked table plus completion state for one tracked table-set.
//
// At most one incomplete cursor row may exist per tracked set at any time.
// Finding a second incomplete row means two sweeps ran concurrently and the
// cursor is corrupt; callers must treat that as fatal (ErrCursorConflict).
type ChangeCursor struct {
	ID          int64               `db:"id"`
	TrackedSet  string              `db:"tracked_set"`
	Ranges      map[string]LSNRange `db:"ranges"`
	IsComplete  bool                `db:"is_complete"`
	HasDataLoss bool                `db:"has_data_loss"`
	CreatedAt   time.Time           `db:"created_at"`
	CompletedAt *time.Time          `db:"completed_at"`

	// Version is the optimistic-concurrency token for this row. It is
	// compared-and-incremented on every update.
	Version int64 `db:"version"`
}

// WindowFor returns the consumed window for one tracked table. A zero range
// means the table has never been swept.
func (c *ChangeCursor) WindowFor(table string) LSNRange {
	if c == nil || c.Ranges == nil {
		return LSNRange{}
	}
	return c.Ranges[table]
}

// MaxLSN returns the highest Max across all tracked tables, the resume
// point for the next fresh window.
func (c *ChangeCursor) MaxLSN() LSN {
	var out LSN
	for _, r := range c.Ranges {
		if r.Max > out {
			out = r.Max
		}
	}
	return out
}
