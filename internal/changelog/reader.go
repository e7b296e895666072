package changelog

import (
	"context"
	"fmt"
	"log/slog"
	"sort"

	"github.com/sentinelsync/cdc-relay/internal/models"
)

// Window is the LSN range a sweep will consume, shared across all tracked
// tables (the read is one logical pass over the whole table-set).
type Window struct {
	Ranges      map[string]models.LSNRange
	HasDataLoss bool
	Resumed     bool
}

// Empty reports whether the window contains no LSNs at all.
func (w Window) Empty() bool {
	for _, r := range w.Ranges {
		if r.Max >= r.Min && r.Max > 0 {
			return false
		}
	}
	return true
}

// Reader pulls raw change rows for one tracked table-set. rootKey maps a
// row to the business key of its owning aggregate root, so the batch cap
// counts logical changes rather than raw rows.
type Reader struct {
	source               Source
	tables               []string
	rootKey              func(models.ChangeRow) string
	continueWithDataLoss bool
	logger               *slog.Logger
}

func NewReader(src Source, tables []string, rootKey func(models.ChangeRow) string, continueWithDataLoss bool, logger *slog.Logger) *Reader {
	return &Reader{
		source:               src,
		tables:               tables,
		rootKey:              rootKey,
		continueWithDataLoss: continueWithDataLoss,
		logger:               logger,
	}
}

// ReadChanges computes the next window and returns its raw rows, LSN
// ascending across all tracked tables.
//
// An incomplete cursor is resumed on its original window so a crashed sweep
// re-reads exactly the same rows. A fresh cursor gets (prevMax, head], cut
// down to the longest prefix holding at most maxBatch distinct root keys.
//
// If the window start predates the log's retention floor the sweep fails
// with models.ErrDataLoss before anything is written; with the operator
// override set, the window instead starts at the floor and is flagged.
func (r *Reader) ReadChanges(ctx context.Context, cursor *models.ChangeCursor, maxBatch int) (Window, []models.ChangeRow, error) {
	if cursor != nil && !cursor.IsComplete {
		return r.resume(ctx, cursor)
	}

	var from models.LSN = 1
	if cursor != nil {
		from = cursor.MaxLSN() + 1
	}

	head, err := r.source.MaxLSN(ctx)
	if err != nil {
		return Window{}, nil, fmt.Errorf("change log head lookup failed: %w", err)
	}
	if head < from {
		return Window{Ranges: map[string]models.LSNRange{}}, nil, nil
	}

	win := Window{Ranges: make(map[string]models.LSNRange, len(r.tables))}
	from, win.HasDataLoss, err = r.gateDataLoss(ctx, from)
	if err != nil {
		return Window{}, nil, err
	}

	rows, err := r.fetchAll(ctx, from, head)
	if err != nil {
		return Window{}, nil, err
	}

	rows, cut := r.capBatch(rows, maxBatch, head)
	for _, t := range r.tables {
		win.Ranges[t] = models.LSNRange{Min: from, Max: cut}
	}
	return win, rows, nil
}

// resume re-reads the exact window recorded on an incomplete cursor row.
// If the log truncated into the window since the crash, the operator
// override shrinks the re-read to the retention floor and flags the window
// lossy so the completed row records the gap.
func (r *Reader) resume(ctx context.Context, cursor *models.ChangeCursor) (Window, []models.ChangeRow, error) {
	win := Window{
		Ranges:      cursor.Ranges,
		HasDataLoss: cursor.HasDataLoss,
		Resumed:     true,
	}

	var rows []models.ChangeRow
	for _, t := range r.tables {
		rng, ok := cursor.Ranges[t]
		if !ok || rng.Max < rng.Min {
			continue
		}
		from, lossy, err := r.gateDataLoss(ctx, rng.Min)
		if err != nil {
			return Window{}, nil, err
		}
		if lossy {
			win.HasDataLoss = true
		}
		part, err := r.source.Fetch(ctx, t, from, rng.Max)
		if err != nil {
			return Window{}, nil, fmt.Errorf("resume fetch for %s failed: %w", t, err)
		}
		rows = append(rows, part...)
	}

	sort.Slice(rows, func(i, j int) bool { return rows[i].LSN < rows[j].LSN })

	r.logger.Info("Resuming incomplete sweep window",
		"cursor_id", cursor.ID,
		"tracked_set", cursor.TrackedSet,
		"rows", len(rows),
	)
	return win, rows, nil
}

// gateDataLoss checks the window start against the retention floor.
func (r *Reader) gateDataLoss(ctx context.Context, from models.LSN) (models.LSN, bool, error) {
	floor, err := r.source.MinRetainedLSN(ctx)
	if err != nil {
		return 0, false, fmt.Errorf("change log floor lookup failed: %w", err)
	}
	if floor == 0 || from >= floor {
		return from, false, nil
	}

	if !r.continueWithDataLoss {
		r.logger.Error("Change log truncated past the resume point",
			"requested_min", uint64(from),
			"retained_min", uint64(floor),
		)
		return 0, false, fmt.Errorf("window start %d predates retained floor %d: %w", from, floor, models.ErrDataLoss)
	}

	r.logger.Warn("Continuing past truncated history (operator override)",
		"requested_min", uint64(from),
		"retained_min", uint64(floor),
	)
	return floor, true, nil
}

func (r *Reader) fetchAll(ctx context.Context, from, to models.LSN) ([]models.ChangeRow, error) {
	var rows []models.ChangeRow
	for _, t := range r.tables {
		part, err := r.source.Fetch(ctx, t, from, to)
		if err != nil {
			return nil, fmt.Errorf("change fetch for %s failed: %w", t, err)
		}
		rows = append(rows, part...)
	}
	sort.Slice(rows, func(i, j int) bool { return rows[i].LSN < rows[j].LSN })
	return rows, nil
}

// capBatch trims rows to the longest LSN-ordered prefix containing at most
// maxBatch distinct root keys. The cut lands just before the first row that
// would introduce an extra key, so no key's rows are split inside the
// window. Returns the kept rows and the window's Max LSN.
func (r *Reader) capBatch(rows []models.ChangeRow, maxBatch int, head models.LSN) ([]models.ChangeRow, models.LSN) {
	if maxBatch <= 0 || len(rows) == 0 {
		return rows, head
	}

	seen := make(map[string]struct{})
	for i, row := range rows {
		key := r.rootKey(row)
		if _, ok := seen[key]; ok {
			continue
		}
		if len(seen) == maxBatch {
			cut := rows[i-1].LSN
			r.logger.Debug("Batch cap reached, truncating window",
				"max_batch", maxBatch,
				"cut_lsn", uint64(cut),
				"dropped_rows", len(rows)-i,
			)
			return rows[:i], cut
		}
		seen[key] = struct{}{}
	}
	return rows, head
}
