package merge

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"

	"github.com/sentinelsync/cdc-relay/internal/changelog"
	"github.com/sentinelsync/cdc-relay/internal/models"
	"github.com/sentinelsync/cdc-relay/pkg/metrics"
)

// Merger correlates raw per-table change rows into net logical changes for
// one tracked table-set. Correlation is deterministic given the same input
// and the same current row state.
type Merger struct {
	spec   SetSpec
	source changelog.Source
	logger *slog.Logger
}

func NewMerger(spec SetSpec, source changelog.Source, logger *slog.Logger) *Merger {
	return &Merger{spec: spec, source: source, logger: logger}
}

// Correlate groups rows by aggregate-root key, derives exactly one net
// operation per key, and hydrates the post-change projected value.
//
// Net-operation precedence, over the root table's own rows:
//   - Insert then Delete inside one window cancels out: the key was never
//     externally visible and produces nothing.
//   - A trailing Delete wins over everything else.
//   - A leading Insert collapses any following updates into a Create.
//   - Everything else (updates, delete-then-insert upserts, child-only
//     changes) nets to Update.
//
// The current-state re-read needed for hashing doubles as the existence
// fallback: a non-delete whose re-read finds no row becomes a Delete (or is
// dropped when the key was born inside the window).
func (m *Merger) Correlate(ctx context.Context, rows []models.ChangeRow) ([]models.LogicalChange, error) {
	groups, order := m.group(rows)

	out := make([]models.LogicalChange, 0, len(order))
	for _, key := range order {
		change, keep, err := m.netChange(ctx, key, groups[key])
		if err != nil {
			return nil, err
		}
		if !keep {
			m.logger.Debug("Change cancelled out within window", "key", key)
			metrics.ChangesDropped.Inc()
			continue
		}
		out = append(out, change)
	}
	return out, nil
}

// group buckets rows by root key, preserving the order in which keys first
// appear in the LSN-ascending stream.
func (m *Merger) group(rows []models.ChangeRow) (map[string][]models.ChangeRow, []string) {
	groups := make(map[string][]models.ChangeRow)
	var order []string

	for _, row := range rows {
		key := m.spec.RootKey(row)
		if _, ok := groups[key]; !ok {
			order = append(order, key)
		}
		groups[key] = append(groups[key], row)
	}
	return groups, order
}

func (m *Merger) netChange(ctx context.Context, key string, rows []models.ChangeRow) (models.LogicalChange, bool, error) {
	sort.Slice(rows, func(i, j int) bool { return rows[i].LSN < rows[j].LSN })

	change := models.LogicalChange{
		Key:      key,
		Table:    m.spec.Root.Name,
		Rows:     rows,
		FirstLSN: rows[0].LSN,
		LastLSN:  rows[len(rows)-1].LSN,
	}

	bornInWindow, op := m.rootOp(rows)
	if op == models.OpDelete {
		if bornInWindow {
			return change, false, nil
		}
		change.Op = models.OpDelete
		change.Value = m.spec.project(lastKnownValues(rows))
		change.Hash = HashProjection(change.Value)
		return change, true, nil
	}

	current, err := m.source.FetchCurrent(ctx, m.spec.Root.Name, key)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			// Row vanished between capture and read. Same net outcome as
			// an explicit trailing delete.
			if bornInWindow {
				return change, false, nil
			}
			m.logger.Warn("Row missing at read time, treating as delete",
				"table", m.spec.Root.Name, "key", key)
			change.Op = models.OpDelete
			change.Value = m.spec.project(lastKnownValues(rows))
			change.Hash = HashProjection(change.Value)
			return change, true, nil
		}
		return change, false, fmt.Errorf("current-state hydration for %s failed: %w", key, err)
	}

	change.Op = op
	change.Value = m.spec.project(current)
	change.Hash = HashProjection(change.Value)
	return change, true, nil
}

// rootOp derives the net operation from the root table's rows alone.
// Child-table rows only ever surface as an Update of the root aggregate.
func (m *Merger) rootOp(rows []models.ChangeRow) (bornInWindow bool, op models.ChangeOp) {
	var rootRows []models.ChangeRow
	for _, r := range rows {
		if r.Table == m.spec.Root.Name {
			rootRows = append(rootRows, r)
		}
	}
	if len(rootRows) == 0 {
		return false, models.OpUpdate
	}

	first, last := rootRows[0], rootRows[len(rootRows)-1]
	bornInWindow = first.Op == models.OpInsert

	switch {
	case last.Op == models.OpDelete:
		return bornInWindow, models.OpDelete
	case bornInWindow:
		return true, models.OpInsert
	default:
		// Update runs and delete-then-insert upserts both net to Update.
		return false, models.OpUpdate
	}
}

// lastKnownValues returns the most recent captured snapshot for a key.
// Used for deletes, where the row no longer exists to re-read.
func lastKnownValues(rows []models.ChangeRow) map[string]any {
	for i := len(rows) - 1; i >= 0; i-- {
		if len(rows[i].Values) > 0 {
			return rows[i].Values
		}
	}
	return nil
}
