package changelog

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sentinelsync/cdc-relay/internal/models"
)

type memSource struct {
	rows  []models.ChangeRow
	floor models.LSN
}

func (s *memSource) MaxLSN(context.Context) (models.LSN, error) {
	var max models.LSN
	for _, r := range s.rows {
		if r.LSN > max {
			max = r.LSN
		}
	}
	return max, nil
}

func (s *memSource) MinRetainedLSN(context.Context) (models.LSN, error) { return s.floor, nil }

func (s *memSource) Fetch(_ context.Context, table string, from, to models.LSN) ([]models.ChangeRow, error) {
	var out []models.ChangeRow
	for _, r := range s.rows {
		if s.floor > 0 && r.LSN < s.floor {
			continue // truncated away
		}
		if r.Table == table && r.LSN >= from && r.LSN <= to {
			out = append(out, r)
		}
	}
	return out, nil
}

func (s *memSource) FetchCurrent(context.Context, string, string) (map[string]any, error) {
	return nil, models.ErrNotFound
}

func ownKey(r models.ChangeRow) string { return r.Key }

func seedRows(keys ...string) []models.ChangeRow {
	rows := make([]models.ChangeRow, 0, len(keys))
	for i, k := range keys {
		rows = append(rows, models.ChangeRow{
			LSN:   models.LSN(i + 1),
			Table: "contacts",
			Op:    models.OpUpdate,
			Key:   k,
		})
	}
	return rows
}

func TestReadChangesFreshWindowCoversWholeLog(t *testing.T) {
	src := &memSource{rows: seedRows("a", "b", "c")}
	r := NewReader(src, []string{"contacts"}, ownKey, false, slog.Default())

	win, rows, err := r.ReadChanges(context.Background(), nil, 100)
	require.NoError(t, err)

	assert.Len(t, rows, 3)
	assert.Equal(t, models.LSNRange{Min: 1, Max: 3}, win.Ranges["contacts"])
	assert.False(t, win.Resumed)
	assert.False(t, win.HasDataLoss)
}

func TestReadChangesStartsAfterLastCompleteCursor(t *testing.T) {
	src := &memSource{rows: seedRows("a", "b", "c", "d")}
	r := NewReader(src, []string{"contacts"}, ownKey, false, slog.Default())

	done := time.Now()
	prev := &models.ChangeCursor{
		ID:          1,
		Ranges:      map[string]models.LSNRange{"contacts": {Min: 1, Max: 2}},
		IsComplete:  true,
		CompletedAt: &done,
	}

	win, rows, err := r.ReadChanges(context.Background(), prev, 100)
	require.NoError(t, err)

	require.Len(t, rows, 2)
	assert.Equal(t, models.LSN(3), rows[0].LSN)
	assert.Equal(t, models.LSNRange{Min: 3, Max: 4}, win.Ranges["contacts"])
}

func TestReadChangesEmptyWhenCaughtUp(t *testing.T) {
	src := &memSource{rows: seedRows("a")}
	r := NewReader(src, []string{"contacts"}, ownKey, false, slog.Default())

	prev := &models.ChangeCursor{
		Ranges:     map[string]models.LSNRange{"contacts": {Min: 1, Max: 1}},
		IsComplete: true,
	}

	win, rows, err := r.ReadChanges(context.Background(), prev, 100)
	require.NoError(t, err)
	assert.Empty(t, rows)
	assert.True(t, win.Empty())
}

func TestReadChangesBatchCapKeepsLongestPrefix(t *testing.T) {
	// Six rows over four keys; cap of two keeps only a+b rows and cuts the
	// window just before c appears.
	rows := seedRows("a", "b", "a", "c", "d", "b")
	src := &memSource{rows: rows}
	r := NewReader(src, []string{"contacts"}, ownKey, false, slog.Default())

	win, got, err := r.ReadChanges(context.Background(), nil, 2)
	require.NoError(t, err)

	require.Len(t, got, 3)
	for _, row := range got {
		assert.Contains(t, []string{"a", "b"}, row.Key)
	}
	assert.Equal(t, models.LSN(3), win.Ranges["contacts"].Max, "window max is the last kept LSN")
}

func TestReadChangesBatchCapNeverSplitsAKey(t *testing.T) {
	rows := seedRows("a", "a", "a")
	src := &memSource{rows: rows}
	r := NewReader(src, []string{"contacts"}, ownKey, false, slog.Default())

	_, got, err := r.ReadChanges(context.Background(), nil, 1)
	require.NoError(t, err)
	assert.Len(t, got, 3, "all rows of a key inside the cap stay together")
}

func TestReadChangesDataLossFailsClosed(t *testing.T) {
	src := &memSource{rows: seedRows("a", "b", "c", "d", "e"), floor: 4}
	r := NewReader(src, []string{"contacts"}, ownKey, false, slog.Default())

	prev := &models.ChangeCursor{
		Ranges:     map[string]models.LSNRange{"contacts": {Min: 1, Max: 2}},
		IsComplete: true,
	}

	_, _, err := r.ReadChanges(context.Background(), prev, 100)
	require.ErrorIs(t, err, models.ErrDataLoss)
}

func TestReadChangesDataLossOverrideStartsAtFloor(t *testing.T) {
	src := &memSource{rows: seedRows("a", "b", "c", "d", "e"), floor: 4}
	r := NewReader(src, []string{"contacts"}, ownKey, true, slog.Default())

	prev := &models.ChangeCursor{
		Ranges:     map[string]models.LSNRange{"contacts": {Min: 1, Max: 2}},
		IsComplete: true,
	}

	win, rows, err := r.ReadChanges(context.Background(), prev, 100)
	require.NoError(t, err)

	assert.True(t, win.HasDataLoss)
	require.Len(t, rows, 2)
	assert.Equal(t, models.LSN(4), rows[0].LSN)
	assert.Equal(t, models.LSNRange{Min: 4, Max: 5}, win.Ranges["contacts"])
}

func TestReadChangesResumesIncompleteWindowExactly(t *testing.T) {
	src := &memSource{rows: seedRows("a", "b", "c", "d")}
	r := NewReader(src, []string{"contacts"}, ownKey, false, slog.Default())

	incomplete := &models.ChangeCursor{
		ID:          7,
		Ranges:      map[string]models.LSNRange{"contacts": {Min: 2, Max: 3}},
		IsComplete:  false,
		HasDataLoss: true,
	}

	win, rows, err := r.ReadChanges(context.Background(), incomplete, 1)
	require.NoError(t, err)

	assert.True(t, win.Resumed)
	assert.True(t, win.HasDataLoss, "data-loss flag survives the resume")
	require.Len(t, rows, 2, "resume ignores the batch cap and re-reads the recorded window")
	assert.Equal(t, models.LSN(2), rows[0].LSN)
	assert.Equal(t, models.LSN(3), rows[1].LSN)
}

func TestResumeFailsClosedWhenLogTruncatedIntoWindow(t *testing.T) {
	src := &memSource{rows: seedRows("a", "b", "c", "d"), floor: 3}
	r := NewReader(src, []string{"contacts"}, ownKey, false, slog.Default())

	incomplete := &models.ChangeCursor{
		ID:         4,
		Ranges:     map[string]models.LSNRange{"contacts": {Min: 1, Max: 4}},
		IsComplete: false,
	}

	_, _, err := r.ReadChanges(context.Background(), incomplete, 100)
	require.ErrorIs(t, err, models.ErrDataLoss)
}

func TestResumePastTruncationFlagsDataLoss(t *testing.T) {
	// The log truncated into the recorded window between the crash and the
	// resume. With the override set, the re-read starts at the floor and
	// the window must come back flagged lossy.
	src := &memSource{rows: seedRows("a", "b", "c", "d"), floor: 3}
	r := NewReader(src, []string{"contacts"}, ownKey, true, slog.Default())

	incomplete := &models.ChangeCursor{
		ID:         5,
		Ranges:     map[string]models.LSNRange{"contacts": {Min: 1, Max: 4}},
		IsComplete: false,
	}

	win, rows, err := r.ReadChanges(context.Background(), incomplete, 100)
	require.NoError(t, err)

	assert.True(t, win.Resumed)
	assert.True(t, win.HasDataLoss, "a lossy resume must not complete unflagged")
	require.Len(t, rows, 2, "only the retained tail of the window survives")
	assert.Equal(t, models.LSN(3), rows[0].LSN)
	assert.Equal(t, models.LSN(4), rows[1].LSN)
}
