package materialize

import (
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sentinelsync/cdc-relay/internal/models"
)

func change(op models.ChangeOp, key string, hash uint64, firstLSN uint64) models.LogicalChange {
	return models.LogicalChange{
		Key:      key,
		Table:    "contacts",
		Op:       op,
		Hash:     hash,
		Value:    map[string]any{"id": key},
		FirstLSN: models.LSN(firstLSN),
		LastLSN:  models.LSN(firstLSN),
	}
}

func TestMaterializeSuppressesUnchangedUpdates(t *testing.T) {
	m := NewMaterializer("contact", slog.Default())

	res := m.Materialize([]models.LogicalChange{
		change(models.OpUpdate, "a", 100, 1),
		change(models.OpUpdate, "b", 200, 2),
	}, map[string]uint64{"a": 100, "b": 999})

	assert.Equal(t, 1, res.Suppressed)
	require.Len(t, res.Events, 1)
	assert.Equal(t, "b", res.Events[0].Key)
	assert.Equal(t, models.ActionUpdated, res.Events[0].Action)
}

func TestMaterializeNeverSuppressesCreateOrDelete(t *testing.T) {
	m := NewMaterializer("contact", slog.Default())

	// Matching hashes on record, but only updates consult them.
	res := m.Materialize([]models.LogicalChange{
		change(models.OpInsert, "a", 100, 1),
		change(models.OpDelete, "b", 200, 2),
	}, map[string]uint64{"a": 100, "b": 200})

	assert.Zero(t, res.Suppressed)
	require.Len(t, res.Events, 2)
	assert.Equal(t, models.ActionCreated, res.Events[0].Action)
	assert.Equal(t, models.ActionDeleted, res.Events[1].Action)
}

func TestMaterializeOrdersByFirstLSN(t *testing.T) {
	m := NewMaterializer("contact", slog.Default())

	res := m.Materialize([]models.LogicalChange{
		change(models.OpUpdate, "late", 1, 30),
		change(models.OpInsert, "early", 2, 10),
		change(models.OpUpdate, "mid", 3, 20),
	}, nil)

	require.Len(t, res.Events, 3)
	assert.Equal(t, []string{"early", "mid", "late"},
		[]string{res.Events[0].Key, res.Events[1].Key, res.Events[2].Key})
}

func TestMaterializeStampsEventFields(t *testing.T) {
	m := NewMaterializer("contact", slog.Default())

	res := m.Materialize([]models.LogicalChange{change(models.OpUpdate, "a", 42, 7)}, nil)

	require.Len(t, res.Events, 1)
	ev := res.Events[0]
	assert.NotEmpty(t, ev.EventID)
	assert.Equal(t, "contact", ev.Subject)
	assert.Equal(t, uint64(42), ev.Hash)
	assert.Equal(t, models.LSN(7), ev.LSN)
	assert.False(t, ev.Timestamp.IsZero())
}
