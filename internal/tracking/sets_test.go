package tracking

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sentinelsync/cdc-relay/internal/models"
)

func TestLookup(t *testing.T) {
	spec, ok := Lookup("contact")
	require.True(t, ok)
	assert.Equal(t, "contacts", spec.Root.Name)
	assert.Equal(t, []string{"contacts", "contact_channels"}, spec.Tables())

	spec, ok = Lookup("posts")
	require.True(t, ok)
	assert.Equal(t, []string{"posts", "comments", "tags"}, spec.Tables())

	_, ok = Lookup("nope")
	assert.False(t, ok)
}

func TestChildRowsResolveToParentKey(t *testing.T) {
	spec := ContactSet()

	key := spec.RootKey(models.ChangeRow{
		Table:  "contact_channels",
		Key:    "77",
		Values: map[string]any{"id": "77", "contact_id": "5"},
	})
	assert.Equal(t, "5", key)

	// Numeric foreign keys stringify the same way the root key does.
	key = spec.RootKey(models.ChangeRow{
		Table:  "contact_channels",
		Key:    "78",
		Values: map[string]any{"contact_id": float64(9)},
	})
	assert.Equal(t, "9", key)

	// Missing column falls back to the row's own key.
	key = spec.RootKey(models.ChangeRow{Table: "contact_channels", Key: "79"})
	assert.Equal(t, "79", key)
}

func TestEveryRootTableHasACurrentQuery(t *testing.T) {
	queries := CurrentQueries()
	for _, name := range []string{"contact", "posts"} {
		spec, ok := Lookup(name)
		require.True(t, ok)
		assert.Contains(t, queries, spec.Root.Name)
	}
}
