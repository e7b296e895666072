package tracking

import (
	"fmt"

	"github.com/sentinelsync/cdc-relay/internal/merge"
	"github.com/sentinelsync/cdc-relay/internal/models"
)

// Registered tracked table-sets. Acts as an explicit whitelist: only sets
// listed here can be swept, and every set names its tables and key mappings
// statically instead of discovering them at runtime.

// ContactSet tracks the contact aggregate: the contacts root table plus its
// communication-channel child rows, which fold into the parent by
// contact_id.
func ContactSet() merge.SetSpec {
	return merge.SetSpec{
		Name:    "contact",
		Subject: "contact",
		Root:    merge.TableSpec{Name: "contacts"},
		Children: []merge.TableSpec{
			{
				Name:       "contact_channels",
				ResolveKey: foreignKey("contact_id"),
			},
		},
	}
}

// PostsSet tracks the posts aggregate with its comments and tags children.
func PostsSet() merge.SetSpec {
	return merge.SetSpec{
		Name:    "posts",
		Subject: "post",
		Root:    merge.TableSpec{Name: "posts"},
		Children: []merge.TableSpec{
			{Name: "comments", ResolveKey: foreignKey("post_id")},
			{Name: "tags", ResolveKey: foreignKey("post_id")},
		},
	}
}

// Lookup resolves a tracked set by name.
func Lookup(name string) (merge.SetSpec, bool) {
	switch name {
	case "contact":
		return ContactSet(), true
	case "posts":
		return PostsSet(), true
	default:
		return merge.SetSpec{}, false
	}
}

// CurrentQueries maps each root table to the SQL that projects its current
// row state to JSON by key.
func CurrentQueries() map[string]string {
	return map[string]string{
		"contacts": `SELECT to_jsonb(c) FROM contacts c WHERE c.id::text = $1`,
		"posts":    `SELECT to_jsonb(p) FROM posts p WHERE p.id::text = $1`,
	}
}

// foreignKey builds a resolver that reads the parent key out of a child
// row's captured values. Falls back to the row's own key when the column
// was not captured (should not happen for a well-formed trigger).
func foreignKey(column string) func(models.ChangeRow) string {
	return func(row models.ChangeRow) string {
		if v, ok := row.Values[column]; ok && v != nil {
			return fmt.Sprint(v)
		}
		return row.Key
	}
}
